package transport

import "testing"

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		bucket  string
		key     string
		wantErr bool
	}{
		{name: "simple", raw: "s3://firmware/device-a/v2.bin", bucket: "firmware", key: "device-a/v2.bin"},
		{name: "nested key", raw: "s3://b/a/b/c", bucket: "b", key: "a/b/c"},
		{name: "wrong scheme", raw: "https://firmware/v2.bin", wantErr: true},
		{name: "missing key", raw: "s3://firmware", wantErr: true},
		{name: "missing bucket", raw: "s3:///v2.bin", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bucket, key, err := parseS3URL(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("parseS3URL(%q) = %q, %q; want error", tc.raw, bucket, key)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseS3URL(%q): %v", tc.raw, err)
			}
			if bucket != tc.bucket || key != tc.key {
				t.Fatalf("parseS3URL(%q) = %q, %q; want %q, %q", tc.raw, bucket, key, tc.bucket, tc.key)
			}
		})
	}
}
