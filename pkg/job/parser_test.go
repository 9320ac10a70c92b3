package job

import (
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/fleetware/otaagent/pkg/ota"
)

var testSizes = ota.BufferSizes{
	FilePath:     64,
	CertPath:     64,
	StreamName:   64,
	URL:          128,
	AuthScheme:   32,
	Signature:    256,
	DecodeMemory: 4096,
	MaxBlocks:    1024,
}

func testParser(t *testing.T) *Parser {
	t.Helper()
	p, err := NewParser(Params{MaxDocLen: 8192, DefaultBlockSize: 256})
	if err != nil {
		t.Fatalf("NewParser: %v", err)
	}
	return p
}

func testDoc(jobID string, fileSize int64) []byte {
	sig := base64.StdEncoding.EncodeToString([]byte("not-a-real-signature"))
	return []byte(fmt.Sprintf(`{
		"clientToken": "token-1",
		"timestamp": 1700000000,
		"execution": {
			"jobId": %q,
			"jobDocument": {
				"ota": {
					"protocols": ["stream"],
					"streamname": "updates/device-42",
					"files": [{
						"filepath": "firmware.bin",
						"filesize": %d,
						"fileid": 0,
						"certfile": "signer.pem",
						"sig_sha256_ecdsa": %q,
						"version": "1.2.0"
					}]
				}
			}
		}
	}`, jobID, fileSize, sig))
}

func TestParse_AcceptsValidJob(t *testing.T) {
	p := testParser(t)
	fc := ota.NewFileContext(testSizes)

	res, perr := p.Parse(testDoc("job-1", 1000), "", fc)
	if perr != ParseErrNone {
		t.Fatalf("parse result = %s", perr)
	}
	if res.JobID != "job-1" || res.ClientToken != "token-1" || res.Timestamp != 1700000000 {
		t.Errorf("result = %+v", res)
	}
	if fc.FileSize != 1000 || fc.BlockSize != 256 {
		t.Errorf("file context sizes: size=%d block=%d", fc.FileSize, fc.BlockSize)
	}
	if fc.BlockCount() != 4 {
		t.Errorf("block count = %d, want 4", fc.BlockCount())
	}
	if fc.FilePath.String() != "firmware.bin" {
		t.Errorf("file path = %q", fc.FilePath.String())
	}
	if fc.StreamName.String() != "updates/device-42" {
		t.Errorf("stream name = %q", fc.StreamName.String())
	}
	if string(fc.Signature.Bytes()) != "not-a-real-signature" {
		t.Errorf("signature not decoded: %q", fc.Signature.Bytes())
	}
}

func TestParse_ZeroFileSize(t *testing.T) {
	p := testParser(t)
	fc := ota.NewFileContext(testSizes)

	_, perr := p.Parse(testDoc("job-1", 0), "", fc)
	if perr != ParseErrZeroFileSize {
		t.Fatalf("parse result = %s, want zero_file_size", perr)
	}
	if fc.Open() {
		t.Error("file context must not be populated for a rejected job")
	}
}

func TestParse_NullJob(t *testing.T) {
	p := testParser(t)
	_, perr := p.Parse(testDoc("", 100), "", ota.NewFileContext(testSizes))
	if perr != ParseErrNullJob {
		t.Errorf("parse result = %s, want null_job", perr)
	}
}

func TestParse_NoActiveJobs(t *testing.T) {
	p := testParser(t)
	_, perr := p.Parse([]byte(`{"clientToken":"t"}`), "", ota.NewFileContext(testSizes))
	if perr != ParseErrNoActiveJobs {
		t.Errorf("parse result = %s, want no_active_jobs", perr)
	}
}

func TestParse_UpdateCurrentJob_LeavesContextUntouched(t *testing.T) {
	p := testParser(t)
	fc := ota.NewFileContext(testSizes)

	if _, perr := p.Parse(testDoc("job-1", 1000), "", fc); perr != ParseErrNone {
		t.Fatalf("initial parse: %s", perr)
	}
	fc.Bitmap.Init(fc.BlockCount())
	fc.Bitmap.MarkReceived(0)

	_, perr := p.Parse(testDoc("job-1", 1000), "job-1", fc)
	if perr != ParseErrUpdateCurrentJob {
		t.Fatalf("parse result = %s, want update_current_job", perr)
	}
	if fc.Bitmap.Received() != 1 {
		t.Error("resume must leave the bitmap untouched")
	}
	if fc.FileSize != 1000 {
		t.Error("resume must leave the file context untouched")
	}
}

func TestParse_BusyWithExistingJob(t *testing.T) {
	p := testParser(t)
	fc := ota.NewFileContext(testSizes)

	_, perr := p.Parse(testDoc("job-2", 1000), "job-1", fc)
	if perr != ParseErrBusyWithExistingJob {
		t.Errorf("parse result = %s, want busy_with_existing_job", perr)
	}
}

func TestParse_NonConforming(t *testing.T) {
	p := testParser(t)
	sig := base64.StdEncoding.EncodeToString([]byte("sig"))

	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{{{`},
		{"missing update section", `{"execution":{"jobId":"j","jobDocument":{}}}`},
		{"no files", `{"execution":{"jobId":"j","jobDocument":{"ota":{"protocols":["stream"],"files":[]}}}}`},
		{"no protocols", fmt.Sprintf(`{"execution":{"jobId":"j","jobDocument":{"ota":{"protocols":[],"files":[{"filepath":"f","filesize":10,"sig_sha256_ecdsa":%q}]}}}}`, sig)},
		{"unknown protocol", fmt.Sprintf(`{"execution":{"jobId":"j","jobDocument":{"ota":{"protocols":["ftp"],"files":[{"filepath":"f","filesize":10,"sig_sha256_ecdsa":%q}]}}}}`, sig)},
		{"missing signature", `{"execution":{"jobId":"j","jobDocument":{"ota":{"protocols":["stream"],"files":[{"filepath":"f","filesize":10}]}}}}`},
		{"signature not base64", `{"execution":{"jobId":"j","jobDocument":{"ota":{"protocols":["stream"],"files":[{"filepath":"f","filesize":10,"sig_sha256_ecdsa":"%%%"}]}}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, perr := p.Parse([]byte(tt.doc), "", ota.NewFileContext(testSizes))
			if perr != ParseErrNonConformingJobDoc {
				t.Errorf("parse result = %s, want non_conforming_job_doc", perr)
			}
		})
	}
}

func TestParse_FieldExceedsBuffer(t *testing.T) {
	p := testParser(t)
	small := testSizes
	small.FilePath = 4
	fc := ota.NewFileContext(small)

	_, perr := p.Parse(testDoc("job-1", 1000), "", fc)
	if perr != ParseErrNonConformingJobDoc {
		t.Fatalf("parse result = %s, want non_conforming_job_doc", perr)
	}
	if fc.Open() {
		t.Error("file context must be reset after a buffer overflow rejection")
	}
}

func TestParse_DocTooLong(t *testing.T) {
	p, err := NewParser(Params{MaxDocLen: 16, DefaultBlockSize: 256})
	if err != nil {
		t.Fatal(err)
	}
	_, perr := p.Parse([]byte(strings.Repeat("x", 17)), "", ota.NewFileContext(testSizes))
	if perr != ParseErrNonConformingJobDoc {
		t.Errorf("parse result = %s, want non_conforming_job_doc", perr)
	}
}

func TestParse_NoContextAvailable(t *testing.T) {
	p := testParser(t)
	_, perr := p.Parse(testDoc("job-1", 1000), "", nil)
	if perr != ParseErrNoContextAvailable {
		t.Errorf("parse result = %s, want no_context_available", perr)
	}
}

func TestParse_CustomCallback(t *testing.T) {
	handled := false
	p, err := NewParser(Params{
		MaxDocLen:        8192,
		DefaultBlockSize: 256,
		Custom: func(doc []byte) ParseErr {
			handled = true
			return ParseErrNone
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	_, perr := p.Parse([]byte(`anything`), "", ota.NewFileContext(testSizes))
	if !handled {
		t.Fatal("custom callback not offered the document")
	}
	if perr != ParseErrNone {
		t.Errorf("parse result = %s", perr)
	}
}

func TestParse_CustomCallbackDeclines(t *testing.T) {
	p, err := NewParser(Params{
		MaxDocLen:        8192,
		DefaultBlockSize: 256,
		Custom:           func(doc []byte) ParseErr { return ParseErrUnknown },
	})
	if err != nil {
		t.Fatal(err)
	}

	fc := ota.NewFileContext(testSizes)
	_, perr := p.Parse(testDoc("job-1", 1000), "", fc)
	if perr != ParseErrNone {
		t.Errorf("declined document should fall through to the model parser, got %s", perr)
	}
}

func TestNewParser_BadModelInitParams(t *testing.T) {
	if _, err := NewParser(Params{MaxDocLen: 0, DefaultBlockSize: 256}); err == nil {
		t.Error("expected error for zero max doc length")
	}
	if _, err := NewParser(Params{MaxDocLen: 1024, DefaultBlockSize: 0}); err == nil {
		t.Error("expected error for zero block size")
	}
}
