package transport

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/fleetware/otaagent/pkg/buffer"
	"github.com/fleetware/otaagent/pkg/ota"
)

func rangedServer(t *testing.T, image []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		spec := strings.TrimPrefix(r.Header.Get("Range"), "bytes=")
		startStr, endStr, ok := strings.Cut(spec, "-")
		if !ok {
			w.WriteHeader(http.StatusOK)
			w.Write(image)
			return
		}
		start, _ := strconv.ParseInt(startStr, 10, 64)
		end, _ := strconv.ParseInt(endStr, 10, 64)
		if end >= int64(len(image)) {
			end = int64(len(image)) - 1
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write(image[start : end+1])
	}))
}

func httpFileContext(t *testing.T, url string, size int64) *ota.FileContext {
	t.Helper()
	fc := &ota.FileContext{
		URL:      buffer.New(512),
		FileSize: size,
	}
	if err := fc.URL.SetString(url); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	return fc
}

func TestHTTPRequestRange(t *testing.T) {
	image := make([]byte, 500)
	for i := range image {
		image[i] = byte(i % 251)
	}
	srv := rangedServer(t, image)
	defer srv.Close()

	dt := NewHTTP(0)
	fc := httpFileContext(t, srv.URL, int64(len(image)))
	ctx := context.Background()

	if err := dt.Init(ctx, fc); err != nil {
		t.Fatalf("Init: %v", err)
	}

	got, err := dt.RequestRange(ctx, fc, 256, 128)
	if err != nil {
		t.Fatalf("RequestRange: %v", err)
	}
	if !bytes.Equal(got, image[256:384]) {
		t.Error("range payload does not match source bytes")
	}

	if err := dt.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := dt.RequestRange(ctx, fc, 0, 1); ota.KindOf(err) != ota.KindRequestFailed {
		t.Errorf("request after cleanup: got %v, want KindRequestFailed", err)
	}
}

func TestHTTPInitRejectsNonRangedServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dt := NewHTTP(0)
	fc := httpFileContext(t, srv.URL, 100)

	err := dt.Init(context.Background(), fc)
	if ota.KindOf(err) != ota.KindRequestInitFailed {
		t.Errorf("got %v, want KindRequestInitFailed", err)
	}
}

func TestHTTPInitEmptyURL(t *testing.T) {
	dt := NewHTTP(0)
	fc := httpFileContext(t, "", 100)

	err := dt.Init(context.Background(), fc)
	if ota.KindOf(err) != ota.KindRequestInitFailed {
		t.Errorf("got %v, want KindRequestInitFailed", err)
	}
}

func TestHTTPShortRangeRead(t *testing.T) {
	srv := rangedServer(t, make([]byte, 100))
	defer srv.Close()

	dt := NewHTTP(0)
	fc := httpFileContext(t, srv.URL, 100)
	ctx := context.Background()

	if err := dt.Init(ctx, fc); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// Server clamps to the file end, so asking past it yields a short read.
	_, err := dt.RequestRange(ctx, fc, 90, 64)
	if ota.KindOf(err) != ota.KindRequestFailed {
		t.Errorf("got %v, want KindRequestFailed", err)
	}
}
