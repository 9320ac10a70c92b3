package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fleetware/otaagent/pkg/errors"
	"github.com/fleetware/otaagent/pkg/ota"
)

// HTTP implements ota.DataTransport with ranged GETs against the presigned
// URL carried in the job document.
type HTTP struct {
	client *http.Client
	url    string
}

// NewHTTP creates the presigned-URL data plane. A zero timeout uses a
// 30 second default per request.
func NewHTTP(timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTP{client: &http.Client{Timeout: timeout}}
}

// Init validates the URL and probes it with a ranged request for the first
// byte, so a dead or expired URL fails the transfer up front.
func (t *HTTP) Init(ctx context.Context, fc *ota.FileContext) error {
	url := fc.URL.String()
	if url == "" {
		return ota.NewErr(ota.KindRequestInitFailed, fmt.Errorf("job document has no update URL"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ota.NewErr(ota.KindRequestInitFailed, errors.Wrap(err, "failed to build probe request"))
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := t.client.Do(req)
	if err != nil {
		slog.Error("http_probe_failed", "error", err)
		return ota.NewErr(ota.KindRequestInitFailed, errors.Wrap(err, "failed to probe update URL"))
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		slog.Error("http_probe_unexpected_status", "status", resp.StatusCode)
		return ota.NewErr(ota.KindRequestInitFailed,
			fmt.Errorf("update URL does not support ranged requests: status %d", resp.StatusCode))
	}

	t.url = url
	slog.Info("http_data_plane_ready", "file_size", fc.FileSize)
	return nil
}

// RequestRange fetches length bytes starting at offset. Anything but a 206
// response is a failed request; a 200 would mean the whole file.
func (t *HTTP) RequestRange(ctx context.Context, fc *ota.FileContext, offset, length int64) ([]byte, error) {
	if t.url == "" {
		return nil, ota.NewErr(ota.KindRequestFailed, fmt.Errorf("data plane not initialized"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return nil, ota.NewErr(ota.KindRequestFailed, errors.Wrap(err, "failed to build range request"))
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := t.client.Do(req)
	if err != nil {
		slog.Error("http_range_request_failed", "offset", offset, "error", err)
		return nil, ota.NewErr(ota.KindRequestFailed, errors.Wrap(err, "range request failed"))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		io.Copy(io.Discard, resp.Body)
		return nil, ota.NewErr(ota.KindRequestFailed,
			fmt.Errorf("range request returned status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, length))
	if err != nil {
		return nil, ota.NewErr(ota.KindRequestFailed, errors.Wrap(err, "failed to read range body"))
	}
	if int64(len(data)) != length {
		return nil, ota.NewErr(ota.KindRequestFailed,
			fmt.Errorf("short range read: got %d bytes, want %d", len(data), length))
	}
	return data, nil
}

// Cleanup forgets the URL.
func (t *HTTP) Cleanup(ctx context.Context) error {
	t.url = ""
	return nil
}

var _ ota.DataTransport = (*HTTP)(nil)
