package ota

import (
	"fmt"
	"io"

	"github.com/fleetware/otaagent/pkg/bitmap"
	"github.com/fleetware/otaagent/pkg/buffer"
)

// Hard upper bounds on identity fields carried outside the sized buffers.
const (
	MaxThingNameLen   = 128
	MaxJobIDLen       = 72
	MaxClientTokenLen = 64
	MaxVersionLen     = 32
)

// Data transfer protocol selectors a job document may offer.
const (
	ProtocolStream = "stream"
	ProtocolHTTP   = "http"
)

// BufferSizes fixes the capacity of every buffer the agent allocates at
// initialization. All sizes are in bytes except MaxBlocks, which caps the
// logical length of the block bitmap.
type BufferSizes struct {
	FilePath     int
	CertPath     int
	StreamName   int
	URL          int
	AuthScheme   int
	Signature    int
	DecodeMemory int
	MaxBlocks    uint32
}

// Validate rejects zero or negative capacities before any allocation
// happens.
func (b BufferSizes) Validate() error {
	check := func(name string, v int) error {
		if v <= 0 {
			return fmt.Errorf("buffer size %q must be positive, got %d", name, v)
		}
		return nil
	}
	if err := check("file_path", b.FilePath); err != nil {
		return err
	}
	if err := check("cert_path", b.CertPath); err != nil {
		return err
	}
	if err := check("stream_name", b.StreamName); err != nil {
		return err
	}
	if err := check("url", b.URL); err != nil {
		return err
	}
	if err := check("auth_scheme", b.AuthScheme); err != nil {
		return err
	}
	if err := check("signature", b.Signature); err != nil {
		return err
	}
	if err := check("decode_memory", b.DecodeMemory); err != nil {
		return err
	}
	if b.MaxBlocks == 0 {
		return fmt.Errorf("buffer size %q must be positive, got 0", "max_blocks")
	}
	return nil
}

// FileHandle is the platform-owned handle for the receive file.
type FileHandle interface {
	io.WriterAt
	io.Closer
}

// FileContext is the single active file transfer. It is created empty at
// agent initialization with fixed-capacity buffers, populated when a job
// document is validated, and reset on file close, abort, or new job
// acceptance.
type FileContext struct {
	FilePath   *buffer.Buffer
	CertPath   *buffer.Buffer
	StreamName *buffer.Buffer
	URL        *buffer.Buffer
	AuthScheme *buffer.Buffer
	Signature  *buffer.Buffer // raw signature bytes, decoded from the job document

	FileSize  int64
	BlockSize int64
	FileID    uint32
	Version   string
	Protocols []string

	Bitmap *bitmap.Bitmap

	// File is set by the platform collaborator between CreateFile and
	// CloseFile/Abort.
	File FileHandle
}

// NewFileContext allocates a file context with the given buffer capacities.
// All storage, including the bitmap words, is allocated here and reused for
// every transfer.
func NewFileContext(sz BufferSizes) *FileContext {
	return &FileContext{
		FilePath:   buffer.New(sz.FilePath),
		CertPath:   buffer.New(sz.CertPath),
		StreamName: buffer.New(sz.StreamName),
		URL:        buffer.New(sz.URL),
		AuthScheme: buffer.New(sz.AuthScheme),
		Signature:  buffer.New(sz.Signature),
		Bitmap:     bitmap.New(sz.MaxBlocks),
		Protocols:  make([]string, 0, 4),
	}
}

// Open reports whether the context describes an in-progress transfer.
func (fc *FileContext) Open() bool {
	return fc.FileSize > 0
}

// BlockCount returns ceil(FileSize / BlockSize).
func (fc *FileContext) BlockCount() uint32 {
	if fc.BlockSize <= 0 {
		return 0
	}
	return uint32((fc.FileSize + fc.BlockSize - 1) / fc.BlockSize)
}

// BlockLen returns the payload length of block idx. The last block may be
// shorter than BlockSize.
func (fc *FileContext) BlockLen(idx uint32) int64 {
	count := fc.BlockCount()
	if count == 0 || idx >= count {
		return 0
	}
	if idx == count-1 {
		return fc.FileSize - fc.BlockSize*int64(count-1)
	}
	return fc.BlockSize
}

// Reset discards the transfer described by the context. Buffer storage is
// retained for the next job. The file handle, if any, must already have
// been closed or aborted by the platform collaborator.
func (fc *FileContext) Reset() {
	fc.FilePath.Reset()
	fc.CertPath.Reset()
	fc.StreamName.Reset()
	fc.URL.Reset()
	fc.AuthScheme.Reset()
	fc.Signature.Reset()
	fc.FileSize = 0
	fc.BlockSize = 0
	fc.FileID = 0
	fc.Version = ""
	fc.Protocols = fc.Protocols[:0]
	fc.File = nil
}
