package job

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fleetware/otaagent/pkg/ota"
)

// ParseErr classifies the outcome of parsing one job document.
type ParseErr int

const (
	// ParseErrUnknown is the undecided value; a custom callback returns it
	// to decline a document and hand it to the standard parser.
	ParseErrUnknown ParseErr = iota - 1
	ParseErrNone
	ParseErrBusyWithExistingJob
	ParseErrNullJob
	ParseErrUpdateCurrentJob
	ParseErrZeroFileSize
	ParseErrNonConformingJobDoc
	ParseErrBadModelInitParams
	ParseErrNoContextAvailable
	ParseErrNoActiveJobs
)

func (e ParseErr) String() string {
	switch e {
	case ParseErrNone:
		return "none"
	case ParseErrBusyWithExistingJob:
		return "busy_with_existing_job"
	case ParseErrNullJob:
		return "null_job"
	case ParseErrUpdateCurrentJob:
		return "update_current_job"
	case ParseErrZeroFileSize:
		return "zero_file_size"
	case ParseErrNonConformingJobDoc:
		return "non_conforming_job_doc"
	case ParseErrBadModelInitParams:
		return "bad_model_init_params"
	case ParseErrNoContextAvailable:
		return "no_context_available"
	case ParseErrNoActiveJobs:
		return "no_active_jobs"
	default:
		return "unknown"
	}
}

// CustomCallback lets the application parse a raw job document before the
// standard model parser runs. Returning ParseErrUnknown declines the
// document.
type CustomCallback func(doc []byte) ParseErr

// Result carries the job-level fields that outlive the parse: they are
// copied into the agent context, not retained here.
type Result struct {
	JobID       string
	ClientToken string
	Timestamp   int64
	SelfTest    bool
	Version     string
}

// Params configures the parser.
type Params struct {
	// MaxDocLen bounds the accepted document size.
	MaxDocLen int
	// DefaultBlockSize applies when the document does not name one.
	DefaultBlockSize int64
	// Custom, if set, is offered every document first.
	Custom CustomCallback
}

// Parser validates job documents and populates file contexts. All
// destination fields are the fixed-capacity buffers owned by the caller's
// FileContext; a field exceeding its buffer is a non-conforming document,
// never an overrun.
type Parser struct {
	maxDocLen        int
	defaultBlockSize int64
	custom           CustomCallback
}

// NewParser builds a parser, rejecting misconfiguration the way the model
// itself rejects bad init params.
func NewParser(p Params) (*Parser, error) {
	if p.MaxDocLen <= 0 || p.DefaultBlockSize <= 0 {
		return nil, fmt.Errorf("job: bad model init params: max_doc_len=%d default_block_size=%d (%s)",
			p.MaxDocLen, p.DefaultBlockSize, ParseErrBadModelInitParams)
	}
	return &Parser{
		maxDocLen:        p.MaxDocLen,
		defaultBlockSize: p.DefaultBlockSize,
		custom:           p.Custom,
	}, nil
}

// Parse validates raw against the document model. activeJobID is the job
// the agent currently works on ("" when idle). On ParseErrNone the fields
// of fc are populated and res describes the accepted job. On
// ParseErrUpdateCurrentJob fc is left untouched: the caller resumes the
// existing transfer. Every other value is a rejection and fc is reset.
func (p *Parser) Parse(raw []byte, activeJobID string, fc *ota.FileContext) (*Result, ParseErr) {
	if p.custom != nil {
		if perr := p.custom(raw); perr != ParseErrUnknown {
			slog.Info("job_custom_parse", "result", perr.String())
			return nil, perr
		}
	}

	if len(raw) == 0 || len(raw) > p.maxDocLen {
		slog.Error("job_doc_size_invalid", "len", len(raw), "max", p.maxDocLen)
		return nil, ParseErrNonConformingJobDoc
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		slog.Error("job_doc_decode_failed", "error", err)
		return nil, ParseErrNonConformingJobDoc
	}

	if doc.Execution == nil {
		slog.Info("job_none_pending")
		return nil, ParseErrNoActiveJobs
	}
	if doc.Execution.JobID == "" {
		slog.Error("job_doc_null_job")
		return nil, ParseErrNullJob
	}
	if len(doc.Execution.JobID) > ota.MaxJobIDLen {
		slog.Error("job_id_too_long", "len", len(doc.Execution.JobID))
		return nil, ParseErrNonConformingJobDoc
	}

	if activeJobID != "" {
		if doc.Execution.JobID == activeJobID {
			slog.Info("job_resume_current", "job_id", doc.Execution.JobID)
			return nil, ParseErrUpdateCurrentJob
		}
		slog.Warn("job_busy_with_existing", "active_job", activeJobID, "new_job", doc.Execution.JobID)
		return nil, ParseErrBusyWithExistingJob
	}

	spec, perr := validateModel(doc.Execution)
	if perr != ParseErrNone {
		return nil, perr
	}
	file := &spec.Files[0]

	if file.FileSize == 0 {
		slog.Error("job_doc_zero_file_size", "job_id", doc.Execution.JobID)
		return nil, ParseErrZeroFileSize
	}
	if fc == nil {
		slog.Error("job_no_file_context")
		return nil, ParseErrNoContextAvailable
	}

	if perr := p.populate(fc, spec, file); perr != ParseErrNone {
		fc.Reset()
		return nil, perr
	}

	res := &Result{
		JobID:       doc.Execution.JobID,
		ClientToken: doc.ClientToken,
		Timestamp:   doc.Timestamp,
		SelfTest:    doc.Execution.StatusDetails[selfTestKey] == "true",
		Version:     file.Version,
	}
	if len(res.ClientToken) > ota.MaxClientTokenLen {
		fc.Reset()
		slog.Error("job_client_token_too_long", "len", len(res.ClientToken))
		return nil, ParseErrNonConformingJobDoc
	}

	slog.Info("job_doc_accepted",
		"job_id", res.JobID,
		"file_size", fc.FileSize,
		"block_size", fc.BlockSize,
		"blocks", fc.BlockCount(),
		"self_test", res.SelfTest,
	)
	return res, ParseErrNone
}

// validateModel checks the structural requirements of the document model.
func validateModel(exec *execution) (*updateSpec, ParseErr) {
	if exec.JobDocument == nil || exec.JobDocument.Update == nil {
		slog.Error("job_doc_missing_update_section")
		return nil, ParseErrNonConformingJobDoc
	}
	spec := exec.JobDocument.Update
	if len(spec.Files) == 0 {
		slog.Error("job_doc_no_files")
		return nil, ParseErrNonConformingJobDoc
	}
	if len(spec.Protocols) == 0 {
		slog.Error("job_doc_no_protocols")
		return nil, ParseErrNonConformingJobDoc
	}
	for _, proto := range spec.Protocols {
		if proto != ota.ProtocolStream && proto != ota.ProtocolHTTP {
			slog.Error("job_doc_unknown_protocol", "protocol", proto)
			return nil, ParseErrNonConformingJobDoc
		}
	}
	file := &spec.Files[0]
	if file.FilePath == "" || file.Signature == "" {
		slog.Error("job_doc_missing_required_field",
			"have_path", file.FilePath != "", "have_signature", file.Signature != "")
		return nil, ParseErrNonConformingJobDoc
	}
	if file.FileSize < 0 || file.BlockSize < 0 {
		slog.Error("job_doc_negative_size", "file_size", file.FileSize, "block_size", file.BlockSize)
		return nil, ParseErrNonConformingJobDoc
	}
	if len(file.Version) > ota.MaxVersionLen {
		slog.Error("job_doc_version_too_long", "len", len(file.Version))
		return nil, ParseErrNonConformingJobDoc
	}
	return spec, ParseErrNone
}

// populate copies the validated fields into the fixed-capacity buffers of
// fc. Any field too large for its buffer makes the whole document
// non-conforming.
func (p *Parser) populate(fc *ota.FileContext, spec *updateSpec, file *fileSpec) ParseErr {
	set := func(name string, dst interface{ SetString(string) error }, v string) ParseErr {
		if err := dst.SetString(v); err != nil {
			slog.Error("job_field_exceeds_buffer", "field", name, "error", err)
			return ParseErrNonConformingJobDoc
		}
		return ParseErrNone
	}

	if perr := set("filepath", fc.FilePath, file.FilePath); perr != ParseErrNone {
		return perr
	}
	if perr := set("certfile", fc.CertPath, file.CertFile); perr != ParseErrNone {
		return perr
	}
	if perr := set("streamname", fc.StreamName, spec.StreamName); perr != ParseErrNone {
		return perr
	}
	if perr := set("update_data_url", fc.URL, file.URL); perr != ParseErrNone {
		return perr
	}
	if perr := set("auth_scheme", fc.AuthScheme, file.AuthScheme); perr != ParseErrNone {
		return perr
	}

	sig, err := base64.StdEncoding.DecodeString(file.Signature)
	if err != nil {
		slog.Error("job_signature_not_base64", "error", err)
		return ParseErrNonConformingJobDoc
	}
	if err := fc.Signature.Set(sig); err != nil {
		slog.Error("job_field_exceeds_buffer", "field", "signature", "error", err)
		return ParseErrNonConformingJobDoc
	}

	fc.FileSize = file.FileSize
	fc.BlockSize = file.BlockSize
	if fc.BlockSize == 0 {
		fc.BlockSize = p.defaultBlockSize
	}
	fc.FileID = file.FileID
	fc.Version = file.Version
	fc.Protocols = append(fc.Protocols[:0], spec.Protocols...)
	return ParseErrNone
}
