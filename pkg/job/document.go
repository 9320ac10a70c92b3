// Package job parses and validates update-job descriptors delivered by the
// job service, producing a populated file-transfer context or a specific
// parse error.
package job

// document is the wire form of a job descriptor. Only the fields copied
// into the file context and agent context survive parsing.
type document struct {
	ClientToken string     `json:"clientToken"`
	Timestamp   int64      `json:"timestamp"`
	Execution   *execution `json:"execution"`
}

type execution struct {
	JobID         string            `json:"jobId"`
	StatusDetails map[string]string `json:"statusDetails"`
	JobDocument   *updateDocument   `json:"jobDocument"`
}

type updateDocument struct {
	Update *updateSpec `json:"ota"`
}

type updateSpec struct {
	Protocols  []string   `json:"protocols"`
	StreamName string     `json:"streamname"`
	Files      []fileSpec `json:"files"`
}

type fileSpec struct {
	FilePath   string `json:"filepath"`
	FileSize   int64  `json:"filesize"`
	FileID     uint32 `json:"fileid"`
	BlockSize  int64  `json:"blocksize"`
	CertFile   string `json:"certfile"`
	URL        string `json:"update_data_url"`
	AuthScheme string `json:"auth_scheme"`
	Signature  string `json:"sig_sha256_ecdsa"`
	Version    string `json:"version"`
}

// statusDetails key set by the service when a job re-runs under self test.
const selfTestKey = "self_test"
