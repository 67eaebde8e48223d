// Package inference talks to the external prediction service, either by
// handing it a file URL and polling for the result (pull) or by embedding the
// file in one blocking call (inline).
package inference

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// Mode is the integration shape of a Predictor.
type Mode string

const (
	ModePull   Mode = "pull"
	ModeInline Mode = "inline"
)

var (
	// ErrWaitTimeout means polling exceeded the wait budget.
	ErrWaitTimeout = errors.New("inference: wait budget exceeded")
	// ErrInvalidResponse means a successful response lacked an expected field.
	ErrInvalidResponse = errors.New("inference: invalid response")
	// ErrPayloadTooLarge means the file is too big to embed inline.
	ErrPayloadTooLarge = errors.New("inference: file too large for inline submission")
	// ErrMissingFileURL means a pull submission was made without a file URL.
	ErrMissingFileURL = errors.New("inference: file url required")
)

// TerminalError is a non-success terminal status reported by the service.
type TerminalError struct {
	Status Status
	Detail string
}

func (e *TerminalError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("inference job %s", e.Status)
	}
	return fmt.Sprintf("inference job %s: %s", e.Status, e.Detail)
}

// Request is everything the service needs to run one job.
type Request struct {
	JobID    string
	FileURL  string
	FileData []byte
	Filename string
	Mapping  map[string]any
	ModelIDs []string
}

// Submission identifies work accepted by the service.
type Submission struct {
	Handle string
	output *Output
}

// Output points at a finished result: a URL to download or inline bytes.
type Output struct {
	URL      string
	Data     []byte
	Filename string
	RowCount int
}

// Result is the downloaded prediction output.
type Result struct {
	Data     []byte
	Filename string
	MIMEType string
	RowCount int
}

// Predictor runs one job: Submit, then Await the terminal status, then Fetch
// the payload. Every call may block on the network.
type Predictor interface {
	Mode() Mode
	Submit(ctx context.Context, req Request) (*Submission, error)
	Await(ctx context.Context, sub *Submission) (*Output, error)
	Fetch(ctx context.Context, out *Output) (*Result, error)
}

const defaultResultName = "result.xlsx"

var mimeByExt = map[string]string{
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xlsm": "application/vnd.ms-excel.sheet.macroEnabled.12",
	".xls":  "application/vnd.ms-excel",
	".csv":  "text/csv",
	".tsv":  "text/tab-separated-values",
	".json": "application/json",
}

// MIMEType guesses a content type from filename, then the server's header.
func MIMEType(filename, header string) string {
	if t, ok := mimeByExt[strings.ToLower(path.Ext(filename))]; ok {
		return t
	}
	if header != "" {
		return header
	}
	return "application/octet-stream"
}
