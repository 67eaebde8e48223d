package inference

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
)

// InlineClient posts the whole file to /predict and gets the result back in
// the same response.
type InlineClient struct {
	client
	maxInlineBytes int64
}

type predictRequest struct {
	JobID            string         `json:"jobId,omitempty"`
	FileBytesEncoded string         `json:"fileBytesEncoded"`
	Filename         string         `json:"filename"`
	Mapping          map[string]any `json:"mapping"`
	ModelIDs         []string       `json:"modelIds"`
}

type predictResponse struct {
	OK                 bool   `json:"ok"`
	ResultBytesEncoded string `json:"resultBytesEncoded"`
	ResultFilename     string `json:"resultFilename"`
	RowCount           int    `json:"rowCount"`
	Error              string `json:"error"`
}

func (c *InlineClient) Mode() Mode { return ModeInline }

// Submit blocks until the service has finished the prediction.
func (c *InlineClient) Submit(ctx context.Context, req Request) (*Submission, error) {
	if c.maxInlineBytes > 0 && int64(len(req.FileData)) > c.maxInlineBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(req.FileData), c.maxInlineBytes)
	}

	var resp predictResponse
	err := c.doJSON(ctx, http.MethodPost, "/predict", predictRequest{
		JobID:            req.JobID,
		FileBytesEncoded: base64.StdEncoding.EncodeToString(req.FileData),
		Filename:         req.Filename,
		Mapping:          req.Mapping,
		ModelIDs:         req.ModelIDs,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("predicting: %w", err)
	}
	if !resp.OK {
		return nil, &TerminalError{Status: StatusFailed, Detail: resp.Error}
	}
	if resp.ResultBytesEncoded == "" {
		return nil, fmt.Errorf("%w: predict response has no result", ErrInvalidResponse)
	}
	data, err := base64.StdEncoding.DecodeString(resp.ResultBytesEncoded)
	if err != nil {
		return nil, fmt.Errorf("%w: result is not base64: %v", ErrInvalidResponse, err)
	}

	c.log.Info("prediction returned", "job_id", req.JobID, "rows", resp.RowCount, "bytes", len(data))
	return &Submission{output: &Output{
		Data:     data,
		Filename: resp.ResultFilename,
		RowCount: resp.RowCount,
	}}, nil
}

// Await returns the output captured by Submit.
func (c *InlineClient) Await(_ context.Context, sub *Submission) (*Output, error) {
	if sub == nil || sub.output == nil {
		return nil, fmt.Errorf("%w: no inline output", ErrInvalidResponse)
	}
	return sub.output, nil
}
