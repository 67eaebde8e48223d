package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// PullClient submits a file URL to /run and polls /status/{handle}.
type PullClient struct {
	client
	pollInterval time.Duration
	waitBudget   time.Duration
}

type runRequest struct {
	JobID    string         `json:"jobId,omitempty"`
	FileURL  string         `json:"fileUrl"`
	Filename string         `json:"filename,omitempty"`
	Mapping  map[string]any `json:"mapping"`
	ModelIDs []string       `json:"modelIds"`
}

type runResponse struct {
	Handle string `json:"handle"`
}

type statusResponse struct {
	Status string        `json:"status"`
	Output *statusOutput `json:"output"`
	Error  string        `json:"error"`
}

type statusOutput struct {
	URL      string `json:"url"`
	Data     []byte `json:"data"`
	Filename string `json:"filename"`
	RowCount int    `json:"rowCount"`
}

func (c *PullClient) Mode() Mode { return ModePull }

func (c *PullClient) Submit(ctx context.Context, req Request) (*Submission, error) {
	if req.FileURL == "" {
		return nil, ErrMissingFileURL
	}
	var resp runResponse
	err := c.doJSON(ctx, http.MethodPost, "/run", runRequest{
		JobID:    req.JobID,
		FileURL:  req.FileURL,
		Filename: req.Filename,
		Mapping:  req.Mapping,
		ModelIDs: req.ModelIDs,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("submitting job: %w", err)
	}
	if resp.Handle == "" {
		return nil, fmt.Errorf("%w: run response has no handle", ErrInvalidResponse)
	}
	c.log.Info("job submitted", "job_id", req.JobID, "handle", resp.Handle)
	return &Submission{Handle: resp.Handle}, nil
}

// Await polls until the job reaches a terminal status or the wait budget is
// spent. Unknown statuses keep polling.
func (c *PullClient) Await(ctx context.Context, sub *Submission) (*Output, error) {
	if sub == nil || sub.Handle == "" {
		return nil, fmt.Errorf("%w: no handle", ErrInvalidResponse)
	}
	budget, cancel := context.WithTimeout(ctx, c.waitBudget)
	defer cancel()

	statusPath := "/status/" + url.PathEscape(sub.Handle)
	last := StatusUnknown
	for polls := 1; ; polls++ {
		var resp statusResponse
		err := c.doJSON(budget, http.MethodGet, statusPath, nil, &resp)
		if err != nil {
			if budgetSpent(ctx, budget) {
				return nil, fmt.Errorf("%w after %d polls", ErrWaitTimeout, polls)
			}
			return nil, fmt.Errorf("polling status: %w", err)
		}

		status := ParseStatus(resp.Status)
		if status != last {
			c.log.Debug("job status", "handle", sub.Handle, "status", resp.Status, "polls", polls)
			last = status
		}
		if status == StatusUnknown && resp.Status != "" {
			c.log.Warn("unrecognized job status", "handle", sub.Handle, "status", resp.Status)
		}

		switch status {
		case StatusCompleted:
			if resp.Output == nil || (resp.Output.URL == "" && len(resp.Output.Data) == 0) {
				return nil, fmt.Errorf("%w: completed status without output", ErrInvalidResponse)
			}
			return &Output{
				URL:      resp.Output.URL,
				Data:     resp.Output.Data,
				Filename: resp.Output.Filename,
				RowCount: resp.Output.RowCount,
			}, nil
		case StatusFailed, StatusTimedOut, StatusCancelled:
			return nil, &TerminalError{Status: status, Detail: resp.Error}
		}

		if err := sleepContext(budget, c.pollInterval); err != nil {
			if budgetSpent(ctx, budget) {
				return nil, fmt.Errorf("%w after %d polls", ErrWaitTimeout, polls)
			}
			return nil, err
		}
	}
}

// budgetSpent reports whether budget ended by its own deadline rather than
// by the parent being cancelled.
func budgetSpent(parent, budget context.Context) bool {
	return parent.Err() == nil && errors.Is(budget.Err(), context.DeadlineExceeded)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
