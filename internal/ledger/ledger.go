// Package ledger records the terminal outcome of every job for telemetry.
// It is write-only: nothing reads job state back from it.
package ledger

import (
	"context"
	"time"

	"github.com/ignite/catalog-enricher/internal/pkg/logger"
)

// Outcome is the final record of one job. Email is stored redacted.
type Outcome struct {
	JobID      string
	Email      string
	State      string
	Error      string
	ModelIDs   []string
	Filename   string
	RowCount   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is how long the job ran.
func (o Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Recorder stores outcomes.
type Recorder interface {
	Record(ctx context.Context, o Outcome) error
}

// LogRecorder writes outcomes as structured log lines.
type LogRecorder struct {
	log *logger.Logger
}

func NewLogRecorder() *LogRecorder {
	return &LogRecorder{log: logger.With("component", "ledger")}
}

func (r *LogRecorder) Record(_ context.Context, o Outcome) error {
	fields := []interface{}{
		"job_id", o.JobID,
		"email", o.Email,
		"state", o.State,
		"models", o.ModelIDs,
		"filename", o.Filename,
		"rows", o.RowCount,
		"duration", o.Duration(),
	}
	if o.Error != "" {
		fields = append(fields, "error", o.Error)
		r.log.Warn("job finished", fields...)
		return nil
	}
	r.log.Info("job finished", fields...)
	return nil
}
