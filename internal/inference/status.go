package inference

import "strings"

// Status is the service's job status, closed over the values we understand.
type Status int

const (
	StatusUnknown Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusTimedOut
	StatusCancelled
)

var statusNames = map[Status]string{
	StatusUnknown:   "unknown",
	StatusRunning:   "running",
	StatusCompleted: "completed",
	StatusFailed:    "failed",
	StatusTimedOut:  "timed out",
	StatusCancelled: "cancelled",
}

func (s Status) String() string { return statusNames[s] }

// Terminal reports whether no further progress will happen.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus maps a wire status. Unrecognized values are StatusUnknown,
// which callers keep polling on.
func ParseStatus(s string) Status {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RUNNING", "IN_PROGRESS", "IN_QUEUE", "QUEUED", "PENDING", "STARTING":
		return StatusRunning
	case "COMPLETED", "SUCCEEDED", "SUCCESS":
		return StatusCompleted
	case "FAILED", "ERROR":
		return StatusFailed
	case "TIMED_OUT", "TIMEOUT":
		return StatusTimedOut
	case "CANCELLED", "CANCELED":
		return StatusCancelled
	}
	return StatusUnknown
}
