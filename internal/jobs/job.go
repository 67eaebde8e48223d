// Package jobs owns the job lifecycle: synchronous validation at submission,
// then a detached task that runs the prediction and notifies the requester.
package jobs

import (
	"sync/atomic"
	"time"

	"github.com/ignite/catalog-enricher/internal/fieldmap"
)

// State is a job lifecycle state. Transitions only move forward:
// Created → Dispatched → Polling → Completed | Failed.
type State int32

const (
	StateCreated State = iota
	StateDispatched
	StatePolling
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateDispatched:
		return "dispatched"
	case StatePolling:
		return "polling"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether s is Completed or Failed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is one accepted submission.
type Job struct {
	ID        string
	Email     string
	Filename  string
	MIMEType  string
	Mapping   fieldmap.Mapping
	ModelIDs  []string
	CreatedAt time.Time

	data  []byte
	state atomic.Int32
}

// State is safe to call from any goroutine.
func (j *Job) State() State {
	return State(j.state.Load())
}

// advance moves the job to next if that is a forward move out of a
// non-terminal state. Only one caller can ever move a job to a terminal state.
func (j *Job) advance(next State) bool {
	for {
		cur := State(j.state.Load())
		if cur.Terminal() || next <= cur {
			return false
		}
		if j.state.CompareAndSwap(int32(cur), int32(next)) {
			return true
		}
	}
}
