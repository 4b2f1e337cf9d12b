package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glimps-re/stegascan/pkg/datamodel"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Public is the status shown to pollers, which do not distinguish a queued
// job from a running one.
func (s Status) Public() Status {
	if s == StatusPending {
		return StatusProcessing
	}
	return s
}

var (
	ErrJobNotFound       = errors.New("analysis not found")
	ErrJobExists         = errors.New("analysis already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrQueueFull         = errors.New("analysis queue is full")
	ErrStopped           = errors.New("dispatcher is stopped")
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

func checkTransition(from, to Status) error {
	for _, s := range transitions[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
}

// Record is a snapshot of one analysis. Result is set once Completed, Error
// once Failed.
type Record struct {
	ID        string            `json:"analysis_id"`
	Filename  string            `json:"filename"`
	Status    Status            `json:"status"`
	Result    *datamodel.Result `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Update is applied by Store.Transition.
type Update struct {
	Status Status
	Result *datamodel.Result
	Error  string
}

// Store keeps analysis records by id. Implementations must be safe for
// concurrent use and never expose a partially written record.
type Store interface {
	// Create adds a new record, failing with ErrJobExists on a duplicate id.
	Create(ctx context.Context, rec Record) error
	// Get returns ErrJobNotFound for unknown ids.
	Get(ctx context.Context, id string) (Record, error)
	// Transition moves a record to update.Status, failing with
	// ErrInvalidTransition when the state machine forbids it.
	Transition(ctx context.Context, id string, update Update) (Record, error)
	// DeleteBefore removes terminal records last updated before t.
	DeleteBefore(ctx context.Context, t time.Time) (deleted int, err error)
	Close() error
}

// Now could be overridden in tests
var Now = time.Now
