package port

import (
	"context"
	"time"
)

// TransitionRecord is an audit entry for a single stage change.
type TransitionRecord struct {
	ID         string    `json:"id"`
	Target     string    `json:"target"`
	FromStage  string    `json:"from_stage"`
	ToStage    string    `json:"to_stage"`
	Percentage int       `json:"percentage"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TransitionLog persists stage-transition audit records.
type TransitionLog interface {
	// Append stores a single transition record.
	Append(ctx context.Context, record TransitionRecord) error

	// Recent returns the latest transitions for a target, newest first.
	Recent(ctx context.Context, target string, limit int) ([]TransitionRecord, error)
}
