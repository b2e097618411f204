package port

import (
	"context"
	"time"
)

// Report is a point-in-time record of a significant rollout event, archived
// for post-incident review.
type Report struct {
	Target     string                 `json:"target"`
	Kind       string                 `json:"kind"`
	Reason     string                 `json:"reason,omitempty"`
	Stage      string                 `json:"stage"`
	Percentage int                    `json:"percentage"`
	OccurredAt time.Time              `json:"occurred_at"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// ReportArchive stores rollout reports in durable object storage.
type ReportArchive interface {
	// Store writes the report and returns its storage location.
	Store(ctx context.Context, report Report) (string, error)
}
