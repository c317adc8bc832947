package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Dispute resolutions. A dispute left pending past the task's dispute
// deadline becomes escalated and is only resolvable by an admin.
const (
	DisputePending        = "pending"
	DisputeWorkerFavor    = "resolved_worker_favor"
	DisputeRequesterFavor = "resolved_requester_favor"
	DisputeCompromise     = "resolved_compromise"
	DisputeEscalated      = "escalated"
)

type Dispute struct {
	ID         uuid.UUID        `json:"id"`
	TaskID     uuid.UUID        `json:"task_id"`
	FiledBy    uuid.UUID        `json:"filed_by"`
	Reason     string           `json:"reason"`
	Resolution string           `json:"resolution"`
	Ratio      *decimal.Decimal `json:"ratio,omitempty"`
	FiledAt    time.Time        `json:"filed_at"`
	ResolvedAt *time.Time       `json:"resolved_at,omitempty"`
}

// Open reports whether the dispute still needs a verdict. Escalated
// disputes stay open for manual admin resolution.
func (d *Dispute) Open() bool {
	return d.Resolution == DisputePending || d.Resolution == DisputeEscalated
}
