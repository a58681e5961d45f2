package history

import (
	"encoding/json"
	"maps"
	"time"
)

// EntityType names the kind of record a history entry belongs to
type EntityType string

const (
	EntityPermit EntityType = "permit"
	EntityChalan EntityType = "chalan"
)

// EntityRef identifies one history-bearing record
type EntityRef struct {
	Type EntityType `json:"type"`
	ID   int64      `json:"id"`
}

// Action is the kind of change a record describes
type Action string

const (
	ActionCreated     Action = "created"
	ActionUpdated     Action = "updated"
	ActionAssigned    Action = "assigned"
	ActionActivated   Action = "activated"
	ActionDeactivated Action = "deactivated"
	ActionCancelled   Action = "cancelled"
	ActionRenewed     Action = "renewed"
	ActionExpired     Action = "expired"
	ActionPaid        Action = "paid"
	ActionFeeUpdated  Action = "fee_updated"
	ActionDisputed    Action = "disputed"
	ActionResolved    Action = "resolved"
)

// Change is the before and after value of one field
type Change struct {
	Old interface{} `json:"old"`
	New interface{} `json:"new"`
}

// Changes maps field names to their change. Only fields that actually
// differ belong in it; an empty map on an update records a no-op.
type Changes map[string]Change

// Track adds field to c when old and new differ
func Track[T comparable](c Changes, field string, old, new T) {
	if old != new {
		c[field] = Change{Old: old, New: new}
	}
}

// TrackPtr is Track for optional values; nil and a set value differ
func TrackPtr[T comparable](c Changes, field string, old, new *T) {
	switch {
	case old == nil && new == nil:
		return
	case old == nil:
		c[field] = Change{Old: nil, New: *new}
	case new == nil:
		c[field] = Change{Old: *old, New: nil}
	case *old != *new:
		c[field] = Change{Old: *old, New: *new}
	}
}

// Clone returns a copy of c that never aliases it. A nil c clones to an
// empty map.
func (c Changes) Clone() Changes {
	if c == nil {
		return Changes{}
	}
	return maps.Clone(c)
}

// Record is one immutable ledger entry
type Record struct {
	ID          int64     `json:"id"`
	Entity      EntityRef `json:"entity"`
	Action      Action    `json:"action"`
	PerformedBy *int64    `json:"performed_by,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Changes     Changes   `json:"changes"`
	Notes       string    `json:"notes,omitempty"`
}

func (r *Record) marshalChanges() ([]byte, error) {
	return json.Marshal(r.Changes.Clone())
}

// Filter selects ledger records. Zero fields do not filter.
type Filter struct {
	EntityType EntityType
	EntityID   *int64
	ActorID    *int64
	Actions    []Action
	// Since is inclusive, Until exclusive
	Since *time.Time
	Until *time.Time

	Limit  int
	Offset int
}

// ExportFormat represents the format for exporting history
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)
