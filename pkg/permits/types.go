package permits

import (
	"time"

	"github.com/platinummonkey/permitdesk/pkg/history"
	"github.com/platinummonkey/permitdesk/pkg/rbac"
)

// Status is the lifecycle state of a permit
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusActive, StatusInactive, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

// OpenStatuses count towards a handler's load
var OpenStatuses = []string{string(StatusActive), string(StatusPending)}

// Authority issues a permit
type Authority string

const (
	AuthorityPTA Authority = "PTA"
	AuthorityRTA Authority = "RTA"
)

// DateLayout is the wire format of validity dates
const DateLayout = "2006-01-02"

// Permit is a vehicle permit. It is an assignable entity: one handler at a
// time works on it.
type Permit struct {
	ID               int64      `json:"id"`
	PermitNumber     string     `json:"permit_number"`
	Authority        Authority  `json:"authority"`
	PermitType       string     `json:"permit_type"`
	VehicleNumber    string     `json:"vehicle_number"`
	VehicleType      string     `json:"vehicle_type"`
	OwnerName        string     `json:"owner_name"`
	OwnerPhone       string     `json:"owner_phone"`
	OwnerCNIC        string     `json:"owner_cnic"`
	Status           Status     `json:"status"`
	ValidFrom        time.Time  `json:"valid_from"`
	ValidTo          time.Time  `json:"valid_to"`
	Description      string     `json:"description"`
	Remarks          string     `json:"remarks"`
	CreatedBy        *int64     `json:"created_by,omitempty"`
	AssignedTo       *int64     `json:"assigned_to,omitempty"`
	AssignedAt       *time.Time `json:"assigned_at,omitempty"`
	AssignedBy       *int64     `json:"assigned_by,omitempty"`
	PreviousPermitID *int64     `json:"previous_permit_id,omitempty"`
	Version          int64      `json:"version"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Object returns the ownership facts the engine checks mutations against
func (p *Permit) Object() *rbac.Object {
	return &rbac.Object{ID: p.ID, CreatedBy: p.CreatedBy, AssignedTo: p.AssignedTo}
}

// Ref identifies the permit in the history ledger
func (p *Permit) Ref() history.EntityRef {
	return history.EntityRef{Type: history.EntityPermit, ID: p.ID}
}

func (p *Permit) clone() *Permit {
	c := *p
	return &c
}

// PublicPermit is what an anonymous vehicle lookup may see
type PublicPermit struct {
	PermitNumber  string    `json:"permit_number"`
	Authority     Authority `json:"authority"`
	VehicleNumber string    `json:"vehicle_number"`
	Status        Status    `json:"status"`
	ValidFrom     time.Time `json:"valid_from"`
	ValidTo       time.Time `json:"valid_to"`
}

// Public strips owner and handling details
func (p *Permit) Public() PublicPermit {
	return PublicPermit{
		PermitNumber:  p.PermitNumber,
		Authority:     p.Authority,
		VehicleNumber: p.VehicleNumber,
		Status:        p.Status,
		ValidFrom:     p.ValidFrom,
		ValidTo:       p.ValidTo,
	}
}

// CreateInput holds the fields a caller supplies for a new permit
type CreateInput struct {
	Authority     Authority
	PermitType    string
	VehicleNumber string
	VehicleType   string
	OwnerName     string
	OwnerPhone    string
	OwnerCNIC     string
	// ValidFrom defaults to today
	ValidFrom   time.Time
	ValidTo     time.Time
	Description string
	Remarks     string
}

// UpdateInput lists the fields to change; nil leaves a field untouched.
// Unassign clears the assignee and wins over AssignedTo.
type UpdateInput struct {
	PermitType  *string
	VehicleType *string
	OwnerName   *string
	OwnerPhone  *string
	OwnerCNIC   *string
	ValidFrom   *time.Time
	ValidTo     *time.Time
	Description *string
	Remarks     *string
	Status      *Status
	AssignedTo  *int64
	Unassign    bool
	Notes       string
}

func (in UpdateInput) touchesAssignee() bool {
	return in.AssignedTo != nil || in.Unassign
}

// Filter narrows a permit listing
type Filter struct {
	Status        Status
	VehicleNumber string
	AssignedTo    *int64
	Unassigned    bool
	CreatedBy     *int64
	Limit         int
	Offset        int
}

// Stats counts permits per status
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
}
