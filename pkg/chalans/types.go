package chalans

import (
	"time"

	"github.com/platinummonkey/permitdesk/pkg/history"
	"github.com/platinummonkey/permitdesk/pkg/rbac"
)

// Status is the lifecycle state of a chalan
type Status string

const (
	StatusPending   Status = "pending"
	StatusIssued    Status = "issued"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
	StatusDisputed  Status = "disputed"
	StatusResolved  Status = "resolved"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusIssued, StatusPaid, StatusCancelled, StatusDisputed, StatusResolved:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusCancelled || s == StatusResolved
}

// OpenStatuses count towards a handler's load
var OpenStatuses = []string{string(StatusPending), string(StatusIssued), string(StatusDisputed)}

// Chalan is a traffic violation penalty issued against a vehicle owner
type Chalan struct {
	ID                   int64      `json:"id"`
	ChalanNumber         string     `json:"chalan_number"`
	UserID               *int64     `json:"user_id,omitempty"`
	OwnerName            string     `json:"owner_name"`
	OwnerCNIC            string     `json:"owner_cnic"`
	OwnerPhone           string     `json:"owner_phone"`
	PermitID             *int64     `json:"permit_id,omitempty"`
	CarNumber            string     `json:"car_number"`
	VehicleType          string     `json:"vehicle_type"`
	ViolationDescription string     `json:"violation_description"`
	FeesAmount           Money      `json:"fees_amount"`
	PaidAmount           Money      `json:"paid_amount"`
	Status               Status     `json:"status"`
	PaymentDate          *time.Time `json:"payment_date,omitempty"`
	PaymentReference     string     `json:"payment_reference"`
	IssuedBy             *int64     `json:"issued_by,omitempty"`
	IssueLocation        string     `json:"issue_location"`
	Remarks              string     `json:"remarks"`
	CreatedBy            *int64     `json:"created_by,omitempty"`
	AssignedTo           *int64     `json:"assigned_to,omitempty"`
	AssignedAt           *time.Time `json:"assigned_at,omitempty"`
	AssignedBy           *int64     `json:"assigned_by,omitempty"`
	Version              int64      `json:"version"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Remaining is what is still owed
func (c *Chalan) Remaining() Money {
	return c.FeesAmount - c.PaidAmount
}

// Object returns the ownership facts the engine checks mutations against
func (c *Chalan) Object() *rbac.Object {
	return &rbac.Object{ID: c.ID, CreatedBy: c.CreatedBy, AssignedTo: c.AssignedTo}
}

// Ref identifies the chalan in the history ledger
func (c *Chalan) Ref() history.EntityRef {
	return history.EntityRef{Type: history.EntityChalan, ID: c.ID}
}

func (c *Chalan) clone() *Chalan {
	cp := *c
	return &cp
}

// CreateInput holds the fields a caller supplies for a new chalan
type CreateInput struct {
	UserID     *int64
	OwnerName  string
	OwnerCNIC  string
	OwnerPhone string
	// PermitID links the chalan to a permit; car number and vehicle type
	// default to the permit's
	PermitID             *int64
	CarNumber            string
	VehicleType          string
	ViolationDescription string
	// FeesAmount zero takes the base fee of the vehicle type when
	// AutoCalculateFee is set
	FeesAmount       Money
	AutoCalculateFee bool
	IssueLocation    string
	Remarks          string
}

// UpdateInput lists the fields to change; nil leaves a field untouched.
// Unassign clears the assignee and wins over AssignedTo.
type UpdateInput struct {
	OwnerName            *string
	OwnerCNIC            *string
	OwnerPhone           *string
	ViolationDescription *string
	IssueLocation        *string
	Remarks              *string
	Status               *Status
	AssignedTo           *int64
	Unassign             bool
	Notes                string
}

func (in UpdateInput) touchesAssignee() bool {
	return in.AssignedTo != nil || in.Unassign
}

// Payment settles a chalan
type Payment struct {
	Amount    Money
	Reference string
}

// Filter narrows a chalan listing
type Filter struct {
	Status     Status
	CarNumber  string
	OwnerCNIC  string
	PermitID   *int64
	AssignedTo *int64
	Unassigned bool
	// Participant keeps chalans the user created or is assigned
	Participant *int64
	Search      string
	Limit       int
	Offset      int
}

// Stats summarizes chalans and their collection
type Stats struct {
	Total             int            `json:"total"`
	ByStatus          map[Status]int `json:"by_status"`
	TotalFees         Money          `json:"total_fees_amount"`
	TotalPaid         Money          `json:"total_paid_amount"`
	PendingCollection Money          `json:"pending_collection"`
}

// FeeStructure is the base fee charged for a vehicle type
type FeeStructure struct {
	VehicleType string    `json:"vehicle_type"`
	BaseFee     Money     `json:"base_fee"`
	Description string    `json:"description"`
	UpdatedBy   *int64    `json:"updated_by,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}
