package chalans

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/platinummonkey/permitdesk/pkg/assignment"
	"github.com/platinummonkey/permitdesk/pkg/history"
	"github.com/platinummonkey/permitdesk/pkg/notify"
	"github.com/platinummonkey/permitdesk/pkg/observability"
	"github.com/platinummonkey/permitdesk/pkg/permits"
	"github.com/platinummonkey/permitdesk/pkg/rbac"
)

// Workload is where the balancer counts open chalans
var Workload = assignment.Workload{
	Entity:       string(history.EntityChalan),
	Table:        "chalans",
	OpenStatuses: OpenStatuses,
}

// Service runs every chalan operation. Like permits, each mutation is
// authorized against the loaded chalan and commits with its history record.
type Service struct {
	db          *sql.DB
	store       *Store
	permits     *permits.Store
	ledger      *history.Ledger
	engine      *rbac.Engine
	assignments *assignment.Service
	balancer    *assignment.Balancer
	notifier    notify.Notifier
	autoAssign  rbac.RoleName
	logger      *observability.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithNotifier sets the hook told about committed assignments and status changes
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithAutoAssignRole balances new chalans over role. Chalans stay
// unassigned on creation by default.
func WithAutoAssignRole(role rbac.RoleName) Option {
	return func(s *Service) {
		s.autoAssign = role
	}
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records manual assignments
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a chalan service
func NewService(db *sql.DB, ledger *history.Ledger, engine *rbac.Engine, assignments *assignment.Service, balancer *assignment.Balancer, opts ...Option) *Service {
	s := &Service{
		db:          db,
		store:       NewStore(db),
		permits:     permits.NewStore(db),
		ledger:      ledger,
		engine:      engine,
		assignments: assignments,
		balancer:    balancer,
		notifier:    notify.Nop{},
		logger:      observability.NopLogger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying store
func (s *Service) Store() *Store {
	return s.store
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func (s *Service) require(ctx context.Context, actor *rbac.User, action rbac.Action, c *Chalan) error {
	req := rbac.Request{Resource: rbac.ResourceChalan, Action: action}
	if c != nil {
		req.Object = c.Object()
	}
	return s.engine.Require(ctx, actor, req)
}

// restricted reports whether actor only sees chalans it created or handles
func (s *Service) restricted(ctx context.Context, actor *rbac.User) (bool, error) {
	if actor.IsSuperuser {
		return false, nil
	}
	role, err := s.engine.RoleOf(ctx, actor)
	if err != nil {
		return false, err
	}
	if role == nil {
		return true, nil
	}
	policy := s.engine.Policies()[rbac.ResourceChalan]
	return policy.Ownership != nil && slices.Contains(policy.Ownership.RestrictedRoles, role.Name), nil
}

func participates(c *Chalan, userID int64) bool {
	return (c.CreatedBy != nil && *c.CreatedBy == userID) || (c.AssignedTo != nil && *c.AssignedTo == userID)
}

func (s *Service) load(ctx context.Context, actor *rbac.User, id int64) (*Chalan, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	restricted, err := s.restricted(ctx, actor)
	if err != nil {
		return nil, err
	}
	if restricted && !participates(c, actor.ID) {
		return nil, rbac.NewNotFound("chalan", id)
	}
	return c, nil
}

func (s *Service) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GenerateChalanNumber builds CHL-<timestamp>-<5 digits>
func GenerateChalanNumber(now time.Time) string {
	return fmt.Sprintf("CHL-%s-%d", now.UTC().Format("20060102150405"), 10000+rand.IntN(90000))
}

func (s *Service) prepare(ctx context.Context, in *CreateInput) error {
	in.OwnerName = strings.TrimSpace(in.OwnerName)
	in.OwnerCNIC = strings.TrimSpace(in.OwnerCNIC)
	in.ViolationDescription = strings.TrimSpace(in.ViolationDescription)

	if in.OwnerName == "" {
		return rbac.Invalid("owner_name", "is required")
	}
	if in.ViolationDescription == "" {
		return rbac.Invalid("violation_description", "is required")
	}
	if in.PermitID != nil {
		p, err := s.permits.Get(ctx, *in.PermitID)
		if rbac.IsNotFound(err) {
			return rbac.Invalid("permit_id", "permit %d does not exist", *in.PermitID)
		}
		if err != nil {
			return err
		}
		if in.CarNumber == "" {
			in.CarNumber = p.VehicleNumber
		}
		if in.VehicleType == "" {
			in.VehicleType = p.VehicleType
		}
	}
	in.CarNumber = permits.NormalizeVehicleNumber(in.CarNumber)
	if in.CarNumber == "" {
		return rbac.Invalid("car_number", "is required")
	}

	if in.FeesAmount == 0 && in.AutoCalculateFee && in.VehicleType != "" {
		fee, err := s.store.GetFee(ctx, in.VehicleType)
		if rbac.IsNotFound(err) {
			return rbac.Invalid("fees_amount", "no fee structure for vehicle type %q, provide fees_amount", in.VehicleType)
		}
		if err != nil {
			return err
		}
		in.FeesAmount = fee.BaseFee
	}
	if in.FeesAmount <= 0 {
		return rbac.Invalid("fees_amount", "must be positive")
	}
	return nil
}

// Create issues a new pending chalan. With an auto-assign role configured
// it goes to the least loaded handler of that role in the same transaction.
func (s *Service) Create(ctx context.Context, actor *rbac.User, in CreateInput) (*Chalan, error) {
	if err := s.require(ctx, actor, rbac.ActionCreate, nil); err != nil {
		return nil, err
	}
	if err := s.prepare(ctx, &in); err != nil {
		return nil, err
	}

	now := s.clock()
	creator := actor.ID
	c := &Chalan{
		ChalanNumber:         GenerateChalanNumber(now),
		UserID:               in.UserID,
		OwnerName:            in.OwnerName,
		OwnerCNIC:            in.OwnerCNIC,
		OwnerPhone:           in.OwnerPhone,
		PermitID:             in.PermitID,
		CarNumber:            in.CarNumber,
		VehicleType:          in.VehicleType,
		ViolationDescription: in.ViolationDescription,
		FeesAmount:           in.FeesAmount,
		Status:               StatusPending,
		IssuedBy:             &creator,
		IssueLocation:        in.IssueLocation,
		Remarks:              in.Remarks,
		CreatedBy:            &creator,
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	write := func(ctx context.Context, tx *sql.Tx, assignee *rbac.User) error {
		c.AssignedTo, c.AssignedAt = nil, nil
		if assignee != nil {
			id := assignee.ID
			c.AssignedTo, c.AssignedAt = &id, &now
		}
		if err := insert(ctx, tx, c); err != nil {
			return err
		}
		changes := history.Changes{}
		history.Track[interface{}](changes, "chalan_number", nil, c.ChalanNumber)
		history.Track[interface{}](changes, "status", nil, string(c.Status))
		history.Track[interface{}](changes, "fees_amount", nil, c.FeesAmount.String())
		if c.AssignedTo != nil {
			history.Track[interface{}](changes, "assigned_to", nil, *c.AssignedTo)
		}
		return s.appendRecord(ctx, tx, c, history.ActionCreated, &creator, changes, "chalan created")
	}

	var (
		assignee *rbac.User
		err      error
	)
	if s.autoAssign == "" || s.balancer == nil {
		err = s.inTx(ctx, func(tx *sql.Tx) error { return write(ctx, tx, nil) })
	} else {
		assignee, err = s.balancer.Assign(ctx, Workload, s.autoAssign, write)
	}
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"chalan_id":     c.ID,
		"chalan_number": c.ChalanNumber,
		"fees_amount":   c.FeesAmount.String(),
	}).Info("chalan created")

	if assignee != nil {
		s.notifier.Notify(ctx, notify.AssignedEvent(notify.EventChalanAssigned, Workload.Entity,
			c.ID, c.ChalanNumber, 0, assignee.ID, &creator))
	}
	return c, nil
}

func (s *Service) appendRecord(ctx context.Context, tx *sql.Tx, c *Chalan, action history.Action, actor *int64, changes history.Changes, notes string) error {
	return s.ledger.Append(ctx, tx, &history.Record{
		Entity:      c.Ref(),
		Action:      action,
		PerformedBy: actor,
		Changes:     changes,
		Notes:       notes,
	})
}

// Get returns one chalan
func (s *Service) Get(ctx context.Context, actor *rbac.User, id int64) (*Chalan, error) {
	if err := s.require(ctx, actor, rbac.ActionView, nil); err != nil {
		return nil, err
	}
	return s.load(ctx, actor, id)
}

// List returns chalans matching filter. Restricted roles only see chalans
// they created or are assigned.
func (s *Service) List(ctx context.Context, actor *rbac.User, filter Filter) ([]Chalan, error) {
	if err := s.require(ctx, actor, rbac.ActionList, nil); err != nil {
		return nil, err
	}
	restricted, err := s.restricted(ctx, actor)
	if err != nil {
		return nil, err
	}
	if restricted {
		id := actor.ID
		filter.Participant = &id
	}
	return s.store.List(ctx, filter)
}

// Stats summarizes the chalans the actor can see
func (s *Service) Stats(ctx context.Context, actor *rbac.User) (*Stats, error) {
	if err := s.require(ctx, actor, rbac.ActionList, nil); err != nil {
		return nil, err
	}
	restricted, err := s.restricted(ctx, actor)
	if err != nil {
		return nil, err
	}
	var participant *int64
	if restricted {
		id := actor.ID
		participant = &id
	}
	return s.store.Stats(ctx, participant)
}

// History returns the ledger of one chalan, oldest first
func (s *Service) History(ctx context.Context, actor *rbac.User, id int64) ([]history.Record, error) {
	c, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.ledger.ForEntity(ctx, c.Ref())
}

// AssignableUsers lists the users actor may hand a chalan to
func (s *Service) AssignableUsers(ctx context.Context, actor *rbac.User) ([]rbac.User, error) {
	if err := s.require(ctx, actor, rbac.ActionAssign, nil); err != nil {
		return nil, err
	}
	return s.assignments.AssignableUsers(ctx, actor)
}

// Update applies in to a chalan. A status given here may only move between
// pending and issued; payment, dispute and cancellation have their own
// operations.
func (s *Service) Update(ctx context.Context, actor *rbac.User, id int64, in UpdateInput) (*Chalan, error) {
	return s.apply(ctx, actor, id, in, history.ActionUpdated)
}

// Assign moves a chalan to another handler, or clears it when to is nil
func (s *Service) Assign(ctx context.Context, actor *rbac.User, id int64, to *int64, notes string) (*Chalan, error) {
	return s.apply(ctx, actor, id, UpdateInput{AssignedTo: to, Unassign: to == nil, Notes: notes}, history.ActionAssigned)
}

func (s *Service) apply(ctx context.Context, actor *rbac.User, id int64, in UpdateInput, action history.Action) (*Chalan, error) {
	classAction := rbac.ActionEdit
	if action == history.ActionAssigned {
		classAction = rbac.ActionAssign
	}
	if err := s.require(ctx, actor, classAction, nil); err != nil {
		return nil, err
	}
	current, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.require(ctx, actor, classAction, current); err != nil {
		return nil, err
	}

	next := current.clone()
	changes := history.Changes{}
	if err := applyFields(next, in, changes); err != nil {
		return nil, err
	}
	if next.Status != current.Status {
		if current.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: chalan %s is %s", rbac.ErrConflictingState, current.ChalanNumber, current.Status)
		}
		if current.Status == StatusDisputed || (next.Status != StatusPending && next.Status != StatusIssued) {
			return nil, rbac.Invalid("status", "cannot move chalan from %s to %s by update", current.Status, next.Status)
		}
	}

	reassigned := false
	if in.touchesAssignee() {
		target := in.AssignedTo
		if in.Unassign {
			target = nil
		}
		if !assignment.SameAssignee(current.AssignedTo, target) {
			if err := s.require(ctx, actor, rbac.ActionAssign, current); err != nil {
				return nil, err
			}
		}
		reassigned, err = s.assignments.CheckReassignment(ctx, actor, current.AssignedTo, target)
		if err != nil {
			return nil, err
		}
		if reassigned {
			now, by := s.clock(), actor.ID
			next.AssignedTo = target
			next.AssignedAt = &now
			next.AssignedBy = &by
			history.TrackPtr(changes, "assigned_to", current.AssignedTo, target)
		}
	}

	next.UpdatedAt = s.clock()
	performer := actor.ID
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := update(ctx, tx, next, current.Version); err != nil {
			return err
		}
		return s.appendRecord(ctx, tx, next, action, &performer, changes, in.Notes)
	})
	if err != nil {
		return nil, err
	}

	if reassigned {
		if s.metrics != nil {
			s.metrics.AssignmentsTotal.WithLabelValues(Workload.Entity, "manual", "assigned").Inc()
		}
		if next.AssignedTo != nil {
			var from int64
			if current.AssignedTo != nil {
				from = *current.AssignedTo
			}
			s.notifier.Notify(ctx, notify.AssignedEvent(notify.EventChalanAssigned, Workload.Entity,
				next.ID, next.ChalanNumber, from, *next.AssignedTo, &performer))
		}
	}
	if next.Status != current.Status {
		s.notifyStatus(ctx, next, current.Status, &performer)
	}
	return next, nil
}

func applyFields(c *Chalan, in UpdateInput, changes history.Changes) error {
	set := func(field string, dst *string, v *string) {
		if v == nil {
			return
		}
		history.Track(changes, field, *dst, *v)
		*dst = *v
	}
	if in.OwnerName != nil && strings.TrimSpace(*in.OwnerName) == "" {
		return rbac.Invalid("owner_name", "must not be empty")
	}
	if in.ViolationDescription != nil && strings.TrimSpace(*in.ViolationDescription) == "" {
		return rbac.Invalid("violation_description", "must not be empty")
	}
	set("owner_name", &c.OwnerName, in.OwnerName)
	set("owner_cnic", &c.OwnerCNIC, in.OwnerCNIC)
	set("owner_phone", &c.OwnerPhone, in.OwnerPhone)
	set("violation_description", &c.ViolationDescription, in.ViolationDescription)
	set("issue_location", &c.IssueLocation, in.IssueLocation)
	set("remarks", &c.Remarks, in.Remarks)

	if in.Status != nil {
		if !in.Status.Valid() {
			return rbac.Invalid("status", "unknown status %q", *in.Status)
		}
		history.Track(changes, "status", string(c.Status), string(*in.Status))
		c.Status = *in.Status
	}
	return nil
}

// MarkPaid settles a chalan. The payment must cover the fees; the paid
// amount recorded is the fee.
func (s *Service) MarkPaid(ctx context.Context, actor *rbac.User, id int64, payment Payment) (*Chalan, error) {
	reference := strings.TrimSpace(payment.Reference)
	notes := ""
	if reference != "" {
		notes = "Payment Reference: " + reference
	}
	return s.change(ctx, actor, id, change{
		check:  rbac.ActionMarkPaid,
		from:   []Status{StatusPending, StatusIssued, StatusDisputed},
		record: history.ActionPaid,
		notes:  notes,
		mutate: func(c *Chalan, changes history.Changes) error {
			if payment.Amount < c.FeesAmount {
				return rbac.Invalid("payment_amount", "must be at least %s", c.FeesAmount)
			}
			now := s.clock()
			history.Track(changes, "status", string(c.Status), string(StatusPaid))
			history.Track(changes, "paid_amount", c.PaidAmount.String(), c.FeesAmount.String())
			history.Track(changes, "payment_reference", c.PaymentReference, reference)
			c.Status = StatusPaid
			c.PaidAmount = c.FeesAmount
			c.PaymentDate = &now
			c.PaymentReference = reference
			return nil
		},
	})
}

// UpdateFees changes the fee of an open chalan
func (s *Service) UpdateFees(ctx context.Context, actor *rbac.User, id int64, amount Money, notes string) (*Chalan, error) {
	if amount <= 0 {
		return nil, rbac.Invalid("fees_amount", "must be positive")
	}
	return s.change(ctx, actor, id, change{
		check:  rbac.ActionManageFees,
		from:   []Status{StatusPending, StatusIssued, StatusDisputed},
		record: history.ActionFeeUpdated,
		notes:  notes,
		mutate: func(c *Chalan, changes history.Changes) error {
			history.Track(changes, "fees_amount", c.FeesAmount.String(), amount.String())
			c.FeesAmount = amount
			return nil
		},
	})
}

// Cancel voids an open chalan. The reason is required.
func (s *Service) Cancel(ctx context.Context, actor *rbac.User, id int64, reason string) (*Chalan, error) {
	return s.change(ctx, actor, id, statusChange(rbac.ActionCancel, history.ActionCancelled, StatusCancelled,
		reason, "reason", StatusPending, StatusIssued, StatusDisputed))
}

// Dispute records that the owner contests a pending or issued chalan
func (s *Service) Dispute(ctx context.Context, actor *rbac.User, id int64, reason string) (*Chalan, error) {
	return s.change(ctx, actor, id, statusChange(rbac.ActionDispute, history.ActionDisputed, StatusDisputed,
		reason, "reason", StatusPending, StatusIssued))
}

// Resolve closes a disputed chalan in the owner's favour
func (s *Service) Resolve(ctx context.Context, actor *rbac.User, id int64, notes string) (*Chalan, error) {
	return s.change(ctx, actor, id, statusChange(rbac.ActionResolve, history.ActionResolved, StatusResolved,
		notes, "", StatusDisputed))
}

// Issue hands a pending chalan to its owner
func (s *Service) Issue(ctx context.Context, actor *rbac.User, id int64, notes string) (*Chalan, error) {
	return s.change(ctx, actor, id, statusChange(rbac.ActionEdit, history.ActionUpdated, StatusIssued,
		notes, "", StatusPending))
}

type change struct {
	check  rbac.Action
	from   []Status
	record history.Action
	notes  string
	// needsNotes names the input field that must carry the notes
	needsNotes string
	mutate     func(c *Chalan, changes history.Changes) error
}

func statusChange(check rbac.Action, record history.Action, to Status, notes, needsNotes string, from ...Status) change {
	return change{
		check:      check,
		from:       from,
		record:     record,
		notes:      notes,
		needsNotes: needsNotes,
		mutate: func(c *Chalan, changes history.Changes) error {
			history.Track(changes, "status", string(c.Status), string(to))
			c.Status = to
			return nil
		},
	}
}

func (s *Service) change(ctx context.Context, actor *rbac.User, id int64, ch change) (*Chalan, error) {
	if err := s.require(ctx, actor, ch.check, nil); err != nil {
		return nil, err
	}
	if ch.needsNotes != "" && strings.TrimSpace(ch.notes) == "" {
		return nil, rbac.Invalid(ch.needsNotes, "is required")
	}
	current, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.require(ctx, actor, ch.check, current); err != nil {
		return nil, err
	}
	if !slices.Contains(ch.from, current.Status) {
		return nil, fmt.Errorf("%w: chalan %s is %s", rbac.ErrConflictingState, current.ChalanNumber, current.Status)
	}

	next := current.clone()
	changes := history.Changes{}
	if err := ch.mutate(next, changes); err != nil {
		return nil, err
	}
	next.UpdatedAt = s.clock()

	performer := actor.ID
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := update(ctx, tx, next, current.Version); err != nil {
			return err
		}
		return s.appendRecord(ctx, tx, next, ch.record, &performer, changes, ch.notes)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"chalan_id": next.ID,
		"action":    ch.record,
		"status":    next.Status,
	}).Info("chalan changed")

	if next.Status != current.Status {
		s.notifyStatus(ctx, next, current.Status, &performer)
	}
	return next, nil
}

// Delete removes a chalan and its history. No role carries a delete
// feature for chalans, so only superusers get through.
func (s *Service) Delete(ctx context.Context, actor *rbac.User, id int64) error {
	if err := s.require(ctx, actor, rbac.ActionDelete, nil); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.WithFields(map[string]interface{}{
		"chalan_id":  id,
		"deleted_by": actor.ID,
	}).Info("chalan deleted")
	return nil
}

// Fees lists the vehicle fee structure
func (s *Service) Fees(ctx context.Context, actor *rbac.User) ([]FeeStructure, error) {
	if err := s.engine.Require(ctx, actor, rbac.Request{Resource: rbac.ResourceVehicleFee, Action: rbac.ActionList}); err != nil {
		return nil, err
	}
	return s.store.ListFees(ctx)
}

// SetFee creates or replaces the base fee of a vehicle type
func (s *Service) SetFee(ctx context.Context, actor *rbac.User, vehicleType string, baseFee Money, description string) (*FeeStructure, error) {
	if err := s.engine.Require(ctx, actor, rbac.Request{Resource: rbac.ResourceVehicleFee, Action: rbac.ActionEdit}); err != nil {
		return nil, err
	}
	vehicleType = strings.TrimSpace(vehicleType)
	if vehicleType == "" {
		return nil, rbac.Invalid("vehicle_type", "is required")
	}
	if baseFee <= 0 {
		return nil, rbac.Invalid("base_fee", "must be positive")
	}
	by := actor.ID
	fee := &FeeStructure{
		VehicleType: vehicleType,
		BaseFee:     baseFee,
		Description: description,
		UpdatedBy:   &by,
		UpdatedAt:   s.clock(),
	}
	if err := s.store.PutFee(ctx, fee); err != nil {
		return nil, err
	}
	s.logger.WithFields(map[string]interface{}{
		"vehicle_type": vehicleType,
		"base_fee":     baseFee.String(),
	}).Info("vehicle fee updated")
	return fee, nil
}

// DeleteFee removes the base fee of a vehicle type
func (s *Service) DeleteFee(ctx context.Context, actor *rbac.User, vehicleType string) error {
	if err := s.engine.Require(ctx, actor, rbac.Request{Resource: rbac.ResourceVehicleFee, Action: rbac.ActionDelete}); err != nil {
		return err
	}
	return s.store.DeleteFee(ctx, vehicleType)
}

func (s *Service) notifyStatus(ctx context.Context, c *Chalan, before Status, actor *int64) {
	var recipients []int64
	if c.AssignedTo != nil {
		recipients = append(recipients, *c.AssignedTo)
	}
	if c.CreatedBy != nil {
		recipients = append(recipients, *c.CreatedBy)
	}
	s.notifier.Notify(ctx, notify.StatusChangedEvent(notify.EventChalanStatusChanged, Workload.Entity,
		c.ID, c.ChalanNumber, string(before), string(c.Status), actor, recipients...))
}
