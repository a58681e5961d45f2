package permits

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/permitdesk/pkg/assignment"
	"github.com/platinummonkey/permitdesk/pkg/history"
	"github.com/platinummonkey/permitdesk/pkg/notify"
	"github.com/platinummonkey/permitdesk/pkg/observability"
	"github.com/platinummonkey/permitdesk/pkg/rbac"
)

// Workload is where the balancer counts open permits
var Workload = assignment.Workload{
	Entity:       string(history.EntityPermit),
	Table:        "permits",
	OpenStatuses: OpenStatuses,
}

// DefaultAutoAssignRole receives new permits
const DefaultAutoAssignRole = rbac.RoleJuniorClerk

// Service runs every permit operation: authorize, validate, write the
// change and its history record in one transaction, then notify.
type Service struct {
	db          *sql.DB
	store       *Store
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

// WithAutoAssignRole sets the role new permits are balanced over. An empty
// role leaves new permits unassigned.
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

// NewService creates a permit service
func NewService(db *sql.DB, ledger *history.Ledger, engine *rbac.Engine, assignments *assignment.Service, balancer *assignment.Balancer, opts ...Option) *Service {
	s := &Service{
		db:          db,
		store:       NewStore(db),
		ledger:      ledger,
		engine:      engine,
		assignments: assignments,
		balancer:    balancer,
		notifier:    notify.Nop{},
		autoAssign:  DefaultAutoAssignRole,
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

func (s *Service) today() time.Time {
	return day(s.clock())
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *Service) require(ctx context.Context, actor *rbac.User, action rbac.Action, p *Permit) error {
	req := rbac.Request{Resource: rbac.ResourcePermit, Action: action}
	if p != nil {
		req.Object = p.Object()
	}
	return s.engine.Require(ctx, actor, req)
}

// restricted reports whether actor only sees permits it created
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
	policy := s.engine.Policies()[rbac.ResourcePermit]
	return policy.Ownership != nil && slices.Contains(policy.Ownership.RestrictedRoles, role.Name), nil
}

// load fetches a permit the actor may see. Restricted actors get NotFound
// for permits of others.
func (s *Service) load(ctx context.Context, actor *rbac.User, id int64) (*Permit, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	restricted, err := s.restricted(ctx, actor)
	if err != nil {
		return nil, err
	}
	if restricted && (p.CreatedBy == nil || *p.CreatedBy != actor.ID) {
		return nil, rbac.NewNotFound("permit", id)
	}
	return p, nil
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

// GeneratePermitNumber builds AUTHORITY-TYPE-XXXXXXXX with a random suffix
func GeneratePermitNumber(authority Authority, permitType string) string {
	code := strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, strings.ToUpper(permitType))
	if code == "" {
		code = "GEN"
	}
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("%s-%s-%s", authority, code, suffix)
}

func validateCreate(in *CreateInput, today time.Time) error {
	in.VehicleNumber = NormalizeVehicleNumber(in.VehicleNumber)
	in.OwnerName = strings.TrimSpace(in.OwnerName)

	if in.Authority != AuthorityPTA && in.Authority != AuthorityRTA {
		return rbac.Invalid("authority", "must be %s or %s", AuthorityPTA, AuthorityRTA)
	}
	if in.VehicleNumber == "" {
		return rbac.Invalid("vehicle_number", "is required")
	}
	if in.OwnerName == "" {
		return rbac.Invalid("owner_name", "is required")
	}
	if in.ValidFrom.IsZero() {
		in.ValidFrom = today
	}
	in.ValidFrom = day(in.ValidFrom)
	if in.ValidTo.IsZero() {
		return rbac.Invalid("valid_to", "is required")
	}
	in.ValidTo = day(in.ValidTo)
	if !in.ValidTo.After(in.ValidFrom) {
		return rbac.Invalid("valid_to", "must be after valid_from")
	}
	return nil
}

// Create files a new pending permit for a vehicle without an open permit
// and hands it to the least loaded handler of the auto-assign role. The
// permit, its assignment and its created record commit together.
func (s *Service) Create(ctx context.Context, actor *rbac.User, in CreateInput) (*Permit, error) {
	if err := s.require(ctx, actor, rbac.ActionCreate, nil); err != nil {
		return nil, err
	}
	if err := validateCreate(&in, s.today()); err != nil {
		return nil, err
	}

	now := s.clock()
	creator := actor.ID
	p := &Permit{
		PermitNumber:  GeneratePermitNumber(in.Authority, in.PermitType),
		Authority:     in.Authority,
		PermitType:    in.PermitType,
		VehicleNumber: in.VehicleNumber,
		VehicleType:   in.VehicleType,
		OwnerName:     in.OwnerName,
		OwnerPhone:    in.OwnerPhone,
		OwnerCNIC:     in.OwnerCNIC,
		Status:        StatusPending,
		ValidFrom:     in.ValidFrom,
		ValidTo:       in.ValidTo,
		Description:   in.Description,
		Remarks:       in.Remarks,
		CreatedBy:     &creator,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	assignee, err := s.file(ctx, p, func(ctx context.Context, tx *sql.Tx) error {
		return s.appendRecord(ctx, tx, p, history.ActionCreated, &creator, createdChanges(p), "permit created")
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"permit_id":     p.ID,
		"permit_number": p.PermitNumber,
		"assigned_to":   p.AssignedTo,
	}).Info("permit created")

	if assignee != nil {
		s.notifier.Notify(ctx, notify.AssignedEvent(notify.EventPermitAssigned, string(history.EntityPermit),
			p.ID, p.PermitNumber, 0, assignee.ID, &creator))
	}
	return p, nil
}

// file inserts p, auto-assigned when a role is configured, and runs after
// in the same transaction
func (s *Service) file(ctx context.Context, p *Permit, after func(ctx context.Context, tx *sql.Tx) error) (*rbac.User, error) {
	write := func(ctx context.Context, tx *sql.Tx, assignee *rbac.User) error {
		if number, err := openForVehicle(ctx, tx, p.VehicleNumber); err != nil {
			return err
		} else if number != "" {
			return fmt.Errorf("%w: vehicle %s already has open permit %s", rbac.ErrConflictingState, p.VehicleNumber, number)
		}
		p.AssignedTo, p.AssignedAt = nil, nil
		if assignee != nil {
			id, at := assignee.ID, p.CreatedAt
			p.AssignedTo, p.AssignedAt = &id, &at
		}
		if err := insert(ctx, tx, p); err != nil {
			return err
		}
		return after(ctx, tx)
	}

	if s.autoAssign == "" || s.balancer == nil {
		err := s.inTx(ctx, func(tx *sql.Tx) error { return write(ctx, tx, nil) })
		return nil, err
	}
	return s.balancer.Assign(ctx, Workload, s.autoAssign, write)
}

func createdChanges(p *Permit) history.Changes {
	c := history.Changes{}
	history.Track[interface{}](c, "permit_number", nil, p.PermitNumber)
	history.Track[interface{}](c, "status", nil, string(p.Status))
	history.Track[interface{}](c, "vehicle_number", nil, p.VehicleNumber)
	history.Track[interface{}](c, "valid_to", nil, p.ValidTo.Format(DateLayout))
	if p.AssignedTo != nil {
		history.Track[interface{}](c, "assigned_to", nil, *p.AssignedTo)
	}
	return c
}

func (s *Service) appendRecord(ctx context.Context, tx *sql.Tx, p *Permit, action history.Action, actor *int64, changes history.Changes, notes string) error {
	return s.ledger.Append(ctx, tx, &history.Record{
		Entity:      p.Ref(),
		Action:      action,
		PerformedBy: actor,
		Changes:     changes,
		Notes:       notes,
	})
}

// Get returns one permit
func (s *Service) Get(ctx context.Context, actor *rbac.User, id int64) (*Permit, error) {
	if err := s.require(ctx, actor, rbac.ActionView, nil); err != nil {
		return nil, err
	}
	return s.load(ctx, actor, id)
}

// List returns permits matching filter. Restricted roles only ever see
// permits they created.
func (s *Service) List(ctx context.Context, actor *rbac.User, filter Filter) ([]Permit, error) {
	if err := s.require(ctx, actor, rbac.ActionList, nil); err != nil {
		return nil, err
	}
	restricted, err := s.restricted(ctx, actor)
	if err != nil {
		return nil, err
	}
	if restricted {
		id := actor.ID
		filter.CreatedBy = &id
	}
	return s.store.List(ctx, filter)
}

// Stats counts the permits the actor can see per status
func (s *Service) Stats(ctx context.Context, actor *rbac.User) (*Stats, error) {
	if err := s.engine.Require(ctx, actor, rbac.Request{Resource: rbac.ResourceDashboard, Action: rbac.ActionView}); err != nil {
		return nil, err
	}
	restricted, err := s.restricted(ctx, actor)
	if err != nil {
		return nil, err
	}
	var createdBy *int64
	if restricted {
		id := actor.ID
		createdBy = &id
	}
	return s.store.CountByStatus(ctx, createdBy)
}

// History returns the ledger of one permit, oldest first
func (s *Service) History(ctx context.Context, actor *rbac.User, id int64) ([]history.Record, error) {
	p, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.ledger.ForEntity(ctx, p.Ref())
}

// Lookup is the public search by vehicle number. It needs no caller
// identity as long as the lookup resource is open for reads.
func (s *Service) Lookup(ctx context.Context, vehicleNumber string) ([]PublicPermit, error) {
	if !s.engine.Policies().OpenRead(rbac.ResourcePermitLookup, rbac.ActionView) {
		return nil, rbac.ErrNotAuthenticated
	}
	if NormalizeVehicleNumber(vehicleNumber) == "" {
		return nil, rbac.Invalid("vehicle_number", "is required")
	}
	permits, err := s.store.ByVehicle(ctx, vehicleNumber)
	if err != nil {
		return nil, err
	}
	out := make([]PublicPermit, len(permits))
	for i := range permits {
		out[i] = permits[i].Public()
	}
	return out, nil
}

// AssignableUsers lists the users actor may hand a permit to
func (s *Service) AssignableUsers(ctx context.Context, actor *rbac.User) ([]rbac.User, error) {
	if err := s.require(ctx, actor, rbac.ActionAssign, nil); err != nil {
		return nil, err
	}
	return s.assignments.AssignableUsers(ctx, actor)
}

// Update applies in to a permit. Each part of the change is authorized on
// its own: edit for the fields, change_status for a status transition and
// assign plus the hierarchy for a new assignee. Reassigning to the current
// assignee changes nothing. An update that changes nothing still records
// an updated entry with empty changes.
func (s *Service) Update(ctx context.Context, actor *rbac.User, id int64, in UpdateInput) (*Permit, error) {
	return s.apply(ctx, actor, id, in, history.ActionUpdated)
}

// Assign moves a permit to another handler, or clears it when to is nil
func (s *Service) Assign(ctx context.Context, actor *rbac.User, id int64, to *int64, notes string) (*Permit, error) {
	return s.apply(ctx, actor, id, UpdateInput{AssignedTo: to, Unassign: to == nil, Notes: notes}, history.ActionAssigned)
}

func (s *Service) apply(ctx context.Context, actor *rbac.User, id int64, in UpdateInput, action history.Action) (*Permit, error) {
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
		if err := s.require(ctx, actor, rbac.ActionChangeStatus, current); err != nil {
			return nil, err
		}
		if err := checkTransition(current, next.Status); err != nil {
			return nil, err
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
			s.notifier.Notify(ctx, notify.AssignedEvent(notify.EventPermitAssigned, Workload.Entity,
				next.ID, next.PermitNumber, from, *next.AssignedTo, &performer))
		}
	}
	if next.Status != current.Status {
		s.notifyStatus(ctx, next, current.Status, &performer)
	}
	return next, nil
}

func applyFields(p *Permit, in UpdateInput, c history.Changes) error {
	setString := func(field string, dst *string, v *string) {
		if v == nil {
			return
		}
		history.Track(c, field, *dst, *v)
		*dst = *v
	}
	if in.OwnerName != nil && strings.TrimSpace(*in.OwnerName) == "" {
		return rbac.Invalid("owner_name", "must not be empty")
	}
	setString("permit_type", &p.PermitType, in.PermitType)
	setString("vehicle_type", &p.VehicleType, in.VehicleType)
	setString("owner_name", &p.OwnerName, in.OwnerName)
	setString("owner_phone", &p.OwnerPhone, in.OwnerPhone)
	setString("owner_cnic", &p.OwnerCNIC, in.OwnerCNIC)
	setString("description", &p.Description, in.Description)
	setString("remarks", &p.Remarks, in.Remarks)

	validFrom, validTo := p.ValidFrom, p.ValidTo
	if in.ValidFrom != nil {
		validFrom = day(*in.ValidFrom)
	}
	if in.ValidTo != nil {
		validTo = day(*in.ValidTo)
	}
	if !validTo.After(validFrom) {
		return rbac.Invalid("valid_to", "must be after valid_from")
	}
	history.Track(c, "valid_from", p.ValidFrom.Format(DateLayout), validFrom.Format(DateLayout))
	history.Track(c, "valid_to", p.ValidTo.Format(DateLayout), validTo.Format(DateLayout))
	p.ValidFrom, p.ValidTo = validFrom, validTo

	if in.Status != nil {
		if !in.Status.Valid() {
			return rbac.Invalid("status", "unknown status %q", *in.Status)
		}
		history.Track(c, "status", string(p.Status), string(*in.Status))
		p.Status = *in.Status
	}
	return nil
}

// checkTransition rejects leaving a terminal status and entering expired by
// hand; expiry is the scheduler's job
func checkTransition(p *Permit, to Status) error {
	if p.Status.IsTerminal() {
		return fmt.Errorf("%w: permit %s is %s", rbac.ErrConflictingState, p.PermitNumber, p.Status)
	}
	if to == StatusExpired {
		return rbac.Invalid("status", "permits expire on their own")
	}
	return nil
}

// Activate moves a draft, pending or inactive permit to active
func (s *Service) Activate(ctx context.Context, actor *rbac.User, id int64, notes string) (*Permit, error) {
	return s.transition(ctx, actor, id, transition{
		check:  rbac.ActionChangeStatus,
		from:   []Status{StatusDraft, StatusPending, StatusInactive},
		to:     StatusActive,
		record: history.ActionActivated,
		notes:  notes,
	})
}

// Deactivate suspends a pending or active permit
func (s *Service) Deactivate(ctx context.Context, actor *rbac.User, id int64, notes string) (*Permit, error) {
	return s.transition(ctx, actor, id, transition{
		check:  rbac.ActionChangeStatus,
		from:   []Status{StatusPending, StatusActive},
		to:     StatusInactive,
		record: history.ActionDeactivated,
		notes:  notes,
	})
}

// Cancel ends a permit for good. The reason is required and lands in the
// history notes.
func (s *Service) Cancel(ctx context.Context, actor *rbac.User, id int64, reason string) (*Permit, error) {
	return s.transition(ctx, actor, id, transition{
		check:      rbac.ActionCancel,
		from:       []Status{StatusDraft, StatusPending, StatusActive, StatusInactive},
		to:         StatusCancelled,
		record:     history.ActionCancelled,
		notes:      reason,
		needsNotes: "reason",
	})
}

type transition struct {
	check  rbac.Action
	from   []Status
	to     Status
	record history.Action
	notes  string
	// needsNotes names the input field that must carry the notes
	needsNotes string
}

func (s *Service) transition(ctx context.Context, actor *rbac.User, id int64, t transition) (*Permit, error) {
	if err := s.require(ctx, actor, t.check, nil); err != nil {
		return nil, err
	}
	if t.needsNotes != "" && strings.TrimSpace(t.notes) == "" {
		return nil, rbac.Invalid(t.needsNotes, "is required")
	}
	current, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.require(ctx, actor, t.check, current); err != nil {
		return nil, err
	}
	if !slices.Contains(t.from, current.Status) {
		return nil, fmt.Errorf("%w: cannot move permit %s from %s to %s",
			rbac.ErrConflictingState, current.PermitNumber, current.Status, t.to)
	}

	next := current.clone()
	next.Status = t.to
	next.UpdatedAt = s.clock()
	changes := history.Changes{}
	history.Track(changes, "status", string(current.Status), string(t.to))

	performer := actor.ID
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := update(ctx, tx, next, current.Version); err != nil {
			return err
		}
		return s.appendRecord(ctx, tx, next, t.record, &performer, changes, t.notes)
	})
	if err != nil {
		return nil, err
	}

	s.notifyStatus(ctx, next, current.Status, &performer)
	return next, nil
}

// Renew reapplies for an expired permit: it files a new pending permit for
// the same vehicle, valid from validFrom (today when zero) for the same
// duration. The old permit gets a renewed record, the new one a created
// record, both in the same transaction. Extend renews in place instead.
func (s *Service) Renew(ctx context.Context, actor *rbac.User, id int64, validFrom time.Time) (*Permit, error) {
	if err := s.require(ctx, actor, rbac.ActionRenew, nil); err != nil {
		return nil, err
	}
	old, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.require(ctx, actor, rbac.ActionRenew, old); err != nil {
		return nil, err
	}
	if old.Status != StatusExpired {
		return nil, fmt.Errorf("%w: only expired permits can be renewed, %s is %s",
			rbac.ErrConflictingState, old.PermitNumber, old.Status)
	}

	if validFrom.IsZero() {
		validFrom = s.today()
	}
	validFrom = day(validFrom)
	now := s.clock()
	creator := actor.ID
	oldID := old.ID

	p := old.clone()
	p.ID = 0
	p.PermitNumber = GeneratePermitNumber(old.Authority, old.PermitType)
	p.Status = StatusPending
	p.ValidFrom = validFrom
	p.ValidTo = validFrom.Add(old.ValidTo.Sub(old.ValidFrom))
	p.Remarks = "Reapplication for expired permit: " + old.PermitNumber
	p.CreatedBy = &creator
	p.AssignedBy = nil
	p.PreviousPermitID = &oldID
	p.Version = 1
	p.CreatedAt, p.UpdatedAt = now, now

	assignee, err := s.file(ctx, p, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.appendRecord(ctx, tx, p, history.ActionCreated, &creator, createdChanges(p),
			"Reapplication for expired permit: "+old.PermitNumber); err != nil {
			return err
		}
		renewed := history.Changes{}
		history.Track[interface{}](renewed, "renewed_as", nil, p.PermitNumber)
		return s.appendRecord(ctx, tx, old, history.ActionRenewed, &creator, renewed,
			"Expired permit reapplied. New permit: "+p.PermitNumber)
	})
	if err != nil {
		return nil, err
	}

	if assignee != nil {
		s.notifier.Notify(ctx, notify.AssignedEvent(notify.EventPermitAssigned, Workload.Entity,
			p.ID, p.PermitNumber, 0, assignee.ID, &creator))
	}
	return p, nil
}

// Extend renews a permit in place: valid_to moves to validTo and the
// permit becomes active, with a renewed record. Cancelled permits cannot be
// extended, and an expired or inactive one only while its vehicle has no
// other open permit.
func (s *Service) Extend(ctx context.Context, actor *rbac.User, id int64, validTo time.Time, notes string) (*Permit, error) {
	if err := s.require(ctx, actor, rbac.ActionRenew, nil); err != nil {
		return nil, err
	}
	if validTo.IsZero() {
		return nil, rbac.Invalid("valid_to", "is required")
	}
	validTo = day(validTo)
	current, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.require(ctx, actor, rbac.ActionRenew, current); err != nil {
		return nil, err
	}
	if current.Status == StatusCancelled {
		return nil, fmt.Errorf("%w: cancelled permit %s cannot be renewed",
			rbac.ErrConflictingState, current.PermitNumber)
	}
	if !validTo.After(current.ValidTo) {
		return nil, rbac.Invalid("valid_to", "must be after the current valid_to %s", current.ValidTo.Format(DateLayout))
	}
	if validTo.Before(s.today()) {
		return nil, rbac.Invalid("valid_to", "must not be in the past")
	}

	next := current.clone()
	next.ValidTo = validTo
	next.Status = StatusActive
	next.UpdatedAt = s.clock()
	changes := history.Changes{}
	history.Track(changes, "valid_to", current.ValidTo.Format(DateLayout), validTo.Format(DateLayout))
	history.Track(changes, "status", string(current.Status), string(StatusActive))
	if strings.TrimSpace(notes) == "" {
		notes = "Renewed until " + validTo.Format(DateLayout)
	}

	performer := actor.ID
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if current.Status != StatusActive && current.Status != StatusPending {
			number, err := openForVehicle(ctx, tx, current.VehicleNumber)
			if err != nil {
				return err
			}
			if number != "" {
				return fmt.Errorf("%w: vehicle %s already has open permit %s",
					rbac.ErrConflictingState, current.VehicleNumber, number)
			}
		}
		if err := update(ctx, tx, next, current.Version); err != nil {
			return err
		}
		return s.appendRecord(ctx, tx, next, history.ActionRenewed, &performer, changes, notes)
	})
	if err != nil {
		return nil, err
	}

	if current.Status != StatusActive {
		s.notifyStatus(ctx, next, current.Status, &performer)
	}
	return next, nil
}

// ExpireDue marks every active permit whose validity ended before today as
// expired, one transaction and one expired record each. Permits changed
// concurrently are skipped and picked up by the next run.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	today := s.today()
	due, err := s.store.DueForExpiry(ctx, today)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range due {
		current := &due[i]
		next := current.clone()
		next.Status = StatusExpired
		next.UpdatedAt = s.clock()
		changes := history.Changes{}
		history.Track(changes, "status", string(current.Status), string(StatusExpired))

		err := s.inTx(ctx, func(tx *sql.Tx) error {
			if err := update(ctx, tx, next, current.Version); err != nil {
				return err
			}
			return s.appendRecord(ctx, tx, next, history.ActionExpired, nil, changes,
				fmt.Sprintf("valid_to %s passed", current.ValidTo.Format(DateLayout)))
		})
		if err != nil {
			if ctx.Err() != nil {
				return expired, ctx.Err()
			}
			s.logger.WithError(err).WithField("permit_id", current.ID).Warn("failed to expire permit")
			continue
		}
		expired++
		s.notifyStatus(ctx, next, current.Status, nil)
	}

	if expired > 0 {
		s.logger.WithField("count", expired).Info("expired permits")
	}
	return expired, nil
}

// Delete removes a permit and its history
func (s *Service) Delete(ctx context.Context, actor *rbac.User, id int64) error {
	if err := s.require(ctx, actor, rbac.ActionDelete, nil); err != nil {
		return err
	}
	p, err := s.load(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.require(ctx, actor, rbac.ActionDelete, p); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.WithFields(map[string]interface{}{
		"permit_id":  id,
		"deleted_by": actor.ID,
	}).Info("permit deleted")
	return nil
}

func (s *Service) notifyStatus(ctx context.Context, p *Permit, before Status, actor *int64) {
	var recipients []int64
	if p.AssignedTo != nil {
		recipients = append(recipients, *p.AssignedTo)
	}
	if p.CreatedBy != nil {
		recipients = append(recipients, *p.CreatedBy)
	}
	s.notifier.Notify(ctx, notify.StatusChangedEvent(notify.EventPermitStatusChanged, Workload.Entity,
		p.ID, p.PermitNumber, string(before), string(p.Status), actor, recipients...))
}
