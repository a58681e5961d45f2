package rbac

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/permitdesk/pkg/observability"
)

// RoleResolver finds the effective role of a user. A user without an active
// binding resolves to (nil, nil).
type RoleResolver interface {
	ResolveRole(ctx context.Context, userID int64) (*Role, error)
}

// Engine evaluates authorization requests against a PolicyTable
type Engine struct {
	roles    RoleResolver
	policies PolicyTable
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithPolicies replaces the default policy table
func WithPolicies(policies PolicyTable) EngineOption {
	return func(e *Engine) {
		e.policies = policies
	}
}

// WithEngineLogger sets the logger used for lookup failures and denials
func WithEngineLogger(logger *observability.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithEngineMetrics enables decision counters
func WithEngineMetrics(metrics *observability.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// NewEngine creates an authorization engine
func NewEngine(roles RoleResolver, opts ...EngineOption) *Engine {
	e := &Engine{
		roles:    roles,
		policies: DefaultPolicies(),
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policies returns the table the engine consults
func (e *Engine) Policies() PolicyTable {
	return e.policies
}

// Authorize decides whether user may perform req. Steps are evaluated in
// order and the first one that decides wins:
//
//  1. unauthenticated callers are denied
//  2. safe actions on open-read resources are allowed
//  3. superusers are allowed
//  4. users without an active role are denied
//  5. ownership and status-role restrictions on mutations
//  6. the feature the policy requires for the action
//
// The error is non-nil only when the role lookup itself failed; the returned
// decision is then a deny.
func (e *Engine) Authorize(ctx context.Context, user *User, req Request) (Decision, error) {
	ctx, span := observability.StartSpan(ctx, "rbac.Authorize",
		attribute.String("rbac.resource", string(req.Resource)),
		attribute.String("rbac.action", string(req.Action)),
	)

	decision, err := e.authorize(ctx, user, req)
	span.SetAttributes(
		attribute.Bool("rbac.allowed", decision.Allowed),
		attribute.String("rbac.rule", string(decision.Rule)),
	)
	observability.EndSpan(span, err)

	e.record(req, decision)
	if !decision.Allowed && decision.Rule != RuleUnauthenticated {
		e.logger.WithFields(map[string]interface{}{
			"resource": req.Resource,
			"action":   req.Action,
			"rule":     decision.Rule,
			"role":     decision.Role,
			"feature":  decision.Feature,
		}).Debug(decision.Reason)
	}
	return decision, err
}

func (e *Engine) authorize(ctx context.Context, user *User, req Request) (Decision, error) {
	if !user.IsAuthenticated() {
		return deny(RuleUnauthenticated, "", "", "authentication required"), nil
	}

	if e.policies.OpenRead(req.Resource, req.Action) {
		return allow(RuleOpenRead, "", ""), nil
	}

	if user.IsSuperuser {
		return allow(RuleBypass, "", ""), nil
	}

	role, err := e.roles.ResolveRole(ctx, user.ID)
	if err != nil {
		e.logger.WithError(err).WithField("user_id", user.ID).Warn("role lookup failed, denying")
		if e.metrics != nil {
			e.metrics.AuthzErrorsTotal.WithLabelValues("resolve_role").Inc()
		}
		return deny(RuleLookupError, "", "", "role lookup failed"), fmt.Errorf("failed to resolve role: %w", err)
	}
	if role == nil {
		return deny(RuleNoRole, "", "", "no role assigned"), nil
	}
	if !role.IsActive {
		return deny(RuleRoleInactive, role.Name, "", fmt.Sprintf("role %s is inactive", role.Name)), nil
	}

	if policy, ok := e.policies[req.Resource]; ok && !req.Action.IsSafe() {
		if d, decided := checkOwnership(policy.Ownership, user, role, req); decided {
			return d, nil
		}
	}

	feature, ok := e.policies.RequiredFeature(req.Resource, req.Action)
	if !ok {
		return deny(RuleUnknownAction, role.Name, "",
			fmt.Sprintf("no policy for %s on %s", req.Action, req.Resource)), nil
	}
	if !HasFeature(role, feature) {
		return deny(RuleFeature, role.Name, feature, fmt.Sprintf("missing feature %s", feature)), nil
	}
	return allow(RuleFeature, role.Name, feature), nil
}

// checkOwnership applies the mutation restrictions of a policy; decided is
// true only when the request is denied
func checkOwnership(rule *OwnershipRule, user *User, role *Role, req Request) (Decision, bool) {
	if rule == nil {
		return Decision{}, false
	}
	if req.Action == ActionChangeStatus && len(rule.StatusRoles) > 0 && !slices.Contains(rule.StatusRoles, role.Name) {
		return deny(RuleStatusRole, role.Name, "",
			fmt.Sprintf("role %s may not change %s status", role.Name, req.Resource)), true
	}
	if req.Object != nil && rule.restricts(role.Name) && !rule.owns(user.ID, req.Object) {
		return deny(RuleOwnership, role.Name, "",
			fmt.Sprintf("role %s may only modify its own %s records", role.Name, req.Resource)), true
	}
	return Decision{}, false
}

func (e *Engine) record(req Request, d Decision) {
	if e.metrics == nil {
		return
	}
	outcome := "deny"
	if d.Allowed {
		outcome = "allow"
	}
	e.metrics.AuthzDecisionsTotal.WithLabelValues(string(req.Resource), string(req.Action), outcome, string(d.Rule)).Inc()
}

// Require is Authorize folded into a single error: nil on allow,
// ErrNotAuthenticated, a *PermissionDeniedError or a lookup error.
func (e *Engine) Require(ctx context.Context, user *User, req Request) error {
	d, err := e.Authorize(ctx, user, req)
	if err != nil {
		return err
	}
	return d.Err()
}

// AuthorizeAny reports whether the user's role grants at least one of codes.
// Superusers always pass; callers without an active role never do.
func (e *Engine) AuthorizeAny(ctx context.Context, user *User, codes ...FeatureCode) (bool, error) {
	if !user.IsAuthenticated() {
		return false, nil
	}
	if user.IsSuperuser {
		return true, nil
	}
	role, err := e.roles.ResolveRole(ctx, user.ID)
	if err != nil {
		if e.metrics != nil {
			e.metrics.AuthzErrorsTotal.WithLabelValues("resolve_role").Inc()
		}
		return false, fmt.Errorf("failed to resolve role: %w", err)
	}
	return HasAnyFeature(role, codes...), nil
}

// UserHasFeature is AuthorizeAny for a single code
func (e *Engine) UserHasFeature(ctx context.Context, user *User, code FeatureCode) (bool, error) {
	return e.AuthorizeAny(ctx, user, code)
}

// RoleOf returns the active role of user, or nil
func (e *Engine) RoleOf(ctx context.Context, user *User) (*Role, error) {
	if !user.IsAuthenticated() {
		return nil, nil
	}
	role, err := e.roles.ResolveRole(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if role == nil || !role.IsActive {
		return nil, nil
	}
	return role, nil
}
