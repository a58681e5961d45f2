package rbac

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusCoder is implemented by errors that map onto an HTTP status
type StatusCoder interface {
	StatusCode() int
}

type codedError struct {
	msg    string
	status int
}

func (e *codedError) Error() string   { return e.msg }
func (e *codedError) StatusCode() int { return e.status }

var (
	// ErrNotAuthenticated is returned when no valid caller identity is present
	ErrNotAuthenticated error = &codedError{"authentication required", http.StatusUnauthorized}

	// ErrNotFound is the sentinel every *NotFoundError unwraps to
	ErrNotFound error = &codedError{"not found", http.StatusNotFound}

	// ErrConflictingState signals a lost race or a state that forbids the
	// operation; the caller may retry
	ErrConflictingState error = &codedError{"conflicting concurrent update", http.StatusConflict}

	// ErrPermissionDenied is the sentinel every *PermissionDeniedError unwraps to
	ErrPermissionDenied error = &codedError{"permission denied", http.StatusForbidden}

	// ErrInvalidAssignmentTarget is the sentinel every *InvalidAssignmentTargetError unwraps to
	ErrInvalidAssignmentTarget error = &codedError{"invalid assignment target", http.StatusForbidden}

	// ErrInvalidInput is the sentinel every *ValidationError unwraps to
	ErrInvalidInput error = &codedError{"invalid input", http.StatusBadRequest}
)

// PermissionDeniedError carries the specific missing capability or violated rule
type PermissionDeniedError struct {
	Reason  string
	Rule    DecisionRule
	Feature FeatureCode
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Reason)
}

func (e *PermissionDeniedError) Unwrap() error {
	return ErrPermissionDenied
}

func (e *PermissionDeniedError) StatusCode() int { return http.StatusForbidden }

// InvalidAssignmentTargetError names both sides of a rejected hand-off
type InvalidAssignmentTargetError struct {
	ActorRole  RoleName
	TargetRole RoleName
}

func (e *InvalidAssignmentTargetError) Error() string {
	actor := e.ActorRole
	if actor == "" {
		actor = "(no role)"
	}
	target := e.TargetRole
	if target == "" {
		target = "(no role)"
	}
	return fmt.Sprintf("role %q may not assign work to role %q", actor, target)
}

func (e *InvalidAssignmentTargetError) Unwrap() error {
	return ErrInvalidAssignmentTarget
}

func (e *InvalidAssignmentTargetError) StatusCode() int { return http.StatusForbidden }

// NotFoundError identifies the missing Role, Feature, User or entity
type NotFoundError struct {
	Kind string
	Key  interface{}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %v", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

func (e *NotFoundError) StatusCode() int { return http.StatusNotFound }

// ValidationError rejects malformed input before any state changes
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }

// Invalid builds a *ValidationError
func Invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NewNotFound builds a *NotFoundError
func NewNotFound(kind string, key interface{}) error {
	return &NotFoundError{Kind: kind, Key: key}
}

// IsNotFound reports whether err is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
