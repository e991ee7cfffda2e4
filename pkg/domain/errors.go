package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound is returned when no user exists for the requested
	// aggregate id, or when the user has been soft-deleted.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists is returned when a creation intent runs against
	// an aggregate that already has events applied.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrUsernameTooShort is returned when a username has fewer than
	// MinUsernameLength characters.
	ErrUsernameTooShort = errors.New("username too short")

	// ErrInvalidEmail is returned when an email address fails the
	// aggregate-level format rule.
	ErrInvalidEmail = errors.New("invalid email format")

	// ErrPasswordRequired is returned when a password hash is empty.
	ErrPasswordRequired = errors.New("password is required")

	// ErrNoFieldsToUpdate is returned when an update intent carries no
	// fields at all.
	ErrNoFieldsToUpdate = errors.New("no fields to update")

	// ErrUserDeleted is returned when an intent method is invoked on a
	// logically deleted user.
	ErrUserDeleted = errors.New("cannot update deleted user")

	// ErrUserAlreadyDeleted is returned when deleting a user twice.
	ErrUserAlreadyDeleted = errors.New("user already deleted")

	// ErrSamePassword is returned when a password change carries the hash
	// already in effect.
	ErrSamePassword = errors.New("new password must be different")

	// ErrConcurrencyConflict is returned when another writer committed to
	// the same stream first. The caller's unit of work must roll back.
	ErrConcurrencyConflict = errors.New("concurrency conflict: stream revision mismatch")

	// ErrInvalidEvent is returned when an event fails structural validation.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrSnapshotNotFound is returned when no snapshot exists for an
	// aggregate. Never fatal: reconstruction from events always works.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrUnsupportedAggregateType is returned by stores for aggregate types
	// outside the closed enumeration.
	ErrUnsupportedAggregateType = errors.New("unsupported aggregate type")

	// ErrResourceConflict is the category for uniqueness violations
	// resolved at commit time by the read-model indexes.
	ErrResourceConflict = errors.New("resource conflict")
)

// UniqueFieldError reports a username or email that is already taken by a
// live user. Satisfies errors.Is(err, ErrResourceConflict).
type UniqueFieldError struct {
	Field string
	Value string
}

func (e *UniqueFieldError) Error() string {
	return fmt.Sprintf("%s %q is already taken", e.Field, e.Value)
}

func (e *UniqueFieldError) Is(target error) bool {
	return target == ErrResourceConflict
}

// ConcurrencyError carries the revisions involved in a lost optimistic
// concurrency race. Satisfies errors.Is(err, ErrConcurrencyConflict).
type ConcurrencyError struct {
	AggregateID      string
	ExpectedRevision int64
	ActualRevision   int64
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency conflict on aggregate %s: expected revision %d, found %d",
		e.AggregateID, e.ExpectedRevision, e.ActualRevision)
}

func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}
