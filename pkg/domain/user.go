package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role determines the scopes a user is granted at the edge.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// MinUsernameLength is the aggregate-level lower bound on usernames.
const MinUsernameLength = 3

// User is the in-memory aggregate for a single user stream. Intent methods
// validate against current state, emit new events, and immediately fold them
// back in, so an instance stays usable for subsequent intents in the same
// command and LastAppliedRevision always tracks the stream head it has seen.
type User struct {
	ID                  uuid.UUID
	LastAppliedRevision int64

	Username      string
	Email         string
	FirstName     string
	LastName      string
	PasswordHash  string
	HashingMethod string
	Role          Role

	CreatedAt *time.Time
	UpdatedAt *time.Time
	DeletedAt *time.Time
}

// NewUser returns an empty aggregate for the given id. State is built purely
// by folding events; the zero revision means nothing has been applied.
func NewUser(id uuid.UUID) *User {
	return &User{ID: id}
}

func (u *User) exists() bool  { return u.LastAppliedRevision > 0 }
func (u *User) deleted() bool { return u.DeletedAt != nil }

// Create proposes the creation event for a not-yet-existing aggregate.
func (u *User) Create(username, email, firstName, lastName, passwordHash, hashingMethod string, role Role) ([]Event, error) {
	if u.exists() {
		return nil, ErrUserAlreadyExists
	}
	if len(username) < MinUsernameLength {
		return nil, fmt.Errorf("%w: %q has %d characters, need at least %d",
			ErrUsernameTooShort, username, len(username), MinUsernameLength)
	}
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	if passwordHash == "" {
		return nil, ErrPasswordRequired
	}
	if role == "" {
		role = RoleUser
	}

	return u.emit(&UserCreatedV2{
		Username:      username,
		Email:         email,
		FirstName:     firstName,
		LastName:      lastName,
		PasswordHash:  passwordHash,
		HashingMethod: hashingMethod,
		Role:          role,
	})
}

// Update proposes a partial update. Nil fields are left untouched; at least
// one field must be provided.
func (u *User) Update(firstName, lastName, email *string) ([]Event, error) {
	if !u.exists() {
		return nil, ErrUserNotFound
	}
	if u.deleted() {
		return nil, ErrUserDeleted
	}
	if firstName == nil && lastName == nil && email == nil {
		return nil, ErrNoFieldsToUpdate
	}
	if email != nil && !strings.Contains(*email, "@") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, *email)
	}

	return u.emit(&UserUpdatedV1{
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
	})
}

// ChangePassword proposes a password change. The new hash must differ from
// the one currently in effect.
func (u *User) ChangePassword(newHash, hashingMethod string) ([]Event, error) {
	if !u.exists() {
		return nil, ErrUserNotFound
	}
	if u.deleted() {
		return nil, ErrUserDeleted
	}
	if newHash == "" {
		return nil, ErrPasswordRequired
	}
	if newHash == u.PasswordHash {
		return nil, ErrSamePassword
	}

	return u.emit(&PasswordChangedV1{
		PasswordHash:  newHash,
		HashingMethod: hashingMethod,
	})
}

// Delete proposes logical deletion. The stream remains; further intents fail.
func (u *User) Delete() ([]Event, error) {
	if !u.exists() {
		return nil, ErrUserNotFound
	}
	if u.deleted() {
		return nil, ErrUserAlreadyDeleted
	}
	return u.emit(&UserDeletedV1{})
}

// emit builds the event at the next revision and folds it in.
func (u *User) emit(payload Payload) ([]Event, error) {
	event := NewEvent(u.ID, AggregateUser, u.LastAppliedRevision+1, payload)
	if err := u.Apply(event); err != nil {
		return nil, err
	}
	return []Event{event}, nil
}

// Apply folds a single event into state and advances LastAppliedRevision to
// the event's revision. Folding is pure with respect to (state, event):
// replaying the same events in the same order always yields the same state.
func (u *User) Apply(event Event) error {
	switch p := event.Payload.(type) {
	case *UserCreatedV1:
		// Pre-role payloads default to the regular role.
		u.applyCreated(p.Username, p.Email, p.FirstName, p.LastName, p.PasswordHash, p.HashingMethod, RoleUser, event.Timestamp)
	case *UserCreatedV2:
		u.applyCreated(p.Username, p.Email, p.FirstName, p.LastName, p.PasswordHash, p.HashingMethod, p.Role, event.Timestamp)
	case *UserUpdatedV1:
		if p.FirstName != nil {
			u.FirstName = *p.FirstName
		}
		if p.LastName != nil {
			u.LastName = *p.LastName
		}
		if p.Email != nil {
			u.Email = *p.Email
		}
		ts := event.Timestamp
		u.UpdatedAt = &ts
	case *UserDeletedV1:
		ts := event.Timestamp
		u.DeletedAt = &ts
	case *PasswordChangedV1:
		u.PasswordHash = p.PasswordHash
		u.HashingMethod = p.HashingMethod
		ts := event.Timestamp
		u.UpdatedAt = &ts
	default:
		return fmt.Errorf("%w: user aggregate cannot apply %T", ErrInvalidEvent, event.Payload)
	}

	u.LastAppliedRevision = event.Revision
	return nil
}

func (u *User) applyCreated(username, email, firstName, lastName, hash, method string, role Role, ts time.Time) {
	u.Username = username
	u.Email = email
	u.FirstName = firstName
	u.LastName = lastName
	u.PasswordHash = hash
	u.HashingMethod = method
	u.Role = role
	u.CreatedAt = &ts
	u.UpdatedAt = &ts
}

// userState is the snapshot wire shape. Timestamps travel as RFC 3339
// strings; malformed values are coerced to nil on restore rather than
// failing, because a corrupt snapshot must never be fatal.
type userState struct {
	Username      string `json:"username"`
	Email         string `json:"email"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	PasswordHash  string `json:"password_hash"`
	HashingMethod string `json:"hashing_method"`
	Role          Role   `json:"role"`
	CreatedAt     string `json:"created_at,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
	DeletedAt     string `json:"deleted_at,omitempty"`
}

// Snapshot serializes the aggregate state at its last applied revision.
func (u *User) Snapshot() (*Snapshot, error) {
	state := userState{
		Username:      u.Username,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		PasswordHash:  u.PasswordHash,
		HashingMethod: u.HashingMethod,
		Role:          u.Role,
		CreatedAt:     formatSnapshotTime(u.CreatedAt),
		UpdatedAt:     formatSnapshotTime(u.UpdatedAt),
		DeletedAt:     formatSnapshotTime(u.DeletedAt),
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal user snapshot: %w", err)
	}
	return &Snapshot{
		AggregateID:   u.ID,
		AggregateType: AggregateUser,
		Data:          data,
		Revision:      u.LastAppliedRevision,
	}, nil
}

// UserFromSnapshot restores an aggregate so that replay can resume from
// revisions strictly greater than the snapshot revision.
func UserFromSnapshot(s *Snapshot) (*User, error) {
	var state userState
	if err := json.Unmarshal(s.Data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal user snapshot %s: %w", s.AggregateID, err)
	}
	return &User{
		ID:                  s.AggregateID,
		LastAppliedRevision: s.Revision,
		Username:            state.Username,
		Email:               state.Email,
		FirstName:           state.FirstName,
		LastName:            state.LastName,
		PasswordHash:        state.PasswordHash,
		HashingMethod:       state.HashingMethod,
		Role:                state.Role,
		CreatedAt:           parseSnapshotTime(state.CreatedAt),
		UpdatedAt:           parseSnapshotTime(state.UpdatedAt),
		DeletedAt:           parseSnapshotTime(state.DeletedAt),
	}, nil
}

func formatSnapshotTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseSnapshotTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
