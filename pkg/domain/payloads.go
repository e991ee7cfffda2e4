package domain

// Payload schema versions are strings that increase per event kind ("1",
// "2", ...). Older versions stay deserializable forever; appliers normalize
// old shapes in memory rather than rewriting stored events.

// UserCreatedV1 is the original creation payload. It predates roles: users
// created from V1 events default to RoleUser when applied.
type UserCreatedV1 struct {
	Username      string `json:"username"`
	Email         string `json:"email"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	PasswordHash  string `json:"password_hash"`
	HashingMethod string `json:"hashing_method"`
}

func (UserCreatedV1) EventKind() EventKind  { return EventUserCreated }
func (UserCreatedV1) SchemaVersion() string { return "1" }

// UserCreatedV2 adds the role field.
type UserCreatedV2 struct {
	Username      string `json:"username"`
	Email         string `json:"email"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	PasswordHash  string `json:"password_hash"`
	HashingMethod string `json:"hashing_method"`
	Role          Role   `json:"role"`
}

func (UserCreatedV2) EventKind() EventKind  { return EventUserCreated }
func (UserCreatedV2) SchemaVersion() string { return "2" }

// UserUpdatedV1 carries only the fields that changed; nil means untouched.
type UserUpdatedV1 struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Email     *string `json:"email,omitempty"`
}

func (UserUpdatedV1) EventKind() EventKind  { return EventUserUpdated }
func (UserUpdatedV1) SchemaVersion() string { return "1" }

// UserDeletedV1 marks logical deletion; the deletion time is the event
// timestamp.
type UserDeletedV1 struct{}

func (UserDeletedV1) EventKind() EventKind  { return EventUserDeleted }
func (UserDeletedV1) SchemaVersion() string { return "1" }

// PasswordChangedV1 replaces the password hash.
type PasswordChangedV1 struct {
	PasswordHash  string `json:"password_hash"`
	HashingMethod string `json:"hashing_method"`
}

func (PasswordChangedV1) EventKind() EventKind  { return EventPasswordChanged }
func (PasswordChangedV1) SchemaVersion() string { return "1" }
