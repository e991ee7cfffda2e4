package domain

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// AggregateType identifies the kind of domain entity a stream belongs to.
// The event store is partitioned per aggregate type: each type maps to its
// own event table and snapshot table.
type AggregateType string

const (
	// AggregateUser is the user aggregate. Currently the only type.
	AggregateUser AggregateType = "USER"
)

// Valid reports whether the aggregate type is part of the closed enumeration.
func (t AggregateType) Valid() bool {
	return t == AggregateUser
}

// EventKind identifies the type of a domain event.
type EventKind string

const (
	EventUserCreated     EventKind = "USER_CREATED"
	EventUserUpdated     EventKind = "USER_UPDATED"
	EventUserDeleted     EventKind = "USER_DELETED"
	EventPasswordChanged EventKind = "PASSWORD_CHANGED"
)

// Payload is the typed body of a domain event. Each payload type belongs to
// exactly one (kind, schema version) pair registered with the Registry.
type Payload interface {
	EventKind() EventKind
	SchemaVersion() string
}

// Event is an immutable fact appended to an aggregate's stream.
// Revision is the 1-based, gap-free position of the event inside its stream.
type Event struct {
	// ID is globally unique. Appending a duplicate ID is a no-op, which
	// makes command retries idempotent at the store level.
	ID string

	AggregateID   uuid.UUID
	AggregateType AggregateType

	Kind          EventKind
	SchemaVersion string

	Revision  int64
	Timestamp time.Time

	Payload Payload
}

// Record is the persisted shape of an event: the payload is raw JSON and the
// (Kind, SchemaVersion) pair determines how to decode it. Records round-trip
// through the broker for asynchronous dispatch.
type Record struct {
	ID            string          `json:"id"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	AggregateType AggregateType   `json:"aggregate_type"`
	Kind          EventKind       `json:"event_type"`
	SchemaVersion string          `json:"version"`
	Revision      int64           `json:"revision"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates an event for the given aggregate at the given revision.
// The event ID is a ULID: 128 bits, globally unique, sortable by creation.
func NewEvent(aggregateID uuid.UUID, aggregateType AggregateType, revision int64, payload Payload) Event {
	now := time.Now().UTC()
	return Event{
		ID:            ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Kind:          payload.EventKind(),
		SchemaVersion: payload.SchemaVersion(),
		Revision:      revision,
		Timestamp:     now,
		Payload:       payload,
	}
}

// EncodeEvent serializes an event into its persisted record shape.
func EncodeEvent(e Event) (Record, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return Record{}, fmt.Errorf("marshal %s payload: %w", e.Kind, err)
	}
	return Record{
		ID:            e.ID,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		Kind:          e.Kind,
		SchemaVersion: e.SchemaVersion,
		Revision:      e.Revision,
		Timestamp:     e.Timestamp.UTC(),
		Data:          data,
	}, nil
}

// Validate checks the structural invariants every storable event must hold.
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: event id is empty", ErrInvalidEvent)
	}
	if e.AggregateID == uuid.Nil {
		return fmt.Errorf("%w: aggregate id is empty", ErrInvalidEvent)
	}
	if !e.AggregateType.Valid() {
		return fmt.Errorf("%w: unknown aggregate type %q", ErrInvalidEvent, e.AggregateType)
	}
	if e.Kind == "" {
		return fmt.Errorf("%w: event kind is empty", ErrInvalidEvent)
	}
	if e.Revision < 1 {
		return fmt.Errorf("%w: revision %d is not positive", ErrInvalidEvent, e.Revision)
	}
	if e.Payload == nil {
		return fmt.Errorf("%w: payload is nil", ErrInvalidEvent)
	}
	return nil
}
