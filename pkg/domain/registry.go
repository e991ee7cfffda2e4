package domain

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
)

// Registry maps persisted (event kind, schema version) pairs to typed
// payloads. An unknown kind is a fatal decode error; an unknown version of a
// known kind falls back to the latest registered version with a warning, so
// a reader built before a schema bump keeps working.
type Registry struct {
	mu       sync.RWMutex
	factories map[EventKind]map[string]func() Payload
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factories: make(map[EventKind]map[string]func() Payload),
		logger:    logger,
	}
}

// Register adds a payload factory. Registering the same (kind, version)
// twice panics: it is a wiring bug, not a runtime condition.
func (r *Registry) Register(factory func() Payload) {
	p := factory()
	kind, version := p.EventKind(), p.SchemaVersion()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[kind][version]; ok {
		panic(fmt.Sprintf("payload already registered for %s v%s", kind, version))
	}
	if r.factories[kind] == nil {
		r.factories[kind] = make(map[string]func() Payload)
	}
	r.factories[kind][version] = factory
}

// DecodeEvent turns a persisted record into a typed event.
func (r *Registry) DecodeEvent(rec Record) (Event, error) {
	factory, err := r.resolve(rec.Kind, rec.SchemaVersion)
	if err != nil {
		return Event{}, err
	}

	payload := factory()
	if err := json.Unmarshal(rec.Data, payload); err != nil {
		return Event{}, fmt.Errorf("decode %s v%s payload for event %s: %w",
			rec.Kind, rec.SchemaVersion, rec.ID, err)
	}

	return Event{
		ID:            rec.ID,
		AggregateID:   rec.AggregateID,
		AggregateType: rec.AggregateType,
		Kind:          rec.Kind,
		SchemaVersion: rec.SchemaVersion,
		Revision:      rec.Revision,
		Timestamp:     rec.Timestamp.UTC(),
		Payload:       payload,
	}, nil
}

// resolve finds the factory for (kind, version), falling back to the latest
// registered version for a known kind.
func (r *Registry) resolve(kind EventKind, version string) (func() Payload, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no payload registered for event kind %q", ErrInvalidEvent, kind)
	}
	if factory, ok := versions[version]; ok {
		return factory, nil
	}

	latest := latestVersion(versions)
	r.logger.Warn("unknown payload version, falling back to latest",
		slog.String("event_kind", string(kind)),
		slog.String("requested_version", version),
		slog.String("fallback_version", latest),
	)
	return versions[latest], nil
}

func latestVersion(versions map[string]func() Payload) string {
	keys := make([]string, 0, len(versions))
	for v := range versions {
		keys = append(keys, v)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.Atoi(keys[i])
		b, _ := strconv.Atoi(keys[j])
		return a < b
	})
	return keys[len(keys)-1]
}

// NewUserRegistry returns a registry with every user payload version wired.
func NewUserRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(func() Payload { return &UserCreatedV1{} })
	r.Register(func() Payload { return &UserCreatedV2{} })
	r.Register(func() Payload { return &UserUpdatedV1{} })
	r.Register(func() Payload { return &UserDeletedV1{} })
	r.Register(func() Payload { return &PasswordChangedV1{} })
	return r
}
