package auth

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/eventfold/userd/pkg/domain"
	"github.com/eventfold/userd/pkg/storage/sqlite"
)

// ErrInvalidCredentials is returned for unknown usernames and wrong
// passwords alike, so a caller cannot probe which usernames exist.
var ErrInvalidCredentials = errors.New("incorrect username or password")

// Authenticator runs the login flow: resolve the username to an aggregate
// through the event store, read the current hash from the read model,
// compare, and issue a token.
type Authenticator struct {
	db        *sql.DB
	events    *sqlite.EventStore
	readModel *sqlite.UserReadModel
	tokens    *Tokens
	logger    *slog.Logger
}

// NewAuthenticator creates the login handler.
func NewAuthenticator(db *sql.DB, events *sqlite.EventStore, readModel *sqlite.UserReadModel, tokens *Tokens, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{db: db, events: events, readModel: readModel, tokens: tokens, logger: logger}
}

// Login verifies the credentials and returns an access token plus the user's
// current read-model row.
func (a *Authenticator) Login(ctx context.Context, username, password string) (string, *sqlite.UserRow, error) {
	row, err := a.resolve(ctx, username)
	if err != nil {
		return "", nil, err
	}

	if err := ComparePassword(row.PasswordHash, password); err != nil {
		a.logger.InfoContext(ctx, "login rejected",
			slog.String("username", username))
		return "", nil, ErrInvalidCredentials
	}

	token, err := a.tokens.Issue(row.AggregateID, row.Role)
	if err != nil {
		return "", nil, err
	}
	return token, row, nil
}

// resolve finds the live user for the username. Creation events locate the
// aggregate; the read model supplies current state, which also covers
// usernames changed by later events and excludes deleted users.
func (a *Authenticator) resolve(ctx context.Context, username string) (*sqlite.UserRow, error) {
	hits, err := a.events.SearchEvents(ctx, a.db, domain.AggregateUser, sqlite.SearchQuery{
		Kind:     domain.EventUserCreated,
		Username: username,
	})
	if err != nil {
		return nil, err
	}

	for _, hit := range hits {
		row, err := a.readModel.Get(ctx, a.db, hit.AggregateID)
		if err != nil {
			continue
		}
		if row.Username == username {
			return row, nil
		}
	}
	return nil, ErrInvalidCredentials
}
