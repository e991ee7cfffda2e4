package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/eventfold/userd/pkg/domain"
	"github.com/eventfold/userd/pkg/storage/sqlite"
)

// DefaultPageSize applies when a list request does not name one.
const DefaultPageSize = 10

// ListUsers parameterizes the paginated list query.
type ListUsers struct {
	Page     int
	PageSize int
	Username string
	Email    string
}

// ListUsersResult is the list contract: one page of rows, the total count
// under the same filter, and pre-built next/previous URL paths (nil when the
// neighbor page does not exist).
type ListUsersResult struct {
	Results  []sqlite.UserRow
	Count    int
	Page     int
	PageSize int
	Next     *string
	Previous *string
}

// Queries serves the read side: current state from the read model and
// historical state by replay.
type Queries struct {
	db        *sql.DB
	events    *sqlite.EventStore
	readModel *sqlite.UserReadModel
	logger    *slog.Logger
}

// NewQueries creates the query handlers.
func NewQueries(db *sql.DB, events *sqlite.EventStore, readModel *sqlite.UserReadModel, logger *slog.Logger) *Queries {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queries{db: db, events: events, readModel: readModel, logger: logger}
}

// GetUser returns the current read-model row, or ErrUserNotFound when absent
// or soft-deleted.
func (q *Queries) GetUser(ctx context.Context, userID uuid.UUID) (*sqlite.UserRow, error) {
	return q.readModel.Get(ctx, q.db, userID)
}

// ListUsers returns one page of live users. Read-model errors degrade to an
// empty result: the list endpoint stays live rather than failing.
func (q *Queries) ListUsers(ctx context.Context, query ListUsers) ListUsersResult {
	if query.Page < 1 {
		query.Page = 1
	}
	if query.PageSize < 1 {
		query.PageSize = DefaultPageSize
	}

	result := ListUsersResult{Page: query.Page, PageSize: query.PageSize}

	rows, total, err := q.readModel.List(ctx, q.db, sqlite.ListFilter{
		Username: query.Username,
		Email:    query.Email,
		Page:     query.Page,
		PageSize: query.PageSize,
	})
	if err != nil {
		q.logger.ErrorContext(ctx, "list users degraded to empty result",
			slog.Any("error", err))
		return result
	}

	result.Results = rows
	result.Count = total
	if query.Page*query.PageSize < total {
		result.Next = pageLink(query, query.Page+1)
	}
	if query.Page > 1 {
		result.Previous = pageLink(query, query.Page-1)
	}
	return result
}

// pageLink builds the URL path for a neighbor page, preserving the filters.
func pageLink(query ListUsers, page int) *string {
	link := fmt.Sprintf("/users/?page=%d&page_size=%d", page, query.PageSize)
	if query.Username != "" {
		link += "&username=" + url.QueryEscape(query.Username)
	}
	if query.Email != "" {
		link += "&email=" + url.QueryEscape(query.Email)
	}
	return &link
}

// GetUserAtTime reconstructs the aggregate as of the given instant by
// replaying every event with timestamp at or before it. It never consults
// the read model, which reflects latest state only. A timestamp before the
// creation event yields ErrUserNotFound.
func (q *Queries) GetUserAtTime(ctx context.Context, userID uuid.UUID, at time.Time) (*domain.User, error) {
	events, err := q.events.GetStream(ctx, q.db, userID, domain.AggregateUser, sqlite.StreamFilter{
		Until: &at,
	})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, domain.ErrUserNotFound
	}

	user := domain.NewUser(userID)
	for _, event := range events {
		if err := user.Apply(event); err != nil {
			return nil, err
		}
	}
	return user, nil
}
