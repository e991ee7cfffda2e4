package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eventfold/userd/pkg/domain"
	"github.com/eventfold/userd/pkg/storage"
)

// UserRow is one denormalized read-model row. Soft-deleted rows keep their
// data but carry a DeletedAt timestamp and drop out of every query.
type UserRow struct {
	AggregateID  uuid.UUID
	Username     string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Role         domain.Role
	CreatedAt    *time.Time
	UpdatedAt    *time.Time
	DeletedAt    *time.Time
}

// ListFilter restricts and pages List results. Username and email filters
// are exact matches.
type ListFilter struct {
	Username string
	Email    string
	Page     int
	PageSize int
}

// UserReadModel is the query-optimized user table. Projections write it;
// query handlers read it. The partial unique indexes on username and email
// are the authoritative uniqueness guard for creation races.
type UserReadModel struct{}

// NewUserReadModel creates a read-model accessor.
func NewUserReadModel() *UserReadModel {
	return &UserReadModel{}
}

// Insert adds a new row. A unique-index violation on username or email maps
// to a UniqueFieldError so the command layer can surface a conflict.
func (m *UserReadModel) Insert(ctx context.Context, sess storage.Session, row UserRow) error {
	_, err := sess.ExecContext(ctx, `
		INSERT INTO users (aggregate_id, username, email, first_name, last_name, password_hash, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		row.AggregateID.String(),
		row.Username,
		row.Email,
		row.FirstName,
		row.LastName,
		row.PasswordHash,
		string(row.Role),
		nullableTime(row.CreatedAt),
		nullableTime(row.UpdatedAt),
	)
	if err != nil {
		if field := uniqueField(err); field != "" {
			return &domain.UniqueFieldError{Field: field, Value: fieldValue(row, field)}
		}
		return fmt.Errorf("insert user row %s: %w", row.AggregateID, err)
	}
	return nil
}

// ApplyUpdate overwrites only the provided fields. A missing row is created
// with just those fields populated.
func (m *UserReadModel) ApplyUpdate(ctx context.Context, sess storage.Session, aggregateID uuid.UUID, firstName, lastName, email *string, updatedAt time.Time) error {
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(updatedAt)}
	if firstName != nil {
		sets = append(sets, "first_name = ?")
		args = append(args, *firstName)
	}
	if lastName != nil {
		sets = append(sets, "last_name = ?")
		args = append(args, *lastName)
	}
	if email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *email)
	}
	args = append(args, aggregateID.String())

	res, err := sess.ExecContext(ctx,
		"UPDATE users SET "+strings.Join(sets, ", ")+" WHERE aggregate_id = ?",
		args...,
	)
	if err != nil {
		if field := uniqueField(err); field != "" {
			value := ""
			if email != nil {
				value = *email
			}
			return &domain.UniqueFieldError{Field: field, Value: value}
		}
		return fmt.Errorf("update user row %s: %w", aggregateID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user row %s: %w", aggregateID, err)
	}
	if affected > 0 {
		return nil
	}

	ts := updatedAt
	row := UserRow{AggregateID: aggregateID, Role: domain.RoleUser, UpdatedAt: &ts}
	if firstName != nil {
		row.FirstName = *firstName
	}
	if lastName != nil {
		row.LastName = *lastName
	}
	if email != nil {
		row.Email = *email
	}
	return m.Insert(ctx, sess, row)
}

// SetPassword overwrites the password hash and preserves everything else.
// A missing row is a no-op: the watermark gate guarantees the creation
// projection ran first.
func (m *UserReadModel) SetPassword(ctx context.Context, sess storage.Session, aggregateID uuid.UUID, passwordHash string, updatedAt time.Time) error {
	_, err := sess.ExecContext(ctx, `
		UPDATE users SET password_hash = ?, updated_at = ? WHERE aggregate_id = ?
	`, passwordHash, formatTime(updatedAt), aggregateID.String())
	if err != nil {
		return fmt.Errorf("set password for %s: %w", aggregateID, err)
	}
	return nil
}

// SoftDelete marks the row deleted. A missing row is a no-op.
func (m *UserReadModel) SoftDelete(ctx context.Context, sess storage.Session, aggregateID uuid.UUID, deletedAt time.Time) error {
	_, err := sess.ExecContext(ctx, `
		UPDATE users SET deleted_at = ? WHERE aggregate_id = ? AND deleted_at IS NULL
	`, formatTime(deletedAt), aggregateID.String())
	if err != nil {
		return fmt.Errorf("soft-delete user row %s: %w", aggregateID, err)
	}
	return nil
}

const userColumns = "aggregate_id, username, email, first_name, last_name, password_hash, role, created_at, updated_at, deleted_at"

// Get returns the live row for the aggregate, or ErrUserNotFound when the
// row is absent or soft-deleted.
func (m *UserReadModel) Get(ctx context.Context, sess storage.Session, aggregateID uuid.UUID) (*UserRow, error) {
	row := sess.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE aggregate_id = ? AND deleted_at IS NULL",
		aggregateID.String(),
	)
	user, err := scanUserRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetByUsername returns the live row with the given username. Used by the
// authentication collaborator.
func (m *UserReadModel) GetByUsername(ctx context.Context, sess storage.Session, username string) (*UserRow, error) {
	row := sess.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = ? AND deleted_at IS NULL",
		username,
	)
	user, err := scanUserRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// List returns one page of live rows plus the total count under the same
// filter.
func (m *UserReadModel) List(ctx context.Context, sess storage.Session, filter ListFilter) ([]UserRow, int, error) {
	where := "deleted_at IS NULL"
	var args []any
	if filter.Username != "" {
		where += " AND username = ?"
		args = append(args, filter.Username)
	}
	if filter.Email != "" {
		where += " AND email = ?"
		args = append(args, filter.Email)
	}

	var total int
	if err := sess.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE "+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count user rows: %w", err)
	}

	page, pageSize := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	offset := (page - 1) * pageSize

	rows, err := sess.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE "+where+" ORDER BY created_at ASC, aggregate_id ASC LIMIT ? OFFSET ?",
		append(args, pageSize, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list user rows: %w", err)
	}
	defer rows.Close()

	var users []UserRow
	for rows.Next() {
		user, err := scanUserRow(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate user rows: %w", err)
	}
	return users, total, nil
}

func scanUserRow(scan func(dest ...any) error) (*UserRow, error) {
	var (
		row                             UserRow
		aggregateID                     string
		username, email                 sql.NullString
		createdAt, updatedAt, deletedAt sql.NullString
		role                            string
	)
	err := scan(&aggregateID, &username, &email, &row.FirstName, &row.LastName, &row.PasswordHash, &role, &createdAt, &updatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	row.AggregateID, err = uuid.Parse(aggregateID)
	if err != nil {
		return nil, fmt.Errorf("parse aggregate id %q: %w", aggregateID, err)
	}
	row.Username = username.String
	row.Email = email.String
	row.Role = domain.Role(role)

	if row.CreatedAt, err = nullTimePtr(createdAt); err != nil {
		return nil, err
	}
	if row.UpdatedAt, err = nullTimePtr(updatedAt); err != nil {
		return nil, err
	}
	if row.DeletedAt, err = nullTimePtr(deletedAt); err != nil {
		return nil, err
	}
	return &row, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// uniqueField maps a unique-index violation on the users table to the
// conflicting logical field name.
func uniqueField(err error) string {
	switch uniqueViolationColumn(err) {
	case "users.username":
		return "username"
	case "users.email":
		return "email"
	default:
		return ""
	}
}

func fieldValue(row UserRow, field string) string {
	switch field {
	case "username":
		return row.Username
	case "email":
		return row.Email
	default:
		return ""
	}
}
