package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByID(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByProviderUID(ctx context.Context, provider, uid string) (User, error)
	// LinkIdentity sets only the external identity columns.
	LinkIdentity(ctx context.Context, id, provider, uid string, at time.Time) error
	// SetShareTokenDigest sets only the share token column.
	SetShareTokenDigest(ctx context.Context, id, digest string, at time.Time) error
}

var _ Repository = (*PostgresRepository)(nil)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, email, display_name, COALESCE(provider, ''), COALESCE(uid, ''), password_digest, role,
	COALESCE(share_token_digest, ''), created_at, updated_at`

// Create inserts a new user. Unique violations on email or (provider, uid)
// are reported as ErrDuplicate.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return fmt.Errorf("parse user id: %w", err)
	}
	_, err = r.db.Exec(ctx, `INSERT INTO users (id, email, display_name, provider, uid, password_digest, role, share_token_digest, created_at, updated_at)
        VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, NULLIF($8, ''), $9, $10)`,
		userID, user.Email, user.DisplayName, user.Provider, user.UID, user.PasswordDigest, string(user.Role),
		user.ShareTokenDigest, user.CreatedAt.UTC(), user.UpdatedAt.UTC())
	return translate(err)
}

// FindByID fetches a user by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return User{}, ErrUserNotFound
	}
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
}

// FindByEmail fetches a user by email.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// FindByProviderUID fetches a user by external identity.
func (r *PostgresRepository) FindByProviderUID(ctx context.Context, provider, uid string) (User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE provider = $1 AND uid = $2`, provider, uid)
}

// LinkIdentity attaches an external identity to the user. A (provider, uid)
// pair held by another user is reported as ErrDuplicate.
func (r *PostgresRepository) LinkIdentity(ctx context.Context, id, provider, uid string, at time.Time) error {
	return r.exec(ctx, `UPDATE users SET provider = $2, uid = $3, updated_at = $4 WHERE id = $1`,
		id, provider, uid, at.UTC())
}

// SetShareTokenDigest replaces the share token digest. An empty digest revokes it.
func (r *PostgresRepository) SetShareTokenDigest(ctx context.Context, id, digest string, at time.Time) error {
	return r.exec(ctx, `UPDATE users SET share_token_digest = NULLIF($2, ''), updated_at = $3 WHERE id = $1`,
		id, digest, at.UTC())
}

// exec runs a single-row UPDATE keyed by the user id in $1.
func (r *PostgresRepository) exec(ctx context.Context, query, id string, args ...any) error {
	userID, err := uuid.Parse(id)
	if err != nil {
		return ErrUserNotFound
	}
	cmd, err := r.db.Exec(ctx, query, append([]any{userID}, args...)...)
	if err != nil {
		return translate(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PostgresRepository) scanOne(ctx context.Context, query string, args ...any) (User, error) {
	var (
		id        uuid.UUID
		role      string
		createdAt time.Time
		updatedAt time.Time
		user      User
	)
	err := r.db.QueryRow(ctx, query, args...).Scan(&id, &user.Email, &user.DisplayName, &user.Provider, &user.UID,
		&user.PasswordDigest, &role, &user.ShareTokenDigest, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user: %w", err)
	}
	user.ID = id.String()
	user.Role = Role(role)
	user.CreatedAt = createdAt.UTC()
	user.UpdatedAt = updatedAt.UTC()
	return user, nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}
