package pin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists pins together with their delete token digest.
type Repository interface {
	// Create stores the pin and its digest in one write and returns it with
	// the assigned ID.
	Create(ctx context.Context, p Pin) (Pin, error)
	FindByID(ctx context.Context, id int64) (Pin, error)
	// Delete removes the pin only if it still carries digest.
	Delete(ctx context.Context, id int64, digest string) error
	ListRecent(ctx context.Context, limit int) ([]Pin, error)
}

var _ Repository = (*PostgresRepository)(nil)

// PostgresRepository stores pins in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a pin row. The digest column is NOT NULL, so a row is never
// visible without it.
func (r *PostgresRepository) Create(ctx context.Context, p Pin) (Pin, error) {
	if p.DeleteTokenDigest == "" {
		return Pin{}, errors.New("delete token digest is required")
	}
	var createdAt time.Time
	err := r.db.QueryRow(ctx, `INSERT INTO pins (price, distance_km, time_slot, weather, lat, lng, delete_token_digest, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at`,
		p.Price, p.DistanceKm, p.TimeSlot, p.Weather, p.Lat, p.Lng, p.DeleteTokenDigest, p.CreatedAt.UTC(),
	).Scan(&p.ID, &createdAt)
	if err != nil {
		return Pin{}, fmt.Errorf("insert pin: %w", err)
	}
	p.CreatedAt = createdAt.UTC()
	return p, nil
}

// FindByID fetches a pin including its digest.
func (r *PostgresRepository) FindByID(ctx context.Context, id int64) (Pin, error) {
	row := r.db.QueryRow(ctx, `SELECT id, price, distance_km, time_slot, weather, lat, lng, delete_token_digest, created_at
        FROM pins WHERE id = $1`, id)
	p, err := scanPin(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Pin{}, ErrNotFound
		}
		return Pin{}, fmt.Errorf("query pin: %w", err)
	}
	return p, nil
}

// Delete removes the pin matching id and digest.
func (r *PostgresRepository) Delete(ctx context.Context, id int64, digest string) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM pins WHERE id = $1 AND delete_token_digest = $2`, id, digest)
	if err != nil {
		return fmt.Errorf("delete pin: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRecent returns the newest pins first.
func (r *PostgresRepository) ListRecent(ctx context.Context, limit int) ([]Pin, error) {
	rows, err := r.db.Query(ctx, `SELECT id, price, distance_km, time_slot, weather, lat, lng, delete_token_digest, created_at
        FROM pins ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pins: %w", err)
	}
	defer rows.Close()

	pins := make([]Pin, 0)
	for rows.Next() {
		p, err := scanPin(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pin: %w", err)
		}
		pins = append(pins, p)
	}
	return pins, rows.Err()
}

func scanPin(row pgx.Row) (Pin, error) {
	var (
		p         Pin
		createdAt time.Time
	)
	if err := row.Scan(&p.ID, &p.Price, &p.DistanceKm, &p.TimeSlot, &p.Weather, &p.Lat, &p.Lng, &p.DeleteTokenDigest, &createdAt); err != nil {
		return Pin{}, err
	}
	p.CreatedAt = createdAt.UTC()
	return p, nil
}
