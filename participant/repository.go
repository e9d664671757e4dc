package participant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested participant does not exist.
var ErrNotFound = errors.New("participant: not found")

// Repository provides read access to participant profiles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a participant profile by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Profile, error) {
	const query = `
		SELECT id, full_name, role, created_at
		FROM users
		WHERE id = $1
	`

	var profile Profile
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&profile.ID,
		&profile.FullName,
		&profile.Role,
		&profile.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("participant: query by id: %w", err)
	}

	return profile, nil
}

// List fetches up to limit participant profiles, optionally filtered by role,
// ordered by name.
func (r *Repository) List(ctx context.Context, role string, limit int) ([]Profile, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT id, full_name, role, created_at
		FROM users
		WHERE ($1 = '' OR role = $1)
		ORDER BY full_name ASC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, role, limit)
	if err != nil {
		return nil, fmt.Errorf("participant: list: %w", err)
	}
	defer rows.Close()

	profiles := make([]Profile, 0, limit)
	for rows.Next() {
		var profile Profile
		if err := rows.Scan(&profile.ID, &profile.FullName, &profile.Role, &profile.CreatedAt); err != nil {
			return nil, fmt.Errorf("participant: scan profile: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("participant: iterate profiles: %w", err)
	}

	return profiles, nil
}
