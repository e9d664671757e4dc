package authorization

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested authorization does not exist.
var ErrNotFound = errors.New("authorization: not found")

const authorizationColumns = `id, product_id, grantor_id, reseller_id, status, availability_end_date, remote_authorization_id, remote_sync_status, remote_revision, created_at, updated_at`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindLiveByProductReseller returns the non-terminal authorization for the
// product+reseller pair, locking it for the duration of the transaction.
func (r *PGRepository) FindLiveByProductReseller(ctx context.Context, tx pgx.Tx, productID, resellerID string) (Authorization, error) {
	const query = `
		SELECT ` + authorizationColumns + `
		FROM resale_authorizations
		WHERE product_id = $1
		  AND reseller_id = $2
		  AND status NOT IN ('cancelled', 'expired', 'rejected')
		FOR UPDATE
	`

	a, err := scanAuthorization(tx.QueryRow(ctx, query, productID, resellerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Authorization{}, ErrNotFound
		}
		return Authorization{}, fmt.Errorf("authorization: find live: %w", err)
	}
	return a, nil
}

// Create inserts a new authorization row. The partial unique index on
// (product_id, reseller_id) backstops the duplicate check under concurrency.
func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, a Authorization) (Authorization, error) {
	const query = `
		INSERT INTO resale_authorizations (id, product_id, grantor_id, reseller_id, status, availability_end_date)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6)
		RETURNING ` + authorizationColumns + `
	`

	created, err := scanAuthorization(tx.QueryRow(ctx, query, a.ID, a.ProductID, a.GrantorID, a.ResellerID, a.Status, a.AvailabilityEndDate))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Authorization{}, ErrDuplicateAuthorization
		}
		return Authorization{}, fmt.Errorf("authorization: insert: %w", err)
	}
	return created, nil
}

// GetForUpdate fetches an authorization by id and locks the row.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Authorization, error) {
	const query = `
		SELECT ` + authorizationColumns + `
		FROM resale_authorizations
		WHERE id = $1
		FOR UPDATE
	`

	a, err := scanAuthorization(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Authorization{}, ErrNotFound
		}
		return Authorization{}, fmt.Errorf("authorization: get for update: %w", err)
	}
	return a, nil
}

// UpdateStatus rewrites the status of an authorization row.
func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Authorization, error) {
	const query = `
		UPDATE resale_authorizations
		SET status = $1, updated_at = now()
		WHERE id = $2
		RETURNING ` + authorizationColumns + `
	`

	a, err := scanAuthorization(tx.QueryRow(ctx, query, status, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Authorization{}, ErrNotFound
		}
		return Authorization{}, fmt.Errorf("authorization: update status: %w", err)
	}
	return a, nil
}

// Get fetches an authorization by id.
func (r *PGRepository) Get(ctx context.Context, id string) (Authorization, error) {
	const query = `
		SELECT ` + authorizationColumns + `
		FROM resale_authorizations
		WHERE id = $1
	`

	a, err := scanAuthorization(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Authorization{}, ErrNotFound
		}
		return Authorization{}, fmt.Errorf("authorization: get: %w", err)
	}
	return a, nil
}

// ListByGrantor fetches authorizations granted by the vendor, newest first.
func (r *PGRepository) ListByGrantor(ctx context.Context, grantorID string) ([]Authorization, error) {
	return r.list(ctx, `grantor_id`, grantorID)
}

// ListByReseller fetches authorizations received by the reseller, newest first.
func (r *PGRepository) ListByReseller(ctx context.Context, resellerID string) ([]Authorization, error) {
	return r.list(ctx, `reseller_id`, resellerID)
}

func (r *PGRepository) list(ctx context.Context, column, userID string) ([]Authorization, error) {
	query := `
		SELECT ` + authorizationColumns + `
		FROM resale_authorizations
		WHERE ` + column + ` = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("authorization: list by %s: %w", column, err)
	}
	defer rows.Close()

	items := []Authorization{}
	for rows.Next() {
		a, err := scanAuthorization(rows)
		if err != nil {
			return nil, fmt.Errorf("authorization: scan: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("authorization: iterate: %w", err)
	}

	return items, nil
}

// SetRemoteRegistration stores the marketplace id handed back by a
// successful registration and marks the row as awaiting confirmation.
func (r *PGRepository) SetRemoteRegistration(ctx context.Context, id, remoteID string) error {
	const query = `
		UPDATE resale_authorizations
		SET remote_authorization_id = $1, remote_sync_status = 'requested', updated_at = now()
		WHERE id = $2
	`

	if _, err := r.pool.Exec(ctx, query, remoteID, id); err != nil {
		return fmt.Errorf("authorization: set remote registration: %w", err)
	}
	return nil
}

// SetRemoteSyncStatus records the outcome of a remote registration attempt.
func (r *PGRepository) SetRemoteSyncStatus(ctx context.Context, id, syncStatus string) error {
	const query = `
		UPDATE resale_authorizations
		SET remote_sync_status = $1, updated_at = now()
		WHERE id = $2
	`

	if _, err := r.pool.Exec(ctx, query, syncStatus, id); err != nil {
		return fmt.Errorf("authorization: set remote sync status: %w", err)
	}
	return nil
}

func scanAuthorization(row pgx.Row) (Authorization, error) {
	var a Authorization
	err := row.Scan(
		&a.ID,
		&a.ProductID,
		&a.GrantorID,
		&a.ResellerID,
		&a.Status,
		&a.AvailabilityEndDate,
		&a.RemoteAuthorizationID,
		&a.RemoteSyncStatus,
		&a.RemoteRevision,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return Authorization{}, err
	}
	return a, nil
}
