package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested connection does not exist.
var ErrNotFound = errors.New("connection: not found")

const connectionColumns = `id, party_a_id, party_b_id, requester_id, status, remote_connection_id, remote_sync_status, created_at, updated_at`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindLiveByPair returns the non-terminal connection for the unordered pair,
// locking it for the duration of the transaction.
func (r *PGRepository) FindLiveByPair(ctx context.Context, tx pgx.Tx, partyA, partyB string) (Connection, error) {
	const query = `
		SELECT ` + connectionColumns + `
		FROM connections
		WHERE LEAST(party_a_id, party_b_id) = LEAST($1::uuid, $2::uuid)
		  AND GREATEST(party_a_id, party_b_id) = GREATEST($1::uuid, $2::uuid)
		  AND status IN ('pending', 'accepted', 'authorized')
		FOR UPDATE
	`

	conn, err := scanConnection(tx.QueryRow(ctx, query, partyA, partyB))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Connection{}, ErrNotFound
		}
		return Connection{}, fmt.Errorf("connection: find live by pair: %w", err)
	}
	return conn, nil
}

// Create inserts a new connection row. The partial unique index on the
// unordered pair backstops the duplicate check under concurrency.
func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, conn Connection) (Connection, error) {
	const query = `
		INSERT INTO connections (id, party_a_id, party_b_id, requester_id, status)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5)
		RETURNING ` + connectionColumns + `
	`

	created, err := scanConnection(tx.QueryRow(ctx, query, conn.ID, conn.PartyAID, conn.PartyBID, conn.RequesterID, conn.Status))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Connection{}, ErrDuplicateConnection
		}
		return Connection{}, fmt.Errorf("connection: insert: %w", err)
	}
	return created, nil
}

// GetForUpdate fetches a connection by id and locks the row.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Connection, error) {
	const query = `
		SELECT ` + connectionColumns + `
		FROM connections
		WHERE id = $1
		FOR UPDATE
	`

	conn, err := scanConnection(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Connection{}, ErrNotFound
		}
		return Connection{}, fmt.Errorf("connection: get for update: %w", err)
	}
	return conn, nil
}

// UpdateStatus rewrites the status of a connection row.
func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Connection, error) {
	const query = `
		UPDATE connections
		SET status = $1, updated_at = now()
		WHERE id = $2
		RETURNING ` + connectionColumns + `
	`

	conn, err := scanConnection(tx.QueryRow(ctx, query, status, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Connection{}, ErrNotFound
		}
		return Connection{}, fmt.Errorf("connection: update status: %w", err)
	}
	return conn, nil
}

// LatestByPair returns the most recent connection record for the unordered
// pair, regardless of status.
func (r *PGRepository) LatestByPair(ctx context.Context, partyA, partyB string) (Connection, error) {
	const query = `
		SELECT ` + connectionColumns + `
		FROM connections
		WHERE LEAST(party_a_id, party_b_id) = LEAST($1::uuid, $2::uuid)
		  AND GREATEST(party_a_id, party_b_id) = GREATEST($1::uuid, $2::uuid)
		ORDER BY created_at DESC
		LIMIT 1
	`

	conn, err := scanConnection(r.pool.QueryRow(ctx, query, partyA, partyB))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Connection{}, ErrNotFound
		}
		return Connection{}, fmt.Errorf("connection: latest by pair: %w", err)
	}
	return conn, nil
}

// MarkAuthorized elevates an accepted connection after the remote marketplace
// confirms the pair. Used by reconciliation only.
func (r *PGRepository) MarkAuthorized(ctx context.Context, partyA, partyB, remoteID string) error {
	const query = `
		UPDATE connections
		SET status = 'authorized',
		    remote_connection_id = $3,
		    remote_sync_status = 'synced',
		    updated_at = now()
		WHERE LEAST(party_a_id, party_b_id) = LEAST($1::uuid, $2::uuid)
		  AND GREATEST(party_a_id, party_b_id) = GREATEST($1::uuid, $2::uuid)
		  AND status = 'accepted'
	`

	if _, err := r.pool.Exec(ctx, query, partyA, partyB, remoteID); err != nil {
		return fmt.Errorf("connection: mark authorized: %w", err)
	}
	return nil
}

func scanConnection(row pgx.Row) (Connection, error) {
	var conn Connection
	err := row.Scan(
		&conn.ID,
		&conn.PartyAID,
		&conn.PartyBID,
		&conn.RequesterID,
		&conn.Status,
		&conn.RemoteConnectionID,
		&conn.RemoteSyncStatus,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if err != nil {
		return Connection{}, err
	}
	return conn, nil
}
