package agreement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the requested agreement does not exist.
	ErrNotFound = errors.New("agreement: not found")
	// ErrAlreadyRenewed signals the parent already has a forward link.
	ErrAlreadyRenewed = errors.New("agreement: parent already renewed")
)

const agreementColumns = `id, offer_id, proposer_id, acceptor_id, product_id, price_cents, currency, duration_days, terms, status, parent_agreement_id, remote_agreement_id, remote_sync_status, remote_revision, notes, created_at, updated_at`

// CreateFromOfferParams enumerates the snapshot written when an offer is accepted.
type CreateFromOfferParams struct {
	OfferID      string
	ProposerID   string
	AcceptorID   string
	ProductID    string
	PriceCents   int64
	Currency     string
	DurationDays int
	Terms        string
}

// PGRepository implements agreement data access backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateFromOffer materialises a new active agreement from an accepted offer.
// It is designed to be invoked inside the caller's transaction so the offer
// lock guards against double acceptance.
func (r *PGRepository) CreateFromOffer(ctx context.Context, tx pgx.Tx, params CreateFromOfferParams) (Agreement, error) {
	if params.OfferID == "" {
		return Agreement{}, fmt.Errorf("agreement: missing offer id")
	}
	if params.ProposerID == "" || params.AcceptorID == "" {
		return Agreement{}, fmt.Errorf("agreement: missing party ids")
	}

	const query = `
		INSERT INTO agreements (offer_id, proposer_id, acceptor_id, product_id, price_cents, currency, duration_days, terms, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'active')
		RETURNING ` + agreementColumns + `
	`

	created, err := scanAgreement(tx.QueryRow(ctx, query,
		params.OfferID,
		params.ProposerID,
		params.AcceptorID,
		params.ProductID,
		params.PriceCents,
		params.Currency,
		params.DurationDays,
		params.Terms,
	))
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: insert from offer: %w", err)
	}
	return created, nil
}

// CreateChild inserts a renewal/amendment agreement linked to its parent.
// The UNIQUE constraint on parent_agreement_id backstops the one-child rule
// under concurrency.
func (r *PGRepository) CreateChild(ctx context.Context, tx pgx.Tx, parent Agreement, params CreateFromOfferParams) (Agreement, error) {
	const query = `
		INSERT INTO agreements (offer_id, proposer_id, acceptor_id, product_id, price_cents, currency, duration_days, terms, status, parent_agreement_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'active', $9)
		RETURNING ` + agreementColumns + `
	`

	created, err := scanAgreement(tx.QueryRow(ctx, query,
		params.OfferID,
		params.ProposerID,
		params.AcceptorID,
		params.ProductID,
		params.PriceCents,
		params.Currency,
		params.DurationDays,
		params.Terms,
		parent.ID,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Agreement{}, ErrAlreadyRenewed
		}
		return Agreement{}, fmt.Errorf("agreement: insert child: %w", err)
	}
	return created, nil
}

// GetForUpdate fetches an agreement by id and locks the row.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Agreement, error) {
	const query = `
		SELECT ` + agreementColumns + `
		FROM agreements
		WHERE id = $1
		FOR UPDATE
	`

	a, err := scanAgreement(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrNotFound
		}
		return Agreement{}, fmt.Errorf("agreement: get for update: %w", err)
	}
	return a, nil
}

// HasChild reports whether the agreement already has a forward link.
func (r *PGRepository) HasChild(ctx context.Context, tx pgx.Tx, id string) (bool, error) {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM agreements WHERE parent_agreement_id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("agreement: has child: %w", err)
	}
	return exists, nil
}

// UpdateStatus rewrites the status of an agreement row.
func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Agreement, error) {
	const query = `
		UPDATE agreements
		SET status = $1, updated_at = now()
		WHERE id = $2
		RETURNING ` + agreementColumns + `
	`

	a, err := scanAgreement(tx.QueryRow(ctx, query, status, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrNotFound
		}
		return Agreement{}, fmt.Errorf("agreement: update status: %w", err)
	}
	return a, nil
}

// Get fetches an agreement by id.
func (r *PGRepository) Get(ctx context.Context, id string) (Agreement, error) {
	const query = `
		SELECT ` + agreementColumns + `
		FROM agreements
		WHERE id = $1
	`

	a, err := scanAgreement(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrNotFound
		}
		return Agreement{}, fmt.Errorf("agreement: get: %w", err)
	}
	return a, nil
}

// ListByParty fetches agreements where the participant is proposer or
// acceptor, newest first.
func (r *PGRepository) ListByParty(ctx context.Context, userID string, limit int) ([]Agreement, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	const query = `
		SELECT ` + agreementColumns + `
		FROM agreements
		WHERE proposer_id = $1 OR acceptor_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("agreement: list by party: %w", err)
	}
	defer rows.Close()

	items := []Agreement{}
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, fmt.Errorf("agreement: scan: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agreement: iterate: %w", err)
	}

	return items, nil
}

func scanAgreement(row pgx.Row) (Agreement, error) {
	var a Agreement
	err := row.Scan(
		&a.ID,
		&a.OfferID,
		&a.ProposerID,
		&a.AcceptorID,
		&a.ProductID,
		&a.PriceCents,
		&a.Currency,
		&a.DurationDays,
		&a.Terms,
		&a.Status,
		&a.ParentAgreementID,
		&a.RemoteAgreementID,
		&a.RemoteSyncStatus,
		&a.RemoteRevision,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return Agreement{}, err
	}
	return a, nil
}
