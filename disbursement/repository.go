package disbursement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested disbursement does not exist.
var ErrNotFound = errors.New("disbursement: not found")

const disbursementColumns = `id, agreement_id, remote_disbursement_id, amount_cents, currency, period_start, period_end, status, remote_revision, created_at, updated_at`

// PGRepository implements disbursement data access backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Get fetches a disbursement by id.
func (r *PGRepository) Get(ctx context.Context, id string) (Disbursement, error) {
	const query = `
		SELECT ` + disbursementColumns + `
		FROM disbursements
		WHERE id = $1
	`

	d, err := scanDisbursement(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Disbursement{}, ErrNotFound
		}
		return Disbursement{}, fmt.Errorf("disbursement: get: %w", err)
	}
	return d, nil
}

// ListByAgreement fetches disbursements attached to an agreement, newest first.
func (r *PGRepository) ListByAgreement(ctx context.Context, agreementID string, limit int) ([]Disbursement, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	const query = `
		SELECT ` + disbursementColumns + `
		FROM disbursements
		WHERE agreement_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, agreementID, limit)
	if err != nil {
		return nil, fmt.Errorf("disbursement: list by agreement: %w", err)
	}
	defer rows.Close()

	items := []Disbursement{}
	for rows.Next() {
		d, err := scanDisbursement(rows)
		if err != nil {
			return nil, fmt.Errorf("disbursement: scan: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("disbursement: iterate: %w", err)
	}

	return items, nil
}

func scanDisbursement(row pgx.Row) (Disbursement, error) {
	var d Disbursement
	err := row.Scan(
		&d.ID,
		&d.AgreementID,
		&d.RemoteDisbursementID,
		&d.AmountCents,
		&d.Currency,
		&d.PeriodStart,
		&d.PeriodEnd,
		&d.Status,
		&d.RemoteRevision,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return Disbursement{}, err
	}
	return d, nil
}
