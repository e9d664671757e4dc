package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"channelflow/agreement"
	"channelflow/authorization"
	"channelflow/connection"
	"channelflow/disbursement"
	"channelflow/offer"
)

// PGStore implements Store against PostgreSQL. All writes touch only
// remote-owned columns; local lifecycle transitions stay with the owning
// services.
type PGStore struct {
	pool        *pgxpool.Pool
	connections *connection.PGRepository
}

func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool, connections: connection.NewRepository(pool)}
}

func (s *PGStore) ListAgreementRefs(ctx context.Context) ([]AgreementRef, error) {
	const query = `
		SELECT id, remote_agreement_id, remote_revision, status
		FROM agreements
		WHERE remote_agreement_id IS NOT NULL
		ORDER BY created_at
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list agreement refs: %w", err)
	}
	defer rows.Close()

	refs := []AgreementRef{}
	for rows.Next() {
		var ref AgreementRef
		if err := rows.Scan(&ref.LocalID, &ref.RemoteID, &ref.Revision, &ref.Status); err != nil {
			return nil, fmt.Errorf("reconcile: scan agreement ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *PGStore) GetAgreementRef(ctx context.Context, localID string) (AgreementRef, error) {
	const query = `
		SELECT id, remote_agreement_id, remote_revision, status
		FROM agreements
		WHERE id = $1 AND remote_agreement_id IS NOT NULL
	`

	var ref AgreementRef
	err := s.pool.QueryRow(ctx, query, localID).Scan(&ref.LocalID, &ref.RemoteID, &ref.Revision, &ref.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AgreementRef{}, ErrNoRemoteLink
		}
		return AgreementRef{}, fmt.Errorf("reconcile: get agreement ref: %w", err)
	}
	return ref, nil
}

// ApplyAgreementRemote writes the remote status and revision. Terminal local
// rows keep their status: the marketplace may lag behind a local
// termination, and a terminal state never reopens.
func (s *PGStore) ApplyAgreementRemote(ctx context.Context, localID string, status agreement.Status, hasStatus bool, revision int64) error {
	if !hasStatus {
		_, err := s.pool.Exec(ctx, `UPDATE agreements SET remote_revision = $1, updated_at = now() WHERE id = $2`, revision, localID)
		if err != nil {
			return fmt.Errorf("reconcile: apply agreement revision: %w", err)
		}
		return nil
	}

	const query = `
		UPDATE agreements
		SET status = CASE
			WHEN status IN ('renewed', 'replaced', 'cancelled', 'terminated', 'expired', 'archived') THEN status
			ELSE $1
		END,
		remote_revision = $2,
		remote_sync_status = 'synced',
		updated_at = now()
		WHERE id = $3
	`
	if _, err := s.pool.Exec(ctx, query, status, revision, localID); err != nil {
		return fmt.Errorf("reconcile: apply agreement remote: %w", err)
	}
	return nil
}

func (s *PGStore) ListOfferRefs(ctx context.Context) ([]OfferRef, error) {
	const query = `
		SELECT id, remote_offer_id, remote_revision, status
		FROM offers
		WHERE remote_offer_id IS NOT NULL
		ORDER BY created_at
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list offer refs: %w", err)
	}
	defer rows.Close()

	refs := []OfferRef{}
	for rows.Next() {
		var ref OfferRef
		if err := rows.Scan(&ref.LocalID, &ref.RemoteID, &ref.Revision, &ref.Status); err != nil {
			return nil, fmt.Errorf("reconcile: scan offer ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *PGStore) GetOfferRef(ctx context.Context, localID string) (OfferRef, error) {
	const query = `
		SELECT id, remote_offer_id, remote_revision, status
		FROM offers
		WHERE id = $1 AND remote_offer_id IS NOT NULL
	`

	var ref OfferRef
	err := s.pool.QueryRow(ctx, query, localID).Scan(&ref.LocalID, &ref.RemoteID, &ref.Revision, &ref.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OfferRef{}, ErrNoRemoteLink
		}
		return OfferRef{}, fmt.Errorf("reconcile: get offer ref: %w", err)
	}
	return ref, nil
}

func (s *PGStore) ApplyOfferRemote(ctx context.Context, localID string, status offer.Status, revision int64) error {
	const query = `
		UPDATE offers
		SET status = CASE
			WHEN status IN ('accepted', 'declined', 'expired', 'cancelled') THEN status
			ELSE $1
		END,
		remote_revision = $2,
		remote_sync_status = 'synced',
		updated_at = now()
		WHERE id = $3
	`
	if _, err := s.pool.Exec(ctx, query, status, revision, localID); err != nil {
		return fmt.Errorf("reconcile: apply offer remote: %w", err)
	}
	return nil
}

func (s *PGStore) ListAuthorizationRefs(ctx context.Context) ([]AuthorizationRef, error) {
	const query = `
		SELECT id, remote_authorization_id, remote_revision, status, grantor_id, product_id
		FROM resale_authorizations
		WHERE remote_authorization_id IS NOT NULL
		ORDER BY created_at
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list authorization refs: %w", err)
	}
	defer rows.Close()

	refs := []AuthorizationRef{}
	for rows.Next() {
		var ref AuthorizationRef
		if err := rows.Scan(&ref.LocalID, &ref.RemoteID, &ref.Revision, &ref.Status, &ref.GrantorID, &ref.ProductID); err != nil {
			return nil, fmt.Errorf("reconcile: scan authorization ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *PGStore) GetAuthorizationRef(ctx context.Context, localID string) (AuthorizationRef, error) {
	const query = `
		SELECT id, remote_authorization_id, remote_revision, status, grantor_id, product_id
		FROM resale_authorizations
		WHERE id = $1 AND remote_authorization_id IS NOT NULL
	`

	var ref AuthorizationRef
	err := s.pool.QueryRow(ctx, query, localID).Scan(&ref.LocalID, &ref.RemoteID, &ref.Revision, &ref.Status, &ref.GrantorID, &ref.ProductID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AuthorizationRef{}, ErrNoRemoteLink
		}
		return AuthorizationRef{}, fmt.Errorf("reconcile: get authorization ref: %w", err)
	}
	return ref, nil
}

func (s *PGStore) ApplyAuthorizationRemote(ctx context.Context, localID string, status authorization.Status, revision int64) error {
	const query = `
		UPDATE resale_authorizations
		SET status = CASE
			WHEN status IN ('cancelled', 'expired', 'rejected') THEN status
			ELSE $1
		END,
		remote_revision = $2,
		remote_sync_status = 'synced',
		updated_at = now()
		WHERE id = $3
	`
	if _, err := s.pool.Exec(ctx, query, status, revision, localID); err != nil {
		return fmt.Errorf("reconcile: apply authorization remote: %w", err)
	}
	return nil
}

func (s *PGStore) ListAuthorizationsNeedingRegistration(ctx context.Context) ([]authorization.Authorization, error) {
	const query = `
		SELECT id, product_id, grantor_id, reseller_id, status, availability_end_date, remote_authorization_id, remote_sync_status, remote_revision, created_at, updated_at
		FROM resale_authorizations
		WHERE remote_authorization_id IS NULL
		  AND remote_sync_status = 'error'
		  AND status NOT IN ('cancelled', 'expired', 'rejected')
		ORDER BY created_at
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list unregistered authorizations: %w", err)
	}
	defer rows.Close()

	items := []authorization.Authorization{}
	for rows.Next() {
		var a authorization.Authorization
		err := rows.Scan(
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
			return nil, fmt.Errorf("reconcile: scan authorization: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (s *PGStore) SetAuthorizationRemoteID(ctx context.Context, localID, remoteID string) error {
	const query = `
		UPDATE resale_authorizations
		SET remote_authorization_id = $1, remote_sync_status = 'requested', updated_at = now()
		WHERE id = $2
	`
	if _, err := s.pool.Exec(ctx, query, remoteID, localID); err != nil {
		return fmt.Errorf("reconcile: set authorization remote id: %w", err)
	}
	return nil
}

func (s *PGStore) LookupAgreementByRemoteID(ctx context.Context, remoteID string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `SELECT id FROM agreements WHERE remote_agreement_id = $1`, remoteID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", agreement.ErrNotFound
		}
		return "", fmt.Errorf("reconcile: lookup agreement by remote id: %w", err)
	}
	return id, nil
}

// UpsertDisbursement inserts or refreshes a payout row keyed by its remote
// id, revision-guarded so replays and out-of-order batches are harmless.
func (s *PGStore) UpsertDisbursement(ctx context.Context, d disbursement.Disbursement) error {
	const query = `
		INSERT INTO disbursements (agreement_id, remote_disbursement_id, amount_cents, currency, period_start, period_end, status, remote_revision)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (remote_disbursement_id) DO UPDATE
		SET amount_cents = EXCLUDED.amount_cents,
		    currency = EXCLUDED.currency,
		    period_start = EXCLUDED.period_start,
		    period_end = EXCLUDED.period_end,
		    status = EXCLUDED.status,
		    remote_revision = EXCLUDED.remote_revision,
		    updated_at = now()
		WHERE disbursements.remote_revision < EXCLUDED.remote_revision
	`
	_, err := s.pool.Exec(ctx, query,
		d.AgreementID,
		d.RemoteDisbursementID,
		d.AmountCents,
		d.Currency,
		d.PeriodStart,
		d.PeriodEnd,
		d.Status,
		d.RemoteRevision,
	)
	if err != nil {
		return fmt.Errorf("reconcile: upsert disbursement: %w", err)
	}
	return nil
}

// MarkConnectionAuthorized elevates the accepted connection between the
// pair to authorized. A missing or non-accepted connection is not an
// error: the update is a mirror, not a transition of record.
func (s *PGStore) MarkConnectionAuthorized(ctx context.Context, grantorID, resellerID, remoteID string) error {
	if err := s.connections.MarkAuthorized(ctx, grantorID, resellerID, remoteID); err != nil {
		return fmt.Errorf("reconcile: mark connection authorized: %w", err)
	}
	return nil
}

func (s *PGStore) ExpireOverdueAuthorizations(ctx context.Context, now time.Time) (int64, error) {
	const query = `
		UPDATE resale_authorizations
		SET status = 'expired', updated_at = now()
		WHERE availability_end_date IS NOT NULL
		  AND availability_end_date < $1
		  AND status NOT IN ('cancelled', 'expired', 'rejected')
	`
	tag, err := s.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("reconcile: expire overdue authorizations: %w", err)
	}
	return tag.RowsAffected(), nil
}
