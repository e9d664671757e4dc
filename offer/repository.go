package offer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the requested offer does not exist.
	ErrNotFound = errors.New("offer: not found")
	// ErrRecipientNotFound signals the participant is not on the offer's recipient list.
	ErrRecipientNotFound = errors.New("offer: recipient not found")
	// ErrDuplicateRecipient signals the participant is already on the recipient list.
	ErrDuplicateRecipient = errors.New("offer: duplicate recipient")
)

const offerColumns = `id, product_id, creator_id, authorization_id, visibility, status, price_cents, currency, duration_days, terms, valid_from, valid_until, remote_offer_id, remote_sync_status, remote_revision, notes, created_at, updated_at`

const recipientColumns = `id, offer_id, recipient_id, notified_at, viewed_at, responded_at, response`

// PGRepository implements offer data access backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Create inserts a draft offer. An empty ID delegates generation to the database.
func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, o Offer) (Offer, error) {
	const query = `
		INSERT INTO offers (id, product_id, creator_id, authorization_id, visibility, status, price_cents, currency, duration_days, terms, valid_from, valid_until)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + offerColumns + `
	`

	created, err := scanOffer(tx.QueryRow(ctx, query,
		o.ID,
		o.ProductID,
		o.CreatorID,
		o.AuthorizationID,
		o.Visibility,
		o.Status,
		o.PriceCents,
		o.Currency,
		o.DurationDays,
		o.Terms,
		o.ValidFrom,
		o.ValidUntil,
	))
	if err != nil {
		return Offer{}, fmt.Errorf("offer: insert: %w", err)
	}
	return created, nil
}

// AddRecipient appends a recipient to the offer. The UNIQUE constraint on
// (offer_id, recipient_id) rejects duplicates.
func (r *PGRepository) AddRecipient(ctx context.Context, tx pgx.Tx, offerID, recipientID string) (Recipient, error) {
	const query = `
		INSERT INTO offer_recipients (offer_id, recipient_id, notified_at, response)
		VALUES ($1, $2, now(), 'none')
		RETURNING ` + recipientColumns + `
	`

	rec, err := scanRecipient(tx.QueryRow(ctx, query, offerID, recipientID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Recipient{}, ErrDuplicateRecipient
		}
		return Recipient{}, fmt.Errorf("offer: insert recipient: %w", err)
	}
	return rec, nil
}

// GetForUpdate fetches an offer by id and locks the row.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Offer, error) {
	const query = `
		SELECT ` + offerColumns + `
		FROM offers
		WHERE id = $1
		FOR UPDATE
	`

	o, err := scanOffer(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrNotFound
		}
		return Offer{}, fmt.Errorf("offer: get for update: %w", err)
	}
	return o, nil
}

// UpdateStatus rewrites the status of an offer row.
func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Offer, error) {
	const query = `
		UPDATE offers
		SET status = $1, updated_at = now()
		WHERE id = $2
		RETURNING ` + offerColumns + `
	`

	o, err := scanOffer(tx.QueryRow(ctx, query, status, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrNotFound
		}
		return Offer{}, fmt.Errorf("offer: update status: %w", err)
	}
	return o, nil
}

// GetRecipient fetches one recipient's join record.
func (r *PGRepository) GetRecipient(ctx context.Context, tx pgx.Tx, offerID, recipientID string) (Recipient, error) {
	const query = `
		SELECT ` + recipientColumns + `
		FROM offer_recipients
		WHERE offer_id = $1 AND recipient_id = $2
	`

	rec, err := scanRecipient(tx.QueryRow(ctx, query, offerID, recipientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Recipient{}, ErrRecipientNotFound
		}
		return Recipient{}, fmt.Errorf("offer: get recipient: %w", err)
	}
	return rec, nil
}

// MarkResponse stamps the recipient's response and response time.
func (r *PGRepository) MarkResponse(ctx context.Context, tx pgx.Tx, offerID, recipientID string, response Response) (Recipient, error) {
	const query = `
		UPDATE offer_recipients
		SET response = $1, responded_at = now()
		WHERE offer_id = $2 AND recipient_id = $3
		RETURNING ` + recipientColumns + `
	`

	rec, err := scanRecipient(tx.QueryRow(ctx, query, response, offerID, recipientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Recipient{}, ErrRecipientNotFound
		}
		return Recipient{}, fmt.Errorf("offer: mark response: %w", err)
	}
	return rec, nil
}

// CountUnresponded counts recipients who have not answered yet.
func (r *PGRepository) CountUnresponded(ctx context.Context, tx pgx.Tx, offerID string) (int, error) {
	var count int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM offer_recipients WHERE offer_id = $1 AND response = 'none'`, offerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("offer: count unresponded: %w", err)
	}
	return count, nil
}

// CountRecipients counts all recipients of an offer.
func (r *PGRepository) CountRecipients(ctx context.Context, tx pgx.Tx, offerID string) (int, error) {
	var count int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM offer_recipients WHERE offer_id = $1`, offerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("offer: count recipients: %w", err)
	}
	return count, nil
}

// Get fetches an offer by id.
func (r *PGRepository) Get(ctx context.Context, id string) (Offer, error) {
	const query = `
		SELECT ` + offerColumns + `
		FROM offers
		WHERE id = $1
	`

	o, err := scanOffer(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrNotFound
		}
		return Offer{}, fmt.Errorf("offer: get: %w", err)
	}
	return o, nil
}

// ListRecipients fetches all recipient records for an offer.
func (r *PGRepository) ListRecipients(ctx context.Context, offerID string) ([]Recipient, error) {
	const query = `
		SELECT ` + recipientColumns + `
		FROM offer_recipients
		WHERE offer_id = $1
		ORDER BY notified_at
	`

	rows, err := r.pool.Query(ctx, query, offerID)
	if err != nil {
		return nil, fmt.Errorf("offer: list recipients: %w", err)
	}
	defer rows.Close()

	items := []Recipient{}
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("offer: scan recipient: %w", err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("offer: iterate recipients: %w", err)
	}

	return items, nil
}

// ListByCreator fetches offers created by the participant, newest first.
func (r *PGRepository) ListByCreator(ctx context.Context, creatorID string, limit int) ([]Offer, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	const query = `
		SELECT ` + offerColumns + `
		FROM offers
		WHERE creator_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	return r.listOffers(ctx, query, creatorID, limit)
}

// ListForRecipient fetches offers explicitly addressed to the participant,
// newest first.
func (r *PGRepository) ListForRecipient(ctx context.Context, recipientID string, limit int) ([]Offer, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	const query = `
		SELECT o.` + "id, o.product_id, o.creator_id, o.authorization_id, o.visibility, o.status, o.price_cents, o.currency, o.duration_days, o.terms, o.valid_from, o.valid_until, o.remote_offer_id, o.remote_sync_status, o.remote_revision, o.notes, o.created_at, o.updated_at" + `
		FROM offers o
		JOIN offer_recipients rec ON rec.offer_id = o.id
		WHERE rec.recipient_id = $1
		ORDER BY o.created_at DESC
		LIMIT $2
	`

	return r.listOffers(ctx, query, recipientID, limit)
}

func (r *PGRepository) listOffers(ctx context.Context, query string, args ...any) ([]Offer, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("offer: list: %w", err)
	}
	defer rows.Close()

	items := []Offer{}
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("offer: scan: %w", err)
		}
		items = append(items, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("offer: iterate: %w", err)
	}

	return items, nil
}

func scanOffer(row pgx.Row) (Offer, error) {
	var o Offer
	err := row.Scan(
		&o.ID,
		&o.ProductID,
		&o.CreatorID,
		&o.AuthorizationID,
		&o.Visibility,
		&o.Status,
		&o.PriceCents,
		&o.Currency,
		&o.DurationDays,
		&o.Terms,
		&o.ValidFrom,
		&o.ValidUntil,
		&o.RemoteOfferID,
		&o.RemoteSyncStatus,
		&o.RemoteRevision,
		&o.Notes,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return Offer{}, err
	}
	return o, nil
}

// SetRemoteRegistration stores the marketplace id handed back by a
// successful registration and marks the row as awaiting confirmation.
func (r *PGRepository) SetRemoteRegistration(ctx context.Context, id, remoteID string) error {
	const query = `
		UPDATE offers
		SET remote_offer_id = $1, remote_sync_status = 'requested', updated_at = now()
		WHERE id = $2
	`

	if _, err := r.pool.Exec(ctx, query, remoteID, id); err != nil {
		return fmt.Errorf("offer: set remote registration: %w", err)
	}
	return nil
}

// SetRemoteSyncStatus records the outcome of a remote registration attempt.
func (r *PGRepository) SetRemoteSyncStatus(ctx context.Context, id, syncStatus string) error {
	const query = `
		UPDATE offers
		SET remote_sync_status = $1, updated_at = now()
		WHERE id = $2
	`

	if _, err := r.pool.Exec(ctx, query, syncStatus, id); err != nil {
		return fmt.Errorf("offer: set remote sync status: %w", err)
	}
	return nil
}

func scanRecipient(row pgx.Row) (Recipient, error) {
	var rec Recipient
	err := row.Scan(
		&rec.ID,
		&rec.OfferID,
		&rec.RecipientID,
		&rec.NotifiedAt,
		&rec.ViewedAt,
		&rec.RespondedAt,
		&rec.Response,
	)
	if err != nil {
		return Recipient{}, err
	}
	return rec, nil
}
