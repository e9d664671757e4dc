package offer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"channelflow/agreement"
	"channelflow/authorization"
	"channelflow/outbox"
	"channelflow/participant"
	"channelflow/product"
)

var (
	// ErrNotAuthorized signals the acting party may not perform this operation.
	ErrNotAuthorized = errors.New("offer: not authorized")
	// ErrInvalidTransition signals the transition is not reachable from the current status.
	ErrInvalidTransition = errors.New("offer: invalid transition")
	// ErrOfferNoLongerActive signals the offer left the acceptable states,
	// typically because another recipient accepted first.
	ErrOfferNoLongerActive = errors.New("offer: no longer active")
	// ErrAuthorizationRequired signals a reseller-created offer lacks a usable resale authorization.
	ErrAuthorizationRequired = errors.New("offer: resale authorization required")
	// ErrNoRecipients signals a private offer has no target accounts.
	ErrNoRecipients = errors.New("offer: private offer requires at least one recipient")
	// ErrUnexpectedRecipients signals a public offer carries explicit targets.
	ErrUnexpectedRecipients = errors.New("offer: public offer must not have recipients")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access required by the service.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, o Offer) (Offer, error)
	AddRecipient(ctx context.Context, tx pgx.Tx, offerID, recipientID string) (Recipient, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Offer, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Offer, error)
	GetRecipient(ctx context.Context, tx pgx.Tx, offerID, recipientID string) (Recipient, error)
	MarkResponse(ctx context.Context, tx pgx.Tx, offerID, recipientID string, response Response) (Recipient, error)
	CountUnresponded(ctx context.Context, tx pgx.Tx, offerID string) (int, error)
	CountRecipients(ctx context.Context, tx pgx.Tx, offerID string) (int, error)
	Get(ctx context.Context, id string) (Offer, error)
	ListRecipients(ctx context.Context, offerID string) ([]Recipient, error)
	ListByCreator(ctx context.Context, creatorID string, limit int) ([]Offer, error)
	ListForRecipient(ctx context.Context, recipientID string, limit int) ([]Offer, error)
	SetRemoteRegistration(ctx context.Context, id, remoteID string) error
	SetRemoteSyncStatus(ctx context.Context, id, syncStatus string) error
}

// Registrar submits published offers to the remote marketplace.
type Registrar interface {
	RegisterOffer(ctx context.Context, o Offer) (remoteID string, err error)
}

// AgreementCreator materialises an agreement inside the offer-accept transaction.
type AgreementCreator interface {
	CreateFromOffer(ctx context.Context, tx pgx.Tx, params agreement.CreateFromOfferParams) (agreement.Agreement, error)
}

// AuthorizationReader looks up resale authorizations with effective status applied.
type AuthorizationReader interface {
	Get(ctx context.Context, id string) (authorization.Authorization, error)
}

// ProductReader looks up products.
type ProductReader interface {
	GetByID(ctx context.Context, id string) (product.Product, error)
}

// RoleReader looks up participant profiles.
type RoleReader interface {
	GetByID(ctx context.Context, id string) (participant.Profile, error)
}

// OutboxWriter enqueues domain events inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service owns the offer lifecycle and the offer-to-agreement progression.
type Service struct {
	pool           TxBeginner
	repo           Repository
	agreements     AgreementCreator
	authorizations AuthorizationReader
	products       ProductReader
	profiles       RoleReader
	outbox         OutboxWriter
	registrar      Registrar
	idGenerator    func() string
	now            func() time.Time
}

func NewService(pool TxBeginner, repo Repository, agreements AgreementCreator, authorizations AuthorizationReader, products ProductReader, profiles RoleReader, outbox OutboxWriter) *Service {
	return &Service{
		pool:           pool,
		repo:           repo,
		agreements:     agreements,
		authorizations: authorizations,
		products:       products,
		profiles:       profiles,
		outbox:         outbox,
		idGenerator:    func() string { return uuid.NewString() },
		now:            time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithIDGenerator overrides id generation, for tests.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// WithRegistrar enables remote registration of published offers.
func (s *Service) WithRegistrar(r Registrar) *Service {
	s.registrar = r
	return s
}

// CreateParams contains the inputs for drafting an offer.
type CreateParams struct {
	CreatorID       string
	ProductID       string
	AuthorizationID string
	Visibility      Visibility
	PriceCents      int64
	Currency        string
	DurationDays    int
	Terms           string
	ValidFrom       *time.Time
	ValidUntil      *time.Time
	Recipients      []string
}

// Create drafts an offer. Vendors may offer their own products; resellers
// must hold an active resale authorization for the product.
func (s *Service) Create(ctx context.Context, params CreateParams) (Offer, error) {
	if params.CreatorID == "" || params.ProductID == "" {
		return Offer{}, fmt.Errorf("offer: creator and product ids required")
	}
	if params.PriceCents <= 0 {
		return Offer{}, fmt.Errorf("offer: invalid price")
	}
	if params.Currency == "" {
		params.Currency = "USD"
	}
	if params.DurationDays <= 0 {
		params.DurationDays = 365
	}
	if params.Visibility == "" {
		params.Visibility = VisibilityPrivate
	}
	if params.Visibility != VisibilityPublic && params.Visibility != VisibilityPrivate {
		return Offer{}, fmt.Errorf("offer: invalid visibility %q", params.Visibility)
	}
	if params.ValidFrom != nil && params.ValidUntil != nil && !params.ValidFrom.Before(*params.ValidUntil) {
		return Offer{}, fmt.Errorf("offer: invalid validity window")
	}

	prod, err := s.products.GetByID(ctx, params.ProductID)
	if err != nil {
		return Offer{}, fmt.Errorf("offer: lookup product: %w", err)
	}

	creator, err := s.profiles.GetByID(ctx, params.CreatorID)
	if err != nil {
		return Offer{}, fmt.Errorf("offer: lookup creator: %w", err)
	}

	var authorizationID *string
	switch creator.Role {
	case participant.RoleVendor:
		if prod.VendorID != params.CreatorID {
			return Offer{}, ErrNotAuthorized
		}
	case participant.RoleReseller:
		if params.AuthorizationID == "" {
			return Offer{}, ErrAuthorizationRequired
		}
		auth, err := s.authorizations.Get(ctx, params.AuthorizationID)
		if err != nil {
			return Offer{}, fmt.Errorf("offer: lookup authorization: %w", err)
		}
		if auth.ResellerID != params.CreatorID || auth.ProductID != params.ProductID {
			return Offer{}, ErrAuthorizationRequired
		}
		if auth.Status != authorization.StatusActive {
			return Offer{}, ErrAuthorizationRequired
		}
		authorizationID = &params.AuthorizationID
	default:
		return Offer{}, ErrNotAuthorized
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Offer{}, fmt.Errorf("offer: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Create(ctx, tx, Offer{
		ID:              s.idGenerator(),
		ProductID:       params.ProductID,
		CreatorID:       params.CreatorID,
		AuthorizationID: authorizationID,
		Visibility:      params.Visibility,
		Status:          StatusDraft,
		PriceCents:      params.PriceCents,
		Currency:        params.Currency,
		DurationDays:    params.DurationDays,
		Terms:           params.Terms,
		ValidFrom:       params.ValidFrom,
		ValidUntil:      params.ValidUntil,
	})
	if err != nil {
		return Offer{}, err
	}

	for _, recipientID := range params.Recipients {
		if recipientID == params.CreatorID {
			return Offer{}, fmt.Errorf("offer: creator cannot be a recipient")
		}
		if _, err := s.repo.AddRecipient(ctx, tx, created.ID, recipientID); err != nil {
			return Offer{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Offer{}, fmt.Errorf("offer: commit tx: %w", err)
	}

	return created, nil
}

// Publish moves a draft offer to pending after validating visibility rules:
// private offers need at least one explicit target, public offers none.
func (s *Service) Publish(ctx context.Context, offerID, actingUserID string) (Offer, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Offer{}, fmt.Errorf("offer: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.repo.GetForUpdate(ctx, tx, offerID)
	if err != nil {
		return Offer{}, err
	}
	if o.CreatorID != actingUserID {
		return Offer{}, ErrNotAuthorized
	}
	if o.Status != StatusDraft {
		return Offer{}, ErrInvalidTransition
	}

	count, err := s.repo.CountRecipients(ctx, tx, offerID)
	if err != nil {
		return Offer{}, err
	}
	if o.Visibility == VisibilityPrivate && count == 0 {
		return Offer{}, ErrNoRecipients
	}
	if o.Visibility == VisibilityPublic && count > 0 {
		return Offer{}, ErrUnexpectedRecipients
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, offerID, StatusPending)
	if err != nil {
		return Offer{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"offer_id":   updated.ID,
			"visibility": string(updated.Visibility),
		}
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicOfferPublished, payload); err != nil {
			return Offer{}, fmt.Errorf("offer: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Offer{}, fmt.Errorf("offer: commit tx: %w", err)
	}

	s.requestRegistration(ctx, &updated)

	return updated, nil
}

// requestRegistration submits a published offer to the remote marketplace.
// Registration failure does not fail the publish; the row stays local-only
// with an error sync state.
func (s *Service) requestRegistration(ctx context.Context, o *Offer) {
	if s.registrar == nil {
		return
	}
	remoteID, err := s.registrar.RegisterOffer(ctx, *o)
	if err != nil {
		if updErr := s.repo.SetRemoteSyncStatus(ctx, o.ID, "error"); updErr == nil {
			o.RemoteSyncStatus = "error"
		}
		return
	}
	if err := s.repo.SetRemoteRegistration(ctx, o.ID, remoteID); err == nil {
		o.RemoteOfferID = &remoteID
		o.RemoteSyncStatus = "requested"
	}
}

// Release makes a pending or active offer acceptable. Once a remote record
// exists the released/active progression is remote-owned and reconciliation
// overwrites whatever is set here.
func (s *Service) Release(ctx context.Context, offerID, actingUserID string) (Offer, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Offer{}, fmt.Errorf("offer: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.repo.GetForUpdate(ctx, tx, offerID)
	if err != nil {
		return Offer{}, err
	}
	if o.CreatorID != actingUserID {
		return Offer{}, ErrNotAuthorized
	}
	if o.Status != StatusPending && o.Status != StatusActive {
		return Offer{}, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, offerID, StatusReleased)
	if err != nil {
		return Offer{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Offer{}, fmt.Errorf("offer: commit tx: %w", err)
	}

	return updated, nil
}

// Accept turns the offer into an agreement for the accepting recipient. The
// offer row is locked for the whole transaction, so at most one acceptance
// wins; later calls observe the accepted status and fail.
func (s *Service) Accept(ctx context.Context, offerID, acceptorID string) (Offer, agreement.Agreement, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Offer{}, agreement.Agreement{}, fmt.Errorf("offer: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.repo.GetForUpdate(ctx, tx, offerID)
	if err != nil {
		return Offer{}, agreement.Agreement{}, err
	}
	if acceptorID == o.CreatorID {
		return Offer{}, agreement.Agreement{}, ErrNotAuthorized
	}

	switch o.Visibility {
	case VisibilityPrivate:
		if _, err := s.repo.GetRecipient(ctx, tx, offerID, acceptorID); err != nil {
			if errors.Is(err, ErrRecipientNotFound) {
				return Offer{}, agreement.Agreement{}, ErrNotAuthorized
			}
			return Offer{}, agreement.Agreement{}, err
		}
	case VisibilityPublic:
		// Public offers are implicitly addressed to everyone; materialise the
		// join record so acceptance bookkeeping is uniform.
		if _, err := s.repo.GetRecipient(ctx, tx, offerID, acceptorID); err != nil {
			if !errors.Is(err, ErrRecipientNotFound) {
				return Offer{}, agreement.Agreement{}, err
			}
			if _, err := s.repo.AddRecipient(ctx, tx, offerID, acceptorID); err != nil {
				return Offer{}, agreement.Agreement{}, err
			}
		}
	}

	if !o.Status.Acceptable() {
		return Offer{}, agreement.Agreement{}, ErrOfferNoLongerActive
	}
	if o.ValidUntil != nil && o.ValidUntil.Before(s.now()) {
		return Offer{}, agreement.Agreement{}, ErrOfferNoLongerActive
	}

	agr, err := s.agreements.CreateFromOffer(ctx, tx, agreement.CreateFromOfferParams{
		OfferID:      o.ID,
		ProposerID:   o.CreatorID,
		AcceptorID:   acceptorID,
		ProductID:    o.ProductID,
		PriceCents:   o.PriceCents,
		Currency:     o.Currency,
		DurationDays: o.DurationDays,
		Terms:        o.Terms,
	})
	if err != nil {
		return Offer{}, agreement.Agreement{}, err
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, offerID, StatusAccepted)
	if err != nil {
		return Offer{}, agreement.Agreement{}, err
	}

	if _, err := s.repo.MarkResponse(ctx, tx, offerID, acceptorID, ResponseAccepted); err != nil {
		return Offer{}, agreement.Agreement{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"offer_id":     updated.ID,
			"agreement_id": agr.ID,
			"acceptor_id":  acceptorID,
		}
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicOfferAccepted, payload); err != nil {
			return Offer{}, agreement.Agreement{}, fmt.Errorf("offer: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Offer{}, agreement.Agreement{}, fmt.Errorf("offer: commit tx: %w", err)
	}

	return updated, agr, nil
}

// Decline records the recipient's refusal on their own join record. The offer
// itself only becomes declined when the last outstanding recipient declines.
func (s *Service) Decline(ctx context.Context, offerID, recipientID string) (Offer, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Offer{}, fmt.Errorf("offer: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.repo.GetForUpdate(ctx, tx, offerID)
	if err != nil {
		return Offer{}, err
	}

	rec, err := s.repo.GetRecipient(ctx, tx, offerID, recipientID)
	if err != nil {
		if errors.Is(err, ErrRecipientNotFound) {
			return Offer{}, ErrNotAuthorized
		}
		return Offer{}, err
	}
	if rec.Response != ResponseNone {
		return Offer{}, ErrInvalidTransition
	}

	if _, err := s.repo.MarkResponse(ctx, tx, offerID, recipientID, ResponseDeclined); err != nil {
		return Offer{}, err
	}

	updated := o
	outstanding, err := s.repo.CountUnresponded(ctx, tx, offerID)
	if err != nil {
		return Offer{}, err
	}
	if outstanding == 0 && (o.Status.Acceptable() || o.Status == StatusPending) {
		updated, err = s.repo.UpdateStatus(ctx, tx, offerID, StatusDeclined)
		if err != nil {
			return Offer{}, err
		}
		if s.outbox != nil {
			payload := map[string]any{"offer_id": updated.ID}
			if err := s.outbox.Enqueue(ctx, tx, outbox.TopicOfferDeclined, payload); err != nil {
				return Offer{}, fmt.Errorf("offer: enqueue outbox: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Offer{}, fmt.Errorf("offer: commit tx: %w", err)
	}

	return updated, nil
}

// Get returns a single offer.
func (s *Service) Get(ctx context.Context, id string) (Offer, error) {
	return s.repo.Get(ctx, id)
}

// Recipients returns the per-recipient records for an offer.
func (s *Service) Recipients(ctx context.Context, offerID string) ([]Recipient, error) {
	return s.repo.ListRecipients(ctx, offerID)
}

// ListByCreator returns offers created by the participant.
func (s *Service) ListByCreator(ctx context.Context, creatorID string, limit int) ([]Offer, error) {
	return s.repo.ListByCreator(ctx, creatorID, limit)
}

// ListForRecipient returns offers addressed to the participant.
func (s *Service) ListForRecipient(ctx context.Context, recipientID string, limit int) ([]Offer, error) {
	return s.repo.ListForRecipient(ctx, recipientID, limit)
}
