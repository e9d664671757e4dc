package authorization

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"channelflow/connection"
	"channelflow/outbox"
	"channelflow/participant"
	"channelflow/product"
)

var (
	// ErrConnectionNotAccepted signals the grantor and reseller lack a qualifying connection.
	ErrConnectionNotAccepted = errors.New("authorization: connection not accepted")
	// ErrDuplicateAuthorization signals a live authorization already exists for the product+reseller pair.
	ErrDuplicateAuthorization = errors.New("authorization: duplicate authorization")
	// ErrNotAuthorized signals the acting party may not perform this transition.
	ErrNotAuthorized = errors.New("authorization: not authorized")
	// ErrInvalidTransition signals the transition is not reachable from the current status.
	ErrInvalidTransition = errors.New("authorization: invalid transition")
	// ErrNotProductOwner signals the grantor does not own the product.
	ErrNotProductOwner = errors.New("authorization: grantor does not own product")
	// ErrNotReseller signals the receiving party does not hold the reseller role.
	ErrNotReseller = errors.New("authorization: receiving party is not a reseller")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access required by the service.
type Repository interface {
	FindLiveByProductReseller(ctx context.Context, tx pgx.Tx, productID, resellerID string) (Authorization, error)
	Create(ctx context.Context, tx pgx.Tx, a Authorization) (Authorization, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Authorization, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Authorization, error)
	Get(ctx context.Context, id string) (Authorization, error)
	ListByGrantor(ctx context.Context, grantorID string) ([]Authorization, error)
	ListByReseller(ctx context.Context, resellerID string) ([]Authorization, error)
	SetRemoteSyncStatus(ctx context.Context, id, syncStatus string) error
	SetRemoteRegistration(ctx context.Context, id, remoteID string) error
}

// ConnectionChecker reports the connection state between two participants.
type ConnectionChecker interface {
	CheckStatus(ctx context.Context, userID, otherUserID string) (connection.StatusResult, error)
}

// ProductReader looks up products for ownership checks.
type ProductReader interface {
	GetByID(ctx context.Context, id string) (product.Product, error)
}

// RoleReader looks up participant profiles.
type RoleReader interface {
	GetByID(ctx context.Context, id string) (participant.Profile, error)
}

// Registrar submits a locally-created authorization for remote visibility.
// The remote side is assumed idempotent for repeated identical submissions.
type Registrar interface {
	RegisterAuthorization(ctx context.Context, a Authorization) (remoteID string, err error)
}

// OutboxWriter enqueues domain events inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service owns the resale authorization lifecycle.
type Service struct {
	pool        TxBeginner
	repo        Repository
	connections ConnectionChecker
	products    ProductReader
	profiles    RoleReader
	registrar   Registrar
	outbox      OutboxWriter
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool TxBeginner, repo Repository, connections ConnectionChecker, products ProductReader, profiles RoleReader, registrar Registrar, outbox OutboxWriter) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		connections: connections,
		products:    products,
		profiles:    profiles,
		registrar:   registrar,
		outbox:      outbox,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateParams contains the inputs for granting a resale authorization.
type CreateParams struct {
	ProductID           string
	ResellerID          string
	GrantorID           string
	AvailabilityEndDate *time.Time
}

// Create grants a reseller the right to sell the grantor's product. The row
// is created pending; remote registration is requested immediately after the
// local write commits, and only reconciliation promotes it to active.
func (s *Service) Create(ctx context.Context, params CreateParams) (Authorization, error) {
	if params.ProductID == "" || params.ResellerID == "" || params.GrantorID == "" {
		return Authorization{}, fmt.Errorf("authorization: product, reseller and grantor ids required")
	}

	prod, err := s.products.GetByID(ctx, params.ProductID)
	if err != nil {
		return Authorization{}, fmt.Errorf("authorization: lookup product: %w", err)
	}
	if prod.VendorID != params.GrantorID {
		return Authorization{}, ErrNotProductOwner
	}

	reseller, err := s.profiles.GetByID(ctx, params.ResellerID)
	if err != nil {
		return Authorization{}, fmt.Errorf("authorization: lookup reseller: %w", err)
	}
	if reseller.Role != participant.RoleReseller {
		return Authorization{}, ErrNotReseller
	}

	status, err := s.connections.CheckStatus(ctx, params.GrantorID, params.ResellerID)
	if err != nil {
		return Authorization{}, fmt.Errorf("authorization: check connection: %w", err)
	}
	if !status.Connected {
		return Authorization{}, ErrConnectionNotAccepted
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Authorization{}, fmt.Errorf("authorization: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.FindLiveByProductReseller(ctx, tx, params.ProductID, params.ResellerID); err == nil {
		return Authorization{}, ErrDuplicateAuthorization
	} else if !errors.Is(err, ErrNotFound) {
		return Authorization{}, err
	}

	created, err := s.repo.Create(ctx, tx, Authorization{
		ID:                  s.idGenerator(),
		ProductID:           params.ProductID,
		GrantorID:           params.GrantorID,
		ResellerID:          params.ResellerID,
		Status:              StatusPending,
		AvailabilityEndDate: params.AvailabilityEndDate,
	})
	if err != nil {
		return Authorization{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"authorization_id": created.ID,
			"product_id":       created.ProductID,
			"reseller_id":      created.ResellerID,
		}
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicAuthorizationCreated, payload); err != nil {
			return Authorization{}, fmt.Errorf("authorization: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Authorization{}, fmt.Errorf("authorization: commit tx: %w", err)
	}

	s.requestRegistration(ctx, &created)

	return created, nil
}

// requestRegistration submits the authorization to the remote marketplace.
// Registration failure does not fail the local write; reconciliation retries
// rows left in the error sync state.
func (s *Service) requestRegistration(ctx context.Context, a *Authorization) {
	if s.registrar == nil {
		return
	}
	remoteID, err := s.registrar.RegisterAuthorization(ctx, *a)
	if err != nil {
		if updErr := s.repo.SetRemoteSyncStatus(ctx, a.ID, "error"); updErr == nil {
			a.RemoteSyncStatus = "error"
		}
		return
	}
	if err := s.repo.SetRemoteRegistration(ctx, a.ID, remoteID); err == nil {
		a.RemoteAuthorizationID = &remoteID
		a.RemoteSyncStatus = "requested"
	}
}

// Activate re-requests remote registration for a draft or pending
// authorization. Only the grantor may activate, and the local status never
// jumps straight to active: that promotion belongs to reconciliation.
func (s *Service) Activate(ctx context.Context, id, actingUserID string) (Authorization, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Authorization{}, fmt.Errorf("authorization: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Authorization{}, err
	}
	if a.GrantorID != actingUserID {
		return Authorization{}, ErrNotAuthorized
	}
	if a.Status != StatusDraft && a.Status != StatusPending {
		return Authorization{}, ErrInvalidTransition
	}

	updated := a
	if a.Status == StatusDraft {
		updated, err = s.repo.UpdateStatus(ctx, tx, id, StatusPending)
		if err != nil {
			return Authorization{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Authorization{}, fmt.Errorf("authorization: commit tx: %w", err)
	}

	s.requestRegistration(ctx, &updated)

	return updated, nil
}

// Cancel terminates a live authorization. Only the grantor may cancel.
func (s *Service) Cancel(ctx context.Context, id, actingUserID string) (Authorization, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Authorization{}, fmt.Errorf("authorization: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Authorization{}, err
	}
	if a.GrantorID != actingUserID {
		return Authorization{}, ErrNotAuthorized
	}
	if a.Status.IsTerminal() {
		return Authorization{}, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, id, StatusCancelled)
	if err != nil {
		return Authorization{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"authorization_id": updated.ID,
			"acting_user":      actingUserID,
		}
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicAuthorizationCancelled, payload); err != nil {
			return Authorization{}, fmt.Errorf("authorization: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Authorization{}, fmt.Errorf("authorization: commit tx: %w", err)
	}

	return updated, nil
}

// Get returns a single authorization with its effective status applied.
func (s *Service) Get(ctx context.Context, id string) (Authorization, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return Authorization{}, err
	}
	a.Status = a.EffectiveStatus(s.now())
	return a, nil
}

// ListByGrantor returns authorizations granted by the given vendor.
func (s *Service) ListByGrantor(ctx context.Context, grantorID string) ([]Authorization, error) {
	items, err := s.repo.ListByGrantor(ctx, grantorID)
	if err != nil {
		return nil, err
	}
	return s.presentEffective(items), nil
}

// ListByReseller returns authorizations received by the given reseller.
func (s *Service) ListByReseller(ctx context.Context, resellerID string) ([]Authorization, error) {
	items, err := s.repo.ListByReseller(ctx, resellerID)
	if err != nil {
		return nil, err
	}
	return s.presentEffective(items), nil
}

func (s *Service) presentEffective(items []Authorization) []Authorization {
	now := s.now()
	for i := range items {
		items[i].Status = items[i].EffectiveStatus(now)
	}
	return items
}
