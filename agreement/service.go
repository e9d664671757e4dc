package agreement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"channelflow/outbox"
)

var (
	// ErrNotAuthorized signals the acting party is not a party to the agreement.
	ErrNotAuthorized = errors.New("agreement: not authorized")
	// ErrInvalidTransition signals the transition is not reachable from the current status.
	ErrInvalidTransition = errors.New("agreement: invalid transition")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access required by the service.
type Repository interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Agreement, error)
	HasChild(ctx context.Context, tx pgx.Tx, id string) (bool, error)
	CreateChild(ctx context.Context, tx pgx.Tx, parent Agreement, params CreateFromOfferParams) (Agreement, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Agreement, error)
	Get(ctx context.Context, id string) (Agreement, error)
	ListByParty(ctx context.Context, userID string, limit int) ([]Agreement, error)
}

// OutboxWriter enqueues domain events inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service owns agreement terminal transitions and the renewal chain.
type Service struct {
	pool   TxBeginner
	repo   Repository
	outbox OutboxWriter
}

func NewService(pool TxBeginner, repo Repository, outbox OutboxWriter) *Service {
	return &Service{pool: pool, repo: repo, outbox: outbox}
}

// RenewalParams carries the terms of a renewal or amendment agreement.
// Zero-valued price/duration fields inherit the parent's terms.
type RenewalParams struct {
	PriceCents   int64
	Currency     string
	DurationDays int
	Terms        string
	// Amendment marks the parent replaced instead of renewed.
	Amendment bool
}

// CreateRenewal chains a new agreement onto the parent. The parent must be
// active or expired and must not already have a forward link; one renewal
// per agreement, so the chain stays a list and never branches.
func (s *Service) CreateRenewal(ctx context.Context, parentID, actingUserID string, params RenewalParams) (Agreement, error) {
	if parentID == "" {
		return Agreement{}, fmt.Errorf("agreement: missing parent id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	parent, err := s.repo.GetForUpdate(ctx, tx, parentID)
	if err != nil {
		return Agreement{}, err
	}
	if !parent.Involves(actingUserID) {
		return Agreement{}, ErrNotAuthorized
	}
	if parent.Status != StatusActive && parent.Status != StatusExpired {
		return Agreement{}, ErrInvalidTransition
	}

	hasChild, err := s.repo.HasChild(ctx, tx, parentID)
	if err != nil {
		return Agreement{}, err
	}
	if hasChild {
		return Agreement{}, ErrAlreadyRenewed
	}

	childParams := CreateFromOfferParams{
		OfferID:      parent.OfferID,
		ProposerID:   parent.ProposerID,
		AcceptorID:   parent.AcceptorID,
		ProductID:    parent.ProductID,
		PriceCents:   params.PriceCents,
		Currency:     params.Currency,
		DurationDays: params.DurationDays,
		Terms:        params.Terms,
	}
	if childParams.PriceCents == 0 {
		childParams.PriceCents = parent.PriceCents
	}
	if childParams.Currency == "" {
		childParams.Currency = parent.Currency
	}
	if childParams.DurationDays == 0 {
		childParams.DurationDays = parent.DurationDays
	}
	if childParams.Terms == "" {
		childParams.Terms = parent.Terms
	}

	child, err := s.repo.CreateChild(ctx, tx, parent, childParams)
	if err != nil {
		return Agreement{}, err
	}

	parentStatus := StatusRenewed
	if params.Amendment {
		parentStatus = StatusReplaced
	}
	if _, err := s.repo.UpdateStatus(ctx, tx, parentID, parentStatus); err != nil {
		return Agreement{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"agreement_id": child.ID,
			"parent_id":    parentID,
			"acting_user":  actingUserID,
		}
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicAgreementRenewed, payload); err != nil {
			return Agreement{}, fmt.Errorf("agreement: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("agreement: commit tx: %w", err)
	}

	return child, nil
}

// Terminate ends an active agreement. Only a party to the agreement may
// terminate it.
func (s *Service) Terminate(ctx context.Context, id, actingUserID string) (Agreement, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Agreement{}, err
	}
	if !a.Involves(actingUserID) {
		return Agreement{}, ErrNotAuthorized
	}
	if a.Status != StatusActive {
		return Agreement{}, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, id, StatusTerminated)
	if err != nil {
		return Agreement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("agreement: commit tx: %w", err)
	}

	return updated, nil
}

// Archive moves a terminal agreement into the archived bookkeeping state.
func (s *Service) Archive(ctx context.Context, id, actingUserID string) (Agreement, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Agreement{}, err
	}
	if !a.Involves(actingUserID) {
		return Agreement{}, ErrNotAuthorized
	}
	if !a.Status.IsTerminal() || a.Status == StatusArchived {
		return Agreement{}, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, id, StatusArchived)
	if err != nil {
		return Agreement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("agreement: commit tx: %w", err)
	}

	return updated, nil
}

// Get returns a single agreement.
func (s *Service) Get(ctx context.Context, id string) (Agreement, error) {
	return s.repo.Get(ctx, id)
}

// ListByParty returns agreements involving the participant.
func (s *Service) ListByParty(ctx context.Context, userID string, limit int) ([]Agreement, error) {
	return s.repo.ListByParty(ctx, userID, limit)
}
