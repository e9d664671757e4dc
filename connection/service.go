package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"channelflow/outbox"
	"channelflow/participant"
)

var (
	// ErrDuplicateConnection signals a live record already exists for the pair.
	ErrDuplicateConnection = errors.New("connection: duplicate connection")
	// ErrInvalidRoleCombination signals the two roles may not connect.
	ErrInvalidRoleCombination = errors.New("connection: invalid role combination")
	// ErrNotAuthorized signals the acting party may not perform this transition.
	ErrNotAuthorized = errors.New("connection: not authorized")
	// ErrInvalidTransition signals the transition is not reachable from the current status.
	ErrInvalidTransition = errors.New("connection: invalid transition")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access required by the service.
type Repository interface {
	FindLiveByPair(ctx context.Context, tx pgx.Tx, partyA, partyB string) (Connection, error)
	Create(ctx context.Context, tx pgx.Tx, conn Connection) (Connection, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Connection, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Connection, error)
	LatestByPair(ctx context.Context, partyA, partyB string) (Connection, error)
}

// RoleReader looks up participant profiles for pairing-rule checks.
type RoleReader interface {
	GetByID(ctx context.Context, id string) (participant.Profile, error)
}

// OutboxWriter enqueues domain events inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service owns the connection request/accept/reject/cancel state machine.
type Service struct {
	pool        TxBeginner
	repo        Repository
	profiles    RoleReader
	outbox      OutboxWriter
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool TxBeginner, repo Repository, profiles RoleReader, outbox OutboxWriter) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		profiles:    profiles,
		outbox:      outbox,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// Request creates a pending connection from requester to target. Only
// vendor<->reseller pairs may connect.
func (s *Service) Request(ctx context.Context, requesterID, targetID string) (Connection, error) {
	if requesterID == "" || targetID == "" {
		return Connection{}, fmt.Errorf("connection: requester and target ids required")
	}
	if requesterID == targetID {
		return Connection{}, fmt.Errorf("connection: cannot connect to self")
	}

	requester, err := s.profiles.GetByID(ctx, requesterID)
	if err != nil {
		return Connection{}, fmt.Errorf("connection: lookup requester: %w", err)
	}
	target, err := s.profiles.GetByID(ctx, targetID)
	if err != nil {
		return Connection{}, fmt.Errorf("connection: lookup target: %w", err)
	}
	if !allowedPairing(requester.Role, target.Role) {
		return Connection{}, ErrInvalidRoleCombination
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Connection{}, fmt.Errorf("connection: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.FindLiveByPair(ctx, tx, requesterID, targetID); err == nil {
		return Connection{}, ErrDuplicateConnection
	} else if !errors.Is(err, ErrNotFound) {
		return Connection{}, err
	}

	created, err := s.repo.Create(ctx, tx, Connection{
		ID:          s.idGenerator(),
		PartyAID:    requesterID,
		PartyBID:    targetID,
		RequesterID: requesterID,
		Status:      StatusPending,
	})
	if err != nil {
		return Connection{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"connection_id": created.ID,
			"requester_id":  requesterID,
			"target_id":     targetID,
		}
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicConnectionRequested, payload); err != nil {
			return Connection{}, fmt.Errorf("connection: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Connection{}, fmt.Errorf("connection: commit tx: %w", err)
	}

	return created, nil
}

// Accept moves a pending connection to accepted. Only the target of the
// request may accept.
func (s *Service) Accept(ctx context.Context, connectionID, actingUserID string) (Connection, error) {
	return s.respond(ctx, connectionID, actingUserID, StatusAccepted, outbox.TopicConnectionAccepted)
}

// Reject moves a pending connection to rejected. Rejection is not permanently
// blocking: the pair may re-request later, creating a fresh record.
func (s *Service) Reject(ctx context.Context, connectionID, actingUserID string) (Connection, error) {
	return s.respond(ctx, connectionID, actingUserID, StatusRejected, outbox.TopicConnectionRejected)
}

func (s *Service) respond(ctx context.Context, connectionID, actingUserID string, next Status, topic string) (Connection, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Connection{}, fmt.Errorf("connection: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	conn, err := s.repo.GetForUpdate(ctx, tx, connectionID)
	if err != nil {
		return Connection{}, err
	}
	if conn.Target() != actingUserID {
		return Connection{}, ErrNotAuthorized
	}
	if conn.Status != StatusPending {
		return Connection{}, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, connectionID, next)
	if err != nil {
		return Connection{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"connection_id": updated.ID,
			"acting_user":   actingUserID,
			"status":        string(next),
		}
		if err := s.outbox.Enqueue(ctx, tx, topic, payload); err != nil {
			return Connection{}, fmt.Errorf("connection: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Connection{}, fmt.Errorf("connection: commit tx: %w", err)
	}

	return updated, nil
}

// Cancel withdraws a pending request. Only the original requester may cancel.
func (s *Service) Cancel(ctx context.Context, connectionID, actingUserID string) (Connection, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Connection{}, fmt.Errorf("connection: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	conn, err := s.repo.GetForUpdate(ctx, tx, connectionID)
	if err != nil {
		return Connection{}, err
	}
	if conn.RequesterID != actingUserID {
		return Connection{}, ErrNotAuthorized
	}
	if conn.Status != StatusPending {
		return Connection{}, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, connectionID, StatusCancelled)
	if err != nil {
		return Connection{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Connection{}, fmt.Errorf("connection: commit tx: %w", err)
	}

	return updated, nil
}

// Revoke terminates an established connection. Either party may revoke.
func (s *Service) Revoke(ctx context.Context, connectionID, actingUserID string) (Connection, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Connection{}, fmt.Errorf("connection: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	conn, err := s.repo.GetForUpdate(ctx, tx, connectionID)
	if err != nil {
		return Connection{}, err
	}
	if !conn.Involves(actingUserID) {
		return Connection{}, ErrNotAuthorized
	}
	if conn.Status != StatusAccepted && conn.Status != StatusAuthorized {
		return Connection{}, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, connectionID, StatusRevoked)
	if err != nil {
		return Connection{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"connection_id": updated.ID,
			"acting_user":   actingUserID,
		}
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicConnectionRevoked, payload); err != nil {
			return Connection{}, fmt.Errorf("connection: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Connection{}, fmt.Errorf("connection: commit tx: %w", err)
	}

	return updated, nil
}

// CheckStatus returns the latest connection record for the pair, if any.
func (s *Service) CheckStatus(ctx context.Context, userID, otherUserID string) (StatusResult, error) {
	conn, err := s.repo.LatestByPair(ctx, userID, otherUserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return StatusResult{Connected: false}, nil
		}
		return StatusResult{}, err
	}

	return StatusResult{
		Connected:    conn.Status == StatusAccepted || conn.Status == StatusAuthorized,
		Status:       conn.Status,
		ConnectionID: conn.ID,
		PartyAID:     conn.PartyAID,
		PartyBID:     conn.PartyBID,
		RequesterID:  conn.RequesterID,
	}, nil
}

func allowedPairing(roleA, roleB string) bool {
	return (roleA == participant.RoleVendor && roleB == participant.RoleReseller) ||
		(roleA == participant.RoleReseller && roleB == participant.RoleVendor)
}
