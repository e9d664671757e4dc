package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Message represents a transactional outbox entry awaiting delivery by an
// external dispatcher. The engine only ever enqueues; delivery is out of scope.
type Message struct {
	ID        string
	Topic     string
	Payload   []byte
	Status    string
	Attempts  int
	CreatedAt time.Time
}

// Topics enqueued by the lifecycle managers.
const (
	TopicConnectionRequested    = "connection.requested"
	TopicConnectionAccepted     = "connection.accepted"
	TopicConnectionRejected     = "connection.rejected"
	TopicConnectionRevoked      = "connection.revoked"
	TopicAuthorizationCreated   = "authorization.created"
	TopicAuthorizationCancelled = "authorization.cancelled"
	TopicOfferPublished         = "offer.published"
	TopicOfferAccepted          = "offer.accepted"
	TopicOfferDeclined          = "offer.declined"
	TopicAgreementRenewed       = "agreement.renewed"
)

// Writer appends outbox messages inside the caller's transaction so that the
// event is only visible if the business write commits.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// Enqueue serializes the payload and inserts a pending outbox row.
func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if topic == "" {
		return fmt.Errorf("outbox: empty topic")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, body); err != nil {
		return fmt.Errorf("outbox: enqueue %s: %w", topic, err)
	}

	return nil
}
