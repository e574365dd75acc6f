package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EventType tags a serialized domain event.
type EventType string

const (
	EventPaymentCreated    EventType = "payment.created"
	EventPaymentProcessing EventType = "payment.processing"
	EventPaymentCompleted  EventType = "payment.completed"
	EventPaymentFailed     EventType = "payment.failed"
	EventPaymentVoided     EventType = "payment.voided"
	EventRefundRequested   EventType = "refund.requested"
	EventRefundProcessed   EventType = "refund.processed"
	EventRefundFailed      EventType = "refund.failed"
)

// Event is a serializable domain event record. Mutating aggregate operations
// return the events they raise; the orchestrator hands them to the outbox in
// the same database transaction as the state change.
type Event struct {
	Type       EventType      `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	OrgID      snowflake.ID   `json:"org_id"`
	Payload    map[string]any `json:"payload"`
}

// DedupeKey derives a stable outbox dedupe key for the event.
func (e Event) DedupeKey() string {
	if ref, ok := e.Payload["reference"].(string); ok && ref != "" {
		return string(e.Type) + ":" + ref
	}
	return string(e.Type) + ":" + e.OccurredAt.UTC().Format(time.RFC3339Nano)
}

func newTransactionEvent(t EventType, txn *PaymentTransaction, now time.Time, extra map[string]any) Event {
	payload := map[string]any{
		"transaction_id": txn.ID.String(),
		"reference":      txn.Reference,
		"provider":       txn.ProviderKind,
		"kind":           string(txn.Kind),
		"amount":         txn.Money().String(),
		"status":         string(txn.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	return Event{
		Type:       t,
		OccurredAt: now,
		OrgID:      txn.OrgID,
		Payload:    payload,
	}
}

func newRefundEvent(t EventType, refund *PaymentRefund, now time.Time, extra map[string]any) Event {
	payload := map[string]any{
		"refund_id":      refund.ID.String(),
		"reference":      refund.Reference,
		"transaction_id": refund.TransactionID.String(),
		"amount":         refund.Money().String(),
		"status":         string(refund.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	return Event{
		Type:       t,
		OccurredAt: now,
		OrgID:      refund.OrgID,
		Payload:    payload,
	}
}
