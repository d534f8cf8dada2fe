package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"ledgerd/internal/core"
)

// ProcessTransactionEvent asks the engine to process one recurring
// transaction on demand. Carries only the identifiers; the processor
// re-fetches the template from the store.
type ProcessTransactionEvent struct {
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewProcessTransactionEvent creates an event for one template.
func NewProcessTransactionEvent(transactionID, userID string) *ProcessTransactionEvent {
	return &ProcessTransactionEvent{
		TransactionID: transactionID,
		UserID:        userID,
		Timestamp:     time.Now(),
	}
}

// Validate rejects payloads missing either identifier. Reported to the
// sender, not retried.
func (e *ProcessTransactionEvent) Validate() error {
	if e.TransactionID == "" {
		return fmt.Errorf("%w: missing transaction_id", core.ErrValidation)
	}
	if e.UserID == "" {
		return fmt.Errorf("%w: missing user_id", core.ErrValidation)
	}
	return nil
}

// ToJSON converts the event to JSON bytes.
func (e *ProcessTransactionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ProcessTransactionEventFromJSON creates an event from JSON bytes.
func ProcessTransactionEventFromJSON(data []byte) (*ProcessTransactionEvent, error) {
	var ev ProcessTransactionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// EmailMessage is a rendered notification handed to the external mailer
// via the notifications queue.
type EmailMessage struct {
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// ToJSON converts the message to JSON bytes.
func (m *EmailMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
