package audit

import "time"

// EventName identifies what happened to the directory.
type EventName string

const (
	EventContactCreated   EventName = "contact.created"
	EventContactUpdated   EventName = "contact.updated"
	EventContactDeleted   EventName = "contact.deleted"
	EventContactsImported EventName = "contacts.imported"
)

// Event is emitted from the contact service after a write has been accepted.
// Keep it transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    EventName `json:"action"`
	ContactID string    `json:"contactId,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	// Imported and Skipped are set for contacts.imported.
	Imported int `json:"imported,omitempty"`
	Skipped  int `json:"skipped,omitempty"`
}
