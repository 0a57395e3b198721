// Package queue defines the deck lifecycle events exchanged over RabbitMQ and
// the publisher and consumer that move them.
package queue

import "time"

// QueueName is the durable queue deck events are routed to.
const QueueName = "deck.events"

// Event types.
const (
	EventModuleGenerated     = "deck.module.generated"
	EventGenerationCompleted = "deck.generation.completed"
	EventGenerationFailed    = "deck.generation.failed"
)

// DeckEvent is published whenever a generation run checkpoints, completes or
// fails.  It carries enough for downstream consumers to log or notify without
// reading the primary database.
type DeckEvent struct {
	Type             string `json:"type"`
	DeckID           uint64 `json:"deck_id"`
	UserID           uint64 `json:"user_id"`
	Status           string `json:"status"`
	CompletedModules int    `json:"completed_modules"`
	TotalModules     int    `json:"total_modules"`
	ModuleTitle      string `json:"module_title,omitempty"`
	Error            string `json:"error,omitempty"`
	OccurredAt       string `json:"occurred_at"`
}

// Stamp sets OccurredAt to now in RFC 3339 if it is empty.
func (e *DeckEvent) Stamp() {
	if e.OccurredAt == "" {
		e.OccurredAt = time.Now().UTC().Format(time.RFC3339)
	}
}
