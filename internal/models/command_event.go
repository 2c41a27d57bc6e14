package models

import "time"

// CommandEvent is a single journal entry for an operator command.
type CommandEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`        // PUMP | ALL_PUMPS | SYSTEM | SERVO | SCHEDULE
	Description string    `json:"description"` // human-readable
	Metadata    any       `json:"metadata,omitempty"`
}
