// Package events publishes document lifecycle events for downstream
// notification consumers. Delivery is best-effort; the review flow never
// fails because a notification could not be queued.
package events

import (
	"context"
	"time"

	"loanflow/pkg/domain"
)

const (
	TypeDocumentUploaded  = "document.uploaded"
	TypeDocumentApproved  = "document.approved"
	TypeDocumentRejected  = "document.rejected"
	TypeDocumentCommented = "document.commented"
	TypeDocumentDeleted   = "document.deleted"
)

// Event describes one document lifecycle change.
type Event struct {
	Type       string       `json:"type"`
	LoanID     string       `json:"loanId"`
	Stage      domain.Stage `json:"stage"`
	Category   string       `json:"category"`
	DocumentID string       `json:"documentId"`
	ActorID    string       `json:"actorId,omitempty"`
	OccurredAt time.Time    `json:"occurredAt"`
}

// Publisher emits events to whatever transport the deployment wires in.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards events. Used in tests and transportless deployments.
type Nop struct{}

// Publish drops the event.
func (Nop) Publish(context.Context, Event) error { return nil }
