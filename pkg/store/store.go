package store

import (
	"errors"
	"time"

	"loanflow/pkg/domain"
)

// ErrNotFound indicates an unknown document id.
var ErrNotFound = errors.New("document not found")

// Store defines persistence operations for loan documents. Each mutating
// call is atomic with respect to other calls on the same document and bumps
// the loan's last-modified watermark.
type Store interface {
	// CreateDocument stores a new document with its first version already
	// attached.
	CreateDocument(doc domain.Document) error
	// AppendVersion adds a version to an existing document and resets its
	// status to pending in the same operation.
	AppendVersion(documentID string, v domain.Version) (domain.Document, error)
	// SetStatus applies a reviewer decision.
	SetStatus(documentID string, status domain.DocumentStatus) (domain.Document, error)
	// AppendComment adds a comment without touching status.
	AppendComment(documentID string, c domain.Comment) (domain.Document, error)

	GetDocument(id string) (domain.Document, bool, error)
	ListByLoan(loanID string) ([]domain.Document, error)
	ListByStage(loanID string, stage domain.Stage) ([]domain.Document, error)
	ListByCategory(loanID, categoryID string) ([]domain.Document, error)

	// DeleteDocument removes a document and its versions and comments.
	// Distinct from rejection; the normal review flow never deletes.
	DeleteDocument(id string) error

	// LastModified returns the loan's write watermark. ok is false when the
	// loan has no documents.
	LastModified(loanID string) (time.Time, bool, error)
}
