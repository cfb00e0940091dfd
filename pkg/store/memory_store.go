package store

import (
	"sync"
	"time"

	"loanflow/pkg/domain"
)

// MemoryStore keeps documents in-process. Used for tests and single-node
// deployments without a database.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]domain.Document
	orders []string
	loans  map[string]time.Time // loanID -> watermark
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:  make(map[string]domain.Document),
		loans: make(map[string]time.Time),
	}
}

// CreateDocument stores a new document record and tracks insertion order.
func (m *MemoryStore) CreateDocument(doc domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.docs[doc.ID]; !exists {
		m.orders = append(m.orders, doc.ID)
	}
	m.docs[doc.ID] = cloneDocument(doc)
	m.touchLocked(doc.LoanID, doc.UpdatedAt)
	return nil
}

// AppendVersion appends a version and resets status to pending atomically.
func (m *MemoryStore) AppendVersion(documentID string, v domain.Version) (domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentID]
	if !ok {
		return domain.Document{}, ErrNotFound
	}
	// Keep the version sequence monotonic even if the wall clock regressed.
	if n := len(doc.Versions); n > 0 && v.UploadedAt.Before(doc.Versions[n-1].UploadedAt) {
		v.UploadedAt = doc.Versions[n-1].UploadedAt
	}
	doc.Versions = append(doc.Versions, v)
	doc.Status = domain.StatusPending
	doc.UpdatedAt = time.Now().UTC()
	m.docs[documentID] = doc
	m.touchLocked(doc.LoanID, doc.UpdatedAt)
	return cloneDocument(doc), nil
}

// SetStatus applies a reviewer decision.
func (m *MemoryStore) SetStatus(documentID string, status domain.DocumentStatus) (domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentID]
	if !ok {
		return domain.Document{}, ErrNotFound
	}
	doc.Status = status
	doc.UpdatedAt = time.Now().UTC()
	m.docs[documentID] = doc
	m.touchLocked(doc.LoanID, doc.UpdatedAt)
	return cloneDocument(doc), nil
}

// AppendComment records a comment; status is untouched.
func (m *MemoryStore) AppendComment(documentID string, c domain.Comment) (domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentID]
	if !ok {
		return domain.Document{}, ErrNotFound
	}
	doc.Comments = append(doc.Comments, c)
	doc.UpdatedAt = time.Now().UTC()
	m.docs[documentID] = doc
	m.touchLocked(doc.LoanID, doc.UpdatedAt)
	return cloneDocument(doc), nil
}

// GetDocument retrieves a document by ID.
func (m *MemoryStore) GetDocument(id string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return domain.Document{}, false, nil
	}
	return cloneDocument(doc), true, nil
}

// ListByLoan returns a loan's documents in insertion order.
func (m *MemoryStore) ListByLoan(loanID string) ([]domain.Document, error) {
	return m.list(func(d domain.Document) bool { return d.LoanID == loanID })
}

// ListByStage returns a loan's documents for one pipeline stage.
func (m *MemoryStore) ListByStage(loanID string, stage domain.Stage) ([]domain.Document, error) {
	return m.list(func(d domain.Document) bool { return d.LoanID == loanID && d.Stage == stage })
}

// ListByCategory returns a loan's documents in one category.
func (m *MemoryStore) ListByCategory(loanID, categoryID string) ([]domain.Document, error) {
	return m.list(func(d domain.Document) bool { return d.LoanID == loanID && d.Category == categoryID })
}

func (m *MemoryStore) list(keep func(domain.Document) bool) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Document, 0, len(m.orders))
	for _, id := range m.orders {
		if d, ok := m.docs[id]; ok && keep(d) {
			res = append(res, cloneDocument(d))
		}
	}
	return res, nil
}

// DeleteDocument removes a document and its history.
func (m *MemoryStore) DeleteDocument(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.docs, id)
	filtered := m.orders[:0]
	for _, item := range m.orders {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.orders = filtered
	m.touchLocked(doc.LoanID, time.Now().UTC())
	return nil
}

// LastModified returns the loan's write watermark.
func (m *MemoryStore) LastModified(loanID string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.loans[loanID]
	return t, ok, nil
}

func (m *MemoryStore) touchLocked(loanID string, at time.Time) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	// Watermark never moves backwards; equal timestamps get a nudge so
	// cached progress readers always observe a change.
	if prev, ok := m.loans[loanID]; ok && !at.After(prev) {
		at = prev.Add(time.Nanosecond)
	}
	m.loans[loanID] = at
}

func cloneDocument(d domain.Document) domain.Document {
	out := d
	out.Versions = append([]domain.Version(nil), d.Versions...)
	out.Comments = append([]domain.Comment(nil), d.Comments...)
	return out
}
