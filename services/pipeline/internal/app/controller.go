package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"loanflow/internal/util"
	"loanflow/pkg/domain"
	"loanflow/pkg/events"
	"loanflow/pkg/review"
	"loanflow/pkg/store"
)

// StageController is the single entry point a pipeline stage's surrounding
// code calls. It binds a stage and loan and delegates to the catalog,
// review state machine, store, and aggregator.
type StageController struct {
	app    *App
	stage  domain.Stage
	loanID string
}

// Stage returns a controller bound to one stage of one loan.
func (a *App) Stage(stage domain.Stage, loanID string) (*StageController, error) {
	if _, ok := domain.ParseStage(string(stage)); !ok {
		return nil, fmt.Errorf("invalid stage %q", stage)
	}
	loanID = strings.TrimSpace(loanID)
	if loanID == "" {
		return nil, errors.New("loan id required")
	}
	return &StageController{app: a, stage: stage, loanID: loanID}, nil
}

// UploadInput describes one incoming file upload.
type UploadInput struct {
	// DocumentID targets an existing document to append a version to.
	// Empty means create a new document in the category.
	DocumentID string
	Category   string
	Name       string
	FileName   string
	SizeBytes  int64
	UploadedBy string
	Body       io.Reader
}

// UploadDocument stores the file bytes and records the version. A new
// version always resets status to pending: a superseded approval is no
// longer an approval.
func (c *StageController) UploadDocument(ctx context.Context, in UploadInput) (domain.Document, error) {
	if strings.TrimSpace(in.FileName) == "" {
		return domain.Document{}, errors.New("file name required")
	}
	cat, err := c.app.catalog.Lookup(c.stage, in.Category)
	if err != nil {
		return domain.Document{}, err
	}

	documentID := strings.TrimSpace(in.DocumentID)
	isNew := documentID == ""
	if isNew {
		documentID = util.NewID()
	} else {
		existing, ok, err := c.app.store.GetDocument(documentID)
		if err != nil {
			return domain.Document{}, err
		}
		if !ok {
			return domain.Document{}, store.ErrNotFound
		}
		if existing.LoanID != c.loanID || existing.Category != cat.ID {
			return domain.Document{}, ErrCategoryMismatch
		}
	}

	version := domain.Version{
		ID:         uuid.NewString(),
		FileName:   filepath.Base(in.FileName),
		SizeBytes:  in.SizeBytes,
		MimeType:   contentTypeFor(in.FileName),
		UploadedBy: in.UploadedBy,
		UploadedAt: time.Now().UTC(),
	}
	version.StorageKey = buildStorageKey(c.loanID, documentID, version.ID, version.FileName)

	if err := c.app.objects.Put(ctx, version.StorageKey, in.Body, in.SizeBytes, version.MimeType); err != nil {
		return domain.Document{}, fmt.Errorf("save file: %w", err)
	}

	var doc domain.Document
	if isNew {
		name := strings.TrimSpace(in.Name)
		if name == "" {
			name = cat.DisplayName
		}
		now := time.Now().UTC()
		doc = domain.Document{
			ID:        documentID,
			LoanID:    c.loanID,
			Stage:     c.stage,
			Category:  cat.ID,
			Name:      name,
			Status:    review.Initial,
			Versions:  []domain.Version{version},
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = c.app.store.CreateDocument(doc)
	} else {
		doc, err = c.app.store.AppendVersion(documentID, version)
	}
	if err != nil {
		_ = c.app.objects.Delete(ctx, version.StorageKey)
		return domain.Document{}, fmt.Errorf("save document: %w", err)
	}

	c.publish(ctx, events.TypeDocumentUploaded, doc, in.UploadedBy)
	return doc, nil
}

// SetStatus applies a reviewer decision to a document of this stage.
func (c *StageController) SetStatus(ctx context.Context, documentID string, status domain.DocumentStatus, reviewerID string) (domain.Document, error) {
	action, err := review.ActionForStatus(status)
	if err != nil {
		return domain.Document{}, err
	}
	doc, err := c.document(documentID)
	if err != nil {
		return domain.Document{}, err
	}
	next, err := review.Next(doc.Status, action)
	if err != nil {
		return domain.Document{}, err
	}
	updated, err := c.app.store.SetStatus(documentID, next)
	if err != nil {
		return domain.Document{}, err
	}

	eventType := events.TypeDocumentApproved
	if next == domain.StatusRejected {
		eventType = events.TypeDocumentRejected
	}
	c.publish(ctx, eventType, updated, reviewerID)
	return updated, nil
}

// AddComment appends a reviewer note. Status never changes, even after
// rejection; reviewers and uploaders must be able to discuss a rejected
// document.
func (c *StageController) AddComment(ctx context.Context, documentID, authorID, body string) (domain.Document, error) {
	if strings.TrimSpace(body) == "" {
		return domain.Document{}, errors.New("comment body required")
	}
	if _, err := c.document(documentID); err != nil {
		return domain.Document{}, err
	}
	doc, err := c.app.store.AppendComment(documentID, domain.Comment{
		ID:       uuid.NewString(),
		AuthorID: authorID,
		Body:     body,
		PostedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.Document{}, err
	}
	c.publish(ctx, events.TypeDocumentCommented, doc, authorID)
	return doc, nil
}

// DeleteDocument removes a document and its stored files. This is the
// explicit delete operation, distinct from rejection.
func (c *StageController) DeleteDocument(ctx context.Context, documentID, actorID string) error {
	doc, err := c.document(documentID)
	if err != nil {
		return err
	}
	if err := c.app.store.DeleteDocument(documentID); err != nil {
		return err
	}
	for _, v := range doc.Versions {
		_ = c.app.objects.Delete(ctx, v.StorageKey)
	}
	c.publish(ctx, events.TypeDocumentDeleted, doc, actorID)
	return nil
}

// Documents lists this stage's documents for the bound loan.
func (c *StageController) Documents() ([]domain.Document, error) {
	return c.app.store.ListByStage(c.loanID, c.stage)
}

// Progress derives this stage's completion from required categories.
func (c *StageController) Progress() (domain.StageProgress, error) {
	return c.app.agg.StageProgress(c.loanID, c.stage)
}

func (c *StageController) document(documentID string) (domain.Document, error) {
	doc, ok, err := c.app.store.GetDocument(documentID)
	if err != nil {
		return domain.Document{}, err
	}
	if !ok || doc.LoanID != c.loanID || doc.Stage != c.stage {
		return domain.Document{}, store.ErrNotFound
	}
	return doc, nil
}

func (c *StageController) publish(ctx context.Context, eventType string, doc domain.Document, actorID string) {
	err := c.app.events.Publish(ctx, events.Event{
		Type:       eventType,
		LoanID:     doc.LoanID,
		Stage:      doc.Stage,
		Category:   doc.Category,
		DocumentID: doc.ID,
		ActorID:    actorID,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		util.LoggerFromContext(ctx).Warn("publish event failed", "type", eventType, "document_id", doc.ID, "err", err)
	}
}

// LoanProgress derives progress for every pipeline stage of a loan.
func (a *App) LoanProgress(ctx context.Context, loanID string) (domain.LoanProgress, error) {
	return a.agg.LoanProgress(ctx, loanID)
}

// GetDocument returns one document by id.
func (a *App) GetDocument(id string) (domain.Document, bool, error) {
	return a.store.GetDocument(id)
}

// Controller returns the stage controller owning an existing document.
func (a *App) Controller(documentID string) (*StageController, domain.Document, error) {
	doc, ok, err := a.store.GetDocument(documentID)
	if err != nil {
		return nil, domain.Document{}, err
	}
	if !ok {
		return nil, domain.Document{}, store.ErrNotFound
	}
	ctrl, err := a.Stage(doc.Stage, doc.LoanID)
	if err != nil {
		return nil, domain.Document{}, err
	}
	return ctrl, doc, nil
}

// DownloadURL returns a pre-signed URL for a document version. An empty
// versionID means the current version.
func (a *App) DownloadURL(ctx context.Context, documentID, versionID string) (string, string, error) {
	doc, ok, err := a.store.GetDocument(documentID)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", store.ErrNotFound
	}
	version, ok := doc.CurrentVersion()
	if !ok {
		return "", "", ErrNoVersions
	}
	if versionID != "" {
		found := false
		for _, v := range doc.Versions {
			if v.ID == versionID {
				version = v
				found = true
				break
			}
		}
		if !found {
			return "", "", store.ErrNotFound
		}
	}
	url, err := a.objects.PresignGet(ctx, version.StorageKey, a.presignExpiry)
	if err != nil {
		return "", "", fmt.Errorf("presign download: %w", err)
	}
	return url, version.FileName, nil
}

func buildStorageKey(loanID, documentID, versionID, fileName string) string {
	return fmt.Sprintf("loans/%s/%s/%s-%s", loanID, documentID, versionID, fileName)
}

func contentTypeFor(fileName string) string {
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return contentType
}
