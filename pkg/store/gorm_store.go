package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"loanflow/pkg/domain"
)

const migrateLockID int64 = 52415241

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&DocumentModel{}, &VersionModel{}, &CommentModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM version_models v
				WHERE NOT EXISTS (SELECT 1 FROM document_models d WHERE d.id = v.document_id);
				DELETE FROM comment_models c
				WHERE NOT EXISTS (SELECT 1 FROM document_models d WHERE d.id = c.document_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'version_models'
					AND constraint_name = 'version_models_document_id_fkey'
				) THEN
					ALTER TABLE version_models
					ADD CONSTRAINT version_models_document_id_fkey
					FOREIGN KEY (document_id) REFERENCES document_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'comment_models'
					AND constraint_name = 'comment_models_document_id_fkey'
				) THEN
					ALTER TABLE comment_models
					ADD CONSTRAINT comment_models_document_id_fkey
					FOREIGN KEY (document_id) REFERENCES document_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure document foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

// CreateDocument stores a new document with its first version.
func (s *GormStore) CreateDocument(doc domain.Document) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		model := documentToModel(doc)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		for i, v := range doc.Versions {
			vm := versionToModel(doc.ID, i, v)
			if err := tx.Create(&vm).Error; err != nil {
				return err
			}
		}
		for _, c := range doc.Comments {
			cm := commentToModel(doc.ID, c)
			if err := tx.Create(&cm).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendVersion adds a version row and resets document status to pending
// in one transaction.
func (s *GormStore) AppendVersion(documentID string, v domain.Version) (domain.Document, error) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model DocumentModel
		if err := tx.First(&model, "id = ?", documentID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotFound
			}
			return err
		}
		var last VersionModel
		seq := 0
		if err := tx.Where("document_id = ?", documentID).Order("seq DESC").First(&last).Error; err == nil {
			seq = last.Seq + 1
			if v.UploadedAt.Before(last.UploadedAt) {
				v.UploadedAt = last.UploadedAt
			}
		} else if err != gorm.ErrRecordNotFound {
			return err
		}
		vm := versionToModel(documentID, seq, v)
		if err := tx.Create(&vm).Error; err != nil {
			return err
		}
		return tx.Model(&DocumentModel{}).
			Where("id = ?", documentID).
			Updates(map[string]any{
				"status":     string(domain.StatusPending),
				"updated_at": time.Now().UTC(),
			}).Error
	})
	if err != nil {
		return domain.Document{}, err
	}
	return s.mustGet(documentID)
}

// SetStatus applies a reviewer decision.
func (s *GormStore) SetStatus(documentID string, status domain.DocumentStatus) (domain.Document, error) {
	res := s.db.Model(&DocumentModel{}).
		Where("id = ?", documentID).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return domain.Document{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Document{}, ErrNotFound
	}
	return s.mustGet(documentID)
}

// AppendComment records a comment without touching status.
func (s *GormStore) AppendComment(documentID string, c domain.Comment) (domain.Document, error) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&DocumentModel{}).Where("id = ?", documentID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		cm := commentToModel(documentID, c)
		if err := tx.Create(&cm).Error; err != nil {
			return err
		}
		return tx.Model(&DocumentModel{}).
			Where("id = ?", documentID).
			Update("updated_at", time.Now().UTC()).Error
	})
	if err != nil {
		return domain.Document{}, err
	}
	return s.mustGet(documentID)
}

// GetDocument retrieves a document with its versions and comments.
func (s *GormStore) GetDocument(id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	doc, err := s.hydrate(model)
	if err != nil {
		return domain.Document{}, false, err
	}
	return doc, true, nil
}

func (s *GormStore) mustGet(id string) (domain.Document, error) {
	doc, ok, err := s.GetDocument(id)
	if err != nil {
		return domain.Document{}, err
	}
	if !ok {
		return domain.Document{}, ErrNotFound
	}
	return doc, nil
}

// ListByLoan returns a loan's documents ordered by created_at.
func (s *GormStore) ListByLoan(loanID string) ([]domain.Document, error) {
	return s.listDocuments("loan_id = ?", loanID)
}

// ListByStage returns a loan's documents for one stage.
func (s *GormStore) ListByStage(loanID string, stage domain.Stage) ([]domain.Document, error) {
	return s.listDocuments("loan_id = ? AND stage = ?", loanID, string(stage))
}

// ListByCategory returns a loan's documents in one category.
func (s *GormStore) ListByCategory(loanID, categoryID string) ([]domain.Document, error) {
	return s.listDocuments("loan_id = ? AND category = ?", loanID, categoryID)
}

func (s *GormStore) listDocuments(cond string, args ...any) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.Where(cond, args...).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		doc, err := s.hydrate(m)
		if err != nil {
			return nil, err
		}
		res = append(res, doc)
	}
	return res, nil
}

// DeleteDocument removes a document; versions and comments follow via FK
// cascade.
func (s *GormStore) DeleteDocument(id string) error {
	res := s.db.Delete(&DocumentModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// LastModified returns the most recent document update for a loan.
func (s *GormStore) LastModified(loanID string) (time.Time, bool, error) {
	var mark sql.NullTime
	if err := s.db.Model(&DocumentModel{}).
		Where("loan_id = ?", loanID).
		Select("MAX(updated_at)").
		Scan(&mark).Error; err != nil {
		return time.Time{}, false, err
	}
	if !mark.Valid {
		return time.Time{}, false, nil
	}
	return mark.Time, true, nil
}

func (s *GormStore) hydrate(model DocumentModel) (domain.Document, error) {
	var versions []VersionModel
	if err := s.db.Where("document_id = ?", model.ID).Order("seq ASC").Find(&versions).Error; err != nil {
		return domain.Document{}, err
	}
	var comments []CommentModel
	if err := s.db.Where("document_id = ?", model.ID).Order("posted_at ASC").Find(&comments).Error; err != nil {
		return domain.Document{}, err
	}
	return documentFromModel(model, versions, comments), nil
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:        d.ID,
		LoanID:    d.LoanID,
		Stage:     string(d.Stage),
		Category:  d.Category,
		Name:      d.Name,
		Status:    string(d.Status),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func documentFromModel(m DocumentModel, versions []VersionModel, comments []CommentModel) domain.Document {
	doc := domain.Document{
		ID:        m.ID,
		LoanID:    m.LoanID,
		Stage:     domain.Stage(m.Stage),
		Category:  m.Category,
		Name:      m.Name,
		Status:    domain.DocumentStatus(m.Status),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	doc.Versions = make([]domain.Version, 0, len(versions))
	for _, v := range versions {
		doc.Versions = append(doc.Versions, versionFromModel(v))
	}
	doc.Comments = make([]domain.Comment, 0, len(comments))
	for _, c := range comments {
		doc.Comments = append(doc.Comments, commentFromModel(c))
	}
	return doc
}

func versionToModel(documentID string, seq int, v domain.Version) VersionModel {
	meta, _ := json.Marshal(v.Metadata)
	return VersionModel{
		ID:         v.ID,
		DocumentID: documentID,
		Seq:        seq,
		FileName:   v.FileName,
		StorageKey: v.StorageKey,
		SizeBytes:  v.SizeBytes,
		MimeType:   v.MimeType,
		UploadedBy: v.UploadedBy,
		Metadata:   meta,
		UploadedAt: v.UploadedAt,
	}
}

func versionFromModel(m VersionModel) domain.Version {
	var meta map[string]string
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return domain.Version{
		ID:         m.ID,
		FileName:   m.FileName,
		StorageKey: m.StorageKey,
		SizeBytes:  m.SizeBytes,
		MimeType:   m.MimeType,
		UploadedBy: m.UploadedBy,
		Metadata:   meta,
		UploadedAt: m.UploadedAt,
	}
}

func commentToModel(documentID string, c domain.Comment) CommentModel {
	return CommentModel{
		ID:         c.ID,
		DocumentID: documentID,
		AuthorID:   c.AuthorID,
		Body:       c.Body,
		PostedAt:   c.PostedAt,
	}
}

func commentFromModel(m CommentModel) domain.Comment {
	return domain.Comment{
		ID:       m.ID,
		AuthorID: m.AuthorID,
		Body:     m.Body,
		PostedAt: m.PostedAt,
	}
}
