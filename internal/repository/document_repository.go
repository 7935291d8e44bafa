package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"pdfchat/internal/model"
)

// ErrDuplicateFilename reports a Create that lost to the filename's unique
// index. Concurrent uploads of the same file race through the
// lookup-then-create window; the index is the arbiter.
var ErrDuplicateFilename = errors.New("document filename already exists")

// DocumentRepository persists the ingestion registry. The vector index owns
// the chunk data; rows here only track which files were ingested and how
// their last ingestion ended.
type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(doc *model.Document) error {
	if err := r.db.Create(doc).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", ErrDuplicateFilename, doc.Filename)
		}
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByFilename(filename string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.Where("filename = ?", filename).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) List() ([]model.Document, error) {
	var list []model.Document
	if err := r.db.Order("created_at DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return list, nil
}

// MarkPending re-queues a previously failed row for another attempt.
func (r *DocumentRepository) MarkPending(id uint) error {
	return r.updateStatus(id, map[string]interface{}{
		"status": model.DocumentStatusPending,
		"error":  "",
	})
}

// MarkProcessing flips a row to processing before the pipeline starts.
func (r *DocumentRepository) MarkProcessing(id uint) error {
	return r.updateStatus(id, map[string]interface{}{
		"status": model.DocumentStatusProcessing,
		"error":  "",
	})
}

// MarkCompleted records a successful ingestion with its final counts.
func (r *DocumentRepository) MarkCompleted(id uint, pageCount, chunkCount int) error {
	return r.updateStatus(id, map[string]interface{}{
		"status":      model.DocumentStatusCompleted,
		"page_count":  pageCount,
		"chunk_count": chunkCount,
		"error":       "",
	})
}

// MarkFailed records the failure cause so the UI can show an explicit
// failure notice instead of silent partial success.
func (r *DocumentRepository) MarkFailed(id uint, cause string) error {
	return r.updateStatus(id, map[string]interface{}{
		"status": model.DocumentStatusFailed,
		"error":  cause,
	})
}

func (r *DocumentRepository) updateStatus(id uint, fields map[string]interface{}) error {
	if err := r.db.Model(&model.Document{}).Where("id = ?", id).Updates(fields).Error; err != nil {
		return fmt.Errorf("update document status failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) DeleteByFilename(filename string) error {
	if err := r.db.Where("filename = ?", filename).Delete(&model.Document{}).Error; err != nil {
		return fmt.Errorf("delete document failed: %w", err)
	}
	return nil
}

// DeleteAll truncates the registry; used by the admin reset together with
// the vector index reset.
func (r *DocumentRepository) DeleteAll() error {
	if err := r.db.Where("1 = 1").Delete(&model.Document{}).Error; err != nil {
		return fmt.Errorf("delete all documents failed: %w", err)
	}
	return nil
}
