package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"pdfchat/internal/model"
	"pdfchat/internal/repository"
)

// AnswerInvalidator drops cached answers after the index contents change.
type AnswerInvalidator interface {
	Invalidate(ctx context.Context) error
}

// DocumentService covers the registry-facing operations around the two
// pipelines: listing processed files, removing one document's records, the
// administrative full reset, and index stats.
type DocumentService struct {
	repo  *repository.DocumentRepository
	index VectorIndex
	cache AnswerInvalidator
}

func NewDocumentService(repo *repository.DocumentRepository, index VectorIndex, cache AnswerInvalidator) *DocumentService {
	return &DocumentService{repo: repo, index: index, cache: cache}
}

func (s *DocumentService) List() ([]model.Document, error) {
	return s.repo.List()
}

// Delete removes one document: its vector records by source filter, then
// its registry row. Cached answers may cite the removed passages, so the
// cache generation is bumped.
func (s *DocumentService) Delete(ctx context.Context, filename string) error {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return fmt.Errorf("%w: filename is empty", ErrInvalidInput)
	}
	doc, err := s.repo.GetByFilename(filename)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}

	if err := s.index.DeleteBySource(ctx, filename); err != nil {
		return fmt.Errorf("delete vectors for %s failed: %w", filename, err)
	}
	if err := s.repo.DeleteByFilename(filename); err != nil {
		return err
	}
	s.invalidateAnswers(ctx)
	return nil
}

// Reset clears everything: drop-and-recreate the vector collection, truncate
// the registry, invalidate cached answers.
func (s *DocumentService) Reset(ctx context.Context) error {
	if err := s.index.Reset(ctx); err != nil {
		return fmt.Errorf("reset vector index failed: %w", err)
	}
	if err := s.repo.DeleteAll(); err != nil {
		return err
	}
	s.invalidateAnswers(ctx)
	return nil
}

func (s *DocumentService) Stats(ctx context.Context) (model.IndexStats, error) {
	return s.index.Stats(ctx)
}

func (s *DocumentService) invalidateAnswers(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		log.Printf("invalidate answer cache failed: %v", err)
	}
}
