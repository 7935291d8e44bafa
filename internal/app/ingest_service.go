package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pdfchat/internal/chunker"
	"pdfchat/internal/model"
	"pdfchat/internal/pkg/retry"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrEmptyDocument    = errors.New("document has no extractable text")
	ErrNoChunks         = errors.New("no chunks produced from document")
	ErrAlreadyProcessed = errors.New("document already processed")
	ErrDocumentNotFound = errors.New("document not found")
)

// recordNamespace is the UUIDv5 namespace for chunk record ids. Ids derive
// from (source filename, chunk ordinal), so re-ingesting the same file
// overwrites its records in place instead of growing the index.
var recordNamespace = uuid.MustParse("2f1f07a4-8f2b-44a5-9a3e-6f4f0f6c5d21")

// Embedder is the embedding surface the pipelines consume.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex is the vector store surface the pipelines consume.
type VectorIndex interface {
	Upsert(ctx context.Context, records []model.VectorRecord) error
	Query(ctx context.Context, vector []float32, topK uint64) ([]model.Match, error)
	DeleteBySource(ctx context.Context, source string) error
	PruneSource(ctx context.Context, source string, fromChunk int) error
	Reset(ctx context.Context) error
	Stats(ctx context.Context) (model.IndexStats, error)
}

// IngestService drives the ingestion pipeline: chunk, embed in batches,
// upsert. One call is synchronous and sequential; the batch is the retry
// unit and there is no cross-batch rollback, so a mid-flight failure leaves
// earlier batches indexed (at-least-once; re-running the same file converges
// because record ids are deterministic).
type IngestService struct {
	chunker  *chunker.Chunker
	embedder Embedder
	index    VectorIndex

	batchSize     int
	retryAttempts int
	retryBackoff  time.Duration
	retryIf       func(error) bool
	timeout       time.Duration

	// one writer per source filename; two concurrent ingestions of the same
	// file would interleave their overwrites
	sources sync.Map
}

type IngestOption func(*IngestService)

func WithRetry(attempts int, backoff time.Duration) IngestOption {
	return func(s *IngestService) {
		s.retryAttempts = attempts
		s.retryBackoff = backoff
	}
}

// WithRetryClassifier restricts retries to errors the predicate accepts.
// Permanent failures (rejected input, invalid arguments) then abort the
// batch on the first attempt instead of burning the backoff schedule.
func WithRetryClassifier(retryable func(error) bool) IngestOption {
	return func(s *IngestService) {
		s.retryIf = retryable
	}
}

func WithTimeout(timeout time.Duration) IngestOption {
	return func(s *IngestService) {
		s.timeout = timeout
	}
}

func NewIngestService(c *chunker.Chunker, embedder Embedder, index VectorIndex, batchSize int, opts ...IngestOption) *IngestService {
	if batchSize <= 0 {
		batchSize = 100
	}
	s := &IngestService{
		chunker:       c,
		embedder:      embedder,
		index:         index,
		batchSize:     batchSize,
		retryAttempts: 3,
		retryBackoff:  time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordID returns the deterministic id for a chunk of a source file.
func RecordID(source string, chunkIndex int) string {
	return uuid.NewSHA1(recordNamespace, []byte(fmt.Sprintf("%s#%d", source, chunkIndex))).String()
}

// Process ingests one loaded document and returns the number of chunks
// stored.
func (s *IngestService) Process(ctx context.Context, doc model.DocumentPages) (int, error) {
	filename := strings.TrimSpace(doc.Filename)
	if filename == "" {
		return 0, fmt.Errorf("%w: filename is empty", ErrInvalidInput)
	}
	if !hasText(doc.Pages) {
		return 0, ErrEmptyDocument
	}

	mu := s.sourceLock(filename)
	mu.Lock()
	defer mu.Unlock()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	chunks := s.chunker.Split(doc.Pages)
	if len(chunks) == 0 {
		return 0, ErrNoChunks
	}
	log.Printf("ingest %s: %d pages, %d chunks", filename, len(doc.Pages), len(chunks))

	totalBatches := (len(chunks) + s.batchSize - 1) / s.batchSize
	for start := 0; start < len(chunks); start += s.batchSize {
		end := start + s.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		err := retry.DoIf(ctx, s.retryAttempts, s.retryBackoff, s.retryIf, func() error {
			return s.processBatch(ctx, filename, batch)
		})
		if err != nil {
			return 0, fmt.Errorf("ingest %s batch %d/%d failed: %w",
				filename, start/s.batchSize+1, totalBatches, err)
		}
		log.Printf("ingest %s: uploaded batch %d/%d", filename, start/s.batchSize+1, totalBatches)
	}

	// A re-ingested document may have shrunk; its old records beyond the
	// new chunk count keep their deterministic ids and are never
	// overwritten, so prune them explicitly.
	if err := s.index.PruneSource(ctx, filename, len(chunks)); err != nil {
		return 0, fmt.Errorf("ingest %s: prune stale records failed: %w", filename, err)
	}

	// Observational only: mismatches are logged, never fatal.
	if stats, err := s.index.Stats(ctx); err == nil {
		log.Printf("ingest %s: index now holds %d vectors (dim %d)",
			filename, stats.TotalVectorCount, stats.Dimension)
	}
	return len(chunks), nil
}

func (s *IngestService) processBatch(ctx context.Context, filename string, batch []model.Chunk) error {
	texts := make([]string, len(batch))
	for i, ch := range batch {
		texts[i] = ch.Text
	}

	embeddings, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch failed: %w", err)
	}
	if len(embeddings) != len(batch) {
		return fmt.Errorf("embedding count mismatch: %d chunks, %d vectors", len(batch), len(embeddings))
	}

	records := make([]model.VectorRecord, len(batch))
	for i, ch := range batch {
		records[i] = model.VectorRecord{
			ID:     RecordID(filename, ch.Index),
			Values: embeddings[i],
			Text:   ch.Text,
			Source: filename,
			Page:   ch.Page,
			Chunk:  ch.Index,
		}
	}
	if err := s.index.Upsert(ctx, records); err != nil {
		return fmt.Errorf("upsert batch failed: %w", err)
	}
	return nil
}

func (s *IngestService) sourceLock(filename string) *sync.Mutex {
	mu, _ := s.sources.LoadOrStore(filename, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func hasText(pages []model.Page) bool {
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}
