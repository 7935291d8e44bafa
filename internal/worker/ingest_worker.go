package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"pdfchat/internal/app"
	"pdfchat/internal/model"
	"pdfchat/internal/pkg/pdfextract"
	"pdfchat/internal/platform/rabbitmq"
	"pdfchat/internal/repository"
)

// IngestWorker is the single consumer of the ingest queue. Uploads only
// spool the file and enqueue a job; this worker extracts pages, runs the
// ingestion pipeline, and records the outcome on the registry row.
type IngestWorker struct {
	conn      *amqp.Connection
	ingest    *app.IngestService
	repo      *repository.DocumentRepository
	cache     app.AnswerInvalidator
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(
	conn *amqp.Connection,
	ingest *app.IngestService,
	repo *repository.DocumentRepository,
	cache app.AnswerInvalidator,
	queueName string,
) *IngestWorker {
	return &IngestWorker{
		conn:      conn,
		ingest:    ingest,
		repo:      repo,
		cache:     cache,
		queueName: queueName,
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare ingest queue failed: %w", err)
	}

	// One unacked job at a time: ingestion is heavyweight and the pipeline
	// is sequential anyway.
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume ingest queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}

				var job rabbitmq.IngestJob
				if err := json.Unmarshal(d.Body, &job); err != nil {
					log.Printf("worker decode ingest job failed: %v", err)
					_ = d.Nack(false, false)
					continue
				}

				w.handle(workerCtx, job)
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

// handle runs one job end to end. Failures are recorded on the registry row
// rather than requeued: re-uploading is the retry path, and deterministic
// record ids make it converge.
func (w *IngestWorker) handle(ctx context.Context, job rabbitmq.IngestJob) {
	defer func() {
		if job.Path != "" {
			if err := os.Remove(job.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Printf("worker remove spool file %s failed: %v", job.Path, err)
			}
		}
	}()

	if err := w.repo.MarkProcessing(job.DocumentID); err != nil {
		log.Printf("worker mark processing failed: %v", err)
	}

	pages, err := w.loadPages(job.Path)
	if err != nil {
		w.fail(job, fmt.Errorf("load pdf failed: %w", err))
		return
	}

	count, err := w.ingest.Process(ctx, model.DocumentPages{
		Filename: job.Filename,
		Pages:    pages,
	})
	if err != nil {
		w.fail(job, err)
		return
	}

	if err := w.repo.MarkCompleted(job.DocumentID, len(pages), count); err != nil {
		log.Printf("worker mark completed failed: %v", err)
	}
	if w.cache != nil {
		if err := w.cache.Invalidate(ctx); err != nil {
			log.Printf("worker invalidate answer cache failed: %v", err)
		}
	}
	log.Printf("worker ingested %s: %d pages, %d chunks", job.Filename, len(pages), count)
}

func (w *IngestWorker) loadPages(path string) ([]model.Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return pdfextract.ExtractPages(f)
}

func (w *IngestWorker) fail(job rabbitmq.IngestJob, cause error) {
	log.Printf("worker ingest %s failed: %v", job.Filename, cause)
	if err := w.repo.MarkFailed(job.DocumentID, cause.Error()); err != nil {
		log.Printf("worker mark failed failed: %v", err)
	}
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
