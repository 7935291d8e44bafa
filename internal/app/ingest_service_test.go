package app_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfchat/internal/app"
	"pdfchat/internal/chunker"
	"pdfchat/internal/model"
)

func newIngestService(t *testing.T, size, overlap, batchSize int, embedder app.Embedder, index app.VectorIndex) *app.IngestService {
	t.Helper()
	c, err := chunker.New(size, overlap)
	require.NoError(t, err)
	return app.NewIngestService(c, embedder, index, batchSize,
		app.WithRetry(1, time.Millisecond))
}

func TestProcess_EmptyDocument(t *testing.T) {
	embedder := &stubEmbedder{}
	index := newStubIndex()
	svc := newIngestService(t, 1000, 100, 100, embedder, index)

	tests := []struct {
		name string
		doc  model.DocumentPages
	}{
		{name: "no pages", doc: model.DocumentPages{Filename: "a.pdf"}},
		{name: "only blank pages", doc: model.DocumentPages{
			Filename: "a.pdf",
			Pages:    []model.Page{{Number: 0, Text: "  \n"}, {Number: 1, Text: ""}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Process(context.Background(), tt.doc)
			assert.ErrorIs(t, err, app.ErrEmptyDocument)
		})
	}
	assert.Zero(t, index.upsertCalls, "no upsert may happen for degenerate input")
	assert.Zero(t, embedder.batchCalls)
}

func TestProcess_MissingFilename(t *testing.T) {
	svc := newIngestService(t, 1000, 100, 100, &stubEmbedder{}, newStubIndex())
	_, err := svc.Process(context.Background(), model.DocumentPages{
		Pages: []model.Page{{Number: 0, Text: "content"}},
	})
	assert.ErrorIs(t, err, app.ErrInvalidInput)
}

func TestProcess_BatchPartitioning(t *testing.T) {
	// 100 runes with size 10 / overlap 0 cut into 10 chunks; batch size 3
	// makes ceil(10/3) = 4 upsert calls of at most 3 records each.
	embedder := &stubEmbedder{}
	index := newStubIndex()
	svc := newIngestService(t, 10, 0, 3, embedder, index)

	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteRune(rune('a' + i%26))
	}
	count, err := svc.Process(context.Background(), model.DocumentPages{
		Filename: "batches.pdf",
		Pages:    []model.Page{{Number: 0, Text: b.String()}},
	})
	require.NoError(t, err)
	assert.Equal(t, 10, count)

	assert.Equal(t, 4, index.upsertCalls)
	for _, size := range index.upsertSizes {
		assert.LessOrEqual(t, size, 3)
	}

	// Union of upserted texts equals the chunk set, no dups, no omissions.
	texts := make(map[string]bool)
	for _, r := range index.records {
		assert.False(t, texts[r.Text], "duplicate chunk text stored")
		texts[r.Text] = true
	}
	assert.Len(t, texts, 10)
}

func TestProcess_TwoPageDocumentOneBatch(t *testing.T) {
	embedder := &stubEmbedder{}
	index := newStubIndex()
	svc := newIngestService(t, 1000, 100, 100, embedder, index)

	count, err := svc.Process(context.Background(), model.DocumentPages{
		Filename: "two-pages.pdf",
		Pages: []model.Page{
			{Number: 0, Text: strings.Repeat("x", 1500)},
			{Number: 1, Text: strings.Repeat("y", 50)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, 1, index.upsertCalls, "3 records fit one batch of 100")
	assert.Len(t, index.records, 3)

	pages := map[int]int{}
	for _, r := range index.records {
		pages[r.Page]++
		assert.Equal(t, "two-pages.pdf", r.Source)
	}
	assert.Equal(t, 2, pages[0])
	assert.Equal(t, 1, pages[1])
}

func TestProcess_ReingestOverwrites(t *testing.T) {
	embedder := &stubEmbedder{}
	index := newStubIndex()
	svc := newIngestService(t, 100, 10, 10, embedder, index)

	doc := model.DocumentPages{
		Filename: "same.pdf",
		Pages:    []model.Page{{Number: 0, Text: strings.Repeat("stable text ", 40)}},
	}

	_, err := svc.Process(context.Background(), doc)
	require.NoError(t, err)
	firstCount := len(index.records)
	require.Greater(t, firstCount, 1)

	_, err = svc.Process(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, firstCount, len(index.records),
		"deterministic ids must overwrite, not duplicate")
}

func TestRecordID_Deterministic(t *testing.T) {
	a := app.RecordID("file.pdf", 7)
	b := app.RecordID("file.pdf", 7)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, app.RecordID("file.pdf", 8))
	assert.NotEqual(t, a, app.RecordID("other.pdf", 7))
}

func TestProcess_EmbedFailurePropagates(t *testing.T) {
	boom := errors.New("embedding service down")
	embedder := &stubEmbedder{failWith: boom}
	index := newStubIndex()
	svc := newIngestService(t, 1000, 100, 100, embedder, index)

	_, err := svc.Process(context.Background(), model.DocumentPages{
		Filename: "fail.pdf",
		Pages:    []model.Page{{Number: 0, Text: "some content"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, index.upsertCalls, "failed embedding must not reach the index")
}

func TestProcess_UpsertFailurePropagates(t *testing.T) {
	boom := errors.New("vector store down")
	index := newStubIndex()
	index.failUpsert = boom
	svc := newIngestService(t, 1000, 100, 100, &stubEmbedder{}, index)

	_, err := svc.Process(context.Background(), model.DocumentPages{
		Filename: "fail.pdf",
		Pages:    []model.Page{{Number: 0, Text: "some content"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestProcess_RetriesFailedBatch(t *testing.T) {
	embedder := &stubEmbedder{}
	index := newStubIndex()
	c, err := chunker.New(1000, 100)
	require.NoError(t, err)

	boom := errors.New("transient")
	index.failUpsert = boom
	svc := app.NewIngestService(c, embedder, index, 100,
		app.WithRetry(3, time.Millisecond))

	_, err = svc.Process(context.Background(), model.DocumentPages{
		Filename: "retry.pdf",
		Pages:    []model.Page{{Number: 0, Text: "retry me"}},
	})
	require.Error(t, err)
	assert.Equal(t, 3, index.upsertCalls, "batch is the retry unit")
}

func TestProcess_PermanentErrorNotRetried(t *testing.T) {
	embedder := &stubEmbedder{}
	index := newStubIndex()
	c, err := chunker.New(1000, 100)
	require.NoError(t, err)

	permanent := errors.New("input rejected")
	index.failUpsert = permanent
	svc := app.NewIngestService(c, embedder, index, 100,
		app.WithRetry(3, time.Millisecond),
		app.WithRetryClassifier(func(err error) bool { return !errors.Is(err, permanent) }))

	_, err = svc.Process(context.Background(), model.DocumentPages{
		Filename: "rejected.pdf",
		Pages:    []model.Page{{Number: 0, Text: "content"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, index.upsertCalls, "permanent failures must abort on the first attempt")
}

func TestProcess_SerializesSameSource(t *testing.T) {
	embedder := newGatedEmbedder()
	index := newStubIndex()
	c, err := chunker.New(1000, 100)
	require.NoError(t, err)
	svc := app.NewIngestService(c, embedder, index, 100,
		app.WithRetry(1, time.Millisecond))

	same := model.DocumentPages{
		Filename: "same.pdf",
		Pages:    []model.Page{{Number: 0, Text: "alpha"}},
	}
	done := make(chan error, 3)
	go func() {
		_, err := svc.Process(context.Background(), same)
		done <- err
	}()
	// First ingestion is inside the pipeline, holding the source lock.
	<-embedder.entered

	go func() {
		_, err := svc.Process(context.Background(), same)
		done <- err
	}()
	select {
	case <-embedder.entered:
		t.Fatal("second ingestion of the same file ran while the first was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	// A different filename is not serialized against it.
	go func() {
		_, err := svc.Process(context.Background(), model.DocumentPages{
			Filename: "other.pdf",
			Pages:    []model.Page{{Number: 0, Text: "beta"}},
		})
		done <- err
	}()
	select {
	case <-embedder.entered:
	case <-time.After(time.Second):
		t.Fatal("ingestion of a different file blocked behind an unrelated one")
	}

	close(embedder.release)
	for i := 0; i < 3; i++ {
		require.NoError(t, <-done)
	}
	assert.Equal(t, 3, index.upsertCalls)
}

func TestProcess_TimeoutAbortsRemainingBatches(t *testing.T) {
	// Two batches; the embedder never returns, so the per-call timeout
	// must fail the first batch and the second must never start.
	embedder := newGatedEmbedder()
	index := newStubIndex()
	c, err := chunker.New(10, 0)
	require.NoError(t, err)
	svc := app.NewIngestService(c, embedder, index, 1,
		app.WithRetry(1, time.Millisecond),
		app.WithTimeout(50*time.Millisecond))

	_, err = svc.Process(context.Background(), model.DocumentPages{
		Filename: "slow.pdf",
		Pages:    []model.Page{{Number: 0, Text: strings.Repeat("z", 20)}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, index.upsertCalls)
	assert.Equal(t, 1, len(embedder.entered), "no further batch may start after the deadline")
}

func TestProcess_ReingestShrunkDocumentPrunes(t *testing.T) {
	embedder := &stubEmbedder{}
	index := newStubIndex()
	svc := newIngestService(t, 10, 0, 100, embedder, index)

	_, err := svc.Process(context.Background(), model.DocumentPages{
		Filename: "shrink.pdf",
		Pages:    []model.Page{{Number: 0, Text: strings.Repeat("a", 50)}},
	})
	require.NoError(t, err)
	require.Len(t, index.records, 5)

	count, err := svc.Process(context.Background(), model.DocumentPages{
		Filename: "shrink.pdf",
		Pages:    []model.Page{{Number: 0, Text: strings.Repeat("b", 20)}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.Len(t, index.records, 2, "stale tail records must be pruned")
	for _, r := range index.records {
		assert.Less(t, r.Chunk, 2)
	}
	assert.Equal(t, 2, index.pruneCalls)
}

func TestProcess_RoundTrip(t *testing.T) {
	// Ingesting a document and querying with one chunk's exact text must
	// return that chunk as the top match with near-perfect similarity.
	embedder := &stubEmbedder{}
	index := newStubIndex()
	svc := newIngestService(t, 100, 10, 10, embedder, index)

	pageText := "The quick brown fox jumps over the lazy dog. " +
		strings.Repeat("Further prose to force several chunks. ", 10)
	_, err := svc.Process(context.Background(), model.DocumentPages{
		Filename: "roundtrip.pdf",
		Pages:    []model.Page{{Number: 0, Text: pageText}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, index.records)

	var probe model.VectorRecord
	for _, r := range index.records {
		probe = r
		break
	}

	vec, err := embedder.Embed(context.Background(), probe.Text)
	require.NoError(t, err)
	matches, err := index.Query(context.Background(), vec, 3)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, probe.ID, matches[0].ID)
	assert.Greater(t, matches[0].Score, float32(0.95))
}
