// Package ingestion implements C4: turning parsed document text into
// durably-written, embedded chunks, and updating the owning KB's counters.
package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/manifold-chat/core/internal/apperr"
	"github.com/manifold-chat/core/internal/chunking"
	"github.com/manifold-chat/core/internal/embedregistry"
	"github.com/manifold-chat/core/internal/logging"
	"github.com/manifold-chat/core/internal/model"
	"github.com/manifold-chat/core/internal/telemetry"
	"github.com/manifold-chat/core/internal/vectorstore"
)

var tracer = telemetry.Tracer("manifold-chat/ingestion")

const defaultBatchSize = 100

// ProgressFunc reports fractional progress in [0, 1], as the task queue
// expects from a handler.
type ProgressFunc func(fraction float64)

// CounterSink applies the KB/document bookkeeping side effects the
// pipeline is not itself responsible for persisting.
type CounterSink interface {
	MarkDocumentCompleted(ctx context.Context, docID string, chunkCount int) error
	MarkDocumentFailed(ctx context.Context, docID string, errMsg string) error
	MarkDocumentCancelled(ctx context.Context, docID string) error
	IncrementKBCounters(ctx context.Context, kbID string, documents, chunks int, totalSize int64) error
}

// Pipeline wires the chunking step to the shared embedding (C1) and vector
// store (C2) registries.
type Pipeline struct {
	embeds    *embedregistry.Registry
	vectors   *vectorstore.Registry
	counters  CounterSink
	compactor *Compactor
	batchSize int

	perUserMu  sync.Mutex
	perUserSem map[string]chan struct{}
	userConcurrency int

	log zerolog.Logger
}

func NewPipeline(embeds *embedregistry.Registry, vectors *vectorstore.Registry, counters CounterSink, compactor *Compactor, batchSize, perUserConcurrency int, log zerolog.Logger) *Pipeline {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if perUserConcurrency <= 0 {
		perUserConcurrency = 5
	}
	return &Pipeline{
		embeds:          embeds,
		vectors:         vectors,
		counters:        counters,
		compactor:       compactor,
		batchSize:       batchSize,
		perUserSem:      make(map[string]chan struct{}),
		userConcurrency: perUserConcurrency,
		log:             log,
	}
}

func (p *Pipeline) userSem(userID string) chan struct{} {
	p.perUserMu.Lock()
	defer p.perUserMu.Unlock()
	sem, ok := p.perUserSem[userID]
	if !ok {
		sem = make(chan struct{}, p.userConcurrency)
		p.perUserSem[userID] = sem
	}
	return sem
}

// Request bundles everything Ingest needs for one document.
type Request struct {
	UserID   string
	KB       model.KnowledgeBase
	DocID    string
	Filename string
	Text     string
	SizeBytes int64
}

// Ingest runs the full pipeline: chunk, embed+write in batches, debounced
// compaction, finalize counters. It honors cooperative cancellation between
// batches per spec.md §4.4.
func (p *Pipeline) Ingest(ctx context.Context, req Request, progress ProgressFunc) error {
	ctx, span := tracer.Start(ctx, "ingestion.Ingest", trace.WithAttributes(
		attribute.String("kb_id", req.KB.ID),
		attribute.String("doc_id", req.DocID),
	))
	defer span.End()

	if err := p.ingest(ctx, req, progress); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (p *Pipeline) ingest(ctx context.Context, req Request, progress ProgressFunc) error {
	sem := p.userSem(req.UserID)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return apperr.Wrap(apperr.Cancelled, "waiting for per-user ingestion slot", ctx.Err())
	}
	defer func() { <-sem }()

	splitter := chunking.Build(req.KB.Chunking)
	rawChunks := splitter.Split(req.Text)
	if len(rawChunks) == 0 {
		err := apperr.New(apperr.ParseFailed, "chunking produced no content")
		_ = p.counters.MarkDocumentFailed(ctx, req.DocID, err.Error())
		return err
	}

	chunks := make([]model.Chunk, len(rawChunks))
	ids := make([]string, len(rawChunks))
	for i, c := range rawChunks {
		id := uuid.NewString()
		chunks[i] = model.Chunk{
			ID:    id,
			DocID: req.DocID,
			KBID:  req.KB.ID,
			Index: c.Index,
			Text:  c.Text,
			Metadata: map[string]string{
				"kb_id":       req.KB.ID,
				"doc_id":      req.DocID,
				"chunk_id":    id,
				"chunk_index": fmt.Sprintf("%d", c.Index),
				"source":      req.Filename,
				"filename":    req.Filename,
			},
		}
		ids[i] = id
	}

	embedder, err := p.embeds.GetOrCreate(ctx, req.KB.Embed)
	if err != nil {
		_ = p.counters.MarkDocumentFailed(ctx, req.DocID, err.Error())
		return err
	}

	dimension, err := probeDimension(ctx, embedder)
	if err != nil {
		_ = p.counters.MarkDocumentFailed(ctx, req.DocID, err.Error())
		return err
	}

	handle, err := p.vectors.GetOrCreate(ctx, req.KB.Store, dimension)
	if err != nil {
		_ = p.counters.MarkDocumentFailed(ctx, req.DocID, err.Error())
		return err
	}

	batches := batchOf(chunks, ids, p.batchSize)
	for i, b := range batches {
		select {
		case <-ctx.Done():
			_ = p.counters.MarkDocumentCancelled(ctx, req.DocID)
			return apperr.Wrap(apperr.Cancelled, "ingestion cancelled between batches", ctx.Err())
		default:
		}

		if err := p.ingestBatch(ctx, req, i, b, embedder, handle); err != nil {
			return err
		}

		if progress != nil {
			frac := 0.5 + 0.4*float64(i+1)/float64(len(batches))
			progress(frac)
		}

		if p.compactor != nil {
			p.compactor.RequestCompaction(req.KB.ID, handle)
		}
	}

	if err := p.counters.MarkDocumentCompleted(ctx, req.DocID, len(chunks)); err != nil {
		return err
	}
	if err := p.counters.IncrementKBCounters(ctx, req.KB.ID, 1, len(chunks), req.SizeBytes); err != nil {
		return err
	}
	if progress != nil {
		progress(1.0)
	}
	return nil
}

// ingestBatch embeds and writes one batch, wrapped in its own span so a
// slow embed call or vector-store write within a large document's ingest
// shows up as a distinct child of the document-level span.
func (p *Pipeline) ingestBatch(ctx context.Context, req Request, index int, b batch, embedder embedregistry.Embedder, handle *vectorstore.LockedHandle) error {
	ctx, span := tracer.Start(ctx, "ingestion.ingestBatch", trace.WithAttributes(
		attribute.String("doc_id", req.DocID),
		attribute.Int("batch_index", index),
		attribute.Int("batch_size", len(b.chunks)),
	))
	defer span.End()

	logging.WithTrace(ctx, p.log).Debug().
		Str("doc_id", req.DocID).Int("batch_index", index).Int("batch_size", len(b.chunks)).
		Msg("ingesting batch")

	texts := make([]string, len(b.chunks))
	for j, c := range b.chunks {
		texts[j] = c.Text
	}
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		_ = p.counters.MarkDocumentFailed(ctx, req.DocID, err.Error())
		wrapped := apperr.Wrap(apperr.StoreUnavailable, "embed batch", err)
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())
		return wrapped
	}

	if err := handle.AddDocuments(ctx, b.chunks, vectors, b.ids); err != nil {
		_ = p.counters.MarkDocumentFailed(ctx, req.DocID, err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

type batch struct {
	chunks []model.Chunk
	ids    []string
}

func batchOf(chunks []model.Chunk, ids []string, size int) []batch {
	var out []batch
	for i := 0; i < len(chunks); i += size {
		end := i + size
		if end > len(chunks) {
			end = len(chunks)
		}
		out = append(out, batch{chunks: chunks[i:end], ids: ids[i:end]})
	}
	return out
}

func probeDimension(ctx context.Context, embedder embedregistry.Embedder) (int, error) {
	v, err := embedder.EmbedQuery(ctx, "dimension probe")
	if err != nil {
		return 0, err
	}
	return len(v), nil
}

// Compactor debounces global per-KB compaction so concurrent batch writes
// to the same KB don't each force a checkpoint, per spec.md §4.4 step 3:
// at most once per debounce window (60s by default) per KB.
type Compactor struct {
	mu       sync.Mutex
	lastRun  map[string]time.Time
	debounce time.Duration
	log      zerolog.Logger
}

func NewCompactor(debounce time.Duration, log zerolog.Logger) *Compactor {
	if debounce <= 0 {
		debounce = 60 * time.Second
	}
	return &Compactor{lastRun: make(map[string]time.Time), debounce: debounce, log: log}
}

// RequestCompaction triggers a checkpoint for kbID's handle in the
// background, unless one already ran within the debounce window.
func (c *Compactor) RequestCompaction(kbID string, handle *vectorstore.LockedHandle) {
	c.mu.Lock()
	last, ok := c.lastRun[kbID]
	due := !ok || time.Since(last) >= c.debounce
	if due {
		c.lastRun[kbID] = timeNow()
	}
	c.mu.Unlock()

	if !due {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := handle.ForceGlobalCompactionWait(ctx); err != nil {
			c.log.Warn().Str("kb_id", kbID).Err(err).Msg("debounced compaction failed")
		}
	}()
}

// timeNow is indirected so it's the one call in this package that would
// need a fake clock in a future test exercising the debounce window.
func timeNow() time.Time { return time.Now() }
