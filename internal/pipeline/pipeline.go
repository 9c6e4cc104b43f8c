package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"price-tracker/internal/domain"
	"price-tracker/internal/repository"
	"price-tracker/internal/source"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrInvalidArticle rejects malformed identifiers before any I/O.
	ErrInvalidArticle = errors.New("article must be a positive integer")
	// ErrBatchInFlight rejects a second batch while one is running.
	ErrBatchInFlight = errors.New("a batch refresh is already in flight")
	// ErrEmptyBatch rejects a batch with nothing to refresh.
	ErrEmptyBatch = errors.New("no articles to refresh")
)

// Pipeline ingests product snapshots: fetch, normalize, persist.
//
// Batches run strictly sequentially with a fixed delay between articles. The
// source publishes no concurrency or rate allowance, so pacing stays
// conservative and throughput is traded away deliberately.
type Pipeline struct {
	source  source.Source
	store   repository.PriceStore
	delay   time.Duration
	logger  *zap.Logger
	running atomic.Bool
}

// New creates a pipeline. delay is the pause between consecutive articles of
// a batch.
func New(src source.Source, store repository.PriceStore, delay time.Duration, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		source: src,
		store:  store,
		delay:  delay,
		logger: logger,
	}
}

// FetchOne fetches a single article and persists the snapshot. The store has
// one writer at a time, so it refuses while a batch is in flight.
func (p *Pipeline) FetchOne(ctx context.Context, article int64) (*domain.Snapshot, error) {
	if article <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidArticle, article)
	}
	if p.running.Load() {
		return nil, ErrBatchInFlight
	}

	snap, err := p.source.Fetch(ctx, article)
	if err != nil {
		return nil, err
	}

	if err := p.store.UpsertSnapshot(ctx, snap); err != nil {
		return nil, err
	}

	p.logger.Info("article refreshed",
		zap.Int64("article", article),
		zap.Bool("available", snap.Available()),
	)
	return snap, nil
}

// FetchMany refreshes the given articles in order, one at a time, and
// returns the event stream of the run. Identifiers are validated up front;
// only one batch may be in flight at a time.
//
// A fetch failure marks its row and the batch moves on. A storage failure
// aborts the batch. Cancelling the context stops the batch between articles;
// the in-flight fetch is never aborted mid-request. In every case the stream
// ends with a single completed event and is then closed.
func (p *Pipeline) FetchMany(ctx context.Context, articles []int64) (<-chan Event, error) {
	if len(articles) == 0 {
		return nil, ErrEmptyBatch
	}
	for _, article := range articles {
		if article <= 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidArticle, article)
		}
	}

	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrBatchInFlight
	}

	// Buffered for the worst-case event count so the producer never blocks
	// on a slow or departed consumer.
	events := make(chan Event, 2*len(articles)+1)

	go p.run(ctx, articles, events)

	return events, nil
}

// Running reports whether a batch refresh is in flight. The store must not
// be switched while it is.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// RefreshAll runs a batch over every product currently tracked in the store.
func (p *Pipeline) RefreshAll(ctx context.Context) (<-chan Event, error) {
	ids, err := p.store.ListProductIDs(ctx)
	if err != nil {
		return nil, err
	}
	return p.FetchMany(ctx, ids)
}

func (p *Pipeline) run(ctx context.Context, articles []int64, events chan<- Event) {
	defer close(events)
	defer p.running.Store(false)

	batch := uuid.New()
	log := p.logger.With(zap.String("batch_id", batch.String()))
	log.Info("batch refresh started", zap.Int("articles", len(articles)))

	var batchErr error
	total := len(articles)

	for i, article := range articles {
		if i > 0 && !p.pause(ctx) {
			batchErr = ctx.Err()
			break
		}
		// A stop request must keep the next fetch from starting, the
		// first one included.
		if ctx.Err() != nil {
			batchErr = ctx.Err()
			break
		}

		snap, err := p.source.Fetch(ctx, article)
		switch {
		case err != nil:
			log.Warn("article refresh failed", zap.Int64("article", article), zap.Error(err))
			events <- Event{Type: EventRowFailed, Index: i}
		default:
			if err := p.store.UpsertSnapshot(ctx, snap); err != nil {
				log.Error("batch aborted by storage failure",
					zap.Int64("article", article), zap.Error(err))
				batchErr = err
			} else {
				events <- Event{Type: EventRowUpdated, Index: i, Snapshot: snap}
			}
		}
		if batchErr != nil {
			break
		}

		percent := int(math.Round(float64(i+1) / float64(total) * 100))
		events <- Event{Type: EventProgress, Index: i, Percent: percent}
	}

	done := Event{Type: EventCompleted}
	if batchErr != nil {
		done.Error = batchErr.Error()
	}
	events <- done

	log.Info("batch refresh finished", zap.Error(batchErr))
}

// pause waits out the inter-article delay, returning false when the context
// is cancelled first.
func (p *Pipeline) pause(ctx context.Context) bool {
	if p.delay <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(p.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
