// Package pipeline moves normalized listings from the orchestrator to the
// history engine and the configured output writers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/partscout/partscout/config"
	"github.com/partscout/partscout/history"
	"github.com/partscout/partscout/models"
)

// ErrPipelineClosed is returned when Deliver is called after shutdown.
var ErrPipelineClosed = errors.New("pipeline: closed")

// OutputWriter defines the interface for listing output.
type OutputWriter interface {
	Write(listings []*models.MarketplaceListing) error
	Close() error
}

// Pipeline batches listings for the writer and records each snapshot in the
// history engine. Duplicate snapshots inside the dedupe window are dropped.
type Pipeline struct {
	writer    OutputWriter
	engine    *history.Engine
	listingCh chan *models.MarketplaceListing
	batchSize int

	wg sync.WaitGroup

	seen *lru.Cache[string, struct{}]

	mu     sync.Mutex // guards closed/err/counters
	closed bool
	err    error

	processed int64
	alerts    int64

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New builds a pipeline over a writer and a history engine. The engine may be
// nil when the caller only wants file output.
func New(cfg *config.Config, writer OutputWriter, engine *history.Engine) (*Pipeline, error) {
	seen, err := lru.New[string, struct{}](cfg.DedupeMaxSize)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}
	return &Pipeline{
		writer:    writer,
		engine:    engine,
		listingCh: make(chan *models.MarketplaceListing, cfg.PipelineBufferSize),
		batchSize: cfg.BatchSize,
		seen:      seen,
		shutdown:  make(chan struct{}),
	}, nil
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Deliver enqueues one listing for downstream processing. It implements the
// orchestrator's sink contract.
func (p *Pipeline) Deliver(_ context.Context, listing *models.MarketplaceListing) error {
	if listing == nil {
		return nil
	}

	p.mu.Lock()
	closed, err := p.closed, p.err
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	return p.enqueue(listing)
}

// Close waits for workers to finish and prevents more submissions.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
	}
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.listingCh)
	})

	p.wg.Wait()
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Counts reports processed listings and fired alerts.
func (p *Pipeline) Counts() (processed, alerts int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed, p.alerts
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]*models.MarketplaceListing, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.Write(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for listing := range p.listingCh {
		if !p.admit(listing) {
			continue
		}
		p.record(listing)
		batch = append(batch, listing)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
				return
			}
		}
	}

	if err := flush(); err != nil {
		p.setErr(fmt.Errorf("write batch: %w", err))
	}
}

// admit drops duplicate snapshots inside the dedupe window.
func (p *Pipeline) admit(listing *models.MarketplaceListing) bool {
	key := fmt.Sprintf("%s@%d", listing.ListingKey(), listing.ScrapedAt.UnixNano())
	if _, dup := p.seen.Get(key); dup {
		return false
	}
	p.seen.Add(key, struct{}{})

	p.mu.Lock()
	p.processed++
	p.mu.Unlock()
	return true
}

func (p *Pipeline) record(listing *models.MarketplaceListing) {
	if p.engine == nil {
		return
	}
	fired, err := p.engine.Record(context.Background(), listing)
	if err != nil {
		slog.Error("record history entry",
			slog.String("listing", listing.ListingKey()),
			slog.Any("error", err),
		)
		return
	}
	if len(fired) > 0 {
		p.mu.Lock()
		p.alerts += int64(len(fired))
		p.mu.Unlock()
	}
}

func (p *Pipeline) enqueue(listing *models.MarketplaceListing) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.listingCh <- listing:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.listingCh)
	})
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}
