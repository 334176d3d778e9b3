// Package orchestrator accepts scrape requests, deduplicates in-flight work,
// and drives each target through the rate limiter, transport, adapter,
// normalizer, and sink.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/partscout/partscout/adapter"
	"github.com/partscout/partscout/backoff"
	"github.com/partscout/partscout/config"
	"github.com/partscout/partscout/fetch"
	"github.com/partscout/partscout/models"
	"github.com/partscout/partscout/parser"
	"github.com/partscout/partscout/ratelimit"
	"golang.org/x/sync/singleflight"
)

// ErrCancelled is returned when work is aborted before completion.
var ErrCancelled = errors.New("orchestrator: cancelled")

// ErrAbandoned wraps the terminal error of a target marked dormant. The
// target stays visible via Abandoned until reactivated.
type ErrAbandoned struct {
	Key  string
	Last error
}

func (e *ErrAbandoned) Error() string {
	return fmt.Sprintf("target %s abandoned: %v", e.Key, e.Last)
}

func (e *ErrAbandoned) Unwrap() error {
	return e.Last
}

// Sink receives normalized listings downstream.
type Sink interface {
	Deliver(ctx context.Context, listing *models.MarketplaceListing) error
}

type platformRuntime struct {
	pc        *config.PlatformConfig
	adapter   adapter.Adapter
	transport fetch.Transport
	policy    *backoff.Policy
	sem       chan struct{}
	queueHigh chan models.ScrapeTarget
	queueNorm chan models.ScrapeTarget
}

// Orchestrator owns the in-flight map and the per-platform runtimes. The
// singleflight group and the attempt-state map are the only state shared
// between workers.
type Orchestrator struct {
	cfg      *config.Config
	limits   *ratelimit.Registry
	sink     Sink
	metrics  *Metrics
	runtimes map[models.Platform]*platformRuntime

	flight singleflight.Group

	mu       sync.Mutex
	states   map[string]*backoff.AttemptState
	cooldown map[models.Platform]time.Time
	closed   bool

	// shutdown stops intake and the worker loops; abort additionally cancels
	// in-flight waits once the drain grace period expires.
	shutdown  chan struct{}
	abort     chan struct{}
	stopOnce  sync.Once
	abortOnce sync.Once
	wg        sync.WaitGroup
}

// New wires adapters, transports, and policies for every configured platform.
func New(cfg *config.Config, limits *ratelimit.Registry, sink Sink, metrics *Metrics) (*Orchestrator, error) {
	runtimes := make(map[models.Platform]*platformRuntime, len(cfg.Platforms))
	for platform, pc := range cfg.Platforms {
		ad, err := adapter.ForPlatform(platform, pc)
		if err != nil {
			return nil, err
		}
		transport, err := fetch.New(pc)
		if err != nil {
			return nil, fmt.Errorf("platform %s: %w", platform, err)
		}
		runtimes[platform] = &platformRuntime{
			pc:        pc,
			adapter:   ad,
			transport: transport,
			policy:    backoff.NewPolicy(pc),
			sem:       make(chan struct{}, pc.ConcurrencyCap),
			queueHigh: make(chan models.ScrapeTarget, 256),
			queueNorm: make(chan models.ScrapeTarget, 1024),
		}
	}
	return &Orchestrator{
		cfg:      cfg,
		limits:   limits,
		sink:     sink,
		metrics:  metrics,
		runtimes: runtimes,
		states:   make(map[string]*backoff.AttemptState),
		cooldown: make(map[models.Platform]time.Time),
		shutdown: make(chan struct{}),
		abort:    make(chan struct{}),
	}, nil
}

// SetTransport swaps a platform's transport. Used by tests.
func (o *Orchestrator) SetTransport(platform models.Platform, t fetch.Transport) {
	if rt, ok := o.runtimes[platform]; ok {
		rt.transport = t
	}
}

// Priority selects the intake band for enqueued targets.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// Start launches each platform's worker pool. Browser-driven platforms are
// typically configured with fewer workers than plain HTTP ones.
func (o *Orchestrator) Start() {
	for platform, rt := range o.runtimes {
		for i := 0; i < rt.pc.Workers; i++ {
			o.wg.Add(1)
			go o.worker(platform, rt)
		}
	}
}

func (o *Orchestrator) worker(platform models.Platform, rt *platformRuntime) {
	defer o.wg.Done()
	for {
		// Drain the high band before taking normal work.
		select {
		case target := <-rt.queueHigh:
			o.run(target)
			continue
		default:
		}
		select {
		case target := <-rt.queueHigh:
			o.run(target)
		case target := <-rt.queueNorm:
			o.run(target)
		case <-o.shutdown:
			return
		}
	}
}

func (o *Orchestrator) run(target models.ScrapeTarget) {
	ctx := context.Background()
	if _, err := o.Submit(ctx, target); err != nil {
		slog.Warn("queued scrape failed",
			slog.String("target", target.Key()),
			slog.Any("error", err),
		)
	}
}

// Enqueue is the job-queue intake: it submits a target for asynchronous
// execution on its platform's worker pool.
func (o *Orchestrator) Enqueue(target models.ScrapeTarget, priority Priority) error {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return ErrCancelled
	}
	rt, ok := o.runtimes[target.Platform]
	if !ok {
		return fmt.Errorf("platform %s is not configured", target.Platform)
	}
	queue := rt.queueNorm
	if priority == PriorityHigh {
		queue = rt.queueHigh
	}
	select {
	case queue <- target:
		return nil
	case <-o.shutdown:
		return ErrCancelled
	}
}

// Submit refreshes one tracked target and returns its normalized listing.
// Concurrent submissions for the same (platform, externalId) attach to the
// in-flight scrape instead of issuing a duplicate fetch.
func (o *Orchestrator) Submit(ctx context.Context, target models.ScrapeTarget) (*models.MarketplaceListing, error) {
	result, err, _ := o.flight.Do(target.Key(), func() (interface{}, error) {
		return o.executeDetail(ctx, target)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.MarketplaceListing), nil
}

// SubmitSearch runs a marketplace search and returns the normalized results.
// Identical concurrent searches share one underlying fetch; the filters are
// part of the identity, so differently filtered searches never attach to each
// other's flight.
func (o *Orchestrator) SubmitSearch(ctx context.Context, platform models.Platform, query string, filters adapter.SearchFilters) ([]*models.MarketplaceListing, error) {
	target := models.ScrapeTarget{Platform: platform, SearchQuery: query}
	key := target.Key()
	if fk := filters.Key(); fk != "" {
		key += "#" + fk
	}
	result, err, _ := o.flight.Do(key, func() (interface{}, error) {
		return o.executeSearch(ctx, key, target, filters)
	})
	if err != nil {
		return nil, err
	}
	return result.([]*models.MarketplaceListing), nil
}

func (o *Orchestrator) executeDetail(ctx context.Context, target models.ScrapeTarget) (*models.MarketplaceListing, error) {
	rt, ok := o.runtimes[target.Platform]
	if !ok {
		return nil, fmt.Errorf("platform %s is not configured", target.Platform)
	}
	url, err := rt.adapter.BuildDetailURL(target.ExternalID)
	if err != nil {
		return nil, err
	}

	var listing *models.MarketplaceListing
	err = o.attemptLoop(ctx, target.Key(), target, rt, func(raw *models.RawFetchResult) error {
		rawListing, err := rt.adapter.ExtractDetail(raw.Body)
		if err != nil {
			return err
		}
		listing = o.normalize(rt, rawListing, raw.FetchedAt)
		if listing == nil {
			return &adapter.SchemaError{Platform: target.Platform, Reason: "detail record missing identity"}
		}
		return nil
	}, url)
	if err != nil {
		return nil, err
	}

	if err := o.sink.Deliver(ctx, listing); err != nil {
		return nil, fmt.Errorf("deliver listing: %w", err)
	}
	o.metrics.IncListings(string(target.Platform))
	return listing, nil
}

func (o *Orchestrator) executeSearch(ctx context.Context, key string, target models.ScrapeTarget, filters adapter.SearchFilters) ([]*models.MarketplaceListing, error) {
	rt, ok := o.runtimes[target.Platform]
	if !ok {
		return nil, fmt.Errorf("platform %s is not configured", target.Platform)
	}
	url, err := rt.adapter.BuildSearchURL(target.SearchQuery, filters)
	if err != nil {
		return nil, err
	}

	var listings []*models.MarketplaceListing
	err = o.attemptLoop(ctx, key, target, rt, func(raw *models.RawFetchResult) error {
		rawListings, err := rt.adapter.ExtractSearchResults(raw.Body)
		if err != nil {
			return err
		}
		listings = listings[:0]
		for _, rawListing := range rawListings {
			if listing := o.normalize(rt, rawListing, raw.FetchedAt); listing != nil {
				listings = append(listings, listing)
			}
		}
		return nil
	}, url)
	if err != nil {
		return nil, err
	}

	for _, listing := range listings {
		if err := o.sink.Deliver(ctx, listing); err != nil {
			return nil, fmt.Errorf("deliver listing: %w", err)
		}
		o.metrics.IncListings(string(target.Platform))
	}
	return listings, nil
}

// attemptLoop drives one target through the backoff state machine: rate
// limiting, fetching, block detection, extraction, and retry or abandonment.
// The attempt state is shared with Abandoned and Reactivate, so every access
// to it happens under o.mu.
func (o *Orchestrator) attemptLoop(ctx context.Context, key string, target models.ScrapeTarget, rt *platformRuntime, extract func(*models.RawFetchResult) error, url string) error {
	st := o.stateFor(key, target)
	o.mu.Lock()
	if st.State == backoff.StateAbandoned {
		last := st.LastError
		o.mu.Unlock()
		return &ErrAbandoned{Key: key, Last: last}
	}
	o.mu.Unlock()

	platform := string(target.Platform)
	for {
		o.mu.Lock()
		eligibleAt := st.NextEligibleAt
		o.mu.Unlock()
		if err := o.waitEligible(ctx, target.Platform, eligibleAt); err != nil {
			return err
		}

		// Concurrency cap, independent of the rate budget.
		select {
		case rt.sem <- struct{}{}:
		case <-ctx.Done():
			return ErrCancelled
		case <-o.abort:
			return ErrCancelled
		}

		if err := o.limits.Wait(ctx, target.Platform); err != nil {
			<-rt.sem
			if ctx.Err() != nil {
				return ErrCancelled
			}
			return err
		}

		o.mu.Lock()
		st.State = backoff.StateFetching
		o.mu.Unlock()
		start := time.Now()
		raw, fetchErr := rt.transport.Fetch(ctx, url)
		<-rt.sem
		o.metrics.ObserveFetchDuration(time.Since(start))

		outcome, attemptErr, cooldown := o.classify(rt, raw, fetchErr, extract)
		o.observe(platform, outcome)

		o.mu.Lock()
		decision := rt.policy.Next(st, outcome, attemptErr, cooldown, time.Now())
		attempts := st.Attempts
		nextEligibleAt := st.NextEligibleAt
		o.mu.Unlock()
		switch decision {
		case backoff.Done:
			o.clearState(key)
			return nil
		case backoff.Retry:
			if outcome == backoff.Blocked {
				// The whole platform cools down, not just this target.
				o.setCooldown(target.Platform, nextEligibleAt)
			}
			o.metrics.IncRetry(platform)
			slog.Debug("scheduling retry",
				slog.String("target", key),
				slog.Int("attempt", attempts),
				slog.Time("eligible_at", nextEligibleAt),
				slog.Any("error", attemptErr),
			)
		case backoff.Abandon:
			reason := outcomeLabel(outcome)
			o.metrics.IncAbandoned(platform, reason)
			slog.Error("target abandoned",
				slog.String("target", key),
				slog.String("reason", reason),
				slog.Any("error", attemptErr),
			)
			return &ErrAbandoned{Key: key, Last: attemptErr}
		}
	}
}

// classify turns one fetch attempt into a backoff outcome. Block detection
// runs on every response that produced markup, including HTTP errors.
func (o *Orchestrator) classify(rt *platformRuntime, raw *models.RawFetchResult, fetchErr error, extract func(*models.RawFetchResult) error) (backoff.Outcome, error, time.Duration) {
	if raw != nil {
		if blocked, cooldown := rt.adapter.DetectBlock(raw.Body, raw.StatusCode); blocked {
			return backoff.Blocked, fmt.Errorf("platform block detected (status %d)", raw.StatusCode), cooldown
		}
	}
	if fetchErr != nil {
		return backoff.TransportFailed, fetchErr, 0
	}
	if err := extract(raw); err != nil {
		var schemaErr *adapter.SchemaError
		if errors.As(err, &schemaErr) {
			return backoff.ExtractionFailed, err, 0
		}
		return backoff.TransportFailed, err, 0
	}
	return backoff.Success, nil, 0
}

func (o *Orchestrator) observe(platform string, outcome backoff.Outcome) {
	o.metrics.IncFetch(platform, outcomeLabel(outcome))
	switch outcome {
	case backoff.Blocked:
		o.metrics.IncBlock(platform)
	case backoff.ExtractionFailed:
		o.metrics.IncSchemaError(platform)
	}
}

func outcomeLabel(outcome backoff.Outcome) string {
	switch outcome {
	case backoff.Success:
		return "success"
	case backoff.TransportFailed:
		return "transport_failed"
	case backoff.Blocked:
		return "blocked"
	case backoff.ExtractionFailed:
		return "extraction_failed"
	default:
		return "unknown"
	}
}

// normalize runs the parser and reports dropped fields without failing the
// snapshot; a record that loses its identity entirely returns nil.
func (o *Orchestrator) normalize(rt *platformRuntime, raw *models.RawListing, fetchedAt time.Time) *models.MarketplaceListing {
	listing, fieldErrs := parser.Normalize(rt.adapter.Platform(), rt.pc, raw, fetchedAt)
	if len(fieldErrs) > 0 {
		o.metrics.IncFieldDrops(string(rt.adapter.Platform()), len(fieldErrs))
		for _, err := range fieldErrs {
			slog.Warn("field dropped during normalization",
				slog.String("platform", string(rt.adapter.Platform())),
				slog.Any("error", err),
			)
		}
	}
	return listing
}

// waitEligible sleeps until the target's backoff delay and the platform's
// block cooldown have both passed. All waits are cooperative.
func (o *Orchestrator) waitEligible(ctx context.Context, platform models.Platform, eligibleAt time.Time) error {
	for {
		now := time.Now()
		until := eligibleAt
		if platformUntil := o.cooldownUntil(platform); platformUntil.After(until) {
			until = platformUntil
		}
		if !until.After(now) {
			return nil
		}
		timer := time.NewTimer(until.Sub(now))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ErrCancelled
		case <-o.abort:
			timer.Stop()
			return ErrCancelled
		}
	}
}

func (o *Orchestrator) stateFor(key string, target models.ScrapeTarget) *backoff.AttemptState {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.states[key]
	if !ok {
		st = &backoff.AttemptState{Target: target, State: backoff.StateIdle}
		o.states[key] = st
	}
	return st
}

func (o *Orchestrator) clearState(key string) {
	o.mu.Lock()
	delete(o.states, key)
	o.mu.Unlock()
}

func (o *Orchestrator) setCooldown(platform models.Platform, until time.Time) {
	o.mu.Lock()
	if until.After(o.cooldown[platform]) {
		o.cooldown[platform] = until
	}
	o.mu.Unlock()
}

func (o *Orchestrator) cooldownUntil(platform models.Platform) time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cooldown[platform]
}

// Abandoned lists the keys of dormant targets so a scheduler or operator can
// decide to reactivate them.
func (o *Orchestrator) Abandoned() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var keys []string
	for key, st := range o.states {
		if st.State == backoff.StateAbandoned {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Reactivate clears a dormant target's attempt state so it may be scraped
// again, typically after an adapter update.
func (o *Orchestrator) Reactivate(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.states[key]
	if !ok || st.State != backoff.StateAbandoned {
		return false
	}
	delete(o.states, key)
	return true
}

// Close stops intake and lets in-flight work drain for the configured grace
// period; whatever remains resolves with ErrCancelled.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	o.stopOnce.Do(func() {
		close(o.shutdown)
	})

	grace := o.cfg.ShutdownGrace
	if grace <= 0 {
		grace = time.Nanosecond
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		o.abortOnce.Do(func() {
			close(o.abort)
		})
		<-done
	}
	return nil
}
