// Package history appends price observations and evaluates deal alert
// thresholds against new listing snapshots.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/partscout/partscout/models"
	"github.com/shopspring/decimal"
)

// Store is the durable sink contract. The catalog collaborator owns the real
// storage; MemoryStore stands in for tests and single-process runs.
type Store interface {
	AppendEntry(ctx context.Context, entry models.PriceHistoryEntry) error
	LastEntry(ctx context.Context, listingKey string) (*models.PriceHistoryEntry, error)
	Entries(ctx context.Context, listingKey string, limit int) ([]models.PriceHistoryEntry, error)
	ActiveThresholds(ctx context.Context, listingKey string) ([]models.DealAlertThreshold, error)
}

// AlertSink receives fired deal alerts for downstream notification delivery.
type AlertSink interface {
	PublishAlert(ctx context.Context, alert models.DealAlert) error
}

// AlertSinkFunc adapts a function to the AlertSink interface.
type AlertSinkFunc func(ctx context.Context, alert models.DealAlert) error

func (f AlertSinkFunc) PublishAlert(ctx context.Context, alert models.DealAlert) error {
	return f(ctx, alert)
}

// Engine records snapshots and fires alerts. Alert evaluation is idempotent
// per snapshot: the last-alerted price is tracked per threshold, so the same
// snapshot evaluated twice fires at most once.
type Engine struct {
	store Store
	sink  AlertSink

	mu          sync.Mutex
	lastAlerted map[string]decimal.Decimal

	// latest caches the newest snapshot per listing key for cheap reads.
	latest *lru.Cache[string, models.MarketplaceListing]
}

// NewEngine builds an engine over a store and an alert sink.
func NewEngine(store Store, sink AlertSink, cacheSize int) (*Engine, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, models.MarketplaceListing](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create snapshot cache: %w", err)
	}
	return &Engine{
		store:       store,
		sink:        sink,
		lastAlerted: make(map[string]decimal.Decimal),
		latest:      cache,
	}, nil
}

// Record appends one history entry for the snapshot unconditionally, then
// evaluates the listing's active thresholds. Snapshots without a price are
// cached but produce no history entry and no alerts.
func (e *Engine) Record(ctx context.Context, listing *models.MarketplaceListing) ([]models.DealAlert, error) {
	if listing == nil {
		return nil, fmt.Errorf("listing is nil")
	}
	key := listing.ListingKey()
	e.latest.Add(key, *listing)

	if listing.Price == nil {
		slog.Debug("snapshot without price, skipping history append",
			slog.String("listing", key),
			slog.String("availability", string(listing.Availability)),
		)
		return nil, nil
	}
	price := *listing.Price

	prev, err := e.store.LastEntry(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load previous entry: %w", err)
	}

	entry := models.PriceHistoryEntry{
		ListingKey:   key,
		Price:        price,
		Availability: listing.Availability,
		RecordedAt:   listing.ScrapedAt,
	}
	if err := e.store.AppendEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("append history entry: %w", err)
	}

	thresholds, err := e.store.ActiveThresholds(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load thresholds: %w", err)
	}

	var fired []models.DealAlert
	for _, threshold := range thresholds {
		if !threshold.Active {
			continue
		}
		alert, ok := e.evaluate(threshold, price, prev)
		if !ok {
			continue
		}
		if err := e.sink.PublishAlert(ctx, alert); err != nil {
			slog.Error("publish alert",
				slog.String("threshold", threshold.ID),
				slog.Any("error", err),
			)
			continue
		}
		e.markAlerted(threshold.ID, price)
		fired = append(fired, alert)
	}
	return fired, nil
}

// evaluate decides whether a threshold fires for this snapshot price.
func (e *Engine) evaluate(threshold models.DealAlertThreshold, price decimal.Decimal, prev *models.PriceHistoryEntry) (models.DealAlert, bool) {
	if e.alreadyAlerted(threshold.ID, price) {
		return models.DealAlert{}, false
	}

	alert := models.DealAlert{
		ThresholdID: threshold.ID,
		ListingKey:  threshold.ListingKey,
		Price:       price,
		FiredAt:     time.Now(),
	}
	if prev != nil {
		prevPrice := prev.Price
		alert.PreviousPrice = &prevPrice
	}

	if threshold.ThresholdPrice != nil && price.LessThanOrEqual(*threshold.ThresholdPrice) {
		return alert, true
	}
	if threshold.ThresholdPercent != nil && prev != nil && prev.Price.IsPositive() {
		drop := prev.Price.Sub(price).
			Div(prev.Price).
			Mul(decimal.NewFromInt(100))
		if drop.GreaterThanOrEqual(*threshold.ThresholdPercent) {
			alert.DropPercent = &drop
			return alert, true
		}
	}
	return models.DealAlert{}, false
}

func (e *Engine) alreadyAlerted(thresholdID string, price decimal.Decimal) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastAlerted[thresholdID]
	return ok && last.Equal(price)
}

func (e *Engine) markAlerted(thresholdID string, price decimal.Decimal) {
	e.mu.Lock()
	e.lastAlerted[thresholdID] = price
	e.mu.Unlock()
}

// Latest returns the cached newest snapshot for a listing key.
func (e *Engine) Latest(listingKey string) (models.MarketplaceListing, bool) {
	return e.latest.Get(listingKey)
}
