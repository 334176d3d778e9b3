package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/partscout/partscout/models"
	"github.com/shopspring/decimal"
)

type captureSink struct {
	alerts []models.DealAlert
	err    error
}

func (c *captureSink) PublishAlert(_ context.Context, alert models.DealAlert) error {
	if c.err != nil {
		err := c.err
		c.err = nil
		return err
	}
	c.alerts = append(c.alerts, alert)
	return nil
}

func snapshot(price string, at time.Time) *models.MarketplaceListing {
	value := decimal.RequireFromString(price)
	return &models.MarketplaceListing{
		Platform:     models.PlatformSpeedMart,
		ExternalID:   "SM-1",
		Title:        "Timing Belt Kit",
		Price:        &value,
		Currency:     "USD",
		Availability: models.AvailabilityInStock,
		ScrapedAt:    at,
	}
}

func newTestEngine(t *testing.T) (*Engine, *MemoryStore, *captureSink) {
	t.Helper()
	store := NewMemoryStore()
	sink := &captureSink{}
	engine, err := NewEngine(store, sink, 16)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine, store, sink
}

func TestRecordPercentThreshold(t *testing.T) {
	engine, store, sink := newTestEngine(t)
	ctx := context.Background()
	key := snapshot("120.00", time.Now()).ListingKey()
	percent := decimal.NewFromInt(10)
	store.SetThreshold(models.DealAlertThreshold{
		ID:               "t-percent",
		ListingKey:       key,
		ThresholdPercent: &percent,
		Active:           true,
	})

	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for i, price := range []string{"120.00", "110.00"} {
		fired, err := engine.Record(ctx, snapshot(price, base.Add(time.Duration(i)*time.Hour)))
		if err != nil {
			t.Fatalf("record %s: %v", price, err)
		}
		if len(fired) != 0 {
			t.Fatalf("price %s fired %d alerts, want 0", price, len(fired))
		}
	}

	// 110 -> 99 is exactly a 10% drop; the boundary fires.
	fired, err := engine.Record(ctx, snapshot("99.00", base.Add(2*time.Hour)))
	if err != nil {
		t.Fatalf("record 99.00: %v", err)
	}
	if len(fired) != 1 {
		t.Fatalf("fired %d alerts, want exactly 1", len(fired))
	}
	alert := fired[0]
	if alert.ThresholdID != "t-percent" || !alert.Price.Equal(decimal.RequireFromString("99.00")) {
		t.Fatalf("alert = %+v", alert)
	}
	if alert.DropPercent == nil || !alert.DropPercent.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("drop percent = %v, want 10", alert.DropPercent)
	}
	if alert.PreviousPrice == nil || !alert.PreviousPrice.Equal(decimal.RequireFromString("110.00")) {
		t.Fatalf("previous price = %v, want 110.00", alert.PreviousPrice)
	}

	// Re-evaluating the same snapshot price fires nothing.
	fired, err = engine.Record(ctx, snapshot("99.00", base.Add(3*time.Hour)))
	if err != nil {
		t.Fatalf("re-record: %v", err)
	}
	if len(fired) != 0 {
		t.Fatalf("re-evaluation fired %d alerts, want 0", len(fired))
	}
	if len(sink.alerts) != 1 {
		t.Fatalf("sink received %d alerts, want 1", len(sink.alerts))
	}
}

func TestRecordPriceThreshold(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()
	key := snapshot("60.00", time.Now()).ListingKey()
	limit := decimal.NewFromInt(50)
	store.SetThreshold(models.DealAlertThreshold{
		ID:             "t-price",
		ListingKey:     key,
		ThresholdPrice: &limit,
		Active:         true,
	})

	fired, err := engine.Record(ctx, snapshot("60.00", time.Now()))
	if err != nil || len(fired) != 0 {
		t.Fatalf("above threshold: fired=%d err=%v", len(fired), err)
	}

	fired, err = engine.Record(ctx, snapshot("49.99", time.Now()))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(fired) != 1 {
		t.Fatalf("crossing the price threshold fired %d alerts, want 1", len(fired))
	}

	// A further drop is a new price, so it fires again.
	fired, err = engine.Record(ctx, snapshot("45.00", time.Now()))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(fired) != 1 {
		t.Fatalf("new lower price fired %d alerts, want 1", len(fired))
	}
}

func TestRecordInactiveThresholdIgnored(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	key := snapshot("10.00", time.Now()).ListingKey()
	limit := decimal.NewFromInt(50)
	store.SetThreshold(models.DealAlertThreshold{
		ID:             "t-off",
		ListingKey:     key,
		ThresholdPrice: &limit,
		Active:         false,
	})

	fired, err := engine.Record(context.Background(), snapshot("10.00", time.Now()))
	if err != nil || len(fired) != 0 {
		t.Fatalf("inactive threshold: fired=%d err=%v", len(fired), err)
	}
}

func TestRecordPublishFailureDoesNotMarkAlerted(t *testing.T) {
	engine, store, sink := newTestEngine(t)
	ctx := context.Background()
	key := snapshot("40.00", time.Now()).ListingKey()
	limit := decimal.NewFromInt(50)
	store.SetThreshold(models.DealAlertThreshold{
		ID:             "t-flaky",
		ListingKey:     key,
		ThresholdPrice: &limit,
		Active:         true,
	})
	sink.err = errors.New("notifier unavailable")

	fired, err := engine.Record(ctx, snapshot("40.00", time.Now()))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(fired) != 0 {
		t.Fatalf("failed publish counted as fired")
	}

	// The next snapshot at the same price retries delivery.
	fired, err = engine.Record(ctx, snapshot("40.00", time.Now()))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(fired) != 1 || len(sink.alerts) != 1 {
		t.Fatalf("retry after publish failure: fired=%d delivered=%d", len(fired), len(sink.alerts))
	}
}

func TestRecordWithoutPriceOnlyCaches(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	listing := snapshot("0", time.Now())
	listing.Price = nil
	listing.Availability = models.AvailabilityOutOfStock

	fired, err := engine.Record(ctx, listing)
	if err != nil || len(fired) != 0 {
		t.Fatalf("priceless snapshot: fired=%d err=%v", len(fired), err)
	}

	entries, err := store.Entries(ctx, listing.ListingKey(), 0)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("priceless snapshot appended %d history entries", len(entries))
	}

	cached, ok := engine.Latest(listing.ListingKey())
	if !ok || cached.Availability != models.AvailabilityOutOfStock {
		t.Fatalf("latest cache missed: ok=%v cached=%+v", ok, cached)
	}
}

func TestMemoryStoreEntriesLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		err := store.AppendEntry(ctx, models.PriceHistoryEntry{
			ListingKey: "speedmart/SM-1",
			Price:      decimal.NewFromInt(int64(i)),
			RecordedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	entries, err := store.Entries(ctx, "speedmart/SM-1", 2)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if !entries[0].Price.Equal(decimal.NewFromInt(4)) || !entries[1].Price.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("limit must return the newest entries, got %v then %v", entries[0].Price, entries[1].Price)
	}

	last, err := store.LastEntry(ctx, "speedmart/SM-1")
	if err != nil || last == nil || !last.Price.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("last entry = %v, err %v", last, err)
	}
}
