// Package models defines the data structures shared across the aggregation engine.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Platform identifies a supported marketplace.
type Platform string

const (
	PlatformPartsBay  Platform = "partsbay"
	PlatformSpeedMart Platform = "speedmart"
	PlatformGearHub   Platform = "gearhub"
)

// Availability is the closed set of stock states a listing can resolve to.
type Availability string

const (
	AvailabilityInStock      Availability = "in_stock"
	AvailabilityLowStock     Availability = "low_stock"
	AvailabilityOutOfStock   Availability = "out_of_stock"
	AvailabilityDiscontinued Availability = "discontinued"
	AvailabilityUnknown      Availability = "unknown"
)

// TransportKind selects how a platform's pages are fetched.
type TransportKind string

const (
	TransportPlain   TransportKind = "plain"
	TransportBrowser TransportKind = "browser"
)

// ScrapeTarget identifies one tracked item on one platform. Immutable once created.
type ScrapeTarget struct {
	Platform      Platform
	ExternalID    string
	SearchQuery   string
	TrackedItemID string
}

// Key returns the in-flight deduplication key for the target.
func (t ScrapeTarget) Key() string {
	if t.ExternalID != "" {
		return fmt.Sprintf("%s/%s", t.Platform, t.ExternalID)
	}
	return fmt.Sprintf("%s?%s", t.Platform, t.SearchQuery)
}

// RawFetchResult is the transient outcome of one fetch attempt. It is owned by
// the orchestrator for the duration of a single attempt and discarded afterwards.
type RawFetchResult struct {
	URL           string
	StatusCode    int
	Body          []byte
	FetchedAt     time.Time
	TransportKind TransportKind
}

// RawListing holds the partially-structured fields an adapter extracted from
// markup, before normalization. Optional fields stay empty when absent.
type RawListing struct {
	ExternalID        string
	Title             string
	PriceText         string
	OriginalPriceText string
	AvailabilityText  string
	SellerName        string
	SellerRatingText  string
	ShippingText      string
	RatingText        string
	ReviewCountText   string
	ImageURL          string
	Link              string
	// StoreAvailability carries store-by-zip hints some platforms expose.
	// The canonical listing covers the primary online offer only; this is
	// kept raw for a future store-level extension.
	StoreAvailability string
}

// MarketplaceListing is the canonical, normalized snapshot persisted per scrape.
// Pointer fields are nil when the source value was absent or unparseable;
// Availability always carries an explicit enum value.
type MarketplaceListing struct {
	Platform           Platform         `json:"platform" csv:"platform"`
	ExternalID         string           `json:"external_id" csv:"external_id"`
	Title              string           `json:"title" csv:"title"`
	Price              *decimal.Decimal `json:"price,omitempty" csv:"price"`
	Currency           string           `json:"currency,omitempty" csv:"currency"`
	OriginalPrice      *decimal.Decimal `json:"original_price,omitempty" csv:"original_price"`
	DiscountPercentage *decimal.Decimal `json:"discount_percentage,omitempty" csv:"discount_percentage"`
	Availability       Availability     `json:"availability" csv:"availability"`
	SellerName         string           `json:"seller_name,omitempty" csv:"seller_name"`
	SellerRating       *decimal.Decimal `json:"seller_rating,omitempty" csv:"seller_rating"`
	ShippingCost       *decimal.Decimal `json:"shipping_cost,omitempty" csv:"shipping_cost"`
	FreeShipping       bool             `json:"free_shipping" csv:"free_shipping"`
	RatingAverage      *decimal.Decimal `json:"rating_average,omitempty" csv:"rating_average"`
	ReviewCount        int              `json:"review_count" csv:"review_count"`
	ImageURL           string           `json:"image_url,omitempty" csv:"image_url"`
	SourceURL          string           `json:"source_url" csv:"source_url"`
	ScrapedAt          time.Time        `json:"scraped_at" csv:"scraped_at"`
}

// ListingKey identifies the listing across snapshots.
func (l *MarketplaceListing) ListingKey() string {
	return fmt.Sprintf("%s/%s", l.Platform, l.ExternalID)
}

// PriceHistoryEntry is one append-only observation for a listing key.
type PriceHistoryEntry struct {
	ListingKey   string          `json:"listing_key"`
	Price        decimal.Decimal `json:"price"`
	Availability Availability    `json:"availability"`
	RecordedAt   time.Time       `json:"recorded_at"`
}

// DealAlertThreshold is a catalog-owned trigger evaluated against new snapshots.
// Exactly one of ThresholdPrice or ThresholdPercent is expected to be set.
type DealAlertThreshold struct {
	ID               string
	ListingKey       string
	ThresholdPrice   *decimal.Decimal
	ThresholdPercent *decimal.Decimal
	Active           bool
}

// DealAlert is emitted when a snapshot satisfies a threshold.
type DealAlert struct {
	ThresholdID   string
	ListingKey    string
	Price         decimal.Decimal
	PreviousPrice *decimal.Decimal
	DropPercent   *decimal.Decimal
	FiredAt       time.Time
}

// ScrapeOutcome summarizes a finished run for operators.
type ScrapeOutcome struct {
	StartTime    time.Time
	EndTime      time.Time
	Listings     int
	ErrorCount   int
	ErrorsByType map[string]int
	RetryCount   int
	Abandoned    []string
}
