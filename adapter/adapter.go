// Package adapter implements per-marketplace URL construction and field
// extraction. The set of platforms is closed: each marketplace gets one
// variant behind the Adapter interface, selected by platform identifier at
// dispatch time.
package adapter

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/partscout/partscout/config"
	"github.com/partscout/partscout/models"
	"github.com/shopspring/decimal"
)

// SearchFilters narrows a marketplace search.
type SearchFilters struct {
	MinPrice  *decimal.Decimal
	MaxPrice  *decimal.Decimal
	Condition string // new, used, refurbished; empty means any
}

// Key returns a canonical encoding of the filters for deduplication keys.
// Unfiltered searches encode to the empty string.
func (f SearchFilters) Key() string {
	if f.MinPrice == nil && f.MaxPrice == nil && f.Condition == "" {
		return ""
	}
	min, max := "", ""
	if f.MinPrice != nil {
		min = f.MinPrice.String()
	}
	if f.MaxPrice != nil {
		max = f.MaxPrice.String()
	}
	return fmt.Sprintf("min=%s&max=%s&cond=%s", min, max, f.Condition)
}

// Adapter is the per-marketplace capability set. Extraction methods tolerate
// missing optional fields; only structurally unrecognizable markup errors,
// and always as a *SchemaError.
type Adapter interface {
	Platform() models.Platform
	BuildSearchURL(query string, filters SearchFilters) (string, error)
	BuildDetailURL(externalID string) (string, error)
	ExtractSearchResults(body []byte) ([]*models.RawListing, error)
	ExtractDetail(body []byte) (*models.RawListing, error)
	// DetectBlock reports whether the response is an active block and the
	// suggested cooldown before the platform may be retried.
	DetectBlock(body []byte, statusCode int) (bool, time.Duration)
}

// SchemaError reports markup whose structure no longer matches the adapter.
// It is never retried; operators use it to detect a site layout change.
type SchemaError struct {
	Platform models.Platform
	Reason   string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("adapter %s: markup schema mismatch: %s", e.Platform, e.Reason)
}

// ForPlatform returns the adapter variant for a platform.
func ForPlatform(platform models.Platform, pc *config.PlatformConfig) (Adapter, error) {
	switch platform {
	case models.PlatformPartsBay:
		return newPartsBay(pc), nil
	case models.PlatformSpeedMart:
		return newSpeedMart(pc), nil
	case models.PlatformGearHub:
		return newGearHub(pc), nil
	default:
		return nil, fmt.Errorf("unsupported platform %q", platform)
	}
}

func parseDoc(body []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}

// detectBlock is the shared marker scan: explicit block statuses plus the
// platform's configured marker phrases.
func detectBlock(pc *config.PlatformConfig, body []byte, statusCode int) (bool, time.Duration) {
	if statusCode == http.StatusForbidden || statusCode == http.StatusTooManyRequests {
		return true, pc.BlockCooldown
	}
	folded := strings.ToLower(string(body))
	for _, marker := range pc.BlockMarkers {
		if marker != "" && strings.Contains(folded, marker) {
			return true, pc.BlockCooldown
		}
	}
	return false, 0
}

func childText(s *goquery.Selection, selector string) string {
	return strings.TrimSpace(s.Find(selector).First().Text())
}

func childAttr(s *goquery.Selection, selector, attr string) string {
	value, _ := s.Find(selector).First().Attr(attr)
	return strings.TrimSpace(value)
}
