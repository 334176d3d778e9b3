// Package parser normalizes adapter-extracted raw fields into canonical
// marketplace listings.
package parser

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/partscout/partscout/config"
	"github.com/partscout/partscout/models"
	"github.com/shopspring/decimal"
)

var (
	ratingRe  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:out of|/)\s*5`)
	percentRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	digitsRe  = regexp.MustCompile(`[\d,]+`)
)

// MapAvailability resolves free-text availability into the closed enum using a
// platform's phrase table. Matching is case-insensitive, longest phrase first,
// so the result is deterministic. Unmapped text maps to unknown.
func MapAvailability(phrases map[string]models.Availability, text string) models.Availability {
	folded := strings.ToLower(strings.TrimSpace(text))
	if folded == "" {
		return models.AvailabilityUnknown
	}
	if v, ok := phrases[folded]; ok {
		return v
	}
	keys := make([]string, 0, len(phrases))
	for k := range phrases {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		if strings.Contains(folded, k) {
			return phrases[k]
		}
	}
	return models.AvailabilityUnknown
}

// Normalize converts raw extracted fields into a canonical listing. Fields
// that cannot be normalized are omitted and reported; availability always
// resolves to an explicit enum value. A record missing its identity (external
// id or title) is rejected outright.
func Normalize(platform models.Platform, pc *config.PlatformConfig, raw *models.RawListing, fetchedAt time.Time) (*models.MarketplaceListing, []error) {
	if raw == nil {
		return nil, []error{fmt.Errorf("raw listing is nil")}
	}
	if strings.TrimSpace(raw.ExternalID) == "" {
		return nil, []error{fmt.Errorf("listing missing external id")}
	}
	if strings.TrimSpace(raw.Title) == "" {
		return nil, []error{fmt.Errorf("listing missing title for %s", raw.ExternalID)}
	}

	var fieldErrs []error
	listing := &models.MarketplaceListing{
		Platform:     platform,
		ExternalID:   strings.TrimSpace(raw.ExternalID),
		Title:        strings.TrimSpace(raw.Title),
		Availability: MapAvailability(pc.AvailabilityPhrases, raw.AvailabilityText),
		SellerName:   strings.TrimSpace(raw.SellerName),
		SourceURL:    absoluteURL(pc.BaseURL, raw.Link),
		ImageURL:     absoluteURL(pc.BaseURL, raw.ImageURL),
		ScrapedAt:    fetchedAt,
	}

	if raw.PriceText != "" {
		price, currency, err := ParsePrice(raw.PriceText)
		if err != nil {
			fieldErrs = append(fieldErrs, err)
		} else {
			listing.Price = &price
			listing.Currency = currency
		}
	}
	if raw.OriginalPriceText != "" {
		orig, _, err := ParsePrice(raw.OriginalPriceText)
		if err != nil {
			fieldErrs = append(fieldErrs, err)
		} else {
			listing.OriginalPrice = &orig
		}
	}
	if listing.Price != nil && listing.OriginalPrice != nil && listing.OriginalPrice.GreaterThan(*listing.Price) {
		discount := listing.OriginalPrice.Sub(*listing.Price).
			Div(*listing.OriginalPrice).
			Mul(decimal.NewFromInt(100)).
			Round(2)
		listing.DiscountPercentage = &discount
	}

	if raw.ShippingText != "" {
		cost, free, err := parseShipping(raw.ShippingText)
		if err != nil {
			fieldErrs = append(fieldErrs, err)
		} else {
			listing.FreeShipping = free
			if cost != nil {
				listing.ShippingCost = cost
			}
		}
	}

	if raw.SellerRatingText != "" {
		if rating, err := parsePercent(raw.SellerRatingText); err != nil {
			fieldErrs = append(fieldErrs, err)
		} else {
			listing.SellerRating = rating
		}
	}
	if raw.RatingText != "" {
		if rating, err := parseRating(raw.RatingText); err != nil {
			fieldErrs = append(fieldErrs, err)
		} else {
			listing.RatingAverage = rating
		}
	}
	if raw.ReviewCountText != "" {
		if count, err := parseCount(raw.ReviewCountText); err != nil {
			fieldErrs = append(fieldErrs, err)
		} else {
			listing.ReviewCount = count
		}
	}

	return listing, fieldErrs
}

func absoluteURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(refURL).String()
}

// parseShipping understands "Free shipping", "+$5.99 shipping" and plain
// currency amounts.
func parseShipping(text string) (*decimal.Decimal, bool, error) {
	folded := strings.ToLower(strings.TrimSpace(text))
	if strings.Contains(folded, "free") {
		zero := decimal.Zero
		return &zero, true, nil
	}
	cleaned := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "+"))
	cleaned = strings.TrimSpace(strings.TrimSuffix(strings.ToLower(cleaned), "shipping"))
	cost, _, err := ParsePrice(cleaned)
	if err != nil {
		return nil, false, &NormalizationError{Field: "shipping", Value: text, Err: err}
	}
	return &cost, cost.IsZero(), nil
}

// parseRating extracts "4.5 out of 5 stars" style averages, or a bare number.
func parseRating(text string) (*decimal.Decimal, error) {
	if m := ratingRe.FindStringSubmatch(text); m != nil {
		value, err := decimal.NewFromString(m[1])
		if err == nil && value.LessThanOrEqual(decimal.NewFromInt(5)) {
			return &value, nil
		}
	}
	trimmed := strings.TrimSpace(text)
	if value, err := decimal.NewFromString(trimmed); err == nil && value.LessThanOrEqual(decimal.NewFromInt(5)) && !value.IsNegative() {
		return &value, nil
	}
	return nil, &NormalizationError{Field: "rating", Value: text, Err: fmt.Errorf("unrecognized rating")}
}

// parsePercent extracts "98.7% positive" style seller ratings.
func parsePercent(text string) (*decimal.Decimal, error) {
	if m := percentRe.FindStringSubmatch(text); m != nil {
		value, err := decimal.NewFromString(m[1])
		if err == nil && value.LessThanOrEqual(decimal.NewFromInt(100)) {
			return &value, nil
		}
	}
	return nil, &NormalizationError{Field: "seller_rating", Value: text, Err: fmt.Errorf("unrecognized percentage")}
}

// parseCount extracts "1,234 ratings" style counts.
func parseCount(text string) (int, error) {
	m := digitsRe.FindString(text)
	if m == "" {
		return 0, &NormalizationError{Field: "review_count", Value: text, Err: fmt.Errorf("no digits")}
	}
	count, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0, &NormalizationError{Field: "review_count", Value: text, Err: err}
	}
	return count, nil
}
