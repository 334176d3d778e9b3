package adapter

import (
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/partscout/partscout/config"
	"github.com/partscout/partscout/models"
)

var partsBayItemRe = regexp.MustCompile(`/itm/(\d+)`)

// partsBay extracts listings from the auction marketplace.
type partsBay struct {
	pc *config.PlatformConfig
}

func newPartsBay(pc *config.PlatformConfig) *partsBay {
	return &partsBay{pc: pc}
}

func (a *partsBay) Platform() models.Platform {
	return models.PlatformPartsBay
}

func (a *partsBay) BuildSearchURL(query string, filters SearchFilters) (string, error) {
	u, err := url.Parse(a.pc.BaseURL + "/search")
	if err != nil {
		return "", fmt.Errorf("build search url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("category", "auto-parts")
	if filters.MinPrice != nil {
		q.Set("price_min", filters.MinPrice.String())
	}
	if filters.MaxPrice != nil {
		q.Set("price_max", filters.MaxPrice.String())
	}
	if filters.Condition != "" {
		q.Set("condition", filters.Condition)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *partsBay) BuildDetailURL(externalID string) (string, error) {
	if externalID == "" {
		return "", fmt.Errorf("external id is required")
	}
	return fmt.Sprintf("%s/itm/%s", a.pc.BaseURL, url.PathEscape(externalID)), nil
}

func (a *partsBay) ExtractSearchResults(body []byte) ([]*models.RawListing, error) {
	doc, err := parseDoc(body)
	if err != nil {
		return nil, &SchemaError{Platform: a.Platform(), Reason: "unparseable document"}
	}

	container := doc.Find("ul.search-results")
	if container.Length() == 0 {
		if doc.Find("div.no-results").Length() > 0 {
			return nil, nil
		}
		return nil, &SchemaError{Platform: a.Platform(), Reason: "missing ul.search-results container"}
	}

	var listings []*models.RawListing
	container.Find("li.listing-card").Each(func(_ int, s *goquery.Selection) {
		link := childAttr(s, "a.listing-title", "href")
		id := childAttr(s, "a.listing-title", "data-listing-id")
		if id == "" {
			if m := partsBayItemRe.FindStringSubmatch(link); m != nil {
				id = m[1]
			}
		}
		if id == "" {
			return
		}
		listings = append(listings, &models.RawListing{
			ExternalID:        id,
			Title:             childText(s, "a.listing-title"),
			PriceText:         childText(s, "span.price"),
			OriginalPriceText: childText(s, "span.strike-price"),
			AvailabilityText:  childText(s, "span.listing-status"),
			SellerName:        childText(s, "span.seller-name"),
			SellerRatingText:  childText(s, "span.seller-feedback"),
			ShippingText:      childText(s, "span.shipping-cost"),
			ImageURL:          childAttr(s, "img", "src"),
			Link:              link,
		})
	})
	return listings, nil
}

func (a *partsBay) ExtractDetail(body []byte) (*models.RawListing, error) {
	doc, err := parseDoc(body)
	if err != nil {
		return nil, &SchemaError{Platform: a.Platform(), Reason: "unparseable document"}
	}

	root := doc.Find("div#listing-detail").First()
	if root.Length() == 0 {
		return nil, &SchemaError{Platform: a.Platform(), Reason: "missing div#listing-detail root"}
	}
	title := childText(root, "h1.listing-title")
	if title == "" {
		return nil, &SchemaError{Platform: a.Platform(), Reason: "missing listing title"}
	}
	id := childAttr(root, "h1.listing-title", "data-listing-id")
	if id == "" {
		if m := partsBayItemRe.FindStringSubmatch(childAttr(doc.Selection, "link[rel=canonical]", "href")); m != nil {
			id = m[1]
		}
	}
	if id == "" {
		return nil, &SchemaError{Platform: a.Platform(), Reason: "missing listing id"}
	}

	return &models.RawListing{
		ExternalID:        id,
		Title:             title,
		PriceText:         childText(root, "span.price"),
		OriginalPriceText: childText(root, "span.strike-price"),
		AvailabilityText:  childText(root, "span.listing-status"),
		SellerName:        childText(root, "span.seller-name"),
		SellerRatingText:  childText(root, "span.seller-feedback"),
		ShippingText:      childText(root, "span.shipping-cost"),
		ImageURL:          childAttr(root, "img.gallery-main", "src"),
		Link:              childAttr(doc.Selection, "link[rel=canonical]", "href"),
	}, nil
}

func (a *partsBay) DetectBlock(body []byte, statusCode int) (bool, time.Duration) {
	return detectBlock(a.pc, body, statusCode)
}
