package adapter

import (
	"fmt"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/partscout/partscout/config"
	"github.com/partscout/partscout/models"
)

// speedMart extracts listings from the large-retailer storefront.
type speedMart struct {
	pc *config.PlatformConfig
}

func newSpeedMart(pc *config.PlatformConfig) *speedMart {
	return &speedMart{pc: pc}
}

func (a *speedMart) Platform() models.Platform {
	return models.PlatformSpeedMart
}

func (a *speedMart) BuildSearchURL(query string, filters SearchFilters) (string, error) {
	u, err := url.Parse(a.pc.BaseURL + "/s")
	if err != nil {
		return "", fmt.Errorf("build search url: %w", err)
	}
	q := u.Query()
	q.Set("k", query)
	q.Set("dept", "automotive")
	if filters.MinPrice != nil {
		q.Set("low-price", filters.MinPrice.String())
	}
	if filters.MaxPrice != nil {
		q.Set("high-price", filters.MaxPrice.String())
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *speedMart) BuildDetailURL(externalID string) (string, error) {
	if externalID == "" {
		return "", fmt.Errorf("external id is required")
	}
	return fmt.Sprintf("%s/dp/%s", a.pc.BaseURL, url.PathEscape(externalID)), nil
}

func (a *speedMart) ExtractSearchResults(body []byte) ([]*models.RawListing, error) {
	doc, err := parseDoc(body)
	if err != nil {
		return nil, &SchemaError{Platform: a.Platform(), Reason: "unparseable document"}
	}

	grid := doc.Find("div.product-grid")
	if grid.Length() == 0 {
		if doc.Find("div.empty-results").Length() > 0 {
			return nil, nil
		}
		return nil, &SchemaError{Platform: a.Platform(), Reason: "missing div.product-grid container"}
	}

	var listings []*models.RawListing
	grid.Find("div.product-tile").Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("data-sku")
		if id == "" {
			return
		}
		listings = append(listings, &models.RawListing{
			ExternalID:        id,
			Title:             childText(s, "span.product-title"),
			PriceText:         childText(s, "span.price-current"),
			OriginalPriceText: childText(s, "span.price-list"),
			AvailabilityText:  childText(s, "div.stock-status"),
			RatingText:        childAttr(s, "span.rating-stars", "aria-label"),
			ReviewCountText:   childText(s, "span.review-count"),
			ShippingText:      childText(s, "span.delivery-note"),
			ImageURL:          childAttr(s, "img.product-image", "src"),
			Link:              childAttr(s, "a.product-link", "href"),
		})
	})
	return listings, nil
}

func (a *speedMart) ExtractDetail(body []byte) (*models.RawListing, error) {
	doc, err := parseDoc(body)
	if err != nil {
		return nil, &SchemaError{Platform: a.Platform(), Reason: "unparseable document"}
	}

	root := doc.Find("div#product-page").First()
	if root.Length() == 0 {
		return nil, &SchemaError{Platform: a.Platform(), Reason: "missing div#product-page root"}
	}
	id, _ := root.Attr("data-sku")
	title := childText(root, "h1.product-title")
	if id == "" || title == "" {
		return nil, &SchemaError{Platform: a.Platform(), Reason: "missing product identity"}
	}

	return &models.RawListing{
		ExternalID:        id,
		Title:             title,
		PriceText:         childText(root, "span.price-current"),
		OriginalPriceText: childText(root, "span.price-list"),
		AvailabilityText:  childText(root, "div.stock-status"),
		SellerName:        childText(root, "span.sold-by"),
		RatingText:        childText(root, "span.rating-label"),
		ReviewCountText:   childText(root, "span.review-count"),
		ShippingText:      childText(root, "div.delivery-block"),
		ImageURL:          childAttr(root, "img#main-image", "src"),
		Link:              childAttr(doc.Selection, "link[rel=canonical]", "href"),
		StoreAvailability: childText(root, "div.store-pickup"),
	}, nil
}

func (a *speedMart) DetectBlock(body []byte, statusCode int) (bool, time.Duration) {
	return detectBlock(a.pc, body, statusCode)
}
