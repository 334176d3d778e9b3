package adapter

import (
	"fmt"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/partscout/partscout/config"
	"github.com/partscout/partscout/models"
)

// gearHub extracts listings from the specialty auto-parts store. The site
// renders its catalog client-side, so it is paired with the browser transport.
type gearHub struct {
	pc *config.PlatformConfig
}

func newGearHub(pc *config.PlatformConfig) *gearHub {
	return &gearHub{pc: pc}
}

func (a *gearHub) Platform() models.Platform {
	return models.PlatformGearHub
}

func (a *gearHub) BuildSearchURL(query string, filters SearchFilters) (string, error) {
	u, err := url.Parse(a.pc.BaseURL + "/catalog/search")
	if err != nil {
		return "", fmt.Errorf("build search url: %w", err)
	}
	q := u.Query()
	q.Set("term", query)
	if filters.MinPrice != nil {
		q.Set("min", filters.MinPrice.String())
	}
	if filters.MaxPrice != nil {
		q.Set("max", filters.MaxPrice.String())
	}
	if filters.Condition != "" {
		q.Set("cond", filters.Condition)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *gearHub) BuildDetailURL(externalID string) (string, error) {
	if externalID == "" {
		return "", fmt.Errorf("external id is required")
	}
	return fmt.Sprintf("%s/parts/%s", a.pc.BaseURL, url.PathEscape(externalID)), nil
}

func (a *gearHub) ExtractSearchResults(body []byte) ([]*models.RawListing, error) {
	doc, err := parseDoc(body)
	if err != nil {
		return nil, &SchemaError{Platform: a.Platform(), Reason: "unparseable document"}
	}

	list := doc.Find("div.results-list")
	if list.Length() == 0 {
		if doc.Find("p.no-matches").Length() > 0 {
			return nil, nil
		}
		return nil, &SchemaError{Platform: a.Platform(), Reason: "missing div.results-list container"}
	}

	var listings []*models.RawListing
	list.Find("article.result").Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("data-part-id")
		if id == "" {
			return
		}
		listings = append(listings, &models.RawListing{
			ExternalID:        id,
			Title:             childText(s, "h2.part-name"),
			PriceText:         childText(s, "span.price-now"),
			OriginalPriceText: childText(s, "span.price-was"),
			AvailabilityText:  childText(s, "p.stock-note"),
			ShippingText:      childText(s, "p.ship-note"),
			ImageURL:          childAttr(s, "img.part-thumb", "src"),
			Link:              childAttr(s, "a.part-link", "href"),
		})
	})
	return listings, nil
}

func (a *gearHub) ExtractDetail(body []byte) (*models.RawListing, error) {
	doc, err := parseDoc(body)
	if err != nil {
		return nil, &SchemaError{Platform: a.Platform(), Reason: "unparseable document"}
	}

	root := doc.Find("div.product-detail").First()
	if root.Length() == 0 {
		return nil, &SchemaError{Platform: a.Platform(), Reason: "missing div.product-detail root"}
	}
	id, _ := root.Attr("data-part-id")
	title := childText(root, "h1.product-name")
	if id == "" || title == "" {
		return nil, &SchemaError{Platform: a.Platform(), Reason: "missing part identity"}
	}

	availability := childText(root, "p.stock-note")
	if availability == "" {
		// Fall back to the cart button label the storefront toggles.
		availability = childText(root, "button.add-to-cart")
	}

	return &models.RawListing{
		ExternalID:        id,
		Title:             title,
		PriceText:         childText(root, "span.price-now"),
		OriginalPriceText: childText(root, "span.price-was"),
		AvailabilityText:  availability,
		SellerName:        "GearHub",
		RatingText:        childText(root, "span.avg-rating"),
		ReviewCountText:   childText(root, "span.review-total"),
		ShippingText:      childText(root, "p.ship-note"),
		ImageURL:          childAttr(root, "img.product-photo", "src"),
		Link:              childAttr(doc.Selection, "link[rel=canonical]", "href"),
	}, nil
}

func (a *gearHub) DetectBlock(body []byte, statusCode int) (bool, time.Duration) {
	return detectBlock(a.pc, body, statusCode)
}
