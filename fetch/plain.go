package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/partscout/partscout/config"
	"github.com/partscout/partscout/models"
)

// PlainTransport fetches markup over plain HTTP for platforms that render
// usable pages without script execution.
type PlainTransport struct {
	base *colly.Collector
	pc   *config.PlatformConfig
}

// NewPlainTransport builds a collector configured for one platform.
func NewPlainTransport(pc *config.PlatformConfig) (*PlainTransport, error) {
	parsed, err := url.Parse(pc.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.UserAgent(pc.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.IgnoreRobotsTxt = true
	// Error pages still carry markup worth inspecting: 403 interstitials are
	// how several platforms present a block.
	collector.ParseHTTPErrorResponse = true
	collector.SetRequestTimeout(pc.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   pc.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	return &PlainTransport{base: collector, pc: pc}, nil
}

// WithTransport swaps the underlying round tripper. Used by tests to inject
// a mock transport.
func (t *PlainTransport) WithTransport(rt http.RoundTripper) {
	t.base.WithTransport(rt)
}

// Fetch retrieves one URL. A scrape already past this point completes or
// times out rather than being forcibly killed, so ctx is only consulted
// before the request is issued.
func (t *PlainTransport) Fetch(ctx context.Context, target string) (*models.RawFetchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// A fresh clone shares the configured backend but carries its own
	// callbacks, keeping concurrent fetches isolated.
	c := t.base.Clone()

	var result *models.RawFetchResult
	var fetchErr error

	c.OnResponse(func(r *colly.Response) {
		result = &models.RawFetchResult{
			URL:           r.Request.URL.String(),
			StatusCode:    r.StatusCode,
			Body:          r.Body,
			FetchedAt:     time.Now(),
			TransportKind: models.TransportPlain,
		}
		if r.StatusCode >= 400 {
			fetchErr = Classify(nil, r.StatusCode)
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		statusCode := 0
		var body []byte
		fetchedURL := target
		if r != nil {
			statusCode = r.StatusCode
			body = r.Body
			if r.Request != nil && r.Request.URL != nil {
				fetchedURL = r.Request.URL.String()
			}
		}
		if statusCode != 0 {
			result = &models.RawFetchResult{
				URL:           fetchedURL,
				StatusCode:    statusCode,
				Body:          body,
				FetchedAt:     time.Now(),
				TransportKind: models.TransportPlain,
			}
		}
		fetchErr = Classify(err, statusCode)
	})

	if err := c.Visit(target); err != nil {
		if fetchErr != nil {
			return result, fetchErr
		}
		return nil, Classify(err, 0)
	}
	c.Wait()

	if fetchErr != nil {
		return result, fetchErr
	}
	if result == nil {
		return nil, ErrConnection{Err: fmt.Errorf("no response received for %s", target)}
	}
	return result, nil
}
