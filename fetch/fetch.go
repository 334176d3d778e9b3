// Package fetch issues single-URL requests through either a plain HTTP
// transport or a scriptable browser session.
package fetch

import (
	"context"
	"fmt"

	"github.com/partscout/partscout/config"
	"github.com/partscout/partscout/models"
)

// Transport fetches one URL and returns the raw markup. Implementations
// enforce a hard per-attempt timeout and release their underlying
// connection or browser session on every exit path.
//
// On an HTTP error status the returned result still carries the status code
// and body alongside the typed error, so block detection can inspect the
// page that came with the refusal.
type Transport interface {
	Fetch(ctx context.Context, url string) (*models.RawFetchResult, error)
}

// New selects the transport strategy for a platform from its configuration.
func New(pc *config.PlatformConfig) (Transport, error) {
	switch pc.Transport {
	case models.TransportPlain:
		return NewPlainTransport(pc)
	case models.TransportBrowser:
		return NewBrowserTransport(pc), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", pc.Transport)
	}
}
