package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/partscout/partscout/config"
	"github.com/partscout/partscout/models"
)

// BrowserTransport drives a headless browser session for platforms that only
// render usable markup after script execution. The session is scoped to a
// single fetch: every context created here is cancelled on return, so no
// browser session outlives an attempt, including timeouts and errors.
type BrowserTransport struct {
	pc *config.PlatformConfig
}

// NewBrowserTransport builds a browser transport for one platform.
func NewBrowserTransport(pc *config.PlatformConfig) *BrowserTransport {
	return &BrowserTransport{pc: pc}
}

// Fetch navigates to the URL, waits for the configured selector to appear,
// and returns the rendered document.
func (t *BrowserTransport) Fetch(ctx context.Context, target string) (*models.RawFetchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, t.pc.Timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", t.pc.BrowserHeadless),
		chromedp.UserAgent(t.pc.UserAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	tasks := []chromedp.Action{chromedp.Navigate(target)}
	if t.pc.BrowserWaitSelector != "" {
		tasks = append(tasks, chromedp.WaitVisible(t.pc.BrowserWaitSelector, chromedp.ByQuery))
	}
	if t.pc.BrowserSettle > 0 {
		tasks = append(tasks, chromedp.Sleep(t.pc.BrowserSettle))
	}
	var html string
	tasks = append(tasks, chromedp.OuterHTML("html", &html))

	if err := chromedp.Run(tabCtx, tasks...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout{Err: err}
		}
		return nil, ErrConnection{Err: err}
	}

	// The DevTools protocol does not surface the navigation status here; a
	// rendered document is treated as a 200 and block detection relies on
	// the markup itself.
	return &models.RawFetchResult{
		URL:           target,
		StatusCode:    200,
		Body:          []byte(html),
		FetchedAt:     time.Now(),
		TransportKind: models.TransportBrowser,
	}, nil
}
