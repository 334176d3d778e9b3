package fetch

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/partscout/partscout/config"
	"github.com/partscout/partscout/models"
)

func plainConfig() *config.PlatformConfig {
	return &config.PlatformConfig{
		BaseURL:   "https://www.speedmart.test",
		Transport: models.TransportPlain,
		UserAgent: "partscout-test",
		Timeout:   5 * time.Second,
	}
}

func newMockedTransport(t *testing.T) (*PlainTransport, *httpmock.MockTransport) {
	t.Helper()
	pt, err := NewPlainTransport(plainConfig())
	if err != nil {
		t.Fatalf("new plain transport: %v", err)
	}
	mt := httpmock.NewMockTransport()
	pt.WithTransport(mt)
	return pt, mt
}

func TestPlainTransportFetchSuccess(t *testing.T) {
	pt, mt := newMockedTransport(t)
	const url = "https://www.speedmart.test/dp/SM-1"
	const body = `<html><body><div id="product-page" data-sku="SM-1"></div></body></html>`
	mt.RegisterResponder("GET", url, httpmock.NewStringResponder(http.StatusOK, body))

	result, err := pt.Fetch(context.Background(), url)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if result.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", result.StatusCode)
	}
	if string(result.Body) != body {
		t.Fatalf("body = %q", result.Body)
	}
	if result.TransportKind != models.TransportPlain {
		t.Fatalf("transport kind = %q", result.TransportKind)
	}
	if result.FetchedAt.IsZero() {
		t.Fatalf("fetched at not stamped")
	}
}

func TestPlainTransportFetchHTTPError(t *testing.T) {
	pt, mt := newMockedTransport(t)
	const url = "https://www.speedmart.test/dp/SM-2"
	const blockPage = `<html><body>Access Denied</body></html>`
	mt.RegisterResponder("GET", url, httpmock.NewStringResponder(http.StatusForbidden, blockPage))

	result, err := pt.Fetch(context.Background(), url)
	var httpErr ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("want ErrHTTP, got %v", err)
	}
	if httpErr.Status != http.StatusForbidden {
		t.Fatalf("status = %d", httpErr.Status)
	}
	// The refused page still travels with the error so block detection can
	// inspect it.
	if result == nil {
		t.Fatalf("result must accompany an HTTP error")
	}
	if result.StatusCode != http.StatusForbidden || !strings.Contains(string(result.Body), "Access Denied") {
		t.Fatalf("result = %d %q", result.StatusCode, result.Body)
	}
}

func TestPlainTransportFetchConnectionError(t *testing.T) {
	pt, mt := newMockedTransport(t)
	const url = "https://www.speedmart.test/dp/SM-3"
	mt.RegisterResponder("GET", url, httpmock.NewErrorResponder(errors.New("connection refused")))

	_, err := pt.Fetch(context.Background(), url)
	if err == nil {
		t.Fatalf("want connection error")
	}
	if !IsTransport(err) {
		t.Fatalf("connection failure must classify as a transport error, got %v", err)
	}
	if Label(err) != "connection" {
		t.Fatalf("label = %q", Label(err))
	}
}

func TestPlainTransportFetchCancelledContext(t *testing.T) {
	pt, _ := newMockedTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := pt.Fetch(ctx, "https://www.speedmart.test/dp/SM-4"); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled before issuing the request, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		wantLabel  string
	}{
		{name: "nil", err: nil, statusCode: 0, wantLabel: "none"},
		{name: "deadline", err: context.DeadlineExceeded, statusCode: 0, wantLabel: "timeout"},
		{name: "status only", err: nil, statusCode: 503, wantLabel: "http_error"},
		{name: "plain error", err: errors.New("broken pipe"), statusCode: 0, wantLabel: "connection"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := Classify(tt.err, tt.statusCode)
			if got := Label(classified); got != tt.wantLabel {
				t.Fatalf("Label(Classify(%v, %d)) = %q, want %q", tt.err, tt.statusCode, got, tt.wantLabel)
			}
			if tt.wantLabel != "none" && !IsTransport(classified) {
				t.Fatalf("classified error %v must report as transport", classified)
			}
		})
	}
}

func TestErrHTTPCarriesStatus(t *testing.T) {
	err := Classify(nil, 429)
	var httpErr ErrHTTP
	if !errors.As(err, &httpErr) || httpErr.Status != 429 {
		t.Fatalf("Classify(nil, 429) = %v", err)
	}
}

func TestNewSelectsTransport(t *testing.T) {
	pc := plainConfig()
	tr, err := New(pc)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := tr.(*PlainTransport); !ok {
		t.Fatalf("transport = %T, want *PlainTransport", tr)
	}

	pc.Transport = models.TransportBrowser
	tr, err = New(pc)
	if err != nil {
		t.Fatalf("new browser: %v", err)
	}
	if _, ok := tr.(*BrowserTransport); !ok {
		t.Fatalf("transport = %T, want *BrowserTransport", tr)
	}

	pc.Transport = models.TransportKind("carrier-pigeon")
	if _, err := New(pc); err == nil {
		t.Fatalf("unknown transport kind must be rejected")
	}
}
