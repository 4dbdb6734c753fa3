package ics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "icalsynchub/internal/log"
	"icalsynchub/internal/source"
)

// maxConcurrentFetches bounds the fan-out across sources within one cycle.
const maxConcurrentFetches = 4

// RawFeed is the outcome of fetching a single source within one cycle.
type RawFeed struct {
	Source source.Descriptor
	Body   []byte
	// Err is non-nil when every attempt failed. A failed feed contributes
	// zero events to the cycle; it never aborts it.
	Err error
}

// OK reports whether the fetch produced a usable body.
func (f RawFeed) OK() bool { return f.Err == nil }

// Fetcher retrieves raw iCal payloads with bounded retries. It keeps no
// local state between cycles.
type Fetcher struct {
	client  *http.Client
	retries int
	delay   time.Duration
}

// NewFetcher creates a Fetcher with a per-attempt timeout, a retry budget
// (additional attempts after the first) and a delay between attempts.
func NewFetcher(timeout time.Duration, retries int, delay time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	return &Fetcher{
		client:  &http.Client{Timeout: timeout},
		retries: retries,
		delay:   delay,
	}
}

// Fetch retrieves one source, retrying on network errors and non-success
// statuses. It never returns an error to the caller; exhausted retries are
// reported through RawFeed.Err so the cycle continues with other sources.
func (f *Fetcher) Fetch(ctx context.Context, src source.Descriptor) RawFeed {
	var lastErr error

	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			appLog.Debug("ics fetch retrying", "url", redactURL(src.URL), "attempt", attempt+1)
			select {
			case <-ctx.Done():
				return RawFeed{Source: src, Err: ctx.Err()}
			case <-time.After(f.delay):
			}
		}

		body, err := f.fetchOnce(ctx, src.URL)
		if err == nil {
			appLog.Info("ics fetch success", "url", redactURL(src.URL), "bytes", len(body))
			return RawFeed{Source: src, Body: body}
		}
		lastErr = err
	}

	appLog.Error("ics fetch failed, skipping source", lastErr,
		"url", redactURL(src.URL), "attempts", f.retries+1)
	return RawFeed{Source: src, Err: lastErr}
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// FetchAll fans out one fetch per source and waits for all of them. Results
// keep the input order; each entry carries its own success or failure.
func (f *Fetcher) FetchAll(ctx context.Context, sources []source.Descriptor) []RawFeed {
	results := make([]RawFeed, len(sources))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			results[i] = f.Fetch(ctx, src)
			return nil
		})
	}
	// Goroutines never return errors; Wait is purely the fan-in barrier.
	_ = g.Wait()

	return results
}

// redactURL hides path and query of a feed URL for logging. Feed URLs
// routinely embed private tokens.
func redactURL(u string) string {
	parsed, err := neturl.Parse(u)
	if err != nil || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
