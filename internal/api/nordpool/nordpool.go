// Package nordpool provides a client for the hourly Nord Pool CSV feed.
package nordpool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/andygrunwald/nordpool-prices/internal/feed"
	"github.com/andygrunwald/nordpool-prices/internal/models"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "nordpool"
	// DefaultURL is the published hourly feed for the LV price area.
	DefaultURL = "https://nordpool.didnt.work/nordpool-lv-1h.csv"
	// UserAgent is sent with every feed request.
	UserAgent = "nordprices (+https://github.com/andygrunwald/nordpool-prices)"

	maxFeedSize = 4 << 20
)

// Provider fetches and parses the CSV feed.
type Provider struct {
	url        string
	client     *http.Client
	parser     *feed.Parser
	newBackOff func() backoff.BackOff
	logger     zerolog.Logger
}

// New creates a new provider for the feed at url.
func New(url string, loc *time.Location, logger zerolog.Logger) *Provider {
	if url == "" {
		url = DefaultURL
	}
	return &Provider{
		url: url,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		parser:     feed.NewParser(loc),
		newBackOff: defaultBackOff,
		logger:     logger.With().Str("provider", ProviderName).Logger(),
	}
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 15 * time.Second
	bo.MaxElapsedTime = 2 * time.Minute
	return bo
}

// SetBackOff replaces the retry policy.
func (p *Provider) SetBackOff(fn func() backoff.BackOff) {
	p.newBackOff = fn
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return ProviderName
}

// URL returns the feed location.
func (p *Provider) URL() string {
	return p.url
}

// FetchIntervals downloads the feed and parses it. Transient failures are
// retried; client errors are not.
func (p *Provider) FetchIntervals(ctx context.Context) ([]models.PriceInterval, error) {
	p.logger.Debug().Str("url", p.url).Msg("fetching price feed")

	var body []byte
	attempts := 0
	operation := func() error {
		attempts++
		b, err := p.fetch(ctx)
		if err != nil {
			return err
		}
		body = b
		return nil
	}
	notify := func(err error, delay time.Duration) {
		p.logger.Warn().
			Err(err).
			Int("attempt", attempts).
			Dur("delay", delay).
			Msg("feed request failed, retrying")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(p.newBackOff(), ctx), notify); err != nil {
		return nil, fmt.Errorf("fetching feed after %d attempt(s): %w", attempts, err)
	}

	rows, err := feed.ReadCSV(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("reading feed: %w", err)
	}
	intervals := p.parser.Parse(rows)

	p.logger.Info().
		Int("rows", len(rows)).
		Int("intervals", len(intervals)).
		Int("dropped", len(rows)-len(intervals)).
		Msg("fetched price feed")

	return intervals, nil
}

func (p *Provider) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}

	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "text/csv")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return body, nil
}
