package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/andygrunwald/nordpool-prices/internal/models"
)

const (
	// DefaultManifestURL is where release manifests are published.
	DefaultManifestURL = "https://gitlab.com/dmitrijsmok1/nordpool1hprices-updates/-/raw/main/update.json"
	// CheckTimeout bounds a single manifest request.
	CheckTimeout = 5 * time.Second

	maxManifestSize = 64 << 10
)

var errInvalidManifest = errors.New("invalid manifest")

// MetricsRecorder receives update check metrics.
type MetricsRecorder interface {
	RecordUpdateCheck(result string)
}

// Checker fetches the release manifest and compares it to the running version.
type Checker struct {
	client  *http.Client
	running string
	metrics MetricsRecorder
	logger  zerolog.Logger

	mu          sync.RWMutex
	lastCheckAt *time.Time
	lastResult  *models.UpdateManifest
	available   bool
}

// NewChecker creates a Checker for the running version.
func NewChecker(running string, logger zerolog.Logger) *Checker {
	return NewCheckerWithClient(&http.Client{Timeout: CheckTimeout}, running, logger)
}

// NewCheckerWithClient creates a Checker using client.
func NewCheckerWithClient(client *http.Client, running string, logger zerolog.Logger) *Checker {
	return &Checker{
		client:  client,
		running: running,
		logger:  logger.With().Str("component", "update-checker").Logger(),
	}
}

// SetMetrics wires a metrics recorder.
func (c *Checker) SetMetrics(m MetricsRecorder) {
	c.metrics = m
}

// RunningVersion returns the version the checker compares against.
func (c *Checker) RunningVersion() string {
	return c.running
}

// Fetch downloads and parses the manifest at url. Any failure is logged and
// yields nil.
func (c *Checker) Fetch(ctx context.Context, url string) *models.UpdateManifest {
	m, err := c.fetch(ctx, url)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", url).Msg("update check failed")
		return nil
	}
	return m
}

// Check fetches the manifest and reports whether it announces a version newer
// than the running one.
func (c *Checker) Check(ctx context.Context, url string) (*models.UpdateManifest, bool) {
	m := c.Fetch(ctx, url)

	available := m != nil && IsNewer(m.LatestVersion, c.running)
	now := time.Now()

	c.mu.Lock()
	c.lastCheckAt = &now
	c.lastResult = m
	c.available = available
	c.mu.Unlock()

	switch {
	case m == nil:
		c.record("unavailable")
	case available:
		c.record("newer")
		c.logger.Info().
			Str("running", c.running).
			Str("latest", m.LatestVersion).
			Msg("update available")
	default:
		c.record("current")
		c.logger.Debug().
			Str("running", c.running).
			Str("latest", m.LatestVersion).
			Msg("no update available")
	}

	return m, available
}

// Status returns the outcome of the most recent Check.
func (c *Checker) Status() models.UpdateStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return models.UpdateStatus{
		RunningVersion: c.running,
		LastCheckAt:    c.lastCheckAt,
		Available:      c.available,
		Manifest:       c.lastResult,
	}
}

func (c *Checker) fetch(ctx context.Context, url string) (*models.UpdateManifest, error) {
	ctx, cancel := context.WithTimeout(ctx, CheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return ParseManifest(body)
}

// ParseManifest decodes a manifest document. latestVersion and the package
// URL (apkUrl, or packageUrl) are required; changelog defaults to "".
func ParseManifest(data []byte) (*models.UpdateManifest, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: malformed json", errInvalidManifest)
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: not an object", errInvalidManifest)
	}

	version := doc.Get("latestVersion")
	if version.Type != gjson.String || version.Str == "" {
		return nil, fmt.Errorf("%w: missing latestVersion", errInvalidManifest)
	}

	pkg := doc.Get("apkUrl")
	if pkg.Type != gjson.String || pkg.Str == "" {
		pkg = doc.Get("packageUrl")
	}
	if pkg.Type != gjson.String || pkg.Str == "" {
		return nil, fmt.Errorf("%w: missing package url", errInvalidManifest)
	}

	m := &models.UpdateManifest{
		LatestVersion: version.Str,
		PackageURL:    pkg.Str,
	}
	if cl := doc.Get("changelog"); cl.Type == gjson.String {
		m.Changelog = cl.Str
	}
	return m, nil
}

func (c *Checker) record(result string) {
	if c.metrics != nil {
		c.metrics.RecordUpdateCheck(result)
	}
}
