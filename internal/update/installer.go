package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/andygrunwald/nordpool-prices/internal/models"
)

const (
	// DefaultPackagePrefix is the file name prefix of downloaded packages.
	DefaultPackagePrefix = "nordPool1hPrices"
	// PackageExt is the file extension of downloaded packages.
	PackageExt = ".apk"
	// DefaultPollInterval is how often progress observers are updated.
	DefaultPollInterval = 800 * time.Millisecond
)

var (
	// ErrInstallPermissionDenied is reported when installing packages is not allowed.
	ErrInstallPermissionDenied = errors.New("install permission denied")
	// ErrMissingArtifact is reported when a transfer finished but no file exists.
	ErrMissingArtifact = errors.New("downloaded file is missing")
)

// InstallPermission reports whether packages may be installed.
type InstallPermission interface {
	CanInstallPackages() bool
}

// AllowInstall is a fixed InstallPermission.
type AllowInstall bool

// CanInstallPackages implements InstallPermission.
func (a AllowInstall) CanInstallPackages() bool { return bool(a) }

// Handoff passes a downloaded package to the platform installer.
type Handoff interface {
	Install(ctx context.Context, file string) error
}

// LogHandoff only logs the package location.
type LogHandoff struct {
	Logger zerolog.Logger
}

// Install implements Handoff.
func (h LogHandoff) Install(_ context.Context, file string) error {
	h.Logger.Info().Str("file", file).Msg("package ready for installation")
	return nil
}

// ProgressRecorder receives download metrics.
type ProgressRecorder interface {
	RecordDownload(phase string, progress int)
}

// Download is the handle of a single package download.
type Download struct {
	mu     sync.RWMutex
	state  models.DownloadState
	done   chan struct{}
	once   sync.Once
	cancel context.CancelFunc
	onSet  func(models.DownloadState)
}

func newDownload(url string, onSet func(models.DownloadState)) *Download {
	return &Download{
		state: models.DownloadState{
			ID:    uuid.New(),
			URL:   url,
			Phase: models.DownloadInProgress,
		},
		done:   make(chan struct{}),
		cancel: func() {},
		onSet:  onSet,
	}
}

// State returns a snapshot of the download.
func (d *Download) State() models.DownloadState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Done is closed once the download reached a terminal phase.
func (d *Download) Done() <-chan struct{} {
	return d.done
}

// Cancel aborts a running transfer. The download ends as failed.
func (d *Download) Cancel() {
	d.mu.RLock()
	cancel := d.cancel
	d.mu.RUnlock()
	cancel()
}

// Wait blocks until the download finished or ctx is done.
func (d *Download) Wait(ctx context.Context) (models.DownloadState, error) {
	select {
	case <-d.done:
		return d.State(), nil
	case <-ctx.Done():
		return d.State(), ctx.Err()
	}
}

// Watch calls fn with the current state every interval until the download
// reaches a terminal phase or ctx is done. The terminal state is always
// delivered once before Watch returns it.
func (d *Download) Watch(ctx context.Context, interval time.Duration, fn func(models.DownloadState)) models.DownloadState {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s := d.State()
		fn(s)
		if s.Phase.Terminal() {
			return s
		}

		select {
		case <-ctx.Done():
			return d.State()
		case <-d.done:
			s = d.State()
			fn(s)
			return s
		case <-ticker.C:
		}
	}
}

func (d *Download) setProgress(p int) {
	d.mu.Lock()
	if d.state.Phase != models.DownloadInProgress || p <= d.state.Progress {
		d.mu.Unlock()
		return
	}
	d.state.Progress = min(p, 100)
	s := d.state
	d.mu.Unlock()
	d.notify(s)
}

func (d *Download) succeed(file string) {
	d.finish(func(s *models.DownloadState) {
		s.Phase = models.DownloadSucceeded
		s.Progress = 100
		s.File = file
	})
}

func (d *Download) fail(err error) {
	d.finish(func(s *models.DownloadState) {
		s.Phase = models.DownloadFailed
		s.Reason = err.Error()
	})
}

func (d *Download) finish(apply func(*models.DownloadState)) {
	d.once.Do(func() {
		d.mu.Lock()
		apply(&d.state)
		s := d.state
		d.mu.Unlock()
		d.notify(s)
		close(d.done)
	})
}

func (d *Download) notify(s models.DownloadState) {
	if d.onSet != nil {
		d.onSet(s)
	}
}

// Installer downloads packages into a directory and hands them to the
// platform installer.
type Installer struct {
	fs         afero.Fs
	client     *http.Client
	dir        string
	prefix     string
	permission InstallPermission
	handoff    Handoff
	metrics    ProgressRecorder
	logger     zerolog.Logger

	mu      sync.Mutex
	current *Download
	// runMu serializes transfers so cleanup never races a newer download.
	runMu sync.Mutex
}

// NewInstaller creates an Installer writing to dir on fs.
func NewInstaller(fs afero.Fs, dir, prefix string, permission InstallPermission, handoff Handoff, logger zerolog.Logger) *Installer {
	if prefix == "" {
		prefix = DefaultPackagePrefix
	}
	return &Installer{
		fs:         fs,
		client:     &http.Client{},
		dir:        dir,
		prefix:     prefix,
		permission: permission,
		handoff:    handoff,
		logger:     logger.With().Str("component", "installer").Logger(),
	}
}

// SetClient replaces the HTTP client used for transfers.
func (i *Installer) SetClient(c *http.Client) {
	i.client = c
}

// SetMetrics wires a metrics recorder.
func (i *Installer) SetMetrics(m ProgressRecorder) {
	i.metrics = m
}

// Current returns the latest download, or nil if none was started.
func (i *Installer) Current() *Download {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.current
}

// Start begins downloading url and returns immediately. A download that is
// still running is cancelled first.
func (i *Installer) Start(ctx context.Context, url string) *Download {
	d := newDownload(url, i.recordState)

	i.mu.Lock()
	if prev := i.current; prev != nil {
		prev.Cancel()
	}
	i.current = d
	i.mu.Unlock()

	i.logger.Info().Stringer("id", d.state.ID).Str("url", url).Msg("starting download")
	i.recordState(d.State())

	if !i.permission.CanInstallPackages() {
		i.logger.Warn().Stringer("id", d.state.ID).Msg("installing packages is not allowed")
		d.fail(ErrInstallPermissionDenied)
		return d
	}

	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	go func() {
		defer cancel()
		i.run(ctx, d)
	}()
	return d
}

func (i *Installer) run(ctx context.Context, d *Download) {
	logger := i.logger.With().Stringer("id", d.state.ID).Logger()

	i.runMu.Lock()
	defer i.runMu.Unlock()

	if err := ctx.Err(); err != nil {
		d.fail(fmt.Errorf("download cancelled: %w", err))
		return
	}

	if err := i.fs.MkdirAll(i.dir, 0o755); err != nil {
		d.fail(fmt.Errorf("creating download directory: %w", err))
		return
	}
	i.cleanup(logger)

	dest := filepath.Join(i.dir, fmt.Sprintf("%s-%s%s", i.prefix, d.state.ID, PackageExt))

	start := time.Now()
	if err := i.transfer(ctx, d, dest); err != nil {
		_ = i.fs.Remove(dest)
		logger.Error().Err(err).Msg("download failed")
		d.fail(err)
		return
	}

	exists, err := afero.Exists(i.fs, dest)
	if err != nil || !exists {
		logger.Error().Str("file", dest).Msg("download finished without a file")
		d.fail(ErrMissingArtifact)
		return
	}

	d.succeed(dest)
	logger.Info().
		Str("file", dest).
		Dur("duration", time.Since(start)).
		Msg("download succeeded")

	if err := i.handoff.Install(ctx, dest); err != nil {
		logger.Warn().Err(err).Msg("installer handoff failed")
	}
}

func (i *Installer) transfer(ctx context.Context, d *Download, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.state.URL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	f, err := i.fs.Create(dest)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}

	pw := &progressWriter{total: resp.ContentLength, download: d}
	if _, err := io.Copy(f, io.TeeReader(resp.Body, pw)); err != nil {
		f.Close()
		return fmt.Errorf("writing file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing file: %w", err)
	}
	return nil
}

// cleanup removes packages left over from earlier downloads.
func (i *Installer) cleanup(logger zerolog.Logger) {
	entries, err := afero.ReadDir(i.fs, i.dir)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to list download directory")
		return
	}

	prefix := strings.ToLower(i.prefix)
	for _, e := range entries {
		name := strings.ToLower(e.Name())
		if e.IsDir() || !strings.Contains(name, prefix) || !strings.HasSuffix(name, PackageExt) {
			continue
		}
		path := filepath.Join(i.dir, e.Name())
		if err := i.fs.Remove(path); err != nil {
			logger.Warn().Err(err).Str("file", path).Msg("failed to remove old package")
			continue
		}
		logger.Debug().Str("file", path).Msg("removed old package")
	}
}

func (i *Installer) recordState(s models.DownloadState) {
	if i.metrics != nil {
		i.metrics.RecordDownload(s.Phase.String(), s.Progress)
	}
}

type progressWriter struct {
	total    int64
	written  int64
	download *Download
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.total > 0 {
		// 100 is reserved for a verified file.
		p.download.setProgress(min(int(p.written*100/p.total), 99))
	}
	return len(b), nil
}
