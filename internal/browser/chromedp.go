// Package browser wraps headless Chrome behind the runner's session interface.
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/kholt/instance-keepalive/internal/runner"
)

const (
	defaultViewportWidth  = 1280
	defaultViewportHeight = 800
)

// Config controls the behavior of the chromedp browser.
type Config struct {
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
}

// Chromedp implements runner.Browser using chromedp and headless Chrome.
// Each Open launches a fresh browser process; the service holds one page for
// minutes at a time, so there is nothing to gain from a shared allocator.
type Chromedp struct {
	cfg    Config
	logger *zap.Logger
}

// NewChromedp creates a browser factory backed by chromedp.
func NewChromedp(cfg Config, logger *zap.Logger) *Chromedp {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = defaultViewportWidth
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = defaultViewportHeight
	}
	return &Chromedp{cfg: cfg, logger: logger}
}

// Open launches headless Chrome and returns a live session. The sandbox is
// disabled because the service targets containerized hosts where Chrome's
// sandbox cannot start. A deadline on ctx bounds the launch; no deadline
// means the launch may block indefinitely.
func (b *Chromedp) Open(ctx context.Context) (runner.Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.WindowSize(b.cfg.ViewportWidth, b.cfg.ViewportHeight),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run starts the browser. Propagate only the caller's deadline:
	// the session itself must outlive the launch context.
	warmupCtx := browserCtx
	warmupCancel := context.CancelFunc(func() {})
	if deadline, ok := ctx.Deadline(); ok {
		warmupCtx, warmupCancel = context.WithDeadline(browserCtx, deadline)
	}
	defer warmupCancel()

	if err := chromedp.Run(warmupCtx, b.setupAction()); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &session{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		logger:        b.logger,
	}, nil
}

// setupAction fixes the viewport and applies the user agent on the fresh tab.
func (b *Chromedp) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetDeviceMetricsOverride(
			int64(b.cfg.ViewportWidth),
			int64(b.cfg.ViewportHeight),
			1,
			false,
		).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

type session struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	logger        *zap.Logger
}

// Navigate opens url and returns once the DOM is ready, not when the page has
// fully loaded. A deadline on ctx bounds the navigation.
func (s *session) Navigate(ctx context.Context, url string) error {
	navCtx := s.browserCtx
	navCancel := context.CancelFunc(func() {})
	if deadline, ok := ctx.Deadline(); ok {
		navCtx, navCancel = context.WithDeadline(s.browserCtx, deadline)
	}
	defer navCancel()

	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

// Close shuts the browser down. Errors are logged and swallowed: cleanup
// failure must never mask the visit's outcome.
func (s *session) Close() {
	if err := chromedp.Cancel(s.browserCtx); err != nil {
		s.logger.Warn("browser close failed", zap.Error(err))
	}
	s.browserCancel()
	s.allocCancel()
}
