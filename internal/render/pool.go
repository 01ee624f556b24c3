// Package render is the deep-scan stage: a long-lived headless Chrome that
// renders pages in isolated browser contexts.
package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/raysh454/siteaudit/internal/interfaces"
	"github.com/raysh454/siteaudit/internal/logging"
)

const DefaultUserAgent = "SiteAuditorBot/1.0 (Deep Scan Mode; +https://example.com/bot)"

var (
	// ErrTimeout marks a navigation that exceeded its deadline.
	ErrTimeout    = errors.New("render: navigation timed out")
	ErrNotStarted = errors.New("render: pool not started")
	ErrClosed     = errors.New("render: pool closed")
)

// Config controls the browser process.
type Config struct {
	Enabled bool `mapstructure:"enabled"`
	// RemoteURL connects to an existing Chrome DevTools websocket instead of
	// launching a local browser.
	RemoteURL string `mapstructure:"remote_url"`
	ExecPath  string `mapstructure:"exec_path"`
	NoSandbox bool   `mapstructure:"no_sandbox"`
	UserAgent string `mapstructure:"user_agent"`
	// NetworkIdle is how long to wait for network quiet after load. Hitting
	// it is not an error.
	NetworkIdle    time.Duration `mapstructure:"network_idle"`
	JPEGQuality    int           `mapstructure:"jpeg_quality"`
	ViewportWidth  int64         `mapstructure:"viewport_width"`
	ViewportHeight int64         `mapstructure:"viewport_height"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		NoSandbox:      true,
		UserAgent:      DefaultUserAgent,
		NetworkIdle:    5 * time.Second,
		JPEGQuality:    80,
		ViewportWidth:  1366,
		ViewportHeight: 768,
	}
}

func (c *Config) defaults() {
	def := DefaultConfig()
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.NetworkIdle <= 0 {
		c.NetworkIdle = def.NetworkIdle
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = def.JPEGQuality
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = def.ViewportWidth
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = def.ViewportHeight
	}
}

// Pool owns one browser process. Every Render holds a lease; Close waits
// for outstanding leases before shutting the browser down.
type Pool struct {
	cfg    Config
	logger logging.Logger

	mu            sync.RWMutex
	started       bool
	closed        bool
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	leases        sync.WaitGroup
	active        atomic.Int32
}

var _ interfaces.Renderer = (*Pool)(nil)

func New(cfg Config, logger logging.Logger) *Pool {
	cfg.defaults()
	if logger == nil {
		logger = logging.Nop()
	}
	return &Pool{cfg: cfg, logger: logger.With(logging.F("component", "render"))}
}

// Start launches (or connects to) the browser. ctx only bounds startup.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.started {
		return nil
	}

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if p.cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), p.cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-accelerated-2d-canvas", true),
			chromedp.Flag("no-first-run", true),
			chromedp.WindowSize(int(p.cfg.ViewportWidth), int(p.cfg.ViewportHeight)),
			chromedp.UserAgent(p.cfg.UserAgent),
		)
		if p.cfg.NoSandbox {
			opts = append(opts, chromedp.NoSandbox)
		}
		if p.cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(p.cfg.ExecPath))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run on a fresh context starts the browser.
	startErr := make(chan error, 1)
	go func() { startErr <- chromedp.Run(browserCtx) }()
	select {
	case err := <-startErr:
		if err != nil {
			browserCancel()
			allocCancel()
			return fmt.Errorf("render: start browser: %w", err)
		}
	case <-ctx.Done():
		browserCancel()
		allocCancel()
		return fmt.Errorf("render: start browser: %w", ctx.Err())
	}

	p.allocCancel = allocCancel
	p.browserCtx = browserCtx
	p.browserCancel = browserCancel
	p.started = true
	p.logger.Info("browser ready", logging.F("remote", p.cfg.RemoteURL != ""))
	return nil
}

// Active returns the number of renders in flight.
func (p *Pool) Active() int { return int(p.active.Load()) }

func (p *Pool) acquire() (context.Context, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrClosed
	}
	if !p.started {
		return nil, ErrNotStarted
	}
	p.leases.Add(1)
	p.active.Add(1)
	return p.browserCtx, nil
}

func (p *Pool) release() {
	p.active.Add(-1)
	p.leases.Done()
}

// Render navigates to url in a fresh incognito browser context and returns
// the rendered HTML and a JPEG screenshot. A navigation that exceeds
// timeout returns ErrTimeout, with a viewport screenshot when one could
// still be taken.
func (p *Pool) Render(ctx context.Context, url string, timeout time.Duration) (*interfaces.RenderedPage, error) {
	browserCtx, err := p.acquire()
	if err != nil {
		return nil, err
	}
	defer p.release()

	tabCtx, cancelTab := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	log := p.logger.With(logging.F("url", url))
	log.Debug("rendering", logging.F("timeout", timeout.String()))

	navCtx, cancelNav := context.WithTimeout(tabCtx, timeout)
	defer cancelNav()

	idle := waitNetworkIdle(navCtx, p.cfg.NetworkIdle)
	err = chromedp.Run(navCtx,
		network.Enable(),
		emulation.SetUserAgentOverride(p.cfg.UserAgent),
		emulation.SetDeviceMetricsOverride(p.cfg.ViewportWidth, p.cfg.ViewportHeight, 1, false),
		chromedp.Navigate(url),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			log.Warn("navigation timed out")
			return p.partial(tabCtx), fmt.Errorf("%w: %s after %s", ErrTimeout, url, timeout)
		}
		return nil, fmt.Errorf("render: navigate %s: %w", url, err)
	}

	select {
	case <-idle:
	case <-time.After(p.cfg.NetworkIdle):
		log.Debug("network idle wait elapsed")
	case <-navCtx.Done():
	}

	var html string
	if err := chromedp.Run(navCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			return p.partial(tabCtx), fmt.Errorf("%w: %s after %s", ErrTimeout, url, timeout)
		}
		return nil, fmt.Errorf("render: read dom: %w", err)
	}

	out := &interfaces.RenderedPage{HTML: html, Screenshot: p.screenshot(navCtx, log)}
	log.Info("rendered", logging.F("html_bytes", len(html)), logging.F("screenshot_bytes", len(out.Screenshot)))
	return out, nil
}

// screenshot tries a full-page capture, then the viewport.
func (p *Pool) screenshot(ctx context.Context, log logging.Logger) []byte {
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.FullScreenshot(&buf, p.cfg.JPEGQuality)); err == nil && len(buf) > 0 {
		return buf
	} else if err != nil {
		log.Debug("full page screenshot failed", logging.Err(err))
	}
	buf = p.viewport(ctx)
	if buf == nil {
		log.Debug("viewport screenshot failed")
	}
	return buf
}

func (p *Pool) viewport(ctx context.Context) []byte {
	var buf []byte
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatJpeg).
			WithQuality(int64(p.cfg.JPEGQuality)).
			Do(ctx)
		return err
	}))
	if err != nil || len(buf) == 0 {
		return nil
	}
	return buf
}

// partial grabs whatever the tab shows after a timed-out navigation.
func (p *Pool) partial(tabCtx context.Context) *interfaces.RenderedPage {
	ctx, cancel := context.WithTimeout(tabCtx, 2*time.Second)
	defer cancel()
	shot := p.viewport(ctx)
	if shot == nil {
		return nil
	}
	return &interfaces.RenderedPage{Screenshot: shot}
}

// Close waits for in-flight renders and shuts the browser down. Safe to
// call more than once.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()

	p.leases.Wait()
	if started {
		p.browserCancel()
		p.allocCancel()
		p.logger.Info("browser stopped")
	}
	return nil
}
