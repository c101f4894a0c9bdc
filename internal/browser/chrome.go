package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// ChromeConfig tunes the shared Chromium process and per-page behavior.
type ChromeConfig struct {
	// RemoteURL is the WebSocket URL of an external Chromium. Empty =
	// launch a local one.
	RemoteURL string
	// NoSandbox disables the Chromium sandbox (needed in most containers).
	NoSandbox bool
	// PageLoadTimeout bounds navigation and the load event. Default 30s.
	PageLoadTimeout time.Duration
	// NetworkIdleWindow is the quiet period after load that counts as
	// network-idle. Default 500ms.
	NetworkIdleWindow time.Duration
	// MaxPageBytes truncates the rendered DOM beyond this size. Default 10MiB.
	MaxPageBytes int

	Logger *slog.Logger
}

func (c *ChromeConfig) defaults() {
	if c.PageLoadTimeout <= 0 {
		c.PageLoadTimeout = 30 * time.Second
	}
	if c.NetworkIdleWindow <= 0 {
		c.NetworkIdleWindow = 500 * time.Millisecond
	}
	if c.MaxPageBytes <= 0 {
		c.MaxPageBytes = 10 << 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Chrome owns the shared Chromium process. Pool slots are incognito
// contexts carved out of it, so targets never share cookies or storage.
type Chrome struct {
	cfg ChromeConfig

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// LaunchChrome starts (or connects to) Chromium and returns the process
// handle. Use NewLoader as the pool factory and Relaunch as the pool's
// restart hook.
func LaunchChrome(cfg ChromeConfig) (*Chrome, error) {
	cfg.defaults()
	c := &Chrome{cfg: cfg}
	if err := c.launch(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Chrome) launch() error {
	var wsURL string
	if c.cfg.RemoteURL != "" {
		wsURL = c.cfg.RemoteURL
		c.cfg.Logger.Info("browser: connecting to remote chromium", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(true).
			NoSandbox(c.cfg.NoSandbox).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		c.lnch = l
		c.cfg.Logger.Info("browser: launched local chromium")
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("browser: connect: %w", err)
	}
	c.mu.Lock()
	c.browser = b
	c.mu.Unlock()
	return nil
}

// NewLoader carves an isolated incognito context out of the shared
// process. It satisfies the pool Factory signature.
func (c *Chrome) NewLoader(ctx context.Context) (PageLoader, error) {
	c.mu.Lock()
	b := c.browser
	c.mu.Unlock()
	if b == nil {
		return nil, fmt.Errorf("browser: chromium not running")
	}
	inc, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("browser: incognito context: %w", err)
	}
	return &chromeLoader{browser: inc, cfg: c.cfg}, nil
}

// Relaunch tears down Chromium and starts a fresh process. Existing
// loaders become invalid and fault on their next use.
func (c *Chrome) Relaunch(ctx context.Context) error {
	c.teardown()
	if err := c.launch(); err != nil {
		return fmt.Errorf("browser: relaunch: %w", err)
	}
	return nil
}

// Close shuts the Chromium process down.
func (c *Chrome) Close() error {
	c.teardown()
	return nil
}

func (c *Chrome) teardown() {
	c.mu.Lock()
	b, l := c.browser, c.lnch
	c.browser, c.lnch = nil, nil
	c.mu.Unlock()

	if b != nil {
		if err := b.Close(); err != nil {
			c.cfg.Logger.Debug("browser: close", "error", err)
		}
	}
	if l != nil {
		l.Cleanup()
	}
}

// chromeLoader is one incognito context. LoadPage opens a stealth page,
// navigates, waits for load plus network idle, and captures the DOM.
type chromeLoader struct {
	browser *rod.Browser
	cfg     ChromeConfig
}

func (l *chromeLoader) LoadPage(ctx context.Context, url string) (string, error) {
	page, err := stealth.Page(l.browser)
	if err != nil {
		return "", fmt.Errorf("%w: create page: %v", ErrNavigation, err)
	}
	defer page.Close()

	p := page.Context(ctx)
	if err := p.Timeout(l.cfg.PageLoadTimeout).Navigate(url); err != nil {
		return "", classifyLoadError(err, "navigate")
	}
	if err := p.Timeout(l.cfg.PageLoadTimeout).WaitLoad(); err != nil {
		return "", classifyLoadError(err, "wait load")
	}

	// The idle wait is best-effort: a page that never goes quiet is
	// captured as-is when the window times out.
	wait := p.Timeout(l.cfg.PageLoadTimeout).WaitRequestIdle(l.cfg.NetworkIdleWindow, nil, nil, nil)
	wait()

	res, err := p.Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", classifyLoadError(err, "capture dom")
	}
	html := res.Value.Str()
	if len(html) > l.cfg.MaxPageBytes {
		html = html[:l.cfg.MaxPageBytes]
	}
	return html, nil
}

func (l *chromeLoader) Close() error {
	// The incognito context lives in the shared Chromium process until it
	// is disposed; faulted slots would otherwise accumulate contexts for
	// the life of the process.
	err := proto.TargetDisposeBrowserContext{
		BrowserContextID: l.browser.BrowserContextID,
	}.Call(l.browser)
	if err != nil {
		return fmt.Errorf("browser: dispose context: %w", err)
	}
	return nil
}

// classifyLoadError maps rod/context failures onto the pool's sentinel
// errors so the pipeline can distinguish timeouts from hard failures.
func classifyLoadError(err error, op string) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %v", ErrLoadTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("browser: %s: %w", op, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrNavigation, op, err)
	}
}
