// Package browser manages a fixed-size pool of isolated browser contexts
// backed by one shared headless Chromium. Each context loads at most one
// page at a time; the pool hands contexts out under a lease timeout and
// recycles faulted ones.
package browser

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PageLoader renders one URL to its post-JavaScript DOM. Implementations
// must be safe to reuse sequentially but not concurrently.
type PageLoader interface {
	LoadPage(ctx context.Context, url string) (string, error)
	Close() error
}

// Factory creates a fresh isolated loader. The pool calls it lazily, at
// most PoolSize loaders live at once.
type Factory func(ctx context.Context) (PageLoader, error)

// Config tunes the pool.
type Config struct {
	// PoolSize caps concurrently live contexts. Default 10.
	PoolSize int
	// LeaseTimeout bounds how long Lease blocks. Default 10s.
	LeaseTimeout time.Duration
	// Relaunch tears down and restarts the shared browser process.
	// Nil when the factory has no shared process.
	Relaunch func(ctx context.Context) error

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Context is one leased slot. It proxies LoadPage to its loader and carries
// the pool generation it was created under, so Restart can invalidate
// outstanding contexts lazily.
type Context struct {
	loader PageLoader
	gen    uint64
}

// LoadPage renders the URL through the leased loader.
func (c *Context) LoadPage(ctx context.Context, url string) (string, error) {
	return c.loader.LoadPage(ctx, url)
}

// Stats is a point-in-time view of pool occupancy for the health endpoint.
type Stats struct {
	Capacity int `json:"capacity"`
	Live     int `json:"live"`
	Idle     int `json:"idle"`
	InUse    int `json:"in_use"`
}

// Pool is the fixed-size context pool. The zero value is not usable; use
// NewPool.
type Pool struct {
	cfg     Config
	factory Factory
	logger  *slog.Logger

	mu     sync.Mutex
	live   int // contexts existing (idle + leased)
	gen    uint64
	closed bool

	idle chan *Context
}

// NewPool builds a pool around factory. Contexts are created lazily on
// first demand, never ahead of it.
func NewPool(cfg Config, factory Factory) *Pool {
	cfg.defaults()
	return &Pool{
		cfg:     cfg,
		factory: factory,
		logger:  cfg.Logger.With("component", "browser"),
		idle:    make(chan *Context, cfg.PoolSize),
	}
}

// Lease returns an idle context, creating one if the pool is under
// capacity. When all contexts are busy it blocks until one frees, the
// lease timeout elapses, or ctx ends; both expiries return
// ErrPoolExhausted.
func (p *Pool) Lease(ctx context.Context) (*Context, error) {
	timeout := time.NewTimer(p.cfg.LeaseTimeout)
	defer timeout.Stop()

	for {
		select {
		case c := <-p.idle:
			if p.stale(c) {
				p.destroy(c)
				continue
			}
			return c, nil
		default:
		}

		c, made, err := p.tryCreate(ctx)
		if err != nil {
			return nil, err
		}
		if made {
			return c, nil
		}

		select {
		case c := <-p.idle:
			if p.stale(c) {
				p.destroy(c)
				continue
			}
			return c, nil
		case <-timeout.C:
			return nil, ErrPoolExhausted
		case <-ctx.Done():
			return nil, ErrPoolExhausted
		}
	}
}

// Release returns a context to the pool. Faulted or stale contexts are
// closed and their slot freed for lazy recreation.
func (p *Pool) Release(c *Context, faulted bool) {
	if c == nil {
		return
	}
	if faulted || p.stale(c) || p.isClosed() {
		p.destroy(c)
		return
	}
	select {
	case p.idle <- c:
	default:
		p.destroy(c)
	}
}

// Restart invalidates every context and relaunches the shared browser
// process. Leased contexts fault on their next release; idle ones are
// closed here.
func (p *Pool) Restart(ctx context.Context) error {
	p.mu.Lock()
	p.gen++
	p.mu.Unlock()

	for {
		select {
		case c := <-p.idle:
			p.destroy(c)
		default:
			if p.cfg.Relaunch != nil {
				if err := p.cfg.Relaunch(ctx); err != nil {
					return err
				}
			}
			p.logger.Info("browser: pool restarted")
			return nil
		}
	}
}

// Stats reports occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	idle := len(p.idle)
	return Stats{
		Capacity: p.cfg.PoolSize,
		Live:     p.live,
		Idle:     idle,
		InUse:    p.live - idle,
	}
}

// Close destroys idle contexts and marks the pool closed. Leased contexts
// are closed as they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case c := <-p.idle:
			p.destroy(c)
		default:
			return nil
		}
	}
}

// tryCreate makes a new context when the pool is under capacity. made is
// false when the pool is full and the caller should wait instead.
func (p *Pool) tryCreate(ctx context.Context) (c *Context, made bool, err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, false, ErrPoolClosed
	}
	if p.live >= p.cfg.PoolSize {
		p.mu.Unlock()
		return nil, false, nil
	}
	p.live++
	gen := p.gen
	p.mu.Unlock()

	loader, err := p.factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.live--
		p.mu.Unlock()
		return nil, false, err
	}
	return &Context{loader: loader, gen: gen}, true, nil
}

func (p *Pool) stale(c *Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return c.gen != p.gen
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) destroy(c *Context) {
	p.mu.Lock()
	p.live--
	p.mu.Unlock()
	if err := c.loader.Close(); err != nil {
		p.logger.Debug("browser: context close", "error", err)
	}
}
