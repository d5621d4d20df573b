package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/exp/rand"

	"purser/internal/models"
)

const (
	proberMaxRetries = 3
	proberBaseDelay  = 2 * time.Second
)

type ProberConfig struct {
	ProductIDs []string

	// Embedded bridges are invocable by construction; they are reported
	// available even when no products come back.
	Embedded bool

	// BaseDelay is doubled before each retry (~2s, ~4s, ~8s). Tests inject
	// a small value and a recording Sleep.
	BaseDelay time.Duration
	Sleep     func(ctx context.Context, d time.Duration) error

	Logger *slog.Logger
}

// CatalogProber decides whether the storefront bridge is reachable by
// loading the product catalog with bounded retry. Availability latches: once
// verified, later catalog failures are treated as transient configuration
// issues, not bridge loss.
type CatalogProber struct {
	gateway StorefrontGateway
	cfg     ProberConfig

	// Availability lives in a plain mutex-guarded holder so callbacks read
	// it without re-triggering initialization.
	mu        sync.Mutex
	available bool
	verified  bool
	probing   bool
	lastErr   error
	products  []models.Product

	initOnce sync.Once
}

func NewCatalogProber(gateway StorefrontGateway, cfg ProberConfig) *CatalogProber {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = proberBaseDelay
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepWithContext
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CatalogProber{gateway: gateway, cfg: cfg}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Init runs the first probe exactly once. Safe to call from every entry
// point; concurrent and repeated calls never re-enter the probe loop.
func (p *CatalogProber) Init(ctx context.Context) {
	p.initOnce.Do(func() {
		p.probe(ctx)
	})
}

// IsAvailable reports the latched bridge availability.
func (p *CatalogProber) IsAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

// LastError returns the most recent probe or catalog error.
func (p *CatalogProber) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Products returns the cached catalog, refreshing it when empty. A refresh
// failure after verification never flips availability.
func (p *CatalogProber) Products(ctx context.Context) ([]models.Product, error) {
	p.Init(ctx)

	p.mu.Lock()
	cached := p.products
	p.mu.Unlock()
	if len(cached) > 0 {
		return cached, nil
	}

	products, err := p.gateway.GetProducts(ctx, p.cfg.ProductIDs)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.lastErr = err
		return nil, err
	}
	p.products = products
	return products, nil
}

// Retry re-probes an unavailable bridge on demand (e.g. user pulled to
// refresh the shop). A verified bridge stays verified.
func (p *CatalogProber) Retry(ctx context.Context) {
	p.Init(ctx)
	p.mu.Lock()
	if p.verified || p.probing {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.probe(ctx)
}

func (p *CatalogProber) probe(ctx context.Context) {
	p.mu.Lock()
	if p.probing {
		p.mu.Unlock()
		return
	}
	p.probing = true
	if p.cfg.Embedded {
		// The bridge ships inside the binary on this platform: reachable by
		// definition, whether or not products are registered yet.
		p.available = true
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.probing = false
		p.mu.Unlock()
	}()

	delay := p.cfg.BaseDelay
	for attempt := 0; ; attempt++ {
		products, err := p.gateway.GetProducts(ctx, p.cfg.ProductIDs)
		if err == nil {
			p.mu.Lock()
			p.available = true
			p.verified = true
			p.lastErr = nil
			p.products = products
			p.mu.Unlock()
			return
		}

		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		p.cfg.Logger.Warn("catalog probe failed", "attempt", attempt+1, "err", err)

		if attempt >= proberMaxRetries {
			return
		}
		if err := p.cfg.Sleep(ctx, jitter(delay)); err != nil {
			return
		}
		delay *= 2
	}
}

// jitter spreads retries by up to 10% so concurrent embedders don't probe in
// lockstep.
func jitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d)/10+1))
}
