package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"purser/internal/models"
)

func TestCatalogProberRetriesWithBackoff(t *testing.T) {
	gw := &stubGateway{
		products: []models.Product{{ID: "premium.monthly"}},
		productErrs: []error{
			errors.New("bridge not ready"),
			errors.New("bridge not ready"),
		},
	}

	var sleeps []time.Duration
	p := NewCatalogProber(gw, ProberConfig{
		ProductIDs: []string{"premium.monthly"},
		BaseDelay:  2 * time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		},
	})

	if p.IsAvailable() {
		t.Fatal("prober reported available before Init")
	}

	p.Init(context.Background())

	if !p.IsAvailable() {
		t.Fatalf("prober not available after successful probe: %v", p.LastError())
	}
	if gw.getCalls != 3 {
		t.Fatalf("got %d catalog calls, want 3", gw.getCalls)
	}
	if len(sleeps) != 2 {
		t.Fatalf("got %d sleeps, want 2: %v", len(sleeps), sleeps)
	}
	// Base delay doubles per retry, plus up to 10% jitter.
	if sleeps[0] < 2*time.Second || sleeps[0] > 2200*time.Millisecond {
		t.Errorf("first delay %v outside [2s, 2.2s]", sleeps[0])
	}
	if sleeps[1] < 4*time.Second || sleeps[1] > 4400*time.Millisecond {
		t.Errorf("second delay %v outside [4s, 4.4s]", sleeps[1])
	}
}

func TestCatalogProberGivesUpAfterMaxRetries(t *testing.T) {
	gw := &stubGateway{
		productErrs: []error{
			errors.New("down"), errors.New("down"),
			errors.New("down"), errors.New("down"),
			errors.New("down"), errors.New("down"),
		},
	}
	p := NewCatalogProber(gw, ProberConfig{
		BaseDelay: time.Millisecond,
		Sleep:     func(ctx context.Context, d time.Duration) error { return nil },
	})

	p.Init(context.Background())

	if p.IsAvailable() {
		t.Fatal("prober reported available after exhausting retries")
	}
	if p.LastError() == nil {
		t.Fatal("expected LastError to be set")
	}
	if gw.getCalls != 1+proberMaxRetries {
		t.Fatalf("got %d catalog calls, want %d", gw.getCalls, 1+proberMaxRetries)
	}

	// A later Retry re-probes and can recover.
	gw.mu.Lock()
	gw.productErrs = nil
	gw.products = []models.Product{{ID: "coins.mega"}}
	gw.mu.Unlock()

	p.Retry(context.Background())
	if !p.IsAvailable() {
		t.Fatal("prober did not recover on Retry")
	}
}

func TestCatalogProberInitRunsOnce(t *testing.T) {
	gw := &stubGateway{products: []models.Product{{ID: "premium.monthly"}}}
	p := NewCatalogProber(gw, ProberConfig{
		Sleep: func(ctx context.Context, d time.Duration) error { return nil },
	})

	p.Init(context.Background())
	p.Init(context.Background())
	p.Retry(context.Background())

	if gw.getCalls != 1 {
		t.Fatalf("got %d catalog calls, want 1", gw.getCalls)
	}
}

func TestCatalogProberEmbeddedBridgeAvailableDespiteEmptyCatalog(t *testing.T) {
	gw := &stubGateway{
		productErrs: []error{
			errors.New("no products registered"),
			errors.New("no products registered"),
			errors.New("no products registered"),
			errors.New("no products registered"),
		},
	}
	p := NewCatalogProber(gw, ProberConfig{
		Embedded:  true,
		BaseDelay: time.Millisecond,
		Sleep:     func(ctx context.Context, d time.Duration) error { return nil },
	})

	p.Init(context.Background())

	if !p.IsAvailable() {
		t.Fatal("embedded bridge must report available even without a catalog")
	}
	if p.LastError() == nil {
		t.Fatal("catalog error should still be surfaced via LastError")
	}
}
