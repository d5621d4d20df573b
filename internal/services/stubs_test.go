package services

import (
	"context"
	"sync"

	"purser/internal/models"
)

// stubGateway is an in-memory storefront bridge for tests.
type stubGateway struct {
	mu sync.Mutex

	products    []models.Product
	productErrs []error // consumed first, one per GetProducts call
	getCalls    int

	purchaseOutcome models.PurchaseOutcome
	purchaseErr     error
	purchaseGate    chan struct{} // when set, Purchase blocks until closed

	restored   []models.RestoredPurchase
	restoreErr error

	status    models.SubscriptionStatus
	statusErr error

	finished []string

	updateFn func(models.TransactionUpdate)
}

func (g *stubGateway) GetProducts(ctx context.Context, ids []string) ([]models.Product, error) {
	g.mu.Lock()
	g.getCalls++
	var err error
	if len(g.productErrs) > 0 {
		err = g.productErrs[0]
		g.productErrs = g.productErrs[1:]
	}
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return g.products, nil
}

func (g *stubGateway) Purchase(ctx context.Context, productID string) (models.PurchaseOutcome, error) {
	if g.purchaseGate != nil {
		<-g.purchaseGate
	}
	if g.purchaseErr != nil {
		return nil, g.purchaseErr
	}
	return g.purchaseOutcome, nil
}

func (g *stubGateway) RestorePurchases(ctx context.Context) ([]models.RestoredPurchase, error) {
	if g.restoreErr != nil {
		return nil, g.restoreErr
	}
	return g.restored, nil
}

func (g *stubGateway) GetSubscriptionStatus(ctx context.Context) (models.SubscriptionStatus, error) {
	if g.statusErr != nil {
		return models.SubscriptionStatus{}, g.statusErr
	}
	return g.status, nil
}

func (g *stubGateway) FinishTransaction(ctx context.Context, transactionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.finished = append(g.finished, transactionID)
	return nil
}

func (g *stubGateway) ManageSubscriptions(ctx context.Context) error { return nil }

type stubUpdateHandle struct{ removed bool }

func (h *stubUpdateHandle) Remove() { h.removed = true }

func (g *stubGateway) TransactionUpdates(fn func(models.TransactionUpdate)) (UpdateSubscription, error) {
	g.updateFn = fn
	return &stubUpdateHandle{}, nil
}

func (g *stubGateway) finishedCount(transactionID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, id := range g.finished {
		if id == transactionID {
			n++
		}
	}
	return n
}

// stubAuthority returns canned verdicts keyed by transaction id, with a
// default fallback.
type stubAuthority struct {
	verdicts map[string]models.ValidationOutcome
	fallback models.ValidationOutcome
	err      error
	calls    int
}

func (a *stubAuthority) Validate(ctx context.Context, proof models.Proof) (models.ValidationOutcome, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	if v, ok := a.verdicts[proof.TransactionID]; ok {
		return v, nil
	}
	return a.fallback, nil
}

// memStore is an in-memory entitlement snapshot store.
type memStore struct {
	mu      sync.Mutex
	snap    *models.EntitlementSnapshot
	saves   int
	clears  int
	saveErr error
}

func (s *memStore) Load(ctx context.Context) (models.EntitlementSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return models.EntitlementSnapshot{}, models.ErrNoSnapshot
	}
	return *s.snap, nil
}

func (s *memStore) Save(ctx context.Context, snap models.EntitlementSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.snap = &snap
	s.saves++
	return nil
}

func (s *memStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = nil
	s.clears++
	return nil
}

func (s *memStore) current() *models.EntitlementSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// memLedger is an in-memory grant ledger.
type memLedger struct {
	mu        sync.Mutex
	processed map[string]bool
}

func newMemLedger() *memLedger {
	return &memLedger{processed: make(map[string]bool)}
}

func (l *memLedger) IsProcessed(ctx context.Context, transactionID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processed[transactionID], nil
}

func (l *memLedger) Record(ctx context.Context, proof models.Proof, productType string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.processed[proof.TransactionID] = true
	return nil
}

func (l *memLedger) Remove(ctx context.Context, transactionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.processed, transactionID)
	return nil
}
