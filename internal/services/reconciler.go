package services

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"purser/internal/config"
	"purser/internal/events"
	"purser/internal/models"
)

const (
	reconcileInterval   = 2 * time.Minute
	reconcileRunTimeout = 30 * time.Second
)

type ReconcilerConfig struct {
	// Interval between periodic refreshes while foregrounded.
	Interval   time.Duration
	RunTimeout time.Duration

	// Products maps storefront ids to the entitlement they carry; a status
	// record whose product is not a configured subscription never wins the
	// cache.
	Products map[string]config.ProductTarget
}

// Reconciler keeps the entitlement snapshot converged with the storefront's
// subscription status. Three triggers share one idempotent refresh routine:
// a periodic ticker (skipped while backgrounded), a foreground-return
// transition, and the bridge's transaction-update signal.
type Reconciler struct {
	Gateway StorefrontGateway
	Store   EntitlementStore
	Bus     *events.Bus
	Logger  *slog.Logger
	Now     func() time.Time

	cfg ReconcilerConfig

	foreground atomic.Bool
	alive      atomic.Bool
	kick       chan struct{}
	cancel     context.CancelFunc
	updates    UpdateSubscription
}

func NewReconciler(gateway StorefrontGateway, store EntitlementStore, bus *events.Bus, cfg ReconcilerConfig, logger *slog.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = reconcileInterval
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = reconcileRunTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		Gateway: gateway,
		Store:   store,
		Bus:     bus,
		Logger:  logger,
		cfg:     cfg,
		kick:    make(chan struct{}, 1),
	}
	r.foreground.Store(true)
	return r
}

// Start launches the periodic loop and hooks the transaction-update stream.
func (r *Reconciler) Start(ctx context.Context) {
	if !r.alive.CompareAndSwap(false, true) {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	sub, err := r.Gateway.TransactionUpdates(func(update models.TransactionUpdate) {
		if !r.alive.Load() {
			return
		}
		r.Logger.Info("transaction update received", "transaction_id", update.TransactionID, "state", update.State)
		r.requestRefresh()
	})
	if err != nil {
		// The periodic ticker still converges the cache without the push
		// signal.
		r.Logger.Warn("transaction update stream unavailable", "err", err)
	} else {
		r.updates = sub
	}

	go func() {
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()

		r.runOnce(runCtx)

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if !r.foreground.Load() {
					continue
				}
				r.runOnce(runCtx)
			case <-r.kick:
				r.runOnce(runCtx)
			}
		}
	}()
}

// Stop releases the ticker and the update subscription. No state is mutated
// afterwards.
func (r *Reconciler) Stop() {
	if !r.alive.CompareAndSwap(true, false) {
		return
	}
	if r.updates != nil {
		r.updates.Remove()
	}
	if r.cancel != nil {
		r.cancel()
	}
}

// OnForeground marks the app visible again and refreshes immediately.
func (r *Reconciler) OnForeground() {
	r.foreground.Store(true)
	r.requestRefresh()
}

// OnBackground suspends periodic refreshes until the app returns.
func (r *Reconciler) OnBackground() {
	r.foreground.Store(false)
}

func (r *Reconciler) requestRefresh() {
	if !r.alive.Load() {
		return
	}
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

func (r *Reconciler) runOnce(ctx context.Context) {
	if !r.alive.Load() {
		return
	}
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.RunTimeout)
	defer cancel()
	if err := r.Refresh(runCtx); err != nil {
		r.Logger.Error("subscription refresh failed", "err", err)
	}
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Refresh queries the storefront's subscription status and converges the
// snapshot: the authoritative active record overwrites it, no record clears
// it. SubscriptionChanged is published only when the normalized tier
// actually changed; a refresh that confirms the cached tier stays silent, so
// the three triggers can share this routine without re-announcing grants.
// Safe to run concurrently with a purchase attempt — both write whole
// records derived from the same authority.
func (r *Reconciler) Refresh(ctx context.Context) error {
	if !r.alive.Load() {
		return nil
	}
	status, err := r.Gateway.GetSubscriptionStatus(ctx)
	if err != nil {
		return err
	}
	now := r.now()

	record, target := r.pickAuthoritative(status, now)

	previous, err := r.Store.Load(ctx)
	if err != nil && !errors.Is(err, models.ErrNoSnapshot) {
		return err
	}
	previousTier := previous.Normalized(now).Tier
	if previousTier == "" {
		previousTier = models.TierFree
	}

	if !r.alive.Load() {
		return nil
	}

	if record == nil {
		if err := r.Store.Clear(ctx); err != nil {
			return err
		}
		if previousTier != models.TierFree {
			r.Bus.PublishSubscriptionChanged(events.SubscriptionChanged{Tier: models.TierFree})
		}
		return nil
	}

	snap := models.EntitlementSnapshot{
		Tier:        target.Tier,
		ExpiresAt:   record.ExpiresAt,
		PurchasedAt: record.PurchasedAt,
		PlanID:      target.PlanID,
		Validated:   true,
		Environment: record.Environment,
	}
	if err := r.Store.Save(ctx, snap); err != nil {
		return err
	}
	if previousTier != snap.Tier {
		r.Bus.PublishSubscriptionChanged(events.SubscriptionChanged{Tier: snap.Tier})
	}
	return nil
}

// pickAuthoritative selects the record that owns the cache: entries reported
// as active subscriptions beat merely-purchased ones; among candidates the
// later purchase date wins. Non-subscription products never qualify, and
// neither does any record without a future expiry — a paid tier is only ever
// persisted alongside an unexpired ExpiresAt.
func (r *Reconciler) pickAuthoritative(status models.SubscriptionStatus, now time.Time) (*models.StatusRecord, config.ProductTarget) {
	pick := func(records []models.StatusRecord) (*models.StatusRecord, config.ProductTarget) {
		var (
			best       *models.StatusRecord
			bestTarget config.ProductTarget
		)
		for i := range records {
			rec := records[i]
			target, ok := r.cfg.Products[rec.ProductID]
			if !ok || target.Kind != models.ProductKindSubscription {
				continue
			}
			if rec.ExpiresAt == nil || !rec.ExpiresAt.After(now) {
				continue
			}
			if best == nil || laterPurchase(rec, *best) {
				cp := rec
				best = &cp
				bestTarget = target
			}
		}
		return best, bestTarget
	}

	if rec, target := pick(status.ActiveSubscriptions); rec != nil {
		return rec, target
	}
	return pick(status.PurchasedProducts)
}

func laterPurchase(a, b models.StatusRecord) bool {
	if a.PurchasedAt == nil {
		return false
	}
	if b.PurchasedAt == nil {
		return true
	}
	return a.PurchasedAt.After(*b.PurchasedAt)
}
