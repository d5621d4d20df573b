package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"purser/internal/events"
	"purser/internal/fsm"
	"purser/internal/models"
)

// EntitlementStore persists the entitlement snapshot. The orchestrator and
// the reconciler are its only writers.
type EntitlementStore interface {
	Load(ctx context.Context) (models.EntitlementSnapshot, error)
	Save(ctx context.Context, snap models.EntitlementSnapshot) error
	Clear(ctx context.Context) error
}

// Ledger tracks fulfilled transaction ids for at-most-once grants.
type Ledger interface {
	IsProcessed(ctx context.Context, transactionID string) (bool, error)
	Record(ctx context.Context, proof models.Proof, productType string) error
	Remove(ctx context.Context, transactionID string) error
}

// ReceiptArchiver stores raw signed proofs for audit. Best-effort; failures
// never affect the purchase outcome.
type ReceiptArchiver interface {
	Archive(ctx context.Context, proof models.Proof) error
}

// User-facing notices for terminal purchase states. Cancelled is silent.
const (
	NoticePending             = "Your purchase is awaiting approval. It will be applied automatically once confirmed."
	NoticeFailed              = "The purchase could not be completed. Please try again."
	NoticeValidationTransient = "We could not verify your purchase right now. Nothing was charged twice — use Restore Purchases or try again later."
	NoticeValidationRejected  = "This purchase could not be verified. Please contact support."
	NoticeGranted             = "Purchase complete. Enjoy!"
	NoticeRestoreNothing      = "No previous purchases were found for this account."
	NoticeRestoreFailed       = "Your previous purchases could not be verified. Please try again later."
	NoticeRestored            = "Your purchases have been restored."
)

// Purchase attempt result statuses.
const (
	PurchaseStatusGranted   = "granted"
	PurchaseStatusCancelled = "cancelled"
	PurchaseStatusPending   = "pending"
	PurchaseStatusRejected  = "rejected"
)

// PurchaseResult is what the embedding surface shows the user.
type PurchaseResult struct {
	Status        string `json:"status"`
	Notice        string `json:"notice,omitempty"`
	ProductType   string `json:"product_type,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// Restore flow statuses.
const (
	RestoreStatusNothing  = "nothing_to_restore"
	RestoreStatusFailed   = "verification_failed"
	RestoreStatusRestored = "restored"
)

type RestoreResult struct {
	Status    string `json:"status"`
	Validated int    `json:"validated"`
	Notice    string `json:"notice"`
}

// PurchaseOrchestrator drives one purchase attempt through
// request -> validate -> fulfill -> finish, failing closed at every
// ambiguity: if it cannot prove a grant is owed, it grants nothing and
// leaves the platform transaction unfinished so the storefront redelivers.
type PurchaseOrchestrator struct {
	Gateway   StorefrontGateway
	Authority EntitlementAuthority
	Store     EntitlementStore
	Ledger    Ledger
	Bus       *events.Bus
	Prober    *CatalogProber
	Archive   ReceiptArchiver // optional
	Logger    *slog.Logger

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time

	mu     sync.Mutex
	state  string
	busy   bool
	closed atomic.Bool
}

func (o *PurchaseOrchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *PurchaseOrchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// State returns the current attempt status for diagnostics.
func (o *PurchaseOrchestrator) State() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == "" {
		return fsm.StatusIdle
	}
	return o.state
}

// Close marks the orchestrator dead. Any continuation observing the flag
// stops before mutating state.
func (o *PurchaseOrchestrator) Close() {
	o.closed.Store(true)
}

func (o *PurchaseOrchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy {
		return models.ErrPurchaseInFlight
	}
	o.busy = true
	o.state = fsm.StatusIdle
	return nil
}

func (o *PurchaseOrchestrator) end() {
	o.mu.Lock()
	o.busy = false
	o.state = fsm.StatusIdle
	o.mu.Unlock()
}

func (o *PurchaseOrchestrator) transition(to string) error {
	if o.closed.Load() {
		return models.ErrOrchestratorClosed
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	next, err := fsm.Transition(o.state, to)
	if err != nil {
		return err
	}
	o.state = next
	return nil
}

// Purchase runs a single attempt for productID. A second call while one is
// in flight is rejected immediately as busy, never queued.
func (o *PurchaseOrchestrator) Purchase(ctx context.Context, productID string) (PurchaseResult, error) {
	if o.closed.Load() {
		return PurchaseResult{}, models.ErrOrchestratorClosed
	}
	// Entry guard: an unreachable bridge rejects without touching attempt
	// state.
	if o.Prober != nil && !o.Prober.IsAvailable() {
		return PurchaseResult{}, models.ErrPurchasesUnavailable
	}
	if err := o.begin(); err != nil {
		return PurchaseResult{}, err
	}
	defer o.end()

	if err := o.transition(fsm.StatusRequesting); err != nil {
		return PurchaseResult{}, err
	}
	if err := o.transition(fsm.StatusAwaitingPlatform); err != nil {
		return PurchaseResult{}, err
	}

	// Suspends until the platform returns a terminal outcome. Once issued
	// the call cannot be cancelled.
	outcome, err := o.Gateway.Purchase(ctx, productID)
	if err != nil {
		o.logger().Error("platform purchase failed", "product_id", productID, "err", err)
		_ = o.transition(fsm.StatusRejected)
		return PurchaseResult{Status: PurchaseStatusRejected, Notice: NoticeFailed}, nil
	}

	switch out := outcome.(type) {
	case models.PurchaseCancelled:
		_ = o.transition(fsm.StatusIdle)
		return PurchaseResult{Status: PurchaseStatusCancelled}, nil
	case models.PurchasePending:
		_ = o.transition(fsm.StatusIdle)
		return PurchaseResult{Status: PurchaseStatusPending, Notice: NoticePending}, nil
	case models.PurchaseFailed:
		_ = o.transition(fsm.StatusRejected)
		o.logger().Warn("purchase failed on platform", "product_id", productID, "reason", out.Reason)
		return PurchaseResult{Status: PurchaseStatusRejected, Notice: NoticeFailed}, nil
	case models.PurchaseSuccess:
		return o.validateAndFulfill(ctx, out)
	default:
		_ = o.transition(fsm.StatusRejected)
		return PurchaseResult{}, fmt.Errorf("unknown purchase outcome %T", outcome)
	}
}

func (o *PurchaseOrchestrator) validateAndFulfill(ctx context.Context, success models.PurchaseSuccess) (PurchaseResult, error) {
	if err := o.transition(fsm.StatusValidating); err != nil {
		return PurchaseResult{}, err
	}
	proof := models.ProofFromPurchase(success)

	verdict, err := o.Authority.Validate(ctx, proof)
	if err != nil {
		// Couldn't even ask: fail closed, leave the transaction unfinished
		// so it is redelivered or recoverable via restore.
		o.logger().Error("authority unreachable", "transaction_id", proof.TransactionID, "err", err)
		_ = o.transition(fsm.StatusRejected)
		return PurchaseResult{Status: PurchaseStatusRejected, Notice: NoticeValidationTransient}, nil
	}

	switch v := verdict.(type) {
	case models.ValidationFailure:
		_ = o.transition(fsm.StatusRejected)
		notice := NoticeValidationRejected
		if v.RequiresRetry {
			notice = NoticeValidationTransient
		}
		o.logger().Warn("validation rejected",
			"transaction_id", proof.TransactionID,
			"requires_retry", v.RequiresRetry,
			"reason", v.Reason)
		return PurchaseResult{Status: PurchaseStatusRejected, Notice: notice}, nil
	case models.ValidationSuccess:
		return o.fulfill(ctx, proof, v, false)
	default:
		_ = o.transition(fsm.StatusRejected)
		return PurchaseResult{}, fmt.Errorf("unknown validation outcome %T", verdict)
	}
}

// fulfill applies the validated grant. All fallible work (ledger, cache
// write) happens while still Validating; once in Fulfilling only broadcasts
// remain, so the attempt always reaches FinishingTransaction.
func (o *PurchaseOrchestrator) fulfill(ctx context.Context, proof models.Proof, grant models.ValidationSuccess, restored bool) (PurchaseResult, error) {
	processed, err := o.Ledger.IsProcessed(ctx, proof.TransactionID)
	if err != nil {
		o.logger().Error("ledger check failed", "transaction_id", proof.TransactionID, "err", err)
		_ = o.transition(fsm.StatusRejected)
		return PurchaseResult{Status: PurchaseStatusRejected, Notice: NoticeValidationTransient}, nil
	}
	if !processed {
		if err := o.Ledger.Record(ctx, proof, grant.ProductType); err != nil {
			o.logger().Error("ledger record failed", "transaction_id", proof.TransactionID, "err", err)
			_ = o.transition(fsm.StatusRejected)
			return PurchaseResult{Status: PurchaseStatusRejected, Notice: NoticeValidationTransient}, nil
		}
	}

	if grant.ProductType == models.ProductTypeSubscription && grant.Subscription != nil {
		snap := models.EntitlementSnapshot{
			Tier:        grant.Subscription.Tier,
			ExpiresAt:   grant.Subscription.ExpiresAt,
			PurchasedAt: grant.Subscription.PurchasedAt,
			PlanID:      grant.Subscription.PlanID,
			Validated:   true,
			Environment: grant.Environment,
		}
		if snap.PurchasedAt == nil {
			now := o.now()
			snap.PurchasedAt = &now
		}
		if err := o.Store.Save(ctx, snap); err != nil {
			o.logger().Error("snapshot write failed", "transaction_id", proof.TransactionID, "err", err)
			if !processed {
				if rbErr := o.Ledger.Remove(ctx, proof.TransactionID); rbErr != nil {
					o.logger().Error("ledger rollback failed", "transaction_id", proof.TransactionID, "err", rbErr)
				}
			}
			_ = o.transition(fsm.StatusRejected)
			return PurchaseResult{Status: PurchaseStatusRejected, Notice: NoticeValidationTransient}, nil
		}
	}

	if err := o.transition(fsm.StatusFulfilling); err != nil {
		return PurchaseResult{}, err
	}
	o.broadcast(grant, processed, restored)
	o.archiveReceipt(ctx, proof)

	if err := o.transition(fsm.StatusFinishingTransaction); err != nil {
		return PurchaseResult{}, err
	}
	o.finish(ctx, proof.TransactionID)
	_ = o.transition(fsm.StatusDone)

	return PurchaseResult{
		Status:        PurchaseStatusGranted,
		Notice:        NoticeGranted,
		ProductType:   grant.ProductType,
		TransactionID: proof.TransactionID,
	}, nil
}

// broadcast emits grant events. A transaction already in the ledger never
// re-grants; an alreadyOwned bundle re-broadcasts its contents only on
// restore (to replay unlocks on a new device).
func (o *PurchaseOrchestrator) broadcast(grant models.ValidationSuccess, processed, restored bool) {
	if o.closed.Load() {
		return
	}
	switch grant.ProductType {
	case models.ProductTypeSubscription:
		if grant.Subscription != nil {
			o.Bus.PublishSubscriptionChanged(events.SubscriptionChanged{Tier: grant.Subscription.Tier})
		}
	case models.ProductTypeCoinPack:
		if processed || grant.CoinPack == nil {
			return
		}
		o.Bus.PublishCoinsGranted(events.CoinsGranted{Amount: grant.CoinPack.Coins})
	case models.ProductTypeStarterBundle:
		if grant.Bundle == nil {
			return
		}
		if restored {
			// Contents must be replayed on a new device even when owned.
			o.Bus.PublishBundleGranted(events.BundleGranted{Contents: grant.Bundle.Contents})
			if !grant.AlreadyOwned && !processed {
				o.Bus.PublishCoinsGranted(events.CoinsGranted{Amount: grant.Bundle.Coins})
			}
			return
		}
		if grant.AlreadyOwned || processed {
			return
		}
		o.Bus.PublishCoinsGranted(events.CoinsGranted{Amount: grant.Bundle.Coins})
		o.Bus.PublishBundleGranted(events.BundleGranted{Contents: grant.Bundle.Contents})
	}
}

// finish acknowledges delivery. At-least-once: one retry, and a failure only
// logs — the grant is already applied and the ledger makes the eventual
// redelivery a no-op.
func (o *PurchaseOrchestrator) finish(ctx context.Context, transactionID string) {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = o.Gateway.FinishTransaction(ctx, transactionID); err == nil {
			return
		}
	}
	o.logger().Error("finish transaction failed, storefront will redeliver",
		"transaction_id", transactionID, "err", err)
}

func (o *PurchaseOrchestrator) archiveReceipt(ctx context.Context, proof models.Proof) {
	if o.Archive == nil {
		return
	}
	if err := o.Archive.Archive(ctx, proof); err != nil {
		o.logger().Warn("receipt archive failed", "transaction_id", proof.TransactionID, "err", err)
	}
}

// Restore replays previously purchased records through the same validation
// pipeline. Records are independent: one failure never short-circuits the
// rest.
func (o *PurchaseOrchestrator) Restore(ctx context.Context) (RestoreResult, error) {
	if o.closed.Load() {
		return RestoreResult{}, models.ErrOrchestratorClosed
	}
	if o.Prober != nil && !o.Prober.IsAvailable() {
		return RestoreResult{}, models.ErrPurchasesUnavailable
	}
	if err := o.begin(); err != nil {
		return RestoreResult{}, err
	}
	defer o.end()

	records, err := o.Gateway.RestorePurchases(ctx)
	if err != nil {
		o.logger().Error("restore purchases failed", "err", err)
		return RestoreResult{Status: RestoreStatusFailed, Notice: NoticeRestoreFailed}, nil
	}
	if len(records) == 0 {
		return RestoreResult{Status: RestoreStatusNothing, Notice: NoticeRestoreNothing}, nil
	}

	type subCandidate struct {
		grant       models.SubscriptionGrant
		environment string
		purchasedAt time.Time
	}
	var (
		validated int
		best      *subCandidate
	)
	now := o.now()

	for _, record := range records {
		proof := models.ProofFromPurchase(record.PurchaseSuccess)
		verdict, err := o.Authority.Validate(ctx, proof)
		if err != nil {
			o.logger().Error("restore validation failed", "transaction_id", proof.TransactionID, "err", err)
			continue
		}
		grant, ok := verdict.(models.ValidationSuccess)
		if !ok {
			if failure, isFailure := verdict.(models.ValidationFailure); isFailure {
				o.logger().Warn("restored record rejected",
					"transaction_id", proof.TransactionID, "reason", failure.Reason)
			}
			continue
		}
		validated++

		switch grant.ProductType {
		case models.ProductTypeSubscription:
			if grant.Subscription == nil {
				break
			}
			cand := subCandidate{grant: *grant.Subscription, environment: grant.Environment}
			if grant.Subscription.PurchasedAt != nil {
				cand.purchasedAt = *grant.Subscription.PurchasedAt
			} else if record.PurchasedAt != nil {
				cand.purchasedAt = *record.PurchasedAt
			}
			if best == nil || betterSubscription(cand.grant, cand.purchasedAt, best.grant, best.purchasedAt, now) {
				best = &cand
			}
		case models.ProductTypeStarterBundle:
			processed, err := o.Ledger.IsProcessed(ctx, proof.TransactionID)
			if err != nil {
				o.logger().Error("ledger check failed", "transaction_id", proof.TransactionID, "err", err)
				processed = true // fail closed on the coin grant
			} else if !processed {
				if err := o.Ledger.Record(ctx, proof, grant.ProductType); err != nil {
					o.logger().Error("ledger record failed", "transaction_id", proof.TransactionID, "err", err)
					processed = true
				}
			}
			o.broadcast(grant, processed, true)
		case models.ProductTypeCoinPack:
			// Consumables were spent at original grant time; never restored.
		}

		o.finish(ctx, proof.TransactionID)
	}

	if validated == 0 {
		return RestoreResult{Status: RestoreStatusFailed, Notice: NoticeRestoreFailed}, nil
	}

	if best != nil && !o.closed.Load() {
		snap := models.EntitlementSnapshot{
			Tier:        best.grant.Tier,
			ExpiresAt:   best.grant.ExpiresAt,
			PlanID:      best.grant.PlanID,
			Validated:   true,
			Environment: best.environment,
		}
		if !best.purchasedAt.IsZero() {
			t := best.purchasedAt
			snap.PurchasedAt = &t
		}
		if err := o.Store.Save(ctx, snap); err != nil {
			o.logger().Error("snapshot write failed on restore", "err", err)
		} else {
			o.Bus.PublishSubscriptionChanged(events.SubscriptionChanged{Tier: snap.Tier})
		}
	}

	return RestoreResult{Status: RestoreStatusRestored, Validated: validated, Notice: NoticeRestored}, nil
}

// betterSubscription decides which of two restored subscriptions wins the
// cache write: an active one beats an expired one, later purchase date
// breaks ties.
func betterSubscription(a models.SubscriptionGrant, aPurchased time.Time, b models.SubscriptionGrant, bPurchased time.Time, now time.Time) bool {
	aActive := a.ExpiresAt != nil && a.ExpiresAt.After(now)
	bActive := b.ExpiresAt != nil && b.ExpiresAt.After(now)
	if aActive != bActive {
		return aActive
	}
	return aPurchased.After(bPurchased)
}
