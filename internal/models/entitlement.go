package models

import "time"

// TierFree is the entitlement tier of a user with no active subscription.
const TierFree = "free"

// EntitlementSnapshot is the locally persisted belief about the user's
// premium status. It is always written as a whole record, never field by
// field, and only by the purchase orchestrator and the reconciler.
// Invariant: Tier is "free" if and only if ExpiresAt is nil or in the past.
type EntitlementSnapshot struct {
	Tier        string     `json:"tier"`
	ExpiresAt   *time.Time `json:"expires_at"`
	PurchasedAt *time.Time `json:"purchased_at"`
	PlanID      string     `json:"plan_id,omitempty"`
	Validated   bool       `json:"validated"`
	Environment string     `json:"environment,omitempty"`
}

// FreeSnapshot is the record written when reconciliation finds no active
// subscription.
func FreeSnapshot() EntitlementSnapshot {
	return EntitlementSnapshot{Tier: TierFree, Validated: true}
}

// Active reports whether the snapshot grants a paid tier at the given time.
func (s EntitlementSnapshot) Active(now time.Time) bool {
	return s.Tier != "" && s.Tier != TierFree && s.ExpiresAt != nil && s.ExpiresAt.After(now)
}

// Normalized enforces the tier/expiry invariant: an expired or expiry-less
// paid tier collapses to free.
func (s EntitlementSnapshot) Normalized(now time.Time) EntitlementSnapshot {
	if s.Active(now) {
		return s
	}
	out := FreeSnapshot()
	out.Environment = s.Environment
	return out
}
