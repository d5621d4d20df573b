package models

import "time"

// Product types as classified by the entitlement authority.
const (
	ProductTypeSubscription  = "subscription"
	ProductTypeCoinPack      = "coin_pack"
	ProductTypeStarterBundle = "starter_bundle"
)

// ValidationOutcome is the authority's verdict on a proof. One variant per
// call; ambiguity (transport errors and the like) is expressed as a
// ValidationFailure with RequiresRetry=true, never as a partial success.
type ValidationOutcome interface {
	validationOutcome()
}

// ValidationSuccess carries the grant the authority authorized. Exactly one
// of Subscription/CoinPack/Bundle is set, matching ProductType.
type ValidationSuccess struct {
	ProductType  string             `json:"product_type"`
	Subscription *SubscriptionGrant `json:"subscription,omitempty"`
	CoinPack     *CoinGrant         `json:"coin_pack,omitempty"`
	Bundle       *BundleGrant       `json:"bundle,omitempty"`
	AlreadyOwned bool               `json:"already_owned"`
	Environment  string             `json:"environment"`
}

// ValidationFailure is a rejected proof. RequiresRetry separates transient
// trouble (network, session, 5xx — recoverable via restore) from definitive
// rejection (bad proof, unknown product, revoked transaction).
type ValidationFailure struct {
	RequiresRetry bool   `json:"requires_retry"`
	Reason        string `json:"reason"`
}

func (ValidationSuccess) validationOutcome() {}
func (ValidationFailure) validationOutcome() {}

// SubscriptionGrant describes the premium tier the purchase unlocked.
type SubscriptionGrant struct {
	Tier        string     `json:"tier"`
	PlanID      string     `json:"plan_id"`
	ExpiresAt   *time.Time `json:"expires_at"`
	PurchasedAt *time.Time `json:"purchased_at,omitempty"`
}

// CoinGrant is a consumable currency grant.
type CoinGrant struct {
	Coins int `json:"coins_granted"`
}

// BundleGrant is a non-consumable unlock plus its bundled coins.
type BundleGrant struct {
	Contents []string `json:"contents"`
	Coins    int      `json:"coins_granted"`
}
