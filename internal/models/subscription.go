package models

import "time"

// StatusRecord is one entry of the storefront's subscription status
// response.
type StatusRecord struct {
	ProductID   string     `json:"product_id"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	PurchasedAt *time.Time `json:"purchased_at,omitempty"`
	Environment string     `json:"environment,omitempty"`
}

// SubscriptionStatus is the storefront's view of what the user owns.
// ActiveSubscriptions are currently renewing; PurchasedProducts include
// everything ever bought, subscriptions and one-offs alike.
type SubscriptionStatus struct {
	ActiveSubscriptions []StatusRecord `json:"active_subscriptions"`
	PurchasedProducts   []StatusRecord `json:"purchased_products"`
}

// TransactionUpdate is pushed by the storefront when a transaction changes
// outside a purchase attempt (deferred approval, renewal, refund).
type TransactionUpdate struct {
	TransactionID string `json:"transaction_id"`
	ProductID     string `json:"product_id,omitempty"`
	State         string `json:"state,omitempty"`
}
