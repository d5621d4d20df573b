package models

import (
	"fmt"
	"strings"
	"time"
)

// PurchaseOutcome is the terminal result of a platform purchase call.
// Exactly one of the variants below is returned; callers switch on the
// concrete type instead of inspecting optional fields.
type PurchaseOutcome interface {
	purchaseOutcome()
}

// PurchaseSuccess carries everything needed to build a validation proof.
type PurchaseSuccess struct {
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id,omitempty"`
	ProductID             string `json:"product_id"`
	SignedProof           string `json:"signed_proof"`
	Environment           string `json:"environment"`
}

// PurchaseCancelled means the user backed out. Silent, not an error.
type PurchaseCancelled struct{}

// PurchasePending means the platform deferred the transaction (e.g. parental
// approval). No entitlement yet; resolution arrives via the
// transaction-update stream.
type PurchasePending struct{}

// PurchaseFailed is a platform-level failure the user may retry.
type PurchaseFailed struct {
	Reason string `json:"reason"`
}

func (PurchaseSuccess) purchaseOutcome()   {}
func (PurchaseCancelled) purchaseOutcome() {}
func (PurchasePending) purchaseOutcome()   {}
func (PurchaseFailed) purchaseOutcome()    {}

// RestoredPurchase is a previously purchased record replayed by the
// storefront. AlreadyProcessed is the platform's own idempotency hint.
type RestoredPurchase struct {
	PurchaseSuccess
	PurchasedAt      *time.Time `json:"purchased_at,omitempty"`
	AlreadyProcessed bool       `json:"already_processed"`
}

// Proof is the payload sent to the entitlement authority for verification.
type Proof struct {
	SignedTransaction     string `json:"signed_transaction"`
	ProductID             string `json:"product_id"`
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id,omitempty"`
	Environment           string `json:"environment"`
}

// Validate checks the fields the authority requires. A missing field is a
// definitive rejection: the proof must never be sent incomplete.
func (p Proof) Validate() error {
	if strings.TrimSpace(p.SignedTransaction) == "" {
		return fmt.Errorf("signed_transaction is required")
	}
	if strings.TrimSpace(p.ProductID) == "" {
		return fmt.Errorf("product_id is required")
	}
	if strings.TrimSpace(p.TransactionID) == "" {
		return fmt.Errorf("transaction_id is required")
	}
	if strings.TrimSpace(p.Environment) == "" {
		return fmt.Errorf("environment is required")
	}
	return nil
}

// ProofFromPurchase builds the authority proof from a successful platform
// purchase.
func ProofFromPurchase(s PurchaseSuccess) Proof {
	return Proof{
		SignedTransaction:     s.SignedProof,
		ProductID:             s.ProductID,
		TransactionID:         s.TransactionID,
		OriginalTransactionID: s.OriginalTransactionID,
		Environment:           s.Environment,
	}
}
