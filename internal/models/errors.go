package models

import (
	"errors"
)

// Engine error taxonomy. Every gateway or authority failure is normalized to
// one of these at the orchestrator boundary; nothing propagates unhandled.
var (
	// ErrPurchasesUnavailable: the storefront bridge never came up after the
	// bounded availability probes.
	ErrPurchasesUnavailable = errors.New("purchases unavailable")

	// ErrPurchaseInFlight: a second purchase was attempted while one is
	// already running on the same orchestrator. Rejected, never queued.
	ErrPurchaseInFlight = errors.New("purchase already in flight")

	// ErrOrchestratorClosed: the owning context was torn down; no state may
	// be mutated afterwards.
	ErrOrchestratorClosed = errors.New("orchestrator closed")

	// ErrNoSnapshot: no entitlement record exists under the well-known key.
	ErrNoSnapshot = errors.New("entitlement snapshot not found")
)
