package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"purser/internal/models"
	"purser/internal/services"
)

// PurchaseHandler exposes the entitlement engine to the host app's UI layer.
type PurchaseHandler struct {
	Orchestrator *services.PurchaseOrchestrator
	Reconciler   *services.Reconciler
	Prober       *services.CatalogProber
	Gateway      services.StorefrontGateway
	Store        services.EntitlementStore
}

func NewPurchaseHandler(orchestrator *services.PurchaseOrchestrator, reconciler *services.Reconciler, prober *services.CatalogProber, gateway services.StorefrontGateway, store services.EntitlementStore) *PurchaseHandler {
	return &PurchaseHandler{
		Orchestrator: orchestrator,
		Reconciler:   reconciler,
		Prober:       prober,
		Gateway:      gateway,
		Store:        store,
	}
}

// Purchase runs one purchase attempt for the requested product.
func (h *PurchaseHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID string `json:"product_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		http.Error(w, "product_id is required", http.StatusBadRequest)
		return
	}

	result, err := h.Orchestrator.Purchase(r.Context(), req.ProductID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrPurchasesUnavailable):
			http.Error(w, "purchases unavailable", http.StatusServiceUnavailable)
		case errors.Is(err, models.ErrPurchaseInFlight):
			http.Error(w, "a purchase is already in progress", http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	_ = json.NewEncoder(w).Encode(result)
}

// Restore replays prior purchases through validation.
func (h *PurchaseHandler) Restore(w http.ResponseWriter, r *http.Request) {
	result, err := h.Orchestrator.Restore(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, models.ErrPurchasesUnavailable):
			http.Error(w, "purchases unavailable", http.StatusServiceUnavailable)
		case errors.Is(err, models.ErrPurchaseInFlight):
			http.Error(w, "a purchase is already in progress", http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	_ = json.NewEncoder(w).Encode(result)
}

// GetProducts returns the storefront catalog for the shop screen.
func (h *PurchaseHandler) GetProducts(w http.ResponseWriter, r *http.Request) {
	if !h.Prober.IsAvailable() {
		http.Error(w, "purchases unavailable", http.StatusServiceUnavailable)
		return
	}
	products, err := h.Prober.Products(r.Context())
	if err != nil {
		http.Error(w, "load products: "+err.Error(), http.StatusBadGateway)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"products": products})
}

// GetEntitlements returns the current snapshot. This is the engine's own
// surface; economy subsystems keep consuming the broadcast instead.
func (h *PurchaseHandler) GetEntitlements(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Store.Load(r.Context())
	if err != nil {
		if errors.Is(err, models.ErrNoSnapshot) {
			_ = json.NewEncoder(w).Encode(models.FreeSnapshot())
			return
		}
		http.Error(w, "load entitlements: "+err.Error(), http.StatusInternalServerError)
		return
	}
	// An expired paid tier reads as free; the reconciler rewrites the record
	// on its next pass.
	_ = json.NewEncoder(w).Encode(snap.Normalized(time.Now()))
}

// ManageSubscriptions opens the platform's native management UI.
func (h *PurchaseHandler) ManageSubscriptions(w http.ResponseWriter, r *http.Request) {
	if err := h.Gateway.ManageSubscriptions(r.Context()); err != nil {
		http.Error(w, "manage subscriptions: "+err.Error(), http.StatusBadGateway)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Foreground is called by the host shell when the app becomes visible; it
// triggers an immediate reconciliation.
func (h *PurchaseHandler) Foreground(w http.ResponseWriter, r *http.Request) {
	h.Reconciler.OnForeground()
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Background suspends periodic reconciliation.
func (h *PurchaseHandler) Background(w http.ResponseWriter, r *http.Request) {
	h.Reconciler.OnBackground()
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// RetryAvailability re-probes an unavailable bridge on user demand.
func (h *PurchaseHandler) RetryAvailability(w http.ResponseWriter, r *http.Request) {
	h.Prober.Retry(r.Context())
	resp := map[string]any{"available": h.Prober.IsAvailable()}
	if err := h.Prober.LastError(); err != nil {
		resp["last_error"] = err.Error()
	}
	_ = json.NewEncoder(w).Encode(resp)
}
