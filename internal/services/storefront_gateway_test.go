package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"purser/internal/models"
)

func bridgeServer(t *testing.T, handler http.HandlerFunc) *BridgeGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g, err := NewBridgeGateway(BridgeConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewBridgeGateway: %v", err)
	}
	return g
}

func TestBridgePurchaseOutcomeMapping(t *testing.T) {
	cases := []struct {
		name string
		body string
		want any
	}{
		{
			"success",
			`{"status":"success","transaction_id":"txn-1","product_id":"premium.monthly","signed_proof":"jws","environment":"production"}`,
			models.PurchaseSuccess{TransactionID: "txn-1", ProductID: "premium.monthly", SignedProof: "jws", Environment: "production"},
		},
		{"cancelled", `{"status":"cancelled"}`, models.PurchaseCancelled{}},
		{"pending", `{"status":"pending"}`, models.PurchasePending{}},
		{"failed", `{"status":"failed","reason":"card declined"}`, models.PurchaseFailed{Reason: "card declined"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := bridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/purchase" || r.Method != http.MethodPost {
					t.Errorf("got %s %s", r.Method, r.URL.Path)
				}
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tc.body))
			})
			outcome, err := g.Purchase(context.Background(), "premium.monthly")
			if err != nil {
				t.Fatalf("Purchase: %v", err)
			}
			if outcome != tc.want {
				t.Fatalf("got %#v, want %#v", outcome, tc.want)
			}
		})
	}
}

func TestBridgePurchaseUnknownStatus(t *testing.T) {
	g := bridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"exploded"}`))
	})
	if _, err := g.Purchase(context.Background(), "premium.monthly"); err == nil {
		t.Fatal("unknown status must be an error, not a silent outcome")
	}
}

func TestBridgeErrorCarriesStatus(t *testing.T) {
	g := bridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such product", http.StatusNotFound)
	})
	_, err := g.GetProducts(context.Background(), []string{"nope"})
	var bridgeErr *BridgeError
	if !errors.As(err, &bridgeErr) {
		t.Fatalf("got %v, want *BridgeError", err)
	}
	if bridgeErr.StatusCode != http.StatusNotFound {
		t.Fatalf("status code %d, want 404", bridgeErr.StatusCode)
	}
}

func TestBridgeFinishTransactionRequiresID(t *testing.T) {
	g := bridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("empty transaction id must not reach the bridge")
	})
	if err := g.FinishTransaction(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty transaction id")
	}
}
