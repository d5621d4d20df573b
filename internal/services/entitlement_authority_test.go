package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"purser/internal/models"
)

func testAuthority(t *testing.T, baseURL string) *AuthorityClient {
	t.Helper()
	c, err := NewAuthorityClient(AuthorityConfig{
		BaseURL:    baseURL,
		SigningKey: "test-signing-key",
		UserID:     "user-1",
	})
	if err != nil {
		t.Fatalf("NewAuthorityClient: %v", err)
	}
	return c
}

func validProof() models.Proof {
	return models.Proof{
		SignedTransaction: "jws",
		ProductID:         "premium.monthly",
		TransactionID:     "txn-1",
		Environment:       "production",
	}
}

func TestAuthorityValidateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/iap/validate" {
			t.Errorf("got path %s", r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Error("missing bearer token")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"product_type":"coin_pack","coin_pack":{"coins_granted":5000}}`))
	}))
	defer srv.Close()

	c := testAuthority(t, srv.URL)
	verdict, err := c.Validate(context.Background(), validProof())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	grant, ok := verdict.(models.ValidationSuccess)
	if !ok {
		t.Fatalf("got %T, want ValidationSuccess", verdict)
	}
	if grant.ProductType != models.ProductTypeCoinPack || grant.CoinPack == nil || grant.CoinPack.Coins != 5000 {
		t.Fatalf("bad grant: %+v", grant)
	}
}

func TestAuthorityValidateServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "db down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testAuthority(t, srv.URL)
	verdict, err := c.Validate(context.Background(), validProof())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	failure, ok := verdict.(models.ValidationFailure)
	if !ok || !failure.RequiresRetry {
		t.Fatalf("got %+v, want retryable failure", verdict)
	}
}

func TestAuthorityValidateClientErrorIsDefinitive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad proof", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := testAuthority(t, srv.URL)
	verdict, err := c.Validate(context.Background(), validProof())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	failure, ok := verdict.(models.ValidationFailure)
	if !ok || failure.RequiresRetry {
		t.Fatalf("got %+v, want definitive failure", verdict)
	}
}

func TestAuthorityValidateTransportErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c := testAuthority(t, srv.URL)
	verdict, err := c.Validate(context.Background(), validProof())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	failure, ok := verdict.(models.ValidationFailure)
	if !ok || !failure.RequiresRetry {
		t.Fatalf("got %+v, want retryable failure", verdict)
	}
}

func TestAuthorityValidateIncompleteProofNeverSent(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := testAuthority(t, srv.URL)
	proof := validProof()
	proof.SignedTransaction = ""
	verdict, err := c.Validate(context.Background(), proof)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	failure, ok := verdict.(models.ValidationFailure)
	if !ok || failure.RequiresRetry {
		t.Fatalf("got %+v, want definitive failure", verdict)
	}
	if called {
		t.Fatal("incomplete proof must never reach the authority")
	}
}

func TestAuthorityValidateRequiresSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("anonymous validation must not reach the authority")
	}))
	defer srv.Close()

	c, err := NewAuthorityClient(AuthorityConfig{
		BaseURL:    srv.URL,
		SigningKey: "test-signing-key",
	})
	if err != nil {
		t.Fatalf("NewAuthorityClient: %v", err)
	}
	verdict, err := c.Validate(context.Background(), validProof())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if failure, ok := verdict.(models.ValidationFailure); !ok || failure.RequiresRetry {
		t.Fatalf("got %+v, want definitive failure", verdict)
	}
}
