package models

import (
	"testing"
	"time"
)

func TestSnapshotNormalizedCollapsesExpiredTier(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name     string
		snap     EntitlementSnapshot
		wantTier string
	}{
		{"active paid", EntitlementSnapshot{Tier: "premium", ExpiresAt: &future, Validated: true}, "premium"},
		{"expired paid", EntitlementSnapshot{Tier: "premium", ExpiresAt: &past, Validated: true}, TierFree},
		{"paid without expiry", EntitlementSnapshot{Tier: "premium", Validated: true}, TierFree},
		{"free", FreeSnapshot(), TierFree},
		{"zero value", EntitlementSnapshot{}, TierFree},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.snap.Normalized(now)
			if got.Tier != tc.wantTier {
				t.Fatalf("tier %q, want %q", got.Tier, tc.wantTier)
			}
			if got.Tier == TierFree && got.ExpiresAt != nil {
				t.Fatal("free snapshot must carry no expiry")
			}
		})
	}
}

func TestSnapshotActive(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)

	if (EntitlementSnapshot{Tier: "premium", ExpiresAt: &future}).Active(now) != true {
		t.Fatal("unexpired paid tier should be active")
	}
	if (EntitlementSnapshot{Tier: TierFree, ExpiresAt: &future}).Active(now) {
		t.Fatal("free tier is never active")
	}
	if (EntitlementSnapshot{Tier: "premium", ExpiresAt: &now}).Active(now) {
		t.Fatal("expiry at exactly now is not active")
	}
}

func TestProofValidateRequiresEveryField(t *testing.T) {
	base := Proof{
		SignedTransaction: "jws",
		ProductID:         "premium.monthly",
		TransactionID:     "txn-1",
		Environment:       "production",
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("complete proof rejected: %v", err)
	}

	for name, mutate := range map[string]func(*Proof){
		"signed_transaction": func(p *Proof) { p.SignedTransaction = " " },
		"product_id":         func(p *Proof) { p.ProductID = "" },
		"transaction_id":     func(p *Proof) { p.TransactionID = "" },
		"environment":        func(p *Proof) { p.Environment = "" },
	} {
		p := base
		mutate(&p)
		if err := p.Validate(); err == nil {
			t.Errorf("proof missing %s passed validation", name)
		}
	}
}
