package events

import "testing"

func TestBusDeliversTypedPayloads(t *testing.T) {
	bus := NewBus()

	var tiers []string
	bus.SubscribeSubscriptionChanged(func(ev SubscriptionChanged) {
		tiers = append(tiers, ev.Tier)
	})
	var coins int
	bus.SubscribeCoinsGranted(func(ev CoinsGranted) {
		coins += ev.Amount
	})
	var contents []string
	bus.SubscribeBundleGranted(func(ev BundleGranted) {
		contents = ev.Contents
	})

	bus.PublishSubscriptionChanged(SubscriptionChanged{Tier: "premium"})
	bus.PublishCoinsGranted(CoinsGranted{Amount: 5000})
	bus.PublishBundleGranted(BundleGranted{Contents: []string{"skin.gold", "booster.xp"}})

	if len(tiers) != 1 || tiers[0] != "premium" {
		t.Fatalf("expected one premium tier event, got %v", tiers)
	}
	if coins != 5000 {
		t.Fatalf("expected 5000 coins, got %d", coins)
	}
	if len(contents) != 2 {
		t.Fatalf("expected 2 bundle items, got %v", contents)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	calls := 0
	off := bus.SubscribeCoinsGranted(func(CoinsGranted) { calls++ })
	bus.PublishCoinsGranted(CoinsGranted{Amount: 1})
	off()
	bus.PublishCoinsGranted(CoinsGranted{Amount: 1})
	if calls != 1 {
		t.Fatalf("expected 1 delivery after unsubscribe, got %d", calls)
	}
}
