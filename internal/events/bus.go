// Package events is the typed fulfillment bus. Economy and UI subsystems
// learn about grants only through these topics; nothing polls the
// entitlement cache directly.
package events

import "sync"

// SubscriptionChanged is published whenever the entitlement snapshot is
// overwritten or cleared. Tier is "free" when no subscription is active.
type SubscriptionChanged struct {
	Tier string
}

// CoinsGranted is published exactly once per validated consumable grant.
type CoinsGranted struct {
	Amount int
}

// BundleGranted is published when a starter bundle's contents must be
// (re)applied on this device.
type BundleGranted struct {
	Contents []string
}

// Bus broadcasts fulfillment events to registered subscribers. Delivery is
// synchronous and in subscription order; subscribers must not block.
type Bus struct {
	mu         sync.RWMutex
	nextID     int
	subChanged map[int]func(SubscriptionChanged)
	coins      map[int]func(CoinsGranted)
	bundles    map[int]func(BundleGranted)
}

func NewBus() *Bus {
	return &Bus{
		subChanged: make(map[int]func(SubscriptionChanged)),
		coins:      make(map[int]func(CoinsGranted)),
		bundles:    make(map[int]func(BundleGranted)),
	}
}

// SubscribeSubscriptionChanged registers a callback and returns an
// unsubscribe func.
func (b *Bus) SubscribeSubscriptionChanged(fn func(SubscriptionChanged)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subChanged[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subChanged, id)
	}
}

func (b *Bus) SubscribeCoinsGranted(fn func(CoinsGranted)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.coins[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.coins, id)
	}
}

func (b *Bus) SubscribeBundleGranted(fn func(BundleGranted)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.bundles[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.bundles, id)
	}
}

// PublishSubscriptionChanged notifies all tier observers.
func (b *Bus) PublishSubscriptionChanged(ev SubscriptionChanged) {
	for _, fn := range b.snapshotSubChanged() {
		fn(ev)
	}
}

func (b *Bus) PublishCoinsGranted(ev CoinsGranted) {
	b.mu.RLock()
	fns := make([]func(CoinsGranted), 0, len(b.coins))
	for _, fn := range b.coins {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (b *Bus) PublishBundleGranted(ev BundleGranted) {
	b.mu.RLock()
	fns := make([]func(BundleGranted), 0, len(b.bundles))
	for _, fn := range b.bundles {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (b *Bus) snapshotSubChanged() []func(SubscriptionChanged) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fns := make([]func(SubscriptionChanged), 0, len(b.subChanged))
	for _, fn := range b.subChanged {
		fns = append(fns, fn)
	}
	return fns
}
