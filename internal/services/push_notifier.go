package services

import (
	"context"
	"log/slog"
	"time"

	"firebase.google.com/go/messaging"

	"purser/internal/events"
	"purser/internal/models"
)

// PushNotifier tells the user about entitlement changes that land while the
// app may be backgrounded — typically a pending purchase resolved later by
// the transaction-update signal. Optional: without FCM credentials the
// engine runs without it.
type PushNotifier struct {
	Client      *messaging.Client
	DeviceToken string
	Logger      *slog.Logger

	unsubscribe func()
}

func NewPushNotifier(client *messaging.Client, deviceToken string, logger *slog.Logger) *PushNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushNotifier{Client: client, DeviceToken: deviceToken, Logger: logger}
}

// Attach subscribes to tier changes. Only upgrades notify; dropping to free
// stays silent (the UI reacts to the broadcast).
func (n *PushNotifier) Attach(bus *events.Bus) {
	n.unsubscribe = bus.SubscribeSubscriptionChanged(func(ev events.SubscriptionChanged) {
		if ev.Tier == models.TierFree {
			return
		}
		n.send("Purchase complete", "Your subscription is now active.")
	})
}

func (n *PushNotifier) Detach() {
	if n.unsubscribe != nil {
		n.unsubscribe()
		n.unsubscribe = nil
	}
}

func (n *PushNotifier) send(title, body string) {
	if n.Client == nil || n.DeviceToken == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	message := &messaging.Message{
		Token: n.DeviceToken,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority": "10",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: title,
						Body:  body,
					},
					Sound: "default",
				},
			},
		},
	}

	if _, err := n.Client.Send(ctx, message); err != nil {
		n.Logger.Warn("push notification failed", "err", err)
	}
}
