package main

import (
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"
)

func (app *application) routes() http.Handler {
	standardMiddleware := alice.New(app.recoverPanic, app.logRequest, secureHeaders, makeResponseJSON)
	authMiddleware := standardMiddleware.Append(app.sessionMiddleware)

	mux := pat.New()

	// Purchases
	mux.Post("/purchase", authMiddleware.ThenFunc(app.purchaseHandler.Purchase))
	mux.Post("/purchase/restore", authMiddleware.ThenFunc(app.purchaseHandler.Restore))
	mux.Get("/products", authMiddleware.ThenFunc(app.purchaseHandler.GetProducts))
	mux.Get("/entitlements", authMiddleware.ThenFunc(app.purchaseHandler.GetEntitlements))
	mux.Post("/subscriptions/manage", authMiddleware.ThenFunc(app.purchaseHandler.ManageSubscriptions))
	mux.Post("/availability/retry", authMiddleware.ThenFunc(app.purchaseHandler.RetryAvailability))

	// App lifecycle signals from the host shell
	mux.Post("/app/foreground", authMiddleware.ThenFunc(app.purchaseHandler.Foreground))
	mux.Post("/app/background", authMiddleware.ThenFunc(app.purchaseHandler.Background))

	// Fulfillment event feed for UI layers
	mux.Get("/ws/events", http.HandlerFunc(app.eventSockets.ServeWS))

	return mux
}
