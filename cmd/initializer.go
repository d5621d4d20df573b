package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"

	firebase "firebase.google.com/go"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"purser/internal/config"
	"purser/internal/events"
	"purser/internal/handlers"
	"purser/internal/models"
	"purser/internal/repositories"
	"purser/internal/services"
	"purser/utils"
)

type application struct {
	errorLog *log.Logger
	infoLog  *log.Logger

	cfg config.Config

	bus          *events.Bus
	gateway      *services.BridgeGateway
	authority    *services.AuthorityClient
	prober       *services.CatalogProber
	orchestrator *services.PurchaseOrchestrator
	reconciler   *services.Reconciler
	pushNotifier *services.PushNotifier

	entitlementRepo *repositories.EntitlementRepository
	grantLedger     *repositories.GrantLedger

	purchaseHandler *handlers.PurchaseHandler
	eventSockets    *EventSocketManager
}

// receiptArchiver adapts the S3 archive to the orchestrator's interface.
type receiptArchiver struct {
	archive *utils.ReceiptArchive
}

func (a receiptArchiver) Archive(ctx context.Context, proof models.Proof) error {
	return a.archive.ArchiveJSON(ctx, proof.TransactionID, proof)
}

func initializeApp(cfg config.Config, db *sql.DB, rdb *redis.Client, errorLog, infoLog *log.Logger) (*application, error) {
	logger := slog.Default()

	// Repositories
	entitlementRepo := repositories.NewEntitlementRepository(rdb)
	grantLedger := repositories.NewGrantLedger(db)

	// External clients
	gateway, err := services.NewBridgeGateway(services.BridgeConfig{
		BaseURL: cfg.Bridge.BaseURL,
		WSURL:   cfg.Bridge.WSURL,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	authority, err := services.NewAuthorityClient(services.AuthorityConfig{
		BaseURL:    cfg.Authority.BaseURL,
		SigningKey: cfg.Authority.SigningKey,
		UserID:     cfg.Authority.UserID,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	// Services
	bus := events.NewBus()
	prober := services.NewCatalogProber(gateway, services.ProberConfig{
		ProductIDs: cfg.ProductIDs(),
		Embedded:   cfg.Bridge.Embedded,
		Logger:     logger,
	})
	orchestrator := &services.PurchaseOrchestrator{
		Gateway:   gateway,
		Authority: authority,
		Store:     entitlementRepo,
		Ledger:    grantLedger,
		Bus:       bus,
		Prober:    prober,
		Logger:    logger,
	}
	if cfg.Archive.Bucket != "" {
		archive, err := utils.NewReceiptArchive(utils.ReceiptArchiveConfig{
			Bucket:    cfg.Archive.Bucket,
			Region:    cfg.Archive.Region,
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
		})
		if err != nil {
			errorLog.Printf("receipt archive disabled: %v", err)
		} else {
			orchestrator.Archive = receiptArchiver{archive: archive}
		}
	}
	reconciler := services.NewReconciler(gateway, entitlementRepo, bus, services.ReconcilerConfig{
		Products: cfg.Products,
	}, logger)

	var pushNotifier *services.PushNotifier
	if cfg.Push.CredentialsFile != "" && cfg.Push.DeviceToken != "" {
		fbApp, err := firebase.NewApp(context.Background(), nil, option.WithCredentialsFile(cfg.Push.CredentialsFile))
		if err != nil {
			errorLog.Printf("push notifier disabled: %v", err)
		} else {
			client, err := fbApp.Messaging(context.Background())
			if err != nil {
				errorLog.Printf("push notifier disabled: %v", err)
			} else {
				pushNotifier = services.NewPushNotifier(client, cfg.Push.DeviceToken, logger)
			}
		}
	}

	// Handlers
	purchaseHandler := handlers.NewPurchaseHandler(orchestrator, reconciler, prober, gateway, entitlementRepo)

	return &application{
		errorLog:        errorLog,
		infoLog:         infoLog,
		cfg:             cfg,
		bus:             bus,
		gateway:         gateway,
		authority:       authority,
		prober:          prober,
		orchestrator:    orchestrator,
		reconciler:      reconciler,
		pushNotifier:    pushNotifier,
		entitlementRepo: entitlementRepo,
		grantLedger:     grantLedger,
		purchaseHandler: purchaseHandler,
	}, nil
}
