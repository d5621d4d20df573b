package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"purser/internal/models"
)

// UpdateSubscription is the handle returned by TransactionUpdates. Remove
// stops delivery and releases the underlying stream.
type UpdateSubscription interface {
	Remove()
}

// StorefrontGateway is the platform purchasing bridge the engine consumes.
// The purchase call suspends until the platform returns a terminal outcome;
// no mid-flight cancellation crosses that boundary.
type StorefrontGateway interface {
	GetProducts(ctx context.Context, ids []string) ([]models.Product, error)
	Purchase(ctx context.Context, productID string) (models.PurchaseOutcome, error)
	RestorePurchases(ctx context.Context) ([]models.RestoredPurchase, error)
	GetSubscriptionStatus(ctx context.Context) (models.SubscriptionStatus, error)
	FinishTransaction(ctx context.Context, transactionID string) error
	ManageSubscriptions(ctx context.Context) error
	TransactionUpdates(fn func(models.TransactionUpdate)) (UpdateSubscription, error)
}

// BridgeError is a non-2xx answer from the storefront bridge.
type BridgeError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("bridge: %s %s", e.Status, strings.TrimSpace(e.Body))
}

type BridgeConfig struct {
	BaseURL string
	WSURL   string

	Client *http.Client
	Logger *slog.Logger
}

// BridgeGateway talks to the platform's storefront bridge over localhost
// HTTP, plus a websocket stream for transaction updates.
type BridgeGateway struct {
	baseURL *url.URL
	wsURL   string

	httpClient *http.Client
	logger     *slog.Logger
}

func NewBridgeGateway(cfg BridgeConfig) (*BridgeGateway, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("bridge: base_url is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	client := cfg.Client
	if client == nil {
		// No timeout: a purchase call legitimately suspends until the user
		// finishes or abandons the native purchase sheet.
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BridgeGateway{
		baseURL:    u,
		wsURL:      cfg.WSURL,
		httpClient: client,
		logger:     logger,
	}, nil
}

func (g *BridgeGateway) endpoint(p string) string {
	u := *g.baseURL
	u.Path = path.Join(u.Path, p)
	return u.String()
}

func (g *BridgeGateway) do(ctx context.Context, method, p string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.endpoint(p), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bridge request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return &BridgeError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (g *BridgeGateway) GetProducts(ctx context.Context, ids []string) ([]models.Product, error) {
	var out struct {
		Products []models.Product `json:"products"`
	}
	in := struct {
		IDs []string `json:"ids"`
	}{IDs: ids}
	if err := g.do(ctx, http.MethodPost, "/v1/products", in, &out); err != nil {
		return nil, err
	}
	return out.Products, nil
}

// purchaseResponse is the bridge's wire shape for a terminal purchase
// outcome.
type purchaseResponse struct {
	Status                string `json:"status"` // success | cancelled | pending | failed
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	ProductID             string `json:"product_id"`
	SignedProof           string `json:"signed_proof"`
	Environment           string `json:"environment"`
	Reason                string `json:"reason"`
}

func (g *BridgeGateway) Purchase(ctx context.Context, productID string) (models.PurchaseOutcome, error) {
	var out purchaseResponse
	in := struct {
		ProductID string `json:"product_id"`
	}{ProductID: productID}
	if err := g.do(ctx, http.MethodPost, "/v1/purchase", in, &out); err != nil {
		return nil, err
	}
	switch out.Status {
	case "success":
		return models.PurchaseSuccess{
			TransactionID:         out.TransactionID,
			OriginalTransactionID: out.OriginalTransactionID,
			ProductID:             out.ProductID,
			SignedProof:           out.SignedProof,
			Environment:           out.Environment,
		}, nil
	case "cancelled":
		return models.PurchaseCancelled{}, nil
	case "pending":
		return models.PurchasePending{}, nil
	case "failed":
		return models.PurchaseFailed{Reason: out.Reason}, nil
	default:
		return nil, fmt.Errorf("bridge: unknown purchase status %q", out.Status)
	}
}

func (g *BridgeGateway) RestorePurchases(ctx context.Context) ([]models.RestoredPurchase, error) {
	var out struct {
		Purchases []models.RestoredPurchase `json:"purchases"`
	}
	if err := g.do(ctx, http.MethodPost, "/v1/restore", nil, &out); err != nil {
		return nil, err
	}
	return out.Purchases, nil
}

func (g *BridgeGateway) GetSubscriptionStatus(ctx context.Context) (models.SubscriptionStatus, error) {
	var out models.SubscriptionStatus
	if err := g.do(ctx, http.MethodGet, "/v1/subscriptions", nil, &out); err != nil {
		return models.SubscriptionStatus{}, err
	}
	return out, nil
}

// FinishTransaction acknowledges delivery. The bridge treats finishing an
// already-finished transaction as a no-op, so callers may retry freely.
func (g *BridgeGateway) FinishTransaction(ctx context.Context, transactionID string) error {
	if strings.TrimSpace(transactionID) == "" {
		return fmt.Errorf("transaction_id is required")
	}
	in := struct {
		TransactionID string `json:"transaction_id"`
	}{TransactionID: transactionID}
	return g.do(ctx, http.MethodPost, "/v1/finish", in, nil)
}

func (g *BridgeGateway) ManageSubscriptions(ctx context.Context) error {
	return g.do(ctx, http.MethodPost, "/v1/manage", nil, nil)
}

type updateStream struct {
	conn   *websocket.Conn
	closed atomic.Bool
}

func (s *updateStream) Remove() {
	if s.closed.CompareAndSwap(false, true) {
		_ = s.conn.Close()
	}
}

// TransactionUpdates subscribes to the bridge's transactionUpdated stream.
// The callback runs on the read goroutine; keep it short.
func (g *BridgeGateway) TransactionUpdates(fn func(models.TransactionUpdate)) (UpdateSubscription, error) {
	if strings.TrimSpace(g.wsURL) == "" {
		return nil, errors.New("bridge: ws_url is not configured")
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(g.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial update stream: %w", err)
	}
	stream := &updateStream{conn: conn}

	go func() {
		for {
			var update models.TransactionUpdate
			if err := conn.ReadJSON(&update); err != nil {
				if !stream.closed.Load() {
					g.logger.Error("transaction update stream closed", "err", err)
				}
				return
			}
			fn(update)
		}
	}()
	return stream, nil
}
