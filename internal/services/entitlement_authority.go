package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"purser/internal/models"
	"purser/utils"
)

// EntitlementAuthority verifies a signed proof with the backend and returns
// the grant to apply. The cryptography is server-side and opaque here.
type EntitlementAuthority interface {
	Validate(ctx context.Context, proof models.Proof) (models.ValidationOutcome, error)
}

type AuthorityConfig struct {
	BaseURL string

	// Session identity the validation call runs under. Without it every
	// proof is rejected before the network call: granting entitlement to an
	// anonymous session is never allowed.
	SigningKey string
	UserID     string

	Client *http.Client
	Logger *slog.Logger
}

// AuthorityClient posts proofs to the backend over an authenticated call.
type AuthorityClient struct {
	baseURL *url.URL
	userID  string

	tokens     *utils.Manager
	httpClient *http.Client
	logger     *slog.Logger

	// session token cache
	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

func NewAuthorityClient(cfg AuthorityConfig) (*AuthorityClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("authority: base_url is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	tokens, err := utils.NewManager(cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("authority: %w", err)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthorityClient{
		baseURL:    u,
		userID:     strings.TrimSpace(cfg.UserID),
		tokens:     tokens,
		httpClient: client,
		logger:     logger,
	}, nil
}

func (c *AuthorityClient) sessionToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Until(c.tokenExp) > 2*time.Minute {
		return c.token, nil
	}
	if c.userID == "" {
		return "", fmt.Errorf("authority: no authenticated session")
	}
	token, err := c.tokens.NewJWT(c.userID, time.Hour)
	if err != nil {
		return "", fmt.Errorf("mint session token: %w", err)
	}
	c.token = token
	c.tokenExp = time.Now().Add(55 * time.Minute)
	return token, nil
}

// validateResponse is the authority's wire shape.
type validateResponse struct {
	Success       bool                      `json:"success"`
	RequiresRetry bool                      `json:"requires_retry"`
	Reason        string                    `json:"reason,omitempty"`
	ProductType   string                    `json:"product_type,omitempty"`
	Subscription  *models.SubscriptionGrant `json:"subscription,omitempty"`
	CoinPack      *models.CoinGrant         `json:"coin_pack,omitempty"`
	Bundle        *models.BundleGrant       `json:"bundle,omitempty"`
	AlreadyOwned  bool                      `json:"already_owned"`
	Environment   string                    `json:"environment,omitempty"`
}

// Validate submits the proof. A missing session or proof field is a
// definitive failure without touching the network; transport trouble and
// 5xx answers come back retryable so the caller fails closed and leaves the
// platform transaction unfinished.
func (c *AuthorityClient) Validate(ctx context.Context, proof models.Proof) (models.ValidationOutcome, error) {
	if err := proof.Validate(); err != nil {
		return models.ValidationFailure{RequiresRetry: false, Reason: err.Error()}, nil
	}
	token, err := c.sessionToken()
	if err != nil {
		return models.ValidationFailure{RequiresRetry: false, Reason: err.Error()}, nil
	}

	endpoint := *c.baseURL
	endpoint.Path = path.Join(endpoint.Path, "/v1/iap/validate")

	body, err := json.Marshal(proof)
	if err != nil {
		return nil, fmt.Errorf("encode proof: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("authority request failed", "err", err)
		return models.ValidationFailure{RequiresRetry: true, Reason: err.Error()}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		b, _ := io.ReadAll(resp.Body)
		return models.ValidationFailure{
			RequiresRetry: true,
			Reason:        fmt.Sprintf("authority %s: %s", resp.Status, strings.TrimSpace(string(b))),
		}, nil
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return models.ValidationFailure{
			RequiresRetry: false,
			Reason:        fmt.Sprintf("authority %s: %s", resp.Status, strings.TrimSpace(string(b))),
		}, nil
	}

	var out validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.ValidationFailure{RequiresRetry: true, Reason: "decode response: " + err.Error()}, nil
	}
	if !out.Success {
		return models.ValidationFailure{RequiresRetry: out.RequiresRetry, Reason: out.Reason}, nil
	}
	return models.ValidationSuccess{
		ProductType:  out.ProductType,
		Subscription: out.Subscription,
		CoinPack:     out.CoinPack,
		Bundle:       out.Bundle,
		AlreadyOwned: out.AlreadyOwned,
		Environment:  out.Environment,
	}, nil
}
