package daraja

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/baridihq/baridi/internal/observability/metrics"
	"go.uber.org/zap"
)

// Config holds the provider endpoints and per-call timeouts.
type Config struct {
	SandboxBaseURL    string
	ProductionBaseURL string
	CallbackURL       string
	TokenTimeout      time.Duration
	PushTimeout       time.Duration
}

const (
	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"

	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"

	// timestampLayout is the provider's password timestamp format.
	timestampLayout = "20060102150405"

	// tokenExpirySkew refreshes slightly early so a token never expires
	// mid-push.
	tokenExpirySkew = 30 * time.Second

	pushAttempts = 3
	pushBackoff  = 500 * time.Millisecond
)

type PushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type PushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

var (
	ErrUnauthorized = errors.New("daraja_unauthorized")
	ErrTimeout      = errors.New("daraja_timeout")
)

// RequestError is a non-retryable provider rejection.
type RequestError struct {
	StatusCode  int
	Description string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("daraja rejected request: status=%d desc=%s", e.StatusCode, e.Description)
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// Client talks to the Daraja OAuth and STK push endpoints. Tokens are cached
// per (environment, consumer key) and refreshed lazily.
type Client struct {
	cfg     Config
	token   *http.Client
	push    *http.Client
	log     *zap.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	tokens map[string]cachedToken
}

func NewClient(cfg Config, log *zap.Logger, m *metrics.Metrics) *Client {
	return &Client{
		cfg:     cfg,
		token:   &http.Client{Timeout: cfg.TokenTimeout},
		push:    &http.Client{Timeout: cfg.PushTimeout},
		log:     log.Named("gateway.daraja"),
		metrics: m,
		tokens:  map[string]cachedToken{},
	}
}

func (c *Client) baseURL(environment string) string {
	if environment == EnvironmentProduction {
		return c.cfg.ProductionBaseURL
	}
	return c.cfg.SandboxBaseURL
}

// Password builds the provider push password for the shortcode at t and
// returns it with the matching timestamp.
func Password(shortcode, passkey string, t time.Time) (string, string) {
	timestamp := t.Format(timestampLayout)
	raw := shortcode + passkey + timestamp
	return base64.StdEncoding.EncodeToString([]byte(raw)), timestamp
}

// Token returns a bearer token, from cache when still fresh.
func (c *Client) Token(ctx context.Context, environment, consumerKey, consumerSecret string) (string, error) {
	cacheKey := environment + ":" + consumerKey

	c.mu.Lock()
	cached, ok := c.tokens[cacheKey]
	c.mu.Unlock()
	if ok && time.Now().Before(cached.expiresAt) {
		return cached.value, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL(environment)+tokenPath, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(consumerKey, consumerSecret)

	res, err := c.token.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return "", ErrUnauthorized
	}
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return "", &RequestError{StatusCode: res.StatusCode, Description: string(body)}
	}

	var payload tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", &RequestError{StatusCode: res.StatusCode, Description: "empty access token"}
	}

	ttl := time.Hour
	if parsed, err := time.ParseDuration(payload.ExpiresIn + "s"); err == nil && parsed > 0 {
		ttl = parsed
	}

	c.mu.Lock()
	c.tokens[cacheKey] = cachedToken{
		value:     payload.AccessToken,
		expiresAt: time.Now().Add(ttl - tokenExpirySkew),
	}
	c.mu.Unlock()

	return payload.AccessToken, nil
}

// InvalidateToken drops the cached token so the next call fetches a fresh
// one. Used when the push endpoint answers 401 against a cached token.
func (c *Client) InvalidateToken(environment, consumerKey string) {
	c.mu.Lock()
	delete(c.tokens, environment+":"+consumerKey)
	c.mu.Unlock()
}

// Push sends the STK push. Network failures and 5xx responses are retried
// with exponential backoff; 401 and other 4xx surface immediately.
func (c *Client) Push(ctx context.Context, environment, token string, request PushRequest) (*PushResponse, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	var lastErr error
	backoff := pushBackoff
	for attempt := 1; attempt <= pushAttempts; attempt++ {
		if attempt > 1 {
			if c.metrics != nil {
				c.metrics.GatewayRetries.Inc()
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		response, retryable, err := c.pushOnce(ctx, environment, token, body)
		if err == nil {
			return response, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
		c.log.Warn("push attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return nil, fmt.Errorf("%w: %v", ErrTimeout, lastErr)
}

func (c *Client) pushOnce(ctx context.Context, environment, token string, body []byte) (*PushResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL(environment)+pushPath, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.push.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusUnauthorized:
		return nil, false, ErrUnauthorized
	case res.StatusCode >= 500:
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, true, fmt.Errorf("provider 5xx: status=%d body=%s", res.StatusCode, string(raw))
	case res.StatusCode != http.StatusOK:
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, false, &RequestError{StatusCode: res.StatusCode, Description: string(raw)}
	}

	var payload PushResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, false, fmt.Errorf("decode push response: %w", err)
	}
	if payload.ResponseCode != "0" {
		return nil, false, &RequestError{StatusCode: res.StatusCode, Description: payload.ResponseDescription}
	}
	if payload.CheckoutRequestID == "" {
		return nil, false, &RequestError{StatusCode: res.StatusCode, Description: "missing checkout request id"}
	}
	return &payload, false, nil
}
