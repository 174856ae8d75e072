package tokenizer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lumapay/paybot/internal/model/payment"
)

const defaultBaseURL = "https://api.stripe.com"

// StripeClient creates card payment methods against the Stripe tokenization
// API. Only the token, brand and last4 ever leave this package.
type StripeClient struct {
	baseURL string
	keys    *keySource
	client  *http.Client
	logger  *zap.Logger
}

// Config for the Stripe tokenization client.
type Config struct {
	// SecretKey takes precedence; SecretKeyFile is read once on first use.
	SecretKey     string
	SecretKeyFile string
	BaseURL       string
	Timeout       time.Duration
}

// NewStripeClient builds the client; the API key is fetched lazily on the
// first tokenization call.
func NewStripeClient(cfg Config, logger *zap.Logger) *StripeClient {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &StripeClient{
		baseURL: baseURL,
		keys:    newKeySource(cfg.SecretKey, cfg.SecretKeyFile),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type stripePaymentMethod struct {
	ID   string `json:"id"`
	Card struct {
		Brand string `json:"brand"`
		Last4 string `json:"last4"`
	} `json:"card"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Tokenize exchanges raw card details for a payment-method token. Card data
// goes into the request body and nowhere else; it is never logged.
func (c *StripeClient) Tokenize(ctx context.Context, card payment.CardDetails) (*Tokenization, error) {
	key, err := c.keys.Get()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	form := url.Values{}
	form.Set("type", "card")
	form.Set("card[number]", card.Number)
	form.Set("card[exp_month]", strconv.Itoa(card.ExpMonth))
	form.Set("card[exp_year]", strconv.Itoa(card.ExpYear))
	form.Set("card[cvc]", card.CVV)
	form.Set("billing_details[name]", card.Name)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/payment_methods", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build tokenization request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("tokenization request failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	var pm stripePaymentMethod
	if err := json.Unmarshal(body, &pm); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK && pm.ID != "":
		c.logger.Info("card tokenized",
			zap.String("token", pm.ID),
			zap.String("brand", pm.Card.Brand),
			zap.String("last4", pm.Card.Last4))
		return &Tokenization{Token: pm.ID, Brand: pm.Card.Brand, Last4: pm.Card.Last4}, nil

	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusBadRequest:
		reason := "card validation failed"
		if pm.Error != nil && pm.Error.Message != "" {
			reason = pm.Error.Message
		}
		c.logger.Info("card declined", zap.String("reason", reason))
		return nil, &DeclineError{Reason: reason}

	default:
		c.logger.Warn("unexpected tokenization response",
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: provider returned status %d", ErrUnavailable, resp.StatusCode)
	}
}
