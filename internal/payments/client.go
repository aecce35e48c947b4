// Package payments is a client for the two-stage card payment processor.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
)

const (
	idempotenceHeader  = "Idempotence-Key"
	maxErrorBody       = 64 << 10
	maxDescriptionLen  = 128
	defaultHTTPTimeout = 10 * time.Second
)

// Config holds the processor connection settings.
type Config struct {
	BaseURL  string
	Currency string
	VATCode  int
	Timeout  time.Duration
}

// Client talks to the payment processor over HTTPS.
type Client struct {
	baseURL    string
	currency   string
	vatCode    int
	httpClient *http.Client
	creds      *CredentialCache
	newKey     func() string
	logger     *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger used for gateway diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient builds a Client.
func NewClient(cfg Config, creds *CredentialCache, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("payments: base url is required")
	}
	if creds == nil {
		return nil, errors.New("payments: credentials are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "RUB"
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		currency:   currency,
		vatCode:    cfg.VATCode,
		httpClient: &http.Client{Timeout: timeout},
		creds:      creds,
		newKey:     func() string { return uuid.NewString() },
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreatePayment authorizes a payment without capturing it and returns the redirect link the
// customer must follow.
func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest) (Payment, error) {
	if !req.Amount.Decimal().IsPositive() {
		return Payment{}, fmt.Errorf("payments: amount must be positive, got %s", req.Amount)
	}
	body := createPaymentJSON{
		Amount:  amountOf(req.Amount, c.currency),
		Capture: false,
		Confirmation: confirmationJSON{
			Type:      "redirect",
			ReturnURL: req.ReturnURL,
		},
		Description: truncate(req.Description, maxDescriptionLen),
		Metadata:    req.Metadata,
	}
	if req.Receipt != nil {
		body.Receipt = c.receipt(*req.Receipt)
	}

	var out paymentJSON
	if err := c.do(ctx, "create payment", http.MethodPost, "/payments", req.IdempotencyKey, body, &out); err != nil {
		return Payment{}, err
	}
	return out.toPayment()
}

// CapturePayment settles a held payment for the given amount.
func (c *Client) CapturePayment(ctx context.Context, paymentID string, amount orders.Money) (Payment, error) {
	var out paymentJSON
	path := "/payments/" + url.PathEscape(paymentID) + "/capture"
	if err := c.do(ctx, "capture payment", http.MethodPost, path, "", captureJSON{Amount: amountOf(amount, c.currency)}, &out); err != nil {
		return Payment{}, err
	}
	return out.toPayment()
}

// CancelPayment releases a held payment.
func (c *Client) CancelPayment(ctx context.Context, paymentID string) (Payment, error) {
	var out paymentJSON
	path := "/payments/" + url.PathEscape(paymentID) + "/cancel"
	if err := c.do(ctx, "cancel payment", http.MethodPost, path, "", struct{}{}, &out); err != nil {
		return Payment{}, err
	}
	return out.toPayment()
}

// GetPayment reads the current state of a payment.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (Payment, error) {
	var out paymentJSON
	if err := c.do(ctx, "get payment", http.MethodGet, "/payments/"+url.PathEscape(paymentID), "", nil, &out); err != nil {
		return Payment{}, err
	}
	return out.toPayment()
}

func (c *Client) receipt(r Receipt) *receiptJSON {
	out := &receiptJSON{Items: make([]receiptItemJSON, len(r.Items))}
	out.Customer.Email = r.Email
	for i, it := range r.Items {
		out.Items[i] = receiptItemJSON{
			Description: truncate(it.Description, maxDescriptionLen),
			Quantity:    strconv.Itoa(it.Quantity),
			Amount:      amountOf(it.Amount, c.currency),
			VATCode:     c.vatCode,
		}
	}
	return out
}

// do sends one request. Mutating calls (non-GET) always carry an Idempotence-Key.
func (c *Client) do(ctx context.Context, op, method, path, key string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("payments: %s: encode: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("payments: %s: %w", op, err)
	}
	authz, err := c.creds.Authorization(ctx)
	if err != nil {
		return fmt.Errorf("payments: %s: credentials: %w", op, err)
	}
	req.Header.Set("Authorization", authz)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		if key == "" {
			key = c.newKey()
		}
		req.Header.Set(idempotenceHeader, key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payments: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if resp.StatusCode == http.StatusUnauthorized {
			c.creds.Invalidate()
		}
		gerr := &GatewayError{Op: op, StatusCode: resp.StatusCode, Body: string(raw)}
		c.logger.Warn("payment gateway error",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.String("body", gerr.Body),
		)
		return gerr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("payments: %s: decode: %w", op, err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
