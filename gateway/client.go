package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type CaptureStatus string

const (
	CaptureApproved CaptureStatus = "approved"
	CaptureRejected CaptureStatus = "rejected"
	CapturePending  CaptureStatus = "pending"
)

var ErrNotConfigured = errors.New("payments bridge is not configured")

// Client is the only view the contract service has of the payment gateways.
// It asks for capture outcomes and requests refunds; protocol details live in the bridge.
type Client interface {
	CaptureStatus(ctx context.Context, provider, captureID string) (CaptureStatus, error)
	Refund(ctx context.Context, provider, captureID string, amount decimal.Decimal, idempotencyKey string) error
}

type bridgeClient struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
}

// NewBridgeClient reads PAYMENTS_BRIDGE_URL and PAYMENTS_BRIDGE_API_KEY.
func NewBridgeClient() (Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("PAYMENTS_BRIDGE_URL"))
	apiKey := strings.TrimSpace(os.Getenv("PAYMENTS_BRIDGE_API_KEY"))
	if baseURL == "" || apiKey == "" {
		return nil, ErrNotConfigured
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("PAYMENTS_BRIDGE_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	ratePerMin := int64(120)
	if v := strings.TrimSpace(os.Getenv("PAYMENTS_BRIDGE_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			ratePerMin = n
		}
	}
	return newBridgeClient(baseURL, apiKey, apiKeyHeader, time.Minute/time.Duration(ratePerMin)), nil
}

func newBridgeClient(baseURL, apiKey, apiKeyHeader string, interval time.Duration) *bridgeClient {
	return &bridgeClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   time.Tick(interval),
	}
}

type captureResponse struct {
	Status string `json:"status"`
}

func (c *bridgeClient) CaptureStatus(ctx context.Context, provider, captureID string) (CaptureStatus, error) {
	path := fmt.Sprintf("/v1/%s/captures/%s", url.PathEscape(provider), url.PathEscape(captureID))
	var parsed captureResponse
	if err := c.do(ctx, http.MethodGet, path, nil, "", &parsed); err != nil {
		return "", err
	}
	return normalizeCaptureStatus(parsed.Status), nil
}

type refundRequest struct {
	CaptureID string          `json:"capture_id"`
	Amount    decimal.Decimal `json:"amount"`
}

func (c *bridgeClient) Refund(ctx context.Context, provider, captureID string, amount decimal.Decimal, idempotencyKey string) error {
	path := fmt.Sprintf("/v1/%s/refunds", url.PathEscape(provider))
	return c.do(ctx, http.MethodPost, path, refundRequest{CaptureID: captureID, Amount: amount}, idempotencyKey, nil)
}

func (c *bridgeClient) do(ctx context.Context, method, path string, in any, idempotencyKey string, out any) error {
	select {
	case <-c.limiter:
	case <-ctx.Done():
		return ctx.Err()
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("payments bridge error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// normalizeCaptureStatus maps provider vocabularies onto the three outcomes the contract cares about.
func normalizeCaptureStatus(s string) CaptureStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approved", "completed", "captured", "accredited":
		return CaptureApproved
	case "rejected", "cancelled", "canceled", "denied", "failed", "voided":
		return CaptureRejected
	default:
		return CapturePending
	}
}
