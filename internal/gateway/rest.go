package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/agentgatepay/agentpay-go-sdk/internal/payment"
)

// DefaultAPIURL is the production gateway endpoint.
const DefaultAPIURL = "https://api.agentgatepay.com"

// RESTClient talks to the gateway's REST API. Authentication is the x-api-key
// header; a failure is any non-2xx status or an error field in the body.
type RESTClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewRESTClient creates a REST gateway client. An empty baseURL falls back to
// the production endpoint.
func NewRESTClient(baseURL, apiKey string, logger *logrus.Logger) *RESTClient {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &RESTClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

func (c *RESTClient) IssueMandate(ctx context.Context, req IssueMandateRequest) (*Mandate, error) {
	var mandate Mandate
	if err := c.doJSON(ctx, http.MethodPost, "/mandates/issue", nil, req, &mandate); err != nil {
		return nil, fmt.Errorf("mandate issuance failed: %w", err)
	}
	if mandate.MandateToken == "" {
		return nil, fmt.Errorf("gateway returned no mandate token")
	}
	c.logger.WithField("subject", req.Subject).Info("Mandate issued")
	return &mandate, nil
}

func (c *RESTClient) VerifyMandate(ctx context.Context, token string) (*MandateStatus, error) {
	body := map[string]string{"mandate_token": token}
	var status MandateStatus
	if err := c.doJSON(ctx, http.MethodPost, "/mandates/verify", nil, body, &status); err != nil {
		return nil, fmt.Errorf("mandate verification failed: %w", err)
	}
	return &status, nil
}

func (c *RESTClient) CommissionConfig(ctx context.Context) (*CommissionConfig, error) {
	var cfg CommissionConfig
	if err := c.doJSON(ctx, http.MethodGet, "/v1/config/commission", nil, nil, &cfg); err != nil {
		return nil, fmt.Errorf("commission config fetch failed: %w", err)
	}
	if cfg.CommissionAddress == "" {
		return nil, fmt.Errorf("gateway returned no commission address")
	}
	return &cfg, nil
}

// submitWire is the resource endpoint's response envelope. The gateway has
// answered with several shapes over time; any of these fields signals
// acceptance.
type submitWire struct {
	Message         string `json:"message"`
	Success         bool   `json:"success"`
	Paid            bool   `json:"paid"`
	Status          string `json:"status"`
	ChargeID        string `json:"charge_id"`
	BudgetRemaining string `json:"budget_remaining"`
	Error           string `json:"error"`
}

// accepted reports whether any of the envelope's success signals is set. A
// bare message with no status also counts, matching gateway deployments that
// answer the resource request with content only.
func (w submitWire) accepted() bool {
	return w.Success || w.Paid || w.Status == "confirmed" || w.Message != ""
}

func (c *RESTClient) SubmitPayment(ctx context.Context, req SubmitPaymentRequest) (*SubmitPaymentResult, error) {
	proofHeader, err := req.Proof.EncodeHeader()
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("chain", req.Chain)
	query.Set("token", req.Token)
	query.Set("price_usd", req.PriceUSD.String())

	headers := map[string]string{
		"x-mandate": req.MandateToken,
		"x-payment": proofHeader,
	}

	var wire submitWire
	path := "/x402/resource?" + query.Encode()
	if err := c.doJSON(ctx, http.MethodGet, path, headers, nil, &wire); err != nil {
		return nil, fmt.Errorf("payment submission failed: %w", err)
	}

	if !wire.accepted() {
		if wire.Error == "" {
			wire.Error = "unknown gateway error"
		}
		return nil, fmt.Errorf("gateway rejected payment: %s", wire.Error)
	}

	c.logger.WithFields(logrus.Fields{
		"price_usd": req.PriceUSD.String(),
		"charge_id": wire.ChargeID,
	}).Info("Payment proof accepted by gateway")

	return &SubmitPaymentResult{
		Accepted:        true,
		Status:          wire.Status,
		Message:         wire.Message,
		ChargeID:        wire.ChargeID,
		BudgetRemaining: wire.BudgetRemaining,
	}, nil
}

// verifyWire is the payment verification response envelope.
type verifyWire struct {
	Verified  bool            `json:"verified"`
	Status    string          `json:"status"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
	Timestamp string          `json:"timestamp"`
	Error     string          `json:"error"`
}

func (w verifyWire) toConfirmation() *payment.ConfirmationResult {
	res := &payment.ConfirmationResult{
		Verified:  w.Verified,
		Status:    payment.Status(w.Status),
		AmountUSD: w.AmountUSD,
		Error:     w.Error,
		Timestamp: time.Now(),
	}
	if ts, err := time.Parse(time.RFC3339, w.Timestamp); err == nil {
		res.Timestamp = ts
	}
	if res.Status == "" && w.Error != "" {
		res.Status = payment.StatusNotFound
	}
	return res
}

func (c *RESTClient) VerifyPayment(ctx context.Context, txHash string) (*payment.ConfirmationResult, error) {
	var wire verifyWire
	path := "/v1/payments/verify/" + url.PathEscape(txHash)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &wire); err != nil {
		return nil, fmt.Errorf("payment verification failed: %w", err)
	}
	return wire.toConfirmation(), nil
}

func (c *RESTClient) AuditLogs(ctx context.Context, q AuditQuery) ([]AuditLog, error) {
	var path string
	if q.TxHash != "" {
		path = "/audit/logs/transaction/" + url.PathEscape(q.TxHash)
	} else {
		query := url.Values{}
		if q.EventType != "" {
			query.Set("event_type", q.EventType)
		}
		if q.ClientID != "" {
			query.Set("client_id", q.ClientID)
		}
		if q.Hours > 0 {
			query.Set("hours", strconv.Itoa(q.Hours))
		}
		if q.Limit > 0 {
			query.Set("limit", strconv.Itoa(q.Limit))
		}
		path = "/audit/logs"
		if encoded := query.Encode(); encoded != "" {
			path += "?" + encoded
		}
	}

	var wire auditWire
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &wire); err != nil {
		return nil, fmt.Errorf("audit log fetch failed: %w", err)
	}
	if wire.Error != "" {
		return nil, fmt.Errorf("audit log fetch failed: %s", wire.Error)
	}
	return wire.Logs, nil
}

// doJSON performs one request against the gateway. Responses outside 2xx are
// decoded into the error envelope; "Payment not found" style verifier
// verdicts come back as 2xx with an error field and are left to the caller.
func (c *RESTClient) doJSON(ctx context.Context, method, path string, headers map[string]string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope apiError
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != "" {
			return fmt.Errorf("gateway error (status %d): %s", resp.StatusCode, envelope.message())
		}
		return fmt.Errorf("gateway error: status %d", resp.StatusCode)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("malformed gateway response: %w", err)
		}
	}
	return nil
}
