package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// ServiceClient talks to an external transaction-signing service. The service
// holds the wallet key, builds both transfer legs itself and returns the two
// transaction hashes, so no private key is needed in this process.
type ServiceClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// SignPaymentRequest asks the service to execute one split payment.
type SignPaymentRequest struct {
	AmountUSD string `json:"amount_usd"`
	Recipient string `json:"recipient"`
	Chain     string `json:"chain"`
	Token     string `json:"token"`
}

// SignPaymentResponse carries the hashes of the two broadcast legs.
type SignPaymentResponse struct {
	MerchantTxHash   string `json:"tx_hash"`
	CommissionTxHash string `json:"tx_hash_commission"`
	Error            string `json:"error,omitempty"`
}

// NewServiceClient creates a client for the signing service at baseURL.
func NewServiceClient(baseURL string, logger *logrus.Logger) *ServiceClient {
	if logger == nil {
		logger = logrus.New()
	}
	return &ServiceClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

// Health checks GET /health. A non-2xx status means the service is unusable
// and the caller should abort before attempting a payment.
func (c *ServiceClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("signing service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("signing service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// SignPayment posts to /sign-payment and returns the two transaction hashes.
func (c *ServiceClient) SignPayment(ctx context.Context, signReq SignPaymentRequest) (*SignPaymentResponse, error) {
	body, err := json.Marshal(signReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sign-payment", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.WithFields(logrus.Fields{
		"amount_usd": signReq.AmountUSD,
		"chain":      signReq.Chain,
		"token":      signReq.Token,
	}).Info("Delegating payment signing to external service")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signing service request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing service response: %w", err)
	}

	var signResp SignPaymentResponse
	if err := json.Unmarshal(data, &signResp); err != nil {
		return nil, fmt.Errorf("malformed signing service response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if signResp.Error != "" {
			return nil, fmt.Errorf("signing service error (status %d): %s", resp.StatusCode, signResp.Error)
		}
		return nil, fmt.Errorf("signing service error: status %d", resp.StatusCode)
	}
	if signResp.Error != "" {
		return nil, fmt.Errorf("signing service error: %s", signResp.Error)
	}
	if signResp.MerchantTxHash == "" || signResp.CommissionTxHash == "" {
		return nil, fmt.Errorf("signing service returned incomplete transaction hashes")
	}

	return &signResp, nil
}
