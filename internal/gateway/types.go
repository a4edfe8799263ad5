// Package gateway contains the AgentGatePay clients. The gateway itself is an
// external service; both the REST and MCP transports expose the same
// capabilities and satisfy the Client interface.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	canonicaljson "github.com/gibson042/canonicaljson-go"
	"github.com/shopspring/decimal"

	"github.com/agentgatepay/agentpay-go-sdk/internal/payment"
)

// Client is the transport-agnostic view of the gateway used by the agent.
type Client interface {
	// IssueMandate requests a new time-boxed spending authorization.
	IssueMandate(ctx context.Context, req IssueMandateRequest) (*Mandate, error)

	// VerifyMandate returns the live state of a mandate token, including the
	// remaining budget tracked on the gateway side.
	VerifyMandate(ctx context.Context, token string) (*MandateStatus, error)

	// CommissionConfig fetches the operator's commission address and rate.
	CommissionConfig(ctx context.Context) (*CommissionConfig, error)

	// SubmitPayment presents the payment proof for a purchased resource.
	SubmitPayment(ctx context.Context, req SubmitPaymentRequest) (*SubmitPaymentResult, error)

	// VerifyPayment reports whether the gateway has accepted the payment
	// identified by the merchant leg's transaction hash.
	VerifyPayment(ctx context.Context, txHash string) (*payment.ConfirmationResult, error)

	// AuditLogs retrieves the gateway's audit trail for this API key,
	// optionally filtered by event type, client or transaction hash.
	AuditLogs(ctx context.Context, query AuditQuery) ([]AuditLog, error)
}

// IssueMandateRequest parametrizes mandate issuance.
type IssueMandateRequest struct {
	Subject    string  `json:"subject"`
	BudgetUSD  float64 `json:"budget"`
	Scope      string  `json:"scope"`
	TTLMinutes int     `json:"ttl_minutes"`
}

// Mandate is the gateway's issuance response. The token is opaque.
type Mandate struct {
	MandateToken string `json:"mandate_token"`
	ExpiresAt    int64  `json:"expires_at"`
	Subject      string `json:"subject,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// MandateStatus is the live verification state of a mandate.
type MandateStatus struct {
	Valid           bool        `json:"valid"`
	BudgetRemaining json.Number `json:"budget_remaining"`
	Error           string      `json:"error,omitempty"`
}

// CommissionConfig is the operator-side split configuration.
type CommissionConfig struct {
	CommissionAddress string  `json:"commission_address"`
	CommissionRate    float64 `json:"commission_rate"`
}

// Rate returns the commission rate as a decimal for exact split arithmetic.
func (c *CommissionConfig) Rate() decimal.Decimal {
	return decimal.NewFromFloat(c.CommissionRate)
}

// PaymentProof is the x-payment header payload: the settlement scheme plus
// the hashes of the two legs.
type PaymentProof struct {
	Scheme           string `json:"scheme"`
	TxHash           string `json:"tx_hash"`
	TxHashCommission string `json:"tx_hash_commission"`
}

// EncodeHeader serializes the proof as canonical JSON and base64-encodes it
// for the x-payment header. Canonical form keeps the header deterministic for
// identical proofs.
func (p PaymentProof) EncodeHeader() (string, error) {
	data, err := canonicaljson.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode payment proof: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// SubmitPaymentRequest presents a settled payment for a priced resource.
type SubmitPaymentRequest struct {
	Proof        PaymentProof
	MandateToken string
	Chain        string
	Token        string
	PriceUSD     decimal.Decimal
}

// SubmitPaymentResult is the gateway's acceptance response.
type SubmitPaymentResult struct {
	Accepted        bool
	Status          string
	Message         string
	ChargeID        string
	BudgetRemaining string
}

// AuditQuery filters an audit-log listing. A set TxHash retrieves the logs of
// that one transaction and the other filters are ignored.
type AuditQuery struct {
	EventType string
	ClientID  string
	TxHash    string
	Hours     int
	Limit     int
}

// AuditLog is one gateway audit trail entry.
type AuditLog struct {
	EventType string      `json:"event_type"`
	ClientID  string      `json:"client_id,omitempty"`
	TxHash    string      `json:"tx_hash,omitempty"`
	AmountUSD json.Number `json:"amount_usd,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// auditWire is the audit endpoint's response envelope.
type auditWire struct {
	Logs  []AuditLog `json:"logs"`
	Error string     `json:"error,omitempty"`
}

// apiError is the error envelope the gateway returns on non-2xx responses.
type apiError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (e *apiError) message() string {
	if e.Details != "" {
		return fmt.Sprintf("%s (%s)", e.Error, e.Details)
	}
	return e.Error
}
