// Package agent runs the buyer-side payment workflow: issue or reuse a
// mandate, settle the split payment on-chain, present the proof to the
// gateway and wait for verification.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/agentgatepay/agentpay-go-sdk/internal/chain"
	"github.com/agentgatepay/agentpay-go-sdk/internal/config"
	"github.com/agentgatepay/agentpay-go-sdk/internal/gateway"
	"github.com/agentgatepay/agentpay-go-sdk/internal/mandate"
	"github.com/agentgatepay/agentpay-go-sdk/internal/payment"
	"github.com/agentgatepay/agentpay-go-sdk/internal/signer"
)

// Deps are the collaborators a Session drives. Submitter and Poller are nil
// when signing is delegated to the external service; SignerService is nil in
// local mode.
type Deps struct {
	Gateway       gateway.Client
	Store         *mandate.Store
	Submitter     *payment.Submitter
	Poller        *payment.Poller
	SignerService *signer.ServiceClient
	WalletAddress string
	ChainCfg      chain.Config
	Logger        *logrus.Logger
}

// Session carries one purchase attempt's state explicitly, so nothing lives
// in package globals and the flow is testable end to end.
type Session struct {
	ID string

	cfg  *config.AppConfig
	deps Deps
	log  *logrus.Logger

	mandateToken     string
	mandateExpiresAt int64
	budgetRemaining  string
	merchantTxHash   string
	commissionTxHash string
	paidUSD          decimal.Decimal
}

// NewSession creates a session for one purchase attempt.
func NewSession(cfg *config.AppConfig, deps Deps) *Session {
	log := deps.Logger
	if log == nil {
		log = logrus.New()
	}
	return &Session{
		ID:   uuid.NewString(),
		cfg:  cfg,
		deps: deps,
		log:  log,
	}
}

// AgentID is the identity mandates are issued to and cached under. The wallet
// address is appended so two wallets never share a mandate.
func (s *Session) AgentID() string {
	if s.deps.WalletAddress == "" {
		return s.cfg.Agent.Name
	}
	return fmt.Sprintf("%s-%s", s.cfg.Agent.Name, s.deps.WalletAddress)
}

// MandateToken returns the token issued or reused in this session.
func (s *Session) MandateToken() string { return s.mandateToken }

// TxHashes returns the merchant and commission transaction hashes once the
// payment has been signed.
func (s *Session) TxHashes() (merchant, commission string) {
	return s.merchantTxHash, s.commissionTxHash
}

// BudgetRemaining is the gateway-tracked budget after the last mandate
// verification.
func (s *Session) BudgetRemaining() string { return s.budgetRemaining }

// IssueMandate reuses a cached, unexpired mandate when one exists, otherwise
// issues a fresh one with the given budget. The returned token authorizes
// subsequent payments.
func (s *Session) IssueMandate(ctx context.Context, budgetUSD float64) (string, error) {
	agentID := s.AgentID()

	cached, err := s.deps.Store.Get(agentID)
	if err != nil {
		return "", fmt.Errorf("mandate cache read failed: %w", err)
	}
	if cached != nil {
		s.adoptCachedMandate(ctx, agentID, cached)
		return s.mandateToken, nil
	}

	s.log.WithFields(logrus.Fields{
		"agent_id":   agentID,
		"budget_usd": budgetUSD,
	}).Info("Issuing new mandate")

	issued, err := s.deps.Gateway.IssueMandate(ctx, gateway.IssueMandateRequest{
		Subject:    agentID,
		BudgetUSD:  budgetUSD,
		Scope:      s.cfg.Payment.MandateScope,
		TTLMinutes: int(s.cfg.Payment.MandateTTLDuration().Minutes()),
	})
	if err != nil {
		return "", err
	}

	s.mandateToken = issued.MandateToken
	s.mandateExpiresAt = issued.ExpiresAt
	s.budgetRemaining = fmt.Sprintf("%g", budgetUSD)
	if claims, err := mandate.DecodeToken(issued.MandateToken); err == nil && claims.BudgetRemaining != "" {
		s.budgetRemaining = claims.BudgetRemaining
	}

	rec := mandate.Record{
		MandateToken:    issued.MandateToken,
		ExpiresAt:       issued.ExpiresAt,
		BudgetUSD:       budgetUSD,
		BudgetRemaining: s.budgetRemaining,
	}
	if err := s.deps.Store.Save(agentID, rec); err != nil {
		s.log.Warnf("Failed to cache mandate: %v", err)
	}

	s.log.WithField("budget_remaining", s.budgetRemaining).Info("Mandate issued")
	return s.mandateToken, nil
}

// adoptCachedMandate loads a cached token and refreshes its live budget from
// the gateway, falling back to the token's own claims when the verify call
// fails.
func (s *Session) adoptCachedMandate(ctx context.Context, agentID string, cached *mandate.Record) {
	s.mandateToken = cached.MandateToken
	s.mandateExpiresAt = cached.ExpiresAt
	s.budgetRemaining = cached.BudgetRemaining

	status, err := s.deps.Gateway.VerifyMandate(ctx, cached.MandateToken)
	if err == nil && status.BudgetRemaining != "" {
		s.budgetRemaining = status.BudgetRemaining.String()
	} else if claims, decErr := mandate.DecodeToken(cached.MandateToken); decErr == nil && claims.BudgetRemaining != "" {
		s.budgetRemaining = claims.BudgetRemaining
	}

	s.log.WithFields(logrus.Fields{
		"agent_id":         agentID,
		"budget_remaining": s.budgetRemaining,
	}).Info("Reusing cached mandate")
}

// SignPayment settles the split payment on-chain: it fetches the operator's
// commission config, then either broadcasts both legs with the local signer
// or delegates to the external signing service. It records the resulting
// transaction hashes on the session.
func (s *Session) SignPayment(ctx context.Context, amountUSD decimal.Decimal, recipient string) (string, string, error) {
	commission, err := s.deps.Gateway.CommissionConfig(ctx)
	if err != nil {
		return "", "", err
	}

	s.log.WithFields(logrus.Fields{
		"amount_usd":      amountUSD.String(),
		"recipient":       recipient,
		"commission_rate": commission.CommissionRate,
	}).Info("Signing split payment")

	if s.deps.SignerService != nil {
		return s.signViaService(ctx, amountUSD, recipient)
	}

	req := payment.Request{
		TotalUSD:          amountUSD,
		CommissionRate:    commission.Rate(),
		TokenDecimals:     s.deps.ChainCfg.Decimals,
		MerchantAddress:   recipient,
		CommissionAddress: commission.CommissionAddress,
	}

	submitted, err := s.deps.Submitter.Submit(ctx, req)
	if err != nil {
		return "", "", err
	}

	s.merchantTxHash = submitted.MerchantTxHash.Hex()
	s.commissionTxHash = submitted.CommissionTxHash.Hex()
	s.paidUSD = amountUSD

	if s.deps.Poller != nil {
		if _, err := s.deps.Poller.Await(ctx, submitted, amountUSD); err != nil {
			s.log.Warnf("Verification pending after broadcast: %v", err)
		}
	}

	return s.merchantTxHash, s.commissionTxHash, nil
}

func (s *Session) signViaService(ctx context.Context, amountUSD decimal.Decimal, recipient string) (string, string, error) {
	if err := s.deps.SignerService.Health(ctx); err != nil {
		return "", "", err
	}

	resp, err := s.deps.SignerService.SignPayment(ctx, signer.SignPaymentRequest{
		AmountUSD: amountUSD.String(),
		Recipient: recipient,
		Chain:     s.deps.ChainCfg.Chain,
		Token:     s.deps.ChainCfg.Token,
	})
	if err != nil {
		return "", "", err
	}

	s.merchantTxHash = resp.MerchantTxHash
	s.commissionTxHash = resp.CommissionTxHash
	s.paidUSD = amountUSD
	return s.merchantTxHash, s.commissionTxHash, nil
}

// SubmitPayment presents the proof of both legs to the gateway, then
// refreshes the mandate budget and the cache entry.
func (s *Session) SubmitPayment(ctx context.Context) (*gateway.SubmitPaymentResult, error) {
	if s.mandateToken == "" {
		return nil, fmt.Errorf("no mandate issued in this session")
	}
	if s.merchantTxHash == "" || s.commissionTxHash == "" {
		return nil, fmt.Errorf("payment has not been signed in this session")
	}

	result, err := s.deps.Gateway.SubmitPayment(ctx, gateway.SubmitPaymentRequest{
		Proof: gateway.PaymentProof{
			Scheme:           "eip3009",
			TxHash:           s.merchantTxHash,
			TxHashCommission: s.commissionTxHash,
		},
		MandateToken: s.mandateToken,
		Chain:        s.deps.ChainCfg.Chain,
		Token:        s.deps.ChainCfg.Token,
		PriceUSD:     s.paidUSD,
	})
	if err != nil {
		return nil, err
	}

	if status, verr := s.deps.Gateway.VerifyMandate(ctx, s.mandateToken); verr == nil && status.BudgetRemaining != "" {
		s.budgetRemaining = status.BudgetRemaining.String()
		// Expiry carries over from issuance; a refresh without it would make
		// the cached mandate immortal.
		rec := mandate.Record{
			MandateToken:    s.mandateToken,
			ExpiresAt:       s.mandateExpiresAt,
			BudgetUSD:       s.cfg.Payment.MandateBudgetUSD,
			BudgetRemaining: s.budgetRemaining,
		}
		if err := s.deps.Store.Save(s.AgentID(), rec); err != nil {
			s.log.Warnf("Failed to refresh cached mandate: %v", err)
		}
	}

	return result, nil
}

// AuditLogs fetches the gateway audit trail, scoped to this session's wallet.
// A non-empty txHash retrieves the entries of that one transaction instead;
// eventType filters the listing when set.
func (s *Session) AuditLogs(ctx context.Context, eventType, txHash string) ([]gateway.AuditLog, error) {
	query := gateway.AuditQuery{
		EventType: eventType,
		TxHash:    txHash,
		Limit:     50,
	}
	if txHash == "" {
		query.ClientID = s.deps.WalletAddress
	}

	logs, err := s.deps.Gateway.AuditLogs(ctx, query)
	if err != nil {
		return nil, err
	}
	s.log.WithField("entries", len(logs)).Info("Retrieved audit logs")
	return logs, nil
}

// Result summarizes a completed purchase.
type Result struct {
	SessionID        string
	MerchantTxHash   string
	CommissionTxHash string
	MerchantTxURL    string
	CommissionTxURL  string
	PaidUSD          decimal.Decimal
	BudgetRemaining  string
	CompletedAt      time.Time
}

// Execute runs the full linear workflow without an LLM in the loop:
// issue/reuse mandate, sign both legs, submit the proof.
func (s *Session) Execute(ctx context.Context) (*Result, error) {
	if _, err := s.IssueMandate(ctx, s.cfg.Payment.MandateBudgetUSD); err != nil {
		return nil, fmt.Errorf("mandate step failed: %w", err)
	}

	price := decimal.NewFromFloat(s.cfg.Payment.ResourcePriceUSD)
	if _, _, err := s.SignPayment(ctx, price, s.cfg.Payment.SellerWallet); err != nil {
		return nil, fmt.Errorf("payment step failed: %w", err)
	}

	if _, err := s.SubmitPayment(ctx); err != nil {
		return nil, fmt.Errorf("submission step failed: %w", err)
	}

	return &Result{
		SessionID:        s.ID,
		MerchantTxHash:   s.merchantTxHash,
		CommissionTxHash: s.commissionTxHash,
		MerchantTxURL:    s.deps.ChainCfg.ExplorerTxURL(s.merchantTxHash),
		CommissionTxURL:  s.deps.ChainCfg.ExplorerTxURL(s.commissionTxHash),
		PaidUSD:          s.paidUSD,
		BudgetRemaining:  s.budgetRemaining,
		CompletedAt:      time.Now(),
	}, nil
}
