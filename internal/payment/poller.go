package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Status is the verifier-reported state of a payment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusNotFound  Status = "not_found"
)

// State tracks a payment through the confirmation pipeline.
type State string

const (
	StateSubmitted            State = "submitted"
	StateAwaitingReceipt      State = "awaiting_receipt"
	StateAwaitingVerification State = "awaiting_remote_verification"
	StateConfirmed            State = "confirmed"
	StateFailed               State = "failed"
)

// ConfirmationResult is the verifier's view of a payment. It is owned by the
// external gateway and treated as an opaque read.
type ConfirmationResult struct {
	Verified  bool            `json:"verified"`
	Status    Status          `json:"status"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
	Timestamp time.Time       `json:"timestamp"`
	Error     string          `json:"error,omitempty"`
}

// Verifier reports whether the gateway has accepted a payment. Both the REST
// and MCP gateway clients implement it.
type Verifier interface {
	VerifyPayment(ctx context.Context, txHash string) (*ConfirmationResult, error)
}

// RetryPolicy bounds the verification polling loop.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Interval    time.Duration `yaml:"interval"`
}

// PollerConfig carries the per-tier retry policies. The tiers mirror the
// gateway's verification modes: sub-threshold payments are batched
// asynchronously on the vendor side (optimistic mode), larger ones confirm
// synchronously but need time to propagate across public RPC nodes. The
// thresholds are vendor SLA, so they are configuration rather than constants.
type PollerConfig struct {
	SmallPayment          RetryPolicy     `yaml:"small_payment"`
	Regular               RetryPolicy     `yaml:"regular"`
	SmallPaymentThreshold decimal.Decimal `yaml:"small_payment_threshold"`
	AmountTolerance       decimal.Decimal `yaml:"amount_tolerance"`
	ReceiptTimeout        time.Duration   `yaml:"receipt_timeout"`
	ReceiptInterval       time.Duration   `yaml:"receipt_interval"`
}

// DefaultPollerConfig returns the policy observed against the production
// gateway: 6 attempts at 10s under $1, 12 attempts at 10s otherwise, with a
// $0.01 match tolerance on the verified amount.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		SmallPayment:          RetryPolicy{MaxAttempts: 6, Interval: 10 * time.Second},
		Regular:               RetryPolicy{MaxAttempts: 12, Interval: 10 * time.Second},
		SmallPaymentThreshold: decimal.NewFromInt(1),
		AmountTolerance:       decimal.NewFromFloat(0.01),
		ReceiptTimeout:        60 * time.Second,
		ReceiptInterval:       2 * time.Second,
	}
}

// Poller waits for a submitted payment to be accepted. On-chain receipt
// waiting and remote verification polling run concurrently; the receipt is
// informational, the verifier verdict decides.
type Poller struct {
	backend  ChainBackend
	verifier Verifier
	cfg      PollerConfig
	logger   *logrus.Logger
}

// NewPoller creates a Poller. backend may be nil, in which case receipt
// waiting is skipped and only the remote verifier is polled.
func NewPoller(backend ChainBackend, verifier Verifier, cfg PollerConfig, logger *logrus.Logger) *Poller {
	if logger == nil {
		logger = logrus.New()
	}
	return &Poller{
		backend:  backend,
		verifier: verifier,
		cfg:      cfg,
		logger:   logger,
	}
}

func (p *Poller) policyFor(amountUSD decimal.Decimal) RetryPolicy {
	if amountUSD.LessThan(p.cfg.SmallPaymentThreshold) {
		return p.cfg.SmallPayment
	}
	return p.cfg.Regular
}

// Await polls the verifier for the merchant leg until the payment is
// confirmed, terminally rejected, or the retry budget is exhausted. It never
// loops indefinitely: once the policy's attempts are spent it reports
// StatusFailed.
func (p *Poller) Await(ctx context.Context, submitted *SubmitResult, expectedUSD decimal.Decimal) (*ConfirmationResult, error) {
	state := StateSubmitted
	transition := func(next State) {
		p.logger.WithFields(logrus.Fields{
			"from": state,
			"to":   next,
			"tx":   submitted.MerchantTxHash.Hex(),
		}).Debug("Confirmation state transition")
		state = next
	}

	transition(StateAwaitingReceipt)
	receiptCh := p.watchReceipts(ctx, submitted)

	transition(StateAwaitingVerification)

	policy := p.policyFor(expectedUSD)
	p.logger.WithFields(logrus.Fields{
		"amount_usd":   expectedUSD.String(),
		"max_attempts": policy.MaxAttempts,
		"interval":     policy.Interval.String(),
	}).Info("Polling gateway for payment verification")

	var verification *ConfirmationResult
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(policy.MaxAttempts-1), retry.NewConstant(policy.Interval))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		res, err := p.verifier.VerifyPayment(ctx, submitted.MerchantTxHash.Hex())
		if err != nil {
			p.logger.WithField("attempt", attempt).Warnf("Verification call failed: %v", err)
			return retry.RetryableError(err)
		}
		if res.Verified {
			verification = res
			return nil
		}
		switch {
		case res.Status == StatusPending:
			return retry.RetryableError(fmt.Errorf("payment still pending"))
		case res.Error == "Payment not found" || res.Status == StatusNotFound:
			return retry.RetryableError(fmt.Errorf("payment not indexed yet"))
		default:
			// Terminal verifier verdict, stop retrying.
			verification = res
			return fmt.Errorf("verifier rejected payment: %s", res.Error)
		}
	})

	if err != nil {
		transition(StateFailed)
		if verification == nil {
			verification = &ConfirmationResult{Status: StatusFailed, Timestamp: time.Now()}
		} else {
			verification.Status = StatusFailed
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return verification, wrapErr(KindNetwork, "await verification", err)
		}
		return verification, wrapErr(KindVerification, "await verification",
			fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempt, err))
	}

	if verification.AmountUSD.IsPositive() {
		drift := verification.AmountUSD.Sub(expectedUSD).Abs()
		if drift.GreaterThan(p.cfg.AmountTolerance) {
			transition(StateFailed)
			return verification, wrapErr(KindVerification, "amount check",
				fmt.Errorf("verified amount $%s does not match expected $%s", verification.AmountUSD, expectedUSD))
		}
	}

	p.joinReceipts(ctx, receiptCh)

	transition(StateConfirmed)
	if verification.Status == StatusPending {
		p.logger.Info("Payment accepted in optimistic mode, on-chain finality pending")
	}
	return verification, nil
}

type receiptOutcome struct {
	leg string
	err error
}

// watchReceipts waits for both legs' receipts in the background. A missing
// backend or a timed-out receipt is logged, not fatal: the gateway verifier
// is the source of truth for acceptance.
func (p *Poller) watchReceipts(ctx context.Context, submitted *SubmitResult) <-chan receiptOutcome {
	ch := make(chan receiptOutcome, 2)
	if p.backend == nil {
		close(ch)
		return ch
	}

	wait := func(leg string, hash common.Hash) {
		deadline := time.Now().Add(p.cfg.ReceiptTimeout)
		for {
			receipt, err := p.backend.TransactionReceipt(ctx, hash)
			if err == nil && receipt != nil {
				p.logger.WithFields(logrus.Fields{
					"leg":   leg,
					"block": receipt.BlockNumber,
				}).Info("On-chain receipt observed")
				ch <- receiptOutcome{leg: leg}
				return
			}
			if time.Now().After(deadline) {
				ch <- receiptOutcome{leg: leg, err: fmt.Errorf("no receipt within %s", p.cfg.ReceiptTimeout)}
				return
			}
			select {
			case <-ctx.Done():
				ch <- receiptOutcome{leg: leg, err: ctx.Err()}
				return
			case <-time.After(p.cfg.ReceiptInterval):
			}
		}
	}

	go wait("merchant", submitted.MerchantTxHash)
	go wait("commission", submitted.CommissionTxHash)
	return ch
}

// joinReceipts drains the receipt watchers, bounded by the receipt timeout.
func (p *Poller) joinReceipts(ctx context.Context, ch <-chan receiptOutcome) {
	if p.backend == nil {
		return
	}
	deadline := time.After(p.cfg.ReceiptTimeout)
	for i := 0; i < 2; i++ {
		select {
		case outcome, ok := <-ch:
			if !ok {
				return
			}
			if outcome.err != nil {
				p.logger.Warnf("Receipt wait for %s leg: %v", outcome.leg, outcome.err)
			}
		case <-deadline:
			p.logger.Warn("Timed out joining receipt watchers")
			return
		case <-ctx.Done():
			return
		}
	}
}
