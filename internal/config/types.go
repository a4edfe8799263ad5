package config

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentgatepay/agentpay-go-sdk/internal/payment"
	"github.com/agentgatepay/agentpay-go-sdk/pkg/utils"
)

// AppConfig is the root configuration for the payment agent.
type AppConfig struct {
	Agent   AgentConfig     `yaml:"agent"`
	Gateway GatewayConfig   `yaml:"gateway"`
	Payment PaymentConfig   `yaml:"payment"`
	Signing SigningConfig   `yaml:"signing"`
	LLM     LLMConfig       `yaml:"llm"`
	Logging utils.LogConfig `yaml:"logging"`
}

// AgentConfig identifies the buyer agent.
type AgentConfig struct {
	// Name prefixes the agent identity; the wallet address is appended so
	// mandates are cached per wallet.
	Name string `yaml:"name"`

	// MandateCachePath overrides ~/.agentgatepay_mandates.json.
	MandateCachePath string `yaml:"mandate_cache_path"`
}

// GatewayConfig selects the AgentGatePay transport and credentials.
type GatewayConfig struct {
	// Transport is "rest" or "mcp".
	Transport   string `yaml:"transport"`
	APIURL      string `yaml:"api_url"`
	MCPEndpoint string `yaml:"mcp_endpoint"`
	APIKey      string `yaml:"api_key"`
}

// PaymentConfig describes what to buy and on which rails.
type PaymentConfig struct {
	Chain            string  `yaml:"chain"`
	Token            string  `yaml:"token"`
	SellerWallet     string  `yaml:"seller_wallet"`
	ResourcePriceUSD float64 `yaml:"resource_price_usd"`
	MandateBudgetUSD float64 `yaml:"mandate_budget_usd"`
	MandateScope     string  `yaml:"mandate_scope"`
	MandateTTL       string  `yaml:"mandate_ttl"`

	Verification VerificationConfig `yaml:"verification"`
}

// VerificationConfig exposes the confirmation poller's retry policy. The
// tier boundary and budgets track the gateway's batching SLA, which is why
// they live in configuration instead of code.
type VerificationConfig struct {
	SmallMaxAttempts   int     `yaml:"small_max_attempts"`
	RegularMaxAttempts int     `yaml:"regular_max_attempts"`
	IntervalSeconds    int     `yaml:"interval_seconds"`
	SmallThresholdUSD  float64 `yaml:"small_threshold_usd"`
	AmountToleranceUSD float64 `yaml:"amount_tolerance_usd"`
}

// SigningConfig selects local-key or external-service signing.
type SigningConfig struct {
	// Mode is "local" or "service".
	Mode       string `yaml:"mode"`
	PrivateKey string `yaml:"private_key"`
	ServiceURL string `yaml:"service_url"`
}

// LLMConfig controls the optional tool-calling agent driver.
type LLMConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
}

// PollerConfig translates the verification settings into the poller's
// runtime policy, keeping the receipt-watch defaults.
func (v VerificationConfig) PollerConfig() payment.PollerConfig {
	cfg := payment.DefaultPollerConfig()
	interval := time.Duration(v.IntervalSeconds) * time.Second
	cfg.SmallPayment = payment.RetryPolicy{MaxAttempts: v.SmallMaxAttempts, Interval: interval}
	cfg.Regular = payment.RetryPolicy{MaxAttempts: v.RegularMaxAttempts, Interval: interval}
	cfg.SmallPaymentThreshold = decimal.NewFromFloat(v.SmallThresholdUSD)
	cfg.AmountTolerance = decimal.NewFromFloat(v.AmountToleranceUSD)
	return cfg
}

// MandateTTLDuration parses the mandate TTL, defaulting to one week.
func (p PaymentConfig) MandateTTLDuration() time.Duration {
	d, err := time.ParseDuration(p.MandateTTL)
	if err != nil || d <= 0 {
		return 7 * 24 * time.Hour
	}
	return d
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Agent: AgentConfig{
			Name: "research-assistant",
		},
		Gateway: GatewayConfig{
			Transport: "rest",
			APIURL:    "https://api.agentgatepay.com",
		},
		Payment: PaymentConfig{
			Chain:            "base",
			Token:            "USDC",
			ResourcePriceUSD: 0.01,
			MandateBudgetUSD: 100.0,
			MandateScope:     "resource.read,payment.execute",
			MandateTTL:       "168h",
			Verification: VerificationConfig{
				SmallMaxAttempts:   6,
				RegularMaxAttempts: 12,
				IntervalSeconds:    10,
				SmallThresholdUSD:  1.0,
				AmountToleranceUSD: 0.01,
			},
		},
		Signing: SigningConfig{
			Mode: "local",
		},
		LLM: LLMConfig{
			Enabled: false,
			Model:   "gpt-4",
		},
		Logging: utils.DefaultLogConfig(),
	}
}
