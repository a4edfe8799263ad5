package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/agentgatepay/agentpay-go-sdk/pkg/utils"
)

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(path string, logger *logrus.Logger) (*AppConfig, error) {
	// A .env next to the process is a convenience for local runs
	_ = godotenv.Load()

	// Start with default configuration
	config := DefaultConfig()

	// Check if the config file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Warnf("Configuration file %s not found, using defaults", path)
		// Still apply environment overrides even with defaults
		applyEnvironmentOverrides(config)
		if err := validateConfig(config); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return config, nil
	}

	// Read the configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the configuration
	configString := utils.ExpandEnvVars(string(data))

	// Parse YAML
	if err := yaml.Unmarshal([]byte(configString), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override with environment variables
	applyEnvironmentOverrides(config)

	// Validate the configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig checks if the configuration is valid
func validateConfig(config *AppConfig) error {
	if config.Agent.Name == "" {
		return fmt.Errorf("agent name cannot be empty")
	}

	switch config.Gateway.Transport {
	case "rest":
		if config.Gateway.APIURL == "" {
			return fmt.Errorf("gateway.api_url cannot be empty with the rest transport")
		}
	case "mcp":
		if config.Gateway.MCPEndpoint == "" {
			return fmt.Errorf("gateway.mcp_endpoint must be set with the mcp transport")
		}
	default:
		return fmt.Errorf("gateway.transport must be 'rest' or 'mcp', got %q", config.Gateway.Transport)
	}

	switch config.Signing.Mode {
	case "local":
		// The key itself is checked when the signer is constructed, so a
		// config without a key can still be loaded for read-only commands.
	case "service":
		if config.Signing.ServiceURL == "" {
			return fmt.Errorf("signing.service_url must be set when signing.mode is 'service'")
		}
	default:
		return fmt.Errorf("signing.mode must be 'local' or 'service', got %q", config.Signing.Mode)
	}

	if config.Payment.MandateBudgetUSD <= 0 {
		return fmt.Errorf("payment.mandate_budget_usd must be positive")
	}
	if config.Payment.ResourcePriceUSD <= 0 {
		return fmt.Errorf("payment.resource_price_usd must be positive")
	}

	v := config.Payment.Verification
	if v.SmallMaxAttempts <= 0 || v.RegularMaxAttempts <= 0 {
		return fmt.Errorf("verification retry budgets must be positive")
	}
	if v.IntervalSeconds <= 0 {
		return fmt.Errorf("verification.interval_seconds must be positive")
	}

	if config.LLM.Enabled && config.LLM.APIKey == "" {
		return fmt.Errorf("OpenAI API key cannot be empty when the LLM driver is enabled")
	}

	return nil
}

// applyEnvironmentOverrides applies environment variable overrides to the configuration
func applyEnvironmentOverrides(config *AppConfig) {
	if name := os.Getenv("AGENT_NAME"); name != "" {
		config.Agent.Name = name
	}

	// Gateway overrides
	if url := os.Getenv("AGENTPAY_API_URL"); url != "" {
		config.Gateway.APIURL = url
	}
	if endpoint := os.Getenv("AGENTPAY_MCP_ENDPOINT"); endpoint != "" {
		config.Gateway.MCPEndpoint = endpoint
	}
	if key := os.Getenv("BUYER_API_KEY"); key != "" {
		config.Gateway.APIKey = key
	}

	// Payment overrides
	if chain := os.Getenv("PAYMENT_CHAIN"); chain != "" {
		config.Payment.Chain = chain
	}
	if token := os.Getenv("PAYMENT_TOKEN"); token != "" {
		config.Payment.Token = token
	}
	if wallet := os.Getenv("SELLER_WALLET"); wallet != "" {
		config.Payment.SellerWallet = wallet
	}
	if price := os.Getenv("RESOURCE_PRICE_USD"); price != "" {
		if v, err := strconv.ParseFloat(price, 64); err != nil {
			logrus.Warnf("Invalid RESOURCE_PRICE_USD: %s", price)
		} else {
			config.Payment.ResourcePriceUSD = v
		}
	}
	if budget := os.Getenv("MANDATE_BUDGET_USD"); budget != "" {
		if v, err := strconv.ParseFloat(budget, 64); err != nil {
			logrus.Warnf("Invalid MANDATE_BUDGET_USD: %s", budget)
		} else {
			config.Payment.MandateBudgetUSD = v
		}
	}

	// Signing overrides
	if key := os.Getenv("BUYER_PRIVATE_KEY"); key != "" {
		config.Signing.PrivateKey = key
	}
	if url := os.Getenv("TX_SIGNING_SERVICE_URL"); url != "" {
		config.Signing.ServiceURL = url
		if config.Signing.Mode == "" {
			config.Signing.Mode = "service"
		}
	}

	// LLM overrides
	config.LLM.Enabled = utils.BoolFromEnv("LLM_ENABLED", config.LLM.Enabled)
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		config.LLM.Model = model
	}

	// Logging overrides
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}
