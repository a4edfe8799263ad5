package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agentgatepay/agentpay-go-sdk/internal/agent"
	"github.com/agentgatepay/agentpay-go-sdk/internal/chain"
	"github.com/agentgatepay/agentpay-go-sdk/internal/config"
	"github.com/agentgatepay/agentpay-go-sdk/internal/gateway"
	"github.com/agentgatepay/agentpay-go-sdk/internal/mandate"
	"github.com/agentgatepay/agentpay-go-sdk/internal/payment"
	"github.com/agentgatepay/agentpay-go-sdk/internal/signer"
	"github.com/agentgatepay/agentpay-go-sdk/pkg/utils"
)

type cliFlags struct {
	configPath  string
	logLevel    string
	amountUSD   float64
	recipient   string
	transport   string
	signingMode string
	useLLM      bool
	task        string
}

func main() {
	flags := &cliFlags{}

	rootCmd := &cobra.Command{
		Use:   "agentpay-agent",
		Short: "Buyer agent for AgentGatePay split payments",
		Long: `agentpay-agent purchases priced resources through the AgentGatePay
gateway: it issues (or reuses) a spending mandate, settles the price as two
on-chain ERC-20 transfers (merchant leg plus commission leg), presents the
proof to the gateway and waits for verification.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurchase(cmd.Context(), flags)
		},
	}

	rootCmd.Flags().StringVarP(&flags.configPath, "config", "c",
		utils.GetEnv("AGENT_CONFIG", "config/agent.yaml"), "Path to configuration file")
	rootCmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Float64Var(&flags.amountUSD, "amount", 0, "Override the resource price in USD")
	rootCmd.Flags().StringVar(&flags.recipient, "recipient", "", "Override the seller wallet address")
	rootCmd.Flags().StringVar(&flags.transport, "transport", "", "Gateway transport: rest or mcp")
	rootCmd.Flags().StringVar(&flags.signingMode, "signing-mode", "", "Signing mode: local or service")
	rootCmd.Flags().BoolVar(&flags.useLLM, "llm", false, "Drive the workflow through the LLM tool-calling loop")
	rootCmd.Flags().StringVar(&flags.task, "task", "", "Task prompt for the LLM driver")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runPurchase(ctx context.Context, flags *cliFlags) error {
	bootLog := logrus.New()
	bootLog.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig(flags.configPath, bootLog)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyFlagOverrides(cfg, flags)

	logger := utils.ConfigureLogger(cfg.Logging)
	logger.Infof("Starting payment agent %s", cfg.Agent.Name)

	chainCfg, err := chain.Lookup(cfg.Payment.Chain, cfg.Payment.Token)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"chain": chainCfg.Chain,
		"token": chainCfg.Token,
	}).Info("Resolved payment rails")

	gw, err := buildGateway(ctx, cfg, chainCfg, logger)
	if err != nil {
		return err
	}

	store, err := mandate.NewStore(cfg.Agent.MandateCachePath, logger)
	if err != nil {
		return fmt.Errorf("failed to open mandate cache: %w", err)
	}

	deps, err := buildSigningDeps(cfg, chainCfg, gw, logger)
	if err != nil {
		return err
	}
	deps.Gateway = gw
	deps.Store = store
	deps.ChainCfg = chainCfg
	deps.Logger = logger

	session := agent.NewSession(cfg, deps)

	if flags.useLLM || cfg.LLM.Enabled {
		return runWithLLM(ctx, cfg, session, flags, logger)
	}

	result, err := session.Execute(ctx)
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

// applyFlagOverrides lets command-line flags win over file and environment
// configuration.
func applyFlagOverrides(cfg *config.AppConfig, flags *cliFlags) {
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.amountUSD > 0 {
		cfg.Payment.ResourcePriceUSD = flags.amountUSD
	}
	if flags.recipient != "" {
		cfg.Payment.SellerWallet = flags.recipient
	}
	if flags.transport != "" {
		cfg.Gateway.Transport = flags.transport
	}
	if flags.signingMode != "" {
		cfg.Signing.Mode = flags.signingMode
	}
	if flags.useLLM {
		cfg.LLM.Enabled = true
	}
}

func buildGateway(ctx context.Context, cfg *config.AppConfig, chainCfg chain.Config, logger *logrus.Logger) (gateway.Client, error) {
	switch cfg.Gateway.Transport {
	case "mcp":
		return gateway.NewMCPClient(ctx, cfg.Gateway.MCPEndpoint, cfg.Gateway.APIKey, chainCfg.Chain, logger)
	default:
		return gateway.NewRESTClient(cfg.Gateway.APIURL, cfg.Gateway.APIKey, logger), nil
	}
}

// buildSigningDeps wires either the local key path (ethclient + submitter +
// poller) or the external signing service.
func buildSigningDeps(cfg *config.AppConfig, chainCfg chain.Config, gw gateway.Client, logger *logrus.Logger) (agent.Deps, error) {
	var deps agent.Deps

	switch cfg.Signing.Mode {
	case "service":
		deps.SignerService = signer.NewServiceClient(cfg.Signing.ServiceURL, logger)
		deps.Poller = payment.NewPoller(nil, gw, cfg.Payment.Verification.PollerConfig(), logger)
		return deps, nil

	default:
		if cfg.Signing.PrivateKey == "" {
			return deps, fmt.Errorf("signing.private_key (or BUYER_PRIVATE_KEY) is required in local mode")
		}
		localSigner, err := signer.NewLocalSigner(cfg.Signing.PrivateKey)
		if err != nil {
			return deps, err
		}

		client, err := ethclient.Dial(chainCfg.RPCURL)
		if err != nil {
			return deps, fmt.Errorf("failed to connect to %s RPC: %w", chainCfg.Chain, err)
		}

		deps.WalletAddress = localSigner.Address().Hex()
		deps.Submitter = payment.NewSubmitter(client, localSigner, chainCfg, logger)
		deps.Poller = payment.NewPoller(client, gw, cfg.Payment.Verification.PollerConfig(), logger)
		return deps, nil
	}
}

func runWithLLM(ctx context.Context, cfg *config.AppConfig, session *agent.Session, flags *cliFlags, logger *logrus.Logger) error {
	driver, err := agent.NewLLMDriver(cfg.LLM, session, logger)
	if err != nil {
		return err
	}

	task := flags.task
	if task == "" {
		task = fmt.Sprintf("Buy the resource priced at $%g USD from seller wallet %s. Use a mandate budget of $%g USD.",
			cfg.Payment.ResourcePriceUSD, cfg.Payment.SellerWallet, cfg.Payment.MandateBudgetUSD)
	}

	answer, err := driver.Run(ctx, task)
	if err != nil {
		return err
	}
	fmt.Println(answer)
	return nil
}

func printResult(result *agent.Result) {
	fmt.Println("Payment complete")
	fmt.Printf("  session:          %s\n", result.SessionID)
	fmt.Printf("  paid:             $%s\n", result.PaidUSD.String())
	fmt.Printf("  merchant tx:      %s\n", result.MerchantTxURL)
	fmt.Printf("  commission tx:    %s\n", result.CommissionTxURL)
	if result.BudgetRemaining != "" {
		fmt.Printf("  budget remaining: $%s\n", result.BudgetRemaining)
	}
}
