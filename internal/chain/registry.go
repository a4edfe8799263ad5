package chain

import (
	"fmt"
	"os"
	"strings"
)

// Config describes the chain and token a payment settles on.
type Config struct {
	Chain         string `yaml:"chain" json:"chain"`
	Token         string `yaml:"token" json:"token"`
	ChainID       int64  `yaml:"chain_id" json:"chain_id"`
	RPCURL        string `yaml:"rpc_url" json:"rpc_url"`
	TokenContract string `yaml:"token_contract" json:"token_contract"`
	Decimals      int    `yaml:"decimals" json:"decimals"`
	Explorer      string `yaml:"explorer" json:"explorer"`
}

var chainIDs = map[string]int64{
	"ethereum": 1,
	"base":     8453,
	"polygon":  137,
	"arbitrum": 42161,
}

var explorers = map[string]string{
	"ethereum": "https://etherscan.io",
	"base":     "https://basescan.org",
	"polygon":  "https://polygonscan.com",
	"arbitrum": "https://arbiscan.io",
}

var defaultRPCs = map[string]string{
	"ethereum": "https://eth-mainnet.public.blastapi.io",
	"base":     "https://mainnet.base.org",
	"polygon":  "https://polygon-rpc.com",
	"arbitrum": "https://arb1.arbitrum.io/rpc",
}

var rpcEnvVars = map[string]string{
	"ethereum": "ETHEREUM_RPC_URL",
	"base":     "BASE_RPC_URL",
	"polygon":  "POLYGON_RPC_URL",
	"arbitrum": "ARBITRUM_RPC_URL",
}

var usdcContracts = map[string]string{
	"ethereum": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	"base":     "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	"polygon":  "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
	"arbitrum": "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
}

// USDT has no canonical deployment on Base.
var usdtContracts = map[string]string{
	"ethereum": "0xdAC17F958D2ee523a2206206994597C13D831ec7",
	"polygon":  "0xc2132D05D31c914a87C6611C10748AEb04B58e8F",
	"arbitrum": "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9",
}

var daiContracts = map[string]string{
	"ethereum": "0x6B175474E89094C44Da98b954EedeAC495271d0F",
	"base":     "0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb",
	"polygon":  "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063",
	"arbitrum": "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1",
}

// Lookup resolves the chain/token pair into a full Config. The RPC URL can be
// overridden with the per-chain environment variable (e.g. BASE_RPC_URL).
func Lookup(chainName, token string) (Config, error) {
	chainName = strings.ToLower(strings.TrimSpace(chainName))
	token = strings.ToUpper(strings.TrimSpace(token))

	chainID, ok := chainIDs[chainName]
	if !ok {
		return Config{}, fmt.Errorf("unsupported chain %q (options: ethereum, base, polygon, arbitrum)", chainName)
	}

	var contract string
	var decimals int
	switch token {
	case "USDC":
		contract = usdcContracts[chainName]
		decimals = 6
	case "USDT":
		contract = usdtContracts[chainName]
		decimals = 6
		if contract == "" {
			return Config{}, fmt.Errorf("USDT is not available on %s, use USDC or DAI", chainName)
		}
	case "DAI":
		contract = daiContracts[chainName]
		decimals = 18
	default:
		return Config{}, fmt.Errorf("unsupported token %q (options: USDC, USDT, DAI)", token)
	}

	rpcURL := defaultRPCs[chainName]
	if env := os.Getenv(rpcEnvVars[chainName]); env != "" {
		rpcURL = env
	}

	return Config{
		Chain:         chainName,
		Token:         token,
		ChainID:       chainID,
		RPCURL:        rpcURL,
		TokenContract: contract,
		Decimals:      decimals,
		Explorer:      explorers[chainName],
	}, nil
}

// ExplorerTxURL returns the block explorer link for a transaction hash.
func (c Config) ExplorerTxURL(txHash string) string {
	return fmt.Sprintf("%s/tx/%s", c.Explorer, txHash)
}
