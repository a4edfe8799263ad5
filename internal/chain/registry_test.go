package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		name         string
		chain        string
		token        string
		wantChainID  int64
		wantDecimals int
	}{
		{"base usdc", "base", "USDC", 8453, 6},
		{"ethereum usdt", "ethereum", "USDT", 1, 6},
		{"polygon dai", "polygon", "DAI", 137, 18},
		{"arbitrum usdc", "arbitrum", "USDC", 42161, 6},
		{"case and whitespace tolerant", " Base ", "usdc", 8453, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Lookup(tt.chain, tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.wantChainID, cfg.ChainID)
			assert.Equal(t, tt.wantDecimals, cfg.Decimals)
			assert.NotEmpty(t, cfg.TokenContract)
			assert.NotEmpty(t, cfg.RPCURL)
			assert.NotEmpty(t, cfg.Explorer)
		})
	}
}

func TestLookupRejectsUnknownPairs(t *testing.T) {
	_, err := Lookup("solana", "USDC")
	assert.Error(t, err)

	_, err = Lookup("base", "SHIB")
	assert.Error(t, err)

	// USDT has no canonical Base deployment.
	_, err = Lookup("base", "USDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "USDT is not available")
}

func TestLookupRPCEnvOverride(t *testing.T) {
	t.Setenv("BASE_RPC_URL", "https://rpc.example.test")
	cfg, err := Lookup("base", "USDC")
	require.NoError(t, err)
	assert.Equal(t, "https://rpc.example.test", cfg.RPCURL)
}

func TestExplorerTxURL(t *testing.T) {
	cfg, err := Lookup("base", "USDC")
	require.NoError(t, err)
	assert.Equal(t, "https://basescan.org/tx/0xabc", cfg.ExplorerTxURL("0xabc"))
}
