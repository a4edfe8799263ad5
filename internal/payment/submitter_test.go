package payment

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgatepay/agentpay-go-sdk/internal/chain"
	"github.com/agentgatepay/agentpay-go-sdk/internal/signer"
)

const testPrivateKey = "fad9c8855b740a0b7ed4c221dbad0f33a83a49cad6b3fe8d5817ac83d38b6a19"

var testChainCfg = chain.Config{
	Chain:         "base",
	Token:         "USDC",
	ChainID:       8453,
	TokenContract: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	Decimals:      6,
	Explorer:      "https://basescan.org",
}

type fakeBackend struct {
	nonce        uint64
	nonceCalls   int
	gasPrice     *big.Int
	sent         []*types.Transaction
	sendErrAfter int // fail the Nth SendTransaction call (1-based), 0 = never
	receipts     map[common.Hash]*types.Receipt
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		nonce:    7,
		gasPrice: big.NewInt(1_000_000_000),
		receipts: map[common.Hash]*types.Receipt{},
	}
}

func (b *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.nonceCalls++
	return b.nonce, nil
}

func (b *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return b.gasPrice, nil
}

func (b *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if b.sendErrAfter > 0 && len(b.sent)+1 == b.sendErrAfter {
		return errors.New("mempool rejected transaction")
	}
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if r, ok := b.receipts[txHash]; ok {
		return r, nil
	}
	return nil, errors.New("not found")
}

func testRequest() Request {
	return Request{
		TotalUSD:          dec("10"),
		CommissionRate:    dec("0.005"),
		TokenDecimals:     6,
		MerchantAddress:   "0x1111111111111111111111111111111111111111",
		CommissionAddress: "0x2222222222222222222222222222222222222222",
	}
}

func TestSubmitBroadcastsSequentialNonces(t *testing.T) {
	backend := newFakeBackend()
	s, err := signer.NewLocalSigner(testPrivateKey)
	require.NoError(t, err)

	sub := NewSubmitter(backend, s, testChainCfg, nil)
	result, err := sub.Submit(context.Background(), testRequest())
	require.NoError(t, err)

	require.Len(t, backend.sent, 2)
	assert.Equal(t, 1, backend.nonceCalls, "nonce must be read exactly once")
	assert.Equal(t, uint64(7), backend.sent[0].Nonce())
	assert.Equal(t, uint64(8), backend.sent[1].Nonce())
	assert.Equal(t, uint64(7), result.Nonce)

	// Both legs call the token contract, not the recipients.
	tokenAddr := common.HexToAddress(testChainCfg.TokenContract)
	assert.Equal(t, tokenAddr, *backend.sent[0].To())
	assert.Equal(t, tokenAddr, *backend.sent[1].To())
	assert.Zero(t, backend.sent[0].Value().Sign())

	assert.Equal(t, result.MerchantTxHash, backend.sent[0].Hash())
	assert.Equal(t, result.CommissionTxHash, backend.sent[1].Hash())
	assert.Equal(t, int64(9_950_000), result.Amounts.MerchantAtomic.Int64())
	assert.Equal(t, int64(50_000), result.Amounts.CommissionAtomic.Int64())
}

func TestSubmitEncodesLegsForTheirRecipients(t *testing.T) {
	backend := newFakeBackend()
	s, err := signer.NewLocalSigner(testPrivateKey)
	require.NoError(t, err)

	sub := NewSubmitter(backend, s, testChainCfg, nil)
	req := testRequest()
	_, err = sub.Submit(context.Background(), req)
	require.NoError(t, err)

	merchantData, err := EncodeTransfer(req.MerchantAddress, big.NewInt(9_950_000))
	require.NoError(t, err)
	commissionData, err := EncodeTransfer(req.CommissionAddress, big.NewInt(50_000))
	require.NoError(t, err)

	assert.Equal(t, merchantData, backend.sent[0].Data())
	assert.Equal(t, commissionData, backend.sent[1].Data())
}

func TestSubmitStopsWhenMerchantBroadcastFails(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErrAfter = 1
	s, err := signer.NewLocalSigner(testPrivateKey)
	require.NoError(t, err)

	sub := NewSubmitter(backend, s, testChainCfg, nil)
	_, err = sub.Submit(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Empty(t, backend.sent, "no retry after a failed broadcast")
}

func TestSubmitReportsPartialBroadcast(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErrAfter = 2
	s, err := signer.NewLocalSigner(testPrivateKey)
	require.NoError(t, err)

	sub := NewSubmitter(backend, s, testChainCfg, nil)
	_, err = sub.Submit(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	// The merchant leg is already in the mempool; the error says so.
	assert.Contains(t, err.Error(), "already in mempool")
	assert.Len(t, backend.sent, 1)
}

func TestSubmitRejectsInvalidRequestBeforeAnyRPC(t *testing.T) {
	backend := newFakeBackend()
	s, err := signer.NewLocalSigner(testPrivateKey)
	require.NoError(t, err)

	sub := NewSubmitter(backend, s, testChainCfg, nil)
	req := testRequest()
	req.MerchantAddress = "bogus"
	_, err = sub.Submit(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, KindConfiguration, KindOf(err))
	assert.Zero(t, backend.nonceCalls)
	assert.Empty(t, backend.sent)
}
