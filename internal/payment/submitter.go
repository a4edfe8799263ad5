package payment

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/agentgatepay/agentpay-go-sdk/internal/chain"
	"github.com/agentgatepay/agentpay-go-sdk/internal/signer"
)

// defaultGasLimit matches the fixed gas budget used for plain ERC-20
// transfers throughout the gateway's reference flows.
const defaultGasLimit = 100_000

// ChainBackend is the subset of ethclient.Client the submitter and poller
// need. *ethclient.Client satisfies it.
type ChainBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Submitter broadcasts the two legs of a split payment. The legs are
// independent transactions with no atomicity between them: either can land
// while the other fails.
type Submitter struct {
	backend  ChainBackend
	signer   signer.Signer
	chainCfg chain.Config
	gasLimit uint64
	logger   *logrus.Logger
}

// SubmitResult records what went into the mempool.
type SubmitResult struct {
	MerchantTxHash   common.Hash
	CommissionTxHash common.Hash
	Nonce            uint64
	Amounts          SplitAmounts
}

// NewSubmitter creates a Submitter for one chain/token pair.
func NewSubmitter(backend ChainBackend, s signer.Signer, chainCfg chain.Config, logger *logrus.Logger) *Submitter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Submitter{
		backend:  backend,
		signer:   s,
		chainCfg: chainCfg,
		gasLimit: defaultGasLimit,
		logger:   logger,
	}
}

// Submit splits the payment, signs the merchant leg at the sender's current
// nonce N and the commission leg at N+1, then broadcasts both. The nonce is
// read exactly once and both legs are signed before either broadcast, so the
// second leg cannot collide when the two are sent back-to-back. Errors abort
// immediately; retries belong to the verification step, not submission.
func (s *Submitter) Submit(ctx context.Context, req Request) (*SubmitResult, error) {
	amounts, err := Split(req)
	if err != nil {
		return nil, wrapErr(KindConfiguration, "split", err)
	}

	merchantData, err := EncodeTransfer(req.MerchantAddress, amounts.MerchantAtomic)
	if err != nil {
		return nil, wrapErr(KindConfiguration, "encode merchant leg", err)
	}
	commissionData, err := EncodeTransfer(req.CommissionAddress, amounts.CommissionAtomic)
	if err != nil {
		return nil, wrapErr(KindConfiguration, "encode commission leg", err)
	}

	nonce, err := s.backend.PendingNonceAt(ctx, s.signer.Address())
	if err != nil {
		return nil, wrapErr(KindNetwork, "fetch nonce", err)
	}
	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, wrapErr(KindNetwork, "fetch gas price", err)
	}

	tokenAddr := common.HexToAddress(s.chainCfg.TokenContract)
	chainID := big.NewInt(s.chainCfg.ChainID)

	merchantTx := types.NewTransaction(nonce, tokenAddr, big.NewInt(0), s.gasLimit, gasPrice, merchantData)
	commissionTx := types.NewTransaction(nonce+1, tokenAddr, big.NewInt(0), s.gasLimit, gasPrice, commissionData)

	signedMerchant, err := s.signer.SignTx(merchantTx, chainID)
	if err != nil {
		return nil, wrapErr(KindSigning, "sign merchant leg", err)
	}
	signedCommission, err := s.signer.SignTx(commissionTx, chainID)
	if err != nil {
		return nil, wrapErr(KindSigning, "sign commission leg", err)
	}

	s.logger.WithFields(logrus.Fields{
		"chain":       s.chainCfg.Chain,
		"token":       s.chainCfg.Token,
		"nonce":       nonce,
		"merchant":    amounts.MerchantAtomic.String(),
		"commission":  amounts.CommissionAtomic.String(),
		"merchant_tx": signedMerchant.Hash().Hex(),
	}).Info("Broadcasting split payment")

	if err := s.backend.SendTransaction(ctx, signedMerchant); err != nil {
		return nil, wrapErr(KindNetwork, "broadcast merchant leg", err)
	}
	if err := s.backend.SendTransaction(ctx, signedCommission); err != nil {
		return nil, wrapErr(KindNetwork, fmt.Sprintf("broadcast commission leg (merchant leg %s already in mempool)", signedMerchant.Hash().Hex()), err)
	}

	return &SubmitResult{
		MerchantTxHash:   signedMerchant.Hash(),
		CommissionTxHash: signedCommission.Hash(),
		Nonce:            nonce,
		Amounts:          amounts,
	}, nil
}
