package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgatepay/agentpay-go-sdk/internal/chain"
	"github.com/agentgatepay/agentpay-go-sdk/internal/config"
	"github.com/agentgatepay/agentpay-go-sdk/internal/gateway"
	"github.com/agentgatepay/agentpay-go-sdk/internal/mandate"
	"github.com/agentgatepay/agentpay-go-sdk/internal/payment"
	"github.com/agentgatepay/agentpay-go-sdk/internal/signer"
)

type fakeGateway struct {
	issued        int
	verifyCalls   int
	submitted     []gateway.SubmitPaymentRequest
	auditQueries  []gateway.AuditQuery
	auditLogs     []gateway.AuditLog
	mandateToken  string
	budgetLeft    json.Number
	verifyErr     error
	submitErr     error
	commissionErr error
}

func (g *fakeGateway) IssueMandate(ctx context.Context, req gateway.IssueMandateRequest) (*gateway.Mandate, error) {
	g.issued++
	return &gateway.Mandate{MandateToken: g.mandateToken, ExpiresAt: 1_900_000_000}, nil
}

func (g *fakeGateway) VerifyMandate(ctx context.Context, token string) (*gateway.MandateStatus, error) {
	g.verifyCalls++
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return &gateway.MandateStatus{Valid: true, BudgetRemaining: g.budgetLeft}, nil
}

func (g *fakeGateway) CommissionConfig(ctx context.Context) (*gateway.CommissionConfig, error) {
	if g.commissionErr != nil {
		return nil, g.commissionErr
	}
	return &gateway.CommissionConfig{
		CommissionAddress: "0x2222222222222222222222222222222222222222",
		CommissionRate:    0.005,
	}, nil
}

func (g *fakeGateway) SubmitPayment(ctx context.Context, req gateway.SubmitPaymentRequest) (*gateway.SubmitPaymentResult, error) {
	if g.submitErr != nil {
		return nil, g.submitErr
	}
	g.submitted = append(g.submitted, req)
	return &gateway.SubmitPaymentResult{Accepted: true, Message: "resource delivered"}, nil
}

func (g *fakeGateway) VerifyPayment(ctx context.Context, txHash string) (*payment.ConfirmationResult, error) {
	return &payment.ConfirmationResult{Verified: true, Status: payment.StatusConfirmed}, nil
}

func (g *fakeGateway) AuditLogs(ctx context.Context, q gateway.AuditQuery) ([]gateway.AuditLog, error) {
	g.auditQueries = append(g.auditQueries, q)
	return g.auditLogs, nil
}

func signingService(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.Write([]byte(`{"status": "ok"}`))
		case "/sign-payment":
			json.NewEncoder(w).Encode(signer.SignPaymentResponse{
				MerchantTxHash:   "0xmerchant",
				CommissionTxHash: "0xcommission",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func testSession(t *testing.T, gw *fakeGateway) *Session {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Agent.Name = "test-buyer"
	cfg.Payment.SellerWallet = "0x1111111111111111111111111111111111111111"
	cfg.Payment.ResourcePriceUSD = 0.01
	cfg.Payment.MandateBudgetUSD = 100

	store, err := mandate.NewStore(filepath.Join(t.TempDir(), "mandates.json"), nil)
	require.NoError(t, err)

	chainCfg, err := chain.Lookup("base", "USDC")
	require.NoError(t, err)

	return NewSession(cfg, Deps{
		Gateway:       gw,
		Store:         store,
		SignerService: signer.NewServiceClient(signingService(t).URL, nil),
		WalletAddress: "0xBuyerWallet",
		ChainCfg:      chainCfg,
	})
}

func TestAgentIDIncludesWallet(t *testing.T) {
	gw := &fakeGateway{mandateToken: "tok"}
	session := testSession(t, gw)
	assert.Equal(t, "test-buyer-0xBuyerWallet", session.AgentID())
}

func TestIssueMandateCachesToken(t *testing.T) {
	gw := &fakeGateway{mandateToken: "tok-1", budgetLeft: "100"}
	session := testSession(t, gw)

	token, err := session.IssueMandate(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
	assert.Equal(t, 1, gw.issued)

	// A second session against the same store reuses the cached token.
	second := NewSession(session.cfg, session.deps)
	token, err = second.IssueMandate(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
	assert.Equal(t, 1, gw.issued, "no second issuance while the cache is warm")
	assert.Equal(t, "100", second.BudgetRemaining())
}

func TestIssueMandateReuseSurvivesVerifyOutage(t *testing.T) {
	gw := &fakeGateway{mandateToken: "tok-1", budgetLeft: "50"}
	session := testSession(t, gw)
	_, err := session.IssueMandate(context.Background(), 100)
	require.NoError(t, err)

	gw.verifyErr = context.DeadlineExceeded
	second := NewSession(session.cfg, session.deps)
	token, err := second.IssueMandate(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token, "verify outage must not force re-issuance")
}

func TestSignPaymentViaService(t *testing.T) {
	gw := &fakeGateway{mandateToken: "tok"}
	session := testSession(t, gw)

	merchantTx, commissionTx, err := session.SignPayment(context.Background(), decimal.NewFromFloat(0.01), "0x1111111111111111111111111111111111111111")
	require.NoError(t, err)
	assert.Equal(t, "0xmerchant", merchantTx)
	assert.Equal(t, "0xcommission", commissionTx)
}

func TestSubmitPaymentRequiresPriorSteps(t *testing.T) {
	gw := &fakeGateway{mandateToken: "tok"}
	session := testSession(t, gw)

	_, err := session.SubmitPayment(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no mandate")

	_, err = session.IssueMandate(context.Background(), 100)
	require.NoError(t, err)

	_, err = session.SubmitPayment(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not been signed")
}

func TestExecuteRunsFullWorkflow(t *testing.T) {
	gw := &fakeGateway{mandateToken: "tok", budgetLeft: "99.99"}
	session := testSession(t, gw)

	result, err := session.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "0xmerchant", result.MerchantTxHash)
	assert.Equal(t, "0xcommission", result.CommissionTxHash)
	assert.Contains(t, result.MerchantTxURL, "basescan.org/tx/0xmerchant")
	assert.True(t, result.PaidUSD.Equal(decimal.NewFromFloat(0.01)))
	assert.Equal(t, "99.99", result.BudgetRemaining)

	require.Len(t, gw.submitted, 1)
	sub := gw.submitted[0]
	assert.Equal(t, "tok", sub.MandateToken)
	assert.Equal(t, "0xmerchant", sub.Proof.TxHash)
	assert.Equal(t, "0xcommission", sub.Proof.TxHashCommission)
	assert.Equal(t, "base", sub.Chain)
	assert.Equal(t, "USDC", sub.Token)
}

func TestSubmitPaymentRefreshKeepsMandateExpiry(t *testing.T) {
	gw := &fakeGateway{mandateToken: "tok", budgetLeft: "99.99"}
	session := testSession(t, gw)

	_, err := session.Execute(context.Background())
	require.NoError(t, err)

	// The post-payment budget refresh rewrites the cache entry; losing the
	// expiry there would make the cached mandate immortal.
	rec, err := session.deps.Store.Get(session.AgentID())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(1_900_000_000), rec.ExpiresAt)
	assert.Equal(t, "99.99", rec.BudgetRemaining)
}

func TestCachedMandateKeepsExpiryAcrossSessions(t *testing.T) {
	gw := &fakeGateway{mandateToken: "tok", budgetLeft: "50"}
	session := testSession(t, gw)
	_, err := session.Execute(context.Background())
	require.NoError(t, err)

	// A second run reuses the cache, pays again and refreshes again; the
	// original expiry must survive both refreshes.
	second := NewSession(session.cfg, session.deps)
	_, err = second.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, gw.issued)

	rec, err := session.deps.Store.Get(session.AgentID())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(1_900_000_000), rec.ExpiresAt)
}

func TestAuditLogsScopedToWallet(t *testing.T) {
	gw := &fakeGateway{
		mandateToken: "tok",
		auditLogs: []gateway.AuditLog{
			{EventType: "payment_completed", AmountUSD: "0.01", Timestamp: 1_756_000_000},
		},
	}
	session := testSession(t, gw)

	logs, err := session.AuditLogs(context.Background(), "payment_completed", "")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "payment_completed", logs[0].EventType)

	require.Len(t, gw.auditQueries, 1)
	q := gw.auditQueries[0]
	assert.Equal(t, "0xBuyerWallet", q.ClientID, "listing is scoped to this wallet")
	assert.Equal(t, 50, q.Limit)

	// A transaction lookup targets the hash, not the wallet.
	_, err = session.AuditLogs(context.Background(), "", "0xmerchant")
	require.NoError(t, err)
	q = gw.auditQueries[1]
	assert.Equal(t, "0xmerchant", q.TxHash)
	assert.Empty(t, q.ClientID)
}

func TestExecuteSubmitFailureSurfaces(t *testing.T) {
	gw := &fakeGateway{mandateToken: "tok", submitErr: assert.AnError}
	session := testSession(t, gw)

	_, err := session.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submission step failed")
}
