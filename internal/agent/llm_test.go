package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgatepay/agentpay-go-sdk/internal/gateway"
)

func testDriver(t *testing.T, gw *fakeGateway) *LLMDriver {
	t.Helper()
	return &LLMDriver{session: testSession(t, gw), logger: logrus.New()}
}

func TestPaymentToolsCoverTheWorkflow(t *testing.T) {
	tools := paymentTools()
	require.Len(t, tools, 4)

	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Function.Name)
	}
	assert.Equal(t, []string{"issue_mandate", "sign_payment", "submit_payment", "get_audit_logs"}, names)
}

func TestDispatchDrivesTheSession(t *testing.T) {
	gw := &fakeGateway{mandateToken: "tok", budgetLeft: "100"}
	driver := testDriver(t, gw)
	ctx := context.Background()

	out := driver.dispatch(ctx, "issue_mandate", `{"budget_usd": 100}`)
	var issued map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &issued))
	assert.Equal(t, "tok", issued["mandate_token"])

	out = driver.dispatch(ctx, "sign_payment",
		`{"amount_usd": "0.01", "recipient": "0x1111111111111111111111111111111111111111"}`)
	var signed map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &signed))
	assert.Equal(t, "0xmerchant", signed["tx_hash"])
	assert.Equal(t, "0xcommission", signed["tx_hash_commission"])

	out = driver.dispatch(ctx, "submit_payment", `{}`)
	var submitted map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &submitted))
	assert.Equal(t, "resource delivered", submitted["message"])
	assert.Empty(t, submitted["error"])

	gw.auditLogs = []gateway.AuditLog{{EventType: "payment_completed", Timestamp: 1_756_000_000}}
	out = driver.dispatch(ctx, "get_audit_logs", `{"event_type": "payment_completed"}`)
	var audited struct {
		Count int               `json:"count"`
		Logs  []gateway.AuditLog `json:"logs"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &audited))
	assert.Equal(t, 1, audited.Count)
	require.Len(t, audited.Logs, 1)
	assert.Equal(t, "payment_completed", audited.Logs[0].EventType)
}

func TestDispatchReportsErrorsToTheModel(t *testing.T) {
	gw := &fakeGateway{mandateToken: "tok"}
	driver := testDriver(t, gw)
	ctx := context.Background()

	for _, call := range []struct{ name, args string }{
		{"issue_mandate", `not json`},
		{"sign_payment", `{"amount_usd": "abc", "recipient": "0x1"}`},
		{"submit_payment", `{}`}, // nothing signed yet
		{"launch_missiles", `{}`},
	} {
		out := driver.dispatch(ctx, call.name, call.args)
		var result map[string]string
		require.NoError(t, json.Unmarshal([]byte(out), &result), "tool errors must stay JSON")
		assert.NotEmpty(t, result["error"], "call %s should report an error", call.name)
	}
}
