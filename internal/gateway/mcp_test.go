package gateway

import (
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"

	"github.com/agentgatepay/agentpay-go-sdk/internal/payment"
)

func TestFirstText(t *testing.T) {
	_, ok := firstText(nil)
	assert.False(t, ok)

	_, ok = firstText(&mcp.CallToolResult{})
	assert.False(t, ok)

	text, ok := firstText(&mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: `{"valid":true}`}},
	})
	assert.True(t, ok)
	assert.Equal(t, `{"valid":true}`, text)

	text, ok = firstText(&mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Type: "text", Text: "ptr"}},
	})
	assert.True(t, ok)
	assert.Equal(t, "ptr", text)
}

func TestVerifyWireToConfirmation(t *testing.T) {
	wire := verifyWire{
		Verified:  true,
		Status:    "confirmed",
		Timestamp: "2026-08-25T10:00:00Z",
	}
	res := wire.toConfirmation()
	assert.True(t, res.Verified)
	assert.Equal(t, payment.StatusConfirmed, res.Status)
	assert.Equal(t, time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC), res.Timestamp)

	// Missing status plus an error message reads as not-found, which the
	// poller treats as retryable.
	wire = verifyWire{Error: "Payment not found"}
	res = wire.toConfirmation()
	assert.Equal(t, payment.StatusNotFound, res.Status)
	assert.False(t, res.Timestamp.IsZero(), "unparseable timestamp falls back to now")
}
