package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"

	"github.com/agentgatepay/agentpay-go-sdk/internal/payment"
)

// MCP tool names exposed by the gateway.
const (
	toolIssueMandate  = "agentpay_issue_mandate"
	toolVerifyMandate = "agentpay_verify_mandate"
	toolGetCommission = "agentpay_get_commission"
	toolSubmitPayment = "agentpay_submit_payment"
	toolVerifyPayment = "agentpay_verify_payment"
	toolListAuditLogs = "agentpay_list_audit_logs"
)

// MCPClient exposes the gateway through its MCP (JSON-RPC 2.0) interface.
// Tool results arrive as a JSON document inside content[0].text.
type MCPClient struct {
	client *mcpclient.Client
	chain  string
	logger *logrus.Logger
}

// NewMCPClient connects to the gateway MCP endpoint over streamable HTTP and
// runs the initialize handshake. chainName is forwarded on verification calls
// so the gateway checks the right network.
func NewMCPClient(ctx context.Context, endpoint, apiKey, chainName string, logger *logrus.Logger) (*MCPClient, error) {
	if logger == nil {
		logger = logrus.New()
	}

	c, err := mcpclient.NewStreamableHttpClient(endpoint,
		transport.WithHTTPHeaders(map[string]string{"x-api-key": apiKey}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "agentpay-go-sdk",
		Version: "1.0.0",
	}
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}

	if _, err := c.Initialize(ctx, initRequest); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize MCP session: %w", err)
	}

	logger.WithField("endpoint", endpoint).Info("MCP gateway session established")

	return &MCPClient{client: c, chain: chainName, logger: logger}, nil
}

// Close tears down the MCP session.
func (c *MCPClient) Close() error {
	return c.client.Close()
}

// callTool invokes one gateway tool and decodes the JSON payload nested in
// the first text content block into out.
func (c *MCPClient) callTool(ctx context.Context, name string, args map[string]interface{}, out interface{}) error {
	c.logger.WithField("tool", name).Debug("Calling MCP gateway tool")

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := c.client.CallTool(ctx, req)
	if err != nil {
		return fmt.Errorf("MCP call %s failed: %w", name, err)
	}

	text, ok := firstText(result)
	if !ok {
		return fmt.Errorf("MCP tool %s returned no text content", name)
	}
	if result.IsError {
		return fmt.Errorf("MCP tool %s error: %s", name, text)
	}

	if out != nil {
		if err := json.Unmarshal([]byte(text), out); err != nil {
			return fmt.Errorf("malformed payload from MCP tool %s: %w", name, err)
		}
	}
	return nil
}

func firstText(result *mcp.CallToolResult) (string, bool) {
	if result == nil || len(result.Content) == 0 {
		return "", false
	}
	switch tc := result.Content[0].(type) {
	case mcp.TextContent:
		return tc.Text, true
	case *mcp.TextContent:
		return tc.Text, true
	}
	return "", false
}

func (c *MCPClient) IssueMandate(ctx context.Context, req IssueMandateRequest) (*Mandate, error) {
	var mandate Mandate
	err := c.callTool(ctx, toolIssueMandate, map[string]interface{}{
		"subject":     req.Subject,
		"budget":      req.BudgetUSD,
		"scope":       req.Scope,
		"ttl_minutes": req.TTLMinutes,
	}, &mandate)
	if err != nil {
		return nil, err
	}
	if mandate.MandateToken == "" {
		return nil, fmt.Errorf("gateway returned no mandate token")
	}
	return &mandate, nil
}

func (c *MCPClient) VerifyMandate(ctx context.Context, token string) (*MandateStatus, error) {
	var status MandateStatus
	err := c.callTool(ctx, toolVerifyMandate, map[string]interface{}{
		"mandate_token": token,
	}, &status)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *MCPClient) CommissionConfig(ctx context.Context) (*CommissionConfig, error) {
	var cfg CommissionConfig
	if err := c.callTool(ctx, toolGetCommission, map[string]interface{}{}, &cfg); err != nil {
		return nil, err
	}
	if cfg.CommissionAddress == "" {
		return nil, fmt.Errorf("gateway returned no commission address")
	}
	return &cfg, nil
}

func (c *MCPClient) SubmitPayment(ctx context.Context, req SubmitPaymentRequest) (*SubmitPaymentResult, error) {
	var wire submitWire
	err := c.callTool(ctx, toolSubmitPayment, map[string]interface{}{
		"tx_hash_merchant":   req.Proof.TxHash,
		"tx_hash_commission": req.Proof.TxHashCommission,
		"mandate_token":      req.MandateToken,
		"chain":              req.Chain,
		"token":              req.Token,
		"price_usd":          req.PriceUSD.InexactFloat64(),
	}, &wire)
	if err != nil {
		return nil, err
	}

	if !wire.accepted() {
		if wire.Error == "" {
			wire.Error = "unknown gateway error"
		}
		return nil, fmt.Errorf("gateway rejected payment: %s", wire.Error)
	}

	return &SubmitPaymentResult{
		Accepted:        true,
		Status:          wire.Status,
		Message:         wire.Message,
		ChargeID:        wire.ChargeID,
		BudgetRemaining: wire.BudgetRemaining,
	}, nil
}

func (c *MCPClient) AuditLogs(ctx context.Context, q AuditQuery) ([]AuditLog, error) {
	args := map[string]interface{}{}
	if q.TxHash != "" {
		args["tx_hash"] = q.TxHash
	}
	if q.EventType != "" {
		args["event_type"] = q.EventType
	}
	if q.ClientID != "" {
		args["client_id"] = q.ClientID
	}
	if q.Hours > 0 {
		args["hours"] = q.Hours
	}
	if q.Limit > 0 {
		args["limit"] = q.Limit
	}

	var wire auditWire
	if err := c.callTool(ctx, toolListAuditLogs, args, &wire); err != nil {
		return nil, err
	}
	if wire.Error != "" {
		return nil, fmt.Errorf("audit log fetch failed: %s", wire.Error)
	}
	return wire.Logs, nil
}

func (c *MCPClient) VerifyPayment(ctx context.Context, txHash string) (*payment.ConfirmationResult, error) {
	var wire verifyWire
	err := c.callTool(ctx, toolVerifyPayment, map[string]interface{}{
		"tx_hash": txHash,
		"chain":   c.chain,
	}, &wire)
	if err != nil {
		return nil, err
	}
	return wire.toConfirmation(), nil
}
