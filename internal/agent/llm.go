package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/agentgatepay/agentpay-go-sdk/internal/config"
)

const maxToolIterations = 10

const systemPrompt = `You are a purchasing agent. You buy digital resources on behalf of your
operator by paying with on-chain stablecoins through the AgentGatePay gateway.

Workflow:
1. Call issue_mandate once to obtain spending authorization.
2. Call sign_payment with the price and the seller's wallet to settle on-chain.
3. Call submit_payment to present the proof to the gateway.

Use get_audit_logs when asked about payment history or to double-check what
the gateway recorded for a transaction.

Never invent transaction hashes or budgets; only report values returned by the
tools. When the purchase completes, summarize what was paid and to whom.`

// LLMDriver runs a Session through an OpenAI tool-calling loop instead of the
// fixed Execute sequence, letting the model decide when each step happens.
type LLMDriver struct {
	client  *openai.Client
	model   string
	session *Session
	logger  *logrus.Logger
}

// NewLLMDriver builds a driver around an existing session.
func NewLLMDriver(cfg config.LLMConfig, session *Session, logger *logrus.Logger) (*LLMDriver, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &LLMDriver{
		client:  openai.NewClient(cfg.APIKey),
		model:   model,
		session: session,
		logger:  logger,
	}, nil
}

// Run feeds the task to the model and executes the tool calls it makes until
// it produces a final answer or the iteration budget runs out.
func (d *LLMDriver) Run(ctx context.Context, task string) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: task},
	}

	for i := 0; i < maxToolIterations; i++ {
		resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    d.model,
			Messages: messages,
			Tools:    paymentTools(),
		})
		if err != nil {
			return "", fmt.Errorf("chat completion failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("chat completion returned no choices")
		}

		msg := resp.Choices[0].Message
		messages = append(messages, msg)

		if len(msg.ToolCalls) == 0 {
			return msg.Content, nil
		}

		for _, call := range msg.ToolCalls {
			d.logger.WithFields(logrus.Fields{
				"tool": call.Function.Name,
				"args": call.Function.Arguments,
			}).Debug("Executing tool call")

			result := d.dispatch(ctx, call.Function.Name, call.Function.Arguments)
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	return "", fmt.Errorf("model did not finish within %d tool iterations", maxToolIterations)
}

// paymentTools declares the three workflow steps as OpenAI functions.
func paymentTools() []openai.Tool {
	return []openai.Tool{
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "issue_mandate",
				Description: "Issue or reuse a spending mandate. Returns the mandate token and remaining budget in USD.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"budget_usd": {
							"type": "number",
							"description": "Spending cap for the mandate in USD"
						}
					},
					"required": ["budget_usd"]
				}`),
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "sign_payment",
				Description: "Settle the payment on-chain as two ERC-20 transfers (merchant leg plus commission leg). Returns both transaction hashes.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"amount_usd": {
							"type": "string",
							"description": "Total price in USD, as a decimal string"
						},
						"recipient": {
							"type": "string",
							"description": "Seller wallet address (0x-prefixed)"
						}
					},
					"required": ["amount_usd", "recipient"]
				}`),
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "submit_payment",
				Description: "Present the signed payment proof to the gateway and settle against the mandate. Requires sign_payment to have run.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {}
				}`),
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "get_audit_logs",
				Description: "Retrieve the gateway's audit trail for this wallet: mandate issuances, settled payments and their amounts.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"event_type": {
							"type": "string",
							"description": "Optional filter, e.g. payment_completed or mandate_issued"
						},
						"tx_hash": {
							"type": "string",
							"description": "Optional transaction hash to fetch the logs of one payment"
						}
					}
				}`),
			},
		},
	}
}

// dispatch executes one tool call against the session and renders the result
// as JSON for the model. Errors go back to the model as content rather than
// aborting the loop, so it can recover or report them.
func (d *LLMDriver) dispatch(ctx context.Context, name, arguments string) string {
	switch name {
	case "issue_mandate":
		var args struct {
			BudgetUSD float64 `json:"budget_usd"`
		}
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err))
		}
		token, err := d.session.IssueMandate(ctx, args.BudgetUSD)
		if err != nil {
			return toolError(err)
		}
		return toolResult(map[string]any{
			"mandate_token":    token,
			"budget_remaining": d.session.BudgetRemaining(),
		})

	case "sign_payment":
		var args struct {
			AmountUSD string `json:"amount_usd"`
			Recipient string `json:"recipient"`
		}
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err))
		}
		amount, err := decimal.NewFromString(args.AmountUSD)
		if err != nil {
			return toolError(fmt.Errorf("invalid amount %q: %w", args.AmountUSD, err))
		}
		merchantTx, commissionTx, err := d.session.SignPayment(ctx, amount, args.Recipient)
		if err != nil {
			return toolError(err)
		}
		return toolResult(map[string]any{
			"tx_hash":            merchantTx,
			"tx_hash_commission": commissionTx,
		})

	case "submit_payment":
		result, err := d.session.SubmitPayment(ctx)
		if err != nil {
			return toolError(err)
		}
		return toolResult(map[string]any{
			"message":          result.Message,
			"budget_remaining": d.session.BudgetRemaining(),
		})

	case "get_audit_logs":
		var args struct {
			EventType string `json:"event_type"`
			TxHash    string `json:"tx_hash"`
		}
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err))
		}
		logs, err := d.session.AuditLogs(ctx, args.EventType, args.TxHash)
		if err != nil {
			return toolError(err)
		}
		return toolResult(map[string]any{"logs": logs, "count": len(logs)})

	default:
		return toolError(fmt.Errorf("unknown tool %q", name))
	}
}

func toolResult(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return toolError(err)
	}
	return string(data)
}

func toolError(err error) string {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(data)
}
