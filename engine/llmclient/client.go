// Package llmclient wraps the Anthropic Messages API with the model
// fallback behavior the chat agent, normalizer, relationship detector,
// and risk detector all need: retry the same request against the next
// model in a configured list when the primary model is throttled.
package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Message is one turn in a conversation passed to Complete.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
	// ToolCalls carries the tool-use blocks of an assistant turn, so a
	// caller replaying a tool-calling exchange keeps the tool_use blocks
	// the provider requires ahead of each tool result.
	ToolCalls []ToolCall
	// ToolResult, when set, marks this message as the result of a prior
	// tool call rather than plain text.
	ToolResult  bool
	ToolUseID   string
	ToolIsError bool
}

// ToolDef describes one tool the model may call.
type ToolDef struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Response is the model's reply: either text, one or more tool calls, or
// both (a model rarely mixes them, but the contract allows it).
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
	Model      string
}

// Client issues chat completions against a primary model, falling back
// through an ordered list of alternate models when the primary is
// throttled.
type Client struct {
	sdk            anthropic.Client
	primaryModel   string
	fallbackModels []string
	maxTokens      int64
	log            *slog.Logger
}

// Config configures a Client.
type Config struct {
	APIKey         string
	PrimaryModel   string
	FallbackModels []string
	MaxTokens      int64
}

// New creates a Client. MaxTokens defaults to 4096 when unset.
func New(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{
		sdk:            anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		primaryModel:   cfg.PrimaryModel,
		fallbackModels: cfg.FallbackModels,
		maxTokens:      maxTokens,
		log:            log,
	}
}

// Complete issues one request, trying the primary model first and then
// each fallback model in order whenever the prior attempt was throttled.
// Non-throttling errors are returned immediately without trying fallbacks.
func (c *Client) Complete(ctx context.Context, system string, messages []Message, tools []ToolDef) (*Response, error) {
	models := append([]string{c.primaryModel}, c.fallbackModels...)

	var lastErr error
	for i, model := range models {
		resp, err := c.complete(ctx, model, system, messages, tools)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isThrottled(err) {
			return nil, err
		}
		c.log.Warn("llmclient: model throttled, trying fallback", "model", model, "attempt", i, "err", err)
	}
	return nil, fmt.Errorf("llmclient: all models exhausted: %w", lastErr)
}

func (c *Client) complete(ctx context.Context, model, system string, messages []Message, tools []ToolDef) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: c.maxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, m := range messages {
		switch {
		case m.ToolResult:
			block := anthropic.ContentBlockParamUnion{
				OfToolResult: &anthropic.ToolResultBlockParam{
					ToolUseID: m.ToolUseID,
					IsError:   anthropic.Bool(m.ToolIsError),
					Content: []anthropic.ToolResultBlockParamContentUnion{
						{OfText: &anthropic.TextBlockParam{Text: m.Content}},
					},
				},
			}
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		case m.Role == "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: tc.Input,
					},
				})
			}
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	for _, t := range tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: t.InputSchema["properties"],
				},
			},
		})
	}

	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	resp := &Response{StopReason: string(msg.StopReason), Model: model}
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Text += v.Text
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: v.ID, Name: v.Name, Input: json.RawMessage(v.Input)})
		}
	}
	return resp, nil
}

// isThrottled reports whether err represents a rate-limit or
// overloaded-model condition that warrants trying a fallback model.
func isThrottled(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable, 529:
			return true
		}
		return false
	}
	return false
}
