package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/sqlpilot/sqlpilot/internal/llm"
)

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

type messagesAPI interface {
	CreateMessages(ctx context.Context, request anthropic.MessagesRequest) (anthropic.MessagesResponse, error)
}

// Client adapts the Anthropic Messages API to llm.Client.
type Client struct {
	api         messagesAPI
	model       string
	temperature float32
	maxTokens   int
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	var opts []anthropic.ClientOption
	if baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return newClient(anthropic.NewClient(strings.TrimSpace(cfg.APIKey), opts...), cfg), nil
}

func newClient(api messagesAPI, cfg Config) *Client {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "claude-sonnet-4-5-20250929"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{api: api, model: model, temperature: float32(cfg.Temperature), maxTokens: maxTokens}
}

func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	temperature := c.temperature
	request := anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		System:      req.System,
		Messages:    convertMessages(req.Messages),
		Temperature: &temperature,
	}
	for _, tool := range req.Tools {
		request.Tools = append(request.Tools, anthropic.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}
	if len(req.Tools) > 0 {
		request.ToolChoice = toolChoice(req.ToolChoice)
	}

	resp, err := c.api.CreateMessages(ctx, request)
	if err != nil {
		return llm.Response{}, fmt.Errorf("create messages: %w", err)
	}

	var (
		out  llm.Response
		text strings.Builder
	)
	for _, block := range resp.Content {
		switch {
		case block.Type == anthropic.MessagesContentTypeText && block.Text != nil:
			text.WriteString(*block.Text)
		case block.Type == anthropic.MessagesContentTypeToolUse && block.MessageContentToolUse != nil:
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:        block.MessageContentToolUse.ID,
				Name:      block.MessageContentToolUse.Name,
				Arguments: block.MessageContentToolUse.Input,
			})
		}
	}
	out.Text = text.String()
	if out.Text != "" && req.OnDelta != nil {
		req.OnDelta(out.Text)
	}
	if strings.TrimSpace(out.Text) == "" && len(out.ToolCalls) == 0 {
		return llm.Response{}, llm.ErrEmptyResponse
	}
	return out, nil
}

func toolChoice(choice llm.ToolChoice) *anthropic.ToolChoice {
	switch choice.Mode {
	case llm.ToolChoiceRequired:
		return &anthropic.ToolChoice{Type: "any"}
	case llm.ToolChoiceNamed:
		return &anthropic.ToolChoice{Type: "tool", Name: choice.Name}
	default:
		return &anthropic.ToolChoice{Type: "auto"}
	}
}

// convertMessages maps the chat history onto Anthropic turns. Tool results
// travel as user turns and consecutive results are merged into one turn.
func convertMessages(messages []llm.Message) []anthropic.Message {
	out := make([]anthropic.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleAssistant:
			var content []anthropic.MessageContent
			if msg.Content != "" {
				content = append(content, anthropic.NewTextMessageContent(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				input := call.Arguments
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				content = append(content, anthropic.MessageContent{
					Type: anthropic.MessagesContentTypeToolUse,
					MessageContentToolUse: &anthropic.MessageContentToolUse{
						ID:    call.ID,
						Name:  call.Name,
						Input: input,
					},
				})
			}
			out = append(out, anthropic.Message{Role: anthropic.RoleAssistant, Content: content})
		case llm.RoleTool:
			result := anthropic.NewToolResultMessageContent(msg.ToolCallID, msg.Content, false)
			if n := len(out); n > 0 && out[n-1].Role == anthropic.RoleUser && isToolResultTurn(out[n-1]) {
				out[n-1].Content = append(out[n-1].Content, result)
				continue
			}
			out = append(out, anthropic.Message{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{result}})
		default:
			out = append(out, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(msg.Content)},
			})
		}
	}
	return out
}

func isToolResultTurn(msg anthropic.Message) bool {
	for _, content := range msg.Content {
		if content.Type != anthropic.MessagesContentTypeToolResult {
			return false
		}
	}
	return len(msg.Content) > 0
}
