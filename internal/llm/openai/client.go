package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sqlpilot/sqlpilot/internal/llm"
)

type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float64
	MaxTokens      int
	Timeout        time.Duration
}

// Client talks to an OpenAI-compatible /v1/chat/completions endpoint with
// streaming enabled.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	baseURL, apiKey, err := endpoint(cfg)
	if err != nil {
		return nil, err
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4.1"
	}
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      &http.Client{Timeout: timeout(cfg.Timeout)},
	}, nil
}

func endpoint(cfg Config) (string, string, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return "", "", fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return "", "", fmt.Errorf("api key is required")
	}
	return strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"), strings.TrimSpace(cfg.APIKey), nil
}

func timeout(value time.Duration) time.Duration {
	if value <= 0 {
		return 60 * time.Second
	}
	return value
}

func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	body, err := json.Marshal(buildPayload(c.model, c.temperature, c.maxTokens, req))
	if err != nil {
		return llm.Response{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return llm.Response{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return llm.Response{}, fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return llm.Response{}, &llm.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	// Some compatible servers ignore stream=true and answer with one JSON body.
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		return decodeCompletion(resp.Body, req.OnDelta)
	}
	return readStream(resp.Body, req.OnDelta)
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

func buildPayload(model string, temperature float64, maxTokens int, req llm.Request) map[string]any {
	messages := make([]wireMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, wireMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		wire := wireMessage{Role: string(msg.Role), Content: msg.Content, ToolCallID: msg.ToolCallID}
		for _, call := range msg.ToolCalls {
			wire.ToolCalls = append(wire.ToolCalls, wireToolCall{
				ID:       call.ID,
				Type:     "function",
				Function: wireFunction{Name: call.Name, Arguments: string(call.Arguments)},
			})
		}
		messages = append(messages, wire)
	}

	payload := map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": temperature,
		"stream":      true,
	}
	if maxTokens > 0 {
		payload["max_tokens"] = maxTokens
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        tool.Name,
					"description": tool.Description,
					"parameters":  tool.Parameters,
				},
			})
		}
		payload["tools"] = tools
		payload["tool_choice"] = toolChoice(req.ToolChoice)
	}
	return payload
}

func toolChoice(choice llm.ToolChoice) any {
	switch choice.Mode {
	case llm.ToolChoiceRequired:
		return "required"
	case llm.ToolChoiceNamed:
		return map[string]any{"type": "function", "function": map[string]string{"name": choice.Name}}
	default:
		return "auto"
	}
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"delta"`
	} `json:"choices"`
}

// readStream consumes SSE data lines until [DONE], assembling tool-call
// fragments by their index.
func readStream(body io.Reader, onDelta func(string)) (llm.Response, error) {
	var (
		text  strings.Builder
		calls = map[int]*llm.ToolCall{}
		args  = map[int]*strings.Builder{}
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return llm.Response{}, fmt.Errorf("decode stream chunk: %w", err)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				text.WriteString(choice.Delta.Content)
				if onDelta != nil {
					onDelta(choice.Delta.Content)
				}
			}
			for pos, fragment := range choice.Delta.ToolCalls {
				index := pos
				if fragment.Index != nil {
					index = *fragment.Index
				}
				call, ok := calls[index]
				if !ok {
					call = &llm.ToolCall{}
					calls[index] = call
					args[index] = &strings.Builder{}
				}
				if fragment.ID != "" {
					call.ID = fragment.ID
				}
				if fragment.Function.Name != "" {
					call.Name = fragment.Function.Name
				}
				args[index].WriteString(fragment.Function.Arguments)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return llm.Response{}, fmt.Errorf("read chat stream: %w", err)
	}

	indexes := make([]int, 0, len(calls))
	for index := range calls {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)

	out := llm.Response{Text: text.String()}
	for _, index := range indexes {
		call := calls[index]
		call.Arguments = json.RawMessage(args[index].String())
		out.ToolCalls = append(out.ToolCalls, *call)
	}
	if strings.TrimSpace(out.Text) == "" && len(out.ToolCalls) == 0 {
		return llm.Response{}, llm.ErrEmptyResponse
	}
	return out, nil
}

func decodeCompletion(body io.Reader, onDelta func(string)) (llm.Response, error) {
	var parsed struct {
		Choices []struct {
			Message wireMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return llm.Response{}, fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return llm.Response{}, fmt.Errorf("empty chat completion choices")
	}
	msg := parsed.Choices[0].Message
	out := llm.Response{Text: msg.Content}
	if out.Text != "" && onDelta != nil {
		onDelta(out.Text)
	}
	for _, call := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(call.Function.Arguments),
		})
	}
	if strings.TrimSpace(out.Text) == "" && len(out.ToolCalls) == 0 {
		return llm.Response{}, llm.ErrEmptyResponse
	}
	return out, nil
}
