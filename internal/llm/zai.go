package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mozhuanzuojing/CountBot/internal/logger"
)

const (
	// ZAIEndpoint is the default base URL for the Z.ai Coding API.
	ZAIEndpoint = "https://api.z.ai/api/coding/paas/v4"
	// ZAIRequestTimeout is the default timeout for one streamed request.
	ZAIRequestTimeout = 120 * time.Second
	// zaiDefaultModel is used when the request names no model.
	zaiDefaultModel = "glm-4.7"
)

// ZAIConfig contains configuration for the Z.ai provider.
type ZAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// ZAIProvider implements Provider against the Z.ai Coding API using
// server-sent event streaming.
type ZAIProvider struct {
	client *http.Client
	config ZAIConfig
	apiURL string
	logger *logger.Logger
}

// NewZAIProvider creates a provider. Missing config fields fall back to
// API defaults.
func NewZAIProvider(cfg ZAIConfig, log *logger.Logger) *ZAIProvider {
	if cfg.Model == "" {
		cfg.Model = zaiDefaultModel
	}
	base := cfg.BaseURL
	if base == "" {
		base = ZAIEndpoint
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = ZAIRequestTimeout
	}

	return &ZAIProvider{
		client: &http.Client{Timeout: timeout},
		config: cfg,
		apiURL: strings.TrimRight(base, "/") + "/chat/completions",
		logger: log,
	}
}

func (p *ZAIProvider) SupportsToolCalling() bool { return true }

func (p *ZAIProvider) GetDefaultModel() string { return p.config.Model }

type zaiMessage struct {
	Role             string        `json:"role"`
	Content          string        `json:"content"`
	ToolCallID       string        `json:"tool_call_id,omitempty"`
	ReasoningContent string        `json:"reasoning_content,omitempty"`
	ToolCalls        []zaiToolCall `json:"tool_calls,omitempty"`
}

type zaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Index    int    `json:"index"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type zaiTool struct {
	Type     string                 `json:"type"`
	Function map[string]interface{} `json:"function"`
}

type zaiRequest struct {
	Messages    []zaiMessage `json:"messages"`
	Model       string       `json:"model"`
	Temperature float64      `json:"temperature,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Tools       []zaiTool    `json:"tools,omitempty"`
	ToolChoice  string       `json:"tool_choice,omitempty"`
	Stream      bool         `json:"stream"`
}

type zaiStreamEvent struct {
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Content          string        `json:"content"`
			ReasoningContent string        `json:"reasoning_content"`
			ToolCalls        []zaiToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// ChatStream issues a streamed completion request. The returned channel
// is closed after the terminal chunk.
func (p *ZAIProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		httpResp.Body.Close()
		return nil, fmt.Errorf("gateway returned status %d: %s", httpResp.StatusCode, string(respBody))
	}

	out := make(chan StreamChunk, 16)
	go p.consume(ctx, httpResp.Body, out)
	return out, nil
}

func (p *ZAIProvider) buildRequest(req ChatRequest) zaiRequest {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	messages := make([]zaiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		zm := zaiMessage{
			Role:             string(m.Role),
			Content:          m.Content,
			ToolCallID:       m.ToolCallID,
			ReasoningContent: m.ReasoningContent,
		}
		for _, tc := range m.ToolCalls {
			ztc := zaiToolCall{ID: tc.ID, Type: "function"}
			ztc.Function.Name = tc.Name
			ztc.Function.Arguments = tc.Arguments
			zm.ToolCalls = append(zm.ToolCalls, ztc)
		}
		messages = append(messages, zm)
	}

	var tools []zaiTool
	for _, t := range req.Tools {
		tools = append(tools, zaiTool{
			Type: "function",
			Function: map[string]interface{}{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}

	zr := zaiRequest{
		Messages:    messages,
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       tools,
		Stream:      true,
	}
	if len(tools) > 0 {
		zr.ToolChoice = "auto"
	}
	return zr
}

// consume reads SSE lines, assembles tool call deltas by index, and
// emits chunks. Tool call fragments arrive interleaved with content;
// complete calls are emitted when the terminal event arrives.
func (p *ZAIProvider) consume(ctx context.Context, body io.ReadCloser, out chan<- StreamChunk) {
	defer close(out)
	defer body.Close()

	pending := make(map[int]*ToolCall)
	order := []int{}
	finish := FinishReasonStop
	var usage Usage

	emit := func(chunk StreamChunk) bool {
		select {
		case out <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var event zaiStreamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			p.logger.WarnCtx(ctx, "skipping malformed stream event",
				logger.Field{Key: "payload", Value: payload})
			continue
		}
		if event.Error != nil {
			emit(StreamChunk{Kind: ChunkError, Err: fmt.Errorf("gateway error: %s", event.Error.Message)})
			return
		}
		if event.Usage != nil {
			usage = Usage{
				PromptTokens:     event.Usage.PromptTokens,
				CompletionTokens: event.Usage.CompletionTokens,
				TotalTokens:      event.Usage.TotalTokens,
			}
		}
		if len(event.Choices) == 0 {
			continue
		}

		choice := event.Choices[0]
		if choice.Delta.Content != "" {
			if !emit(StreamChunk{Kind: ChunkContent, Content: choice.Delta.Content}) {
				return
			}
		}
		if choice.Delta.ReasoningContent != "" {
			if !emit(StreamChunk{Kind: ChunkReasoning, Reasoning: choice.Delta.ReasoningContent}) {
				return
			}
		}
		for _, delta := range choice.Delta.ToolCalls {
			call, ok := pending[delta.Index]
			if !ok {
				call = &ToolCall{}
				pending[delta.Index] = call
				order = append(order, delta.Index)
			}
			if delta.ID != "" {
				call.ID = delta.ID
			}
			if delta.Function.Name != "" {
				call.Name = delta.Function.Name
			}
			call.Arguments += delta.Function.Arguments
		}
		if choice.FinishReason != "" {
			finish = FinishReason(choice.FinishReason)
		}
	}

	if err := scanner.Err(); err != nil {
		emit(StreamChunk{Kind: ChunkError, Err: fmt.Errorf("stream read failed: %w", err)})
		return
	}

	for _, idx := range order {
		if !emit(StreamChunk{Kind: ChunkToolCall, ToolCall: pending[idx]}) {
			return
		}
	}
	if len(order) > 0 && finish == FinishReasonStop {
		finish = FinishReasonToolCalls
	}
	emit(StreamChunk{Kind: ChunkDone, FinishReason: finish, Usage: usage})
}
