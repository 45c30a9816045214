// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/datatypes"
)

// =============================================================================
// OpenAI Wire Types
// =============================================================================

const defaultOpenAIBaseURL = "https://api.openai.com/v1/chat/completions"

// Upstream call limits. Retries cover transient failures only; a hard cap
// keeps a degraded provider from spinning the orchestration loop.
const (
	defaultMaxAttempts   = 3
	defaultRetryBaseWait = 500 * time.Millisecond
	defaultMaxConcurrent = 8
	defaultRequestRate   = 5 // requests per second
)

type openaiRequest struct {
	Model               string          `json:"model"`
	Messages            []openaiMessage `json:"messages"`
	Temperature         *float32        `json:"temperature,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	TopP                *float32        `json:"top_p,omitempty"`
	Stop                []string        `json:"stop,omitempty"`
	Tools               []openaiTool    `json:"tools,omitempty"`
	ToolChoice          string          `json:"tool_choice,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Choices []openaiChoice `json:"choices"`
	Error   *openaiError   `json:"error,omitempty"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  interface{} `json:"parameters"`
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiCallFunction `json:"function"`
}

type openaiCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// =============================================================================
// OpenAIClient
// =============================================================================

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
//
// Description:
//
//	Implements Client over the /v1/chat/completions wire format, which
//	covers OpenAI itself plus Ollama and vLLM-style gateways via baseURL.
//	All requests pass through a weighted semaphore (global concurrency
//	cap) and a token-bucket rate limiter, then retry transient failures
//	(429, 5xx, transport errors) with exponential backoff up to
//	defaultMaxAttempts before surfacing the error.
//
// Thread Safety: safe for concurrent use.
type OpenAIClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	sem        *semaphore.Weighted
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// ClientOption configures an OpenAIClient.
type ClientOption func(*OpenAIClient)

// WithMaxConcurrent caps outstanding requests across all conversations.
func WithMaxConcurrent(n int64) ClientOption {
	return func(c *OpenAIClient) {
		if n > 0 {
			c.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithRequestRate sets the client-side request rate limit per second.
func WithRequestRate(perSecond float64) ClientOption {
	return func(c *OpenAIClient) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1)
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *OpenAIClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewOpenAIClient creates a client from explicit configuration.
//
// Inputs:
//
//	apiKey - Bearer token. May be empty for local gateways.
//	model - Default model identifier. Must not be empty.
//	baseURL - Chat completions URL. Empty uses the OpenAI default.
//	logger - Logger for diagnostic output. Nil uses slog.Default().
func NewOpenAIClient(apiKey, model, baseURL string, logger *slog.Logger, opts ...ClientOption) (*OpenAIClient, error) {
	if model == "" {
		return nil, fmt.Errorf("model must not be empty")
	}
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &OpenAIClient{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		sem:        semaphore.NewWeighted(defaultMaxConcurrent),
		limiter:    rate.NewLimiter(rate.Limit(defaultRequestRate), defaultRequestRate+1),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewOpenAIClientFromEnv creates a client from OPENAI_API_KEY,
// OPENAI_MODEL, and OPENAI_BASE_URL.
func NewOpenAIClientFromEnv(logger *slog.Logger, opts ...ClientOption) (*OpenAIClient, error) {
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		return nil, fmt.Errorf("OPENAI_MODEL must be set")
	}
	return NewOpenAIClient(os.Getenv("OPENAI_API_KEY"), model, os.Getenv("OPENAI_BASE_URL"), logger, opts...)
}

// Chat implements Client.
func (o *OpenAIClient) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error) {
	oaiMessages := make([]openaiMessage, 0, len(messages))
	for _, msg := range messages {
		role := msg.Role
		switch role {
		case "system", "user", "assistant":
		default:
			o.logger.Warn("unknown message role, mapping to user", slog.String("role", role))
			role = "user"
		}
		oaiMessages = append(oaiMessages, openaiMessage{Role: role, Content: msg.Content})
	}

	resp, err := o.send(ctx, o.buildRequest(oaiMessages, params, nil))
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

// ChatWithTools implements Client.
//
// Description:
//
//	Converts generic ChatMessage and ToolDef values to OpenAI wire format
//	and parses tool_calls from the response. With params.ToolChoice set to
//	"required" the model must select a tool, which is how the router gets
//	a structured single-tool decision instead of free text.
func (o *OpenAIClient) ChatWithTools(ctx context.Context, messages []ChatMessage, params GenerationParams, tools []ToolDef) (*ChatWithToolsResult, error) {
	oaiMessages := make([]openaiMessage, 0, len(messages))
	for _, msg := range messages {
		oaiMsg := openaiMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openaiToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openaiCallFunction{
					Name:      tc.Name,
					Arguments: tc.ArgumentsString(),
				},
			})
		}
		oaiMessages = append(oaiMessages, oaiMsg)
	}

	oaiTools := make([]openaiTool, 0, len(tools))
	for _, t := range tools {
		oaiTools = append(oaiTools, openaiTool{
			Type: "function",
			Function: openaiFunction{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}

	resp, err := o.send(ctx, o.buildRequest(oaiMessages, params, oaiTools))
	if err != nil {
		return nil, err
	}

	choice := resp.Choices[0]
	result := &ChatWithToolsResult{Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCallResponse{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return result, nil
}

// buildRequest assembles the wire request payload.
func (o *OpenAIClient) buildRequest(messages []openaiMessage, params GenerationParams, tools []openaiTool) openaiRequest {
	model := o.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}
	req := openaiRequest{
		Model:    model,
		Messages: messages,
		Tools:    tools,
	}
	if params.Temperature != nil {
		req.Temperature = params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	if len(tools) > 0 && params.ToolChoice != "" {
		req.ToolChoice = params.ToolChoice
	}
	return req
}

// send performs the HTTP round trip with concurrency gating, rate limiting,
// and bounded retry.
func (o *OpenAIClient) send(ctx context.Context, payload openaiRequest) (*openaiResponse, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openai: marshaling request: %w", err)
	}

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("openai: acquiring request slot: %w", err)
	}
	defer o.sem.Release(1)

	var lastErr error
	for attempt := 1; attempt <= defaultMaxAttempts; attempt++ {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("openai: rate limiter wait: %w", err)
		}

		resp, retryable, err := o.doOnce(ctx, reqBody, payload.Model)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable || attempt == defaultMaxAttempts {
			break
		}

		wait := defaultRetryBaseWait << (attempt - 1)
		o.logger.Warn("retrying openai request",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

// doOnce performs a single HTTP attempt. The second return reports whether
// the failure is transient and worth retrying.
func (o *OpenAIClient) doOnce(ctx context.Context, reqBody []byte, model string) (*openaiResponse, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, false, fmt.Errorf("openai: creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	o.logger.Debug("sending openai request", slog.String("model", model))

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("openai: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("openai: reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("openai: API returned status %d", resp.StatusCode)
	}

	var apiResp openaiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, false, fmt.Errorf("openai: parsing response JSON: %w", err)
	}
	if apiResp.Error != nil {
		return nil, false, fmt.Errorf("openai: API error: %s - %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 {
		return nil, false, fmt.Errorf("openai: returned no choices")
	}
	return &apiResp, false, nil
}
