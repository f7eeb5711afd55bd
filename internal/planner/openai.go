package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/planlens/planlens/internal/observability"
	"github.com/planlens/planlens/internal/plan"
)

const provider = "openai-compatible"

type OpenAIConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	Temperature  float64
	Timeout      time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

type OpenAIPlanner struct {
	baseURL      string
	apiKey       string
	model        string
	temperature  float64
	maxAttempts  int
	retryBackoff time.Duration
	client       *http.Client
	logger       *slog.Logger
}

func NewOpenAIPlanner(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIPlanner, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIPlanner{
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:       strings.TrimSpace(cfg.APIKey),
		model:        model,
		temperature:  cfg.Temperature,
		maxAttempts:  attempts,
		retryBackoff: cfg.RetryBackoff,
		client:       &http.Client{Timeout: timeout},
		logger:       logger,
	}, nil
}

func (p *OpenAIPlanner) Plan(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Question) == "" {
		return Result{}, fmt.Errorf("question is required")
	}
	intent, err := p.classify(ctx, req.Question)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		p.logger.WarnContext(ctx, "intent classification failed", slog.Any("error", err))
		intent = plan.QueryAggregation
	}

	prompt, err := planPrompt(req, intent)
	if err != nil {
		return Result{}, err
	}
	raw, err := p.completeJSON(ctx, prompt)
	if err != nil {
		return Result{}, err
	}
	return Result{Intent: intent, Plan: raw, Provider: provider, Model: p.model}, nil
}

func (p *OpenAIPlanner) Layout(ctx context.Context, req Request) (json.RawMessage, error) {
	prompt, err := layoutPrompt(req)
	if err != nil {
		return nil, err
	}
	return p.completeJSON(ctx, prompt)
}

func (p *OpenAIPlanner) Clean(ctx context.Context, req Request) (json.RawMessage, error) {
	prompt, err := cleaningPrompt(req)
	if err != nil {
		return nil, err
	}
	return p.completeJSON(ctx, prompt)
}

func (p *OpenAIPlanner) classify(ctx context.Context, question string) (plan.QueryType, error) {
	raw, err := p.completeJSON(ctx, intentPrompt(question))
	if err != nil {
		return "", err
	}
	var parsed struct {
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	intent := plan.QueryType(strings.ToLower(strings.TrimSpace(parsed.Intent)))
	if !intent.Valid() {
		return plan.QueryAggregation, nil
	}
	return intent, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("chat completion failed status=%d body=%s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

func (p *OpenAIPlanner) completeJSON(ctx context.Context, userPrompt string) (json.RawMessage, error) {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			observability.ObservePlannerRequest("retry")
			if err := sleep(ctx, p.retryBackoff); err != nil {
				return nil, err
			}
		}
		content, err := p.complete(ctx, userPrompt)
		if err == nil {
			var raw json.RawMessage
			raw, err = jsonObject(content)
			if err == nil {
				observability.ObservePlannerRequest("ok")
				return raw, nil
			}
		}
		if ctx.Err() != nil {
			observability.ObservePlannerRequest("error")
			return nil, ctx.Err()
		}
		var status *statusError
		if errors.As(err, &status) && !status.retryable() {
			observability.ObservePlannerRequest("error")
			return nil, err
		}
		lastErr = err
		p.logger.WarnContext(ctx, "planner attempt failed", slog.Int("attempt", attempt), slog.Any("error", err))
	}
	observability.ObservePlannerRequest("error")
	return nil, lastErr
}

func (p *OpenAIPlanner) complete(ctx context.Context, userPrompt string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"temperature":     p.temperature,
		"response_format": map[string]string{"type": "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", &statusError{code: resp.StatusCode, body: truncate(string(rawRespBody), 512)}
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty chat completion choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func jsonObject(content string) (json.RawMessage, error) {
	trimmed := stripMarkdownFence(content)
	if !strings.HasPrefix(trimmed, "{") || !json.Valid([]byte(trimmed)) {
		return nil, fmt.Errorf("%w: reply is not a JSON object", ErrInvalidResponse)
	}
	return json.RawMessage(trimmed), nil
}

func stripMarkdownFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
			trimmed = trimmed[newline+1:]
		} else {
			trimmed = strings.TrimPrefix(trimmed, "```")
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(value string, n int) string {
	if len(value) <= n {
		return value
	}
	return value[:n] + "..."
}

var _ Planner = (*OpenAIPlanner)(nil)
