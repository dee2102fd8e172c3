package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"bdpower/internal/logger"
)

const (
	// Default values for Claude API
	defaultModel         = "claude-sonnet-4-20250514"
	defaultMaxTokens     = 1000
	defaultTemperature   = 0.3
	defaultClaudeTimeout = 60 * time.Second

	// Retry configuration
	defaultMaxRetries   = 3
	defaultBaseDelay    = 1 * time.Second
	defaultMaxDelay     = 30 * time.Second
	defaultJitterFactor = 0.1

	minBriefingLength = 20
	maxBriefingLength = 8000
)

// DefaultBriefingPrompt asks for an operator briefing from the analysis
// variables. The full report is sent as system context.
const DefaultBriefingPrompt = `Write a concise lightning and severe-weather briefing for Bangladesh covering {{start}} to {{end}}.
The dataset holds {{records}} records from {{districts}} districts in {{divisions}} divisions.
{{high_risk}} records ({{high_risk_pct}}%) reached a lightning risk score of 3 or more.
Highest mean risk: {{riskiest}}.
Highest total precipitation: {{wettest}}.
Name the districts that need attention and explain which conditions drove the risk. Use plain prose, no tables.`

// ClaudeClient turns an analysis report into a prose briefing.
type ClaudeClient struct {
	client anthropic.Client
	config ClaudeConfig
}

// ClaudeConfig contains configuration for Claude API client
type ClaudeConfig struct {
	APIKey      string
	BaseURL     string // optional, for proxies and tests
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// ClaudeAPIError represents errors from the Claude API
type ClaudeAPIError struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	StatusCode int
	Retryable  bool
}

func (e *ClaudeAPIError) Error() string {
	return fmt.Sprintf("Claude API error (status %d, type %s): %s", e.StatusCode, e.Type, e.Message)
}

// IsRetryable returns true if this error indicates a retryable condition
func (e *ClaudeAPIError) IsRetryable() bool {
	return e.Retryable
}

// NewClaudeClient creates a new Claude API client with the provided configuration
func NewClaudeClient(config ClaudeConfig) (*ClaudeClient, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("Claude API key is required")
	}

	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaultMaxTokens
	}
	if config.Temperature <= 0 {
		config.Temperature = defaultTemperature
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultClaudeTimeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaultMaxRetries
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = defaultBaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaultMaxDelay
	}

	// Retries are handled here so they are logged and bounded by MaxRetries.
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &ClaudeClient{
		client: anthropic.NewClient(opts...),
		config: config,
	}, nil
}

// BriefingRequest is the input for a briefing.
type BriefingRequest struct {
	Context        string            // Rendered analysis report, sent as system context
	PromptTemplate string            // Template with {{variable}} placeholders
	Variables      map[string]string // Values for the placeholders
}

// Briefing is a generated analysis briefing.
type Briefing struct {
	Text        string
	TokensUsed  int
	GeneratedAt time.Time
}

// GenerateBriefing asks Claude to summarize an analysis.
func (c *ClaudeClient) GenerateBriefing(ctx context.Context, request BriefingRequest) (*Briefing, error) {
	complete := logger.LogOperationStart("claude_briefing", map[string]any{
		"model":       c.config.Model,
		"max_tokens":  c.config.MaxTokens,
		"temperature": c.config.Temperature,
		"max_retries": c.config.MaxRetries,
	})

	if strings.TrimSpace(request.Context) == "" {
		err := errors.New("briefing context is empty")
		complete(err)
		return nil, err
	}
	template := request.PromptTemplate
	if template == "" {
		template = DefaultBriefingPrompt
	}
	prompt := c.substituteTemplateVariables(template, request.Variables)

	messageReq := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.config.Model),
		MaxTokens:   int64(c.config.MaxTokens),
		Temperature: anthropic.Float(c.config.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(prompt),
			),
		},
		System: []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: "You are a meteorologist briefing disaster-management staff. Base every statement on this analysis:\n\n" + request.Context,
			},
		},
	}

	resp, err := c.executeWithRetry(ctx, messageReq)
	if err != nil {
		complete(err)
		return nil, err
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			text = block.Text
			break
		}
	}
	if text == "" {
		err := fmt.Errorf("no text content in Claude API response")
		complete(err)
		return nil, err
	}

	if err := validateBriefing(text); err != nil {
		complete(err)
		return nil, fmt.Errorf("generated briefing validation failed: %w", err)
	}

	complete(nil)
	return &Briefing{
		Text:        strings.TrimSpace(text),
		TokensUsed:  int(resp.Usage.OutputTokens),
		GeneratedAt: time.Now(),
	}, nil
}

// executeWithRetry executes a Claude API request with exponential backoff
func (c *ClaudeClient) executeWithRetry(ctx context.Context, messageReq anthropic.MessageNewParams) (*anthropic.Message, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)

		if attempt > 0 {
			logger.LogWithFields(logger.InfoLevel, "Retrying Claude API request", map[string]any{
				"attempt":     attempt + 1,
				"max_retries": c.config.MaxRetries + 1,
			})
		}

		resp, err := c.client.Messages.New(reqCtx, messageReq)
		cancel()
		if err == nil {
			return resp, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		claudeErr := c.parseClaudeError(err)
		if !claudeErr.IsRetryable() {
			logger.LogWithFields(logger.ErrorLevel, "Non-retryable Claude API error", map[string]any{
				"error":   err.Error(),
				"attempt": attempt + 1,
			})
			return nil, claudeErr
		}
		if attempt == c.config.MaxRetries {
			break
		}

		delay := c.calculateRetryDelay(attempt)
		logger.LogWithFields(logger.WarnLevel, "Claude API request failed, retrying", map[string]any{
			"error":        err.Error(),
			"attempt":      attempt + 1,
			"next_attempt": attempt + 2,
			"delay_ms":     delay.Milliseconds(),
		})

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	claudeErr := c.parseClaudeError(lastErr)
	logger.LogWithFields(logger.ErrorLevel, "Claude API request failed after all retries", map[string]any{
		"total_attempts": c.config.MaxRetries + 1,
		"final_error":    lastErr.Error(),
	})
	return nil, fmt.Errorf("Claude API request failed after %d attempts: %w", c.config.MaxRetries+1, claudeErr)
}

// calculateRetryDelay returns baseDelay * 2^attempt, capped and jittered by 10%.
func (c *ClaudeClient) calculateRetryDelay(attempt int) time.Duration {
	delay := time.Duration(float64(c.config.BaseDelay) * math.Pow(2, float64(attempt)))
	if delay > c.config.MaxDelay {
		delay = c.config.MaxDelay
	}

	jitter := time.Duration(float64(delay) * defaultJitterFactor * (rand.Float64() - 0.5) * 2)
	delay += jitter
	if delay < 0 {
		delay = c.config.BaseDelay
	}
	return delay
}

// parseClaudeError classifies an error as retryable or not. Typed API errors
// are classified by status code; anything else by its message.
func (c *ClaudeClient) parseClaudeError(err error) *ClaudeAPIError {
	if err == nil {
		return &ClaudeAPIError{Type: "unknown", Message: "unknown error"}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ClaudeAPIError{Type: "timeout", Message: "request timeout", Retryable: true}
	}
	if errors.Is(err, context.Canceled) {
		return &ClaudeAPIError{Type: "cancelled", Message: "request cancelled"}
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode, err.Error())
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "429"):
		return classifyStatus(http.StatusTooManyRequests, "API rate limit exceeded")
	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "529"):
		return classifyStatus(http.StatusInternalServerError, "server error")
	case strings.Contains(errStr, "401") || strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "invalid api key"):
		return classifyStatus(http.StatusUnauthorized, "invalid API key or unauthorized")
	case strings.Contains(errStr, "400") || strings.Contains(errStr, "invalid request"):
		return classifyStatus(http.StatusBadRequest, "invalid request")
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "timeout") || strings.Contains(errStr, "dns"):
		return &ClaudeAPIError{Type: "network_error", Message: "network or connection error", Retryable: true}
	}

	return &ClaudeAPIError{Type: "api_error", Message: err.Error()}
}

func classifyStatus(status int, message string) *ClaudeAPIError {
	e := &ClaudeAPIError{StatusCode: status, Message: message}
	switch {
	case status == http.StatusTooManyRequests:
		e.Type, e.Retryable = "rate_limit_error", true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Type = "authentication_error"
	case status >= 500:
		// 529 is Anthropic's "overloaded".
		e.Type, e.Retryable = "server_error", true
	case status >= 400:
		e.Type = "invalid_request_error"
	default:
		e.Type = "api_error"
	}
	return e
}

var templateVar = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)

// substituteTemplateVariables replaces {{name}} placeholders. Unknown names
// become [missing:name].
func (c *ClaudeClient) substituteTemplateVariables(template string, variables map[string]string) string {
	return templateVar.ReplaceAllStringFunc(template, func(match string) string {
		varName := templateVar.FindStringSubmatch(match)[1]
		if value, exists := variables[varName]; exists {
			return value
		}
		logger.LogWithFields(logger.WarnLevel, "Missing briefing template variable", map[string]any{
			"missing_variable": varName,
			"available_vars":   variableNames(variables),
		})
		return fmt.Sprintf("[missing:%s]", varName)
	})
}

func variableNames(variables map[string]string) []string {
	names := make([]string, 0, len(variables))
	for name := range variables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validateBriefing(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("generated briefing is empty")
	}
	if len(text) < minBriefingLength {
		return fmt.Errorf("generated briefing is too short (%d characters)", len(text))
	}
	if len(text) > maxBriefingLength {
		return fmt.Errorf("generated briefing is too long (%d characters)", len(text))
	}
	return nil
}
