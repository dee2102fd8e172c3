package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const messageResponse = `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",` +
	`"content":[{"type":"text","text":"Sylhet and Sunamganj need attention: humidity above 90%% and heavy rain drove most high-risk days."}],` +
	`"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":%d}}`

func testClaudeClient(t *testing.T, url string) *ClaudeClient {
	t.Helper()
	client, err := NewClaudeClient(ClaudeConfig{
		APIKey:     "test-key",
		BaseURL:    url,
		Model:      "claude-test",
		Timeout:    5 * time.Second,
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Failed to create Claude client: %v", err)
	}
	return client
}

// TestClaudeClientDefaults tests default values when config is empty
func TestClaudeClientDefaults(t *testing.T) {
	client, err := NewClaudeClient(ClaudeConfig{APIKey: "test-api-key"})
	if err != nil {
		t.Fatalf("Failed to create Claude client: %v", err)
	}

	if client.config.Model != defaultModel {
		t.Errorf("Expected default model '%s', got '%s'", defaultModel, client.config.Model)
	}
	if client.config.MaxTokens != defaultMaxTokens {
		t.Errorf("Expected default max tokens %d, got %d", defaultMaxTokens, client.config.MaxTokens)
	}
	if client.config.Temperature != defaultTemperature {
		t.Errorf("Expected default temperature %f, got %f", defaultTemperature, client.config.Temperature)
	}
	if client.config.Timeout != defaultClaudeTimeout {
		t.Errorf("Expected default timeout %v, got %v", defaultClaudeTimeout, client.config.Timeout)
	}
	if client.config.MaxRetries != defaultMaxRetries {
		t.Errorf("Expected MaxRetries %d, got %d", defaultMaxRetries, client.config.MaxRetries)
	}
	if client.config.BaseDelay != defaultBaseDelay {
		t.Errorf("Expected BaseDelay %v, got %v", defaultBaseDelay, client.config.BaseDelay)
	}
	if client.config.MaxDelay != defaultMaxDelay {
		t.Errorf("Expected MaxDelay %v, got %v", defaultMaxDelay, client.config.MaxDelay)
	}
}

// TestClaudeClientAPIKeyValidation tests API key validation
func TestClaudeClientAPIKeyValidation(t *testing.T) {
	tests := []struct {
		name      string
		apiKey    string
		wantError bool
	}{
		{name: "Empty API key", apiKey: "", wantError: true},
		{name: "Whitespace API key", apiKey: "   ", wantError: true},
		{name: "Valid API key", apiKey: "sk-ant-api-key", wantError: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClaudeClient(ClaudeConfig{APIKey: tt.apiKey})
			if (err != nil) != tt.wantError {
				t.Errorf("NewClaudeClient() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestValidateBriefing(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr string
	}{
		{name: "Valid briefing", text: "Sylhet division carries the highest lightning risk this fortnight."},
		{name: "Empty", text: "   \n", wantErr: "empty"},
		{name: "Too short", text: "Rain.", wantErr: "too short"},
		{name: "Too long", text: strings.Repeat("a", maxBriefingLength+1), wantErr: "too long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateBriefing(tt.text)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSubstituteTemplateVariables(t *testing.T) {
	client := &ClaudeClient{}
	got := client.substituteTemplateVariables(
		"From {{start}} to {{end}}: {{high_risk}} high-risk records, {{unknown}}.",
		map[string]string{"start": "2024-08-16", "end": "2024-08-31", "high_risk": "42"},
	)
	want := "From 2024-08-16 to 2024-08-31: 42 high-risk records, [missing:unknown]."
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestParseClaudeError(t *testing.T) {
	client := &ClaudeClient{}

	tests := []struct {
		name       string
		err        error
		expectType string
		retryable  bool
	}{
		{"Rate limit error", fmt.Errorf("rate limit exceeded: 429"), "rate_limit_error", true},
		{"Server error", fmt.Errorf("internal server error: 500"), "server_error", true},
		{"Authentication error", fmt.Errorf("unauthorized: 401"), "authentication_error", false},
		{"Bad request error", fmt.Errorf("invalid request: 400"), "invalid_request_error", false},
		{"Network error", fmt.Errorf("connection refused"), "network_error", true},
		{"Timeout error", context.DeadlineExceeded, "timeout", true},
		{"Cancelled error", context.Canceled, "cancelled", false},
		{"Unknown error", fmt.Errorf("some other error"), "api_error", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claudeErr := client.parseClaudeError(tt.err)
			if claudeErr.Type != tt.expectType {
				t.Errorf("Expected error type %q, got %q", tt.expectType, claudeErr.Type)
			}
			if claudeErr.IsRetryable() != tt.retryable {
				t.Errorf("Expected retryable %v, got %v", tt.retryable, claudeErr.IsRetryable())
			}
		})
	}
}

// TestCalculateRetryDelay tests exponential backoff calculation
func TestCalculateRetryDelay(t *testing.T) {
	client := &ClaudeClient{
		config: ClaudeConfig{
			BaseDelay: 100 * time.Millisecond,
			MaxDelay:  5 * time.Second,
		},
	}

	tests := []struct {
		attempt     int
		expectedMin time.Duration
		expectedMax time.Duration
	}{
		// ±10% jitter
		{0, 90 * time.Millisecond, 110 * time.Millisecond},
		{1, 180 * time.Millisecond, 220 * time.Millisecond},
		{2, 360 * time.Millisecond, 440 * time.Millisecond},
		{3, 720 * time.Millisecond, 880 * time.Millisecond},
		{10, 4500 * time.Millisecond, 5500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			delay := client.calculateRetryDelay(tt.attempt)
			if delay < tt.expectedMin || delay > tt.expectedMax {
				t.Errorf("Attempt %d: expected delay between %v and %v, got %v",
					tt.attempt, tt.expectedMin, tt.expectedMax, delay)
			}
		})
	}
}

func TestGenerateBriefing(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "test-key" {
			t.Errorf("Expected API key header, got %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, messageResponse, 42)
	}))
	defer srv.Close()

	client := testClaudeClient(t, srv.URL)
	briefing, err := client.GenerateBriefing(context.Background(), BriefingRequest{
		Context:   "LIGHTNING RISK\n  High risk records (score >= 3): 12 (40.0%)",
		Variables: map[string]string{"start": "2024-08-16", "end": "2024-08-31", "riskiest": "Sylhet (3.10)"},
	})
	if err != nil {
		t.Fatalf("GenerateBriefing failed: %v", err)
	}

	if !strings.HasPrefix(briefing.Text, "Sylhet and Sunamganj") {
		t.Errorf("Unexpected briefing text %q", briefing.Text)
	}
	if briefing.TokensUsed != 42 {
		t.Errorf("Expected 42 tokens, got %d", briefing.TokensUsed)
	}

	if body["model"] != "claude-test" {
		t.Errorf("Expected model claude-test, got %v", body["model"])
	}
	raw, _ := json.Marshal(body)
	for _, want := range []string{"High risk records", "covering 2024-08-16 to 2024-08-31", "Sylhet (3.10)"} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("Request body missing %q: %s", want, raw)
		}
	}
}

func TestGenerateBriefingRetriesOverloaded(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(529)
			fmt.Fprint(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
			return
		}
		fmt.Fprintf(w, messageResponse, 7)
	}))
	defer srv.Close()

	briefing, err := testClaudeClient(t, srv.URL).GenerateBriefing(context.Background(), BriefingRequest{Context: "report"})
	if err != nil {
		t.Fatalf("GenerateBriefing failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 calls, got %d", calls.Load())
	}
	if briefing.TokensUsed != 7 {
		t.Errorf("Expected 7 tokens, got %d", briefing.TokensUsed)
	}
}

func TestGenerateBriefingAuthErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer srv.Close()

	_, err := testClaudeClient(t, srv.URL).GenerateBriefing(context.Background(), BriefingRequest{Context: "report"})
	claudeErr, ok := err.(*ClaudeAPIError)
	if !ok {
		t.Fatalf("Expected *ClaudeAPIError, got %T: %v", err, err)
	}
	if claudeErr.Type != "authentication_error" || claudeErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("Unexpected error %+v", claudeErr)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected a single call, got %d", calls.Load())
	}
}

func TestGenerateBriefingRequiresContext(t *testing.T) {
	client := &ClaudeClient{config: ClaudeConfig{Model: "claude-test"}}
	if _, err := client.GenerateBriefing(context.Background(), BriefingRequest{}); err == nil {
		t.Error("Expected error for empty context")
	}
}
