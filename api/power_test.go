package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bdpower/internal/dataset"
	"bdpower/internal/errorutil"
)

func august(d int) time.Time {
	return time.Date(2024, time.August, d, 0, 0, 0, 0, time.UTC)
}

func dhakaParams() DailyParams {
	return DailyParams{
		Latitude:  23.8103,
		Longitude: 90.4125,
		Start:     august(16),
		End:       august(17),
	}
}

func TestGetDailyBuildsQuery(t *testing.T) {
	var got url.Values
	var path, agent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		path = r.URL.Path
		agent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(twoDayResponse))
	}))
	defer server.Close()

	client := NewPowerClient(PowerConfig{BaseURL: server.URL})
	body, err := client.GetDaily(context.Background(), dhakaParams())
	require.NoError(t, err)
	assert.JSONEq(t, twoDayResponse, string(body))

	assert.Equal(t, "/daily/point", path)
	assert.Equal(t, userAgent, agent)
	assert.Equal(t, strings.Join(dataset.DefaultDailyParameters(), ","), got.Get("parameters"))
	assert.Equal(t, "ag", got.Get("community"))
	assert.Equal(t, "20240816", got.Get("start"))
	assert.Equal(t, "20240817", got.Get("end"))
	assert.Equal(t, "23.8103", got.Get("latitude"))
	assert.Equal(t, "90.4125", got.Get("longitude"))
	assert.Equal(t, "json", got.Get("format"))
}

func TestFetchDaily(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(twoDayResponse))
	}))
	defer server.Close()

	tbl, err := NewPowerClient(PowerConfig{BaseURL: server.URL}).FetchDaily(context.Background(), dhakaParams())
	require.NoError(t, err)
	assert.Equal(t, []float64{30.0, 31.5}, tbl.Column(dataset.Temperature))
}

func TestGetHourlyUsesHourlyEndpoint(t *testing.T) {
	var path, params string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		params = r.URL.Query().Get("parameters")
		w.Write([]byte(`{"properties":{"parameter":{"T2M":{"2024081600":28.0}}}}`))
	}))
	defer server.Close()

	tbl, err := NewPowerClient(PowerConfig{BaseURL: server.URL}).FetchHourly(context.Background(), dhakaParams())
	require.NoError(t, err)
	assert.Equal(t, "/hourly/point", path)
	assert.Equal(t, strings.Join(dataset.DefaultHourlyParameters(), ","), params)
	assert.True(t, tbl.Hourly)
}

func TestPowerAPIError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		messages  []string
		retryable bool
	}{
		{
			name:     "detail list",
			status:   http.StatusUnprocessableEntity,
			body:     `{"detail":[{"loc":["query","start"],"msg":"start date is after end date"}]}`,
			messages: []string{"start date is after end date"},
		},
		{
			name:     "messages",
			status:   http.StatusBadRequest,
			body:     `{"messages":["Parameter FOO is not available"]}`,
			messages: []string{"Parameter FOO is not available"},
		},
		{
			name:      "plain text",
			status:    http.StatusServiceUnavailable,
			body:      "maintenance",
			messages:  []string{"maintenance"},
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewPowerClient(PowerConfig{BaseURL: server.URL}).GetDaily(context.Background(), dhakaParams())
			var apiErr *PowerAPIError
			require.True(t, errors.As(err, &apiErr), "got %T: %v", err, err)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.messages, apiErr.Messages)
			assert.Equal(t, tt.retryable, apiErr.IsRetryable())
		})
	}
}

func TestNoRetryByDefault(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewPowerClient(PowerConfig{BaseURL: server.URL}).GetDaily(context.Background(), dhakaParams())
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWhenConfigured(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(twoDayResponse))
	}))
	defer server.Close()

	client := NewPowerClient(PowerConfig{BaseURL: server.URL, RetryCount: 2, RetryWait: time.Millisecond})
	_, err := client.GetDaily(context.Background(), dhakaParams())
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestTimeoutIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := NewPowerClient(PowerConfig{BaseURL: server.URL, Timeout: 50 * time.Millisecond}).GetDaily(context.Background(), dhakaParams())
	var netErr *errorutil.NetworkError
	require.True(t, errors.As(err, &netErr), "got %T: %v", err, err)
	assert.True(t, netErr.IsRetryable())
}

func TestCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(twoDayResponse))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPowerClient(PowerConfig{BaseURL: server.URL}).GetDaily(ctx, dhakaParams())
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestValidateParams(t *testing.T) {
	tests := []struct {
		name  string
		tweak func(*DailyParams)
		field string
	}{
		{"latitude out of range", func(p *DailyParams) { p.Latitude = 91 }, "Latitude"},
		{"longitude out of range", func(p *DailyParams) { p.Longitude = -181 }, "Longitude"},
		{"end before start", func(p *DailyParams) { p.End = august(1) }, "End"},
		{"unknown community", func(p *DailyParams) { p.Community = "xx" }, "Community"},
		{"too many parameters", func(p *DailyParams) { p.Parameters = make([]string, 21) }, "Parameters"},
		{"missing start", func(p *DailyParams) { p.Start = time.Time{} }, "Start"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := dhakaParams()
			tt.tweak(&p)
			p = p.withDefaults(dataset.DefaultDailyParameters)
			err := p.Validate()
			require.True(t, errors.Is(err, ErrInvalidParams), "got %v", err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	assert.NoError(t, dhakaParams().withDefaults(dataset.DefaultDailyParameters).Validate())
}

func TestInvalidParamsSendNothing(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	defer server.Close()

	p := dhakaParams()
	p.Latitude = 120
	_, err := NewPowerClient(PowerConfig{BaseURL: server.URL}).GetDaily(context.Background(), p)
	assert.True(t, errors.Is(err, ErrInvalidParams))
	assert.Zero(t, calls)
}
