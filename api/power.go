package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"bdpower/internal/dataset"
	"bdpower/internal/errorutil"
	"bdpower/internal/logger"
)

const (
	// NASA POWER temporal API base URL and endpoints
	powerBaseURL   = "https://power.larc.nasa.gov/api/temporal"
	dailyEndpoint  = "/daily/point"
	hourlyEndpoint = "/hourly/point"

	defaultPowerTimeout = 30 * time.Second

	userAgent = "bdpower/1.0"

	// POWER expects start and end as YYYYMMDD
	powerDateLayout = "20060102"
)

var validate = validator.New()

// ErrInvalidParams is returned before any request is sent when the
// request parameters fail validation.
var ErrInvalidParams = errors.New("invalid POWER request parameters")

// PowerConfig configures a PowerClient. Zero values select the defaults.
type PowerConfig struct {
	BaseURL      string
	Timeout      time.Duration
	RetryCount   int
	RetryWait    time.Duration
	MissingAsNaN bool
}

// PowerClient issues point requests against the NASA POWER temporal API.
type PowerClient struct {
	client    *resty.Client
	timeout   time.Duration
	normalize NormalizeOptions
}

// NewPowerClient creates a POWER client. Requests are not retried unless
// cfg.RetryCount is positive.
func NewPowerClient(cfg PowerConfig) *PowerClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = powerBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultPowerTimeout
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout)

	if cfg.RetryCount > 0 {
		wait := cfg.RetryWait
		if wait <= 0 {
			wait = 2 * time.Second
		}
		client.SetRetryCount(cfg.RetryCount).
			SetRetryWaitTime(wait).
			SetRetryMaxWaitTime(4 * wait).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return r != nil && errorutil.IsRetryableStatus(r.StatusCode())
			})
	}

	client.OnBeforeRequest(func(c *resty.Client, req *resty.Request) error {
		headers := make(map[string]string)
		for key, values := range req.Header {
			if len(values) > 0 {
				headers[key] = values[0]
			}
		}
		logger.LogAPIRequest(req.Method, req.URL, headers)
		return nil
	})

	client.OnAfterResponse(func(c *resty.Client, resp *resty.Response) error {
		logger.LogAPIResponse(resp.Request.Method, resp.Request.URL, resp.StatusCode(), resp.Time(), len(resp.Body()))
		return nil
	})

	return &PowerClient{
		client:    client,
		timeout:   cfg.Timeout,
		normalize: NormalizeOptions{MissingAsNaN: cfg.MissingAsNaN},
	}
}

// DailyParams describes a single-point request. Start and End are inclusive
// calendar days.
type DailyParams struct {
	Latitude   float64   `validate:"gte=-90,lte=90"`
	Longitude  float64   `validate:"gte=-180,lte=180"`
	Start      time.Time `validate:"required"`
	End        time.Time `validate:"required,gtefield=Start"`
	Parameters []string  `validate:"min=1,max=20,dive,required"`
	Community  string    `validate:"oneof=ag re sb"`
}

// withDefaults fills the parameter set and community when unset.
func (p DailyParams) withDefaults(defaultSet func() []string) DailyParams {
	if len(p.Parameters) == 0 {
		p.Parameters = defaultSet()
	}
	p.Community = strings.ToLower(strings.TrimSpace(p.Community))
	if p.Community == "" {
		p.Community = "ag"
	}
	return p
}

// Validate checks coordinates, the date range, the community and the
// parameter count.
func (p DailyParams) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), rule))
	}
	return fmt.Errorf("%w: %s", ErrInvalidParams, strings.Join(msgs, "; "))
}

func (p DailyParams) query() map[string]string {
	return map[string]string{
		"parameters": strings.Join(p.Parameters, ","),
		"community":  p.Community,
		"start":      p.Start.Format(powerDateLayout),
		"end":        p.End.Format(powerDateLayout),
		"latitude":   strconv.FormatFloat(p.Latitude, 'f', -1, 64),
		"longitude":  strconv.FormatFloat(p.Longitude, 'f', -1, 64),
		"format":     "json",
	}
}

// GetDaily fetches the raw daily point response body.
func (c *PowerClient) GetDaily(ctx context.Context, params DailyParams) ([]byte, error) {
	return c.get(ctx, "power_daily", dailyEndpoint, params.withDefaults(dataset.DefaultDailyParameters))
}

// GetHourly fetches the raw hourly point response body.
func (c *PowerClient) GetHourly(ctx context.Context, params DailyParams) ([]byte, error) {
	return c.get(ctx, "power_hourly", hourlyEndpoint, params.withDefaults(dataset.DefaultHourlyParameters))
}

// FetchDaily fetches and normalizes a daily point request.
func (c *PowerClient) FetchDaily(ctx context.Context, params DailyParams) (*dataset.Table, error) {
	body, err := c.GetDaily(ctx, params)
	if err != nil {
		return nil, err
	}
	return Normalize(body, c.normalize)
}

// FetchHourly fetches and normalizes an hourly point request.
func (c *PowerClient) FetchHourly(ctx context.Context, params DailyParams) (*dataset.Table, error) {
	body, err := c.GetHourly(ctx, params)
	if err != nil {
		return nil, err
	}
	return Normalize(body, c.normalize)
}

func (c *PowerClient) get(ctx context.Context, operation, endpoint string, params DailyParams) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	complete := logger.LogOperationStart(operation, map[string]any{
		"endpoint":   endpoint,
		"latitude":   params.Latitude,
		"longitude":  params.Longitude,
		"start":      params.Start.Format(powerDateLayout),
		"end":        params.End.Format(powerDateLayout),
		"parameters": len(params.Parameters),
	})

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(params.query()).
		Get(endpoint)
	if err != nil {
		netErr := errorutil.NewNetworkError("POWER "+operation, endpoint, c.timeout, err)
		errorutil.LogNetworkError(logger.Slog(), netErr)
		complete(netErr)
		return nil, netErr
	}

	if !resp.IsSuccess() {
		apiErr := parsePowerError(resp)
		complete(apiErr)
		return nil, apiErr
	}

	complete(nil)
	return resp.Body(), nil
}

// PowerAPIError is a non-2xx response from POWER.
type PowerAPIError struct {
	StatusCode int
	Messages   []string
}

func (e *PowerAPIError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("POWER API error (HTTP %d)", e.StatusCode)
	}
	return fmt.Sprintf("POWER API error (HTTP %d): %s", e.StatusCode, strings.Join(e.Messages, "; "))
}

// IsRetryable reports whether a later attempt could succeed.
func (e *PowerAPIError) IsRetryable() bool {
	return errorutil.IsRetryableStatus(e.StatusCode)
}

// parsePowerError collects whatever diagnostic text the body carries. POWER
// reports validation problems under "messages" or a FastAPI style "detail".
func parsePowerError(resp *resty.Response) error {
	apiErr := &PowerAPIError{StatusCode: resp.StatusCode()}
	body := resp.Body()
	if !gjson.ValidBytes(body) {
		if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 {
			apiErr.Messages = append(apiErr.Messages, text)
		}
		return apiErr
	}

	gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
		if s := msg.String(); s != "" {
			apiErr.Messages = append(apiErr.Messages, s)
		}
		return true
	})

	detail := gjson.GetBytes(body, "detail")
	switch {
	case detail.IsArray():
		detail.ForEach(func(_, d gjson.Result) bool {
			if msg := d.Get("msg"); msg.Exists() {
				apiErr.Messages = append(apiErr.Messages, msg.String())
			} else {
				apiErr.Messages = append(apiErr.Messages, d.String())
			}
			return true
		})
	case detail.Exists():
		apiErr.Messages = append(apiErr.Messages, detail.String())
	}

	return apiErr
}
