package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"bdpower/internal/analysis"
	"bdpower/internal/dataset"
)

// DefaultPath is where the CLI looks for its configuration.
const DefaultPath = "bdpower.toml"

// Power contains NASA POWER request configuration
type Power struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Community      string `toml:"community"`     // ag, re or sb
	ParameterSet   string `toml:"parameter_set"` // default, lightning or hourly
	MissingAsNaN   bool   `toml:"missing_as_nan"`
	RetryCount     int    `toml:"retry_count"` // 0 disables retries
	RetryWaitMs    int    `toml:"retry_wait_ms"`
}

// Batch contains multi-location run configuration
type Batch struct {
	Start         string `toml:"start"` // YYYY-MM-DD
	End           string `toml:"end"`
	DelayMs       int    `toml:"delay_ms"`        // Pause between requests
	AvgResponseMs int    `toml:"avg_response_ms"` // Used by the estimate command
	OutputDir     string `toml:"output_dir"`
	OutputFile    string `toml:"output_file"`
}

// Analysis contains report configuration
type Analysis struct {
	Thresholds analysis.Thresholds `toml:"thresholds"`
	TopN       int                 `toml:"top_n"`
	SkipDaily  bool                `toml:"skip_daily"`
}

// APIs contains API key configurations
type APIs struct {
	Anthropic string `toml:"anthropic"`
}

// Claude contains Claude AI model configuration for analysis briefings
type Claude struct {
	Model          string  `toml:"model"`
	BaseURL        string  `toml:"base_url"`
	MaxTokens      int     `toml:"max_tokens"`
	Temperature    float64 `toml:"temperature"`
	MaxRetries     int     `toml:"max_retries"`
	BaseDelayMs    int     `toml:"base_delay_ms"` // Base delay in milliseconds
	MaxDelayMs     int     `toml:"max_delay_ms"`  // Max delay in milliseconds
	PromptTemplate string  `toml:"prompt_template"`
}

// Logging contains logging configuration with rotation and cross-platform support
type Logging struct {
	Enabled         bool   `toml:"enabled"`          // Enable file logging
	Directory       string `toml:"directory"`        // Log directory (relative or absolute)
	FilenamePattern string `toml:"filename_pattern"` // Log filename with date patterns
	Level           string `toml:"level"`            // Log level: debug, info, warn, error
	MaxFiles        int    `toml:"max_files"`        // Number of log files to keep
	MaxSizeMB       int    `toml:"max_size_mb"`      // Rotate when file exceeds this size
	ConsoleOutput   bool   `toml:"console_output"`   // Also output to console
}

// Metrics contains run metrics output configuration
type Metrics struct {
	Textfile string `toml:"textfile"` // node_exporter textfile path, empty disables
}

// SQLite contains the optional SQLite sink configuration
type SQLite struct {
	Path string `toml:"path"` // empty disables the sink
}

// Kafka contains the optional Kafka sink configuration
type Kafka struct {
	Brokers        []string `toml:"brokers"` // empty disables the sink
	Topic          string   `toml:"topic"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Config represents the complete application configuration
type Config struct {
	Power    Power    `toml:"power"`
	Batch    Batch    `toml:"batch"`
	Analysis Analysis `toml:"analysis"`
	APIs     APIs     `toml:"apis"`
	Claude   Claude   `toml:"claude"`
	Logging  Logging  `toml:"logging"`
	Metrics  Metrics  `toml:"metrics"`
	SQLite   SQLite   `toml:"sqlite"`
	Kafka    Kafka    `toml:"kafka"`
}

// LoadEnv loads .env files into the process environment. Missing files are
// not an error.
func LoadEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load environment file: %w", err)
	}
	return nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var config Config
	config.ApplyDefaults()
	return &config
}

// LoadConfig reads and parses a TOML configuration file
func LoadConfig(configPath string) (*Config, error) {
	cleanPath := filepath.Clean(configPath)

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ConfigNotFoundError{Path: cleanPath}
		}
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse TOML configuration: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyEnvOverrides replaces configured values with environment variables
// when those are set.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.APIs.Anthropic = v
	}
	if v := os.Getenv("POWER_BASE_URL"); v != "" {
		c.Power.BaseURL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("BDPOWER_SQLITE_PATH"); v != "" {
		c.SQLite.Path = v
	}
	if v := os.Getenv("BDPOWER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	c.Batch.DelayMs = getenvInt("BDPOWER_DELAY_MS", c.Batch.DelayMs)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

// ApplyDefaults sets default values for optional configuration fields
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Power.BaseURL) == "" {
		c.Power.BaseURL = "https://power.larc.nasa.gov/api/temporal"
	}
	if c.Power.TimeoutSeconds <= 0 {
		c.Power.TimeoutSeconds = 30
	}
	if strings.TrimSpace(c.Power.Community) == "" {
		c.Power.Community = "ag"
	}
	if strings.TrimSpace(c.Power.ParameterSet) == "" {
		c.Power.ParameterSet = "default"
	}
	if c.Power.RetryWaitMs <= 0 {
		c.Power.RetryWaitMs = 2000
	}

	// The monsoon fortnight the lightning study covers.
	if strings.TrimSpace(c.Batch.Start) == "" {
		c.Batch.Start = "2024-08-16"
	}
	if strings.TrimSpace(c.Batch.End) == "" {
		c.Batch.End = "2024-08-31"
	}
	if c.Batch.DelayMs <= 0 {
		c.Batch.DelayMs = 1000
	}
	if c.Batch.AvgResponseMs <= 0 {
		c.Batch.AvgResponseMs = 2000
	}
	if strings.TrimSpace(c.Batch.OutputDir) == "" {
		c.Batch.OutputDir = "."
	}
	if strings.TrimSpace(c.Batch.OutputFile) == "" {
		c.Batch.OutputFile = "bangladesh_64_districts_lightning_data.csv"
	}

	def := analysis.DefaultThresholds()
	if c.Analysis.Thresholds.Humidity <= 0 {
		c.Analysis.Thresholds.Humidity = def.Humidity
	}
	if c.Analysis.Thresholds.Precipitation <= 0 {
		c.Analysis.Thresholds.Precipitation = def.Precipitation
	}
	if c.Analysis.Thresholds.TemperatureRange <= 0 {
		c.Analysis.Thresholds.TemperatureRange = def.TemperatureRange
	}
	if c.Analysis.Thresholds.WindSpeed <= 0 {
		c.Analysis.Thresholds.WindSpeed = def.WindSpeed
	}
	if c.Analysis.TopN <= 0 {
		c.Analysis.TopN = 10
	}

	if strings.TrimSpace(c.Claude.Model) == "" {
		c.Claude.Model = "claude-sonnet-4-20250514"
	}
	if c.Claude.MaxTokens <= 0 {
		c.Claude.MaxTokens = 1000
	}
	if c.Claude.Temperature <= 0 {
		c.Claude.Temperature = 0.3
	}
	if c.Claude.MaxRetries <= 0 {
		c.Claude.MaxRetries = 3
	}
	if c.Claude.BaseDelayMs <= 0 {
		c.Claude.BaseDelayMs = 1000
	}
	if c.Claude.MaxDelayMs <= 0 {
		c.Claude.MaxDelayMs = 30000
	}

	if strings.TrimSpace(c.Logging.Directory) == "" {
		c.Logging.Directory = "logs"
	}
	if strings.TrimSpace(c.Logging.FilenamePattern) == "" {
		c.Logging.FilenamePattern = "bdpower-YYYYMMDD.log"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxFiles <= 0 {
		c.Logging.MaxFiles = 7
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 10
	}

	if strings.TrimSpace(c.Kafka.Topic) == "" {
		c.Kafka.Topic = "bdpower.observations"
	}
	if c.Kafka.TimeoutSeconds <= 0 {
		c.Kafka.TimeoutSeconds = 10
	}
}

// PowerTimeout returns the per-request timeout.
func (c *Config) PowerTimeout() time.Duration {
	return time.Duration(c.Power.TimeoutSeconds) * time.Second
}

// Delay returns the pause between batch requests.
func (c *Config) Delay() time.Duration {
	return time.Duration(c.Batch.DelayMs) * time.Millisecond
}

// DateRange parses the configured batch range.
func (c *Config) DateRange() (time.Time, time.Time, error) {
	start, err := time.Parse(dataset.DateLayout, c.Batch.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid batch.start %q: %w", c.Batch.Start, err)
	}
	end, err := time.Parse(dataset.DateLayout, c.Batch.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid batch.end %q: %w", c.Batch.End, err)
	}
	return start, end, nil
}

// OutputPath joins the batch output directory and name.
func (c *Config) OutputPath() string {
	return filepath.Join(c.Batch.OutputDir, c.Batch.OutputFile)
}

// ConfigNotFoundError represents a missing configuration file
type ConfigNotFoundError struct {
	Path string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("configuration file not found: %s\n\nTo create a sample configuration file, run:\n  %s --generate-config", e.Path, filepath.Base(os.Args[0]))
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", e.Field, e.Message)
}

// Validate checks the configuration for correctness and completeness
func (c *Config) Validate() error {
	var errors []ValidationError

	errors = append(errors, c.validatePower()...)
	errors = append(errors, c.validateBatch()...)
	errors = append(errors, c.validateAnalysis()...)
	errors = append(errors, c.validateClaude()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateKafka()...)

	if len(errors) > 0 {
		return &MultiValidationError{Errors: errors}
	}
	return nil
}

// MultiValidationError represents multiple validation errors
type MultiValidationError struct {
	Errors []ValidationError
}

func (e *MultiValidationError) Error() string {
	var messages []string
	for _, err := range e.Errors {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  %s", strings.Join(messages, "\n  "))
}

func oneOf(value string, valid ...string) bool {
	for _, v := range valid {
		if value == v {
			return true
		}
	}
	return false
}

// validatePower checks POWER request configuration
func (c *Config) validatePower() []ValidationError {
	var errors []ValidationError

	if !strings.HasPrefix(c.Power.BaseURL, "http://") && !strings.HasPrefix(c.Power.BaseURL, "https://") {
		errors = append(errors, ValidationError{
			Field:   "power.base_url",
			Message: fmt.Sprintf("base_url must be an http(s) URL, got '%s'", c.Power.BaseURL),
		})
	}
	if c.Power.TimeoutSeconds < 1 || c.Power.TimeoutSeconds > 300 {
		errors = append(errors, ValidationError{
			Field:   "power.timeout_seconds",
			Message: fmt.Sprintf("timeout_seconds must be between 1 and 300, got %d", c.Power.TimeoutSeconds),
		})
	}
	if community := strings.ToLower(c.Power.Community); !oneOf(community, "ag", "re", "sb") {
		errors = append(errors, ValidationError{
			Field:   "power.community",
			Message: fmt.Sprintf("community must be one of: ag, re, sb, got '%s'", c.Power.Community),
		})
	}
	if _, ok := dataset.ParameterSet(c.Power.ParameterSet); !ok {
		errors = append(errors, ValidationError{
			Field:   "power.parameter_set",
			Message: fmt.Sprintf("parameter_set must be one of: default, lightning, hourly, got '%s'", c.Power.ParameterSet),
		})
	}
	if c.Power.RetryCount < 0 || c.Power.RetryCount > 10 {
		errors = append(errors, ValidationError{
			Field:   "power.retry_count",
			Message: fmt.Sprintf("retry_count must be between 0 and 10, got %d", c.Power.RetryCount),
		})
	}

	return errors
}

// validateBatch checks the date range and pacing
func (c *Config) validateBatch() []ValidationError {
	var errors []ValidationError

	start, end, err := c.DateRange()
	if err != nil {
		errors = append(errors, ValidationError{Field: "batch.start/end", Message: err.Error()})
	} else if end.Before(start) {
		errors = append(errors, ValidationError{
			Field:   "batch.end",
			Message: fmt.Sprintf("end %s is before start %s", c.Batch.End, c.Batch.Start),
		})
	}
	if c.Batch.DelayMs > 60000 {
		errors = append(errors, ValidationError{
			Field:   "batch.delay_ms",
			Message: fmt.Sprintf("delay_ms must be at most 60000, got %d", c.Batch.DelayMs),
		})
	}
	if strings.ContainsAny(c.Batch.OutputFile, `/\`) {
		errors = append(errors, ValidationError{
			Field:   "batch.output_file",
			Message: "output_file must be a file name; use output_dir for the directory",
		})
	}

	return errors
}

// validateAnalysis checks report configuration
func (c *Config) validateAnalysis() []ValidationError {
	var errors []ValidationError

	if c.Analysis.Thresholds.Humidity > 100 {
		errors = append(errors, ValidationError{
			Field:   "analysis.thresholds.humidity",
			Message: fmt.Sprintf("humidity threshold must be at most 100, got %.1f", c.Analysis.Thresholds.Humidity),
		})
	}
	if c.Analysis.TopN > 64 {
		errors = append(errors, ValidationError{
			Field:   "analysis.top_n",
			Message: fmt.Sprintf("top_n must be between 1 and 64, got %d", c.Analysis.TopN),
		})
	}

	return errors
}

// validateClaude checks Claude configuration
func (c *Config) validateClaude() []ValidationError {
	var errors []ValidationError

	if c.Claude.MaxTokens < 100 || c.Claude.MaxTokens > 4096 {
		errors = append(errors, ValidationError{
			Field:   "claude.max_tokens",
			Message: fmt.Sprintf("max_tokens must be between 100 and 4096, got %d", c.Claude.MaxTokens),
		})
	}
	if c.Claude.Temperature < 0 || c.Claude.Temperature > 1 {
		errors = append(errors, ValidationError{
			Field:   "claude.temperature",
			Message: fmt.Sprintf("temperature must be between 0 and 1, got %.2f", c.Claude.Temperature),
		})
	}
	if c.Claude.MaxRetries > 10 {
		errors = append(errors, ValidationError{
			Field:   "claude.max_retries",
			Message: fmt.Sprintf("max_retries must be between 0 and 10, got %d", c.Claude.MaxRetries),
		})
	}

	return errors
}

// validateLogging checks logging configuration
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level != "" && !oneOf(level, "debug", "info", "warn", "error") {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("level must be one of: debug, info, warn, error, got '%s'", c.Logging.Level),
		})
	}
	if c.Logging.MaxFiles < 0 || c.Logging.MaxFiles > 365 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_files",
			Message: fmt.Sprintf("max_files must be between 0 and 365, got %d", c.Logging.MaxFiles),
		})
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxSizeMB > 1000 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Message: fmt.Sprintf("max_size_mb must be between 0 and 1000, got %d", c.Logging.MaxSizeMB),
		})
	}
	// The filename pattern itself is checked by the logger on Initialize.

	return errors
}

// validateKafka checks the sink only when it is enabled
func (c *Config) validateKafka() []ValidationError {
	var errors []ValidationError
	if len(c.Kafka.Brokers) == 0 {
		return errors
	}

	for _, broker := range c.Kafka.Brokers {
		if !strings.Contains(broker, ":") {
			errors = append(errors, ValidationError{
				Field:   "kafka.brokers",
				Message: fmt.Sprintf("broker must be host:port, got '%s'", broker),
			})
		}
	}
	if strings.TrimSpace(c.Kafka.Topic) == "" {
		errors = append(errors, ValidationError{
			Field:   "kafka.topic",
			Message: "topic is required when brokers are set",
		})
	}

	return errors
}

// GenerateSampleConfig creates a sample configuration file at the specified path
func GenerateSampleConfig(configPath string) error {
	sampleConfig := `# bdpower configuration file
# NASA POWER weather extraction and lightning risk analysis for Bangladesh

[power]
base_url = "https://power.larc.nasa.gov/api/temporal"
timeout_seconds = 30
community = "ag"                 # ag, re or sb
parameter_set = "lightning"      # default, lightning or hourly
missing_as_nan = false           # treat the -999 fill value as missing
retry_count = 0                  # 0 = a failed location stays failed
retry_wait_ms = 2000

[batch]
start = "2024-08-16"
end = "2024-08-31"
delay_ms = 1000                  # pause between requests
avg_response_ms = 2000           # used by "bdpower estimate"
output_dir = "."
output_file = "bangladesh_64_districts_lightning_data.csv"

[analysis]
top_n = 10
skip_daily = false

[analysis.thresholds]
humidity = 85.0                  # %
precipitation_mm = 10.0
temperature_range_c = 3.5
wind_speed_ms = 2.5

[apis]
# Needed only for "bdpower analyze -brief". ANTHROPIC_API_KEY overrides this.
anthropic = ""

[claude]
model = "claude-sonnet-4-20250514"
max_tokens = 1000
temperature = 0.3
max_retries = 3
base_delay_ms = 1000
max_delay_ms = 30000
prompt_template = ""             # empty uses the built-in briefing prompt

[logging]
enabled = true
directory = "logs"
filename_pattern = "bdpower-YYYYMMDD.log"  # YYYY=year, MM=month, DD=day, HH=hour
level = "info"                             # debug, info, warn, error
max_files = 7
max_size_mb = 10
console_output = false

[metrics]
textfile = ""                    # e.g. /var/lib/node_exporter/bdpower.prom

[sqlite]
path = ""                        # e.g. bdpower.db

[kafka]
brokers = []                     # e.g. ["localhost:9092"]; KAFKA_BROKERS overrides
topic = "bdpower.observations"
timeout_seconds = 10
`

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write sample config: %w", err)
	}

	return nil
}
