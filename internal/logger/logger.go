package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents logging severity using slog levels
type Level slog.Level

const (
	DebugLevel Level = Level(slog.LevelDebug)
	InfoLevel  Level = Level(slog.LevelInfo)
	WarnLevel  Level = Level(slog.LevelWarn)
	ErrorLevel Level = Level(slog.LevelError)
	FatalLevel Level = Level(slog.LevelError + 4)
)

const defaultFilenamePattern = "bdpower-YYYYMMDD.log"

// Config mirrors the [logging] section of the configuration file.
type Config struct {
	Enabled         bool   `toml:"enabled"`
	Directory       string `toml:"directory"`
	FilenamePattern string `toml:"filename_pattern"`
	Level           string `toml:"level"`
	MaxFiles        int    `toml:"max_files"`
	MaxSizeMB       int    `toml:"max_size_mb"`
	ConsoleOutput   bool   `toml:"console_output"`
}

// EnhancedLogger wraps slog.Logger with size and date based file rotation.
// Console output goes to stderr so that reports written to stdout stay clean.
type EnhancedLogger struct {
	*slog.Logger
	config      Config
	console     io.Writer
	file        *os.File
	fileName    string
	fileSize    int64
	mu          sync.Mutex
	multiWriter io.Writer
}

var (
	globalLogger *EnhancedLogger
	globalMu     sync.Mutex
)

// Initialize replaces the global logger with one built from config.
func Initialize(config Config) error {
	l, err := NewEnhancedLogger(config)
	if err != nil {
		return err
	}

	globalMu.Lock()
	old := globalLogger
	globalLogger = l
	globalMu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// Get returns the global logger, falling back to a console logger at info
// level when Initialize has not been called.
func Get() *EnhancedLogger {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalLogger == nil {
		globalLogger = &EnhancedLogger{
			Logger: slog.New(newHandler(os.Stderr, slog.LevelInfo)),
		}
	}
	return globalLogger
}

// Slog exposes the underlying *slog.Logger for packages that take one.
func Slog() *slog.Logger {
	return Get().Logger
}

// NewEnhancedLogger creates a logger writing to the console, a rotating file
// or both.
func NewEnhancedLogger(config Config) (*EnhancedLogger, error) {
	if config.Enabled && config.FilenamePattern != "" {
		if err := ValidateFilenamePattern(config.FilenamePattern); err != nil {
			return nil, fmt.Errorf("invalid filename pattern: %w", err)
		}
	}

	l := &EnhancedLogger{config: config, console: os.Stderr}

	if config.Enabled {
		if err := os.MkdirAll(expandLogDirectory(config.Directory), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := l.openLogFileUnsafe()
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = file
	}

	l.rebuildWritersUnsafe()
	l.Logger = slog.New(newHandler(l, parseLogLevel(config.Level)))

	l.Debug("Logger initialized",
		slog.String("log_file", l.fileName),
		slog.String("level", config.Level),
		slog.Bool("console", config.ConsoleOutput))

	return l, nil
}

// rebuildWritersUnsafe recreates the writer chain (caller must hold mutex).
// The handler writes through l, so it never needs replacing.
func (l *EnhancedLogger) rebuildWritersUnsafe() {
	var writers []io.Writer
	if l.config.ConsoleOutput || !l.config.Enabled {
		writers = append(writers, l.console)
	}
	if l.file != nil {
		writers = append(writers, l.file)
	}
	l.multiWriter = io.MultiWriter(writers...)
}

func newHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().Format("2006-01-02T15:04:05.000-07:00"))
			}
			if a.Key == slog.SourceKey {
				if source, ok := a.Value.Any().(*slog.Source); ok {
					return slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", filepath.Base(source.File), source.Line))
				}
			}
			return a
		},
	})
}

// openLogFileUnsafe creates or opens the current log file (caller must hold mutex)
func (l *EnhancedLogger) openLogFileUnsafe() (*os.File, error) {
	filePath := filepath.Join(expandLogDirectory(l.config.Directory), generateLogFilename(l.config.FilenamePattern, time.Now()))

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	l.fileName = filePath
	l.fileSize = info.Size()
	return file, nil
}

// expandLogDirectory resolves the log directory. Relative paths stay relative
// to the working directory; "~/" expands to the user's home.
func expandLogDirectory(dir string) string {
	if dir == "" {
		return "logs"
	}
	if strings.HasPrefix(dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, dir[2:])
		}
	}
	return dir
}

// DefaultLogDirectory returns the per-user log location used by the sample config.
func DefaultLogDirectory() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "bdpower", "logs")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".bdpower", "logs")
	}
	return "logs"
}

var dateTokens = []struct {
	token  string
	format func(time.Time) string
}{
	{"YYYY", func(t time.Time) string { return fmt.Sprintf("%04d", t.Year()) }},
	{"YY", func(t time.Time) string { return fmt.Sprintf("%02d", t.Year()%100) }},
	{"MM", func(t time.Time) string { return fmt.Sprintf("%02d", t.Month()) }},
	{"DD", func(t time.Time) string { return fmt.Sprintf("%02d", t.Day()) }},
	{"HH", func(t time.Time) string { return fmt.Sprintf("%02d", t.Hour()) }},
}

// generateLogFilename expands date tokens in pattern for the given time.
func generateLogFilename(pattern string, now time.Time) string {
	if pattern == "" {
		pattern = defaultFilenamePattern
	}
	for _, tok := range dateTokens {
		pattern = strings.ReplaceAll(pattern, tok.token, tok.format(now))
	}
	return pattern
}

// filenameGlob turns a pattern into a glob matching every file it can produce.
func filenameGlob(pattern string) string {
	if pattern == "" {
		pattern = defaultFilenamePattern
	}
	for _, tok := range dateTokens {
		pattern = strings.ReplaceAll(pattern, tok.token, "*")
	}
	return pattern
}

func parseLogLevel(level string) slog.Level {
	lvl, err := ParseLevel(level)
	if err != nil || lvl == FatalLevel {
		return slog.LevelInfo
	}
	return slog.Level(lvl)
}

// checkRotationUnsafe rotates when the file is too large or the date changed
// (caller must hold mutex)
func (l *EnhancedLogger) checkRotationUnsafe() error {
	if l.file == nil || !l.config.Enabled {
		return nil
	}

	maxSize := int64(l.config.MaxSizeMB) * 1024 * 1024
	if maxSize > 0 && l.fileSize >= maxSize {
		return l.rotateUnsafe()
	}

	if filepath.Base(l.fileName) != generateLogFilename(l.config.FilenamePattern, time.Now()) {
		return l.rotateUnsafe()
	}
	return nil
}

// rotateUnsafe archives the current file and opens a fresh one (caller must hold mutex)
func (l *EnhancedLogger) rotateUnsafe() error {
	if l.file != nil {
		l.file.Close()
	}

	if l.fileName != "" {
		if info, err := os.Stat(l.fileName); err == nil && info.Size() > 0 {
			ext := filepath.Ext(l.fileName)
			archived := fmt.Sprintf("%s-%s%s", strings.TrimSuffix(l.fileName, ext), time.Now().Format("20060102-150405"), ext)
			if err := os.Rename(l.fileName, archived); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to archive log file: %v\n", err)
			}
		}
	}

	file, err := l.openLogFileUnsafe()
	if err != nil {
		return err
	}
	l.file = file
	l.rebuildWritersUnsafe()

	if l.config.MaxFiles > 0 {
		l.cleanOldFilesUnsafe()
	}
	return nil
}

// cleanOldFilesUnsafe keeps only the newest MaxFiles log files.
func (l *EnhancedLogger) cleanOldFilesUnsafe() {
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(l.fileName), filenameGlob(l.config.FilenamePattern)))
	if err != nil || len(matches) <= l.config.MaxFiles {
		return
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	files := make([]fileInfo, 0, len(matches))
	for _, match := range matches {
		if info, err := os.Stat(match); err == nil {
			files = append(files, fileInfo{path: match, modTime: info.ModTime()})
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	for _, f := range files[min(l.config.MaxFiles, len(files)):] {
		if f.path != l.fileName {
			os.Remove(f.path)
		}
	}
}

// Write implements io.Writer with a rotation check after every record.
func (l *EnhancedLogger) Write(p []byte) (n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, err = l.multiWriter.Write(p)
	if err != nil {
		return
	}
	l.fileSize += int64(n)

	if err := l.checkRotationUnsafe(); err != nil {
		fmt.Fprintf(os.Stderr, "Log rotation error: %v\n", err)
	}
	return
}

// FileName returns the path of the active log file, or "" when file logging is off.
func (l *EnhancedLogger) FileName() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fileName
}

// Close closes the log file
func (l *EnhancedLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// LogRunSummary logs the outcome of a command for audit purposes.
func (l *EnhancedLogger) LogRunSummary(startTime time.Time, configFile, command string, results []string, exitCode int) {
	l.Info("=== RUN SUMMARY ===",
		slog.Time("start_time", startTime),
		slog.String("config_file", configFile),
		slog.String("command", command),
		slog.Duration("total_duration", time.Since(startTime)),
		slog.Int("exit_code", exitCode))

	for _, result := range results {
		l.Info(result)
	}
}

// Debug logs a debug message
func Debug(format string, args ...interface{}) {
	Get().Debug(fmt.Sprintf(format, args...))
}

// Info logs an info message
func Info(format string, args ...interface{}) {
	Get().Info(fmt.Sprintf(format, args...))
}

// Warn logs a warning message
func Warn(format string, args ...interface{}) {
	Get().Warn(fmt.Sprintf(format, args...))
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	Get().Error(fmt.Sprintf(format, args...))
}

// Fatal logs a fatal message and exits
func Fatal(format string, args ...interface{}) {
	Get().Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

// LogAPIRequest logs an outgoing request. Query values are logged as-is, so
// callers must not put secrets in the query string.
func LogAPIRequest(method, url string, headers map[string]string) {
	fields := []any{
		"method", method,
		"url", url,
		"type", "api_request",
	}
	if userAgent := headers["User-Agent"]; userAgent != "" {
		fields = append(fields, "user_agent", userAgent)
	}

	Get().LogAttrs(context.Background(), slog.LevelDebug, "API request started", slog.Group("request", fields...))
}

// LogAPIResponse logs an API response with structured fields
func LogAPIResponse(method, url string, statusCode int, duration time.Duration, bodySize int) {
	level := slog.LevelDebug
	if statusCode >= 400 {
		level = slog.LevelWarn
	}
	if statusCode >= 500 {
		level = slog.LevelError
	}

	Get().LogAttrs(context.Background(), level, "API request completed",
		slog.Group("request",
			"method", method,
			"url", url,
			"status_code", statusCode,
			"duration", duration,
			"body_size", bodySize,
			"type", "api_response",
		),
	)
}

// LogFileOperation logs file operations with structured context
func LogFileOperation(operation, path string, size int64) {
	Get().LogAttrs(context.Background(), slog.LevelInfo, "File operation completed",
		slog.Group("file",
			"operation", operation,
			"path", path,
			"size_bytes", size,
			"type", "file_operation",
		),
	)
}

// LogOperationStart logs the beginning of an operation and returns a completion function
func LogOperationStart(operation string, details map[string]any) func(error) {
	startTime := time.Now()

	attrs := []slog.Attr{
		slog.String("operation", operation),
		slog.String("type", "operation_start"),
	}
	if len(details) > 0 {
		attrs = append(attrs, slog.Group("details", mapToArgs(details)...))
	}

	Get().LogAttrs(context.Background(), slog.LevelInfo, "Operation started", attrs...)

	return func(err error) {
		level := slog.LevelInfo
		message := "Operation completed"

		completionAttrs := []slog.Attr{
			slog.String("operation", operation),
			slog.String("type", "operation_complete"),
			slog.Duration("duration", time.Since(startTime)),
			slog.Bool("success", err == nil),
		}
		if err != nil {
			level = slog.LevelError
			message = "Operation failed"
			completionAttrs = append(completionAttrs, slog.String("error", err.Error()))
		}

		Get().LogAttrs(context.Background(), level, message, completionAttrs...)
	}
}

// LogWithFields logs a message with custom structured fields
func LogWithFields(level Level, message string, fields map[string]any) {
	slogLevel := slog.Level(level)
	if level == FatalLevel {
		slogLevel = slog.LevelError
	}

	keys := sortedKeys(fields)
	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}

	Get().LogAttrs(context.Background(), slogLevel, message, attrs...)

	if level == FatalLevel {
		os.Exit(1)
	}
}

func mapToArgs(m map[string]any) []any {
	keys := sortedKeys(m)
	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, k, m[k])
	}
	return args
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseLevel converts a string to a log level
func ParseLevel(levelStr string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level: %s", levelStr)
	}
}
