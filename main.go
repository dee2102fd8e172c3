package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"bdpower/config"
	"bdpower/internal/logger"
)

const usage = `bdpower - NASA POWER weather data for Bangladesh districts

Usage:
  bdpower [global flags] <command> [flags]

Commands:
  fetch      Fetch one location and save it as CSV
  extract    Fetch every district (or a subset) into one combined CSV
  analyze    Print the lightning and weather report for a saved dataset
  estimate   Estimate how long an extraction will take
  districts  List the district coordinate table

Global flags:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// app carries what every command needs.
type app struct {
	cfg        *config.Config
	configPath string
	stdout     io.Writer
}

func run(args []string, stdout io.Writer) int {
	startTime := time.Now()

	global := flag.NewFlagSet("bdpower", flag.ContinueOnError)
	global.SetOutput(os.Stderr)
	configPath := global.String("config", getDefaultConfigPath(), "Path to TOML configuration file")
	envFile := global.String("env", ".env", "Path to .env file with secrets")
	logLevel := global.String("log-level", "", "Logging level (debug, info, warn, error); overrides the config file")
	generateConfig := global.Bool("generate-config", false, "Generate a sample configuration file and exit")
	global.Usage = func() {
		fmt.Fprint(global.Output(), usage)
		global.PrintDefaults()
	}
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *generateConfig {
		if err := config.GenerateSampleConfig(*configPath); err != nil {
			logger.Error("Failed to generate sample config: %v", err)
			return 1
		}
		logger.Info("Sample configuration file created at: %s", *configPath)
		return 0
	}

	if global.NArg() == 0 {
		global.Usage()
		return 2
	}
	command, commandArgs := global.Arg(0), global.Args()[1:]

	if err := config.LoadEnv(*envFile); err != nil {
		logger.Warn("%v", err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("%v", err)
		return 1
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed: %v", err)
		return 1
	}

	if err := logger.Initialize(logger.Config(cfg.Logging)); err != nil {
		logger.Error("Failed to initialize logging: %v", err)
		return 1
	}
	defer logger.Get().Close()
	logger.Debug("Starting %s with config: %s", command, *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, configPath: *configPath, stdout: stdout}
	var cmdErr error
	switch command {
	case "fetch":
		cmdErr = a.fetch(ctx, commandArgs)
	case "extract":
		cmdErr = a.extract(ctx, commandArgs)
	case "analyze":
		cmdErr = a.analyze(ctx, commandArgs)
	case "estimate":
		cmdErr = a.estimate(commandArgs)
	case "districts":
		cmdErr = a.districts(commandArgs)
	default:
		logger.Error("Unknown command %q", command)
		global.Usage()
		return 2
	}

	exitCode := 0
	var results []string
	switch {
	case errors.Is(cmdErr, flag.ErrHelp):
	case errors.Is(cmdErr, context.Canceled):
		exitCode = 130
		results = append(results, "Interrupted; no output written")
	case cmdErr != nil:
		exitCode = 1
		results = append(results, "Error: "+cmdErr.Error())
		logger.Error("%s failed: %v", command, cmdErr)
	}
	logger.Get().LogRunSummary(startTime, *configPath, command, results, exitCode)
	return exitCode
}

// loadConfig reads the config file, falling back to defaults when it does
// not exist, then applies environment overrides.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		var notFound *config.ConfigNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		logger.Warn("No configuration file at %s, using defaults (create one with --generate-config)", notFound.Path)
		cfg = config.Default()
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// getDefaultConfigPath prefers bdpower.toml in the working directory.
func getDefaultConfigPath() string {
	return filepath.Clean(config.DefaultPath)
}
