package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/luciancaetano/pixelnet/internal/config"
	"github.com/luciancaetano/pixelnet/internal/logging"
)

const (
	exitFailure     = 1
	exitConfigError = 2
)

const (
	flagConfig    = "config"
	flagLogLevel  = "log-level"
	flagLogFormat = "log-format"
)

// globalFlags returns fresh flag values; cli mutates flags while parsing.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "Path to the YAML config file",
			EnvVars: []string{"PIXELNET_CONFIG"},
			Value:   "pixelnet.yaml",
		},
		&cli.StringFlag{
			Name:  flagLogLevel,
			Usage: "Log level override: debug, info, warn, error",
		},
		&cli.StringFlag{
			Name:  flagLogFormat,
			Usage: "Log format override: json, console",
		},
	}
}

// loadConfig reads the config named by --config, applies the log overrides
// and the command's own overrides, then validates the result.
func loadConfig(c *cli.Context, override func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return nil, cli.Exit(err.Error(), exitConfigError)
	}
	if v := c.String(flagLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := c.String(flagLogFormat); v != "" {
		cfg.Log.Format = v
	}
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid config:\n%v", err), exitConfigError)
	}
	return cfg, nil
}

// newLogger builds the logger from the flags alone, for commands that run
// without a config file.
func newLogger(c *cli.Context, defaultFormat string) (*zap.Logger, error) {
	format := c.String(flagLogFormat)
	if format == "" {
		format = defaultFormat
	}
	logger, err := logging.New(c.String(flagLogLevel), format)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitConfigError)
	}
	return logger, nil
}
