package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/manenim/throttler/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start an HTTP server with throttled routes."`
	Simulate SimulateCmd `cmd:"" help:"Fire paced calls at a handle and print the outcomes."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config    string `short:"c" help:"Path to config file (built-in demo config when empty)." type:"path" env:"THROTTLER_CONFIG"`
	LogLevel  string `help:"Log level (debug, info, warn, error). Overrides the config file." env:"THROTTLER_LOG_LEVEL"`
	LogFormat string `help:"Log format (console, json). Overrides the config file."`
}

const defaultConfig = `
store:
  backend: ${THROTTLER_STORE:-memory}
  redis:
    addr: ${REDIS_ADDR:-localhost:6379}
handles:
  ping:
    threshold: 10
    interval: 1s
    burst_rate: 20
    strategy: leaky_bucket
  login:
    threshold: 5
    interval: 1m
`

// loadConfig reads the config file, or the built-in demo config, and
// applies command-line overrides.
func (c *CLI) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if c.Config == "" {
		cfg, err = config.Parse(strings.NewReader(defaultConfig))
	} else {
		cfg, err = config.Load(c.Config)
	}
	if err != nil {
		return nil, err
	}

	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
	if c.LogFormat != "" {
		cfg.Log.Format = c.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("throttler"),
		kong.Description("Throttle named operations against memory, Redis or SQL."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
