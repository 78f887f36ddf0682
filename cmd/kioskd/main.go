// Command kioskd keeps a WinSIP kiosk browser connected to a state store.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/arloliu/go-kiosk/config"
	"github.com/arloliu/go-kiosk/internal/app"
	"github.com/arloliu/go-kiosk/logger"
	"github.com/joho/godotenv"
)

var version = "dev"

// CLI is the kioskd command line. Flags override the configuration file, also on
// reload.
type CLI struct {
	Config      string `short:"c" help:"Configuration file path." default:"kiosk.yaml" env:"KIOSK_CONFIG" type:"path"`
	Host        string `help:"Device host name or IP address." env:"KIOSK_HOST"`
	Port        int    `help:"Device TCP port." env:"KIOSK_PORT"`
	LogLevel    string `help:"Log level (debug, info, warn, error)." env:"KIOSK_LOG_LEVEL"`
	MetricsAddr string `help:"Address of the Prometheus metrics endpoint, e.g. :9108." env:"KIOSK_METRICS_ADDR"`
	Watch       bool   `help:"Reload the configuration file when it changes." default:"true" negatable:""`

	Version kong.VersionFlag `help:"Print version and exit."`
}

// override applies the command line values to cfg.
func (c *CLI) override(cfg *config.Config) {
	if c.Host != "" {
		cfg.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Port = c.Port
	}
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	if c.MetricsAddr != "" {
		cfg.MetricsAddr = c.MetricsAddr
	}
}

// Run loads the configuration and runs the daemon until ctx is cancelled.
func (c *CLI) Run(ctx context.Context) error {
	cfg, err := config.Read(c.Config)
	if err != nil {
		return err
	}

	opts := []app.Option{
		app.WithLogger(logger.GetLogger()),
		app.WithConfigOverride(c.override),
	}
	if c.Watch {
		opts = append(opts, app.WithConfigPath(c.Config))
	}

	logger.Info("starting kioskd", "version", version, "config", c.Config)

	return app.New(cfg, opts...).Run(ctx)
}

func main() {
	// variables from .env never override the process environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("kioskd"),
		kong.Description("Keeps a WinSIP kiosk browser connected to a state store."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kctx.FatalIfErrorf(cli.Run(ctx))
}
