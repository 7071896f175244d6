// Command dustcollectord runs the shop-floor dust collection controller:
// ADC tool sensing, blast-gate relay control, Plantower air-quality
// monitoring, and collector SSR aggregation, wired from a single TOML
// config file.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"dustcollector/config"
	"dustcollector/logging"
	"dustcollector/supervisor"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run mirrors the original's exit-code mapping: 0 on a clean shutdown, 130
// on an interrupt (SIGINT/SIGTERM), non-zero on any other startup or fatal
// error.
func run(args []string) int {
	fs := flag.NewFlagSet("dustcollectord", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the TOML config file")
	jsonLogs := fs.Bool("json-logs", false, "emit structured JSON logs instead of console-formatted ones")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *configPath == "" {
		logging.For("main").Error().Msg("--config is required")
		return 2
	}
	if *jsonLogs {
		logging.UseJSON()
	}

	log := logging.For("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Str("config", *configPath).Msg("failed to load config")
		return 1
	}
	log.Info().Str("config", *configPath).Msg("boot")

	sup, err := supervisor.New(cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to wire supervisor")
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sup.Run(ctx)

	if ctx.Err() != nil {
		log.Info().Msg("interrupted: exiting")
		return 130
	}
	log.Info().Msg("all components exited normally")
	return 0
}
