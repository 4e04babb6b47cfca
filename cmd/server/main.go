// Package main is the entry point of the chat widget server: the completion
// proxy, the widget websocket gateway, and the knowledgebase debug endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asoloa/ambot/internal/api"
	"github.com/asoloa/ambot/internal/config"
	"github.com/asoloa/ambot/internal/knowledgebase"
	"github.com/asoloa/ambot/internal/logging"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

func init() {
	logging.SetupBaseLogger()
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath string
		host       string
		port       int
		kbPath     string
		watch      bool
		logLevel   string
		debug      bool
	)

	flagSet := pflag.NewFlagSet("ambot-server", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "config.yaml", "configuration file path")
	flagSet.StringVar(&host, "host", "", "listen host (overrides config)")
	flagSet.IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	flagSet.StringVar(&kbPath, "kb", "", "knowledgebase file (.yaml, .json or .toml); empty uses the built-in one")
	flagSet.BoolVar(&watch, "watch", false, "reload the knowledgebase file when it changes")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn, error or quiet")
	flagSet.BoolVar(&debug, "debug", false, "enable debug mode")
	showVersion := flagSet.BoolP("version", "v", false, "print version and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Printf("ambot server %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		return nil
	}

	// A missing config file is only an error when it was asked for explicitly.
	cfg, err := config.LoadConfigOptional(configPath, !flagSet.Changed("config"))
	if err != nil {
		return err
	}
	if flagSet.Changed("host") {
		cfg.Host = host
	}
	if flagSet.Changed("port") {
		cfg.Port = port
	}
	if flagSet.Changed("kb") {
		cfg.Knowledgebase.Path = kbPath
	}
	if flagSet.Changed("watch") {
		cfg.Knowledgebase.Watch = watch
	}
	if flagSet.Changed("debug") {
		cfg.Debug = debug
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = logLevel
	} else if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	cfg.LoadEnv(configPath)

	warnings, err := config.ValidateConfig(cfg)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for _, w := range warnings {
		log.Warnf("config warning: %s", w)
	}

	if err = logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogDir); err != nil {
		return fmt.Errorf("failed to configure log output: %w", err)
	}
	defer logging.Close()
	logging.SetLogLevel(cfg.LogLevel)

	log.Infof("ambot server %s, commit %s, built %s", Version, Commit, BuildDate)
	if cfg.APIKey == "" {
		log.Warnf("%s is not set; completion requests will answer with a configuration error", config.APIKeyEnv)
	}

	kb, err := knowledgebase.LoadOrDefault(cfg.Knowledgebase.Path)
	if err != nil {
		return fmt.Errorf("failed to load knowledgebase: %w", err)
	}
	for _, w := range knowledgebase.Validate(kb) {
		log.Warn(w)
	}
	store := knowledgebase.NewStore(kb, cfg.Knowledgebase.Path)
	log.Infof("knowledgebase loaded for %s", kb.SubjectName())

	server := api.NewServer(cfg, store)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)
	g.Go(func() error {
		server.RunMaintenance(gctx)
		return nil
	})
	if cfg.Knowledgebase.Watch && cfg.Knowledgebase.Path != "" {
		g.Go(func() error {
			return store.Watch(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	return g.Wait()
}
