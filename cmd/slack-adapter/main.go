// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command slack-adapter connects a bot to Slack over Socket Mode. It loads
// the YAML config, keeps the workspace's users in the brain and answers
// "ping" as a liveness check.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	flag "maunium.net/go/mauflag"

	"github.com/aiku/slack-adapter/pkg/adapter"
	"github.com/aiku/slack-adapter/pkg/brain"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath  = flag.MakeFull("c", "config", "The path to your config file.", "config.yaml").String()
	envPath     = flag.MakeFull("e", "env-file", "A .env file to load SLACK_BOT_TOKEN and SLACK_APP_TOKEN from.", ".env").String()
	wantVersion = flag.MakeFull("v", "version", "View version and quit.", "false").Bool()
	wantHelp, _ = flag.MakeHelpFlag()
)

func main() {
	flag.SetHelpTitles(
		"slack-adapter - connect a bot to Slack over Socket Mode.",
		"slack-adapter [-hv] [-c <path>] [-e <path>]",
	)
	if err := flag.Parse(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	} else if *wantHelp {
		flag.PrintHelp()
		os.Exit(0)
	} else if *wantVersion {
		fmt.Printf("slack-adapter %s (%s, built %s)\n", Tag, Commit, BuildTime)
		os.Exit(0)
	}

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envPath, err)
		os.Exit(2)
	}

	cfg, err := adapter.LoadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(3)
	}
	log := newLogger(cfg)
	log.Info().Str("version", Tag).Str("commit", Commit).Msg("Starting slack-adapter")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openBrain(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open brain")
	}
	defer closeStore()

	a, err := adapter.New(adapter.Options{
		Config: cfg,
		Brain:  store,
		Log:    log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create adapter")
	}

	d := adapter.NewDispatcher(a, log)
	d.Respond(regexp.MustCompile(`(?i)^ping$`), func(res *adapter.Response) {
		if err := res.Reply("pong"); err != nil {
			log.Warn().Err(err).Msg("Failed to answer ping")
		}
	}, adapter.WithID("ping"))
	a.SetReceiver(d)
	a.OnConnection(func(n adapter.ConnectionNotification, err error) {
		if n == adapter.NotifyReconnectFailed {
			log.Warn().Err(err).Msg("Still trying to reach Slack")
		}
	})

	if cfg.AdminAPIAddr != "" {
		go func() {
			if err := a.StartAdminAPI(ctx, cfg.AdminAPIAddr); err != nil {
				log.Error().Err(err).Msg("Admin API stopped")
			}
		}()
	}

	go func() {
		<-ctx.Done()
		a.Disconnect()
	}()

	if err := a.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Slack adapter stopped")
	}
	log.Info().Msg("Slack adapter stopped")
}

func newLogger(cfg *adapter.Config) zerolog.Logger {
	var log zerolog.Logger
	if cfg.LogFormat == "json" {
		log = zerolog.New(os.Stderr)
	} else {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return log.Level(cfg.Level()).With().Timestamp().Logger()
}

// openBrain uses Redis when redis_url is set and memory otherwise.
func openBrain(ctx context.Context, cfg *adapter.Config) (brain.Store, func(), error) {
	if cfg.RedisURL == "" {
		return brain.NewMemoryStore(), func() {}, nil
	}
	store, err := brain.OpenRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}
