// SPDX-License-Identifier: MIT

// Command daemon runs the brainstormx workshop orchestrator: HTTP API,
// event hub, AI gateway, presence tracking, moderator sweeps and the
// session archive, all shut down together on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/broadcomms/brainstormx/internal/aigw"
	"github.com/broadcomms/brainstormx/internal/api"
	"github.com/broadcomms/brainstormx/internal/archive"
	"github.com/broadcomms/brainstormx/internal/config"
	"github.com/broadcomms/brainstormx/internal/health"
	"github.com/broadcomms/brainstormx/internal/hub"
	"github.com/broadcomms/brainstormx/internal/log"
	"github.com/broadcomms/brainstormx/internal/moderator"
	"github.com/broadcomms/brainstormx/internal/orchestrator"
	"github.com/broadcomms/brainstormx/internal/presence"
	"github.com/broadcomms/brainstormx/internal/workshop"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("brainstormx %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	log.Configure(log.Config{
		Level:   "info",
		Service: "brainstormx",
		Version: version,
	})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Config precedence: ENV > file > defaults. Without --config the
	// daemon picks up ${BSX_DATA}/config.yaml when present.
	effectivePath := strings.TrimSpace(*configPath)
	if effectivePath == "" {
		autoPath := filepath.Join(config.ParseString("BSX_DATA", "/var/lib/brainstormx"), "config.yaml")
		if _, err := os.Stat(autoPath); err == nil {
			effectivePath = autoPath
		}
	}

	cfg, err := config.Load(effectivePath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(log.FieldEvent, "config.load_failed").
			Str("config_path", effectivePath).
			Msg("failed to load configuration")
	}

	log.SetLevel(cfg.LogLevel)
	logger.Info().
		Str(log.FieldEvent, "config.loaded").
		Str("config_path", effectivePath).
		Str("listen", cfg.ListenAddr).
		Msg("configuration loaded")

	holder := config.NewHolder(effectivePath, cfg)

	if err := run(ctx, holder, logger); err != nil {
		logger.Fatal().Err(err).Msg("daemon exited with error")
	}
	logger.Info().Msg("daemon stopped")
}

func run(ctx context.Context, holder *config.Holder, logger zerolog.Logger) error {
	cfg := holder.Current()

	var backlog hub.Backlog
	if cfg.Hub.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Hub.RedisAddr, DB: cfg.Hub.RedisDB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.Hub.RedisAddr, err)
		}
		defer rdb.Close()
		backlog = hub.NewRedisBacklog(rdb, cfg.Hub.BacklogSize, cfg.Hub.BacklogTTL)
		logger.Info().Str("redis_addr", cfg.Hub.RedisAddr).Msg("using redis event backlog")
	} else {
		backlog = hub.NewMemoryBacklog(cfg.Hub.BacklogSize, cfg.Hub.BacklogTTL)
	}

	eventHub := hub.New(backlog)
	store := workshop.NewStore()

	provider := aigw.NewClient(cfg.Gateway.ProviderURL, cfg.Gateway.APIKey, cfg.Gateway.ProjectID, cfg.Gateway.ModelID)
	gateway := aigw.New(provider, aigw.Options{
		Timeout:   cfg.Gateway.Timeout,
		RetryMax:  cfg.Gateway.RetryMax,
		RetryBase: cfg.Gateway.RetryBase,
		RateRPS:   cfg.Gateway.RateRPS,
		RateBurst: cfg.Gateway.RateBurst,
	})

	var arch *archive.Store
	if cfg.Archive.DBPath != "" {
		var err error
		arch, err = archive.Open(cfg.Archive.DBPath, cfg.Archive.ReportDir)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer arch.Close()
	} else {
		logger.Warn().Msg("no archive db configured, concluded sessions are discarded")
	}

	// presence, moderator and orchestrator reference each other through
	// closures, so the variables are declared up front.
	var (
		tracker *presence.Tracker
		mod     *moderator.Moderator
	)

	orchOpts := orchestrator.Options{
		Store:        store,
		Hub:          eventHub,
		Gateway:      gateway,
		QuorumWindow: cfg.Voting.QuorumWindow,
		OnConclude: func(sessionID string) {
			if tracker != nil {
				tracker.DropSession(sessionID)
			}
			if mod != nil {
				mod.ForgetSession(sessionID)
			}
		},
	}
	if arch != nil {
		orchOpts.Archive = arch
	}
	orch := orchestrator.New(orchOpts)

	tracker = presence.New(cfg.Presence.HeartbeatInterval, cfg.Presence.MissedBeats,
		func(sessionID, participantID, connID string) {
			orch.Disconnect(sessionID, participantID)
		})

	if cfg.Moderator.Enabled {
		mod = moderator.New(store, orch.SendNudge, moderator.Options{
			Threshold:     cfg.Moderator.NudgeThreshold,
			Cooldown:      cfg.Moderator.NudgeCooldown,
			SweepInterval: cfg.Moderator.SweepInterval,
		})
	}

	hm := health.NewManager(version)
	hm.Register(health.NewProviderChecker(func() bool {
		c := holder.Current().Gateway
		return c.APIKey != "" && c.ProjectID != ""
	}))
	if arch != nil {
		hm.Register(health.NewFuncChecker("archive", arch.Ping))
	}

	srv := api.NewServer(orch, eventHub, tracker, arch, hm, cfg.API)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tracker.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return orch.RunQuorumSweep(ctx)
	})
	g.Go(func() error {
		return holder.Watch(ctx)
	})
	if mod != nil {
		g.Go(func() error {
			return mod.Run(ctx)
		})
	}

	g.Go(func() error {
		logger.Info().Str("listen", cfg.ListenAddr).Msg("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	// Drain: expire live bindings, let in-flight generation goroutines
	// settle before the archive closes underneath them.
	tracker.ExpireNow()
	orch.WaitGenerations()

	return err
}
