package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wa_guard/internal/blacklist"
	"wa_guard/internal/config"
	"wa_guard/internal/database"
	"wa_guard/internal/handlers"
	"wa_guard/internal/logger"
	"wa_guard/internal/models"
	"wa_guard/internal/monitor"
	"wa_guard/internal/phone"
	"wa_guard/internal/retry"
	"wa_guard/internal/services"
	"wa_guard/internal/store"
	"wa_guard/internal/whatsapp"
)

// shutdownGrace is added on top of the scan list timeout so an in-flight
// tick can finish before the process exits.
const shutdownGrace = 30 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer log.Sync()

	if cfg.HTTP.SecretGenerated {
		log.Warn("JWT_SECRET not set, using a random secret for this run; issued tokens stop working on restart")
	}

	db, err := database.Open(cfg.Database, log)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	gdb := db.GetDB()

	normalize := func(raw string) string { return phone.NormalizeCountry(raw, cfg.Blacklist.CountryCode) }
	if n, err := database.BackfillNormalizedPhones(gdb, normalize); err != nil {
		log.Warn("failed to backfill normalized phones", zap.Error(err))
	} else if n > 0 {
		log.Info("backfilled normalized phones", zap.Int("rows", n))
	}

	states := store.NewStateStore(gdb)
	restoreConfig(cmd.Context(), cfg, states, log)
	snapshot := cfg.Snapshot()

	blacklistStore := store.NewBlacklistStore(gdb, normalize)
	groupStore := store.NewGroupStore(gdb)
	auditStore := store.NewAuditStore(gdb)

	cache := blacklist.NewCache(blacklistStore, cfg.Blacklist.TTL,
		blacklist.WithNormalizer(normalize),
		blacklist.WithFailureBackoff(cfg.Blacklist.FailureBackoff),
		blacklist.WithLogger(log.Named("blacklist")),
	)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	wa := whatsapp.NewClient(cfg.WhatsApp, log)
	if err := wa.Connect(runCtx); err != nil {
		// The scanner reports unhealthy until the account is paired.
		log.Error("whatsapp connect failed", zap.Error(err))
	}
	defer wa.Disconnect()

	directory := whatsapp.NewDirectory(groupStore, wa, log)
	messenger := whatsapp.NewMessenger(wa, directory, log)

	scanCfg := scannerConfig(cfg, snapshot)
	scanners := monitor.NewScannerHandle(func() *monitor.Scanner {
		return monitor.NewScanner(scanCfg, monitor.ScannerDeps{
			Directory: directory,
			Messenger: messenger,
			Blacklist: cache,
			Recorder:  states,
			Audit:     auditStore,
			Logger:    log.Named("scanner"),
		})
	}, log.Named("scanners"))

	heartbeat := monitor.NewHeartbeat(cfg.Heartbeat.Interval, cfg.Heartbeat.Timeout, states, snapshot, log.Named("heartbeat"))

	supervisor := monitor.NewSupervisor(supervisorConfig(models.RoleSupervisor, cfg.Supervisor, cfg, snapshot), monitor.SupervisorDeps{
		Scanners:  scanners,
		Heartbeat: heartbeat,
		Recorder:  states,
		Alerter:   messenger,
		Logger:    log.Named("supervisor"),
	})
	supervisor.Start(runCtx)

	var watchdog *monitor.Supervisor
	if cfg.Watchdog.Enabled {
		watchdog = monitor.NewSupervisor(supervisorConfig(models.RoleWatchdog, cfg.Watchdog, cfg, snapshot), monitor.SupervisorDeps{
			Scanners: scanners,
			Recorder: states,
			Alerter:  messenger,
			Logger:   log.Named("watchdog"),
		})
		watchdog.Start(runCtx)
	}

	status := handlers.NewStatusHandler(heartbeat, scanners, cache, wa, states, log.Named("status")).WithDatabase(db)
	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: handlers.NewRouter(handlers.RouterDeps{
			Auth:           services.NewAuthService(cfg.HTTP.JWTSecret),
			Status:         status,
			Blacklist:      handlers.NewBlacklistHandler(blacklistStore, cache, log.Named("blacklist")),
			Groups:         handlers.NewGroupHandler(groupStore, log.Named("groups")),
			Audit:          handlers.NewAuditHandler(auditStore, log.Named("audit")),
			WhatsApp:       wa,
			RatePerSecond:  cfg.HTTP.RatePerSecond,
			RateBurst:      cfg.HTTP.RateBurst,
			TrustedProxies: cfg.HTTP.TrustedProxies,
			Logger:         log.Named("http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("wa-guard started", zap.String("addr", cfg.HTTP.Addr), zap.String("run_id", supervisor.RunID()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Scan.ListTimeout+shutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
	}
	if watchdog != nil {
		if err := watchdog.Shutdown(shutdownCtx); err != nil {
			log.Warn("watchdog shutdown incomplete", zap.Error(err))
		}
	}
	if err := supervisor.Shutdown(shutdownCtx); err != nil {
		log.Warn("supervisor shutdown incomplete", zap.Error(err))
	}
	cancelRun()

	log.Info("wa-guard stopped")
	return nil
}

// restoreConfig merges the configuration persisted by the previous run.
func restoreConfig(ctx context.Context, cfg *config.Config, states *store.StateStore, log *zap.Logger) {
	prev, err := states.Load(ctx, models.RoleSupervisor)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return
	case err != nil:
		log.Warn("failed to load previous supervisor state", zap.Error(err))
		return
	}
	cfg.ApplyPersisted(prev.Config)
	log.Info("restored configuration from previous run",
		zap.Duration("scan_interval", cfg.Scan.Interval),
		zap.Time("previous_update", prev.UpdatedAt),
	)
}

func scannerConfig(cfg *config.Config, snapshot models.ActorConfig) monitor.ScannerConfig {
	return monitor.ScannerConfig{
		Interval:         cfg.Scan.Interval,
		ListTimeout:      cfg.Scan.ListTimeout,
		GroupDelay:       cfg.Scan.GroupDelay,
		ErrorCeiling:     cfg.Scan.ErrorCeiling,
		MaxSelfRestarts:  cfg.Scan.MaxSelfRestarts,
		SelfRestartDelay: cfg.Scan.SelfRestartDelay,
		Retry:            retry.NewPolicy(cfg.Scan.RetryMaxAttempts, cfg.Scan.RetryBaseDelay, cfg.Scan.RetryAttemptLimit),
		BanNotice:        cfg.Scan.BanNotice,
		Snapshot:         snapshot,
	}
}

// supervisorConfig maps a tier. The stale timeout is raised to two scan
// intervals so the idle wait between ticks never reads as a stall.
func supervisorConfig(role string, tier config.TierConfig, cfg *config.Config, snapshot models.ActorConfig) monitor.SupervisorConfig {
	stale := tier.StaleTimeout
	if stale > 0 && stale < 2*cfg.Scan.Interval {
		stale = 2 * cfg.Scan.Interval
	}
	return monitor.SupervisorConfig{
		Role:            role,
		CheckInterval:   tier.CheckInterval,
		StaleTimeout:    stale,
		MaxRestarts:     tier.MaxRestarts,
		RestartDelay:    tier.RestartDelay,
		ForcedRestart:   tier.ForcedRestart,
		FreezeTolerance: tier.FreezeTolerance,
		AdminPhone:      cfg.AdminPhone,
		Snapshot:        snapshot,
	}
}

func runState(cmd *cobra.Command, args []string) error {
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer log.Sync()

	db, err := database.Open(cfg.Database, log)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		return err
	}

	rows, err := store.NewStateStore(db.GetDB()).List(ctx)
	if err != nil {
		return fmt.Errorf("list actor state: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]interface{}{"actors": rows})
}

func runToken(cmd *cobra.Command, args []string) error {
	if cfg.HTTP.SecretGenerated {
		return errors.New("JWT_SECRET must be set to issue tokens the server will accept")
	}
	token, err := services.NewAuthService(cfg.HTTP.JWTSecret).GenerateToken(tokenUser, tokenRole, tokenTTL)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
