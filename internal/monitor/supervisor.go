package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wa_guard/internal/metrics"
	"wa_guard/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// sustainedHealthyChecks consecutive healthy checks clear the restart counter.
const sustainedHealthyChecks = 3

// alertTimeout bounds the admin alert send.
const alertTimeout = 15 * time.Second

// drainTimeout bounds how long a restart or replacement waits for an in-flight tick.
const drainTimeout = 10 * time.Second

// SupervisorConfig parameterizes one supervision tier. The same type serves
// the watchdog tier and the escalating tier that owns the heartbeat.
type SupervisorConfig struct {
	Role          string
	CheckInterval time.Duration
	StaleTimeout  time.Duration
	MaxRestarts   int
	RestartDelay  time.Duration

	// ForcedRestart triggers a full restart on this period. Zero disables it.
	ForcedRestart time.Duration

	// FreezeTolerance is how far past CheckInterval the previous check may be
	// before the process is considered frozen. Only used with a heartbeat.
	FreezeTolerance time.Duration

	AdminPhone string
	Snapshot   models.ActorConfig
}

// SupervisorDeps are the supervisor's collaborators. Heartbeat, Recorder and
// Alerter may be nil. A tier given a heartbeat owns the whole stack.
type SupervisorDeps struct {
	Scanners  *ScannerHandle
	Heartbeat *Heartbeat
	Recorder  StateRecorder
	Alerter   Notifier
	Logger    *zap.Logger
	Now       func() time.Time
}

// Supervisor health-checks the scanner and restarts it with an escalation
// ladder: recreate when stopped, replace when unhealthy or stale, rebuild
// everything when the heartbeat dies or the process froze, and rebuild on a
// fixed period.
type Supervisor struct {
	cfg       SupervisorConfig
	scanners  *ScannerHandle
	heartbeat *Heartbeat
	recorder  StateRecorder
	alerter   Notifier
	log       *zap.Logger
	now       func() time.Time
	runID     string

	mu              sync.RWMutex
	running         bool
	lastCheckAt     time.Time
	lastFullRestart time.Time
	restartAttempts int
	healthyStreak   int
	stopCh          chan struct{}
	done            chan struct{}
}

func NewSupervisor(cfg SupervisorConfig, deps SupervisorDeps) *Supervisor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 10 * time.Second
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = 10
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	runID := uuid.NewString()
	return &Supervisor{
		cfg:             cfg,
		scanners:        deps.Scanners,
		heartbeat:       deps.Heartbeat,
		recorder:        deps.Recorder,
		alerter:         deps.Alerter,
		log:             log.With(zap.String("actor", cfg.Role), zap.String("run_id", runID)),
		now:             now,
		runID:           runID,
		lastFullRestart: now(),
	}
}

func (s *Supervisor) owner() bool {
	return s.heartbeat != nil
}

// Start brings up the owned actors and begins periodic health checks.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.lastCheckAt = time.Time{}
	s.lastFullRestart = s.now()
	s.restartAttempts = 0
	s.healthyStreak = 0
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stopCh = stop
	s.done = done
	s.mu.Unlock()

	if s.owner() {
		s.heartbeat.Start(ctx)
		s.scanners.Ensure(ctx)
	}
	s.persist()
	s.log.Info("supervisor started",
		zap.Duration("check_interval", s.cfg.CheckInterval),
		zap.Duration("stale_timeout", s.cfg.StaleTimeout),
		zap.Int("max_restarts", s.cfg.MaxRestarts))

	go s.run(ctx, stop, done)
}

// Shutdown stops health checks, then the actors this tier owns, waiting for
// in-flight ticks to finish until ctx expires.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown %s: %w", s.cfg.Role, ctx.Err())
	}

	if s.owner() {
		s.heartbeat.Stop()
		s.scanners.Stop(ctx)
		select {
		case <-s.heartbeat.Done():
		case <-ctx.Done():
		}
	}
	s.persist()
	s.log.Info("supervisor stopped")
	return ctx.Err()
}

func (s *Supervisor) run(ctx context.Context, stop <-chan struct{}, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs one pass of the escalation ladder.
func (s *Supervisor) CheckOnce(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	prevCheck := s.lastCheckAt
	s.lastCheckAt = now
	attempts := s.restartAttempts
	lastFull := s.lastFullRestart
	s.mu.Unlock()
	defer s.persist()

	if attempts >= s.cfg.MaxRestarts {
		s.terminalFailure(ctx, attempts)
		return
	}

	if s.owner() {
		frozen := !prevCheck.IsZero() && now.Sub(prevCheck) > s.cfg.CheckInterval+s.cfg.FreezeTolerance
		if !s.heartbeat.IsAlive() || frozen {
			reason := "heartbeat_dead"
			if frozen {
				reason = "frozen"
			}
			s.countRestart(reason)
			s.fullRestart(ctx, reason)
			return
		}
	}

	if s.cfg.ForcedRestart > 0 && now.Sub(lastFull) >= s.cfg.ForcedRestart {
		metrics.ActorRestarts.WithLabelValues(s.cfg.Role, "forced").Inc()
		s.fullRestart(ctx, "forced")
		return
	}

	sc := s.scanners.Current()
	if sc == nil || !sc.IsRunning() {
		if _, started := s.scanners.Ensure(ctx); started {
			s.countRestart("not_running")
			s.log.Warn("scanner was not running, started a fresh instance")
		}
		return
	}

	healthy := sc.IsHealthy()
	metrics.ScannerHealthy.Set(metrics.BoolGauge(healthy))
	stale := s.cfg.StaleTimeout > 0 && sc.StalledFor() > s.cfg.StaleTimeout
	if !healthy || stale {
		s.log.Warn("scanner degraded, replacing",
			zap.Bool("healthy", healthy),
			zap.Bool("stale", stale),
			zap.Time("last_tick_at", sc.LastTickAt()),
			zap.Duration("stalled_for", sc.StalledFor()),
			zap.Int("consecutive_errors", sc.ConsecutiveErrors()))
		if _, replaced := s.scanners.Replace(ctx, sc, s.cfg.RestartDelay); replaced {
			s.countRestart("unhealthy")
		}
		return
	}

	s.mu.Lock()
	s.healthyStreak++
	if s.healthyStreak >= sustainedHealthyChecks && s.restartAttempts > 0 {
		s.log.Info("scanner healthy again, clearing restart attempts", zap.Int("restart_attempts", s.restartAttempts))
		s.restartAttempts = 0
	}
	s.mu.Unlock()
}

func (s *Supervisor) countRestart(reason string) {
	s.mu.Lock()
	s.restartAttempts++
	s.healthyStreak = 0
	s.mu.Unlock()
	metrics.ActorRestarts.WithLabelValues(s.cfg.Role, reason).Inc()
}

// fullRestart tears down the heartbeat and scanner and starts both again.
func (s *Supervisor) fullRestart(ctx context.Context, reason string) {
	s.log.Warn("full restart", zap.String("reason", reason))

	if s.owner() {
		s.heartbeat.Stop()
	}
	s.mu.RLock()
	stop := s.stopCh
	s.mu.RUnlock()

	stopCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	s.scanners.Stop(stopCtx)
	cancel()

	if !sleepCtx(ctx, stop, s.cfg.RestartDelay) {
		return
	}

	if s.owner() {
		s.heartbeat.Start(ctx)
	}
	s.scanners.Ensure(ctx)

	s.mu.Lock()
	s.lastFullRestart = s.now()
	s.mu.Unlock()
}

// terminalFailure gives up on this cycle. The counter is cleared so the next
// check starts the ladder again.
func (s *Supervisor) terminalFailure(ctx context.Context, attempts int) {
	s.log.Error("restart limit reached without a sustained healthy period",
		zap.Int("restart_attempts", attempts), zap.Int("max_restarts", s.cfg.MaxRestarts))
	metrics.ActorRestarts.WithLabelValues(s.cfg.Role, "terminal").Inc()

	s.mu.Lock()
	s.restartAttempts = 0
	s.healthyStreak = 0
	s.mu.Unlock()

	if s.alerter == nil || s.cfg.AdminPhone == "" {
		return
	}
	alertCtx, cancel := context.WithTimeout(ctx, alertTimeout)
	defer cancel()
	msg := fmt.Sprintf("wa_guard %s: scanner restarted %d times without recovering. Automatic recovery continues on the next check.", s.cfg.Role, attempts)
	if err := s.alerter.SendText(alertCtx, s.cfg.AdminPhone, msg); err != nil {
		s.log.Error("failed to alert admin", zap.Error(err))
	}
}

// RunID identifies this process run in logs and status output.
func (s *Supervisor) RunID() string {
	return s.runID
}

func (s *Supervisor) Role() string {
	return s.cfg.Role
}

func (s *Supervisor) RestartAttempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restartAttempts
}

func (s *Supervisor) LastCheckAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCheckAt
}

// State is the persisted view of this tier.
func (s *Supervisor) State() models.ActorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.ActorState{
		Role:            s.cfg.Role,
		IsRunning:       s.running,
		LastCheckAt:     s.lastCheckAt,
		RestartAttempts: s.restartAttempts,
		Config:          s.cfg.Snapshot,
	}
}

func (s *Supervisor) persist() {
	if err := record(s.recorder, s.State()); err != nil {
		s.log.Warn("failed to persist supervisor state", zap.Error(err))
	}
}
