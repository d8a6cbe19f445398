package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wa_guard/internal/metrics"
	"wa_guard/internal/models"
	"wa_guard/internal/retry"

	"go.uber.org/zap"
)

// ScannerConfig parameterizes a GroupScanner.
type ScannerConfig struct {
	Interval         time.Duration
	ListTimeout      time.Duration
	GroupDelay       time.Duration
	ErrorCeiling     int
	MaxSelfRestarts  int
	SelfRestartDelay time.Duration
	Retry            retry.Policy
	BanNotice        string

	// Snapshot is persisted with the scanner row.
	Snapshot models.ActorConfig
}

// ScannerDeps are the scanner's collaborators. Recorder and Audit may be nil.
type ScannerDeps struct {
	Directory Directory
	Messenger Messenger
	Blacklist BlacklistChecker
	Recorder  StateRecorder
	Audit     AuditLog
	Logger    *zap.Logger
	Now       func() time.Time
}

// Scanner periodically lists groups and evicts blacklisted members.
// An instance runs at most once; supervisors replace it with a fresh one.
type Scanner struct {
	cfg       ScannerConfig
	dir       Directory
	messenger Messenger
	blacklist BlacklistChecker
	recorder  StateRecorder
	audit     AuditLog
	log       *zap.Logger
	now       func() time.Time

	mu                sync.RWMutex
	started           bool
	stopped           bool
	running           bool
	lastTickAt        time.Time
	consecutiveErrors int
	restartCount      int

	// inTick and lastProgressAt let a long tick that is still moving through
	// groups count as busy rather than stale.
	inTick         bool
	lastProgressAt time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
}

// NewScanner creates a stopped scanner.
func NewScanner(cfg ScannerConfig, deps ScannerDeps) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ErrorCeiling <= 0 {
		cfg.ErrorCeiling = 3
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Scanner{
		cfg:       cfg,
		dir:       deps.Directory,
		messenger: deps.Messenger,
		blacklist: deps.Blacklist,
		recorder:  deps.Recorder,
		audit:     deps.Audit,
		log:       log.With(zap.String("actor", models.RoleScanner)),
		now:       now,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the tick loop. The first tick runs immediately.
func (s *Scanner) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.running = true
	// A fresh instance gets one staleness window before its first tick lands.
	s.lastTickAt = s.now()
	s.mu.Unlock()

	s.persist()
	s.log.Info("scanner started", zap.Duration("interval", s.cfg.Interval))
	go s.run(ctx)
}

// Stop prevents new ticks. A tick in flight is allowed to finish.
func (s *Scanner) Stop() {
	s.mu.Lock()
	wasRunning := s.running
	s.stopped = true
	s.running = false
	started := s.started
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stopCh) })
	if !started {
		s.closeDone()
	}
	if wasRunning {
		s.persist()
		s.log.Info("scanner stopped")
	}
}

// Done is closed once the tick loop has exited.
func (s *Scanner) Done() <-chan struct{} {
	return s.done
}

func (s *Scanner) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Scanner) run(ctx context.Context) {
	defer s.closeDone()
	for {
		if !s.loop(ctx) {
			return
		}
		if !s.selfRestart(ctx) {
			return
		}
	}
}

// loop ticks until stopped (false) or the error ceiling is reached (true).
func (s *Scanner) loop(ctx context.Context) bool {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return false
		case <-ctx.Done():
			return false
		default:
		}

		if err := s.Tick(ctx); err != nil {
			errCount := s.ConsecutiveErrors()
			s.log.Warn("scan tick failed", zap.Error(err), zap.Int("consecutive_errors", errCount))
			if errCount >= s.cfg.ErrorCeiling {
				return true
			}
		}

		select {
		case <-s.stopCh:
			return false
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (s *Scanner) selfRestart(ctx context.Context) bool {
	s.mu.Lock()
	s.running = false
	restarts := s.restartCount
	s.mu.Unlock()
	s.persist()

	if restarts >= s.cfg.MaxSelfRestarts {
		s.log.Error("scanner error ceiling reached too often, staying stopped",
			zap.Int("restart_count", restarts), zap.Int("max_self_restarts", s.cfg.MaxSelfRestarts))
		return false
	}

	s.log.Warn("scanner error ceiling reached, restarting",
		zap.Int("error_ceiling", s.cfg.ErrorCeiling), zap.Duration("delay", s.cfg.SelfRestartDelay))
	if !sleepCtx(ctx, s.stopCh, s.cfg.SelfRestartDelay) {
		return false
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.restartCount++
	s.consecutiveErrors = 0
	s.running = true
	s.lastTickAt = s.now()
	s.mu.Unlock()

	metrics.ActorRestarts.WithLabelValues(models.RoleScanner, "error_ceiling").Inc()
	s.persist()
	return true
}

// Tick runs one full scan: list, check each member, enforce matches.
// Only a listing failure fails the tick.
func (s *Scanner) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.ScanDuration.Observe(time.Since(start).Seconds()) }()

	s.mu.Lock()
	s.inTick = true
	s.lastProgressAt = s.now()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inTick = false
		s.mu.Unlock()
	}()

	listCtx, cancel := context.WithTimeout(ctx, s.listTimeout())
	groups, err := s.dir.ListGroups(listCtx)
	cancel()
	if err != nil {
		s.mu.Lock()
		s.consecutiveErrors++
		s.mu.Unlock()
		metrics.ScanTicks.WithLabelValues("error").Inc()
		s.persist()
		return fmt.Errorf("list groups: %w", err)
	}

	scanned := 0
	for _, g := range groups {
		if g.ID == "" {
			continue
		}
		if s.stopRequested() {
			break
		}
		if scanned > 0 && !sleepCtx(ctx, s.stopCh, s.cfg.GroupDelay) {
			break
		}
		scanned++
		s.scanGroup(ctx, g)
		s.markProgress()
	}

	s.mu.Lock()
	s.consecutiveErrors = 0
	s.lastTickAt = s.now()
	s.mu.Unlock()
	metrics.ScanTicks.WithLabelValues("ok").Inc()
	s.persist()

	s.log.Debug("scan tick complete", zap.Int("groups", scanned))
	return nil
}

func (s *Scanner) stopRequested() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *Scanner) markProgress() {
	s.mu.Lock()
	s.lastProgressAt = s.now()
	s.mu.Unlock()
}

func (s *Scanner) listTimeout() time.Duration {
	if s.cfg.ListTimeout > 0 {
		return s.cfg.ListTimeout
	}
	return 60 * time.Second
}

func (s *Scanner) scanGroup(ctx context.Context, g Group) {
	for _, phone := range g.MemberPhones {
		entry := s.blacklist.IsBlacklisted(ctx, phone, g.OwnerUserID)
		if entry == nil {
			continue
		}
		s.enforce(ctx, g, phone, entry)
	}
}

// enforce removes the member, then notifies, then audits. The notice is only
// sent after a confirmed removal.
func (s *Scanner) enforce(ctx context.Context, g Group, phone string, entry *models.BlacklistEntry) {
	log := s.log.With(
		zap.String("group_id", g.ID),
		zap.String("owner_user_id", g.OwnerUserID),
		zap.String("phone", phone),
	)

	_, err := s.cfg.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		s.markProgress()
		err := s.messenger.RemoveMember(ctx, g.ID, phone)
		if err != nil {
			log.Warn("remove member attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
	if err != nil {
		metrics.Evictions.WithLabelValues("remove_failed").Inc()
		log.Error("could not remove blacklisted member, leaving in place", zap.Error(err))
		return
	}

	noticeSent := true
	_, err = s.cfg.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		s.markProgress()
		err := s.messenger.SendText(ctx, phone, s.cfg.BanNotice)
		if err != nil {
			log.Warn("ban notice attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
	if err != nil {
		noticeSent = false
		metrics.Evictions.WithLabelValues("notice_failed").Inc()
		log.Error("member removed but ban notice failed", zap.Error(err))
	}

	metrics.Evictions.WithLabelValues("removed").Inc()
	log.Info("blacklisted member removed", zap.String("reason", entry.Reason), zap.Bool("notice_sent", noticeSent))

	if s.audit == nil {
		return
	}
	event := models.AuditEvent{
		OwnerUserID: g.OwnerUserID,
		GroupID:     g.ID,
		Phone:       phone,
		Reason:      models.ReasonBlacklist,
		NoticeSent:  noticeSent,
	}
	if err := s.audit.Append(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("failed to append audit event", zap.Error(err))
	}
}

// IsHealthy reports whether recent ticks are succeeding and the scanner has
// made progress within two intervals.
func (s *Scanner) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.consecutiveErrors < s.cfg.ErrorCeiling &&
		s.now().Sub(s.progressAt()) < 2*s.cfg.Interval
}

// StalledFor is how long the scanner has gone without finishing a tick or,
// during a tick, without moving on to the next group or remote call.
func (s *Scanner) StalledFor() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now().Sub(s.progressAt())
}

// progressAt requires s.mu.
func (s *Scanner) progressAt() time.Time {
	if s.inTick && s.lastProgressAt.After(s.lastTickAt) {
		return s.lastProgressAt
	}
	return s.lastTickAt
}

func (s *Scanner) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scanner) LastTickAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTickAt
}

func (s *Scanner) ConsecutiveErrors() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.consecutiveErrors
}

func (s *Scanner) RestartCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restartCount
}

// State is the persisted view of the scanner.
func (s *Scanner) State() models.ActorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.ActorState{
		Role:            models.RoleScanner,
		IsRunning:       s.running,
		LastCheckAt:     s.lastTickAt,
		RestartAttempts: s.restartCount,
		ErrorCount:      s.consecutiveErrors,
		Config:          s.cfg.Snapshot,
	}
}

func (s *Scanner) persist() {
	if err := record(s.recorder, s.State()); err != nil {
		s.log.Warn("failed to persist scanner state", zap.Error(err))
	}
}
