package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"wa_guard/internal/blacklist"
	"wa_guard/internal/models"
	"wa_guard/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type supervisorFixture struct {
	clock    *fakeClock
	recorder *fakeRecorder
	notifier *fakeNotifier
	handle   *ScannerHandle

	mu    sync.Mutex
	built int
	// failFirst makes only the first scanner's directory fail.
	failFirst bool
	failAll   bool
}

func newSupervisorFixture(t *testing.T) *supervisorFixture {
	t.Helper()
	f := &supervisorFixture{
		clock:    newFakeClock(),
		recorder: newFakeRecorder(),
		notifier: &fakeNotifier{},
	}
	f.handle = NewScannerHandle(f.buildScanner, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		f.handle.Stop(ctx)
	})
	return f
}

func (f *supervisorFixture) buildScanner() *Scanner {
	f.mu.Lock()
	f.built++
	dir := &fakeDirectory{}
	if f.failAll || (f.failFirst && f.built == 1) {
		dir.err = errUnavailable
	}
	f.mu.Unlock()

	return NewScanner(ScannerConfig{
		Interval:     time.Hour,
		ListTimeout:  time.Second,
		ErrorCeiling: 100,
		Retry:        retry.NewPolicy(3, time.Millisecond, time.Second),
	}, ScannerDeps{
		Directory: dir,
		Messenger: newFakeMessenger(),
		Blacklist: blacklist.NewCache(&fakeBlacklistSource{}, time.Minute),
		Recorder:  f.recorder,
		Now:       f.clock.Now,
	})
}

func (f *supervisorFixture) builtCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built
}

func watchdogConfig() SupervisorConfig {
	return SupervisorConfig{
		Role:          models.RoleWatchdog,
		CheckInterval: time.Hour,
		StaleTimeout:  60 * time.Second,
		MaxRestarts:   10,
	}
}

func escalatingConfig() SupervisorConfig {
	return SupervisorConfig{
		Role:            models.RoleSupervisor,
		CheckInterval:   10 * time.Second,
		StaleTimeout:    30 * time.Second,
		MaxRestarts:     20,
		ForcedRestart:   30 * time.Minute,
		FreezeTolerance: 10 * time.Second,
	}
}

func (f *supervisorFixture) supervisor(cfg SupervisorConfig, hb *Heartbeat) *Supervisor {
	return NewSupervisor(cfg, SupervisorDeps{
		Scanners:  f.handle,
		Heartbeat: hb,
		Recorder:  f.recorder,
		Alerter:   f.notifier,
		Now:       f.clock.Now,
	})
}

func (f *supervisorFixture) heartbeat(t *testing.T, timeout time.Duration) *Heartbeat {
	t.Helper()
	hb := NewHeartbeat(time.Hour, timeout, f.recorder, models.ActorConfig{}, nil)
	hb.SetClock(f.clock.Now)
	hb.Start(context.Background())
	t.Cleanup(hb.Stop)
	return hb
}

func TestCheckOnce_StartsMissingScanner(t *testing.T) {
	f := newSupervisorFixture(t)
	sup := f.supervisor(watchdogConfig(), nil)

	sup.CheckOnce(context.Background())

	sc := f.handle.Current()
	require.NotNil(t, sc)
	assert.True(t, sc.IsRunning())
	assert.Equal(t, 1, sup.RestartAttempts())

	state, ok := f.recorder.get(models.RoleWatchdog)
	require.True(t, ok)
	assert.Equal(t, 1, state.RestartAttempts)
	assert.Equal(t, f.clock.Now(), state.LastCheckAt)
}

func TestCheckOnce_RecreatesStoppedScanner(t *testing.T) {
	f := newSupervisorFixture(t)
	sup := f.supervisor(watchdogConfig(), nil)
	ctx := context.Background()

	old, _ := f.handle.Ensure(ctx)
	old.Stop()

	sup.CheckOnce(ctx)

	assert.NotSame(t, old, f.handle.Current())
	assert.True(t, f.handle.Current().IsRunning())
}

func TestCheckOnce_ReplacesStaleScanner(t *testing.T) {
	f := newSupervisorFixture(t)
	f.failFirst = true
	cfg := watchdogConfig()
	sup := f.supervisor(cfg, nil)
	ctx := context.Background()

	stuck, _ := f.handle.Ensure(ctx)
	require.Eventually(t, func() bool { return stuck.ConsecutiveErrors() == 1 }, time.Second, 5*time.Millisecond)

	f.clock.Advance(cfg.StaleTimeout + time.Second)
	sup.CheckOnce(ctx)

	fresh := f.handle.Current()
	assert.NotSame(t, stuck, fresh)
	assert.False(t, stuck.IsRunning())
	assert.True(t, fresh.IsRunning())
	assert.Equal(t, 0, fresh.ConsecutiveErrors())
	assert.Equal(t, 1, sup.RestartAttempts())
	assert.Equal(t, 2, f.builtCount())
}

func TestCheckOnce_HealthyScannerLeftAlone(t *testing.T) {
	f := newSupervisorFixture(t)
	sup := f.supervisor(watchdogConfig(), nil)
	ctx := context.Background()

	sup.CheckOnce(ctx)
	require.Equal(t, 1, sup.RestartAttempts())
	sc := f.handle.Current()

	for i := 0; i < sustainedHealthyChecks; i++ {
		f.clock.Advance(10 * time.Second)
		sup.CheckOnce(ctx)
	}

	assert.Same(t, sc, f.handle.Current())
	assert.Equal(t, 0, sup.RestartAttempts(), "a sustained healthy period clears the counter")
}

func TestCheckOnce_TerminalFailureAlertsAdmin(t *testing.T) {
	f := newSupervisorFixture(t)
	f.failAll = true
	cfg := watchdogConfig()
	cfg.MaxRestarts = 2
	cfg.AdminPhone = "5511999990000"
	sup := f.supervisor(cfg, nil)
	ctx := context.Background()

	f.handle.Ensure(ctx)
	for i := 0; i < cfg.MaxRestarts; i++ {
		f.clock.Advance(cfg.StaleTimeout + time.Second)
		sup.CheckOnce(ctx)
	}
	require.Equal(t, 2, sup.RestartAttempts())
	built := f.builtCount()

	f.clock.Advance(cfg.StaleTimeout + time.Second)
	sup.CheckOnce(ctx)

	assert.Equal(t, built, f.builtCount(), "no restart during the terminal cycle")
	assert.Equal(t, 0, sup.RestartAttempts())
	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "5511999990000")

	// The next check resumes the ladder.
	sup.CheckOnce(ctx)
	assert.Equal(t, built+1, f.builtCount())
}

func TestCheckOnce_DeadHeartbeatRebuildsEverything(t *testing.T) {
	f := newSupervisorFixture(t)
	hb := f.heartbeat(t, time.Hour)
	sup := f.supervisor(escalatingConfig(), hb)
	ctx := context.Background()

	old, _ := f.handle.Ensure(ctx)
	hb.Stop()
	require.False(t, hb.IsAlive())

	sup.CheckOnce(ctx)

	assert.True(t, hb.IsAlive())
	assert.NotSame(t, old, f.handle.Current())
	assert.True(t, f.handle.Current().IsRunning())
	assert.Equal(t, 1, sup.RestartAttempts())
}

func TestCheckOnce_FrozenProcessRebuildsEverything(t *testing.T) {
	f := newSupervisorFixture(t)
	hb := f.heartbeat(t, time.Hour)
	cfg := escalatingConfig()
	sup := f.supervisor(cfg, hb)
	ctx := context.Background()

	old, _ := f.handle.Ensure(ctx)
	sup.CheckOnce(ctx)
	require.Same(t, old, f.handle.Current())

	f.clock.Advance(cfg.CheckInterval + cfg.FreezeTolerance + time.Second)
	sup.CheckOnce(ctx)

	assert.NotSame(t, old, f.handle.Current())
	assert.Equal(t, 1, sup.RestartAttempts())
}

func TestCheckOnce_ForcedRestartOnPeriod(t *testing.T) {
	f := newSupervisorFixture(t)
	hb := f.heartbeat(t, 2*time.Hour)
	cfg := escalatingConfig()
	cfg.FreezeTolerance = 2 * time.Hour
	cfg.StaleTimeout = 2 * time.Hour
	sup := f.supervisor(cfg, hb)
	ctx := context.Background()

	old, _ := f.handle.Ensure(ctx)
	f.clock.Advance(cfg.ForcedRestart + time.Second)
	sup.CheckOnce(ctx)

	assert.NotSame(t, old, f.handle.Current())
	assert.Equal(t, 0, sup.RestartAttempts(), "forced restarts are not failures")
}

func TestSupervisor_StartAndShutdown(t *testing.T) {
	rec := newFakeRecorder()
	factory := func() *Scanner {
		return NewScanner(ScannerConfig{
			Interval:     200 * time.Millisecond,
			ListTimeout:  time.Second,
			ErrorCeiling: 3,
			Retry:        retry.NewPolicy(3, time.Millisecond, time.Second),
		}, ScannerDeps{
			Directory: &fakeDirectory{},
			Messenger: newFakeMessenger(),
			Blacklist: blacklist.NewCache(&fakeBlacklistSource{}, time.Minute),
			Recorder:  rec,
		})
	}
	handle := NewScannerHandle(factory, nil)
	hb := NewHeartbeat(10*time.Millisecond, time.Second, rec, models.ActorConfig{}, nil)
	sup := NewSupervisor(SupervisorConfig{
		Role:            models.RoleSupervisor,
		CheckInterval:   20 * time.Millisecond,
		StaleTimeout:    time.Second,
		MaxRestarts:     5,
		FreezeTolerance: time.Second,
	}, SupervisorDeps{Scanners: handle, Heartbeat: hb, Recorder: rec})

	sup.Start(context.Background())

	require.Eventually(t, func() bool {
		sc := handle.Current()
		return sc != nil && sc.IsRunning() && hb.IsAlive() && !sup.LastCheckAt().IsZero()
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sup.Shutdown(ctx))

	assert.False(t, handle.Current().IsRunning())
	assert.False(t, hb.IsAlive())
	for _, role := range []string{models.RoleSupervisor, models.RoleHeartbeat, models.RoleScanner} {
		_, ok := rec.get(role)
		assert.True(t, ok, role)
	}
	state, _ := rec.get(models.RoleSupervisor)
	assert.False(t, state.IsRunning)
}
