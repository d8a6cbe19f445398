package monitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"wa_guard/internal/blacklist"
	"wa_guard/internal/models"
	"wa_guard/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowMessenger holds every removal for delay and tracks how many overlap.
type slowMessenger struct {
	delay       time.Duration
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	removes     atomic.Int32
}

func (m *slowMessenger) RemoveMember(ctx context.Context, groupID, phone string) error {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		peak := m.maxInFlight.Load()
		if n <= peak || m.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	m.removes.Add(1)
	select {
	case <-time.After(m.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *slowMessenger) SendText(ctx context.Context, phone, message string) error {
	return nil
}

// gatedMessenger blocks each removal until the test releases it.
type gatedMessenger struct {
	entered chan string
	release chan struct{}
}

func newGatedMessenger() *gatedMessenger {
	return &gatedMessenger{entered: make(chan string, 4), release: make(chan struct{})}
}

func (m *gatedMessenger) RemoveMember(ctx context.Context, groupID, phone string) error {
	m.entered <- groupID
	select {
	case <-m.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *gatedMessenger) SendText(ctx context.Context, phone, message string) error {
	return nil
}

func blacklistedGroups(ids ...string) (*fakeDirectory, *blacklist.Cache) {
	src := &fakeBlacklistSource{entries: map[string][]models.BlacklistEntry{
		"U1": {{OwnerUserID: "U1", RawPhone: "5591234567", NormalizedPhone: "5591234567", Reason: "spam"}},
	}}
	dir := &fakeDirectory{}
	for _, id := range ids {
		dir.groups = append(dir.groups, Group{ID: id, OwnerUserID: "U1", MemberPhones: []string{"5591234567"}})
	}
	return dir, blacklist.NewCache(src, time.Minute)
}

func waitEntered(t *testing.T, m *gatedMessenger) string {
	t.Helper()
	select {
	case id := <-m.entered:
		return id
	case <-time.After(time.Second):
		t.Fatal("removal was not attempted")
		return ""
	}
}

func TestReplace_OneRemovalInFlightAcrossReplacements(t *testing.T) {
	messenger := &slowMessenger{delay: 250 * time.Millisecond}
	handle := NewScannerHandle(func() *Scanner {
		dir, cache := blacklistedGroups("G1")
		return NewScanner(ScannerConfig{
			Interval:     100 * time.Millisecond,
			ListTimeout:  time.Second,
			ErrorCeiling: 3,
			Retry:        retry.NewPolicy(1, time.Millisecond, time.Second),
			BanNotice:    "removed",
		}, ScannerDeps{Directory: dir, Messenger: messenger, Blacklist: cache})
	}, nil)
	sup := NewSupervisor(SupervisorConfig{
		Role:          models.RoleWatchdog,
		CheckInterval: 20 * time.Millisecond,
		StaleTimeout:  100 * time.Millisecond,
		MaxRestarts:   100,
	}, SupervisorDeps{Scanners: handle})

	sup.Start(context.Background())
	time.Sleep(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sup.Shutdown(ctx))
	handle.Stop(ctx)

	assert.Positive(t, messenger.removes.Load())
	assert.Equal(t, int32(1), messenger.maxInFlight.Load())
}

func TestReplace_WaitsForStoppedTick(t *testing.T) {
	messenger := newGatedMessenger()
	var built atomic.Int32
	handle := NewScannerHandle(func() *Scanner {
		built.Add(1)
		dir, cache := blacklistedGroups("G1")
		return NewScanner(testScannerConfig(), ScannerDeps{Directory: dir, Messenger: messenger, Blacklist: cache})
	}, nil)
	ctx := context.Background()

	old, _ := handle.Ensure(ctx)
	waitEntered(t, messenger)

	replaced := make(chan *Scanner, 1)
	go func() {
		sc, _ := handle.Replace(ctx, old, 0)
		replaced <- sc
	}()

	require.Eventually(t, func() bool { return !old.IsRunning() }, time.Second, 5*time.Millisecond)
	select {
	case <-replaced:
		t.Fatal("replacement started while the old tick was still removing")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, int32(1), built.Load())

	close(messenger.release)
	select {
	case fresh := <-replaced:
		assert.NotSame(t, old, fresh)
		assert.True(t, fresh.IsRunning())
	case <-time.After(time.Second):
		t.Fatal("replacement never started")
	}
	<-old.Done()

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	handle.Stop(stopCtx)
}

func TestReplace_CurrentAvailableDuringDelay(t *testing.T) {
	handle := NewScannerHandle(func() *Scanner {
		return NewScanner(testScannerConfig(), ScannerDeps{
			Directory: &fakeDirectory{},
			Messenger: newFakeMessenger(),
			Blacklist: blacklist.NewCache(&fakeBlacklistSource{}, time.Minute),
		})
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	old, _ := handle.Ensure(ctx)
	go handle.Replace(ctx, old, time.Hour)
	require.Eventually(t, func() bool { return !old.IsRunning() }, time.Second, 5*time.Millisecond)

	got := make(chan *Scanner, 1)
	go func() { got <- handle.Current() }()
	select {
	case sc := <-got:
		assert.Same(t, old, sc)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Current blocked behind the restart delay")
	}
}

func TestScanner_ProgressWithinTickIsNotStale(t *testing.T) {
	clock := newFakeClock()
	messenger := newGatedMessenger()
	dir, cache := blacklistedGroups("G1", "G2")
	s := NewScanner(testScannerConfig(), ScannerDeps{
		Directory: dir,
		Messenger: messenger,
		Blacklist: cache,
		Now:       clock.Now,
	})

	tickDone := make(chan error, 1)
	go func() { tickDone <- s.Tick(context.Background()) }()

	assert.Equal(t, "G1", waitEntered(t, messenger))
	clock.Advance(90 * time.Second)
	assert.Equal(t, 90*time.Second, s.StalledFor(), "a hung call still counts as stalled")

	messenger.release <- struct{}{}
	assert.Equal(t, "G2", waitEntered(t, messenger))
	assert.Zero(t, s.StalledFor())
	assert.True(t, s.IsHealthy())

	messenger.release <- struct{}{}
	require.NoError(t, <-tickDone)
	assert.Zero(t, s.StalledFor())
}

func TestTick_StopEndsTickAtNextGroup(t *testing.T) {
	messenger := newGatedMessenger()
	dir, cache := blacklistedGroups("G1", "G2")
	s := NewScanner(testScannerConfig(), ScannerDeps{Directory: dir, Messenger: messenger, Blacklist: cache})

	tickDone := make(chan error, 1)
	go func() { tickDone <- s.Tick(context.Background()) }()

	waitEntered(t, messenger)
	s.Stop()
	messenger.release <- struct{}{}

	require.NoError(t, <-tickDone)
	assert.Empty(t, messenger.entered, "second group must not be scanned after Stop")
}
