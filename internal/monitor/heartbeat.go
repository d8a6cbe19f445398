package monitor

import (
	"context"
	"sync"
	"time"

	"wa_guard/internal/metrics"
	"wa_guard/internal/models"

	"go.uber.org/zap"
)

// Heartbeat persists a liveness row on a fixed interval, independent of the
// scanner. It can be stopped and started again.
type Heartbeat struct {
	interval time.Duration
	timeout  time.Duration
	recorder StateRecorder
	snapshot models.ActorConfig
	log      *zap.Logger
	now      func() time.Time

	mu          sync.RWMutex
	running     bool
	lastBeat    time.Time
	missedBeats int
	stopCh      chan struct{}
	done        chan struct{}
}

// NewHeartbeat creates a stopped heartbeat.
func NewHeartbeat(interval, timeout time.Duration, recorder StateRecorder, snapshot models.ActorConfig, log *zap.Logger) *Heartbeat {
	if log == nil {
		log = zap.NewNop()
	}
	return &Heartbeat{
		interval: interval,
		timeout:  timeout,
		recorder: recorder,
		snapshot: snapshot,
		log:      log.With(zap.String("actor", models.RoleHeartbeat)),
		now:      time.Now,
	}
}

// SetClock replaces time.Now. Call before Start.
func (h *Heartbeat) SetClock(now func() time.Time) {
	h.now = now
}

func (h *Heartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.lastBeat = h.now()
	h.missedBeats = 0
	stop := make(chan struct{})
	done := make(chan struct{})
	h.stopCh = stop
	h.done = done
	h.mu.Unlock()

	h.log.Info("heartbeat started", zap.Duration("interval", h.interval))
	go h.run(ctx, stop, done)
}

func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.running = false
	close(h.stopCh)
	h.log.Info("heartbeat stopped")
}

// Done is closed when the most recently started loop exits.
func (h *Heartbeat) Done() <-chan struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return h.done
}

func (h *Heartbeat) run(ctx context.Context, stop <-chan struct{}, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		h.Beat()
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Beat records one pulse. A failed write counts as a missed beat.
func (h *Heartbeat) Beat() {
	at := h.now()

	h.mu.RLock()
	state := models.ActorState{
		Role:        models.RoleHeartbeat,
		IsRunning:   h.running,
		LastCheckAt: at,
		MissedBeats: h.missedBeats,
		Config:      h.snapshot,
	}
	h.mu.RUnlock()

	err := record(h.recorder, state)

	h.mu.Lock()
	if err != nil {
		h.missedBeats++
	} else {
		h.lastBeat = at
		h.missedBeats = 0
	}
	missed := h.missedBeats
	h.mu.Unlock()

	metrics.MissedBeats.Set(float64(missed))
	if err != nil {
		h.log.Warn("heartbeat write failed", zap.Error(err), zap.Int("missed_beats", missed))
	}
}

// IsAlive reports whether a beat was recorded within the timeout.
func (h *Heartbeat) IsAlive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running && h.now().Sub(h.lastBeat) < h.timeout
}

func (h *Heartbeat) LastBeat() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastBeat
}

func (h *Heartbeat) MissedBeats() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.missedBeats
}
