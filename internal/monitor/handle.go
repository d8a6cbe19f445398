package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ScannerFactory builds a fresh, stopped scanner.
type ScannerFactory func() *Scanner

// ScannerHandle owns the current scanner instance. Supervisor tiers share one
// handle so replacements are serialized and a new instance only starts once
// the previous one has left its tick.
type ScannerHandle struct {
	factory ScannerFactory
	log     *zap.Logger

	// swap serializes Ensure, Replace and Stop. mu only guards current, so
	// Current never waits behind a drain or restart delay.
	swap    sync.Mutex
	mu      sync.Mutex
	current *Scanner
}

func NewScannerHandle(factory ScannerFactory, log *zap.Logger) *ScannerHandle {
	if log == nil {
		log = zap.NewNop()
	}
	return &ScannerHandle{factory: factory, log: log}
}

// Current returns the live instance, or nil before the first Ensure.
func (h *ScannerHandle) Current() *Scanner {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

func (h *ScannerHandle) set(sc *Scanner) {
	h.mu.Lock()
	h.current = sc
	h.mu.Unlock()
}

// Ensure starts a fresh scanner unless the current one is running.
// It reports whether a new instance was started.
func (h *ScannerHandle) Ensure(ctx context.Context) (*Scanner, bool) {
	h.swap.Lock()
	defer h.swap.Unlock()

	old := h.Current()
	if old != nil && old.IsRunning() {
		return old, false
	}
	if old != nil {
		old.Stop()
		h.drain(ctx, old)
	}
	return h.start(ctx), true
}

// Replace stops stale, waits for its loop to exit, and starts a fresh scanner
// after delay. If another caller already replaced stale, the current instance
// is returned unchanged.
func (h *ScannerHandle) Replace(ctx context.Context, stale *Scanner, delay time.Duration) (*Scanner, bool) {
	h.swap.Lock()
	defer h.swap.Unlock()

	if cur := h.Current(); cur != stale {
		return cur, false
	}
	if stale != nil {
		stale.Stop()
		h.drain(ctx, stale)
	}
	if !sleepCtx(ctx, nil, delay) {
		return h.Current(), false
	}
	sc := h.start(ctx)
	h.log.Info("scanner replaced")
	return sc, true
}

// Stop stops the current scanner and waits for its loop to exit or ctx to end.
func (h *ScannerHandle) Stop(ctx context.Context) {
	h.swap.Lock()
	defer h.swap.Unlock()

	sc := h.Current()
	if sc == nil {
		return
	}
	sc.Stop()
	select {
	case <-sc.Done():
	case <-ctx.Done():
		h.log.Warn("scanner did not finish its tick before shutdown deadline")
	}
}

func (h *ScannerHandle) start(ctx context.Context) *Scanner {
	sc := h.factory()
	h.set(sc)
	sc.Start(ctx)
	return sc
}

// drain waits for a stopped scanner's loop to exit, bounded by drainTimeout.
// A scanner stuck past the bound is abandoned; its stop channel still ends
// the tick at the next group.
func (h *ScannerHandle) drain(ctx context.Context, sc *Scanner) {
	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()
	select {
	case <-sc.Done():
	case <-timer.C:
		h.log.Warn("stopped scanner still inside its tick, starting replacement anyway",
			zap.Duration("drain_timeout", drainTimeout))
	case <-ctx.Done():
	}
}
