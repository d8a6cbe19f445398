package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wa_guard/internal/models"
)

var errUnavailable = errors.New("service unavailable")

type fakeDirectory struct {
	mu     sync.Mutex
	groups []Group
	err    error
	calls  int
}

func (d *fakeDirectory) ListGroups(ctx context.Context) ([]Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	out := make([]Group, len(d.groups))
	copy(out, d.groups)
	return out, nil
}

func (d *fakeDirectory) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

type fakeMessenger struct {
	mu        sync.Mutex
	calls     []string
	removeErr error
	sendErr   error
	removed   map[string]bool
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{removed: make(map[string]bool)}
}

func (m *fakeMessenger) RemoveMember(ctx context.Context, groupID, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("remove:%s:%s", groupID, phone))
	if m.removeErr != nil {
		return m.removeErr
	}
	m.removed[groupID+"/"+phone] = true
	return nil
}

func (m *fakeMessenger) SendText(ctx context.Context, phone, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "send:"+phone)
	return m.sendErr
}

func (m *fakeMessenger) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *fakeMessenger) count(prefix string) int {
	n := 0
	for _, c := range m.Calls() {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

type fakeBlacklistSource struct {
	entries map[string][]models.BlacklistEntry
}

func (f *fakeBlacklistSource) ListBlacklist(ctx context.Context, ownerUserID string) ([]models.BlacklistEntry, error) {
	return f.entries[ownerUserID], nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	states map[string]models.ActorState
	writes int
	err    error
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{states: make(map[string]models.ActorState)}
}

func (r *fakeRecorder) Record(ctx context.Context, state models.ActorState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	if r.err != nil {
		return r.err
	}
	r.states[state.Role] = state
	return nil
}

func (r *fakeRecorder) get(role string) (models.ActorState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[role]
	return s, ok
}

func (r *fakeRecorder) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

type fakeAudit struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (a *fakeAudit) Append(ctx context.Context, event models.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAudit) Events() []models.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.AuditEvent, len(a.events))
	copy(out, a.events)
	return out
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *fakeNotifier) SendText(ctx context.Context, phone, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, phone+": "+message)
	return nil
}

func (n *fakeNotifier) Sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	copy(out, n.sent)
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
