package monitor

import (
	"context"
	"time"

	"wa_guard/internal/models"
)

// stateWriteTimeout bounds every actor-state upsert.
const stateWriteTimeout = 5 * time.Second

// Group is one externally hosted chat group and its current members.
type Group struct {
	ID           string
	Name         string
	OwnerUserID  string
	MemberPhones []string
}

// Directory lists the groups to enforce.
type Directory interface {
	ListGroups(ctx context.Context) ([]Group, error)
}

// Notifier sends a direct text message to a phone number.
type Notifier interface {
	SendText(ctx context.Context, phone, message string) error
}

// Messenger performs enforcement actions on the messaging network.
type Messenger interface {
	Notifier
	RemoveMember(ctx context.Context, groupID, phone string) error
}

// BlacklistChecker answers blacklist membership for an owner.
type BlacklistChecker interface {
	IsBlacklisted(ctx context.Context, phone, ownerUserID string) *models.BlacklistEntry
}

// StateRecorder persists the observable state of an actor.
type StateRecorder interface {
	Record(ctx context.Context, state models.ActorState) error
}

// AuditLog stores one event per eviction.
type AuditLog interface {
	Append(ctx context.Context, event models.AuditEvent) error
}

func sleepCtx(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}

func record(recorder StateRecorder, state models.ActorState) error {
	if recorder == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), stateWriteTimeout)
	defer cancel()
	return recorder.Record(ctx, state)
}
