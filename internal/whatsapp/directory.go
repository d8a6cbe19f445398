package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	"wa_guard/internal/models"
	"wa_guard/internal/monitor"
)

// BindingLister returns the groups registered for enforcement.
type BindingLister interface {
	ListActive(ctx context.Context) ([]models.GroupBinding, error)
}

// GroupInfoSource fetches live group metadata.
type GroupInfoSource interface {
	GroupInfo(ctx context.Context, jid types.JID) (*types.GroupInfo, error)
}

// Directory resolves registered group bindings into live member lists.
type Directory struct {
	bindings BindingLister
	groups   GroupInfoSource
	log      *zap.Logger

	mu           sync.RWMutex
	participants map[string]map[string]types.JID
}

func NewDirectory(bindings BindingLister, groups GroupInfoSource, log *zap.Logger) *Directory {
	return &Directory{
		bindings:     bindings,
		groups:       groups,
		log:          log.Named("directory"),
		participants: make(map[string]map[string]types.JID),
	}
}

// ListGroups returns every active binding with its current members. A group
// that cannot be fetched is skipped; the listing fails only when no bound
// group could be resolved or the client is offline.
func (d *Directory) ListGroups(ctx context.Context) ([]monitor.Group, error) {
	bindings, err := d.bindings.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list group bindings: %w", err)
	}

	groups := make([]monitor.Group, 0, len(bindings))
	index := make(map[string]map[string]types.JID, len(bindings))
	var lastErr error

	for _, b := range bindings {
		if b.GroupJID == "" {
			continue
		}
		jid, err := types.ParseJID(b.GroupJID)
		if err != nil || jid.Server != types.GroupServer {
			d.log.Warn("skipping binding with invalid group JID", zap.String("group_id", b.GroupJID), zap.Error(err))
			continue
		}

		info, err := d.groups.GroupInfo(ctx, jid)
		if err != nil {
			if errors.Is(err, ErrNotConnected) || ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			d.log.Warn("failed to fetch group info", zap.String("group_id", b.GroupJID), zap.Error(err))
			continue
		}

		members := make(map[string]types.JID, len(info.Participants))
		phones := make([]string, 0, len(info.Participants))
		for _, p := range info.Participants {
			phone, ok := participantPhone(p)
			if !ok {
				continue
			}
			members[phone] = p.JID
			phones = append(phones, phone)
		}
		index[b.GroupJID] = members

		name := b.Name
		if info.Name != "" {
			name = info.Name
		}
		groups = append(groups, monitor.Group{
			ID:           b.GroupJID,
			Name:         name,
			OwnerUserID:  b.OwnerUserID,
			MemberPhones: phones,
		})
	}

	if len(groups) == 0 && lastErr != nil {
		return nil, fmt.Errorf("fetch group info: %w", lastErr)
	}

	d.mu.Lock()
	d.participants = index
	d.mu.Unlock()
	return groups, nil
}

// ParticipantJID returns the address a member was listed under, so removals
// target hidden-number participants correctly.
func (d *Directory) ParticipantJID(groupID, phone string) (types.JID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	jid, ok := d.participants[groupID][phone]
	return jid, ok
}

// participantPhone extracts the phone number of a participant. Participants
// addressed by hidden id use their phone-number JID; those with neither are skipped.
func participantPhone(p types.GroupParticipant) (string, bool) {
	if p.JID.Server == types.DefaultUserServer && p.JID.User != "" {
		return p.JID.User, true
	}
	if !p.PhoneNumber.IsEmpty() && p.PhoneNumber.User != "" {
		return p.PhoneNumber.User, true
	}
	return "", false
}
