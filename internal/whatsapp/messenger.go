package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// ErrParticipantRejected is returned when the server refuses a participant change.
var ErrParticipantRejected = errors.New("participant change rejected")

// Sender is the subset of the client the messenger drives.
type Sender interface {
	UpdateParticipants(ctx context.Context, group types.JID, users []types.JID, change whatsmeow.ParticipantChange) ([]types.GroupParticipant, error)
	Send(ctx context.Context, to types.JID, msg *waE2E.Message) error
}

// ParticipantResolver maps a listed member back to its group address.
type ParticipantResolver interface {
	ParticipantJID(groupID, phone string) (types.JID, bool)
}

// Messenger removes members and sends direct messages through the bot account.
type Messenger struct {
	sender   Sender
	resolver ParticipantResolver
	log      *zap.Logger
}

func NewMessenger(sender Sender, resolver ParticipantResolver, log *zap.Logger) *Messenger {
	return &Messenger{sender: sender, resolver: resolver, log: log.Named("messenger")}
}

// RemoveMember removes phone from the group. Removing someone already gone is
// reported by the server per participant and surfaces as ErrParticipantRejected.
func (m *Messenger) RemoveMember(ctx context.Context, groupID, phone string) error {
	group, err := types.ParseJID(groupID)
	if err != nil {
		return fmt.Errorf("parse group jid %q: %w", groupID, err)
	}
	if group.Server != types.GroupServer {
		return fmt.Errorf("not a group jid: %q", groupID)
	}

	user, ok := types.JID{}, false
	if m.resolver != nil {
		user, ok = m.resolver.ParticipantJID(groupID, phone)
	}
	if !ok {
		user, err = phoneJID(phone)
		if err != nil {
			return err
		}
	}

	results, err := m.sender.UpdateParticipants(ctx, group, []types.JID{user}, whatsmeow.ParticipantChangeRemove)
	if err != nil {
		return fmt.Errorf("remove %s from %s: %w", user, group, err)
	}
	for _, p := range results {
		if p.Error != 0 {
			return fmt.Errorf("%w: %s in %s (code %d)", ErrParticipantRejected, p.JID, group, p.Error)
		}
	}
	m.log.Debug("participant removed", zap.String("group_id", groupID), zap.String("phone", phone))
	return nil
}

// SendText sends a plain text message to a phone number.
func (m *Messenger) SendText(ctx context.Context, phone, message string) error {
	to, err := phoneJID(phone)
	if err != nil {
		return err
	}
	msg := &waE2E.Message{Conversation: proto.String(message)}
	if err := m.sender.Send(ctx, to, msg); err != nil {
		return fmt.Errorf("send text to %s: %w", to, err)
	}
	return nil
}

// phoneJID builds a user JID from an international phone number in any format.
func phoneJID(phone string) (types.JID, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return types.JID{}, fmt.Errorf("invalid phone number %q", phone)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}
