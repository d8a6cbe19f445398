package whatsapp

import (
	"context"
	"errors"
	"testing"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	"wa_guard/internal/database"
	"wa_guard/internal/models"
	"wa_guard/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeBindings struct {
	bindings []models.GroupBinding
	err      error
}

func (f *fakeBindings) ListActive(ctx context.Context) ([]models.GroupBinding, error) {
	return f.bindings, f.err
}

type fakeGroupInfo struct {
	infos map[string]*types.GroupInfo
	errs  map[string]error
}

func (f *fakeGroupInfo) GroupInfo(ctx context.Context, jid types.JID) (*types.GroupInfo, error) {
	if err := f.errs[jid.String()]; err != nil {
		return nil, err
	}
	info, ok := f.infos[jid.String()]
	if !ok {
		return nil, errors.New("item-not-found")
	}
	return info, nil
}

type fakeSender struct {
	removed  []types.JID
	group    types.JID
	sentTo   []types.JID
	sentText []string
	results  []types.GroupParticipant
	err      error
}

func (f *fakeSender) UpdateParticipants(ctx context.Context, group types.JID, users []types.JID, change whatsmeow.ParticipantChange) ([]types.GroupParticipant, error) {
	f.group = group
	f.removed = append(f.removed, users...)
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeSender) Send(ctx context.Context, to types.JID, msg *waE2E.Message) error {
	f.sentTo = append(f.sentTo, to)
	f.sentText = append(f.sentText, msg.GetConversation())
	return f.err
}

const groupA = "120363000000000001@g.us"

func testGroupInfo() *types.GroupInfo {
	info := &types.GroupInfo{
		Participants: []types.GroupParticipant{
			{JID: types.NewJID("5591234567", types.DefaultUserServer)},
			{JID: types.NewJID("81234567890123", types.HiddenUserServer), PhoneNumber: types.NewJID("5511987654321", types.DefaultUserServer)},
			{JID: types.NewJID("99999999999999", types.HiddenUserServer)},
		},
	}
	info.Name = "Vendas"
	return info
}

func TestDirectory_ListGroups(t *testing.T) {
	bindings := &fakeBindings{bindings: []models.GroupBinding{
		{OwnerUserID: "U1", GroupJID: groupA, Name: "stored name", Active: true},
		{OwnerUserID: "U1", GroupJID: "not-a-group", Active: true},
	}}
	source := &fakeGroupInfo{infos: map[string]*types.GroupInfo{groupA: testGroupInfo()}}
	dir := NewDirectory(bindings, source, zap.NewNop())

	groups, err := dir.ListGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 1)

	g := groups[0]
	assert.Equal(t, groupA, g.ID)
	assert.Equal(t, "Vendas", g.Name)
	assert.Equal(t, "U1", g.OwnerUserID)
	assert.Equal(t, []string{"5591234567", "5511987654321"}, g.MemberPhones)

	jid, ok := dir.ParticipantJID(groupA, "5511987654321")
	require.True(t, ok)
	assert.Equal(t, types.HiddenUserServer, jid.Server)
}

func TestDirectory_ListGroupsErrors(t *testing.T) {
	t.Run("binding store failure", func(t *testing.T) {
		dir := NewDirectory(&fakeBindings{err: errors.New("db down")}, &fakeGroupInfo{}, zap.NewNop())
		_, err := dir.ListGroups(context.Background())
		require.Error(t, err)
	})

	t.Run("client offline", func(t *testing.T) {
		bindings := &fakeBindings{bindings: []models.GroupBinding{{OwnerUserID: "U1", GroupJID: groupA}}}
		source := &fakeGroupInfo{errs: map[string]error{groupA: ErrNotConnected}}
		_, err := NewDirectory(bindings, source, zap.NewNop()).ListGroups(context.Background())
		require.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("one group missing is skipped", func(t *testing.T) {
		other := "120363000000000002@g.us"
		bindings := &fakeBindings{bindings: []models.GroupBinding{
			{OwnerUserID: "U1", GroupJID: other},
			{OwnerUserID: "U2", GroupJID: groupA},
		}}
		source := &fakeGroupInfo{infos: map[string]*types.GroupInfo{groupA: testGroupInfo()}}
		groups, err := NewDirectory(bindings, source, zap.NewNop()).ListGroups(context.Background())
		require.NoError(t, err)
		require.Len(t, groups, 1)
		assert.Equal(t, "U2", groups[0].OwnerUserID)
	})

	t.Run("every group missing fails the listing", func(t *testing.T) {
		bindings := &fakeBindings{bindings: []models.GroupBinding{{OwnerUserID: "U1", GroupJID: groupA}}}
		_, err := NewDirectory(bindings, &fakeGroupInfo{}, zap.NewNop()).ListGroups(context.Background())
		require.Error(t, err)
	})
}

func TestMessenger_RemoveMemberUsesListedAddress(t *testing.T) {
	source := &fakeGroupInfo{infos: map[string]*types.GroupInfo{groupA: testGroupInfo()}}
	dir := NewDirectory(&fakeBindings{bindings: []models.GroupBinding{{OwnerUserID: "U1", GroupJID: groupA}}}, source, zap.NewNop())
	_, err := dir.ListGroups(context.Background())
	require.NoError(t, err)

	sender := &fakeSender{}
	m := NewMessenger(sender, dir, zap.NewNop())

	require.NoError(t, m.RemoveMember(context.Background(), groupA, "5511987654321"))
	require.Len(t, sender.removed, 1)
	assert.Equal(t, "81234567890123", sender.removed[0].User)
	assert.Equal(t, groupA, sender.group.String())

	// Unknown members fall back to the phone-number address.
	require.NoError(t, m.RemoveMember(context.Background(), groupA, "+55 9 1234-999"))
	assert.Equal(t, types.NewJID("5591234999", types.DefaultUserServer), sender.removed[1])
}

func TestMessenger_RemoveMemberRejected(t *testing.T) {
	sender := &fakeSender{results: []types.GroupParticipant{
		{JID: types.NewJID("5591234567", types.DefaultUserServer), Error: 404},
	}}
	m := NewMessenger(sender, nil, zap.NewNop())

	err := m.RemoveMember(context.Background(), groupA, "5591234567")
	require.ErrorIs(t, err, ErrParticipantRejected)

	sender.results = nil
	sender.err = ErrNotConnected
	err = m.RemoveMember(context.Background(), groupA, "5591234567")
	require.ErrorIs(t, err, ErrNotConnected)

	require.Error(t, m.RemoveMember(context.Background(), "garbage@", "5591234567"))
}

func TestMessenger_SendText(t *testing.T) {
	sender := &fakeSender{}
	m := NewMessenger(sender, nil, zap.NewNop())

	require.NoError(t, m.SendText(context.Background(), "+55 (91) 2345-67", "removed"))
	require.Len(t, sender.sentTo, 1)
	assert.Equal(t, "5591234567", sender.sentTo[0].User)
	assert.Equal(t, "removed", sender.sentText[0])

	require.Error(t, m.SendText(context.Background(), "n/a", "removed"))
}

func TestWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	block := make(chan struct{})
	defer close(block)

	_, err := withContext(ctx, func() (int, error) {
		<-block
		return 1, nil
	})
	require.ErrorIs(t, err, context.Canceled)

	v, err := withContext(context.Background(), func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestDirectory_ReadsStoredBindings(t *testing.T) {
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open("file:directory_bindings?mode=memory&cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	groups := store.NewGroupStore(db)
	require.NoError(t, groups.Bind(ctx, models.GroupBinding{OwnerUserID: "U1", GroupJID: groupA, Name: "Sales"}))
	require.NoError(t, groups.Bind(ctx, models.GroupBinding{OwnerUserID: "U2", GroupJID: "120363000000000009@g.us"}))
	require.NoError(t, groups.Unbind(ctx, "U2", "120363000000000009@g.us"))

	d := NewDirectory(groups, &fakeGroupInfo{infos: map[string]*types.GroupInfo{groupA: testGroupInfo()}}, zap.NewNop())
	listed, err := d.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1, "inactive bindings are not scanned")
	assert.Equal(t, groupA, listed[0].ID)
	assert.Equal(t, "U1", listed[0].OwnerUserID)
	assert.Equal(t, []string{"5591234567", "5511987654321"}, listed[0].MemberPhones)
}
