package chat

import (
	"context"
	"sort"
	"testing"

	"livecast/internal/security"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *MemoryModerationStore) moderatorsOf(channelID uuid.UUID) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for key := range s.moderators {
		if key.channel == channelID {
			out = append(out, key.user.String())
		}
	}
	sort.Strings(out)
	return out
}

func TestModCommandByOwner(t *testing.T) {
	f := newFixture(t)
	bob := f.addUser("bob", security.RoleUser)
	ctx := context.Background()

	msg, err := f.coordinator.PostMessage(ctx, f.room, f.author(f.owner), "/mod @bob")
	require.NoError(t, err)
	assert.Nil(t, msg, "commands are not posted as chat")

	isMod, err := f.store.IsModerator(ctx, f.owner.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, isMod)

	history, err := f.coordinator.History(f.room)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, SystemUsername, history[0].Username)
	assert.Equal(t, SystemRole, history[0].Role)
	assert.Equal(t, "bob is now a moderator", history[0].Message)

	_, err = f.coordinator.PostMessage(ctx, f.room, f.author(f.owner), "/UNMOD bob")
	require.NoError(t, err)
	isMod, err = f.store.IsModerator(ctx, f.owner.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, isMod)

	history, err = f.coordinator.History(f.room)
	require.NoError(t, err)
	assert.Equal(t, "bob is no longer a moderator", history[len(history)-1].Message)

	assert.Equal(t, []string{"moderator_granted", "moderator_revoked"}, f.sink.types())
}

func TestModCommandBySiteAdmin(t *testing.T) {
	f := newFixture(t)
	admin := f.addUser("root", security.RoleAdmin)
	bob := f.addUser("bob", security.RoleUser)
	ctx := context.Background()

	_, err := f.coordinator.PostMessage(ctx, f.room, f.author(admin), "/mod bob")
	require.NoError(t, err)

	isMod, err := f.store.IsModerator(ctx, f.owner.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, isMod)
}

func TestModCommandRejectsChannelModerator(t *testing.T) {
	f := newFixture(t)
	mod := f.addUser("mod", security.RoleUser)
	f.addUser("newmod", security.RoleUser)
	ctx := context.Background()
	require.NoError(t, f.store.AddModerator(ctx, f.owner.ID, mod.ID, f.owner.ID))

	before := f.store.moderatorsOf(f.owner.ID)

	_, err := f.coordinator.PostMessage(ctx, f.room, f.author(mod), "/mod newmod")
	assert.ErrorIs(t, err, ErrNotAuthorized)

	assert.Equal(t, before, f.store.moderatorsOf(f.owner.ID))
	history, err := f.coordinator.History(f.room)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Equal(t, []string{"suspicious_activity"}, f.sink.types())
}

func TestModCommandRejectsSiteModerator(t *testing.T) {
	f := newFixture(t)
	staff := f.addUser("staff", security.RoleModerator)
	f.addUser("bob", security.RoleUser)

	_, err := f.coordinator.PostMessage(context.Background(), f.room, f.author(staff), "/mod bob")
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestModCommandArguments(t *testing.T) {
	f := newFixture(t)
	owner := f.author(f.owner)
	ctx := context.Background()

	_, err := f.coordinator.PostMessage(ctx, f.room, owner, "/mod")
	var usage *UsageError
	require.ErrorAs(t, err, &usage)
	assert.Equal(t, "Usage: /mod <username>", err.Error())

	_, err = f.coordinator.PostMessage(ctx, f.room, owner, "/unmod @")
	require.ErrorAs(t, err, &usage)
	assert.Equal(t, "/unmod <username>", usage.Usage)

	_, err = f.coordinator.PostMessage(ctx, f.room, owner, "/mod nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUnknownCommandIsPostedAsChat(t *testing.T) {
	f := newFixture(t)
	viewer := f.author(f.addUser("bob", security.RoleUser))

	msg, err := f.coordinator.PostMessage(context.Background(), f.room, viewer, "/shrug whatever")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "/shrug whatever", msg.Message)
}

func TestCommandsRespectBans(t *testing.T) {
	f := newFixture(t)
	admin := f.addUser("root", security.RoleAdmin)
	f.addUser("bob", security.RoleUser)
	ctx := context.Background()

	require.NoError(t, f.store.PutBan(ctx, &BanEntry{ChannelID: f.owner.ID, UserID: admin.ID}))

	_, err := f.coordinator.PostMessage(ctx, f.room, f.author(admin), "/mod bob")
	assert.ErrorIs(t, err, ErrBanned)
}
