package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"livecast/internal/audit"
	"livecast/internal/security"
	"livecast/internal/stream"
	utils "livecast/pkg/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentEvent struct {
	room  string
	event Event
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []sentEvent
}

func (b *recordingBroadcaster) Broadcast(room string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, sentEvent{room: room, event: ev})
}

func (b *recordingBroadcaster) named(name string) []sentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sentEvent
	for _, e := range b.events {
		if e.event.Event == name {
			out = append(out, e)
		}
	}
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (s *recordingSink) Store(_ context.Context, event *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	coordinator *Coordinator
	store       *MemoryModerationStore
	users       *stream.MemoryStore
	broadcaster *recordingBroadcaster
	sink        *recordingSink
	clock       *fakeClock
	owner       *stream.User
	room        string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	utils.InitDiscard()

	users := stream.NewMemoryStore()
	directory := stream.NewStreamService(users, "/hls")
	store := NewMemoryModerationStore()
	broadcaster := &recordingBroadcaster{}
	sink := &recordingSink{}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	coordinator := NewCoordinator(store, directory, broadcaster, audit.NewAuditLogger(sink), CoordinatorConfig{})
	coordinator.now = clock.Now

	f := &fixture{
		coordinator: coordinator,
		store:       store,
		users:       users,
		broadcaster: broadcaster,
		sink:        sink,
		clock:       clock,
	}
	f.owner = f.addUser("alice", security.RoleUser)
	f.room = uuid.NewString()
	coordinator.OpenRoom(f.room, Channel{OwnerID: f.owner.ID, OwnerName: f.owner.Username})
	return f
}

func (f *fixture) addUser(name string, role security.Role) *stream.User {
	user := &stream.User{ID: uuid.New(), Username: name, Role: role}
	f.users.PutUser(user)
	return user
}

func (f *fixture) author(user *stream.User) Author {
	return AuthorFromUser(user)
}

func TestPostMessageAppendsAndBroadcasts(t *testing.T) {
	f := newFixture(t)
	viewer := f.addUser("bob", security.RoleUser)

	msg, err := f.coordinator.PostMessage(context.Background(), f.room, f.author(viewer), "  hello there  ")
	require.NoError(t, err)
	assert.Equal(t, "hello there", msg.Message)
	assert.Equal(t, "bob", msg.Username)
	assert.Equal(t, "user", msg.Role)
	assert.Equal(t, f.room, msg.RoomID)

	history, err := f.coordinator.History(f.room)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)

	sent := f.broadcaster.named(EventChatMessage)
	require.Len(t, sent, 1)
	assert.Equal(t, f.room, sent[0].room)
	assert.Same(t, msg, sent[0].event.Data)
}

func TestPostMessageValidation(t *testing.T) {
	f := newFixture(t)
	viewer := f.addUser("bob", security.RoleUser)
	ctx := context.Background()

	_, err := f.coordinator.PostMessage(ctx, "missing", f.author(viewer), "hi")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = f.coordinator.PostMessage(ctx, f.room, Author{Username: "guest"}, "hi")
	assert.ErrorIs(t, err, ErrLoginRequired)

	_, err = f.coordinator.PostMessage(ctx, f.room, f.author(viewer), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	long := make([]rune, DefaultMaxMessageLength+1)
	for i := range long {
		long[i] = 'é'
	}
	_, err = f.coordinator.PostMessage(ctx, f.room, f.author(viewer), string(long))
	assert.ErrorIs(t, err, ErrMessageTooLong)

	_, err = f.coordinator.PostMessage(ctx, f.room, f.author(viewer), string(long[:DefaultMaxMessageLength]))
	assert.NoError(t, err)

	assert.Len(t, f.broadcaster.named(EventChatMessage), 1)
}

func TestHistoryKeepsLast200(t *testing.T) {
	f := newFixture(t)
	viewer := f.author(f.addUser("bob", security.RoleUser))
	ctx := context.Background()

	for i := 1; i <= 201; i++ {
		_, err := f.coordinator.PostMessage(ctx, f.room, viewer, fmt.Sprintf("message %d", i))
		require.NoError(t, err)
	}

	history, err := f.coordinator.History(f.room)
	require.NoError(t, err)
	require.Len(t, history, DefaultHistorySize)
	assert.Equal(t, "message 2", history[0].Message)
	assert.Equal(t, "message 201", history[len(history)-1].Message)
}

func TestBannedUserIsRejected(t *testing.T) {
	f := newFixture(t)
	viewer := f.addUser("bob", security.RoleUser)
	ctx := context.Background()

	require.NoError(t, f.coordinator.Ban(ctx, f.room, f.author(f.owner), viewer.ID, "spam"))

	banned := f.broadcaster.named(EventUserBanned)
	require.Len(t, banned, 1)
	payload := banned[0].event.Data.(UserBannedPayload)
	assert.Equal(t, viewer.ID.String(), payload.UserID)
	assert.Equal(t, 0, payload.Duration)
	assert.Equal(t, "alice", payload.BannedBy)

	_, err := f.coordinator.PostMessage(ctx, f.room, f.author(viewer), "let me talk")
	assert.ErrorIs(t, err, ErrBanned)

	// bans are per channel, so a second room of the same owner is covered too
	profile := ProfileRoomID("alice")
	f.coordinator.OpenRoom(profile, Channel{OwnerID: f.owner.ID, OwnerName: "alice"})
	_, err = f.coordinator.PostMessage(ctx, profile, f.author(viewer), "here?")
	assert.ErrorIs(t, err, ErrBanned)

	require.NoError(t, f.coordinator.Unban(ctx, f.room, f.author(f.owner), viewer.ID))
	_, err = f.coordinator.PostMessage(ctx, f.room, f.author(viewer), "thanks")
	assert.NoError(t, err)

	assert.Equal(t, []string{"chat_ban", "chat_unban"}, f.sink.types())
}

func TestTimeoutRemainingAndExpiry(t *testing.T) {
	f := newFixture(t)
	viewer := f.addUser("bob", security.RoleUser)
	ctx := context.Background()

	require.NoError(t, f.coordinator.Timeout(ctx, f.room, f.author(f.owner), viewer.ID, 60))
	banned := f.broadcaster.named(EventUserBanned)
	require.Len(t, banned, 1)
	assert.Equal(t, 60, banned[0].event.Data.(UserBannedPayload).Duration)

	f.clock.Advance(10*time.Second + 500*time.Millisecond)
	_, err := f.coordinator.PostMessage(ctx, f.room, f.author(viewer), "hi")
	var timedOut *TimedOutError
	require.ErrorAs(t, err, &timedOut)
	assert.Equal(t, 49500*time.Millisecond, timedOut.Remaining)
	assert.Equal(t, "You are timed out for 50 more seconds", err.Error())

	f.clock.Advance(49*time.Second + 499*time.Millisecond)
	_, err = f.coordinator.PostMessage(ctx, f.room, f.author(viewer), "hi")
	require.ErrorAs(t, err, &timedOut)
	assert.Equal(t, "You are timed out for 1 more seconds", err.Error())

	f.clock.Advance(2 * time.Millisecond)
	_, err = f.coordinator.PostMessage(ctx, f.room, f.author(viewer), "back")
	assert.NoError(t, err)
}

func TestTimeoutDurationBounds(t *testing.T) {
	f := newFixture(t)
	viewer := f.addUser("bob", security.RoleUser)
	owner := f.author(f.owner)
	ctx := context.Background()

	assert.ErrorIs(t, f.coordinator.Timeout(ctx, f.room, owner, viewer.ID, -5), ErrInvalidDuration)
	assert.ErrorIs(t, f.coordinator.Timeout(ctx, f.room, owner, viewer.ID, 7*24*3600+1), ErrInvalidDuration)
	assert.NoError(t, f.coordinator.Timeout(ctx, f.room, owner, viewer.ID, 7*24*3600))
}

func TestModerationRequiresPrivilege(t *testing.T) {
	f := newFixture(t)
	viewer := f.addUser("bob", security.RoleUser)
	other := f.addUser("carol", security.RoleUser)
	ctx := context.Background()

	err := f.coordinator.Ban(ctx, f.room, f.author(viewer), other.ID, "")
	assert.ErrorIs(t, err, ErrNotAuthorized)
	err = f.coordinator.SetSlowMode(ctx, f.room, f.author(viewer), true, 10)
	assert.ErrorIs(t, err, ErrNotAuthorized)
	err = f.coordinator.DeleteMessage(ctx, f.room, f.author(viewer), "whatever")
	assert.ErrorIs(t, err, ErrNotAuthorized)

	assert.Empty(t, f.broadcaster.named(EventUserBanned))
	assert.Equal(t, []string{"suspicious_activity", "suspicious_activity", "suspicious_activity"}, f.sink.types())

	banned, err := f.store.IsBanned(ctx, f.owner.ID, other.ID)
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestChannelModeratorAndStaffMayModerate(t *testing.T) {
	f := newFixture(t)
	mod := f.addUser("mod", security.RoleUser)
	staff := f.addUser("staff", security.RoleModerator)
	viewer := f.addUser("bob", security.RoleUser)
	ctx := context.Background()

	require.NoError(t, f.store.AddModerator(ctx, f.owner.ID, mod.ID, f.owner.ID))

	assert.NoError(t, f.coordinator.Timeout(ctx, f.room, f.author(mod), viewer.ID, 30))
	assert.NoError(t, f.coordinator.Ban(ctx, f.room, f.author(staff), viewer.ID, ""))
}

func TestModerationTargetGuards(t *testing.T) {
	f := newFixture(t)
	admin := f.addUser("root", security.RoleAdmin)
	mod := f.addUser("mod", security.RoleUser)
	ctx := context.Background()
	require.NoError(t, f.store.AddModerator(ctx, f.owner.ID, mod.ID, f.owner.ID))

	assert.ErrorIs(t, f.coordinator.Ban(ctx, f.room, f.author(mod), mod.ID, ""), ErrCannotModerateSelf)
	assert.ErrorIs(t, f.coordinator.Ban(ctx, f.room, f.author(mod), f.owner.ID, ""), ErrProtectedTarget)
	assert.ErrorIs(t, f.coordinator.Timeout(ctx, f.room, f.author(mod), admin.ID, 60), ErrProtectedTarget)
	assert.ErrorIs(t, f.coordinator.Ban(ctx, f.room, f.author(mod), uuid.New(), ""), ErrUserNotFound)
}

func TestRoleIsRevalidatedPerAction(t *testing.T) {
	f := newFixture(t)
	staff := f.addUser("staff", security.RoleModerator)
	viewer := f.addUser("bob", security.RoleUser)
	ctx := context.Background()

	// the connection authenticated while staff
	cached := f.author(staff)

	demoted := *staff
	demoted.Role = security.RoleUser
	f.users.PutUser(&demoted)

	err := f.coordinator.Ban(ctx, f.room, cached, viewer.ID, "")
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestSlowMode(t *testing.T) {
	f := newFixture(t)
	viewer := f.author(f.addUser("bob", security.RoleUser))
	owner := f.author(f.owner)
	ctx := context.Background()

	assert.ErrorIs(t, f.coordinator.SetSlowMode(ctx, f.room, owner, true, 0), ErrInvalidDuration)
	assert.ErrorIs(t, f.coordinator.SetSlowMode(ctx, f.room, owner, true, 3601), ErrInvalidDuration)
	require.NoError(t, f.coordinator.SetSlowMode(ctx, f.room, owner, true, 10))

	updates := f.broadcaster.named(EventSlowModeUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, SlowModePayload{Enabled: true, Seconds: 10}, updates[0].event.Data)

	_, err := f.coordinator.PostMessage(ctx, f.room, viewer, "first")
	require.NoError(t, err)

	f.clock.Advance(3 * time.Second)
	_, err = f.coordinator.PostMessage(ctx, f.room, viewer, "second")
	var slow *SlowModeError
	require.ErrorAs(t, err, &slow)
	assert.Equal(t, 7*time.Second, slow.Remaining)

	// privileged authors are exempt
	_, err = f.coordinator.PostMessage(ctx, f.room, owner, "one")
	require.NoError(t, err)
	_, err = f.coordinator.PostMessage(ctx, f.room, owner, "two")
	require.NoError(t, err)

	f.clock.Advance(7 * time.Second)
	_, err = f.coordinator.PostMessage(ctx, f.room, viewer, "second")
	assert.NoError(t, err)

	require.NoError(t, f.coordinator.SetSlowMode(ctx, f.room, owner, false, 99))
	enabled, seconds, err := f.coordinator.SlowMode(f.room)
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.Equal(t, 0, seconds)

	_, err = f.coordinator.PostMessage(ctx, f.room, viewer, "third")
	assert.NoError(t, err)
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t)
	viewer := f.author(f.addUser("bob", security.RoleUser))
	ctx := context.Background()

	msg, err := f.coordinator.PostMessage(ctx, f.room, viewer, "oops")
	require.NoError(t, err)

	require.NoError(t, f.coordinator.DeleteMessage(ctx, f.room, f.author(f.owner), msg.ID))
	history, err := f.coordinator.History(f.room)
	require.NoError(t, err)
	assert.Empty(t, history)

	// unknown ids still broadcast so clients that saw it can hide it
	require.NoError(t, f.coordinator.DeleteMessage(ctx, f.room, f.author(f.owner), "gone"))
	deleted := f.broadcaster.named(EventMessageDeleted)
	require.Len(t, deleted, 2)
	assert.Equal(t, MessageDeletedPayload{MessageID: msg.ID}, deleted[0].event.Data)
}

func TestCloseRoom(t *testing.T) {
	f := newFixture(t)

	assert.True(t, f.coordinator.CloseRoom(f.room, stream.EndReasonUnpublished))
	assert.False(t, f.coordinator.CloseRoom(f.room, stream.EndReasonUnpublished))

	ended := f.broadcaster.named(EventStreamEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, StreamEndedPayload{StreamID: f.room, Reason: stream.EndReasonUnpublished}, ended[0].event.Data)

	_, err := f.coordinator.History(f.room)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestOpenRoomIsIdempotent(t *testing.T) {
	f := newFixture(t)
	first, ok := f.coordinator.Room(f.room)
	require.True(t, ok)
	second := f.coordinator.OpenRoom(f.room, Channel{OwnerID: uuid.New(), OwnerName: "someone"})
	assert.Same(t, first, second)
	assert.Equal(t, f.owner.ID, second.Channel.OwnerID)
}

func TestRemoteStateIsAppliedWithoutBroadcast(t *testing.T) {
	f := newFixture(t)

	f.coordinator.Remember(f.room, &ChatMessage{ID: "remote-1", Message: "from elsewhere"})
	f.coordinator.ApplySlowMode(f.room, true, 30)
	history, err := f.coordinator.History(f.room)
	require.NoError(t, err)
	require.Len(t, history, 1)

	f.coordinator.Forget(f.room, "remote-1")
	history, err = f.coordinator.History(f.room)
	require.NoError(t, err)
	assert.Empty(t, history)

	enabled, seconds, err := f.coordinator.SlowMode(f.room)
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, 30, seconds)

	assert.Empty(t, f.broadcaster.events)
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	viewer := f.addUser("bob", security.RoleUser)
	ctx := context.Background()

	require.NoError(t, f.coordinator.Timeout(ctx, f.room, f.author(f.owner), viewer.ID, 5))

	removed, err := f.coordinator.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)

	f.clock.Advance(6 * time.Second)
	removed, err = f.coordinator.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestConcurrentPostsStayOrdered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		author := f.author(f.addUser(fmt.Sprintf("user%d", w), security.RoleUser))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := f.coordinator.PostMessage(ctx, f.room, author, "msg")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	history, err := f.coordinator.History(f.room)
	require.NoError(t, err)
	assert.Len(t, history, DefaultHistorySize)

	sent := f.broadcaster.named(EventChatMessage)
	require.Len(t, sent, 400)
	tail := sent[len(sent)-DefaultHistorySize:]
	for i, e := range tail {
		assert.Same(t, history[i], e.event.Data)
	}
}

// lateTimeoutStore issues a timeout right after the post's own timeout
// lookup, so the post is still in flight when it lands.
type lateTimeoutStore struct {
	*MemoryModerationStore
	once       sync.Once
	afterCheck func()
}

func (s *lateTimeoutStore) ActiveTimeout(ctx context.Context, channelID, userID uuid.UUID, now time.Time) (*TimeoutEntry, error) {
	entry, err := s.MemoryModerationStore.ActiveTimeout(ctx, channelID, userID, now)
	if s.afterCheck != nil {
		s.once.Do(s.afterCheck)
	}
	return entry, err
}

func TestTimeoutDuringPostIsEnforced(t *testing.T) {
	f := newFixture(t)
	viewer := f.addUser("bob", security.RoleUser)
	ctx := context.Background()

	store := &lateTimeoutStore{MemoryModerationStore: f.store}
	store.afterCheck = func() {
		require.NoError(t, f.coordinator.Timeout(ctx, f.room, f.author(f.owner), viewer.ID, 30))
	}
	f.coordinator.store = store

	_, err := f.coordinator.PostMessage(ctx, f.room, f.author(viewer), "one last word")
	var timedOut *TimedOutError
	require.ErrorAs(t, err, &timedOut)
	assert.Equal(t, 30*time.Second, timedOut.Remaining)
	assert.Empty(t, f.broadcaster.named(EventChatMessage))

	history, err := f.coordinator.History(f.room)
	require.NoError(t, err)
	assert.Empty(t, history)

	require.NoError(t, f.coordinator.Unban(ctx, f.room, f.author(f.owner), viewer.ID))
	_, err = f.coordinator.PostMessage(ctx, f.room, f.author(viewer), "back again")
	assert.NoError(t, err)
}
