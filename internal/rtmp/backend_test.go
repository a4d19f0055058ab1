package rtmp

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"livecast/internal/security"
	"livecast/internal/stream"
	utils "livecast/pkg/utils"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInternalToken = "internal-test-token"

type backendFixture struct {
	url     string
	service *stream.StreamService
	alice   *stream.User
}

// newBackendFixture serves the real internal stream endpoints.
func newBackendFixture(t *testing.T) *backendFixture {
	t.Helper()
	utils.InitDiscard()

	store := stream.NewMemoryStore()
	key := "sk_alice_0123456789"
	alice := &stream.User{
		ID:        uuid.New(),
		Username:  "alice",
		Role:      security.RoleUser,
		StreamKey: &key,
		CanStream: true,
	}
	store.PutUser(alice)
	service := stream.NewStreamService(store, "/hls")

	tokens := security.NewTokenManager(&security.Config{
		JWTSecret: "0123456789abcdef0123456789abcdef",
		Issuer:    "livecast-test",
	})
	e := echo.New()
	e.HTTPErrorHandler = utils.CustomHTTPErrorHandler
	stream.NewHandler(service, nil).RegisterRoutes(e.Group("/api/v1"), tokens, testInternalToken)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return &backendFixture{url: srv.URL, service: service, alice: alice}
}

func TestHTTPBackendLifecycle(t *testing.T) {
	f := newBackendFixture(t)
	backend := NewHTTPBackend(f.url, testInternalToken, 2*time.Second)
	ctx := context.Background()

	result, err := backend.Validate(ctx, *f.alice.StreamKey)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, f.alice.ID.String(), result.UserID)
	assert.Equal(t, "alice", result.Username)

	require.NoError(t, backend.NotifyLive(ctx, *f.alice.StreamKey, result.UserID))
	// repeated live notifications reuse the session
	require.NoError(t, backend.NotifyLive(ctx, *f.alice.StreamKey, result.UserID))
	live, err := f.service.GetLiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, f.alice.ID, live[0].UserID)

	require.NoError(t, backend.NotifyEnded(ctx, *f.alice.StreamKey, result.UserID))
	live, err = f.service.GetLiveSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestHTTPBackendUnknownKey(t *testing.T) {
	f := newBackendFixture(t)
	backend := NewHTTPBackend(f.url, testInternalToken, 2*time.Second)
	ctx := context.Background()

	result, err := backend.Validate(ctx, "sk_nobody")
	require.NoError(t, err)
	assert.False(t, result.Valid)

	err = backend.NotifyLive(ctx, "sk_nobody", "")
	assert.ErrorIs(t, err, ErrKeyRejected)
}

func TestHTTPBackendWrongInternalToken(t *testing.T) {
	f := newBackendFixture(t)
	backend := NewHTTPBackend(f.url, "wrong-token", 2*time.Second)

	_, err := backend.Validate(context.Background(), *f.alice.StreamKey)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestHTTPBackendUnreachable(t *testing.T) {
	utils.InitDiscard()
	backend := NewHTTPBackend("http://127.0.0.1:1", testInternalToken, 500*time.Millisecond)
	_, err := backend.Validate(context.Background(), "sk_any")
	assert.Error(t, err)
}

func TestBridgeAgainstHTTPBackend(t *testing.T) {
	f := newBackendFixture(t)
	bridge := NewBridge(NewHTTPBackend(f.url, testInternalToken, 2*time.Second), nil, BridgeConfig{
		PollAttempts: 5,
		PollInterval: 5 * time.Millisecond,
	})
	ctx := context.Background()
	key := *f.alice.StreamKey

	_, err := bridge.OnPublishAttempt(ctx, key)
	require.NoError(t, err)
	require.NoError(t, bridge.OnPublishConfirmed(ctx, key))

	live, err := f.service.GetLiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "/hls/alice/index.m3u8", live[0].HLSURL)

	bridge.OnUnpublish(ctx, key)
	live, err = f.service.GetLiveSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, live)
}
