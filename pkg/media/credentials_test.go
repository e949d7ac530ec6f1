package media

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudoplatform/securecomms/pkg/entities"
)

type fakeSource struct {
	roomCalls   int
	publicCalls int
	lifetime    time.Duration
	now         time.Time
	err         error
}

func (f *fakeSource) RoomMediaCredential(_ context.Context, handleID entities.HandleID, roomID string, forWrite bool) (*entities.RoomMediaCredential, error) {
	f.roomCalls++
	if f.err != nil {
		return nil, f.err
	}
	return &entities.RoomMediaCredential{
		MediaCredential: entities.MediaCredential{
			AccessKeyID: string(handleID),
			KeyPrefix:   roomID + "/",
			Expiry:      f.now.Add(f.lifetime),
		},
		RoomID: roomID,
	}, nil
}

func (f *fakeSource) PublicMediaCredential(_ context.Context, handleID entities.HandleID, forWrite bool) (*entities.MediaCredential, error) {
	f.publicCalls++
	if f.err != nil {
		return nil, f.err
	}
	return &entities.MediaCredential{AccessKeyID: string(handleID), Expiry: f.now.Add(f.lifetime)}, nil
}

func newTestCache(t *testing.T, source *fakeSource) *CredentialCache {
	t.Helper()
	cc, err := NewCredentialCache(source, 0, zerolog.Nop())
	require.NoError(t, err)
	cc.now = func() time.Time { return source.now }
	return cc
}

func TestCredentialCacheReusesLongLivedCredential(t *testing.T) {
	source := &fakeSource{now: time.Now(), lifetime: 200 * time.Second}
	cc := newTestCache(t, source)
	ctx := context.Background()

	first, err := cc.RoomCredential(ctx, "alice", "!room", false)
	require.NoError(t, err)
	second, err := cc.RoomCredential(ctx, "alice", "!room", false)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, source.roomCalls)
}

func TestCredentialCacheRefetchesWithinBuffer(t *testing.T) {
	source := &fakeSource{now: time.Now(), lifetime: 60 * time.Second}
	cc := newTestCache(t, source)
	ctx := context.Background()

	_, err := cc.RoomCredential(ctx, "alice", "!room", true)
	require.NoError(t, err)
	_, err = cc.RoomCredential(ctx, "alice", "!room", true)
	require.NoError(t, err)
	assert.Equal(t, 2, source.roomCalls)
}

func TestCredentialCacheExpiresOverTime(t *testing.T) {
	start := time.Now()
	source := &fakeSource{now: start, lifetime: 200 * time.Second}
	cc := newTestCache(t, source)
	ctx := context.Background()

	_, err := cc.RoomCredential(ctx, "alice", "!room", false)
	require.NoError(t, err)
	source.now = start.Add(80 * time.Second)
	_, err = cc.RoomCredential(ctx, "alice", "!room", false)
	require.NoError(t, err)
	assert.Equal(t, 2, source.roomCalls)
}

func TestCredentialCacheKeys(t *testing.T) {
	source := &fakeSource{now: time.Now(), lifetime: time.Hour}
	cc := newTestCache(t, source)
	ctx := context.Background()

	for _, call := range []struct {
		handle   entities.HandleID
		room     string
		forWrite bool
	}{
		{"alice", "!a", false},
		{"alice", "!a", true},
		{"alice", "!b", false},
		{"bob", "!a", false},
		{"alice", "!a", false},
	} {
		_, err := cc.RoomCredential(ctx, call.handle, call.room, call.forWrite)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, source.roomCalls)

	_, err := cc.PublicCredential(ctx, "alice", false)
	require.NoError(t, err)
	_, err = cc.PublicCredential(ctx, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, 1, source.publicCalls)

	cc.Forget("alice")
	_, err = cc.RoomCredential(ctx, "alice", "!a", false)
	require.NoError(t, err)
	_, err = cc.RoomCredential(ctx, "bob", "!a", false)
	require.NoError(t, err)
	assert.Equal(t, 5, source.roomCalls)
}

func TestCredentialCacheError(t *testing.T) {
	boom := errors.New("boom")
	source := &fakeSource{now: time.Now(), err: boom}
	cc := newTestCache(t, source)

	_, err := cc.RoomCredential(context.Background(), "alice", "!room", false)
	assert.ErrorIs(t, err, boom)
}
