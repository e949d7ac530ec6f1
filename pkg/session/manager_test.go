package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"

	"github.com/sudoplatform/securecomms/pkg/backend"
	"github.com/sudoplatform/securecomms/pkg/entities"
	"github.com/sudoplatform/securecomms/pkg/matrix"
)

type optionsRecorder struct {
	lock     sync.Mutex
	calls    map[entities.HandleID]int
	provider matrix.CryptoProvider
}

func (r *optionsRecorder) options(_ context.Context, handleID entities.HandleID) (matrix.Options, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.calls[handleID]++
	if handleID == "broken" {
		return matrix.Options{}, errors.New("no credentials")
	}
	return matrix.Options{
		AccessToken: "token-" + string(handleID),
		Claims: matrix.Claims{
			Subject:    string(handleID),
			DeviceID:   "DEVICE",
			Homeserver: "example.org",
		},
		HomeserverURL:  "http://127.0.0.1:1",
		Backend:        &backend.Static{AccessToken: "fresh"},
		CryptoProvider: r.provider,
	}, nil
}

type stubCrypto struct {
	matrix.CryptoAPI
}

func (stubCrypto) OnDeviceTrustChanged(func(matrix.DeviceTrust)) func() {
	return func() {}
}

func newTestManager() (*Manager, *optionsRecorder) {
	rec := &optionsRecorder{calls: make(map[entities.HandleID]int)}
	return NewManager(rec.options, zerolog.Nop()), rec
}

func TestGetOrCreateCaches(t *testing.T) {
	mgr, rec := newTestManager()
	ctx := context.Background()

	first, err := mgr.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	second, err := mgr.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, rec.calls["alice"])
	assert.Equal(t, entities.HandleID("alice"), first.HandleID)
	assert.Equal(t, "@alice:example.org", first.UserID().String())

	other, err := mgr.GetOrCreate(ctx, "bob")
	require.NoError(t, err)
	assert.NotSame(t, first, other)
	assert.Equal(t, []entities.HandleID{"alice", "bob"}, mgr.Handles())
	assert.Same(t, first, mgr.Get("alice"))
	assert.Nil(t, mgr.Get("carol"))
}

func TestGetOrCreateSignsIn(t *testing.T) {
	mgr, _ := newTestManager()
	client, err := mgr.GetOrCreate(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "fresh", client.AccessToken())
}

func TestGetOrCreateOptionsError(t *testing.T) {
	mgr, _ := newTestManager()
	_, err := mgr.GetOrCreate(context.Background(), "broken")
	assert.ErrorContains(t, err, "no credentials")
	assert.Empty(t, mgr.Handles())
}

func TestRemove(t *testing.T) {
	mgr, rec := newTestManager()
	ctx := context.Background()
	first, err := mgr.GetOrCreate(ctx, "alice")
	require.NoError(t, err)

	assert.True(t, mgr.Remove(ctx, "alice"))
	assert.False(t, mgr.Remove(ctx, "alice"))
	assert.Nil(t, mgr.Get("alice"))

	recreated, err := mgr.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	assert.NotSame(t, first, recreated)
	assert.Equal(t, 2, rec.calls["alice"])
}

func TestClose(t *testing.T) {
	mgr, _ := newTestManager()
	ctx := context.Background()
	for _, handleID := range []entities.HandleID{"alice", "bob", "carol"} {
		_, err := mgr.GetOrCreate(ctx, handleID)
		require.NoError(t, err)
	}
	mgr.Close(ctx)
	assert.Empty(t, mgr.Handles())
	_, err := mgr.GetOrCreate(ctx, "alice")
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestGetOrCreateInitsCrypto(t *testing.T) {
	mgr, rec := newTestManager()
	var initialized []string
	rec.provider = func(_ context.Context, cli *mautrix.Client) (matrix.CryptoAPI, error) {
		initialized = append(initialized, cli.UserID.String())
		if cli.UserID.Localpart() == "broken-crypto" {
			return nil, errors.New("bad pickle key")
		}
		return stubCrypto{}, nil
	}
	ctx := context.Background()

	client, err := mgr.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	sub, err := client.OnDeviceTrustChanged(func(matrix.DeviceTrust) {})
	require.NoError(t, err)
	sub.Close()

	_, err = mgr.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"@alice:example.org"}, initialized)

	_, err = mgr.GetOrCreate(ctx, "broken-crypto")
	assert.ErrorContains(t, err, "bad pickle key")
	assert.Equal(t, []entities.HandleID{"alice"}, mgr.Handles())
}

func TestGetOrCreateWithoutCrypto(t *testing.T) {
	mgr, _ := newTestManager()
	client, err := mgr.GetOrCreate(context.Background(), "alice")
	require.NoError(t, err)
	_, err = client.OnDeviceTrustChanged(func(matrix.DeviceTrust) {})
	assert.ErrorIs(t, err, matrix.ErrCryptoUnavailable)
}
