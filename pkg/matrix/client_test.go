package matrix

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudoplatform/securecomms/pkg/backend"
	"github.com/sudoplatform/securecomms/pkg/entities"
)

func TestParseTokenClaims(t *testing.T) {
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"Alice","device_id":"DEV1","homeserver":"example.org"}`))
	claims, err := ParseTokenClaims("header." + payload + ".signature")
	require.NoError(t, err)
	assert.Equal(t, "Alice", claims.Subject)
	assert.EqualValues(t, "DEV1", claims.DeviceID)
	assert.Equal(t, ownUserID, claims.UserID())

	_, err = ParseTokenClaims("not-a-jwt")
	assert.Error(t, err)

	missing := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"alice"}`))
	_, err = ParseTokenClaims("header." + missing + ".signature")
	assert.Error(t, err)
}

func TestNewClientRequiresToken(t *testing.T) {
	_, err := NewClient(Options{Claims: Claims{Subject: "alice", Homeserver: "example.org"}})
	assert.Error(t, err)
}

func TestAuthTransportHeaders(t *testing.T) {
	client, hs := newTestClient(t, func(opts *Options) {
		opts.UserAgent = "securecomms-test/1.0"
	})
	hs.handleJSON(http.MethodGet, "/v3/account/whoami", http.StatusOK, map[string]any{
		"user_id":   ownUserID,
		"device_id": "DEVICE",
	})

	resp, err := client.Whoami(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ownUserID, resp.UserID)

	client.UpdateAccessToken("rotated-token")
	_, err = client.Whoami(context.Background())
	require.NoError(t, err)

	reqs := hs.requestsTo(http.MethodGet, "/v3/account/whoami")
	require.Len(t, reqs, 2)
	assert.Equal(t, "Bearer initial-token", reqs[0].Header.Get("Authorization"))
	assert.Equal(t, "Bearer rotated-token", reqs[1].Header.Get("Authorization"))
	assert.Equal(t, "securecomms-test/1.0", reqs[0].Header.Get("User-Agent"))
}

func TestUpdateAccessTokenWhileRequesting(t *testing.T) {
	client, hs := newTestClient(t)
	hs.handleJSON(http.MethodGet, "/v3/account/whoami", http.StatusOK, map[string]any{"user_id": ownUserID})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			client.UpdateAccessToken(fmt.Sprintf("token-%d", i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_, err := client.Whoami(ctx)
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	assert.Equal(t, "initial-token", client.Protocol().AccessToken)
	_, err := client.Whoami(ctx)
	require.NoError(t, err)
	reqs := hs.requestsTo(http.MethodGet, "/v3/account/whoami")
	require.Len(t, reqs, 21)
	assert.Equal(t, "Bearer token-19", reqs[20].Header.Get("Authorization"))
}

type failingBackend struct {
	backend.Static
	err error
}

func (f *failingBackend) SignIn(context.Context, entities.HandleID) (*backend.Session, error) {
	return nil, f.err
}

func (f *failingBackend) SignOut(context.Context, entities.HandleID) error {
	return f.err
}

func TestSignInSwapsToken(t *testing.T) {
	client, hs := newTestClient(t, func(opts *Options) {
		opts.Backend = &backend.Static{AccessToken: "backend-token"}
	})
	hs.handleJSON(http.MethodGet, "/v3/account/whoami", http.StatusOK, map[string]any{"user_id": ownUserID})

	client.SignIn(context.Background())
	_, err := client.Whoami(context.Background())
	require.NoError(t, err)
	reqs := hs.requestsTo(http.MethodGet, "/v3/account/whoami")
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer backend-token", reqs[0].Header.Get("Authorization"))
}

func TestSignInFailureIsSwallowed(t *testing.T) {
	client, hs := newTestClient(t, func(opts *Options) {
		opts.Backend = &failingBackend{err: errors.New("backend down")}
	})
	hs.handleJSON(http.MethodGet, "/v3/account/whoami", http.StatusOK, map[string]any{"user_id": ownUserID})

	client.SignIn(context.Background())
	client.SignOut(context.Background())
	_, err := client.Whoami(context.Background())
	require.NoError(t, err)
	reqs := hs.requestsTo(http.MethodGet, "/v3/account/whoami")
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer initial-token", reqs[0].Header.Get("Authorization"))
}

func TestFailWrapsWithOperation(t *testing.T) {
	client, hs := newTestClient(t)
	hs.handleJSON(http.MethodGet, "/v3/account/whoami", http.StatusInternalServerError, map[string]any{
		"errcode": "M_UNKNOWN",
		"error":   "boom",
	})
	_, err := client.Whoami(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to whoami")
}
