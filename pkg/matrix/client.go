// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package matrix is the session and messaging orchestration layer. A Client
// owns one handle's protocol session and exposes messaging, room, poll and
// crypto operations in terms of the entities package.
package matrix

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/backend"
	"github.com/sudoplatform/securecomms/pkg/entities"
	"github.com/sudoplatform/securecomms/pkg/media"
	"github.com/sudoplatform/securecomms/pkg/transformer"
)

const (
	defaultRoomListSize  = 100
	defaultTimelineLimit = 20
)

// Claims is the decoded claim set of an access token.
type Claims struct {
	Subject    string
	DeviceID   id.DeviceID
	Homeserver string
}

// UserID returns the protocol user ID the claims identify.
func (c Claims) UserID() id.UserID {
	return id.NewUserID(strings.ToLower(c.Subject), c.Homeserver)
}

// ParseTokenClaims decodes the payload of a JWT access token without
// verifying it. The homeserver verifies the token on every request.
func ParseTokenClaims(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("access token is not a JWT")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to decode token payload: %w", err)
	}
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("token payload is not JSON")
	}
	claims := &Claims{
		Subject:    gjson.GetBytes(payload, "sub").String(),
		DeviceID:   id.DeviceID(gjson.GetBytes(payload, "device_id").String()),
		Homeserver: gjson.GetBytes(payload, "homeserver").String(),
	}
	if claims.Subject == "" || claims.Homeserver == "" {
		return nil, fmt.Errorf("token is missing the subject or homeserver claim")
	}
	return claims, nil
}

// MediaOptions selects where attachments are stored.
type MediaOptions struct {
	Bucket       string
	PublicBucket string
	Region       string
}

// Options configure a Client. AccessToken and Claims are required.
type Options struct {
	HandleID    entities.HandleID
	AccessToken string
	Claims      Claims
	// HomeserverURL defaults to https://<Claims.Homeserver>.
	HomeserverURL string
	// UserAgent overrides the User-Agent header. Set it when running outside
	// a browser.
	UserAgent string

	Store  Store
	Crypto CryptoAPI
	// CryptoProvider builds Crypto in InitCrypto when Crypto isn't set.
	CryptoProvider CryptoProvider
	Backend        backend.Service
	Credentials    *media.CredentialCache
	ObjectStore    media.ObjectStore
	Media          MediaOptions

	RoomListSize  int
	TimelineLimit int
	HTTPClient    *http.Client
	Log           zerolog.Logger
}

// Client is one handle's protocol session. Create it with NewClient; no
// network traffic happens until SignIn or StartSyncing.
type Client struct {
	HandleID entities.HandleID

	cli            *mautrix.Client
	syncer         *mautrix.DefaultSyncer
	log            zerolog.Logger
	store          Store
	crypto         CryptoAPI
	cryptoProvider CryptoProvider
	backend        backend.Service
	transformer    *transformer.Transformer
	credentials    *media.CredentialCache
	objects        media.ObjectStore
	media          MediaOptions

	roomListSize  int
	timelineLimit int

	tokenLock   sync.RWMutex
	accessToken string

	syncLock     sync.Mutex
	syncStrategy SyncStrategy
	stopSync     context.CancelFunc
	syncDone     chan struct{}

	subscriptionsLock sync.Mutex
	subscriptions     map[*Subscription]struct{}
}

// authTransport attaches the current access token, and the user agent
// override if any, to every request.
type authTransport struct {
	base      http.RoundTripper
	token     func() string
	userAgent string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token())
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}

func NewClient(opts Options) (*Client, error) {
	if opts.AccessToken == "" {
		return nil, fmt.Errorf("missing access token")
	}
	userID := opts.Claims.UserID()
	homeserverURL := opts.HomeserverURL
	if homeserverURL == "" {
		homeserverURL = "https://" + opts.Claims.Homeserver
	}
	cli, err := mautrix.NewClient(homeserverURL, userID, opts.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create protocol client: %w", err)
	}
	handleID := opts.HandleID
	if handleID == "" {
		handleID = entities.HandleID(opts.Claims.Subject)
	}
	c := &Client{
		HandleID:       handleID,
		cli:            cli,
		log:            opts.Log.With().Str("component", "matrix").Str("handle_id", string(handleID)).Logger(),
		store:          opts.Store,
		crypto:         opts.Crypto,
		cryptoProvider: opts.CryptoProvider,
		backend:        opts.Backend,
		transformer:    transformer.New(userID),
		credentials:    opts.Credentials,
		objects:        opts.ObjectStore,
		media:          opts.Media,
		roomListSize:   opts.RoomListSize,
		timelineLimit:  opts.TimelineLimit,
		accessToken:    opts.AccessToken,
		subscriptions:  make(map[*Subscription]struct{}),
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	if c.roomListSize <= 0 {
		c.roomListSize = defaultRoomListSize
	}
	if c.timelineLimit <= 0 {
		c.timelineLimit = defaultTimelineLimit
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 180 * time.Second}
	}
	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *httpClient
	wrapped.Transport = &authTransport{base: base, token: c.currentToken, userAgent: opts.UserAgent}
	cli.Client = &wrapped
	if opts.UserAgent != "" {
		cli.UserAgent = opts.UserAgent
	}
	cli.DeviceID = opts.Claims.DeviceID
	cli.Log = c.log
	cli.Store = c.store
	cli.StateStore = mautrix.NewMemoryStateStore()
	c.syncer = mautrix.NewDefaultSyncer()
	c.syncer.OnEvent(cli.StateStoreSyncHandler)
	c.syncer.OnEvent(c.handleSyncEvent)
	cli.Syncer = c.syncer
	return c, nil
}

// InitCrypto sets up end-to-end encryption with the configured provider. It
// must run before the client is shared between goroutines, usually right
// after SignIn. Without a provider, or when crypto is already set, it does
// nothing.
func (c *Client) InitCrypto(ctx context.Context) error {
	if c.crypto != nil || c.cryptoProvider == nil {
		return nil
	}
	api, err := c.cryptoProvider(ctx, c.cli)
	if err != nil {
		return c.cryptoFail("init_crypto", err)
	}
	c.crypto = api
	c.log.Debug().Msg("Initialized end-to-end encryption")
	return nil
}

func (c *Client) currentToken() string {
	c.tokenLock.RLock()
	defer c.tokenLock.RUnlock()
	return c.accessToken
}

// setAccessToken swaps the token authTransport attaches. cli.AccessToken is
// read on every request without a lock and keeps the construction token.
func (c *Client) setAccessToken(token string) {
	c.tokenLock.Lock()
	c.accessToken = token
	c.tokenLock.Unlock()
}

// AccessToken is the token sent with requests.
func (c *Client) AccessToken() string {
	return c.currentToken()
}

// UserID is the protocol user ID of the session.
func (c *Client) UserID() id.UserID {
	return c.cli.UserID
}

func (c *Client) DeviceID() id.DeviceID {
	return c.cli.DeviceID
}

// Protocol exposes the underlying protocol client for operations this
// package doesn't wrap.
func (c *Client) Protocol() *mautrix.Client {
	return c.cli
}

// SignIn exchanges the handle's credentials for a fresh access token with the
// backend. Failures are logged and otherwise ignored: the client keeps using
// its current token.
func (c *Client) SignIn(ctx context.Context) {
	if c.backend == nil {
		return
	}
	sess, err := c.backend.SignIn(ctx, c.HandleID)
	if err != nil {
		c.log.Err(err).Msg("Failed to sign in")
		operationErrorsTotal.WithLabelValues("sign_in").Inc()
		return
	}
	c.setAccessToken(sess.AccessToken)
	c.log.Debug().Time("expiry", sess.Expiry).Msg("Signed in")
}

// SignOut revokes the session with the backend. Like SignIn, failures are
// only logged.
func (c *Client) SignOut(ctx context.Context) {
	if c.credentials != nil {
		c.credentials.Forget(c.HandleID)
	}
	if c.backend == nil {
		return
	}
	if err := c.backend.SignOut(ctx, c.HandleID); err != nil {
		c.log.Err(err).Msg("Failed to sign out")
		operationErrorsTotal.WithLabelValues("sign_out").Inc()
	}
}

// UpdateAccessToken swaps the access token used for future requests.
func (c *Client) UpdateAccessToken(token string) {
	c.setAccessToken(token)
}

// Whoami asks the homeserver who the current access token belongs to.
func (c *Client) Whoami(ctx context.Context) (*mautrix.RespWhoami, error) {
	resp, err := c.cli.Whoami(ctx)
	if err != nil {
		return nil, c.fail("whoami", err)
	}
	return resp, nil
}

// Close stops syncing, removes every subscription and releases the crypto
// state if it holds any resources.
func (c *Client) Close() {
	c.StopSyncing()
	c.subscriptionsLock.Lock()
	subs := make([]*Subscription, 0, len(c.subscriptions))
	for sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	c.subscriptionsLock.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
	if closer, ok := c.crypto.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.log.Warn().Err(err).Msg("Failed to close crypto")
		}
	}
}

// fail logs a failed operation and wraps the error with a fixed message.
func (c *Client) fail(op string, err error) error {
	msg := strings.ReplaceAll(op, "_", " ")
	c.log.Err(err).Str("operation", op).Msg("Failed to " + msg)
	operationErrorsTotal.WithLabelValues(op).Inc()
	return fmt.Errorf("failed to %s: %w", msg, err)
}
