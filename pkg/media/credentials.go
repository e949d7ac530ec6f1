// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package media handles object storage access for message attachments: the
// short-lived credentials issued by the backend and the S3 transfers made
// with them.
package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/sudoplatform/securecomms/pkg/entities"
)

const defaultCacheSize = 256

// CredentialSource issues media credentials. backend.Service satisfies it.
type CredentialSource interface {
	RoomMediaCredential(ctx context.Context, handleID entities.HandleID, roomID string, forWrite bool) (*entities.RoomMediaCredential, error)
	PublicMediaCredential(ctx context.Context, handleID entities.HandleID, forWrite bool) (*entities.MediaCredential, error)
}

type credentialKey struct {
	handleID entities.HandleID
	forWrite bool
	// roomID is empty for public media credentials.
	roomID string
}

// CredentialCache hands out cached credentials while they are still usable
// (see entities.MediaCredential.UsableAt) and fetches fresh ones otherwise.
type CredentialCache struct {
	source CredentialSource
	cache  *lru.Cache
	log    zerolog.Logger
	// fetchLock serializes fetches so concurrent callers for the same key
	// share one backend round trip.
	fetchLock sync.Mutex

	now func() time.Time
}

func NewCredentialCache(source CredentialSource, size int, log zerolog.Logger) (*CredentialCache, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential cache: %w", err)
	}
	return &CredentialCache{
		source: source,
		cache:  cache,
		log:    log.With().Str("component", "media_credentials").Logger(),
		now:    time.Now,
	}, nil
}

func (cc *CredentialCache) cached(key credentialKey) *entities.RoomMediaCredential {
	val, ok := cc.cache.Get(key)
	if !ok {
		return nil
	}
	cred := val.(*entities.RoomMediaCredential)
	if !cred.UsableAt(cc.now()) {
		return nil
	}
	return cred
}

// RoomCredential returns a credential for the media of one room.
func (cc *CredentialCache) RoomCredential(ctx context.Context, handleID entities.HandleID, roomID string, forWrite bool) (*entities.RoomMediaCredential, error) {
	key := credentialKey{handleID: handleID, forWrite: forWrite, roomID: roomID}
	if cred := cc.cached(key); cred != nil {
		return cred, nil
	}
	cc.fetchLock.Lock()
	defer cc.fetchLock.Unlock()
	if cred := cc.cached(key); cred != nil {
		return cred, nil
	}
	cred, err := cc.source.RoomMediaCredential(ctx, handleID, roomID, forWrite)
	if err != nil {
		return nil, fmt.Errorf("failed to get room media credential: %w", err)
	}
	cc.store(key, cred)
	return cred, nil
}

// PublicCredential returns a credential for public media such as avatars.
func (cc *CredentialCache) PublicCredential(ctx context.Context, handleID entities.HandleID, forWrite bool) (*entities.MediaCredential, error) {
	key := credentialKey{handleID: handleID, forWrite: forWrite}
	if cred := cc.cached(key); cred != nil {
		return &cred.MediaCredential, nil
	}
	cc.fetchLock.Lock()
	defer cc.fetchLock.Unlock()
	if cred := cc.cached(key); cred != nil {
		return &cred.MediaCredential, nil
	}
	cred, err := cc.source.PublicMediaCredential(ctx, handleID, forWrite)
	if err != nil {
		return nil, fmt.Errorf("failed to get public media credential: %w", err)
	}
	cc.store(key, &entities.RoomMediaCredential{MediaCredential: *cred})
	return cred, nil
}

func (cc *CredentialCache) store(key credentialKey, cred *entities.RoomMediaCredential) {
	if !cred.UsableAt(cc.now()) {
		cc.log.Warn().
			Str("handle_id", string(key.handleID)).
			Time("expiry", cred.Expiry).
			Msg("Backend issued a media credential that is already within the expiry buffer")
	}
	cc.cache.Add(key, cred)
}

// Forget drops every cached credential of a handle, e.g. on sign out.
func (cc *CredentialCache) Forget(handleID entities.HandleID) {
	for _, key := range cc.cache.Keys() {
		if ck, ok := key.(credentialKey); ok && ck.handleID == handleID {
			cc.cache.Remove(key)
		}
	}
}
