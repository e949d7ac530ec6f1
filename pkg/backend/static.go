// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package backend

import (
	"context"
	"time"

	"github.com/sudoplatform/securecomms/pkg/entities"
)

// Static serves a fixed access token and fixed long-lived storage keys. It is
// used by the CLI against homeservers and buckets the operator manages.
type Static struct {
	AccessToken     string
	AccessKeyID     string
	SecretAccessKey string
	KeyPrefix       string
	// Lifetime of the credentials handed out. Defaults to one hour.
	Lifetime time.Duration

	now func() time.Time
}

var _ Service = (*Static)(nil)

func (s *Static) expiry() time.Time {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	lifetime := s.Lifetime
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	return now().Add(lifetime)
}

func (s *Static) SignIn(_ context.Context, _ entities.HandleID) (*Session, error) {
	if s.AccessToken == "" {
		return nil, ErrNotSupported
	}
	return &Session{AccessToken: s.AccessToken, Expiry: s.expiry()}, nil
}

func (s *Static) SignOut(_ context.Context, _ entities.HandleID) error {
	return nil
}

func (s *Static) credential(prefix string) (*entities.MediaCredential, error) {
	if s.AccessKeyID == "" {
		return nil, ErrNotSupported
	}
	return &entities.MediaCredential{
		AccessKeyID:     s.AccessKeyID,
		SecretAccessKey: s.SecretAccessKey,
		KeyPrefix:       prefix,
		Expiry:          s.expiry(),
	}, nil
}

func (s *Static) RoomMediaCredential(_ context.Context, _ entities.HandleID, roomID string, _ bool) (*entities.RoomMediaCredential, error) {
	cred, err := s.credential(s.KeyPrefix + roomID + "/")
	if err != nil {
		return nil, err
	}
	return &entities.RoomMediaCredential{MediaCredential: *cred, RoomID: roomID}, nil
}

func (s *Static) PublicMediaCredential(_ context.Context, _ entities.HandleID, _ bool) (*entities.MediaCredential, error) {
	return s.credential(s.KeyPrefix + "public/")
}
