// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package backend defines the product backend the SDK depends on for session
// token exchange and media credential issuance.
package backend

import (
	"context"
	"errors"
	"time"

	"github.com/sudoplatform/securecomms/pkg/entities"
)

var ErrNotSupported = errors.New("operation not supported by backend")

// Session is the result of exchanging a handle's credentials for a protocol
// access token.
type Session struct {
	AccessToken string
	Expiry      time.Time
}

// Service is the backend consumed by the session layer. Implementations live
// outside this module; Static is provided for self-hosted setups.
type Service interface {
	SignIn(ctx context.Context, handleID entities.HandleID) (*Session, error)
	SignOut(ctx context.Context, handleID entities.HandleID) error
	RoomMediaCredential(ctx context.Context, handleID entities.HandleID, roomID string, forWrite bool) (*entities.RoomMediaCredential, error)
	PublicMediaCredential(ctx context.Context, handleID entities.HandleID, forWrite bool) (*entities.MediaCredential, error)
}
