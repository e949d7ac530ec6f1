// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package matrix

import (
	"errors"
	"fmt"

	"maunium.net/go/mautrix"
)

var (
	ErrAlreadySyncing     = errors.New("client is already syncing")
	ErrCryptoUnavailable  = errors.New("client has no crypto support")
	ErrNoKeyBackup        = errors.New("no key backup exists")
	ErrNoBackupVersion    = errors.New("no active key backup version")
	ErrKeyBackupExists    = errors.New("key backup already exists")
	ErrInvalidRecoveryKey = errors.New("invalid recovery key")
	ErrNoDirectChat       = errors.New("no direct chat with handle")
)

// UnauthorizedError is returned when the homeserver refuses a read because the
// user lacks permission in the room.
type UnauthorizedError struct {
	Op  string
	Err error
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized to %s: %v", e.Op, e.Err)
}

func (e *UnauthorizedError) Unwrap() error {
	return e.Err
}

// CryptoError wraps failures of key backup and verification operations.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

func isNotFound(err error) bool {
	return errors.Is(err, mautrix.MNotFound)
}

func isForbidden(err error) bool {
	return errors.Is(err, mautrix.MForbidden)
}
