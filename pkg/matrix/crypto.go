// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package matrix

import (
	"context"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// VerificationMethodSAS is the only verification method offered.
const VerificationMethodSAS = "m.sas.v1"

// DecryptionInfo describes the sender device of a decrypted event.
type DecryptionInfo struct {
	Verified bool
}

// KeyBackupInfo is the server side description of a key backup.
type KeyBackupInfo struct {
	Version   string
	Algorithm string
	Trusted   bool
}

// PassphraseInfo records how a recovery key was derived from a passphrase.
type PassphraseInfo struct {
	Salt       string
	Iterations int
	Bits       int
}

// BootstrapOptions controls what BootstrapSecretStorage creates.
type BootstrapOptions struct {
	RecoveryKey []byte
	Passphrase  *PassphraseInfo
	// SetupNewKeyBackup creates a new backup version.
	SetupNewKeyBackup bool
	// SetupNewSecretStorage replaces the secret storage key as well.
	SetupNewSecretStorage bool
}

// RestoreResult summarizes a key backup restore.
type RestoreResult struct {
	Total    int
	Imported int
}

// VerificationRequest is an incoming request to verify the own user.
type VerificationRequest struct {
	TransactionID string
	UserID        id.UserID
	RoomID        id.RoomID
	FromDevice    id.DeviceID
	Methods       []string
}

// DeviceTrust is a change of the trust state of one device.
type DeviceTrust struct {
	UserID   id.UserID
	DeviceID id.DeviceID
	Verified bool
}

// CryptoProvider attaches end-to-end encryption to a signed in protocol
// client. Implementations register their sync handlers on cli.Syncer and set
// cli.Crypto so outgoing events in encrypted rooms get encrypted.
type CryptoProvider func(ctx context.Context, cli *mautrix.Client) (CryptoAPI, error)

// CryptoAPI is the end-to-end encryption capability of the protocol stack.
// It owns all crypto state; the client only sequences calls into it.
type CryptoAPI interface {
	DecryptEvent(ctx context.Context, evt *event.Event) (*event.Event, *DecryptionInfo, error)

	BootstrapSecretStorage(ctx context.Context, opts BootstrapOptions) error
	CheckKeyBackupAndEnable(ctx context.Context) (*KeyBackupInfo, error)
	GetActiveSessionBackupVersion(ctx context.Context) (string, error)
	GetSessionBackupPrivateKey(ctx context.Context) ([]byte, error)
	StoreSessionBackupPrivateKey(ctx context.Context, key []byte, version string) error
	RestoreKeyBackup(ctx context.Context) (*RestoreResult, error)

	RequestVerificationDM(ctx context.Context, userID id.UserID, roomID id.RoomID, methods []string) error
	AcceptVerification(ctx context.Context, userID id.UserID) error
	StartVerification(ctx context.Context, userID id.UserID, method string) error
	ApproveVerification(ctx context.Context, userID id.UserID) error
	DeclineVerification(ctx context.Context, userID id.UserID) error
	CancelVerification(ctx context.Context, userID id.UserID) error

	// The returned function removes the listener.
	OnDeviceTrustChanged(func(DeviceTrust)) func()
	OnVerificationRequest(func(VerificationRequest)) func()
}
