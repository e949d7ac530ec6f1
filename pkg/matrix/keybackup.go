// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package matrix

import (
	"bytes"
	"context"
	"strings"

	"go.mau.fi/util/random"
	"maunium.net/go/mautrix/crypto/utils"
)

const (
	recoveryKeyIterations = 500000
	recoveryKeyBits       = 256
	recoveryKeySaltLength = 32
)

func (c *Client) cryptoFail(op string, err error) error {
	msg := strings.ReplaceAll(op, "_", " ")
	c.log.Err(err).Str("operation", op).Msg("Failed to " + msg)
	operationErrorsTotal.WithLabelValues(op).Inc()
	return &CryptoError{Op: msg, Err: err}
}

// generateRecoveryKey derives a backup key from a passphrase. Without a
// passphrase the key is random.
func generateRecoveryKey(passphrase string) ([]byte, *PassphraseInfo) {
	if passphrase == "" {
		return random.Bytes(recoveryKeyBits / 8), nil
	}
	info := &PassphraseInfo{
		Salt:       random.String(recoveryKeySaltLength),
		Iterations: recoveryKeyIterations,
		Bits:       recoveryKeyBits,
	}
	return utils.PBKDF2SHA512([]byte(passphrase), []byte(info.Salt), info.Iterations, info.Bits), info
}

// bootstrapKeyBackup sets up a new backup and returns its recovery key. The
// key that ends up persisted wins over the generated one: a concurrent
// bootstrap may have stored a different key, and handing out the generated
// key then would leave the user with a useless recovery key.
func (c *Client) bootstrapKeyBackup(ctx context.Context, passphrase string, newSecretStorage bool) (string, error) {
	key, info := generateRecoveryKey(passphrase)
	err := c.crypto.BootstrapSecretStorage(ctx, BootstrapOptions{
		RecoveryKey:           key,
		Passphrase:            info,
		SetupNewKeyBackup:     true,
		SetupNewSecretStorage: newSecretStorage,
	})
	if err != nil {
		return "", err
	}
	persisted, err := c.crypto.GetSessionBackupPrivateKey(ctx)
	if err != nil {
		return "", err
	}
	if persisted != nil && (len(persisted) != len(key) || !bytes.Equal(persisted, key)) {
		c.log.Warn().Msg("Persisted backup key differs from generated key, returning persisted key")
		key = persisted
	}
	return utils.EncodeBase58RecoveryKey(key), nil
}

// HasKeyBackup reports whether the server has a key backup the client can
// use. Checking also enables the backup.
func (c *Client) HasKeyBackup(ctx context.Context) (bool, error) {
	if c.crypto == nil {
		return false, ErrCryptoUnavailable
	}
	info, err := c.crypto.CheckKeyBackupAndEnable(ctx)
	if err != nil {
		return false, c.cryptoFail("check_key_backup", err)
	}
	return info != nil, nil
}

// CreateKeyBackup creates the first key backup of the user, along with new
// secret storage, and returns the recovery key.
func (c *Client) CreateKeyBackup(ctx context.Context, passphrase string) (string, error) {
	hasBackup, err := c.HasKeyBackup(ctx)
	if err != nil {
		return "", err
	} else if hasBackup {
		return "", c.cryptoFail("create_key_backup", ErrKeyBackupExists)
	}
	recoveryKey, err := c.bootstrapKeyBackup(ctx, passphrase, true)
	if err != nil {
		return "", c.cryptoFail("create_key_backup", err)
	}
	return recoveryKey, nil
}

// RotateKeyBackup replaces the backup version and key but keeps the secret
// storage.
func (c *Client) RotateKeyBackup(ctx context.Context, passphrase string) (string, error) {
	if c.crypto == nil {
		return "", ErrCryptoUnavailable
	}
	recoveryKey, err := c.bootstrapKeyBackup(ctx, passphrase, false)
	if err != nil {
		return "", c.cryptoFail("rotate_key_backup", err)
	}
	return recoveryKey, nil
}

// ResetKeyBackup replaces both the backup and the secret storage.
func (c *Client) ResetKeyBackup(ctx context.Context, passphrase string) (string, error) {
	if c.crypto == nil {
		return "", ErrCryptoUnavailable
	}
	recoveryKey, err := c.bootstrapKeyBackup(ctx, passphrase, true)
	if err != nil {
		return "", c.cryptoFail("reset_key_backup", err)
	}
	return recoveryKey, nil
}

// RecoverFromBackup restores room keys with a recovery key. It fails without
// touching the backup when there is no usable backup version.
func (c *Client) RecoverFromBackup(ctx context.Context, recoveryKey string) (*RestoreResult, error) {
	hasBackup, err := c.HasKeyBackup(ctx)
	if err != nil {
		return nil, err
	} else if !hasBackup {
		return nil, c.cryptoFail("recover_from_backup", ErrNoKeyBackup)
	}
	version, err := c.crypto.GetActiveSessionBackupVersion(ctx)
	if err != nil {
		return nil, c.cryptoFail("recover_from_backup", err)
	} else if version == "" {
		return nil, c.cryptoFail("recover_from_backup", ErrNoBackupVersion)
	}
	key := utils.DecodeBase58RecoveryKey(recoveryKey)
	if key == nil {
		return nil, c.cryptoFail("recover_from_backup", ErrInvalidRecoveryKey)
	}
	if err = c.crypto.StoreSessionBackupPrivateKey(ctx, key, version); err != nil {
		return nil, c.cryptoFail("recover_from_backup", err)
	}
	result, err := c.crypto.RestoreKeyBackup(ctx)
	if err != nil {
		return nil, c.cryptoFail("recover_from_backup", err)
	}
	c.log.Info().Int("total", result.Total).Int("imported", result.Imported).Msg("Restored keys from backup")
	return result, nil
}
