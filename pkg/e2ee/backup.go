// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package e2ee

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"go.mau.fi/util/random"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/backup"
	"maunium.net/go/mautrix/crypto/signatures"
	"maunium.net/go/mautrix/crypto/ssss"
	"maunium.net/go/mautrix/crypto/utils"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/matrix"
)

const ssssKeyIDLength = 24

// secretStorageKey builds secret storage key metadata for an existing key.
// The recovery key doubles as the secret storage key, so one recovery key
// unlocks both the storage and the backup.
func secretStorageKey(key []byte, passphrase *matrix.PassphraseInfo) *ssss.Key {
	aesKey, hmacKey := utils.DeriveKeysSHA256(key, "")
	iv := utils.GenA256CTRIV()
	meta := &ssss.KeyMetadata{
		Algorithm: ssss.AlgorithmAESHMACSHA2,
		IV:        base64.RawStdEncoding.EncodeToString(iv[:]),
		MAC:       utils.HMACSHA256B64(utils.XorA256CTR(make([]byte, utils.AESCTRKeyLength), aesKey, iv), hmacKey),
	}
	if passphrase != nil {
		meta.Passphrase = &ssss.PassphraseMetadata{
			Algorithm:  ssss.PassphraseAlgorithmPBKDF2,
			Iterations: passphrase.Iterations,
			Salt:       passphrase.Salt,
			Bits:       passphrase.Bits,
		}
	}
	return &ssss.Key{
		ID:       base64.RawStdEncoding.EncodeToString(random.Bytes(ssssKeyIDLength)),
		Key:      key,
		Metadata: meta,
	}
}

// backupAuthData is the auth data of a megolm backup for key. It is signed
// with the device key when signer is set.
func backupAuthData(key *backup.MegolmBackupKey, userID id.UserID, deviceID id.DeviceID, signer func(any) (string, error)) (backup.MegolmAuthData, error) {
	authData := backup.MegolmAuthData{
		PublicKey: id.Ed25519(base64.RawStdEncoding.EncodeToString(key.PublicKey().Bytes())),
	}
	if signer == nil {
		return authData, nil
	}
	sig, err := signer(authData)
	if err != nil {
		return authData, fmt.Errorf("failed to sign backup auth data: %w", err)
	}
	authData.Signatures = signatures.NewSingleSignature(userID, id.KeyAlgorithmEd25519, deviceID.String(), sig)
	return authData, nil
}

// BootstrapSecretStorage uploads secret storage and a new key backup for
// opts.RecoveryKey.
func (m *Machine) BootstrapSecretStorage(ctx context.Context, opts matrix.BootstrapOptions) error {
	if opts.SetupNewSecretStorage || m.ssssKey == nil {
		if !opts.SetupNewSecretStorage {
			m.log.Warn().Msg("Secret storage key not available, creating new secret storage")
		}
		key := secretStorageKey(opts.RecoveryKey, opts.Passphrase)
		if err := m.ssss.SetKeyData(ctx, key.ID, key.Metadata); err != nil {
			return fmt.Errorf("failed to upload secret storage key: %w", err)
		} else if err = m.ssss.SetDefaultKeyID(ctx, key.ID); err != nil {
			return fmt.Errorf("failed to set default secret storage key: %w", err)
		}
		m.ssssKey = key
	}
	if !opts.SetupNewKeyBackup {
		return nil
	}

	backupKey, err := backup.MegolmBackupKeyFromBytes(opts.RecoveryKey)
	if err != nil {
		return fmt.Errorf("failed to parse backup key: %w", err)
	}
	authData, err := backupAuthData(backupKey, m.cli.UserID, m.cli.DeviceID, m.mach.GetAccount().SignJSON)
	if err != nil {
		return err
	}
	resp, err := m.cli.CreateKeyBackupVersion(ctx, &mautrix.ReqRoomKeysVersionCreate[backup.MegolmAuthData]{
		Algorithm: id.KeyBackupAlgorithmMegolmBackupV1,
		AuthData:  authData,
	})
	if err != nil {
		return fmt.Errorf("failed to create key backup version: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(opts.RecoveryKey)
	if err = m.ssss.SetEncryptedAccountData(ctx, event.AccountDataMegolmBackupKey, []byte(encoded), m.ssssKey); err != nil {
		return fmt.Errorf("failed to store backup key in secret storage: %w", err)
	}
	if err = m.StoreSessionBackupPrivateKey(ctx, opts.RecoveryKey, string(resp.Version)); err != nil {
		return err
	}
	m.log.Info().Str("version", string(resp.Version)).Msg("Created key backup")
	return nil
}

// CheckKeyBackupAndEnable returns the latest backup version on the server, or
// nil if there is none. The backup is trusted when its public key matches the
// locally stored backup key, which then backs up new sessions.
func (m *Machine) CheckKeyBackupAndEnable(ctx context.Context) (*matrix.KeyBackupInfo, error) {
	latest, err := m.cli.GetKeyBackupLatestVersion(ctx)
	if errors.Is(err, mautrix.MNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get latest key backup version: %w", err)
	}
	info := &matrix.KeyBackupInfo{
		Version:   string(latest.Version),
		Algorithm: string(latest.Algorithm),
	}
	key, err := m.backupKey(ctx)
	if err != nil {
		return nil, err
	} else if key == nil {
		return info, nil
	}
	authData, _ := backupAuthData(key, m.cli.UserID, m.cli.DeviceID, nil)
	info.Trusted = latest.Algorithm == id.KeyBackupAlgorithmMegolmBackupV1 && authData.PublicKey == latest.AuthData.PublicKey
	if info.Trusted && m.mach.KeyBackupVersion() != latest.Version {
		if err = m.mach.SetKeyBackupVersion(ctx, latest.Version); err != nil {
			return nil, fmt.Errorf("failed to enable key backup: %w", err)
		}
	}
	return info, nil
}

func (m *Machine) GetActiveSessionBackupVersion(context.Context) (string, error) {
	return string(m.mach.KeyBackupVersion()), nil
}

func (m *Machine) GetSessionBackupPrivateKey(ctx context.Context) ([]byte, error) {
	secret, err := m.mach.CryptoStore.GetSecret(ctx, id.SecretMegolmBackupV1)
	if err != nil {
		return nil, fmt.Errorf("failed to get backup key: %w", err)
	} else if secret == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to decode backup key: %w", err)
	}
	return key, nil
}

func (m *Machine) backupKey(ctx context.Context) (*backup.MegolmBackupKey, error) {
	raw, err := m.GetSessionBackupPrivateKey(ctx)
	if err != nil || raw == nil {
		return nil, err
	}
	key, err := backup.MegolmBackupKeyFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse backup key: %w", err)
	}
	return key, nil
}

func (m *Machine) StoreSessionBackupPrivateKey(ctx context.Context, key []byte, version string) error {
	if _, err := backup.MegolmBackupKeyFromBytes(key); err != nil {
		return fmt.Errorf("failed to parse backup key: %w", err)
	}
	if err := m.mach.CryptoStore.PutSecret(ctx, id.SecretMegolmBackupV1, base64.StdEncoding.EncodeToString(key)); err != nil {
		return fmt.Errorf("failed to store backup key: %w", err)
	}
	if err := m.mach.SetKeyBackupVersion(ctx, id.KeyBackupVersion(version)); err != nil {
		return fmt.Errorf("failed to set key backup version: %w", err)
	}
	return nil
}

// RestoreKeyBackup imports every session of the active backup version that
// isn't known locally yet.
func (m *Machine) RestoreKeyBackup(ctx context.Context) (*matrix.RestoreResult, error) {
	key, err := m.backupKey(ctx)
	if err != nil {
		return nil, err
	} else if key == nil {
		return nil, errors.New("no backup key stored")
	}
	version := m.mach.KeyBackupVersion()
	keys, err := m.cli.GetKeyBackup(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("failed to get key backup: %w", err)
	}
	result := &matrix.RestoreResult{}
	for roomID, room := range keys.Rooms {
		for sessionID, data := range room.Sessions {
			result.Total++
			log := m.log.With().Str("room_id", roomID.String()).Str("session_id", sessionID.String()).Logger()
			if existing, err := m.mach.CryptoStore.GetGroupSession(ctx, roomID, sessionID); err == nil && existing != nil {
				continue
			}
			sessionData, err := data.SessionData.Decrypt(key)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to decrypt backed up session")
				continue
			}
			if _, err = m.mach.ImportRoomKeyFromBackup(ctx, version, roomID, sessionID, sessionData); err != nil {
				log.Warn().Err(err).Msg("Failed to import backed up session")
				continue
			}
			result.Imported++
		}
	}
	return result, nil
}
