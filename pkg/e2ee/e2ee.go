// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package e2ee implements matrix.CryptoAPI on top of the mautrix Olm machine.
//
// The mautrix crypto package links libolm through cgo unless built with the
// goolm tag, so only binaries that enable encryption import this package.
package e2ee

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	_ "go.mau.fi/util/dbutil/litestream"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto"
	"maunium.net/go/mautrix/crypto/cryptohelper"
	"maunium.net/go/mautrix/crypto/ssss"
	"maunium.net/go/mautrix/crypto/verificationhelper"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/matrix"
)

// Options configures the crypto machine.
type Options struct {
	// PickleKey encrypts the Olm account and sessions at rest.
	PickleKey []byte
	// Database is the SQLite file holding the crypto store.
	Database string
	Log      zerolog.Logger
	// OnSAS receives the short authentication string of a running
	// verification.
	OnSAS func(SAS)
}

// SAS is the short authentication string both sides of a verification
// compare.
type SAS struct {
	UserID       id.UserID
	Emojis       []rune
	Descriptions []string
	Decimals     []int
}

var ErrNoVerification = errors.New("no verification in progress")

// Machine is the end-to-end encryption state of one signed in device.
type Machine struct {
	cli     *mautrix.Client
	helper  *cryptohelper.CryptoHelper
	mach    *crypto.OlmMachine
	ssss    *ssss.Machine
	verify  *verificationhelper.VerificationHelper
	vstore  verificationhelper.VerificationStore
	log     zerolog.Logger
	onSAS   func(SAS)
	ssssKey *ssss.Key

	txnLock sync.Mutex
	txns    map[id.UserID]id.VerificationTransactionID

	listenerLock     sync.Mutex
	nextListener     int
	trustListeners   map[int]func(matrix.DeviceTrust)
	requestListeners map[int]func(matrix.VerificationRequest)
}

var _ matrix.CryptoAPI = (*Machine)(nil)

// Provider returns a matrix.CryptoProvider that builds a Machine with opts.
func Provider(opts Options) matrix.CryptoProvider {
	return func(ctx context.Context, cli *mautrix.Client) (matrix.CryptoAPI, error) {
		return New(ctx, cli, opts)
	}
}

func newMachine(cli *mautrix.Client, opts Options) *Machine {
	return &Machine{
		cli:              cli,
		log:              opts.Log.With().Str("component", "e2ee").Logger(),
		onSAS:            opts.OnSAS,
		txns:             make(map[id.UserID]id.VerificationTransactionID),
		trustListeners:   make(map[int]func(matrix.DeviceTrust)),
		requestListeners: make(map[int]func(matrix.VerificationRequest)),
	}
}

// New loads or creates the Olm account of the signed in device, registers
// the crypto sync handlers on cli.Syncer and sets cli.Crypto.
func New(ctx context.Context, cli *mautrix.Client, opts Options) (*Machine, error) {
	m := newMachine(cli, opts)
	helper, err := cryptohelper.NewCryptoHelper(cli, opts.PickleKey, opts.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to create crypto helper: %w", err)
	}
	helper.DBAccountID = cli.UserID.String()
	helper.CustomPostDecrypt = m.postDecrypt
	helper.DecryptErrorCallback = func(evt *event.Event, err error) {
		m.log.Debug().Err(err).Str("event_id", evt.ID.String()).Msg("Failed to decrypt event")
	}
	if err = helper.Init(ctx); err != nil {
		_ = helper.Close()
		return nil, fmt.Errorf("failed to init crypto helper: %w", err)
	}
	cli.Crypto = helper
	m.helper = helper
	m.mach = helper.Machine()
	m.ssss = ssss.NewSSSSMachine(cli)
	m.vstore = verificationhelper.NewInMemoryVerificationStore()
	m.verify = verificationhelper.NewVerificationHelper(cli, m.mach, m.vstore, m, false, false, true)
	if err = m.verify.Init(ctx); err != nil {
		cli.Crypto = nil
		_ = helper.Close()
		return nil, fmt.Errorf("failed to init verification helper: %w", err)
	}
	m.log.Info().Str("device_id", cli.DeviceID.String()).Msg("End-to-end encryption ready")
	return m, nil
}

// Close closes the crypto database.
func (m *Machine) Close() error {
	return m.helper.Close()
}

// postDecrypt hands decrypted in-room verification events to the
// verification helper. Other decrypted events are decrypted again on read.
func (m *Machine) postDecrypt(ctx context.Context, evt *event.Event) {
	if !isVerificationEvent(evt) {
		return
	}
	if syncer, ok := m.cli.Syncer.(mautrix.DispatchableSyncer); ok {
		syncer.Dispatch(ctx, evt)
	}
}

func isVerificationEvent(evt *event.Event) bool {
	switch evt.Type.Type {
	case event.InRoomVerificationReady.Type, event.InRoomVerificationStart.Type, event.InRoomVerificationAccept.Type,
		event.InRoomVerificationKey.Type, event.InRoomVerificationMAC.Type, event.InRoomVerificationCancel.Type,
		event.InRoomVerificationDone.Type:
		return true
	case event.EventMessage.Type:
		msg, ok := evt.Content.Parsed.(*event.MessageEventContent)
		return ok && msg.MsgType == event.MsgVerificationRequest
	default:
		return false
	}
}

// DecryptEvent decrypts a megolm event. Events that aren't encrypted are
// returned as is.
func (m *Machine) DecryptEvent(ctx context.Context, evt *event.Event) (*event.Event, *matrix.DecryptionInfo, error) {
	if evt.Type.Type != event.EventEncrypted.Type {
		return evt, nil, nil
	}
	if _, ok := evt.Content.Parsed.(*event.EncryptedEventContent); !ok {
		parsed := *evt
		parsed.Type = event.EventEncrypted
		parsed.Content = event.Content{VeryRaw: evt.Content.VeryRaw}
		if err := parsed.Content.ParseRaw(event.EventEncrypted); err != nil {
			return nil, nil, fmt.Errorf("failed to parse encrypted content: %w", err)
		}
		evt = &parsed
	}
	decrypted, err := m.mach.DecryptMegolmEvent(ctx, evt)
	if err != nil {
		return nil, nil, err
	}
	return decrypted, &matrix.DecryptionInfo{
		Verified: decrypted.Mautrix.TrustState >= id.TrustStateCrossSignedVerified,
	}, nil
}
