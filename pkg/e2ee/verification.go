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
	"fmt"

	"maunium.net/go/mautrix/crypto/verificationhelper"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/matrix"
)

var (
	_ verificationhelper.RequiredCallbacks = (*Machine)(nil)
	_ verificationhelper.ShowSASCallbacks  = (*Machine)(nil)
)

func (m *Machine) setTxn(userID id.UserID, txnID id.VerificationTransactionID) {
	m.txnLock.Lock()
	m.txns[userID] = txnID
	m.txnLock.Unlock()
}

func (m *Machine) txn(userID id.UserID) (id.VerificationTransactionID, error) {
	m.txnLock.Lock()
	defer m.txnLock.Unlock()
	txnID, ok := m.txns[userID]
	if !ok {
		return "", fmt.Errorf("%w with %s", ErrNoVerification, userID)
	}
	return txnID, nil
}

// dropTxn forgets txnID. It returns the user the transaction was with.
func (m *Machine) dropTxn(txnID id.VerificationTransactionID) id.UserID {
	m.txnLock.Lock()
	defer m.txnLock.Unlock()
	for userID, known := range m.txns {
		if known == txnID {
			delete(m.txns, userID)
			return userID
		}
	}
	return ""
}

func (m *Machine) txnUser(txnID id.VerificationTransactionID) id.UserID {
	m.txnLock.Lock()
	defer m.txnLock.Unlock()
	for userID, known := range m.txns {
		if known == txnID {
			return userID
		}
	}
	return ""
}

// RequestVerificationDM starts a verification with userID. Requests to the
// own user, or without a room, go to all devices over to-device messages.
func (m *Machine) RequestVerificationDM(ctx context.Context, userID id.UserID, roomID id.RoomID, methods []string) error {
	for _, method := range methods {
		if method != matrix.VerificationMethodSAS {
			return fmt.Errorf("unsupported verification method %s", method)
		}
	}
	var txnID id.VerificationTransactionID
	var err error
	if roomID == "" || userID == m.cli.UserID {
		txnID, err = m.verify.StartVerification(ctx, userID)
	} else {
		txnID, err = m.verify.StartInRoomVerification(ctx, roomID, userID)
	}
	if err != nil {
		return fmt.Errorf("failed to request verification: %w", err)
	}
	m.setTxn(userID, txnID)
	return nil
}

func (m *Machine) AcceptVerification(ctx context.Context, userID id.UserID) error {
	txnID, err := m.txn(userID)
	if err != nil {
		return err
	}
	return m.verify.AcceptVerification(ctx, txnID)
}

func (m *Machine) StartVerification(ctx context.Context, userID id.UserID, method string) error {
	if method != matrix.VerificationMethodSAS {
		return fmt.Errorf("unsupported verification method %s", method)
	}
	txnID, err := m.txn(userID)
	if err != nil {
		return err
	}
	return m.verify.StartSAS(ctx, txnID)
}

func (m *Machine) ApproveVerification(ctx context.Context, userID id.UserID) error {
	txnID, err := m.txn(userID)
	if err != nil {
		return err
	}
	return m.verify.ConfirmSAS(ctx, txnID)
}

func (m *Machine) DeclineVerification(ctx context.Context, userID id.UserID) error {
	return m.cancel(ctx, userID, "declined")
}

func (m *Machine) CancelVerification(ctx context.Context, userID id.UserID) error {
	return m.cancel(ctx, userID, "cancelled")
}

func (m *Machine) cancel(ctx context.Context, userID id.UserID, reason string) error {
	txnID, err := m.txn(userID)
	if err != nil {
		return err
	}
	err = m.verify.CancelVerification(ctx, txnID, event.VerificationCancelCodeUser, "verification "+reason+" by user")
	m.dropTxn(txnID)
	return err
}

func (m *Machine) VerificationRequested(ctx context.Context, txnID id.VerificationTransactionID, from id.UserID, fromDevice id.DeviceID) {
	m.setTxn(from, txnID)
	req := matrix.VerificationRequest{
		TransactionID: string(txnID),
		UserID:        from,
		FromDevice:    fromDevice,
		Methods:       []string{matrix.VerificationMethodSAS},
	}
	if m.vstore != nil {
		if txn, err := m.vstore.GetVerificationTransaction(ctx, txnID); err == nil {
			req.RoomID = txn.RoomID
		}
	}
	m.log.Info().
		Str("transaction_id", string(txnID)).
		Str("user_id", from.String()).
		Str("device_id", fromDevice.String()).
		Msg("Received verification request")
	m.listenerLock.Lock()
	listeners := make([]func(matrix.VerificationRequest), 0, len(m.requestListeners))
	for _, fn := range m.requestListeners {
		listeners = append(listeners, fn)
	}
	m.listenerLock.Unlock()
	for _, fn := range listeners {
		fn(req)
	}
}

func (m *Machine) VerificationReady(_ context.Context, txnID id.VerificationTransactionID, otherDeviceID id.DeviceID, supportsSAS, _ bool, _ *verificationhelper.QRCode) {
	m.log.Debug().
		Str("transaction_id", string(txnID)).
		Str("device_id", otherDeviceID.String()).
		Bool("supports_sas", supportsSAS).
		Msg("Verification ready")
}

func (m *Machine) VerificationCancelled(_ context.Context, txnID id.VerificationTransactionID, code event.VerificationCancelCode, reason string) {
	m.dropTxn(txnID)
	m.log.Info().
		Str("transaction_id", string(txnID)).
		Str("code", string(code)).
		Str("reason", reason).
		Msg("Verification cancelled")
}

func (m *Machine) VerificationDone(ctx context.Context, txnID id.VerificationTransactionID, method event.VerificationMethod) {
	trust := matrix.DeviceTrust{UserID: m.txnUser(txnID), Verified: true}
	if m.vstore != nil {
		if txn, err := m.vstore.GetVerificationTransaction(ctx, txnID); err == nil {
			trust.UserID, trust.DeviceID = txn.TheirUserID, txn.TheirDeviceID
		}
	}
	m.dropTxn(txnID)
	m.log.Info().
		Str("transaction_id", string(txnID)).
		Str("method", string(method)).
		Str("user_id", trust.UserID.String()).
		Str("device_id", trust.DeviceID.String()).
		Msg("Verification done")
	m.listenerLock.Lock()
	listeners := make([]func(matrix.DeviceTrust), 0, len(m.trustListeners))
	for _, fn := range m.trustListeners {
		listeners = append(listeners, fn)
	}
	m.listenerLock.Unlock()
	for _, fn := range listeners {
		fn(trust)
	}
}

func (m *Machine) ShowSAS(_ context.Context, txnID id.VerificationTransactionID, emojis []rune, descriptions []string, decimals []int) {
	m.log.Debug().Str("transaction_id", string(txnID)).Msg("Showing SAS")
	if m.onSAS != nil {
		m.onSAS(SAS{UserID: m.txnUser(txnID), Emojis: emojis, Descriptions: descriptions, Decimals: decimals})
	}
}

func (m *Machine) OnDeviceTrustChanged(fn func(matrix.DeviceTrust)) func() {
	m.listenerLock.Lock()
	defer m.listenerLock.Unlock()
	key := m.nextListener
	m.nextListener++
	m.trustListeners[key] = fn
	return func() {
		m.listenerLock.Lock()
		delete(m.trustListeners, key)
		m.listenerLock.Unlock()
	}
}

func (m *Machine) OnVerificationRequest(fn func(matrix.VerificationRequest)) func() {
	m.listenerLock.Lock()
	defer m.listenerLock.Unlock()
	key := m.nextListener
	m.nextListener++
	m.requestListeners[key] = fn
	return func() {
		m.listenerLock.Lock()
		delete(m.requestListeners, key)
		m.listenerLock.Unlock()
	}
}
