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
	"sync"

	"maunium.net/go/mautrix/id"
)

// Subscription is a registered callback. Close removes it; closing twice is
// harmless.
type Subscription struct {
	client *Client
	remove func()
	once   sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.remove()
		s.client.subscriptionsLock.Lock()
		delete(s.client.subscriptions, s)
		s.client.subscriptionsLock.Unlock()
	})
}

func (c *Client) subscribe(remove func()) *Subscription {
	sub := &Subscription{client: c, remove: remove}
	c.subscriptionsLock.Lock()
	c.subscriptions[sub] = struct{}{}
	c.subscriptionsLock.Unlock()
	return sub
}

// OnDeviceTrustChanged calls fn whenever the trust of one of the user's own
// devices changes.
func (c *Client) OnDeviceTrustChanged(fn func(DeviceTrust)) (*Subscription, error) {
	if c.crypto == nil {
		return nil, ErrCryptoUnavailable
	}
	ownUserID := c.UserID()
	return c.subscribe(c.crypto.OnDeviceTrustChanged(func(trust DeviceTrust) {
		if trust.UserID == ownUserID {
			fn(trust)
		}
	})), nil
}

// OnVerificationRequest calls fn for incoming requests to verify the user's
// own identity.
func (c *Client) OnVerificationRequest(fn func(VerificationRequest)) (*Subscription, error) {
	if c.crypto == nil {
		return nil, ErrCryptoUnavailable
	}
	ownUserID := c.UserID()
	return c.subscribe(c.crypto.OnVerificationRequest(func(req VerificationRequest) {
		if req.UserID == ownUserID {
			fn(req)
		}
	})), nil
}

func (c *Client) verify(op string, fn func(CryptoAPI) error) error {
	if c.crypto == nil {
		return ErrCryptoUnavailable
	}
	if err := fn(c.crypto); err != nil {
		return c.cryptoFail(op, err)
	}
	return nil
}

// RequestVerification starts SAS verification with a user in a DM room. An
// empty userID verifies the user's own identity.
func (c *Client) RequestVerification(ctx context.Context, userID id.UserID, roomID id.RoomID) error {
	if userID == "" {
		userID = c.UserID()
	}
	return c.verify("request_verification", func(crypto CryptoAPI) error {
		return crypto.RequestVerificationDM(ctx, userID, roomID, []string{VerificationMethodSAS})
	})
}

func (c *Client) AcceptVerification(ctx context.Context, userID id.UserID) error {
	return c.verify("accept_verification", func(crypto CryptoAPI) error {
		return crypto.AcceptVerification(ctx, userID)
	})
}

func (c *Client) StartVerification(ctx context.Context, userID id.UserID) error {
	return c.verify("start_verification", func(crypto CryptoAPI) error {
		return crypto.StartVerification(ctx, userID, VerificationMethodSAS)
	})
}

// ApproveVerification confirms that the short authentication strings match.
func (c *Client) ApproveVerification(ctx context.Context, userID id.UserID) error {
	return c.verify("approve_verification", func(crypto CryptoAPI) error {
		return crypto.ApproveVerification(ctx, userID)
	})
}

func (c *Client) DeclineVerification(ctx context.Context, userID id.UserID) error {
	return c.verify("decline_verification", func(crypto CryptoAPI) error {
		return crypto.DeclineVerification(ctx, userID)
	})
}

func (c *Client) CancelVerification(ctx context.Context, userID id.UserID) error {
	return c.verify("cancel_verification", func(crypto CryptoAPI) error {
		return crypto.CancelVerification(ctx, userID)
	})
}
