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
	"net/http"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Requests for endpoints and event types the protocol library doesn't wrap
// go straight through the authenticated transport.

func (c *Client) sendRawEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, content any) (id.EventID, error) {
	reqURL := c.cli.BuildClientURL("v3", "rooms", roomID.String(), "send", eventType.Type, c.cli.TxnID())
	var resp mautrix.RespSendEvent
	if _, err := c.cli.MakeRequest(ctx, http.MethodPut, reqURL, content, &resp); err != nil {
		return "", err
	}
	return resp.EventID, nil
}

func (c *Client) getRawState(ctx context.Context, roomID id.RoomID, eventType event.Type, stateKey string, out any) error {
	reqURL := c.cli.BuildClientURL("v3", "rooms", roomID.String(), "state", eventType.Type, stateKey)
	_, err := c.cli.MakeRequest(ctx, http.MethodGet, reqURL, nil, out)
	return err
}

func (c *Client) getRawFullState(ctx context.Context, roomID id.RoomID, out any) error {
	reqURL := c.cli.BuildClientURL("v3", "rooms", roomID.String(), "state")
	_, err := c.cli.MakeRequest(ctx, http.MethodGet, reqURL, nil, out)
	return err
}

func (c *Client) putRawState(ctx context.Context, roomID id.RoomID, eventType event.Type, stateKey string, content any) (id.EventID, error) {
	reqURL := c.cli.BuildClientURL("v3", "rooms", roomID.String(), "state", eventType.Type, stateKey)
	var resp mautrix.RespSendEvent
	if _, err := c.cli.MakeRequest(ctx, http.MethodPut, reqURL, content, &resp); err != nil {
		return "", err
	}
	return resp.EventID, nil
}

type rawMembersResponse struct {
	Chunk []*event.Event `json:"chunk"`
}

func (c *Client) getRawMembers(ctx context.Context, roomID id.RoomID) ([]*event.Event, error) {
	reqURL := c.cli.BuildClientURL("v3", "rooms", roomID.String(), "members")
	var resp rawMembersResponse
	if _, err := c.cli.MakeRequest(ctx, http.MethodGet, reqURL, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Chunk, nil
}
