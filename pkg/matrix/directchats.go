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
	"slices"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/entities"
)

// The direct chat list lives in m.direct account data. Updates read the whole
// list, change it locally and write it back, so two concurrent updates on the
// same handle race and the last writer wins. Callers that need both updates
// to land must serialize them.

func (c *Client) directChats(ctx context.Context) (event.DirectChatsEventContent, error) {
	content := event.DirectChatsEventContent{}
	err := c.cli.GetAccountData(ctx, event.AccountDataDirectChats.Type, &content)
	if isNotFound(err) {
		return event.DirectChatsEventContent{}, nil
	} else if err != nil {
		return nil, err
	}
	return content, nil
}

func (c *Client) addDirectChat(ctx context.Context, userID id.UserID, roomID id.RoomID) error {
	content, err := c.directChats(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(content[userID], roomID) {
		return nil
	}
	content[userID] = append(content[userID], roomID)
	return c.cli.SetAccountData(ctx, event.AccountDataDirectChats.Type, &content)
}

// GetDirectChatRoomID returns the most recently added direct chat room with a
// handle, or "" if there is none.
func (c *Client) GetDirectChatRoomID(ctx context.Context, handleID entities.HandleID) (id.RoomID, error) {
	content, err := c.directChats(ctx)
	if err != nil {
		return "", c.fail("get_direct_chat_room_id", err)
	}
	rooms := content[handleID.MatrixUserID(c.UserID().Homeserver())]
	if len(rooms) == 0 {
		return "", nil
	}
	return rooms[len(rooms)-1], nil
}

// CreateDirectChat creates an encrypted direct chat with a handle and records
// it in the direct chat list.
func (c *Client) CreateDirectChat(ctx context.Context, handleID entities.HandleID) (id.RoomID, error) {
	roomID, err := c.CreateRoom(ctx, CreateRoomInput{
		Type:      entities.RoomTypeDirectChat,
		Invite:    []entities.HandleID{handleID},
		Encrypted: true,
	})
	if err != nil {
		return "", err
	}
	if err = c.addDirectChat(ctx, handleID.MatrixUserID(c.UserID().Homeserver()), roomID); err != nil {
		return "", c.fail("create_direct_chat", err)
	}
	return roomID, nil
}

// JoinDirectChat accepts a direct chat invite from inviter and records the
// room in the direct chat list.
func (c *Client) JoinDirectChat(ctx context.Context, roomID id.RoomID, inviter entities.HandleID) error {
	if err := c.JoinRoom(ctx, roomID); err != nil {
		return err
	}
	if err := c.addDirectChat(ctx, inviter.MatrixUserID(c.UserID().Homeserver()), roomID); err != nil {
		return c.fail("join_direct_chat", err)
	}
	return nil
}
