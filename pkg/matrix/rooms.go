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
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"go.mau.fi/util/ptr"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/entities"
	"github.com/sudoplatform/securecomms/pkg/transformer"
)

// Custom room state kept next to the protocol's own state.
var (
	StateRoomType = event.Type{Type: "com.sudoplatform.room.type", Class: event.StateEventType}
	StateRoomTags = event.Type{Type: "com.sudoplatform.room.tags", Class: event.StateEventType}
)

type roomTypeContent struct {
	Type entities.RoomType `json:"type"`
}

type roomTagsContent struct {
	Tags []entities.RoomTag `json:"tags"`
}

// ResolveRecipient returns the room a recipient's messages go to. Group and
// channel IDs are room IDs; handles resolve through the direct chat list.
func (c *Client) ResolveRecipient(ctx context.Context, recipient entities.Recipient) (id.RoomID, error) {
	switch recipient.Kind {
	case entities.RecipientHandle:
		roomID, err := c.GetDirectChatRoomID(ctx, entities.HandleID(recipient.ID))
		if err != nil {
			return "", err
		} else if roomID == "" {
			return "", fmt.Errorf("%w %s", ErrNoDirectChat, recipient.ID)
		}
		return roomID, nil
	default:
		return id.RoomID(recipient.ID), nil
	}
}

// CreateRoomInput describes a room to create.
type CreateRoomInput struct {
	Type      entities.RoomType
	Name      string
	Topic     string
	AvatarURL string
	Invite    []entities.HandleID
	Tags      []entities.RoomTag
	// Encrypted enables end-to-end encryption. Channels are never encrypted.
	Encrypted bool
}

func (c *Client) userIDs(handles []entities.HandleID) []id.UserID {
	userIDs := make([]id.UserID, 0, len(handles))
	for _, handleID := range handles {
		userIDs = append(userIDs, handleID.MatrixUserID(c.UserID().Homeserver()))
	}
	return userIDs
}

func (c *Client) initialPowerLevels(roomType entities.RoomType) *event.PowerLevelsEventContent {
	pl := &event.PowerLevelsEventContent{
		Users:           map[id.UserID]int{c.UserID(): entities.PowerLevelAdmin},
		UsersDefault:    entities.PowerLevelParticipant,
		EventsDefault:   entities.PowerLevelParticipant,
		StateDefaultPtr: ptr.Ptr(entities.PowerLevelModerator),
		InvitePtr:       ptr.Ptr(entities.PowerLevelParticipant),
		KickPtr:         ptr.Ptr(entities.PowerLevelModerator),
		BanPtr:          ptr.Ptr(entities.PowerLevelModerator),
		RedactPtr:       ptr.Ptr(entities.PowerLevelModerator),
	}
	if roomType == entities.RoomTypeChannel {
		pl.InvitePtr = ptr.Ptr(entities.PowerLevelModerator)
	}
	return pl
}

// CreateRoom creates a room and tags it with its product-level type.
func (c *Client) CreateRoom(ctx context.Context, input CreateRoomInput) (id.RoomID, error) {
	req := &mautrix.ReqCreateRoom{
		Name:               input.Name,
		Topic:              input.Topic,
		Invite:             c.userIDs(input.Invite),
		Preset:             "private_chat",
		IsDirect:           input.Type == entities.RoomTypeDirectChat,
		PowerLevelOverride: c.initialPowerLevels(input.Type),
	}
	switch input.Type {
	case entities.RoomTypeChannel:
		req.Preset = "public_chat"
	case entities.RoomTypeDirectChat:
		req.Preset = "trusted_private_chat"
	}
	if input.Encrypted && input.Type != entities.RoomTypeChannel {
		req.InitialState = append(req.InitialState, &event.Event{
			Type:     event.StateEncryption,
			StateKey: ptr.Ptr(""),
			Content:  event.Content{Parsed: &event.EncryptionEventContent{Algorithm: id.AlgorithmMegolmV1}},
		})
	}
	if input.AvatarURL != "" {
		req.InitialState = append(req.InitialState, &event.Event{
			Type:     event.StateRoomAvatar,
			StateKey: ptr.Ptr(""),
			Content:  event.Content{Parsed: &event.RoomAvatarEventContent{URL: id.ContentURIString(input.AvatarURL)}},
		})
	}
	resp, err := c.cli.CreateRoom(ctx, req)
	if err != nil {
		return "", c.fail("create_room", err)
	}
	if _, err = c.putRawState(ctx, resp.RoomID, StateRoomType, "", &roomTypeContent{Type: input.Type}); err != nil {
		return "", c.fail("create_room", err)
	}
	if len(input.Tags) > 0 {
		if _, err = c.putRawState(ctx, resp.RoomID, StateRoomTags, "", &roomTagsContent{Tags: input.Tags}); err != nil {
			return "", c.fail("create_room", err)
		}
	}
	return resp.RoomID, nil
}

type rawStateEvent struct {
	Type     string          `json:"type"`
	StateKey *string         `json:"state_key"`
	Content  json.RawMessage `json:"content"`
}

// GetRoom returns the current state of a room, or nil if it doesn't exist.
func (c *Client) GetRoom(ctx context.Context, roomID id.RoomID) (*entities.Room, error) {
	var state []rawStateEvent
	err := c.getRawFullState(ctx, roomID, &state)
	if isNotFound(err) {
		return nil, nil
	} else if err != nil {
		return nil, c.fail("get_room", err)
	}
	room := &entities.Room{ID: roomID.String(), Type: entities.RoomTypeGroup}
	for _, evt := range state {
		if evt.StateKey == nil {
			continue
		}
		content := gjson.ParseBytes(evt.Content)
		switch evt.Type {
		case event.StateRoomName.Type:
			room.Name = content.Get("name").String()
		case event.StateTopic.Type:
			room.Topic = content.Get("topic").String()
		case event.StateRoomAvatar.Type:
			room.AvatarURL = content.Get("url").String()
		case event.StateEncryption.Type:
			room.Encrypted = content.Get("algorithm").String() != ""
		case event.StateMember.Type:
			if content.Get("membership").String() == string(event.MembershipJoin) {
				room.MemberCount++
			}
		case StateRoomType.Type:
			if roomType := content.Get("type").String(); roomType != "" {
				room.Type = entities.RoomType(roomType)
			}
		case StateRoomTags.Type:
			for _, tag := range content.Get("tags").Array() {
				room.Tags = append(room.Tags, entities.RoomTag(tag.String()))
			}
		}
	}
	return room, nil
}

// UpdateRoomInput changes room state. Nil fields are left alone.
type UpdateRoomInput struct {
	Name      *string
	Topic     *string
	AvatarURL *string
	Tags      []entities.RoomTag
}

func (c *Client) UpdateRoom(ctx context.Context, roomID id.RoomID, input UpdateRoomInput) error {
	if input.Name != nil {
		_, err := c.cli.SendStateEvent(ctx, roomID, event.StateRoomName, "", &event.RoomNameEventContent{Name: *input.Name})
		if err != nil {
			return c.fail("update_room", err)
		}
	}
	if input.Topic != nil {
		_, err := c.cli.SendStateEvent(ctx, roomID, event.StateTopic, "", &event.TopicEventContent{Topic: *input.Topic})
		if err != nil {
			return c.fail("update_room", err)
		}
	}
	if input.AvatarURL != nil {
		_, err := c.cli.SendStateEvent(ctx, roomID, event.StateRoomAvatar, "", &event.RoomAvatarEventContent{URL: id.ContentURIString(*input.AvatarURL)})
		if err != nil {
			return c.fail("update_room", err)
		}
	}
	if input.Tags != nil {
		if _, err := c.putRawState(ctx, roomID, StateRoomTags, "", &roomTagsContent{Tags: input.Tags}); err != nil {
			return c.fail("update_room", err)
		}
	}
	return nil
}

// GetRoomTags reads the labels of a room. A room without labels has none.
func (c *Client) GetRoomTags(ctx context.Context, roomID id.RoomID) ([]entities.RoomTag, error) {
	var content roomTagsContent
	err := c.getRawState(ctx, roomID, StateRoomTags, "", &content)
	if isNotFound(err) {
		return nil, nil
	} else if err != nil {
		return nil, c.fail("get_room_tags", err)
	}
	return content.Tags, nil
}

// GetRoomType reads the product-level type of a room.
func (c *Client) GetRoomType(ctx context.Context, roomID id.RoomID) (entities.RoomType, error) {
	var content roomTypeContent
	err := c.getRawState(ctx, roomID, StateRoomType, "", &content)
	if isNotFound(err) {
		return "", nil
	} else if err != nil {
		return "", c.fail("get_room_type", err)
	}
	return content.Type, nil
}

func (c *Client) JoinRoom(ctx context.Context, roomID id.RoomID) error {
	if _, err := c.cli.JoinRoomByID(ctx, roomID); err != nil {
		return c.fail("join_room", err)
	}
	return nil
}

func (c *Client) LeaveRoom(ctx context.Context, roomID id.RoomID) error {
	if _, err := c.cli.LeaveRoom(ctx, roomID); err != nil {
		return c.fail("leave_room", err)
	}
	return nil
}

func (c *Client) InviteMember(ctx context.Context, roomID id.RoomID, handleID entities.HandleID) error {
	_, err := c.cli.InviteUser(ctx, roomID, &mautrix.ReqInviteUser{
		UserID: handleID.MatrixUserID(c.UserID().Homeserver()),
	})
	if err != nil {
		return c.fail("invite_member", err)
	}
	return nil
}

func (c *Client) KickMember(ctx context.Context, roomID id.RoomID, handleID entities.HandleID, reason string) error {
	_, err := c.cli.KickUser(ctx, roomID, &mautrix.ReqKickUser{
		UserID: handleID.MatrixUserID(c.UserID().Homeserver()),
		Reason: reason,
	})
	if err != nil {
		return c.fail("kick_member", err)
	}
	return nil
}

func (c *Client) BanMember(ctx context.Context, roomID id.RoomID, handleID entities.HandleID, reason string) error {
	_, err := c.cli.BanUser(ctx, roomID, &mautrix.ReqBanUser{
		UserID: handleID.MatrixUserID(c.UserID().Homeserver()),
		Reason: reason,
	})
	if err != nil {
		return c.fail("ban_member", err)
	}
	return nil
}

func (c *Client) UnbanMember(ctx context.Context, roomID id.RoomID, handleID entities.HandleID) error {
	_, err := c.cli.UnbanUser(ctx, roomID, &mautrix.ReqUnbanUser{
		UserID: handleID.MatrixUserID(c.UserID().Homeserver()),
	})
	if err != nil {
		return c.fail("unban_member", err)
	}
	return nil
}

// GetMembers lists every member of a room with their power level. Power
// levels are left at zero when they can't be read.
func (c *Client) GetMembers(ctx context.Context, roomID id.RoomID) ([]*entities.RoomMember, error) {
	events, err := c.getRawMembers(ctx, roomID)
	if err != nil {
		return nil, c.fail("get_members", err)
	}
	powerLevels, err := c.GetPowerLevels(ctx, roomID)
	if err != nil {
		c.log.Warn().Err(err).Str("room_id", roomID.String()).Msg("Failed to get power levels for member list")
		powerLevels = nil
	}
	members := make([]*entities.RoomMember, 0, len(events))
	for _, evt := range events {
		member, err := transformer.RoomMember(evt, powerLevels)
		if err != nil {
			return nil, c.fail("get_members", err)
		}
		members = append(members, member)
	}
	return members, nil
}
