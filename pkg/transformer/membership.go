// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package transformer

import (
	"github.com/tidwall/gjson"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/entities"
)

func membershipContent(evt *event.Event, raw []byte) (entities.MessageContent, error) {
	membership := gjson.GetBytes(raw, "membership").String()
	if membership == "" {
		return nil, ErrMissingMembership
	}
	change, err := entities.MembershipFromProtocol(event.Membership(membership))
	if err != nil {
		return nil, err
	}
	target := evt.Sender
	if evt.StateKey != nil && *evt.StateKey != "" {
		target = id.UserID(*evt.StateKey)
	}
	return &entities.MembershipChangeContent{
		HandleID: handleFor(target).ID,
		Change:   change,
	}, nil
}

// RoomMember converts a member state event into a member list entry.
func RoomMember(evt *event.Event, powerLevels *entities.PowerLevels) (*entities.RoomMember, error) {
	raw := RawContent(evt)
	membership := gjson.GetBytes(raw, "membership").String()
	if membership == "" {
		return nil, ErrMissingMembership
	}
	state, err := entities.MembershipFromProtocol(event.Membership(membership))
	if err != nil {
		return nil, err
	}
	var target id.UserID
	if evt.StateKey != nil {
		target = id.UserID(*evt.StateKey)
	}
	member := &entities.RoomMember{
		HandleID:    handleFor(target).ID,
		DisplayName: gjson.GetBytes(raw, "displayname").String(),
		AvatarURL:   gjson.GetBytes(raw, "avatar_url").String(),
		Membership:  state,
	}
	if powerLevels != nil {
		if level, ok := powerLevels.Users[member.HandleID]; ok {
			member.PowerLevel = level
		} else {
			member.PowerLevel = powerLevels.UsersDefault
		}
	}
	return member, nil
}
