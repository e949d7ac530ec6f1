// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package entities

import (
	"fmt"

	"maunium.net/go/mautrix/event"
)

type MembershipState string

const (
	MembershipJoined  MembershipState = "joined"
	MembershipInvited MembershipState = "invited"
	MembershipLeft    MembershipState = "left"
	MembershipBanned  MembershipState = "banned"
	MembershipKnocked MembershipState = "knocked"
)

// MembershipFromProtocol maps a protocol membership string to the domain
// membership state.
func MembershipFromProtocol(membership event.Membership) (MembershipState, error) {
	switch membership {
	case event.MembershipJoin:
		return MembershipJoined, nil
	case event.MembershipInvite:
		return MembershipInvited, nil
	case event.MembershipLeave:
		return MembershipLeft, nil
	case event.MembershipBan:
		return MembershipBanned, nil
	case event.MembershipKnock:
		return MembershipKnocked, nil
	default:
		return "", fmt.Errorf("unsupported membership %q", membership)
	}
}

// RoomMember is one entry of a room's member list.
type RoomMember struct {
	HandleID    HandleID
	DisplayName string
	AvatarURL   string
	Membership  MembershipState
	PowerLevel  int
}
