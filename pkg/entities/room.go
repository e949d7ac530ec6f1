// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package entities

// RoomType distinguishes the product-level chat kinds that share the same
// underlying protocol room.
type RoomType string

const (
	RoomTypeChannel    RoomType = "channel"
	RoomTypeGroup      RoomType = "group"
	RoomTypeDirectChat RoomType = "directChat"
)

// RoomTag is a free-form label shared by all members of a room, such as the
// topics of a public channel.
type RoomTag string

// Room is the domain view of a room's current state.
type Room struct {
	ID          string
	Type        RoomType
	Name        string
	Topic       string
	AvatarURL   string
	Encrypted   bool
	MemberCount int
	Tags        []RoomTag
}
