// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package entities

// Role is a product-level permission tier mapped onto room power levels.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
)

const (
	PowerLevelAdmin       = 100
	PowerLevelModerator   = 50
	PowerLevelParticipant = 0
)

// PowerLevel returns the room power level granted to the role.
func (r Role) PowerLevel() int {
	switch r {
	case RoleAdmin:
		return PowerLevelAdmin
	case RoleModerator:
		return PowerLevelModerator
	default:
		return PowerLevelParticipant
	}
}

// RoleForPowerLevel maps a power level onto the highest role it satisfies.
func RoleForPowerLevel(level int) Role {
	switch {
	case level >= PowerLevelAdmin:
		return RoleAdmin
	case level >= PowerLevelModerator:
		return RoleModerator
	default:
		return RoleParticipant
	}
}

// PowerLevels is the domain view of a room's power level state.
type PowerLevels struct {
	Users         map[HandleID]int
	UsersDefault  int
	EventsDefault int
	StateDefault  int
	Invite        int
	Kick          int
	Ban           int
	Redact        int
}

// RoleOf returns the role of a handle in the room.
func (p *PowerLevels) RoleOf(handleID HandleID) Role {
	if level, ok := p.Users[handleID]; ok {
		return RoleForPowerLevel(level)
	}
	return RoleForPowerLevel(p.UsersDefault)
}
