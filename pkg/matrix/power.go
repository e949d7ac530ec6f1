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

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/entities"
)

func powerLevelsFromContent(content *event.PowerLevelsEventContent) *entities.PowerLevels {
	pl := &entities.PowerLevels{
		Users:         make(map[entities.HandleID]int, len(content.Users)),
		UsersDefault:  content.UsersDefault,
		EventsDefault: content.EventsDefault,
		StateDefault:  content.StateDefault(),
		Invite:        content.Invite(),
		Kick:          content.Kick(),
		Ban:           content.Ban(),
		Redact:        content.Redact(),
	}
	for userID, level := range content.Users {
		handleID, err := entities.HandleIDFromUserID(userID)
		if err != nil {
			continue
		}
		pl.Users[handleID] = level
	}
	return pl
}

func (c *Client) powerLevelsContent(ctx context.Context, roomID id.RoomID) (*event.PowerLevelsEventContent, error) {
	var content event.PowerLevelsEventContent
	err := c.cli.StateEvent(ctx, roomID, event.StatePowerLevels, "", &content)
	if err != nil {
		return nil, err
	}
	return &content, nil
}

// GetPowerLevels returns the power levels of a room, or nil if the room has
// none. Reading a room the user can't see returns an *UnauthorizedError.
func (c *Client) GetPowerLevels(ctx context.Context, roomID id.RoomID) (*entities.PowerLevels, error) {
	content, err := c.powerLevelsContent(ctx, roomID)
	if isNotFound(err) {
		return nil, nil
	} else if isForbidden(err) {
		c.log.Warn().Err(err).Str("room_id", roomID.String()).Msg("Not allowed to read power levels")
		operationErrorsTotal.WithLabelValues("get_power_levels").Inc()
		return nil, &UnauthorizedError{Op: "get power levels", Err: err}
	} else if err != nil {
		return nil, c.fail("get_power_levels", err)
	}
	return powerLevelsFromContent(content), nil
}

// SetUserPowerLevel changes the power level of one member. A room without
// power levels state gets a new event holding only the member's level, the
// same view GetPowerLevels gives of it. Like other read-modify-write state
// updates, concurrent changes to the same room race.
func (c *Client) SetUserPowerLevel(ctx context.Context, roomID id.RoomID, handleID entities.HandleID, level int) error {
	content, err := c.powerLevelsContent(ctx, roomID)
	if isNotFound(err) {
		content, err = &event.PowerLevelsEventContent{}, nil
	}
	if isForbidden(err) {
		return &UnauthorizedError{Op: "set user power level", Err: err}
	} else if err != nil {
		return c.fail("set_user_power_level", err)
	}
	userID := handleID.MatrixUserID(c.UserID().Homeserver())
	if content.GetUserLevel(userID) == level {
		return nil
	}
	content.SetUserLevel(userID, level)
	if _, err = c.cli.SendStateEvent(ctx, roomID, event.StatePowerLevels, "", content); err != nil {
		return c.fail("set_user_power_level", err)
	}
	return nil
}

// SetUserRole sets the power level matching a role.
func (c *Client) SetUserRole(ctx context.Context, roomID id.RoomID, handleID entities.HandleID, role entities.Role) error {
	return c.SetUserPowerLevel(ctx, roomID, handleID, role.PowerLevel())
}
