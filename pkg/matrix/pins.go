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

func (c *Client) pinnedEvents(ctx context.Context, roomID id.RoomID) ([]id.EventID, error) {
	var content event.PinnedEventsEventContent
	err := c.cli.StateEvent(ctx, roomID, event.StatePinnedEvents, "", &content)
	if isNotFound(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return content.Pinned, nil
}

// updatePins reads the pinned events, applies change and writes the result
// back if the number of pinned events changed. The read and the write are
// not atomic: concurrent updates to the same room race and the last writer
// wins.
func (c *Client) updatePins(ctx context.Context, roomID id.RoomID, change func([]id.EventID) []id.EventID) (bool, error) {
	pinned, err := c.pinnedEvents(ctx, roomID)
	if err != nil {
		return false, err
	}
	updated := change(slices.Clone(pinned))
	if len(updated) == len(pinned) {
		return false, nil
	}
	content := &event.PinnedEventsEventContent{Pinned: updated}
	if _, err = c.cli.SendStateEvent(ctx, roomID, event.StatePinnedEvents, "", content); err != nil {
		return false, err
	}
	return true, nil
}

// PinMessage pins or unpins a message. Nothing is written when the message
// already is in the requested state.
func (c *Client) PinMessage(ctx context.Context, roomID id.RoomID, messageID id.EventID, pin bool) error {
	_, err := c.updatePins(ctx, roomID, func(pinned []id.EventID) []id.EventID {
		if !pin {
			return slices.DeleteFunc(pinned, func(evtID id.EventID) bool { return evtID == messageID })
		} else if slices.Contains(pinned, messageID) {
			return pinned
		}
		return append(pinned, messageID)
	})
	if err != nil {
		return c.fail("pin_message", err)
	}
	return nil
}

// PinUnpinMessage flips the pinned state of a message.
func (c *Client) PinUnpinMessage(ctx context.Context, roomID id.RoomID, messageID id.EventID) error {
	_, err := c.updatePins(ctx, roomID, func(pinned []id.EventID) []id.EventID {
		if slices.Contains(pinned, messageID) {
			return slices.DeleteFunc(pinned, func(evtID id.EventID) bool { return evtID == messageID })
		}
		return append(pinned, messageID)
	})
	if err != nil {
		return c.fail("pin_unpin_message", err)
	}
	return nil
}

// GetPinnedMessages returns the pinned messages that still exist, in pin
// order.
func (c *Client) GetPinnedMessages(ctx context.Context, roomID id.RoomID) ([]*entities.Message, error) {
	pinned, err := c.pinnedEvents(ctx, roomID)
	if err != nil {
		return nil, c.fail("get_pinned_messages", err)
	}
	messages := make([]*entities.Message, 0, len(pinned))
	for _, eventID := range pinned {
		msg, err := c.GetMessage(ctx, roomID, eventID)
		if err != nil {
			return nil, err
		} else if msg != nil {
			messages = append(messages, msg)
		}
	}
	return messages, nil
}
