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

	"github.com/tidwall/gjson"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/entities"
	"github.com/sudoplatform/securecomms/pkg/transformer"
)

// redactedEventID returns the target of a redaction event. Newer room
// versions move the target into the content.
func redactedEventID(evt *event.Event) id.EventID {
	if evt.Redacts != "" {
		return evt.Redacts
	}
	return id.EventID(gjson.GetBytes(transformer.RawContent(evt), "redacts").String())
}

// findOwnReaction searches the live timeline for a reaction the user sent to
// messageID with the given key that hasn't been redacted since.
func findOwnReaction(timeline []*TimelineEvent, ownUserID id.UserID, messageID id.EventID, key string) id.EventID {
	redacted := make(map[id.EventID]struct{})
	for _, entry := range timeline {
		if entry.Event.Type.Type == event.EventRedaction.Type {
			redacted[redactedEventID(entry.Event)] = struct{}{}
		}
	}
	for i := len(timeline) - 1; i >= 0; i-- {
		evt := timeline[i].Event
		if evt.Type.Type != event.EventReaction.Type || evt.Sender != ownUserID || !transformer.HasServerID(evt.ID) {
			continue
		} else if _, ok := redacted[evt.ID]; ok || transformer.IsRedacted(evt) {
			continue
		}
		if transformer.RelatesToEventID(evt) == messageID && transformer.ReactionKey(evt) == key {
			return evt.ID
		}
	}
	return ""
}

// ToggleReaction removes the user's reaction with key from a message if there
// is one, and adds it otherwise.
func (c *Client) ToggleReaction(ctx context.Context, roomID id.RoomID, messageID id.EventID, key string) error {
	timeline, err := c.store.Timeline(ctx, roomID, 0)
	if err != nil {
		return c.fail("toggle_reaction", err)
	}
	if existing := findOwnReaction(timeline, c.UserID(), messageID, key); existing != "" {
		_, err = c.cli.RedactEvent(ctx, roomID, existing, mautrix.ReqRedact{Reason: entities.EditReactionReason{}.String()})
		if err != nil {
			return c.fail("toggle_reaction", err)
		}
		return nil
	}
	content := &event.ReactionEventContent{
		RelatesTo: event.RelatesTo{Type: event.RelAnnotation, EventID: messageID, Key: key},
	}
	if _, err = c.sendEvent(ctx, roomID, event.EventReaction, content); err != nil {
		return c.fail("toggle_reaction", err)
	}
	return nil
}

// GetReactions returns the reactions on a message grouped by key.
func (c *Client) GetReactions(ctx context.Context, roomID id.RoomID, messageID id.EventID) ([]entities.Reaction, error) {
	annotations, err := c.relations(ctx, roomID, messageID, event.RelAnnotation)
	if err != nil {
		return nil, c.fail("get_reactions", err)
	}
	return transformer.GroupReactions(annotations), nil
}
