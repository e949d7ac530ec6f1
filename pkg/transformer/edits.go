// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package transformer

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/entities"
)

// LatestEdit picks the replacement with the greatest timestamp. Redacted
// edits are skipped.
func LatestEdit(edits []*event.Event) *event.Event {
	var latest *event.Event
	for _, edit := range edits {
		if edit == nil || IsRedacted(edit) {
			continue
		}
		if latest == nil || edit.Timestamp > latest.Timestamp {
			latest = edit
		}
	}
	return latest
}

// ApplyEdit replaces the content of msg with the new content of edit. The
// thread and reply relations of the original message are kept.
func (t *Transformer) ApplyEdit(msg *entities.Message, edit *event.Event) error {
	if msg == nil || edit == nil {
		return nil
	}
	newContent := gjson.GetBytes(RawContent(edit), `m\.new_content`)
	if !newContent.IsObject() {
		return fmt.Errorf("edit %s has no new content", edit.ID)
	}
	replacement := &event.Event{
		ID:        edit.ID,
		Type:      edit.Type,
		Sender:    edit.Sender,
		Timestamp: edit.Timestamp,
		StateKey:  edit.StateKey,
		Content:   event.Content{VeryRaw: []byte(newContent.Raw)},
	}
	content, err := t.contentFor(replacement, []byte(newContent.Raw))
	if err != nil {
		return fmt.Errorf("failed to parse edit %s: %w", edit.ID, err)
	}
	meta := content.Meta()
	*meta = *msg.Content.Meta()
	meta.IsEdited = true
	msg.Content = content
	return nil
}

// GroupReactions groups annotation events by key, counting distinct senders.
// Redacted annotations are ignored. Groups keep the order in which their key
// was first seen.
func GroupReactions(annotations []*event.Event) []entities.Reaction {
	reactions := make([]entities.Reaction, 0)
	index := make(map[string]int)
	seen := make(map[string]map[id.UserID]struct{})
	for _, evt := range annotations {
		if evt == nil || IsRedacted(evt) {
			continue
		}
		key := ReactionKey(evt)
		if key == "" {
			continue
		}
		i, ok := index[key]
		if !ok {
			i = len(reactions)
			index[key] = i
			seen[key] = make(map[id.UserID]struct{})
			reactions = append(reactions, entities.Reaction{Content: key})
		}
		if _, dup := seen[key][evt.Sender]; dup {
			continue
		}
		seen[key][evt.Sender] = struct{}{}
		reactions[i].Count++
		reactions[i].SenderHandles = append(reactions[i].SenderHandles, handleFor(evt.Sender).ID)
	}
	return reactions
}

// ReactionKey returns the annotation key of a reaction event.
func ReactionKey(evt *event.Event) string {
	rel := gjson.GetBytes(RawContent(evt), `m\.relates_to`)
	if rel.Get("rel_type").String() != string(event.RelAnnotation) {
		return ""
	}
	return rel.Get("key").String()
}

// Receipts converts read receipt timestamps into receipts ordered by time.
// The reader's own receipt is not included.
func (t *Transformer) Receipts(readers map[id.UserID]time.Time) []entities.Receipt {
	receipts := make([]entities.Receipt, 0, len(readers))
	for userID, ts := range readers {
		if userID == t.OwnUserID {
			continue
		}
		receipts = append(receipts, entities.Receipt{HandleID: handleFor(userID).ID, Timestamp: ts})
	}
	slices.SortFunc(receipts, func(a, b entities.Receipt) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(string(a.HandleID), string(b.HandleID))
	})
	return receipts
}
