// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package transformer maps protocol events onto the domain message model.
//
// Events are treated as loosely-typed JSON trees: content is read from the
// raw payload instead of relying on the protocol library having parsed it,
// so unknown or partially-parsed events are handled the same way as events
// fetched over the plain HTTP API.
package transformer

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/entities"
)

// Transformer converts events seen by one user. It holds no state besides
// the user's own ID.
type Transformer struct {
	OwnUserID id.UserID
}

func New(ownUserID id.UserID) *Transformer {
	return &Transformer{OwnUserID: ownUserID}
}

// RawContent returns the JSON content of an event, whichever representation
// the event currently carries.
func RawContent(evt *event.Event) []byte {
	if len(evt.Content.VeryRaw) > 0 {
		return evt.Content.VeryRaw
	}
	var src any
	if evt.Content.Raw != nil {
		src = evt.Content.Raw
	} else if evt.Content.Parsed != nil {
		src = evt.Content.Parsed
	} else {
		return nil
	}
	data, err := json.Marshal(src)
	if err != nil {
		return nil
	}
	return data
}

func isEmptyContent(raw []byte) bool {
	if len(raw) == 0 {
		return true
	}
	res := gjson.ParseBytes(raw)
	if !res.IsObject() {
		return true
	}
	empty := true
	res.ForEach(func(_, _ gjson.Result) bool {
		empty = false
		return false
	})
	return empty
}

// HasServerID reports whether the event ID was assigned by the homeserver,
// as opposed to a local transaction placeholder.
func HasServerID(eventID id.EventID) bool {
	return strings.HasPrefix(string(eventID), "$")
}

// MessageState derives the message state from the local delivery status.
func MessageState(evt *event.Event, status entities.DeliveryStatus) entities.MessageState {
	switch {
	case status.IsPending():
		return entities.MessageStatePending
	case status == entities.DeliveryStatusSent || HasServerID(evt.ID):
		return entities.MessageStateCommitted
	default:
		return entities.MessageStateFailed
	}
}

// IsRedacted reports whether the server has redacted the event.
func IsRedacted(evt *event.Event) bool {
	return evt.Unsigned.RedactedBecause != nil
}

// ToMessage converts one event. It returns nil without error for events that
// have no ID, since those can never be addressed later.
func (t *Transformer) ToMessage(evt *event.Event, status entities.DeliveryStatus) (*entities.Message, error) {
	if evt == nil || evt.ID == "" {
		return nil, nil
	}
	raw := RawContent(evt)
	var content entities.MessageContent
	var err error
	if isEmptyContent(raw) {
		if !IsRedacted(evt) {
			return nil, ErrMissingContent
		}
		content = &entities.RedactedContent{Reason: redactionCause(evt)}
	} else {
		content, err = t.contentFor(evt, raw)
		if err != nil {
			return nil, err
		}
	}
	applyRelations(content.Meta(), raw)

	return &entities.Message{
		ID:           string(evt.ID),
		State:        MessageState(evt, status),
		Timestamp:    time.UnixMilli(evt.Timestamp),
		SenderHandle: handleFor(evt.Sender),
		IsOwn:        evt.Sender == t.OwnUserID,
		Content:      content,
	}, nil
}

func (t *Transformer) contentFor(evt *event.Event, raw []byte) (entities.MessageContent, error) {
	switch {
	case evt.Type.Type == event.EventMessage.Type:
		return messageContent(gjson.ParseBytes(raw))
	case evt.Type.Type == event.EventEncrypted.Type:
		return &entities.EncryptedContent{}, nil
	case evt.Type.Type == event.StateMember.Type:
		return membershipContent(evt, raw)
	case IsPollStart(evt.Type):
		poll, err := PollFromContent(raw)
		if err != nil {
			return nil, err
		}
		return &entities.PollContent{Poll: *poll}, nil
	case IsPollResponse(evt.Type):
		return pollResponseContent(raw), nil
	default:
		return nil, &UnsupportedEventTypeError{EventType: evt.Type.Type}
	}
}

func redactionCause(evt *event.Event) entities.RedactReason {
	because := evt.Unsigned.RedactedBecause
	if because == nil {
		return entities.UnknownReason{}
	}
	reason := gjson.GetBytes(RawContent(because), "reason").String()
	return entities.ParseRedactReason(reason)
}

func handleFor(sender id.UserID) entities.Handle {
	handleID, err := entities.HandleIDFromUserID(sender)
	if err != nil {
		handleID = entities.HandleID(sender)
	}
	return entities.Handle{ID: handleID}
}

// applyRelations attaches the thread and reply relations. They are
// independent of each other; a reply inside a thread gets both. Reply
// fallbacks that threads carry for older clients are not replies.
func applyRelations(meta *entities.ContentMeta, raw []byte) {
	rel := gjson.GetBytes(raw, `m\.relates_to`)
	if !rel.Exists() {
		return
	}
	if rel.Get("rel_type").String() == string(event.RelThread) {
		meta.ThreadID = rel.Get("event_id").String()
	}
	inReplyTo := rel.Get(`m\.in_reply_to.event_id`).String()
	if inReplyTo != "" && !rel.Get("is_falling_back").Bool() {
		meta.RepliedToMessageID = inReplyTo
	}
}

// RelationType returns the rel_type of the event's m.relates_to, if any.
func RelationType(evt *event.Event) event.RelationType {
	return event.RelationType(gjson.GetBytes(RawContent(evt), `m\.relates_to.rel_type`).String())
}

// RelatesToEventID returns the target event ID of the event's relation.
func RelatesToEventID(evt *event.Event) id.EventID {
	return id.EventID(gjson.GetBytes(RawContent(evt), `m\.relates_to.event_id`).String())
}

// ThreadID returns the thread root the event belongs to, or "".
func ThreadID(evt *event.Event) string {
	if RelationType(evt) != event.RelThread {
		return ""
	}
	return string(RelatesToEventID(evt))
}

// IsEdit reports whether the event replaces another event.
func IsEdit(evt *event.Event) bool {
	return RelationType(evt) == event.RelReplace
}

// Mentions returns the m.mentions block of the event.
func Mentions(evt *event.Event) (userIDs []id.UserID, room bool) {
	mentions := gjson.GetBytes(RawContent(evt), `m\.mentions`)
	for _, userID := range mentions.Get("user_ids").Array() {
		userIDs = append(userIDs, id.UserID(userID.String()))
	}
	return userIDs, mentions.Get("room").Bool()
}
