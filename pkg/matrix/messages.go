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
	"net/http"
	"net/url"
	"slices"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/entities"
	"github.com/sudoplatform/securecomms/pkg/transformer"
)

const (
	typingTimeout          = 30 * time.Second
	typingOperationTimeout = 10 * time.Second
	relationsPageSize      = 100
	EventMarkedUnread      = "m.marked_unread"
)

// listedEventTypes are the timeline events that become messages.
var listedEventTypes = []event.Type{
	event.EventMessage,
	event.EventEncrypted,
	event.StateMember,
	transformer.EventPollStart,
	transformer.EventStablePollStart,
}

func isListedType(evtType event.Type) bool {
	return slices.ContainsFunc(listedEventTypes, func(t event.Type) bool {
		return t.Type == evtType.Type
	})
}

// SendMessageInput is a text message to send. ThreadID and ReplyToID are
// independent: setting both sends a reply inside a thread.
type SendMessageInput struct {
	RoomID       id.RoomID
	Text         string
	Mentions     []entities.HandleID
	MentionsRoom bool
	ThreadID     id.EventID
	ReplyToID    id.EventID
}

// decrypt returns the decrypted form of an encrypted event. Events that
// can't be decrypted are returned unchanged, so they surface as encrypted
// content.
func (c *Client) decrypt(ctx context.Context, evt *event.Event) (*event.Event, *bool) {
	if evt == nil || evt.Type.Type != event.EventEncrypted.Type || c.crypto == nil {
		return evt, nil
	}
	decrypted, info, err := c.crypto.DecryptEvent(ctx, evt)
	if err != nil {
		c.log.Debug().Err(err).
			Str("room_id", evt.RoomID.String()).
			Str("event_id", evt.ID.String()).
			Msg("Failed to decrypt event")
		return evt, nil
	}
	var verified *bool
	if info != nil {
		verified = &info.Verified
	}
	return decrypted, verified
}

func (c *Client) mentionsContent(handles []entities.HandleID, room bool) *event.Mentions {
	if len(handles) == 0 && !room {
		return nil
	}
	mentions := &event.Mentions{Room: room}
	for _, handleID := range handles {
		mentions.UserIDs = append(mentions.UserIDs, handleID.MatrixUserID(c.UserID().Homeserver()))
	}
	return mentions
}

func threadRelation(threadID, replyToID id.EventID) *event.RelatesTo {
	switch {
	case threadID != "":
		rel := &event.RelatesTo{Type: event.RelThread, EventID: threadID}
		if replyToID != "" {
			rel.InReplyTo = &event.InReplyTo{EventID: replyToID}
		} else {
			rel.InReplyTo = &event.InReplyTo{EventID: threadID}
			rel.IsFallingBack = true
		}
		return rel
	case replyToID != "":
		return &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: replyToID}}
	default:
		return nil
	}
}

// sendEvent sends one event and tracks its local echo in the store.
func (c *Client) sendEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, content any) (id.EventID, error) {
	txnID := c.cli.TxnID()
	raw, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("failed to marshal content: %w", err)
	}
	status := entities.DeliveryStatusSending
	if c.cli.Crypto != nil {
		if encrypted, _ := c.cli.StateStore.IsEncrypted(ctx, roomID); encrypted {
			status = entities.DeliveryStatusEncrypting
		}
	}
	echo := &event.Event{
		ID:        id.EventID("~" + txnID),
		Type:      eventType,
		Sender:    c.UserID(),
		Timestamp: time.Now().UnixMilli(),
		RoomID:    roomID,
		Content:   event.Content{VeryRaw: raw},
		Unsigned:  event.Unsigned{TransactionID: txnID},
	}
	if err = c.store.AddLocalEcho(ctx, roomID, txnID, echo, status); err != nil {
		c.log.Warn().Err(err).Str("room_id", roomID.String()).Msg("Failed to store local echo")
	}
	resp, err := c.cli.SendMessageEvent(ctx, roomID, eventType, content, mautrix.ReqSendEvent{TransactionID: txnID})
	if err != nil {
		if updateErr := c.store.UpdateLocalEcho(ctx, roomID, txnID, "", entities.DeliveryStatusNotSent); updateErr != nil {
			c.log.Warn().Err(updateErr).Msg("Failed to update local echo")
		}
		return "", err
	}
	if err = c.store.UpdateLocalEcho(ctx, roomID, txnID, resp.EventID, entities.DeliveryStatusSent); err != nil {
		c.log.Warn().Err(err).Msg("Failed to update local echo")
	}
	return resp.EventID, nil
}

// SendMessage sends a text message and returns its event ID.
func (c *Client) SendMessage(ctx context.Context, input SendMessageInput) (id.EventID, error) {
	content := &event.MessageEventContent{
		MsgType:   event.MsgText,
		Body:      input.Text,
		Mentions:  c.mentionsContent(input.Mentions, input.MentionsRoom),
		RelatesTo: threadRelation(input.ThreadID, input.ReplyToID),
	}
	eventID, err := c.sendEvent(ctx, input.RoomID, event.EventMessage, content)
	if err != nil {
		return "", c.fail("send_message", err)
	}
	return eventID, nil
}

// SendThreadMessage sends a message into the thread rooted at threadID.
func (c *Client) SendThreadMessage(ctx context.Context, roomID id.RoomID, threadID id.EventID, text string) (id.EventID, error) {
	return c.SendMessage(ctx, SendMessageInput{RoomID: roomID, Text: text, ThreadID: threadID})
}

// ReplyToMessage sends a reply. A non-empty threadID keeps the reply inside
// that thread.
func (c *Client) ReplyToMessage(ctx context.Context, roomID id.RoomID, replyToID, threadID id.EventID, text string) (id.EventID, error) {
	return c.SendMessage(ctx, SendMessageInput{RoomID: roomID, Text: text, ThreadID: threadID, ReplyToID: replyToID})
}

// EditMessage replaces the text of a message.
func (c *Client) EditMessage(ctx context.Context, roomID id.RoomID, messageID id.EventID, text string) (id.EventID, error) {
	content := &event.MessageEventContent{
		MsgType:    event.MsgText,
		Body:       "* " + text,
		NewContent: &event.MessageEventContent{MsgType: event.MsgText, Body: text},
		RelatesTo:  &event.RelatesTo{Type: event.RelReplace, EventID: messageID},
	}
	eventID, err := c.sendEvent(ctx, roomID, event.EventMessage, content)
	if err != nil {
		return "", c.fail("edit_message", err)
	}
	return eventID, nil
}

// DeleteMessage redacts a message with a structured reason.
func (c *Client) DeleteMessage(ctx context.Context, roomID id.RoomID, messageID id.EventID, reason entities.RedactReason) error {
	if reason == nil {
		reason = entities.UnknownReason{}
	}
	_, err := c.cli.RedactEvent(ctx, roomID, messageID, mautrix.ReqRedact{Reason: reason.String()})
	if err != nil {
		return c.fail("delete_message", err)
	}
	return nil
}

// ListMessagesOutput is one page of messages in ascending timestamp order.
// NextToken is empty once the start of the room has been reached.
type ListMessagesOutput struct {
	Messages  []*entities.Message
	NextToken string
}

// ListMessages pages backwards through a room, starting at nextToken or at
// the most recent event. Edits are folded into the messages they replace.
func (c *Client) ListMessages(ctx context.Context, roomID id.RoomID, limit int, nextToken string) (*ListMessagesOutput, error) {
	if limit <= 0 {
		limit = c.timelineLimit
	}
	filter := &mautrix.FilterPart{Types: listedEventTypes}
	events := make([]*event.Event, 0, limit)
	token := nextToken
	for {
		resp, err := c.cli.Messages(ctx, roomID, token, "", mautrix.DirectionBackward, filter, limit-len(events))
		if err != nil {
			return nil, c.fail("list_messages", err)
		}
		for _, evt := range resp.Chunk {
			evt.RoomID = roomID
			if transformer.IsEdit(evt) {
				continue
			}
			events = append(events, evt)
		}
		if len(resp.Chunk) == 0 || resp.End == "" {
			token = ""
			break
		}
		token = resp.End
		if len(events) >= limit {
			break
		}
	}

	receipts, err := c.store.ReadReceipts(ctx, roomID)
	if err != nil {
		c.log.Warn().Err(err).Str("room_id", roomID.String()).Msg("Failed to get read receipts")
	}
	messages := make([]*entities.Message, 0, len(events))
	for _, evt := range events {
		msg, err := c.toMessage(ctx, roomID, evt, entities.DeliveryStatusNone, receipts)
		if err != nil {
			return nil, c.fail("list_messages", err)
		} else if msg != nil {
			messages = append(messages, msg)
		}
	}
	sortMessages(messages)
	return &ListMessagesOutput{Messages: messages, NextToken: token}, nil
}

func sortMessages(messages []*entities.Message) {
	slices.SortStableFunc(messages, func(a, b *entities.Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}

// toMessage decrypts and transforms one event, then enriches it with its
// latest edit, its reactions and the receipts pointing at it.
func (c *Client) toMessage(ctx context.Context, roomID id.RoomID, evt *event.Event, status entities.DeliveryStatus, receipts map[id.UserID]ReadReceipt) (*entities.Message, error) {
	decrypted, verified := c.decrypt(ctx, evt)
	msg, err := c.transformer.ToMessage(decrypted, status)
	if err != nil || msg == nil {
		return nil, err
	}
	msg.IsVerified = verified
	if !transformer.HasServerID(evt.ID) || transformer.IsRedacted(evt) {
		return msg, nil
	}

	edits, err := c.relations(ctx, roomID, evt.ID, event.RelReplace)
	if err != nil {
		return nil, err
	}
	if latest := transformer.LatestEdit(edits); latest != nil {
		if err = c.transformer.ApplyEdit(msg, latest); err != nil {
			c.log.Warn().Err(err).Str("event_id", evt.ID.String()).Msg("Failed to apply edit")
		}
	}
	annotations, err := c.relations(ctx, roomID, evt.ID, event.RelAnnotation)
	if err != nil {
		return nil, err
	}
	msg.Reactions = transformer.GroupReactions(annotations)
	msg.Receipts = c.transformer.Receipts(receiptsFor(evt.ID, receipts))
	return msg, nil
}

func receiptsFor(eventID id.EventID, receipts map[id.UserID]ReadReceipt) map[id.UserID]time.Time {
	out := make(map[id.UserID]time.Time)
	for userID, receipt := range receipts {
		if receipt.EventID == eventID {
			out[userID] = receipt.Timestamp
		}
	}
	return out
}

// relations fetches every event with the given relation to eventID, one page
// at a time, and decrypts them.
func (c *Client) relations(ctx context.Context, roomID id.RoomID, eventID id.EventID, relType event.RelationType) ([]*event.Event, error) {
	var out []*event.Event
	from := ""
	for {
		resp, err := c.cli.GetRelations(ctx, roomID, eventID, &mautrix.ReqGetRelations{
			RelationType: relType,
			Dir:          mautrix.DirectionBackward,
			From:         from,
			Limit:        relationsPageSize,
		})
		if isNotFound(err) {
			return out, nil
		} else if err != nil {
			return nil, fmt.Errorf("failed to get %s relations of %s: %w", relType, eventID, err)
		}
		for _, evt := range resp.Chunk {
			evt.RoomID = roomID
			decrypted, _ := c.decrypt(ctx, evt)
			out = append(out, decrypted)
		}
		if resp.NextBatch == "" || len(resp.Chunk) == 0 {
			return out, nil
		}
		from = resp.NextBatch
	}
}

// GetMessage returns one message, or nil if it doesn't exist.
func (c *Client) GetMessage(ctx context.Context, roomID id.RoomID, messageID id.EventID) (*entities.Message, error) {
	status := entities.DeliveryStatusNone
	var evt *event.Event
	local, err := c.store.GetEvent(ctx, roomID, messageID)
	if err != nil {
		c.log.Warn().Err(err).Str("event_id", messageID.String()).Msg("Failed to get event from store")
	} else if local != nil {
		evt, status = local.Event, local.Status
	}
	if evt == nil {
		evt, err = c.cli.GetEvent(ctx, roomID, messageID)
		if isNotFound(err) {
			return nil, nil
		} else if err != nil {
			return nil, c.fail("get_message", err)
		}
		evt.RoomID = roomID
	}
	receipts, err := c.store.ReadReceipts(ctx, roomID)
	if err != nil {
		c.log.Warn().Err(err).Str("room_id", roomID.String()).Msg("Failed to get read receipts")
	}
	msg, err := c.toMessage(ctx, roomID, evt, status, receipts)
	if err != nil {
		return nil, c.fail("get_message", err)
	}
	return msg, nil
}

// SendTypingNotification sets or clears the typing state of the user.
func (c *Client) SendTypingNotification(ctx context.Context, roomID id.RoomID, typing bool) error {
	ctx, cancel := context.WithTimeout(ctx, typingOperationTimeout)
	defer cancel()
	if _, err := c.cli.UserTyping(ctx, roomID, typing, typingTimeout); err != nil {
		return c.fail("send_typing_notification", err)
	}
	return nil
}

// SendReadReceipt marks everything up to messageID as read and clears the
// manual unread marker.
func (c *Client) SendReadReceipt(ctx context.Context, roomID id.RoomID, messageID id.EventID) error {
	if err := c.cli.SendReceipt(ctx, roomID, messageID, event.ReceiptTypeRead, nil); err != nil {
		return c.fail("send_read_receipt", err)
	}
	err := c.store.SetReadReceipt(ctx, roomID, c.UserID(), ReadReceipt{EventID: messageID, Timestamp: time.Now()})
	if err != nil {
		c.log.Warn().Err(err).Str("room_id", roomID.String()).Msg("Failed to store own read receipt")
	}
	if unread, _ := c.isMarkedUnread(ctx, roomID); unread {
		return c.MarkAsUnread(ctx, roomID, false)
	}
	return nil
}

type markedUnreadContent struct {
	Unread bool `json:"unread"`
}

// MarkAsUnread sets the manual unread marker of a room.
func (c *Client) MarkAsUnread(ctx context.Context, roomID id.RoomID, unread bool) error {
	if err := c.cli.SetRoomAccountData(ctx, roomID, EventMarkedUnread, &markedUnreadContent{Unread: unread}); err != nil {
		return c.fail("mark_as_unread", err)
	}
	return nil
}

func (c *Client) isMarkedUnread(ctx context.Context, roomID id.RoomID) (bool, error) {
	var content markedUnreadContent
	err := c.cli.GetRoomAccountData(ctx, roomID, EventMarkedUnread, &content)
	if isNotFound(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return content.Unread, nil
}

type searchRequest struct {
	SearchCategories struct {
		RoomEvents searchRoomEvents `json:"room_events"`
	} `json:"search_categories"`
}

type searchRoomEvents struct {
	SearchTerm string         `json:"search_term"`
	OrderBy    string         `json:"order_by"`
	Filter     map[string]any `json:"filter"`
}

type searchResponse struct {
	SearchCategories struct {
		RoomEvents struct {
			Results []struct {
				Result *event.Event `json:"result"`
			} `json:"results"`
			NextBatch string `json:"next_batch"`
		} `json:"room_events"`
	} `json:"search_categories"`
}

// SearchMessages runs a server side full text search in one room, most recent
// first. Encrypted rooms can't be searched on the server.
func (c *Client) SearchMessages(ctx context.Context, roomID id.RoomID, term string, limit int, nextToken string) (*ListMessagesOutput, error) {
	var req searchRequest
	req.SearchCategories.RoomEvents = searchRoomEvents{
		SearchTerm: term,
		OrderBy:    "recent",
		Filter:     map[string]any{"rooms": []id.RoomID{roomID}, "limit": limit},
	}
	reqURL := c.cli.BuildClientURL("v3", "search")
	if nextToken != "" {
		reqURL += "?next_batch=" + url.QueryEscape(nextToken)
	}
	var resp searchResponse
	if _, err := c.cli.MakeRequest(ctx, http.MethodPost, reqURL, &req, &resp); err != nil {
		return nil, c.fail("search_messages", err)
	}
	out := &ListMessagesOutput{NextToken: resp.SearchCategories.RoomEvents.NextBatch}
	for _, result := range resp.SearchCategories.RoomEvents.Results {
		if result.Result == nil || transformer.IsEdit(result.Result) {
			continue
		}
		result.Result.RoomID = roomID
		msg, err := c.transformer.ToMessage(result.Result, entities.DeliveryStatusNone)
		if err != nil {
			c.log.Debug().Err(err).Str("event_id", result.Result.ID.String()).Msg("Skipping search result")
			continue
		} else if msg != nil {
			out.Messages = append(out.Messages, msg)
		}
	}
	return out, nil
}
