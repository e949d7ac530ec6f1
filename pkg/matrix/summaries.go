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
	"errors"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/entities"
	"github.com/sudoplatform/securecomms/pkg/transformer"
)

// summaryFanOut bounds how many rooms are summarized at once.
const summaryFanOut = 8

func isUnreadCandidate(evtType event.Type) bool {
	return isListedType(evtType) || evtType.Type == event.EventReaction.Type
}

// unreadAfter returns the events that come after the own read receipt. When
// the receipt points outside the stored timeline the receipt timestamp is
// used instead, and without any receipt every event is unread.
func unreadAfter(timeline []*TimelineEvent, receipt *ReadReceipt) []*TimelineEvent {
	if receipt == nil {
		return timeline
	}
	idx := slices.IndexFunc(timeline, func(entry *TimelineEvent) bool {
		return entry.Event.ID == receipt.EventID
	})
	if idx >= 0 {
		return timeline[idx+1:]
	}
	cutoff := receipt.Timestamp.UnixMilli()
	var out []*TimelineEvent
	for _, entry := range timeline {
		if entry.Event.Timestamp > cutoff {
			out = append(out, entry)
		}
	}
	return out
}

// countUnread folds unread events into the total, mention and per-thread
// counters. Own events, edits and redacted events never count.
func (c *Client) countUnread(ctx context.Context, events []*TimelineEvent, summary *entities.ChatSummary) {
	ownUserID := c.UserID()
	for _, entry := range events {
		evt := entry.Event
		if evt.Sender == ownUserID || transformer.IsRedacted(evt) {
			continue
		}
		// Encrypted events are classified by their decrypted type. Events
		// that fail to decrypt still count as encrypted messages.
		decrypted, _ := c.decrypt(ctx, evt)
		if !isUnreadCandidate(decrypted.Type) || transformer.IsEdit(decrypted) {
			continue
		}
		mentioned := false
		userIDs, room := transformer.Mentions(decrypted)
		if room || slices.Contains(userIDs, ownUserID) {
			mentioned = true
		}
		summary.UnreadCount.All++
		if mentioned {
			summary.UnreadCount.Mentions++
		}
		if threadID := transformer.ThreadID(decrypted); threadID != "" {
			threadCount := summary.ThreadUnreadCount[threadID]
			threadCount.All++
			if mentioned {
				threadCount.Mentions++
			}
			summary.ThreadUnreadCount[threadID] = threadCount
		}
	}
}

// latestEntry is the most recent timeline event that becomes a message.
func latestEntry(timeline []*TimelineEvent) *TimelineEvent {
	for i := len(timeline) - 1; i >= 0; i-- {
		evt := timeline[i].Event
		if isListedType(evt.Type) && !transformer.IsEdit(evt) {
			return timeline[i]
		}
	}
	return nil
}

func (c *Client) roomSummary(ctx context.Context, roomID id.RoomID) (*entities.ChatSummary, error) {
	summary := &entities.ChatSummary{ThreadUnreadCount: make(map[string]entities.UnreadCount)}
	timeline, err := c.store.Timeline(ctx, roomID, 0)
	if err != nil {
		return nil, err
	}
	latest := latestEntry(timeline)
	if latest == nil {
		return summary, nil
	}
	receipts, err := c.store.ReadReceipts(ctx, roomID)
	if err != nil {
		return nil, err
	}
	var ownReceipt *ReadReceipt
	if receipt, ok := receipts[c.UserID()]; ok {
		ownReceipt = &receipt
	}
	c.countUnread(ctx, unreadAfter(timeline, ownReceipt), summary)

	summary.LatestMessage, err = c.toMessage(ctx, roomID, latest.Event, latest.Status, receipts)
	if err != nil {
		c.log.Warn().Err(err).
			Str("room_id", roomID.String()).
			Str("event_id", latest.Event.ID.String()).
			Msg("Failed to transform latest message")
		summary.LatestMessage = nil
	}
	summary.HasUnreadMessages = summary.UnreadCount.All > 0
	if !summary.HasUnreadMessages {
		if summary.HasUnreadMessages, err = c.isMarkedUnread(ctx, roomID); err != nil {
			c.log.Warn().Err(err).Str("room_id", roomID.String()).Msg("Failed to read unread marker")
		}
	}
	return summary, nil
}

// GetChatSummaries computes a summary for every recipient, in the order the
// recipients are given. Recipients that resolve to the same room share one
// computation. Summaries are never cached.
func (c *Client) GetChatSummaries(ctx context.Context, recipients []entities.Recipient) ([]*entities.ChatSummary, error) {
	roomIDs := make([]id.RoomID, len(recipients))
	for i, recipient := range recipients {
		roomID, err := c.ResolveRecipient(ctx, recipient)
		if errors.Is(err, ErrNoDirectChat) {
			continue
		} else if err != nil {
			return nil, c.fail("get_chat_summaries", err)
		}
		roomIDs[i] = roomID
	}

	var lock sync.Mutex
	byRoom := make(map[id.RoomID]*entities.ChatSummary)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(summaryFanOut)
	for _, roomID := range roomIDs {
		if roomID == "" {
			continue
		}
		lock.Lock()
		_, seen := byRoom[roomID]
		byRoom[roomID] = nil
		lock.Unlock()
		if seen {
			continue
		}
		eg.Go(func() error {
			summary, err := c.roomSummary(egCtx, roomID)
			if err != nil {
				return err
			}
			lock.Lock()
			byRoom[roomID] = summary
			lock.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, c.fail("get_chat_summaries", err)
	}

	summaries := make([]*entities.ChatSummary, len(recipients))
	for i, recipient := range recipients {
		summary := entities.ChatSummary{ThreadUnreadCount: make(map[string]entities.UnreadCount)}
		if computed := byRoom[roomIDs[i]]; computed != nil {
			summary = *computed
			summary.ThreadUnreadCount = maps.Clone(computed.ThreadUnreadCount)
		}
		summary.Recipient = recipient
		summaries[i] = &summary
	}
	return summaries, nil
}
