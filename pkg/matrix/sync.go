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
	"time"

	"github.com/tidwall/gjson"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/transformer"
)

// SyncStrategy is the sync mechanism negotiated with the homeserver.
type SyncStrategy string

const (
	SyncStrategyNone    SyncStrategy = ""
	SyncStrategySliding SyncStrategy = "sliding"
	SyncStrategyFull    SyncStrategy = "full"
)

// Unstable feature flags advertised by homeservers with sliding sync.
const (
	featureSimplifiedSlidingSync = "org.matrix.simplified_msc3575"
	featureSlidingSync           = "org.matrix.msc3575"
)

// SyncStrategy returns the strategy of the running sync loop.
func (c *Client) SyncStrategy() SyncStrategy {
	c.syncLock.Lock()
	defer c.syncLock.Unlock()
	return c.syncStrategy
}

// negotiateSync probes the homeserver for sliding sync. It returns the
// unstable prefix to use, or "" for full sync.
func (c *Client) negotiateSync(ctx context.Context) string {
	versions, err := c.cli.Versions(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to get server versions, falling back to full sync")
		return ""
	}
	switch {
	case versions.UnstableFeatures[featureSimplifiedSlidingSync]:
		return featureSimplifiedSlidingSync
	case versions.UnstableFeatures[featureSlidingSync]:
		return featureSlidingSync
	default:
		return ""
	}
}

// StartSyncing negotiates a sync strategy and starts the sync loop in the
// background. The loop runs until StopSyncing is called.
func (c *Client) StartSyncing(ctx context.Context) error {
	c.syncLock.Lock()
	defer c.syncLock.Unlock()
	if c.stopSync != nil {
		return ErrAlreadySyncing
	}

	prefix := c.negotiateSync(ctx)
	strategy := SyncStrategyFull
	if prefix != "" {
		strategy = SyncStrategySliding
	}
	syncCtx, cancel := context.WithCancel(c.log.WithContext(context.Background()))
	done := make(chan struct{})
	c.syncStrategy = strategy
	c.stopSync = cancel
	c.syncDone = done
	syncStrategyTotal.WithLabelValues(string(strategy)).Inc()
	activeSyncs.Inc()
	c.log.Info().Str("strategy", string(strategy)).Msg("Starting sync")

	go func() {
		defer close(done)
		defer activeSyncs.Dec()
		var err error
		if strategy == SyncStrategySliding {
			err = c.runSlidingSync(syncCtx, prefix)
		} else {
			err = c.runFullSync(syncCtx)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			syncErrorsTotal.WithLabelValues(string(strategy)).Inc()
			c.log.Err(err).Msg("Sync loop stopped")
		}
	}()
	return nil
}

// StopSyncing stops the sync loop and forgets the negotiated strategy. It
// waits for the loop to exit.
func (c *Client) StopSyncing() {
	c.syncLock.Lock()
	cancel, done := c.stopSync, c.syncDone
	c.stopSync = nil
	c.syncDone = nil
	c.syncStrategy = SyncStrategyNone
	c.syncLock.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	c.cli.StopSync()
	<-done
	c.log.Info().Msg("Stopped sync")
}

func (c *Client) runFullSync(ctx context.Context) error {
	return c.cli.SyncWithContext(ctx)
}

func (c *Client) handleSyncEvent(ctx context.Context, evt *event.Event) {
	switch {
	case evt.Mautrix.EventSource&event.SourceDecrypted != 0:
		// Plaintext is never persisted.
	case evt.Type.Type == event.EphemeralEventReceipt.Type:
		c.handleReceipts(ctx, evt.RoomID, evt)
	case evt.Mautrix.EventSource&event.SourceTimeline != 0:
		if err := c.store.AddTimelineEvents(ctx, evt.RoomID, []*event.Event{evt}); err != nil {
			c.log.Warn().Err(err).
				Str("room_id", evt.RoomID.String()).
				Str("event_id", evt.ID.String()).
				Msg("Failed to store timeline event")
		}
	}
}

// handleReceipts stores public and private read receipts.
func (c *Client) handleReceipts(ctx context.Context, roomID id.RoomID, evt *event.Event) {
	gjson.ParseBytes(transformer.RawContent(evt)).ForEach(func(eventID, receipts gjson.Result) bool {
		for _, receiptType := range []string{string(event.ReceiptTypeRead), string(event.ReceiptTypeReadPrivate)} {
			receipts.Get(gjson.Escape(receiptType)).ForEach(func(userID, receipt gjson.Result) bool {
				err := c.store.SetReadReceipt(ctx, roomID, id.UserID(userID.String()), ReadReceipt{
					EventID:   id.EventID(eventID.String()),
					Timestamp: time.UnixMilli(receipt.Get("ts").Int()),
				})
				if err != nil {
					c.log.Warn().Err(err).Str("room_id", roomID.String()).Msg("Failed to store read receipt")
				}
				return true
			})
		}
		return true
	})
}
