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
	"net/http"
	"net/url"
	"strconv"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/transformer"
)

const (
	slidingSyncListName = "rooms"
	slidingSyncTimeout  = 30 * time.Second
	slidingSyncBackoff  = 5 * time.Second
)

var errUnknownPos = mautrix.RespError{ErrCode: "M_UNKNOWN_POS"}

type slidingSyncList struct {
	Ranges        [][2]int    `json:"ranges"`
	Sort          []string    `json:"sort,omitempty"`
	RequiredState [][2]string `json:"required_state"`
	TimelineLimit int         `json:"timeline_limit"`
}

type slidingSyncExtension struct {
	Enabled bool   `json:"enabled"`
	Since   string `json:"since,omitempty"`
}

type slidingSyncRequest struct {
	Lists      map[string]slidingSyncList      `json:"lists"`
	Extensions map[string]slidingSyncExtension `json:"extensions,omitempty"`
}

type slidingSyncRoom struct {
	Name              string         `json:"name,omitempty"`
	Initial           bool           `json:"initial,omitempty"`
	RequiredState     []*event.Event `json:"required_state,omitempty"`
	Timeline          []*event.Event `json:"timeline,omitempty"`
	NotificationCount int            `json:"notification_count,omitempty"`
	HighlightCount    int            `json:"highlight_count,omitempty"`
}

type slidingSyncResponse struct {
	Pos        string                         `json:"pos"`
	Rooms      map[id.RoomID]*slidingSyncRoom `json:"rooms,omitempty"`
	Extensions struct {
		Receipts struct {
			Rooms map[id.RoomID]*event.Event `json:"rooms,omitempty"`
		} `json:"receipts"`
		ToDevice struct {
			NextBatch string         `json:"next_batch"`
			Events    []*event.Event `json:"events,omitempty"`
		} `json:"to_device"`
		E2EE struct {
			DeviceLists    mautrix.DeviceLists `json:"device_lists"`
			DeviceOTKCount mautrix.OTKCount    `json:"device_one_time_keys_count"`
			FallbackKeys   []id.KeyAlgorithm   `json:"device_unused_fallback_key_types"`
		} `json:"e2ee"`
	} `json:"extensions"`
}

// slidingSyncRequiredState is the room state requested for every room in the
// list.
var slidingSyncRequiredState = [][2]string{
	{event.StateRoomName.Type, ""},
	{event.StateRoomAvatar.Type, ""},
	{event.StateTopic.Type, ""},
	{event.StatePowerLevels.Type, ""},
	{event.StateMember.Type, "*"},
	{event.StateJoinRules.Type, ""},
	{event.StateCanonicalAlias.Type, ""},
	{event.StateEncryption.Type, ""},
	{event.EventMessage.Type, "*"},
	{event.StatePinnedEvents.Type, ""},
	{event.EventReaction.Type, "*"},
	{event.EventRedaction.Type, "*"},
	{transformer.EventPollStart.Type, "*"},
	{StateRoomType.Type, ""},
	{StateRoomTags.Type, ""},
}

func (c *Client) slidingSyncRequest(toDeviceSince string) *slidingSyncRequest {
	req := &slidingSyncRequest{
		Lists: map[string]slidingSyncList{
			slidingSyncListName: {
				Ranges:        [][2]int{{0, c.roomListSize - 1}},
				Sort:          []string{"by_notification_level", "by_recency"},
				RequiredState: slidingSyncRequiredState,
				TimelineLimit: c.timelineLimit,
			},
		},
		Extensions: map[string]slidingSyncExtension{
			"receipts":     {Enabled: true},
			"account_data": {Enabled: true},
		},
	}
	if c.crypto != nil {
		req.Extensions["e2ee"] = slidingSyncExtension{Enabled: true}
		req.Extensions["to_device"] = slidingSyncExtension{Enabled: true, Since: toDeviceSince}
	}
	return req
}

func (c *Client) runSlidingSync(ctx context.Context, prefix string) error {
	pos, err := c.store.LoadSlidingSyncPos(ctx, c.UserID())
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to load sliding sync position")
	}
	var toDeviceSince string
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		query := url.Values{"timeout": {strconv.FormatInt(slidingSyncTimeout.Milliseconds(), 10)}}
		if pos != "" {
			query.Set("pos", pos)
		}
		reqURL := c.cli.BuildClientURL("unstable", prefix, "sync") + "?" + query.Encode()
		var resp slidingSyncResponse
		_, err = c.cli.MakeRequest(ctx, http.MethodPost, reqURL, c.slidingSyncRequest(toDeviceSince), &resp)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, errUnknownPos) {
				c.log.Debug().Msg("Sliding sync position expired, restarting")
				pos = ""
				continue
			}
			c.log.Warn().Err(err).Msg("Sliding sync request failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(slidingSyncBackoff):
			}
			continue
		}
		c.processSlidingSync(ctx, &resp, pos)
		if resp.Extensions.ToDevice.NextBatch != "" {
			toDeviceSince = resp.Extensions.ToDevice.NextBatch
		}
		pos = resp.Pos
		if err = c.store.SaveSlidingSyncPos(ctx, c.UserID(), pos); err != nil {
			c.log.Warn().Err(err).Msg("Failed to save sliding sync position")
		}
	}
}

func (c *Client) processSlidingSync(ctx context.Context, resp *slidingSyncResponse, since string) {
	if c.crypto != nil {
		c.processSlidingCrypto(ctx, resp, since)
	}
	for roomID, room := range resp.Rooms {
		for _, evt := range room.RequiredState {
			prepareSlidingEvent(evt, roomID, event.StateEventType)
			c.cli.StateStoreSyncHandler(ctx, evt)
			c.dispatchCrypto(ctx, evt)
		}
		timeline := make([]*event.Event, 0, len(room.Timeline))
		for _, evt := range room.Timeline {
			class := event.MessageEventType
			if evt.StateKey != nil {
				class = event.StateEventType
			}
			prepareSlidingEvent(evt, roomID, class)
			if class == event.StateEventType {
				c.cli.StateStoreSyncHandler(ctx, evt)
			}
			timeline = append(timeline, evt)
			c.dispatchCrypto(ctx, evt)
		}
		if err := c.store.AddTimelineEvents(ctx, roomID, timeline); err != nil {
			c.log.Warn().Err(err).Str("room_id", roomID.String()).Msg("Failed to store timeline events")
		}
	}
	for roomID, evt := range resp.Extensions.Receipts.Rooms {
		c.handleReceipts(ctx, roomID, evt)
	}
}

// processSlidingCrypto hands to-device events and device list changes to the
// crypto sync handlers as a partial sync response.
func (c *Client) processSlidingCrypto(ctx context.Context, resp *slidingSyncResponse, since string) {
	e2ee := &resp.Extensions.E2EE
	partial := &mautrix.RespSync{
		NextBatch:      resp.Pos,
		ToDevice:       mautrix.SyncEventsList{Events: resp.Extensions.ToDevice.Events},
		DeviceLists:    e2ee.DeviceLists,
		DeviceOTKCount: e2ee.DeviceOTKCount,
		FallbackKeys:   e2ee.FallbackKeys,
	}
	if err := c.syncer.ProcessResponse(ctx, partial, since); err != nil {
		c.log.Err(err).Msg("Failed to process crypto sync data")
	}
}

// dispatchCrypto passes the room events the crypto handlers listen to
// through the syncer: encrypted events to be decrypted, and membership
// changes that affect who room keys are shared with.
func (c *Client) dispatchCrypto(ctx context.Context, evt *event.Event) {
	if c.crypto == nil {
		return
	}
	switch evt.Type.Type {
	case event.EventEncrypted.Type, event.StateMember.Type:
		c.syncer.Dispatch(ctx, evt)
	}
}

func prepareSlidingEvent(evt *event.Event, roomID id.RoomID, class event.TypeClass) {
	evt.RoomID = roomID
	evt.Type.Class = class
	// Unknown types are left unparsed and read from the raw content.
	_ = evt.Content.ParseRaw(evt.Type)
}
