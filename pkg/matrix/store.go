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
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/entities"
)

// ReadReceipt is the latest read receipt of one user in one room.
type ReadReceipt struct {
	EventID   id.EventID
	Timestamp time.Time
}

// TimelineEvent is a timeline event as kept by the Store, together with the
// local delivery status of events sent from this device.
type TimelineEvent struct {
	Event  *event.Event
	TxnID  string
	Status entities.DeliveryStatus
}

// Store keeps the live part of each room timeline as fed by sync, plus the
// sync tokens. The homeserver remains the source of truth: nothing here is
// required to page through history.
type Store interface {
	mautrix.SyncStore

	// AddTimelineEvents appends events in sync order. An event carrying the
	// transaction ID of a pending local echo replaces that echo.
	AddTimelineEvents(ctx context.Context, roomID id.RoomID, events []*event.Event) error
	// AddLocalEcho appends an event that is about to be sent.
	AddLocalEcho(ctx context.Context, roomID id.RoomID, txnID string, evt *event.Event, status entities.DeliveryStatus) error
	// UpdateLocalEcho changes the status of a local echo. When eventID is
	// set the echo takes on the server assigned ID.
	UpdateLocalEcho(ctx context.Context, roomID id.RoomID, txnID string, eventID id.EventID, status entities.DeliveryStatus) error
	// Timeline returns up to limit of the most recent events in ascending
	// order. A limit of zero returns everything stored.
	Timeline(ctx context.Context, roomID id.RoomID, limit int) ([]*TimelineEvent, error)
	GetEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) (*TimelineEvent, error)

	SetReadReceipt(ctx context.Context, roomID id.RoomID, userID id.UserID, receipt ReadReceipt) error
	ReadReceipts(ctx context.Context, roomID id.RoomID) (map[id.UserID]ReadReceipt, error)

	SaveSlidingSyncPos(ctx context.Context, userID id.UserID, pos string) error
	LoadSlidingSyncPos(ctx context.Context, userID id.UserID) (string, error)
}

const defaultTimelineCapacity = 500

type memoryRoom struct {
	events   []*TimelineEvent
	receipts map[id.UserID]ReadReceipt
}

// MemoryStore is a Store that lives as long as the process. Each room keeps
// at most Capacity timeline events.
type MemoryStore struct {
	Capacity int

	lock       sync.RWMutex
	rooms      map[id.RoomID]*memoryRoom
	filterIDs  map[id.UserID]string
	nextBatch  map[id.UserID]string
	slidingPos map[id.UserID]string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Capacity:   defaultTimelineCapacity,
		rooms:      make(map[id.RoomID]*memoryRoom),
		filterIDs:  make(map[id.UserID]string),
		nextBatch:  make(map[id.UserID]string),
		slidingPos: make(map[id.UserID]string),
	}
}

func (ms *MemoryStore) room(roomID id.RoomID) *memoryRoom {
	room, ok := ms.rooms[roomID]
	if !ok {
		room = &memoryRoom{receipts: make(map[id.UserID]ReadReceipt)}
		ms.rooms[roomID] = room
	}
	return room
}

func (ms *MemoryStore) SaveFilterID(_ context.Context, userID id.UserID, filterID string) error {
	ms.lock.Lock()
	ms.filterIDs[userID] = filterID
	ms.lock.Unlock()
	return nil
}

func (ms *MemoryStore) LoadFilterID(_ context.Context, userID id.UserID) (string, error) {
	ms.lock.RLock()
	defer ms.lock.RUnlock()
	return ms.filterIDs[userID], nil
}

func (ms *MemoryStore) SaveNextBatch(_ context.Context, userID id.UserID, nextBatchToken string) error {
	ms.lock.Lock()
	ms.nextBatch[userID] = nextBatchToken
	ms.lock.Unlock()
	return nil
}

func (ms *MemoryStore) LoadNextBatch(_ context.Context, userID id.UserID) (string, error) {
	ms.lock.RLock()
	defer ms.lock.RUnlock()
	return ms.nextBatch[userID], nil
}

func (ms *MemoryStore) SaveSlidingSyncPos(_ context.Context, userID id.UserID, pos string) error {
	ms.lock.Lock()
	ms.slidingPos[userID] = pos
	ms.lock.Unlock()
	return nil
}

func (ms *MemoryStore) LoadSlidingSyncPos(_ context.Context, userID id.UserID) (string, error) {
	ms.lock.RLock()
	defer ms.lock.RUnlock()
	return ms.slidingPos[userID], nil
}

func (ms *MemoryStore) trim(room *memoryRoom) {
	capacity := ms.Capacity
	if capacity <= 0 {
		capacity = defaultTimelineCapacity
	}
	if extra := len(room.events) - capacity; extra > 0 {
		room.events = slices.Delete(room.events, 0, extra)
	}
}

func (ms *MemoryStore) AddTimelineEvents(_ context.Context, roomID id.RoomID, events []*event.Event) error {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	room := ms.room(roomID)
	for _, evt := range events {
		idx := slices.IndexFunc(room.events, func(existing *TimelineEvent) bool {
			return existing.Event.ID == evt.ID ||
				(evt.Unsigned.TransactionID != "" && existing.TxnID == evt.Unsigned.TransactionID)
		})
		if idx >= 0 {
			existing := room.events[idx]
			existing.Event = evt
			if existing.TxnID != "" {
				existing.Status = entities.DeliveryStatusSent
			}
			continue
		}
		room.events = append(room.events, &TimelineEvent{Event: evt})
	}
	ms.trim(room)
	return nil
}

func (ms *MemoryStore) AddLocalEcho(_ context.Context, roomID id.RoomID, txnID string, evt *event.Event, status entities.DeliveryStatus) error {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	room := ms.room(roomID)
	room.events = append(room.events, &TimelineEvent{Event: evt, TxnID: txnID, Status: status})
	ms.trim(room)
	return nil
}

func (ms *MemoryStore) UpdateLocalEcho(_ context.Context, roomID id.RoomID, txnID string, eventID id.EventID, status entities.DeliveryStatus) error {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	room := ms.room(roomID)
	for _, existing := range room.events {
		if existing.TxnID != txnID {
			continue
		}
		if eventID != "" && existing.Event.ID != eventID {
			// Copy so readers holding the old pointer aren't affected.
			updated := *existing.Event
			updated.ID = eventID
			existing.Event = &updated
		}
		existing.Status = status
		return nil
	}
	return nil
}

func copyEntry(entry *TimelineEvent) *TimelineEvent {
	cp := *entry
	return &cp
}

func (ms *MemoryStore) Timeline(_ context.Context, roomID id.RoomID, limit int) ([]*TimelineEvent, error) {
	ms.lock.RLock()
	defer ms.lock.RUnlock()
	room, ok := ms.rooms[roomID]
	if !ok {
		return nil, nil
	}
	events := room.events
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]*TimelineEvent, len(events))
	for i, entry := range events {
		out[i] = copyEntry(entry)
	}
	return out, nil
}

func (ms *MemoryStore) GetEvent(_ context.Context, roomID id.RoomID, eventID id.EventID) (*TimelineEvent, error) {
	ms.lock.RLock()
	defer ms.lock.RUnlock()
	room, ok := ms.rooms[roomID]
	if !ok {
		return nil, nil
	}
	for _, entry := range room.events {
		if entry.Event.ID == eventID {
			return copyEntry(entry), nil
		}
	}
	return nil, nil
}

func (ms *MemoryStore) SetReadReceipt(_ context.Context, roomID id.RoomID, userID id.UserID, receipt ReadReceipt) error {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	room := ms.room(roomID)
	if existing, ok := room.receipts[userID]; ok && existing.Timestamp.After(receipt.Timestamp) {
		return nil
	}
	room.receipts[userID] = receipt
	return nil
}

func (ms *MemoryStore) ReadReceipts(_ context.Context, roomID id.RoomID) (map[id.UserID]ReadReceipt, error) {
	ms.lock.RLock()
	defer ms.lock.RUnlock()
	out := make(map[id.UserID]ReadReceipt)
	if room, ok := ms.rooms[roomID]; ok {
		for userID, receipt := range room.receipts {
			out[userID] = receipt
		}
	}
	return out, nil
}
