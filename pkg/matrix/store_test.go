package matrix

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/entities"
)

func newStores(t *testing.T, capacity int) map[string]Store {
	t.Helper()
	mem := NewMemoryStore()
	mem.Capacity = capacity
	sqlStore, err := OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	sqlStore.SetCapacity(capacity)
	t.Cleanup(func() { _ = sqlStore.Close() })
	return map[string]Store{"memory": mem, "sqlite": sqlStore}
}

func timelineIDs(entries []*TimelineEvent) []id.EventID {
	ids := make([]id.EventID, len(entries))
	for i, entry := range entries {
		ids[i] = entry.Event.ID
	}
	return ids
}

func TestStoreLocalEchoReplacement(t *testing.T) {
	for name, store := range newStores(t, 10) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.AddTimelineEvents(ctx, testRoomID, []*event.Event{textEvent(t, "$first", bobUserID, 1000, "hi")}))

			echo := textEvent(t, "~txn1", ownUserID, 2000, "hello")
			require.NoError(t, store.AddLocalEcho(ctx, testRoomID, "txn1", echo, entities.DeliveryStatusSending))

			remote := textEvent(t, "$second", ownUserID, 2001, "hello")
			remote.Unsigned.TransactionID = "txn1"
			require.NoError(t, store.AddTimelineEvents(ctx, testRoomID, []*event.Event{remote}))

			timeline, err := store.Timeline(ctx, testRoomID, 0)
			require.NoError(t, err)
			assert.Equal(t, []id.EventID{"$first", "$second"}, timelineIDs(timeline))
			assert.Equal(t, "txn1", timeline[1].TxnID)
			assert.Equal(t, entities.DeliveryStatusSent, timeline[1].Status)
		})
	}
}

func TestStoreUpdateLocalEcho(t *testing.T) {
	for name, store := range newStores(t, 10) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.AddLocalEcho(ctx, testRoomID, "txn1", textEvent(t, "~txn1", ownUserID, 1000, "a"), entities.DeliveryStatusSending))
			require.NoError(t, store.AddLocalEcho(ctx, testRoomID, "txn2", textEvent(t, "~txn2", ownUserID, 1001, "b"), entities.DeliveryStatusSending))

			require.NoError(t, store.UpdateLocalEcho(ctx, testRoomID, "txn1", "$sent", entities.DeliveryStatusSent))
			require.NoError(t, store.UpdateLocalEcho(ctx, testRoomID, "txn2", "", entities.DeliveryStatusNotSent))

			sent, err := store.GetEvent(ctx, testRoomID, "$sent")
			require.NoError(t, err)
			require.NotNil(t, sent)
			assert.Equal(t, entities.DeliveryStatusSent, sent.Status)

			failed, err := store.GetEvent(ctx, testRoomID, "~txn2")
			require.NoError(t, err)
			require.NotNil(t, failed)
			assert.Equal(t, entities.DeliveryStatusNotSent, failed.Status)

			missing, err := store.GetEvent(ctx, testRoomID, "$nothing")
			require.NoError(t, err)
			assert.Nil(t, missing)
		})
	}
}

func TestStoreCapacity(t *testing.T) {
	for name, store := range newStores(t, 3) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var events []*event.Event
			for i, eventID := range []id.EventID{"$1", "$2", "$3", "$4", "$5"} {
				events = append(events, textEvent(t, eventID, bobUserID, int64(1000+i), "msg"))
			}
			require.NoError(t, store.AddTimelineEvents(ctx, testRoomID, events))

			timeline, err := store.Timeline(ctx, testRoomID, 0)
			require.NoError(t, err)
			assert.Equal(t, []id.EventID{"$3", "$4", "$5"}, timelineIDs(timeline))

			latest, err := store.Timeline(ctx, testRoomID, 2)
			require.NoError(t, err)
			assert.Equal(t, []id.EventID{"$4", "$5"}, timelineIDs(latest))

			empty, err := store.Timeline(ctx, "!other:example.org", 0)
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestStoreReadReceiptsKeepNewest(t *testing.T) {
	for name, store := range newStores(t, 10) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			newer := ReadReceipt{EventID: "$2", Timestamp: time.UnixMilli(2000)}
			require.NoError(t, store.SetReadReceipt(ctx, testRoomID, bobUserID, newer))
			require.NoError(t, store.SetReadReceipt(ctx, testRoomID, bobUserID, ReadReceipt{EventID: "$1", Timestamp: time.UnixMilli(1000)}))
			require.NoError(t, store.SetReadReceipt(ctx, testRoomID, carolUser, ReadReceipt{EventID: "$1", Timestamp: time.UnixMilli(1500)}))

			receipts, err := store.ReadReceipts(ctx, testRoomID)
			require.NoError(t, err)
			require.Len(t, receipts, 2)
			assert.Equal(t, id.EventID("$2"), receipts[bobUserID].EventID)
			assert.True(t, receipts[bobUserID].Timestamp.Equal(newer.Timestamp))
			assert.Equal(t, id.EventID("$1"), receipts[carolUser].EventID)
		})
	}
}

func TestStoreSyncTokens(t *testing.T) {
	for name, store := range newStores(t, 10) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			pos, err := store.LoadSlidingSyncPos(ctx, ownUserID)
			require.NoError(t, err)
			assert.Empty(t, pos)

			require.NoError(t, store.SaveSlidingSyncPos(ctx, ownUserID, "pos-1"))
			require.NoError(t, store.SaveSlidingSyncPos(ctx, ownUserID, "pos-2"))
			require.NoError(t, store.SaveNextBatch(ctx, ownUserID, "batch"))

			pos, err = store.LoadSlidingSyncPos(ctx, ownUserID)
			require.NoError(t, err)
			assert.Equal(t, "pos-2", pos)
			batch, err := store.LoadNextBatch(ctx, ownUserID)
			require.NoError(t, err)
			assert.Equal(t, "batch", batch)
			other, err := store.LoadNextBatch(ctx, bobUserID)
			require.NoError(t, err)
			assert.Empty(t, other)
		})
	}
}
