package matrix

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/entities"
)

func mentionEvent(t *testing.T, eventID id.EventID, sender id.UserID, ts int64, mentions map[string]any, relatesTo map[string]any) *event.Event {
	t.Helper()
	content := map[string]any{"msgtype": "m.text", "body": "text"}
	if mentions != nil {
		content["m.mentions"] = mentions
	}
	if relatesTo != nil {
		content["m.relates_to"] = relatesTo
	}
	return rawEvent(t, eventID, event.EventMessage, sender, ts, content)
}

func TestUnreadAfter(t *testing.T) {
	timeline := []*TimelineEvent{
		{Event: textEvent(t, "$a", bobUserID, 1000, "a")},
		{Event: textEvent(t, "$b", bobUserID, 2000, "b")},
		{Event: textEvent(t, "$c", bobUserID, 3000, "c")},
	}
	assert.Len(t, unreadAfter(timeline, nil), 3)
	assert.Len(t, unreadAfter(timeline, &ReadReceipt{EventID: "$b"}), 1)
	assert.Len(t, unreadAfter(timeline, &ReadReceipt{EventID: "$c"}), 0)
	assert.Len(t, unreadAfter(timeline, &ReadReceipt{EventID: "$older", Timestamp: time.UnixMilli(1500)}), 2)
}

func TestGetChatSummariesUnreadClassification(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.store.AddTimelineEvents(ctx, testRoomID, []*event.Event{
		textEvent(t, "$read", bobUserID, 1000, "already read"),
		mentionEvent(t, "$room", bobUserID, 2000, map[string]any{"room": true}, nil),
		mentionEvent(t, "$plain", bobUserID, 3000, nil, nil),
		mentionEvent(t, "$direct", carolUser, 4000, map[string]any{"user_ids": []string{string(ownUserID)}},
			map[string]any{"rel_type": "m.thread", "event_id": "$root"}),
		mentionEvent(t, "$thread", carolUser, 5000, nil, map[string]any{"rel_type": "m.thread", "event_id": "$root"}),
		textEvent(t, "$own", ownUserID, 6000, "mine"),
	}))
	require.NoError(t, client.store.SetReadReceipt(ctx, testRoomID, ownUserID, ReadReceipt{EventID: "$read", Timestamp: time.UnixMilli(1000)}))

	summaries, err := client.GetChatSummaries(ctx, []entities.Recipient{entities.GroupRecipient(string(testRoomID))})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	summary := summaries[0]
	assert.True(t, summary.HasUnreadMessages)
	assert.Equal(t, entities.UnreadCount{All: 4, Mentions: 2}, summary.UnreadCount)
	assert.Equal(t, entities.UnreadCount{All: 2, Mentions: 1}, summary.ThreadUnreadCount["$root"])
	require.NotNil(t, summary.LatestMessage)
	assert.Equal(t, "$own", summary.LatestMessage.ID)
	assert.Equal(t, entities.GroupRecipient(string(testRoomID)), summary.Recipient)
}

func TestGetChatSummariesEmptyAndShared(t *testing.T) {
	client, hs := newTestClient(t)
	ctx := context.Background()
	otherRoom := id.RoomID("!other:example.org")
	require.NoError(t, client.store.AddTimelineEvents(ctx, testRoomID, []*event.Event{
		textEvent(t, "$a", bobUserID, 1000, "hello"),
	}))
	hs.handleJSON(http.MethodGet, "/v3/user/"+string(ownUserID)+"/account_data/m.direct", http.StatusOK, map[string]any{
		string(bobUserID): []string{string(testRoomID)},
	})

	recipients := []entities.Recipient{
		entities.HandleRecipient("bob"),
		entities.GroupRecipient(string(testRoomID)),
		entities.ChannelRecipient(string(otherRoom)),
		entities.HandleRecipient("nobody"),
	}
	summaries, err := client.GetChatSummaries(ctx, recipients)
	require.NoError(t, err)
	require.Len(t, summaries, 4)

	for i, recipient := range recipients {
		assert.Equal(t, recipient, summaries[i].Recipient)
	}
	assert.Equal(t, summaries[0].UnreadCount, summaries[1].UnreadCount)
	assert.Equal(t, 1, summaries[0].UnreadCount.All)
	assert.NotSame(t, summaries[0], summaries[1])

	assert.False(t, summaries[2].HasUnreadMessages)
	assert.Nil(t, summaries[2].LatestMessage)
	assert.Zero(t, summaries[2].UnreadCount)
	assert.False(t, summaries[3].HasUnreadMessages)
}

func TestGetChatSummariesMarkedUnread(t *testing.T) {
	client, hs := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.store.AddTimelineEvents(ctx, testRoomID, []*event.Event{
		textEvent(t, "$a", bobUserID, 1000, "hello"),
	}))
	require.NoError(t, client.store.SetReadReceipt(ctx, testRoomID, ownUserID, ReadReceipt{EventID: "$a", Timestamp: time.UnixMilli(1000)}))
	hs.handleJSON(http.MethodGet, "/v3/user/"+string(ownUserID)+"/rooms/"+string(testRoomID)+"/account_data/"+EventMarkedUnread,
		http.StatusOK, map[string]any{"unread": true})

	summaries, err := client.GetChatSummaries(ctx, []entities.Recipient{entities.GroupRecipient(string(testRoomID))})
	require.NoError(t, err)
	assert.Zero(t, summaries[0].UnreadCount.All)
	assert.True(t, summaries[0].HasUnreadMessages)
}

func TestGetChatSummariesClassifiesDecryptedEvents(t *testing.T) {
	crypto := newFakeCrypto()
	client, _ := newTestClient(t, func(opts *Options) {
		opts.Crypto = crypto
	})
	ctx := context.Background()
	recipients := []entities.Recipient{entities.GroupRecipient(string(testRoomID))}
	require.NoError(t, client.store.AddTimelineEvents(ctx, testRoomID, []*event.Event{
		textEvent(t, "$read", bobUserID, 1000, "already read"),
		crypto.encrypt(t, pollResponseEvent(t, "$vote", bobUserID, 2000, "a")),
	}))
	require.NoError(t, client.store.SetReadReceipt(ctx, testRoomID, ownUserID, ReadReceipt{EventID: "$read", Timestamp: time.UnixMilli(1000)}))

	summaries, err := client.GetChatSummaries(ctx, recipients)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, entities.UnreadCount{All: 0}, summaries[0].UnreadCount)
	assert.False(t, summaries[0].HasUnreadMessages)

	require.NoError(t, client.store.AddTimelineEvents(ctx, testRoomID, []*event.Event{
		crypto.encrypt(t, mentionEvent(t, "$mention", carolUser, 3000, map[string]any{"user_ids": []string{string(ownUserID)}}, nil)),
		crypto.encrypt(t, editEvent(t, "$edit", "$read", 4000, "edited")),
		encryptedEvent(t, "$opaque", bobUserID, 5000),
	}))
	summaries, err = client.GetChatSummaries(ctx, recipients)
	require.NoError(t, err)
	assert.Equal(t, entities.UnreadCount{All: 2, Mentions: 1}, summaries[0].UnreadCount)
	assert.True(t, summaries[0].HasUnreadMessages)
}
