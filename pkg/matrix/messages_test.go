package matrix

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/entities"
	"github.com/sudoplatform/securecomms/pkg/transformer"
)

// serveTimeline pages backwards through events, given newest first.
func serveTimeline(hs *fakeHomeserver, roomID id.RoomID, newestFirst []*event.Event) {
	hs.handle(http.MethodGet, "/v3/rooms/"+string(roomID)+"/messages", func(w http.ResponseWriter, r *http.Request) {
		from, _ := strconv.Atoi(r.URL.Query().Get("from"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 10
		}
		end := min(from+limit, len(newestFirst))
		resp := map[string]any{
			"start": strconv.Itoa(from),
			"chunk": wireEvents(newestFirst[from:end]...),
		}
		if end < len(newestFirst) {
			resp["end"] = strconv.Itoa(end)
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

func editEvent(t *testing.T, eventID id.EventID, target id.EventID, ts int64, body string) *event.Event {
	t.Helper()
	return rawEvent(t, eventID, event.EventMessage, bobUserID, ts, map[string]any{
		"msgtype":       "m.text",
		"body":          "* " + body,
		"m.new_content": map[string]any{"msgtype": "m.text", "body": body},
		"m.relates_to":  map[string]any{"rel_type": "m.replace", "event_id": target},
	})
}

func serveRelations(hs *fakeHomeserver, eventID id.EventID, relType event.RelationType, events ...*event.Event) {
	hs.handleJSON(http.MethodGet, "/v1/rooms/"+string(testRoomID)+"/relations/"+string(eventID)+"/"+string(relType), http.StatusOK, map[string]any{
		"chunk": wireEvents(events...),
	})
}

func messageIDs(messages []*entities.Message) []string {
	ids := make([]string, len(messages))
	for i, msg := range messages {
		ids[i] = msg.ID
	}
	return ids
}

func newTimelineFixture(t *testing.T) (*Client, *fakeHomeserver) {
	t.Helper()
	client, hs := newTestClient(t)
	edit := editEvent(t, "$edit", "$e1", 6000, "edited")
	serveTimeline(hs, testRoomID, []*event.Event{
		edit,
		textEvent(t, "$e5", bobUserID, 5000, "five"),
		textEvent(t, "$e4", ownUserID, 4000, "four"),
		textEvent(t, "$e3", bobUserID, 3000, "three"),
		textEvent(t, "$e2", bobUserID, 2000, "two"),
		textEvent(t, "$e1", bobUserID, 1000, "one"),
	})
	serveRelations(hs, "$e1", event.RelReplace, edit)
	return client, hs
}

func TestListMessagesExhaustsSource(t *testing.T) {
	client, _ := newTimelineFixture(t)
	ctx := context.Background()

	first, err := client.ListMessages(ctx, testRoomID, 100, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"$e1", "$e2", "$e3", "$e4", "$e5"}, messageIDs(first.Messages))
	assert.Empty(t, first.NextToken)

	second, err := client.ListMessages(ctx, testRoomID, 100, "")
	require.NoError(t, err)
	assert.Equal(t, messageIDs(first.Messages), messageIDs(second.Messages))
	assert.Empty(t, second.NextToken)

	edited := first.Messages[0]
	require.IsType(t, &entities.TextContent{}, edited.Content)
	assert.Equal(t, "edited", edited.Content.(*entities.TextContent).Text)
	assert.True(t, edited.Content.Meta().IsEdited)
	assert.True(t, first.Messages[3].IsOwn)
}

func TestListMessagesPages(t *testing.T) {
	client, _ := newTimelineFixture(t)
	ctx := context.Background()

	page, err := client.ListMessages(ctx, testRoomID, 2, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"$e4", "$e5"}, messageIDs(page.Messages))
	require.NotEmpty(t, page.NextToken)

	page, err = client.ListMessages(ctx, testRoomID, 2, page.NextToken)
	require.NoError(t, err)
	assert.Equal(t, []string{"$e2", "$e3"}, messageIDs(page.Messages))
	require.NotEmpty(t, page.NextToken)

	page, err = client.ListMessages(ctx, testRoomID, 2, page.NextToken)
	require.NoError(t, err)
	assert.Equal(t, []string{"$e1"}, messageIDs(page.Messages))
	assert.Empty(t, page.NextToken)
}

func TestGetMessageLatestEditWins(t *testing.T) {
	client, hs := newTestClient(t)
	hs.handleJSON(http.MethodGet, "/v3/rooms/"+string(testRoomID)+"/event/$base", http.StatusOK,
		wireEvent(textEvent(t, "$base", bobUserID, 1000, "original")))
	serveRelations(hs, "$base", event.RelReplace,
		editEvent(t, "$late", "$base", 3000, "latest"),
		editEvent(t, "$early", "$base", 2000, "earlier"),
	)

	msg, err := client.GetMessage(context.Background(), testRoomID, "$base")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "latest", msg.Content.(*entities.TextContent).Text)
	assert.True(t, msg.Content.Meta().IsEdited)

	missing, err := client.GetMessage(context.Background(), testRoomID, "$missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func sentContent(t *testing.T, req recordedRequest, eventID id.EventID) *event.Event {
	t.Helper()
	return &event.Event{
		ID:        eventID,
		Type:      event.EventMessage,
		Sender:    ownUserID,
		Timestamp: 1000,
		RoomID:    testRoomID,
		Content:   event.Content{VeryRaw: json.RawMessage(req.Body)},
	}
}

func TestThreadAndReplyRelations(t *testing.T) {
	client, hs := newTestClient(t)
	hs.handleJSON(http.MethodPut, "/v3/rooms/"+string(testRoomID)+"/send/m.room.message/*", http.StatusOK, map[string]any{"event_id": "$sent"})
	ctx := context.Background()
	tr := transformer.New(ownUserID)

	_, err := client.SendThreadMessage(ctx, testRoomID, "$root", "in thread")
	require.NoError(t, err)
	_, err = client.ReplyToMessage(ctx, testRoomID, "$other", "$root", "threaded reply")
	require.NoError(t, err)

	reqs := hs.requestsTo(http.MethodPut, "/v3/rooms/"+string(testRoomID)+"/send/m.room.message/")
	require.Len(t, reqs, 2)

	threaded, err := tr.ToMessage(sentContent(t, reqs[0], "$a"), entities.DeliveryStatusNone)
	require.NoError(t, err)
	assert.Equal(t, "$root", threaded.Content.Meta().ThreadID)
	assert.Empty(t, threaded.Content.Meta().RepliedToMessageID)

	reply, err := tr.ToMessage(sentContent(t, reqs[1], "$b"), entities.DeliveryStatusNone)
	require.NoError(t, err)
	assert.Equal(t, "$root", reply.Content.Meta().ThreadID)
	assert.Equal(t, "$other", reply.Content.Meta().RepliedToMessageID)
}

func TestSendMessageTracksLocalEcho(t *testing.T) {
	client, hs := newTestClient(t)
	hs.handleJSON(http.MethodPut, "/v3/rooms/"+string(testRoomID)+"/send/m.room.message/*", http.StatusOK, map[string]any{"event_id": "$sent"})
	ctx := context.Background()

	eventID, err := client.SendMessage(ctx, SendMessageInput{RoomID: testRoomID, Text: "hello", Mentions: []entities.HandleID{"bob"}})
	require.NoError(t, err)
	assert.EqualValues(t, "$sent", eventID)

	timeline, err := client.store.Timeline(ctx, testRoomID, 0)
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	assert.EqualValues(t, "$sent", timeline[0].Event.ID)
	assert.Equal(t, entities.DeliveryStatusSent, timeline[0].Status)

	msg, err := client.GetMessage(ctx, testRoomID, "$sent")
	require.NoError(t, err)
	assert.Equal(t, entities.MessageStateCommitted, msg.State)
	assert.Equal(t, []string{"@bob:example.org"}, msg.Content.(*entities.TextContent).MentionedIDs)
}

func TestSendMessageFailureMarksEcho(t *testing.T) {
	client, hs := newTestClient(t)
	hs.handleJSON(http.MethodPut, "/v3/rooms/"+string(testRoomID)+"/send/m.room.message/*", http.StatusForbidden, map[string]any{
		"errcode": "M_FORBIDDEN",
		"error":   "not allowed",
	})
	ctx := context.Background()

	_, err := client.SendMessage(ctx, SendMessageInput{RoomID: testRoomID, Text: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send message")

	timeline, err := client.store.Timeline(ctx, testRoomID, 0)
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	assert.Equal(t, entities.DeliveryStatusNotSent, timeline[0].Status)
	assert.Equal(t, entities.MessageStateFailed, transformer.MessageState(timeline[0].Event, timeline[0].Status))
}

func TestDeleteMessageReason(t *testing.T) {
	client, hs := newTestClient(t)
	hs.handleJSON(http.MethodPut, "/v3/rooms/"+string(testRoomID)+"/redact/$e1/*", http.StatusOK, map[string]any{"event_id": "$redaction"})

	err := client.DeleteMessage(context.Background(), testRoomID, "$e1", entities.ModerationReason{Hide: true, ThreadID: "t1"})
	require.NoError(t, err)
	reqs := hs.requestsTo(http.MethodPut, "/v3/rooms/"+string(testRoomID)+"/redact/$e1/")
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `{"reason":"moderation (hidden): (in thread with Id: t1)"}`, string(reqs[0].Body))
}

func TestSendReadReceiptClearsUnreadMarker(t *testing.T) {
	client, hs := newTestClient(t)
	hs.handleJSON(http.MethodPost, "/v3/rooms/"+string(testRoomID)+"/receipt/m.read/$e1", http.StatusOK, map[string]any{})
	accountDataPath := "/v3/user/" + string(ownUserID) + "/rooms/" + string(testRoomID) + "/account_data/" + EventMarkedUnread
	hs.handleJSON(http.MethodGet, accountDataPath, http.StatusOK, map[string]any{"unread": true})
	hs.handleJSON(http.MethodPut, accountDataPath, http.StatusOK, map[string]any{})

	require.NoError(t, client.SendReadReceipt(context.Background(), testRoomID, "$e1"))
	puts := hs.requestsTo(http.MethodPut, accountDataPath)
	require.Len(t, puts, 1)
	assert.JSONEq(t, `{"unread":false}`, string(puts[0].Body))

	receipts, err := client.store.ReadReceipts(context.Background(), testRoomID)
	require.NoError(t, err)
	assert.EqualValues(t, "$e1", receipts[ownUserID].EventID)
}

func newEncryptedClient(t *testing.T) (*Client, *fakeHomeserver, *fakeCrypto) {
	t.Helper()
	crypto := newFakeCrypto()
	client, hs := newTestClient(t, func(opts *Options) {
		opts.Crypto = crypto
	})
	return client, hs, crypto
}

func TestListMessagesDecrypts(t *testing.T) {
	client, hs, crypto := newEncryptedClient(t)
	crypto.verified = true
	edit := crypto.encrypt(t, editEvent(t, "$edit", "$secret", 3000, "edited secret"))
	serveTimeline(hs, testRoomID, []*event.Event{
		edit,
		encryptedEvent(t, "$opaque", bobUserID, 2000),
		crypto.encrypt(t, textEvent(t, "$secret", bobUserID, 1000, "secret")),
	})
	serveRelations(hs, "$secret", event.RelReplace, edit)

	page, err := client.ListMessages(context.Background(), testRoomID, 10, "")
	require.NoError(t, err)
	require.Equal(t, []string{"$secret", "$opaque"}, messageIDs(page.Messages))

	decrypted := page.Messages[0]
	require.IsType(t, &entities.TextContent{}, decrypted.Content)
	assert.Equal(t, "edited secret", decrypted.Content.(*entities.TextContent).Text)
	assert.True(t, decrypted.Content.Meta().IsEdited)
	require.NotNil(t, decrypted.IsVerified)
	assert.True(t, *decrypted.IsVerified)

	assert.Nil(t, page.Messages[1].IsVerified)
	assert.IsType(t, &entities.EncryptedContent{}, page.Messages[1].Content)
}

func TestGetMessageReportsUnverifiedSender(t *testing.T) {
	client, hs, crypto := newEncryptedClient(t)
	hs.handleJSON(http.MethodGet, "/v3/rooms/"+string(testRoomID)+"/event/$secret", http.StatusOK,
		wireEvent(crypto.encrypt(t, textEvent(t, "$secret", bobUserID, 1000, "secret"))))
	serveRelations(hs, "$secret", event.RelReplace,
		crypto.encrypt(t, editEvent(t, "$late", "$secret", 3000, "latest")),
		crypto.encrypt(t, editEvent(t, "$early", "$secret", 2000, "earlier")),
	)

	msg, err := client.GetMessage(context.Background(), testRoomID, "$secret")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "latest", msg.Content.(*entities.TextContent).Text)
	require.NotNil(t, msg.IsVerified)
	assert.False(t, *msg.IsVerified)
}
