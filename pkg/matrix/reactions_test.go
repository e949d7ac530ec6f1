package matrix

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/entities"
)

func reactionEvent(t *testing.T, eventID id.EventID, sender id.UserID, target id.EventID, key string) *event.Event {
	t.Helper()
	return rawEvent(t, eventID, event.EventReaction, sender, 1000, map[string]any{
		"m.relates_to": map[string]any{"rel_type": "m.annotation", "event_id": target, "key": key},
	})
}

func TestFindOwnReaction(t *testing.T) {
	redaction := rawEvent(t, "$redaction", event.EventRedaction, ownUserID, 3000, map[string]any{"redacts": "$old"})
	timeline := []*TimelineEvent{
		{Event: reactionEvent(t, "$old", ownUserID, "$msg", "👍")},
		{Event: redaction},
		{Event: reactionEvent(t, "$bob", bobUserID, "$msg", "👍")},
		{Event: reactionEvent(t, "$other", ownUserID, "$msg", "🎉")},
	}
	assert.Empty(t, findOwnReaction(timeline, ownUserID, "$msg", "👍"))
	assert.EqualValues(t, "$other", findOwnReaction(timeline, ownUserID, "$msg", "🎉"))

	timeline = append(timeline, &TimelineEvent{Event: reactionEvent(t, "$new", ownUserID, "$msg", "👍")})
	assert.EqualValues(t, "$new", findOwnReaction(timeline, ownUserID, "$msg", "👍"))
}

func TestToggleReaction(t *testing.T) {
	client, hs := newTestClient(t)
	hs.handleJSON(http.MethodPut, "/v3/rooms/"+string(testRoomID)+"/send/m.reaction/*", http.StatusOK, map[string]any{"event_id": "$reaction"})
	hs.handleJSON(http.MethodPut, "/v3/rooms/"+string(testRoomID)+"/redact/$reaction/*", http.StatusOK, map[string]any{"event_id": "$redaction"})
	ctx := context.Background()

	require.NoError(t, client.ToggleReaction(ctx, testRoomID, "$msg", "👍"))
	sends := hs.requestsTo(http.MethodPut, "/v3/rooms/"+string(testRoomID)+"/send/m.reaction/")
	require.Len(t, sends, 1)
	assert.JSONEq(t, `{"m.relates_to":{"rel_type":"m.annotation","event_id":"$msg","key":"👍"}}`, string(sends[0].Body))

	require.NoError(t, client.ToggleReaction(ctx, testRoomID, "$msg", "👍"))
	redacts := hs.requestsTo(http.MethodPut, "/v3/rooms/"+string(testRoomID)+"/redact/$reaction/")
	require.Len(t, redacts, 1)
	assert.JSONEq(t, `{"reason":"editReaction"}`, string(redacts[0].Body))
}

func TestGetReactions(t *testing.T) {
	client, hs := newTestClient(t)
	serveRelations(hs, "$msg", event.RelAnnotation,
		reactionEvent(t, "$r1", bobUserID, "$msg", "👍"),
		reactionEvent(t, "$r2", carolUser, "$msg", "👍"),
		reactionEvent(t, "$r3", bobUserID, "$msg", "👍"),
		reactionEvent(t, "$r4", bobUserID, "$msg", "🎉"),
	)
	reactions, err := client.GetReactions(context.Background(), testRoomID, "$msg")
	require.NoError(t, err)
	require.Len(t, reactions, 2)
	assert.Equal(t, entities.Reaction{Content: "👍", Count: 2, SenderHandles: []entities.HandleID{"bob", "carol"}}, reactions[0])
	assert.Equal(t, 1, reactions[1].Count)
}
