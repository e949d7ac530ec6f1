package matrix

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/entities"
	"github.com/sudoplatform/securecomms/pkg/transformer"
)

func pollResponseEvent(t *testing.T, eventID id.EventID, sender id.UserID, ts int64, answers ...string) *event.Event {
	t.Helper()
	return rawEvent(t, eventID, transformer.EventPollResponse, sender, ts, map[string]any{
		"org.matrix.msc3381.poll.response": map[string]any{"answers": answers},
		"m.relates_to":                     map[string]any{"rel_type": "m.reference", "event_id": "$poll"},
	})
}

func pollEndEvent(t *testing.T, eventID id.EventID, ts int64) *event.Event {
	t.Helper()
	return rawEvent(t, eventID, transformer.EventPollEnd, ownUserID, ts, map[string]any{
		"org.matrix.msc3381.poll.end": map[string]any{},
		"m.relates_to":                map[string]any{"rel_type": "m.reference", "event_id": "$poll"},
	})
}

func TestTallyLateVoteExcluded(t *testing.T) {
	responses := []*event.Event{
		pollResponseEvent(t, "$early", bobUserID, 999, "a"),
		pollResponseEvent(t, "$late", carolUser, 1001, "b"),
	}
	tally := tallyPollResponses(responses, []*event.Event{pollEndEvent(t, "$end", 1000)})
	assert.Equal(t, map[string]int{"a": 1}, tally.TalliedAnswers)
	assert.Equal(t, 1, tally.TotalVotes)
	require.NotNil(t, tally.EndedAt)
	assert.Equal(t, time.UnixMilli(1000), *tally.EndedAt)
}

func TestTallyEarliestEndWins(t *testing.T) {
	responses := []*event.Event{pollResponseEvent(t, "$vote", bobUserID, 1500, "a")}
	ends := []*event.Event{pollEndEvent(t, "$end2", 2000), pollEndEvent(t, "$end1", 1000)}
	tally := tallyPollResponses(responses, ends)
	assert.Empty(t, tally.TalliedAnswers)
	assert.Equal(t, time.UnixMilli(1000), *tally.EndedAt)
}

func TestTallyLatestVotePerSender(t *testing.T) {
	responses := []*event.Event{
		pollResponseEvent(t, "$second", bobUserID, 2000, "b", "c"),
		pollResponseEvent(t, "$first", bobUserID, 1000, "a"),
		pollResponseEvent(t, "$carol", carolUser, 1500, "b", "b"),
	}
	tally := tallyPollResponses(responses, nil)
	assert.Equal(t, map[string]int{"b": 2, "c": 1}, tally.TalliedAnswers)
	assert.Equal(t, 3, tally.TotalVotes)
	assert.Nil(t, tally.EndedAt)

	reversed := []*event.Event{responses[2], responses[1], responses[0]}
	assert.Equal(t, tally, tallyPollResponses(reversed, nil))
	assert.Equal(t, tally, tallyPollResponses(responses, nil))
}

func TestTallyTieBreaksOnEventID(t *testing.T) {
	a := pollResponseEvent(t, "$aaa", bobUserID, 1000, "a")
	b := pollResponseEvent(t, "$bbb", bobUserID, 1000, "b")
	assert.Equal(t, map[string]int{"b": 1}, tallyPollResponses([]*event.Event{a, b}, nil).TalliedAnswers)
	assert.Equal(t, map[string]int{"b": 1}, tallyPollResponses([]*event.Event{b, a}, nil).TalliedAnswers)
}

func TestGetPollResponsesPaginates(t *testing.T) {
	client, hs := newTestClient(t)
	path := "/v1/rooms/" + string(testRoomID) + "/relations/$poll/m.reference"
	hs.handle(http.MethodGet, path, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("from") == "" {
			writeJSON(w, http.StatusOK, map[string]any{
				"chunk": wireEvents(
					pollEndEvent(t, "$end", 5000),
					pollResponseEvent(t, "$late", bobUserID, 6000, "b"),
				),
				"next_batch": "page2",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"chunk": wireEvents(
				pollResponseEvent(t, "$bob", bobUserID, 2000, "a"),
				pollResponseEvent(t, "$carol", carolUser, 3000, "a"),
			),
		})
	})

	tally, err := client.GetPollResponses(context.Background(), testRoomID, "$poll")
	require.NoError(t, err)
	assert.Equal(t, &entities.PollResponses{
		TalliedAnswers: map[string]int{"a": 2},
		TotalVotes:     2,
		EndedAt:        tally.EndedAt,
	}, tally)
	assert.Equal(t, time.UnixMilli(5000), *tally.EndedAt)
	assert.Len(t, hs.requestsTo(http.MethodGet, path), 2)
}

func TestCreatePollSendsRawEvent(t *testing.T) {
	client, hs := newTestClient(t)
	prefix := "/v3/rooms/" + string(testRoomID) + "/send/" + transformer.EventPollStart.Type + "/"
	hs.handleJSON(http.MethodPut, prefix+"*", http.StatusOK, map[string]any{"event_id": "$poll"})

	eventID, err := client.CreatePoll(context.Background(), testRoomID, CreatePollInput{
		Question: "Lunch?",
		Answers:  []string{"Pizza", "Sushi"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, "$poll", eventID)

	reqs := hs.requestsTo(http.MethodPut, prefix)
	require.Len(t, reqs, 1)
	poll, err := transformer.PollFromContent(reqs[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "Lunch?", poll.Question)
	assert.Equal(t, entities.PollKindDisclosed, poll.Kind)
	assert.Equal(t, 1, poll.MaxAnswers)
	require.Len(t, poll.Answers, 2)
	assert.Equal(t, "Sushi", poll.Answers[1].Text)
	assert.NotEmpty(t, poll.Answers[1].ID)

	_, err = client.CreatePoll(context.Background(), testRoomID, CreatePollInput{Question: "Empty"})
	assert.Error(t, err)
}

func TestSendPollResponseContent(t *testing.T) {
	client, hs := newTestClient(t)
	prefix := "/v3/rooms/" + string(testRoomID) + "/send/" + transformer.EventPollResponse.Type + "/"
	hs.handleJSON(http.MethodPut, prefix+"*", http.StatusOK, map[string]any{"event_id": "$vote"})

	_, err := client.SendPollResponse(context.Background(), testRoomID, "$poll", []string{"a"})
	require.NoError(t, err)
	reqs := hs.requestsTo(http.MethodPut, prefix)
	require.Len(t, reqs, 1)
	var body map[string]any
	require.NoError(t, json.Unmarshal(reqs[0].Body, &body))
	assert.Equal(t, []string{"a"}, transformer.PollResponseAnswers(reqs[0].Body))
	assert.Equal(t, map[string]any{"rel_type": "m.reference", "event_id": "$poll"}, body["m.relates_to"])
}

func TestGetPollResponsesDecryptsVotes(t *testing.T) {
	crypto := newFakeCrypto()
	client, hs := newTestClient(t, func(opts *Options) {
		opts.Crypto = crypto
	})
	serveRelations(hs, "$poll", event.RelReference,
		crypto.encrypt(t, pollResponseEvent(t, "$bob", bobUserID, 2000, "a")),
		crypto.encrypt(t, pollResponseEvent(t, "$carol", carolUser, 3000, "b")),
		crypto.encrypt(t, pollEndEvent(t, "$end", 4000)),
		crypto.encrypt(t, pollResponseEvent(t, "$late", bobUserID, 5000, "b")),
		encryptedEvent(t, "$opaque", carolUser, 2500),
	)

	tally, err := client.GetPollResponses(context.Background(), testRoomID, "$poll")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, tally.TalliedAnswers)
	assert.Equal(t, 2, tally.TotalVotes)
	require.NotNil(t, tally.EndedAt)
	assert.Equal(t, time.UnixMilli(4000), *tally.EndedAt)
}
