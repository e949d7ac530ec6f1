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
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mau.fi/util/ptr"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/entities"
	"github.com/sudoplatform/securecomms/pkg/transformer"
)

// CreatePollInput describes a new poll. Kind defaults to disclosed and
// MaxAnswers to one.
type CreatePollInput struct {
	Kind       entities.PollKind
	Question   string
	Answers    []string
	MaxAnswers int
}

type pollRelation struct {
	RelType event.RelationType `json:"rel_type"`
	EventID id.EventID         `json:"event_id"`
}

type pollText struct {
	Text string `json:"org.matrix.msc1767.text"`
}

type pollAnswerContent struct {
	ID   string `json:"id"`
	Text string `json:"org.matrix.msc1767.text"`
}

type pollStartBody struct {
	Kind          entities.PollKind   `json:"kind"`
	MaxSelections int                 `json:"max_selections"`
	Question      pollText            `json:"question"`
	Answers       []pollAnswerContent `json:"answers"`
}

type pollStartContent struct {
	Start      pollStartBody     `json:"org.matrix.msc3381.poll.start"`
	Text       string            `json:"org.matrix.msc1767.text"`
	NewContent *pollStartContent `json:"m.new_content,omitempty"`
	RelatesTo  *pollRelation     `json:"m.relates_to,omitempty"`
}

type pollResponseBody struct {
	Answers []string `json:"answers"`
}

type pollResponseContent struct {
	Response  pollResponseBody `json:"org.matrix.msc3381.poll.response"`
	RelatesTo pollRelation     `json:"m.relates_to"`
}

type pollEndContent struct {
	End       struct{}     `json:"org.matrix.msc3381.poll.end"`
	Text      string       `json:"org.matrix.msc1767.text"`
	RelatesTo pollRelation `json:"m.relates_to"`
}

func newPollStartContent(input CreatePollInput) *pollStartContent {
	kind := input.Kind
	if kind == "" {
		kind = entities.PollKindDisclosed
	}
	maxAnswers := max(input.MaxAnswers, 1)
	content := &pollStartContent{
		Start: pollStartBody{
			Kind:          kind,
			MaxSelections: maxAnswers,
			Question:      pollText{Text: input.Question},
			Answers:       make([]pollAnswerContent, len(input.Answers)),
		},
	}
	fallback := []string{input.Question}
	for i, answer := range input.Answers {
		content.Start.Answers[i] = pollAnswerContent{ID: uuid.NewString(), Text: answer}
		fallback = append(fallback, fmt.Sprintf("%d. %s", i+1, answer))
	}
	content.Text = strings.Join(fallback, "\n")
	return content
}

// sendPollEvent sends poll events through the raw send endpoint, except in
// encrypted rooms where they have to go through the crypto machinery.
func (c *Client) sendPollEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, content any) (id.EventID, error) {
	if c.cli.Crypto != nil {
		if encrypted, _ := c.cli.StateStore.IsEncrypted(ctx, roomID); encrypted {
			return c.sendEvent(ctx, roomID, eventType, content)
		}
	}
	return c.sendRawEvent(ctx, roomID, eventType, content)
}

func (c *Client) CreatePoll(ctx context.Context, roomID id.RoomID, input CreatePollInput) (id.EventID, error) {
	if len(input.Answers) == 0 {
		return "", fmt.Errorf("poll has no answers")
	}
	eventID, err := c.sendPollEvent(ctx, roomID, transformer.EventPollStart, newPollStartContent(input))
	if err != nil {
		return "", c.fail("create_poll", err)
	}
	return eventID, nil
}

// EditPoll replaces the question and answers of a poll. Answer IDs are
// regenerated, so votes cast before the edit no longer match any answer.
func (c *Client) EditPoll(ctx context.Context, roomID id.RoomID, pollID id.EventID, input CreatePollInput) (id.EventID, error) {
	newContent := newPollStartContent(input)
	content := &pollStartContent{
		Start:      newContent.Start,
		Text:       "* " + newContent.Text,
		NewContent: newContent,
		RelatesTo:  &pollRelation{RelType: event.RelReplace, EventID: pollID},
	}
	eventID, err := c.sendPollEvent(ctx, roomID, transformer.EventPollStart, content)
	if err != nil {
		return "", c.fail("edit_poll", err)
	}
	return eventID, nil
}

func (c *Client) SendPollResponse(ctx context.Context, roomID id.RoomID, pollID id.EventID, answers []string) (id.EventID, error) {
	content := &pollResponseContent{
		Response:  pollResponseBody{Answers: answers},
		RelatesTo: pollRelation{RelType: event.RelReference, EventID: pollID},
	}
	if content.Response.Answers == nil {
		content.Response.Answers = []string{}
	}
	eventID, err := c.sendPollEvent(ctx, roomID, transformer.EventPollResponse, content)
	if err != nil {
		return "", c.fail("send_poll_response", err)
	}
	return eventID, nil
}

func (c *Client) EndPoll(ctx context.Context, roomID id.RoomID, pollID id.EventID) (id.EventID, error) {
	content := &pollEndContent{
		Text:      "Ended poll",
		RelatesTo: pollRelation{RelType: event.RelReference, EventID: pollID},
	}
	eventID, err := c.sendPollEvent(ctx, roomID, transformer.EventPollEnd, content)
	if err != nil {
		return "", c.fail("end_poll", err)
	}
	return eventID, nil
}

// GetPollResponses tallies the votes on a poll. Every reference to the poll
// is fetched page by page; responses and ends are told apart by type.
func (c *Client) GetPollResponses(ctx context.Context, roomID id.RoomID, pollID id.EventID) (*entities.PollResponses, error) {
	references, err := c.relations(ctx, roomID, pollID, event.RelReference)
	if err != nil {
		return nil, c.fail("get_poll_responses", err)
	}
	var responses, ends []*event.Event
	for _, evt := range references {
		switch {
		case transformer.IsRedacted(evt):
		case transformer.IsPollResponse(evt.Type):
			responses = append(responses, evt)
		case transformer.IsPollEnd(evt.Type):
			ends = append(ends, evt)
		}
	}
	return tallyPollResponses(responses, ends), nil
}

type pollVote struct {
	timestamp int64
	eventID   id.EventID
	answers   []string
}

// supersedes reports whether v replaces the earlier vote other. Ties on
// timestamp are broken on event ID so the result doesn't depend on the order
// the events were fetched in.
func (v pollVote) supersedes(other pollVote) bool {
	if v.timestamp != other.timestamp {
		return v.timestamp > other.timestamp
	}
	return v.eventID > other.eventID
}

// tallyPollResponses counts the latest vote of every sender. Votes cast after
// the earliest poll end are ignored.
func tallyPollResponses(responses, ends []*event.Event) *entities.PollResponses {
	out := &entities.PollResponses{TalliedAnswers: make(map[string]int)}
	var endedAt int64
	for _, end := range ends {
		if endedAt == 0 || end.Timestamp < endedAt {
			endedAt = end.Timestamp
		}
	}
	if endedAt != 0 {
		out.EndedAt = ptr.Ptr(time.UnixMilli(endedAt))
	}

	votes := make(map[id.UserID]pollVote)
	for _, evt := range responses {
		if endedAt != 0 && evt.Timestamp > endedAt {
			continue
		}
		vote := pollVote{timestamp: evt.Timestamp, eventID: evt.ID}
		if existing, ok := votes[evt.Sender]; ok && !vote.supersedes(existing) {
			continue
		}
		answers := transformer.PollResponseAnswers(transformer.RawContent(evt))
		slices.Sort(answers)
		vote.answers = slices.Compact(answers)
		votes[evt.Sender] = vote
	}
	for _, vote := range votes {
		for _, answer := range vote.answers {
			out.TalliedAnswers[answer]++
			out.TotalVotes++
		}
	}
	return out
}
