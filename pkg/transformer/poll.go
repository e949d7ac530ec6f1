// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package transformer

import (
	"errors"

	"github.com/tidwall/gjson"

	"github.com/sudoplatform/securecomms/pkg/entities"
)

var ErrMissingPollContent = errors.New("poll start event has no poll payload")

// textOf reads a free-text field of an extensible event. The structured text
// representation wins over the legacy body, which wins over a bare string.
func textOf(res gjson.Result) string {
	if text := res.Get(gjson.Escape(keyMSC1767Text)); text.Type == gjson.String {
		return text.String()
	}
	if text := res.Get(gjson.Escape(keyStableText) + ".0.body"); text.Exists() {
		return text.String()
	}
	if body := res.Get("body"); body.Type == gjson.String {
		return body.String()
	}
	if res.Type == gjson.String {
		return res.String()
	}
	return ""
}

func pollPayload(content gjson.Result) gjson.Result {
	if payload := content.Get(gjson.Escape(keyPollStart)); payload.Exists() {
		return payload
	}
	return content.Get(gjson.Escape(keyStablePoll))
}

// PollFromContent parses the poll definition of a poll start event, in
// either the unstable or the stable encoding.
func PollFromContent(raw []byte) (*entities.Poll, error) {
	payload := pollPayload(gjson.ParseBytes(raw))
	if !payload.Exists() {
		return nil, ErrMissingPollContent
	}
	poll := &entities.Poll{
		Kind:       pollKind(payload.Get("kind").String()),
		Question:   textOf(payload.Get("question")),
		MaxAnswers: int(payload.Get("max_selections").Int()),
	}
	if poll.MaxAnswers < 1 {
		poll.MaxAnswers = 1
	}
	for _, answer := range payload.Get("answers").Array() {
		answerID := answer.Get("id").String()
		if answerID == "" {
			answerID = answer.Get(`m\.id`).String()
		}
		poll.Answers = append(poll.Answers, entities.PollAnswer{
			ID:   answerID,
			Text: textOf(answer),
		})
	}
	return poll, nil
}

func pollKind(kind string) entities.PollKind {
	switch kind {
	case string(entities.PollKindUndisclosed), "m.poll.undisclosed":
		return entities.PollKindUndisclosed
	default:
		return entities.PollKindDisclosed
	}
}

// PollResponseAnswers returns the answer IDs selected by a poll response.
func PollResponseAnswers(raw []byte) []string {
	content := gjson.ParseBytes(raw)
	selections := content.Get(gjson.Escape(keyPollResponse) + ".answers")
	if !selections.Exists() {
		selections = content.Get(gjson.Escape(keyStableSelects))
	}
	answers := make([]string, 0)
	for _, answer := range selections.Array() {
		answers = append(answers, answer.String())
	}
	return answers
}

func pollResponseContent(raw []byte) entities.MessageContent {
	return &entities.PollResponseContent{
		PollID:  gjson.GetBytes(raw, `m\.relates_to.event_id`).String(),
		Answers: PollResponseAnswers(raw),
	}
}
