// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package entities

import "time"

type PollKind string

const (
	PollKindDisclosed   PollKind = "org.matrix.msc3381.poll.disclosed"
	PollKindUndisclosed PollKind = "org.matrix.msc3381.poll.undisclosed"
)

type PollAnswer struct {
	ID   string
	Text string
}

type Poll struct {
	Kind       PollKind
	Question   string
	Answers    []PollAnswer
	MaxAnswers int
}

// PollResponses is the tally of a poll. TotalVotes is the sum of all answer
// counts, so it exceeds the number of voters when voters may pick several
// answers.
type PollResponses struct {
	TalliedAnswers map[string]int
	TotalVotes     int
	EndedAt        *time.Time
}
