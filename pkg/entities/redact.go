// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package entities

import (
	"fmt"
	"strings"
)

const threadSuffixPrefix = ": (in thread with Id: "

// RedactReason is the tagged union of reasons a message can be redacted for.
// String returns the wire representation stored in the redaction event.
type RedactReason interface {
	fmt.Stringer
	isRedactReason()
}

// DeleteOwnReason is used when a sender deletes their own message.
type DeleteOwnReason struct {
	ThreadID string
}

// EditReactionReason is used when a reaction is removed or replaced.
type EditReactionReason struct{}

// ModerationReason is used when a moderator removes someone else's message.
// When Hide is set the free-text reason is not disclosed.
type ModerationReason struct {
	Reason   string
	Hide     bool
	ThreadID string
}

// UnknownReason covers redactions whose reason could not be classified.
type UnknownReason struct{}

func (DeleteOwnReason) isRedactReason()    {}
func (EditReactionReason) isRedactReason() {}
func (ModerationReason) isRedactReason()   {}
func (UnknownReason) isRedactReason()      {}

func threadSuffix(threadID string) string {
	if threadID == "" {
		return ""
	}
	return threadSuffixPrefix + threadID + ")"
}

func (r DeleteOwnReason) String() string {
	return "deleteOwn" + threadSuffix(r.ThreadID)
}

func (EditReactionReason) String() string {
	return "editReaction"
}

func (r ModerationReason) String() string {
	var base string
	if r.Hide {
		base = "moderation (hidden)"
	} else {
		base = "moderation " + r.Reason
	}
	return base + threadSuffix(r.ThreadID)
}

func (UnknownReason) String() string {
	return "Redacted for unknown reason"
}

// ParseRedactReason is the inverse of RedactReason.String. Reasons that were
// not produced by this SDK parse as UnknownReason.
func ParseRedactReason(wire string) RedactReason {
	body, threadID := wire, ""
	if idx := strings.Index(wire, threadSuffixPrefix); idx >= 0 && strings.HasSuffix(wire, ")") {
		body = wire[:idx]
		threadID = wire[idx+len(threadSuffixPrefix) : len(wire)-1]
	}
	switch {
	case body == "deleteOwn":
		return DeleteOwnReason{ThreadID: threadID}
	case body == "editReaction" && threadID == "":
		return EditReactionReason{}
	case body == "moderation (hidden)":
		return ModerationReason{Hide: true, ThreadID: threadID}
	case strings.HasPrefix(body, "moderation "):
		return ModerationReason{Reason: strings.TrimPrefix(body, "moderation "), ThreadID: threadID}
	default:
		return UnknownReason{}
	}
}
