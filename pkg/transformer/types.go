// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package transformer

import (
	"maunium.net/go/mautrix/event"
)

// Poll event types. Both the unstable MSC3381 names and the stable names are
// accepted on input; the unstable names are used for sending.
var (
	EventPollStart          = event.Type{Type: "org.matrix.msc3381.poll.start", Class: event.MessageEventType}
	EventPollResponse       = event.Type{Type: "org.matrix.msc3381.poll.response", Class: event.MessageEventType}
	EventPollEnd            = event.Type{Type: "org.matrix.msc3381.poll.end", Class: event.MessageEventType}
	EventStablePollStart    = event.Type{Type: "m.poll.start", Class: event.MessageEventType}
	EventStablePollResponse = event.Type{Type: "m.poll.response", Class: event.MessageEventType}
	EventStablePollEnd      = event.Type{Type: "m.poll.end", Class: event.MessageEventType}
)

func IsPollStart(t event.Type) bool {
	return t.Type == EventPollStart.Type || t.Type == EventStablePollStart.Type
}

func IsPollResponse(t event.Type) bool {
	return t.Type == EventPollResponse.Type || t.Type == EventStablePollResponse.Type
}

func IsPollEnd(t event.Type) bool {
	return t.Type == EventPollEnd.Type || t.Type == EventStablePollEnd.Type
}

// MessageTypeVerificationRequest is the in-room key verification request
// msgtype.
const MessageTypeVerificationRequest event.MessageType = "m.key.verification.request"

// Content keys of the extensible-events payloads.
const (
	keyMSC1767Text   = "org.matrix.msc1767.text"
	keyStableText    = "m.text"
	keyPollStart     = "org.matrix.msc3381.poll.start"
	keyStablePoll    = "m.poll"
	keyPollResponse  = "org.matrix.msc3381.poll.response"
	keyStableSelects = "m.selections"
)
