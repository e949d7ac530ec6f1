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

type RecipientKind int

const (
	RecipientHandle RecipientKind = iota
	RecipientGroup
	RecipientChannel
)

func (k RecipientKind) String() string {
	switch k {
	case RecipientHandle:
		return "handle"
	case RecipientGroup:
		return "group"
	case RecipientChannel:
		return "channel"
	default:
		return fmt.Sprintf("RecipientKind(%d)", int(k))
	}
}

// Recipient is a message destination: a direct chat partner, a group or a
// channel. Each recipient resolves to exactly one room. Two recipients are
// the same chat when they resolve to the same room, so aggregations must key
// on the resolved room ID and never on the Recipient value itself.
type Recipient struct {
	Kind RecipientKind
	// ID is the partner's handle ID for direct chats, otherwise the group or
	// channel ID (which is the room ID).
	ID string
}

func HandleRecipient(handleID HandleID) Recipient {
	return Recipient{Kind: RecipientHandle, ID: string(handleID)}
}

func GroupRecipient(groupID string) Recipient {
	return Recipient{Kind: RecipientGroup, ID: groupID}
}

func ChannelRecipient(channelID string) Recipient {
	return Recipient{Kind: RecipientChannel, ID: channelID}
}

func (r Recipient) String() string {
	return r.Kind.String() + ":" + r.ID
}

// ParseRecipient parses the kind:id form produced by Recipient.String.
func ParseRecipient(value string) (Recipient, error) {
	kind, recipientID, ok := strings.Cut(value, ":")
	if !ok || recipientID == "" {
		return Recipient{}, fmt.Errorf("invalid recipient %q", value)
	}
	switch kind {
	case "handle":
		return HandleRecipient(HandleID(recipientID)), nil
	case "group":
		return GroupRecipient(recipientID), nil
	case "channel":
		return ChannelRecipient(recipientID), nil
	default:
		return Recipient{}, fmt.Errorf("unknown recipient kind %q", kind)
	}
}
