// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package entities

import (
	"time"
)

// MessageState is derived from the delivery status of the underlying event.
type MessageState int

const (
	MessageStatePending MessageState = iota
	MessageStateCommitted
	MessageStateFailed
)

func (s MessageState) String() string {
	switch s {
	case MessageStatePending:
		return "PENDING"
	case MessageStateCommitted:
		return "COMMITTED"
	default:
		return "FAILED"
	}
}

// DeliveryStatus is the local send status of an event. Events received from
// the server carry DeliveryStatusNone.
type DeliveryStatus string

const (
	DeliveryStatusNone       DeliveryStatus = ""
	DeliveryStatusQueued     DeliveryStatus = "queued"
	DeliveryStatusEncrypting DeliveryStatus = "encrypting"
	DeliveryStatusSending    DeliveryStatus = "sending"
	DeliveryStatusSent       DeliveryStatus = "sent"
	DeliveryStatusNotSent    DeliveryStatus = "not_sent"
	DeliveryStatusCancelled  DeliveryStatus = "cancelled"
)

// IsPending reports whether the event is still on its way to the server.
func (s DeliveryStatus) IsPending() bool {
	switch s {
	case DeliveryStatusQueued, DeliveryStatusEncrypting, DeliveryStatusSending:
		return true
	default:
		return false
	}
}

// Message is the domain representation of one timeline event.
type Message struct {
	ID           string
	State        MessageState
	Timestamp    time.Time
	SenderHandle Handle
	IsOwn        bool
	Content      MessageContent
	Reactions    []Reaction
	Receipts     []Receipt
	// IsVerified is set for decrypted events and reports whether the sending
	// device was verified.
	IsVerified *bool
}

// Reaction aggregates one reaction key on a message.
type Reaction struct {
	Content       string
	Count         int
	SenderHandles []HandleID
}

// Receipt records that a handle has read up to a message.
type Receipt struct {
	HandleID  HandleID
	Timestamp time.Time
}
