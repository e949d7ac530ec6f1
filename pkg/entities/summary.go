// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package entities

type UnreadCount struct {
	All      int
	Mentions int
}

// ChatSummary is recomputed for every request and never cached.
type ChatSummary struct {
	Recipient         Recipient
	HasUnreadMessages bool
	UnreadCount       UnreadCount
	ThreadUnreadCount map[string]UnreadCount
	LatestMessage     *Message
}
