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

	"maunium.net/go/mautrix/id"
)

// HandleID identifies a user-owned identity. It is the localpart of the
// handle's Matrix user ID.
type HandleID string

func (h HandleID) String() string {
	return string(h)
}

// MatrixUserID derives the protocol user ID (@subject:homeserver).
func (h HandleID) MatrixUserID(homeserver string) id.UserID {
	return id.NewUserID(strings.ToLower(string(h)), homeserver)
}

// HandleIDFromUserID extracts the handle ID from a protocol user ID.
func HandleIDFromUserID(userID id.UserID) (HandleID, error) {
	localpart, _, err := userID.Parse()
	if err != nil {
		return "", fmt.Errorf("failed to parse user ID %q: %w", userID, err)
	}
	return HandleID(localpart), nil
}

// Handle is a handle reference as it appears on messages. Name is filled in
// by callers that have access to room membership.
type Handle struct {
	ID   HandleID
	Name string
}
