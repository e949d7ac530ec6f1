// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package entities

import "time"

// MediaCredentialExpiryBuffer is how long before expiry a cached credential
// stops being handed out.
const MediaCredentialExpiryBuffer = 120 * time.Second

// MediaCredential is a short-lived object storage credential.
type MediaCredential struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	KeyPrefix       string
	Expiry          time.Time
}

// UsableAt reports whether the credential may still be used at now, leaving
// MediaCredentialExpiryBuffer of headroom.
func (c *MediaCredential) UsableAt(now time.Time) bool {
	return c != nil && now.Add(MediaCredentialExpiryBuffer).Before(c.Expiry)
}

// RoomMediaCredential is a media credential scoped to a single room.
type RoomMediaCredential struct {
	MediaCredential
	RoomID string
}
