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
	"fmt"
)

// Data-integrity errors. These indicate malformed upstream events and are
// never coerced into a default value.
var (
	ErrMissingContent    = errors.New("event has no content and was not redacted")
	ErrMissingMembership = errors.New("membership event has no membership")
)

type UnsupportedMessageTypeError struct {
	MsgType string
}

func (e *UnsupportedMessageTypeError) Error() string {
	return fmt.Sprintf("unsupported message type %q", e.MsgType)
}

type UnsupportedEventTypeError struct {
	EventType string
}

func (e *UnsupportedEventTypeError) Error() string {
	return fmt.Sprintf("unsupported event type %q", e.EventType)
}
