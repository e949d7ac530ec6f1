// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package entities

import "time"

// ContentMeta holds the relation data shared by every content type. ThreadID
// and RepliedToMessageID are independent: a threaded reply carries both.
type ContentMeta struct {
	IsEdited           bool
	ThreadID           string
	RepliedToMessageID string
}

func (m *ContentMeta) Meta() *ContentMeta {
	return m
}

// MessageContent is the tagged union of message payloads.
type MessageContent interface {
	Meta() *ContentMeta
	ContentType() ContentType
}

type ContentType string

const (
	ContentTypeText                   ContentType = "text"
	ContentTypeEmote                  ContentType = "emote"
	ContentTypeNotice                 ContentType = "notice"
	ContentTypeImage                  ContentType = "image"
	ContentTypeFile                   ContentType = "file"
	ContentTypeAudio                  ContentType = "audio"
	ContentTypeVideo                  ContentType = "video"
	ContentTypeLocation               ContentType = "location"
	ContentTypeMembershipChange       ContentType = "membershipChange"
	ContentTypePoll                   ContentType = "poll"
	ContentTypePollResponse           ContentType = "pollResponse"
	ContentTypeRedacted               ContentType = "redacted"
	ContentTypeKeyVerificationRequest ContentType = "keyVerificationRequest"
	ContentTypeEncrypted              ContentType = "encrypted"
)

type TextContent struct {
	ContentMeta
	Text          string
	FormattedText string
	MentionsRoom  bool
	MentionedIDs  []string
}

func (*TextContent) ContentType() ContentType { return ContentTypeText }

type EmoteContent struct {
	ContentMeta
	Text string
}

func (*EmoteContent) ContentType() ContentType { return ContentTypeEmote }

type NoticeContent struct {
	ContentMeta
	Text string
}

func (*NoticeContent) ContentType() ContentType { return ContentTypeNotice }

// MediaInfo describes an attachment shared by image, file, audio and video
// content.
type MediaInfo struct {
	Name     string
	URL      string
	MimeType string
	Size     int
	Width    int
	Height   int
	Duration time.Duration
	// Encrypted is set when the attachment is end-to-end encrypted.
	Encrypted bool
}

type ImageContent struct {
	ContentMeta
	Media MediaInfo
}

func (*ImageContent) ContentType() ContentType { return ContentTypeImage }

type FileContent struct {
	ContentMeta
	Media MediaInfo
}

func (*FileContent) ContentType() ContentType { return ContentTypeFile }

type AudioContent struct {
	ContentMeta
	Media   MediaInfo
	IsVoice bool
}

func (*AudioContent) ContentType() ContentType { return ContentTypeAudio }

type VideoContent struct {
	ContentMeta
	Media MediaInfo
}

func (*VideoContent) ContentType() ContentType { return ContentTypeVideo }

type LocationContent struct {
	ContentMeta
	Text   string
	GeoURI string
}

func (*LocationContent) ContentType() ContentType { return ContentTypeLocation }

type MembershipChangeContent struct {
	ContentMeta
	HandleID HandleID
	Change   MembershipState
}

func (*MembershipChangeContent) ContentType() ContentType { return ContentTypeMembershipChange }

type PollContent struct {
	ContentMeta
	Poll Poll
}

func (*PollContent) ContentType() ContentType { return ContentTypePoll }

type PollResponseContent struct {
	ContentMeta
	PollID  string
	Answers []string
}

func (*PollResponseContent) ContentType() ContentType { return ContentTypePollResponse }

// RedactedContent replaces the payload of a redacted event.
type RedactedContent struct {
	ContentMeta
	Reason RedactReason
}

func (*RedactedContent) ContentType() ContentType { return ContentTypeRedacted }

type KeyVerificationRequestContent struct {
	ContentMeta
	FromDevice string
	Methods    []string
	To         string
}

func (*KeyVerificationRequestContent) ContentType() ContentType {
	return ContentTypeKeyVerificationRequest
}

// EncryptedContent stands in for an event that could not be decrypted.
type EncryptedContent struct {
	ContentMeta
}

func (*EncryptedContent) ContentType() ContentType { return ContentTypeEncrypted }
