// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package matrix

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/media"
)

const s3Scheme = "s3://"

var ErrMediaUnavailable = errors.New("client has no media storage configured")

// MediaInput is an attachment to send.
type MediaInput struct {
	RoomID   id.RoomID
	Name     string
	Data     []byte
	MimeType string
	ThreadID id.EventID
}

func (c *Client) mediaReady() error {
	if c.credentials == nil || c.objects == nil {
		return ErrMediaUnavailable
	}
	return nil
}

func s3URL(bucket, key string) string {
	return s3Scheme + bucket + "/" + key
}

func parseS3URL(raw string) (bucket, key string, err error) {
	if !strings.HasPrefix(raw, s3Scheme) {
		return "", "", fmt.Errorf("unsupported media URL %q", raw)
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(raw, s3Scheme), "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed media URL %q", raw)
	}
	return bucket, key, nil
}

func msgTypeForKind(kind media.Kind) event.MessageType {
	switch kind {
	case media.KindImage:
		return event.MsgImage
	case media.KindVideo:
		return event.MsgVideo
	case media.KindAudio:
		return event.MsgAudio
	default:
		return event.MsgFile
	}
}

// SendMediaMessage uploads an attachment to the room's storage and sends a
// message pointing at it.
func (c *Client) SendMediaMessage(ctx context.Context, input MediaInput) (id.EventID, error) {
	if err := c.mediaReady(); err != nil {
		return "", err
	}
	cred, err := c.credentials.RoomCredential(ctx, c.HandleID, input.RoomID.String(), true)
	if err != nil {
		return "", c.fail("send_media_message", err)
	}
	mimeType := input.MimeType
	if mimeType == "" {
		mimeType = media.DetectMimeType(input.Data)
	}
	key, err := c.objects.Upload(ctx, &cred.MediaCredential, media.UploadInput{
		Bucket:      c.media.Bucket,
		Region:      c.media.Region,
		Key:         uuid.NewString() + media.Extension(mimeType),
		Body:        input.Data,
		ContentType: mimeType,
	})
	if err != nil {
		return "", c.fail("send_media_message", err)
	}

	kind := media.KindOf(mimeType)
	info := &event.FileInfo{MimeType: mimeType, Size: len(input.Data)}
	if kind == media.KindImage {
		if width, height, ok := media.ImageInfo(input.Data); ok {
			info.Width, info.Height = width, height
		}
	}
	content := &event.MessageEventContent{
		MsgType:   msgTypeForKind(kind),
		Body:      input.Name,
		FileName:  input.Name,
		URL:       id.ContentURIString(s3URL(c.media.Bucket, key)),
		Info:      info,
		RelatesTo: threadRelation(input.ThreadID, ""),
	}
	eventID, err := c.sendEvent(ctx, input.RoomID, event.EventMessage, content)
	if err != nil {
		return "", c.fail("send_media_message", err)
	}
	return eventID, nil
}

// DownloadMedia fetches the attachment a message in roomID points at.
func (c *Client) DownloadMedia(ctx context.Context, roomID id.RoomID, mediaURL string) ([]byte, error) {
	if err := c.mediaReady(); err != nil {
		return nil, err
	}
	bucket, key, err := parseS3URL(mediaURL)
	if err != nil {
		return nil, err
	}
	cred, err := c.credentials.RoomCredential(ctx, c.HandleID, roomID.String(), false)
	if err != nil {
		return nil, c.fail("download_media", err)
	}
	data, err := c.objects.Download(ctx, &cred.MediaCredential, media.DownloadInput{
		Bucket: bucket,
		Region: c.media.Region,
		Key:    key,
	})
	if err != nil {
		return nil, c.fail("download_media", err)
	}
	return data, nil
}

// UploadPublicMedia stores media visible to everyone, such as avatars, and
// returns its URL.
func (c *Client) UploadPublicMedia(ctx context.Context, data []byte, mimeType string) (string, error) {
	if err := c.mediaReady(); err != nil {
		return "", err
	}
	cred, err := c.credentials.PublicCredential(ctx, c.HandleID, true)
	if err != nil {
		return "", c.fail("upload_public_media", err)
	}
	if mimeType == "" {
		mimeType = media.DetectMimeType(data)
	}
	key, err := c.objects.Upload(ctx, cred, media.UploadInput{
		Bucket:      c.media.PublicBucket,
		Region:      c.media.Region,
		Key:         uuid.NewString() + media.Extension(mimeType),
		Body:        data,
		ContentType: mimeType,
	})
	if err != nil {
		return "", c.fail("upload_public_media", err)
	}
	return s3URL(c.media.PublicBucket, key), nil
}
