// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package transformer

import (
	"time"

	"github.com/tidwall/gjson"
	"maunium.net/go/mautrix/event"

	"github.com/sudoplatform/securecomms/pkg/entities"
)

// messageContent dispatches an m.room.message payload on its msgtype.
func messageContent(content gjson.Result) (entities.MessageContent, error) {
	msgType := event.MessageType(content.Get("msgtype").String())
	body := content.Get("body").String()
	switch msgType {
	case event.MsgText:
		userIDs, room := mentionsOf(content)
		return &entities.TextContent{
			Text:          body,
			FormattedText: content.Get("formatted_body").String(),
			MentionsRoom:  room,
			MentionedIDs:  userIDs,
		}, nil
	case event.MsgEmote:
		return &entities.EmoteContent{Text: body}, nil
	case event.MsgNotice:
		return &entities.NoticeContent{Text: body}, nil
	case event.MsgImage:
		return &entities.ImageContent{Media: mediaInfo(content)}, nil
	case event.MsgFile:
		return &entities.FileContent{Media: mediaInfo(content)}, nil
	case event.MsgAudio:
		return &entities.AudioContent{
			Media:   mediaInfo(content),
			IsVoice: content.Get(`org\.matrix\.msc3245\.voice`).Exists(),
		}, nil
	case event.MsgVideo:
		return &entities.VideoContent{Media: mediaInfo(content)}, nil
	case event.MsgLocation:
		return &entities.LocationContent{
			Text:   body,
			GeoURI: content.Get("geo_uri").String(),
		}, nil
	case MessageTypeVerificationRequest:
		methods := make([]string, 0)
		for _, method := range content.Get("methods").Array() {
			methods = append(methods, method.String())
		}
		return &entities.KeyVerificationRequestContent{
			FromDevice: content.Get("from_device").String(),
			Methods:    methods,
			To:         content.Get("to").String(),
		}, nil
	default:
		return nil, &UnsupportedMessageTypeError{MsgType: string(msgType)}
	}
}

func mentionsOf(content gjson.Result) ([]string, bool) {
	mentions := content.Get(`m\.mentions`)
	var userIDs []string
	for _, userID := range mentions.Get("user_ids").Array() {
		userIDs = append(userIDs, userID.String())
	}
	return userIDs, mentions.Get("room").Bool()
}

func mediaInfo(content gjson.Result) entities.MediaInfo {
	info := content.Get("info")
	media := entities.MediaInfo{
		Name:     content.Get("filename").String(),
		URL:      content.Get("url").String(),
		MimeType: info.Get("mimetype").String(),
		Size:     int(info.Get("size").Int()),
		Width:    int(info.Get("w").Int()),
		Height:   int(info.Get("h").Int()),
		Duration: time.Duration(info.Get("duration").Int()) * time.Millisecond,
	}
	if media.Name == "" {
		media.Name = content.Get("body").String()
	}
	if file := content.Get("file"); file.Exists() {
		media.URL = file.Get("url").String()
		media.Encrypted = true
	}
	return media
}
