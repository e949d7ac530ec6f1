// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package config

import (
	up "go.mau.fi/util/configupgrade"
)

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str|up.Null, "homeserver", "url")
	helper.Copy(up.Str, "homeserver", "user_agent")
	helper.Copy(up.Str, "homeserver", "request_timeout")

	helper.Copy(up.Int, "sync", "room_list_size")
	helper.Copy(up.Int, "sync", "timeline_limit")

	helper.Copy(up.Str, "store", "type")
	helper.Copy(up.Str, "store", "path")
	helper.Copy(up.Int, "store", "timeline_capacity")

	helper.Copy(up.Str|up.Null, "media", "bucket")
	helper.Copy(up.Str|up.Null, "media", "public_bucket")
	helper.Copy(up.Str, "media", "region")
	helper.Copy(up.Str|up.Null, "media", "endpoint")
	helper.Copy(up.Bool, "media", "insecure")
	helper.Copy(up.Int, "media", "credential_cache_size")

	helper.Copy(up.Str|up.Null, "backend", "access_token")
	helper.Copy(up.Str|up.Null, "backend", "access_key_id")
	helper.Copy(up.Str|up.Null, "backend", "secret_access_key")
	helper.Copy(up.Str|up.Null, "backend", "key_prefix")
	helper.Copy(up.Str, "backend", "credential_lifetime")

	helper.Copy(up.Bool, "encryption", "enabled")
	helper.Copy(up.Str, "encryption", "database")
	helper.Copy(up.Str|up.Null, "encryption", "pickle_key")

	helper.Copy(up.Str|up.Null, "metrics", "listen")

	helper.Copy(up.Map, "logging")
}

var Upgrader = &up.StructUpgrader{
	SimpleUpgrader: upgradeConfig,
	Blocks: [][]string{
		{"sync"},
		{"store"},
		{"media"},
		{"backend"},
		{"encryption"},
		{"metrics"},
		{"logging"},
	},
	Base: ExampleConfig,
}

// Upgrade merges the config at path into the example config and returns the
// result. The merged config is written back when save is true.
func Upgrade(path string, save bool) ([]byte, bool, error) {
	return up.Do(path, save, Upgrader)
}
