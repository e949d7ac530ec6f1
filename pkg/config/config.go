// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package config loads the YAML configuration shared by securecomms tools.
package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/sudoplatform/securecomms/pkg/backend"
	"github.com/sudoplatform/securecomms/pkg/matrix"
)

//go:embed example-config.yaml
var ExampleConfig string

type HomeserverConfig struct {
	URL            string `yaml:"url"`
	UserAgent      string `yaml:"user_agent"`
	RequestTimeout string `yaml:"request_timeout"`

	requestTimeout time.Duration
}

type SyncConfig struct {
	RoomListSize  int `yaml:"room_list_size"`
	TimelineLimit int `yaml:"timeline_limit"`
}

type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeSQLite StoreType = "sqlite"
)

type StoreConfig struct {
	Type             StoreType `yaml:"type"`
	Path             string    `yaml:"path"`
	TimelineCapacity int       `yaml:"timeline_capacity"`
}

type MediaConfig struct {
	Bucket              string `yaml:"bucket"`
	PublicBucket        string `yaml:"public_bucket"`
	Region              string `yaml:"region"`
	Endpoint            string `yaml:"endpoint"`
	Insecure            bool   `yaml:"insecure"`
	CredentialCacheSize int    `yaml:"credential_cache_size"`
}

// Enabled returns true if attachments can be stored.
func (mc *MediaConfig) Enabled() bool {
	return mc.Bucket != ""
}

type BackendConfig struct {
	AccessToken        string `yaml:"access_token"`
	AccessKeyID        string `yaml:"access_key_id"`
	SecretAccessKey    string `yaml:"secret_access_key"`
	KeyPrefix          string `yaml:"key_prefix"`
	CredentialLifetime string `yaml:"credential_lifetime"`

	credentialLifetime time.Duration
}

type EncryptionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Database  string `yaml:"database"`
	PickleKey string `yaml:"pickle_key"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type Config struct {
	Homeserver HomeserverConfig  `yaml:"homeserver"`
	Sync       SyncConfig        `yaml:"sync"`
	Store      StoreConfig       `yaml:"store"`
	Media      MediaConfig       `yaml:"media"`
	Backend    BackendConfig     `yaml:"backend"`
	Encryption EncryptionConfig  `yaml:"encryption"`
	Metrics    MetricsConfig     `yaml:"metrics"`
	Logging    zeroconfig.Config `yaml:"logging"`
}

type umConfig Config

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	err := node.Decode((*umConfig)(c))
	if err != nil {
		return err
	}
	return c.PostProcess()
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	return dur, nil
}

func (c *Config) PostProcess() error {
	var err error
	switch c.Store.Type {
	case "":
		c.Store.Type = StoreTypeMemory
	case StoreTypeMemory, StoreTypeSQLite:
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}
	if c.Store.Type == StoreTypeSQLite && c.Store.Path == "" {
		return errors.New("store.path is required for the sqlite store")
	}
	if c.Homeserver.requestTimeout, err = parseDuration("homeserver.request_timeout", c.Homeserver.RequestTimeout); err != nil {
		return err
	}
	if c.Backend.credentialLifetime, err = parseDuration("backend.credential_lifetime", c.Backend.CredentialLifetime); err != nil {
		return err
	}
	if c.Encryption.Enabled {
		if c.Encryption.PickleKey == "" {
			return errors.New("encryption.pickle_key is required when encryption is enabled")
		} else if c.Encryption.Database == "" {
			return errors.New("encryption.database is required when encryption is enabled")
		}
	}
	if c.Media.Enabled() && c.Media.PublicBucket == "" {
		c.Media.PublicBucket = c.Media.Bucket
	}
	return nil
}

// Parse decodes a config. Missing fields are not filled in from the example
// config; use Load for that.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Load reads the config at path, writing the example config there first if
// the file doesn't exist. Options added since the file was written are
// filled in with their defaults and saved back when save is true.
func Load(path string, save bool) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err = os.WriteFile(path, []byte(ExampleConfig), 0600); err != nil {
			return nil, fmt.Errorf("failed to write example config: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat config: %w", err)
	}
	data, _, err := Upgrade(path, save)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// RequestTimeout is the parsed homeserver.request_timeout.
func (c *Config) RequestTimeout() time.Duration {
	return c.Homeserver.requestTimeout
}

// StaticBackend builds the backend described by the backend section.
func (c *Config) StaticBackend() *backend.Static {
	return &backend.Static{
		AccessToken:     c.Backend.AccessToken,
		AccessKeyID:     c.Backend.AccessKeyID,
		SecretAccessKey: c.Backend.SecretAccessKey,
		KeyPrefix:       c.Backend.KeyPrefix,
		Lifetime:        c.Backend.credentialLifetime,
	}
}

// OpenStore opens the configured timeline store. The returned close function
// is never nil.
func (c *Config) OpenStore(ctx context.Context) (matrix.Store, func() error, error) {
	if c.Store.Type == StoreTypeSQLite {
		store, err := matrix.OpenSQLiteStore(ctx, c.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		store.SetCapacity(c.Store.TimelineCapacity)
		return store, store.Close, nil
	}
	store := matrix.NewMemoryStore()
	if c.Store.TimelineCapacity > 0 {
		store.Capacity = c.Store.TimelineCapacity
	}
	return store, func() error { return nil }, nil
}

// MediaOptions returns the client media options.
func (c *Config) MediaOptions() matrix.MediaOptions {
	return matrix.MediaOptions{
		Bucket:       c.Media.Bucket,
		PublicBucket: c.Media.PublicBucket,
		Region:       c.Media.Region,
	}
}
