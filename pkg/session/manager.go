// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package session keeps one protocol client per handle.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sudoplatform/securecomms/pkg/entities"
	"github.com/sudoplatform/securecomms/pkg/matrix"
)

var ErrManagerClosed = errors.New("session manager is closed")

// OptionsFunc builds the client options for a handle that has no client yet.
// The logger is always replaced with the manager's.
type OptionsFunc func(ctx context.Context, handleID entities.HandleID) (matrix.Options, error)

// Manager owns the Client of every active handle. Clients are created on
// first use and torn down with Remove or Close.
type Manager struct {
	options OptionsFunc
	log     zerolog.Logger

	lock    sync.Mutex
	clients map[entities.HandleID]*matrix.Client
	closed  bool
}

func NewManager(options OptionsFunc, log zerolog.Logger) *Manager {
	return &Manager{
		options: options,
		log:     log.With().Str("component", "session").Logger(),
		clients: make(map[entities.HandleID]*matrix.Client),
	}
}

// GetOrCreate returns the handle's client, creating and signing it in if
// needed. Sign-in failures don't prevent the client from being returned, but
// failing to set up encryption does.
func (m *Manager) GetOrCreate(ctx context.Context, handleID entities.HandleID) (*matrix.Client, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	} else if client, ok := m.clients[handleID]; ok {
		return client, nil
	}
	opts, err := m.options(ctx, handleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get options for %s: %w", handleID, err)
	}
	if opts.HandleID == "" {
		opts.HandleID = handleID
	}
	opts.Log = m.log
	client, err := matrix.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", handleID, err)
	}
	client.SignIn(ctx)
	if err = client.InitCrypto(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set up encryption for %s: %w", handleID, err)
	}
	m.clients[handleID] = client
	m.log.Debug().Str("handle_id", string(handleID)).Msg("Created session")
	return client, nil
}

// Get returns the handle's client, or nil if there is none.
func (m *Manager) Get(handleID entities.HandleID) *matrix.Client {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.clients[handleID]
}

// Handles lists the handles that have a client, sorted.
func (m *Manager) Handles() []entities.HandleID {
	m.lock.Lock()
	handles := make([]entities.HandleID, 0, len(m.clients))
	for handleID := range m.clients {
		handles = append(handles, handleID)
	}
	m.lock.Unlock()
	slices.Sort(handles)
	return handles
}

func (m *Manager) teardown(ctx context.Context, client *matrix.Client) {
	client.Close()
	client.SignOut(ctx)
}

// Remove stops the handle's client, signs it out and forgets it. It returns
// false if the handle had no client.
func (m *Manager) Remove(ctx context.Context, handleID entities.HandleID) bool {
	m.lock.Lock()
	client, ok := m.clients[handleID]
	delete(m.clients, handleID)
	m.lock.Unlock()
	if !ok {
		return false
	}
	m.teardown(ctx, client)
	m.log.Debug().Str("handle_id", string(handleID)).Msg("Removed session")
	return true
}

// Close tears down every client. The manager can't be used afterwards.
func (m *Manager) Close(ctx context.Context) {
	m.lock.Lock()
	clients := m.clients
	m.clients = make(map[entities.HandleID]*matrix.Client)
	m.closed = true
	m.lock.Unlock()

	var wg sync.WaitGroup
	for _, client := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.teardown(ctx, client)
		}()
	}
	wg.Wait()
}
