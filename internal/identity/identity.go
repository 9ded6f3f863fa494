// Driftline - Client-Side Analytics Event Pipeline
// Copyright 2026 Driftline Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/driftline/driftline-go

// Package identity manages the pseudonymous user id and install state
// embedded in every event.
package identity

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/driftline/driftline-go/internal/clock"
	"github.com/driftline/driftline-go/internal/logging"
	"github.com/driftline/driftline-go/internal/storage"
)

// Identity is the persisted per-install state.
type Identity struct {
	// ID is a 22-character URL-safe base64 encoding of a 16-byte UUID.
	// Immutable once set.
	ID string

	// InstallDate is the first-run timestamp in epoch seconds.
	InstallDate int64
}

// Manager loads and creates identity state.
type Manager struct {
	store storage.Store
	clock clock.Clock
}

// NewManager returns a Manager over the given store.
func NewManager(store storage.Store, clk clock.Clock) *Manager {
	return &Manager{store: store, clock: clk}
}

// Load returns the persisted identity, generating and persisting a
// fresh one on first run. Storage failures degrade to a fresh
// (unpersisted) identity so logging can proceed.
func (m *Manager) Load(ctx context.Context) Identity {
	id, err := m.store.Get(ctx, storage.KeyUserID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logging.Diag().Err(err).Msg("reading user id failed, generating fresh")
		}
		id = NewID()
		if err := m.store.Set(ctx, storage.KeyUserID, id); err != nil {
			logging.Diag().Err(err).Msg("persisting user id failed")
		}
	}

	installDate := m.loadInstallDate(ctx)
	return Identity{ID: id, InstallDate: installDate}
}

// SetID sets the user id only when none has been persisted yet.
// An existing id is immutable; the call is a no-op then.
func (m *Manager) SetID(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if _, err := m.store.Get(ctx, storage.KeyUserID); err == nil {
		logging.Diag().Msg("user id already set, ignoring SetID")
		return
	}
	if err := m.store.Set(ctx, storage.KeyUserID, id); err != nil {
		logging.Diag().Err(err).Msg("persisting user id failed")
	}
}

// loadInstallDate returns the persisted install timestamp, recording
// the current time on first run.
func (m *Manager) loadInstallDate(ctx context.Context) int64 {
	raw, err := m.store.Get(ctx, storage.KeyInstallDate)
	if err == nil {
		ts, perr := strconv.ParseInt(raw, 10, 64)
		if perr == nil {
			return ts
		}
		logging.Diag().Str("value", raw).Msg("malformed install date, resetting")
	}

	now := m.clock.Now().Unix()
	if err := m.store.Set(ctx, storage.KeyInstallDate, strconv.FormatInt(now, 10)); err != nil {
		logging.Diag().Err(err).Msg("persisting install date failed")
	}
	return now
}

// NewID generates a fresh pseudonymous user id: a 16-byte UUID encoded
// as unpadded URL-safe base64, always 22 characters.
func NewID() string {
	u := uuid.New()
	return base64.RawURLEncoding.EncodeToString(u[:])
}

// Validate reports whether id looks like a Driftline-generated user id.
func Validate(id string) error {
	if len(id) != 22 {
		return fmt.Errorf("identity: id length %d, want 22", len(id))
	}
	if _, err := base64.RawURLEncoding.DecodeString(id); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	return nil
}
