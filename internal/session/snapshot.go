// Driftline - Client-Side Analytics Event Pipeline
// Copyright 2026 Driftline Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/driftline/driftline-go

package session

import (
	"context"
	"errors"

	"github.com/goccy/go-json"

	"github.com/driftline/driftline-go/internal/logging"
	"github.com/driftline/driftline-go/internal/storage"
)

// crashSnapshot is the persisted best-effort duration estimate for one
// in-progress session, written periodically and on background
// transitions so an unclean process death does not lose tracked time.
type crashSnapshot struct {
	ScreenID string            `json:"screen_id"`
	Args     map[string]string `json:"args,omitempty"`

	// AccumulatedMS is the snapshot duration in milliseconds. For an
	// estimated snapshot this is the configured floor, not measured
	// time.
	AccumulatedMS int64 `json:"accumulated_ms"`

	// LastUpdateMS is when the snapshot was written (epoch ms); stale
	// snapshots are discarded during recovery.
	LastUpdateMS int64 `json:"last_update_ms"`

	// StartMS preserves the session's original logical start (epoch
	// ms) for the eventual view event timestamp.
	StartMS int64 `json:"start_ms"`

	// IsEstimated marks a floor value; recovery must not carry it
	// into the final duration.
	IsEstimated bool `json:"is_estimated"`
}

// activeSnapshot is the richer graceful-persistence record written on
// background transitions. Unlike crashSnapshot it always carries
// measured time.
type activeSnapshot struct {
	ScreenID      string            `json:"screen_id"`
	Args          map[string]string `json:"args,omitempty"`
	AccumulatedMS int64             `json:"accumulated_ms"`
	StartMS       int64             `json:"start_ms"`
}

// readSnapshots unmarshals a persisted snapshot list, degrading to nil
// on absence or malformed data.
func readSnapshots[T any](ctx context.Context, store storage.Store, key string) []T {
	raw, err := store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logging.Diag().Err(err).Str("key", key).Msg("reading session snapshots failed")
		}
		return nil
	}
	var snaps []T
	if err := json.Unmarshal([]byte(raw), &snaps); err != nil {
		logging.Diag().Err(err).Str("key", key).Msg("malformed session snapshots")
		return nil
	}
	return snaps
}

// writeSnapshots persists a snapshot list under key.
func writeSnapshots[T any](ctx context.Context, store storage.Store, key string, snaps []T) {
	data, err := json.Marshal(snaps)
	if err != nil {
		logging.Diag().Err(err).Str("key", key).Msg("encoding session snapshots failed")
		return
	}
	if err := store.Set(ctx, key, string(data)); err != nil {
		logging.Diag().Err(err).Str("key", key).Msg("persisting session snapshots failed")
	}
}

// clearSnapshots overwrites a snapshot key with an empty list.
func clearSnapshots(ctx context.Context, store storage.Store, key string) {
	if err := store.Set(ctx, key, "[]"); err != nil {
		logging.Diag().Err(err).Str("key", key).Msg("clearing session snapshots failed")
	}
}
