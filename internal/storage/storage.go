// Driftline - Client-Side Analytics Event Pipeline
// Copyright 2026 Driftline Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/driftline/driftline-go

// Package storage defines the key-value capability the pipeline persists
// through. Hosts supply any Store implementation; the SDK ships an
// in-memory store and a BadgerDB-backed store.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when a key has never been set.
var ErrNotFound = errors.New("storage: key not found")

// Store is the persistence capability consumed by the pipeline.
// Semantics are async and eventually consistent: a Set followed by a
// crash may or may not be visible on the next launch, and the pipeline
// tolerates either outcome.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key string, value string) error
}

// Keys used by the pipeline. Hosts sharing a Store with other data
// should namespace around these.
const (
	KeyUserID         = "user_id"
	KeyInstallDate    = "install_date"
	KeyABData         = "ab_data"
	KeyABVersion      = "ab_version"
	KeyEventQueue     = "event_queue"
	KeyActiveSessions = "active_sessions"
	KeyCrashSessions  = "crash_sessions"
)
