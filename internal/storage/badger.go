// Driftline - Client-Side Analytics Event Pipeline
// Copyright 2026 Driftline Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/driftline/driftline-go

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// keyPrefix namespaces SDK keys inside a Badger database the host may
// share with other data.
const keyPrefix = "driftline/"

// prefixed returns a fresh key slice; the prefix constant is never
// appended to in place.
func prefixed(key string) []byte {
	return []byte(keyPrefix + key)
}

// Badger is a durable Store backed by BadgerDB. It is the
// batteries-included default for hosts that want queue and session state
// to survive process restarts.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a Badger-backed store at path.
// SyncWrites is enabled: the queue's at-least-once guarantee depends on
// snapshots reaching disk before delivery is attempted.
func OpenBadger(path string) (*Badger, error) {
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = true

	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}
	return &Badger{db: db}, nil
}

// Get returns the value for key, or ErrNotFound.
func (b *Badger) Get(_ context.Context, key string) (string, error) {
	var value string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(prefixed(key))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		value = string(raw)
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("badger get %q: %w", key, err)
	}
	return value, nil
}

// Set stores value under key.
func (b *Badger) Set(_ context.Context, key string, value string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(prefixed(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("badger set %q: %w", key, err)
	}
	return nil
}

// Close shuts down the underlying database.
func (b *Badger) Close() error {
	return b.db.Close()
}
