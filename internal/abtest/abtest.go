// Driftline - Client-Side Analytics Event Pipeline
// Copyright 2026 Driftline Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/driftline/driftline-go

// Package abtest derives stable per-user experiment assignments from
// server-supplied experiment definitions.
//
// Assignment must be bit-exact reproducible across implementations for
// a given user id and definition payload: the hash decides which users
// see which variant, so any drift silently reshuffles cohorts.
package abtest

import (
	"strings"
	"sync"
	"unicode/utf16"

	"github.com/goccy/go-json"

	"github.com/driftline/driftline-go/internal/logging"
	"github.com/driftline/driftline-go/internal/metrics"
)

// letters is the positional variant alphabet.
const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Unassigned marks an experiment whose variant weights never covered
// the user's hash value. Emitting a sentinel keeps the letter string
// positionally aligned with the experiment list.
const Unassigned = "-"

// DefaultVariant is returned by Query for unknown experiments.
const DefaultVariant = "A"

// Experiment is one server-supplied experiment definition. Name holds
// one or more aliases for the experiment; Variants holds the cumulative
// weight list (percent) walked during assignment.
type Experiment struct {
	Name     []string  `json:"name"`
	Variants []float64 `json:"variants"`
}

// Hash is the 32-bit signed polynomial rolling hash
// (h = h*31 + unit over UTF-16 code units, wrapping on overflow).
// Signed overflow wrap is the contract, not an accident.
func Hash(s string) int32 {
	var h int32
	for _, unit := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(unit)
	}
	return h
}

// bucket reduces a hash to [0,100).
func bucket(h int32) float64 {
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return float64(v % 100)
}

// Assign computes both derived projections for a definition list: the
// positional letter string and the lowercase-name lookup map.
func Assign(defs []Experiment, userID string) (string, map[string]string) {
	var b strings.Builder
	lookup := make(map[string]string)

	for _, exp := range defs {
		letter := assignOne(exp, userID)
		b.WriteString(letter)
		if letter == Unassigned {
			continue
		}
		for _, name := range exp.Name {
			lookup[strings.ToLower(name)] = letter
		}
	}
	return b.String(), lookup
}

// assignOne walks the experiment's weight list accumulating a running
// sum; the first variant whose cumulative sum exceeds the user's hash
// bucket is the assignment.
func assignOne(exp Experiment, userID string) string {
	if len(exp.Name) == 0 || len(exp.Variants) == 0 {
		return Unassigned
	}

	// The hash input salts the user id with the last character of the
	// experiment's first alias, so distinct experiments bucket the same
	// user independently.
	name := exp.Name[0]
	if name == "" {
		return Unassigned
	}
	salt := name[len(name)-1:]
	value := bucket(Hash(userID + "." + salt))

	var sum float64
	for i, weight := range exp.Variants {
		sum += weight
		if sum > value {
			if i >= len(letters) {
				return Unassigned
			}
			return string(letters[i])
		}
	}
	return Unassigned
}

// Cache holds the current assignment projections and the raw server
// state backing them. Refresh recomputes both projections atomically;
// readers never observe a half-updated state.
type Cache struct {
	mu      sync.RWMutex
	letters string
	lookup  map[string]string
	version string
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{lookup: make(map[string]string)}
}

// Refresh parses a definition payload and recomputes both projections.
// A malformed payload leaves the cache unchanged.
func (c *Cache) Refresh(payload string, userID string) error {
	var defs []Experiment
	if err := json.Unmarshal([]byte(payload), &defs); err != nil {
		return err
	}
	ls, lookup := Assign(defs, userID)

	c.mu.Lock()
	c.letters = ls
	c.lookup = lookup
	c.mu.Unlock()

	metrics.ABRefreshes.Inc()
	logging.Debug().Str("letters", ls).Int("experiments", len(defs)).Msg("experiment assignments refreshed")
	return nil
}

// Letters returns the positional letter string embedded in every event.
func (c *Cache) Letters() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.letters
}

// Query returns the assigned variant letter for an experiment name
// (case-insensitive), or DefaultVariant when the experiment is unknown.
func (c *Cache) Query(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if letter, ok := c.lookup[strings.ToLower(name)]; ok {
		return letter
	}
	return DefaultVariant
}

// Version returns the last-seen server experiment version.
func (c *Cache) Version() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// SetVersion records the server experiment version echoed on requests.
func (c *Cache) SetVersion(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version = v
}
