// Driftline - Client-Side Analytics Event Pipeline
// Copyright 2026 Driftline Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/driftline/driftline-go

// Package wire implements the fixed-field delimited serialization
// contract of the ingestion endpoint.
//
// The wire body is a sequence of fields joined by the record separator
// byte (0x1E). Key/value argument pairs inside a single field are joined
// by the unit separator byte (0x1F). Both bytes are stripped from
// user-supplied text so free-form input cannot corrupt field boundaries.
package wire

import (
	"sort"
	"strconv"
	"strings"

	"github.com/driftline/driftline-go/internal/logging"
)

const (
	// RecordSep joins top-level wire fields.
	RecordSep = "\x1e"

	// UnitSep joins key/value pairs within the arguments field.
	UnitSep = "\x1f"

	// MaxEventLen bounds the event name, and the event name plus the
	// encoded arguments string, after truncation.
	MaxEventLen = 200

	// RevenueLimit is the magnitude revenue values are clamped to.
	RevenueLimit = 999999.99
)

// Sanitize strips the record separator from s. The unit separator is
// also stripped unless keepUnit is set; keepUnit is used only for
// pre-joined argument strings, which legitimately contain unit
// separators internally.
func Sanitize(s string, keepUnit bool) string {
	s = strings.ReplaceAll(s, RecordSep, "")
	if !keepUnit {
		s = strings.ReplaceAll(s, UnitSep, "")
	}
	return s
}

// SafeEvent sanitizes an event name and truncates it to MaxEventLen.
func SafeEvent(event string) string {
	event = Sanitize(event, false)
	if len(event) > MaxEventLen {
		logging.Diag().
			Str("event", event[:MaxEventLen]).
			Int("length", len(event)).
			Msg("event name truncated")
		event = event[:MaxEventLen]
	}
	return event
}

// EncodeArgs flattens an argument map into the wire arguments string:
// keys sorted lexicographically, each key<US>value<US>, with the
// trailing separator trimmed. Sorted order keeps the encoding
// deterministic for identical input.
func EncodeArgs(args map[string]string) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(Sanitize(k, false))
		b.WriteString(UnitSep)
		b.WriteString(Sanitize(args[k], false))
		b.WriteString(UnitSep)
	}
	return strings.TrimSuffix(b.String(), UnitSep)
}

// FitArgs right-truncates an already-encoded arguments string so that
// len(event)+len(args) <= MaxEventLen.
func FitArgs(event, args string) string {
	if len(event)+len(args) <= MaxEventLen {
		return args
	}
	keep := MaxEventLen - len(event)
	if keep < 0 {
		keep = 0
	}
	logging.Diag().
		Str("event", event).
		Int("args_length", len(args)).
		Msg("event arguments truncated")
	return args[:keep]
}

// FormatRevenue clamps a revenue amount to ±RevenueLimit, formats it
// with two decimals, and strips a trailing ".00".
func FormatRevenue(revenue float64) string {
	if revenue > RevenueLimit {
		logging.Diag().Float64("revenue", revenue).Msg("revenue clamped")
		revenue = RevenueLimit
	} else if revenue < -RevenueLimit {
		logging.Diag().Float64("revenue", revenue).Msg("revenue clamped")
		revenue = -RevenueLimit
	}
	s := strconv.FormatFloat(revenue, 'f', 2, 64)
	return strings.TrimSuffix(s, ".00")
}

// UserData is the per-user sub-record embedded in every event. It is
// itself record-separator-joined on the wire.
type UserData struct {
	ID          string
	Device      string
	OS          string
	BundleID    string
	Debug       bool
	Version     string
	Language    string
	InstallDate int64
}

// Encode joins the user-data fields in wire order, with every free-text
// field delimiter-stripped first.
func (u UserData) Encode() string {
	debug := "0"
	if u.Debug {
		debug = "1"
	}
	fields := []string{
		Sanitize(u.ID, false),
		Sanitize(u.Device, false),
		Sanitize(u.OS, false),
		Sanitize(u.BundleID, false),
		debug,
		Sanitize(u.Version, false),
		Sanitize(u.Language, false),
		strconv.FormatInt(u.InstallDate, 10),
	}
	return strings.Join(fields, RecordSep)
}

// Body assembles the wire body for a single event. Field order is
// fixed: appId, unixTimeSeconds, event, revenue, addedArguments,
// userData, and abLetters only when non-empty.
func Body(appID string, unixSeconds int64, event, revenue, args, userData, abLetters string) string {
	fields := []string{
		appID,
		strconv.FormatInt(unixSeconds, 10),
		event,
		revenue,
		args,
		userData,
	}
	if abLetters != "" {
		fields = append(fields, abLetters)
	}
	return strings.Join(fields, RecordSep)
}
