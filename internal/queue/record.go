// Driftline - Client-Side Analytics Event Pipeline
// Copyright 2026 Driftline Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/driftline/driftline-go

package queue

import (
	"time"

	"github.com/driftline/driftline-go/internal/wire"
)

// Record is the queued unit of delivery. All free-text fields are
// pre-sanitized and pre-truncated by the codec before a Record is
// built; a Record is immutable once enqueued.
type Record struct {
	AppID     string `json:"app_id"`
	UserData  string `json:"user_data"`
	Event     string `json:"event"`
	Revenue   string `json:"revenue"`
	Args      string `json:"args"`
	Time      int64  `json:"time"` // epoch seconds
	ABLetters string `json:"ab_letters,omitempty"`
}

// Body assembles the wire body sent to the ingestion endpoint.
func (r Record) Body() string {
	return wire.Body(r.AppID, r.Time, r.Event, r.Revenue, r.Args, r.UserData, r.ABLetters)
}

// Age returns how long the record has been queued as of now.
func (r Record) Age(now time.Time) time.Duration {
	return now.Sub(time.Unix(r.Time, 0))
}
