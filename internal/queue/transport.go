// Driftline - Client-Side Analytics Event Pipeline
// Copyright 2026 Driftline Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/driftline/driftline-go

package queue

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// abVersionHeader echoes the last-seen server experiment version on
// requests and carries updates on responses.
const abVersionHeader = "X-AB-Version"

// Response is a successful delivery result. Body may carry a new
// experiment-definition payload; ABVersion the server's experiment
// version.
type Response struct {
	Body      string
	ABVersion string
}

// Sender delivers one wire body to the ingestion endpoint. Any network
// error or non-2xx status is a delivery failure.
type Sender interface {
	Send(ctx context.Context, body string, abVersion string) (Response, error)
}

// HTTPSender posts wire bodies as text/plain.
type HTTPSender struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSender returns a Sender posting to endpoint.
func NewHTTPSender(endpoint string) *HTTPSender {
	return &HTTPSender{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Send posts body to the endpoint. The abVersion, when non-empty, is
// echoed in the X-AB-Version request header.
func (s *HTTPSender) Send(ctx context.Context, body string, abVersion string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	if abVersion != "" {
		req.Header.Set(abVersionHeader, abVersion)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Response{}, fmt.Errorf("post event: status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		// The server accepted the event; a torn response body only
		// costs us the experiment refresh.
		raw = nil
	}
	return Response{
		Body:      string(raw),
		ABVersion: resp.Header.Get(abVersionHeader),
	}, nil
}
