// Copyright 2026 The ilogtail-sub016 Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpsink is a reference pkg/sender.Sink posting a batch's
// events as one newline-delimited-JSON body per HTTP request, via
// hashicorp/go-retryablehttp (itself built on hashicorp/go-cleanhttp's
// pooled transport) so transient network/5xx failures are retried
// below the Sender Queue's own Full/retry semantics.
package httpsink

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/alibaba/ilogtail-sub016/pkg/batch"
	"github.com/alibaba/ilogtail-sub016/pkg/logging"
	"github.com/alibaba/ilogtail-sub016/pkg/sender"
)

// Config configures one HTTP sink instance.
type Config struct {
	URL        string
	RetryMax   int
	RetryWaitMin, RetryWaitMax time.Duration
}

// wireEvent is one event's on-the-wire JSON shape.
type wireEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags"`
	Payload   string            `json:"payload"`
}

// Sink posts batches to a single HTTP endpoint.
type Sink struct {
	url    string
	client *retryablehttp.Client
	ackFn  func(b *batch.Batch)
}

// New constructs a Sink. The underlying retryablehttp.Client reuses
// go-cleanhttp's DefaultPooledTransport so repeated requests to the
// same endpoint share connections rather than each dialing fresh.
// ackFn is called once a batch has been accepted with a 2xx response,
// so the caller can invoke pkg/sender.Queue.Ack with its checkpoint.
func New(cfg Config, ackFn func(b *batch.Batch)) *Sink {
	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{Transport: cleanhttp.DefaultPooledTransport()}
	client.Logger = nil // the module's structured logger is wired in RequestLogHook below
	if cfg.RetryMax > 0 {
		client.RetryMax = cfg.RetryMax
	}
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		client.RetryWaitMax = cfg.RetryWaitMax
	}
	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logging.Warn.Warnw("httpsink: retrying request", "url", req.URL.String(), "attempt", attempt)
		}
	}
	return &Sink{url: cfg.URL, client: client, ackFn: ackFn}
}

// Admit implements sender.Sink: it serialises every event in b as one
// newline-delimited-JSON line and POSTs the result. A 4xx response
// (other than 429) is treated as permanently Rejected; anything else
// that survives go-retryablehttp's own retry budget is Full, so the
// Queue retries later instead of dropping the batch.
func (s *Sink) Admit(ctx context.Context, b *batch.Batch) sender.AdmitResult {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range b.Events {
		if err := enc.Encode(wireEvent{Timestamp: e.Timestamp, Tags: e.Tags, Payload: string(e.PayloadBytes)}); err != nil {
			logging.Warn.Warnw("httpsink: marshal failed, skipping event", "error", err)
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.url, &buf)
	if err != nil {
		logging.Error.Errorw("httpsink: build request failed", "error", err)
		return sender.Reject
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := s.client.Do(req)
	if err != nil {
		logging.Warn.Warnw("httpsink: request failed after retries", "url", s.url, "error", err)
		return sender.Full
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if s.ackFn != nil {
			s.ackFn(b)
		}
		return sender.Ok
	case resp.StatusCode == http.StatusTooManyRequests:
		return sender.Full
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		logging.Error.Errorw("httpsink: endpoint rejected batch", "url", s.url, "status", resp.StatusCode)
		return sender.Reject
	default:
		return sender.Full
	}
}

// Shutdown idles the pooled transport's connections.
func (s *Sink) Shutdown(ctx context.Context) error {
	s.client.HTTPClient.CloseIdleConnections()
	return nil
}
