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

// Package elasticsearch is a reference pkg/sender.Sink indexing
// batches into Elasticsearch via elastic/go-elasticsearch/v8's bulk
// indexer, one document per event.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"

	"github.com/alibaba/ilogtail-sub016/pkg/batch"
	"github.com/alibaba/ilogtail-sub016/pkg/logging"
	"github.com/alibaba/ilogtail-sub016/pkg/sender"
)

// Config configures one Elasticsearch sink instance.
type Config struct {
	Addresses []string
	Index     string
}

// doc is the JSON document shape indexed for each event.
type doc struct {
	Timestamp time.Time         `json:"@timestamp"`
	Tags      map[string]string `json:"tags"`
	Message   string            `json:"message"`
}

// Sink adapts esutil.BulkIndexer to pkg/sender.Sink.
type Sink struct {
	index   string
	indexer esutil.BulkIndexer
	ackFn   func(b *batch.Batch)
}

// New dials Addresses and constructs a Sink.
func New(cfg Config, ackFn func(b *batch.Batch)) (*Sink, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: cfg.Addresses})
	if err != nil {
		return nil, err
	}
	indexer, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Index:  cfg.Index,
		Client: client,
	})
	if err != nil {
		return nil, err
	}
	return &Sink{index: cfg.Index, indexer: indexer, ackFn: ackFn}, nil
}

// Admit implements sender.Sink: every event in b is queued as one bulk
// index action; a per-item failure reports Reject for that batch (the
// bulk indexer's own internal retry already covers transient errors,
// so anything surfacing here is treated as permanent).
func (s *Sink) Admit(ctx context.Context, b *batch.Batch) sender.AdmitResult {
	var rejected atomic.Bool
	for _, e := range b.Events {
		d := doc{Timestamp: e.Timestamp, Tags: e.Tags, Message: string(e.PayloadBytes)}
		payload, err := json.Marshal(d)
		if err != nil {
			logging.Warn.Warnw("elasticsearch sink: marshal failed, skipping event", "error", err)
			continue
		}
		item := esutil.BulkIndexerItem{
			Action: "index",
			Body:   bytes.NewReader(payload),
			OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, resp esutil.BulkIndexerResponseItem, err error) {
				rejected.Store(true)
				logging.Error.Errorw("elasticsearch sink: bulk index item failed", "index", s.index, "status", resp.Status, "error", err)
			},
		}
		if err := s.indexer.Add(ctx, item); err != nil {
			logging.Error.Errorw("elasticsearch sink: add to bulk indexer failed", "error", err)
			return sender.Reject
		}
	}
	// esutil.BulkIndexer flushes on its own schedule (FlushInterval /
	// FlushBytes), so a per-item OnFailure recorded above this point
	// may not have landed yet; this ack is necessarily optimistic, and
	// a failure surfacing after Admit returns Ok is only visible via
	// the logged error above, not via a Reject on this call.
	if rejected.Load() {
		return sender.Reject
	}
	if s.ackFn != nil {
		s.ackFn(b)
	}
	return sender.Ok
}

// Shutdown closes the bulk indexer, flushing anything still buffered.
func (s *Sink) Shutdown(ctx context.Context) error {
	return s.indexer.Close(ctx)
}
