//
// Copyright (C) 2022 IBM Corporation.
//
// Authors:
// Frederico Araujo <frederico.araujo@ibm.com>
// Teryl Taylor <terylt@ibm.com>
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

// Package log wires one pipeline's full ingestion path end to end:
// Discovery Handler, Reader Registry, Batcher, Timeout Flush Manager
// and Sender Queue, driven off a single scheduler.Timer.
package log

import (
	"context"
	"os"
	"time"

	"github.com/alibaba/ilogtail-sub016/pkg/alarm"
	"github.com/alibaba/ilogtail-sub016/pkg/batch"
	"github.com/alibaba/ilogtail-sub016/pkg/checkpoint"
	"github.com/alibaba/ilogtail-sub016/pkg/containerinfo"
	"github.com/alibaba/ilogtail-sub016/pkg/discovery"
	"github.com/alibaba/ilogtail-sub016/pkg/event"
	"github.com/alibaba/ilogtail-sub016/pkg/logging"
	"github.com/alibaba/ilogtail-sub016/pkg/pipelinecfg"
	"github.com/alibaba/ilogtail-sub016/pkg/queuekey"
	"github.com/alibaba/ilogtail-sub016/pkg/scheduler"
	"github.com/alibaba/ilogtail-sub016/pkg/sender"
	"github.com/alibaba/ilogtail-sub016/pkg/tailer"
)

// Tuning for the Timer entries this Driver registers. Discovery and
// the checkpoint flush both poll; this Driver does not start
// pkg/discovery.Watch, so new files are picked up on the next
// discovery tick.
const (
	discoveryTickInterval   = time.Second
	readerPollInterval      = 200 * time.Millisecond
	timeoutScanInterval     = time.Second
	checkpointFlushInterval = 5 * time.Second
)

// Driver owns everything needed to run one pipeline: config decode has
// already happened by the time New is called, separating the
// construction step from the running one.
type Driver struct {
	pipeline string
	cfg      pipelinecfg.Config

	notifier alarm.Notifier
	queueKey queuekey.QueueKey

	registry   *tailer.Registry
	store      *checkpoint.Store
	handler    *discovery.Handler
	batcher    *batch.Batcher
	timeout    *scheduler.TimeoutManager
	queue      *sender.Queue
	timer      *scheduler.Timer
	readBudget time.Duration
}

// SinkFactory builds the sender.Sink a Driver drains into. It receives
// the ackFn the Driver's own Sender Queue needs wired in before the
// sink itself can be constructed (every reference sink's New takes
// ackFn as a constructor argument), which is why this is a factory
// rather than a plain sender.Sink value. Sinks that dial out at
// construction time (kafka, elasticsearch) report that failure here.
type SinkFactory func(ackFn func(*batch.Batch)) (sender.Sink, error)

// New builds a Driver for one decoded pipeline configuration, draining
// into the sink sinkFactory builds (identified by sinkIdentity for
// QueueKey derivation) and persisting checkpoints under checkpointPath.
func New(cfg pipelinecfg.Config, sinkIdentity string, sinkFactory SinkFactory, checkpointPath string, notifier alarm.Notifier) (*Driver, error) {
	if notifier == nil {
		notifier = alarm.Noop
	}

	qk := queuekey.New(cfg.Name, sinkIdentity)

	store := checkpoint.NewStore(checkpointPath)
	if err := store.Load(); err != nil {
		logging.Warn.Warnw("driver: checkpoint load failed, starting cold", "pipeline", cfg.Name, "error", err)
	}

	registry := tailer.NewRegistry()

	// queue is assigned below; the closure is only invoked later, once
	// a batch is actually acknowledged, by which point it is non-nil.
	var queue *sender.Queue
	sink, err := sinkFactory(func(b *batch.Batch) { queue.Ack(b.Checkpoint) })
	if err != nil {
		return nil, err
	}
	queue = sender.New(qk, sink, store, notifier, sender.DefaultCapacity)

	d := &Driver{
		pipeline: cfg.Name,
		cfg:      cfg,
		notifier: notifier,
		queueKey: qk,
		registry: registry,
		store:    store,
		queue:    queue,
		timer:    scheduler.New(),
		timeout:  scheduler.NewTimeoutManager(),
	}

	d.batcher = batch.New(cfg.Name, cfg.BatchConfig(), notifier, func(b *batch.Batch) { queue.Enqueue(b) })
	if cfg.TimeoutSecs > 0 {
		d.batcher.UseTimeoutManager(d.timeout, qk, cfg.TimeoutSecs)
	}

	readerCfg := cfg.ReaderConfig(cfg.EventTags())
	d.readBudget = readerCfg.TimeSlice()

	discoveryCfg := discovery.Config{
		Pipeline:         cfg.Name,
		MatcherConfig:    cfg.MatcherConfig(),
		ReaderConfig:     readerCfg,
		RotatorQueueSize: orDefault(cfg.RotatorQueueSize, tailer.DefaultRotatorQueueSize),
		RotateRetainSecs: orDefault(cfg.RotateRetainSecs, tailer.DefaultRotateRetainSecs),
		MaxReaders:       cfg.MaxReaders,
	}
	d.handler = discovery.New(discoveryCfg, registry, store, notifier, containerinfo.NewStatic())

	return d, nil
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// Run drives the pipeline until ctx is cancelled, then flushes
// outstanding batches and the checkpoint file before returning.
func (d *Driver) Run(ctx context.Context) error {
	root := os.DirFS("/")

	d.timer.Add(0, discoveryTickInterval, func() {
		d.handler.Tick(root, time.Now())
	})
	d.timer.Add(readerPollInterval, readerPollInterval, d.pollReaders)
	d.timer.Add(timeoutScanInterval, timeoutScanInterval, func() {
		d.timeout.Scan(time.Now())
	})
	d.timer.Add(checkpointFlushInterval, checkpointFlushInterval, d.store.FlushWithRetry)

	// The Queue's own dispatcher loop runs on a context independent of
	// the Timer's: Shutdown below only waits for the ring/overflow to
	// drain, it does not drain them itself, so Run must still be
	// pumping wake events while Shutdown is in its wait loop.
	queueCtx, stopQueue := context.WithCancel(context.Background())
	defer stopQueue()
	go d.queue.Run(queueCtx)

	logging.Info.Infow("driver: pipeline started", "pipeline", d.pipeline)
	d.timer.Run(ctx)

	d.batcher.FlushAll()
	d.store.FlushWithRetry()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), sender.DefaultShutdownGrace)
	defer cancel()
	err := d.queue.Shutdown(shutdownCtx)
	stopQueue()
	logging.Info.Infow("driver: pipeline stopped", "pipeline", d.pipeline)
	return err
}

// pollReaders gives every live Reader one time-sliced turn, routing
// decoded events into the Batcher and consulting the Sender Queue as
// this pipeline's Back-pressure Gate.
func (d *Driver) pollReaders() {
	d.registry.Each(func(r *tailer.Reader) {
		for {
			outcome := r.Read(d.queue, d.queueKey, d.readBudget, func(e event.Event) {
				d.batcher.Add(e)
			})
			if outcome != tailer.Produced {
				return
			}
		}
	})
}
