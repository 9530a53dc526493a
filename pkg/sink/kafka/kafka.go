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

// Package kafka is a reference pkg/sender.Sink writing batches to a
// Kafka topic via Shopify/sarama's synchronous producer, one message
// per event with the batch's tags serialised as Kafka message headers.
package kafka

import (
	"context"

	"github.com/Shopify/sarama"

	"github.com/alibaba/ilogtail-sub016/pkg/batch"
	"github.com/alibaba/ilogtail-sub016/pkg/logging"
	"github.com/alibaba/ilogtail-sub016/pkg/sender"
)

// Config configures one Kafka sink instance.
type Config struct {
	Brokers []string
	Topic   string
}

// Sink adapts a sarama.SyncProducer to pkg/sender.Sink.
type Sink struct {
	topic    string
	producer sarama.SyncProducer
	ackFn    func(b *batch.Batch)
}

// New dials Brokers and constructs a Sink. ackFn is called once every
// event in a Batch has been durably produced, so the caller can invoke
// pkg/sender.Queue.Ack with the batch's checkpoint.
func New(cfg Config, ackFn func(b *batch.Batch)) (*Sink, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Return.Errors = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, err
	}
	return &Sink{topic: cfg.Topic, producer: producer, ackFn: ackFn}, nil
}

// Admit implements sender.Sink: it produces every event in b as one
// Kafka message, synchronously, and reports Full on a retriable
// broker-side error (so the Queue retries) or Reject on anything else.
func (s *Sink) Admit(ctx context.Context, b *batch.Batch) sender.AdmitResult {
	for _, e := range b.Events {
		msg := &sarama.ProducerMessage{
			Topic: s.topic,
			Value: sarama.ByteEncoder(e.PayloadBytes),
		}
		for k, v := range e.Tags {
			msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
		}
		if _, _, err := s.producer.SendMessage(msg); err != nil {
			if isRetriable(err) {
				logging.Warn.Warnw("kafka sink: retriable produce error", "topic", s.topic, "error", err)
				return sender.Full
			}
			logging.Error.Errorw("kafka sink: produce failed", "topic", s.topic, "error", err)
			return sender.Reject
		}
	}
	if s.ackFn != nil {
		s.ackFn(b)
	}
	return sender.Ok
}

func isRetriable(err error) bool {
	switch err {
	case sarama.ErrRequestTimedOut, sarama.ErrNotEnoughReplicas, sarama.ErrNotLeaderForPartition:
		return true
	default:
		return false
	}
}

// Shutdown closes the underlying producer.
func (s *Sink) Shutdown(ctx context.Context) error {
	return s.producer.Close()
}
