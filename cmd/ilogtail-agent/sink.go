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

package main

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	logdriver "github.com/alibaba/ilogtail-sub016/driver/log"
	"github.com/alibaba/ilogtail-sub016/pkg/batch"
	"github.com/alibaba/ilogtail-sub016/pkg/sender"
	"github.com/alibaba/ilogtail-sub016/pkg/sink/elasticsearch"
	"github.com/alibaba/ilogtail-sub016/pkg/sink/httpsink"
	"github.com/alibaba/ilogtail-sub016/pkg/sink/kafka"
)

// buildSinkFactory maps the "sink" settings block's "type" field to one
// of the three reference sinks and returns a logdriver.SinkFactory
// wrapping its constructor, plus a stable identity string for QueueKey
// derivation.
func buildSinkFactory(settings map[string]any) (logdriver.SinkFactory, string, error) {
	sinkType, _ := settings["type"].(string)
	switch sinkType {
	case "kafka":
		var cfg kafka.Config
		if err := mapstructure.Decode(settings, &cfg); err != nil {
			return nil, "", fmt.Errorf("decode kafka sink settings: %w", err)
		}
		return func(ackFn func(*batch.Batch)) (sender.Sink, error) {
			return kafka.New(cfg, ackFn)
		}, "kafka:" + cfg.Topic, nil

	case "elasticsearch":
		var cfg elasticsearch.Config
		if err := mapstructure.Decode(settings, &cfg); err != nil {
			return nil, "", fmt.Errorf("decode elasticsearch sink settings: %w", err)
		}
		return func(ackFn func(*batch.Batch)) (sender.Sink, error) {
			return elasticsearch.New(cfg, ackFn)
		}, "elasticsearch:" + cfg.Index, nil

	case "http", "":
		var cfg httpsink.Config
		if err := mapstructure.Decode(settings, &cfg); err != nil {
			return nil, "", fmt.Errorf("decode http sink settings: %w", err)
		}
		return func(ackFn func(*batch.Batch)) (sender.Sink, error) {
			return httpsink.New(cfg, ackFn), nil
		}, "http:" + cfg.URL, nil

	default:
		return nil, "", fmt.Errorf("unknown sink type %q", sinkType)
	}
}
