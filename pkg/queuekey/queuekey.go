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

// Package queuekey defines QueueKey: the stable u64 identifying one
// (pipeline config, sink) pair that all admission control —
// Back-pressure Gate, Sender Queue, Timeout Flush Manager — is keyed
// by.
package queuekey

import "github.com/cespare/xxhash/v2"

// QueueKey is derived from (config_name, sink_identity).
type QueueKey uint64

// New derives a QueueKey from a pipeline's config name and its sink's
// identity string.
func New(configName, sinkIdentity string) QueueKey {
	d := xxhash.New()
	_, _ = d.WriteString(configName)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(sinkIdentity)
	return QueueKey(d.Sum64())
}
