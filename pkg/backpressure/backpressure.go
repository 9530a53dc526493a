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

// Package backpressure defines the Gate interface: a
// Reader consults it before pulling more bytes so a saturated sink
// propagates congestion all the way back to the file read, instead of
// growing an unbounded in-memory queue.
package backpressure

import "github.com/alibaba/ilogtail-sub016/pkg/queuekey"

// Outcome is the Gate's admission verdict.
type Outcome int

const (
	// Admit means the Reader may proceed with its pending bytes.
	Admit Outcome = iota
	// WouldBlock means the Reader must stop producing for this queue
	// key and retry later; any bytes already read stay in the Reader's
	// residual buffer.
	WouldBlock
)

// Gate is implemented by pkg/sender.Queue; kept as a separate,
// dependency-free interface so pkg/tailer does not need to import the
// sink/queue machinery just to check admission.
type Gate interface {
	Check(key queuekey.QueueKey) Outcome
}

// AlwaysAdmit is a Gate that never backs off, used by tests and by any
// pipeline configured without a sink (metrics-only / dry-run use).
type AlwaysAdmit struct{}

func (AlwaysAdmit) Check(queuekey.QueueKey) Outcome { return Admit }
