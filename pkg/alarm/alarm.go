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

// Package alarm implements throttled self-monitoring notifications
// (I/O warnings, truncated records, malformed framing, RotationArray
// overflow, malformed encoding): at most one message per (pipeline,
// kind) is forwarded to the operator per interval, with everything
// else silently dropped so a misbehaving log source cannot flood the
// agent's own output.
package alarm

import (
	"fmt"
	"log/syslog"
	"sync"
	"time"

	"github.com/RackSec/srslog"

	"github.com/alibaba/ilogtail-sub016/pkg/logging"
)

// DefaultInterval is the minimum spacing between two alarms of the
// same (pipeline, kind).
const DefaultInterval = time.Minute

// Kind names one category of alarm. Every alarm site in this module
// uses one of these, never an ad-hoc string, so a token bucket can be
// keyed on them reliably.
type Kind string

const (
	KindIOWarning        Kind = "io_warning"
	KindTruncatedRecord   Kind = "truncated_record"
	KindMalformedFraming  Kind = "malformed_framing"
	KindRotationOverflow  Kind = "rotation_overflow"
	KindMalformedEncoding Kind = "malformed_encoding"
)

// Notifier is the capability needed by the components that raise
// alarms; Notifier lets pkg/containerlog, pkg/multiline, pkg/tailer
// and pkg/batch depend on an interface rather than the concrete
// notifierImpl.
type Notifier interface {
	Notify(pipeline string, kind Kind, format string, args ...any)
}

// notifierImpl forwards throttled alarms to a syslog endpoint (via
// RackSec/srslog, a maintained fork of the standard library's
// log/syslog with TLS dial support) and mirrors every alarm that passes
// the throttle (at most once per interval per key) to the structured
// logger, so an operator without a syslog collector still sees it.
type notifierImpl struct {
	mu       sync.Mutex
	last     map[string]time.Time
	interval time.Duration
	writer   *srslog.Writer // nil if no syslog endpoint is configured
}

// New constructs a Notifier. network/raddr identify a remote syslog
// collector ("udp", "host:514"); an empty raddr dials the local
// syslog daemon. If dialling fails, alarms still reach the structured
// logger — a missing syslog collector must never block the pipeline.
func New(network, raddr string, interval time.Duration) Notifier {
	if interval <= 0 {
		interval = DefaultInterval
	}
	n := &notifierImpl{last: make(map[string]time.Time), interval: interval}
	w, err := dial(network, raddr)
	if err != nil {
		logging.Warn.Warnw("alarm: syslog dial failed, alarms will only reach the local log", "error", err)
	} else {
		n.writer = w
	}
	return n
}

func dial(network, raddr string) (*srslog.Writer, error) {
	if raddr == "" {
		return srslog.New(syslog.LOG_WARNING|syslog.LOG_DAEMON, "ilogtail-sub016")
	}
	return srslog.Dial(network, raddr, syslog.LOG_WARNING|syslog.LOG_DAEMON, "ilogtail-sub016")
}

// Notify raises an alarm for (pipeline, kind), subject to the token
// bucket: at most one delivery per interval survives per key.
func (n *notifierImpl) Notify(pipeline string, kind Kind, format string, args ...any) {
	key := pipeline + "|" + string(kind)
	msg := fmt.Sprintf(format, args...)

	n.mu.Lock()
	last, seen := n.last[key]
	now := time.Now()
	throttled := seen && now.Sub(last) < n.interval
	if !throttled {
		n.last[key] = now
	}
	n.mu.Unlock()

	if throttled {
		return
	}
	logging.Warn.Warnw("alarm", "pipeline", pipeline, "kind", kind, "message", msg)
	if n.writer != nil {
		if _, err := n.writer.Write([]byte(fmt.Sprintf("[%s] %s: %s", pipeline, kind, msg))); err != nil {
			logging.Warn.Warnw("alarm: syslog write failed", "error", err)
		}
	}
}

// Noop is a Notifier that discards everything; used where tests need
// the capability but not its side effects.
var Noop Notifier = noop{}

type noop struct{}

func (noop) Notify(string, Kind, string, ...any) {}
