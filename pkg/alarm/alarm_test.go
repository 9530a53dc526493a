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

package alarm

import (
	"testing"
	"time"
)

func TestNotifierThrottlesSameKey(t *testing.T) {
	n := &notifierImpl{last: make(map[string]time.Time), interval: time.Hour}
	n.Notify("p1", KindIOWarning, "boom %d", 1)
	first := n.last["p1|"+string(KindIOWarning)]
	n.Notify("p1", KindIOWarning, "boom %d", 2)
	second := n.last["p1|"+string(KindIOWarning)]
	if !first.Equal(second) {
		t.Fatalf("expected second call within interval to be throttled, timestamps differ: %v vs %v", first, second)
	}
}

func TestNotifierDistinctKeysIndependent(t *testing.T) {
	n := &notifierImpl{last: make(map[string]time.Time), interval: time.Hour}
	n.Notify("p1", KindIOWarning, "x")
	n.Notify("p1", KindMalformedFraming, "y")
	if len(n.last) != 2 {
		t.Fatalf("expected two independent token-bucket entries, got %d", len(n.last))
	}
}

func TestNoopDiscardsSilently(t *testing.T) {
	Noop.Notify("p", KindRotationOverflow, "whatever")
}
