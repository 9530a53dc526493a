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

package pipelinecfg

import (
	"testing"

	"github.com/alibaba/ilogtail-sub016/pkg/containerlog"
	"github.com/alibaba/ilogtail-sub016/pkg/multiline"
	"github.com/alibaba/ilogtail-sub016/pkg/tailer"
)

func TestDecodeAppliesDefaults(t *testing.T) {
	cfg, err := Decode(map[string]any{
		"name":       "app-logs",
		"file_paths": []string{"/var/log/app/*.log"},
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.FileEncoding != "UTF-8" {
		t.Fatalf("expected default encoding UTF-8, got %q", cfg.FileEncoding)
	}
	if cfg.Priority != 3 {
		t.Fatalf("expected default priority 3, got %d", cfg.Priority)
	}
	if cfg.Multiline.Mode != "single_line" {
		t.Fatalf("expected default multiline mode single_line, got %q", cfg.Multiline.Mode)
	}
	if cfg.RotatorQueueSize != 10 {
		t.Fatalf("expected default rotator queue size 10, got %d", cfg.RotatorQueueSize)
	}
}

func TestDecodeRejectsMissingRequiredFields(t *testing.T) {
	if _, err := Decode(map[string]any{"name": "x"}); err == nil {
		t.Fatalf("expected validation error for missing file_paths")
	}
	if _, err := Decode(map[string]any{"file_paths": []string{"/a/*.log"}}); err == nil {
		t.Fatalf("expected validation error for missing name")
	}
}

func TestDecodeRejectsInvalidEnum(t *testing.T) {
	_, err := Decode(map[string]any{
		"name":          "x",
		"file_paths":    []string{"/a/*.log"},
		"file_encoding": "latin1",
	})
	if err == nil {
		t.Fatalf("expected validation error for unsupported file_encoding")
	}
}

func TestMatcherConfigSplitsBaseAndPattern(t *testing.T) {
	cfg := Config{FilePaths: []string{"/var/log/app/*.log"}}
	mc := cfg.MatcherConfig()
	if mc.BasePath != "/var/log/app" {
		t.Fatalf("expected base /var/log/app, got %q", mc.BasePath)
	}
	if mc.FilenamePattern != "*.log" {
		t.Fatalf("expected pattern *.log, got %q", mc.FilenamePattern)
	}
}

func TestFramingMapsDockerJson(t *testing.T) {
	cfg := Config{FileEncoding: "DockerJson"}
	if got := cfg.Framing(); got != containerlog.FramingJSON {
		t.Fatalf("expected FramingJSON, got %v", got)
	}
}

func TestFramingDefaultsToNoContainerFraming(t *testing.T) {
	cfg := Config{FileEncoding: "UTF-8"}
	if got := cfg.Framing(); got != tailer.NoContainerFraming {
		t.Fatalf("expected NoContainerFraming, got %v", got)
	}
}

func TestMultilineSplitterConfigMapsCustomMode(t *testing.T) {
	cfg := Config{Multiline: MultilineConfig{Mode: "custom", StartPattern: "^ERROR"}}
	sc := cfg.MultilineSplitterConfig()
	if sc.Mode != multiline.ModeCustom {
		t.Fatalf("expected ModeCustom, got %v", sc.Mode)
	}
	if sc.StartPattern != "^ERROR" {
		t.Fatalf("expected start pattern carried through, got %q", sc.StartPattern)
	}
}

func TestEventTagsIncludesConfigName(t *testing.T) {
	cfg := Config{Name: "app-logs", Tags: map[string]string{"env": "prod"}}
	tags := cfg.EventTags()
	if tags["__config_name__"] != "app-logs" {
		t.Fatalf("expected config name tag, got %v", tags)
	}
	if tags["env"] != "prod" {
		t.Fatalf("expected static tag carried through, got %v", tags)
	}
}
