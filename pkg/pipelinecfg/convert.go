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
	"time"

	"github.com/alibaba/ilogtail-sub016/pkg/batch"
	"github.com/alibaba/ilogtail-sub016/pkg/containerlog"
	"github.com/alibaba/ilogtail-sub016/pkg/event"
	"github.com/alibaba/ilogtail-sub016/pkg/multiline"
	"github.com/alibaba/ilogtail-sub016/pkg/pathmatch"
	"github.com/alibaba/ilogtail-sub016/pkg/tailer"
	"github.com/alibaba/ilogtail-sub016/pkg/tailer/logstream"
)

// MatcherConfig builds the Path Matcher configuration for this pipeline.
func (c Config) MatcherConfig() pathmatch.Config {
	base := "."
	var pattern string
	if len(c.FilePaths) > 0 {
		base, pattern = splitBaseAndPattern(c.FilePaths[0])
	}
	return pathmatch.Config{
		BasePath:               base,
		FilenamePattern:        pattern,
		MaxDepth:               c.MaxDirSearchDepth,
		FilePathBlacklist:      c.ExcludeFilePaths,
		DirBlacklist:           c.ExcludeDirs,
		FileNameBlacklist:      c.ExcludeFiles,
		WildcardDirBlacklist:   nil,
		MLWildcardDirBlacklist: nil,
	}
}

func splitBaseAndPattern(p string) (base, pattern string) {
	idx := -1
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ".", p
	}
	return p[:idx], p[idx+1:]
}

// Encoding maps the FileEncoding string to logstream.Encoding.
func (c Config) Encoding() logstream.Encoding {
	switch c.FileEncoding {
	case "UTF-16":
		return logstream.EncodingUTF16
	case "GBK":
		return logstream.EncodingGBK
	default:
		return logstream.EncodingUTF8
	}
}

// Framing maps FileEncoding to a container-log framing, or
// tailer.NoContainerFraming when the pipeline does not read
// container-runtime-wrapped logs.
func (c Config) Framing() containerlog.Framing {
	switch c.FileEncoding {
	case "DockerJson":
		return containerlog.FramingJSON
	case "ContainerdText":
		return containerlog.FramingTextPrefix
	default:
		return tailer.NoContainerFraming
	}
}

// MultilineSplitterConfig builds the Multiline Splitter configuration.
func (c Config) MultilineSplitterConfig() multiline.Config {
	mode := multiline.ModeSingleLine
	switch c.Multiline.Mode {
	case "custom":
		mode = multiline.ModeCustom
	case "json_envelope":
		mode = multiline.ModeJSONEnvelope
	}
	return multiline.Config{
		Mode:            mode,
		StartPattern:    c.Multiline.StartPattern,
		ContinuePattern: c.Multiline.ContinuePattern,
		EndPattern:      c.Multiline.EndPattern,
	}
}

// ReaderConfig builds a tailer.Config for this pipeline's Readers.
func (c Config) ReaderConfig(tags event.Tags) tailer.Config {
	splitterCfg := c.MultilineSplitterConfig()
	return tailer.Config{
		Pipeline:                     c.Name,
		ConfigName:                   c.Name,
		Encoding:                     c.Encoding(),
		Multiline:                   splitterCfg,
		Container:                    c.Framing(),
		TailLimitKB:                  c.TailSizeKB,
		TailingAllMatchedFiles:       c.TailingAllMatchedFiles,
		CloseUnusedInterval:          time.Duration(c.CloseUnusedReaderIntervalSec) * time.Second,
		ReaderTimeout:                time.Duration(c.FlushTimeoutSecs) * time.Second,
		ReadDelaySkipThresholdBytes:  c.ReadDelaySkipThresholdBytes,
		ReadDelayAlertThresholdBytes: c.ReadDelayAlertThresholdBytes,
		AppendingLogPositionMeta:     c.AppendingLogPositionMeta,
		Priority:                     c.Priority,
		Tags:                         tags,
	}
}

// BatchConfig builds a batch.Config for this pipeline's Batcher.
func (c Config) BatchConfig() batch.Config {
	return batch.Config{
		MaxCount:    c.MinCnt,
		MaxBytes:    c.MaxSizeBytes,
		TimeoutSecs: c.TimeoutSecs,
	}
}

// EventTags converts the pipeline's static tag map into an event.Tags.
func (c Config) EventTags() event.Tags {
	tags := make(event.Tags, len(c.Tags)+1)
	for k, v := range c.Tags {
		tags[k] = v
	}
	tags["__config_name__"] = c.Name
	return tags
}
