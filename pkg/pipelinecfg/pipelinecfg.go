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

// Package pipelinecfg binds a pipeline's flat configuration surface
// into a typed Config, the way a remote-config provider would hand
// options to the core: a map[string]any is read by spf13/viper,
// decoded with mitchellh/mapstructure, and validated with
// gopkg.in/go-playground/validator.v9 struct tags. This package does
// not load files or talk to a remote config service itself; it only
// consumes whatever map the caller supplies.
package pipelinecfg

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	validator "gopkg.in/go-playground/validator.v9"
)

// MultilineConfig is the typed shape of a pipeline's multiline block.
type MultilineConfig struct {
	Mode            string `mapstructure:"mode" validate:"omitempty,oneof=single_line custom json_envelope"`
	StartPattern    string `mapstructure:"start_pattern"`
	ContinuePattern string `mapstructure:"continue_pattern"`
	EndPattern      string `mapstructure:"end_pattern"`
}

// Config is the typed configuration surface for one pipeline.
type Config struct {
	Name string `mapstructure:"name" validate:"required"`

	FilePaths         []string `mapstructure:"file_paths" validate:"required,min=1"`
	MaxDirSearchDepth int      `mapstructure:"max_dir_search_depth"`
	ExcludeFilePaths  []string `mapstructure:"exclude_file_paths"`
	ExcludeDirs       []string `mapstructure:"exclude_dirs"`
	ExcludeFiles      []string `mapstructure:"exclude_files"`

	FileEncoding string `mapstructure:"file_encoding" validate:"omitempty,oneof=UTF-8 UTF-16 GBK DockerJson ContainerdText"`

	TailingAllMatchedFiles bool `mapstructure:"tailing_all_matched_files"`
	TailSizeKB             int  `mapstructure:"tail_size_kb"`
	FlushTimeoutSecs       int  `mapstructure:"flush_timeout_secs"`

	ReadDelaySkipThresholdBytes  int64 `mapstructure:"read_delay_skip_threshold_bytes"`
	ReadDelayAlertThresholdBytes int64 `mapstructure:"read_delay_alert_threshold_bytes"`

	CloseUnusedReaderIntervalSec int `mapstructure:"close_unused_reader_interval_sec"`
	RotatorQueueSize             int `mapstructure:"rotator_queue_size"`
	RotateRetainSecs             int `mapstructure:"rotate_retain_secs"`

	AppendingLogPositionMeta bool `mapstructure:"appending_log_position_meta"`

	Multiline MultilineConfig `mapstructure:"multiline"`

	MaxSizeBytes int64 `mapstructure:"max_size_bytes"`
	MinSizeBytes int64 `mapstructure:"min_size_bytes"`
	MinCnt       int   `mapstructure:"min_cnt"`
	TimeoutSecs  int   `mapstructure:"timeout_secs"`

	Priority int `mapstructure:"priority" validate:"omitempty,min=1,max=3"`

	MaxReaders int `mapstructure:"max_readers"`

	Tags map[string]string `mapstructure:"tags"`
}

// Decode binds a flat settings map (as produced by viper.AllSettings,
// or assembled directly by a caller) into a validated Config.
func Decode(settings map[string]any) (Config, error) {
	v := viper.New()
	if err := v.MergeConfigMap(settings); err != nil {
		return Config{}, fmt.Errorf("pipelinecfg: merge settings: %w", err)
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return Config{}, fmt.Errorf("pipelinecfg: decode: %w", err)
	}
	applyDefaults(&cfg)
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("pipelinecfg: validate: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.FileEncoding == "" {
		cfg.FileEncoding = "UTF-8"
	}
	if cfg.Priority == 0 {
		cfg.Priority = 3
	}
	if cfg.Multiline.Mode == "" {
		cfg.Multiline.Mode = "single_line"
	}
	if cfg.RotatorQueueSize == 0 {
		cfg.RotatorQueueSize = 10
	}
	if cfg.RotateRetainSecs == 0 {
		cfg.RotateRetainSecs = 600
	}
}
