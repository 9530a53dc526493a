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

// Command ilogtail-agent is a runnable composition root over the
// collection core: it loads a settings file naming one sink and one
// or more pipelines, starts a driver/log.Driver per pipeline, and
// runs until SIGINT/SIGTERM. The settings file is read once at
// startup; there is no hot reload or remote config source here.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/viper"

	logdriver "github.com/alibaba/ilogtail-sub016/driver/log"
	"github.com/alibaba/ilogtail-sub016/pkg/alarm"
	"github.com/alibaba/ilogtail-sub016/pkg/logging"
	"github.com/alibaba/ilogtail-sub016/pkg/pipelinecfg"
)

func main() {
	configPath := flag.String("config", "ilogtail-agent.yaml", "path to the agent settings file")
	logLevel := flag.String("log-level", "info", "trace|info|warn|error")
	flag.Parse()

	logging.InitLoggers(parseLevel(*logLevel))
	defer logging.Sync()

	if err := run(*configPath); err != nil {
		logging.Error.Errorw("ilogtail-agent: exiting on error", "error", err)
		os.Exit(1)
	}
}

func parseLevel(s string) logging.Level {
	switch s {
	case "trace":
		return logging.TraceLevel
	case "warn":
		return logging.WarnLevel
	case "error":
		return logging.ErrorLevel
	default:
		return logging.InfoLevel
	}
}

func run(configPath string) error {
	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("ilogtail-agent: read config: %w", err)
	}

	checkpointDir := v.GetString("checkpoint_dir")
	if checkpointDir == "" {
		checkpointDir = "."
	}
	if err := os.MkdirAll(checkpointDir, 0o755); err != nil {
		return fmt.Errorf("ilogtail-agent: create checkpoint_dir: %w", err)
	}

	rawPipelines, _ := v.Get("pipelines").([]any)
	if len(rawPipelines) == 0 {
		return fmt.Errorf("ilogtail-agent: no pipelines configured")
	}

	notifier := newNotifier(v)
	sinkSettings := v.GetStringMap("sink")

	drivers := make([]*logdriver.Driver, 0, len(rawPipelines))
	for _, raw := range rawPipelines {
		settings, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("ilogtail-agent: pipeline entry is not a map")
		}
		cfg, err := pipelinecfg.Decode(settings)
		if err != nil {
			return fmt.Errorf("ilogtail-agent: decode pipeline: %w", err)
		}

		factory, sinkIdentity, err := buildSinkFactory(sinkSettings)
		if err != nil {
			return fmt.Errorf("ilogtail-agent: build sink for pipeline %s: %w", cfg.Name, err)
		}

		checkpointPath := checkpointDir + "/" + cfg.Name + ".ndjson"
		d, err := logdriver.New(cfg, sinkIdentity, factory, checkpointPath, notifier)
		if err != nil {
			return fmt.Errorf("ilogtail-agent: start pipeline %s: %w", cfg.Name, err)
		}
		drivers = append(drivers, d)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, d := range drivers {
		wg.Add(1)
		go func(d *logdriver.Driver) {
			defer wg.Done()
			if err := d.Run(ctx); err != nil {
				logging.Error.Errorw("ilogtail-agent: pipeline stopped with error", "error", err)
			}
		}(d)
	}
	wg.Wait()
	return nil
}

func newNotifier(v *viper.Viper) alarm.Notifier {
	addr := v.GetString("alarm.syslog_address")
	if addr == "" {
		return alarm.Noop
	}
	network := v.GetString("alarm.syslog_network")
	if network == "" {
		network = "udp"
	}
	return alarm.New(network, addr, alarm.DefaultInterval)
}
