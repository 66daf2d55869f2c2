/*
 * Copyright 2019 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CovenantSQL/docsync/conf"
	"github.com/CovenantSQL/docsync/metric"
	"github.com/CovenantSQL/docsync/replicator"
	"github.com/CovenantSQL/docsync/rpc/jsonrpc"
	"github.com/CovenantSQL/docsync/utils"
	"github.com/CovenantSQL/docsync/utils/log"
)

const name = "docsync"

var (
	version = "unknown"

	// config
	configFile  string
	target      string
	replType    string
	continuous  bool
	reset       bool
	listPending bool
	showVersion bool
	showSample  bool
	logLevel    string
)

func init() {
	flag.StringVar(&configFile, "config", "~/.docsync/replicator.yaml", "Config file path")
	flag.StringVar(&target, "target", "", "Peer database url, overrides the config")
	flag.StringVar(&replType, "type", "", "Replication type: push, pull or push_pull, overrides the config")
	flag.BoolVar(&continuous, "continuous", false, "Keep replicating after catching up")
	flag.BoolVar(&reset, "reset", false, "Reset the checkpoint before replicating")
	flag.BoolVar(&listPending, "pending", false, "Print the ids of documents waiting to be pushed and exit")
	flag.BoolVar(&showVersion, "version", false, "Show version information and exit")
	flag.BoolVar(&showSample, "sample", false, "Print a sample config and exit")
	flag.StringVar(&logLevel, "log-level", "", "Service log level")
}

func logEvent(ev replicator.Event) {
	switch ev.Kind {
	case replicator.StateChanged:
		entry := log.WithField("state", ev.State)
		if ev.Err != nil {
			entry = entry.WithError(ev.Err)
		}
		entry.Info("replication state changed")
	case replicator.DocumentsReplicated:
		for _, d := range ev.Documents {
			entry := log.WithFields(log.Fields{
				"doc":       d.DocID,
				"rev":       d.Rev,
				"direction": d.Direction,
				"deleted":   d.Deleted,
				"purged":    d.Purged,
			})
			if d.Err != nil {
				entry.WithError(d.Err).Warning("document not replicated")
			} else {
				entry.Debug("document replicated")
			}
		}
	}
}

func startMetrics(s *replicator.Session, listenAddr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metric.NewRegistry(s.Collector()), promhttp.HandlerOpts{}))
	server := &http.Server{Addr: listenAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("start metrics server failed")
		}
	}()
	return server
}

func main() {
	flag.Parse()
	log.SetStringLevel(logLevel, log.InfoLevel)
	if showVersion {
		fmt.Printf("%v %v %v %v %v\n",
			name, version, runtime.GOOS, runtime.GOARCH, runtime.Version())
		os.Exit(0)
	}
	if showSample {
		fmt.Print(conf.SampleReplicatorYAML)
		os.Exit(0)
	}

	configFile = utils.HomeDirExpand(configFile)

	flag.Visit(func(f *flag.Flag) {
		log.Infof("args %#v : %s", f.Name, f.Value)
	})

	cfg, err := conf.LoadReplicatorConfig(configFile)
	if err != nil {
		log.WithField("config", configFile).WithError(err).Fatal("load config failed")
	}
	if logLevel == "" && cfg.LogLevel != "" {
		log.SetStringLevel(cfg.LogLevel, log.InfoLevel)
	}
	if target != "" {
		cfg.Target = target
	}
	if replType != "" {
		cfg.Type = replType
	}
	if continuous {
		cfg.Continuous = true
	}

	local, err := cfg.OpenDatabase()
	if err != nil {
		log.WithError(err).Fatal("open local database failed")
	}
	defer local.Close()
	store, err := cfg.OpenCheckpoints()
	if err != nil {
		log.WithError(err).Fatal("open checkpoint store failed")
	}
	defer store.Close()

	dialer := &jsonrpc.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	s, err := replicator.New(cfg.SessionConfig(local, store, dialer))
	if err != nil {
		log.WithError(err).Fatal("invalid replication")
	}

	if listPending {
		ids, err := s.PendingDocumentIDs()
		if err != nil {
			log.WithError(err).Fatal("list pending documents failed")
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return
	}
	if reset {
		if err = s.ResetCheckpoint(); err != nil {
			log.WithError(err).Fatal("reset checkpoint failed")
		}
	}

	s.AddListener(logEvent)
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = startMetrics(s, cfg.MetricsAddr)
	}

	if err = s.Start(); err != nil {
		log.WithError(err).Fatal("start replication failed")
	}
	ctx, cancel := utils.ExitContext(context.Background())
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	err = s.Wait(context.Background())
	cancel()

	if metricsServer != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		stop()
	}
	stats := s.Stats()
	log.WithFields(log.Fields{
		"pushed": stats.DocsPushed.Value(),
		"pulled": stats.DocsPulled.Value(),
		"purged": stats.DocsPurged.Value(),
		"deltas": stats.DeltasSent.Value() + stats.DeltasReceived.Value(),
	}).Info("replication finished")
	if err != nil {
		log.WithError(err).Error("replication failed")
		_ = store.Close()
		_ = local.Close()
		os.Exit(1)
	}
}
