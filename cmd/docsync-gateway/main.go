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
	"flag"
	"fmt"
	"net/http"
	"os"
	"runtime"

	"github.com/CovenantSQL/docsync/conf"
	"github.com/CovenantSQL/docsync/gateway"
	"github.com/CovenantSQL/docsync/metric"
	"github.com/CovenantSQL/docsync/rpc/jsonrpc"
	"github.com/CovenantSQL/docsync/utils"
	"github.com/CovenantSQL/docsync/utils/log"
)

const name = "docsync-gateway"

var (
	version = "unknown"

	// config
	configFile  string
	listenAddr  string
	adminAddr   string
	showVersion bool
	showSample  bool
	logLevel    string
)

func init() {
	flag.StringVar(&configFile, "config", "~/.docsync/gateway.yaml", "Config file path")
	flag.StringVar(&listenAddr, "listen", "", "Listen address of the sync endpoint, overrides the config")
	flag.StringVar(&adminAddr, "admin", "", "Listen address of the admin api, overrides the config")
	flag.BoolVar(&showVersion, "version", false, "Show version information and exit")
	flag.BoolVar(&showSample, "sample", false, "Print a sample config and exit")
	flag.StringVar(&logLevel, "log-level", "", "Service log level")
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
		fmt.Print(conf.SampleGatewayYAML)
		os.Exit(0)
	}

	configFile = utils.HomeDirExpand(configFile)

	flag.Visit(func(f *flag.Flag) {
		log.Infof("args %#v : %s", f.Name, f.Value)
	})

	var err error
	conf.GConf, err = conf.LoadGatewayConfig(configFile)
	if err != nil {
		log.WithField("config", configFile).WithError(err).Fatal("load config failed")
	}
	if logLevel == "" && conf.GConf.LogLevel != "" {
		log.SetStringLevel(conf.GConf.LogLevel, log.InfoLevel)
	}
	if listenAddr != "" {
		conf.GConf.ListenAddr = listenAddr
	}
	if adminAddr != "" {
		conf.GConf.AdminAddr = adminAddr
	}

	publisher := metric.NewExpvarPublisher(conf.GConf.MetricsInterval)
	publisher.Start()

	g := gateway.New(conf.GConf.Options(publisher))
	if err = conf.GConf.Apply(g); err != nil {
		log.WithError(err).Fatal("init databases failed")
	}

	// start sync endpoint
	server := &jsonrpc.WebsocketServer{Backend: g}
	server.Addr = conf.GConf.ListenAddr
	go func() {
		if err := server.Serve(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("sync endpoint stopped")
		}
	}()
	log.WithField("addr", conf.GConf.ListenAddr).Info("sync endpoint started")

	// start admin api
	adminServer, err := startAPI(g, publisher, conf.GConf.AdminAddr)
	if err != nil {
		log.WithError(err).Fatal("start admin api failed")
	}

	<-utils.WaitForExit()

	if err = stopAPI(adminServer); err != nil {
		log.WithError(err).Error("stop admin api failed")
	}
	if err = server.Shutdown(); err != nil {
		log.WithError(err).Error("stop sync endpoint failed")
	}
	publisher.Stop()
	if err = g.Close(); err != nil {
		log.WithError(err).Error("close databases failed")
	}

	log.Info("gateway stopped")
}
