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
	"net/http"
	"time"

	"github.com/CovenantSQL/docsync/gateway"
	"github.com/CovenantSQL/docsync/metric"
	"github.com/CovenantSQL/docsync/utils/log"
)

const apiTimeout = 30 * time.Second

func startAPI(g *gateway.Gateway, publisher *metric.ExpvarPublisher, listenAddr string) (server *http.Server, err error) {
	server = &http.Server{
		Addr:         listenAddr,
		WriteTimeout: apiTimeout,
		ReadTimeout:  apiTimeout,
		IdleTimeout:  apiTimeout,
		Handler:      gateway.NewLoggingHandler(gateway.NewAdminHandler(g, publisher)),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("start admin api server failed")
		}
	}()
	log.WithField("addr", listenAddr).Info("admin api started")

	return server, err
}

func stopAPI(server *http.Server) (err error) {
	return server.Shutdown(context.Background())
}
