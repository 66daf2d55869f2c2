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

// Package metric counts replication and gateway work and exports it to prometheus and expvar.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/version"

	"github.com/CovenantSQL/docsync/utils/log"
)

// NewRegistry returns a prometheus registry with the build and runtime collectors
// plus the given collectors.
func NewRegistry(collectors ...prometheus.Collector) (registry *prometheus.Registry) {
	registry = prometheus.NewRegistry()
	registry.MustRegister(
		version.NewCollector(namespace),
		prometheus.NewGoCollector(),
	)
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			log.WithError(err).Warning("couldn't register collector")
		}
	}
	return
}
