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

package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docsync"

// statsMetrics provide description, value, and value type for docsync stat metrics.
type statsMetrics []struct {
	desc    *prometheus.Desc
	eval    func() float64
	valType prometheus.ValueType
}

// StatsCollector exports a stats set as prometheus counters.
type StatsCollector struct {
	// metrics to describe and collect
	metrics statsMetrics
}

func newStatsCollector(subsystem string, labels prometheus.Labels, counters []namedCounter) *StatsCollector {
	sc := &StatsCollector{}
	for _, nc := range counters {
		c := nc.c
		sc.metrics = append(sc.metrics, struct {
			desc    *prometheus.Desc
			eval    func() float64
			valType prometheus.ValueType
		}{
			desc: prometheus.NewDesc(
				prometheus.BuildFQName(namespace, subsystem, nc.name),
				nc.help,
				nil,
				labels,
			),
			eval:    func() float64 { return float64(c.Value()) },
			valType: prometheus.CounterValue,
		})
	}
	return sc
}

// NewGatewayCollector returns the collector of a gateway database.
func NewGatewayCollector(db string, s *GatewayStats) *StatsCollector {
	return newStatsCollector("gateway", prometheus.Labels{"db": db}, s.counters())
}

// NewReplicationCollector returns the collector of a replication session.
func NewReplicationCollector(replicationID string, s *ReplicationStats) *StatsCollector {
	return newStatsCollector("replication", prometheus.Labels{"replication": replicationID}, s.counters())
}

// Describe returns all descriptions of the collector.
func (sc *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, i := range sc.metrics {
		ch <- i.desc
	}
}

// Collect returns the current state of all metrics of the collector.
func (sc *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, i := range sc.metrics {
		ch <- prometheus.MustNewConstMetric(i.desc, i.valType, i.eval())
	}
}
