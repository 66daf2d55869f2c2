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
	"sync/atomic"
)

// Counter is a monotonically increasing counter.
type Counter struct {
	v uint64
}

// Add increases the counter by n.
func (c *Counter) Add(n uint64) {
	atomic.AddUint64(&c.v, n)
}

// Inc increases the counter by one.
func (c *Counter) Inc() {
	atomic.AddUint64(&c.v, 1)
}

// Value returns the current count.
func (c *Counter) Value() uint64 {
	return atomic.LoadUint64(&c.v)
}

type namedCounter struct {
	name string
	help string
	c    *Counter
}

func snapshot(counters []namedCounter) map[string]uint64 {
	m := make(map[string]uint64, len(counters))
	for _, nc := range counters {
		m[nc.name] = nc.c.Value()
	}
	return m
}

// ReplicationStats counts the work of a replication session.
type ReplicationStats struct {
	DocsPushed         Counter
	DocsPulled         Counter
	DocsPurged         Counter
	DeltasSent         Counter
	DeltasReceived     Counter
	DeltaBytesSent     Counter
	DeltaBytesReceived Counter
	FullBodiesSent     Counter
	FullBodiesReceived Counter
	FullBodyBytesSent  Counter
	DeltaFallbacks     Counter
	Retries            Counter
	AuthFailures       Counter
}

func (s *ReplicationStats) counters() []namedCounter {
	return []namedCounter{
		{"docs_pushed", "documents pushed to the peer", &s.DocsPushed},
		{"docs_pulled", "documents pulled from the peer", &s.DocsPulled},
		{"docs_purged", "pulled documents purged after access revocation", &s.DocsPurged},
		{"deltas_sent", "revisions pushed as delta", &s.DeltasSent},
		{"deltas_received", "revisions pulled as delta", &s.DeltasReceived},
		{"delta_bytes_sent", "patch bytes pushed", &s.DeltaBytesSent},
		{"delta_bytes_received", "patch bytes pulled", &s.DeltaBytesReceived},
		{"full_bodies_sent", "revisions pushed with full body", &s.FullBodiesSent},
		{"full_bodies_received", "revisions pulled with full body", &s.FullBodiesReceived},
		{"full_body_bytes_sent", "full body bytes pushed", &s.FullBodyBytesSent},
		{"delta_fallbacks", "deltas replaced by a full body after a base mismatch", &s.DeltaFallbacks},
		{"retries", "connection retries", &s.Retries},
		{"auth_failures", "authentication failures", &s.AuthFailures},
	}
}

// Snapshot returns the current counter values by name.
func (s *ReplicationStats) Snapshot() map[string]uint64 {
	return snapshot(s.counters())
}

// GatewayStats counts the work a gateway database serves.
type GatewayStats struct {
	DeltaPullReplicationCount Counter
	DeltasRequested           Counter
	DeltasSent                Counter
	DeltaPushDocCount         Counter
	DocReadsBytes             Counter
	DocWritesBytes            Counter
	NumDocReads               Counter
	NumDocWrites              Counter
	AuthFailedCount           Counter
	RevCacheHits              Counter
	RevCacheMisses            Counter
}

func (s *GatewayStats) counters() []namedCounter {
	return []namedCounter{
		{"delta_pull_replication_count", "pull replications with deltas enabled", &s.DeltaPullReplicationCount},
		{"deltas_requested", "revisions requested as delta", &s.DeltasRequested},
		{"deltas_sent", "revisions sent as delta", &s.DeltasSent},
		{"delta_push_doc_count", "revisions pushed as delta", &s.DeltaPushDocCount},
		{"doc_reads_bytes", "revision bytes sent to replicators", &s.DocReadsBytes},
		{"doc_writes_bytes", "revision bytes written by replicators", &s.DocWritesBytes},
		{"num_doc_reads", "revisions sent to replicators", &s.NumDocReads},
		{"num_doc_writes", "revisions written by replicators", &s.NumDocWrites},
		{"auth_failed_count", "rejected authentications", &s.AuthFailedCount},
		{"rev_cache_hits", "delta bases found in the revision cache", &s.RevCacheHits},
		{"rev_cache_misses", "delta bases missing from the revision cache", &s.RevCacheMisses},
	}
}

// Snapshot returns the current counter values by name.
func (s *GatewayStats) Snapshot() map[string]uint64 {
	return snapshot(s.counters())
}
