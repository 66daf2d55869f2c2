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
	"expvar"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestStats(t *testing.T) {
	Convey("counters snapshot", t, func() {
		var s ReplicationStats
		s.DocsPushed.Inc()
		s.DocsPushed.Inc()
		s.DeltaBytesSent.Add(42)
		snap := s.Snapshot()
		So(snap["docs_pushed"], ShouldEqual, 2)
		So(snap["delta_bytes_sent"], ShouldEqual, 42)
		So(snap["docs_pulled"], ShouldEqual, 0)
		So(snap, ShouldContainKey, "auth_failures")

		var g GatewayStats
		g.NumDocWrites.Add(3)
		So(g.Snapshot()["num_doc_writes"], ShouldEqual, 3)
		So(g.Snapshot(), ShouldContainKey, "rev_cache_misses")
	})
}

func TestCollector(t *testing.T) {
	Convey("gateway collector exports counters", t, func() {
		var g GatewayStats
		g.DeltasSent.Add(7)
		registry := NewRegistry(NewGatewayCollector("db1", &g))
		families, err := registry.Gather()
		So(err, ShouldBeNil)

		found := false
		for _, f := range families {
			if f.GetName() != "docsync_gateway_deltas_sent" {
				continue
			}
			found = true
			So(f.GetMetric(), ShouldHaveLength, 1)
			m := f.GetMetric()[0]
			So(m.GetCounter().GetValue(), ShouldEqual, 7)
			So(m.GetLabel(), ShouldHaveLength, 1)
			So(m.GetLabel()[0].GetValue(), ShouldEqual, "db1")
		}
		So(found, ShouldBeTrue)
	})
	Convey("duplicate collectors are skipped", t, func() {
		var s ReplicationStats
		c := NewReplicationCollector("r1", &s)
		registry := NewRegistry(c, c)
		_, err := registry.Gather()
		So(err, ShouldBeNil)
	})
}

func TestExpvarPublisher(t *testing.T) {
	Convey("publisher mirrors snapshots", t, func() {
		var s ReplicationStats
		s.DocsPulled.Add(5)
		p := NewExpvarPublisher(10 * time.Millisecond)
		p.Add("test_repl", s.Snapshot)
		p.Collect()
		So(expvar.Get("test_repl:docs_pulled"), ShouldNotBeNil)
		So(expvar.Get("go:numgoroutine"), ShouldNotBeNil)

		p.Start()
		time.Sleep(30 * time.Millisecond)
		p.Stop()
		p.Stop()
		p.Remove("test_repl")

		rec := httptest.NewRecorder()
		p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		So(rec.Code, ShouldEqual, http.StatusOK)
	})
}
