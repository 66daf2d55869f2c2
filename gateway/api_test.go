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

package gateway

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"golang.org/x/crypto/bcrypt"

	"github.com/CovenantSQL/docsync/auth"
	"github.com/CovenantSQL/docsync/metric"
)

type apiClient struct {
	base string
}

func (c *apiClient) do(method, path string, body interface{}) (code int, out map[string]interface{}) {
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		So(err, ShouldBeNil)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	So(err, ShouldBeNil)
	resp, err := http.DefaultClient.Do(req)
	So(err, ShouldBeNil)
	defer resp.Body.Close()
	raw, err := ioutil.ReadAll(resp.Body)
	So(err, ShouldBeNil)
	out = map[string]interface{}{}
	if len(raw) > 0 && raw[0] == '{' {
		So(json.Unmarshal(raw, &out), ShouldBeNil)
	} else if len(raw) > 0 {
		out["raw"] = string(raw)
	}
	return resp.StatusCode, out
}

func TestAdminAPI(t *testing.T) {
	Convey("admin api", t, func() {
		g := New(Options{BcryptCost: bcrypt.MinCost})
		publisher := metric.NewExpvarPublisher(time.Second)
		hs := httptest.NewServer(NewLoggingHandler(NewAdminHandler(g, publisher)))
		c := &apiClient{base: hs.URL}

		code, out := c.do("GET", "/", nil)
		So(code, ShouldEqual, http.StatusOK)
		So(out["couchdb"], ShouldEqual, "Welcome")

		code, _ = c.do("PUT", "/db/", map[string]interface{}{"delta_sync": true})
		So(code, ShouldEqual, http.StatusCreated)
		code, _ = c.do("PUT", "/db/", nil)
		So(code, ShouldEqual, http.StatusConflict)
		code, out = c.do("GET", "/_all_dbs", nil)
		So(code, ShouldEqual, http.StatusOK)
		So(out["raw"], ShouldContainSubstring, `"db"`)

		Convey("users, roles and sessions", func() {
			code, _ := c.do("PUT", "/db/_role/ops", map[string]interface{}{"admin_channels": []string{"X"}})
			So(code, ShouldEqual, http.StatusOK)
			code, _ = c.do("PUT", "/db/_user/alice", map[string]interface{}{
				"password":       "pass",
				"admin_channels": []string{"A"},
				"admin_roles":    []string{"ops"},
			})
			So(code, ShouldEqual, http.StatusCreated)
			code, out := c.do("GET", "/db/_user/alice", nil)
			So(code, ShouldEqual, http.StatusOK)
			So(out["all_channels"], ShouldResemble, []interface{}{"A", "X"})

			code, _ = c.do("PUT", "/db/_user/alice", map[string]interface{}{"admin_channels": []string{"B"}})
			So(code, ShouldEqual, http.StatusOK)
			d, _ := g.Database("db")
			p, err := d.Auth().Authenticate(auth.Credentials{Username: "alice", Password: "pass"})
			So(err, ShouldBeNil)
			So(p.Channels, ShouldResemble, []string{"B"})

			code, out = c.do("POST", "/db/_session", map[string]interface{}{"name": "alice"})
			So(code, ShouldEqual, http.StatusOK)
			So(out["cookie_name"], ShouldEqual, auth.DefaultSessionCookie)
			sid, _ := out["session_id"].(string)
			_, err = d.Auth().Authenticate(auth.Credentials{SessionID: sid})
			So(err, ShouldBeNil)
			code, _ = c.do("DELETE", "/db/_session/"+sid, nil)
			So(code, ShouldEqual, http.StatusOK)
			_, err = d.Auth().Authenticate(auth.Credentials{SessionID: sid})
			So(err, ShouldNotBeNil)

			code, _ = c.do("PUT", "/db/_user/GUEST", map[string]interface{}{"disabled": false, "admin_channels": []string{"pub"}})
			So(code, ShouldEqual, http.StatusOK)
			code, out = c.do("GET", "/db/_user/GUEST", nil)
			So(code, ShouldEqual, http.StatusOK)
			So(out["disabled"], ShouldEqual, false)

			code, _ = c.do("DELETE", "/db/_user/alice", nil)
			So(code, ShouldEqual, http.StatusOK)
			code, _ = c.do("GET", "/db/_user/alice", nil)
			So(code, ShouldEqual, http.StatusNotFound)
			code, _ = c.do("DELETE", "/db/_role/ops", nil)
			So(code, ShouldEqual, http.StatusOK)
			code, _ = c.do("GET", "/db/_role/ops", nil)
			So(code, ShouldEqual, http.StatusNotFound)
		})

		Convey("documents", func() {
			code, out := c.do("PUT", "/db/doc1", map[string]interface{}{"channels": "A", "v": 1})
			So(code, ShouldEqual, http.StatusCreated)
			rev, _ := out["rev"].(string)
			So(rev, ShouldStartWith, "1-")

			code, _ = c.do("PUT", "/db/doc1?rev=1-0000", map[string]interface{}{"v": 2})
			So(code, ShouldEqual, http.StatusConflict)
			code, out = c.do("PUT", "/db/doc1", map[string]interface{}{"_rev": rev, "v": 2})
			So(code, ShouldEqual, http.StatusCreated)
			rev2, _ := out["rev"].(string)
			So(rev2, ShouldStartWith, "2-")

			code, out = c.do("GET", "/db/doc1", nil)
			So(code, ShouldEqual, http.StatusOK)
			So(out["_rev"], ShouldEqual, rev2)
			So(out["v"], ShouldEqual, 2)

			code, out = c.do("POST", "/db/", map[string]interface{}{"v": 3})
			So(code, ShouldEqual, http.StatusCreated)
			So(out["id"], ShouldNotBeEmpty)

			code, out = c.do("GET", "/db/_all_docs", nil)
			So(code, ShouldEqual, http.StatusOK)
			So(out["total_rows"], ShouldEqual, 2)

			code, _ = c.do("DELETE", "/db/doc1?rev="+rev, nil)
			So(code, ShouldEqual, http.StatusConflict)
			code, _ = c.do("DELETE", "/db/doc1", nil)
			So(code, ShouldEqual, http.StatusOK)
			code, _ = c.do("GET", "/db/doc1", nil)
			So(code, ShouldEqual, http.StatusNotFound)

			code, out = c.do("POST", "/db/_purge", map[string]interface{}{"doc1": []string{"*"}, "nope": []string{"*"}})
			So(code, ShouldEqual, http.StatusOK)
			purged, _ := out["purged"].(map[string]interface{})
			So(purged, ShouldContainKey, "doc1")
			So(purged, ShouldNotContainKey, "nope")
		})

		Convey("database state, config and stats", func() {
			code, out := c.do("POST", "/db/_offline", nil)
			So(code, ShouldEqual, http.StatusOK)
			code, out = c.do("GET", "/db/", nil)
			So(code, ShouldEqual, http.StatusOK)
			So(out["state"], ShouldEqual, "Offline")
			code, _ = c.do("POST", "/db/_online", nil)
			So(code, ShouldEqual, http.StatusOK)

			code, out = c.do("PUT", "/db/_config", map[string]interface{}{"delta_sync": false})
			So(code, ShouldEqual, http.StatusOK)
			So(out["delta_sync"], ShouldEqual, false)

			code, out = c.do("GET", "/db/_stats", nil)
			So(code, ShouldEqual, http.StatusOK)
			So(out, ShouldContainKey, "database")

			code, out = c.do("GET", "/metrics", nil)
			So(code, ShouldEqual, http.StatusOK)
			So(out["raw"], ShouldContainSubstring, "docsync_gateway_num_doc_writes")

			publisher.Collect()
			code, _ = c.do("GET", "/_expvar", nil)
			So(code, ShouldEqual, http.StatusOK)
			code, _ = c.do("GET", "/_debug/metrics", nil)
			So(code, ShouldEqual, http.StatusOK)

			code, _ = c.do("GET", "/nope/", nil)
			So(code, ShouldEqual, http.StatusNotFound)
			code, _ = c.do("DELETE", "/db/", nil)
			So(code, ShouldEqual, http.StatusOK)
		})

		Reset(func() {
			hs.Close()
			_ = g.Close()
		})
	})
}
