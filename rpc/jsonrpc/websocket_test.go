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

package jsonrpc_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/docsync/auth"
	"github.com/CovenantSQL/docsync/rpc"
	"github.com/CovenantSQL/docsync/rpc/jsonrpc"
)

type testBackend struct {
	opened chan string
}

type testHandler struct{}

func (b *testBackend) Open(ctx context.Context, db string, creds auth.Credentials) (rpc.Handler, error) {
	switch {
	case creds.SessionID == "good-session":
	case creds.Username == "alice" && creds.Password == "pass":
	default:
		return nil, rpc.NewError(rpc.CodeUnauthorized, "login required")
	}
	if db != "db1" {
		return nil, rpc.Errorf(rpc.CodeNotFound, "no such database %q", db)
	}
	b.opened <- db
	return testHandler{}, nil
}

func (testHandler) Handle(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	switch method {
	case "echo":
		var v map[string]interface{}
		if err := json.Unmarshal(params, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "block":
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
			return "late", nil
		}
	case "conflict":
		return nil, rpc.NewError(rpc.CodeConflict, "document update conflict")
	case "panic":
		panic("boom")
	}
	return nil, rpc.NewError(rpc.CodeBadRequest, "unknown method")
}

func (testHandler) Close() {}

func TestWebsocket(t *testing.T) {
	Convey("Websocket Serve with invalid address", t, func() {
		var server = &jsonrpc.WebsocketServer{
			Server: http.Server{
				Addr: ":999999",
			},
		}
		So(server.Serve(), ShouldNotBeNil)
	})

	Convey("Websocket sync endpoint", t, func() {
		backend := &testBackend{opened: make(chan string, 8)}
		server := &jsonrpc.WebsocketServer{Backend: backend}
		hs := httptest.NewServer(server.Router())
		target := "ws" + strings.TrimPrefix(hs.URL, "http") + "/db1"
		dialer := &jsonrpc.Dialer{HandshakeTimeout: 3 * time.Second}
		ctx := context.Background()

		Convey("authentication failures surface 401", func() {
			_, err := dialer.Dial(ctx, target, auth.Credentials{Username: "alice", Password: "wrong"})
			So(err, ShouldNotBeNil)
			So(rpc.Code(err), ShouldEqual, rpc.CodeUnauthorized)
			So(err.Error(), ShouldContainSubstring, "401")

			_, err = dialer.Dial(ctx, "ws"+strings.TrimPrefix(hs.URL, "http")+"/db2",
				auth.Credentials{Username: "alice", Password: "pass"})
			So(rpc.Code(err), ShouldEqual, rpc.CodeNotFound)
		})

		Convey("invalid urls and unreachable peers", func() {
			_, err := dialer.Dial(ctx, "http://localhost/db1", auth.Credentials{})
			So(errors.Cause(err), ShouldEqual, rpc.ErrInvalidURL)
			_, err = dialer.Dial(ctx, "ws://127.0.0.1:1/db1", auth.Credentials{})
			So(errors.Cause(err), ShouldEqual, rpc.ErrConnRefused)
			So(rpc.IsTransient(err), ShouldBeTrue)
		})

		Convey("calls over basic auth and session cookie", func() {
			for _, creds := range []auth.Credentials{
				{Username: "alice", Password: "pass"},
				{SessionID: "good-session"},
			} {
				c, err := dialer.Dial(ctx, target, creds)
				So(err, ShouldBeNil)
				So(<-backend.opened, ShouldEqual, "db1")

				var out map[string]interface{}
				So(c.Call(ctx, "echo", map[string]interface{}{"hello": "world"}, &out), ShouldBeNil)
				So(out["hello"], ShouldEqual, "world")

				err = c.Call(ctx, "conflict", nil, nil)
				So(rpc.Code(err), ShouldEqual, rpc.CodeConflict)
				So(err.Error(), ShouldEqual, "409 document update conflict")

				err = c.Call(ctx, "panic", nil, nil)
				So(rpc.Code(err), ShouldEqual, rpc.CodeInternal)

				So(c.Close(), ShouldBeNil)
				<-c.Done()
				So(errors.Cause(c.Call(ctx, "echo", nil, nil)), ShouldEqual, rpc.ErrConnClosed)
			}
		})

		Convey("calls on one connection run concurrently", func() {
			c, err := dialer.Dial(ctx, target, auth.Credentials{Username: "alice", Password: "pass"})
			So(err, ShouldBeNil)
			<-backend.opened

			blocked := make(chan error, 1)
			go func() {
				var s string
				blocked <- c.Call(ctx, "block", nil, &s)
			}()
			var out map[string]interface{}
			start := time.Now()
			So(c.Call(ctx, "echo", map[string]interface{}{"a": "b"}, &out), ShouldBeNil)
			So(time.Since(start), ShouldBeLessThan, 200*time.Millisecond)
			So(<-blocked, ShouldBeNil)
			So(c.Close(), ShouldBeNil)
		})

		Convey("shutdown closes open connections", func() {
			c, err := dialer.Dial(ctx, target, auth.Credentials{Username: "alice", Password: "pass"})
			So(err, ShouldBeNil)
			<-backend.opened
			So(server.Shutdown(), ShouldBeNil)
			select {
			case <-c.Done():
			case <-time.After(3 * time.Second):
				So("connection still open", ShouldBeEmpty)
			}
		})

		Reset(func() {
			hs.Close()
		})
	})
}
