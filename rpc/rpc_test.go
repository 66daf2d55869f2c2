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

package rpc

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/docsync/auth"
)

type echoServer struct {
	closed chan struct{}
}

type echoHandler struct {
	s *echoServer
}

func (s *echoServer) Open(ctx context.Context, db string, creds auth.Credentials) (Handler, error) {
	if creds.Username != "alice" {
		return nil, NewError(CodeUnauthorized, "login required")
	}
	if db != "db1" {
		return nil, Errorf(CodeNotFound, "no such database %q", db)
	}
	return &echoHandler{s: s}, nil
}

func (h *echoHandler) Handle(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	switch method {
	case "echo":
		var v map[string]interface{}
		if err := json.Unmarshal(params, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "block":
		<-ctx.Done()
		return nil, ctx.Err()
	case "fail":
		return nil, errors.Wrap(NewError(CodeConflict, "document update conflict"), "put")
	}
	return nil, NewError(CodeBadRequest, "unknown method")
}

func (h *echoHandler) Close() {
	select {
	case h.s.closed <- struct{}{}:
	default:
	}
}

func TestURL(t *testing.T) {
	Convey("database names from urls", t, func() {
		db, err := DatabaseFromURL("ws://localhost:4984/db1")
		So(err, ShouldBeNil)
		So(db, ShouldEqual, "db1")
		db, err = DatabaseFromURL("wss://localhost/db1/_blipsync")
		So(err, ShouldBeNil)
		So(db, ShouldEqual, "db1")

		for _, bad := range []string{"http://localhost/db1", "ws://localhost/", "ws://localhost/a/b", "blip://x/db"} {
			_, err = DatabaseFromURL(bad)
			So(errors.Cause(err), ShouldEqual, ErrInvalidURL)
		}

		u, err := SyncURL("ws://localhost:4984/db1/")
		So(err, ShouldBeNil)
		So(u, ShouldEqual, "ws://localhost:4984/db1/_blipsync")
		u, err = SyncURL("ws://localhost:4984/db1/_blipsync")
		So(err, ShouldBeNil)
		So(u, ShouldEqual, "ws://localhost:4984/db1/_blipsync")
	})
}

func TestErrors(t *testing.T) {
	Convey("wire errors", t, func() {
		err := NewError(CodeUnauthorized, "login required")
		So(err.Error(), ShouldEqual, "401 login required")
		So(Code(errors.Wrap(err, "dial")), ShouldEqual, CodeUnauthorized)
		So(Code(errors.New("boom")), ShouldEqual, 0)
		So(AsError(errors.New("boom")).Code, ShouldEqual, CodeInternal)
		So(AsError(nil), ShouldBeNil)
		So(IsTransient(ErrConnRefused), ShouldBeTrue)
		So(IsTransient(NewError(CodeUnavailable, "offline")), ShouldBeTrue)
		So(IsTransient(err), ShouldBeFalse)
		So(IsTransient(nil), ShouldBeFalse)
	})
}

func TestLoopback(t *testing.T) {
	Convey("loopback transport", t, func() {
		srv := &echoServer{closed: make(chan struct{}, 1)}
		l := NewLoopback(srv)
		ctx := context.Background()

		_, err := l.Dial(ctx, "ws://gw/db1", auth.Credentials{Username: "bob"})
		So(err, ShouldNotBeNil)
		So(strings.Contains(err.Error(), "401"), ShouldBeTrue)
		_, err = l.Dial(ctx, "ws://gw/db2", auth.Credentials{Username: "alice"})
		So(Code(err), ShouldEqual, CodeNotFound)

		c, err := l.Dial(ctx, "ws://gw/db1", auth.Credentials{Username: "alice"})
		So(err, ShouldBeNil)
		So(l.Conns(), ShouldEqual, 1)

		var out map[string]interface{}
		err = c.Call(ctx, "echo", map[string]interface{}{"a": 1}, &out)
		So(err, ShouldBeNil)
		So(out["a"], ShouldEqual, 1)

		err = c.Call(ctx, "fail", nil, nil)
		So(Code(err), ShouldEqual, CodeConflict)

		Convey("offline severs blocked calls and refuses dials", func() {
			errCh := make(chan error, 1)
			go func() {
				errCh <- c.Call(ctx, "block", nil, nil)
			}()
			time.Sleep(10 * time.Millisecond)
			l.SetOffline(true)
			select {
			case err := <-errCh:
				So(errors.Cause(err), ShouldEqual, ErrConnClosed)
			case <-time.After(time.Second):
				So("blocked call not released", ShouldBeEmpty)
			}
			<-c.Done()
			<-srv.closed
			So(l.Conns(), ShouldEqual, 0)

			_, err := l.Dial(ctx, "ws://gw/db1", auth.Credentials{Username: "alice"})
			So(errors.Cause(err), ShouldEqual, ErrConnRefused)
			So(IsTransient(err), ShouldBeTrue)

			l.SetOffline(false)
			c2, err := l.Dial(ctx, "ws://gw/db1", auth.Credentials{Username: "alice"})
			So(err, ShouldBeNil)
			So(c2.Close(), ShouldBeNil)
			So(c2.Close(), ShouldBeNil)
			So(errors.Cause(c2.Call(ctx, "echo", nil, nil)), ShouldEqual, ErrConnClosed)
			So(l.Dials(), ShouldEqual, 5)
		})

		Reset(func() {
			_ = c.Close()
		})
	})
}
