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

// Package jsonrpc serves and dials the sync protocol over websocket JSON-RPC.
package jsonrpc

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sourcegraph/jsonrpc2"
	wsstream "github.com/sourcegraph/jsonrpc2/websocket"

	"github.com/CovenantSQL/docsync/auth"
	"github.com/CovenantSQL/docsync/rpc"
	"github.com/CovenantSQL/docsync/utils/log"
)

// WebsocketServer is a websocket server providing the sync protocol for every
// database of its backend at /{db}/_blipsync.
type WebsocketServer struct {
	http.Server
	Backend rpc.Server
	// CookieName of session cookies, auth.DefaultSessionCookie if empty.
	CookieName string

	mu    sync.Mutex
	conns map[*jsonrpc2.Conn]struct{}
}

// Router returns the http handler routing sync requests.
func (ws *WebsocketServer) Router() http.Handler {
	var (
		router   = mux.NewRouter()
		upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	)

	router.HandleFunc("/{db}/"+rpc.SyncPath, func(rw http.ResponseWriter, r *http.Request) {
		db := mux.Vars(r)["db"]
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		backend, err := ws.Backend.Open(ctx, db, ws.credentials(r))
		if err != nil {
			e := rpc.AsError(err)
			log.WithFields(log.Fields{
				"db":     db,
				"remote": r.RemoteAddr,
			}).WithError(err).Warning("jsonrpc: sync connection rejected")
			http.Error(rw, e.Error(), e.Code)
			return
		}
		defer backend.Close()

		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			log.WithError(err).Error("jsonrpc: upgrade http connection to websocket failed")
			return
		}
		defer conn.Close()

		rc := jsonrpc2.NewConn(ctx, wsstream.NewObjectStream(conn), newHandler(backend))
		ws.track(rc, true)
		defer ws.track(rc, false)
		<-rc.DisconnectNotify()
	})
	return router
}

func (ws *WebsocketServer) credentials(r *http.Request) (creds auth.Credentials) {
	creds.SessionCookie = ws.CookieName
	if c, err := r.Cookie(creds.CookieName()); err == nil && c.Value != "" {
		creds.SessionID = c.Value
	}
	if user, pass, ok := r.BasicAuth(); ok {
		creds.Username, creds.Password = user, pass
	}
	return
}

func (ws *WebsocketServer) track(c *jsonrpc2.Conn, add bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.conns == nil {
		ws.conns = make(map[*jsonrpc2.Conn]struct{})
	}
	if add {
		ws.conns[c] = struct{}{}
	} else {
		delete(ws.conns, c)
	}
}

// Serve accepts incoming connections and serve each.
func (ws *WebsocketServer) Serve() error {
	addr := ws.Addr
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "couldn't bind to address %q", addr)
	}

	ws.Server.Handler = ws.Router()
	return ws.Server.Serve(listener)
}

// Shutdown gracefully shuts down the server and closes open sync connections.
func (ws *WebsocketServer) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := ws.Server.Shutdown(ctx)

	ws.mu.Lock()
	conns := make([]*jsonrpc2.Conn, 0, len(ws.conns))
	for c := range ws.conns {
		conns = append(conns, c)
	}
	ws.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	return err
}
