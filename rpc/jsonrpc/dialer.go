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

package jsonrpc

import (
	"context"
	"encoding/base64"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sourcegraph/jsonrpc2"
	wsstream "github.com/sourcegraph/jsonrpc2/websocket"

	"github.com/CovenantSQL/docsync/auth"
	"github.com/CovenantSQL/docsync/rpc"
)

// Dialer dials sync endpoints over websocket.
type Dialer struct {
	HandshakeTimeout time.Duration
}

// Dial implements rpc.Dialer. Handshake rejections are returned as rpc errors with
// the http status code.
func (d *Dialer) Dial(ctx context.Context, target string, creds auth.Credentials) (c rpc.Conn, err error) {
	u, err := rpc.SyncURL(target)
	if err != nil {
		return
	}
	header := http.Header{}
	if creds.SessionID != "" {
		cookie := &http.Cookie{Name: creds.CookieName(), Value: creds.SessionID}
		header.Set("Cookie", cookie.String())
	}
	if creds.Username != "" {
		token := base64.StdEncoding.EncodeToString([]byte(creds.Username + ":" + creds.Password))
		header.Set("Authorization", "Basic "+token)
	}

	wd := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if wd.HandshakeTimeout == 0 {
		wd.HandshakeTimeout = 10 * time.Second
	}
	ws, resp, err := wd.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			msg := http.StatusText(resp.StatusCode)
			if resp.Body != nil {
				if body, rerr := ioutil.ReadAll(resp.Body); rerr == nil && len(body) > 0 {
					msg = strings.TrimSpace(string(body))
				}
			}
			// body already reads "<code> <message>" when written by WebsocketServer
			if e, ok := parseWireText(msg); ok {
				err = e
			} else {
				err = rpc.NewError(resp.StatusCode, msg)
			}
			return
		}
		err = errors.Wrapf(rpc.ErrConnRefused, "dial %s: %v", u, err)
		return
	}

	c = &conn{
		c: jsonrpc2.NewConn(context.Background(), wsstream.NewObjectStream(ws), nil),
	}
	return
}

func parseWireText(msg string) (e *rpc.Error, ok bool) {
	parts := strings.SplitN(msg, " ", 2)
	if len(parts) != 2 || len(parts[0]) != 3 {
		return
	}
	code := 0
	for _, ch := range parts[0] {
		if ch < '0' || ch > '9' {
			return
		}
		code = code*10 + int(ch-'0')
	}
	return rpc.NewError(code, parts[1]), true
}

type conn struct {
	c *jsonrpc2.Conn
}

func (c *conn) Call(ctx context.Context, method string, params, result interface{}) error {
	select {
	case <-c.c.DisconnectNotify():
		return rpc.ErrConnClosed
	default:
	}
	return fromWire(c.c.Call(ctx, method, params, result))
}

func (c *conn) Close() error {
	if err := c.c.Close(); err != nil && err != jsonrpc2.ErrClosed {
		return err
	}
	return nil
}

func (c *conn) Done() <-chan struct{} {
	return c.c.DisconnectNotify()
}
