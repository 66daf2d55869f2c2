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

// Package rpc defines the sync protocol spoken between a replicator and a gateway.
package rpc

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/docsync/auth"
)

// SyncPath is the last path element of a sync endpoint.
const SyncPath = "_blipsync"

// Conn is an authenticated connection to a peer database.
type Conn interface {
	// Call invokes method with params and decodes the reply into result.
	Call(ctx context.Context, method string, params, result interface{}) error
	Close() error
	// Done is closed when the connection ends.
	Done() <-chan struct{}
}

// Dialer opens connections to a peer database url.
type Dialer interface {
	Dial(ctx context.Context, target string, creds auth.Credentials) (Conn, error)
}

// Handler serves the calls of one connection.
type Handler interface {
	Handle(ctx context.Context, method string, params json.RawMessage) (result interface{}, err error)
	Close()
}

// Server authenticates new connections to its databases.
type Server interface {
	Open(ctx context.Context, db string, creds auth.Credentials) (Handler, error)
}

// DatabaseFromURL returns the database name of a ws or wss sync url.
func DatabaseFromURL(target string) (db string, err error) {
	u, err := url.Parse(target)
	if err != nil {
		err = errors.Wrap(ErrInvalidURL, err.Error())
		return
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		err = errors.Wrapf(ErrInvalidURL, "unsupported scheme %q", u.Scheme)
		return
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) > 0 && parts[len(parts)-1] == SyncPath {
		parts = parts[:len(parts)-1]
	}
	if len(parts) != 1 || parts[0] == "" {
		err = errors.Wrapf(ErrInvalidURL, "no database in %q", target)
		return
	}
	db = parts[0]
	return
}

// SyncURL returns the sync endpoint of a database url.
func SyncURL(target string) (string, error) {
	if _, err := DatabaseFromURL(target); err != nil {
		return "", err
	}
	u, _ := url.Parse(target)
	if !strings.HasSuffix(strings.TrimRight(u.Path, "/"), "/"+SyncPath) {
		u.Path = strings.TrimRight(u.Path, "/") + "/" + SyncPath
	}
	return u.String(), nil
}
