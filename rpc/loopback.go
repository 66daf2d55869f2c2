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
	"sync"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/docsync/auth"
	"github.com/CovenantSQL/docsync/utils/log"
)

// Loopback is an in-process Dialer serving a Server. Every frame is JSON encoded
// as on a real connection. It can be taken offline, which severs open connections
// and refuses new dials.
type Loopback struct {
	server Server

	mu      sync.Mutex
	offline bool
	conns   map[*loopbackConn]struct{}
	dials   int
}

// NewLoopback returns a loopback dialer for server.
func NewLoopback(server Server) *Loopback {
	return &Loopback{
		server: server,
		conns:  make(map[*loopbackConn]struct{}),
	}
}

// Dial implements Dialer.
func (l *Loopback) Dial(ctx context.Context, target string, creds auth.Credentials) (c Conn, err error) {
	db, err := DatabaseFromURL(target)
	if err != nil {
		return
	}
	l.mu.Lock()
	l.dials++
	offline := l.offline
	l.mu.Unlock()
	if offline {
		err = errors.Wrapf(ErrConnRefused, "dial %s", target)
		return
	}
	if err = ctx.Err(); err != nil {
		return
	}

	h, err := l.server.Open(ctx, db, creds)
	if err != nil {
		return
	}
	lc := &loopbackConn{
		l:    l,
		h:    h,
		done: make(chan struct{}),
	}
	l.mu.Lock()
	if l.offline {
		l.mu.Unlock()
		h.Close()
		err = errors.Wrapf(ErrConnRefused, "dial %s", target)
		return
	}
	l.conns[lc] = struct{}{}
	l.mu.Unlock()
	c = lc
	return
}

// SetOffline severs every open connection and refuses dials until set back online.
func (l *Loopback) SetOffline(offline bool) {
	l.mu.Lock()
	l.offline = offline
	var conns []*loopbackConn
	if offline {
		for c := range l.conns {
			conns = append(conns, c)
		}
	}
	l.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	log.WithFields(log.Fields{
		"offline": offline,
		"severed": len(conns),
	}).Debug("loopback transport state changed")
}

// Conns returns the number of open connections.
func (l *Loopback) Conns() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// Dials returns the number of dial attempts.
func (l *Loopback) Dials() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dials
}

type loopbackConn struct {
	l    *Loopback
	h    Handler
	done chan struct{}
	once sync.Once
}

func (c *loopbackConn) Call(ctx context.Context, method string, params, result interface{}) (err error) {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return errors.Wrap(err, "encode params failed")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	res, err := c.h.Handle(ctx, method, raw)
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	if err != nil {
		return AsError(err)
	}
	if result == nil || res == nil {
		return
	}
	out, err := json.Marshal(res)
	if err != nil {
		return errors.Wrap(err, "encode result failed")
	}
	return errors.Wrap(json.Unmarshal(out, result), "decode result failed")
}

func (c *loopbackConn) Close() error {
	c.once.Do(func() {
		c.l.mu.Lock()
		delete(c.l.conns, c)
		c.l.mu.Unlock()
		close(c.done)
		c.h.Close()
	})
	return nil
}

func (c *loopbackConn) Done() <-chan struct{} {
	return c.done
}
