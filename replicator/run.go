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

package replicator

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/CovenantSQL/docsync/checkpoint"
	"github.com/CovenantSQL/docsync/docdb"
	"github.com/CovenantSQL/docsync/rpc"
	"github.com/CovenantSQL/docsync/types"
	"github.com/CovenantSQL/docsync/utils/log"
)

// cursor is the checkpoint shared by the push and pull loops of a run.
type cursor struct {
	mu sync.Mutex
	cp types.Checkpoint
}

func (c *cursor) local() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cp.Local
}

func (c *cursor) remote() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cp.Remote
}

// run is one connected pass of a session.
type run struct {
	s    *Session
	conn rpc.Conn
	cur  *cursor
	// ctx bounds batch work, stop is cancelled by Stop and only interrupts waits.
	ctx  context.Context
	stop context.Context

	deltaSync    bool
	activeOnly   bool
	pullCaughtUp bool
	channels     []string
	channelsSeen bool
}

func (r *run) stopped() bool {
	return r.stop.Err() != nil
}

// waitContext returns a context for idle waits, cancelled by Stop as well.
func (r *run) waitContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(r.ctx)
	go func() {
		select {
		case <-r.stop.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// loadCheckpoint returns the checkpoint to resume from. A local checkpoint the peer
// does not hold an identical copy of is discarded and replication starts over.
func (s *Session) loadCheckpoint(ctx context.Context, conn rpc.Conn) (cp types.Checkpoint, err error) {
	cp.ReplicationID = s.id
	local, err := s.cfg.Checkpoints.Get(s.id)
	if errors.Cause(err) == checkpoint.ErrNotFound {
		local, err = nil, nil
	}
	if err != nil {
		return
	}
	remote := &rpc.CheckpointResponse{}
	if err = conn.Call(ctx, rpc.MethodGetCheckpoint, rpc.GetCheckpointRequest{ReplicationID: s.id}, remote); err != nil {
		return
	}
	if local.IsZero() {
		return
	}
	if r := remote.Checkpoint; r == nil || r.Local != local.Local || r.Remote != local.Remote {
		log.WithFields(log.Fields{
			"replication": s.id,
			"local":       local.Local,
			"remote":      local.Remote,
		}).Warning("checkpoint mismatch with peer, starting over")
		return
	}
	cp.Local, cp.Remote = local.Local, local.Remote
	return
}

// save commits the checkpoint locally then on the peer.
func (r *run) save(update func(cp *types.Checkpoint)) (err error) {
	r.cur.mu.Lock()
	defer r.cur.mu.Unlock()
	update(&r.cur.cp)
	r.cur.cp.UpdatedAt = time.Now().UTC()
	cp := r.cur.cp
	if err = r.s.cfg.Checkpoints.Put(r.s.id, &cp); err != nil {
		return errors.Wrap(err, "save local checkpoint failed")
	}
	if err = r.conn.Call(r.ctx, rpc.MethodSetCheckpoint, rpc.SetCheckpointRequest{Checkpoint: cp}, &rpc.CheckpointResponse{}); err != nil {
		return errors.Wrap(err, "save peer checkpoint failed")
	}
	log.WithFields(log.Fields{
		"replication": r.s.id,
		"local":       cp.Local,
		"remote":      cp.Remote,
	}).Debug("checkpoint saved")
	return
}

// replicate runs the push and pull loops over a connection. It returns nil once a
// one-shot session is caught up, errStopped after Stop and an error otherwise.
func (s *Session) replicate(stop context.Context, conn rpc.Conn, hello *rpc.HelloResponse) (err error) {
	cp, err := s.loadCheckpoint(stop, conn)
	if err != nil {
		return
	}
	workCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(workCtx)
	r := &run{
		s:          s,
		conn:       conn,
		cur:        &cursor{cp: cp},
		ctx:        gctx,
		stop:       stop,
		deltaSync:  s.cfg.DeltaSync && hello.DeltaSync,
		// tombstones may only be skipped when nothing local could need deleting
		activeOnly: cp.Remote == "" && s.cfg.Local.LastSequence() == 0,
	}

	s.mu.Lock()
	if s.cfg.Direction.pushes() {
		s.busy[Push] = true
	}
	if s.cfg.Direction.pulls() {
		s.busy[Pull] = true
	}
	s.mu.Unlock()
	s.setState(Busy, nil)

	if s.cfg.Direction.pushes() {
		g.Go(r.push)
	}
	if s.cfg.Direction.pulls() {
		g.Go(r.pull)
	}

	watchDone := make(chan struct{})
	go func() {
		select {
		case <-conn.Done():
			cancel()
		case <-watchDone:
		}
	}()
	err = g.Wait()
	close(watchDone)

	switch {
	case err == nil:
	case stop.Err() != nil:
		err = errStopped
	case isClosed(conn) && errors.Cause(err) != docdb.ErrClosed:
		err = errors.Wrap(rpc.ErrConnClosed, err.Error())
	}
	return
}

func isClosed(conn rpc.Conn) bool {
	select {
	case <-conn.Done():
		return true
	default:
		return false
	}
}

func (s *Session) filterDocIDs(changes []docdb.Change) []docdb.Change {
	if len(s.cfg.DocIDs) == 0 {
		return changes
	}
	allowed := make(map[string]struct{}, len(s.cfg.DocIDs))
	for _, id := range s.cfg.DocIDs {
		allowed[id] = struct{}{}
	}
	out := changes[:0:0]
	for _, c := range changes {
		if _, ok := allowed[c.DocID]; ok {
			out = append(out, c)
		}
	}
	return out
}
