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
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/go-playground/validator.v9"

	"github.com/CovenantSQL/docsync/auth"
	"github.com/CovenantSQL/docsync/checkpoint"
	"github.com/CovenantSQL/docsync/delta"
	"github.com/CovenantSQL/docsync/docdb"
	"github.com/CovenantSQL/docsync/rpc"
	"github.com/CovenantSQL/docsync/types"
	"github.com/CovenantSQL/docsync/utils/log"
)

var validate = validator.New()

// session serves the calls of one replicator connection.
type session struct {
	g    *Gateway
	db   *Database
	user string

	// set by hello, 1 when deltas are negotiated
	deltaSync int32
}

func newSession(g *Gateway, d *Database, p *auth.Principal) *session {
	log.WithFields(log.Fields{"db": d.name, "user": p.Name}).Debug("sync connection opened")
	return &session{g: g, db: d, user: p.Name}
}

// decode unmarshals params and checks their struct tags.
func decode(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return errors.Wrap(ErrBadRequest, "missing params")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return errors.Wrap(ErrBadRequest, err.Error())
	}
	if err := validate.Struct(v); err != nil {
		return errors.Wrap(ErrBadRequest, err.Error())
	}
	return nil
}

// Handle implements rpc.Handler.
func (s *session) Handle(ctx context.Context, method string, params json.RawMessage) (result interface{}, err error) {
	if !s.db.Online() {
		return nil, wireError(errors.Wrapf(ErrOffline, "%q", s.db.name))
	}
	p, err := s.db.auth.Principal(s.user)
	if err != nil {
		s.db.stats.AuthFailedCount.Inc()
		return nil, rpc.NewError(rpc.CodeUnauthorized, "login required")
	}

	switch method {
	case rpc.MethodHello:
		var req rpc.HelloRequest
		if err = decode(params, &req); err == nil {
			result = s.hello(p, req)
		}
	case rpc.MethodGetCheckpoint:
		var req rpc.GetCheckpointRequest
		if err = decode(params, &req); err == nil {
			result, err = s.getCheckpoint(req)
		}
	case rpc.MethodSetCheckpoint:
		var req rpc.SetCheckpointRequest
		if err = decode(params, &req); err == nil {
			result, err = s.setCheckpoint(req)
		}
	case rpc.MethodChanges:
		var req rpc.ChangesRequest
		if err = decode(params, &req); err == nil {
			result, err = s.changes(ctx, p, req)
		}
	case rpc.MethodRevsDiff:
		var req rpc.RevsDiffRequest
		if err = decode(params, &req); err == nil {
			result = s.revsDiff(req)
		}
	case rpc.MethodGetRev:
		var req rpc.GetRevRequest
		if err = decode(params, &req); err == nil {
			result, err = s.getRev(p, req)
		}
	case rpc.MethodPutRev:
		var req rpc.RevFrame
		if err = decode(params, &req); err == nil {
			result, err = s.putRev(req)
		}
	default:
		err = errors.Wrapf(ErrBadRequest, "unknown method %q", method)
	}
	if err != nil {
		log.WithFields(log.Fields{
			"db":     s.db.name,
			"user":   s.user,
			"method": method,
		}).WithError(err).Debug("sync call failed")
		return nil, wireError(err)
	}
	return
}

// Close implements rpc.Handler.
func (s *session) Close() {
	log.WithFields(log.Fields{"db": s.db.name, "user": s.user}).Debug("sync connection closed")
}

func (s *session) hello(p *auth.Principal, req rpc.HelloRequest) *rpc.HelloResponse {
	negotiated := req.DeltaSync && s.db.DeltaSync()
	if negotiated {
		atomic.StoreInt32(&s.deltaSync, 1)
		s.db.stats.DeltaPullReplicationCount.Inc()
	} else {
		atomic.StoreInt32(&s.deltaSync, 0)
	}
	return &rpc.HelloResponse{
		Database:  s.db.name,
		UUID:      s.db.docs.UUID(),
		DeltaSync: negotiated,
		User:      p.Name,
		Channels:  p.Channels,
	}
}

func (s *session) getCheckpoint(req rpc.GetCheckpointRequest) (resp *rpc.CheckpointResponse, err error) {
	resp = &rpc.CheckpointResponse{}
	cp, err := s.db.checkpoints.Get(req.ReplicationID)
	switch {
	case err == nil:
		resp.Checkpoint = cp
	case errors.Cause(err) == checkpoint.ErrNotFound:
		err = nil
	}
	return
}

func (s *session) setCheckpoint(req rpc.SetCheckpointRequest) (resp *rpc.CheckpointResponse, err error) {
	cp := req.Checkpoint
	if cp.ReplicationID == "" {
		return nil, errors.Wrap(ErrBadRequest, "missing replication id")
	}
	if err = s.db.checkpoints.Put(cp.ReplicationID, &cp); err != nil {
		return
	}
	return &rpc.CheckpointResponse{Checkpoint: &cp}, nil
}

func parseSeq(s string) (seq uint64, err error) {
	if s == "" {
		return
	}
	if seq, err = strconv.ParseUint(s, 10, 64); err != nil {
		err = errors.Wrapf(ErrBadRequest, "invalid sequence %q", s)
	}
	return
}

func formatSeq(seq uint64) string {
	return strconv.FormatUint(seq, 10)
}

func (s *session) changes(ctx context.Context, p *auth.Principal, req rpc.ChangesRequest) (resp *rpc.ChangesResponse, err error) {
	since, err := parseSeq(req.Since)
	if err != nil {
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultChangesLimit
	}
	var docIDs map[string]struct{}
	if len(req.DocIDs) > 0 {
		docIDs = make(map[string]struct{}, len(req.DocIDs))
		for _, id := range req.DocIDs {
			docIDs[id] = struct{}{}
		}
	}
	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	if timeout <= 0 || timeout > s.g.opts.LongPollTimeout {
		timeout = s.g.opts.LongPollTimeout
	}
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp = &rpc.ChangesResponse{Results: []rpc.ChangeEntry{}}
	cursor := since
	for {
		changes, last, more := s.db.docs.ChangesPage(cursor, limit)
		for _, c := range changes {
			if e, ok := s.entry(p, c, req, since, docIDs); ok {
				resp.Results = append(resp.Results, e)
			}
		}
		cursor = last
		if len(resp.Results) > 0 {
			break
		}
		// a full page filtered down to nothing is not the end of the feed
		if more {
			continue
		}
		if !req.LongPoll {
			break
		}
		if cursor < s.db.docs.LastSequence() {
			continue
		}
		if err = s.wait(ctx, pollCtx, cursor); err != nil {
			if pollCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				err = nil
				break
			}
			return nil, err
		}
		// grants may have changed while waiting
		if p, err = s.db.auth.Principal(s.user); err != nil {
			return nil, rpc.NewError(rpc.CodeUnauthorized, "login required")
		}
	}
	resp.Last = formatSeq(cursor)
	resp.Channels = p.Channels
	return
}

// wait blocks until a change after cursor, the end of the poll or the database going offline.
func (s *session) wait(ctx, pollCtx context.Context, cursor uint64) error {
	offlineCh, offline := s.db.offlineNotify()
	if offline {
		return errors.Wrapf(ErrOffline, "%q", s.db.name)
	}
	waitCtx, cancel := context.WithCancel(pollCtx)
	defer cancel()
	go func() {
		select {
		case <-offlineCh:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	_, err := s.db.docs.WaitForChange(waitCtx, cursor)
	if !s.db.Online() {
		return errors.Wrapf(ErrOffline, "%q", s.db.name)
	}
	if err == docdb.ErrClosed {
		return errors.Wrapf(ErrOffline, "%q", s.db.name)
	}
	return err
}

func visible(p *auth.Principal, channels, filter []string) bool {
	if !p.CanSee(channels) {
		return false
	}
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		for _, c := range channels {
			if f == c {
				return true
			}
		}
	}
	return false
}

// entry filters a change for the principal. A document that left the principal's
// channels is announced as removed to replicators resuming from a cursor.
func (s *session) entry(p *auth.Principal, c docdb.Change, req rpc.ChangesRequest, since uint64,
	docIDs map[string]struct{}) (e rpc.ChangeEntry, ok bool) {
	if docIDs != nil {
		if _, in := docIDs[c.DocID]; !in {
			return
		}
	}
	e = rpc.ChangeEntry{
		Seq:     formatSeq(c.Seq),
		DocID:   c.DocID,
		Rev:     c.Rev,
		Deleted: c.Deleted,
	}
	if visible(p, c.Channels, req.Channels) {
		ok = !(req.ActiveOnly && c.Deleted)
		return
	}
	if since == 0 || req.ActiveOnly {
		return
	}
	ancestors, err := s.db.docs.History(c.DocID, c.Rev)
	if err != nil {
		return
	}
	for _, a := range ancestors {
		if n, err := s.db.docs.GetRevision(c.DocID, a); err == nil && visible(p, n.Channels, req.Channels) {
			e.Removed = true
			ok = true
			return
		}
	}
	return
}

func (s *session) revsDiff(req rpc.RevsDiffRequest) *rpc.RevsDiffResponse {
	resp := &rpc.RevsDiffResponse{Results: make(map[string]rpc.RevsDiffEntry)}
	for docID, revs := range req.Revs {
		missing, possible := s.db.docs.RevsDiff(docID, revs)
		if len(missing) > 0 {
			resp.Results[docID] = rpc.RevsDiffEntry{Missing: missing, PossibleAncestors: possible}
		}
	}
	return resp
}

func (s *session) getRev(p *auth.Principal, req rpc.GetRevRequest) (f *rpc.RevFrame, err error) {
	n, err := s.db.docs.GetRevision(req.DocID, req.Rev)
	if err != nil {
		return nil, errors.Wrapf(err, "get %s %s", req.DocID, req.Rev)
	}
	if !p.CanSee(n.Channels) {
		return nil, errors.Wrapf(ErrForbidden, "%s", req.DocID)
	}
	history, err := s.db.docs.History(req.DocID, req.Rev)
	if err != nil {
		return
	}
	f = &rpc.RevFrame{
		DocID:    req.DocID,
		Rev:      req.Rev,
		History:  history,
		Deleted:  n.Deleted,
		Channels: n.Channels,
	}
	if n.Deleted {
		return
	}

	if req.DeltaSrc != "" && atomic.LoadInt32(&s.deltaSync) == 1 {
		s.db.stats.DeltasRequested.Inc()
		if base, ok := s.db.codec.Resident(req.DocID, req.DeltaSrc); ok {
			s.db.stats.RevCacheHits.Inc()
			if d, derr := delta.Encode(base, n.Body); derr == nil {
				d.BaseRev = req.DeltaSrc
				f.Delta = d
				s.db.stats.DeltasSent.Inc()
			}
		} else {
			s.db.stats.RevCacheMisses.Inc()
		}
	}
	if f.Delta == nil {
		f.Body = n.Body
		s.db.codec.Remember(req.DocID, req.Rev, n.Body)
	}
	s.db.stats.NumDocReads.Inc()
	s.db.stats.DocReadsBytes.Add(uint64(f.Size()))
	log.WithFields(log.Fields{
		"db":    s.db.name,
		"doc":   req.DocID,
		"rev":   req.Rev,
		"delta": f.IsDelta(),
		"size":  f.Size(),
	}).Debug("served revision")
	return
}

func (s *session) putRev(f rpc.RevFrame) (resp *rpc.PutRevResponse, err error) {
	rev := types.Revision{
		ID:      f.Rev,
		Deleted: f.Deleted,
		Body:    f.Body,
	}
	if len(f.History) > 0 {
		rev.Parent = f.History[0]
	}
	if f.Delta != nil && !f.Deleted {
		base, berr := s.db.docs.GetRevision(f.DocID, f.Delta.BaseRev)
		if berr != nil {
			return nil, rpc.Errorf(rpc.CodeUnprocessable, "delta base %s of %s unavailable", f.Delta.BaseRev, f.DocID)
		}
		if rev.Body, err = delta.Decode(base.Body, f.Delta); err != nil {
			return nil, rpc.Errorf(rpc.CodeUnprocessable, "apply delta to %s: %v", f.DocID, err)
		}
		s.db.stats.DeltaPushDocCount.Inc()
	}
	if f.Deleted {
		rev.Channels = types.NormalizeChannels(f.Channels)
		if rev.Channels == nil && rev.Parent != "" {
			if parent, perr := s.db.docs.GetRevision(f.DocID, rev.Parent); perr == nil {
				rev.Channels = parent.Channels
			}
		}
	} else if rev.Body == nil {
		rev.Body = types.Body{}
	}

	res, err := s.db.docs.PutExistingRevision(f.DocID, rev, f.History, true)
	if err != nil {
		return
	}
	s.db.stats.NumDocWrites.Inc()
	s.db.stats.DocWritesBytes.Add(uint64(f.Size()))
	if res.Current == rev.ID && !rev.Deleted {
		s.db.codec.Remember(f.DocID, rev.ID, rev.Body)
	}
	log.WithFields(log.Fields{
		"db":      s.db.name,
		"doc":     f.DocID,
		"rev":     f.Rev,
		"outcome": res.Outcome,
		"delta":   f.IsDelta(),
	}).Debug("stored pushed revision")
	return &rpc.PutRevResponse{Outcome: res.Outcome.String()}, nil
}
