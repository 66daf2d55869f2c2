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
	"sort"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/docsync/auth"
	"github.com/CovenantSQL/docsync/delta"
	"github.com/CovenantSQL/docsync/docdb"
	"github.com/CovenantSQL/docsync/revtree"
	"github.com/CovenantSQL/docsync/rpc"
	"github.com/CovenantSQL/docsync/types"
	"github.com/CovenantSQL/docsync/utils/log"
)

// pull applies peer changes after the checkpoint until caught up, then long polls
// the peer when continuous.
func (r *run) pull() error {
	s := r.s
	for {
		if r.stopped() {
			return errStopped
		}
		since := r.cur.remote()
		req := rpc.ChangesRequest{
			Since:      since,
			Limit:      s.cfg.BatchSize,
			Channels:   s.cfg.Channels,
			DocIDs:     s.cfg.DocIDs,
			ActiveOnly: r.activeOnly,
		}
		ctx, cancel := r.ctx, func() {}
		if s.cfg.Continuous && r.pullCaughtUp {
			req.LongPoll = true
			req.TimeoutMS = s.cfg.PollTimeout.Milliseconds()
			ctx, cancel = r.waitContext()
		}
		resp := &rpc.ChangesResponse{}
		err := r.conn.Call(ctx, rpc.MethodChanges, req, resp)
		cancel()
		if r.stopped() {
			return errStopped
		}
		if err != nil {
			return err
		}

		if len(resp.Results) > 0 {
			s.setBusy(Pull, true)
		}
		var events []DocumentEvent
		if events, err = r.revoke(resp.Channels); err != nil {
			return err
		}
		batch, err := r.pullBatch(resp.Results)
		if err != nil {
			return err
		}
		if events = append(events, batch...); len(events) > 0 {
			s.emit(Event{Kind: DocumentsReplicated, State: Busy, Documents: events})
		}
		if resp.Last != "" && resp.Last != since {
			last := resp.Last
			if err = r.save(func(cp *types.Checkpoint) { cp.Remote = last }); err != nil {
				return err
			}
		}

		if len(resp.Results) > 0 {
			r.pullCaughtUp = false
			continue
		}
		r.activeOnly = false
		r.pullCaughtUp = true
		s.setBusy(Pull, false)
		if !s.cfg.Continuous {
			return nil
		}
	}
}

func sameChannels(a, b []string) bool {
	a, b = types.NormalizeChannels(a), types.NormalizeChannels(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// revoke purges pulled documents the principal can no longer see when the purge
// policy applies. It runs whenever the principal channels change, and once per run.
func (r *run) revoke(channels []string) (events []DocumentEvent, err error) {
	s := r.s
	if s.cfg.Revocation != RevocationPurge {
		return
	}
	if r.channelsSeen && sameChannels(r.channels, channels) {
		return
	}
	r.channels, r.channelsSeen = channels, true
	for _, id := range s.cfg.Local.PulledDocumentIDs() {
		cur, cerr := s.cfg.Local.CurrentRevision(id)
		if cerr != nil || auth.Visible(channels, cur.Channels) {
			continue
		}
		var ev DocumentEvent
		if ev, err = r.purge(id, cur); err != nil {
			return
		}
		events = append(events, ev)
	}
	return
}

func (r *run) purge(docID string, cur types.Revision) (ev DocumentEvent, err error) {
	s := r.s
	if err = s.cfg.Local.PurgeDocument(docID); errors.Cause(err) == docdb.ErrNotFound {
		err = nil
	}
	if err != nil {
		return
	}
	s.codec.Forget(docID)
	s.stats.DocsPurged.Inc()
	log.WithFields(log.Fields{
		"replication": s.id,
		"doc":         docID,
		"rev":         cur.ID,
	}).Info("purged document after access revocation")
	ev = DocumentEvent{DocID: docID, Rev: cur.ID, Direction: Pull, Deleted: cur.Deleted, Purged: true}
	return
}

func (r *run) pullBatch(entries []rpc.ChangeEntry) (events []DocumentEvent, err error) {
	s := r.s
	var pulled []string
	type wanted struct {
		docID string
		rev   types.RevID
	}
	var fetch []wanted
	for _, e := range entries {
		if e.Removed {
			if s.cfg.Revocation != RevocationPurge {
				continue
			}
			if pulled == nil {
				pulled = s.cfg.Local.PulledDocumentIDs()
			}
			i := sort.SearchStrings(pulled, e.DocID)
			if i == len(pulled) || pulled[i] != e.DocID {
				continue
			}
			cur, cerr := s.cfg.Local.CurrentRevision(e.DocID)
			if cerr != nil {
				continue
			}
			var ev DocumentEvent
			if ev, err = r.purge(e.DocID, cur); err != nil {
				return
			}
			events = append(events, ev)
			continue
		}
		if missing, _ := s.cfg.Local.RevsDiff(e.DocID, []types.RevID{e.Rev}); len(missing) > 0 {
			fetch = append(fetch, wanted{docID: e.DocID, rev: e.Rev})
		}
	}
	s.addProgress(len(fetch), 0)
	for _, w := range fetch {
		var ev DocumentEvent
		if ev, err = r.pullRevision(w.docID, w.rev); err != nil {
			return
		}
		events = append(events, ev)
		s.addProgress(0, 1)
	}
	return
}

func (r *run) getRev(req rpc.GetRevRequest) (f *rpc.RevFrame, err error) {
	f = &rpc.RevFrame{}
	if err = r.conn.Call(r.ctx, rpc.MethodGetRev, req, f); err != nil {
		f = nil
	}
	return
}

// pullRevision fetches and stores one revision, asking for a delta against the
// current local body. A delta that does not apply is refetched as a full body.
func (r *run) pullRevision(docID string, rev types.RevID) (ev DocumentEvent, err error) {
	s := r.s
	ev = DocumentEvent{DocID: docID, Rev: rev, Direction: Pull}
	req := rpc.GetRevRequest{DocID: docID, Rev: rev}
	if r.deltaSync {
		if cur, cerr := s.cfg.Local.CurrentRevision(docID); cerr == nil && !cur.Deleted && cur.Body != nil {
			req.DeltaSrc = cur.ID
		}
	}

	f, err := r.getRev(req)
	var body types.Body
	if err == nil {
		body = f.Body
		if f.IsDelta() {
			var base types.Body
			if n, berr := s.cfg.Local.GetRevision(docID, f.Delta.BaseRev); berr == nil {
				base = n.Body
			}
			size := f.Size()
			if body, err = delta.Decode(base, f.Delta); err == nil {
				s.stats.DeltasReceived.Inc()
				s.stats.DeltaBytesReceived.Add(uint64(size))
			} else {
				s.stats.DeltaFallbacks.Inc()
				log.WithFields(log.Fields{
					"replication": s.id,
					"doc":         docID,
					"rev":         rev,
				}).WithError(err).Debug("delta does not apply, fetching full body")
				req.DeltaSrc = ""
				if f, err = r.getRev(req); err == nil {
					body = f.Body
				}
			}
		}
	}
	if err != nil {
		if !rejected(err) {
			return
		}
		log.WithFields(log.Fields{
			"replication": s.id,
			"doc":         docID,
			"rev":         rev,
		}).WithError(err).Warning("peer refused revision")
		ev.Err, err = err, nil
		return
	}
	if !f.IsDelta() && !f.Deleted {
		s.stats.FullBodiesReceived.Inc()
	}

	stored := types.Revision{
		ID:       f.Rev,
		Deleted:  f.Deleted,
		Body:     body,
		Channels: types.NormalizeChannels(f.Channels),
	}
	if len(f.History) > 0 {
		stored.Parent = f.History[0]
	}
	if !stored.Deleted && stored.Body == nil {
		stored.Body = types.Body{}
	}
	res, err := s.cfg.Local.PutExistingRevision(docID, stored, f.History, true)
	if cause := errors.Cause(err); cause == revtree.ErrInvalidRevision || cause == docdb.ErrInvalidDocID {
		ev.Err, err = err, nil
		return
	}
	if err != nil {
		return
	}
	ev.Deleted = stored.Deleted
	s.stats.DocsPulled.Inc()
	if !stored.Deleted {
		s.codec.Remember(docID, stored.ID, stored.Body)
	}
	log.WithFields(log.Fields{
		"replication": s.id,
		"doc":         docID,
		"rev":         rev,
		"outcome":     res.Outcome,
		"delta":       f.IsDelta(),
	}).Debug("pulled revision")
	return
}
