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
	"github.com/pkg/errors"

	"github.com/CovenantSQL/docsync/docdb"
	"github.com/CovenantSQL/docsync/revtree"
	"github.com/CovenantSQL/docsync/rpc"
	"github.com/CovenantSQL/docsync/types"
	"github.com/CovenantSQL/docsync/utils/log"
)

// push sends local changes after the checkpoint until caught up, then waits for new
// local changes when continuous.
func (r *run) push() error {
	s := r.s
	for {
		if r.stopped() {
			return errStopped
		}
		since := r.cur.local()
		changes, last, more := s.cfg.Local.ChangesPage(since, s.cfg.BatchSize)
		if batch := s.filterDocIDs(changes); len(batch) > 0 {
			s.setBusy(Push, true)
			if err := r.pushBatch(batch); err != nil {
				return err
			}
		}
		if last > since {
			if err := r.save(func(cp *types.Checkpoint) { cp.Local = last }); err != nil {
				return err
			}
		}
		if more {
			continue
		}

		s.setBusy(Push, false)
		if !s.cfg.Continuous {
			return nil
		}
		ctx, cancel := r.waitContext()
		_, err := s.cfg.Local.WaitForChange(ctx, last)
		cancel()
		if r.stopped() {
			return errStopped
		}
		if err != nil {
			return err
		}
	}
}

func (r *run) pushBatch(changes []docdb.Change) (err error) {
	s := r.s
	req := rpc.RevsDiffRequest{Revs: make(map[string][]types.RevID, len(changes))}
	for _, c := range changes {
		req.Revs[c.DocID] = []types.RevID{c.Rev}
	}
	diff := &rpc.RevsDiffResponse{}
	if err = r.conn.Call(r.ctx, rpc.MethodRevsDiff, req, diff); err != nil {
		return
	}
	total := 0
	for _, e := range diff.Results {
		total += len(e.Missing)
	}
	s.addProgress(total, 0)

	var events []DocumentEvent
	for _, c := range changes {
		entry, ok := diff.Results[c.DocID]
		if !ok {
			continue
		}
		for _, rev := range entry.Missing {
			var ev DocumentEvent
			if ev, err = r.pushRevision(c.DocID, rev, entry.PossibleAncestors); err != nil {
				return
			}
			events = append(events, ev)
			s.addProgress(0, 1)
		}
	}
	if len(events) > 0 {
		s.emit(Event{Kind: DocumentsReplicated, State: Busy, Documents: events})
	}
	return
}

// rejected reports whether the peer refused a single document, the batch goes on.
func rejected(err error) bool {
	switch rpc.Code(err) {
	case rpc.CodeBadRequest, rpc.CodeForbidden, rpc.CodeNotFound, rpc.CodeConflict, rpc.CodeUnprocessable:
		return true
	}
	return false
}

// pushRevision sends one revision, as a delta against a body the peer holds when
// possible. A delta the peer cannot apply is resent as a full body.
func (r *run) pushRevision(docID string, rev types.RevID, possible []types.RevID) (ev DocumentEvent, err error) {
	s := r.s
	ev = DocumentEvent{DocID: docID, Rev: rev, Direction: Push}
	n, err := s.cfg.Local.GetRevision(docID, rev)
	if errors.Cause(err) == revtree.ErrNotFound {
		// purged since the changes were read
		ev.Err, err = err, nil
		return
	}
	if err != nil {
		return
	}
	history, err := s.cfg.Local.History(docID, rev)
	if err != nil {
		return
	}
	ev.Deleted = n.Deleted

	frame := rpc.RevFrame{
		DocID:    docID,
		Rev:      rev,
		History:  history,
		Deleted:  n.Deleted,
		Channels: n.Channels,
	}
	if !n.Deleted {
		frame.Body = n.Body
		if r.deltaSync {
			for _, base := range possible {
				if d, derr := s.codec.EncodeFrom(docID, base, n.Body); derr == nil {
					frame.Delta, frame.Body = d, nil
					break
				}
			}
		}
	}

	resp := &rpc.PutRevResponse{}
	err = r.conn.Call(r.ctx, rpc.MethodPutRev, frame, resp)
	if err != nil && frame.IsDelta() && rpc.Code(err) == rpc.CodeUnprocessable {
		s.stats.DeltaFallbacks.Inc()
		log.WithFields(log.Fields{
			"replication": s.id,
			"doc":         docID,
			"rev":         rev,
		}).WithError(err).Debug("peer rejected delta, sending full body")
		frame.Delta, frame.Body = nil, n.Body
		err = r.conn.Call(r.ctx, rpc.MethodPutRev, frame, resp)
	}
	if err != nil {
		if !rejected(err) {
			return
		}
		log.WithFields(log.Fields{
			"replication": s.id,
			"doc":         docID,
			"rev":         rev,
		}).WithError(err).Warning("peer rejected revision")
		ev.Err, err = err, nil
		return
	}

	s.stats.DocsPushed.Inc()
	switch {
	case frame.IsDelta():
		s.stats.DeltasSent.Inc()
		s.stats.DeltaBytesSent.Add(uint64(frame.Size()))
	case !frame.Deleted:
		s.stats.FullBodiesSent.Inc()
		s.stats.FullBodyBytesSent.Add(uint64(frame.Size()))
	}
	if !n.Deleted {
		s.codec.Remember(docID, rev, n.Body)
	}
	log.WithFields(log.Fields{
		"replication": s.id,
		"doc":         docID,
		"rev":         rev,
		"outcome":     resp.Outcome,
		"delta":       frame.IsDelta(),
	}).Debug("pushed revision")
	return
}
