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

// Package revtree tracks per-document revision trees and resolves conflicts.
//
// Revisions of a document live in an arena keyed by revision id, a node refers
// to its parent by id only. Trees are pruned to a configurable depth.
package revtree

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/docsync/types"
	"github.com/CovenantSQL/docsync/utils/log"
)

// DefaultRevsLimit is the default revision history depth.
const DefaultRevsLimit = 20

// Node is a revision tree entry, stub nodes are known by id only.
type Node struct {
	types.Revision
	Stub bool
}

type history struct {
	sync.RWMutex
	nodes   map[types.RevID]*Node
	current types.RevID
	purged  bool
}

// Tracker holds revision trees of a database.
type Tracker struct {
	sync.RWMutex
	docs      map[string]*history
	revsLimit int
}

// NewTracker returns an empty tracker pruning trees to revsLimit generations.
func NewTracker(revsLimit int) *Tracker {
	if revsLimit <= 0 {
		revsLimit = DefaultRevsLimit
	}
	return &Tracker{
		docs:      make(map[string]*history),
		revsLimit: revsLimit,
	}
}

// RevsLimit returns the configured depth limit.
func (t *Tracker) RevsLimit() int {
	return t.revsLimit
}

func (t *Tracker) get(docID string) *history {
	t.RLock()
	defer t.RUnlock()
	return t.docs[docID]
}

// lockHistory returns the write locked history of docID, creating it when missing.
func (t *Tracker) lockHistory(docID string) (h *history) {
	for {
		t.Lock()
		if h = t.docs[docID]; h == nil {
			h = &history{nodes: make(map[types.RevID]*Node)}
			t.docs[docID] = h
		}
		t.Unlock()
		h.Lock()
		if !h.purged {
			return
		}
		h.Unlock()
	}
}

// release unlocks h and drops it from the tracker when it holds nothing.
func (t *Tracker) release(docID string, h *history) {
	if len(h.nodes) == 0 {
		t.Lock()
		if t.docs[docID] == h {
			delete(t.docs, docID)
		}
		t.Unlock()
		h.purged = true
	}
	h.Unlock()
}

// AddRevision inserts a locally created revision whose parent must be a tip.
func (t *Tracker) AddRevision(docID string, rev types.Revision) (r Result, err error) {
	if err = validate(rev); err != nil {
		return
	}
	if rev.Parent != "" && rev.ID.Generation() != rev.Parent.Generation()+1 {
		err = errors.Wrapf(ErrInvalidRevision, "generation of %s does not follow %s", rev.ID, rev.Parent)
		return
	}

	h := t.lockHistory(docID)
	defer t.release(docID, h)

	r.Previous = h.current
	if n, ok := h.nodes[rev.ID]; ok && !n.Stub {
		r.Outcome = Exists
		r.Current, r.Tips = h.current, h.tipIDs()
		return
	}

	if rev.Parent == "" {
		if len(h.nodes) > 0 {
			r.Outcome = Conflict
		}
	} else if p, ok := h.nodes[rev.Parent]; !ok || !h.isTip(p.ID) {
		r.Outcome = Stale
		r.Current, r.Tips = h.current, h.tipIDs()
		return
	} else if rev.Parent != h.current {
		r.Outcome = Conflict
	}

	h.put(rev, false)
	h.resolve()
	h.prune(t.revsLimit)
	r.Current, r.Tips = h.current, h.tipIDs()

	log.WithFields(log.Fields{
		"doc":     docID,
		"rev":     rev.ID,
		"outcome": r.Outcome,
		"current": r.Current,
	}).Debug("add revision")
	return
}

// AddRevisionWithHistory inserts a replicated revision with its ancestors, newest first.
// Unknown ancestors are inserted as stubs, a chain sharing no ancestor is grafted as a new branch.
func (t *Tracker) AddRevisionWithHistory(docID string, rev types.Revision, ancestors []types.RevID) (r Result, err error) {
	if err = validate(rev); err != nil {
		return
	}
	if len(ancestors) == 0 && rev.Parent != "" {
		ancestors = []types.RevID{rev.Parent}
	}
	if len(ancestors) > 0 {
		if rev.Parent == "" {
			rev.Parent = ancestors[0]
		} else if ancestors[0] != rev.Parent {
			err = errors.Wrapf(ErrInvalidRevision, "history of %s does not start with parent %s", rev.ID, rev.Parent)
			return
		}
	}
	expect := rev.ID.Generation()
	for _, a := range ancestors {
		expect--
		if a.Generation() != expect {
			err = errors.Wrapf(ErrInvalidRevision, "history of %s is not contiguous at %s", rev.ID, a)
			return
		}
	}

	h := t.lockHistory(docID)
	defer t.release(docID, h)

	r.Previous = h.current
	if n, ok := h.nodes[rev.ID]; ok {
		if n.Stub {
			n.Revision = cloneRevision(rev)
			n.Stub = false
		}
		r.Outcome = Exists
		r.Current, r.Tips = h.current, h.tipIDs()
		return
	}

	// find the newest known ancestor
	known := len(ancestors)
	for i, a := range ancestors {
		if _, ok := h.nodes[a]; ok {
			known = i
			break
		}
	}
	hadNodes := len(h.nodes) > 0
	for i := known - 1; i >= 0; i-- {
		parent := types.RevID("")
		if i+1 < len(ancestors) {
			parent = ancestors[i+1]
		}
		h.put(types.Revision{ID: ancestors[i], Parent: parent}, true)
	}
	h.put(rev, false)

	switch {
	case !hadNodes:
		r.Outcome = Accepted
	case known == len(ancestors):
		// no common ancestor, grafted as an independent branch
		r.Outcome = Conflict
	case rev.Parent == h.current:
		r.Outcome = Accepted
	default:
		r.Outcome = Conflict
	}

	h.resolve()
	h.prune(t.revsLimit)
	r.Current, r.Tips = h.current, h.tipIDs()

	log.WithFields(log.Fields{
		"doc":     docID,
		"rev":     rev.ID,
		"outcome": r.Outcome,
		"current": r.Current,
	}).Debug("add replicated revision")
	return
}

// Tombstone creates a deletion revision as child of parent, which must be a tip.
func (t *Tracker) Tombstone(docID string, parent types.RevID) (rev types.Revision, r Result, err error) {
	n, err := t.GetRevision(docID, parent)
	if err != nil && errors.Cause(err) != ErrBodyMissing {
		return
	}
	rev = types.Revision{
		ID:       types.NextRevID(parent, true, nil),
		Parent:   parent,
		Deleted:  true,
		Channels: n.Channels,
	}
	if r, err = t.AddRevision(docID, rev); err != nil {
		return
	}
	if r.Outcome == Stale {
		err = errors.Wrapf(ErrStale, "tombstone %s of %s", parent, docID)
	}
	return
}

// ResolveConflict returns the winning tip of a document.
func (t *Tracker) ResolveConflict(docID string) (w types.Revision, err error) {
	h := t.get(docID)
	if h == nil {
		err = ErrNotFound
		return
	}
	h.RLock()
	defer h.RUnlock()
	tips := h.tips()
	var ok bool
	if w, ok = Winner(tips); !ok {
		err = ErrNotFound
	}
	return
}

// CurrentRevision returns a copy of the current revision.
func (t *Tracker) CurrentRevision(docID string) (rev types.Revision, err error) {
	h := t.get(docID)
	if h == nil {
		err = ErrNotFound
		return
	}
	h.RLock()
	defer h.RUnlock()
	n, ok := h.nodes[h.current]
	if !ok {
		err = ErrNotFound
		return
	}
	rev = cloneRevision(n.Revision)
	return
}

// GetRevision returns a copy of a revision node, stubs come back with ErrBodyMissing.
func (t *Tracker) GetRevision(docID string, id types.RevID) (n Node, err error) {
	h := t.get(docID)
	if h == nil {
		err = ErrNotFound
		return
	}
	h.RLock()
	defer h.RUnlock()
	p, ok := h.nodes[id]
	if !ok {
		err = ErrNotFound
		return
	}
	n = Node{Revision: cloneRevision(p.Revision), Stub: p.Stub}
	if n.Stub {
		err = ErrBodyMissing
	}
	return
}

// Known reports whether the revision is in the document history.
func (t *Tracker) Known(docID string, id types.RevID) bool {
	h := t.get(docID)
	if h == nil {
		return false
	}
	h.RLock()
	defer h.RUnlock()
	_, ok := h.nodes[id]
	return ok
}

// Tips returns the leaf revisions of a document, winner first.
func (t *Tracker) Tips(docID string) (tips []types.Revision) {
	h := t.get(docID)
	if h == nil {
		return
	}
	h.RLock()
	defer h.RUnlock()
	return h.tips()
}

// History returns the known ancestors of a revision, newest first.
func (t *Tracker) History(docID string, id types.RevID) (ancestors []types.RevID, err error) {
	h := t.get(docID)
	if h == nil {
		err = ErrNotFound
		return
	}
	h.RLock()
	defer h.RUnlock()
	n, ok := h.nodes[id]
	if !ok {
		err = ErrNotFound
		return
	}
	for n.Parent != "" {
		ancestors = append(ancestors, n.Parent)
		if n, ok = h.nodes[n.Parent]; !ok {
			break
		}
	}
	return
}

// Purge forgets every revision of a document.
func (t *Tracker) Purge(docID string) (existed bool) {
	t.Lock()
	h := t.docs[docID]
	delete(t.docs, docID)
	t.Unlock()
	if h == nil {
		return
	}
	h.Lock()
	existed = len(h.nodes) > 0
	h.nodes = make(map[types.RevID]*Node)
	h.current = ""
	h.purged = true
	h.Unlock()
	return
}

// DocIDs returns the sorted ids of tracked documents.
func (t *Tracker) DocIDs() (ids []string) {
	t.RLock()
	defer t.RUnlock()
	ids = make([]string, 0, len(t.docs))
	for id := range t.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return
}

// Export returns a copy of a document tree ordered by generation.
func (t *Tracker) Export(docID string) (nodes []Node) {
	h := t.get(docID)
	if h == nil {
		return
	}
	h.RLock()
	defer h.RUnlock()
	nodes = make([]Node, 0, len(h.nodes))
	for _, n := range h.nodes {
		nodes = append(nodes, Node{Revision: cloneRevision(n.Revision), Stub: n.Stub})
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].ID.Less(nodes[j].ID)
	})
	return
}

// Import replaces a document tree with exported nodes.
func (t *Tracker) Import(docID string, nodes []Node) {
	h := t.lockHistory(docID)
	defer t.release(docID, h)
	h.nodes = make(map[types.RevID]*Node, len(nodes))
	for _, n := range nodes {
		h.put(n.Revision, n.Stub)
	}
	h.resolve()
}

func validate(rev types.Revision) error {
	if !rev.ID.Valid() {
		return errors.Wrapf(ErrInvalidRevision, "revision id %q", rev.ID)
	}
	if rev.Parent != "" && !rev.Parent.Valid() {
		return errors.Wrapf(ErrInvalidRevision, "parent id %q", rev.Parent)
	}
	return nil
}

func cloneRevision(rev types.Revision) types.Revision {
	rev.Body = rev.Body.Clone()
	rev.Channels = append([]string(nil), rev.Channels...)
	if len(rev.Channels) == 0 {
		rev.Channels = nil
	}
	return rev
}

func (h *history) put(rev types.Revision, stub bool) {
	rev = cloneRevision(rev)
	if rev.Deleted {
		rev.Body = nil
	}
	h.nodes[rev.ID] = &Node{Revision: rev, Stub: stub}
}

// isTip reports whether no node names id as parent.
func (h *history) isTip(id types.RevID) bool {
	for _, n := range h.nodes {
		if n.Parent == id {
			return false
		}
	}
	return true
}

func (h *history) tips() (tips []types.Revision) {
	parents := make(map[types.RevID]struct{}, len(h.nodes))
	for _, n := range h.nodes {
		if n.Parent != "" {
			parents[n.Parent] = struct{}{}
		}
	}
	for id, n := range h.nodes {
		if _, ok := parents[id]; !ok && !n.Stub {
			tips = append(tips, cloneRevision(n.Revision))
		}
	}
	sortTips(tips)
	return
}

func (h *history) tipIDs() (ids []types.RevID) {
	for _, tip := range h.tips() {
		ids = append(ids, tip.ID)
	}
	return
}

func (h *history) resolve() {
	if w, ok := Winner(h.tips()); ok {
		h.current = w.ID
	} else {
		h.current = ""
	}
}

// prune keeps revsLimit generations below each live branch and drops branches
// whose tip falls more than revsLimit generations behind the current revision.
func (h *history) prune(revsLimit int) {
	cur, ok := h.nodes[h.current]
	if !ok {
		return
	}
	floor := cur.ID.Generation() - revsLimit
	keep := make(map[types.RevID]struct{}, len(h.nodes))
	for _, tip := range h.tips() {
		if tip.ID != h.current && tip.ID.Generation() <= floor {
			continue
		}
		id := tip.ID
		for depth := 0; id != "" && depth < revsLimit; depth++ {
			n, ok := h.nodes[id]
			if !ok {
				break
			}
			keep[id] = struct{}{}
			id = n.Parent
		}
	}
	if len(keep) == len(h.nodes) {
		return
	}
	for id := range h.nodes {
		if _, ok := keep[id]; !ok {
			delete(h.nodes, id)
		}
	}
}
