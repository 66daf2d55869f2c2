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

// Package docdb implements the local document database replicated by docsync sessions.
package docdb

import (
	"context"
	"sort"
	"sync"

	"github.com/im7mortal/kmutex"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"

	"github.com/CovenantSQL/docsync/revtree"
	"github.com/CovenantSQL/docsync/types"
	"github.com/CovenantSQL/docsync/utils/log"
)

// Config defines a local database.
type Config struct {
	// Name is used in logs and by the gateway routes.
	Name string
	// Path of the sqlite file, empty keeps the database in memory.
	Path string
	// RevsLimit bounds the revision history depth.
	RevsLimit int
}

// Change is an entry of the changes feed.
type Change struct {
	Seq      uint64
	DocID    string
	Rev      types.RevID
	Deleted  bool
	Channels []string
}

type seqEntry struct {
	seq   uint64
	docID string
}

// Database is a local document store with a sequence ordered changes feed.
type Database struct {
	name    string
	uuid    string
	tracker *revtree.Tracker
	locks   *kmutex.Kmutex
	persist *persister

	// guarded by mu
	mu     sync.RWMutex
	seq    uint64
	log    []seqEntry
	docSeq map[string]uint64
	pulled map[string]struct{}
	notify chan struct{}
	closed bool
}

// Open opens or creates a database.
func Open(cfg Config) (db *Database, err error) {
	db = &Database{
		name:    cfg.Name,
		tracker: revtree.NewTracker(cfg.RevsLimit),
		locks:   kmutex.New(),
		docSeq:  make(map[string]uint64),
		pulled:  make(map[string]struct{}),
		notify:  make(chan struct{}),
	}
	if cfg.Path == "" {
		db.uuid = uuid.Must(uuid.NewV4()).String()
		return
	}
	if db.persist, err = openPersister(cfg.Path); err != nil {
		db = nil
		return
	}
	if err = db.load(); err != nil {
		_ = db.persist.close()
		db = nil
	}
	return
}

func (db *Database) load() (err error) {
	if db.uuid, err = db.persist.loadUUID(); err != nil {
		return
	}
	if db.uuid == "" {
		db.uuid = uuid.Must(uuid.NewV4()).String()
		if err = db.persist.saveUUID(db.uuid); err != nil {
			return
		}
	}
	if db.seq, err = db.persist.loadSeq(); err != nil {
		return
	}
	docs, err := db.persist.loadDocs()
	if err != nil {
		return
	}
	for _, d := range docs {
		db.tracker.Import(d.id, d.nodes)
		db.docSeq[d.id] = d.rec.Seq
		db.log = append(db.log, seqEntry{seq: d.rec.Seq, docID: d.id})
		if d.rec.Pulled {
			db.pulled[d.id] = struct{}{}
		}
		if d.rec.Seq > db.seq {
			db.seq = d.rec.Seq
		}
	}
	log.WithFields(log.Fields{
		"db":   db.name,
		"docs": len(docs),
		"seq":  db.seq,
	}).Info("database loaded")
	return
}

// Name returns the database name.
func (db *Database) Name() string {
	return db.name
}

// UUID returns the stable identity of the database.
func (db *Database) UUID() string {
	return db.uuid
}

// RevsLimit returns the revision history depth.
func (db *Database) RevsLimit() int {
	return db.tracker.RevsLimit()
}

// CreateDocument stores a new document, an empty id is replaced by a generated one.
// A deleted document can be recreated.
func (db *Database) CreateDocument(docID string, body types.Body) (doc *types.Document, err error) {
	if docID == "" {
		docID = uuid.Must(uuid.NewV4()).String()
	}
	db.locks.Lock(docID)
	defer db.locks.Unlock(docID)

	parent := types.RevID("")
	if cur, err := db.tracker.CurrentRevision(docID); err == nil {
		if !cur.Deleted {
			return nil, errors.Wrapf(ErrExists, "create %s", docID)
		}
		parent = cur.ID
	}
	return db.putLocal(docID, parent, false, body)
}

// UpdateDocument writes a new revision on top of the current one, creating the document when missing.
func (db *Database) UpdateDocument(docID string, body types.Body) (doc *types.Document, err error) {
	if docID == "" {
		return nil, ErrInvalidDocID
	}
	db.locks.Lock(docID)
	defer db.locks.Unlock(docID)

	parent := types.RevID("")
	if cur, err := db.tracker.CurrentRevision(docID); err == nil {
		parent = cur.ID
	}
	return db.putLocal(docID, parent, false, body)
}

// UpdateDocumentRev writes a new revision on top of parent, which must be a tip.
func (db *Database) UpdateDocumentRev(docID string, parent types.RevID, body types.Body) (doc *types.Document, err error) {
	if docID == "" {
		return nil, ErrInvalidDocID
	}
	db.locks.Lock(docID)
	defer db.locks.Unlock(docID)
	return db.putLocal(docID, parent, false, body)
}

// DeleteDocument tombstones the current revision.
func (db *Database) DeleteDocument(docID string) (doc *types.Document, err error) {
	db.locks.Lock(docID)
	defer db.locks.Unlock(docID)

	cur, err := db.tracker.CurrentRevision(docID)
	if err != nil || cur.Deleted {
		return nil, errors.Wrapf(ErrNotFound, "delete %s", docID)
	}
	return db.putLocal(docID, cur.ID, true, nil)
}

func (db *Database) putLocal(docID string, parent types.RevID, deleted bool, body types.Body) (doc *types.Document, err error) {
	if err = db.checkOpen(); err != nil {
		return
	}
	rev := types.Revision{
		ID:      types.NextRevID(parent, deleted, body),
		Parent:  parent,
		Deleted: deleted,
	}
	if deleted {
		if prev, perr := db.tracker.GetRevision(docID, parent); perr == nil {
			rev.Channels = prev.Channels
		}
	} else {
		rev.Body = body.Clone()
		if rev.Body == nil {
			rev.Body = types.Body{}
		}
		rev.Channels = rev.Body.Channels()
	}

	res, err := db.tracker.AddRevision(docID, rev)
	if err != nil {
		return
	}
	switch res.Outcome {
	case revtree.Stale:
		err = errors.Wrapf(ErrConflict, "update %s from %s", docID, parent)
		return
	case revtree.Exists:
		return db.document(docID)
	}

	if err = db.commit(docID, originLocal); err != nil {
		return
	}
	log.WithFields(log.Fields{
		"db":      db.name,
		"doc":     docID,
		"rev":     rev.ID,
		"deleted": deleted,
	}).Debug("local write")
	return db.document(docID)
}

type origin int

const (
	originLocal origin = iota
	originPulled
	// originKeep leaves the pulled mark untouched
	originKeep
)

// commit assigns the next sequence to a document and persists it, callers hold the document lock.
func (db *Database) commit(docID string, o origin) (err error) {
	db.mu.Lock()
	db.seq++
	seq := db.seq
	db.docSeq[docID] = seq
	db.log = append(db.log, seqEntry{seq: seq, docID: docID})
	switch o {
	case originPulled:
		db.pulled[docID] = struct{}{}
	case originLocal:
		delete(db.pulled, docID)
	}
	_, pulled := db.pulled[docID]
	notify := db.notify
	db.notify = make(chan struct{})
	db.compactLocked()
	db.mu.Unlock()

	if db.persist != nil {
		if err = db.persist.saveDoc(docID, db.tracker.Export(docID), seq, pulled); err != nil {
			err = errors.Wrapf(err, "persist %s failed", docID)
		}
	}
	close(notify)
	return
}

// compactLocked drops superseded feed entries once they dominate the log.
func (db *Database) compactLocked() {
	if len(db.log) < 64 || len(db.log) < 2*len(db.docSeq) {
		return
	}
	live := db.log[:0]
	for _, e := range db.log {
		if db.docSeq[e.docID] == e.seq {
			live = append(live, e)
		}
	}
	db.log = live
}

// GetDocument returns the current state of a live document.
func (db *Database) GetDocument(docID string) (doc *types.Document, err error) {
	if doc, err = db.document(docID); err != nil {
		return
	}
	if doc.Deleted {
		return nil, errors.Wrapf(ErrNotFound, "get %s", docID)
	}
	return
}

// document returns the current state, tombstones included.
func (db *Database) document(docID string) (doc *types.Document, err error) {
	cur, err := db.tracker.CurrentRevision(docID)
	if err != nil {
		return nil, errors.Wrapf(ErrNotFound, "get %s", docID)
	}
	db.mu.RLock()
	seq := db.docSeq[docID]
	db.mu.RUnlock()
	doc = &types.Document{
		ID:       docID,
		Rev:      cur.ID,
		Deleted:  cur.Deleted,
		Body:     cur.Body,
		Channels: cur.Channels,
		Sequence: seq,
	}
	return
}

// CurrentRevision returns the winning revision, tombstones included.
func (db *Database) CurrentRevision(docID string) (types.Revision, error) {
	return db.tracker.CurrentRevision(docID)
}

// Tips returns the leaf revisions of a document, winner first.
func (db *Database) Tips(docID string) []types.Revision {
	return db.tracker.Tips(docID)
}

// PurgeDocument removes a document and its history without creating a tombstone.
// Purges are never replicated.
func (db *Database) PurgeDocument(docID string) (err error) {
	if err = db.checkOpen(); err != nil {
		return
	}
	db.locks.Lock(docID)
	defer db.locks.Unlock(docID)

	if !db.tracker.Purge(docID) {
		return errors.Wrapf(ErrNotFound, "purge %s", docID)
	}
	db.mu.Lock()
	delete(db.docSeq, docID)
	delete(db.pulled, docID)
	db.compactLocked()
	db.mu.Unlock()

	if db.persist != nil {
		if err = db.persist.deleteDoc(docID); err != nil {
			err = errors.Wrapf(err, "purge %s failed", docID)
		}
	}
	log.WithFields(log.Fields{"db": db.name, "doc": docID}).Debug("purged document")
	return
}

// ListDocumentIDs returns the sorted ids of live documents.
func (db *Database) ListDocumentIDs() (ids []string) {
	for _, id := range db.tracker.DocIDs() {
		if cur, err := db.tracker.CurrentRevision(id); err == nil && !cur.Deleted {
			ids = append(ids, id)
		}
	}
	return
}

// Count returns the number of live documents.
func (db *Database) Count() int {
	return len(db.ListDocumentIDs())
}

// LastSequence returns the latest assigned sequence.
func (db *Database) LastSequence() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.seq
}

// Changes returns up to limit changes after since, each document once at its latest sequence.
// The returned last sequence is the cursor to resume from.
func (db *Database) Changes(since uint64, limit int) (changes []Change, last uint64) {
	changes, last, _ = db.ChangesPage(since, limit)
	return
}

// ChangesPage is Changes that also reports whether the page stopped at limit, in which
// case more changes may follow last even when fewer than limit were returned.
func (db *Database) ChangesPage(since uint64, limit int) (changes []Change, last uint64, more bool) {
	db.mu.RLock()
	idx := sort.Search(len(db.log), func(i int) bool {
		return db.log[i].seq > since
	})
	var entries []seqEntry
	for _, e := range db.log[idx:] {
		if db.docSeq[e.docID] != e.seq {
			continue
		}
		entries = append(entries, e)
		if limit > 0 && len(entries) >= limit {
			break
		}
	}
	last = db.seq
	db.mu.RUnlock()

	if limit > 0 && len(entries) >= limit {
		last = entries[len(entries)-1].seq
		more = true
	}
	for _, e := range entries {
		cur, err := db.tracker.CurrentRevision(e.docID)
		if err != nil {
			continue
		}
		changes = append(changes, Change{
			Seq:      e.seq,
			DocID:    e.docID,
			Rev:      cur.ID,
			Deleted:  cur.Deleted,
			Channels: cur.Channels,
		})
	}
	if last < since {
		last = since
	}
	return
}

// WaitForChange blocks until the last sequence passes since or ctx is done.
func (db *Database) WaitForChange(ctx context.Context, since uint64) (seq uint64, err error) {
	for {
		db.mu.RLock()
		seq, notify, closed := db.seq, db.notify, db.closed
		db.mu.RUnlock()
		if closed {
			return seq, ErrClosed
		}
		if seq > since {
			return seq, nil
		}
		select {
		case <-notify:
		case <-ctx.Done():
			return seq, ctx.Err()
		}
	}
}

// RevsDiff returns the revisions of a document unknown to this database, and for
// those the known tips that may be their ancestors.
func (db *Database) RevsDiff(docID string, revs []types.RevID) (missing, possible []types.RevID) {
	maxGen := 0
	for _, r := range revs {
		if !db.tracker.Known(docID, r) {
			missing = append(missing, r)
			if g := r.Generation(); g > maxGen {
				maxGen = g
			}
		}
	}
	if len(missing) == 0 {
		return
	}
	for _, tip := range db.tracker.Tips(docID) {
		if tip.ID.Generation() < maxGen {
			possible = append(possible, tip.ID)
		}
	}
	return
}

// PutExistingRevision stores a revision created elsewhere with its ancestors, newest first.
// fromRemote marks the document as pulled.
func (db *Database) PutExistingRevision(docID string, rev types.Revision, history []types.RevID, fromRemote bool) (res revtree.Result, err error) {
	if err = db.checkOpen(); err != nil {
		return
	}
	if docID == "" {
		err = ErrInvalidDocID
		return
	}
	db.locks.Lock(docID)
	defer db.locks.Unlock(docID)

	if !rev.Deleted && rev.Channels == nil {
		rev.Channels = rev.Body.Channels()
	}
	if res, err = db.tracker.AddRevisionWithHistory(docID, rev, history); err != nil {
		return
	}
	if res.Outcome == revtree.Exists {
		return
	}
	mark := originKeep
	if res.Current == rev.ID {
		mark = originLocal
		if fromRemote {
			mark = originPulled
		}
	}
	if err = db.commit(docID, mark); err != nil {
		return
	}
	log.WithFields(log.Fields{
		"db":      db.name,
		"doc":     docID,
		"rev":     rev.ID,
		"outcome": res.Outcome,
		"remote":  fromRemote,
	}).Debug("stored existing revision")
	return
}

// GetRevision returns a revision node of a document.
func (db *Database) GetRevision(docID string, rev types.RevID) (revtree.Node, error) {
	return db.tracker.GetRevision(docID, rev)
}

// HasRevision reports whether a revision is in a document history.
func (db *Database) HasRevision(docID string, rev types.RevID) bool {
	return db.tracker.Known(docID, rev)
}

// History returns the known ancestors of a revision, newest first.
func (db *Database) History(docID string, rev types.RevID) ([]types.RevID, error) {
	return db.tracker.History(docID, rev)
}

// PulledDocumentIDs returns the sorted ids of documents whose current revision was pulled.
func (db *Database) PulledDocumentIDs() (ids []string) {
	db.mu.RLock()
	for id := range db.pulled {
		ids = append(ids, id)
	}
	db.mu.RUnlock()
	sort.Strings(ids)
	return
}

// Close releases the database, pending waiters return ErrClosed.
func (db *Database) Close() (err error) {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return
	}
	db.closed = true
	close(db.notify)
	db.notify = make(chan struct{})
	db.mu.Unlock()
	if db.persist != nil {
		err = db.persist.close()
	}
	return
}

func (db *Database) checkOpen() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	return nil
}
