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
	"sync"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/docsync/auth"
	"github.com/CovenantSQL/docsync/checkpoint"
	"github.com/CovenantSQL/docsync/delta"
	"github.com/CovenantSQL/docsync/docdb"
	"github.com/CovenantSQL/docsync/metric"
	"github.com/CovenantSQL/docsync/types"
	"github.com/CovenantSQL/docsync/utils/log"
)

// Info summarizes a database.
type Info struct {
	Name      string `json:"db_name"`
	UUID      string `json:"uuid"`
	DocCount  int    `json:"doc_count"`
	UpdateSeq uint64 `json:"update_seq"`
	State     string `json:"state"`
	DeltaSync bool   `json:"delta_sync"`
}

// Database is a database hosted by a gateway.
type Database struct {
	name        string
	docs        *docdb.Database
	auth        *auth.Registry
	checkpoints checkpoint.Store
	codec       *delta.Codec
	stats       *metric.GatewayStats
	collector   *metric.StatsCollector

	mu        sync.RWMutex
	deltaSync bool
	offline   bool
	offlineCh chan struct{}
}

func openDatabase(cfg DatabaseConfig, opts Options) (d *Database, err error) {
	cfg.setDefaults()
	d = &Database{
		name:      cfg.Name,
		auth:      auth.NewRegistry(auth.Options{Clock: opts.Clock, SessionTTL: opts.SessionTTL, BcryptCost: opts.BcryptCost}),
		stats:     &metric.GatewayStats{},
		deltaSync: cfg.DeltaSync,
		offlineCh: make(chan struct{}),
	}
	d.collector = metric.NewGatewayCollector(cfg.Name, d.stats)
	if d.codec, err = delta.NewCodec(cfg.RevCacheSize, cfg.DeltaResidency, opts.Clock); err != nil {
		return nil, err
	}
	if d.docs, err = docdb.Open(docdb.Config{Name: cfg.Name, Path: cfg.Path, RevsLimit: cfg.RevsLimit}); err != nil {
		return nil, errors.Wrapf(err, "open database %q", cfg.Name)
	}
	if cfg.Path == "" {
		d.checkpoints = checkpoint.NewMemStore()
	} else if d.checkpoints, err = checkpoint.NewLevelDBStore(cfg.Path + ".checkpoints"); err != nil {
		_ = d.docs.Close()
		return nil, errors.Wrapf(err, "open checkpoints of %q", cfg.Name)
	}
	d.auth.SetGuest(cfg.GuestEnabled, cfg.GuestChannels)
	return
}

// Name returns the database name.
func (d *Database) Name() string {
	return d.name
}

// Docs returns the underlying document store.
func (d *Database) Docs() *docdb.Database {
	return d.docs
}

// Auth returns the principals of the database.
func (d *Database) Auth() *auth.Registry {
	return d.auth
}

// Stats returns the database counters.
func (d *Database) Stats() *metric.GatewayStats {
	return d.stats
}

// Codec returns the delta revision cache.
func (d *Database) Codec() *delta.Codec {
	return d.codec
}

// Info returns a summary of the database.
func (d *Database) Info() Info {
	state := "Online"
	if !d.Online() {
		state = "Offline"
	}
	return Info{
		Name:      d.name,
		UUID:      d.docs.UUID(),
		DocCount:  d.docs.Count(),
		UpdateSeq: d.docs.LastSequence(),
		State:     state,
		DeltaSync: d.DeltaSync(),
	}
}

// DeltaSync reports whether deltas are served and accepted.
func (d *Database) DeltaSync() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.deltaSync
}

// SetDeltaSync enables or disables delta sync for new connections.
func (d *Database) SetDeltaSync(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deltaSync = enabled
}

// Online reports whether the database serves requests.
func (d *Database) Online() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return !d.offline
}

// SetOffline takes the database offline or back online. Going offline ends pending
// long-poll feeds, and every request is refused until the database is back online.
func (d *Database) SetOffline(offline bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.offline == offline {
		return
	}
	d.offline = offline
	if offline {
		close(d.offlineCh)
	} else {
		d.offlineCh = make(chan struct{})
	}
	log.WithFields(log.Fields{"db": d.name, "offline": offline}).Info("database state changed")
}

// offlineNotify returns a channel closed when the database goes offline.
func (d *Database) offlineNotify() (ch <-chan struct{}, offline bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.offlineCh, d.offline
}

// PutDocument creates or updates a document on top of its current revision.
func (d *Database) PutDocument(docID string, body types.Body) (doc *types.Document, err error) {
	if docID == "" {
		doc, err = d.docs.CreateDocument("", body)
	} else {
		doc, err = d.docs.UpdateDocument(docID, body)
	}
	d.remember(doc)
	return
}

// UpdateDocumentRev updates a document on top of rev.
func (d *Database) UpdateDocumentRev(docID string, rev types.RevID, body types.Body) (doc *types.Document, err error) {
	doc, err = d.docs.UpdateDocumentRev(docID, rev, body)
	d.remember(doc)
	return
}

// DeleteDocument tombstones a document.
func (d *Database) DeleteDocument(docID string) (doc *types.Document, err error) {
	if doc, err = d.docs.DeleteDocument(docID); err == nil {
		d.codec.Forget(docID)
	}
	return
}

// PurgeDocument removes a document without a tombstone.
func (d *Database) PurgeDocument(docID string) (err error) {
	if err = d.docs.PurgeDocument(docID); err == nil {
		d.codec.Forget(docID)
	}
	return
}

// GetDocument returns a live document.
func (d *Database) GetDocument(docID string) (*types.Document, error) {
	return d.docs.GetDocument(docID)
}

func (d *Database) remember(doc *types.Document) {
	if doc != nil && !doc.Deleted {
		d.codec.Remember(doc.ID, doc.Rev, doc.Body)
	}
}

func (d *Database) close() (err error) {
	d.SetOffline(true)
	if cerr := d.checkpoints.Close(); cerr != nil {
		err = cerr
	}
	if cerr := d.docs.Close(); cerr != nil {
		err = cerr
	}
	return
}
