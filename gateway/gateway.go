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

// Package gateway hosts replicated databases and serves the sync protocol to replicators.
package gateway

import (
	"context"
	"regexp"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/CovenantSQL/docsync/auth"
	"github.com/CovenantSQL/docsync/rpc"
	"github.com/CovenantSQL/docsync/utils/log"
)

var dbNameRegexp = regexp.MustCompile(`^[a-z][a-z0-9_$()+-]*$`)

// Gateway hosts databases and implements rpc.Server.
type Gateway struct {
	opts Options

	mu  sync.RWMutex
	dbs map[string]*Database
}

// New returns an empty gateway.
func New(opts Options) *Gateway {
	if opts.LongPollTimeout <= 0 {
		opts.LongPollTimeout = DefaultLongPollTimeout
	}
	return &Gateway{
		opts: opts,
		dbs:  make(map[string]*Database),
	}
}

// CreateDatabase opens a new hosted database.
func (g *Gateway) CreateDatabase(cfg DatabaseConfig) (d *Database, err error) {
	if !dbNameRegexp.MatchString(cfg.Name) {
		return nil, errors.Wrapf(ErrInvalidDatabaseName, "%q", cfg.Name)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.dbs[cfg.Name]; ok {
		return nil, errors.Wrapf(ErrDatabaseExists, "%q", cfg.Name)
	}
	if d, err = openDatabase(cfg, g.opts); err != nil {
		return
	}
	g.dbs[cfg.Name] = d
	if g.opts.Publisher != nil {
		g.opts.Publisher.Add("gateway."+cfg.Name, d.stats.Snapshot)
	}
	log.WithFields(log.Fields{
		"db":         cfg.Name,
		"path":       cfg.Path,
		"delta_sync": cfg.DeltaSync,
	}).Info("database created")
	return
}

// Database returns a hosted database.
func (g *Gateway) Database(name string) (d *Database, err error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.dbs[name]
	if !ok {
		return nil, errors.Wrapf(ErrDatabaseNotFound, "%q", name)
	}
	return
}

// DeleteDatabase closes and removes a hosted database, its files are kept.
func (g *Gateway) DeleteDatabase(name string) (err error) {
	g.mu.Lock()
	d, ok := g.dbs[name]
	delete(g.dbs, name)
	g.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrDatabaseNotFound, "%q", name)
	}
	if g.opts.Publisher != nil {
		g.opts.Publisher.Remove("gateway." + name)
	}
	return d.close()
}

// DatabaseNames returns the sorted names of hosted databases.
func (g *Gateway) DatabaseNames() (names []string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for name := range g.dbs {
		names = append(names, name)
	}
	sort.Strings(names)
	return
}

// Open implements rpc.Server, authenticating a replicator connection.
func (g *Gateway) Open(ctx context.Context, db string, creds auth.Credentials) (h rpc.Handler, err error) {
	d, err := g.Database(db)
	if err != nil {
		return nil, wireError(err)
	}
	if !d.Online() {
		return nil, wireError(errors.Wrapf(ErrOffline, "%q", db))
	}
	p, err := d.auth.Authenticate(creds)
	if err != nil {
		d.stats.AuthFailedCount.Inc()
		log.WithFields(log.Fields{
			"db":   db,
			"user": creds.Username,
		}).WithError(err).Warning("authentication failed")
		return nil, rpc.NewError(rpc.CodeUnauthorized, "login required")
	}
	return newSession(g, d, p), nil
}

// Close closes every hosted database.
func (g *Gateway) Close() (err error) {
	g.mu.Lock()
	dbs := g.dbs
	g.dbs = make(map[string]*Database)
	g.mu.Unlock()
	for name, d := range dbs {
		if cerr := d.close(); cerr != nil {
			log.WithField("db", name).WithError(cerr).Error("close database failed")
			err = cerr
		}
	}
	return
}

// Describe implements prometheus.Collector. Databases come and go, so the gateway
// is an unchecked collector.
func (g *Gateway) Describe(ch chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (g *Gateway) Collect(ch chan<- prometheus.Metric) {
	g.mu.RLock()
	dbs := make([]*Database, 0, len(g.dbs))
	for _, d := range g.dbs {
		dbs = append(dbs, d)
	}
	g.mu.RUnlock()
	for _, d := range dbs {
		d.collector.Collect(ch)
	}
}
