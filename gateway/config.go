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
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/CovenantSQL/docsync/delta"
	"github.com/CovenantSQL/docsync/metric"
)

const (
	// DefaultLongPollTimeout bounds a long-poll changes request without timeout.
	DefaultLongPollTimeout = 30 * time.Second
	// DefaultChangesLimit bounds a changes batch without limit.
	DefaultChangesLimit = 200
)

// DatabaseConfig defines a hosted database.
type DatabaseConfig struct {
	Name string `json:"name"`
	// Path of the document sqlite file, empty keeps the database in memory.
	Path      string `json:"path,omitempty"`
	RevsLimit int    `json:"revs_limit,omitempty"`

	DeltaSync bool `json:"delta_sync"`
	// DeltaResidency is the time a revision stays usable as delta source.
	DeltaResidency time.Duration `json:"delta_residency,omitempty"`
	RevCacheSize   int           `json:"rev_cache_size,omitempty"`

	GuestEnabled  bool     `json:"guest_enabled,omitempty"`
	GuestChannels []string `json:"guest_channels,omitempty"`
}

func (c *DatabaseConfig) setDefaults() {
	if c.DeltaResidency <= 0 {
		c.DeltaResidency = delta.DefaultResidency
	}
	if c.RevCacheSize <= 0 {
		c.RevCacheSize = delta.DefaultCacheSize
	}
}

// Options configures a gateway.
type Options struct {
	Clock           clockwork.Clock
	SessionTTL      time.Duration
	BcryptCost      int
	LongPollTimeout time.Duration
	// Publisher receives the stats of every database when set.
	Publisher *metric.ExpvarPublisher
}
