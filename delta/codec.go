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

package delta

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/docsync/types"
)

const (
	// DefaultCacheSize is the default number of resident revision bodies.
	DefaultCacheSize = 5000
	// DefaultResidency is the default time a revision body stays usable as delta base.
	DefaultResidency = 2 * time.Minute
)

type cacheKey struct {
	docID string
	rev   types.RevID
}

type cacheEntry struct {
	body     types.Body
	storedAt time.Time
}

// Codec keeps a window of recently seen revision bodies and encodes deltas against them.
type Codec struct {
	cache     *lru.Cache
	residency time.Duration
	clock     clockwork.Clock

	hits   uint64
	misses uint64
}

// NewCodec creates a codec holding up to size bodies for residency each.
func NewCodec(size int, residency time.Duration, clock clockwork.Clock) (c *Codec, err error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if residency <= 0 {
		residency = DefaultResidency
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	c = &Codec{
		residency: residency,
		clock:     clock,
	}
	if c.cache, err = lru.New(size); err != nil {
		err = errors.Wrap(err, "create revision cache failed")
		c = nil
	}
	return
}

// Remember stores a revision body, the residency window starts now.
func (c *Codec) Remember(docID string, rev types.RevID, body types.Body) {
	if body == nil {
		return
	}
	c.cache.Add(cacheKey{docID: docID, rev: rev}, &cacheEntry{
		body:     body.Clone(),
		storedAt: c.clock.Now(),
	})
}

// Resident returns the body of a revision still inside the residency window.
func (c *Codec) Resident(docID string, rev types.RevID) (body types.Body, ok bool) {
	key := cacheKey{docID: docID, rev: rev}
	v, found := c.cache.Get(key)
	if !found {
		atomic.AddUint64(&c.misses, 1)
		return
	}
	e := v.(*cacheEntry)
	if c.clock.Since(e.storedAt) >= c.residency {
		c.cache.Remove(key)
		atomic.AddUint64(&c.misses, 1)
		return
	}
	atomic.AddUint64(&c.hits, 1)
	return e.body.Clone(), true
}

// Forget drops every cached revision of a document.
func (c *Codec) Forget(docID string) {
	for _, k := range c.cache.Keys() {
		if key, ok := k.(cacheKey); ok && key.docID == docID {
			c.cache.Remove(k)
		}
	}
}

// EncodeFrom encodes target against the resident body of baseRev.
func (c *Codec) EncodeFrom(docID string, baseRev types.RevID, target types.Body) (d *Delta, err error) {
	base, ok := c.Resident(docID, baseRev)
	if !ok {
		err = errors.Wrapf(ErrFullBodyRequired, "base %s of %s is not resident", baseRev, docID)
		return
	}
	if d, err = Encode(base, target); err != nil {
		return
	}
	d.BaseRev = baseRev
	return
}

// Stats returns the cache hit and miss counts.
func (c *Codec) Stats() (hits, misses uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses)
}

// Len returns the number of cached bodies.
func (c *Codec) Len() int {
	return c.cache.Len()
}
