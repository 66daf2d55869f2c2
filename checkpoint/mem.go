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

package checkpoint

import (
	"sync"

	"github.com/CovenantSQL/docsync/types"
)

// MemStore keeps checkpoints in memory.
type MemStore struct {
	sync.RWMutex
	items  map[string]types.Checkpoint
	closed bool
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		items: make(map[string]types.Checkpoint),
	}
}

// Get implements Store.Get.
func (s *MemStore) Get(id string) (cp *types.Checkpoint, err error) {
	s.RLock()
	defer s.RUnlock()
	if s.closed {
		err = ErrStoreClosed
		return
	}
	v, ok := s.items[id]
	if !ok {
		err = ErrNotFound
		return
	}
	cp = &v
	return
}

// Put implements Store.Put.
func (s *MemStore) Put(id string, cp *types.Checkpoint) (err error) {
	if id == "" || cp == nil {
		return ErrInvalidCheckpoint
	}
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	v := *cp
	v.ReplicationID = id
	s.items[id] = v
	return
}

// Reset implements Store.Reset.
func (s *MemStore) Reset(id string, owner StopChecker) (err error) {
	if err = checkReset(owner); err != nil {
		return
	}
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.items, id)
	return
}

// Close implements Store.Close.
func (s *MemStore) Close() error {
	s.Lock()
	defer s.Unlock()
	s.closed = true
	return nil
}
