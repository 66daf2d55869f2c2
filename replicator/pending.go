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

	"github.com/CovenantSQL/docsync/checkpoint"
)

// PendingDocumentIDs returns the sorted ids of local documents with changes the
// session has not pushed yet. Documents whose current revision was pulled are not pending.
func (s *Session) PendingDocumentIDs() (ids []string, err error) {
	if !s.cfg.Direction.pushes() {
		err = errors.Wrap(ErrInvalidConfiguration, "pending documents need a push replication")
		return
	}
	var since uint64
	cp, err := s.cfg.Checkpoints.Get(s.id)
	switch errors.Cause(err) {
	case nil:
		since = cp.Local
	case checkpoint.ErrNotFound:
		err = nil
	default:
		return
	}

	pulled := make(map[string]struct{})
	for _, id := range s.cfg.Local.PulledDocumentIDs() {
		pulled[id] = struct{}{}
	}
	changes, _ := s.cfg.Local.Changes(since, 0)
	for _, c := range s.filterDocIDs(changes) {
		if _, ok := pulled[c.DocID]; ok {
			continue
		}
		ids = append(ids, c.DocID)
	}
	sort.Strings(ids)
	return
}

// IsDocumentPending reports whether a document has changes the session has not pushed yet.
func (s *Session) IsDocumentPending(docID string) (pending bool, err error) {
	ids, err := s.PendingDocumentIDs()
	if err != nil {
		return
	}
	i := sort.SearchStrings(ids, docID)
	pending = i < len(ids) && ids[i] == docID
	return
}
