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

// Package checkpoint persists replication progress cursors keyed by a stable replication id.
package checkpoint

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/CovenantSQL/docsync/crypto/hash"
	"github.com/CovenantSQL/docsync/types"
)

// StopChecker reports whether the replication owning a checkpoint is stopped.
type StopChecker interface {
	Stopped() bool
}

// Store defines the checkpoint persistence contract.
type Store interface {
	// Get returns the stored checkpoint or ErrNotFound.
	Get(id string) (*types.Checkpoint, error)
	// Put overwrites the checkpoint atomically.
	Put(id string, cp *types.Checkpoint) error
	// Reset clears the checkpoint, owner must be stopped.
	Reset(id string, owner StopChecker) error
	Close() error
}

// ReplicationID derives the checkpoint key of a replication configuration.
// Filter lists are order insensitive. Every field and list element is length
// prefixed so no two configurations share an encoding.
func ReplicationID(source, target, direction string, channels, docIDs []string) string {
	var buf bytes.Buffer
	for _, f := range []string{source, target, direction} {
		writeField(&buf, f)
	}
	for _, list := range [][]string{channels, docIDs} {
		sorted := sortedCopy(list)
		fmt.Fprintf(&buf, "%d;", len(sorted))
		for _, e := range sorted {
			writeField(&buf, e)
		}
	}
	h := hash.Sum(buf.Bytes())
	return h.Short(20)
}

func writeField(buf *bytes.Buffer, f string) {
	fmt.Fprintf(buf, "%d:%s", len(f), f)
}

func sortedCopy(in []string) (out []string) {
	out = append(out, in...)
	sort.Strings(out)
	return
}

func checkReset(owner StopChecker) error {
	if owner != nil && !owner.Stopped() {
		return ErrInvalidState
	}
	return nil
}
