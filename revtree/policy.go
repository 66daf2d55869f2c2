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

package revtree

import (
	"sort"

	"github.com/CovenantSQL/docsync/types"
)

// Outcome describes how a revision was merged into a document tree.
type Outcome int

const (
	// Accepted revision extended the current tip.
	Accepted Outcome = iota
	// Conflict revision created or extended a branch other than the current tip.
	Conflict
	// Stale revision parent is not a known tip.
	Stale
	// Exists revision was already known.
	Exists
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "Accepted"
	case Conflict:
		return "Conflict"
	case Stale:
		return "Stale"
	case Exists:
		return "Exists"
	default:
		return "Unknown"
	}
}

// Result is returned by revision insertions.
type Result struct {
	Outcome  Outcome
	Previous types.RevID
	Current  types.RevID
	Tips     []types.RevID
}

// Changed reports whether the current revision moved.
func (r Result) Changed() bool {
	return r.Current != r.Previous
}

// Wins reports whether a beats b under the conflict policy: a tombstone beats a live
// revision, then the higher generation wins, then the higher hash.
func Wins(a, b types.Revision) bool {
	if a.Deleted != b.Deleted {
		return a.Deleted
	}
	ag, bg := a.ID.Generation(), b.ID.Generation()
	if ag != bg {
		return ag > bg
	}
	return a.ID.Hash() > b.ID.Hash()
}

// Winner picks the winning revision of a tip set, the result does not depend on order.
func Winner(tips []types.Revision) (w types.Revision, ok bool) {
	for i, t := range tips {
		if i == 0 || Wins(t, w) {
			w = t
		}
	}
	ok = len(tips) > 0
	return
}

// sortTips orders tips winner first.
func sortTips(tips []types.Revision) {
	sort.Slice(tips, func(i, j int) bool {
		return Wins(tips[i], tips[j])
	})
}
