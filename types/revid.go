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

package types

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/docsync/crypto/hash"
)

// revHashBytes is the number of digest bytes kept in a revision id.
const revHashBytes = 16

// RevID identifies a document revision as "<generation>-<hash>".
type RevID string

// ParseRevID splits a revision id into its generation and hash parts.
func ParseRevID(s string) (gen int, h string, err error) {
	idx := strings.IndexByte(s, '-')
	if idx <= 0 || idx == len(s)-1 {
		err = errors.Wrapf(ErrInvalidRevID, "parse %q", s)
		return
	}
	if gen, err = strconv.Atoi(s[:idx]); err != nil || gen <= 0 {
		gen = 0
		err = errors.Wrapf(ErrInvalidRevID, "parse generation of %q", s)
		return
	}
	h = s[idx+1:]
	return
}

// Valid reports whether the id is well formed.
func (r RevID) Valid() bool {
	_, _, err := ParseRevID(string(r))
	return err == nil
}

// Generation returns the generation part, or 0 for a malformed id.
func (r RevID) Generation() int {
	gen, _, _ := ParseRevID(string(r))
	return gen
}

// Hash returns the hash part, or "" for a malformed id.
func (r RevID) Hash() string {
	_, h, _ := ParseRevID(string(r))
	return h
}

// Less orders revision ids by generation, then hash.
func (r RevID) Less(o RevID) bool {
	if rg, og := r.Generation(), o.Generation(); rg != og {
		return rg < og
	}
	return r.Hash() < o.Hash()
}

// NewRevID computes the id of a revision from its parent, deletion flag and body.
// Identical edits made on different peers from the same parent yield the same id.
func NewRevID(gen int, parent RevID, deleted bool, body Body) RevID {
	var payload strings.Builder
	payload.WriteString(string(parent))
	if deleted {
		payload.WriteString("|deleted")
	} else {
		payload.WriteString("|")
		payload.Write(body.JSON())
	}
	digest := hash.Sum([]byte(payload.String()))
	return RevID(fmt.Sprintf("%d-%s", gen, digest.Short(revHashBytes)))
}

// NextRevID returns the id of a child of parent, parent may be empty for a new document.
func NextRevID(parent RevID, deleted bool, body Body) RevID {
	return NewRevID(parent.Generation()+1, parent, deleted, body)
}
