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

// Package delta encodes revision bodies as JSON merge patches against an ancestor body.
package delta

import (
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/docsync/crypto/hash"
	"github.com/CovenantSQL/docsync/types"
)

var (
	// ErrFullBodyRequired indicates the target must be sent in full.
	ErrFullBodyRequired = errors.New("full body required")
	// ErrBaseMismatch indicates the receiver base body is not the one the delta was computed from.
	ErrBaseMismatch = errors.New("delta base mismatch")
	// ErrInvalidDelta indicates a delta that could not be applied.
	ErrInvalidDelta = errors.New("invalid delta")
)

// Delta is a one-way patch from a base revision body to a target body.
type Delta struct {
	BaseRev  types.RevID     `json:"base_rev,omitempty"`
	BaseHash string          `json:"base_hash"`
	Patch    json.RawMessage `json:"patch"`
}

// Size returns the patch byte length.
func (d *Delta) Size() int {
	if d == nil {
		return 0
	}
	return len(d.Patch)
}

// BodyHash returns the digest a delta records for its base.
func BodyHash(b types.Body) string {
	return hash.Sum(b.JSON()).Short(16)
}

// Encode computes the delta turning base into target. It returns ErrFullBodyRequired
// when the patch is not strictly smaller than the target body or when the target
// holds null values, which merge patches cannot express.
func Encode(base, target types.Body) (d *Delta, err error) {
	if base == nil {
		err = ErrFullBodyRequired
		return
	}
	if hasNull(map[string]interface{}(target)) {
		err = errors.Wrap(ErrFullBodyRequired, "target contains null values")
		return
	}
	full := target.JSON()
	var patch []byte
	if patch, err = jsonpatch.CreateMergePatch(base.JSON(), full); err != nil {
		err = errors.Wrap(err, "create merge patch failed")
		return
	}
	if len(patch) >= len(full) {
		err = ErrFullBodyRequired
		return
	}
	d = &Delta{
		BaseHash: BodyHash(base),
		Patch:    patch,
	}
	return
}

// Decode applies d to base.
func Decode(base types.Body, d *Delta) (target types.Body, err error) {
	if d == nil || len(d.Patch) == 0 {
		err = ErrInvalidDelta
		return
	}
	if base == nil || BodyHash(base) != d.BaseHash {
		err = ErrBaseMismatch
		return
	}
	var merged []byte
	if merged, err = jsonpatch.MergePatch(base.JSON(), d.Patch); err != nil {
		err = errors.Wrapf(ErrInvalidDelta, "apply merge patch: %v", err)
		return
	}
	if target, err = types.ParseBody(merged); err != nil {
		err = errors.Wrapf(ErrInvalidDelta, "decode patched body: %v", err)
	}
	return
}

func hasNull(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case map[string]interface{}:
		for _, e := range x {
			if hasNull(e) {
				return true
			}
		}
	case types.Body:
		return hasNull(map[string]interface{}(x))
	case []interface{}:
		for _, e := range x {
			if hasNull(e) {
				return true
			}
		}
	}
	return false
}
