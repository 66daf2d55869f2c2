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

// Package hash provides the content digest behind revision ids, replication ids
// and delta base checks.
package hash

import (
	"crypto/sha256"
	"encoding/hex"

	blake2b "github.com/minio/blake2b-simd"
)

// Size of a digest in bytes.
const Size = sha256.Size

// Hash is a SHA256 of the blake2b-512 of some content.
type Hash [Size]byte

// Sum digests b.
func Sum(b []byte) Hash {
	first := blake2b.Sum512(b)
	return Hash(sha256.Sum256(first[:]))
}

// String returns the hex form.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the hex form of the first n bytes, n is clamped to [0, Size].
func (h Hash) Short(n int) string {
	switch {
	case n <= 0:
		return ""
	case n > Size:
		n = Size
	}
	return hex.EncodeToString(h[:n])
}
