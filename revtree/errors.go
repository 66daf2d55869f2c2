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
	"github.com/pkg/errors"
)

var (
	// ErrNotFound indicates the document or revision is unknown.
	ErrNotFound = errors.New("revision not found")
	// ErrStale indicates the parent revision is not a known tip.
	ErrStale = errors.New("stale parent revision")
	// ErrBodyMissing indicates a revision known only by id.
	ErrBodyMissing = errors.New("revision body missing")
	// ErrInvalidRevision indicates a malformed revision or generation mismatch.
	ErrInvalidRevision = errors.New("invalid revision")
)
