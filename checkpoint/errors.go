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
	"github.com/pkg/errors"
)

var (
	// ErrNotFound indicates no checkpoint is stored for the replication id.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrInvalidState indicates a reset attempted while the owning replication is running.
	ErrInvalidState = errors.New("replication is not stopped")
	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
	// ErrInvalidCheckpoint indicates an empty replication id or nil checkpoint.
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")
)
