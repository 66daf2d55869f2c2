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
	"github.com/pkg/errors"

	"github.com/CovenantSQL/docsync/checkpoint"
)

var (
	// ErrInvalidConfiguration indicates a replication configuration that cannot run.
	ErrInvalidConfiguration = errors.New("invalid replication configuration")
	// ErrRunning indicates the session is already started.
	ErrRunning = errors.New("replication is already running")
	// ErrInvalidState indicates an operation that needs a stopped session.
	ErrInvalidState = checkpoint.ErrInvalidState
	// errStopped ends replication loops when the session is stopped.
	errStopped = errors.New("replication stopped")
)
