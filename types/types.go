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

// Package types defines the document, revision and checkpoint model shared by docsync packages.
package types

import (
	"time"
)

const (
	// AllChannels grants access to every channel.
	AllChannels = "*"
	// PublicChannel holds documents visible to every principal.
	PublicChannel = "!"
)

// Revision is a single node of a document revision tree.
type Revision struct {
	ID       RevID
	Parent   RevID
	Deleted  bool
	Body     Body
	Channels []string
}

// Document is the current state of a document.
type Document struct {
	ID       string
	Rev      RevID
	Deleted  bool
	Body     Body
	Channels []string
	Sequence uint64
}

// Checkpoint records replication progress for one replication id.
type Checkpoint struct {
	ReplicationID string
	// Local is the last local sequence pushed.
	Local uint64
	// Remote is the opaque peer cursor of the last pulled change.
	Remote    string
	UpdatedAt time.Time
}

// IsZero reports whether the checkpoint carries no progress.
func (c *Checkpoint) IsZero() bool {
	return c == nil || (c.Local == 0 && c.Remote == "")
}
