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

package rpc

import (
	"github.com/CovenantSQL/docsync/delta"
	"github.com/CovenantSQL/docsync/types"
)

// Method names of the sync protocol.
const (
	MethodHello         = "hello"
	MethodGetCheckpoint = "getCheckpoint"
	MethodSetCheckpoint = "setCheckpoint"
	MethodChanges       = "changes"
	MethodRevsDiff      = "revsDiff"
	MethodGetRev        = "getRev"
	MethodPutRev        = "putRev"
)

// HelloRequest negotiates capabilities after connecting.
type HelloRequest struct {
	Client    string `json:"client"`
	DeltaSync bool   `json:"delta_sync"`
}

// HelloResponse describes the peer database and the authenticated principal.
type HelloResponse struct {
	Database  string   `json:"database"`
	UUID      string   `json:"uuid"`
	DeltaSync bool     `json:"delta_sync"`
	User      string   `json:"user"`
	Channels  []string `json:"channels"`
}

// GetCheckpointRequest reads the peer copy of a checkpoint.
type GetCheckpointRequest struct {
	ReplicationID string `json:"replication_id" validate:"required"`
}

// CheckpointResponse carries the peer copy of a checkpoint, nil when absent.
type CheckpointResponse struct {
	Checkpoint *types.Checkpoint `json:"checkpoint,omitempty"`
}

// SetCheckpointRequest stores the peer copy of a checkpoint.
type SetCheckpointRequest struct {
	Checkpoint types.Checkpoint `json:"checkpoint"`
}

// ChangesRequest reads the peer changes feed after Since.
type ChangesRequest struct {
	Since      string   `json:"since"`
	Limit      int      `json:"limit" validate:"gte=0"`
	Channels   []string `json:"channels,omitempty"`
	DocIDs     []string `json:"doc_ids,omitempty"`
	ActiveOnly bool     `json:"active_only"`
	// LongPoll blocks until a change arrives or TimeoutMS passes.
	LongPoll  bool  `json:"long_poll"`
	TimeoutMS int64 `json:"timeout_ms" validate:"gte=0"`
}

// ChangeEntry is one document of a changes response.
type ChangeEntry struct {
	Seq     string      `json:"seq"`
	DocID   string      `json:"id"`
	Rev     types.RevID `json:"rev"`
	Deleted bool        `json:"deleted,omitempty"`
	// Removed marks a document that left the principal's channels.
	Removed bool `json:"removed,omitempty"`
}

// ChangesResponse is a batch of changes and the cursor after it.
type ChangesResponse struct {
	Results []ChangeEntry `json:"results"`
	Last    string        `json:"last_seq"`
	// Channels are the effective channels of the principal when the batch was read.
	Channels []string `json:"channels"`
}

// RevsDiffRequest lists candidate revisions per document.
type RevsDiffRequest struct {
	Revs map[string][]types.RevID `json:"revs"`
}

// RevsDiffEntry lists the revisions a peer is missing for one document.
type RevsDiffEntry struct {
	Missing           []types.RevID `json:"missing"`
	PossibleAncestors []types.RevID `json:"possible_ancestors,omitempty"`
}

// RevsDiffResponse maps document ids to missing revisions.
type RevsDiffResponse struct {
	Results map[string]RevsDiffEntry `json:"results"`
}

// GetRevRequest fetches a revision. A non empty DeltaSrc asks for a delta against that base.
type GetRevRequest struct {
	DocID    string      `json:"id" validate:"required"`
	Rev      types.RevID `json:"rev" validate:"required"`
	DeltaSrc types.RevID `json:"delta_src,omitempty"`
}

// RevFrame carries one revision with either a full body or a delta.
type RevFrame struct {
	DocID    string        `json:"id" validate:"required"`
	Rev      types.RevID   `json:"rev" validate:"required"`
	History  []types.RevID `json:"history,omitempty"`
	Deleted  bool          `json:"deleted,omitempty"`
	Channels []string      `json:"channels,omitempty"`
	Body     types.Body    `json:"body,omitempty"`
	Delta    *delta.Delta  `json:"delta,omitempty"`
}

// IsDelta reports whether the frame carries a delta.
func (f *RevFrame) IsDelta() bool {
	return f.Delta != nil
}

// Size returns the payload size of the frame.
func (f *RevFrame) Size() int {
	if f.Delta != nil {
		return f.Delta.Size()
	}
	if f.Deleted {
		return 0
	}
	return f.Body.Size()
}

// PutRevResponse reports how the peer stored a pushed revision.
type PutRevResponse struct {
	Outcome string `json:"outcome"`
}
