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
	"time"

	"github.com/CovenantSQL/docsync/types"
)

// State is the activity level of a replication session.
type State int

const (
	// Stopped session is not running.
	Stopped State = iota
	// Connecting session is dialing and negotiating with the peer.
	Connecting
	// Busy session is transferring revisions.
	Busy
	// Idle continuous session is caught up and waiting for changes.
	Idle
	// Offline session lost the peer and waits before reconnecting.
	Offline
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Connecting:
		return "Connecting"
	case Busy:
		return "Busy"
	case Idle:
		return "Idle"
	case Offline:
		return "Offline"
	default:
		return "Unknown"
	}
}

// Progress counts revisions found to transfer and the ones done.
type Progress struct {
	Completed uint64
	Total     uint64
}

// Status is a snapshot of a session.
type Status struct {
	State    State
	Err      error
	Progress Progress
	// Retries is the number of reconnection attempts since the last successful connect.
	Retries int
}

// EventKind distinguishes session events.
type EventKind int

const (
	// StateChanged events report a state transition.
	StateChanged EventKind = iota
	// DocumentsReplicated events report one batch of documents.
	DocumentsReplicated
)

// DocumentEvent is the outcome of one document in a batch.
type DocumentEvent struct {
	DocID     string
	Rev       types.RevID
	Direction Direction
	Deleted   bool
	// Purged is set when the document was purged locally after losing access.
	Purged bool
	Err    error
}

// Event is an entry of the session event log.
type Event struct {
	// Index orders the events of one run starting at zero.
	Index     int
	Kind      EventKind
	State     State
	Err       error
	Documents []DocumentEvent
	Time      time.Time
}

// Listener receives session events in order on the session goroutine.
// A listener must not block nor call Start or Stop.
type Listener func(Event)
