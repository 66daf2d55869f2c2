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

package conf

import "time"

// Defaults and bounds applied to loaded configs.
const (
	// DefaultListenAddr is the sync endpoint address of a gateway.
	DefaultListenAddr = "127.0.0.1:4984"
	// DefaultAdminAddr is the admin api address of a gateway.
	DefaultAdminAddr = "127.0.0.1:4985"
	// DefaultRevsLimit bounds the revision history kept per document.
	DefaultRevsLimit = 1000
	// MaxRevsLimit is the largest accepted revision history bound.
	MaxRevsLimit = 100000
	// MaxBatchSize is the largest accepted replication batch.
	MaxBatchSize = 10000
	// DefaultMetricsInterval is the sampling period of the expvar gauges.
	DefaultMetricsInterval = 5 * time.Second
	// DefaultHandshakeTimeout bounds the websocket handshake of a replicator.
	DefaultHandshakeTimeout = 10 * time.Second
)
