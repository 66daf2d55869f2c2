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

const (
	// SampleGatewayYAML is a gateway config hosting one database.
	SampleGatewayYAML = `
WorkingRoot: "~/.docsync"
ListenAddr: "127.0.0.1:4984"
AdminAddr: "127.0.0.1:4985"
LogLevel: "info"
SessionTTL: 24h
LongPollTimeout: 30s
Databases:
  notes:
    Path: "notes.db"
    RevsLimit: 1000
    DeltaSync:
      Enabled: true
      RevMaxAge: 2m
      RevCacheSize: 5000
    Guest:
      Enabled: false
    Roles:
      editors:
        Channels: ["shared"]
    Users:
      alice:
        Password: "change me"
        Channels: ["alice"]
        Roles: ["editors"]
`
	// SampleReplicatorYAML is a continuous two way replicator config.
	SampleReplicatorYAML = `
WorkingRoot: "~/.docsync"
LogLevel: "info"
Database:
  Name: "notes"
  Path: "local/notes.db"
CheckpointFile: "local/checkpoints"
Target: "ws://127.0.0.1:4984/notes"
Type: "push_pull"
Continuous: true
Credentials:
  Username: "alice"
  Password: "change me"
Channels: []
MaxRetries: 9
RetryWait: 500ms
MaxRetryWait: 5m
DeltaSync: true
RevocationPolicy: "keep"
`
)
