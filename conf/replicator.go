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

import (
	"path/filepath"
	"time"

	"github.com/CovenantSQL/docsync/auth"
	"github.com/CovenantSQL/docsync/checkpoint"
	"github.com/CovenantSQL/docsync/docdb"
	"github.com/CovenantSQL/docsync/replicator"
	"github.com/CovenantSQL/docsync/rpc"
	"github.com/CovenantSQL/docsync/utils"
)

// LocalDatabaseConfig defines the database a replicator runs against.
type LocalDatabaseConfig struct {
	Name string `yaml:"Name"`
	// Path relative to the working root, empty keeps the database in memory.
	Path      string `yaml:"Path"`
	RevsLimit int    `yaml:"RevsLimit" validate:"gte=0"`
}

// ReplicatorConfig holds a replicator config read from a yaml file.
type ReplicatorConfig struct {
	WorkingRoot string              `yaml:"WorkingRoot"`
	LogLevel    string              `yaml:"LogLevel"`
	Database    LocalDatabaseConfig `yaml:"Database"`
	// CheckpointFile relative to the working root, empty keeps checkpoints in memory.
	CheckpointFile string           `yaml:"CheckpointFile"`
	Target         string           `yaml:"Target" validate:"required"`
	Type           string           `yaml:"Type" validate:"omitempty,oneof=push pull push_pull"`
	Continuous     bool             `yaml:"Continuous"`
	Credentials    auth.Credentials `yaml:"Credentials"`
	Channels       []string         `yaml:"Channels"`
	DocIDs         []string         `yaml:"DocIDs"`

	MaxRetries       int           `yaml:"MaxRetries"`
	RetryWait        time.Duration `yaml:"RetryWait" validate:"gte=0"`
	MaxRetryWait     time.Duration `yaml:"MaxRetryWait" validate:"gte=0"`
	BatchSize        int           `yaml:"BatchSize" validate:"gte=0"`
	PollTimeout      time.Duration `yaml:"PollTimeout" validate:"gte=0"`
	HandshakeTimeout time.Duration `yaml:"HandshakeTimeout" validate:"gte=0"`
	DeltaSync        bool          `yaml:"DeltaSync"`
	RevocationPolicy string        `yaml:"RevocationPolicy" validate:"omitempty,oneof=keep purge"`
	// MetricsAddr serves prometheus metrics of the session when set.
	MetricsAddr string `yaml:"MetricsAddr"`
}

// LoadReplicatorConfig loads a replicator config from configPath.
func LoadReplicatorConfig(configPath string) (config *ReplicatorConfig, err error) {
	config = &ReplicatorConfig{}
	if err = readYAML(utils.HomeDirExpand(configPath), config); err != nil {
		return nil, err
	}
	if config.WorkingRoot == "" {
		config.WorkingRoot = filepath.Dir(configPath)
	}
	config.setDefaults()
	return
}

func (c *ReplicatorConfig) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.WorkingRoot, path)
}

func (c *ReplicatorConfig) setDefaults() {
	c.WorkingRoot = utils.HomeDirExpand(c.WorkingRoot)
	if c.Type == "" {
		c.Type = string(replicator.PushAndPull)
	}
	if c.Database.Name == "" {
		c.Database.Name = "local"
	}
	if c.Database.RevsLimit == 0 {
		c.Database.RevsLimit = DefaultRevsLimit
	}
	if c.Database.RevsLimit > MaxRevsLimit {
		c.Database.RevsLimit = MaxRevsLimit
	}
	if c.BatchSize > MaxBatchSize {
		c.BatchSize = MaxBatchSize
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	c.Database.Path = c.resolve(c.Database.Path)
	c.CheckpointFile = c.resolve(c.CheckpointFile)
}

// OpenDatabase opens the local database of the config.
func (c *ReplicatorConfig) OpenDatabase() (*docdb.Database, error) {
	if c.Database.Path != "" {
		if err := utils.EnsureDir(c.Database.Path); err != nil {
			return nil, err
		}
	}
	return docdb.Open(docdb.Config{
		Name:      c.Database.Name,
		Path:      c.Database.Path,
		RevsLimit: c.Database.RevsLimit,
	})
}

// OpenCheckpoints opens the checkpoint store of the config.
func (c *ReplicatorConfig) OpenCheckpoints() (checkpoint.Store, error) {
	if c.CheckpointFile == "" {
		return checkpoint.NewMemStore(), nil
	}
	if err := utils.EnsureDir(c.CheckpointFile); err != nil {
		return nil, err
	}
	store, err := checkpoint.NewLevelDBStore(c.CheckpointFile)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// SessionConfig returns the replication config of the config.
func (c *ReplicatorConfig) SessionConfig(local *docdb.Database, store checkpoint.Store, dialer rpc.Dialer) replicator.Config {
	return replicator.Config{
		Local:        local,
		Target:       c.Target,
		Direction:    replicator.Direction(c.Type),
		Continuous:   c.Continuous,
		Credentials:  c.Credentials,
		Channels:     c.Channels,
		DocIDs:       c.DocIDs,
		MaxRetries:   c.MaxRetries,
		RetryWait:    c.RetryWait,
		MaxRetryWait: c.MaxRetryWait,
		BatchSize:    c.BatchSize,
		PollTimeout:  c.PollTimeout,
		DeltaSync:    c.DeltaSync,
		Revocation:   replicator.RevocationPolicy(c.RevocationPolicy),
		Dialer:       dialer,
		Checkpoints:  store,
	}
}
