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

	"github.com/pkg/errors"
	"gopkg.in/go-playground/validator.v9"

	"github.com/CovenantSQL/docsync/auth"
	"github.com/CovenantSQL/docsync/checkpoint"
	"github.com/CovenantSQL/docsync/delta"
	"github.com/CovenantSQL/docsync/docdb"
	"github.com/CovenantSQL/docsync/rpc"
)

// Direction selects which way documents flow.
type Direction string

const (
	// Push sends local changes to the peer.
	Push Direction = "push"
	// Pull applies peer changes locally.
	Pull Direction = "pull"
	// PushAndPull replicates both ways.
	PushAndPull Direction = "push_pull"
)

func (d Direction) pushes() bool { return d == Push || d == PushAndPull }
func (d Direction) pulls() bool  { return d == Pull || d == PushAndPull }

// RevocationPolicy decides what happens to pulled documents the principal can no longer see.
type RevocationPolicy string

const (
	// RevocationKeep leaves pulled documents in place and only stops delivery.
	RevocationKeep RevocationPolicy = "keep"
	// RevocationPurge purges pulled documents outside the principal's channels.
	RevocationPurge RevocationPolicy = "purge"
)

// Defaults of a replication configuration.
const (
	DefaultMaxRetries   = 9
	DefaultRetryWait    = 500 * time.Millisecond
	DefaultMaxRetryWait = 5 * time.Minute
	DefaultBatchSize    = 100
	DefaultPollTimeout  = 30 * time.Second
)

// Config defines a replication session.
type Config struct {
	// Local is the database being replicated.
	Local *docdb.Database `validate:"required"`
	// Target is the ws or wss url of the peer database.
	Target      string    `validate:"required"`
	Direction   Direction `validate:"required,oneof=push pull push_pull"`
	Continuous  bool
	Credentials auth.Credentials
	// Channels restricts pulled documents.
	Channels []string
	// DocIDs restricts both directions, one-shot sessions only.
	DocIDs []string

	// MaxRetries bounds reconnection attempts, 0 picks the default and a negative value disables retry.
	MaxRetries   int
	RetryWait    time.Duration `validate:"gte=0"`
	MaxRetryWait time.Duration `validate:"gte=0"`
	BatchSize    int           `validate:"gte=0"`
	PollTimeout  time.Duration `validate:"gte=0"`

	DeltaSync  bool
	Revocation RevocationPolicy `validate:"omitempty,oneof=keep purge"`

	Dialer rpc.Dialer `validate:"required"`
	// Checkpoints defaults to an in memory store.
	Checkpoints checkpoint.Store
	// Codec keeps the bodies known to the peer, a private one is created if nil.
	Codec *delta.Codec
}

var validate = validator.New()

func (c *Config) setDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryWait == 0 {
		c.RetryWait = DefaultRetryWait
	}
	if c.MaxRetryWait == 0 {
		c.MaxRetryWait = DefaultMaxRetryWait
	}
	if c.MaxRetryWait < c.RetryWait {
		c.MaxRetryWait = c.RetryWait
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.Revocation == "" {
		c.Revocation = RevocationKeep
	}
	if c.Checkpoints == nil {
		c.Checkpoints = checkpoint.NewMemStore()
	}
}

// Validate checks the configuration.
func (c *Config) Validate() (err error) {
	if err = validate.Struct(c); err != nil {
		return errors.Wrap(ErrInvalidConfiguration, err.Error())
	}
	if _, err = rpc.DatabaseFromURL(c.Target); err != nil {
		return errors.Wrap(ErrInvalidConfiguration, err.Error())
	}
	if c.Continuous && len(c.DocIDs) > 0 {
		return errors.Wrap(ErrInvalidConfiguration, "document id filters need a one-shot replication")
	}
	return
}
