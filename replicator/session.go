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
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/docsync/auth"
	"github.com/CovenantSQL/docsync/checkpoint"
	"github.com/CovenantSQL/docsync/delta"
	"github.com/CovenantSQL/docsync/docdb"
	"github.com/CovenantSQL/docsync/metric"
	"github.com/CovenantSQL/docsync/rpc"
	"github.com/CovenantSQL/docsync/utils/log"
)

// Session replicates a local database with a peer database.
type Session struct {
	cfg   Config
	id    string
	stats *metric.ReplicationStats
	codec *delta.Codec

	// lifeMu serializes Start with ResetCheckpoint. emitMu orders state changes
	// with their events, it is taken before mu.
	lifeMu sync.Mutex
	emitMu sync.Mutex

	mu           sync.Mutex
	state        State
	lastErr      error
	retries      int
	progress     Progress
	events       []Event
	listeners    map[int]Listener
	nextListener int
	cancel       context.CancelFunc
	done         chan struct{}
	busy         map[Direction]bool
}

// New creates a stopped session.
func New(cfg Config) (s *Session, err error) {
	cfg.setDefaults()
	if err = cfg.Validate(); err != nil {
		return
	}
	codec := cfg.Codec
	if codec == nil {
		if codec, err = delta.NewCodec(0, 0, nil); err != nil {
			return
		}
	}
	s = &Session{
		cfg:       cfg,
		id:        checkpoint.ReplicationID(cfg.Local.UUID(), cfg.Target, string(cfg.Direction), cfg.Channels, cfg.DocIDs),
		stats:     &metric.ReplicationStats{},
		codec:     codec,
		listeners: make(map[int]Listener),
		busy:      make(map[Direction]bool),
	}
	return
}

// ID returns the replication id keying the checkpoints of the session.
func (s *Session) ID() string {
	return s.id
}

// Stats returns the session counters.
func (s *Session) Stats() *metric.ReplicationStats {
	return s.stats
}

// Collector returns a prometheus collector of the session counters.
func (s *Session) Collector() *metric.StatsCollector {
	return metric.NewReplicationCollector(s.id, s.stats)
}

// Status returns a snapshot of the session state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:    s.state,
		Err:      s.lastErr,
		Progress: s.progress,
		Retries:  s.retries,
	}
}

// Stopped reports whether the session is stopped.
func (s *Session) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Stopped && s.cancel == nil
}

// AddListener registers a listener and returns its token.
func (s *Session) AddListener(l Listener) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextListener++
	s.listeners[s.nextListener] = l
	return s.nextListener
}

// RemoveListener unregisters a listener.
func (s *Session) RemoveListener(token int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, token)
}

// Events returns the event log of the current or last run.
func (s *Session) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Start runs the session in the background.
func (s *Session) Start() (err error) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.lastErr = nil
	s.retries = 0
	s.progress = Progress{}
	s.events = nil
	s.busy = make(map[Direction]bool)
	s.mu.Unlock()

	log.WithFields(log.Fields{
		"replication": s.id,
		"target":      s.cfg.Target,
		"direction":   s.cfg.Direction,
		"continuous":  s.cfg.Continuous,
	}).Info("replication started")
	go s.run(ctx, done)
	return
}

// Stop cancels the session and returns once in flight batches are drained.
// It is a no-op on a stopped session.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the session stops or ctx is done and returns the final error.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// ResetCheckpoint clears the local checkpoint so the next run starts over,
// the session must be stopped. Start waits for a reset in progress.
func (s *Session) ResetCheckpoint() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.cfg.Checkpoints.Reset(s.id, s)
}

func (s *Session) emit(e Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.emitLocked(e)
}

// emitLocked appends e to the log and dispatches it, emitMu must be held.
func (s *Session) emitLocked(e Event) {
	s.mu.Lock()
	e.Index = len(s.events)
	e.Time = time.Now()
	s.events = append(s.events, e)
	listeners := make([]Listener, 0, len(s.listeners))
	for token := 1; token <= s.nextListener; token++ {
		if l, ok := s.listeners[token]; ok {
			listeners = append(listeners, l)
		}
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(e)
	}
}

func (s *Session) setState(state State, err error) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.setStateLocked(state, err)
}

func (s *Session) setStateLocked(state State, err error) {
	s.mu.Lock()
	if s.state == state && err == nil {
		s.mu.Unlock()
		return
	}
	s.state = state
	if err != nil {
		s.lastErr = err
	}
	s.mu.Unlock()
	s.emitLocked(Event{Kind: StateChanged, State: state, Err: err})
}

// setBusy records the activity of one direction, the session is idle once every
// direction is caught up.
func (s *Session) setBusy(d Direction, busy bool) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.mu.Lock()
	s.busy[d] = busy
	state := Idle
	for _, b := range s.busy {
		if b {
			state = Busy
		}
	}
	s.mu.Unlock()
	s.setStateLocked(state, nil)
}

func (s *Session) addProgress(total, completed int) {
	s.mu.Lock()
	s.progress.Total += uint64(total)
	s.progress.Completed += uint64(completed)
	s.mu.Unlock()
}

func (s *Session) run(ctx context.Context, done chan struct{}) {
	var err error
	defer func() {
		s.finish(err, done)
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryWait
	b.MaxInterval = s.cfg.MaxRetryWait
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		s.setState(Connecting, nil)
		var conn rpc.Conn
		var hello *rpc.HelloResponse
		if conn, hello, err = s.connect(ctx); err == nil {
			s.mu.Lock()
			s.retries = 0
			s.lastErr = nil
			s.mu.Unlock()
			b.Reset()
			err = s.replicate(ctx, conn, hello)
			_ = conn.Close()
			if err == nil {
				return
			}
		}
		if ctx.Err() != nil || errors.Cause(err) == errStopped {
			err = nil
			return
		}
		if !retryable(err) {
			if rpc.Code(err) == rpc.CodeUnauthorized {
				s.stats.AuthFailures.Inc()
			}
			return
		}

		s.mu.Lock()
		s.retries++
		attempt := s.retries
		s.mu.Unlock()
		if s.cfg.MaxRetries < 0 || attempt > s.cfg.MaxRetries {
			err = errors.Wrapf(err, "giving up after %d retries", attempt-1)
			return
		}
		s.stats.Retries.Inc()
		wait := b.NextBackOff()
		log.WithFields(log.Fields{
			"replication": s.id,
			"attempt":     attempt,
			"wait":        wait,
		}).WithError(err).Warning("replication offline, retrying")
		s.setState(Offline, err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			err = nil
			return
		case <-timer.C:
		}
	}
}

func (s *Session) finish(err error, done chan struct{}) {
	if err != nil {
		log.WithField("replication", s.id).WithError(err).Error("replication stopped with error")
	} else {
		log.WithField("replication", s.id).Info("replication stopped")
	}
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.mu.Lock()
	s.cancel = nil
	s.lastErr = err
	s.mu.Unlock()
	s.setStateLocked(Stopped, err)
	close(done)
}

// retryable reports whether a failure is worth reconnecting for. Transport and
// availability failures are, authorization and local storage failures are not.
func retryable(err error) bool {
	switch errors.Cause(err) {
	case docdb.ErrClosed, checkpoint.ErrStoreClosed, ErrInvalidConfiguration, auth.ErrUnauthorized:
		return false
	}
	return rpc.IsTransient(err)
}

func (s *Session) connect(ctx context.Context) (conn rpc.Conn, hello *rpc.HelloResponse, err error) {
	if conn, err = s.cfg.Dialer.Dial(ctx, s.cfg.Target, s.cfg.Credentials); err != nil {
		return
	}
	hello = &rpc.HelloResponse{}
	req := rpc.HelloRequest{Client: "docsync", DeltaSync: s.cfg.DeltaSync}
	if err = conn.Call(ctx, rpc.MethodHello, req, hello); err != nil {
		_ = conn.Close()
		conn, hello = nil, nil
		return
	}
	log.WithFields(log.Fields{
		"replication": s.id,
		"database":    hello.Database,
		"user":        hello.User,
		"delta_sync":  hello.DeltaSync,
	}).Debug("connected to peer")
	return
}
