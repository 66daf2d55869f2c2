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

package metric

import (
	"expvar"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	mw "github.com/zserge/metric"
)

var publishLock sync.Mutex

// ExpvarPublisher mirrors stats snapshots into expvar time series gauges.
type ExpvarPublisher struct {
	sync.Mutex
	interval time.Duration
	sources  map[string]func() map[string]uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewExpvarPublisher returns a publisher sampling every interval.
func NewExpvarPublisher(interval time.Duration) *ExpvarPublisher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ExpvarPublisher{
		interval: interval,
		sources:  make(map[string]func() map[string]uint64),
		stopCh:   make(chan struct{}),
	}
}

// Add registers a snapshot source published under prefix.
func (p *ExpvarPublisher) Add(prefix string, source func() map[string]uint64) {
	p.Lock()
	defer p.Unlock()
	p.sources[prefix] = source
}

// Remove drops a snapshot source.
func (p *ExpvarPublisher) Remove(prefix string) {
	p.Lock()
	defer p.Unlock()
	delete(p.sources, prefix)
}

// Collect samples every source once.
func (p *ExpvarPublisher) Collect() {
	p.Lock()
	prefixes := make([]string, 0, len(p.sources))
	for prefix := range p.sources {
		prefixes = append(prefixes, prefix)
	}
	sources := make(map[string]func() map[string]uint64, len(p.sources))
	for k, v := range p.sources {
		sources[k] = v
	}
	p.Unlock()
	sort.Strings(prefixes)

	for _, prefix := range prefixes {
		for k, v := range sources[prefix]() {
			gauge(prefix + ":" + k).Add(float64(v))
		}
	}
	gauge("go:numgoroutine").Add(float64(runtime.NumGoroutine()))
}

// Start samples in background until Stop.
func (p *ExpvarPublisher) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.Collect()
			}
		}
	}()
}

// Stop ends background sampling.
func (p *ExpvarPublisher) Stop() {
	p.once.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
}

// Handler serves the published series.
func (p *ExpvarPublisher) Handler() http.Handler {
	return mw.Handler(mw.Exposed)
}

func gauge(name string) mw.Metric {
	publishLock.Lock()
	defer publishLock.Unlock()
	val := expvar.Get(name)
	if val == nil {
		val = mw.NewGauge("5m5s", "1h1m")
		expvar.Publish(name, val)
	}
	return val.(mw.Metric)
}
