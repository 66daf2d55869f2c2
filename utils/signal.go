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

package utils

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

var (
	exitSignals    = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	ignoredSignals = []os.Signal{syscall.SIGHUP, syscall.SIGTTIN, syscall.SIGTTOU}
)

// WaitForExit waits for user cancellation signals: SIGINT/SIGTERM and ignore SIGHUP/SIGTTIN/SIGTTOU.
func WaitForExit() <-chan os.Signal {
	return notifyExit()
}

func notifyExit() chan os.Signal {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, exitSignals...)
	signal.Ignore(ignoredSignals...)
	return signalCh
}

// ExitContext returns a context cancelled on the first cancellation signal.
// Signal delivery to the context stops once it is done.
func ExitContext(parent context.Context) (ctx context.Context, cancel context.CancelFunc) {
	ctx, cancel = context.WithCancel(parent)
	signalCh := notifyExit()
	go func() {
		defer signal.Stop(signalCh)
		select {
		case <-signalCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return
}
