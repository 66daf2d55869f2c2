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
	"io/ioutil"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestExitContext(t *testing.T) {
	Convey("exit context", t, func() {
		ctx, cancel := ExitContext(context.Background())
		defer cancel()
		So(syscall.Kill(os.Getpid(), syscall.SIGTERM), ShouldBeNil)
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("signal was not delivered")
		}

		parent, stop := context.WithCancel(context.Background())
		ctx, cancel = ExitContext(parent)
		defer cancel()
		stop()
		<-ctx.Done()
		So(ctx.Err(), ShouldEqual, context.Canceled)
	})
	Convey("a stopped exit context leaves other listeners subscribed", t, func() {
		waitCh := WaitForExit()
		ctx, cancel := ExitContext(context.Background())
		cancel()
		<-ctx.Done()
		So(syscall.Kill(os.Getpid(), syscall.SIGINT), ShouldBeNil)
		select {
		case sig := <-waitCh:
			So(sig, ShouldEqual, syscall.SIGINT)
		case <-time.After(5 * time.Second):
			t.Fatal("signal was not delivered")
		}
	})
}

func TestPath(t *testing.T) {
	Convey("paths", t, func() {
		So(HomeDirExpand("/abs/path"), ShouldEqual, "/abs/path")
		So(HomeDirExpand("~/x"), ShouldNotStartWith, "~")

		dir, err := ioutil.TempDir("", "docsync-utils")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dir)
		file := filepath.Join(dir, "a", "b", "c.db")
		So(EnsureDir(file), ShouldBeNil)
		st, err := os.Stat(filepath.Dir(file))
		So(err, ShouldBeNil)
		So(st.IsDir(), ShouldBeTrue)
		So(EnsureDir(file), ShouldBeNil)
	})
}
