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

package log

import (
	"bytes"
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	. "github.com/smartystreets/goconvey/convey"
)

func TestStandardLogger(t *testing.T) {
	Convey("standard logger should honor level and fields", t, func() {
		var (
			buf       bytes.Buffer
			origLevel = GetLevel()
		)
		SetOutput(&buf)
		SetFormatter(&logrus.TextFormatter{DisableColors: true, DisableTimestamp: true})
		defer func() {
			SetOutput(os.Stderr)
			SetLevel(origLevel)
		}()

		SetStringLevel("info", DebugLevel)
		So(GetLevel(), ShouldEqual, InfoLevel)
		SetStringLevel("not a level", WarnLevel)
		So(GetLevel(), ShouldEqual, WarnLevel)

		SetLevel(DebugLevel)
		WithFields(Fields{"db": "db1", "doc": "doc1"}).Debug("put revision")
		So(buf.String(), ShouldContainSubstring, "db=db1")
		So(buf.String(), ShouldContainSubstring, "put revision")
		So(buf.String(), ShouldNotContainSubstring, "caller=")

		buf.Reset()
		WithError(errors.New("boom")).WithField("session", "s1").Error("sync failed")
		So(buf.String(), ShouldContainSubstring, "boom")
		So(buf.String(), ShouldContainSubstring, "log_test.go:")

		buf.Reset()
		SetLevel(ErrorLevel)
		Infof("hidden %d", 1)
		So(buf.Len(), ShouldEqual, 0)
	})
}
