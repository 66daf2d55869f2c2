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

package hash

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSum(t *testing.T) {
	Convey("Sum should be stable per content", t, func() {
		a := Sum([]byte(`{"title":"doc"}`))
		So(Sum([]byte(`{"title":"doc"}`)), ShouldResemble, a)
		So(Sum([]byte(`{"title":"doc2"}`)), ShouldNotResemble, a)
		So(len(a.String()), ShouldEqual, 2*Size)
		So(a.Short(4), ShouldEqual, a.String()[:8])
		So(a.Short(0), ShouldEqual, "")
		So(a.Short(100), ShouldEqual, a.String())
	})
}
