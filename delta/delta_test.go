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

package delta

import (
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/docsync/types"
)

func largeBody() types.Body {
	return types.Body{
		"title":       "a document about replication",
		"description": strings.Repeat("lorem ipsum dolor sit amet ", 20),
		"count":       1,
		"tags":        []interface{}{"a", "b", "c"},
		"nested": map[string]interface{}{
			"owner": "alice",
			"depth": 2,
		},
		"channels": []interface{}{"ABC"},
	}
}

func TestEncodeDecode(t *testing.T) {
	Convey("partial update produces a smaller delta", t, func() {
		base := largeBody()
		target := base.Clone()
		target["count"] = 2
		d, err := Encode(base, target)
		So(err, ShouldBeNil)
		So(d.Size(), ShouldBeLessThan, target.Size())
		So(string(d.Patch), ShouldEqual, `{"count":2}`)
		So(d.BaseHash, ShouldEqual, BodyHash(base))

		out, err := Decode(base, d)
		So(err, ShouldBeNil)
		So(out.Equal(target), ShouldBeTrue)
	})
	Convey("decode reverses encode", t, func() {
		base := largeBody()
		edits := []func(types.Body){
			func(b types.Body) { b["count"] = 99 },
			func(b types.Body) { delete(b, "tags") },
			func(b types.Body) { b["nested"].(map[string]interface{})["owner"] = "bob" },
			func(b types.Body) { delete(b["nested"].(map[string]interface{}), "depth") },
			func(b types.Body) { b["tags"] = []interface{}{"c"} },
			func(b types.Body) { b["new"] = map[string]interface{}{"k": true} },
			func(b types.Body) { b["title"] = "retitled"; b["count"] = 0.5 },
			func(b types.Body) { b["count"] = int64(9007199254740993) },
		}
		for _, edit := range edits {
			target := base.Clone()
			edit(target)
			d, err := Encode(base, target)
			So(err, ShouldBeNil)
			out, err := Decode(base, d)
			So(err, ShouldBeNil)
			So(string(out.JSON()), ShouldEqual, string(target.JSON()))
		}
	})
	Convey("integers past float precision round trip exactly", t, func() {
		base := largeBody()
		base["id"] = int64(9007199254740993)
		target := base.Clone()
		target["id"] = int64(9007199254740995)
		d, err := Encode(base, target)
		So(err, ShouldBeNil)
		out, err := Decode(base, d)
		So(err, ShouldBeNil)
		So(out["id"], ShouldEqual, int64(9007199254740995))
		So(out.Equal(target), ShouldBeTrue)
	})
	Convey("rewriting most fields requires the full body", t, func() {
		base := types.Body{"a": 1, "b": 2}
		target := types.Body{"c": 3, "d": 4}
		_, err := Encode(base, target)
		So(errors.Cause(err), ShouldEqual, ErrFullBodyRequired)
	})
	Convey("unknown base or null values require the full body", t, func() {
		_, err := Encode(nil, largeBody())
		So(errors.Cause(err), ShouldEqual, ErrFullBodyRequired)

		target := largeBody()
		target["nested"].(map[string]interface{})["owner"] = nil
		_, err = Encode(largeBody(), target)
		So(errors.Cause(err), ShouldEqual, ErrFullBodyRequired)

		target = largeBody()
		target["tags"] = []interface{}{"a", nil}
		_, err = Encode(largeBody(), target)
		So(errors.Cause(err), ShouldEqual, ErrFullBodyRequired)
	})
	Convey("decode refuses a moved base", t, func() {
		base := largeBody()
		target := base.Clone()
		target["count"] = 2
		d, err := Encode(base, target)
		So(err, ShouldBeNil)

		moved := base.Clone()
		moved["count"] = 5
		_, err = Decode(moved, d)
		So(err, ShouldEqual, ErrBaseMismatch)
		_, err = Decode(nil, d)
		So(err, ShouldEqual, ErrBaseMismatch)

		_, err = Decode(base, nil)
		So(err, ShouldEqual, ErrInvalidDelta)
		_, err = Decode(base, &Delta{BaseHash: BodyHash(base), Patch: []byte("[1")})
		So(errors.Cause(err), ShouldEqual, ErrInvalidDelta)
		_, err = Decode(base, &Delta{BaseHash: BodyHash(base), Patch: []byte("[1]")})
		So(errors.Cause(err), ShouldEqual, ErrInvalidDelta)
	})
}

func TestCodec(t *testing.T) {
	Convey("resident bodies are used as delta base", t, func() {
		clock := clockwork.NewFakeClock()
		c, err := NewCodec(10, time.Minute, clock)
		So(err, ShouldBeNil)

		base := largeBody()
		c.Remember("doc", "1-aa", base)
		So(c.Len(), ShouldEqual, 1)

		target := base.Clone()
		target["count"] = 3
		d, err := c.EncodeFrom("doc", "1-aa", target)
		So(err, ShouldBeNil)
		So(d.BaseRev, ShouldEqual, "1-aa")
		out, err := Decode(base, d)
		So(err, ShouldBeNil)
		So(out.Equal(target), ShouldBeTrue)

		// bodies stored in the cache are copies
		base["count"] = 100
		resident, ok := c.Resident("doc", "1-aa")
		So(ok, ShouldBeTrue)
		So(resident["count"], ShouldEqual, 1)

		_, err = c.EncodeFrom("doc", "2-bb", target)
		So(errors.Cause(err), ShouldEqual, ErrFullBodyRequired)

		hits, misses := c.Stats()
		So(hits, ShouldEqual, 2)
		So(misses, ShouldEqual, 1)
	})
	Convey("expired bases fall back to the full body", t, func() {
		clock := clockwork.NewFakeClock()
		c, err := NewCodec(0, 0, clock)
		So(err, ShouldBeNil)

		base := largeBody()
		c.Remember("doc", "1-aa", base)
		clock.Advance(DefaultResidency - time.Second)
		_, ok := c.Resident("doc", "1-aa")
		So(ok, ShouldBeTrue)

		clock.Advance(2 * time.Second)
		target := base.Clone()
		target["count"] = 3
		_, err = c.EncodeFrom("doc", "1-aa", target)
		So(errors.Cause(err), ShouldEqual, ErrFullBodyRequired)
		So(c.Len(), ShouldEqual, 0)
	})
	Convey("cache is bounded and forgettable", t, func() {
		c, err := NewCodec(2, time.Hour, nil)
		So(err, ShouldBeNil)
		c.Remember("doc1", "1-a", types.Body{"v": 1})
		c.Remember("doc1", "2-b", types.Body{"v": 2})
		c.Remember("doc2", "1-c", types.Body{"v": 3})
		c.Remember("doc2", "1-d", nil)
		So(c.Len(), ShouldEqual, 2)
		_, ok := c.Resident("doc1", "1-a")
		So(ok, ShouldBeFalse)

		c.Forget("doc2")
		So(c.Len(), ShouldEqual, 1)
		_, ok = c.Resident("doc1", "2-b")
		So(ok, ShouldBeTrue)
	})
}
