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
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

type msgpackNestedStruct struct {
	C int64
}

type msgpackTestStruct struct {
	A string
	B msgpackNestedStruct
	M map[string]interface{}
}

func TestMsgPack_EncodeDecode(t *testing.T) {
	Convey("primitive value encode decode test", t, func() {
		i := uint64(1)
		buf, err := EncodeMsgPack(i)
		So(err, ShouldBeNil)
		var value uint64
		err = DecodeMsgPack(buf.Bytes(), &value)
		So(err, ShouldBeNil)
		So(value, ShouldEqual, i)
	})

	Convey("complex structure encode decode test", t, func() {
		preValue := &msgpackTestStruct{
			A: "happy",
			B: msgpackNestedStruct{
				C: 1,
			},
			M: map[string]interface{}{"title": "doc", "nested": map[string]interface{}{"k": "v"}},
		}
		buf, err := EncodeMsgPack(preValue)
		So(err, ShouldBeNil)
		var postValue msgpackTestStruct
		err = DecodeMsgPack(buf.Bytes(), &postValue)
		So(err, ShouldBeNil)
		So(postValue.A, ShouldEqual, "happy")
		So(postValue.B.C, ShouldEqual, 1)
		So(postValue.M["title"], ShouldEqual, "doc")
		So(postValue.M["nested"], ShouldResemble, map[string]interface{}{"k": "v"})
	})

	Convey("garbage should fail to decode", t, func() {
		var postValue msgpackTestStruct
		err := DecodeMsgPack([]byte{0xc1}, &postValue)
		So(err, ShouldNotBeNil)
	})
}

func TestHomeDirExpand(t *testing.T) {
	Convey("plain paths are untouched", t, func() {
		So(HomeDirExpand("/tmp/a"), ShouldEqual, "/tmp/a")
		So(HomeDirExpand("~"), ShouldNotEqual, "~")
		So(HomeDirExpand("~/x"), ShouldEndWith, "x")
	})
	Convey("ensure dir creates parents", t, func() {
		base, err := ioutil.TempDir("", "docsync-utils")
		So(err, ShouldBeNil)
		defer os.RemoveAll(base)
		target := filepath.Join(base, "a", "b", "db.ldb")
		So(EnsureDir(target), ShouldBeNil)
		_, err = os.Stat(filepath.Dir(target))
		So(err, ShouldBeNil)
	})
}
