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

// Package utils holds the small helpers shared by docsync storage and commands.
package utils

import (
	"bytes"
	"reflect"

	"github.com/ugorji/go/codec"
)

var (
	msgpackHandle = newMsgpackHandle()
)

func newMsgpackHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{
		WriteExt: true,
	}
	h.RawToString = true
	// nested documents decode to string keyed maps
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))
	return h
}

// DecodeMsgPack reverses the encode operation on a byte slice input.
func DecodeMsgPack(buf []byte, out interface{}) error {
	dec := codec.NewDecoder(bytes.NewReader(buf), msgpackHandle)
	return dec.Decode(out)
}

// EncodeMsgPack writes an encoded object to a new bytes buffer.
func EncodeMsgPack(in interface{}) (*bytes.Buffer, error) {
	buf := bytes.NewBuffer(nil)
	enc := codec.NewEncoder(buf, msgpackHandle)
	err := enc.Encode(in)
	return buf, err
}
