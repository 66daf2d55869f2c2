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

package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mohae/deepcopy"
)

const (
	// ChannelsField is the body property declaring the document channels.
	ChannelsField = "channels"
	// BlobType marks a nested mapping as a blob reference.
	BlobType = "blob"
)

// Body is the JSON content of a document revision.
type Body map[string]interface{}

// Clone returns a deep copy of the body.
func (b Body) Clone() Body {
	if b == nil {
		return nil
	}
	return deepcopy.Copy(b).(Body)
}

// ParseBody decodes a JSON object. Integers decode to int64, or to json.Number past
// the int64 range, and other numbers to float64.
func ParseBody(data []byte) (b Body, err error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]interface{}
	if err = dec.Decode(&m); err != nil {
		return
	}
	if m != nil {
		b = Body(numbers(m).(map[string]interface{}))
	}
	return
}

// UnmarshalJSON implements json.Unmarshaler with ParseBody.
func (b *Body) UnmarshalJSON(data []byte) (err error) {
	*b, err = ParseBody(data)
	return
}

func numbers(v interface{}) interface{} {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if isIntegral(x.String()) {
			// beyond int64, kept verbatim
			return x
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x
	case map[string]interface{}:
		for k, e := range x {
			x[k] = numbers(e)
		}
	case []interface{}:
		for i, e := range x {
			x[i] = numbers(e)
		}
	}
	return v
}

// isIntegral reports whether a JSON number literal has neither fraction nor exponent.
func isIntegral(lit string) bool {
	return !strings.ContainsAny(lit, ".eE")
}

// JSON returns the canonical encoding of the body with map keys sorted.
func (b Body) JSON() []byte {
	if b == nil {
		return []byte("{}")
	}
	data, err := json.Marshal(map[string]interface{}(b))
	if err != nil {
		// unsupported values are stringified so hashing stays total
		return []byte(fmt.Sprintf("%v", map[string]interface{}(b)))
	}
	return data
}

// Size returns the byte length of the canonical encoding.
func (b Body) Size() int {
	return len(b.JSON())
}

// Channels returns the sorted, deduplicated channels declared by the body.
func (b Body) Channels() (channels []string) {
	if b == nil {
		return
	}
	switch v := b[ChannelsField].(type) {
	case string:
		if v != "" {
			channels = []string{v}
		}
	case []string:
		channels = append(channels, v...)
	case []interface{}:
		for _, c := range v {
			if s, ok := c.(string); ok && s != "" {
				channels = append(channels, s)
			}
		}
	}
	return NormalizeChannels(channels)
}

// Equal reports whether two bodies have the same canonical encoding.
func (b Body) Equal(o Body) bool {
	return string(b.JSON()) == string(o.JSON())
}

// NormalizeChannels sorts and deduplicates a channel list.
func NormalizeChannels(channels []string) []string {
	if len(channels) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(channels))
	out := make([]string, 0, len(channels))
	for _, c := range channels {
		if _, ok := set[c]; ok {
			continue
		}
		set[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// NewBlob builds a blob reference suitable for embedding into a body.
func NewBlob(digest string, length int64, contentType string) map[string]interface{} {
	return map[string]interface{}{
		"@type":        BlobType,
		"digest":       digest,
		"length":       length,
		"content_type": contentType,
	}
}

// IsBlob reports whether v is a blob reference.
func IsBlob(v interface{}) bool {
	m, ok := v.(map[string]interface{})
	if !ok {
		return false
	}
	t, _ := m["@type"].(string)
	return t == BlobType
}
