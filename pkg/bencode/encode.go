// Copyright © 2021 Rak Laptudirm <raklaptudirm@gmail.com>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bencode

import (
	"bytes"
	"sort"
	"strconv"
)

// Encode encodes the value into its canonical bencode form: strings and
// integers encode literally, lists encode elements in input order, and
// dictionaries emit their keys in lexicographic ascending order no matter
// what order they were inserted or decoded in. Decoding a canonically
// encoded document and encoding the result reproduces the input exactly,
// which is what makes the info-hash of a metainfo file well defined.
func (v Value) Encode() []byte {
	var buf bytes.Buffer
	v.encode(&buf)
	return buf.Bytes()
}

// encode writes the canonical encoding of the value into the buffer.
func (v Value) encode(buf *bytes.Buffer) {
	switch v.kind {
	case Bytes:
		encodeBytes(buf, v.bytes)

	case Integer:
		// i<number>e
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.integer, 10))
		buf.WriteByte('e')

	case List:
		// l<elements>e
		buf.WriteByte('l')
		for _, elem := range v.list {
			elem.encode(buf)
		}
		buf.WriteByte('e')

	case Dict:
		// d<key value pairs>e with sorted keys
		buf.WriteByte('d')

		keys := make([]string, len(v.keys))
		copy(keys, v.keys)
		sort.Strings(keys)

		for _, key := range keys {
			encodeBytes(buf, []byte(key))
			v.dict[key].encode(buf)
		}
		buf.WriteByte('e')
	}
}

// encodeBytes writes a byte string into the buffer in the bencode string
// format: <length>:<raw bytes>
func encodeBytes(buf *bytes.Buffer, b []byte) {
	buf.WriteString(strconv.Itoa(len(b)))
	buf.WriteByte(':')
	buf.Write(b)
}
