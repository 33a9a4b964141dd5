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

package bitfield_test

import (
	"testing"

	"laptudirm.com/x/torrent/pkg/bitfield"
)

func TestHas(t *testing.T) {
	b := bitfield.New([]byte{0b10100000, 0b00000101})

	set := []int{0, 2, 13, 15}
	unset := []int{1, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 14}

	for _, i := range set {
		if !b.Has(i) {
			t.Errorf("Has(%d): returned false", i)
		}
	}
	for _, i := range unset {
		if b.Has(i) {
			t.Errorf("Has(%d): returned true", i)
		}
	}

	// out of range indices are never set
	if b.Has(-1) || b.Has(16) || b.Has(100) {
		t.Error("Has: out of range index reported as set")
	}
}

func TestSetClear(t *testing.T) {
	b := bitfield.NewEmpty(12)

	b.Set(0)
	b.Set(11)
	if !b.Has(0) || !b.Has(11) {
		t.Error("Set: bit not set")
	}

	b.Clear(11)
	if b.Has(11) {
		t.Error("Clear: bit still set")
	}

	// out of range writes are ignored
	b.Set(-1)
	b.Set(16)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		pieces int
		length int
		ok     bool
	}{
		{2, 1, true},
		{8, 1, true},
		{9, 2, true},
		{16, 2, true},
		{17, 3, true},

		{8, 2, false},
		{9, 1, false},
		{16, 3, false},
		{17, 2, false},
	}

	for _, test := range tests {
		b := bitfield.New(make([]byte, test.length))
		err := b.Validate(test.pieces)
		if (err == nil) != test.ok {
			t.Errorf("Validate(%d pieces, %d bytes): err = %v", test.pieces, test.length, err)
		}
	}
}
