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

package message_test

import (
	"bytes"
	"testing"

	"laptudirm.com/x/torrent/pkg/message"
)

func TestHandshakeSerialize(t *testing.T) {
	hash := [20]byte{'m', 'e', 't', 'a', 'd', 'a', 't', 'a', ' ', 'f', 'o', 'r', ' ', 't', 'o', 'r', 'r', 'e', 'n', 't'}
	id := [20]byte{'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9'}

	handshake := message.NewHandshake(hash, id).Serialize()

	expected := append(
		append(
			[]byte{'\x13',
				'B', 'i', 't', 'T', 'o', 'r', 'r', 'e', 'n', 't', ' ', 'p', 'r', 'o', 't', 'o', 'c', 'o', 'l',
				'\x00', '\x00', '\x00', '\x00', '\x00', '\x00', '\x00', '\x00'},
			hash[:]...),
		id[:]...)

	if len(handshake) != message.HandshakeLength {
		t.Fatalf("Serialize: handshake is %d bytes, want %d", len(handshake), message.HandshakeLength)
	}
	if !bytes.Equal(handshake, expected) {
		t.Errorf("Serialize: expected handshake\n%v but got\n%v instead", expected, handshake)
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	hash := [20]byte{0x12, 0x34, 0x56}
	id := [20]byte{'1', '1', '1', '1', '1', '1', '1', '1', '1', '1', '1', '1', '1', '1', '1', '1', '1', '1', '1', '1'}

	serialized := message.NewHandshake(hash, id).Serialize()

	h, err := message.ReadHandshake(bytes.NewReader(serialized))
	if err != nil {
		t.Fatalf("ReadHandshake: unexpected error %v", err)
	}

	if h.Protocol != message.ProtocolName {
		t.Errorf("ReadHandshake: protocol %q", h.Protocol)
	}
	if h.InfoHash != hash {
		t.Errorf("ReadHandshake: infohash %x, want %x", h.InfoHash, hash)
	}
	if h.Identifier != id {
		t.Errorf("ReadHandshake: identifier %x, want %x", h.Identifier, id)
	}

	if err := h.Verify(hash); err != nil {
		t.Errorf("Verify: unexpected error %v", err)
	}
}

func TestHandshakeVerifyMismatch(t *testing.T) {
	hash := [20]byte{1, 2, 3}
	other := [20]byte{4, 5, 6}

	h := message.NewHandshake(hash, [20]byte{})
	err := h.Verify(other)
	if err == nil {
		t.Fatal("Verify: expected error for wrong infohash")
	}

	if _, ok := err.(*message.HandshakeError); !ok {
		t.Errorf("Verify: error %T is not a HandshakeError", err)
	}
}

func TestReadHandshakeBadPrologue(t *testing.T) {
	bad := make([]byte, message.HandshakeLength)
	bad[0] = 18 // wrong protocol length byte

	_, err := message.ReadHandshake(bytes.NewReader(bad))
	if err == nil {
		t.Fatal("ReadHandshake: expected error for wrong length byte")
	}

	if _, ok := err.(*message.HandshakeError); !ok {
		t.Errorf("ReadHandshake: error %T is not a HandshakeError", err)
	}
}
