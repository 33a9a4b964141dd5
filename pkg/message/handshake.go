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

package message

import (
	"fmt"
	"io"
)

// ProtocolName is the protocol identifier exchanged during the handshake.
const ProtocolName = "BitTorrent protocol"

// HandshakeLength is the exact size of a serialized handshake:
// 1 + 19 + 8 + 20 + 20 bytes.
const HandshakeLength = 68

// HandshakeError is returned when a peer's handshake does not match the
// expected prologue or info-hash.
type HandshakeError struct {
	Field    string // offending handshake field
	Expected []byte // what the client sent or expected
	Observed []byte // what the peer returned
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake: peer sent %s %x, expected %x", e.Field, e.Observed, e.Expected)
}

// Handshake represents the fixed 68-byte prologue exchanged as the very
// first bytes in both directions on a fresh peer connection.
type Handshake struct {
	Protocol   string   // protocol understood by the sender
	Reserved   [8]byte  // reserved bits, all zero in this client
	InfoHash   [20]byte // info hash of the torrent
	Identifier [20]byte // peer id of the sender
}

// NewHandshake creates a new Handshake value with the provided infohash
// and peer identifier.
func NewHandshake(hash, name [20]byte) *Handshake {
	return &Handshake{
		Protocol:   ProtocolName,
		Reserved:   [8]byte{},
		InfoHash:   hash,
		Identifier: name,
	}
}

// Serialize serializes the handshake into its fixed 68-byte form.
// [length] [protocol] [reserved] [infohash] [id]
func (h *Handshake) Serialize() []byte {
	buffer := make([]byte, HandshakeLength)

	buffer[0] = byte(len(h.Protocol))
	cursor := 1
	cursor += copy(buffer[cursor:], h.Protocol)
	cursor += copy(buffer[cursor:], h.Reserved[:])
	cursor += copy(buffer[cursor:], h.InfoHash[:])
	copy(buffer[cursor:], h.Identifier[:])

	return buffer
}

// ReadHandshake reads a serialized Handshake from an io.Reader. The
// length byte must be 19, the length of "BitTorrent protocol"; any other
// prologue is rejected before more bytes are read.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	lenBuf := make([]byte, 1)
	_, err := io.ReadFull(r, lenBuf)
	if err != nil {
		return nil, err
	}

	if int(lenBuf[0]) != len(ProtocolName) {
		return nil, &HandshakeError{
			Field:    "protocol length",
			Expected: []byte{byte(len(ProtocolName))},
			Observed: lenBuf,
		}
	}

	// protocol, reserved, infohash, id
	buffer := make([]byte, HandshakeLength-1)
	_, err = io.ReadFull(r, buffer)
	if err != nil {
		return nil, err
	}

	h := &Handshake{Protocol: string(buffer[:19])}
	copy(h.Reserved[:], buffer[19:27])
	copy(h.InfoHash[:], buffer[27:47])
	copy(h.Identifier[:], buffer[47:67])

	return h, nil
}

// Verify checks that the handshake carries the expected protocol string
// and info-hash. The peer's identifier is recorded but not validated.
func (h *Handshake) Verify(hash [20]byte) error {
	switch {
	case h.Protocol != ProtocolName:
		return &HandshakeError{
			Field:    "protocol",
			Expected: []byte(ProtocolName),
			Observed: []byte(h.Protocol),
		}
	case h.InfoHash != hash:
		return &HandshakeError{
			Field:    "info-hash",
			Expected: hash[:],
			Observed: h.InfoHash[:],
		}
	default:
		return nil
	}
}
