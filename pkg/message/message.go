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

// Package message implements the framing of bittorrent peer-wire
// messages. After the fixed handshake, every byte on the wire belongs to
// a length-prefixed frame: a 4 byte big-endian length, a tag byte, and
// the payload. A frame of length zero is a keep-alive and carries
// neither tag nor payload.
package message

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Tag identifies the various message types.
type Tag byte

// message types and their wire tags, exhaustive for this client.
const (
	Choke         Tag = 0
	UnChoke       Tag = 1
	Interested    Tag = 2
	NotInterested Tag = 3
	Have          Tag = 4
	Bitfield      Tag = 5
	Request       Tag = 6
	Piece         Tag = 7
	Cancel        Tag = 8
)

var tags = [...]string{
	Choke:         "Choke",
	UnChoke:       "UnChoke",
	Interested:    "Interested",
	NotInterested: "NotInterested",
	Have:          "Have",
	Bitfield:      "Bitfield",
	Request:       "Request",
	Piece:         "Piece",
	Cancel:        "Cancel",
}

func (t Tag) String() string {
	if int(t) < len(tags) {
		return tags[t]
	}
	return fmt.Sprintf("Tag(%d)", byte(t))
}

// MaxFrame is the maximum legal size of a frame's tag plus payload.
// Larger frames are rejected in both directions so that a misbehaving
// peer cannot make the client buffer unbounded amounts of data.
const MaxFrame = 1 << 16

// lenPrefix is the size of the big-endian length prefix of each frame.
const lenPrefix = 4

// FrameTooLargeError is returned when a frame's length prefix exceeds
// MaxFrame.
type FrameTooLargeError struct {
	Length int // the offending frame length
}

func (e *FrameTooLargeError) Error() string {
	return fmt.Sprintf("message: frame of length %d exceeds maximum of %d", e.Length, MaxFrame)
}

// UnknownTagError is returned when a frame carries a tag byte outside the
// assigned range.
type UnknownTagError struct {
	Tag byte // the offending tag
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("message: unknown message tag %d", e.Tag)
}

// Message represents a bittorrent peer-wire message.
type Message struct {
	Tag     Tag    // message tag
	Payload []byte // message payload
}

// Serialize serializes a message into a byte slice.
// [length] [tag] [payload]
//
// A nil message serializes as a keep-alive. Serialize refuses to encode
// a frame whose tag plus payload exceeds MaxFrame.
func (m *Message) Serialize() ([]byte, error) {
	if m == nil {
		return make([]byte, lenPrefix), nil
	}

	length := len(m.Payload) + 1
	if length > MaxFrame {
		return nil, &FrameTooLargeError{Length: length}
	}

	msg := make([]byte, lenPrefix+length)
	binary.BigEndian.PutUint32(msg[:lenPrefix], uint32(length))
	msg[lenPrefix] = byte(m.Tag)
	copy(msg[lenPrefix+1:], m.Payload)

	return msg, nil
}

// Decode decodes at most one message from the head of buf and returns it
// along with the number of bytes consumed. Keep-alive frames are consumed
// silently and never surface. If buf does not yet hold a complete frame,
// Decode returns a nil message along with the number of keep-alive bytes
// it consumed; the caller appends more data and calls again.
func Decode(buf []byte) (*Message, int, error) {
	consumed := 0

	for {
		rest := buf[consumed:]
		if len(rest) < lenPrefix {
			return nil, consumed, nil // need more data
		}

		length := int(binary.BigEndian.Uint32(rest[:lenPrefix]))

		// keep-alive frame, discard and continue
		if length == 0 {
			consumed += lenPrefix
			continue
		}

		if length > MaxFrame {
			return nil, consumed, &FrameTooLargeError{Length: length}
		}

		if len(rest) < lenPrefix+length {
			return nil, consumed, nil // need more data
		}

		tag := rest[lenPrefix]
		if Tag(tag) > Cancel {
			return nil, consumed, &UnknownTagError{Tag: tag}
		}

		payload := make([]byte, length-1)
		copy(payload, rest[lenPrefix+1:lenPrefix+length])

		return &Message{
			Tag:     Tag(tag),
			Payload: payload,
		}, consumed + lenPrefix + length, nil
	}
}

// Read reads one serialized message from an io.Reader, blocking until a
// full non-keep-alive frame arrives.
func Read(r io.Reader) (*Message, error) {
	for {
		// read length prefix
		lenBuf := make([]byte, lenPrefix)
		_, err := io.ReadFull(r, lenBuf)
		if err != nil {
			return nil, err
		}
		length := int(binary.BigEndian.Uint32(lenBuf))

		// keep-alive message, await the next frame
		if length == 0 {
			continue
		}

		if length > MaxFrame {
			return nil, &FrameTooLargeError{Length: length}
		}

		// read tag and payload
		msgBuf := make([]byte, length)
		_, err = io.ReadFull(r, msgBuf)
		if err != nil {
			return nil, err
		}

		if Tag(msgBuf[0]) > Cancel {
			return nil, &UnknownTagError{Tag: msgBuf[0]}
		}

		return &Message{
			Tag:     Tag(msgBuf[0]),
			Payload: msgBuf[1:],
		}, nil
	}
}

// NewRequest formats a block request into a Message value.
func NewRequest(index, begin, length int) *Message {
	payload := make([]byte, 12)

	// [index] [begin] [length]
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))

	return &Message{
		Tag:     Request,
		Payload: payload,
	}
}

// NewCancel formats a block cancel into a Message value.
func NewCancel(index, begin, length int) *Message {
	m := NewRequest(index, begin, length)
	m.Tag = Cancel
	return m
}

// NewHave formats a have announcement into a Message value.
func NewHave(index int) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))

	return &Message{
		Tag:     Have,
		Payload: payload,
	}
}

// ParseHave parses a Have Message to get the piece index.
func ParseHave(msg *Message) (int, error) {
	if msg.Tag != Have {
		return 0, fmt.Errorf("message: expected Have message, received %v", msg.Tag)
	}

	if len(msg.Payload) != 4 {
		return 0, fmt.Errorf("message: expected payload of length 4, received %v", len(msg.Payload))
	}

	return int(binary.BigEndian.Uint32(msg.Payload)), nil
}

// Block represents the payload of a Piece message: a block of data at an
// offset inside a piece.
type Block struct {
	Index int    // index of the piece
	Begin int    // offset of the block inside the piece
	Data  []byte // block contents
}

// ParseBlock parses a Piece Message into a Block.
func ParseBlock(msg *Message) (Block, error) {
	if msg.Tag != Piece {
		return Block{}, fmt.Errorf("message: expected Piece message, received %v", msg.Tag)
	}

	if len(msg.Payload) < 8 {
		return Block{}, fmt.Errorf("message: Piece payload too short with length %v", len(msg.Payload))
	}

	return Block{
		Index: int(binary.BigEndian.Uint32(msg.Payload[:4])),
		Begin: int(binary.BigEndian.Uint32(msg.Payload[4:8])),
		Data:  msg.Payload[8:],
	}, nil
}
