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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"laptudirm.com/x/torrent/pkg/message"
)

func TestSerialize(t *testing.T) {
	m := &message.Message{Tag: message.Interested}
	b, err := m.Serialize()
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 1, 2}, b)

	req := message.NewRequest(1, 16384, 16384)
	b, err = req.Serialize()
	require.NoError(t, err)
	require.Equal(t, []byte{
		0, 0, 0, 13, // length 13
		6,             // Request
		0, 0, 0, 1,    // index
		0, 0, 0x40, 0, // begin
		0, 0, 0x40, 0, // length
	}, b)

	// nil message is a keep-alive
	var nilMsg *message.Message
	b, err = nilMsg.Serialize()
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 0}, b)
}

func TestSerializeTooLarge(t *testing.T) {
	m := &message.Message{Tag: message.Piece, Payload: make([]byte, message.MaxFrame)}
	_, err := m.Serialize()

	var tooLarge *message.FrameTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	require.Equal(t, message.MaxFrame+1, tooLarge.Length)
}

// A keep-alive directly before a frame is consumed along with it.
func TestDecodeKeepAlive(t *testing.T) {
	input := []byte{0, 0, 0, 0, 0, 0, 0, 1, 2}

	msg, n, err := message.Decode(input)
	require.NoError(t, err)
	require.Equal(t, len(input), n)
	require.Equal(t, message.Interested, msg.Tag)
	require.Empty(t, msg.Payload)
}

func TestDecodeNeedMore(t *testing.T) {
	full, err := message.NewRequest(0, 0, 16384).Serialize()
	require.NoError(t, err)

	// every strict prefix of a frame needs more data
	for i := 0; i < len(full); i++ {
		msg, n, err := message.Decode(full[:i])
		require.NoError(t, err, "prefix of length %d", i)
		require.Nil(t, msg, "prefix of length %d", i)
		require.Zero(t, n, "prefix of length %d", i)
	}

	// a lone keep-alive is consumed even when nothing follows
	msg, n, err := message.Decode([]byte{0, 0, 0, 0})
	require.NoError(t, err)
	require.Nil(t, msg)
	require.Equal(t, 4, n)
}

func TestDecodeTooLarge(t *testing.T) {
	input := []byte{0, 1, 0, 1} // length 65537

	_, _, err := message.Decode(input)
	var tooLarge *message.FrameTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	require.Equal(t, 65537, tooLarge.Length)
}

func TestDecodeUnknownTag(t *testing.T) {
	input := []byte{0, 0, 0, 1, 9}

	_, _, err := message.Decode(input)
	var unknown *message.UnknownTagError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, byte(9), unknown.Tag)
}

// Decoding a serialized message yields the same tag and payload, and
// consumes exactly the frame length.
func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(0xf4a3e4))

	for i := 0; i < 200; i++ {
		payload := make([]byte, rng.Intn(2048))
		rng.Read(payload)

		want := &message.Message{
			Tag:     message.Tag(rng.Intn(9)),
			Payload: payload,
		}

		b, err := want.Serialize()
		require.NoError(t, err)

		got, n, err := message.Decode(b)
		require.NoError(t, err)
		require.Equal(t, len(b), n)
		require.Equal(t, want.Tag, got.Tag)
		require.Equal(t, want.Payload, got.Payload)
	}
}

func TestRead(t *testing.T) {
	var stream bytes.Buffer
	stream.Write([]byte{0, 0, 0, 0}) // keep-alive
	b, err := message.NewHave(7).Serialize()
	require.NoError(t, err)
	stream.Write(b)

	msg, err := message.Read(&stream)
	require.NoError(t, err)
	require.Equal(t, message.Have, msg.Tag)

	index, err := message.ParseHave(msg)
	require.NoError(t, err)
	require.Equal(t, 7, index)
}

func TestParseBlock(t *testing.T) {
	payload := []byte{
		0, 0, 0, 3, // index
		0, 0, 0x40, 0, // begin
		'd', 'a', 't', 'a',
	}
	msg := &message.Message{Tag: message.Piece, Payload: payload}

	block, err := message.ParseBlock(msg)
	require.NoError(t, err)
	require.Equal(t, 3, block.Index)
	require.Equal(t, 16384, block.Begin)
	require.Equal(t, []byte("data"), block.Data)

	// too short a payload is rejected
	_, err = message.ParseBlock(&message.Message{Tag: message.Piece, Payload: payload[:7]})
	require.Error(t, err)

	// wrong tag is rejected
	_, err = message.ParseBlock(&message.Message{Tag: message.Have, Payload: payload})
	require.Error(t, err)
}
