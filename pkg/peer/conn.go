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

package peer

import (
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"laptudirm.com/x/torrent/pkg/bitfield"
	"laptudirm.com/x/torrent/pkg/message"
)

// ProtocolError is returned when a peer sends a message the session
// state does not allow, or when the client is asked to violate the
// protocol itself.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "peer: protocol violation: " + e.Reason
}

// handshakeTimeout bounds the initial handshake and bitfield exchange.
const handshakeTimeout = 5 * time.Second

// Conn represents a peer-wire session with a single peer. It owns the
// underlying TCP connection for its lifetime.
type Conn struct {
	conn net.Conn

	Peer     Peer              // the remote endpoint
	PeerID   [20]byte          // remote identifier from the handshake
	Bitfield bitfield.Bitfield // pieces the peer claims to hold
	InfoHash [20]byte          // torrent infohash

	Interested bool // whether the client has declared interest
	Choked     bool // whether the peer is choking the client
}

// Dial establishes a peer-wire session with the provided peer: it opens
// a TCP connection, exchanges handshakes, and receives the peer's
// bitfield. The session starts choked and not interested.
func Dial(p Peer, hash, name [20]byte, pieces int, timeout time.Duration) (*Conn, error) {
	conn, err := net.DialTimeout("tcp", p.String(), timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to peer %s", p)
	}

	c, err := NewConn(conn, p, hash, name, pieces)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return c, nil
}

// NewConn establishes a peer-wire session over an already open
// connection. The 68-byte handshakes are exchanged and verified, and the
// peer's bitfield is received and validated against the piece count.
func NewConn(conn net.Conn, p Peer, hash, name [20]byte, pieces int) (*Conn, error) {
	res, err := handshake(conn, hash, name)
	if err != nil {
		return nil, errors.Wrap(err, "handshake")
	}

	b, err := recvBitfield(conn, pieces)
	if err != nil {
		return nil, errors.Wrap(err, "receive bitfield")
	}

	log.WithFields(log.Fields{
		"peer": p.String(),
		"id":   fmt.Sprintf("%x", res.Identifier),
	}).Debug("connected to peer")

	return &Conn{
		conn:     conn,
		Peer:     p,
		PeerID:   res.Identifier,
		Bitfield: b,
		InfoHash: hash,
		Choked:   true,
	}, nil
}

// Identify performs a handshake with the provided peer and returns its
// peer id, closing the connection afterwards. It is the probe behind the
// handshake command.
func Identify(p Peer, hash, name [20]byte, timeout time.Duration) ([20]byte, error) {
	conn, err := net.DialTimeout("tcp", p.String(), timeout)
	if err != nil {
		return [20]byte{}, errors.Wrapf(err, "connect to peer %s", p)
	}
	defer conn.Close()

	res, err := handshake(conn, hash, name)
	if err != nil {
		return [20]byte{}, errors.Wrap(err, "handshake")
	}

	return res.Identifier, nil
}

// handshake writes the local handshake in full and reads the peer's in
// return, verifying its prologue and info-hash.
func handshake(conn net.Conn, hash, name [20]byte) (*message.Handshake, error) {
	// set handshake deadline
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{}) // disable deadline

	req := message.NewHandshake(hash, name)
	_, err := conn.Write(req.Serialize())
	if err != nil {
		return nil, err
	}

	res, err := message.ReadHandshake(conn)
	if err != nil {
		return nil, err
	}

	if err := res.Verify(hash); err != nil {
		return nil, err
	}

	return res, nil
}

// recvBitfield reads the peer's bitfield, which is expected as the first
// message after the handshake, and validates its length against the
// torrent's piece count.
func recvBitfield(conn net.Conn, pieces int) (bitfield.Bitfield, error) {
	// set bitfield deadline
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{}) // disable deadline

	msg, err := message.Read(conn)
	if err != nil {
		return bitfield.Bitfield{}, err
	}

	if msg.Tag != message.Bitfield {
		return bitfield.Bitfield{}, &ProtocolError{
			Reason: fmt.Sprintf("expected Bitfield message, received %v", msg.Tag),
		}
	}

	b := bitfield.New(msg.Payload)
	if err := b.Validate(pieces); err != nil {
		return bitfield.Bitfield{}, err
	}

	return b, nil
}

// Read reads the next message from the session, blocking past any
// keep-alives.
func (c *Conn) Read() (*message.Message, error) {
	return message.Read(c.conn)
}

// SetReadDeadline bounds the next reads from the session. A zero time
// disables the deadline.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SendInterested declares interest in the peer's pieces.
func (c *Conn) SendInterested() error {
	if err := c.send(&message.Message{Tag: message.Interested}); err != nil {
		return err
	}

	c.Interested = true
	return nil
}

// SendRequest sends a block request to the peer. Sending a request
// before the client is interested and unchoked is a protocol violation
// and is refused locally.
func (c *Conn) SendRequest(index, begin, length int) error {
	if !c.Interested || c.Choked {
		return &ProtocolError{Reason: "Request sent while choked or not interested"}
	}

	return c.send(message.NewRequest(index, begin, length))
}

// AwaitUnchoke consumes messages until the peer unchokes the client.
// Have messages received while waiting update the peer's bitfield; data
// messages are violations since nothing was requested yet.
func (c *Conn) AwaitUnchoke() error {
	for {
		msg, err := c.Read()
		if err != nil {
			return err
		}

		switch msg.Tag {
		case message.UnChoke:
			c.Choked = false
			return nil

		case message.Choke:
			c.Choked = true

		case message.Have:
			index, err := message.ParseHave(msg)
			if err != nil {
				return err
			}
			c.Bitfield.Set(index)

		case message.Piece:
			return &ProtocolError{Reason: "Piece received without outstanding request"}

		default:
			// informational messages are ignored while waiting
		}
	}
}

// Close tears down the session's connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// send serializes and writes a message to the peer.
func (c *Conn) send(m *message.Message) error {
	b, err := m.Serialize()
	if err != nil {
		return err
	}

	_, err = c.conn.Write(b)
	return err
}
