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

package torrent

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"laptudirm.com/x/torrent/internal/storage"
	"laptudirm.com/x/torrent/pkg/message"
	"laptudirm.com/x/torrent/pkg/peer"
)

// ErrChoked is returned when the peer chokes the client after data
// transfer has started. This client treats it as fatal instead of
// suspending and resuming the request window.
var ErrChoked = errors.New("torrent: peer choked mid-transfer")

// UnexpectedBlockError is returned when the peer sends a block that does
// not match any outstanding request, or whose length disagrees with the
// request it answers.
type UnexpectedBlockError struct {
	Index  int    // piece index of the received block
	Begin  int    // offset of the received block
	Reason string // what failed to match
}

func (e *UnexpectedBlockError) Error() string {
	return fmt.Sprintf("torrent: unexpected block %d of piece %d: %s", e.Begin, e.Index, e.Reason)
}

// HashMismatchError is returned when a completed piece does not hash to
// the digest recorded in the metainfo.
type HashMismatchError struct {
	Index    int      // the corrupt piece
	Expected [20]byte // digest from the metainfo
	Got      [20]byte // digest of the received piece
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("torrent: piece %d hashed to %x, expected %x", e.Index, e.Got, e.Expected)
}

// DownloadConfig holds the tunable parameters of a download.
type DownloadConfig struct {
	Window      int           // outstanding requests kept on the wire
	ConnTimeout time.Duration // timeout for dialing and announcing
	ReadTimeout time.Duration // deadline for each inbound message
}

// defaults fills the zero fields of the config.
func (c *DownloadConfig) defaults() {
	if c.Window == 0 {
		c.Window = 5
	}
	if c.ConnTimeout == 0 {
		c.ConnTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 20 * time.Second
	}
}

// DownloadTo downloads the whole torrent into a file at the provided
// path. It announces to the tracker, establishes a session with the
// first returned peer, and drives the block pipeline until every piece
// has been written and verified. Any failure is fatal and surfaces with
// the stage that caused it; partial writes may remain on disk.
func (t *Torrent) DownloadTo(path string, config *DownloadConfig) error {
	cfg := DownloadConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()

	peers, err := t.Peers(cfg.ConnTimeout)
	if err != nil {
		return errors.Wrap(err, "tracker")
	}

	conn, err := peer.Dial(peers[0], t.InfoHash, t.PeerID, len(t.PieceHashes), cfg.ConnTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.WithFields(log.Fields{
		"peer": conn.Peer.String(),
		"size": humanize.IBytes(uint64(t.Length)),
	}).Info("starting download")

	if err := conn.SendInterested(); err != nil {
		return errors.Wrap(err, "declare interest")
	}
	if err := conn.AwaitUnchoke(); err != nil {
		return errors.Wrap(err, "await unchoke")
	}

	out, err := storage.Create(path, t.Length, t.PieceLength)
	if err != nil {
		return err
	}
	defer out.Close()

	if err := t.download(conn, out, &cfg); err != nil {
		return err
	}

	log.WithField("name", t.Name).Info("download complete")
	return nil
}

// download represents the state of the block pipeline: the flattened
// request plan, the outstanding window, and the per-piece completion
// counters.
type download struct {
	torrent *Torrent
	conn    *peer.Conn
	out     *storage.File
	cfg     *DownloadConfig

	plan []blockRequest // the full request plan, in send order
	next int            // next plan entry to send

	outstanding []blockRequest // sent but unanswered requests
	remaining   []int          // bytes not yet received per piece
	verified    int            // pieces verified so far
}

// download drives the block pipeline over an established, unchoked
// session until every piece has been received, written, and verified.
func (t *Torrent) download(conn *peer.Conn, out *storage.File, cfg *DownloadConfig) error {
	d := &download{
		torrent: t,
		conn:    conn,
		out:     out,
		cfg:     cfg,
		plan:    t.blockPlan(),
	}

	d.remaining = make([]int, len(t.PieceHashes))
	for i := range d.remaining {
		d.remaining[i] = t.pieceSize(i)
	}

	// issue the first window of requests
	for d.next < len(d.plan) && len(d.outstanding) < cfg.Window {
		if err := d.issueNext(); err != nil {
			return err
		}
	}

	// one request is retired, and at most one issued, per received block
	for len(d.outstanding) > 0 {
		if err := d.readMessage(); err != nil {
			return err
		}
	}

	return nil
}

// issueNext sends the next request of the plan and adds it to the
// outstanding window.
func (d *download) issueNext() error {
	req := d.plan[d.next]

	err := d.conn.SendRequest(req.index, req.begin, req.length)
	if err != nil {
		return errors.Wrapf(err, "request block at %d of piece %d", req.begin, req.index)
	}

	d.next++
	d.outstanding = append(d.outstanding, req)
	return nil
}

// readMessage reads the next message from the session and reacts to it.
func (d *download) readMessage() error {
	d.conn.SetReadDeadline(time.Now().Add(d.cfg.ReadTimeout))
	defer d.conn.SetReadDeadline(time.Time{})

	msg, err := d.conn.Read()
	if err != nil {
		return errors.Wrap(err, "read peer message")
	}

	switch msg.Tag {
	case message.Choke:
		// a mid-transfer choke tears down the session
		d.conn.Choked = true
		return ErrChoked

	case message.UnChoke:
		d.conn.Choked = false

	case message.Have:
		// peer announced a new piece
		index, err := message.ParseHave(msg)
		if err != nil {
			return err
		}
		d.conn.Bitfield.Set(index)

	case message.Piece:
		block, err := message.ParseBlock(msg)
		if err != nil {
			return err
		}
		return d.handleBlock(block)

	default:
		// Cancel, NotInterested and the like are ignored by this client
	}

	return nil
}

// handleBlock matches a received block against the outstanding window,
// writes it at its absolute offset, refills the window from the plan,
// and verifies the piece if this block completed it.
func (d *download) handleBlock(block message.Block) error {
	if err := d.retire(block); err != nil {
		return err
	}

	err := d.out.WriteBlock(block.Index, block.Begin, block.Data)
	if err != nil {
		return errors.Wrapf(err, "block at %d of piece %d", block.Begin, block.Index)
	}

	log.WithFields(log.Fields{
		"piece": block.Index,
		"begin": block.Begin,
		"size":  len(block.Data),
	}).Debug("received block")

	// keep the window full while the plan lasts
	if d.next < len(d.plan) {
		if err := d.issueNext(); err != nil {
			return err
		}
	}

	d.remaining[block.Index] -= len(block.Data)
	if d.remaining[block.Index] == 0 {
		return d.verifyPiece(block.Index)
	}

	return nil
}

// retire removes the outstanding request the block answers. Replies may
// arrive in any order within the window, so the match is by piece index
// and offset; the window is small enough for a linear scan.
func (d *download) retire(block message.Block) error {
	for i, req := range d.outstanding {
		if req.index != block.Index || req.begin != block.Begin {
			continue
		}

		if req.length != len(block.Data) {
			return &UnexpectedBlockError{
				Index:  block.Index,
				Begin:  block.Begin,
				Reason: fmt.Sprintf("length %d does not match requested %d", len(block.Data), req.length),
			}
		}

		d.outstanding = append(d.outstanding[:i], d.outstanding[i+1:]...)
		return nil
	}

	return &UnexpectedBlockError{
		Index:  block.Index,
		Begin:  block.Begin,
		Reason: "no outstanding request",
	}
}

// verifyPiece reads a completed piece back from the output file and
// checks its SHA-1 digest against the metainfo. A corrupt piece fails
// the download.
func (d *download) verifyPiece(index int) error {
	piece, err := d.out.ReadPiece(index, d.torrent.pieceSize(index))
	if err != nil {
		return err
	}

	expected := d.torrent.PieceHashes[index]
	if got := sha1.Sum(piece); !bytes.Equal(got[:], expected[:]) {
		return &HashMismatchError{
			Index:    index,
			Expected: expected,
			Got:      got,
		}
	}

	d.verified++
	log.WithFields(log.Fields{
		"piece": index,
		"done":  fmt.Sprintf("%d/%d", d.verified, len(d.torrent.PieceHashes)),
	}).Info("piece verified")

	return nil
}
