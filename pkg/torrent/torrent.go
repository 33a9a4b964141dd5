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

// Package torrent drives the download of a single torrent from a single
// peer: announcing to the tracker, establishing the peer session, and
// running the block request pipeline with per-piece hash verification.
package torrent

import (
	"crypto/rand"
	"time"

	"laptudirm.com/x/torrent/pkg/metainfo"
	"laptudirm.com/x/torrent/pkg/peer"
	"laptudirm.com/x/torrent/pkg/tracker"
)

// Torrent represents the data required to fetch peers and download a
// torrent from a tracker.
type Torrent struct {
	Announce string   // the announce url of the tracker
	InfoHash [20]byte // hash of the info section of the torrent

	PieceHashes [][20]byte // hash of each torrent piece
	PieceLength int        // length of each piece in bytes
	Length      int        // total length of the content
	Name        string     // advisory output name

	PeerID [20]byte // client identifier
	Port   uint16   // port reported to the tracker
}

// DefaultPort is the port the client reports to trackers.
const DefaultPort = 6881

// New builds a Torrent from a parsed metainfo document and the client's
// identity.
func New(m *metainfo.MetaInfo, peerID [20]byte, port uint16) *Torrent {
	count := m.PieceCount()
	hashes := make([][20]byte, count)
	for i := 0; i < count; i++ {
		hashes[i] = m.PieceHash(i)
	}

	return &Torrent{
		Announce:    m.Announce,
		InfoHash:    m.InfoHash(),
		PieceHashes: hashes,
		PieceLength: m.Info.PieceLength,
		Length:      m.TotalLength(),
		Name:        m.Info.Name,
		PeerID:      peerID,
		Port:        port,
	}
}

// Peers announces to the torrent's tracker and returns the peer list.
func (t *Torrent) Peers(timeout time.Duration) ([]peer.Peer, error) {
	client := tracker.NewClient(timeout)

	res, err := client.Announce(&tracker.Request{
		Announce: t.Announce,
		InfoHash: t.InfoHash,
		PeerID:   t.PeerID,
		Port:     t.Port,
		Left:     t.Length,
	})
	if err != nil {
		return nil, err
	}

	return res.Peers, nil
}

// pieceSize calculates the length of the piece with the provided index.
func (t *Torrent) pieceSize(index int) int {
	begin := index * t.PieceLength // beginning of piece
	end := begin + t.PieceLength   // end of piece

	// last piece is irregular in length
	if end > t.Length {
		return t.Length - begin
	}

	return t.PieceLength
}

// Identifier generates a random client identifier for use.
func Identifier() [20]byte {
	var id [20]byte
	rand.Read(id[:])

	return id
}
