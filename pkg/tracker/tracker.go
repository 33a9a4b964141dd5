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

// Package tracker implements the one-shot HTTP announce a client makes
// to obtain the peer list for a torrent.
package tracker

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackpal/bencode-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"laptudirm.com/x/torrent/pkg/peer"
)

// RejectedError is returned when the tracker answers the announce with a
// failure reason instead of a peer list.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "tracker: rejected announce: " + e.Reason
}

// ErrNoPeers is returned when the tracker accepts the announce but hands
// back an empty peer list.
var ErrNoPeers = errors.New("tracker: no peers returned")

// Response represents the useful parts of a tracker announce response.
type Response struct {
	Interval time.Duration // how long to wait before re-announcing
	Peers    []peer.Peer   // peer endpoints to download from
}

// response represents the raw bencoded response from the tracker.
type response struct {
	Failure string `bencode:"failure reason"`  // failure message
	Warning string `bencode:"warning message"` // warning message

	Interval   int `bencode:"interval"`     // interval to reconnect after
	MinIntrval int `bencode:"min interval"` // minimum interval to reconnect after

	CompletePeers   int `bencode:"complete"`   // number of seeders
	IncompletePeers int `bencode:"incomplete"` // number of leechers

	Peers string `bencode:"peers"` // compact peer ips and ports
}

// Request carries the query parameters of a tracker announce.
type Request struct {
	Announce string   // tracker announce url
	InfoHash [20]byte // infohash of the torrent
	PeerID   [20]byte // client identifier
	Port     uint16   // port reported to the tracker

	Uploaded   int // bytes uploaded so far
	Downloaded int // bytes downloaded so far
	Left       int // bytes left to download
}

// URL returns the announce url with the request's parameters attached.
// The info-hash and peer id are raw bytes escaped byte for byte as %HH;
// they are appended by hand because url.Values would treat them as UTF-8
// text.
func (r *Request) URL() (string, error) {
	base, err := url.Parse(r.Announce)
	if err != nil {
		return "", errors.Wrap(err, "parse announce url")
	}

	// set url params
	params := url.Values{
		"port":       []string{strconv.Itoa(int(r.Port))},       // port reported to the tracker
		"uploaded":   []string{strconv.Itoa(r.Uploaded)},        // number of bytes uploaded
		"downloaded": []string{strconv.Itoa(r.Downloaded)},      // number of bytes downloaded
		"left":       []string{strconv.Itoa(r.Left)},            // number of bytes left to download
		"compact":    []string{"1"},                             // request the compact peer list format
	}
	base.RawQuery = params.Encode()
	base.RawQuery += "&info_hash=" + percentEncode(r.InfoHash[:])
	base.RawQuery += "&peer_id=" + percentEncode(r.PeerID[:])

	return base.String(), nil
}

// percentEncode escapes every byte of b as %HH.
func percentEncode(b []byte) string {
	var sb strings.Builder
	for _, v := range b {
		fmt.Fprintf(&sb, "%%%02X", v)
	}
	return sb.String()
}

// Client makes announce requests to trackers.
type Client struct {
	http *http.Client
}

// NewClient creates a tracker client whose requests time out after the
// provided duration.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		http: &http.Client{Timeout: timeout},
	}
}

// Announce makes a single announce to the tracker named by the request
// and parses the returned peer list. An announce that reaches the
// tracker but is answered with a failure reason fails with a
// RejectedError; an accepted announce with no peers fails with
// ErrNoPeers.
func (c *Client) Announce(r *Request) (*Response, error) {
	u, err := r.URL()
	if err != nil {
		return nil, err
	}

	log.WithField("url", u).Debug("announcing to tracker")

	res, err := c.http.Get(u)
	if err != nil {
		return nil, errors.Wrap(err, "reach tracker")
	}
	defer res.Body.Close()

	var trackerRes response
	// unmarshal bencode response
	err = bencode.Unmarshal(res.Body, &trackerRes)
	if err != nil {
		return nil, errors.Wrap(err, "parse tracker response")
	}

	if trackerRes.Failure != "" {
		return nil, &RejectedError{Reason: trackerRes.Failure}
	}

	if trackerRes.Warning != "" {
		log.WithField("warning", trackerRes.Warning).Warn("tracker warning")
	}

	// unmarshal compact peer list
	peers, err := peer.Unmarshal([]byte(trackerRes.Peers))
	if err != nil {
		return nil, errors.Wrap(err, "parse tracker response")
	}

	if len(peers) == 0 {
		return nil, ErrNoPeers
	}

	return &Response{
		Interval: time.Duration(trackerRes.Interval) * time.Second,
		Peers:    peers,
	}, nil
}
