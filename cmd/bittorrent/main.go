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

// Command bittorrent is a single-torrent client: it inspects metainfo
// files, queries trackers, and downloads a torrent from one peer.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"laptudirm.com/x/torrent/pkg/bencode"
	"laptudirm.com/x/torrent/pkg/metainfo"
	"laptudirm.com/x/torrent/pkg/peer"
	"laptudirm.com/x/torrent/pkg/torrent"
)

const usage = `usage: bittorrent <command> [arguments]

commands:
  decode    <bencoded value>      decode a bencoded string
  info      <torrent>             print the torrent's metainfo
  peers     <torrent>             print the tracker's peer list
  handshake <torrent> <ip:port>   handshake with a peer
  download  <torrent> [-o path]   download the torrent
`

const trackerTimeout = 15 * time.Second

func main() {
	verbose := flag.Bool("v", false, "enable verbose logging")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	log.SetLevel(log.InfoLevel)
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(2)
	}

	var err error
	switch cmd := args[0]; cmd {
	case "decode":
		err = cmdDecode(args[1:])
	case "info":
		err = cmdInfo(args[1:])
	case "peers":
		err = cmdPeers(args[1:])
	case "handshake":
		err = cmdHandshake(args[1:])
	case "download":
		err = cmdDownload(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "bittorrent: unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "bittorrent: %v\n", err)
		os.Exit(1)
	}
}

// clientID generates the client's peer id: a client prefix followed by
// random bytes.
func clientID() [20]byte {
	id := torrent.Identifier()
	copy(id[:8], "-LT0001-")
	return id
}

func cmdDecode(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: bittorrent decode <bencoded value>")
	}

	v, err := bencode.Decode([]byte(args[0]))
	if err != nil {
		return err
	}

	out, err := json.Marshal(toJSON(v))
	if err != nil {
		return errors.Wrap(err, "render decoded value")
	}

	fmt.Println(string(out))
	return nil
}

// toJSON converts a bencode value into the equivalent JSON-marshallable
// value for display.
func toJSON(v bencode.Value) any {
	switch v.Kind() {
	case bencode.Bytes:
		return string(v.Bytes())
	case bencode.Integer:
		return v.Int()
	case bencode.List:
		list := []any{}
		for _, elem := range v.List() {
			list = append(list, toJSON(elem))
		}
		return list
	default:
		dict := map[string]any{}
		for _, key := range v.Keys() {
			val, _ := v.Field(key)
			dict[key] = toJSON(val)
		}
		return dict
	}
}

func cmdInfo(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: bittorrent info <torrent>")
	}

	m, err := metainfo.Open(args[0])
	if err != nil {
		return err
	}

	hash := m.InfoHash()

	fmt.Printf("Tracker URL: %s\n", m.Announce)
	fmt.Printf("Length: %d (%s)\n", m.TotalLength(), humanize.IBytes(uint64(m.TotalLength())))
	fmt.Printf("Info Hash: %x\n", hash)
	fmt.Printf("Piece Length: %d\n", m.Info.PieceLength)
	fmt.Println("Piece Hashes:")
	for i := 0; i < m.PieceCount(); i++ {
		fmt.Printf("%x\n", m.PieceHash(i))
	}

	return nil
}

func cmdPeers(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: bittorrent peers <torrent>")
	}

	m, err := metainfo.Open(args[0])
	if err != nil {
		return err
	}

	t := torrent.New(m, clientID(), torrent.DefaultPort)
	peers, err := t.Peers(trackerTimeout)
	if err != nil {
		return err
	}

	for _, p := range peers {
		fmt.Println(p)
	}

	return nil
}

func cmdHandshake(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: bittorrent handshake <torrent> <ip:port>")
	}

	m, err := metainfo.Open(args[0])
	if err != nil {
		return err
	}

	p, err := peer.Parse(args[1])
	if err != nil {
		return err
	}

	id, err := peer.Identify(p, m.InfoHash(), clientID(), 5*time.Second)
	if err != nil {
		return err
	}

	fmt.Printf("Peer ID: %x\n", id)
	return nil
}

func cmdDownload(args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	output := fs.String("o", "", "output `path` (defaults to the torrent's name)")
	fs.Parse(args)

	// accept the -o flag on either side of the torrent argument
	rest := fs.Args()
	if len(rest) > 1 {
		fs.Parse(rest[1:])
		rest = append(rest[:1], fs.Args()...)
	}
	if len(rest) != 1 {
		return errors.New("usage: bittorrent download <torrent> [-o path]")
	}

	m, err := metainfo.Open(rest[0])
	if err != nil {
		return err
	}

	t := torrent.New(m, clientID(), torrent.DefaultPort)

	path := *output
	if path == "" {
		path = t.Name
	}

	if err := t.DownloadTo(path, nil); err != nil {
		return err
	}

	fmt.Printf("Downloaded %s to %s.\n", rest[0], path)
	return nil
}
