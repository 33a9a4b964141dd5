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

package peer_test

import (
	"testing"

	"laptudirm.com/x/torrent/pkg/peer"
)

func TestUnmarshal(t *testing.T) {
	buffer := []byte{
		127, 0, 0, 1, 0x1a, 0xe1, // 127.0.0.1:6881
		192, 0, 2, 7, 0x00, 0x50, // 192.0.2.7:80
	}

	peers, err := peer.Unmarshal(buffer)
	if err != nil {
		t.Fatalf("Unmarshal: unexpected error %v", err)
	}

	if len(peers) != 2 {
		t.Fatalf("Unmarshal: got %d peers, want 2", len(peers))
	}

	if peers[0].String() != "127.0.0.1:6881" {
		t.Errorf("Unmarshal: peer 0 is %s", peers[0])
	}
	if peers[1].String() != "192.0.2.7:80" {
		t.Errorf("Unmarshal: peer 1 is %s", peers[1])
	}
}

func TestUnmarshalMalformed(t *testing.T) {
	// length not a multiple of 6
	_, err := peer.Unmarshal(make([]byte, 13))
	if err == nil {
		t.Error("Unmarshal: expected error for malformed peer list")
	}
}

func TestUnmarshalEmpty(t *testing.T) {
	peers, err := peer.Unmarshal(nil)
	if err != nil {
		t.Fatalf("Unmarshal: unexpected error %v", err)
	}
	if len(peers) != 0 {
		t.Errorf("Unmarshal: got %d peers, want 0", len(peers))
	}
}

func TestParse(t *testing.T) {
	p, err := peer.Parse("192.0.2.1:6881")
	if err != nil {
		t.Fatalf("Parse: unexpected error %v", err)
	}
	if p.String() != "192.0.2.1:6881" {
		t.Errorf("Parse: got %s", p)
	}

	invalid := []string{
		"192.0.2.1",          // no port
		"example.com:6881",   // not an ip
		"192.0.2.1:notaport", // malformed port
		"192.0.2.1:99999",    // port out of range
		"[2001:db8::1]:6881", // not ipv4
	}
	for _, s := range invalid {
		if _, err := peer.Parse(s); err == nil {
			t.Errorf("Parse(%q): expected error", s)
		}
	}
}
