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

// Package metainfo implements the typed model of a .torrent metainfo
// document and the derivation of its info-hash.
package metainfo

import (
	"crypto/sha1"
	"os"

	"github.com/pkg/errors"
	"laptudirm.com/x/torrent/pkg/bencode"
)

// ErrInvalid is the base error for metainfo documents which decode as
// bencode but are missing required keys or carry inconsistent values.
// Failures wrap it with the concrete reason.
var ErrInvalid = errors.New("metainfo: invalid document")

// MetaInfo represents a .torrent metainfo document. It is immutable
// after parse.
type MetaInfo struct {
	Announce string // tracker announce url
	Info     Info   // info section of the metainfo

	infoHash [20]byte // SHA-1 of the canonical encoding of info
}

// Info represents the info section of a metainfo document.
type Info struct {
	// file name in single-file torrents, directory name in multi-file
	// torrents; purely advisory
	Name string

	PieceLength int    // length of each piece in bytes
	Pieces      []byte // concatenated 20-byte SHA-1 piece hashes

	// exactly one of Length and Files is set
	Length int    // length of the file in single-file torrents
	Files  []File // files of a multi-file torrent, in stream order
}

// File represents a single file in a multi-file torrent. The multi-file
// case is treated as one logical stream formed by concatenating the
// files in list order.
type File struct {
	Length int      // length of the file in bytes
	Path   []string // path components, the last being the file name
}

// Open reads and parses the metainfo file at the provided path.
func Open(path string) (*MetaInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read metainfo file")
	}

	return Parse(data)
}

// Parse parses a bencoded metainfo document. The info-hash is computed
// during parsing by canonically re-encoding the info value, so it covers
// keys the typed model does not carry and is independent of the key
// order of the surrounding document.
func Parse(data []byte) (*MetaInfo, error) {
	root, err := bencode.Decode(data)
	if err != nil {
		return nil, errors.Wrap(err, "parse metainfo file")
	}

	if root.Kind() != bencode.Dict {
		return nil, invalid("document is not a dictionary")
	}

	m := &MetaInfo{}

	announce, ok := root.Field("announce")
	if !ok || announce.Kind() != bencode.Bytes {
		return nil, invalid("missing or malformed key announce")
	}
	m.Announce = string(announce.Bytes())

	info, ok := root.Field("info")
	if !ok || info.Kind() != bencode.Dict {
		return nil, invalid("missing or malformed key info")
	}

	// the torrent's identity is the hash of the info sub-document
	m.infoHash = sha1.Sum(info.Encode())

	if err := m.Info.parse(info); err != nil {
		return nil, err
	}

	return m, nil
}

// parse fills the Info from the decoded info dictionary, validating the
// structural invariants of the document.
func (i *Info) parse(v bencode.Value) error {
	name, ok := v.Field("name")
	if !ok || name.Kind() != bencode.Bytes {
		return invalid("missing or malformed key name")
	}
	i.Name = string(name.Bytes())

	pieceLen, ok := v.Field("piece length")
	if !ok || pieceLen.Kind() != bencode.Integer {
		return invalid("missing or malformed key piece length")
	}
	if pieceLen.Int() <= 0 {
		return invalid("piece length is not positive")
	}
	i.PieceLength = int(pieceLen.Int())

	pieces, ok := v.Field("pieces")
	if !ok || pieces.Kind() != bencode.Bytes {
		return invalid("missing or malformed key pieces")
	}
	if len(pieces.Bytes())%sha1.Size != 0 {
		return invalid("pieces length is not a multiple of 20")
	}
	i.Pieces = pieces.Bytes()

	length, hasLength := v.Field("length")
	files, hasFiles := v.Field("files")

	switch {
	case hasLength && hasFiles:
		return invalid("both length and files present")
	case !hasLength && !hasFiles:
		return invalid("neither length nor files present")

	case hasLength:
		if length.Kind() != bencode.Integer || length.Int() < 0 {
			return invalid("malformed key length")
		}
		i.Length = int(length.Int())

	default:
		if err := i.parseFiles(files); err != nil {
			return err
		}
	}

	return i.validateLengths()
}

// parseFiles fills the file list of a multi-file torrent.
func (i *Info) parseFiles(v bencode.Value) error {
	if v.Kind() != bencode.List || len(v.List()) == 0 {
		return invalid("malformed key files")
	}

	for _, entry := range v.List() {
		if entry.Kind() != bencode.Dict {
			return invalid("files entry is not a dictionary")
		}

		length, ok := entry.Field("length")
		if !ok || length.Kind() != bencode.Integer || length.Int() < 0 {
			return invalid("missing or malformed file length")
		}

		pathVal, ok := entry.Field("path")
		if !ok || pathVal.Kind() != bencode.List || len(pathVal.List()) == 0 {
			return invalid("missing or malformed file path")
		}

		var path []string
		for _, component := range pathVal.List() {
			if component.Kind() != bencode.Bytes {
				return invalid("file path component is not a string")
			}
			path = append(path, string(component.Bytes()))
		}

		i.Files = append(i.Files, File{
			Length: int(length.Int()),
			Path:   path,
		})
	}

	return nil
}

// validateLengths checks that the total length and the number of piece
// hashes agree: every piece except the last is exactly piece length
// bytes, and the last is between one byte and a full piece.
func (i *Info) validateLengths() error {
	count := len(i.Pieces) / sha1.Size
	total := i.TotalLength()

	if count == 0 {
		if total != 0 {
			return invalid("no piece hashes for non-empty content")
		}
		return nil
	}

	if total <= (count-1)*i.PieceLength || total > count*i.PieceLength {
		return invalid("total length does not agree with piece count")
	}

	return nil
}

// TotalLength returns the length of the download stream: the file length
// in single-file torrents, and the sum of file lengths in multi-file
// torrents.
func (i *Info) TotalLength() int {
	if len(i.Files) == 0 {
		return i.Length
	}

	total := 0
	for _, f := range i.Files {
		total += f.Length
	}
	return total
}

// InfoHash returns the torrent's identity: the SHA-1 digest of the
// canonical bencode encoding of the info sub-document.
func (m *MetaInfo) InfoHash() [20]byte {
	return m.infoHash
}

// TotalLength returns the length of the download stream in bytes.
func (m *MetaInfo) TotalLength() int {
	return m.Info.TotalLength()
}

// PieceCount returns the number of pieces the content is split into.
func (m *MetaInfo) PieceCount() int {
	return len(m.Info.Pieces) / sha1.Size
}

// PieceHash returns the expected SHA-1 digest of the piece with the
// provided index.
func (m *MetaInfo) PieceHash(index int) [20]byte {
	var hash [20]byte
	copy(hash[:], m.Info.Pieces[index*sha1.Size:])
	return hash
}

// PieceSize returns the length of the piece with the provided index.
// Every piece is piece length bytes except possibly the last.
func (m *MetaInfo) PieceSize(index int) int {
	begin := index * m.Info.PieceLength // beginning of piece
	end := begin + m.Info.PieceLength   // end of piece

	// last piece is irregular in length
	if total := m.TotalLength(); end > total {
		return total - begin
	}

	return m.Info.PieceLength
}

// invalid wraps ErrInvalid with the concrete reason for rejection.
func invalid(reason string) error {
	return errors.Wrap(ErrInvalid, reason)
}
