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

// Package storage implements the position-addressed output file blocks
// are written into as they arrive from the peer, in whatever order they
// arrive in.
package storage

import (
	"os"

	"github.com/pkg/errors"
)

// File represents the output file of a download. It is pre-sized to the
// torrent's total length so that sparse, out-of-order writes are well
// defined.
type File struct {
	f *os.File

	pieceLength int // length of a full piece
	total       int // total length of the content
}

// Create creates the output file at the provided path and sizes it to
// the torrent's total length. An existing file at the path is truncated.
func Create(path string, total, pieceLength int) (*File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create output file")
	}

	if err := f.Truncate(int64(total)); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "size output file")
	}

	return &File{
		f:           f,
		pieceLength: pieceLength,
		total:       total,
	}, nil
}

// offset returns the absolute file offset of a block.
func (f *File) offset(index, begin int) int64 {
	return int64(index)*int64(f.pieceLength) + int64(begin)
}

// WriteBlock writes a block's payload at its absolute offset,
// index * piece length + begin. Blocks may be written in any order.
func (f *File) WriteBlock(index, begin int, data []byte) error {
	off := f.offset(index, begin)

	if off+int64(len(data)) > int64(f.total) {
		return errors.Errorf("storage: block at offset %d overflows file of length %d", off, f.total)
	}

	_, err := f.f.WriteAt(data, off)
	return errors.Wrapf(err, "write block at offset %d", off)
}

// ReadPiece reads back the contents of the piece with the provided index
// and size, for hash verification once all of its blocks have arrived.
func (f *File) ReadPiece(index, size int) ([]byte, error) {
	buf := make([]byte, size)

	_, err := f.f.ReadAt(buf, f.offset(index, 0))
	if err != nil {
		return nil, errors.Wrapf(err, "read back piece %d", index)
	}

	return buf, nil
}

// Close flushes and closes the output file.
func (f *File) Close() error {
	return f.f.Close()
}
