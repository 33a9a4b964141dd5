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

// BlockMax is the maximum number of bytes requested per block. Pieces
// are fragmented into blocks of this size, the last block of each piece
// carrying the remainder.
const BlockMax = 1 << 14 // 16 KiB

// blockRequest represents a single block request: a piece index, an
// offset inside the piece, and the block length.
type blockRequest struct {
	index  int // the index of the piece
	begin  int // offset of the block inside the piece
	length int // length of the block
}

// blockPlan returns the full request plan of the torrent: every block of
// every piece, in ascending piece order and ascending offset order
// within each piece.
func (t *Torrent) blockPlan() []blockRequest {
	var plan []blockRequest

	for index := range t.PieceHashes {
		size := t.pieceSize(index)

		for begin := 0; begin < size; begin += BlockMax {
			length := BlockMax
			// last block is of irregular size
			if size-begin < length {
				length = size - begin
			}

			plan = append(plan, blockRequest{
				index:  index,
				begin:  begin,
				length: length,
			})
		}
	}

	return plan
}
