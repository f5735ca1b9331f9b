// Copyright 2026 The httpcore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package parser

// chunkBuffer is a logical cursor over a chain of byte blocks. It never
// copies the full accumulated buffer on every Feed call: new blocks are
// appended in O(1), and bytes below the parser's consumed watermark are
// discarded in O(blocks), not O(bytes).
type chunkBuffer struct {
	blocks [][]byte
	base   int // logical offset of blocks[0][0]; the discard point once no blocks retained
}

// append adds a newly-read block to the chain. The caller must not mutate
// the slice afterward.
func (b *chunkBuffer) append(block []byte) {
	if len(block) == 0 {
		return
	}
	b.blocks = append(b.blocks, block)
}

// len returns the total number of logical bytes currently retained.
func (b *chunkBuffer) len() int {
	n := 0
	for _, blk := range b.blocks {
		n += len(blk)
	}
	return n
}

// end returns the logical index one past the last retained byte.
func (b *chunkBuffer) end() int {
	return b.base + b.len()
}

// at returns the byte at logical index i (i >= base), and whether it exists.
func (b *chunkBuffer) at(i int) (byte, bool) {
	if i < b.base {
		return 0, false
	}
	off := i - b.base
	for _, blk := range b.blocks {
		if off < len(blk) {
			return blk[off], true
		}
		off -= len(blk)
	}
	return 0, false
}

// slice materializes the logical range [start, end) into a single
// contiguous copy. This is the only place the buffer copies bytes, and it
// copies only the requested span, not the whole history.
func (b *chunkBuffer) slice(start, end int) []byte {
	if end <= start {
		return nil
	}
	out := make([]byte, 0, end-start)
	off := start - b.base
	remaining := end - start
	for _, blk := range b.blocks {
		if off >= len(blk) {
			off -= len(blk)
			continue
		}
		if off < 0 {
			off = 0
		}
		take := len(blk) - off
		if take > remaining {
			take = remaining
		}
		out = append(out, blk[off:off+take]...)
		remaining -= take
		off = 0
		if remaining <= 0 {
			break
		}
	}
	return out
}

// discardTo drops all retained bytes strictly before the logical index
// upTo, shrinking or dropping whole blocks as needed. Called once a
// complete request has been extracted, so memory for consumed bytes (and
// only consumed bytes) is reclaimed immediately.
func (b *chunkBuffer) discardTo(upTo int) {
	if upTo <= b.base {
		return
	}
	drop := upTo - b.base
	i := 0
	for i < len(b.blocks) && drop >= len(b.blocks[i]) {
		drop -= len(b.blocks[i])
		i++
	}
	b.blocks = b.blocks[i:]
	if len(b.blocks) > 0 && drop > 0 {
		b.blocks[0] = b.blocks[0][drop:]
	}
	b.base = upTo
}

// findByte scans forward from `from` for the first occurrence of target,
// returning its logical index or -1 if not yet present in the retained
// bytes.
func (b *chunkBuffer) findByte(from int, target byte) int {
	if from < b.base {
		from = b.base
	}
	off := from - b.base
	idx := from
	for _, blk := range b.blocks {
		if off >= len(blk) {
			off -= len(blk)
			continue
		}
		for i := off; i < len(blk); i++ {
			if blk[i] == target {
				return idx + (i - off)
			}
		}
		idx += len(blk) - off
		off = 0
	}
	return -1
}
