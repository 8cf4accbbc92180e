// Package buffer implements the segmented, shareable byte container used
// throughout the PDCP stack: SDUs and PDUs are built up by prepending
// headers and appending MACs without ever copying the payload segment.
package buffer

import "github.com/pkg/errors"

// ErrBufferFailure is returned when a mutation cannot be satisfied, e.g. a
// deep copy hits the allocator cap or a trim removes more than is present.
var ErrBufferFailure = errors.New("buffer failure")

// defaultSegmentCap is the minimum capacity of a segment that Append
// allocates, so later small appends coalesce into it; data larger than this
// gets a segment of exactly its own size.
const defaultSegmentCap = 2048

// maxTotalBytes is the simulated allocator cap DeepCopy respects; mirrors the
// "BufferFailure on allocator exhaustion" contract from the spec without
// requiring an actual OOM to exercise the failure path in tests.
const maxTotalBytes = 256 * 1024 * 1024

// Buffer is a segmented byte sequence. The zero value is an empty buffer.
type Buffer struct {
	segs []seg
	len  int
}

type seg struct {
	b []byte
}

// New wraps data as a single-segment Buffer. data is taken by reference; the
// caller must not mutate it afterwards.
func New(data []byte) *Buffer {
	if len(data) == 0 {
		return &Buffer{}
	}
	return &Buffer{segs: []seg{{b: data}}, len: len(data)}
}

// Len returns the total number of bytes in the buffer.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return b.len
}

// Append copies data onto the tail of the buffer, coalescing into the last
// segment while it has room and starting a fresh segment otherwise.
func (b *Buffer) Append(data []byte) {
	if len(data) == 0 {
		return
	}
	if n := len(b.segs); n > 0 {
		last := &b.segs[n-1]
		if cap(last.b)-len(last.b) >= len(data) {
			last.b = append(last.b, data...)
			b.len += len(data)
			return
		}
	}
	newSeg := make([]byte, len(data), max(len(data), defaultSegmentCap))
	copy(newSeg, data)
	b.segs = append(b.segs, seg{b: newSeg})
	b.len += len(data)
}

// AppendBuffer appends the contents of other without copying other's
// segments; ownership of other's storage transfers to b's readers (other
// must not be mutated afterwards).
func (b *Buffer) AppendBuffer(other *Buffer) {
	if other.Len() == 0 {
		return
	}
	b.segs = append(b.segs, other.segs...)
	b.len += other.len
}

// Prepend reserves n bytes of zeroed headroom at the front of the buffer and
// returns a view over that headroom so the caller can write a header in
// place. Reserving is O(1): a new small segment is inserted at index 0.
func (b *Buffer) Prepend(n int) []byte {
	if n == 0 {
		return nil
	}
	hdr := make([]byte, n)
	b.segs = append([]seg{{b: hdr}}, b.segs...)
	b.len += n
	return hdr
}

// TrimHead removes n bytes from the front of the buffer.
func (b *Buffer) TrimHead(n int) error {
	if n < 0 || n > b.len {
		return errors.Wrap(ErrBufferFailure, "trim head out of range")
	}
	for n > 0 && len(b.segs) > 0 {
		s := &b.segs[0]
		if len(s.b) <= n {
			n -= len(s.b)
			b.len -= len(s.b)
			b.segs = b.segs[1:]
			continue
		}
		s.b = s.b[n:]
		b.len -= n
		n = 0
	}
	return nil
}

// TrimTail removes n bytes from the back of the buffer.
func (b *Buffer) TrimTail(n int) error {
	if n < 0 || n > b.len {
		return errors.Wrap(ErrBufferFailure, "trim tail out of range")
	}
	for n > 0 && len(b.segs) > 0 {
		last := len(b.segs) - 1
		s := &b.segs[last]
		if len(s.b) <= n {
			n -= len(s.b)
			b.len -= len(s.b)
			b.segs = b.segs[:last]
			continue
		}
		s.b = s.b[:len(s.b)-n]
		b.len -= n
		n = 0
	}
	return nil
}

// At returns the byte at index i.
func (b *Buffer) At(i int) (byte, error) {
	if i < 0 || i >= b.len {
		return 0, errors.Wrap(ErrBufferFailure, "index out of range")
	}
	for _, s := range b.segs {
		if i < len(s.b) {
			return s.b[i], nil
		}
		i -= len(s.b)
	}
	return 0, errors.Wrap(ErrBufferFailure, "index out of range")
}

// ForEachByte iterates every byte of the buffer in order.
func (b *Buffer) ForEachByte(fn func(byte)) {
	for _, s := range b.segs {
		for _, v := range s.b {
			fn(v)
		}
	}
}

// ModifiableSegments returns mutable views over buf[offset:], split along
// segment boundaries. Callers (ciphering engines) XOR a running keystream
// over each slice in order; writes are visible through b.
func (b *Buffer) ModifiableSegments(offset int) ([][]byte, error) {
	if offset < 0 || offset > b.len {
		return nil, errors.Wrap(ErrBufferFailure, "offset out of range")
	}
	var out [][]byte
	skip := offset
	for i := range b.segs {
		s := b.segs[i].b
		if skip >= len(s) {
			skip -= len(s)
			continue
		}
		out = append(out, s[skip:])
		skip = 0
	}
	return out, nil
}

// Bytes linearizes the buffer into a single contiguous slice. Used where the
// algorithm primitive needs a flat view (SNOW-3G/ZUC keystream XOR, MAC
// computation); callers must not assume this aliases the buffer's storage.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, 0, b.len)
	for _, s := range b.segs {
		out = append(out, s.b...)
	}
	return out
}

// Slice returns a zero-copy view of buf[i:j]; the returned Buffer shares
// storage with b and must not be mutated through ModifiableSegments.
func (b *Buffer) Slice(i, j int) (*Buffer, error) {
	if i < 0 || j > b.len || i > j {
		return nil, errors.Wrap(ErrBufferFailure, "slice out of range")
	}
	out := &Buffer{}
	pos := 0
	for _, s := range b.segs {
		segStart, segEnd := pos, pos+len(s.b)
		lo, hi := max(i, segStart), min(j, segEnd)
		if lo < hi {
			out.segs = append(out.segs, seg{b: s.b[lo-segStart : hi-segStart]})
			out.len += hi - lo
		}
		pos = segEnd
	}
	return out, nil
}

// DeepCopy returns an independent copy of the buffer's contents. Fails with
// ErrBufferFailure once the requested total exceeds the simulated allocator
// cap, matching the contract exercised by AM retransmission storage.
func (b *Buffer) DeepCopy() (*Buffer, error) {
	if b.len > maxTotalBytes {
		return nil, errors.Wrap(ErrBufferFailure, "deep copy exceeds allocator cap")
	}
	flat := make([]byte, b.len)
	pos := 0
	for _, s := range b.segs {
		pos += copy(flat[pos:], s.b)
	}
	return New(flat), nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
