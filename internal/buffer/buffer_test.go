package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrependThenBytes(t *testing.T) {
	b := New([]byte("payload"))
	hdr := b.Prepend(3)
	hdr[0], hdr[1], hdr[2] = 0xaa, 0xbb, 0xcc

	require.Equal(t, 10, b.Len())
	require.Equal(t, []byte{0xaa, 0xbb, 0xcc, 'p', 'a', 'y', 'l', 'o', 'a', 'd'}, b.Bytes())
}

func TestAppendCoalescesWithinSegment(t *testing.T) {
	b := New(nil)
	b.Append([]byte("abc"))
	b.Append([]byte("def"))
	require.Equal(t, "abcdef", string(b.Bytes()))
}

func TestTrimHeadAcrossSegments(t *testing.T) {
	b := New([]byte("hello"))
	b.AppendBuffer(New([]byte("world")))
	require.NoError(t, b.TrimHead(7))
	require.Equal(t, "rld", string(b.Bytes()))
}

func TestTrimTailOutOfRange(t *testing.T) {
	b := New([]byte("abc"))
	err := b.TrimTail(10)
	require.ErrorIs(t, err, ErrBufferFailure)
}

func TestSliceReturnsSubrange(t *testing.T) {
	b := New([]byte("0123456789"))
	s, err := b.Slice(2, 5)
	require.NoError(t, err)
	require.Equal(t, "234", string(s.Bytes()))
}

func TestAtOutOfRange(t *testing.T) {
	b := New([]byte("ab"))
	_, err := b.At(5)
	require.ErrorIs(t, err, ErrBufferFailure)
}

func TestModifiableSegmentsXOR(t *testing.T) {
	b := New([]byte{0x00, 0x00, 0x00, 0x00})
	segs, err := b.ModifiableSegments(1)
	require.NoError(t, err)
	for _, s := range segs {
		for i := range s {
			s[i] ^= 0xff
		}
	}
	require.Equal(t, []byte{0x00, 0xff, 0xff, 0xff}, b.Bytes())
}

func TestDeepCopyIndependence(t *testing.T) {
	b := New([]byte("abc"))
	cp, err := b.DeepCopy()
	require.NoError(t, err)
	segs, err := b.ModifiableSegments(0)
	require.NoError(t, err)
	segs[0][0] = 'z'
	require.Equal(t, "abc", string(cp.Bytes()))
	require.Equal(t, "zbc", string(b.Bytes()))
}

func TestForEachByte(t *testing.T) {
	b := New([]byte("ab"))
	b.AppendBuffer(New([]byte("cd")))
	var got []byte
	b.ForEachByte(func(v byte) { got = append(got, v) })
	require.Equal(t, []byte("abcd"), got)
}
