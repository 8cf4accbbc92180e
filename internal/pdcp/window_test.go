package pdcp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWindowAddGetRemove(t *testing.T) {
	w := newWindow[txEntry](1 << 18)
	e := w.AddSN(5)
	e.hasPDU = true

	got, ok := w.Get(5)
	require.True(t, ok)
	require.True(t, got.hasPDU)
	require.True(t, w.HasSN(5))

	w.RemoveSN(5)
	require.False(t, w.HasSN(5))
	_, ok = w.Get(5)
	require.False(t, ok)
}

func TestWindowLenTracksLiveEntries(t *testing.T) {
	w := newWindow[rxEntry](1 << 12)
	require.Equal(t, 0, w.Len())
	w.AddSN(1)
	w.AddSN(2)
	require.Equal(t, 2, w.Len())
	w.RemoveSN(1)
	require.Equal(t, 1, w.Len())
}

func TestWindowClearDiscardsEverything(t *testing.T) {
	w := newWindow[txEntry](1 << 12)
	w.AddSN(1)
	w.AddSN(2)
	w.Clear()
	require.Equal(t, 0, w.Len())
	require.False(t, w.HasSN(1))
}

func TestSNHFNCountHelpers(t *testing.T) {
	count := uint32(0x12345)
	size := SN18
	s := sn(count, size)
	h := hfn(count, size)
	require.Equal(t, count, countOf(h, s, size))
}
