package pdcp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hhorai/gnbpdcp/internal/buffer"
)

func TestWriteHeaderReadSNRoundTripSN12(t *testing.T) {
	buf := buffer.New([]byte("sdu body"))
	writeHeader(buf, RBDRB, SN12, 0xabc&0x0fff)
	got, err := readSN(buf, SN12)
	require.NoError(t, err)
	require.Equal(t, uint32(0xabc), got)
}

func TestWriteHeaderReadSNRoundTripSN18(t *testing.T) {
	buf := buffer.New([]byte("sdu body"))
	writeHeader(buf, RBDRB, SN18, 0x3_1abc&0x3ffff)
	got, err := readSN(buf, SN18)
	require.NoError(t, err)
	require.Equal(t, uint32(0x3_1abc)&0x3ffff, got)
}

func TestDRBDataPDUHasDCBitSet(t *testing.T) {
	buf := buffer.New([]byte("x"))
	writeHeader(buf, RBDRB, SN12, 1)
	require.False(t, isControlPDU(buf), "a DRB data PDU must have D/C=1 (not a control PDU)")
}

func TestSRBHeaderLeavesTopBitsZero(t *testing.T) {
	buf := buffer.New([]byte("x"))
	writeHeader(buf, RBSRB, SN12, 1)
	b0, err := buf.At(0)
	require.NoError(t, err)
	require.Equal(t, byte(0), b0&0x80)
}

func TestStatusReportEncodeDecodeRoundTrip(t *testing.T) {
	r := StatusReport{FMC: 1000}
	r.SetMissingBit(1002)
	r.SetMissingBit(1010)

	buf := EncodeStatusReport(r)
	require.True(t, isControlPDU(buf), "a status report control PDU must have D/C=0")

	got, err := DecodeStatusReport(buf)
	require.NoError(t, err)
	require.Equal(t, r.FMC, got.FMC)
	require.True(t, got.MissingBitSet(1002))
	require.True(t, got.MissingBitSet(1010))
	require.False(t, got.MissingBitSet(1001))
	require.False(t, got.MissingBitSet(1000))
}

func TestDecodeStatusReportTooShort(t *testing.T) {
	buf := buffer.New([]byte{0x00, 0x01})
	_, err := DecodeStatusReport(buf)
	require.Error(t, err)
}

func TestReadSNTooShort(t *testing.T) {
	buf := buffer.New([]byte{0x80})
	_, err := readSN(buf, SN18)
	require.Error(t, err)
}

func TestMissingBitSetGrowsBitmapLazily(t *testing.T) {
	var r StatusReport
	r.FMC = 0
	require.False(t, r.MissingBitSet(5))
	r.SetMissingBit(5)
	require.True(t, r.MissingBitSet(5))
	require.Len(t, r.Bitmap, 1)
}
