package pdcp

import "github.com/hhorai/gnbpdcp/internal/buffer"

// headerLen returns the data-PDU header size in bytes for the given SN
// width (§4.G.7).
func headerLen(size SNSize) int {
	if size == SN12 {
		return 2
	}
	return 3
}

// writeHeader prepends the data-PDU header for rbType/size and the given
// SN (low bits of COUNT) onto buf.
func writeHeader(buf *buffer.Buffer, rbType RBType, size SNSize, s uint32) {
	hdr := buf.Prepend(headerLen(size))
	dc := byte(0x80)
	if rbType == RBSRB {
		dc = 0 // D/C field is absent in meaning for SRB; left as 0 per §4.G.7
	}
	switch size {
	case SN12:
		hdr[0] = dc | byte(s>>8)&0x0f
		hdr[1] = byte(s)
	default: // SN18
		hdr[0] = dc | byte(s>>16)&0x03
		hdr[1] = byte(s >> 8)
		hdr[2] = byte(s)
	}
}

// readSN parses the SN out of a data-PDU header without consuming it; the
// caller trims headerLen(size) bytes separately once security has run.
func readSN(buf *buffer.Buffer, size SNSize) (uint32, error) {
	n := headerLen(size)
	if buf.Len() < n {
		return 0, buffer.ErrBufferFailure
	}
	switch size {
	case SN12:
		b0, _ := buf.At(0)
		b1, _ := buf.At(1)
		return uint32(b0&0x0f)<<8 | uint32(b1), nil
	default:
		b0, _ := buf.At(0)
		b1, _ := buf.At(1)
		b2, _ := buf.At(2)
		return uint32(b0&0x03)<<16 | uint32(b1)<<8 | uint32(b2), nil
	}
}

// isControlPDU reports whether the first octet's D/C bit marks a control
// PDU. Only meaningful for DRBs; SRB callers must route by rbType instead,
// since an SRB header's top bit is reserved rather than D/C.
func isControlPDU(buf *buffer.Buffer) bool {
	b0, err := buf.At(0)
	if err != nil {
		return false
	}
	return b0&0x80 == 0
}

// cptStatusReport is the control PDU type (CPT) field value for a status
// report, carried in bits 4-6 of byte 0 with D/C (bit7) cleared.
const cptStatusReport = 0

// maxStatusReportBytes caps the compiled control PDU (§4.G.7).
const maxStatusReportBytes = 9000

// StatusReport is the parsed/compiled form of the control PDU of §4.G.7.
type StatusReport struct {
	FMC    uint32
	Bitmap []byte // bit i (MSB-first within the stream starting at FMC+1) set => COUNT FMC+1+i missing
}

// EncodeStatusReport serializes a status report: 1-byte CPT octet, 4-byte
// FMC, then the bitmap, truncated so the whole PDU stays <= 9000 bytes.
func EncodeStatusReport(r StatusReport) *buffer.Buffer {
	buf := buffer.New(nil)
	hdr := make([]byte, 5)
	hdr[0] = (cptStatusReport & 0x07) << 4
	hdr[1] = byte(r.FMC >> 24)
	hdr[2] = byte(r.FMC >> 16)
	hdr[3] = byte(r.FMC >> 8)
	hdr[4] = byte(r.FMC)
	buf.Append(hdr)
	bitmap := r.Bitmap
	if room := maxStatusReportBytes - len(hdr); len(bitmap) > room {
		bitmap = bitmap[:room]
	}
	buf.Append(bitmap)
	return buf
}

// DecodeStatusReport parses a control PDU previously built by
// EncodeStatusReport. err is non-nil if buf is too short to hold the fixed
// header.
func DecodeStatusReport(buf *buffer.Buffer) (StatusReport, error) {
	if buf.Len() < 5 {
		return StatusReport{}, buffer.ErrBufferFailure
	}
	flat := buf.Bytes()
	fmc := uint32(flat[1])<<24 | uint32(flat[2])<<16 | uint32(flat[3])<<8 | uint32(flat[4])
	return StatusReport{FMC: fmc, Bitmap: append([]byte(nil), flat[5:]...)}, nil
}

// MissingBitSet reports whether the bit for COUNT (relative to FMC+1) is
// set in the report's bitmap.
func (r StatusReport) MissingBitSet(count uint32) bool {
	if count <= r.FMC {
		return false
	}
	bitIdx := count - r.FMC - 1
	byteIdx := bitIdx / 8
	if int(byteIdx) >= len(r.Bitmap) {
		return false
	}
	shift := 7 - bitIdx%8
	return r.Bitmap[byteIdx]&(1<<shift) != 0
}

// SetMissingBit sets the bit for COUNT in the bitmap, growing it as needed.
func (r *StatusReport) SetMissingBit(count uint32) {
	if count <= r.FMC {
		return
	}
	bitIdx := count - r.FMC - 1
	byteIdx := int(bitIdx / 8)
	for len(r.Bitmap) <= byteIdx {
		r.Bitmap = append(r.Bitmap, 0)
	}
	shift := 7 - bitIdx%8
	r.Bitmap[byteIdx] |= 1 << shift
}
