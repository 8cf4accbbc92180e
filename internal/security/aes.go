package security

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"

	"github.com/hhorai/gnbpdcp/internal/buffer"
)

// nea2Engine implements 128-EEA2: AES-128 in CTR mode with the nonce layout
// of TS 33.401 Annex B.2 (byte[0..3]=COUNT big-endian, byte[4] carries
// bearer and direction, remainder zero).
type nea2Engine struct {
	block    cipher.Block
	bearerID uint8
	dir      Direction
}

func newNEA2Engine(key Key128, bearerID uint8, dir Direction) (*nea2Engine, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, ErrEngineFailure
	}
	return &nea2Engine{block: block, bearerID: bearerID, dir: dir}, nil
}

func (e *nea2Engine) nonce(count uint32) [16]byte {
	var nonce [16]byte
	binary.BigEndian.PutUint32(nonce[0:4], count)
	nonce[4] = (e.bearerID&0x1f)<<3 | (uint8(e.dir)&0x01)<<2
	return nonce
}

func (e *nea2Engine) ApplyCiphering(buf *buffer.Buffer, offset int, count uint32) (*buffer.Buffer, error) {
	nonce := e.nonce(count)
	stream := cipher.NewCTR(e.block, nonce[:])
	segs, err := buf.ModifiableSegments(offset)
	if err != nil {
		return nil, ErrBufferFailure
	}
	for _, seg := range segs {
		stream.XORKeyStream(seg, seg)
	}
	return buf, nil
}

// nia2Engine implements 128-EIA2: AES-128-CMAC (RFC 4493) over the body
// preceded by the TS 33.401 B.2.3 fixed input (COUNT || BEARER<<3|DIR<<2 ||
// zero-padded 4 bytes), truncated to 32 bits.
type nia2Engine struct {
	block cipher.Block
	k1, k2 [16]byte
	bearerID uint8
	dir      Direction
}

func newNIA2Engine(key Key128, bearerID uint8, dir Direction) (*nia2Engine, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, ErrEngineFailure
	}
	e := &nia2Engine{block: block, bearerID: bearerID, dir: dir}
	e.k1, e.k2 = cmacSubkeys(block)
	return e, nil
}

// cmacSubkeys derives K1/K2 per RFC 4493 Sec. 2.3 using the standard
// left-shift-and-conditionally-XOR-0x87 construction.
func cmacSubkeys(block cipher.Block) (k1, k2 [16]byte) {
	var zero, l [16]byte
	block.Encrypt(l[:], zero[:])
	k1 = shiftLeftXor87(l)
	k2 = shiftLeftXor87(k1)
	return k1, k2
}

func shiftLeftXor87(in [16]byte) (out [16]byte) {
	msb := in[0]&0x80 != 0
	var carry byte
	for i := 15; i >= 0; i-- {
		out[i] = in[i]<<1 | carry
		carry = (in[i] & 0x80) >> 7
	}
	if msb {
		out[15] ^= 0x87
	}
	return out
}

func (e *nia2Engine) computeMAC(count uint32, msg []byte) [4]byte {
	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[0:4], count)
	header[4] = (e.bearerID&0x1f)<<3 | (uint8(e.dir)&0x01)<<2

	full := make([]byte, 0, len(header)+len(msg))
	full = append(full, header...)
	full = append(full, msg...)

	mac := cmac(e.block, e.k1, e.k2, full)
	var out [4]byte
	copy(out[:], mac[:4])
	return out
}

// cmac computes the RFC 4493 AES-CMAC of msg.
func cmac(block cipher.Block, k1, k2 [16]byte, msg []byte) [16]byte {
	const blockSize = 16
	n := (len(msg) + blockSize - 1) / blockSize
	complete := len(msg) > 0 && len(msg)%blockSize == 0
	if n == 0 {
		n = 1
		complete = false
	}

	var mLast [16]byte
	last := msg[(n-1)*blockSize:]
	if complete {
		copy(mLast[:], last)
		mLast = xor16(mLast, k1)
	} else {
		copy(mLast[:], last)
		mLast[len(last)] = 0x80
		mLast = xor16(mLast, k2)
	}

	var x [16]byte
	for i := 0; i < n-1; i++ {
		mi := toArray16(msg[i*blockSize : (i+1)*blockSize])
		in := xor16(x, mi)
		block.Encrypt(x[:], in[:])
	}
	in := xor16(x, mLast)
	block.Encrypt(x[:], in[:])
	return x
}

func toArray16(b []byte) [16]byte {
	var out [16]byte
	copy(out[:], b)
	return out
}

func xor16(a, b [16]byte) [16]byte {
	var out [16]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func (e *nia2Engine) ProtectIntegrity(buf *buffer.Buffer, count uint32) (*buffer.Buffer, error) {
	mac := e.computeMAC(count, buf.Bytes())
	buf.Append(mac[:])
	return buf, nil
}

func (e *nia2Engine) VerifyIntegrity(buf *buffer.Buffer, count uint32) (*buffer.Buffer, error) {
	if buf.Len() < MACLen {
		return nil, ErrIntegrityFailure
	}
	body, err := buf.Slice(0, buf.Len()-MACLen)
	if err != nil {
		return nil, ErrBufferFailure
	}
	want := e.computeMAC(count, body.Bytes())
	for i := 0; i < MACLen; i++ {
		b, _ := buf.At(buf.Len() - MACLen + i)
		if b != want[i] {
			return nil, ErrIntegrityFailure
		}
	}
	return body, nil
}
