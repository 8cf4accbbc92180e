package security

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hhorai/gnbpdcp/internal/buffer"
)

func keyFromHex(t *testing.T, s string) Key128 {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	var k Key128
	require.Equal(t, Key128Len, copy(k[:], b))
	return k
}

func testKey(fill byte) Key128 {
	var k Key128
	for i := range k {
		k[i] = fill
	}
	return k
}

func TestNullCipheringEngineIsIdentity(t *testing.T) {
	eng, err := NewCipheringEngine(NEA0, testKey(0), 1, DirectionDownlink)
	require.NoError(t, err)

	buf := buffer.New([]byte("hello pdcp"))
	out, err := eng.ApplyCiphering(buf, 0, 42)
	require.NoError(t, err)
	require.Equal(t, "hello pdcp", string(out.Bytes()))
}

func TestCipheringRoundTripForEveryAlgorithm(t *testing.T) {
	algos := []CipheringAlgorithm{NEA1, NEA2, NEA3}
	for _, algo := range algos {
		algo := algo
		t.Run(algo.String(), func(t *testing.T) {
			key := testKey(0x5a)
			enc, err := NewCipheringEngine(algo, key, 5, DirectionUplink)
			require.NoError(t, err)
			dec, err := NewCipheringEngine(algo, key, 5, DirectionUplink)
			require.NoError(t, err)

			plaintext := []byte("the quick brown fox jumps over")
			buf := buffer.New(append([]byte(nil), plaintext...))
			_, err = enc.ApplyCiphering(buf, 0, 1234)
			require.NoError(t, err)
			require.NotEqual(t, plaintext, buf.Bytes())

			_, err = dec.ApplyCiphering(buf, 0, 1234)
			require.NoError(t, err)
			require.Equal(t, plaintext, buf.Bytes())
		})
	}
}

func TestCipheringDiffersByDirection(t *testing.T) {
	algos := []CipheringAlgorithm{NEA1, NEA2, NEA3}
	for _, algo := range algos {
		algo := algo
		t.Run(algo.String(), func(t *testing.T) {
			key := testKey(0x11)
			ul, err := NewCipheringEngine(algo, key, 3, DirectionUplink)
			require.NoError(t, err)
			dl, err := NewCipheringEngine(algo, key, 3, DirectionDownlink)
			require.NoError(t, err)

			plaintext := []byte("direction matters")
			ulBuf := buffer.New(append([]byte(nil), plaintext...))
			dlBuf := buffer.New(append([]byte(nil), plaintext...))
			_, err = ul.ApplyCiphering(ulBuf, 0, 7)
			require.NoError(t, err)
			_, err = dl.ApplyCiphering(dlBuf, 0, 7)
			require.NoError(t, err)

			require.NotEqual(t, ulBuf.Bytes(), dlBuf.Bytes())
		})
	}
}

func TestNullIntegrityEngineAppendsZeroMAC(t *testing.T) {
	eng, err := NewIntegrityEngine(NIA0, testKey(0), 1, DirectionDownlink)
	require.NoError(t, err)

	buf := buffer.New([]byte("payload"))
	out, err := eng.ProtectIntegrity(buf, 1)
	require.NoError(t, err)
	require.Equal(t, len("payload")+MACLen, out.Len())

	body, err := eng.VerifyIntegrity(out, 1)
	require.NoError(t, err)
	require.Equal(t, "payload", string(body.Bytes()))
}

func TestIntegrityRoundTripForEveryAlgorithm(t *testing.T) {
	algos := []IntegrityAlgorithm{NIA1, NIA2, NIA3}
	for _, algo := range algos {
		algo := algo
		t.Run(algo.String(), func(t *testing.T) {
			key := testKey(0x99)
			eng, err := NewIntegrityEngine(algo, key, 9, DirectionDownlink)
			require.NoError(t, err)

			buf := buffer.New([]byte("integrity protected message"))
			protected, err := eng.ProtectIntegrity(buf, 55)
			require.NoError(t, err)

			verifier, err := NewIntegrityEngine(algo, key, 9, DirectionDownlink)
			require.NoError(t, err)
			body, err := verifier.VerifyIntegrity(protected, 55)
			require.NoError(t, err)
			require.Equal(t, "integrity protected message", string(body.Bytes()))
		})
	}
}

func TestIntegrityDetectsTampering(t *testing.T) {
	algos := []IntegrityAlgorithm{NIA1, NIA2, NIA3}
	for _, algo := range algos {
		algo := algo
		t.Run(algo.String(), func(t *testing.T) {
			key := testKey(0x99)
			eng, err := NewIntegrityEngine(algo, key, 9, DirectionDownlink)
			require.NoError(t, err)

			buf := buffer.New([]byte("integrity protected message"))
			protected, err := eng.ProtectIntegrity(buf, 55)
			require.NoError(t, err)

			tampered, err := protected.Slice(0, protected.Len())
			require.NoError(t, err)
			segs, err := tampered.ModifiableSegments(0)
			require.NoError(t, err)
			segs[0][0] ^= 0xff

			_, err = eng.VerifyIntegrity(tampered, 55)
			require.ErrorIs(t, err, ErrIntegrityFailure)
		})
	}
}

// TestNEA2KnownVector is 128-EEA2 Test Set 1 (TS 33.501 Sec. D.4.4, TS
// 33.401 Sec. C.1), also quoted as S1 in the test-vector table this repo's
// specification enumerates. The 32-byte plaintext is the bit-length-253
// message already zero-padded to a byte boundary by the 3GPP test data, so
// it carries through AES-CTR's byte-oriented keystream unchanged.
func TestNEA2KnownVector(t *testing.T) {
	key := keyFromHex(t, "d3c5d592327fb11c4035c6680af8c6d1")
	plaintext, err := hex.DecodeString("981ba6824c1bfb1ab485472029b71d808ce33e2cc3c0b5fc1f3de8a6dc66b1f0")
	require.NoError(t, err)
	wantCiphertext, err := hex.DecodeString("e9fed8a63d155304d71df20bf3e82214b20ed7dad2f233dc3c22d7bdeeed8e78")
	require.NoError(t, err)

	eng, err := NewCipheringEngine(NEA2, key, 0x15, DirectionDownlink)
	require.NoError(t, err)
	buf := buffer.New(plaintext)
	out, err := eng.ApplyCiphering(buf, 0, 0x398a59b4)
	require.NoError(t, err)
	require.Equal(t, wantCiphertext, out.Bytes())
}

// TestNIA1KnownVector is 128-EIA1 Test Set 1 (TS 33.401 Sec. C.4), quoted as
// S2. LEN is 88 bits (11 bytes, byte-aligned); only the leading 11 bytes of
// the published message are the actual MAC input, the rest is the test
// vector's own zero padding to a round hex-string length.
func TestNIA1KnownVector(t *testing.T) {
	key := keyFromHex(t, "2bd6459f82c5b300952c49104881ff48")
	msg, err := hex.DecodeString("33323462633938613734790000000000")
	require.NoError(t, err)
	wantMAC, err := hex.DecodeString("731f1165")
	require.NoError(t, err)

	eng, err := NewIntegrityEngine(NIA1, key, 0x1f, DirectionUplink)
	require.NoError(t, err)
	buf := buffer.New(msg[:11])
	out, err := eng.ProtectIntegrity(buf, 0x38a6f056)
	require.NoError(t, err)
	gotMAC, err := out.Slice(out.Len()-MACLen, out.Len())
	require.NoError(t, err)
	require.Equal(t, wantMAC, gotMAC.Bytes())
}

// TestNIA3KnownVector is quoted as S3. The raw 128-EIA3 Test Set 1 (TS
// 35.223) uses a 1-bit message, which this package's byte-oriented
// IntegrityEngine interface cannot express (ProtectIntegrity always MACs a
// whole number of bytes). Use the corpus's own byte-expanded substitute
// instead -- nia3_test_set.h's "128_NIA3_Test_Set_1_mod", documented there
// as "expanded to next full byte" for exactly this kind of byte-oriented
// harness.
func TestNIA3KnownVector(t *testing.T) {
	key := keyFromHex(t, "00000000000000000000000000000000")
	msg, err := hex.DecodeString("00")
	require.NoError(t, err)
	wantMAC, err := hex.DecodeString("390a91b7")
	require.NoError(t, err)

	eng, err := NewIntegrityEngine(NIA3, key, 0, DirectionUplink)
	require.NoError(t, err)
	buf := buffer.New(msg)
	out, err := eng.ProtectIntegrity(buf, 0)
	require.NoError(t, err)
	gotMAC, err := out.Slice(out.Len()-MACLen, out.Len())
	require.NoError(t, err)
	require.Equal(t, wantMAC, gotMAC.Bytes())
}

func TestWorkerPoolBindsOneEngineInstancePerWorker(t *testing.T) {
	cfg := ASConfig{CipherAlgo: NEA2}
	kInt := Key256{}
	integAlg := NIA2
	cfg.KInt = &kInt
	cfg.IntegAlgo = &integAlg

	pool, err := NewWorkerPool(4, cfg, 1, DirectionDownlink, true, true)
	require.NoError(t, err)
	require.True(t, pool.IntegrityEnabled())
	require.True(t, pool.CipheringEnabled())

	for i := 0; i < 4; i++ {
		_, err := pool.Ciphering(i)
		require.NoError(t, err)
		_, err = pool.Integrity(i)
		require.NoError(t, err)
	}
	_, err = pool.Ciphering(4)
	require.Error(t, err)
}

func TestWorkerPoolIntegrityDisabled(t *testing.T) {
	cfg := ASConfig{CipherAlgo: NEA0}
	pool, err := NewWorkerPool(2, cfg, 1, DirectionUplink, false, false)
	require.NoError(t, err)
	require.False(t, pool.IntegrityEnabled())
	_, err = pool.Integrity(0)
	require.Error(t, err)
}
