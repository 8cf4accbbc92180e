package kdf

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hhorai/gnbpdcp/internal/security"
)

func key256FromHex(t *testing.T, s string) security.Key256 {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	var k security.Key256
	require.Equal(t, security.KeyLen, copy(k[:], b))
	return k
}

func key256(fill byte) security.Key256 {
	var k security.Key256
	for i := range k {
		k[i] = fill
	}
	return k
}

func TestGenericKDFDeterministic(t *testing.T) {
	k := key256(0x42)
	a := GenericKDF(k, FCAlgorithmKeyDerivation, []byte{0x01, 0x02})
	b := GenericKDF(k, FCAlgorithmKeyDerivation, []byte{0x01, 0x02})
	require.Equal(t, a, b)
}

func TestGenericKDFSensitiveToEveryInput(t *testing.T) {
	k := key256(0x42)
	base := GenericKDF(k, FCAlgorithmKeyDerivation, []byte{0x01, 0x02})

	diffFC := GenericKDF(k, FCKNGRANStarDerivation, []byte{0x01, 0x02})
	require.NotEqual(t, base, diffFC)

	diffParam := GenericKDF(k, FCAlgorithmKeyDerivation, []byte{0x01, 0x03})
	require.NotEqual(t, base, diffParam)

	diffKey := GenericKDF(key256(0x43), FCAlgorithmKeyDerivation, []byte{0x01, 0x02})
	require.NotEqual(t, base, diffKey)
}

func TestGenerateKRRCProducesDistinctEncAndIntKeys(t *testing.T) {
	kGNB := key256(0x11)
	enc, integ := GenerateKRRC(kGNB, security.NEA2, security.NIA2)
	require.NotEqual(t, enc, integ)
	require.NotEqual(t, key256(0), enc)
	require.NotEqual(t, key256(0), integ)
}

// TestGenerateKRRCKnownVector is S4, the K_RRC derivation table test the
// specification's test-vector table requires.
func TestGenerateKRRCKnownVector(t *testing.T) {
	kGNB := key256FromHex(t, "45cbc3f8a81193fd5c5229300d59edf812e998a115ec4e0ce903ba89367e2628")
	wantEnc := key256FromHex(t, "52a995dff89bc294bd89ffb137a29f2466a09e992386c8d1df7892964c6fb522")
	wantInt := key256FromHex(t, "534208f43b924efb677d95f93dbcbcb05c2cc2fda0f318a1e0ce35b9db5e80a5")

	enc, integ := GenerateKRRC(kGNB, security.NEA2, security.NIA0)
	require.Equal(t, wantEnc, enc)
	require.Equal(t, wantInt, integ)
}

func TestGenerateKUPDiffersFromGenerateKRRC(t *testing.T) {
	kGNB := key256(0x11)
	rrcEnc, rrcInt := GenerateKRRC(kGNB, security.NEA2, security.NIA2)
	upEnc, upInt := GenerateKUP(kGNB, security.NEA2, security.NIA2)
	require.NotEqual(t, rrcEnc, upEnc)
	require.NotEqual(t, rrcInt, upInt)
}

func TestGenerateKNGRANStarVariesWithTargetCell(t *testing.T) {
	k := key256(0x77)
	a := GenerateKNGRANStar(k, 100, 500000)
	b := GenerateKNGRANStar(k, 101, 500000)
	require.NotEqual(t, a, b)
}

func TestTruncateKeyTakesLowOrderBytes(t *testing.T) {
	var k security.Key256
	for i := range k {
		k[i] = byte(i)
	}
	got := TruncateKey(k)
	want := security.Key128{}
	copy(want[:], k[security.KeyLen-security.Key128Len:])
	require.Equal(t, want, got)
}

func TestSelectIntegrityPrefersHighestRankedSupported(t *testing.T) {
	pref := PreferredIntegrity{security.NIA2, security.NIA1, security.NIA3, security.NIA0}
	supported := SupportedAlgorithms{true, false, true} // NIA1, NIA3 supported, NIA2 not

	got, err := SelectIntegrity(pref, supported)
	require.NoError(t, err)
	require.Equal(t, security.NIA1, got)
}

func TestSelectIntegrityFallsBackToNIA0(t *testing.T) {
	pref := PreferredIntegrity{security.NIA2, security.NIA1, security.NIA3, security.NIA0}
	supported := SupportedAlgorithms{false, false, false}

	got, err := SelectIntegrity(pref, supported)
	require.NoError(t, err)
	require.Equal(t, security.NIA0, got)
}

func TestSelectCipheringNoCommonAlgorithm(t *testing.T) {
	// Every slot is filled: an unset slot would be NEA0, which is always
	// accepted.
	pref := PreferredCiphering{security.NEA1, security.NEA2, security.NEA3, security.NEA3}
	supported := SupportedAlgorithms{false, false, false}

	_, err := SelectCiphering(pref, supported)
	require.ErrorIs(t, err, ErrNoCommonAlgorithm)
}

func TestSelectAlgorithmsRejectsNullIntegrityWithRealCipherOnDRB(t *testing.T) {
	prefInt := PreferredIntegrity{security.NIA0}
	prefCiph := PreferredCiphering{security.NEA2}
	supInt := SupportedAlgorithms{}
	supCiph := SupportedAlgorithms{false, true, false}

	_, _, err := SelectAlgorithms(true, prefInt, prefCiph, supInt, supCiph)
	require.ErrorIs(t, err, ErrNoCommonAlgorithm)
}

func TestSelectAlgorithmsAllowsNullIntegrityWithNullCipherOnDRB(t *testing.T) {
	prefInt := PreferredIntegrity{security.NIA0}
	prefCiph := PreferredCiphering{security.NEA0}
	supInt := SupportedAlgorithms{}
	supCiph := SupportedAlgorithms{}

	integ, ciph, err := SelectAlgorithms(true, prefInt, prefCiph, supInt, supCiph)
	require.NoError(t, err)
	require.Equal(t, security.NIA0, integ)
	require.Equal(t, security.NEA0, ciph)
}
