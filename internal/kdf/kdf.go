// Package kdf implements the TS 33.220 Annex B generic key derivation
// function and the TS 33.501 Annex A specializations used to derive
// RRC/UP ciphering and integrity keys from K_gNB.
package kdf

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/hhorai/gnbpdcp/internal/security"
)

// FC values per TS 33.501 Sec. A.1.2.
const (
	FCAlgorithmKeyDerivation byte = 0x69
	FCKNGRANStarDerivation   byte = 0x70
)

// Algorithm distinguishers per TS 33.501 Sec. A.8 Table A.8-1.
const (
	DistinguisherRRCEnc byte = 0x03
	DistinguisherRRCInt byte = 0x04
	DistinguisherUPEnc  byte = 0x05
	DistinguisherUPInt  byte = 0x06
)

// GenericKDF implements TS 33.220 Annex B.2: HMAC-SHA256 over
// FC || P0 || len(P0) || P1 || len(P1) || ..., keyed by keyIn.
func GenericKDF(keyIn security.Key256, fc byte, params ...[]byte) security.Key256 {
	mac := hmac.New(sha256.New, keyIn[:])
	mac.Write([]byte{fc})
	for _, p := range params {
		mac.Write(p)
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(p)))
		mac.Write(l[:])
	}
	sum := mac.Sum(nil)
	var out security.Key256
	copy(out[:], sum)
	return out
}

// GenerateKRRC derives K_RRC_enc / K_RRC_int from K_gNB per TS 33.501 Sec. A.8.
// Each call feeds FC || P0 (distinguisher) || L0 || P1 (algorithm ID) || L1
// as two independently length-prefixed params, per Table A.8-1.
func GenerateKRRC(kGNB security.Key256, cipherAlg security.CipheringAlgorithm, integAlg security.IntegrityAlgorithm) (kRRCEnc, kRRCInt security.Key256) {
	kRRCEnc = GenericKDF(kGNB, FCAlgorithmKeyDerivation, []byte{DistinguisherRRCEnc}, []byte{byte(cipherAlg)})
	kRRCInt = GenericKDF(kGNB, FCAlgorithmKeyDerivation, []byte{DistinguisherRRCInt}, []byte{byte(integAlg)})
	return
}

// GenerateKUP derives K_UP_enc / K_UP_int from K_gNB per TS 33.501 Sec. A.8.
func GenerateKUP(kGNB security.Key256, cipherAlg security.CipheringAlgorithm, integAlg security.IntegrityAlgorithm) (kUPEnc, kUPInt security.Key256) {
	kUPEnc = GenericKDF(kGNB, FCAlgorithmKeyDerivation, []byte{DistinguisherUPEnc}, []byte{byte(cipherAlg)})
	kUPInt = GenericKDF(kGNB, FCAlgorithmKeyDerivation, []byte{DistinguisherUPInt}, []byte{byte(integAlg)})
	return
}

// GenerateKNGRANStar derives K_NG-RAN* for a target PCI/SSB-ARFCN during
// handover, per TS 33.501 Sec. A.11.
func GenerateKNGRANStar(k security.Key256, targetPCI uint16, targetSSBARFCN uint32) security.Key256 {
	var pci [2]byte
	binary.BigEndian.PutUint16(pci[:], targetPCI)
	var arfcn [3]byte
	arfcn[0] = byte(targetSSBARFCN >> 16)
	arfcn[1] = byte(targetSSBARFCN >> 8)
	arfcn[2] = byte(targetSSBARFCN)
	return GenericKDF(k, FCKNGRANStarDerivation, pci[:], arfcn[:])
}

// TruncateKey returns the least-significant 16 bytes of a 256-bit key
// (TS 33.501 Sec. A.8).
func TruncateKey(k security.Key256) security.Key128 {
	return security.TruncateKey(k)
}

// PreferredIntegrity / PreferredCiphering express the bearer's ranked
// algorithm preference, used by SelectAlgorithms.
type PreferredIntegrity [4]security.IntegrityAlgorithm
type PreferredCiphering [4]security.CipheringAlgorithm

// SupportedAlgorithms is a bitmap of NIA1..3/NEA1..3 support (index 0 = alg 1).
type SupportedAlgorithms [3]bool

// ErrNoCommonAlgorithm is returned when no supported algorithm appears in
// the preference list, or the only viable choice pairs NIA0 with a
// non-null cipher on a DRB (TS 33.501 disallows that combination).
var ErrNoCommonAlgorithm = errors.New("kdf: no common algorithm")

// SelectIntegrity picks the highest-preference supported integrity
// algorithm. NIA0 is implicitly supported and always comes last in any
// sane preference list, matching srsRAN's selection semantics.
func SelectIntegrity(pref PreferredIntegrity, supported SupportedAlgorithms) (security.IntegrityAlgorithm, error) {
	for _, alg := range pref {
		if alg == security.NIA0 {
			return alg, nil
		}
		if supported[alg-1] {
			return alg, nil
		}
	}
	return 0, ErrNoCommonAlgorithm
}

// SelectCiphering picks the highest-preference supported ciphering
// algorithm, mirroring SelectIntegrity.
func SelectCiphering(pref PreferredCiphering, supported SupportedAlgorithms) (security.CipheringAlgorithm, error) {
	for _, alg := range pref {
		if alg == security.NEA0 {
			return alg, nil
		}
		if supported[alg-1] {
			return alg, nil
		}
	}
	return 0, ErrNoCommonAlgorithm
}

// SelectAlgorithms chooses a compatible (integrity, ciphering) pair and
// rejects NIA0 paired with a non-null cipher on a DRB, per §4.F.
func SelectAlgorithms(isDRB bool, prefInt PreferredIntegrity, prefCiph PreferredCiphering, supInt, supCiph SupportedAlgorithms) (security.IntegrityAlgorithm, security.CipheringAlgorithm, error) {
	integ, err := SelectIntegrity(prefInt, supInt)
	if err != nil {
		return 0, 0, err
	}
	ciph, err := SelectCiphering(prefCiph, supCiph)
	if err != nil {
		return 0, 0, err
	}
	if isDRB && integ == security.NIA0 && ciph != security.NEA0 {
		return 0, 0, ErrNoCommonAlgorithm
	}
	return integ, ciph, nil
}
