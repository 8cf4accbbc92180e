package security

import "github.com/hhorai/gnbpdcp/internal/buffer"

// CipheringEngine is bound to a single (algorithm, key, bearer, direction)
// tuple and is reentrant but never shared across workers (§4.C).
type CipheringEngine interface {
	// ApplyCiphering XORs the keystream for COUNT over buf[offset:] in
	// place and returns buf.
	ApplyCiphering(buf *buffer.Buffer, offset int, count uint32) (*buffer.Buffer, error)
}

// IntegrityEngine computes or verifies the 4-byte MAC-I over a buffer
// (§4.D). ProtectIntegrity appends the MAC; VerifyIntegrity splits it off
// and checks it, returning the buffer without the trailing MAC on success.
type IntegrityEngine interface {
	ProtectIntegrity(buf *buffer.Buffer, count uint32) (*buffer.Buffer, error)
	VerifyIntegrity(buf *buffer.Buffer, count uint32) (*buffer.Buffer, error)
}

// NewCipheringEngine builds the ciphering engine for algo. key128 is ignored
// for NEA0. bearerID is 0..31.
func NewCipheringEngine(algo CipheringAlgorithm, key128 Key128, bearerID uint8, dir Direction) (CipheringEngine, error) {
	switch algo {
	case NEA0:
		return nullCipheringEngine{}, nil
	case NEA1:
		return &nea1Engine{key: key128, bearerID: bearerID, dir: dir}, nil
	case NEA2:
		return newNEA2Engine(key128, bearerID, dir)
	case NEA3:
		return &nea3Engine{key: key128, bearerID: bearerID, dir: dir}, nil
	default:
		return nil, ErrEngineFailure
	}
}

// NewIntegrityEngine builds the integrity engine for algo. On an SRB, NIA0
// is only valid when the paired cipher is also NEA0 (§4.B, §4.E); the caller
// is responsible for enforcing that pairing before construction.
func NewIntegrityEngine(algo IntegrityAlgorithm, key128 Key128, bearerID uint8, dir Direction) (IntegrityEngine, error) {
	switch algo {
	case NIA0:
		return nullIntegrityEngine{}, nil
	case NIA1:
		return &nia1Engine{key: key128, bearerID: bearerID, dir: dir}, nil
	case NIA2:
		return newNIA2Engine(key128, bearerID, dir)
	case NIA3:
		return &nia3Engine{key: key128, bearerID: bearerID, dir: dir}, nil
	default:
		return nil, ErrEngineFailure
	}
}

type nullCipheringEngine struct{}

func (nullCipheringEngine) ApplyCiphering(buf *buffer.Buffer, offset int, count uint32) (*buffer.Buffer, error) {
	return buf, nil
}

type nullIntegrityEngine struct{}

func (nullIntegrityEngine) ProtectIntegrity(buf *buffer.Buffer, count uint32) (*buffer.Buffer, error) {
	buf.Append(make([]byte, MACLen))
	return buf, nil
}

func (nullIntegrityEngine) VerifyIntegrity(buf *buffer.Buffer, count uint32) (*buffer.Buffer, error) {
	if buf.Len() < MACLen {
		return nil, ErrIntegrityFailure
	}
	body, err := buf.Slice(0, buf.Len()-MACLen)
	if err != nil {
		return nil, ErrBufferFailure
	}
	return body, nil
}

// WorkerPool owns one ciphering and one integrity engine per crypto worker,
// indexed by the worker's thread-local index (§4.E). Engines are immutable
// after construction; reconfiguration replaces the whole pool atomically.
type WorkerPool struct {
	ciph []CipheringEngine
	integ []IntegrityEngine
	integrityEnabled bool
	cipheringEnabled bool
}

// NewWorkerPool allocates n identical engines (one per worker) for the given
// config, bearer and direction. If integOn is requested but kInt/integAlgo
// are missing, it returns ErrMissingIntegrityConfig instead of silently
// falling back to NIA0/a zero key; the caller (configure_security) must log
// the failure and leave its prior state untouched (§4.E).
func NewWorkerPool(n int, cfg ASConfig, bearerID uint8, dir Direction, integOn, ciphOn bool) (*WorkerPool, error) {
	if integOn && (cfg.IntegAlgo == nil || cfg.KInt == nil) {
		return nil, ErrMissingIntegrityConfig
	}
	kEnc, kInt := cfg.Truncate128()
	pool := &WorkerPool{
		ciph:             make([]CipheringEngine, n),
		integ:            make([]IntegrityEngine, n),
		integrityEnabled: integOn,
		cipheringEnabled: ciphOn,
	}
	for i := 0; i < n; i++ {
		var err error
		pool.ciph[i], err = NewCipheringEngine(cfg.CipherAlgo, kEnc, bearerID, dir)
		if err != nil {
			return nil, err
		}
		if integOn {
			pool.integ[i], err = NewIntegrityEngine(*cfg.IntegAlgo, *kInt, bearerID, dir)
			if err != nil {
				return nil, err
			}
		}
	}
	return pool, nil
}

// NewNullWorkerPool allocates n engines with ciphering and integrity both
// disabled (NEA0/NIA0), the state an RX or TX entity starts in before its
// first configure_security call populates real engines (§4.E/spec.md:398).
func NewNullWorkerPool(n int) *WorkerPool {
	pool := &WorkerPool{
		ciph:  make([]CipheringEngine, n),
		integ: make([]IntegrityEngine, n),
	}
	for i := 0; i < n; i++ {
		pool.ciph[i] = nullCipheringEngine{}
		pool.integ[i] = nullIntegrityEngine{}
	}
	return pool
}

// Ciphering returns the engine bound to worker idx.
func (p *WorkerPool) Ciphering(idx int) (CipheringEngine, error) {
	if p == nil || idx < 0 || idx >= len(p.ciph) || p.ciph[idx] == nil {
		return nil, ErrEngineFailure
	}
	return p.ciph[idx], nil
}

// Integrity returns the engine bound to worker idx, or an error if integrity
// protection is currently disabled.
func (p *WorkerPool) Integrity(idx int) (IntegrityEngine, error) {
	if p == nil || !p.integrityEnabled || idx < 0 || idx >= len(p.integ) || p.integ[idx] == nil {
		return nil, ErrEngineFailure
	}
	return p.integ[idx], nil
}

func (p *WorkerPool) IntegrityEnabled() bool { return p != nil && p.integrityEnabled }
func (p *WorkerPool) CipheringEnabled() bool { return p != nil && p.cipheringEnabled }
