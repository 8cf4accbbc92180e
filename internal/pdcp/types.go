// Package pdcp implements the NR PDCP TX and RX entities: header framing,
// security dispatch across a parallel crypto worker pool, sliding-window
// reordering, discard/retransmission and status-report handling.
package pdcp

import (
	"time"

	"github.com/hhorai/gnbpdcp/internal/security"
)

// SNSize is the sequence number width in bits (§3.3).
type SNSize uint8

const (
	SN12 SNSize = 12
	SN18 SNSize = 18
)

// WindowSize returns 2^(SN_SIZE-1), the reordering window half-range.
func (s SNSize) WindowSize() uint32 { return 1 << (uint(s) - 1) }

// Modulus returns 2^SN_SIZE, the COUNT wraparound used to extract SN.
func (s SNSize) Modulus() uint32 { return 1 << uint(s) }

// RBType distinguishes signalling from data radio bearers.
type RBType uint8

const (
	RBSRB RBType = iota
	RBDRB
)

// RLCMode selects acknowledged vs. unacknowledged underlying RLC.
type RLCMode uint8

const (
	RLCUM RLCMode = iota
	RLCAM
)

// MaxCountConfig carries the two COUNT thresholds of §4.G.1.
type MaxCountConfig struct {
	Notify uint32
	Hard   uint32
}

// DiscardTimer is the optional SDU retention bound; Infinite disables it.
type DiscardTimer struct {
	Infinite bool
	Duration time.Duration
}

// sn extracts the wire sequence number from a COUNT.
func sn(count uint32, size SNSize) uint32 { return count & (size.Modulus() - 1) }

// hfn extracts the hyper-frame number from a COUNT.
func hfn(count uint32, size SNSize) uint32 { return count >> uint(size) }

// countOf reassembles a COUNT from an HFN and SN.
func countOf(h, s uint32, size SNSize) uint32 { return h<<uint(size) | s }

// SecurityState is the (domain, keys, algorithms) tuple an entity is
// (re)configured with; it mirrors security.ASConfig but also carries the
// bearer id / direction the engines bind to.
type SecurityState struct {
	Config   security.ASConfig
	BearerID uint8
	Dir      security.Direction
}
