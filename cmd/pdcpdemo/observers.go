package main

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/hhorai/gnbpdcp/internal/gtp"
)

// lowerLayer bridges a TX entity's on_new_pdu/on_discard_pdu signals to the
// paired RX entity (loopback demo) and, optionally, out through a GTP-U
// tunnel onto a TUN device -- the stand-in N3 path described in
// SPEC_FULL.md §2.
type lowerLayer struct {
	log     zerolog.Logger
	peerRx  func(pdu []byte)
	tunnel  *gtp.Tunnel
	tunSend func(pkt []byte) error
}

func (l *lowerLayer) OnNewPDU(pdu []byte, isRetx bool) {
	l.log.Debug().Int("len", len(pdu)).Bool("retx", isRetx).Msg("on_new_pdu")
	if l.peerRx != nil {
		l.peerRx(pdu)
	}
	if l.tunnel != nil && l.tunSend != nil {
		if err := l.tunSend(l.tunnel.Encap(pdu)); err != nil {
			l.log.Error().Err(err).Msg("tun send failed")
		}
	}
}

func (l *lowerLayer) OnDiscardPDU(snVal uint32) {
	l.log.Warn().Uint32("sn", snVal).Msg("on_discard_pdu")
}

func (l *lowerLayer) OnMaxCountReached() { l.log.Warn().Msg("tx: max_count.notify reached") }
func (l *lowerLayer) OnProtocolFailure() { l.log.Error().Msg("tx: protocol failure") }

// upperLayer receives decrypted SDUs and control-plane signals from the RX
// entity.
type upperLayer struct {
	log      zerolog.Logger
	received chan<- []byte
}

func (u *upperLayer) OnNewSDU(sdu []byte) {
	u.log.Info().Int("len", len(sdu)).Msg("on_new_sdu")
	select {
	case u.received <- sdu:
	default:
	}
}

func (u *upperLayer) OnMaxCountReached()  { u.log.Warn().Msg("rx: max_count.notify reached") }
func (u *upperLayer) OnProtocolFailure()  { u.log.Error().Msg("rx: protocol failure") }
func (u *upperLayer) OnIntegrityFailure() { u.log.Error().Msg("rx: integrity failure") }

// tunWriter adapts the TUN device's raw file descriptor into the tunSend
// signature lowerLayer expects.
func tunWriter(f *os.File) func([]byte) error {
	return func(pkt []byte) error {
		_, err := f.Write(pkt)
		return err
	}
}
