package pdcp

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hhorai/gnbpdcp/internal/buffer"
	"github.com/hhorai/gnbpdcp/internal/security"
)

type recordingTxObserver struct {
	pdus chan []byte
}

func newRecordingTxObserver() *recordingTxObserver {
	return &recordingTxObserver{pdus: make(chan []byte, 32)}
}

func (o *recordingTxObserver) OnNewPDU(pdu []byte, isRetx bool) { o.pdus <- pdu }
func (o *recordingTxObserver) OnDiscardPDU(sn uint32)           {}
func (o *recordingTxObserver) OnMaxCountReached()               {}
func (o *recordingTxObserver) OnProtocolFailure()                {}

func newTestTx(t *testing.T, rbType RBType, rlcMode RLCMode, testMode bool) (*Tx, *recordingTxObserver) {
	t.Helper()
	crypto := NewCryptoPool(2, 16)
	t.Cleanup(crypto.Stop)

	obs := newRecordingTxObserver()
	cfg := TxConfig{
		RBType:        rbType,
		RLCMode:       rlcMode,
		SNSize:        SN12,
		DiscardTimer:  DiscardTimer{Infinite: true},
		MaxCount:      MaxCountConfig{Notify: 1 << 16, Hard: 1 << 20},
		Direction:     security.DirectionDownlink,
		TestMode:      testMode,
		BearerID:      1,
		CryptoWorkers: 2,
		QueueDepth:    32,
	}
	secCfg := security.ASConfig{CipherAlgo: security.NEA0}
	tx, err := NewTx(cfg, secCfg, false, false, crypto, obs, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(tx.Stop)
	return tx, obs
}

func recvPDU(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case pdu := <-ch:
		return pdu
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pdu")
		return nil
	}
}

func TestTxHandleSDUEmitsFramedPDU(t *testing.T) {
	tx, obs := newTestTx(t, RBDRB, RLCUM, true)

	sdu := []byte("hello over the air")
	tx.HandleSDU(sdu)

	pdu := recvPDU(t, obs.pdus)
	buf := buffer.New(pdu)
	require.Equal(t, headerLen(SN12)+len(sdu), buf.Len(), "nea0/nia0-off pdu should be header+sdu with no MAC")

	gotSN, err := readSN(buf, SN12)
	require.NoError(t, err)
	require.Equal(t, uint32(0), gotSN)

	require.NoError(t, buf.TrimHead(headerLen(SN12)))
	require.Equal(t, sdu, buf.Bytes())
}

func TestTxSequenceNumberIncrementsPerSDU(t *testing.T) {
	tx, obs := newTestTx(t, RBDRB, RLCUM, true)

	for i := 0; i < 3; i++ {
		tx.HandleSDU([]byte{byte(i)})
	}

	var sns []uint32
	for i := 0; i < 3; i++ {
		pdu := recvPDU(t, obs.pdus)
		sn, err := readSN(buffer.New(pdu), SN12)
		require.NoError(t, err)
		sns = append(sns, sn)
	}
	require.Equal(t, []uint32{0, 1, 2}, sns)
}

func TestTxStopIsIdempotent(t *testing.T) {
	tx, _ := newTestTx(t, RBDRB, RLCUM, true)
	tx.Stop()
	tx.Stop()
}

func TestTxHandleSDUAfterStopIsDropped(t *testing.T) {
	tx, obs := newTestTx(t, RBDRB, RLCUM, true)
	tx.Stop()
	tx.HandleSDU([]byte("too late"))

	select {
	case <-obs.pdus:
		t.Fatal("expected no pdu after stop")
	case <-time.After(200 * time.Millisecond):
	}
}
