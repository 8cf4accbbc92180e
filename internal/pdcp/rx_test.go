package pdcp

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hhorai/gnbpdcp/internal/buffer"
	"github.com/hhorai/gnbpdcp/internal/security"
)

type recordingRxObserver struct {
	sdus chan []byte
}

func newRecordingRxObserver() *recordingRxObserver {
	return &recordingRxObserver{sdus: make(chan []byte, 32)}
}

func (o *recordingRxObserver) OnNewSDU(sdu []byte)  { o.sdus <- sdu }
func (o *recordingRxObserver) OnMaxCountReached()   {}
func (o *recordingRxObserver) OnProtocolFailure()   {}
func (o *recordingRxObserver) OnIntegrityFailure()  {}

func newTestRx(t *testing.T, rbType RBType, rlcMode RLCMode, tReordering time.Duration) (*Rx, *recordingRxObserver) {
	t.Helper()
	crypto := NewCryptoPool(2, 16)
	t.Cleanup(crypto.Stop)

	obs := newRecordingRxObserver()
	cfg := RxConfig{
		RBType:        rbType,
		RLCMode:       rlcMode,
		SNSize:        SN12,
		MaxCount:      MaxCountConfig{Notify: 1 << 16, Hard: 1 << 20},
		Direction:     security.DirectionUplink,
		TReordering:   tReordering,
		BearerID:      1,
		CryptoWorkers: 2,
		QueueDepth:    32,
	}
	secCfg := security.ASConfig{CipherAlgo: security.NEA0}
	rx, err := NewRx(cfg, secCfg, false, false, crypto, obs, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(rx.Stop)
	return rx, obs
}

// buildDataPDU frames a raw data PDU the way Tx would with NEA0 and
// integrity off: header + plaintext, no trailing MAC.
func buildDataPDU(rbType RBType, size SNSize, count uint32, payload []byte) []byte {
	buf := buffer.New(append([]byte(nil), payload...))
	writeHeader(buf, rbType, size, sn(count, size))
	return buf.Bytes()
}

func recvSDU(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case sdu := <-ch:
		return sdu
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sdu")
		return nil
	}
}

func TestRxDeliversInOrderSDU(t *testing.T) {
	rx, obs := newTestRx(t, RBDRB, RLCAM, 50*time.Millisecond)

	payload := []byte("in order payload")
	rx.HandlePDU(buildDataPDU(RBDRB, SN12, 0, payload))

	got := recvSDU(t, obs.sdus)
	require.Equal(t, payload, got)
}

func TestRxDeliversMultipleInOrderSDUs(t *testing.T) {
	rx, obs := newTestRx(t, RBDRB, RLCAM, 50*time.Millisecond)

	for i := uint32(0); i < 3; i++ {
		rx.HandlePDU(buildDataPDU(RBDRB, SN12, i, []byte{byte(i)}))
	}
	for i := uint32(0); i < 3; i++ {
		got := recvSDU(t, obs.sdus)
		require.Equal(t, []byte{byte(i)}, got)
	}
}

func TestRxWithholdsOutOfOrderUntilGapFills(t *testing.T) {
	rx, obs := newTestRx(t, RBDRB, RLCAM, 2*time.Second)

	rx.HandlePDU(buildDataPDU(RBDRB, SN12, 1, []byte("second")))

	select {
	case <-obs.sdus:
		t.Fatal("sdu delivered before the gap at count 0 was filled")
	case <-time.After(300 * time.Millisecond):
	}

	rx.HandlePDU(buildDataPDU(RBDRB, SN12, 0, []byte("first")))

	require.Equal(t, []byte("first"), recvSDU(t, obs.sdus))
	require.Equal(t, []byte("second"), recvSDU(t, obs.sdus))
}

func TestRxCompileStatusReportReflectsGap(t *testing.T) {
	rx, _ := newTestRx(t, RBDRB, RLCAM, 2*time.Second)

	rx.HandlePDU(buildDataPDU(RBDRB, SN12, 1, []byte("one")))
	rx.HandlePDU(buildDataPDU(RBDRB, SN12, 3, []byte("three")))

	require.Eventually(t, func() bool {
		report, err := rx.CompileStatusReport()
		if err != nil {
			return false
		}
		return report.FMC == 0 &&
			!report.MissingBitSet(1) &&
			report.MissingBitSet(2) &&
			!report.MissingBitSet(3)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRxStopIsIdempotent(t *testing.T) {
	rx, _ := newTestRx(t, RBDRB, RLCAM, 50*time.Millisecond)
	rx.Stop()
	rx.Stop()
}

func TestRxControlPDURoutesToStatusHandler(t *testing.T) {
	rx, _ := newTestRx(t, RBDRB, RLCAM, 50*time.Millisecond)

	got := make(chan *buffer.Buffer, 1)
	rx.OnStatusReport(func(b *buffer.Buffer) { got <- b })

	report := StatusReport{FMC: 42}
	report.SetMissingBit(44)
	rx.HandlePDU(EncodeStatusReport(report).Bytes())

	select {
	case b := <-got:
		decoded, err := DecodeStatusReport(b)
		require.NoError(t, err)
		require.Equal(t, uint32(42), decoded.FMC)
		require.True(t, decoded.MissingBitSet(44))
	case <-time.After(2 * time.Second):
		t.Fatal("status handler was not invoked")
	}
}
