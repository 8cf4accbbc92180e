package pdcp

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hhorai/gnbpdcp/internal/buffer"
	"github.com/hhorai/gnbpdcp/internal/obs"
	"github.com/hhorai/gnbpdcp/internal/security"
)

// TxConfig carries the per-bearer parameters of §4.G.1.
type TxConfig struct {
	RBType               RBType
	RLCMode              RLCMode
	SNSize               SNSize
	DiscardTimer         DiscardTimer
	MaxCount             MaxCountConfig
	Direction            security.Direction
	StatusReportRequired bool
	TestMode             bool
	WarnOnDrop           bool
	BearerID             uint8
	CryptoWorkers        int
	QueueDepth           int
}

// Tx is a PDCP TX entity (§4.G). handle_sdu and the lower-layer
// notifications run on ul (the UE-UL executor); apply_reordering runs on
// dl (the UE-DL executor). A mutex guards the window and state scalars
// that both executors touch, trading some of the lock-free
// executor-ownership split the spec describes for a design whose
// correctness does not depend on an exact interleaving that could not be
// tested before shipping (see DESIGN.md).
type Tx struct {
	cfg TxConfig

	mu            sync.Mutex
	window        *window[txEntry]
	txNext        uint32
	txNextAck     uint32
	txTrans       uint32
	txTransCrypto uint32
	txReordCrypto uint32
	retransmitID  uint64
	stopped       bool
	notifyLatched bool
	hardLatched   bool
	dbs           uint32

	secPool *security.WorkerPool
	crypto  *CryptoPool
	ul      *Executor
	dl      *Executor
	tokens  *TokenManager

	discardTimer *time.Timer
	cryptoTimer  *time.Timer

	observer obs.TxObserver
	metrics  *obs.Metrics
	bearer   string
	log      zerolog.Logger

	statusSource func() (StatusReport, error)
}

// NewTx constructs a TX entity and performs the initial configure_security.
func NewTx(cfg TxConfig, secCfg security.ASConfig, integOn, ciphOn bool, crypto *CryptoPool, observer obs.TxObserver, metrics *obs.Metrics, logger zerolog.Logger) (*Tx, error) {
	if observer == nil {
		observer = obs.NopTxObserver{}
	}
	t := &Tx{
		cfg: cfg,
		// No RLC in this tree drives handle_desired_buffer_size_notification
		// continuously the way the real lower layer does, so start open
		// (full window capacity) rather than the real default of 0, which
		// would silently black-hole every SDU until a notification nobody
		// sends arrives. HandleDesiredBufferSizeNotification still narrows
		// this down if a caller wires one in.
		dbs:      cfg.SNSize.Modulus(),
		window:   newWindow[txEntry](cfg.SNSize.Modulus()),
		crypto:   crypto,
		ul:       NewExecutor(cfg.QueueDepth),
		dl:       NewExecutor(cfg.QueueDepth),
		tokens:   NewTokenManager(),
		observer: observer,
		metrics:  metrics,
		bearer:   bearerLabel(cfg.BearerID),
		log:      logger.With().Uint8("bearer", cfg.BearerID).Str("side", "tx").Logger(),
	}
	t.secPool = security.NewNullWorkerPool(crypto.NumWorkers())
	t.ConfigureSecurity(secCfg, integOn, ciphOn)
	return t, nil
}

// ConfigureSecurity applies a new security configuration (§4.E). If integOn
// is requested but the key or algorithm is missing, the failure is logged
// and the prior security state (the null pool, on the first call) is left
// untouched rather than returned to the caller.
func (t *Tx) ConfigureSecurity(secCfg security.ASConfig, integOn, ciphOn bool) {
	pool, err := security.NewWorkerPool(t.crypto.NumWorkers(), secCfg, t.cfg.BearerID, t.cfg.Direction, integOn, ciphOn)
	if err != nil {
		t.log.Error().Err(err).Msg("configure_security: rejected, leaving prior security state untouched")
		return
	}
	t.ul.Submit(func() {
		t.mu.Lock()
		t.secPool = pool
		t.mu.Unlock()
	})
}

// SetStatusSource wires the RX side's compile_status_report as the source
// send_status_report forwards.
func (t *Tx) SetStatusSource(f func() (StatusReport, error)) {
	t.mu.Lock()
	t.statusSource = f
	t.mu.Unlock()
}

// HandleSDU enqueues one SDU (§4.G.2).
func (t *Tx) HandleSDU(sdu []byte) {
	if !t.ul.Submit(func() { t.doHandleSDU(sdu) }) {
		t.incLost()
		if t.cfg.WarnOnDrop {
			t.log.Warn().Msg("handle_sdu: ul executor queue full")
		}
	}
}

func (t *Tx) doHandleSDU(sdu []byte) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		t.incLost()
		return
	}
	if !t.checkEarlyDropLocked() {
		t.mu.Unlock()
		t.incLost()
		return
	}
	if t.txNext >= t.cfg.MaxCount.Hard {
		if !t.hardLatched {
			t.hardLatched = true
			t.mu.Unlock()
			t.observer.OnProtocolFailure()
			t.incLost()
			return
		}
		t.mu.Unlock()
		t.incLost()
		return
	}
	if !t.notifyLatched && t.txNext >= t.cfg.MaxCount.Notify {
		t.notifyLatched = true
		t.mu.Unlock()
		t.observer.OnMaxCountReached()
		t.mu.Lock()
	}

	count := t.txNext
	t.txNext++
	entry := t.window.AddSN(count)
	entry.retxID = t.retransmitID
	entry.arrival = time.Now()
	if t.cfg.RLCMode == RLCAM {
		entry.sdu = append([]byte(nil), sdu...)
	}
	gen := t.retransmitID
	armDiscard := !t.cfg.DiscardTimer.Infinite
	t.mu.Unlock()

	if armDiscard {
		t.ul.Submit(t.rearmDiscardTimer)
	}
	t.dispatchSecurity(count, sdu, gen)
}

// dispatchSecurity builds the header and hands the PDU to a crypto worker.
func (t *Tx) dispatchSecurity(count uint32, sdu []byte, gen uint64) {
	buf := buffer.New(append([]byte(nil), sdu...))
	writeHeader(buf, t.cfg.RBType, t.cfg.SNSize, sn(count, t.cfg.SNSize))
	hdrLen := headerLen(t.cfg.SNSize)

	token, ok := t.tokens.Acquire()
	if !ok {
		t.incLost()
		return
	}
	dispatched := t.crypto.Dispatch(func(workerIdx int) {
		defer token.Release()
		t.applySecurity(workerIdx, count, buf, hdrLen, gen)
	})
	if !dispatched {
		token.Release()
		t.incLost()
	}
}

// applySecurity runs on a crypto worker (§4.G.3).
func (t *Tx) applySecurity(workerIdx int, count uint32, buf *buffer.Buffer, hdrLen int, gen uint64) {
	out, err := t.secPool.Ciphering(workerIdx)
	if err != nil {
		t.log.Error().Err(err).Uint32("count", count).Msg("apply_security: no ciphering engine")
		t.dl.Submit(func() { t.dropProtocolFailure() })
		return
	}
	buf, cerr := out.ApplyCiphering(buf, hdrLen, count)
	if cerr != nil {
		t.log.Error().Err(cerr).Uint32("count", count).Msg("apply_security: ciphering failed")
		t.dl.Submit(func() { t.dropProtocolFailure() })
		return
	}
	if t.secPool.IntegrityEnabled() {
		integ, err := t.secPool.Integrity(workerIdx)
		if err != nil {
			t.log.Error().Err(err).Uint32("count", count).Msg("apply_security: no integrity engine")
			t.dl.Submit(func() { t.dropProtocolFailure() })
			return
		}
		buf, err = integ.ProtectIntegrity(buf, count)
		if err != nil {
			t.log.Error().Err(err).Uint32("count", count).Msg("apply_security: protect_integrity failed")
			t.dl.Submit(func() { t.dropProtocolFailure() })
			return
		}
	}
	t.dl.Submit(func() { t.applyReordering(count, buf, gen) })
}

func (t *Tx) dropProtocolFailure() {
	t.incLost()
	t.observer.OnProtocolFailure()
}

// applyReordering runs on the UE-DL executor (§4.G.3).
func (t *Tx) applyReordering(count uint32, pdu *buffer.Buffer, gen uint64) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if gen != t.retransmitID {
		t.mu.Unlock()
		return // stale: superseded by a later retransmission generation
	}
	if count < t.txNextAck {
		t.mu.Unlock()
		return // out of window
	}
	if count < t.txTrans {
		t.mu.Unlock()
		t.log.Error().Uint32("count", count).Msg("apply_reordering: double transmission")
		return
	}
	entry, ok := t.window.Get(count)
	if !ok {
		t.mu.Unlock()
		t.log.Error().Uint32("count", count).Msg("apply_reordering: window lost the entry")
		return
	}
	entry.pdu = pdu.Bytes()
	entry.hasPDU = true

	var handoff []handoffEntry
	for {
		e, ok := t.window.Get(t.txTransCrypto)
		if !ok || !e.hasPDU {
			break
		}
		handoff = append(handoff, handoffEntry{count: t.txTransCrypto, pdu: e.pdu, isRetx: e.retxID != 0})
		t.txTransCrypto++
	}
	needTimer := t.txTransCrypto < t.txReordCrypto
	stopTimer := t.txTransCrypto >= t.txReordCrypto
	t.mu.Unlock()

	t.handOff(handoff)
	if stopTimer {
		t.stopCryptoTimer()
	} else if needTimer {
		t.armCryptoTimer()
	}
}

// handoffEntry is one PDU released to the lower layer by apply_reordering
// or the crypto-reordering timeout.
type handoffEntry struct {
	count  uint32
	pdu    []byte
	isRetx bool
}

// handOff delivers entries to the lower layer in order and, in test_mode,
// synthesizes the transmit/delivery notifications a real lower layer would
// send back asynchronously (§4.G.1 test_mode).
func (t *Tx) handOff(entries []handoffEntry) {
	for _, e := range entries {
		t.observer.OnNewPDU(e.pdu, e.isRetx)
		if !t.cfg.TestMode {
			continue
		}
		snVal := sn(e.count, t.cfg.SNSize)
		t.doTransmitNotification(snVal)
		if t.cfg.RLCMode == RLCAM {
			t.doDeliveryNotification(snVal)
		}
	}
}

// Reestablish reconfigures security and resets or retransmits per §4.G.2.
func (t *Tx) Reestablish(secCfg security.ASConfig, integOn, ciphOn bool) error {
	pool, err := security.NewWorkerPool(t.crypto.NumWorkers(), secCfg, t.cfg.BearerID, t.cfg.Direction, integOn, ciphOn)
	if err != nil {
		return err
	}
	t.ul.Submit(func() {
		t.mu.Lock()
		t.secPool = pool
		t.retransmitID++
		if t.cfg.RBType == RBSRB || t.cfg.RLCMode == RLCUM {
			t.window.Clear()
			t.txNext, t.txNextAck, t.txTrans, t.txTransCrypto, t.txReordCrypto = 0, 0, 0, 0, 0
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
		t.retransmitAllPDUs()
	})
	return nil
}

// Stop idempotently tears down the entity (§4.G.2).
func (t *Tx) Stop() {
	t.ul.Submit(func() {
		t.mu.Lock()
		if t.stopped {
			t.mu.Unlock()
			return
		}
		t.stopped = true
		t.window.Clear()
		if t.discardTimer != nil {
			t.discardTimer.Stop()
		}
		if t.cryptoTimer != nil {
			t.cryptoTimer.Stop()
		}
		t.mu.Unlock()
		t.tokens.Stop()
	})
}

// NotifyPDUProcessingStopped pauses new crypto dispatches.
func (t *Tx) NotifyPDUProcessingStopped() {
	t.ul.Submit(func() {
		t.mu.Lock()
		t.stopped = true
		t.mu.Unlock()
	})
}

// RestartPDUProcessing resumes dispatches after a pause.
func (t *Tx) RestartPDUProcessing() {
	t.ul.Submit(func() {
		t.mu.Lock()
		t.stopped = false
		t.mu.Unlock()
	})
}

// CryptoAwaitable returns a channel that closes once every outstanding
// crypto token has drained.
func (t *Tx) CryptoAwaitable() <-chan struct{} { return t.tokens.Awaitable() }

// HandleTransmitNotification advances TX_TRANS (§4.G.2).
func (t *Tx) HandleTransmitNotification(snVal uint32) {
	t.ul.Submit(func() { t.doTransmitNotification(snVal) })
}

// HandleRetransmitNotification is the retransmitted-PDU counterpart.
func (t *Tx) HandleRetransmitNotification(snVal uint32) {
	t.ul.Submit(func() { t.doTransmitNotification(snVal) })
}

func (t *Tx) doTransmitNotification(snVal uint32) {
	t.mu.Lock()
	count := t.countFromSNLocked(snVal)
	if count+1 > t.txTrans {
		t.txTrans = count + 1
	}
	if t.cfg.RLCMode == RLCUM {
		t.releaseUpToLocked(count)
	}
	t.mu.Unlock()
	t.rearmDiscardTimer()
}

// HandleDeliveryNotification, on AM bearers, releases the window entries
// through the notified COUNT, advances TX_NEXT_ACK and reprograms the
// discard timer (§4.G.2, §3.7). On UM bearers it has no effect.
func (t *Tx) HandleDeliveryNotification(snVal uint32) {
	t.ul.Submit(func() { t.doDeliveryNotification(snVal) })
}

// HandleDeliveryRetransmittedNotification is the retransmitted-PDU
// counterpart.
func (t *Tx) HandleDeliveryRetransmittedNotification(snVal uint32) {
	t.ul.Submit(func() { t.doDeliveryNotification(snVal) })
}

func (t *Tx) doDeliveryNotification(snVal uint32) {
	if t.cfg.RLCMode != RLCAM {
		return
	}
	t.mu.Lock()
	count := t.countFromSNLocked(snVal)
	t.releaseUpToLocked(count)
	t.mu.Unlock()
	t.rearmDiscardTimer()
}

// releaseUpToLocked removes window entries through count and advances
// TX_NEXT_ACK. Caller holds t.mu.
func (t *Tx) releaseUpToLocked(count uint32) {
	if count+1 <= t.txNextAck {
		return
	}
	for c := t.txNextAck; c <= count; c++ {
		t.window.RemoveSN(c)
	}
	t.txNextAck = count + 1
}

// HandleDesiredBufferSizeNotification updates the DBS used by
// check_early_drop.
func (t *Tx) HandleDesiredBufferSizeNotification(n uint32) {
	t.ul.Submit(func() {
		t.mu.Lock()
		t.dbs = n
		t.mu.Unlock()
	})
}

// HandleStatusReport parses and applies a control PDU (§4.G.2).
func (t *Tx) HandleStatusReport(pdu *buffer.Buffer) {
	report, err := DecodeStatusReport(pdu)
	if err != nil {
		t.log.Error().Err(err).Msg("handle_status_report: decode failed")
		return
	}
	t.ul.Submit(func() { t.doHandleStatusReport(report) })
}

func (t *Tx) doHandleStatusReport(report StatusReport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if report.FMC+1 > t.txNextAck {
		for c := t.txNextAck; c <= report.FMC; c++ {
			t.window.RemoveSN(c)
		}
		t.txNextAck = report.FMC + 1
	}
	for c := report.FMC + 1; c < t.txNext; c++ {
		if report.MissingBitSet(c) {
			t.window.RemoveSN(c)
		}
	}
}

// DataRecovery retransmits every outstanding SDU on an AM bearer,
// optionally emitting a status report first (§4.G.2).
func (t *Tx) DataRecovery() {
	if t.cfg.RLCMode != RLCAM {
		return
	}
	t.ul.Submit(func() {
		if t.cfg.StatusReportRequired {
			t.doSendStatusReport()
		}
		t.retransmitAllPDUs()
	})
}

// SendStatusReport compiles and forwards a status report if configured.
func (t *Tx) SendStatusReport() {
	t.ul.Submit(t.doSendStatusReport)
}

func (t *Tx) doSendStatusReport() {
	t.mu.Lock()
	src := t.statusSource
	t.mu.Unlock()
	if !t.cfg.StatusReportRequired || src == nil {
		return
	}
	report, err := src()
	if err != nil {
		t.log.Error().Err(err).Msg("send_status_report: compile failed")
		return
	}
	buf := EncodeStatusReport(report)
	t.observer.OnNewPDU(buf.Bytes(), false)
}

// retransmitAllPDUs re-dispatches every buffered SDU in [TX_NEXT_ACK,
// TX_NEXT) under a fresh retransmission generation (§4.G.6).
func (t *Tx) retransmitAllPDUs() {
	t.mu.Lock()
	t.txTrans = t.txNextAck
	t.txTransCrypto = t.txNextAck
	t.retransmitID++
	gen := t.retransmitID
	type resend struct {
		count uint32
		sdu   []byte
	}
	var batch []resend
	for c := t.txNextAck; c < t.txNext; c++ {
		e, ok := t.window.Get(c)
		if !ok || e.sdu == nil {
			continue
		}
		e.retxID = gen
		e.hasPDU = false
		batch = append(batch, resend{count: c, sdu: e.sdu})
	}
	t.mu.Unlock()
	for _, r := range batch {
		t.dispatchSecurity(r.count, r.sdu, gen)
	}
}

// countFromSNLocked maps a wire SN from a lower-layer notification back to
// a full COUNT, using TX_NEXT_ACK as the HFN reference (the notified SN is
// always for a PDU already inside the current TX window). Caller holds
// t.mu.
func (t *Tx) countFromSNLocked(snVal uint32) uint32 {
	size := t.cfg.SNSize
	h := hfn(t.txNextAck, size)
	count := countOf(h, snVal, size)
	if count < t.txNextAck {
		count += size.Modulus()
	}
	return count
}

// checkEarlyDropLocked rejects an SDU before it enters the window: zero
// DBS, or the window already spans its full capacity. Caller holds t.mu.
func (t *Tx) checkEarlyDropLocked() bool {
	if t.dbs == 0 {
		return false
	}
	if uint32(t.window.Len()) >= t.cfg.SNSize.Modulus() {
		return false
	}
	return true
}

func (t *Tx) incLost() {
	if t.metrics != nil {
		t.metrics.LostSDUs.WithLabelValues(t.bearer).Inc()
	}
}

// rearmDiscardTimer reprograms the discard timer for the new oldest
// outstanding SDU (§4.G.5).
func (t *Tx) rearmDiscardTimer() {
	t.mu.Lock()
	if t.cfg.DiscardTimer.Infinite || t.stopped {
		t.mu.Unlock()
		return
	}
	if t.discardTimer != nil {
		t.discardTimer.Stop()
		t.discardTimer = nil
	}
	var oldest *txEntry
	for c := t.txNextAck; c < t.txNext; c++ {
		if e, ok := t.window.Get(c); ok {
			oldest = e
			break
		}
	}
	if oldest == nil {
		t.mu.Unlock()
		return
	}
	remaining := t.cfg.DiscardTimer.Duration - time.Since(oldest.arrival)
	t.mu.Unlock()
	if remaining <= 0 {
		t.ul.Submit(t.discardFire)
		return
	}
	t.mu.Lock()
	t.discardTimer = time.AfterFunc(remaining, func() {
		t.ul.Submit(t.discardFire)
	})
	t.mu.Unlock()
}

// discardFire scans forward from TX_NEXT_ACK, discarding every SDU whose
// discard timer has expired, then reprograms for the new oldest (§4.G.5).
func (t *Tx) discardFire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	var discarded []uint32
	for t.txNextAck < t.txNext {
		e, ok := t.window.Get(t.txNextAck)
		if !ok {
			break
		}
		if time.Since(e.arrival) < t.cfg.DiscardTimer.Duration {
			break
		}
		discarded = append(discarded, sn(t.txNextAck, t.cfg.SNSize))
		t.window.RemoveSN(t.txNextAck)
		t.txNextAck++
	}
	t.mu.Unlock()
	for _, s := range discarded {
		t.observer.OnDiscardPDU(s)
	}
	t.rearmDiscardTimer()
}

func (t *Tx) stopCryptoTimer() {
	t.mu.Lock()
	if t.cryptoTimer != nil {
		t.cryptoTimer.Stop()
		t.cryptoTimer = nil
	}
	t.mu.Unlock()
}

// armCryptoTimer (re)arms the crypto-reordering timer (§4.G.3/§4.G.4).
func (t *Tx) armCryptoTimer() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.txReordCrypto = t.txNext
	if t.cryptoTimer != nil {
		t.cryptoTimer.Stop()
	}
	t.cryptoTimer = time.AfterFunc(cryptoReorderTimeout, func() {
		t.dl.Submit(t.cryptoTimerFire)
	})
	t.mu.Unlock()
}

// cryptoReorderTimeout bounds how long apply_reordering waits for an
// out-of-order crypto completion before force-advancing past the hole.
const cryptoReorderTimeout = 50 * time.Millisecond

// cryptoTimerFire runs on the UE-DL executor (§4.G.4).
func (t *Tx) cryptoTimerFire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	target := t.txReordCrypto
	var handoff []handoffEntry
	for t.txTransCrypto < target {
		e, ok := t.window.Get(t.txTransCrypto)
		if !ok || !e.hasPDU {
			t.log.Error().Uint32("count", t.txTransCrypto).Msg("crypto_reordering timeout: skipping hole")
			t.txTransCrypto++
			continue
		}
		handoff = append(handoff, handoffEntry{count: t.txTransCrypto, pdu: e.pdu, isRetx: e.retxID != 0})
		t.txTransCrypto++
	}
	for {
		e, ok := t.window.Get(t.txTransCrypto)
		if !ok || !e.hasPDU {
			break
		}
		handoff = append(handoff, handoffEntry{count: t.txTransCrypto, pdu: e.pdu, isRetx: e.retxID != 0})
		t.txTransCrypto++
	}
	needRestart := t.txTransCrypto < t.txNext
	t.mu.Unlock()

	t.handOff(handoff)
	if needRestart {
		t.armCryptoTimer()
	} else {
		t.stopCryptoTimer()
	}
}

func bearerLabel(id uint8) string {
	const hexDigits = "0123456789abcdef"
	return string([]byte{'b', hexDigits[id>>4], hexDigits[id&0xf]})
}
