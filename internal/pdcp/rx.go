package pdcp

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hhorai/gnbpdcp/internal/buffer"
	"github.com/hhorai/gnbpdcp/internal/obs"
	"github.com/hhorai/gnbpdcp/internal/security"
)

// RxConfig carries the per-bearer parameters an RX entity is built with;
// it shares shape with TxConfig minus the TX-only fields (§4.G.1/§4.H.1).
type RxConfig struct {
	RBType        RBType
	RLCMode       RLCMode
	SNSize        SNSize
	MaxCount      MaxCountConfig
	Direction     security.Direction
	TReordering   time.Duration // 0 (ms0) triggers immediate expiry per §4.H.5
	BearerID      uint8
	CryptoWorkers int
	QueueDepth    int
}

// statusHandler is the registered recipient of a parsed status-report
// control PDU (normally the paired TX entity's HandleStatusReport).
type statusHandler func(*buffer.Buffer)

// Rx is a PDCP RX entity (§4.H). handle_pdu copies the PDU and hands the
// header parse and crypto dispatch to ul (the UE-UL executor), which also
// runs apply_reordering and t-Reordering. See Tx for the
// mutex-vs-executor-ownership tradeoff this shares.
type Rx struct {
	cfg RxConfig

	mu            sync.Mutex
	window        *window[rxEntry]
	rxNext        uint32
	rxDeliv       uint32
	rxReord       uint32
	stopped       bool
	paused        bool
	notifyLatched bool
	hardLatched   bool

	secPool *security.WorkerPool
	crypto  *CryptoPool
	ul      *Executor
	tokens  *TokenManager

	reorderTimer *time.Timer

	observer     obs.RxObserver
	metrics      *obs.Metrics
	bearer       string
	log          zerolog.Logger
	onStatusCPT0 statusHandler
}

// NewRx constructs an RX entity and performs the initial configure_security.
func NewRx(cfg RxConfig, secCfg security.ASConfig, integOn, ciphOn bool, crypto *CryptoPool, observer obs.RxObserver, metrics *obs.Metrics, logger zerolog.Logger) (*Rx, error) {
	if observer == nil {
		observer = obs.NopRxObserver{}
	}
	r := &Rx{
		cfg:      cfg,
		window:   newWindow[rxEntry](cfg.SNSize.Modulus()),
		crypto:   crypto,
		ul:       NewExecutor(cfg.QueueDepth),
		tokens:   NewTokenManager(),
		observer: observer,
		metrics:  metrics,
		bearer:   bearerLabel(cfg.BearerID),
		log:      logger.With().Uint8("bearer", cfg.BearerID).Str("side", "rx").Logger(),
	}
	r.secPool = security.NewNullWorkerPool(crypto.NumWorkers())
	r.ConfigureSecurity(secCfg, integOn, ciphOn)
	return r, nil
}

// ConfigureSecurity applies a new security configuration (§4.E). If integOn
// is requested but the key or algorithm is missing, the failure is logged
// and the prior security state (the null pool, on the first call) is left
// untouched rather than returned to the caller.
func (r *Rx) ConfigureSecurity(secCfg security.ASConfig, integOn, ciphOn bool) {
	pool, err := security.NewWorkerPool(r.crypto.NumWorkers(), secCfg, r.cfg.BearerID, r.cfg.Direction, integOn, ciphOn)
	if err != nil {
		r.log.Error().Err(err).Msg("configure_security: rejected, leaving prior security state untouched")
		return
	}
	r.ul.Submit(func() {
		r.mu.Lock()
		r.secPool = pool
		r.mu.Unlock()
	})
}

// OnStatusReport registers the handler invoked when a status-report
// control PDU is received (§4.H.7).
func (r *Rx) OnStatusReport(h statusHandler) {
	r.mu.Lock()
	r.onStatusCPT0 = h
	r.mu.Unlock()
}

// HandlePDU is the RX entry point (§4.H.1): drops empty PDUs, routes data
// PDUs through crypto dispatch and control PDUs straight to the status
// handler.
func (r *Rx) HandlePDU(raw []byte) {
	if len(raw) == 0 {
		return
	}
	buf := buffer.New(append([]byte(nil), raw...))
	if r.cfg.RBType == RBDRB && isControlPDU(buf) {
		r.ul.Submit(func() { r.doHandleControlPDU(buf) })
		return
	}
	r.ul.Submit(func() { r.doHandleDataPDU(buf) })
}

func (r *Rx) doHandleControlPDU(buf *buffer.Buffer) {
	r.mu.Lock()
	h := r.onStatusCPT0
	r.mu.Unlock()
	if h == nil {
		r.log.Error().Msg("control_pdu: no status handler registered")
		return
	}
	h(buf)
}

func (r *Rx) doHandleDataPDU(buf *buffer.Buffer) {
	r.mu.Lock()
	if r.stopped || r.paused {
		r.mu.Unlock()
		return
	}
	sval, err := readSN(buf, r.cfg.SNSize)
	if err != nil {
		r.mu.Unlock()
		r.log.Error().Err(err).Msg("handle_pdu: buffer too short for header")
		r.observer.OnProtocolFailure()
		r.incDropped()
		return
	}
	count := r.estimateCountLocked(sval)
	if count >= r.cfg.MaxCount.Hard {
		if !r.hardLatched {
			r.hardLatched = true
			r.mu.Unlock()
			r.observer.OnProtocolFailure()
			r.incDropped()
			return
		}
		r.mu.Unlock()
		r.incDropped()
		return
	}
	if !r.notifyLatched && count >= r.cfg.MaxCount.Notify {
		r.notifyLatched = true
		r.mu.Unlock()
		r.observer.OnMaxCountReached()
		r.mu.Lock()
	}
	hdrLen := headerLen(r.cfg.SNSize)
	r.mu.Unlock()

	token, ok := r.tokens.Acquire()
	if !ok {
		r.incDropped()
		return
	}
	dispatched := r.crypto.Dispatch(func(workerIdx int) {
		defer token.Release()
		r.applySecurity(workerIdx, count, buf, hdrLen)
	})
	if !dispatched {
		token.Release()
		r.incDropped()
	}
}

// applySecurity runs on a crypto worker (§4.H.4).
func (r *Rx) applySecurity(workerIdx int, count uint32, buf *buffer.Buffer, hdrLen int) {
	if r.secPool.IntegrityEnabled() {
		integ, err := r.secPool.Integrity(workerIdx)
		if err != nil {
			r.log.Error().Err(err).Uint32("count", count).Msg("apply_security: no integrity engine")
			r.ul.Submit(r.protocolFailureDrop)
			return
		}
		body, err := integ.VerifyIntegrity(buf, count)
		if err != nil {
			r.log.Error().Err(err).Uint32("count", count).Msg("apply_security: integrity verification failed")
			r.ul.Submit(r.integrityFailureDrop)
			return
		}
		buf = body
	}
	ciph, err := r.secPool.Ciphering(workerIdx)
	if err != nil {
		r.log.Error().Err(err).Uint32("count", count).Msg("apply_security: no ciphering engine")
		r.ul.Submit(r.protocolFailureDrop)
		return
	}
	buf, err = ciph.ApplyCiphering(buf, hdrLen, count)
	if err != nil {
		r.log.Error().Err(err).Uint32("count", count).Msg("apply_security: deciphering failed")
		r.ul.Submit(r.protocolFailureDrop)
		return
	}
	if err := buf.TrimHead(hdrLen); err != nil {
		r.log.Error().Err(err).Uint32("count", count).Msg("apply_security: header trim failed")
		r.ul.Submit(r.protocolFailureDrop)
		return
	}
	r.ul.Submit(func() { r.applyReordering(count, buf) })
}

func (r *Rx) protocolFailureDrop() {
	r.incDropped()
	r.observer.OnProtocolFailure()
}

func (r *Rx) integrityFailureDrop() {
	if r.metrics != nil {
		r.metrics.IntegrityFailedPDUs.WithLabelValues(r.bearer).Inc()
	}
	r.observer.OnIntegrityFailure()
}

// applyReordering runs on the UE-UL executor (§4.H.5).
func (r *Rx) applyReordering(count uint32, buf *buffer.Buffer) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	if count < r.rxDeliv {
		r.mu.Unlock()
		return // stale / duplicate / wrap
	}
	if r.window.HasSN(count) {
		r.mu.Unlock()
		r.log.Error().Uint32("count", count).Msg("apply_reordering: duplicate COUNT")
		return
	}
	e := r.window.AddSN(count)
	e.buf = buf.Bytes()
	e.arrival = time.Now()
	if count+1 > r.rxNext {
		r.rxNext = count + 1
	}

	var drained [][]byte
	if count == r.rxDeliv {
		for {
			e, ok := r.window.Get(r.rxDeliv)
			if !ok {
				break
			}
			drained = append(drained, e.buf)
			r.window.RemoveSN(r.rxDeliv)
			r.rxDeliv++
		}
	}

	running := r.reorderTimer != nil
	stop := running && r.rxDeliv >= r.rxReord
	if stop {
		running = false
	}
	expireNow := r.cfg.TReordering == 0
	start := !expireNow && !running && r.rxDeliv < r.rxNext
	if expireNow || start {
		r.rxReord = r.rxNext
	}
	r.mu.Unlock()

	for _, sdu := range drained {
		r.observer.OnNewSDU(sdu)
	}
	if stop {
		r.stopReorderTimer()
	}
	switch {
	case expireNow:
		r.expireReordering()
	case start:
		r.startReorderTimer()
	}
}

// estimateCountLocked implements §4.H.2. Caller holds r.mu.
func (r *Rx) estimateCountLocked(snVal uint32) uint32 {
	size := r.cfg.SNSize
	window := int64(size.WindowSize())
	refSN := int64(sn(r.rxDeliv, size))
	refHFN := hfn(r.rxDeliv, size)
	var rcvdHFN uint32
	switch {
	case int64(snVal) < refSN-window:
		rcvdHFN = refHFN + 1
	case int64(snVal) >= refSN+window:
		rcvdHFN = refHFN - 1
	default:
		rcvdHFN = refHFN
	}
	return countOf(rcvdHFN, snVal, size)
}

func subMod(a, b, mod uint32) uint32 {
	if a >= b {
		return a - b
	}
	return mod - (b - a)
}

func addMod(a, b, mod uint32) uint32 {
	s := a + b
	if s >= mod {
		return s - mod
	}
	return s
}

func (r *Rx) startReorderTimer() {
	r.mu.Lock()
	if r.reorderTimer != nil {
		r.reorderTimer.Stop()
	}
	r.reorderTimer = time.AfterFunc(r.cfg.TReordering, func() {
		r.ul.Submit(r.expireReordering)
	})
	r.mu.Unlock()
}

func (r *Rx) stopReorderTimer() {
	r.mu.Lock()
	if r.reorderTimer != nil {
		r.reorderTimer.Stop()
		r.reorderTimer = nil
	}
	r.mu.Unlock()
}

// expireReordering is the t-Reordering expiry handler (§4.H.6).
func (r *Rx) expireReordering() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	target := r.rxReord
	var drained [][]byte
	for r.rxDeliv < target {
		e, ok := r.window.Get(r.rxDeliv)
		if !ok {
			r.rxDeliv++
			continue
		}
		drained = append(drained, e.buf)
		r.window.RemoveSN(r.rxDeliv)
		r.rxDeliv++
	}
	for {
		e, ok := r.window.Get(r.rxDeliv)
		if !ok {
			break
		}
		drained = append(drained, e.buf)
		r.window.RemoveSN(r.rxDeliv)
		r.rxDeliv++
	}
	needRestart := r.rxDeliv < r.rxNext
	if needRestart {
		r.rxReord = r.rxNext
	}
	r.mu.Unlock()

	for _, sdu := range drained {
		r.observer.OnNewSDU(sdu)
	}
	if needRestart {
		r.startReorderTimer()
	} else {
		r.stopReorderTimer()
	}
}

// Reestablish reconfigures security and resets state per §4.H.1.
func (r *Rx) Reestablish(secCfg security.ASConfig, integOn, ciphOn bool) error {
	pool, err := security.NewWorkerPool(r.crypto.NumWorkers(), secCfg, r.cfg.BearerID, r.cfg.Direction, integOn, ciphOn)
	if err != nil {
		return err
	}
	r.ul.Submit(func() {
		r.stopReorderTimer()
		r.mu.Lock()
		r.secPool = pool
		if r.cfg.RBType == RBSRB {
			r.window.Clear()
			r.rxNext, r.rxDeliv, r.rxReord = 0, 0, 0
			r.mu.Unlock()
			return
		}
		if r.cfg.RLCMode == RLCUM {
			var drained [][]byte
			for c := r.rxDeliv; c < r.rxNext; c++ {
				if e, ok := r.window.Get(c); ok {
					drained = append(drained, e.buf)
				}
			}
			r.window.Clear()
			r.rxNext, r.rxDeliv, r.rxReord = 0, 0, 0
			r.mu.Unlock()
			for _, sdu := range drained {
				r.observer.OnNewSDU(sdu)
			}
			return
		}
		// AM DRB: preserve RX_NEXT, RX_DELIV.
		r.mu.Unlock()
	})
	return nil
}

// Stop idempotently tears down the entity.
func (r *Rx) Stop() {
	r.ul.Submit(func() {
		r.mu.Lock()
		if r.stopped {
			r.mu.Unlock()
			return
		}
		r.stopped = true
		r.window.Clear()
		if r.reorderTimer != nil {
			r.reorderTimer.Stop()
		}
		r.mu.Unlock()
		r.tokens.Stop()
	})
}

// Pause/Resume mirror the TX side's notify_pdu_processing_stopped /
// restart_pdu_processing pair.
func (r *Rx) Pause() {
	r.ul.Submit(func() {
		r.mu.Lock()
		r.paused = true
		r.mu.Unlock()
	})
}

func (r *Rx) Resume() {
	r.ul.Submit(func() {
		r.mu.Lock()
		r.paused = false
		r.mu.Unlock()
	})
}

// CryptoAwaitable returns a channel that closes once every outstanding
// crypto token has drained.
func (r *Rx) CryptoAwaitable() <-chan struct{} { return r.tokens.Awaitable() }

// CompileStatusReport builds the control PDU of §4.G.7 from the current
// RX window (§4.H.1): FMC is RX_DELIV, and every missing COUNT in
// [RX_DELIV+1, RX_NEXT) gets its bitmap bit set.
func (r *Rx) CompileStatusReport() (StatusReport, error) {
	done := make(chan StatusReport, 1)
	if !r.ul.Submit(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		report := StatusReport{FMC: r.rxDeliv}
		for c := r.rxDeliv + 1; c < r.rxNext; c++ {
			if !r.window.HasSN(c) {
				report.SetMissingBit(c)
			}
		}
		done <- report
	}) {
		return StatusReport{}, ErrQueueFull
	}
	return <-done, nil
}

func (r *Rx) incDropped() {
	if r.metrics != nil {
		r.metrics.DroppedPDUs.WithLabelValues(r.bearer).Inc()
	}
}
