// Package obs defines the observer and metrics handles the PDCP entities
// are constructed with. Trace/metrics sinks are process-wide in the
// original gNB; here they are injected at construction instead (§9 "Global
// state... inject-at-construction observer handles").
package obs

import "github.com/prometheus/client_golang/prometheus"

// TxObserver receives lower-layer-facing signals raised by a TX entity.
type TxObserver interface {
	OnNewPDU(pdu []byte, isRetx bool)
	OnDiscardPDU(sn uint32)
	OnMaxCountReached()
	OnProtocolFailure()
}

// RxObserver receives upper-layer-facing signals raised by an RX entity.
type RxObserver interface {
	OnNewSDU(sdu []byte)
	OnMaxCountReached()
	OnProtocolFailure()
	OnIntegrityFailure()
}

// NopTxObserver/NopRxObserver are convenience no-op implementations for
// tests and for entities that have not yet been wired to a real bearer.
type NopTxObserver struct{}

func (NopTxObserver) OnNewPDU(pdu []byte, isRetx bool) {}
func (NopTxObserver) OnDiscardPDU(sn uint32)            {}
func (NopTxObserver) OnMaxCountReached()                {}
func (NopTxObserver) OnProtocolFailure()                {}

type NopRxObserver struct{}

func (NopRxObserver) OnNewSDU(sdu []byte)    {}
func (NopRxObserver) OnMaxCountReached()     {}
func (NopRxObserver) OnProtocolFailure()     {}
func (NopRxObserver) OnIntegrityFailure()    {}

// Metrics wraps the Prometheus counters the spec's §7 error taxonomy feeds:
// lost_sdus, dropped_pdus and integrity_failed_pdus, each one vector
// labelled by bearer.
type Metrics struct {
	LostSDUs            *prometheus.CounterVec
	DroppedPDUs         *prometheus.CounterVec
	IntegrityFailedPDUs *prometheus.CounterVec
}

// NewMetrics registers the PDCP counter vectors on reg. Passing a fresh
// prometheus.NewRegistry() keeps tests hermetic; passing
// prometheus.DefaultRegisterer wires into the process-wide /metrics
// endpoint the way runZeroInc-sockstats instruments TCP stats.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LostSDUs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnb", Subsystem: "pdcp", Name: "lost_sdus_total",
			Help: "SDUs dropped by the TX entity (early drop, queue full, max COUNT, stopped entity, security failure).",
		}, []string{"bearer"}),
		DroppedPDUs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnb", Subsystem: "pdcp", Name: "dropped_pdus_total",
			Help: "PDUs dropped by the RX entity before reordering (short header, max COUNT, queue full, stopped entity, security failure).",
		}, []string{"bearer"}),
		IntegrityFailedPDUs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnb", Subsystem: "pdcp", Name: "integrity_failed_pdus_total",
			Help: "PDUs dropped due to MAC-I verification failure.",
		}, []string{"bearer"}),
	}
	reg.MustRegister(m.LostSDUs, m.DroppedPDUs, m.IntegrityFailedPDUs)
	return m
}
