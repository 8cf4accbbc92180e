// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

// Command pdcpdemo drives a paired PDCP TX/RX entity over a local loopback
// (or, with --enable-tun, over a TUN device via a GTP-U encapsulated N3
// stand-in) to exercise the ciphering, integrity, reordering and
// status-report machinery end to end.
package main

import (
	"crypto/rand"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hhorai/gnbpdcp/internal/gtp"
	"github.com/hhorai/gnbpdcp/internal/obs"
	"github.com/hhorai/gnbpdcp/internal/pdcp"
	"github.com/hhorai/gnbpdcp/internal/security"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "pdcpdemo: ", err)
		os.Exit(1)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)
	go serveMetrics(cfg.MetricsAddr, reg, log)

	rbType, rlcMode, snSize, err := parseBearerShape(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid bearer configuration")
	}

	secCfg, err := demoSecurityConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("building demo security config")
	}

	crypto := pdcp.NewCryptoPool(cfg.CryptoWorkers, 64)
	defer crypto.Stop()

	received := make(chan []byte, cfg.SDUCount)

	var tunnel *gtp.Tunnel
	var tunSend func([]byte) error
	if cfg.EnableTun {
		tunnel = gtp.NewTunnel(1, 1)
		if tun, err := addTunnel(cfg.TunName); err != nil {
			log.Warn().Err(err).Msg("tun device setup failed, continuing with in-process loopback only")
			tunnel = nil
		} else {
			if err := addIPv4Address(cfg.TunName, net.IPv4(10, 45, 0, 1), 24); err != nil {
				log.Warn().Err(err).Msg("tun address assignment failed")
			}
			if len(tun.Fds) > 0 {
				tunSend = tunWriter(tun.Fds[0])
			}
		}
	}

	if cfg.AMFAddr != "" {
		amfIP, err := net.ResolveIPAddr("ip", cfg.AMFAddr)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.AMFAddr).Msg("amf address resolution failed, skipping n2 dial")
		} else if n2, err := dialN2(*amfIP, cfg.AMFPort); err != nil {
			log.Warn().Err(err).Msg("n2 sctp dial failed")
		} else {
			log.Info().Str("addr", cfg.AMFAddr).Msg("n2 association established")
			defer n2.close()
		}
	}

	var rxEntity *pdcp.Rx

	txObserver := &lowerLayer{
		log:     log.With().Str("role", "lower-layer").Logger(),
		tunnel:  tunnel,
		tunSend: tunSend,
	}
	txObserver.peerRx = func(pdu []byte) {
		if rxEntity != nil {
			rxEntity.HandlePDU(pdu)
		}
	}

	txCfg := pdcp.TxConfig{
		RBType:               rbType,
		RLCMode:              rlcMode,
		SNSize:               snSize,
		DiscardTimer:         pdcp.DiscardTimer{Duration: 5 * time.Second},
		MaxCount:             pdcp.MaxCountConfig{Notify: 1 << 20, Hard: 1 << 24},
		Direction:            security.DirectionDownlink,
		StatusReportRequired: rlcMode == pdcp.RLCAM,
		TestMode:             rlcMode == pdcp.RLCUM,
		WarnOnDrop:           true,
		BearerID:             cfg.BearerID,
		CryptoWorkers:        cfg.CryptoWorkers,
		QueueDepth:           256,
	}
	tx, err := pdcp.NewTx(txCfg, secCfg, secCfg.IntegAlgo != nil, secCfg.CipherAlgo != security.NEA0, crypto, txObserver, metrics, log)
	if err != nil {
		log.Fatal().Err(err).Msg("constructing tx entity")
	}
	defer tx.Stop()

	rxObserver := &upperLayer{log: log.With().Str("role", "upper-layer").Logger(), received: received}
	// Same direction as the paired TX: this RX deciphers the TX's PDUs.
	rxCfg := pdcp.RxConfig{
		RBType:        rbType,
		RLCMode:       rlcMode,
		SNSize:        snSize,
		MaxCount:      pdcp.MaxCountConfig{Notify: 1 << 20, Hard: 1 << 24},
		Direction:     security.DirectionDownlink,
		TReordering:   cfg.TReordering,
		BearerID:      cfg.BearerID,
		CryptoWorkers: cfg.CryptoWorkers,
		QueueDepth:    256,
	}
	rx, err := pdcp.NewRx(rxCfg, secCfg, secCfg.IntegAlgo != nil, secCfg.CipherAlgo != security.NEA0, crypto, rxObserver, metrics, log)
	if err != nil {
		log.Fatal().Err(err).Msg("constructing rx entity")
	}
	defer rx.Stop()
	rxEntity = rx

	// Round-trip the status report: the rx side compiles it on demand for
	// the tx side, and rx forwards the control PDUs it receives straight to
	// tx.
	tx.SetStatusSource(rx.CompileStatusReport)
	rx.OnStatusReport(tx.HandleStatusReport)

	log.Info().
		Int("sdus", cfg.SDUCount).
		Str("cipher", secCfg.CipherAlgo.String()).
		Msg("pushing demo traffic")

	for i := 0; i < cfg.SDUCount; i++ {
		sdu := make([]byte, cfg.SDUSize)
		if _, err := rand.Read(sdu); err != nil {
			log.Fatal().Err(err).Msg("generating demo sdu")
		}
		tx.HandleSDU(sdu)
	}

	count := drainReceived(received, cfg.SDUCount, 5*time.Second)
	log.Info().Int("received", count).Int("sent", cfg.SDUCount).Msg("demo complete")
}

func parseBearerShape(cfg *demoConfig) (pdcp.RBType, pdcp.RLCMode, pdcp.SNSize, error) {
	var rbType pdcp.RBType
	switch cfg.RBType {
	case "srb":
		rbType = pdcp.RBSRB
	case "drb":
		rbType = pdcp.RBDRB
	default:
		return 0, 0, 0, fmt.Errorf("unknown rb-type %q", cfg.RBType)
	}
	var rlcMode pdcp.RLCMode
	switch cfg.RLCMode {
	case "am":
		rlcMode = pdcp.RLCAM
	case "um":
		rlcMode = pdcp.RLCUM
	default:
		return 0, 0, 0, fmt.Errorf("unknown rlc-mode %q", cfg.RLCMode)
	}
	var snSize pdcp.SNSize
	switch cfg.SNSize {
	case 12:
		snSize = pdcp.SN12
	case 18:
		snSize = pdcp.SN18
	default:
		return 0, 0, 0, fmt.Errorf("unsupported sn-size %d", cfg.SNSize)
	}
	return rbType, rlcMode, snSize, nil
}

// demoSecurityConfig builds an ASConfig from random demo keys; a real gNB
// receives these over E1AP/F1AP instead.
func demoSecurityConfig(cfg *demoConfig) (security.ASConfig, error) {
	var kEnc security.Key256
	if _, err := rand.Read(kEnc[:]); err != nil {
		return security.ASConfig{}, err
	}
	cipherAlgo := security.CipheringAlgorithm(cfg.CipherAlgo)
	sc := security.ASConfig{
		Domain:     security.DomainUP,
		KEnc:       kEnc,
		CipherAlgo: cipherAlgo,
	}
	if integAlgo := security.IntegrityAlgorithm(cfg.IntegAlgo); integAlgo != security.NIA0 {
		var kInt security.Key256
		if _, err := rand.Read(kInt[:]); err != nil {
			return security.ASConfig{}, err
		}
		sc.KInt = &kInt
		sc.IntegAlgo = &integAlgo
	}
	return sc, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	log.Info().Str("addr", addr).Msg("serving /metrics")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("metrics server exited")
	}
}

func drainReceived(ch <-chan []byte, want int, timeout time.Duration) int {
	deadline := time.After(timeout)
	n := 0
	for n < want {
		select {
		case <-ch:
			n++
		case <-deadline:
			return n
		}
	}
	return n
}
