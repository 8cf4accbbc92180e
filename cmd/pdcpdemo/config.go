package main

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// demoConfig is the bearer/security/demo configuration, loaded the way the
// rest of the ambient stack loads config: pflag-defined flags bound into
// viper, with an optional config file overlay.
type demoConfig struct {
	BearerID    uint8
	RBType      string // "srb" | "drb"
	RLCMode     string // "am" | "um"
	SNSize      int    // 12 | 18
	CipherAlgo  int    // 0..3
	IntegAlgo   int    // 0..3
	SDUCount    int
	SDUSize     int
	CryptoWorkers int
	TReordering time.Duration

	EnableTun bool
	TunName   string

	AMFAddr string
	AMFPort int

	MetricsAddr string
}

func loadConfig(args []string) (*demoConfig, error) {
	fs := pflag.NewFlagSet("pdcpdemo", pflag.ContinueOnError)
	fs.Uint8("bearer-id", 1, "PDCP bearer id (0..31)")
	fs.String("rb-type", "drb", "radio bearer type: srb|drb")
	fs.String("rlc-mode", "am", "underlying RLC mode: am|um")
	fs.Int("sn-size", 18, "sequence number width: 12|18")
	fs.Int("cipher-algo", 2, "ciphering algorithm: 0=nea0 1=nea1 2=nea2 3=nea3")
	fs.Int("integ-algo", 2, "integrity algorithm: 0=nia0 1=nia1 2=nia2 3=nia3")
	fs.Int("sdu-count", 16, "number of demo SDUs to push through the TX entity")
	fs.Int("sdu-size", 128, "demo SDU payload size in bytes")
	fs.Int("crypto-workers", 4, "crypto worker pool size")
	fs.Duration("t-reordering", 40*time.Millisecond, "RX t-Reordering duration (0 = ms0)")
	fs.Bool("enable-tun", false, "create a TUN device and push GTP-U encapsulated PDCP PDUs onto it")
	fs.String("tun-name", "pdcp0", "TUN device name when --enable-tun is set")
	fs.String("amf-addr", "", "dial an SCTP association to this AMF-style address (demo only)")
	fs.Int("amf-port", 38412, "AMF SCTP port (standard NGAP port)")
	fs.String("metrics-addr", ":9464", "address the Prometheus /metrics endpoint listens on")
	fs.String("config", "", "optional config file (yaml/json/toml) overlaying the flags above")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("PDCPDEMO")
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	if cfgFile, _ := fs.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return &demoConfig{
		BearerID:      uint8(v.GetUint("bearer-id")),
		RBType:        v.GetString("rb-type"),
		RLCMode:       v.GetString("rlc-mode"),
		SNSize:        v.GetInt("sn-size"),
		CipherAlgo:    v.GetInt("cipher-algo"),
		IntegAlgo:     v.GetInt("integ-algo"),
		SDUCount:      v.GetInt("sdu-count"),
		SDUSize:       v.GetInt("sdu-size"),
		CryptoWorkers: v.GetInt("crypto-workers"),
		TReordering:   v.GetDuration("t-reordering"),
		EnableTun:     v.GetBool("enable-tun"),
		TunName:       v.GetString("tun-name"),
		AMFAddr:       v.GetString("amf-addr"),
		AMFPort:       v.GetInt("amf-port"),
		MetricsAddr:   v.GetString("metrics-addr"),
	}, nil
}
