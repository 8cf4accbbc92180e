// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.
package main

import (
	"fmt"
	"net"
	"time"

	"github.com/ishidawataru/sctp"
)

const n2DialTimeout = 5 * time.Second

// n2Conn is an optional SCTP association to an AMF-style peer, standing in
// for the N2 control-plane link; cmd/pdcpdemo dials it only when --amf-addr
// is set, since the PDCP entity itself never touches N2.
type n2Conn struct {
	conn *sctp.SCTPConn
	info *sctp.SndRcvInfo
}

func dialN2(amfAddr net.IPAddr, amfPort int) (*n2Conn, error) {
	addr := &sctp.SCTPAddr{IPAddrs: []net.IPAddr{amfAddr}, Port: amfPort}

	type result struct {
		conn *sctp.SCTPConn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := sctp.DialSCTP("sctp", nil, addr)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("sctp dial: %w", r.err)
		}
		r.conn.SubscribeEvents(sctp.SCTP_EVENT_DATA_IO)
		return &n2Conn{
			conn: r.conn,
			info: &sctp.SndRcvInfo{Stream: 0, PPID: 0x3c000000}, // NGAP PPID
		}, nil
	case <-time.After(n2DialTimeout):
		return nil, fmt.Errorf("sctp dial timeout (%s)", n2DialTimeout)
	}
}

func (c *n2Conn) close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
