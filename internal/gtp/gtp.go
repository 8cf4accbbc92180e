// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

// Package gtp implements the GTPv1-U encapsulation (3GPP TS 29.281) that
// cmd/pdcpdemo uses to carry protected PDCP PDUs over the N3-style tunnel
// the demo sets up, standing in for the UPF/DU peer a real CU-UP talks to.
package gtp

import (
	"encoding/binary"
	"fmt"
)

const Port = 2152

// Tunnel is one GTP-U tunnel endpoint: a local/peer TEID pair plus the
// QoS flow the encapsulated PDCP PDUs belong to.
type Tunnel struct {
	LocalTEID          uint32
	PeerTEID           uint32
	QosFlowID          uint8
	HasExtensionHeader bool
}

// NewTunnel builds a tunnel endpoint for the given local/peer TEIDs.
func NewTunnel(localTEID, peerTEID uint32) *Tunnel {
	return &Tunnel{LocalTEID: localTEID, PeerTEID: peerTEID}
}

const (
	gtpuVersion          = 0x20
	protocolTypeGTP      = 0x10
	flagHasExtensionHead = 0x04
	messageTypeTPDU      = 0xff
)

const (
	extHeaderTypeNone                = 0x00
	extHeaderTypePDUSessionContainer = 0x85
)

// Encap wraps raw (a protected PDCP PDU) in a GTP-U header addressed to
// PeerTEID.
func (t *Tunnel) Encap(raw []byte) []byte {
	pdu := t.encHeader(len(raw))
	return append(pdu, raw...)
}

// Decap strips the GTP-U header, returning the PDCP PDU it carried.
func (t *Tunnel) Decap(payload []byte) ([]byte, error) {
	if len(payload) < 8 {
		return nil, fmt.Errorf("gtp: payload too short for header: %d bytes", len(payload))
	}
	versAndFlags := payload[0]
	if versAndFlags&flagHasExtensionHead == 0 {
		return payload[8:], nil
	}
	if len(payload) < 12 {
		return nil, fmt.Errorf("gtp: payload too short for extended header: %d bytes", len(payload))
	}
	offset, nextType := 12, payload[11]
	for nextType != extHeaderTypeNone {
		if offset >= len(payload) || payload[offset] == 0 || offset+int(payload[offset])*4 > len(payload) {
			return nil, fmt.Errorf("gtp: truncated extension header at offset %d", offset)
		}
		extLen := int(payload[offset]) * 4
		nextType = payload[offset+extLen-1]
		offset += extLen
	}
	return payload[offset:], nil
}

func (t *Tunnel) encHeader(payloadLen int) []byte {
	var versAndFlags uint8 = gtpuVersion | protocolTypeGTP
	var extHead []byte
	if t.HasExtensionHeader {
		versAndFlags |= flagHasExtensionHead
		extHead = t.encExtensionHeader(extHeaderTypePDUSessionContainer)
		extHead = append(extHead, extHeaderTypeNone)
	}

	pdu := []byte{versAndFlags, messageTypeTPDU}
	length := make([]byte, 2)
	binary.BigEndian.PutUint16(length, uint16(payloadLen+len(extHead)))
	pdu = append(pdu, length...)

	teid := make([]byte, 4)
	binary.BigEndian.PutUint32(teid, t.PeerTEID)
	pdu = append(pdu, teid...)

	if t.HasExtensionHeader {
		pdu = append(pdu, make([]byte, 2)...) // sequence number
		pdu = append(pdu, 0)                  // N-PDU number
	}
	pdu = append(pdu, extHead...)
	return pdu
}

// encExtensionHeader builds the TS 38.415 UL PDU Session Information
// extension (qos flow identifier only; DL/RQI bits unused by the demo).
func (t *Tunnel) encExtensionHeader(extType uint8) []byte {
	const pduTypeUL = 1
	content := []byte{pduTypeUL << 4, t.QosFlowID}
	lengthWords := uint8((len(content) + 2) / 4)
	return append([]byte{extType, lengthWords}, content...)
}
