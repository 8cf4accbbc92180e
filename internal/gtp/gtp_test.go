package gtp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncapDecapRoundTrip(t *testing.T) {
	tun := NewTunnel(0x10, 0x20)
	payload := []byte("protected pdcp pdu")

	wire := tun.Encap(payload)
	require.Greater(t, len(wire), len(payload))

	got, err := tun.Decap(wire)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestEncapWithExtensionHeaderRoundTrip(t *testing.T) {
	tun := NewTunnel(0x10, 0x20)
	tun.HasExtensionHeader = true
	tun.QosFlowID = 7
	payload := []byte("qos flow tagged pdu")

	wire := tun.Encap(payload)
	got, err := tun.Decap(wire)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestDecapRejectsShortPayload(t *testing.T) {
	tun := NewTunnel(1, 2)
	_, err := tun.Decap([]byte{0x30, 0xff, 0x00})
	require.Error(t, err)
}

func TestEncapHeaderFields(t *testing.T) {
	tun := NewTunnel(1, 0xdeadbeef)
	wire := tun.Encap([]byte("x"))
	require.Equal(t, byte(gtpuVersion|protocolTypeGTP), wire[0])
	require.Equal(t, byte(messageTypeTPDU), wire[1])
	require.Equal(t, uint32(0xdeadbeef), uint32(wire[4])<<24|uint32(wire[5])<<16|uint32(wire[6])<<8|uint32(wire[7]))
}
