// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.
package main

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// addTunnel creates and brings up a TUN device standing in for the N3
// GTP-U tunnel a real gNB would terminate in the kernel.
func addTunnel(name string) (*netlink.Tuntap, error) {
	tun := &netlink.Tuntap{
		LinkAttrs: netlink.LinkAttrs{Name: name},
		Mode:      netlink.TUNTAP_MODE_TUN,
		Flags:     netlink.TUNTAP_DEFAULTS | netlink.TUNTAP_NO_PI,
		Queues:    1,
	}
	if err := netlink.LinkAdd(tun); err != nil {
		return nil, fmt.Errorf("failed to add tun device[%s]: %w", name, err)
	}
	if err := netlink.LinkSetUp(tun); err != nil {
		return nil, fmt.Errorf("failed to up tun device[%s]: %w", name, err)
	}
	return tun, nil
}

// addIPv4Address assigns ip/masklen to ifName, skipping the call if it is
// already configured.
func addIPv4Address(ifName string, ip net.IP, masklen int) error {
	link, err := netlink.LinkByName(ifName)
	if err != nil {
		return err
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return err
	}

	want := &net.IPNet{IP: ip, Mask: net.CIDRMask(masklen, 32)}
	for _, a := range addrs {
		if a.Label == ifName && a.IPNet.String() == want.String() {
			return nil
		}
	}
	return netlink.AddrAdd(link, &netlink.Addr{IPNet: want})
}
