//go:build linux

// Package tun opens the platform TUN device and runs the single-reader/
// single-writer I/O loop described in spec §4.5, dispatching parsed
// packets to the flow dispatcher and DNS relay. The device-open/MTU
// discovery helper is adapted from the teacher's openExistingTun; unlike
// the teacher, nothing here hands packets to a netstack — codec.ParseIPv4
// and the flow package do that work by hand.
package tun

import (
	"fmt"
	"net"

	"github.com/songgao/water"
)

// openDevice opens an existing TUN interface created by the host platform
// (the supervisor never creates interfaces itself — see spec §4.7.2,
// which names MTU/address/route assignment as the platform's job).
func openDevice(name string) (*water.Interface, int, error) {
	if name == "" {
		return nil, 0, fmt.Errorf("tun: device name is empty")
	}
	if _, err := net.InterfaceByName(name); err != nil {
		return nil, 0, fmt.Errorf("tun: interface %q not found: %w", name, err)
	}

	cfg := water.Config{DeviceType: water.TUN}
	cfg.Name = name
	ifce, err := water.New(cfg)
	if err != nil {
		return nil, 0, fmt.Errorf("tun: open %q: %w", name, err)
	}

	ifi, err := net.InterfaceByName(name)
	if err != nil {
		ifce.Close()
		return nil, 0, fmt.Errorf("tun: InterfaceByName(%q): %w", name, err)
	}
	mtu := ifi.MTU
	if mtu <= 0 {
		mtu = 1500
	}
	return ifce, mtu, nil
}
