//go:build !linux

package tun

import (
	"fmt"

	"github.com/songgao/water"
)

func openDevice(name string) (*water.Interface, int, error) {
	return nil, 0, fmt.Errorf("tun: native TUN mode is supported only on linux")
}
