package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/outline-cli-ws/gatewayd/internal/gwerrors"
)

// TunPrefixMode mirrors internal/codec.TunPrefix in a YAML-friendly form,
// resolving spec §9's open question explicitly rather than inferring it.
type TunPrefixMode string

const (
	TunPrefixNone TunPrefixMode = "none"
	TunPrefixFour TunPrefixMode = "four"
)

// Daemon holds the operator-tuned parameters that don't belong in a
// frequently-edited profile document: TUN device tuning, health-check
// cadence, and the metrics/control listen addresses. Shape and
// default-filling idiom grounded on the teacher's internal/config.go.
type Daemon struct {
	Tun struct {
		Device  string        `yaml:"device"`
		MTU     int           `yaml:"mtu"`
		Prefix  TunPrefixMode `yaml:"prefix"`
		Address string        `yaml:"address"`
	} `yaml:"tun"`

	Fwmark uint32 `yaml:"fwmark"`

	Healthcheck struct {
		Interval      time.Duration `yaml:"interval"`
		DeadThreshold time.Duration `yaml:"dead_threshold"`
	} `yaml:"healthcheck"`

	Probe struct {
		Interval time.Duration `yaml:"interval"`
		Timeout  time.Duration `yaml:"timeout"`
		Target   string        `yaml:"target"`
	} `yaml:"probe"`

	Metrics struct {
		Enable bool   `yaml:"enable"`
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`

	Control struct {
		EventsListen string `yaml:"events_listen"`
	} `yaml:"control"`

	FlowIdleTimeout time.Duration `yaml:"flow_idle_timeout"`
}

// LoadDaemon reads and default-fills the daemon YAML config, matching the
// teacher's LoadConfig.
func LoadDaemon(path string) (*Daemon, error) {
	var d Daemon
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &gwerrors.ConfigError{Path: path, Err: err}
	}
	if err := yaml.Unmarshal(b, &d); err != nil {
		return nil, &gwerrors.ConfigError{Path: path, Err: err}
	}

	if d.Tun.Device == "" {
		d.Tun.Device = "tun0"
	}
	if d.Tun.MTU == 0 {
		d.Tun.MTU = 1500
	}
	if d.Tun.Prefix == "" {
		d.Tun.Prefix = TunPrefixNone
	}
	if d.Tun.Address == "" {
		d.Tun.Address = "10.0.0.2/24"
	}
	if d.Healthcheck.Interval == 0 {
		d.Healthcheck.Interval = 10 * time.Second
	}
	if d.Healthcheck.DeadThreshold == 0 {
		d.Healthcheck.DeadThreshold = 10 * time.Minute
	}
	if d.Probe.Interval == 0 {
		d.Probe.Interval = 30 * time.Second
	}
	if d.Probe.Timeout == 0 {
		d.Probe.Timeout = 5 * time.Second
	}
	if d.Probe.Target == "" {
		d.Probe.Target = "api.ipify.org:443"
	}
	if d.Metrics.Listen == "" {
		d.Metrics.Listen = "127.0.0.1:9321"
	}
	if d.Control.EventsListen == "" {
		d.Control.EventsListen = "127.0.0.1:9322"
	}
	if d.FlowIdleTimeout == 0 {
		d.FlowIdleTimeout = 10 * time.Minute
	}

	return &d, nil
}
