package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestProfileValidate(t *testing.T) {
	cases := []struct {
		name    string
		p       Profile
		wantErr bool
	}{
		{"valid socks5", Profile{Host: "proxy.example.com", Port: 1080, Type: ProxySOCKS5, DNS1: "1.1.1.1"}, false},
		{"missing host", Profile{Port: 1080, Type: ProxySOCKS5, DNS1: "1.1.1.1"}, true},
		{"bad port", Profile{Host: "h", Port: 0, Type: ProxySOCKS5, DNS1: "1.1.1.1"}, true},
		{"bad type", Profile{Host: "h", Port: 80, Type: "wat", DNS1: "1.1.1.1"}, true},
		{"missing dns", Profile{Host: "h", Port: 80, Type: ProxyHTTP}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.p.Validate()
			if (err != nil) != c.wantErr {
				t.Fatalf("Validate() error = %v, wantErr = %v", err, c.wantErr)
			}
		})
	}
}

func TestStoreAddAndPersist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.json")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	p := &Profile{Name: "work", Host: "proxy.example.com", Port: 1080, Type: ProxySOCKS5, DNS1: "1.1.1.1", DNS2: "8.8.8.8"}
	if err := s.AddProfile(p); err != nil {
		t.Fatalf("AddProfile: %v", err)
	}
	if p.ID == "" {
		t.Fatalf("AddProfile did not assign an ID")
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := reopened.Profiles()
	if len(got) != 1 || got[0].Name != "work" {
		t.Fatalf("reloaded profiles = %+v", got)
	}
}

func TestStoreRemoveClearsSelection(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(filepath.Join(dir, "profiles.json"))
	p := &Profile{Name: "a", Host: "h", Port: 1, Type: ProxySOCKS5, DNS1: "1.1.1.1"}
	s.AddProfile(p)
	s.SetSelected(p.ID)

	if err := s.RemoveProfile(p.ID); err != nil {
		t.Fatalf("RemoveProfile: %v", err)
	}
	if s.Selected() != nil {
		t.Fatalf("expected selection cleared after removing the selected profile")
	}
}

func TestLoadDaemonDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.yaml")
	if err := os.WriteFile(path, []byte("tun:\n  device: tun7\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	d, err := LoadDaemon(path)
	if err != nil {
		t.Fatalf("LoadDaemon: %v", err)
	}
	if d.Tun.Device != "tun7" {
		t.Fatalf("Device = %q, want tun7", d.Tun.Device)
	}
	if d.Tun.MTU != 1500 {
		t.Fatalf("MTU default = %d, want 1500", d.Tun.MTU)
	}
	if d.Tun.Prefix != TunPrefixNone {
		t.Fatalf("Prefix default = %q, want none", d.Tun.Prefix)
	}
}
