package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("UVC_DEVICE", "/dev/video0")
	t.Setenv("UVC_SOCKET", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BufferCount != 2 || cfg.Memory != MemoryMemfd || cfg.LogLevel != "info" {
		t.Errorf("defaults = %+v", cfg)
	}
	if len(cfg.Devices) != 1 || cfg.Devices[0] != "/dev/video0" {
		t.Errorf("devices = %v", cfg.Devices)
	}
}

func TestLoadEnvList(t *testing.T) {
	t.Setenv("UVC_DEVICE", "/dev/video0, /dev/video2 ,/dev/video4")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"/dev/video0", "/dev/video2", "/dev/video4"}
	if len(cfg.Devices) != len(want) {
		t.Fatalf("devices = %v", cfg.Devices)
	}
	for i, p := range want {
		if cfg.Devices[i] != p {
			t.Errorf("device[%d] = %q, want %q", i, cfg.Devices[i], p)
		}
	}
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("UVC_DEVICE", "")
	path := filepath.Join(t.TempDir(), "uvc.yaml")
	raw := `
devices: [/dev/video1]
buffer_count: 4
memory: shm
log_level: debug
metrics_addr: 127.0.0.1:9100
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BufferCount != 4 || cfg.Memory != MemoryShm || cfg.LogLevel != "debug" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.MetricsAddr != "127.0.0.1:9100" {
		t.Errorf("metrics addr = %q", cfg.MetricsAddr)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"no devices and no socket", func(c *Config) { c.Devices = nil }, true},
		{"socket only is fine", func(c *Config) { c.Devices = nil; c.SocketPath = "/run/uvc.sock" }, false},
		{"too many devices", func(c *Config) { c.Devices = make([]string, MaxDevices+1) }, true},
		{"zero buffers", func(c *Config) { c.BufferCount = 0 }, true},
		{"bad backing", func(c *Config) { c.Memory = "hugepages" }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Devices = []string{"/dev/video0"}
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("want error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
