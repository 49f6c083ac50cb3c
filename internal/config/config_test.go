package config

import (
	"log/slog"
	"testing"
)

func TestLoadProxyDefaults(t *testing.T) {
	cfg, err := LoadProxy([]string{"-interface", "eth0"})
	if err != nil {
		t.Fatalf("LoadProxy: %v", err)
	}
	if cfg.Filter != "ip and udp" {
		t.Errorf("filter = %q", cfg.Filter)
	}
	if cfg.QuackInterval != 2 || cfg.Threshold != 8 || cfg.QuackPort != 8765 {
		t.Errorf("defaults = (%d, %d, %d), want (2, 8, 8765)", cfg.QuackInterval, cfg.Threshold, cfg.QuackPort)
	}
}

func TestLoadProxyRequiresInterface(t *testing.T) {
	if _, err := LoadProxy(nil); err == nil {
		t.Error("LoadProxy accepted missing interface")
	}
}

func TestLoadProxyRejectsZeroInterval(t *testing.T) {
	if _, err := LoadProxy([]string{"-interface", "eth0", "-quack-interval", "0"}); err == nil {
		t.Error("LoadProxy accepted zero quack-interval")
	}
}

func TestLoadSenderValidation(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"valid", []string{"-server-ip", "192.0.2.1"}, false},
		{"missing server ip", nil, true},
		{"bad server ip", []string{"-server-ip", "not-an-ip"}, true},
		{"bad port", []string{"-server-ip", "192.0.2.1", "-server-port", "70000"}, true},
		{"zero period", []string{"-server-ip", "192.0.2.1", "-send-period-ms", "0"}, true},
		{"zero threshold", []string{"-server-ip", "192.0.2.1", "-threshold", "0"}, true},
		{"bad log level", []string{"-server-ip", "192.0.2.1", "-log-level", "loud"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSender(tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadSender err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SIDEKICK_QUACK_INTERVAL", "5")
	cfg, err := LoadProxy([]string{"-interface", "eth0"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.QuackInterval != 5 {
		t.Errorf("quack-interval = %d, want 5 from env", cfg.QuackInterval)
	}
}

func TestCLIBeatsEnv(t *testing.T) {
	t.Setenv("SIDEKICK_QUACK_INTERVAL", "5")
	cfg, err := LoadProxy([]string{"-interface", "eth0", "-quack-interval", "3"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.QuackInterval != 3 {
		t.Errorf("quack-interval = %d, want 3 from cli", cfg.QuackInterval)
	}
}

func TestLoadPeerDefaults(t *testing.T) {
	cfg, err := LoadPeer(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenPort != 9000 || cfg.RTTMs != 100 {
		t.Errorf("defaults = (%d, %d), want (9000, 100)", cfg.ListenPort, cfg.RTTMs)
	}
	if cfg.StatsPath != "jitter_buffer_stats.csv" {
		t.Errorf("stats path = %q", cfg.StatsPath)
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		c := Common{LogLevel: tt.level}
		if got := c.SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
