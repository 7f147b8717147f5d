package sessions

import "testing"

func TestDefaultCockroachConfig(t *testing.T) {
	cfg := DefaultCockroachConfig()
	if cfg.Host != "localhost" {
		t.Errorf("Host = %q, want localhost", cfg.Host)
	}
	if cfg.Port != 26257 {
		t.Errorf("Port = %d, want 26257", cfg.Port)
	}
	if cfg.MaxOpenConns <= 0 {
		t.Error("expected positive MaxOpenConns")
	}
	if cfg.ConnectTimeout <= 0 {
		t.Error("expected positive ConnectTimeout")
	}
}
