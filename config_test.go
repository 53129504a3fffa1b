package erpauth

import (
	"testing"
	"time"
)

func TestConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() error = %v", err)
	}
	if cfg.HistoryCapacity != 5 {
		t.Errorf("HistoryCapacity = %d, want 5", cfg.HistoryCapacity)
	}
	if cfg.HTTPTimeout != 10*time.Second {
		t.Errorf("HTTPTimeout = %v, want 10s", cfg.HTTPTimeout)
	}
	if cfg.MetricsEnabled {
		t.Error("MetricsEnabled must default to false")
	}
}

func TestConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("ERPAUTH_ENDPOINT", "https://erp.example.com/api/v1")
	t.Setenv("ERPAUTH_HISTORY_CAPACITY", "3")
	t.Setenv("ERPAUTH_HTTP_TIMEOUT", "30s")
	t.Setenv("ERPAUTH_METRICS_ENABLED", "true")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() error = %v", err)
	}
	if cfg.Endpoint != "https://erp.example.com/api/v1" {
		t.Errorf("Endpoint = %q", cfg.Endpoint)
	}
	if cfg.HistoryCapacity != 3 {
		t.Errorf("HistoryCapacity = %d, want 3", cfg.HistoryCapacity)
	}
	if cfg.HTTPTimeout != 30*time.Second {
		t.Errorf("HTTPTimeout = %v, want 30s", cfg.HTTPTimeout)
	}
	if !cfg.MetricsEnabled {
		t.Error("MetricsEnabled = false, want true")
	}
}
