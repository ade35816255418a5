package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}

const minimalConfig = `gascap:
  name: "TestApp"
  version: "1.0"
chain:
  rpc_url: "http://localhost:9650"
  contract_address: "0x1111111111111111111111111111111111111111"
`

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Gascap.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Gascap.Name)
	}
	if cfg.Market.TickCapacity != 2000 {
		t.Errorf("unexpected default tick capacity: %d", cfg.Market.TickCapacity)
	}
	if cfg.Market.QuiescenceWindow != 10*time.Second {
		t.Errorf("unexpected default quiescence window: %s", cfg.Market.QuiescenceWindow)
	}
	if cfg.Events.LookbackBlocks != 5000 {
		t.Errorf("unexpected default lookback: %d", cfg.Events.LookbackBlocks)
	}
	if cfg.Poller.Interval != 5*time.Second {
		t.Errorf("unexpected default poll interval: %s", cfg.Poller.Interval)
	}
}

func TestLoadConfigMissingRPC(t *testing.T) {
	path := writeTempConfig(t, `gascap:
  name: "TestApp"
  version: "1.0"
`)

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected validation error for missing rpc url")
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("GASCAP_RPC_URL", "http://override:8545")
	path := writeTempConfig(t, minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Chain.RPCURL != "http://override:8545" {
		t.Errorf("env override not applied: %s", cfg.Chain.RPCURL)
	}
}

func TestLoadConfigRedisBackendRequiresAddr(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	path := writeTempConfig(t, minimalConfig+`market:
  slot:
    backend: "redis"
`)

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected validation error for missing redis addr")
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"gascap-archive", true},
		{"a", false},
		{"Invalid_Bucket", false},
		{"double..dot", false},
		{".leading", false},
	}
	for _, tc := range cases {
		if got := isValidS3Bucket(tc.name); got != tc.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", tc.name, got, tc.valid)
		}
	}
}
