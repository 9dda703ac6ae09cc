package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `{
	"instruments": [
		{"symbol": "EURUSD", "tradable": true},
		{"symbol": "GBPUSD", "pip_value": 12.5, "tradable": true}
	]
}`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LoggingConfig.Level != "info" {
		t.Errorf("Level = %q", cfg.LoggingConfig.Level)
	}
	if cfg.BridgeConfig.Mode != "file" {
		t.Errorf("Mode = %q", cfg.BridgeConfig.Mode)
	}
	if cfg.RiskConfig.DailyResetTimezone != "UTC" {
		t.Errorf("DailyResetTimezone = %q", cfg.RiskConfig.DailyResetTimezone)
	}
	if cfg.TerminalConfig.HeartbeatInterval != 5*time.Second {
		t.Errorf("HeartbeatInterval = %v", cfg.TerminalConfig.HeartbeatInterval)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RISK_MAX_PERCENT", "0.5")
	t.Setenv("BRIDGE_MODE", "socket")
	t.Setenv("ENGINE_HEARTBEAT_TIMEOUT", "45s")
	t.Setenv("INSTRUMENTS", "GBPUSD")

	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.RiskConfig.MaxRiskPercent != 0.5 {
		t.Errorf("MaxRiskPercent = %v", cfg.RiskConfig.MaxRiskPercent)
	}
	if cfg.BridgeConfig.Mode != "socket" {
		t.Errorf("Mode = %q", cfg.BridgeConfig.Mode)
	}
	if cfg.EngineConfig.HeartbeatTimeout != 45*time.Second {
		t.Errorf("HeartbeatTimeout = %v", cfg.EngineConfig.HeartbeatTimeout)
	}
	if len(cfg.Instruments) != 1 || cfg.Instruments[0].Symbol != "GBPUSD" {
		t.Errorf("Instruments = %+v, want the GBPUSD subset", cfg.Instruments)
	}
}

func TestLoadRequiresInstruments(t *testing.T) {
	if _, err := Load(writeConfig(t, `{"instruments": []}`)); err == nil {
		t.Fatal("empty instrument list accepted")
	}
}

func TestInstrumentSpecsFillDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	specs := cfg.InstrumentSpecs()
	eur, ok := specs["EURUSD"]
	if !ok {
		t.Fatal("EURUSD spec missing")
	}
	if eur.PipSize != 0.0001 || !eur.Tradable {
		t.Errorf("EURUSD spec = %+v", eur)
	}

	gbp := specs["GBPUSD"]
	if gbp.PipValue != 12.5 {
		t.Errorf("GBPUSD PipValue = %v, want the configured override", gbp.PipValue)
	}
}
