package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("output: plain\nretries: 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("BRIDGE_OUTPUT", "json")
	flags := GlobalFlags{ConfigPath: configPath, Plain: true, Retries: 5}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Retries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retries)
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	_, err := Load(GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"), JSON: true, Plain: true})
	if err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}

func TestLoadExecutionDefaults(t *testing.T) {
	settings, err := Load(GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"), Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.GasLimitPercent != 110 || settings.GasPricePercent != 120 {
		t.Fatalf("unexpected gas multipliers: %d/%d", settings.GasLimitPercent, settings.GasPricePercent)
	}
	if settings.PollInterval != 5*time.Second || settings.OperationDelay != 108*time.Millisecond {
		t.Fatalf("unexpected pacing defaults: %s/%s", settings.PollInterval, settings.OperationDelay)
	}
	if settings.AssumeSuccessOnTimeout {
		t.Fatal("receipt exhaustion must fail by default")
	}
	if settings.Retries != 2 || settings.RetryUnit != 2*time.Second {
		t.Fatalf("unexpected retry defaults: %d/%s", settings.Retries, settings.RetryUnit)
	}
}

func TestLoadProvidersAndRPCFromFile(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	doc := `
execution:
  gas_limit_percent: 115
  poll_interval: 2s
  assume_success_on_timeout: true
rpc:
  "10": ["https://op.example", "https://op-fallback.example"]
providers:
  integrator: acme
  integrator_fee: "0.005"
  lifi:
    api_key_env: TEST_LIFI_KEY
  relay:
    base_url: https://relay.example
    testnet: true
    app_fee_recipient: "0x00000000000000000000000000000000000000aa"
    app_fee_bps: "25"
`
	if err := os.WriteFile(configPath, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TEST_LIFI_KEY", "lifi-secret")
	t.Setenv("BRIDGE_RPC_8453", "https://base.example")

	settings, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1, RPCURLs: []string{"42161=https://arb.example,https://arb2.example"}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.GasLimitPercent != 115 || settings.PollInterval != 2*time.Second || !settings.AssumeSuccessOnTimeout {
		t.Fatalf("unexpected execution settings: %+v", settings)
	}
	if settings.Integrator != "acme" || settings.IntegratorFee != "0.005" || settings.LiFiAPIKey != "lifi-secret" {
		t.Fatalf("unexpected provider settings: %+v", settings)
	}
	if settings.RelayBaseURL != "https://relay.example" || !settings.RelayTestnet || settings.RelayAppFeeBps != "25" {
		t.Fatalf("unexpected relay settings: %+v", settings)
	}
	if got := settings.RPCURLs[10]; len(got) != 2 || got[1] != "https://op-fallback.example" {
		t.Fatalf("unexpected optimism rpc: %v", got)
	}
	if got := settings.RPCURLs[8453]; len(got) != 1 || got[0] != "https://base.example" {
		t.Fatalf("unexpected base rpc: %v", got)
	}
	if got := settings.RPCURLs[42161]; len(got) != 2 {
		t.Fatalf("unexpected arbitrum rpc: %v", got)
	}
}

func TestLoadRejectsGasLimitOutsideRange(t *testing.T) {
	t.Setenv("BRIDGE_GAS_LIMIT_PERCENT", "150")
	if _, err := Load(GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"), Retries: -1}); err == nil {
		t.Fatal("expected gas limit range error")
	}
}

func TestLoadRejectsMalformedRPCFlag(t *testing.T) {
	if _, err := Load(GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"), Retries: -1, RPCURLs: []string{"optimism"}}); err == nil {
		t.Fatal("expected malformed --rpc error")
	}
}
