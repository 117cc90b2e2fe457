package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type GlobalFlags struct {
	ConfigPath    string
	JSON          bool
	Plain         bool
	Select        string
	ResultsOnly   bool
	Timeout       string
	Retries       int
	MaxStale      string
	NoStale       bool
	NoCache       bool
	LogLevel      string
	NoColor       bool
	MetricsAddr   string
	RPCURLs       []string
	Testnet       bool
	AssumeSuccess bool
}

type Settings struct {
	OutputMode    string
	SelectFields  []string
	ResultsOnly   bool
	Timeout       time.Duration
	Retries       int
	RetryUnit     time.Duration
	MaxStale      time.Duration
	NoStale       bool
	CacheEnabled  bool
	CachePath     string
	CacheLockPath string
	RunStorePath  string
	RunLockPath   string

	// RPCURLs maps a chain id to its primary endpoint followed by fallbacks.
	RPCURLs map[int64][]string

	RelayAPIKey          string
	RelayBaseURL         string
	RelayTestnet         bool
	RelayAppFeeRecipient string
	RelayAppFeeBps       string
	LiFiAPIKey           string
	LiFiBaseURL          string
	Integrator           string
	IntegratorFee        string

	GasLimitPercent        int64
	GasPricePercent        int64
	PollInterval           time.Duration
	ReceiptAttempts        int
	StatusAttempts         int
	AssumeSuccessOnTimeout bool
	OperationDelay         time.Duration

	LogLevel    string
	NoColor     bool
	MetricsAddr string
}

type providerKey struct {
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
}

type fileConfig struct {
	Output    string `yaml:"output"`
	Timeout   string `yaml:"timeout"`
	Retries   *int   `yaml:"retries"`
	RetryUnit string `yaml:"retry_unit"`
	LogLevel  string `yaml:"log_level"`
	NoColor   *bool  `yaml:"no_color"`
	Metrics   string `yaml:"metrics_addr"`
	Cache     struct {
		Enabled  *bool  `yaml:"enabled"`
		MaxStale string `yaml:"max_stale"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Execution struct {
		RunsPath               string `yaml:"runs_path"`
		RunsLockPath           string `yaml:"runs_lock_path"`
		GasLimitPercent        int64  `yaml:"gas_limit_percent"`
		GasPricePercent        int64  `yaml:"gas_price_percent"`
		PollInterval           string `yaml:"poll_interval"`
		ReceiptAttempts        int    `yaml:"receipt_attempts"`
		StatusAttempts         int    `yaml:"status_attempts"`
		AssumeSuccessOnTimeout *bool  `yaml:"assume_success_on_timeout"`
		OperationDelay         string `yaml:"operation_delay"`
	} `yaml:"execution"`
	RPC       map[string][]string `yaml:"rpc"`
	Providers struct {
		Integrator    string      `yaml:"integrator"`
		IntegratorFee string      `yaml:"integrator_fee"`
		LiFi          providerKey `yaml:"lifi"`
		Relay         struct {
			providerKey     `yaml:",inline"`
			Testnet         *bool  `yaml:"testnet"`
			AppFeeRecipient string `yaml:"app_fee_recipient"`
			AppFeeBps       string `yaml:"app_fee_bps"`
		} `yaml:"relay"`
	} `yaml:"providers"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	if err := applyEnv(&settings); err != nil {
		return Settings{}, err
	}

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 20 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.MaxStale < 0 {
		settings.MaxStale = 5 * time.Minute
	}
	if settings.GasLimitPercent < 110 || settings.GasLimitPercent > 120 {
		return Settings{}, fmt.Errorf("gas limit multiplier must be between 110 and 120 percent, got %d", settings.GasLimitPercent)
	}
	if settings.GasPricePercent < 100 {
		return Settings{}, fmt.Errorf("gas price multiplier must be at least 100 percent, got %d", settings.GasPricePercent)
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	cacheDir := filepath.Dir(cachePath)
	return Settings{
		OutputMode:      "json",
		Timeout:         20 * time.Second,
		Retries:         2,
		RetryUnit:       2 * time.Second,
		MaxStale:        5 * time.Minute,
		CacheEnabled:    true,
		CachePath:       cachePath,
		CacheLockPath:   lockPath,
		RunStorePath:    filepath.Join(cacheDir, "runs.db"),
		RunLockPath:     filepath.Join(cacheDir, "runs.lock"),
		RPCURLs:         map[int64][]string{},
		Integrator:      "bridgectl",
		GasLimitPercent: 110,
		GasPricePercent: 120,
		PollInterval:    5 * time.Second,
		OperationDelay:  108 * time.Millisecond,
		LogLevel:        "info",
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	if v := os.Getenv("BRIDGE_CONFIG"); v != "" {
		return v, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "bridgectl", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "bridgectl")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if err := setDuration(&settings.Timeout, cfg.Timeout, "config timeout"); err != nil {
		return err
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if err := setDuration(&settings.RetryUnit, cfg.RetryUnit, "config retry_unit"); err != nil {
		return err
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = cfg.LogLevel
	}
	if cfg.NoColor != nil {
		settings.NoColor = *cfg.NoColor
	}
	if cfg.Metrics != "" {
		settings.MetricsAddr = cfg.Metrics
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if err := setDuration(&settings.MaxStale, cfg.Cache.MaxStale, "config cache.max_stale"); err != nil {
		return err
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}

	exec := cfg.Execution
	if exec.RunsPath != "" {
		settings.RunStorePath = exec.RunsPath
	}
	if exec.RunsLockPath != "" {
		settings.RunLockPath = exec.RunsLockPath
	}
	if exec.GasLimitPercent != 0 {
		settings.GasLimitPercent = exec.GasLimitPercent
	}
	if exec.GasPricePercent != 0 {
		settings.GasPricePercent = exec.GasPricePercent
	}
	if err := setDuration(&settings.PollInterval, exec.PollInterval, "config execution.poll_interval"); err != nil {
		return err
	}
	if exec.ReceiptAttempts > 0 {
		settings.ReceiptAttempts = exec.ReceiptAttempts
	}
	if exec.StatusAttempts > 0 {
		settings.StatusAttempts = exec.StatusAttempts
	}
	if exec.AssumeSuccessOnTimeout != nil {
		settings.AssumeSuccessOnTimeout = *exec.AssumeSuccessOnTimeout
	}
	if err := setDuration(&settings.OperationDelay, exec.OperationDelay, "config execution.operation_delay"); err != nil {
		return err
	}

	for chain, urls := range cfg.RPC {
		chainID, err := strconv.ParseInt(strings.TrimSpace(chain), 10, 64)
		if err != nil || chainID <= 0 {
			return fmt.Errorf("config rpc: invalid chain id %q", chain)
		}
		settings.RPCURLs[chainID] = urls
	}

	p := cfg.Providers
	if p.Integrator != "" {
		settings.Integrator = p.Integrator
	}
	if p.IntegratorFee != "" {
		settings.IntegratorFee = p.IntegratorFee
	}
	settings.LiFiAPIKey = p.LiFi.resolve(settings.LiFiAPIKey)
	if p.LiFi.BaseURL != "" {
		settings.LiFiBaseURL = p.LiFi.BaseURL
	}
	settings.RelayAPIKey = p.Relay.resolve(settings.RelayAPIKey)
	if p.Relay.BaseURL != "" {
		settings.RelayBaseURL = p.Relay.BaseURL
	}
	if p.Relay.Testnet != nil {
		settings.RelayTestnet = *p.Relay.Testnet
	}
	if p.Relay.AppFeeRecipient != "" {
		settings.RelayAppFeeRecipient = p.Relay.AppFeeRecipient
	}
	if p.Relay.AppFeeBps != "" {
		settings.RelayAppFeeBps = p.Relay.AppFeeBps
	}

	return nil
}

func (k providerKey) resolve(current string) string {
	if k.APIKeyEnv != "" {
		return os.Getenv(k.APIKeyEnv)
	}
	if k.APIKey != "" {
		return k.APIKey
	}
	return current
}

func applyEnv(settings *Settings) error {
	if v := os.Getenv("BRIDGE_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("BRIDGE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("BRIDGE_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("BRIDGE_MAX_STALE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.MaxStale = d
		}
	}
	if v := os.Getenv("BRIDGE_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("BRIDGE_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("BRIDGE_CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := os.Getenv("BRIDGE_RUNS_PATH"); v != "" {
		settings.RunStorePath = v
	}
	if v := os.Getenv("BRIDGE_RUNS_LOCK_PATH"); v != "" {
		settings.RunLockPath = v
	}
	if v := os.Getenv("BRIDGE_RELAY_API_KEY"); v != "" {
		settings.RelayAPIKey = v
	}
	if v := os.Getenv("BRIDGE_RELAY_BASE_URL"); v != "" {
		settings.RelayBaseURL = v
	}
	if v := os.Getenv("BRIDGE_RELAY_TESTNET"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.RelayTestnet = b
		}
	}
	if v := os.Getenv("BRIDGE_LIFI_API_KEY"); v != "" {
		settings.LiFiAPIKey = v
	}
	if v := os.Getenv("BRIDGE_LIFI_BASE_URL"); v != "" {
		settings.LiFiBaseURL = v
	}
	if v := os.Getenv("BRIDGE_INTEGRATOR"); v != "" {
		settings.Integrator = v
	}
	if v := os.Getenv("BRIDGE_INTEGRATOR_FEE"); v != "" {
		settings.IntegratorFee = v
	}
	if v := os.Getenv("BRIDGE_GAS_LIMIT_PERCENT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			settings.GasLimitPercent = n
		}
	}
	if v := os.Getenv("BRIDGE_ASSUME_SUCCESS_ON_TIMEOUT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.AssumeSuccessOnTimeout = b
		}
	}
	if v := os.Getenv("BRIDGE_OPERATION_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.OperationDelay = d
		}
	}
	if v := os.Getenv("BRIDGE_LOG_LEVEL"); v != "" {
		settings.LogLevel = v
	}
	if v := os.Getenv("BRIDGE_METRICS_ADDR"); v != "" {
		settings.MetricsAddr = v
	}
	if os.Getenv("NO_COLOR") != "" {
		settings.NoColor = true
	}
	// BRIDGE_RPC_<chainID>=url[,fallback...]
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "BRIDGE_RPC_") || strings.TrimSpace(value) == "" {
			continue
		}
		chainID, err := strconv.ParseInt(strings.TrimPrefix(key, "BRIDGE_RPC_"), 10, 64)
		if err != nil || chainID <= 0 {
			return fmt.Errorf("%s: expected BRIDGE_RPC_<chain id>", key)
		}
		settings.RPCURLs[chainID] = splitList(value)
	}
	return nil
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		settings.SelectFields = splitList(flags.Select)
	}
	settings.ResultsOnly = flags.ResultsOnly

	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.MaxStale != "" {
		d, err := time.ParseDuration(flags.MaxStale)
		if err != nil {
			return fmt.Errorf("parse --max-stale: %w", err)
		}
		settings.MaxStale = d
	}
	if flags.NoStale {
		settings.NoStale = true
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if flags.LogLevel != "" {
		settings.LogLevel = flags.LogLevel
	}
	if flags.NoColor {
		settings.NoColor = true
	}
	if flags.MetricsAddr != "" {
		settings.MetricsAddr = flags.MetricsAddr
	}
	if flags.Testnet {
		settings.RelayTestnet = true
	}
	if flags.AssumeSuccess {
		settings.AssumeSuccessOnTimeout = true
	}
	// --rpc chain=url[,fallback...]
	for _, raw := range flags.RPCURLs {
		chain, urls, ok := strings.Cut(raw, "=")
		chainID, err := strconv.ParseInt(strings.TrimSpace(chain), 10, 64)
		if !ok || err != nil || chainID <= 0 || strings.TrimSpace(urls) == "" {
			return fmt.Errorf("parse --rpc %q: expected <chain id>=<url>[,<fallback>]", raw)
		}
		settings.RPCURLs[chainID] = splitList(urls)
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}

func setDuration(dst *time.Duration, raw, field string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = d
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
