package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string           `json:"request_id"`
	Timestamp time.Time        `json:"timestamp"`
	Command   string           `json:"command"`
	Providers []ProviderStatus `json:"providers,omitempty"`
	Cache     CacheStatus      `json:"cache"`
	Partial   bool             `json:"partial"`
}

type ProviderStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
	Stale  bool   `json:"stale"`
}

type ProviderInfo struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	RequiresKey   bool     `json:"requires_key"`
	Capabilities  []string `json:"capabilities"`
	KeyEnvVarName string   `json:"key_env_var,omitempty"`
	BaseURL       string   `json:"base_url,omitempty"`
}

type AmountInfo struct {
	AmountBaseUnits string `json:"amount_base_units"`
	AmountDecimal   string `json:"amount_decimal"`
	Decimals        int    `json:"decimals"`
}

type FeeAmount struct {
	Name      string  `json:"name,omitempty"`
	AmountUSD float64 `json:"amount_usd,omitempty"`
}

// StepSummary is the display form of one route step.
type StepSummary struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
	ChainID     int64  `json:"chain_id,omitempty"`
	To          string `json:"to,omitempty"`
	Value       string `json:"value,omitempty"`
	HasCheck    bool   `json:"has_check"`
}

type QuoteSummary struct {
	Provider        string        `json:"provider"`
	FromChainID     string        `json:"from_chain_id"`
	ToChainID       string        `json:"to_chain_id"`
	FromToken       string        `json:"from_token"`
	ToToken         string        `json:"to_token"`
	InputAmount     AmountInfo    `json:"input_amount"`
	EstimatedOut    *AmountInfo   `json:"estimated_out,omitempty"`
	EstimatedFeeUSD float64       `json:"estimated_fee_usd"`
	Fees            []FeeAmount   `json:"fees,omitempty"`
	Steps           []StepSummary `json:"steps"`
	FetchedAt       string        `json:"fetched_at"`
}

type ChainInfo struct {
	ChainID  int64  `json:"chain_id"`
	Name     string `json:"name"`
	Slug     string `json:"slug,omitempty"`
	Native   string `json:"native_symbol,omitempty"`
	Disabled bool   `json:"disabled"`
	Source   string `json:"source"`
}

type TokenPrice struct {
	ChainID   int64   `json:"chain_id"`
	Address   string  `json:"address"`
	PriceUSD  float64 `json:"price_usd"`
	Provider  string  `json:"provider"`
	FetchedAt string  `json:"fetched_at"`
}

// BatchOperation is one quote+execute attempt inside a batch job.
type BatchOperation struct {
	Wallet   string  `json:"wallet"`
	Job      string  `json:"job"`
	ChainID  int64   `json:"chain_id"`
	Token    string  `json:"token"`
	Symbol   string  `json:"symbol,omitempty"`
	Amount   string  `json:"amount_base_units,omitempty"`
	Status   string  `json:"status"`
	RunID    string  `json:"run_id,omitempty"`
	LastTx   string  `json:"last_tx_hash,omitempty"`
	Reason   string  `json:"reason,omitempty"`
	Error    string  `json:"error,omitempty"`
	ValueUSD float64 `json:"value_usd,omitempty"`
}

type BatchReport struct {
	Job        string           `json:"job"`
	Total      int              `json:"total"`
	Success    int              `json:"success"`
	Fail       int              `json:"fail"`
	Skipped    int              `json:"skipped"`
	Operations []BatchOperation `json:"operations"`
}
