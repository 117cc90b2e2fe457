package execution

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/bridgectl/internal/errors"
	"github.com/ggonzalez94/bridgectl/internal/logger"
	"github.com/ggonzalez94/bridgectl/internal/route"
)

// ProviderStatus is one observation of a provider's cross-chain state.
type ProviderStatus struct {
	Status    string          `json:"status"`
	Substatus string          `json:"substatus,omitempty"`
	Message   string          `json:"message,omitempty"`
	DestTx    string          `json:"dest_tx_hash,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

func (s ProviderStatus) Terminal() bool {
	switch s.Status {
	case "success", "failure", "refund", "DONE", "FAILED":
		return true
	}
	return false
}

// ResultStatus maps a provider status onto the step result vocabulary.
// Anything non terminal means the source transaction confirmed but the
// provider never reported a final state.
func (s ProviderStatus) ResultStatus() route.ResultStatus {
	switch strings.ToLower(s.Status) {
	case "success", "done":
		return route.ResultSuccess
	case "failure", "failed":
		return route.ResultFailed
	case "refund", "refunded":
		return route.ResultRefund
	default:
		return route.ResultCompleted
	}
}

func (s ProviderStatus) Detail() string {
	parts := []string{s.Status}
	if s.Substatus != "" {
		parts = append(parts, s.Substatus)
	}
	if s.Message != "" {
		parts = append(parts, s.Message)
	}
	if s.DestTx != "" {
		parts = append(parts, "dest tx "+s.DestTx)
	}
	return strings.Join(parts, " | ")
}

type StatusFetcher func(ctx context.Context) (ProviderStatus, error)

// StatusPoller polls until a terminal status or MaxAttempts. Exhaustion
// returns the last observed status, not an error.
type StatusPoller struct {
	Interval    time.Duration
	MaxAttempts int
	Log         logger.Logger
	OnPoll      func(ProviderStatus)
}

func (p StatusPoller) Poll(ctx context.Context, chainID int64, fetch StatusFetcher) (ProviderStatus, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	log := logger.OrEmpty(p.Log)

	var last ProviderStatus
	var lastErr error
	observed := false
	for attempt := 1; attempt <= attempts; attempt++ {
		status, err := fetch(ctx)
		if err != nil {
			lastErr = err
			log.DebugWithChain(chainID, "status check failed (attempt %d/%d): %v", attempt, attempts, err)
		} else {
			last, observed = status, true
			if p.OnPoll != nil {
				p.OnPoll(status)
			}
			if status.Terminal() {
				log.InfoWithChain(chainID, "final provider status: %s", status.Detail())
				return status, nil
			}
			log.InfoWithChain(chainID, "provider status: %s (attempt %d/%d)", status.Detail(), attempt, attempts)
		}
		if attempt == attempts {
			break
		}
		if err := sleepCtx(ctx, interval); err != nil {
			return last, clierr.Wrap(clierr.CodeTimeoutExhausted, "status poll cancelled", err)
		}
	}
	if observed {
		log.NoticeWithChain(chainID, "status polling exhausted, last status %s", last.Detail())
		return last, nil
	}
	return ProviderStatus{}, clierr.Wrap(clierr.CodeTimeoutExhausted, "no provider status observed", lastErr)
}
