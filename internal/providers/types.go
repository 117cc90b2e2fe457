package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/bridgectl/internal/errors"
	"github.com/ggonzalez94/bridgectl/internal/execution"
	"github.com/ggonzalez94/bridgectl/internal/execution/signer"
	"github.com/ggonzalez94/bridgectl/internal/logger"
	"github.com/ggonzalez94/bridgectl/internal/metrics"
	"github.com/ggonzalez94/bridgectl/internal/model"
	"github.com/ggonzalez94/bridgectl/internal/route"
)

type Tag string

const (
	TagLiFi  Tag = "lifi"
	TagRelay Tag = "relay"
)

func Tags() []Tag {
	return []Tag{TagLiFi, TagRelay}
}

func ParseTag(v string) (Tag, error) {
	switch Tag(strings.ToLower(strings.TrimSpace(v))) {
	case TagLiFi, "li.fi", "jumper":
		return TagLiFi, nil
	case TagRelay, "relay.link":
		return TagRelay, nil
	}
	return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown provider %q (expected lifi or relay)", v))
}

type Provider interface {
	Info() model.ProviderInfo
}

// Adapter turns a MoveIntent into a Route and drives that Route to
// completion against one aggregator.
type Adapter interface {
	Provider
	Tag() Tag
	GetQuote(ctx context.Context, intent route.MoveIntent) (route.Route, error)
	Execute(ctx context.Context, s signer.Signer, r route.Route) ([]route.StepResult, error)
}

// StatusReader is implemented by adapters that can report provider-side
// status for an already submitted transaction.
type StatusReader interface {
	StatusByTx(ctx context.Context, r route.Route, sub route.SubmittedTx) (execution.ProviderStatus, error)
}

// ChainLister and TokenPricer are optional read capabilities.
type ChainLister interface {
	Chains(ctx context.Context) ([]model.ChainInfo, error)
}

type TokenPricer interface {
	TokenPrice(ctx context.Context, chainID int64, token string) (model.TokenPrice, error)
}

// ExecutionConfig carries the chain-side collaborators shared by every
// adapter. Zero attempt ceilings fall back to the adapter defaults.
type ExecutionConfig struct {
	Clients                   execution.ClientSource
	Gas                       execution.GasPolicy
	PollInterval              time.Duration
	ReceiptAttempts           int
	StatusAttempts            int
	AssumeSuccessOnExhaustion bool
	Log                       logger.Logger
	Metrics                   *metrics.Metrics
	OnTransition              func(stepID string, state execution.StepState)
}

func (c ExecutionConfig) Executor(backend execution.Backend, notifier execution.Notifier, receiptAttempts, statusAttempts int) *execution.Executor {
	if c.ReceiptAttempts > 0 {
		receiptAttempts = c.ReceiptAttempts
	}
	if c.StatusAttempts > 0 {
		statusAttempts = c.StatusAttempts
	}
	gas := c.Gas
	if gas == (execution.GasPolicy{}) {
		gas = execution.DefaultGasPolicy()
	}
	log := logger.OrEmpty(c.Log)
	return &execution.Executor{
		Backend:  backend,
		Notifier: notifier,
		Clients:  c.Clients,
		Gas:      gas,
		Receipts: execution.ReceiptWaiter{
			Interval:                  c.PollInterval,
			MaxAttempts:               receiptAttempts,
			AssumeSuccessOnExhaustion: c.AssumeSuccessOnExhaustion,
			Log:                       log,
		},
		Status:       execution.StatusPoller{Interval: c.PollInterval, MaxAttempts: statusAttempts, Log: log},
		Log:          log,
		Metrics:      c.Metrics,
		OnTransition: c.OnTransition,
	}
}

// FeeSummary sums the usd fee entries the adapters store under Route.Fees.
func FeeSummary(r route.Route) ([]model.FeeAmount, float64) {
	var fees []model.FeeAmount
	if !r.Detail("fee_summary", &fees) {
		return nil, 0
	}
	total := 0.0
	for _, f := range fees {
		total += f.AmountUSD
	}
	return fees, total
}
