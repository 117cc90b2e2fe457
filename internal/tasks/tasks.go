// Package tasks runs the batch jobs that sweep wallet holdings into a chain's
// native asset and bridge native balances to one destination chain.
package tasks

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/bridgectl/internal/errors"
	"github.com/ggonzalez94/bridgectl/internal/execution"
	"github.com/ggonzalez94/bridgectl/internal/execution/signer"
	"github.com/ggonzalez94/bridgectl/internal/holdings"
	"github.com/ggonzalez94/bridgectl/internal/id"
	"github.com/ggonzalez94/bridgectl/internal/logger"
	"github.com/ggonzalez94/bridgectl/internal/metrics"
	"github.com/ggonzalez94/bridgectl/internal/model"
	"github.com/ggonzalez94/bridgectl/internal/providers"
	"github.com/ggonzalez94/bridgectl/internal/route"
	"golang.org/x/sync/errgroup"
)

type Job string

const (
	JobSwapNative    Job = "swap-native"
	JobBridgeNative  Job = "bridge-native"
	JobSwapAndBridge Job = "swap-and-bridge"
)

func ParseJob(v string) (Job, error) {
	switch Job(strings.ToLower(strings.TrimSpace(v))) {
	case JobSwapNative:
		return JobSwapNative, nil
	case JobBridgeNative:
		return JobBridgeNative, nil
	case JobSwapAndBridge:
		return JobSwapAndBridge, nil
	}
	return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown batch job %q", v))
}

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

const (
	DefaultDelay          = 108 * time.Millisecond
	DefaultStagePause     = 5 * time.Second
	DefaultGasReserve     = 800_000
	DefaultReservePercent = 115
	DefaultSlippageBps    = 300
)

type Config struct {
	MinValueUSD   float64
	Chains        []int64
	ExcludeStable bool
	// DestChainID is where bridge-native sends native balances.
	DestChainID    int64
	SlippageBps    int64
	Delay          time.Duration
	StagePause     time.Duration
	GasReserve     uint64
	ReservePercent int64
	// Parallel bounds how many wallets run at once. Zero or one runs them
	// sequentially with Delay*10 between wallets.
	Parallel int
}

func (c Config) normalized() Config {
	if c.SlippageBps <= 0 {
		c.SlippageBps = DefaultSlippageBps
	}
	if c.Delay <= 0 {
		c.Delay = DefaultDelay
	}
	if c.StagePause <= 0 {
		c.StagePause = DefaultStagePause
	}
	if c.GasReserve == 0 {
		c.GasReserve = DefaultGasReserve
	}
	if c.ReservePercent <= 0 {
		c.ReservePercent = DefaultReservePercent
	}
	return c
}

func (c Config) chainFilter() map[int64]bool {
	if len(c.Chains) == 0 {
		return nil
	}
	out := make(map[int64]bool, len(c.Chains))
	for _, id := range c.Chains {
		out[id] = true
	}
	return out
}

type Runner struct {
	Adapter providers.Adapter
	Clients execution.ClientSource
	Source  holdings.Source
	// Store is optional; when set every executed route is recorded as a run.
	Store   *execution.Store
	Log     logger.Logger
	Metrics *metrics.Metrics
	Sleep   func(ctx context.Context, d time.Duration) error
}

// Run executes job for the wallet behind s.
func (r *Runner) Run(ctx context.Context, job Job, s signer.Signer, cfg Config) (model.BatchReport, error) {
	if r.Adapter == nil || r.Clients == nil || r.Source == nil {
		return model.BatchReport{}, clierr.New(clierr.CodeInternal, "batch runner is missing an adapter, chain clients or holdings source")
	}
	if s == nil {
		return model.BatchReport{}, clierr.New(clierr.CodeSigner, "batch job requires a signer")
	}
	cfg = cfg.normalized()
	report := model.BatchReport{Job: string(job)}
	var err error
	switch job {
	case JobSwapNative:
		err = r.swapNative(ctx, s, cfg, &report)
	case JobBridgeNative:
		err = r.bridgeNative(ctx, s, cfg, &report)
	case JobSwapAndBridge:
		if err = r.swapNative(ctx, s, cfg, &report); err != nil {
			break
		}
		r.logger().Info("swap stage finished, pausing %s before bridging", cfg.StagePause)
		if err = r.sleep(ctx, cfg.StagePause); err != nil {
			break
		}
		err = r.bridgeNative(ctx, s, cfg, &report)
	default:
		return report, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown batch job %q", job))
	}
	r.logger().Notice("Done | Total: %d | Success: %d | Fail: %d", report.Success+report.Fail, report.Success, report.Fail)
	return report, err
}

// Batch runs job over every wallet, resolving each wallet's signer only for
// the duration of its own run.
func (r *Runner) Batch(ctx context.Context, job Job, wallets []holdings.Wallet, cfg Config) (model.BatchReport, error) {
	cfg = cfg.normalized()
	total := model.BatchReport{Job: string(job)}
	var mu sync.Mutex
	runWallet := func(ctx context.Context, w holdings.Wallet) error {
		report, err := r.runWallet(ctx, job, w, cfg)
		mu.Lock()
		mergeReport(&total, report)
		mu.Unlock()
		return err
	}

	if cfg.Parallel > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Parallel)
		for _, w := range wallets {
			g.Go(func() error { return runWallet(gctx, w) })
		}
		err := g.Wait()
		return total, err
	}

	for i, w := range wallets {
		if i > 0 {
			if err := r.sleep(ctx, cfg.Delay*10); err != nil {
				return total, err
			}
		}
		if err := runWallet(ctx, w); err != nil {
			return total, err
		}
	}
	return total, nil
}

// runWallet only returns an error when the batch itself must stop.
func (r *Runner) runWallet(ctx context.Context, job Job, w holdings.Wallet, cfg Config) (model.BatchReport, error) {
	s, err := w.Signer()
	if err != nil {
		r.logger().Error("wallet %s skipped: %v", w.Label(), err)
		r.Metrics.BatchObserved(string(job), false)
		return model.BatchReport{
			Job:   string(job),
			Total: 1,
			Fail:  1,
			Operations: []model.BatchOperation{{
				Wallet: w.Label(),
				Job:    string(job),
				Status: StatusFailed,
				Error:  err.Error(),
			}},
		}, nil
	}
	report, err := r.Run(ctx, job, s, cfg)
	if err != nil && ctx.Err() == nil {
		r.logger().Error("wallet %s: %v", w.Label(), err)
		err = nil
	}
	return report, err
}

func (r *Runner) swapNative(ctx context.Context, s signer.Signer, cfg Config, report *model.BatchReport) error {
	wallet := s.Address()
	hs, err := r.Source.Holdings(ctx, wallet)
	if err != nil {
		return err
	}
	hs = holdings.Filter{
		MinValueUSD:   cfg.MinValueUSD,
		Chains:        cfg.chainFilter(),
		TokensOnly:    true,
		ExcludeStable: cfg.ExcludeStable,
	}.Apply(hs)
	r.logger().Info("checking %s | %d token holding(s) to swap", wallet.Hex(), len(hs))

	for _, h := range hs {
		op := newOperation(wallet, JobSwapNative, h)
		balance, err := r.tokenBalance(ctx, h.ChainID, h.Address(), wallet)
		if err != nil {
			r.record(report, r.fail(op, err))
			continue
		}
		if balance.Sign() == 0 {
			op.Status, op.Reason = StatusSkipped, "zero on-chain balance"
			r.record(report, op)
			continue
		}
		if err := r.sleep(ctx, cfg.Delay); err != nil {
			return err
		}
		intent := route.MoveIntent{
			WalletAddress: wallet,
			SourceChainID: h.ChainID,
			DestChainID:   h.ChainID,
			SourceToken:   h.Address(),
			DestToken:     route.NativeZero,
			Amount:        balance,
			SlippageBps:   cfg.SlippageBps,
		}
		r.record(report, r.move(ctx, s, intent, op))
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (r *Runner) bridgeNative(ctx context.Context, s signer.Signer, cfg Config, report *model.BatchReport) error {
	if cfg.DestChainID <= 0 {
		return clierr.New(clierr.CodeUsage, "bridge-native requires a destination chain")
	}
	wallet := s.Address()
	hs, err := r.Source.Holdings(ctx, wallet)
	if err != nil {
		return err
	}
	hs = holdings.Filter{
		MinValueUSD:  cfg.MinValueUSD,
		Chains:       cfg.chainFilter(),
		NativeOnly:   true,
		ExcludeChain: cfg.DestChainID,
	}.Apply(hs)
	r.logger().Info("bridging %s | target chain %d | %d native holding(s)", wallet.Hex(), cfg.DestChainID, len(hs))

	for _, h := range hs {
		op := newOperation(wallet, JobBridgeNative, h)
		amount, reserve, err := r.bridgeableNative(ctx, h.ChainID, wallet, cfg)
		if err != nil {
			r.record(report, r.fail(op, err))
			continue
		}
		if amount.Sign() <= 0 {
			op.Status = StatusSkipped
			op.Reason = fmt.Sprintf("balance does not cover gas reserve %s", reserve)
			r.logger().InfoWithChain(h.ChainID, "skip %s: %s", h.Symbol, op.Reason)
			r.record(report, op)
			continue
		}
		if err := r.sleep(ctx, cfg.Delay); err != nil {
			return err
		}
		intent := route.MoveIntent{
			WalletAddress: wallet,
			SourceChainID: h.ChainID,
			DestChainID:   cfg.DestChainID,
			SourceToken:   route.NativeZero,
			DestToken:     route.NativeZero,
			Amount:        amount,
			SlippageBps:   cfg.SlippageBps,
		}
		r.record(report, r.move(ctx, s, intent, op))
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// bridgeableNative returns balance minus the gas reserve (possibly <= 0)
// and the reserve itself.
func (r *Runner) bridgeableNative(ctx context.Context, chainID int64, wallet common.Address, cfg Config) (*big.Int, *big.Int, error) {
	client, err := r.Clients.Dial(ctx, chainID)
	if err != nil {
		return nil, nil, err
	}
	defer client.Close()
	balance, err := client.BalanceAt(ctx, wallet, nil)
	if err != nil {
		return nil, nil, clierr.Wrap(clierr.CodeUnavailable, "read native balance", err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, nil, clierr.Wrap(clierr.CodeUnavailable, "suggest gas price", err)
	}
	reserve := new(big.Int).Mul(gasPrice, big.NewInt(cfg.ReservePercent))
	reserve.Div(reserve, big.NewInt(100))
	reserve.Mul(reserve, new(big.Int).SetUint64(cfg.GasReserve))
	return new(big.Int).Sub(balance, reserve), reserve, nil
}

func (r *Runner) tokenBalance(ctx context.Context, chainID int64, token, wallet common.Address) (*big.Int, error) {
	client, err := r.Clients.Dial(ctx, chainID)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return execution.ReadBalance(ctx, client, token, wallet)
}

// move quotes and executes one intent, never returning an error: the
// outcome is captured in the operation.
func (r *Runner) move(ctx context.Context, s signer.Signer, intent route.MoveIntent, op model.BatchOperation) model.BatchOperation {
	op.Amount = intent.Amount.String()
	label := fmt.Sprintf("[%s] %s (%.2f USD)", chainLabel(intent.SourceChainID), op.Symbol, op.ValueUSD)

	rt, err := r.Adapter.GetQuote(ctx, intent)
	if err != nil {
		r.logger().ErrorWithChain(intent.SourceChainID, "%s | quote failed: %v", label, err)
		return r.fail(op, err)
	}

	run := execution.NewRun(rt)
	run.Status = execution.RunStatusRunning
	op.RunID = run.RunID
	r.saveRun(run)

	results, err := r.Adapter.Execute(ctx, s, rt)
	run.Finish(results, err)
	r.saveRun(run)
	op.LastTx, _ = run.LastTxHash()

	if err != nil {
		r.logger().ErrorWithChain(intent.SourceChainID, "%s | %v", label, err)
		return r.fail(op, err)
	}
	op.Status = StatusSuccess
	r.logger().NoticeWithChain(intent.SourceChainID, "%s | TX: %s", label, op.LastTx)
	return op
}

func (r *Runner) saveRun(run execution.Run) {
	if r.Store == nil {
		return
	}
	if err := r.Store.Save(run); err != nil {
		r.logger().Error("persist run %s: %v", run.RunID, err)
	}
}

func (r *Runner) fail(op model.BatchOperation, err error) model.BatchOperation {
	op.Status = StatusFailed
	op.Error = err.Error()
	return op
}

func (r *Runner) record(report *model.BatchReport, op model.BatchOperation) {
	report.Operations = append(report.Operations, op)
	report.Total++
	switch op.Status {
	case StatusSuccess:
		report.Success++
		r.Metrics.BatchObserved(op.Job, true)
	case StatusFailed:
		report.Fail++
		r.Metrics.BatchObserved(op.Job, false)
	default:
		report.Skipped++
	}
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Runner) logger() logger.Logger { return logger.OrEmpty(r.Log) }

func newOperation(wallet common.Address, job Job, h holdings.Holding) model.BatchOperation {
	return model.BatchOperation{
		Wallet:   wallet.Hex(),
		Job:      string(job),
		ChainID:  h.ChainID,
		Token:    h.Token,
		Symbol:   h.Symbol,
		ValueUSD: h.ValueUSD,
	}
}

func mergeReport(dst *model.BatchReport, src model.BatchReport) {
	dst.Total += src.Total
	dst.Success += src.Success
	dst.Fail += src.Fail
	dst.Skipped += src.Skipped
	dst.Operations = append(dst.Operations, src.Operations...)
}

func chainLabel(chainID int64) string {
	if chain, ok := id.ChainByID(chainID); ok {
		return chain.Name
	}
	return fmt.Sprintf("ID:%d", chainID)
}
