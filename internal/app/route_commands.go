package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/bridgectl/internal/errors"
	"github.com/ggonzalez94/bridgectl/internal/execution"
	execsigner "github.com/ggonzalez94/bridgectl/internal/execution/signer"
	"github.com/ggonzalez94/bridgectl/internal/id"
	"github.com/ggonzalez94/bridgectl/internal/model"
	"github.com/ggonzalez94/bridgectl/internal/providers"
	"github.com/ggonzalez94/bridgectl/internal/route"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// routeStatusView is what status reports for a persisted run.
type routeStatusView struct {
	RunID     string              `json:"run_id"`
	Provider  string              `json:"provider"`
	RunStatus execution.RunStatus `json:"run_status"`
	ChainID   int64               `json:"chain_id"`
	TxHash    string              `json:"tx_hash"`
	Status    string              `json:"status"`
	Substatus string              `json:"substatus,omitempty"`
	Message   string              `json:"message,omitempty"`
	DestTx    string              `json:"dest_tx_hash,omitempty"`
	Terminal  bool                `json:"terminal"`
	Result    route.ResultStatus  `json:"result,omitempty"`
}

func bindIntentFlags(fs *pflag.FlagSet, args *intentArgs) {
	fs.StringVar(&args.from, "from", "", "Source chain")
	fs.StringVar(&args.to, "to", "", "Destination chain (defaults to --from)")
	fs.StringVar(&args.asset, "asset", "", "Asset on source chain")
	fs.StringVar(&args.toAsset, "to-asset", "", "Destination asset (defaults to the source symbol)")
	fs.StringVar(&args.amount, "amount", "", "Amount in base units")
	fs.StringVar(&args.amountDec, "amount-decimal", "", "Amount in decimal units")
	fs.StringVar(&args.recipient, "recipient", "", "Recipient address (defaults to the wallet)")
	fs.Int64Var(&args.slippageBps, "slippage-bps", 50, "Max slippage in basis points")
	fs.StringVar(&args.tradeType, "trade-type", string(route.TradeExactInput), "Trade type (EXACT_INPUT|EXACT_OUTPUT)")
}

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	var providerArg string
	var args intentArgs
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote a bridge or swap route",
		RunE: func(cmd *cobra.Command, _ []string) error {
			intent, fromAsset, toAsset, err := buildIntent(args)
			if err != nil {
				return err
			}
			adapter, err := s.adapter(providerArg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			start := time.Now()
			r, err := adapter.GetQuote(ctx, intent)
			statuses := []model.ProviderStatus{{Name: adapter.Info().Name, Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
			s.lastProviders = statuses
			if err != nil {
				return err
			}
			summary := summarizeRoute(r, fromAsset, toAsset, s.runner.now())
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), summary, nil, cacheMetaBypass(), statuses)
		},
	}
	cmd.Flags().StringVar(&providerArg, "provider", "relay", "Route provider (relay|lifi)")
	cmd.Flags().StringVar(&args.wallet, "wallet", "", "Wallet address that would execute the route")
	bindIntentFlags(cmd.Flags(), &args)
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("asset")
	_ = cmd.MarkFlagRequired("wallet")
	return cmd
}

func (s *runtimeState) newRunCommand() *cobra.Command {
	var providerArg, signerArg, keySource, confirmAddress string
	var yes bool
	var args intentArgs
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Quote and execute a bridge or swap route",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return clierr.New(clierr.CodeUsage, "run requires --yes")
			}
			txSigner, err := newExecutionSigner(signerArg, keySource, confirmAddress)
			if err != nil {
				return err
			}
			if strings.TrimSpace(args.wallet) == "" {
				args.wallet = txSigner.Address().Hex()
			}
			intent, _, _, err := buildIntent(args)
			if err != nil {
				return err
			}
			if intent.WalletAddress != txSigner.Address() {
				return clierr.New(clierr.CodeSigner, "signer address does not match --wallet")
			}
			adapter, err := s.adapter(providerArg)
			if err != nil {
				return err
			}
			if err := s.ensureRunStore(); err != nil {
				return err
			}
			run, err := s.quoteAndExecute(adapter, txSigner, intent)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), run, nil, cacheMetaBypass(), s.lastProviders)
		},
	}
	cmd.Flags().StringVar(&providerArg, "provider", "relay", "Route provider (relay|lifi)")
	cmd.Flags().StringVar(&args.wallet, "wallet", "", "Wallet address (defaults to the signer address)")
	bindIntentFlags(cmd.Flags(), &args)
	cmd.Flags().StringVar(&signerArg, "signer", "local", "Signer backend (local)")
	cmd.Flags().StringVar(&keySource, "key-source", execsigner.KeySourceAuto, "Key source (auto|env|file|keystore)")
	cmd.Flags().StringVar(&confirmAddress, "confirm-address", "", "Require signer address to match this value")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm execution")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("asset")
	return cmd
}

// quoteAndExecute persists the run before the first broadcast and again
// with its results, so an interrupted run can still be inspected.
func (s *runtimeState) quoteAndExecute(adapter providers.Adapter, txSigner execsigner.Signer, intent route.MoveIntent) (execution.Run, error) {
	quoteCtx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
	start := time.Now()
	r, err := adapter.GetQuote(quoteCtx, intent)
	cancel()
	s.lastProviders = []model.ProviderStatus{{Name: adapter.Info().Name, Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
	if err != nil {
		return execution.Run{}, err
	}

	run := execution.NewRun(r)
	run.Status = execution.RunStatusRunning
	if err := s.runStore.Save(run); err != nil {
		return execution.Run{}, clierr.Wrap(clierr.CodeInternal, "persist run", err)
	}
	s.log.Notice("run %s: executing %d step(s) via %s", run.RunID, len(r.Steps), r.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	results, execErr := adapter.Execute(ctx, txSigner, r)
	run.Finish(results, execErr)
	if err := s.runStore.Save(run); err != nil {
		return run, clierr.Wrap(clierr.CodeInternal, "persist run", err)
	}
	if execErr != nil {
		s.log.Error("run %s failed: %v", run.RunID, execErr)
		return run, execErr
	}
	s.log.Notice("run %s completed", run.RunID)
	return run, nil
}

func (s *runtimeState) newStatusCommand() *cobra.Command {
	var runID string
	var watch bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report provider-side status of a run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := s.ensureRunStore(); err != nil {
				return err
			}
			run, err := s.runStore.Get(strings.TrimSpace(runID))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load run", err)
			}
			txHash, chainID := run.LastTxHash()
			if txHash == "" {
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("run %s has no submitted transaction", run.RunID))
			}
			adapter, err := s.adapter(run.Provider)
			if err != nil {
				return err
			}
			reader, ok := adapter.(providers.StatusReader)
			if !ok {
				return clierr.New(clierr.CodeUnsupported, fmt.Sprintf("provider %s cannot report status", run.Provider))
			}
			sub := route.SubmittedTx{TxHash: common.HexToHash(txHash), ChainID: chainID}
			fetch := func(ctx context.Context) (execution.ProviderStatus, error) {
				return reader.StatusByTx(ctx, run.Route, sub)
			}

			var status execution.ProviderStatus
			if watch {
				status, err = s.watchStatus(run.RunID, chainID, fetch)
			} else {
				ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
				status, err = fetch(ctx)
				cancel()
			}
			if err != nil {
				return err
			}
			view := routeStatusView{
				RunID:     run.RunID,
				Provider:  run.Provider,
				RunStatus: run.Status,
				ChainID:   chainID,
				TxHash:    txHash,
				Status:    status.Status,
				Substatus: status.Substatus,
				Message:   status.Message,
				DestTx:    status.DestTx,
				Terminal:  status.Terminal(),
			}
			if view.Terminal {
				view.Result = status.ResultStatus()
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), view, nil, cacheMetaBypass(), nil)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "Run identifier")
	cmd.Flags().BoolVar(&watch, "watch", false, "Poll until the provider reports a terminal status")
	_ = cmd.MarkFlagRequired("run-id")
	return cmd
}

func (s *runtimeState) watchStatus(runID string, chainID int64, fetch execution.StatusFetcher) (execution.ProviderStatus, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	poller := execution.StatusPoller{
		Interval:    s.settings.PollInterval,
		MaxAttempts: s.settings.StatusAttempts,
		Log:         s.log,
	}
	if poller.MaxAttempts <= 0 {
		poller.MaxAttempts = 30
	}
	if isTerminal(s.runner.stderr) {
		spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(s.runner.stderr))
		spin.Suffix = fmt.Sprintf(" waiting on %s", runID)
		spin.Start()
		defer spin.Stop()
		poller.Log = nil
		poller.OnPoll = func(status execution.ProviderStatus) {
			spin.Suffix = fmt.Sprintf(" %s: %s", runID, status.Detail())
		}
	}
	return poller.Poll(ctx, chainID, fetch)
}

func (s *runtimeState) newRunsCommand() *cobra.Command {
	root := &cobra.Command{Use: "runs", Short: "Inspect persisted runs"}

	var statusArg string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List persisted runs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status := strings.ToLower(strings.TrimSpace(statusArg))
			switch execution.RunStatus(status) {
			case "", execution.RunStatusQuoted, execution.RunStatusRunning, execution.RunStatusCompleted, execution.RunStatusFailed:
			default:
				return clierr.New(clierr.CodeUsage, "--status must be one of quoted|running|completed|failed")
			}
			if err := s.ensureRunStore(); err != nil {
				return err
			}
			runs, err := s.runStore.List(status, limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list runs", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), runs, nil, cacheMetaBypass(), nil)
		},
	}
	list.Flags().StringVar(&statusArg, "status", "", "Filter by run status")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum runs to return")

	var runID string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show one persisted run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := s.ensureRunStore(); err != nil {
				return err
			}
			run, err := s.runStore.Get(strings.TrimSpace(runID))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load run", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), run, nil, cacheMetaBypass(), nil)
		},
	}
	show.Flags().StringVar(&runID, "run-id", "", "Run identifier")
	_ = show.MarkFlagRequired("run-id")

	root.AddCommand(list)
	root.AddCommand(show)
	return root
}

func summarizeRoute(r route.Route, fromAsset, toAsset id.Asset, now time.Time) model.QuoteSummary {
	fees, total := providers.FeeSummary(r)
	summary := model.QuoteSummary{
		Provider:    r.Provider,
		FromChainID: strconv.FormatInt(r.Intent.SourceChainID, 10),
		ToChainID:   strconv.FormatInt(r.Intent.DestChainID, 10),
		FromToken:   strings.ToLower(r.Intent.SourceToken.Hex()),
		ToToken:     strings.ToLower(r.Intent.DestToken.Hex()),
		InputAmount: model.AmountInfo{
			AmountBaseUnits: r.Intent.Amount.String(),
			AmountDecimal:   id.FormatDecimalCompat(r.Intent.Amount.String(), decimalsOr18(fromAsset.Decimals)),
			Decimals:        decimalsOr18(fromAsset.Decimals),
		},
		EstimatedFeeUSD: total,
		Fees:            fees,
		Steps:           make([]model.StepSummary, 0, len(r.Steps)),
		FetchedAt:       now.UTC().Format(time.RFC3339),
	}
	var estimated model.AmountInfo
	if r.Detail("estimated_out", &estimated) && estimated.AmountBaseUnits != "" {
		if estimated.Decimals == 0 && toAsset.Decimals > 0 {
			estimated.Decimals = toAsset.Decimals
			estimated.AmountDecimal = id.FormatDecimalCompat(estimated.AmountBaseUnits, toAsset.Decimals)
		}
		summary.EstimatedOut = &estimated
	}
	for _, step := range r.Steps {
		item := model.StepSummary{
			ID:          step.ID,
			Kind:        string(step.Kind),
			Description: step.Description,
			HasCheck:    step.Check != nil,
		}
		if step.Tx != nil {
			item.ChainID = step.Tx.ChainID
			item.To = strings.ToLower(step.Tx.To.Hex())
			if step.Tx.Value != nil {
				item.Value = step.Tx.Value.String()
			}
		}
		summary.Steps = append(summary.Steps, item)
	}
	return summary
}

func decimalsOr18(d int) int {
	if d <= 0 {
		return 18
	}
	return d
}
