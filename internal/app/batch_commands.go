package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/bridgectl/internal/errors"
	"github.com/ggonzalez94/bridgectl/internal/holdings"
	"github.com/ggonzalez94/bridgectl/internal/id"
	"github.com/ggonzalez94/bridgectl/internal/tasks"
	"github.com/spf13/cobra"
)

func (s *runtimeState) newBatchCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "batch",
		Short: "Run a batch job over the wallets of a holdings file",
	}
	for _, job := range []tasks.Job{tasks.JobSwapNative, tasks.JobBridgeNative, tasks.JobSwapAndBridge} {
		root.AddCommand(s.newBatchJobCommand(job))
	}
	return root
}

func (s *runtimeState) newBatchJobCommand(job tasks.Job) *cobra.Command {
	var providerArg, holdingsPath, walletsArg, chainsArg, toArg string
	var minValue float64
	var excludeStable, yes bool
	var slippageBps int64
	var parallel int
	var delay, stagePause time.Duration

	short := map[tasks.Job]string{
		tasks.JobSwapNative:    "Swap every eligible token holding into the chain's native asset",
		tasks.JobBridgeNative:  "Bridge native balances above the gas reserve to one destination chain",
		tasks.JobSwapAndBridge: "Swap tokens to native, pause, then bridge native balances",
	}[job]

	cmd := &cobra.Command{
		Use:   string(job),
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("batch %s requires --yes", job))
			}
			cfg := tasks.Config{
				MinValueUSD:   minValue,
				ExcludeStable: excludeStable,
				SlippageBps:   slippageBps,
				Delay:         delay,
				StagePause:    stagePause,
				Parallel:      parallel,
			}
			if cfg.Delay <= 0 {
				cfg.Delay = s.settings.OperationDelay
			}
			if strings.TrimSpace(chainsArg) != "" {
				chains, err := id.ParseChainList(chainsArg)
				if err != nil {
					return err
				}
				for _, c := range chains {
					cfg.Chains = append(cfg.Chains, c.EVMChainID)
				}
			}
			if job != tasks.JobSwapNative {
				if strings.TrimSpace(toArg) == "" {
					return clierr.New(clierr.CodeUsage, fmt.Sprintf("batch %s requires --to", job))
				}
				dest, err := id.ParseChain(toArg)
				if err != nil {
					return err
				}
				cfg.DestChainID = dest.EVMChainID
			}

			file, err := holdings.Load(holdingsPath)
			if err != nil {
				return err
			}
			wallets, err := file.Select(splitCSV(walletsArg))
			if err != nil {
				return err
			}
			adapter, err := s.adapter(providerArg)
			if err != nil {
				return err
			}
			if err := s.ensureRunStore(); err != nil {
				return err
			}

			runner := &tasks.Runner{
				Adapter: adapter,
				Clients: s.dialer,
				Source:  file,
				Store:   s.runStore,
				Log:     s.log,
				Metrics: s.metrics,
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			report, err := runner.Batch(ctx, job, wallets, cfg)
			if err != nil {
				return err
			}
			var warnings []string
			if report.Fail > 0 {
				warnings = append(warnings, fmt.Sprintf("%d operation(s) failed", report.Fail))
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), report, warnings, cacheMetaBypass(), nil)
		},
	}
	cmd.Flags().StringVar(&providerArg, "provider", "relay", "Route provider (relay|lifi)")
	cmd.Flags().StringVar(&holdingsPath, "holdings", "", "Path to the YAML holdings file")
	cmd.Flags().StringVar(&walletsArg, "wallets", "", "Wallet names or addresses to include (comma-separated, default all)")
	cmd.Flags().StringVar(&chainsArg, "chains", "", "Only touch these chains (comma-separated)")
	cmd.Flags().Float64Var(&minValue, "min-value", 0, "Skip holdings worth less than this many USD")
	cmd.Flags().Int64Var(&slippageBps, "slippage-bps", tasks.DefaultSlippageBps, "Max slippage in basis points")
	cmd.Flags().IntVar(&parallel, "parallel", 1, "Wallets to run concurrently")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Pause between operations (default from config)")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm execution")
	if job != tasks.JobBridgeNative {
		cmd.Flags().BoolVar(&excludeStable, "exclude-stable", false, "Leave stablecoin holdings untouched")
	}
	if job != tasks.JobSwapNative {
		cmd.Flags().StringVar(&toArg, "to", "", "Destination chain for bridged native balances")
	}
	if job == tasks.JobSwapAndBridge {
		cmd.Flags().DurationVar(&stagePause, "stage-pause", tasks.DefaultStagePause, "Pause between the swap and bridge stages")
	}
	_ = cmd.MarkFlagRequired("holdings")
	return cmd
}
