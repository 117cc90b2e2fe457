package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ggonzalez94/bridgectl/internal/cache"
	"github.com/ggonzalez94/bridgectl/internal/config"
	clierr "github.com/ggonzalez94/bridgectl/internal/errors"
	"github.com/ggonzalez94/bridgectl/internal/execution"
	"github.com/ggonzalez94/bridgectl/internal/httpx"
	"github.com/ggonzalez94/bridgectl/internal/logger"
	"github.com/ggonzalez94/bridgectl/internal/metrics"
	"github.com/ggonzalez94/bridgectl/internal/model"
	"github.com/ggonzalez94/bridgectl/internal/out"
	"github.com/ggonzalez94/bridgectl/internal/providers"
	"github.com/ggonzalez94/bridgectl/internal/providers/factory"
	"github.com/ggonzalez94/bridgectl/internal/providers/lifi"
	"github.com/ggonzalez94/bridgectl/internal/providers/relay"
	"github.com/ggonzalez94/bridgectl/internal/version"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner        *Runner
	flags         config.GlobalFlags
	settings      config.Settings
	cache         *cache.Store
	runStore      *execution.Store
	root          *cobra.Command
	lastCommand   string
	lastProviders []model.ProviderStatus

	log          logger.Logger
	metrics      *metrics.Metrics
	registry     *prometheus.Registry
	stopMetrics  context.CancelFunc
	http         *httpx.Client
	dialer       *execution.RPCDialer
	onTransition func(stepID string, state execution.StepState)
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	if err != nil {
		state.renderError("", err, state.lastProviders)
	}
	state.close()
	if err != nil {
		return clierr.ExitCode(err)
	}
	return 0
}

func (s *runtimeState) close() {
	if s.stopMetrics != nil {
		s.stopMetrics()
	}
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.runStore != nil {
		_ = s.runStore.Close()
	}
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Quote and execute cross-chain bridge and swap routes",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.lastCommand = trimRootPath(cmd.CommandPath())
			return s.initRuntime(s.lastCommand)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	pf := cmd.PersistentFlags()
	pf.BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	pf.BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	pf.StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated)")
	pf.BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	pf.StringVar(&s.flags.Timeout, "timeout", "", "Provider request timeout")
	pf.IntVar(&s.flags.Retries, "retries", -1, "Retries per provider request")
	pf.StringVar(&s.flags.MaxStale, "max-stale", "", "Maximum stale fallback window after TTL expiry")
	pf.BoolVar(&s.flags.NoStale, "no-stale", false, "Reject stale cache entries")
	pf.BoolVar(&s.flags.NoCache, "no-cache", false, "Disable cache reads and writes")
	pf.StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	pf.StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug|info|notice|error)")
	pf.BoolVar(&s.flags.NoColor, "no-color", false, "Disable colored log output")
	pf.StringVar(&s.flags.MetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address while running")
	pf.StringArrayVar(&s.flags.RPCURLs, "rpc", nil, "RPC endpoint override <chain id>=<url>[,<fallback>] (repeatable)")
	pf.BoolVar(&s.flags.Testnet, "testnet", false, "Use the Relay testnet API")
	pf.BoolVar(&s.flags.AssumeSuccess, "assume-success-on-timeout", false, "Treat a transaction whose receipt never arrives as successful")

	cmd.AddCommand(s.newProvidersCommand())
	cmd.AddCommand(s.newChainsCommand())
	cmd.AddCommand(s.newPriceCommand())
	cmd.AddCommand(s.newQuoteCommand())
	cmd.AddCommand(s.newRunCommand())
	cmd.AddCommand(s.newStatusCommand())
	cmd.AddCommand(s.newRunsCommand())
	cmd.AddCommand(s.newBatchCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// initRuntime builds the shared collaborators once per invocation.
func (s *runtimeState) initRuntime(path string) error {
	if s.log == nil {
		level, err := logger.ParseLevel(s.settings.LogLevel)
		if err != nil {
			return clierr.Wrap(clierr.CodeUsage, "parse log level", err)
		}
		colored := !s.settings.NoColor && isTerminal(s.runner.stderr)
		s.log = logger.NewStdLogger(s.runner.stderr, colored, level)
	}
	if s.metrics == nil {
		s.registry = prometheus.NewRegistry()
		s.metrics = metrics.New(s.registry)
		if addr := strings.TrimSpace(s.settings.MetricsAddr); addr != "" {
			ctx, cancel := context.WithCancel(context.Background())
			s.stopMetrics = cancel
			go func() {
				if err := metrics.Serve(ctx, addr, s.registry); err != nil {
					s.log.Error("metrics endpoint: %v", err)
				}
			}()
		}
	}
	if s.http == nil {
		s.http = httpx.New(s.settings.Timeout, s.settings.Retries,
			httpx.WithBackoffUnit(s.settings.RetryUnit),
			httpx.WithUserAgent(version.CLIName+"/"+version.CLIVersion),
			httpx.WithRetryHook(func(host string, attempt int, err error) {
				s.metrics.HTTPRetry(host)
				s.log.Debug("retrying %s (attempt %d): %v", host, attempt, err)
			}),
		)
	}
	if s.dialer == nil {
		s.dialer = execution.NewRPCDialer(s.settings.RPCURLs, s.log)
	}
	if s.onTransition == nil {
		s.onTransition = func(stepID string, state execution.StepState) {
			s.log.Debug("step %s -> %s", stepID, state)
		}
	}
	if s.settings.CacheEnabled && shouldOpenCache(path) && s.cache == nil {
		cacheStore, err := cache.Open(s.settings.CachePath, s.settings.CacheLockPath)
		if err != nil {
			return clierr.Wrap(clierr.CodeInternal, "open cache", err)
		}
		s.cache = cacheStore
	}
	return nil
}

func (s *runtimeState) executionConfig() providers.ExecutionConfig {
	return providers.ExecutionConfig{
		Clients: s.dialer,
		Gas: execution.GasPolicy{
			GasLimitPercent: s.settings.GasLimitPercent,
			GasPricePercent: s.settings.GasPricePercent,
		},
		PollInterval:              s.settings.PollInterval,
		ReceiptAttempts:           s.settings.ReceiptAttempts,
		StatusAttempts:            s.settings.StatusAttempts,
		AssumeSuccessOnExhaustion: s.settings.AssumeSuccessOnTimeout,
		Log:                       s.log,
		Metrics:                   s.metrics,
		OnTransition:              s.onTransition,
	}
}

func (s *runtimeState) providerDeps() factory.Deps {
	var appFees []relay.AppFee
	if recipient := strings.TrimSpace(s.settings.RelayAppFeeRecipient); recipient != "" && strings.TrimSpace(s.settings.RelayAppFeeBps) != "" {
		appFees = []relay.AppFee{{Recipient: recipient, Fee: strings.TrimSpace(s.settings.RelayAppFeeBps)}}
	}
	maxStale := s.settings.MaxStale
	if s.settings.NoStale {
		maxStale = 0
	}
	return factory.Deps{
		HTTP:  s.http,
		Cache: s.cache,
		Exec:  s.executionConfig(),
		LiFi: lifi.Config{
			BaseURL:    s.settings.LiFiBaseURL,
			APIKey:     s.settings.LiFiAPIKey,
			Integrator: s.settings.Integrator,
			Fee:        s.settings.IntegratorFee,
		},
		Relay: relay.Config{
			BaseURL:  s.settings.RelayBaseURL,
			Testnet:  s.settings.RelayTestnet,
			APIKey:   s.settings.RelayAPIKey,
			Source:   s.settings.Integrator,
			AppFees:  appFees,
			MaxStale: maxStale,
		},
	}
}

func (s *runtimeState) adapter(name string) (providers.Adapter, error) {
	return factory.Parse(name, s.providerDeps())
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newProvidersCommand() *cobra.Command {
	root := &cobra.Command{Use: "providers", Short: "Provider commands"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List supported route providers and API key metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := factory.All(s.providerDeps())
			if err != nil {
				return err
			}
			infos := make([]model.ProviderInfo, 0, len(all))
			for _, a := range all {
				infos = append(infos, a.Info())
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), infos, nil, cacheMetaBypass(), nil)
		},
	}
	root.AddCommand(list)
	return root
}

func (s *runtimeState) newChainsCommand() *cobra.Command {
	var providerArg string
	var includeDisabled bool
	cmd := &cobra.Command{
		Use:   "chains",
		Short: "List chains supported by a provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.adapter(providerArg)
			if err != nil {
				return err
			}
			lister, ok := a.(providers.ChainLister)
			if !ok {
				return clierr.New(clierr.CodeUnsupported, fmt.Sprintf("provider %s cannot list chains", a.Tag()))
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			start := time.Now()
			chains, err := lister.Chains(ctx)
			statuses := []model.ProviderStatus{{Name: a.Info().Name, Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
			s.lastProviders = statuses
			if err != nil {
				return err
			}
			if !includeDisabled {
				enabled := chains[:0]
				for _, c := range chains {
					if !c.Disabled {
						enabled = append(enabled, c)
					}
				}
				chains = enabled
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), chains, nil, cacheMetaBypass(), statuses)
		},
	}
	cmd.Flags().StringVar(&providerArg, "provider", "relay", "Route provider (relay)")
	cmd.Flags().BoolVar(&includeDisabled, "include-disabled", false, "Include chains the provider has disabled")
	return cmd
}

func (s *runtimeState) newPriceCommand() *cobra.Command {
	var providerArg, chainArg, tokenArg string
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Look up a token's USD price",
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, asset, err := parseChainAsset(chainArg, tokenArg)
			if err != nil {
				return err
			}
			a, err := s.adapter(providerArg)
			if err != nil {
				return err
			}
			pricer, ok := a.(providers.TokenPricer)
			if !ok {
				return clierr.New(clierr.CodeUnsupported, fmt.Sprintf("provider %s cannot price tokens", a.Tag()))
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			start := time.Now()
			price, err := pricer.TokenPrice(ctx, chain.EVMChainID, asset.Address)
			statuses := []model.ProviderStatus{{Name: a.Info().Name, Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
			s.lastProviders = statuses
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), price, nil, cacheMetaBypass(), statuses)
		},
	}
	cmd.Flags().StringVar(&providerArg, "provider", "relay", "Route provider (relay)")
	cmd.Flags().StringVar(&chainArg, "chain", "", "Chain id or name")
	cmd.Flags().StringVar(&tokenArg, "token", "", "Token symbol or address")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, cacheStatus model.CacheStatus, providers []model.ProviderStatus) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Providers: providers,
			Cache:     cacheStatus,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error, providers []model.ProviderStatus) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	typ := "internal_error"
	message := err.Error()
	var data any = []any{}
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
		typ = errorType(cErr.Code)
	}
	if aborted, ok := asAbortError(err); ok {
		data = aborted.Results
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    data,
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
		},
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Providers: providers,
			Cache:     cacheMetaBypass(),
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func errorType(code clierr.Code) string {
	switch code {
	case clierr.CodeUsage:
		return "usage_error"
	case clierr.CodeAuth:
		return "auth_error"
	case clierr.CodeRateLimited:
		return "rate_limited"
	case clierr.CodeUnavailable:
		return "provider_unavailable"
	case clierr.CodeUnsupported:
		return "unsupported"
	case clierr.CodeSigner:
		return "signer_error"
	case clierr.CodeInternal:
		return "internal_error"
	default:
		return code.String()
	}
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		norm := strings.ToLower(strings.TrimSpace(part))
		if norm != "" {
			out = append(out, norm)
		}
	}
	return out
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func statusFromErr(err error) string {
	if err == nil {
		return "ok"
	}
	if cErr, ok := clierr.As(err); ok {
		switch cErr.Code {
		case clierr.CodeAuth:
			return "auth_error"
		case clierr.CodeRateLimited:
			return "rate_limited"
		case clierr.CodeUnavailable:
			return "unavailable"
		case clierr.CodeInvalidRoute:
			return "invalid_route"
		default:
			return "error"
		}
	}
	return "error"
}

func cacheMetaBypass() model.CacheStatus {
	return model.CacheStatus{Status: "bypass", AgeMS: 0, Stale: false}
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// shouldOpenCache limits the sqlite cache to read commands that go through
// the provider lookup cache.
func shouldOpenCache(commandPath string) bool {
	switch normalizeCommandPath(commandPath) {
	case "chains", "price":
		return true
	default:
		return false
	}
}

func normalizeCommandPath(commandPath string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(commandPath))), " ")
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
