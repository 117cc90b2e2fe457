package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	clierr "github.com/ggonzalez94/bridgectl/internal/errors"
	"github.com/ggonzalez94/bridgectl/internal/logger"
	"github.com/ggonzalez94/bridgectl/internal/registry"
)

// RPCDialer resolves a chain to a healthy endpoint. The primary URL gets
// PrimaryAttempts tries, every fallback one try.
type RPCDialer struct {
	Overrides       map[int64][]string
	PrimaryAttempts int
	ProbeTimeout    time.Duration
	RetryPause      time.Duration
	Log             logger.Logger

	dial func(ctx context.Context, url string) (ChainClient, error)
}

func NewRPCDialer(overrides map[int64][]string, log logger.Logger) *RPCDialer {
	return &RPCDialer{
		Overrides:       overrides,
		PrimaryAttempts: 3,
		ProbeTimeout:    5 * time.Second,
		RetryPause:      2 * time.Second,
		Log:             logger.OrEmpty(log),
	}
}

func (d *RPCDialer) Dial(ctx context.Context, chainID int64) (ChainClient, error) {
	urls, err := registry.ResolveRPCURLs(d.Overrides[chainID], chainID)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	log := logger.OrEmpty(d.Log)
	primaryAttempts := d.PrimaryAttempts
	if primaryAttempts <= 0 {
		primaryAttempts = 1
	}

	var failures []string
	for i, url := range urls {
		tries := 1
		if i == 0 {
			tries = primaryAttempts
		}
		for attempt := 1; attempt <= tries; attempt++ {
			client, err := d.probe(ctx, url, chainID)
			if err == nil {
				if i > 0 {
					log.NoticeWithChain(chainID, "using fallback rpc %s", url)
				}
				return client, nil
			}
			failures = append(failures, fmt.Sprintf("%s: %v", url, err))
			log.DebugWithChain(chainID, "rpc %s unhealthy (attempt %d/%d): %v", url, attempt, tries, err)
			if ctx.Err() != nil {
				return nil, clierr.Wrap(clierr.CodeUnavailable, "rpc dial cancelled", ctx.Err())
			}
			if attempt < tries {
				if err := sleepCtx(ctx, d.RetryPause); err != nil {
					return nil, clierr.Wrap(clierr.CodeUnavailable, "rpc dial cancelled", err)
				}
			}
		}
	}
	return nil, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("no healthy rpc for chain %d: %s", chainID, strings.Join(failures, "; ")))
}

func (d *RPCDialer) probe(ctx context.Context, url string, chainID int64) (ChainClient, error) {
	timeout := d.ProbeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dial := d.dial
	if dial == nil {
		dial = func(ctx context.Context, url string) (ChainClient, error) {
			return ethclient.DialContext(ctx, url)
		}
	}
	client, err := dial(probeCtx, url)
	if err != nil {
		return nil, err
	}
	got, err := client.ChainID(probeCtx)
	if err != nil {
		client.Close()
		return nil, err
	}
	if got.Int64() != chainID {
		client.Close()
		return nil, fmt.Errorf("chain id mismatch: expected %d, got %s", chainID, got)
	}
	return client, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
