package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/ggonzalez94/bridgectl/internal/errors"
	"github.com/ggonzalez94/bridgectl/internal/logger"
)

const DefaultPollInterval = 5 * time.Second

// ReceiptWaiter polls for a receipt with a fixed interval and attempt cap.
type ReceiptWaiter struct {
	Interval    time.Duration
	MaxAttempts int
	// AssumeSuccessOnExhaustion returns a synthetic successful receipt when
	// no receipt shows up in time instead of failing with TimeoutExhausted.
	AssumeSuccessOnExhaustion bool
	Log                       logger.Logger
}

func (w ReceiptWaiter) Wait(ctx context.Context, client ChainClient, chainID int64, hash common.Hash) (*types.Receipt, error) {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	attempts := w.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	log := logger.OrEmpty(w.Log)

	for attempt := 1; attempt <= attempts; attempt++ {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			log.DebugWithChain(chainID, "receipt %s not available (attempt %d/%d): %v", hash.Hex(), attempt, attempts, err)
		}
		if attempt == attempts {
			break
		}
		if err := sleepCtx(ctx, interval); err != nil {
			return nil, clierr.Wrap(clierr.CodeTimeoutExhausted, "receipt wait cancelled", err)
		}
	}

	if w.AssumeSuccessOnExhaustion {
		log.NoticeWithChain(chainID, "no receipt for %s after %d attempts, assuming success", hash.Hex(), attempts)
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash}, nil
	}
	return nil, clierr.New(clierr.CodeTimeoutExhausted, fmt.Sprintf("no receipt for %s after %d attempts", hash.Hex(), attempts))
}
