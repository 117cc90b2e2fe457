package execution

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/ggonzalez94/bridgectl/internal/errors"
	"github.com/ggonzalez94/bridgectl/internal/route"
)

const (
	DefaultGasLimitPercent = 110
	DefaultGasPricePercent = 120
	MinGasLimitPercent     = 110
	MaxGasLimitPercent     = 120
)

// GasPolicy derives envelope fields from the chain. Provider supplied gas
// values are never read.
type GasPolicy struct {
	GasLimitPercent int64
	GasPricePercent int64
}

func DefaultGasPolicy() GasPolicy {
	return GasPolicy{GasLimitPercent: DefaultGasLimitPercent, GasPricePercent: DefaultGasPricePercent}
}

func (p GasPolicy) normalized() GasPolicy {
	if p.GasLimitPercent < MinGasLimitPercent {
		p.GasLimitPercent = MinGasLimitPercent
	}
	if p.GasLimitPercent > MaxGasLimitPercent {
		p.GasLimitPercent = MaxGasLimitPercent
	}
	if p.GasPricePercent < 100 {
		p.GasPricePercent = DefaultGasPricePercent
	}
	return p
}

// Envelope is the unsigned transaction plus the values it was derived from.
// GasPrice is the fee cap for dynamic fee envelopes; GasTipCap is nil for
// legacy ones.
type Envelope struct {
	Tx          *types.Transaction
	Nonce       uint64
	GasPrice    *big.Int
	GasTipCap   *big.Int
	GasEstimate uint64
	GasLimit    uint64
}

// buildEnvelope must run while the caller holds the nonce lock for from.
func (p GasPolicy) buildEnvelope(ctx context.Context, client ChainClient, chainID int64, from common.Address, payload route.TxPayload) (Envelope, error) {
	p = p.normalized()
	value := payload.Value
	if value == nil {
		value = new(big.Int)
	}
	to := payload.To

	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return Envelope{}, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}
	suggested, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return Envelope{}, clierr.Wrap(clierr.CodeUnavailable, "fetch gas price", err)
	}
	gasPrice := scalePercent(suggested, p.GasPricePercent)

	// A chain that reports a base fee gets a dynamic fee envelope capped at
	// the same scaled price a legacy envelope would pay.
	head, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return Envelope{}, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	var tipCap *big.Int
	if head != nil && head.BaseFee != nil {
		tipCap, err = client.SuggestGasTipCap(ctx)
		if err != nil {
			return Envelope{}, clierr.Wrap(clierr.CodeUnavailable, "fetch gas tip cap", err)
		}
		if tipCap.Cmp(gasPrice) > 0 {
			tipCap = new(big.Int).Set(gasPrice)
		}
	}

	msg := ethereum.CallMsg{From: from, To: &to, Value: value, Data: payload.Data}
	if tipCap != nil {
		msg.GasFeeCap, msg.GasTipCap = gasPrice, tipCap
	} else {
		msg.GasPrice = gasPrice
	}
	estimate, err := client.EstimateGas(ctx, msg)
	if err != nil {
		code := clierr.CodeUnavailable
		if isRevertError(err) {
			code = clierr.CodeTransactionReverted
		}
		return Envelope{}, wrapEVMExecutionError(code, "estimate gas", err)
	}
	gasLimit := scalePercent(new(big.Int).SetUint64(estimate), p.GasLimitPercent).Uint64()

	var inner types.TxData = &types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    value,
		Data:     payload.Data,
	}
	if tipCap != nil {
		inner = &types.DynamicFeeTx{
			ChainID:   big.NewInt(chainID),
			Nonce:     nonce,
			GasTipCap: tipCap,
			GasFeeCap: gasPrice,
			Gas:       gasLimit,
			To:        &to,
			Value:     value,
			Data:      payload.Data,
		}
	}
	return Envelope{Tx: types.NewTx(inner), Nonce: nonce, GasPrice: gasPrice, GasTipCap: tipCap, GasEstimate: estimate, GasLimit: gasLimit}, nil
}

func scalePercent(v *big.Int, percent int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(percent))
	return out.Quo(out, big.NewInt(100))
}
