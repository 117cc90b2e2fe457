package execution

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ggonzalez94/bridgectl/internal/registry"
)

// fakeChain is an in-memory ChainClient. Transactions to addresses in
// reverting get a failed receipt.
type fakeChain struct {
	mu sync.Mutex

	chainID   int64
	nonce     uint64
	gasPrice  *big.Int
	tipCap    *big.Int
	baseFee   *big.Int
	estimate  uint64
	allowance *big.Int
	balance   *big.Int
	reverting map[common.Address]bool
	noReceipt bool
	sendErr   error

	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
	closed   bool
}

func newFakeChain(chainID int64) *fakeChain {
	return &fakeChain{
		chainID:   chainID,
		nonce:     7,
		gasPrice:  big.NewInt(1_000_000_000),
		estimate:  100_000,
		allowance: new(big.Int),
		balance:   big.NewInt(0),
		reverting: map[common.Address]bool{},
		receipts:  map[common.Hash]*types.Receipt{},
	}
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(f.chainID), nil
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	if f.tipCap == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(f.tipCap), nil
}

// HeaderByNumber reports no base fee unless baseFee is set, so envelopes
// default to legacy.
func (f *fakeChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	head := &types.Header{Number: big.NewInt(1)}
	if f.baseFee != nil {
		head.BaseFee = new(big.Int).Set(f.baseFee)
	}
	return head, nil
}

func (f *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.estimate, nil
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(msg.Data) < 4 {
		return nil, errors.New("short calldata")
	}
	method, err := registry.ERC20ABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "allowance":
		return method.Outputs.Pack(f.allowance)
	case "balanceOf":
		return method.Outputs.Pack(f.balance)
	}
	return nil, errors.New("unsupported call " + method.Name)
}

func (f *fakeChain) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	f.nonce++
	status := types.ReceiptStatusSuccessful
	if tx.To() != nil && f.reverting[*tx.To()] {
		status = types.ReceiptStatusFailed
	}
	if approve := registry.ERC20ABI.Methods["approve"]; status == types.ReceiptStatusSuccessful && bytes.HasPrefix(tx.Data(), approve.ID) {
		args, err := approve.Inputs.Unpack(tx.Data()[4:])
		if err == nil && len(args) == 2 {
			f.allowance = args[1].(*big.Int)
		}
	}
	f.receipts[tx.Hash()] = &types.Receipt{Status: status, TxHash: tx.Hash()}
	return nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noReceipt {
		return nil, ethereum.NotFound
	}
	receipt, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (f *fakeChain) Close() { f.closed = true }

func (f *fakeChain) sentTxs() []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Transaction(nil), f.sent...)
}

func (f *fakeChain) source() ClientSource {
	return ClientSourceFunc(func(_ context.Context, chainID int64) (ChainClient, error) {
		if chainID != f.chainID {
			return nil, errors.New("unknown chain")
		}
		return f, nil
	})
}
