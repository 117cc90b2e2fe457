package execution

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ChainClient is the JSON-RPC surface the engine needs from one chain.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

var _ ChainClient = (*ethclient.Client)(nil)

// ClientSource hands out a fresh client per call; the caller closes it.
type ClientSource interface {
	Dial(ctx context.Context, chainID int64) (ChainClient, error)
}

type ClientSourceFunc func(ctx context.Context, chainID int64) (ChainClient, error)

func (f ClientSourceFunc) Dial(ctx context.Context, chainID int64) (ChainClient, error) {
	return f(ctx, chainID)
}

// clientSet keeps one client per chain for the duration of one route.
type clientSet struct {
	source  ClientSource
	clients map[int64]ChainClient
}

func newClientSet(source ClientSource) *clientSet {
	return &clientSet{source: source, clients: map[int64]ChainClient{}}
}

func (s *clientSet) get(ctx context.Context, chainID int64) (ChainClient, error) {
	if c, ok := s.clients[chainID]; ok {
		return c, nil
	}
	c, err := s.source.Dial(ctx, chainID)
	if err != nil {
		return nil, err
	}
	s.clients[chainID] = c
	return c, nil
}

func (s *clientSet) close() {
	for id, c := range s.clients {
		c.Close()
		delete(s.clients, id)
	}
}
