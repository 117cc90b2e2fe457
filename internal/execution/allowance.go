package execution

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/bridgectl/internal/registry"
	"github.com/ggonzalez94/bridgectl/internal/route"
)

func ReadAllowance(ctx context.Context, client ChainClient, token, owner, spender common.Address) (*big.Int, error) {
	return callUint256(ctx, client, token, "allowance", owner, spender)
}

// ReadBalance returns the on-chain balance of token for owner; native
// tokens read the account balance.
func ReadBalance(ctx context.Context, client ChainClient, token, owner common.Address) (*big.Int, error) {
	if route.IsNative(token) {
		return client.BalanceAt(ctx, owner, nil)
	}
	return callUint256(ctx, client, token, "balanceOf", owner)
}

func callUint256(ctx context.Context, client ChainClient, token common.Address, method string, args ...interface{}) (*big.Int, error) {
	data, err := registry.ERC20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	decoded, err := registry.ERC20ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	if len(decoded) == 0 {
		return nil, fmt.Errorf("decode %s: empty result", method)
	}
	value, ok := decoded[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("decode %s: unexpected type %T", method, decoded[0])
	}
	return value, nil
}

func approveCalldata(spender common.Address, amount *big.Int) ([]byte, error) {
	return registry.ERC20ABI.Pack("approve", spender, amount)
}

// approveSelector is the 4-byte selector of approve(address,uint256).
var approveSelector = registry.ERC20ABI.Methods["approve"].ID
