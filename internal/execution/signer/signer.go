package signer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signer holds the key for exactly one route execution. Implementations
// never persist key material.
type Signer interface {
	Address() common.Address
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
	// SignPersonalMessage returns a 65 byte eip191 signature with v in {27,28}.
	SignPersonalMessage(message []byte) ([]byte, error)
}
