package route

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultSuccess   ResultStatus = "success"
	ResultFailed    ResultStatus = "failed"
	ResultRefund    ResultStatus = "refund"
)

// StepResult is the terminal outcome of one processed step.
type StepResult struct {
	StepID               string       `json:"step_id"`
	Status               ResultStatus `json:"status"`
	ChainID              int64        `json:"chain_id,omitempty"`
	TxHash               string       `json:"tx_hash,omitempty"`
	ApprovalTxHash       string       `json:"approval_tx_hash,omitempty"`
	Signature            string       `json:"signature,omitempty"`
	Error                string       `json:"error,omitempty"`
	ProviderStatusDetail string       `json:"provider_status_detail,omitempty"`
}

func (r StepResult) Failed() bool { return r.Status == ResultFailed }

// SubmittedTx tracks a broadcast transaction until its receipt is final.
type SubmittedTx struct {
	StepID  string      `json:"step_id"`
	TxHash  common.Hash `json:"tx_hash"`
	ChainID int64       `json:"chain_id"`
}

var (
	NativeZero = common.Address{}
	NativeEeee = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")
)

// IsNative reports whether token denotes a chain's gas asset.
func IsNative(token common.Address) bool {
	return token == NativeZero || token == NativeEeee
}

// ParseBaseUnits reads a non-negative integer amount. A leading 0x selects
// hexadecimal, anything else is decimal. Empty input is zero.
func ParseBaseUnits(raw string) (*big.Int, error) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return new(big.Int), nil
	}
	base := 10
	digits := clean
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		base = 16
		digits = clean[2:]
		if digits == "" {
			return new(big.Int), nil
		}
	}
	out, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return nil, fmt.Errorf("cannot parse base units from %q", raw)
	}
	if out.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", raw)
	}
	return out, nil
}
