package route

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	clierr "github.com/ggonzalez94/bridgectl/internal/errors"
)

type TradeType string

const (
	TradeExactInput  TradeType = "EXACT_INPUT"
	TradeExactOutput TradeType = "EXACT_OUTPUT"
)

// MoveIntent asks for amount base units of SourceToken on SourceChainID to
// end up as DestToken on DestChainID. It is not modified once quoted.
type MoveIntent struct {
	WalletAddress    common.Address `json:"wallet_address"`
	RecipientAddress common.Address `json:"recipient_address"`
	SourceChainID    int64          `json:"source_chain_id"`
	DestChainID      int64          `json:"dest_chain_id"`
	SourceToken      common.Address `json:"source_token"`
	DestToken        common.Address `json:"dest_token"`
	Amount           *big.Int       `json:"amount"`
	SlippageBps      int64          `json:"slippage_bps"`
	TradeType        TradeType      `json:"trade_type"`
}

func (m MoveIntent) Recipient() common.Address {
	if m.RecipientAddress == (common.Address{}) {
		return m.WalletAddress
	}
	return m.RecipientAddress
}

func (m MoveIntent) CrossChain() bool {
	return m.SourceChainID != m.DestChainID
}

func (m MoveIntent) Trade() TradeType {
	if m.TradeType == "" {
		return TradeExactInput
	}
	return m.TradeType
}

// Validate rejects intents that must never reach a provider.
func (m MoveIntent) Validate() error {
	if m.Amount == nil || m.Amount.Sign() <= 0 {
		return clierr.New(clierr.CodeUsage, "amount must be greater than zero")
	}
	if m.WalletAddress == (common.Address{}) {
		return clierr.New(clierr.CodeUsage, "wallet address is required")
	}
	if m.SourceChainID <= 0 || m.DestChainID <= 0 {
		return clierr.New(clierr.CodeUsage, "source and destination chain ids are required")
	}
	if m.SlippageBps < 0 || m.SlippageBps > 10_000 {
		return clierr.New(clierr.CodeUsage, "slippage must be between 0 and 10000 bps")
	}
	switch m.Trade() {
	case TradeExactInput, TradeExactOutput:
	default:
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported trade type %q", m.TradeType))
	}
	if !m.CrossChain() && m.SourceToken == m.DestToken {
		return clierr.New(clierr.CodeUsage, "source and destination asset are identical")
	}
	return nil
}

type StepKind string

const (
	StepKindTransaction StepKind = "transaction"
	StepKindSignature   StepKind = "signature"
)

// TxPayload is the provider-built transaction. SuggestedGas and
// SuggestedGasPrice are kept for display only and never used when sending.
type TxPayload struct {
	To                common.Address       `json:"to"`
	Data              hexutil.Bytes        `json:"data"`
	Value             *big.Int             `json:"value"`
	ChainID           int64                `json:"chain_id"`
	SuggestedGas      string               `json:"suggested_gas,omitempty"`
	SuggestedGasPrice string               `json:"suggested_gas_price,omitempty"`
	Approval          *ApprovalRequirement `json:"approval,omitempty"`
}

// ApprovalRequirement declares the ERC20 allowance the transaction spends.
type ApprovalRequirement struct {
	Token   common.Address `json:"token"`
	Spender common.Address `json:"spender"`
	Amount  *big.Int       `json:"amount"`
}

type Postback struct {
	Endpoint string                     `json:"endpoint"`
	Method   string                     `json:"method,omitempty"`
	Body     map[string]json.RawMessage `json:"body,omitempty"`
}

type SignaturePayload struct {
	Message  string    `json:"message"`
	Scheme   string    `json:"scheme"`
	Postback *Postback `json:"postback,omitempty"`
}

// StatusCheck points at the provider endpoint reporting cross-chain
// completion. Params carry provider specific query values.
type StatusCheck struct {
	Endpoint string            `json:"endpoint"`
	Params   map[string]string `json:"params,omitempty"`
}

type Step struct {
	ID          string            `json:"id"`
	Kind        StepKind          `json:"kind"`
	Description string            `json:"description,omitempty"`
	Tx          *TxPayload        `json:"tx,omitempty"`
	Signature   *SignaturePayload `json:"signature,omitempty"`
	Check       *StatusCheck      `json:"check,omitempty"`
}

// Route is an ordered provider plan for one intent. Re-quoting produces a
// new Route; a Route is never edited in place.
type Route struct {
	Provider string                     `json:"provider"`
	Intent   MoveIntent                 `json:"intent"`
	Steps    []Step                     `json:"steps"`
	Fees     map[string]json.RawMessage `json:"fees"`
	Details  map[string]json.RawMessage `json:"details"`
}

func (r Route) Validate() error {
	if len(r.Steps) == 0 {
		return clierr.New(clierr.CodeInvalidRoute, "route has no steps")
	}
	if r.Fees == nil {
		return clierr.New(clierr.CodeInvalidRoute, "route has no fee summary")
	}
	if r.Details == nil {
		return clierr.New(clierr.CodeInvalidRoute, "route has no details")
	}
	for i, step := range r.Steps {
		if strings.TrimSpace(step.ID) == "" {
			return clierr.New(clierr.CodeInvalidRoute, fmt.Sprintf("step %d has no id", i))
		}
		switch step.Kind {
		case StepKindTransaction:
			if step.Tx == nil {
				return clierr.New(clierr.CodeInvalidRoute, fmt.Sprintf("step %s has no transaction payload", step.ID))
			}
			if step.Tx.ChainID <= 0 {
				return clierr.New(clierr.CodeInvalidRoute, fmt.Sprintf("step %s has no chain id", step.ID))
			}
			if step.Tx.To == (common.Address{}) {
				return clierr.New(clierr.CodeInvalidRoute, fmt.Sprintf("step %s has no target", step.ID))
			}
		case StepKindSignature:
			if step.Signature == nil || strings.TrimSpace(step.Signature.Message) == "" {
				return clierr.New(clierr.CodeInvalidRoute, fmt.Sprintf("step %s has no message to sign", step.ID))
			}
		default:
			return clierr.New(clierr.CodeInvalidRoute, fmt.Sprintf("step %s has unknown kind %q", step.ID, step.Kind))
		}
	}
	return nil
}

// TransactionCount reports how many on-chain transactions the route declares.
func (r Route) TransactionCount() int {
	n := 0
	for _, step := range r.Steps {
		if step.Kind == StepKindTransaction {
			n++
		}
	}
	return n
}

func (r Route) Detail(key string, out any) bool {
	raw, ok := r.Details[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}
