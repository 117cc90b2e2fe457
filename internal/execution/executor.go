package execution

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/ggonzalez94/bridgectl/internal/errors"
	"github.com/ggonzalez94/bridgectl/internal/execution/signer"
	"github.com/ggonzalez94/bridgectl/internal/logger"
	"github.com/ggonzalez94/bridgectl/internal/metrics"
	"github.com/ggonzalez94/bridgectl/internal/route"
)

const SchemeEIP191 = "eip191"

type StepState string

const (
	StatePending                StepState = "pending"
	StateSubmitting             StepState = "submitting"
	StateAwaitingReceipt        StepState = "awaiting_receipt"
	StateAwaitingProviderStatus StepState = "awaiting_provider_status"
	StateTerminal               StepState = "terminal"
)

// Backend is the provider side of step execution.
type Backend interface {
	Name() string
	FetchStatus(ctx context.Context, check route.StatusCheck, sub route.SubmittedTx) (ProviderStatus, error)
	PostSignature(ctx context.Context, postback route.Postback, signature string) error
}

// Notifier receives a best-effort call after every broadcast. Its errors
// never change a step outcome.
type Notifier interface {
	NotifySubmitted(ctx context.Context, sub route.SubmittedTx) error
}

// Executor drives the steps of one route in order and stops at the first
// failed step.
type Executor struct {
	Backend      Backend
	Notifier     Notifier
	Clients      ClientSource
	Gas          GasPolicy
	Receipts     ReceiptWaiter
	Status       StatusPoller
	Log          logger.Logger
	Metrics      *metrics.Metrics
	OnTransition func(stepID string, state StepState)
}

// AbortError reports the step that stopped a route together with every
// result produced up to and including it.
type AbortError struct {
	StepID  string
	Results []route.StepResult
	err     *clierr.Error
}

func newAbortError(stepID string, results []route.StepResult, cause error) *AbortError {
	return &AbortError{
		StepID:  stepID,
		Results: append([]route.StepResult(nil), results...),
		err:     clierr.Wrap(clierr.CodeStepAborted, fmt.Sprintf("step %s aborted", stepID), cause),
	}
}

func (e *AbortError) Error() string { return e.err.Error() }

func (e *AbortError) Unwrap() error { return e.err }

func (e *Executor) Execute(ctx context.Context, s signer.Signer, r route.Route) ([]route.StepResult, error) {
	if s == nil {
		return nil, clierr.New(clierr.CodeSigner, "missing signer")
	}
	if e.Clients == nil {
		return nil, clierr.New(clierr.CodeInternal, "executor has no chain client source")
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	log := logger.OrEmpty(e.Log)
	done := e.Metrics.RouteStarted()
	defer done()
	clients := newClientSet(e.Clients)
	defer clients.close()

	provider := e.providerName(r)
	results := make([]route.StepResult, 0, len(r.Steps))
	for i, step := range r.Steps {
		chainID := stepChainID(step, r.Intent)
		if err := ctx.Err(); err != nil {
			return results, newAbortError(step.ID, results, clierr.Wrap(clierr.CodeUnavailable, "execution cancelled", err))
		}
		e.transition(step.ID, StatePending)
		log.InfoWithChain(chainID, "step %d/%d %s: %s", i+1, len(r.Steps), step.ID, describe(step))

		started := time.Now()
		var (
			result route.StepResult
			err    error
		)
		switch step.Kind {
		case route.StepKindTransaction:
			result, err = e.executeTransaction(ctx, clients, s, step)
		case route.StepKindSignature:
			result, err = e.executeSignature(ctx, s, step, chainID)
		}
		e.transition(step.ID, StateTerminal)
		result.StepID = step.ID
		if err != nil {
			result.Status = route.ResultFailed
			result.Error = err.Error()
			results = append(results, result)
			e.Metrics.StepObserved(provider, string(step.Kind), string(result.Status), time.Since(started))
			log.ErrorWithChain(chainID, "step %s failed: %v", step.ID, err)
			return results, newAbortError(step.ID, results, err)
		}
		results = append(results, result)
		e.Metrics.StepObserved(provider, string(step.Kind), string(result.Status), time.Since(started))
		log.NoticeWithChain(chainID, "step %s %s %s", step.ID, result.Status, firstNonEmpty(result.TxHash, result.ProviderStatusDetail))
	}
	return results, nil
}

func (e *Executor) executeTransaction(ctx context.Context, clients *clientSet, s signer.Signer, step route.Step) (route.StepResult, error) {
	payload := *step.Tx
	chainID := payload.ChainID
	result := route.StepResult{StepID: step.ID, ChainID: chainID}

	client, err := clients.get(ctx, chainID)
	if err != nil {
		return result, err
	}

	if req := payload.Approval; req != nil && !route.IsNative(req.Token) && req.Amount != nil {
		approvalHash, err := e.ensureAllowance(ctx, client, s, chainID, *req)
		result.ApprovalTxHash = approvalHash
		if err != nil {
			return result, err
		}
	}

	e.transition(step.ID, StateSubmitting)
	hash, err := e.submit(ctx, client, s, chainID, payload)
	if err != nil {
		return result, err
	}
	result.TxHash = hash.Hex()
	sub := route.SubmittedTx{StepID: step.ID, TxHash: hash, ChainID: chainID}
	e.notify(ctx, sub)

	e.transition(step.ID, StateAwaitingReceipt)
	receipt, err := e.Receipts.Wait(ctx, client, chainID, hash)
	if err != nil {
		return result, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		if isApprovalStep(step) {
			return result, clierr.New(clierr.CodeApprovalRejected, fmt.Sprintf("approval %s rejected", hash.Hex()))
		}
		return result, clierr.New(clierr.CodeTransactionReverted, fmt.Sprintf("transaction %s reverted", hash.Hex()))
	}
	result.Status = route.ResultCompleted

	if step.Check == nil || e.Backend == nil {
		return result, nil
	}
	e.transition(step.ID, StateAwaitingProviderStatus)
	return e.awaitProviderStatus(ctx, result, *step.Check, sub)
}

func (e *Executor) executeSignature(ctx context.Context, s signer.Signer, step route.Step, chainID int64) (route.StepResult, error) {
	payload := step.Signature
	result := route.StepResult{StepID: step.ID}
	if !strings.EqualFold(strings.TrimSpace(payload.Scheme), SchemeEIP191) {
		return result, clierr.New(clierr.CodeUnsupportedSignatureScheme, fmt.Sprintf("unsupported signature scheme %q", payload.Scheme))
	}

	e.transition(step.ID, StateSubmitting)
	raw, err := s.SignPersonalMessage([]byte(payload.Message))
	if err != nil {
		return result, clierr.Wrap(clierr.CodeSigner, "sign message", err)
	}
	result.Signature = hexutil.Encode(raw)

	if pb := payload.Postback; pb != nil && strings.TrimSpace(pb.Endpoint) != "" {
		if e.Backend == nil {
			return result, clierr.New(clierr.CodeInternal, "signature postback requires a provider backend")
		}
		if err := e.Backend.PostSignature(ctx, *pb, result.Signature); err != nil {
			return result, err
		}
		logger.OrEmpty(e.Log).DebugWithChain(chainID, "signature for %s delivered to %s", step.ID, pb.Endpoint)
	}
	result.Status = route.ResultCompleted

	if step.Check == nil || e.Backend == nil {
		return result, nil
	}
	e.transition(step.ID, StateAwaitingProviderStatus)
	return e.awaitProviderStatus(ctx, result, *step.Check, route.SubmittedTx{StepID: step.ID, ChainID: chainID})
}

func (e *Executor) awaitProviderStatus(ctx context.Context, result route.StepResult, check route.StatusCheck, sub route.SubmittedTx) (route.StepResult, error) {
	poller := e.Status
	if poller.Log == nil {
		poller.Log = e.Log
	}
	if poller.OnPoll == nil && e.Metrics != nil {
		provider := e.Backend.Name()
		poller.OnPoll = func(s ProviderStatus) { e.Metrics.StatusPolled(provider, s.Status) }
	}
	status, err := poller.Poll(ctx, sub.ChainID, func(ctx context.Context) (ProviderStatus, error) {
		return e.Backend.FetchStatus(ctx, check, sub)
	})
	if err != nil {
		return result, err
	}
	result.Status = status.ResultStatus()
	result.ProviderStatusDetail = status.Detail()
	if result.Status == route.ResultFailed {
		return result, clierr.New(clierr.CodeStepAborted, "provider reported failure: "+status.Detail())
	}
	return result, nil
}

func (e *Executor) ensureAllowance(ctx context.Context, client ChainClient, s signer.Signer, chainID int64, req route.ApprovalRequirement) (string, error) {
	log := logger.OrEmpty(e.Log)
	current, err := ReadAllowance(ctx, client, req.Token, s.Address(), req.Spender)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUnavailable, "read allowance", err)
	}
	if current.Cmp(req.Amount) >= 0 {
		log.DebugWithChain(chainID, "allowance %s for %s is sufficient", current, req.Spender.Hex())
		return "", nil
	}

	log.InfoWithChain(chainID, "allowance %s below %s, approving %s", current, req.Amount, req.Spender.Hex())
	data, err := approveCalldata(req.Spender, req.Amount)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeInternal, "pack approve", err)
	}
	hash, err := e.submit(ctx, client, s, chainID, route.TxPayload{To: req.Token, Data: data, Value: new(big.Int), ChainID: chainID})
	if err != nil {
		return "", err
	}
	receipt, err := e.Receipts.Wait(ctx, client, chainID, hash)
	if err != nil {
		return hash.Hex(), err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return hash.Hex(), clierr.New(clierr.CodeApprovalRejected, fmt.Sprintf("approval %s rejected", hash.Hex()))
	}
	log.InfoWithChain(chainID, "approval confirmed %s", hash.Hex())
	return hash.Hex(), nil
}

func (e *Executor) submit(ctx context.Context, client ChainClient, s signer.Signer, chainID int64, payload route.TxPayload) (common.Hash, error) {
	chain := big.NewInt(chainID)
	unlock := acquireSignerNonceLock(chain, s.Address())
	defer unlock()

	env, err := e.Gas.buildEnvelope(ctx, client, chainID, s.Address(), payload)
	if err != nil {
		return common.Hash{}, err
	}
	signed, err := s.SignTx(chain, env.Tx)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, wrapEVMExecutionError(clierr.CodeUnavailable, "broadcast transaction", err)
	}
	gasPrice, _ := new(big.Float).SetInt(env.GasPrice).Float64()
	e.Metrics.GasPriceUsed(chainID, gasPrice)
	logger.OrEmpty(e.Log).InfoWithChain(chainID, "submitted %s nonce=%d gasPrice=%s gasLimit=%d estimate=%d",
		signed.Hash().Hex(), env.Nonce, env.GasPrice, env.GasLimit, env.GasEstimate)
	return signed.Hash(), nil
}

func (e *Executor) notify(ctx context.Context, sub route.SubmittedTx) {
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.NotifySubmitted(ctx, sub); err != nil {
		logger.OrEmpty(e.Log).DebugWithChain(sub.ChainID, "index notification for %s failed: %v", sub.TxHash.Hex(), err)
	}
}

func (e *Executor) transition(stepID string, state StepState) {
	logger.OrEmpty(e.Log).Debug("step %s -> %s", stepID, state)
	if e.OnTransition != nil {
		e.OnTransition(stepID, state)
	}
}

func (e *Executor) providerName(r route.Route) string {
	if e.Backend != nil {
		return e.Backend.Name()
	}
	return r.Provider
}

// isApprovalStep reports whether a route step is a standalone ERC20 approve,
// either by its provider id or by its calldata selector.
func isApprovalStep(step route.Step) bool {
	if strings.EqualFold(strings.TrimSpace(step.ID), "approve") {
		return true
	}
	return step.Tx != nil && bytes.HasPrefix(step.Tx.Data, approveSelector)
}

func stepChainID(step route.Step, intent route.MoveIntent) int64 {
	if step.Tx != nil {
		return step.Tx.ChainID
	}
	return intent.SourceChainID
}

func describe(step route.Step) string {
	if step.Description != "" {
		return step.Description
	}
	return string(step.Kind)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
