package lifi

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/bridgectl/internal/errors"
	"github.com/ggonzalez94/bridgectl/internal/execution"
	"github.com/ggonzalez94/bridgectl/internal/httpx"
	"github.com/ggonzalez94/bridgectl/internal/providers"
	"github.com/ggonzalez94/bridgectl/internal/registry"
	"github.com/ggonzalez94/bridgectl/internal/route"
)

var (
	usdcMainnet = common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	usdcBase    = common.HexToAddress("0x833589fcd6edb6e08f4c7c32d4f71b54bda02913")
	wallet      = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

type lifiRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
}

func bridgeIntent() route.MoveIntent {
	return route.MoveIntent{
		WalletAddress: wallet,
		SourceChainID: 1,
		DestChainID:   8453,
		SourceToken:   usdcMainnet,
		DestToken:     usdcBase,
		Amount:        big.NewInt(1_000_000),
		SlippageBps:   300,
	}
}

func newTestClient(t *testing.T, quoteURL string, allowance *big.Int) *Client {
	t.Helper()
	exec := providers.ExecutionConfig{}
	if allowance != nil {
		rpc := newLiFiRPCServer(t, allowance)
		t.Cleanup(rpc.Close)
		exec.Clients = execution.NewRPCDialer(map[int64][]string{1: {rpc.URL}}, nil)
	}
	return New(httpx.New(2*time.Second, 0), Config{BaseURL: quoteURL, Integrator: "bridgectl", Fee: "0.005"}, exec)
}

func TestGetQuoteAddsApprovalStepWhenAllowanceShort(t *testing.T) {
	quoteServer := newLiFiQuoteServer(t, "0x0000000000000000000000000000000000000ABC", nil)
	defer quoteServer.Close()

	c := newTestClient(t, quoteServer.URL, big.NewInt(0))
	r, err := c.GetQuote(context.Background(), bridgeIntent())
	if err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}
	if len(r.Steps) != 2 {
		t.Fatalf("expected approve + bridge steps, got %d", len(r.Steps))
	}
	if r.Steps[0].ID != "approve" || r.Steps[0].Tx.To != usdcMainnet {
		t.Fatalf("unexpected approve step: %+v", r.Steps[0])
	}
	bridge := r.Steps[1]
	if bridge.ID != "bridge" || bridge.Check == nil || bridge.Check.Endpoint != registry.LiFiStatusPath {
		t.Fatalf("unexpected bridge step: %+v", bridge)
	}
	if bridge.Check.Params["bridge"] != "across" || bridge.Check.Params["toChain"] != "8453" {
		t.Fatalf("unexpected status params: %+v", bridge.Check.Params)
	}
	if bridge.Tx.Approval == nil || bridge.Tx.Approval.Spender != common.HexToAddress("0xabc") {
		t.Fatalf("expected approval requirement on bridge step, got %+v", bridge.Tx.Approval)
	}
	if bridge.Tx.SuggestedGas != "0x30d40" {
		t.Fatalf("expected suggested gas to be kept for display, got %q", bridge.Tx.SuggestedGas)
	}
	fees, total := providers.FeeSummary(r)
	if len(fees) != 2 || total < 0.99 || total > 1.01 {
		t.Fatalf("unexpected fee summary: %+v total=%f", fees, total)
	}
}

func TestGetQuoteSkipsApprovalWhenAllowanceSufficient(t *testing.T) {
	quoteServer := newLiFiQuoteServer(t, "0x0000000000000000000000000000000000000ABC", nil)
	defer quoteServer.Close()

	c := newTestClient(t, quoteServer.URL, big.NewInt(5_000_000))
	r, err := c.GetQuote(context.Background(), bridgeIntent())
	if err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}
	if len(r.Steps) != 1 || r.Steps[0].ID != "bridge" {
		t.Fatalf("expected bridge-only route, got %+v", r.Steps)
	}
}

func TestGetQuoteSkipsApprovalWhenSpenderMissing(t *testing.T) {
	quoteServer := newLiFiQuoteServer(t, "", nil)
	defer quoteServer.Close()

	c := newTestClient(t, quoteServer.URL, nil)
	r, err := c.GetQuote(context.Background(), bridgeIntent())
	if err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}
	if len(r.Steps) != 1 || r.Steps[0].Tx.Approval != nil {
		t.Fatalf("expected single step without approval, got %+v", r.Steps)
	}
}

func TestGetQuoteRequestParameters(t *testing.T) {
	var query map[string]string
	quoteServer := newLiFiQuoteServer(t, "", func(r *http.Request) {
		query = map[string]string{}
		for k := range r.URL.Query() {
			query[k] = r.URL.Query().Get(k)
		}
		if r.URL.Path != "/quote" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	defer quoteServer.Close()

	c := newTestClient(t, quoteServer.URL, nil)
	if _, err := c.GetQuote(context.Background(), bridgeIntent()); err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}
	want := map[string]string{
		"fromChain":  "1",
		"toChain":    "8453",
		"fromAmount": "1000000",
		"slippage":   "0.03",
		"integrator": "bridgectl",
		"fee":        "0.005",
		"order":      "RECOMMENDED",
		"toAddress":  wallet.Hex(),
	}
	for k, v := range want {
		if query[k] != v {
			t.Fatalf("query %s = %q, want %q (all: %v)", k, query[k], v, query)
		}
	}
}

func TestGetQuoteMissingTransactionRequestIsInvalidRoute(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = fmt.Fprint(w, `{"tool":"across","action":{"fromChainId":1},"estimate":{"toAmount":"1"}}`)
	}))
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 2, httpx.WithBackoffUnit(time.Millisecond)), Config{BaseURL: srv.URL}, providers.ExecutionConfig{})
	_, err := c.GetQuote(context.Background(), bridgeIntent())
	if !clierr.Is(err, clierr.CodeInvalidRoute) {
		t.Fatalf("expected invalid route, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("invalid routes must not be retried, got %d calls", got)
	}
}

func TestGetQuoteRejectsZeroAmountWithoutRequest(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	intent := bridgeIntent()
	intent.Amount = big.NewInt(0)
	c := New(httpx.New(time.Second, 0), Config{BaseURL: srv.URL}, providers.ExecutionConfig{})
	if _, err := c.GetQuote(context.Background(), intent); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatal("no quote may be requested for a zero amount")
	}
}

func TestNormalizeQuoteIsDeterministic(t *testing.T) {
	raw := json.RawMessage(quotePayload("0x0000000000000000000000000000000000000ABC"))
	first, err := normalizeQuote(bridgeIntent(), raw, big.NewInt(0))
	if err != nil {
		t.Fatalf("normalizeQuote failed: %v", err)
	}
	second, err := normalizeQuote(bridgeIntent(), raw, big.NewInt(0))
	if err != nil {
		t.Fatalf("normalizeQuote failed: %v", err)
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if !bytes.Equal(a, b) {
		t.Fatalf("normalization is not stable:\n%s\n%s", a, b)
	}
}

func TestFetchStatus(t *testing.T) {
	hash := common.HexToHash("0xabc")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("txHash"); got != hash.Hex() {
			t.Errorf("unexpected txHash %q", got)
		}
		if got := r.URL.Query().Get("bridge"); got != "across" {
			t.Errorf("unexpected bridge %q", got)
		}
		_, _ = fmt.Fprint(w, `{"status":"DONE","substatus":"COMPLETED","receiving":{"txHash":"0xdestination"}}`)
	}))
	defer srv.Close()

	c := New(httpx.New(time.Second, 0), Config{BaseURL: srv.URL}, providers.ExecutionConfig{})
	status, err := c.FetchStatus(context.Background(), route.StatusCheck{Endpoint: "/status", Params: map[string]string{"bridge": "across"}}, route.SubmittedTx{TxHash: hash, ChainID: 1})
	if err != nil {
		t.Fatalf("FetchStatus failed: %v", err)
	}
	if !status.Terminal() || status.ResultStatus() != route.ResultSuccess || status.DestTx != "0xdestination" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func quotePayload(approvalAddress string) string {
	return fmt.Sprintf(`{
		"id": "quote-1",
		"type": "lifi",
		"tool": "across",
		"toolDetails": {"key":"across","name":"Across"},
		"action": {
			"fromChainId": 1,
			"toChainId": 8453,
			"fromToken": {"address":"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48","symbol":"USDC","decimals":6},
			"toToken": {"address":"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913","symbol":"USDC","decimals":6},
			"fromAmount": "1000000"
		},
		"estimate": {
			"fromAmount": "1000000",
			"toAmount": "950000",
			"toAmountMin": "940000",
			"approvalAddress": %q,
			"feeCosts": [{"name":"LIFI Fixed Fee","amountUSD":"0.40"}],
			"gasCosts": [{"type":"SEND","amountUSD":"0.60"}],
			"executionDuration": 120
		},
		"transactionRequest": {
			"to": "0x0000000000000000000000000000000000000DDD",
			"from": "0x00000000000000000000000000000000000000AA",
			"data": "0x1234",
			"value": "0x0",
			"chainId": 1,
			"gasLimit": "0x30d40",
			"gasPrice": "0x3b9aca00"
		}
	}`, approvalAddress)
}

func newLiFiQuoteServer(t *testing.T, approvalAddress string, inspect func(*http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inspect != nil {
			inspect(r)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, quotePayload(approvalAddress))
	}))
}

func newLiFiRPCServer(t *testing.T, allowance *big.Int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req lifiRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch req.Method {
		case "eth_chainId":
			writeLiFiRPCResult(w, req.ID, "0x1")
		case "eth_call":
			encoded, err := registry.ERC20ABI.Methods["allowance"].Outputs.Pack(allowance)
			if err != nil {
				t.Errorf("pack allowance response: %v", err)
			}
			writeLiFiRPCResult(w, req.ID, "0x"+hex.EncodeToString(encoded))
		default:
			writeLiFiRPCError(w, req.ID, -32601, fmt.Sprintf("method not supported in test: %s", req.Method))
		}
	}))
}

func writeLiFiRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%q}`, rawLiFiID(id), result)
}

func writeLiFiRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":%d,"message":%q}}`, rawLiFiID(id), code, message)
}

func rawLiFiID(id json.RawMessage) string {
	if len(id) == 0 {
		return "1"
	}
	return string(id)
}
