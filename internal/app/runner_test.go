package app

import (
	"bytes"
	"encoding/json"
	"math"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/bridgectl/internal/execution"
	"github.com/ggonzalez94/bridgectl/internal/model"
	"github.com/ggonzalez94/bridgectl/internal/route"
)

const testWallet = "0x00000000000000000000000000000000000000aa"

func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, "cache"))
	t.Setenv("BRIDGE_RUNS_PATH", filepath.Join(dir, "runs.db"))
	t.Setenv("BRIDGE_RUNS_LOCK_PATH", filepath.Join(dir, "runs.lock"))
	t.Setenv("BRIDGE_LOG_LEVEL", "error")
	return dir
}

func decodeErrorEnvelope(t *testing.T, raw []byte) model.Envelope {
	t.Helper()
	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("failed to parse error envelope: %v output=%s", err, string(raw))
	}
	if env.Success || env.Error == nil {
		t.Fatalf("expected failed envelope, got %+v", env)
	}
	return env
}

func TestTrimRootPath(t *testing.T) {
	if got := trimRootPath("bridgectl runs list"); got != "runs list" {
		t.Fatalf("unexpected trim result: %s", got)
	}
	if got := trimRootPath("bridgectl"); got != "bridgectl" {
		t.Fatalf("expected root path to be kept, got %s", got)
	}
}

func TestSplitCSV(t *testing.T) {
	items := splitCSV("Main, hot-2 ,")
	if len(items) != 2 || items[0] != "main" || items[1] != "hot-2" {
		t.Fatalf("unexpected split: %#v", items)
	}
}

func TestRunnerProvidersList(t *testing.T) {
	isolateEnv(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"providers", "list", "--results-only"})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var out []model.ProviderInfo
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout.String())
	}
	if len(out) != 2 || out[0].Name != "lifi" || out[1].Name != "relay" {
		t.Fatalf("unexpected providers: %+v", out)
	}
}

func TestRunRequiresYes(t *testing.T) {
	isolateEnv(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"run", "--from", "optimism", "--asset", "USDC", "--amount", "1000000", "--results-only"})
	if code != 2 {
		t.Fatalf("expected exit 2, got %d stderr=%s", code, stderr.String())
	}
	env := decodeErrorEnvelope(t, stderr.Bytes())
	if env.Error.Type != "usage_error" || !strings.Contains(env.Error.Message, "--yes") {
		t.Fatalf("unexpected error body: %+v", env.Error)
	}
	if env.Meta.Command != "run" {
		t.Fatalf("expected command path run, got %q", env.Meta.Command)
	}
}

func TestQuoteCommandSummarizesRelayRoute(t *testing.T) {
	isolateEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" {
			t.Errorf("unexpected request path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{
  "steps": [
    {"id": "approve", "kind": "transaction", "requestId": "0xreq", "items": [{"data": {"to": "0x0b2c639c533813f4aa9d7837caf62653d097ff85", "data": "0x095ea7b3", "value": "0", "chainId": 10}}]},
    {"id": "deposit", "kind": "transaction", "requestId": "0xreq", "items": [{"data": {"to": "0xa5f565650890fba1824ee0f21ebbbf660a179934", "data": "0xdeadbeef", "value": "0", "chainId": 10}, "check": {"endpoint": "/intents/status?requestId=0xreq"}}]}
  ],
  "fees": {"gas": {"amountUsd": "0.25"}, "relayer": {"amountUsd": "0.5"}},
  "details": {"currencyOut": {"amount": "400000000000000", "amountFormatted": "0.0004", "currency": {"decimals": 18}}}
}`))
	}))
	defer srv.Close()
	t.Setenv("BRIDGE_RELAY_BASE_URL", srv.URL)

	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{
		"quote", "--provider", "relay",
		"--from", "optimism", "--asset", "USDC", "--to-asset", "ETH",
		"--amount-decimal", "1", "--wallet", testWallet, "--results-only",
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var summary model.QuoteSummary
	if err := json.Unmarshal(stdout.Bytes(), &summary); err != nil {
		t.Fatalf("failed to parse quote: %v output=%s", err, stdout.String())
	}
	if summary.Provider != "relay" || summary.FromChainID != "10" || summary.ToChainID != "10" {
		t.Fatalf("unexpected quote header: %+v", summary)
	}
	if summary.InputAmount.AmountBaseUnits != "1000000" || summary.InputAmount.Decimals != 6 {
		t.Fatalf("unexpected input amount: %+v", summary.InputAmount)
	}
	if summary.ToToken != "0x0000000000000000000000000000000000000000" {
		t.Fatalf("expected native destination token, got %s", summary.ToToken)
	}
	if len(summary.Steps) != 2 || summary.Steps[0].ID != "approve" || !summary.Steps[1].HasCheck {
		t.Fatalf("unexpected steps: %+v", summary.Steps)
	}
	if math.Abs(summary.EstimatedFeeUSD-0.75) > 1e-9 {
		t.Fatalf("expected fee total 0.75, got %v", summary.EstimatedFeeUSD)
	}
	if summary.EstimatedOut == nil || summary.EstimatedOut.AmountBaseUnits != "400000000000000" {
		t.Fatalf("unexpected estimated out: %+v", summary.EstimatedOut)
	}
}

func TestQuoteRejectsInvalidWallet(t *testing.T) {
	isolateEnv(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"quote", "--from", "optimism", "--asset", "USDC", "--amount", "1", "--wallet", "nope"})
	if code != 2 {
		t.Fatalf("expected exit 2, got %d stderr=%s", code, stderr.String())
	}
	decodeErrorEnvelope(t, stderr.Bytes())
}

func TestRunsListAndShow(t *testing.T) {
	dir := isolateEnv(t)
	store, err := execution.OpenStore(filepath.Join(dir, "runs.db"), filepath.Join(dir, "runs.lock"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	run := execution.NewRun(route.Route{
		Provider: "relay",
		Intent: route.MoveIntent{
			WalletAddress: common.HexToAddress(testWallet),
			SourceChainID: 10,
			DestChainID:   8453,
			Amount:        big.NewInt(1),
		},
	})
	if err := store.Save(run); err != nil {
		t.Fatalf("save run: %v", err)
	}
	_ = store.Close()

	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	if code := r.Run([]string{"runs", "list", "--results-only"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var runs []execution.Run
	if err := json.Unmarshal(stdout.Bytes(), &runs); err != nil {
		t.Fatalf("failed to parse runs: %v output=%s", err, stdout.String())
	}
	if len(runs) != 1 || runs[0].RunID != run.RunID {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	stdout.Reset()
	stderr.Reset()
	r = NewRunnerWithWriters(&stdout, &stderr)
	if code := r.Run([]string{"runs", "show", "--run-id", run.RunID, "--results-only"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}

	stdout.Reset()
	stderr.Reset()
	r = NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"status", "--run-id", run.RunID})
	if code != 2 {
		t.Fatalf("expected exit 2 for a run without transactions, got %d stderr=%s", code, stderr.String())
	}
	env := decodeErrorEnvelope(t, stderr.Bytes())
	if !strings.Contains(env.Error.Message, "no submitted transaction") {
		t.Fatalf("unexpected error: %+v", env.Error)
	}
}

func TestRunsListRejectsUnknownStatus(t *testing.T) {
	isolateEnv(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	if code := r.Run([]string{"runs", "list", "--status", "pending"}); code != 2 {
		t.Fatalf("expected exit 2, got %d stderr=%s", code, stderr.String())
	}
}

func TestBatchBridgeRequiresDestination(t *testing.T) {
	isolateEnv(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"batch", "bridge-native", "--holdings", "missing.yaml", "--yes"})
	if code != 2 {
		t.Fatalf("expected exit 2, got %d stderr=%s", code, stderr.String())
	}
	env := decodeErrorEnvelope(t, stderr.Bytes())
	if !strings.Contains(env.Error.Message, "--to") {
		t.Fatalf("unexpected error: %+v", env.Error)
	}
}

func TestBatchRequiresYes(t *testing.T) {
	isolateEnv(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	if code := r.Run([]string{"batch", "swap-native", "--holdings", "missing.yaml"}); code != 2 {
		t.Fatalf("expected exit 2, got %d stderr=%s", code, stderr.String())
	}
}

func TestUnknownCommandIsUsageError(t *testing.T) {
	isolateEnv(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	if code := r.Run([]string{"lend", "supply"}); code != 2 {
		t.Fatalf("expected exit 2, got %d stderr=%s", code, stderr.String())
	}
}
