package lifi

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	clierr "github.com/ggonzalez94/bridgectl/internal/errors"
	"github.com/ggonzalez94/bridgectl/internal/execution"
	"github.com/ggonzalez94/bridgectl/internal/execution/signer"
	"github.com/ggonzalez94/bridgectl/internal/httpx"
	"github.com/ggonzalez94/bridgectl/internal/id"
	"github.com/ggonzalez94/bridgectl/internal/logger"
	"github.com/ggonzalez94/bridgectl/internal/model"
	"github.com/ggonzalez94/bridgectl/internal/providers"
	"github.com/ggonzalez94/bridgectl/internal/registry"
	"github.com/ggonzalez94/bridgectl/internal/route"
)

const (
	EnvAPIKey = "BRIDGE_LIFI_API_KEY"

	receiptAttempts = 60
	statusAttempts  = 120

	defaultOrder = "RECOMMENDED"
)

type Config struct {
	BaseURL    string
	APIKey     string
	Integrator string
	// Fee is the integrator fee as a fraction, e.g. "0.005". Empty omits it.
	Fee   string
	Order string
}

type Client struct {
	http       *httpx.Client
	baseURL    string
	apiKey     string
	integrator string
	fee        string
	order      string
	exec       providers.ExecutionConfig
	now        func() time.Time
}

func New(httpClient *httpx.Client, cfg Config, exec providers.ExecutionConfig) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = registry.LiFiBaseURL
	}
	order := strings.TrimSpace(cfg.Order)
	if order == "" {
		order = defaultOrder
	}
	return &Client{
		http:       httpClient,
		baseURL:    base,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		integrator: strings.TrimSpace(cfg.Integrator),
		fee:        strings.TrimSpace(cfg.Fee),
		order:      order,
		exec:       exec,
		now:        time.Now,
	}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:        "lifi",
		Type:        "aggregator",
		RequiresKey: false,
		Capabilities: []string{
			"route.quote",
			"route.execute",
			"route.status",
		},
		KeyEnvVarName: EnvAPIKey,
		BaseURL:       c.baseURL,
	}
}

func (c *Client) Tag() providers.Tag { return providers.TagLiFi }

func (c *Client) Name() string { return string(providers.TagLiFi) }

type token struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	PriceUSD string `json:"priceUSD"`
}

type costItem struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	AmountUSD string `json:"amountUSD"`
}

type quoteAction struct {
	FromChainID int64  `json:"fromChainId"`
	ToChainID   int64  `json:"toChainId"`
	FromToken   token  `json:"fromToken"`
	ToToken     token  `json:"toToken"`
	FromAmount  string `json:"fromAmount"`
}

type quoteEstimate struct {
	FromAmount        string     `json:"fromAmount"`
	ToAmount          string     `json:"toAmount"`
	ToAmountMin       string     `json:"toAmountMin"`
	ApprovalAddress   string     `json:"approvalAddress"`
	ExecutionDuration float64    `json:"executionDuration"`
	FeeCosts          []costItem `json:"feeCosts"`
	GasCosts          []costItem `json:"gasCosts"`
}

type transactionRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	ChainID  int64  `json:"chainId"`
	Data     string `json:"data"`
	Value    string `json:"value"`
	GasPrice string `json:"gasPrice"`
	GasLimit string `json:"gasLimit"`
}

type quoteResponse struct {
	ID                 string              `json:"id"`
	Type               string              `json:"type"`
	Tool               string              `json:"tool"`
	Action             *quoteAction        `json:"action"`
	Estimate           *quoteEstimate      `json:"estimate"`
	TransactionRequest *transactionRequest `json:"transactionRequest"`
}

func (c *Client) GetQuote(ctx context.Context, intent route.MoveIntent) (route.Route, error) {
	r, err := c.getQuote(ctx, intent)
	c.exec.Metrics.QuoteObserved(c.Name(), err)
	return r, err
}

func (c *Client) getQuote(ctx context.Context, intent route.MoveIntent) (route.Route, error) {
	if err := intent.Validate(); err != nil {
		return route.Route{}, err
	}

	vals := url.Values{}
	vals.Set("fromChain", strconv.FormatInt(intent.SourceChainID, 10))
	vals.Set("toChain", strconv.FormatInt(intent.DestChainID, 10))
	vals.Set("fromToken", strings.ToLower(intent.SourceToken.Hex()))
	vals.Set("toToken", strings.ToLower(intent.DestToken.Hex()))
	vals.Set("fromAddress", intent.WalletAddress.Hex())
	vals.Set("toAddress", intent.Recipient().Hex())
	path := "/quote"
	if intent.Trade() == route.TradeExactOutput {
		path = "/quote/toAmount"
		vals.Set("toAmount", intent.Amount.String())
	} else {
		vals.Set("fromAmount", intent.Amount.String())
	}
	if intent.SlippageBps > 0 {
		vals.Set("slippage", formatSlippage(intent.SlippageBps))
	}
	if c.integrator != "" {
		vals.Set("integrator", c.integrator)
	}
	if c.fee != "" {
		vals.Set("fee", c.fee)
	}
	vals.Set("order", c.order)

	var raw json.RawMessage
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodGet, c.baseURL+path+"?"+vals.Encode(), nil, c.headers(), &raw); err != nil {
		return route.Route{}, err
	}

	var current *big.Int
	var resp quoteResponse
	if err := json.Unmarshal(raw, &resp); err == nil && needsAllowanceCheck(intent, resp) {
		current = c.currentAllowance(ctx, intent, common.HexToAddress(resp.Estimate.ApprovalAddress))
	}
	r, err := normalizeQuote(intent, raw, current)
	if err != nil {
		return route.Route{}, err
	}
	logger.OrEmpty(c.exec.Log).InfoWithChain(intent.SourceChainID, "lifi quote %s: %d step(s) via %s", resp.ID, len(r.Steps), resp.Tool)
	return r, nil
}

// currentAllowance is advisory: a failed read leaves the approve step out
// and the executor checks the allowance again before sending.
func (c *Client) currentAllowance(ctx context.Context, intent route.MoveIntent, spender common.Address) *big.Int {
	if c.exec.Clients == nil {
		return nil
	}
	log := logger.OrEmpty(c.exec.Log)
	client, err := c.exec.Clients.Dial(ctx, intent.SourceChainID)
	if err != nil {
		log.DebugWithChain(intent.SourceChainID, "allowance pre-check skipped: %v", err)
		return nil
	}
	defer client.Close()
	allowance, err := execution.ReadAllowance(ctx, client, intent.SourceToken, intent.WalletAddress, spender)
	if err != nil {
		log.DebugWithChain(intent.SourceChainID, "allowance pre-check failed: %v", err)
		return nil
	}
	return allowance
}

func needsAllowanceCheck(intent route.MoveIntent, resp quoteResponse) bool {
	if route.IsNative(intent.SourceToken) || resp.Estimate == nil {
		return false
	}
	return common.IsHexAddress(strings.TrimSpace(resp.Estimate.ApprovalAddress))
}

// normalizeQuote converts one /quote payload into a Route. currentAllowance
// is the owner's allowance for the approval address, nil when unknown.
func normalizeQuote(intent route.MoveIntent, raw json.RawMessage, currentAllowance *big.Int) (route.Route, error) {
	var resp quoteResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return route.Route{}, clierr.Wrap(clierr.CodeInvalidRoute, "decode lifi quote", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return route.Route{}, clierr.Wrap(clierr.CodeInvalidRoute, "decode lifi quote", err)
	}
	if resp.TransactionRequest == nil {
		return route.Route{}, clierr.New(clierr.CodeInvalidRoute, "lifi quote has no transaction request")
	}
	if resp.Action == nil || resp.Estimate == nil {
		return route.Route{}, clierr.New(clierr.CodeInvalidRoute, "lifi quote is missing action or estimate")
	}
	txReq := resp.TransactionRequest
	if !common.IsHexAddress(strings.TrimSpace(txReq.To)) || strings.TrimSpace(txReq.Data) == "" {
		return route.Route{}, clierr.New(clierr.CodeInvalidRoute, "lifi quote has no executable transaction payload")
	}
	chainID := txReq.ChainID
	if chainID == 0 {
		chainID = intent.SourceChainID
	}
	if chainID != intent.SourceChainID {
		return route.Route{}, clierr.New(clierr.CodeInvalidRoute, fmt.Sprintf("lifi transaction targets chain %d, expected %d", chainID, intent.SourceChainID))
	}
	data, err := hexutil.Decode(ensureHexPrefix(txReq.Data))
	if err != nil {
		return route.Route{}, clierr.Wrap(clierr.CodeInvalidRoute, "decode lifi calldata", err)
	}
	value, err := route.ParseBaseUnits(txReq.Value)
	if err != nil {
		return route.Route{}, clierr.Wrap(clierr.CodeInvalidRoute, "parse lifi transaction value", err)
	}
	amountIn := intent.Amount
	if resp.Estimate.FromAmount != "" {
		if v, err := route.ParseBaseUnits(resp.Estimate.FromAmount); err == nil && v.Sign() > 0 {
			amountIn = v
		}
	}

	steps := make([]route.Step, 0, 2)
	var approval *route.ApprovalRequirement
	if !route.IsNative(intent.SourceToken) && common.IsHexAddress(strings.TrimSpace(resp.Estimate.ApprovalAddress)) {
		spender := common.HexToAddress(resp.Estimate.ApprovalAddress)
		approval = &route.ApprovalRequirement{Token: intent.SourceToken, Spender: spender, Amount: new(big.Int).Set(amountIn)}
		if currentAllowance != nil && currentAllowance.Cmp(amountIn) < 0 {
			approveData, err := registry.ERC20ABI.Pack("approve", spender, amountIn)
			if err != nil {
				return route.Route{}, clierr.Wrap(clierr.CodeInternal, "pack approve calldata", err)
			}
			steps = append(steps, route.Step{
				ID:          "approve",
				Kind:        route.StepKindTransaction,
				Description: "Approve " + firstNonEmpty(resp.Action.FromToken.Symbol, "token") + " for LiFi",
				Tx: &route.TxPayload{
					To:      intent.SourceToken,
					Data:    approveData,
					Value:   new(big.Int),
					ChainID: chainID,
				},
			})
		}
	}

	mainID, verb := "swap", "Swap"
	if intent.CrossChain() {
		mainID, verb = "bridge", "Bridge"
	}
	main := route.Step{
		ID:          mainID,
		Kind:        route.StepKindTransaction,
		Description: fmt.Sprintf("%s %s to %s via %s", verb, firstNonEmpty(resp.Action.FromToken.Symbol, "token"), firstNonEmpty(resp.Action.ToToken.Symbol, "token"), firstNonEmpty(resp.Tool, "lifi")),
		Tx: &route.TxPayload{
			To:                common.HexToAddress(txReq.To),
			Data:              data,
			Value:             value,
			ChainID:           chainID,
			SuggestedGas:      txReq.GasLimit,
			SuggestedGasPrice: txReq.GasPrice,
			Approval:          approval,
		},
	}
	if intent.CrossChain() {
		main.Check = &route.StatusCheck{
			Endpoint: registry.LiFiStatusPath,
			Params: map[string]string{
				"bridge":    resp.Tool,
				"fromChain": strconv.FormatInt(intent.SourceChainID, 10),
				"toChain":   strconv.FormatInt(intent.DestChainID, 10),
			},
		}
	}
	steps = append(steps, main)

	fees := map[string]json.RawMessage{}
	var estimateFields map[string]json.RawMessage
	_ = json.Unmarshal(fields["estimate"], &estimateFields)
	for _, key := range []string{"feeCosts", "gasCosts"} {
		if v, ok := estimateFields[key]; ok {
			fees[key] = v
		}
	}

	details := map[string]json.RawMessage{}
	for _, key := range []string{"id", "type", "tool", "toolDetails", "action", "estimate", "includedSteps"} {
		if v, ok := fields[key]; ok {
			details[key] = v
		}
	}
	details["fee_summary"] = mustJSON(feeSummary(resp.Estimate))
	if resp.Estimate.ToAmount != "" {
		details["estimated_out"] = mustJSON(model.AmountInfo{
			AmountBaseUnits: resp.Estimate.ToAmount,
			AmountDecimal:   id.FormatDecimalCompat(resp.Estimate.ToAmount, resp.Action.ToToken.Decimals),
			Decimals:        resp.Action.ToToken.Decimals,
		})
	}

	r := route.Route{
		Provider: string(providers.TagLiFi),
		Intent:   intent,
		Steps:    steps,
		Fees:     fees,
		Details:  details,
	}
	if err := r.Validate(); err != nil {
		return route.Route{}, err
	}
	return r, nil
}

func (c *Client) Execute(ctx context.Context, s signer.Signer, r route.Route) ([]route.StepResult, error) {
	return c.exec.Executor(c, nil, receiptAttempts, statusAttempts).Execute(ctx, s, r)
}

type statusResponse struct {
	Status           string `json:"status"`
	Substatus        string `json:"substatus"`
	SubstatusMessage string `json:"substatusMessage"`
	Receiving        struct {
		TxHash string `json:"txHash"`
	} `json:"receiving"`
}

// FetchStatus queries /status for the submitted source transaction.
func (c *Client) FetchStatus(ctx context.Context, check route.StatusCheck, sub route.SubmittedTx) (execution.ProviderStatus, error) {
	endpoint, err := registry.ResolveProviderURL(c.baseURL, firstNonEmpty(check.Endpoint, registry.LiFiStatusPath))
	if err != nil {
		return execution.ProviderStatus{}, clierr.Wrap(clierr.CodeInvalidRoute, "resolve lifi status endpoint", err)
	}
	vals := url.Values{}
	for k, v := range check.Params {
		if strings.TrimSpace(v) != "" {
			vals.Set(k, v)
		}
	}
	if vals.Get("fromChain") == "" && sub.ChainID > 0 {
		vals.Set("fromChain", strconv.FormatInt(sub.ChainID, 10))
	}
	vals.Set("txHash", sub.TxHash.Hex())

	var raw json.RawMessage
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodGet, endpoint+"?"+vals.Encode(), nil, c.headers(), &raw); err != nil {
		return execution.ProviderStatus{}, err
	}
	var resp statusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return execution.ProviderStatus{}, clierr.Wrap(clierr.CodeInvalidRoute, "decode lifi status", err)
	}
	return execution.ProviderStatus{
		Status:    resp.Status,
		Substatus: resp.Substatus,
		Message:   resp.SubstatusMessage,
		DestTx:    resp.Receiving.TxHash,
		Raw:       raw,
	}, nil
}

func (c *Client) PostSignature(context.Context, route.Postback, string) error {
	return clierr.New(clierr.CodeUnsupported, "lifi routes do not use signature postbacks")
}

// StatusByTx reads the current status of a transaction sent for r.
func (c *Client) StatusByTx(ctx context.Context, r route.Route, sub route.SubmittedTx) (execution.ProviderStatus, error) {
	check := route.StatusCheck{Endpoint: registry.LiFiStatusPath}
	for _, step := range r.Steps {
		if step.Check != nil {
			check = *step.Check
		}
	}
	return c.FetchStatus(ctx, check, sub)
}

func (c *Client) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"x-lifi-api-key": c.apiKey}
}

func feeSummary(est *quoteEstimate) []model.FeeAmount {
	out := make([]model.FeeAmount, 0, len(est.FeeCosts)+len(est.GasCosts))
	for _, item := range est.FeeCosts {
		v, _ := strconv.ParseFloat(item.AmountUSD, 64)
		out = append(out, model.FeeAmount{Name: firstNonEmpty(item.Name, "fee"), AmountUSD: v})
	}
	for _, item := range est.GasCosts {
		v, _ := strconv.ParseFloat(item.AmountUSD, 64)
		out = append(out, model.FeeAmount{Name: "gas " + strings.ToLower(firstNonEmpty(item.Type, "send")), AmountUSD: v})
	}
	return out
}

func formatSlippage(bps int64) string {
	return strconv.FormatFloat(float64(bps)/10000, 'f', -1, 64)
}

func mustJSON(v any) json.RawMessage {
	buf, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return buf
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func ensureHexPrefix(v string) string {
	clean := strings.TrimSpace(v)
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		return clean
	}
	return "0x" + clean
}
