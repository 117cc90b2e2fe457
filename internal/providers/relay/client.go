package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ggonzalez94/bridgectl/internal/cache"
	clierr "github.com/ggonzalez94/bridgectl/internal/errors"
	"github.com/ggonzalez94/bridgectl/internal/execution"
	"github.com/ggonzalez94/bridgectl/internal/execution/signer"
	"github.com/ggonzalez94/bridgectl/internal/httpx"
	"github.com/ggonzalez94/bridgectl/internal/logger"
	"github.com/ggonzalez94/bridgectl/internal/model"
	"github.com/ggonzalez94/bridgectl/internal/providers"
	"github.com/ggonzalez94/bridgectl/internal/registry"
	"github.com/ggonzalez94/bridgectl/internal/route"
)

const (
	EnvAPIKey = "BRIDGE_RELAY_API_KEY"

	receiptAttempts = 15
	statusAttempts  = 30

	chainsTTL = time.Hour
	priceTTL  = time.Minute
)

type AppFee struct {
	Recipient string `json:"recipient"`
	// Fee is expressed in bps of the input amount.
	Fee string `json:"fee"`
}

type Config struct {
	BaseURL string
	Testnet bool
	APIKey  string
	Source  string
	AppFees []AppFee
	Cache   *cache.Store
	// MaxStale is how long past its TTL a cached lookup may still be served
	// when the refresh fails.
	MaxStale time.Duration
}

type Client struct {
	http     *httpx.Client
	baseURL  string
	apiKey   string
	source   string
	appFees  []AppFee
	cache    *cache.Store
	maxStale time.Duration
	exec     providers.ExecutionConfig
	now      func() time.Time
}

func New(httpClient *httpx.Client, cfg Config, exec providers.ExecutionConfig) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = registry.RelayBaseURL
		if cfg.Testnet {
			base = registry.RelayTestnetBaseURL
		}
	}
	return &Client{
		http:     httpClient,
		baseURL:  base,
		apiKey:   strings.TrimSpace(cfg.APIKey),
		source:   strings.TrimSpace(cfg.Source),
		appFees:  cfg.AppFees,
		cache:    cfg.Cache,
		maxStale: cfg.MaxStale,
		exec:     exec,
		now:      time.Now,
	}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:        "relay",
		Type:        "aggregator",
		RequiresKey: false,
		Capabilities: []string{
			"route.quote",
			"route.execute",
			"route.status",
			"chains.list",
			"token.price",
		},
		KeyEnvVarName: EnvAPIKey,
		BaseURL:       c.baseURL,
	}
}

func (c *Client) Tag() providers.Tag { return providers.TagRelay }

func (c *Client) Name() string { return string(providers.TagRelay) }

type quoteRequest struct {
	User                string   `json:"user"`
	Recipient           string   `json:"recipient"`
	OriginChainID       int64    `json:"originChainId"`
	DestinationChainID  int64    `json:"destinationChainId"`
	OriginCurrency      string   `json:"originCurrency"`
	DestinationCurrency string   `json:"destinationCurrency"`
	Amount              string   `json:"amount"`
	SlippageTolerance   string   `json:"slippageTolerance,omitempty"`
	TradeType           string   `json:"tradeType"`
	Source              string   `json:"source,omitempty"`
	AppFees             []AppFee `json:"appFees,omitempty"`
}

type quoteResponse struct {
	Steps   []quoteStep                `json:"steps"`
	Fees    map[string]json.RawMessage `json:"fees"`
	Details map[string]json.RawMessage `json:"details"`
}

type quoteStep struct {
	ID          string     `json:"id"`
	Action      string     `json:"action"`
	Description string     `json:"description"`
	Kind        string     `json:"kind"`
	RequestID   string     `json:"requestId"`
	Items       []stepItem `json:"items"`
}

type stepItem struct {
	Status string     `json:"status"`
	Data   *txData    `json:"data"`
	Sign   *signData  `json:"sign"`
	Post   *postData  `json:"post"`
	Check  *checkData `json:"check"`
}

type txData struct {
	From                 string          `json:"from"`
	To                   string          `json:"to"`
	Data                 string          `json:"data"`
	Value                string          `json:"value"`
	ChainID              int64           `json:"chainId"`
	Gas                  json.RawMessage `json:"gas"`
	GasPrice             string          `json:"gasPrice"`
	MaxFeePerGas         string          `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string          `json:"maxPriorityFeePerGas"`
}

type signData struct {
	SignatureKind string `json:"signatureKind"`
	Message       string `json:"message"`
}

type postData struct {
	Endpoint string                     `json:"endpoint"`
	Method   string                     `json:"method"`
	Body     map[string]json.RawMessage `json:"body"`
}

type checkData struct {
	Endpoint string `json:"endpoint"`
	Method   string `json:"method"`
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
	req := quoteRequest{
		User:                intent.WalletAddress.Hex(),
		Recipient:           intent.Recipient().Hex(),
		OriginChainID:       intent.SourceChainID,
		DestinationChainID:  intent.DestChainID,
		OriginCurrency:      strings.ToLower(intent.SourceToken.Hex()),
		DestinationCurrency: strings.ToLower(intent.DestToken.Hex()),
		Amount:              intent.Amount.String(),
		TradeType:           string(intent.Trade()),
		Source:              c.source,
		AppFees:             c.appFees,
	}
	if intent.SlippageBps > 0 {
		req.SlippageTolerance = strconv.FormatInt(intent.SlippageBps, 10)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return route.Route{}, clierr.Wrap(clierr.CodeInternal, "marshal relay quote request", err)
	}

	var raw json.RawMessage
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+"/quote", body, c.headers(), &raw); err != nil {
		return route.Route{}, err
	}
	r, err := normalizeQuote(intent, raw)
	if err != nil {
		return route.Route{}, err
	}
	logger.OrEmpty(c.exec.Log).InfoWithChain(intent.SourceChainID, "relay quote: %d step(s) to chain %d", len(r.Steps), intent.DestChainID)
	return r, nil
}

// normalizeQuote maps every step item onto one route step. Steps without
// items carry nothing to execute and are dropped.
func normalizeQuote(intent route.MoveIntent, raw json.RawMessage) (route.Route, error) {
	var resp quoteResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return route.Route{}, clierr.Wrap(clierr.CodeInvalidRoute, "decode relay quote", err)
	}
	if resp.Fees == nil {
		return route.Route{}, clierr.New(clierr.CodeInvalidRoute, "relay quote has no fee summary")
	}
	if resp.Details == nil {
		return route.Route{}, clierr.New(clierr.CodeInvalidRoute, "relay quote has no route details")
	}

	steps := make([]route.Step, 0, len(resp.Steps))
	for _, qs := range resp.Steps {
		for i, item := range qs.Items {
			stepID := qs.ID
			if len(qs.Items) > 1 {
				stepID = fmt.Sprintf("%s-%d", qs.ID, i+1)
			}
			step, err := normalizeItem(intent, qs, item, stepID)
			if err != nil {
				return route.Route{}, err
			}
			steps = append(steps, step)
		}
	}
	if len(steps) == 0 {
		return route.Route{}, clierr.New(clierr.CodeInvalidRoute, "relay quote has no executable steps")
	}

	details := make(map[string]json.RawMessage, len(resp.Details)+2)
	for k, v := range resp.Details {
		details[k] = v
	}
	details["fee_summary"] = mustJSON(feeSummary(resp.Fees))
	if out := estimatedOut(resp.Details); out != nil {
		details["estimated_out"] = mustJSON(out)
	}

	r := route.Route{
		Provider: string(providers.TagRelay),
		Intent:   intent,
		Steps:    steps,
		Fees:     resp.Fees,
		Details:  details,
	}
	if err := r.Validate(); err != nil {
		return route.Route{}, err
	}
	return r, nil
}

func normalizeItem(intent route.MoveIntent, qs quoteStep, item stepItem, stepID string) (route.Step, error) {
	step := route.Step{ID: stepID, Description: firstNonEmpty(qs.Description, qs.Action)}
	if item.Check != nil && strings.TrimSpace(item.Check.Endpoint) != "" {
		requestID := requestIDFromEndpoint(item.Check.Endpoint)
		if requestID == "" {
			requestID = qs.RequestID
		}
		step.Check = &route.StatusCheck{
			Endpoint: item.Check.Endpoint,
			Params:   map[string]string{"requestId": requestID},
		}
	}

	switch strings.ToLower(strings.TrimSpace(qs.Kind)) {
	case string(route.StepKindTransaction):
		if item.Data == nil {
			return route.Step{}, clierr.New(clierr.CodeInvalidRoute, fmt.Sprintf("relay step %s has no transaction data", stepID))
		}
		if !common.IsHexAddress(strings.TrimSpace(item.Data.To)) {
			return route.Step{}, clierr.New(clierr.CodeInvalidRoute, fmt.Sprintf("relay step %s has an invalid target", stepID))
		}
		data, err := hexutil.Decode(ensureHexPrefix(firstNonEmpty(item.Data.Data, "0x")))
		if err != nil {
			return route.Step{}, clierr.Wrap(clierr.CodeInvalidRoute, fmt.Sprintf("decode relay step %s calldata", stepID), err)
		}
		value, err := route.ParseBaseUnits(item.Data.Value)
		if err != nil {
			return route.Step{}, clierr.Wrap(clierr.CodeInvalidRoute, fmt.Sprintf("parse relay step %s value", stepID), err)
		}
		chainID := item.Data.ChainID
		if chainID == 0 {
			chainID = intent.SourceChainID
		}
		step.Kind = route.StepKindTransaction
		step.Tx = &route.TxPayload{
			To:                common.HexToAddress(item.Data.To),
			Data:              data,
			Value:             value,
			ChainID:           chainID,
			SuggestedGas:      rawNumber(item.Data.Gas),
			SuggestedGasPrice: firstNonEmpty(item.Data.GasPrice, item.Data.MaxFeePerGas),
		}
	case string(route.StepKindSignature):
		if item.Sign == nil || strings.TrimSpace(item.Sign.Message) == "" {
			return route.Step{}, clierr.New(clierr.CodeInvalidRoute, fmt.Sprintf("relay step %s has no message to sign", stepID))
		}
		step.Kind = route.StepKindSignature
		step.Signature = &route.SignaturePayload{Message: item.Sign.Message, Scheme: item.Sign.SignatureKind}
		if item.Post != nil && strings.TrimSpace(item.Post.Endpoint) != "" {
			step.Signature.Postback = &route.Postback{
				Endpoint: item.Post.Endpoint,
				Method:   item.Post.Method,
				Body:     item.Post.Body,
			}
		}
	default:
		return route.Step{}, clierr.New(clierr.CodeInvalidRoute, fmt.Sprintf("relay step %s has unknown kind %q", stepID, qs.Kind))
	}
	return step, nil
}

func (c *Client) Execute(ctx context.Context, s signer.Signer, r route.Route) ([]route.StepResult, error) {
	return c.exec.Executor(c, c, receiptAttempts, statusAttempts).Execute(ctx, s, r)
}

type statusResponse struct {
	Status     string          `json:"status"`
	Details    json.RawMessage `json:"details"`
	InTxHashes []string        `json:"inTxHashes"`
	TxHashes   []string        `json:"txHashes"`
	UpdatedAt  int64           `json:"updatedAt"`
}

func (c *Client) FetchStatus(ctx context.Context, check route.StatusCheck, _ route.SubmittedTx) (execution.ProviderStatus, error) {
	requestID := strings.TrimSpace(check.Params["requestId"])
	if requestID == "" {
		requestID = requestIDFromEndpoint(check.Endpoint)
	}
	if requestID == "" {
		return execution.ProviderStatus{}, clierr.New(clierr.CodeInvalidRoute, "relay status check has no request id")
	}
	return c.StatusByRequestID(ctx, requestID)
}

func (c *Client) StatusByRequestID(ctx context.Context, requestID string) (execution.ProviderStatus, error) {
	endpoint := c.baseURL + registry.RelayStatusPath + "?" + url.Values{"requestId": []string{requestID}}.Encode()
	var raw json.RawMessage
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodGet, endpoint, nil, c.headers(), &raw); err != nil {
		return execution.ProviderStatus{}, err
	}
	var resp statusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return execution.ProviderStatus{}, clierr.Wrap(clierr.CodeInvalidRoute, "decode relay status", err)
	}
	status := execution.ProviderStatus{Status: resp.Status, Message: detailText(resp.Details), Raw: raw}
	if len(resp.TxHashes) > 0 {
		status.DestTx = resp.TxHashes[len(resp.TxHashes)-1]
	}
	return status, nil
}

// StatusByTx resolves the request id from the route's last checked step.
func (c *Client) StatusByTx(ctx context.Context, r route.Route, sub route.SubmittedTx) (execution.ProviderStatus, error) {
	for i := len(r.Steps) - 1; i >= 0; i-- {
		if check := r.Steps[i].Check; check != nil {
			return c.FetchStatus(ctx, *check, sub)
		}
	}
	return execution.ProviderStatus{}, clierr.New(clierr.CodeUnsupported, "relay route has no status check")
}

// PostSignature delivers a signature to the endpoint named by the quote.
func (c *Client) PostSignature(ctx context.Context, postback route.Postback, signature string) error {
	endpoint, err := registry.ResolveProviderURL(c.baseURL, postback.Endpoint)
	if err != nil {
		return clierr.Wrap(clierr.CodeInvalidRoute, "resolve relay postback endpoint", err)
	}
	body := make(map[string]json.RawMessage, len(postback.Body)+1)
	for k, v := range postback.Body {
		body[k] = v
	}
	body["signature"] = mustJSON(signature)
	buf, err := json.Marshal(body)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "marshal relay postback", err)
	}
	method := strings.ToUpper(firstNonEmpty(postback.Method, http.MethodPost))
	_, err = httpx.DoBodyJSON(ctx, c.http, method, endpoint, buf, c.headers(), nil)
	return err
}

// NotifySubmitted tells Relay to index a transaction it has not seen yet.
func (c *Client) NotifySubmitted(ctx context.Context, sub route.SubmittedTx) error {
	buf, err := json.Marshal(map[string]string{
		"txHash":  sub.TxHash.Hex(),
		"chainId": strconv.FormatInt(sub.ChainID, 10),
	})
	if err != nil {
		return err
	}
	_, err = httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+registry.RelayIndexPath, buf, c.headers(), nil)
	return err
}

type chainEntry struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Disabled    bool   `json:"disabled"`
	Currency    struct {
		Symbol string `json:"symbol"`
	} `json:"currency"`
}

func (c *Client) Chains(ctx context.Context) ([]model.ChainInfo, error) {
	raw, _, err := c.cache.Remember("relay:chains:"+c.baseURL, chainsTTL, c.maxStale, func() ([]byte, error) {
		var raw json.RawMessage
		_, err := httpx.DoBodyJSON(ctx, c.http, http.MethodGet, c.baseURL+"/chains", nil, c.headers(), &raw)
		return raw, err
	})
	if err != nil {
		return nil, err
	}
	var entries []chainEntry
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &entries)
	} else {
		var wrapped struct {
			Chains []chainEntry `json:"chains"`
		}
		err = json.Unmarshal(trimmed, &wrapped)
		entries = wrapped.Chains
	}
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode relay chains", err)
	}
	out := make([]model.ChainInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, model.ChainInfo{
			ChainID:  e.ID,
			Name:     firstNonEmpty(e.DisplayName, e.Name),
			Slug:     e.Name,
			Native:   e.Currency.Symbol,
			Disabled: e.Disabled,
			Source:   c.Name(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out, nil
}

func (c *Client) TokenPrice(ctx context.Context, chainID int64, token string) (model.TokenPrice, error) {
	if !common.IsHexAddress(strings.TrimSpace(token)) {
		return model.TokenPrice{}, clierr.New(clierr.CodeUsage, "token price requires a token address")
	}
	address := strings.ToLower(strings.TrimSpace(token))
	vals := url.Values{}
	vals.Set("address", address)
	vals.Set("chainId", strconv.FormatInt(chainID, 10))
	key := fmt.Sprintf("relay:price:%d:%s", chainID, address)
	raw, _, err := c.cache.Remember(key, priceTTL, c.maxStale, func() ([]byte, error) {
		var raw json.RawMessage
		_, err := httpx.DoBodyJSON(ctx, c.http, http.MethodGet, c.baseURL+"/currencies/token/price?"+vals.Encode(), nil, c.headers(), &raw)
		return raw, err
	})
	if err != nil {
		return model.TokenPrice{}, err
	}
	var resp struct {
		Price json.Number `json:"price"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return model.TokenPrice{}, clierr.Wrap(clierr.CodeUnavailable, "decode relay token price", err)
	}
	price, err := resp.Price.Float64()
	if err != nil {
		return model.TokenPrice{}, clierr.Wrap(clierr.CodeUnavailable, "parse relay token price", err)
	}
	return model.TokenPrice{
		ChainID:   chainID,
		Address:   address,
		PriceUSD:  price,
		Provider:  c.Name(),
		FetchedAt: c.now().UTC().Format(time.RFC3339),
	}, nil
}

func (c *Client) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"x-api-key": c.apiKey}
}

func requestIDFromEndpoint(endpoint string) string {
	idx := strings.Index(endpoint, "requestId=")
	if idx < 0 {
		return ""
	}
	value := endpoint[idx+len("requestId="):]
	if amp := strings.IndexByte(value, '&'); amp >= 0 {
		value = value[:amp]
	}
	if unescaped, err := url.QueryUnescape(value); err == nil {
		value = unescaped
	}
	return strings.TrimSpace(value)
}

type feeEntry struct {
	AmountUSD string `json:"amountUsd"`
}

func feeSummary(fees map[string]json.RawMessage) []model.FeeAmount {
	keys := make([]string, 0, len(fees))
	for k := range fees {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]model.FeeAmount, 0, len(keys))
	for _, k := range keys {
		var entry feeEntry
		if err := json.Unmarshal(fees[k], &entry); err != nil || entry.AmountUSD == "" {
			continue
		}
		v, _ := strconv.ParseFloat(entry.AmountUSD, 64)
		out = append(out, model.FeeAmount{Name: k, AmountUSD: v})
	}
	return out
}

func estimatedOut(details map[string]json.RawMessage) *model.AmountInfo {
	var currencyOut struct {
		Amount          string `json:"amount"`
		AmountFormatted string `json:"amountFormatted"`
		Currency        struct {
			Decimals int `json:"decimals"`
		} `json:"currency"`
	}
	raw, ok := details["currencyOut"]
	if !ok || json.Unmarshal(raw, &currencyOut) != nil || currencyOut.Amount == "" {
		return nil
	}
	return &model.AmountInfo{
		AmountBaseUnits: currencyOut.Amount,
		AmountDecimal:   currencyOut.AmountFormatted,
		Decimals:        currencyOut.Currency.Decimals,
	}
}

func detailText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func rawNumber(raw json.RawMessage) string {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "null" {
		return ""
	}
	return s
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

var (
	_ providers.Adapter      = (*Client)(nil)
	_ providers.StatusReader = (*Client)(nil)
	_ providers.ChainLister  = (*Client)(nil)
	_ providers.TokenPricer  = (*Client)(nil)
	_ execution.Notifier     = (*Client)(nil)
)
