package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/bridgectl/internal/errors"
	"github.com/ggonzalez94/bridgectl/internal/execution"
	execsigner "github.com/ggonzalez94/bridgectl/internal/execution/signer"
	"github.com/ggonzalez94/bridgectl/internal/id"
	"github.com/ggonzalez94/bridgectl/internal/route"
)

func newExecutionSigner(backend, keySource, confirmAddress string) (execsigner.Signer, error) {
	if backend = strings.ToLower(strings.TrimSpace(backend)); backend != "" && backend != "local" {
		return nil, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unsupported signer backend %q", backend))
	}
	txSigner, err := execsigner.NewLocalSignerFromInputs(keySource, "")
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "initialize local signer", err)
	}
	if want := strings.TrimSpace(confirmAddress); want != "" {
		if !common.IsHexAddress(want) {
			return nil, clierr.New(clierr.CodeUsage, "--confirm-address must be an EVM address")
		}
		if common.HexToAddress(want) != txSigner.Address() {
			return nil, clierr.New(clierr.CodeSigner, "signer address does not match --confirm-address")
		}
	}
	return txSigner, nil
}

func (s *runtimeState) ensureRunStore() error {
	if s.runStore != nil {
		return nil
	}
	store, err := execution.OpenStore(s.settings.RunStorePath, s.settings.RunLockPath)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "open run store", err)
	}
	s.runStore = store
	return nil
}

func asAbortError(err error) (*execution.AbortError, bool) {
	var aborted *execution.AbortError
	if errors.As(err, &aborted) {
		return aborted, true
	}
	return nil, false
}

func parseChainAsset(chainArg, assetArg string) (id.Chain, id.Asset, error) {
	chain, err := id.ParseChain(chainArg)
	if err != nil {
		return id.Chain{}, id.Asset{}, err
	}
	if chain.EVMChainID <= 0 {
		return id.Chain{}, id.Asset{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("chain %s is not an EVM chain", chain.Name))
	}
	asset, err := id.ParseAsset(assetArg, chain)
	if err != nil {
		return id.Chain{}, id.Asset{}, err
	}
	return chain, asset, nil
}

type intentArgs struct {
	from        string
	to          string
	asset       string
	toAsset     string
	amount      string
	amountDec   string
	wallet      string
	recipient   string
	slippageBps int64
	tradeType   string
}

// buildIntent resolves user facing chain, asset and amount inputs into a
// MoveIntent. A native asset maps to the zero address.
func buildIntent(args intentArgs) (route.MoveIntent, id.Asset, id.Asset, error) {
	fromChain, fromAsset, err := parseChainAsset(args.from, args.asset)
	if err != nil {
		return route.MoveIntent{}, id.Asset{}, id.Asset{}, err
	}
	toAssetInput := strings.TrimSpace(args.toAsset)
	if toAssetInput == "" {
		if fromAsset.Symbol == "" {
			return route.MoveIntent{}, id.Asset{}, id.Asset{}, clierr.New(clierr.CodeUsage, "destination asset cannot be inferred, provide --to-asset")
		}
		toAssetInput = fromAsset.Symbol
	}
	toArg := strings.TrimSpace(args.to)
	if toArg == "" {
		toArg = args.from
	}
	toChain, toAsset, err := parseChainAsset(toArg, toAssetInput)
	if err != nil {
		return route.MoveIntent{}, id.Asset{}, id.Asset{}, clierr.Wrap(clierr.CodeUsage, "resolve destination asset", err)
	}

	decimals := fromAsset.Decimals
	if decimals <= 0 {
		decimals = 18
	}
	base, _, err := id.NormalizeAmount(args.amount, args.amountDec, decimals)
	if err != nil {
		return route.MoveIntent{}, id.Asset{}, id.Asset{}, err
	}
	amount, err := route.ParseBaseUnits(base)
	if err != nil {
		return route.MoveIntent{}, id.Asset{}, id.Asset{}, clierr.Wrap(clierr.CodeUsage, "parse amount", err)
	}

	wallet := strings.TrimSpace(args.wallet)
	if !common.IsHexAddress(wallet) {
		return route.MoveIntent{}, id.Asset{}, id.Asset{}, clierr.New(clierr.CodeUsage, "--wallet must be an EVM address")
	}
	var recipient common.Address
	if r := strings.TrimSpace(args.recipient); r != "" {
		if !common.IsHexAddress(r) {
			return route.MoveIntent{}, id.Asset{}, id.Asset{}, clierr.New(clierr.CodeUsage, "--recipient must be an EVM address")
		}
		recipient = common.HexToAddress(r)
	}

	intent := route.MoveIntent{
		WalletAddress:    common.HexToAddress(wallet),
		RecipientAddress: recipient,
		SourceChainID:    fromChain.EVMChainID,
		DestChainID:      toChain.EVMChainID,
		SourceToken:      tokenAddress(fromAsset),
		DestToken:        tokenAddress(toAsset),
		Amount:           amount,
		SlippageBps:      args.slippageBps,
		TradeType:        route.TradeType(strings.ToUpper(strings.TrimSpace(args.tradeType))),
	}
	if err := intent.Validate(); err != nil {
		return route.MoveIntent{}, id.Asset{}, id.Asset{}, err
	}
	return intent, fromAsset, toAsset, nil
}

func tokenAddress(a id.Asset) common.Address {
	if a.Native || strings.TrimSpace(a.Address) == "" {
		return route.NativeZero
	}
	return a.EVMAddress()
}
