package id

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/bridgectl/internal/errors"
)

var (
	eip155ChainPattern = regexp.MustCompile(`^eip155:[0-9]+$`)
	evmAddressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	eip155AssetPattern = regexp.MustCompile(`^eip155:[0-9]+/(erc20|slip44):[0-9a-zA-Zx]+$`)
)

// NativeAddress is the token address providers accept for a chain's gas asset.
const NativeAddress = "0x0000000000000000000000000000000000000000"

type Chain struct {
	Name         string
	Slug         string
	CAIP2        string
	EVMChainID   int64
	NativeSymbol string
	// LogTag is the short label printed in front of chain scoped log lines.
	LogTag string
}

type Asset struct {
	ChainID  string
	AssetID  string
	Address  string
	Symbol   string
	Decimals int
	Native   bool
}

func (a Asset) EVMAddress() common.Address {
	return common.HexToAddress(a.Address)
}

type Token struct {
	Symbol   string
	Address  string
	Decimals int
}

var chains = []Chain{
	{Name: "Ethereum", Slug: "ethereum", EVMChainID: 1, NativeSymbol: "ETH", LogTag: "ETH"},
	{Name: "Optimism", Slug: "optimism", EVMChainID: 10, NativeSymbol: "ETH", LogTag: "OP"},
	{Name: "BSC", Slug: "bsc", EVMChainID: 56, NativeSymbol: "BNB", LogTag: "BSC"},
	{Name: "Gnosis", Slug: "gnosis", EVMChainID: 100, NativeSymbol: "XDAI", LogTag: "GNO"},
	{Name: "Polygon", Slug: "polygon", EVMChainID: 137, NativeSymbol: "POL", LogTag: "POL"},
	{Name: "Sonic", Slug: "sonic", EVMChainID: 146, NativeSymbol: "S", LogTag: "SONIC"},
	{Name: "zkSync", Slug: "zksync", EVMChainID: 324, NativeSymbol: "ETH", LogTag: "ZKS"},
	{Name: "Mantle", Slug: "mantle", EVMChainID: 5000, NativeSymbol: "MNT", LogTag: "MNT"},
	{Name: "Base", Slug: "base", EVMChainID: 8453, NativeSymbol: "ETH", LogTag: "BASE"},
	{Name: "Arbitrum", Slug: "arbitrum", EVMChainID: 42161, NativeSymbol: "ETH", LogTag: "ARB"},
	{Name: "Celo", Slug: "celo", EVMChainID: 42220, NativeSymbol: "CELO", LogTag: "CELO"},
	{Name: "Avalanche", Slug: "avalanche", EVMChainID: 43114, NativeSymbol: "AVAX", LogTag: "AVAX"},
	{Name: "Ink", Slug: "ink", EVMChainID: 57073, NativeSymbol: "ETH", LogTag: "INK"},
	{Name: "Linea", Slug: "linea", EVMChainID: 59144, NativeSymbol: "ETH", LogTag: "LINEA"},
	{Name: "Berachain", Slug: "berachain", EVMChainID: 80094, NativeSymbol: "BERA", LogTag: "BERA"},
	{Name: "Blast", Slug: "blast", EVMChainID: 81457, NativeSymbol: "ETH", LogTag: "BLAST"},
	{Name: "Taiko", Slug: "taiko", EVMChainID: 167000, NativeSymbol: "ETH", LogTag: "TAIKO"},
	{Name: "Scroll", Slug: "scroll", EVMChainID: 534352, NativeSymbol: "ETH", LogTag: "SCR"},
}

var chainAliases = map[string]string{
	"mainnet":      "ethereum",
	"eth":          "ethereum",
	"op":           "optimism",
	"arb":          "arbitrum",
	"arbitrum-one": "arbitrum",
	"matic":        "polygon",
	"bnb":          "bsc",
	"avax":         "avalanche",
	"xdai":         "gnosis",
}

var chainBySlug, chainByID = func() (map[string]Chain, map[int64]Chain) {
	bySlug := make(map[string]Chain, len(chains))
	byID := make(map[int64]Chain, len(chains))
	for i := range chains {
		chains[i].CAIP2 = fmt.Sprintf("eip155:%d", chains[i].EVMChainID)
		bySlug[chains[i].Slug] = chains[i]
		byID[chains[i].EVMChainID] = chains[i]
	}
	for alias, slug := range chainAliases {
		bySlug[alias] = bySlug[slug]
	}
	return bySlug, byID
}()

// Small bootstrap registry for deterministic asset parsing on Tier-1 chains.
var tokenRegistry = map[int64][]Token{
	1: {
		{Symbol: "USDC", Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Decimals: 6},
		{Symbol: "USDT", Address: "0xdac17f958d2ee523a2206206994597c13d831ec7", Decimals: 6},
		{Symbol: "DAI", Address: "0x6b175474e89094c44da98b954eedeac495271d0f", Decimals: 18},
		{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
	},
	8453: {
		{Symbol: "USDC", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
		{Symbol: "DAI", Address: "0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb", Decimals: 18},
		{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	},
	42161: {
		{Symbol: "USDC", Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6},
		{Symbol: "USDT", Address: "0xFd086bC7CD5C481DCC9C85ebe478A1C0b69FCbb9", Decimals: 6},
		{Symbol: "DAI", Address: "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1", Decimals: 18},
		{Symbol: "WETH", Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Decimals: 18},
	},
	10: {
		{Symbol: "USDC", Address: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", Decimals: 6},
		{Symbol: "USDC.E", Address: "0x7F5c764cBc14f9669B88837ca1490cCa17c31607", Decimals: 6},
		{Symbol: "USDT", Address: "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58", Decimals: 6},
		{Symbol: "DAI", Address: "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1", Decimals: 18},
		{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	},
	137: {
		{Symbol: "USDC", Address: "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359", Decimals: 6},
		{Symbol: "USDT", Address: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Decimals: 6},
		{Symbol: "DAI", Address: "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063", Decimals: 18},
		{Symbol: "WETH", Address: "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619", Decimals: 18},
	},
	56: {
		{Symbol: "USDC", Address: "0x8ac76a51cc950d9822d68b83fe1ad97b32cd580d", Decimals: 18},
		{Symbol: "USDT", Address: "0x55d398326f99059fF775485246999027B3197955", Decimals: 18},
		{Symbol: "DAI", Address: "0x1AF3F329e8BE154074D8769D1FFa4eE058B1DBc3", Decimals: 18},
		{Symbol: "WETH", Address: "0x2170Ed0880ac9A755fd29B2688956BD959F933F8", Decimals: 18},
	},
	43114: {
		{Symbol: "USDC", Address: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", Decimals: 6},
		{Symbol: "USDT", Address: "0x9702230A8Ea53601f5cD2dc00fDBc13d4dF4A8c7", Decimals: 6},
		{Symbol: "DAI", Address: "0xd586E7F844cEa2F87f50152665BCbc2C279D8d70", Decimals: 18},
		{Symbol: "WETH", Address: "0x49D5c2BdFfac6CE2BFdB6640F4F80f226bc10bAB", Decimals: 18},
	},
}

func ParseChain(input string) (Chain, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	norm := strings.ToLower(raw)

	if chain, ok := chainBySlug[norm]; ok {
		return chain, nil
	}

	idPart := norm
	if eip155ChainPattern.MatchString(norm) {
		idPart = strings.TrimPrefix(norm, "eip155:")
	}
	if id, err := strconv.ParseInt(idPart, 10, 64); err == nil && id > 0 {
		if chain, ok := chainByID[id]; ok {
			return chain, nil
		}
		return Chain{
			Name:         fmt.Sprintf("EVM-%d", id),
			Slug:         fmt.Sprintf("evm-%d", id),
			CAIP2:        fmt.Sprintf("eip155:%d", id),
			EVMChainID:   id,
			NativeSymbol: "ETH",
			LogTag:       strconv.FormatInt(id, 10),
		}, nil
	}

	return Chain{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported chain input: %s", input))
}

// ParseChainList parses a comma separated chain filter. Empty input yields nil.
func ParseChainList(input string) ([]Chain, error) {
	var out []Chain
	for _, part := range strings.Split(input, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		chain, err := ParseChain(part)
		if err != nil {
			return nil, err
		}
		out = append(out, chain)
	}
	return out, nil
}

// ChainByID returns the known chain for id.
func ChainByID(id int64) (Chain, bool) {
	chain, ok := chainByID[id]
	return chain, ok
}

func KnownChains() []Chain {
	out := make([]Chain, len(chains))
	copy(out, chains)
	sort.Slice(out, func(i, j int) bool { return out[i].EVMChainID < out[j].EVMChainID })
	return out
}

func ParseAsset(input string, chain Chain) (Asset, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Asset{}, clierr.New(clierr.CodeUsage, "asset is required")
	}

	if isNativeInput(raw, chain) {
		return nativeAsset(chain), nil
	}

	if strings.Contains(raw, "/") {
		if !eip155AssetPattern.MatchString(raw) {
			return Asset{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid CAIP-19 asset format: %s", input))
		}
		parts := strings.SplitN(raw, "/", 2)
		if parts[0] != chain.CAIP2 {
			return Asset{}, clierr.New(clierr.CodeUsage, "asset chain does not match --chain")
		}
		assetParts := strings.SplitN(parts[1], ":", 2)
		if strings.EqualFold(assetParts[0], "slip44") {
			return nativeAsset(chain), nil
		}
		if !evmAddressPattern.MatchString(assetParts[1]) {
			return Asset{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid CAIP-19 asset format: %s", input))
		}
		return assetForAddress(chain, assetParts[1]), nil
	}

	if evmAddressPattern.MatchString(raw) {
		return assetForAddress(chain, raw), nil
	}

	matches := findTokensBySymbol(chain.EVMChainID, raw)
	if len(matches) == 0 {
		return Asset{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("symbol %s not found in registry for chain %s", input, chain.CAIP2))
	}
	if len(matches) > 1 {
		addresses := make([]string, 0, len(matches))
		for _, m := range matches {
			addresses = append(addresses, m.Address)
		}
		sort.Strings(addresses)
		return Asset{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("symbol %s is ambiguous on chain %s, use address or CAIP-19 (%s)", input, chain.CAIP2, strings.Join(addresses, ", ")))
	}
	t := matches[0]
	return Asset{
		ChainID:  chain.CAIP2,
		AssetID:  canonicalAssetID(chain.CAIP2, t.Address),
		Address:  t.Address,
		Symbol:   t.Symbol,
		Decimals: t.Decimals,
	}, nil
}

func isNativeInput(raw string, chain Chain) bool {
	lower := strings.ToLower(raw)
	if lower == "native" || lower == NativeAddress || lower == "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee" {
		return true
	}
	return chain.NativeSymbol != "" && strings.EqualFold(raw, chain.NativeSymbol)
}

func nativeAsset(chain Chain) Asset {
	return Asset{
		ChainID:  chain.CAIP2,
		AssetID:  fmt.Sprintf("%s/slip44:60", chain.CAIP2),
		Address:  NativeAddress,
		Symbol:   chain.NativeSymbol,
		Decimals: 18,
		Native:   true,
	}
}

func assetForAddress(chain Chain, address string) Asset {
	addr := strings.ToLower(strings.TrimSpace(address))
	if addr == NativeAddress {
		return nativeAsset(chain)
	}
	token, _ := findTokenByAddress(chain.EVMChainID, addr)
	return Asset{ChainID: chain.CAIP2, AssetID: canonicalAssetID(chain.CAIP2, addr), Address: addr, Symbol: token.Symbol, Decimals: token.Decimals}
}

func canonicalAssetID(chainID, address string) string {
	return fmt.Sprintf("%s/erc20:%s", chainID, strings.ToLower(strings.TrimSpace(address)))
}

func findTokenByAddress(chainID int64, address string) (Token, bool) {
	for _, t := range tokenRegistry[chainID] {
		if strings.EqualFold(t.Address, address) {
			return Token{Symbol: strings.ToUpper(t.Symbol), Address: strings.ToLower(t.Address), Decimals: t.Decimals}, true
		}
	}
	return Token{}, false
}

func findTokensBySymbol(chainID int64, symbol string) []Token {
	matches := []Token{}
	for _, t := range tokenRegistry[chainID] {
		if strings.EqualFold(t.Symbol, symbol) {
			matches = append(matches, Token{Symbol: strings.ToUpper(t.Symbol), Address: strings.ToLower(t.Address), Decimals: t.Decimals})
		}
	}
	return matches
}

// IsStableSymbol reports whether symbol is one of the dollar stablecoins in
// the registry.
func IsStableSymbol(symbol string) bool {
	switch strings.ToUpper(strings.TrimSpace(symbol)) {
	case "USDC", "USDC.E", "USDT", "DAI", "USDBC", "USDT0", "FDUSD", "USDE":
		return true
	}
	return false
}
