package registry

import (
	"fmt"
	"strings"
)

// Canonical default EVM RPC endpoints by chain ID. The first entry is the
// primary, the rest are tried once each when the primary is unhealthy.
var defaultRPCByChainID = map[int64][]string{
	1:      {"https://eth.llamarpc.com", "https://ethereum-rpc.publicnode.com"},
	10:     {"https://mainnet.optimism.io", "https://optimism-rpc.publicnode.com"},
	56:     {"https://bsc-dataseed.binance.org", "https://bsc-rpc.publicnode.com"},
	100:    {"https://rpc.gnosischain.com", "https://gnosis-rpc.publicnode.com"},
	137:    {"https://polygon-rpc.com", "https://polygon-bor-rpc.publicnode.com"},
	146:    {"https://rpc.soniclabs.com"},
	324:    {"https://mainnet.era.zksync.io"},
	5000:   {"https://rpc.mantle.xyz"},
	8453:   {"https://mainnet.base.org", "https://base-rpc.publicnode.com"},
	42220:  {"https://forno.celo.org"},
	42161:  {"https://arb1.arbitrum.io/rpc", "https://arbitrum-one-rpc.publicnode.com"},
	43114:  {"https://api.avax.network/ext/bc/C/rpc", "https://avalanche-c-chain-rpc.publicnode.com"},
	57073:  {"https://rpc-gel.inkonchain.com"},
	59144:  {"https://rpc.linea.build"},
	80094:  {"https://rpc.berachain.com"},
	81457:  {"https://rpc.blast.io"},
	167000: {"https://rpc.mainnet.taiko.xyz"},
	534352: {"https://rpc.scroll.io"},
}

func DefaultRPCURL(chainID int64) (string, bool) {
	values, ok := defaultRPCByChainID[chainID]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func ResolveRPCURL(override string, chainID int64) (string, error) {
	urls, err := ResolveRPCURLs([]string{override}, chainID)
	if err != nil {
		return "", err
	}
	return urls[0], nil
}

// ResolveRPCURLs returns the ordered endpoint list for chainID: non-empty
// overrides replace the defaults entirely.
func ResolveRPCURLs(overrides []string, chainID int64) ([]string, error) {
	out := make([]string, 0, len(overrides))
	for _, v := range overrides {
		if clean := strings.TrimSpace(v); clean != "" {
			out = append(out, clean)
		}
	}
	if len(out) > 0 {
		return out, nil
	}
	if values, ok := defaultRPCByChainID[chainID]; ok && len(values) > 0 {
		return append([]string(nil), values...), nil
	}
	return nil, fmt.Errorf("no default rpc configured for chain id %d; provide --rpc-url", chainID)
}
