// Package holdings reads the wallet balance snapshot that batch jobs act on.
// The snapshot is produced elsewhere; this package only loads and filters it.
package holdings

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/bridgectl/internal/errors"
	"github.com/ggonzalez94/bridgectl/internal/execution/signer"
	"github.com/ggonzalez94/bridgectl/internal/id"
	"github.com/ggonzalez94/bridgectl/internal/route"
	"gopkg.in/yaml.v3"
)

// stableTolerance is how far from one dollar a token may trade and still
// count as a stablecoin.
const stableTolerance = 0.01

type Holding struct {
	Chain    string  `yaml:"chain" json:"chain"`
	ChainID  int64   `yaml:"chain_id" json:"chain_id"`
	Token    string  `yaml:"token" json:"token"`
	Symbol   string  `yaml:"symbol" json:"symbol"`
	Amount   string  `yaml:"amount" json:"amount"`
	Decimals int     `yaml:"decimals" json:"decimals"`
	ValueUSD float64 `yaml:"value_usd" json:"value_usd"`
	PriceUSD float64 `yaml:"price_usd" json:"price_usd"`

	amount *big.Int
}

func (h Holding) Address() common.Address { return common.HexToAddress(h.Token) }

func (h Holding) IsNative() bool { return route.IsNative(h.Address()) }

// AmountBaseUnits returns a copy of the parsed amount.
func (h Holding) AmountBaseUnits() *big.Int {
	if h.amount == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(h.amount)
}

// IsStable reports whether the holding trades at one dollar.
func (h Holding) IsStable() bool {
	if h.PriceUSD > 0 {
		return math.Abs(h.PriceUSD-1) <= stableTolerance
	}
	return id.IsStableSymbol(h.Symbol)
}

type Wallet struct {
	Name    string `yaml:"name" json:"name"`
	Address string `yaml:"address" json:"address"`
	// KeyEnv names the environment variable holding the wallet's hex key.
	KeyEnv string `yaml:"key_env" json:"-"`
	// KeyFile points at a file containing the wallet's hex key.
	KeyFile  string    `yaml:"key_file" json:"-"`
	Holdings []Holding `yaml:"holdings" json:"holdings"`
}

func (w Wallet) Label() string {
	if strings.TrimSpace(w.Name) != "" {
		return w.Name
	}
	return w.Address
}

// Signer resolves the wallet's key reference. The key lives only as long
// as the returned signer.
func (w Wallet) Signer() (signer.Signer, error) {
	var (
		s   *signer.LocalSigner
		err error
	)
	switch {
	case strings.TrimSpace(w.KeyEnv) != "":
		raw := strings.TrimSpace(os.Getenv(w.KeyEnv))
		if raw == "" {
			return nil, clierr.New(clierr.CodeSigner, fmt.Sprintf("wallet %s: %s is empty", w.Label(), w.KeyEnv))
		}
		s, err = signer.NewLocalSignerFromHex(raw)
	case strings.TrimSpace(w.KeyFile) != "":
		s, err = signer.NewLocalSigner(signer.LocalSignerConfig{PrivateKeyFile: w.KeyFile})
	default:
		return nil, clierr.New(clierr.CodeSigner, fmt.Sprintf("wallet %s has no key reference", w.Label()))
	}
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, fmt.Sprintf("load key for wallet %s", w.Label()), err)
	}
	if w.Address != "" && s.Address() != common.HexToAddress(w.Address) {
		return nil, clierr.New(clierr.CodeSigner, fmt.Sprintf("wallet %s: key does not match address", w.Label()))
	}
	return s, nil
}

type File struct {
	Wallets []Wallet `yaml:"wallets"`
}

func Load(path string) (*File, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "read holdings file", err)
	}
	return Parse(buf)
}

// Parse decodes and validates a holdings document. Entries for the same
// chain and token within one wallet are merged.
func Parse(buf []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(buf, &f); err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "parse holdings file", err)
	}
	for i := range f.Wallets {
		w := &f.Wallets[i]
		if !common.IsHexAddress(strings.TrimSpace(w.Address)) {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("wallet %d has an invalid address %q", i, w.Address))
		}
		merged := make([]Holding, 0, len(w.Holdings))
		index := map[string]int{}
		for j, h := range w.Holdings {
			norm, err := normalize(h)
			if err != nil {
				return nil, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("wallet %s holding %d", w.Label(), j), err)
			}
			key := fmt.Sprintf("%d:%s", norm.ChainID, strings.ToLower(norm.Token))
			if k, ok := index[key]; ok {
				merged[k] = merge(merged[k], norm)
				continue
			}
			index[key] = len(merged)
			merged = append(merged, norm)
		}
		w.Holdings = merged
	}
	return &f, nil
}

func normalize(h Holding) (Holding, error) {
	if h.ChainID == 0 {
		chain, err := id.ParseChain(h.Chain)
		if err != nil {
			return Holding{}, err
		}
		h.ChainID = chain.EVMChainID
	}
	if h.Chain == "" {
		if chain, ok := id.ChainByID(h.ChainID); ok {
			h.Chain = chain.Slug
		}
	}
	token := strings.TrimSpace(h.Token)
	if token == "" {
		token = id.NativeAddress
	}
	if !common.IsHexAddress(token) {
		return Holding{}, fmt.Errorf("invalid token address %q", h.Token)
	}
	h.Token = strings.ToLower(token)
	amount, err := route.ParseBaseUnits(h.Amount)
	if err != nil {
		return Holding{}, err
	}
	h.amount = amount
	h.Amount = amount.String()
	return h, nil
}

func merge(a, b Holding) Holding {
	sum := new(big.Int).Add(a.AmountBaseUnits(), b.AmountBaseUnits())
	a.amount = sum
	a.Amount = sum.String()
	a.ValueUSD += b.ValueUSD
	if b.PriceUSD > 0 {
		a.PriceUSD = b.PriceUSD
	}
	return a
}

// Source is the balance oracle batch jobs consult for one wallet.
type Source interface {
	Holdings(ctx context.Context, wallet common.Address) ([]Holding, error)
}

func (f *File) Holdings(_ context.Context, wallet common.Address) ([]Holding, error) {
	for _, w := range f.Wallets {
		if common.HexToAddress(w.Address) == wallet {
			return w.Holdings, nil
		}
	}
	return nil, nil
}

// Select returns the wallets named by names, or all of them when names is
// empty. Unknown names are an error.
func (f *File) Select(names []string) ([]Wallet, error) {
	if len(names) == 0 {
		return f.Wallets, nil
	}
	out := make([]Wallet, 0, len(names))
	for _, name := range names {
		found := false
		for _, w := range f.Wallets {
			if strings.EqualFold(w.Name, name) || strings.EqualFold(w.Address, name) {
				out = append(out, w)
				found = true
				break
			}
		}
		if !found {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("wallet %q not found in holdings file", name))
		}
	}
	return out, nil
}

// Filter picks the holdings a batch job should touch.
type Filter struct {
	MinValueUSD   float64
	Chains        map[int64]bool
	NativeOnly    bool
	TokensOnly    bool
	ExcludeStable bool
	ExcludeChain  int64
}

func (f Filter) Apply(hs []Holding) []Holding {
	out := make([]Holding, 0, len(hs))
	for _, h := range hs {
		if h.ValueUSD <= f.MinValueUSD {
			continue
		}
		if len(f.Chains) > 0 && !f.Chains[h.ChainID] {
			continue
		}
		if f.ExcludeChain != 0 && h.ChainID == f.ExcludeChain {
			continue
		}
		if f.NativeOnly && !h.IsNative() {
			continue
		}
		if f.TokensOnly && h.IsNative() {
			continue
		}
		if f.ExcludeStable && h.IsStable() {
			continue
		}
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}
