package factory

import (
	"fmt"
	"sort"

	"github.com/ggonzalez94/bridgectl/internal/cache"
	clierr "github.com/ggonzalez94/bridgectl/internal/errors"
	"github.com/ggonzalez94/bridgectl/internal/httpx"
	"github.com/ggonzalez94/bridgectl/internal/providers"
	"github.com/ggonzalez94/bridgectl/internal/providers/lifi"
	"github.com/ggonzalez94/bridgectl/internal/providers/relay"
)

// Deps is everything an adapter needs at construction time.
type Deps struct {
	HTTP  *httpx.Client
	Cache *cache.Store
	Exec  providers.ExecutionConfig
	LiFi  lifi.Config
	Relay relay.Config
}

// New returns the adapter registered for tag.
func New(tag providers.Tag, deps Deps) (providers.Adapter, error) {
	if deps.HTTP == nil {
		return nil, clierr.New(clierr.CodeInternal, "provider factory requires an http client")
	}
	switch tag {
	case providers.TagLiFi:
		return lifi.New(deps.HTTP, deps.LiFi, deps.Exec), nil
	case providers.TagRelay:
		cfg := deps.Relay
		if cfg.Cache == nil {
			cfg.Cache = deps.Cache
		}
		return relay.New(deps.HTTP, cfg, deps.Exec), nil
	default:
		return nil, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unknown provider %q", tag))
	}
}

// Parse resolves a user supplied provider name and builds its adapter.
func Parse(name string, deps Deps) (providers.Adapter, error) {
	tag, err := providers.ParseTag(name)
	if err != nil {
		return nil, err
	}
	return New(tag, deps)
}

// All builds every registered adapter, ordered by name.
func All(deps Deps) ([]providers.Adapter, error) {
	tags := providers.Tags()
	out := make([]providers.Adapter, 0, len(tags))
	for _, tag := range tags {
		a, err := New(tag, deps)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info().Name < out[j].Info().Name })
	return out, nil
}
