package factory

import (
	"testing"
	"time"

	clierr "github.com/ggonzalez94/bridgectl/internal/errors"
	"github.com/ggonzalez94/bridgectl/internal/httpx"
	"github.com/ggonzalez94/bridgectl/internal/providers"
)

func testDeps() Deps {
	return Deps{HTTP: httpx.New(time.Second, 0)}
}

func TestNewBuildsEveryTag(t *testing.T) {
	for _, tag := range providers.Tags() {
		a, err := New(tag, testDeps())
		if err != nil {
			t.Fatalf("New(%s) failed: %v", tag, err)
		}
		if a.Tag() != tag {
			t.Fatalf("expected adapter for %s, got %s", tag, a.Tag())
		}
	}
}

func TestParseAcceptsAliases(t *testing.T) {
	cases := map[string]providers.Tag{
		"relay.link": providers.TagRelay,
		"LIFI":       providers.TagLiFi,
		"jumper":     providers.TagLiFi,
	}
	for name, want := range cases {
		a, err := Parse(name, testDeps())
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", name, err)
		}
		if a.Tag() != want {
			t.Fatalf("Parse(%q) = %s, want %s", name, a.Tag(), want)
		}
	}
}

func TestUnknownProviderIsRejected(t *testing.T) {
	if _, err := New(providers.Tag("socket"), testDeps()); !clierr.Is(err, clierr.CodeUnsupported) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
	if _, err := Parse("socket", testDeps()); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestAllIsSortedByName(t *testing.T) {
	all, err := All(testDeps())
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 2 || all[0].Info().Name != "lifi" || all[1].Info().Name != "relay" {
		t.Fatalf("unexpected adapters: %+v", all)
	}
}
