package registry

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

const (
	LiFiBaseURL    = "https://li.quest/v1"
	LiFiStatusPath = "/status"

	RelayBaseURL        = "https://api.relay.link"
	RelayTestnetBaseURL = "https://api.testnets.relay.link"
	RelayStatusPath     = "/intents/status/v2"
	RelayIndexPath      = "/transactions/index"
)

// ResolveProviderURL joins endpoint onto base. Provider responses may carry
// absolute URLs; those must point at the provider host (or loopback).
func ResolveProviderURL(base, endpoint string) (string, error) {
	clean := strings.TrimSpace(endpoint)
	if clean == "" {
		return "", fmt.Errorf("empty provider endpoint")
	}
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("parse provider endpoint: %w", err)
	}
	if !parsed.IsAbs() {
		if !strings.HasPrefix(clean, "/") {
			clean = "/" + clean
		}
		return strings.TrimRight(base, "/") + clean, nil
	}
	if !IsAllowedProviderURL(base, clean) {
		return "", fmt.Errorf("provider endpoint %s is outside %s", clean, base)
	}
	return clean, nil
}

func IsAllowedProviderURL(base, endpoint string) bool {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return false
	}
	if strings.TrimSpace(parsed.Hostname()) == "" {
		return false
	}
	if isLoopbackHost(parsed.Hostname()) {
		scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
		return scheme == "" || scheme == "http" || scheme == "https"
	}
	if !strings.EqualFold(strings.TrimSpace(parsed.Scheme), "https") {
		return false
	}
	allowed, err := url.Parse(base)
	if err != nil {
		return false
	}
	if !strings.EqualFold(parsed.Hostname(), allowed.Hostname()) {
		return false
	}
	return normalizedURLPort(parsed) == normalizedURLPort(allowed)
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

func normalizedURLPort(parsed *url.URL) string {
	if parsed == nil {
		return ""
	}
	if port := strings.TrimSpace(parsed.Port()); port != "" {
		return port
	}
	switch strings.ToLower(strings.TrimSpace(parsed.Scheme)) {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}
