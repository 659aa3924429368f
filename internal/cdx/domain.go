package cdx

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ExtractRootDomain extracts the root domain from a URL or hostname.
// Uses publicsuffix to handle complex TLDs like .co.uk
// Examples:
//   - "https://playground.bfl.ai/" -> "bfl.ai"
//   - "test1.dev.pci.westcoast.acme.com" -> "acme.com"
//   - "bfl.ai" -> "bfl.ai"
func ExtractRootDomain(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("empty input")
	}

	// If it looks like a URL, parse it
	if strings.Contains(input, "://") {
		parsed, err := url.Parse(input)
		if err != nil {
			return "", fmt.Errorf("invalid URL: %w", err)
		}
		input = parsed.Hostname()
	}

	// Remove any trailing dots
	input = strings.TrimSuffix(input, ".")

	// Use publicsuffix to get the effective TLD+1 (root domain)
	rootDomain, err := publicsuffix.EffectiveTLDPlusOne(input)
	if err != nil {
		return "", fmt.Errorf("failed to extract root domain: %w", err)
	}

	return rootDomain, nil
}

// Hostname returns the bare host of a URL, or the input unchanged when it
// is already a hostname.
func Hostname(input string) string {
	input = strings.TrimSpace(input)
	if strings.Contains(input, "://") {
		if parsed, err := url.Parse(input); err == nil && parsed.Hostname() != "" {
			return parsed.Hostname()
		}
	}
	return strings.TrimSuffix(input, ".")
}
