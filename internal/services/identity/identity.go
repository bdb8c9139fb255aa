// Package identity derives session fingerprints from seed locators and canonical item keys
// from discovered URLs. Everything here is pure: no I/O, no clock.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/ternarybob/harvester/internal/interfaces"
)

// SessionIDLength is the number of hex characters kept from the digest
const SessionIDLength = 8

// separator joins canonical locators before hashing; it cannot occur in a trimmed locator
const separator = "\n"

// trackingParams are dropped from item keys; they never change page content
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"fbclid":       {},
	"gclid":        {},
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// DeriveSessionID returns the session fingerprint for a set of seed locators.
// Input order and duplicates do not affect the result. An empty set, or one made only of
// blank strings, returns interfaces.ErrInvalidInput.
func DeriveSessionID(locators []string) (string, error) {
	canonical := CanonicalLocators(locators)
	if len(canonical) == 0 {
		return "", fmt.Errorf("%w: at least one seed locator is required", interfaces.ErrInvalidInput)
	}

	sum := sha256.Sum256([]byte(strings.Join(canonical, separator)))
	return hex.EncodeToString(sum[:])[:SessionIDLength], nil
}

// CanonicalLocators normalises, deduplicates and sorts locators.
// The result is the seed order used for discovery and stored in progress state.
func CanonicalLocators(locators []string) []string {
	seen := make(map[string]struct{}, len(locators))
	canonical := make([]string, 0, len(locators))
	for _, raw := range locators {
		normalized := NormalizeLocator(raw)
		if normalized == "" {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		canonical = append(canonical, normalized)
	}
	sort.Strings(canonical)
	return canonical
}

// NormalizeLocator trims a locator and, when it is an absolute URL, lowercases the scheme
// and host, drops default ports and the fragment. Path and query are kept verbatim since
// they select the catalog listing. Plain query strings are only trimmed.
func NormalizeLocator(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return trimmed
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = normalizeHost(parsed)
	parsed.Fragment = ""
	parsed.RawFragment = ""
	return parsed.String()
}

// ItemKey returns the canonical key for a discovered item URL. Relative references are
// resolved against base. The key does not depend on the item's position in a listing.
func ItemKey(rawURL string, base string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("%w: empty item url", interfaces.ErrInvalidInput)
	}

	ref, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: item url %q: %v", interfaces.ErrInvalidInput, rawURL, err)
	}

	if !ref.IsAbs() && base != "" {
		baseURL, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("%w: base url %q: %v", interfaces.ErrInvalidInput, base, err)
		}
		ref = baseURL.ResolveReference(ref)
	}

	if ref.Scheme == "" || ref.Host == "" {
		return "", fmt.Errorf("%w: item url %q is not absolute", interfaces.ErrInvalidInput, rawURL)
	}

	ref.Scheme = strings.ToLower(ref.Scheme)
	ref.Host = normalizeHost(ref)
	ref.Fragment = ""
	ref.RawFragment = ""
	ref.RawQuery = cleanQuery(ref.Query())
	ref.Path = normalizePath(ref.Path)
	ref.RawPath = ""
	return ref.String(), nil
}

func normalizeHost(u *url.URL) string {
	hostname := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" || defaultPorts[u.Scheme] == port {
		return hostname
	}
	return hostname + ":" + port
}

// cleanQuery strips tracking parameters and sorts the remaining keys
func cleanQuery(values url.Values) string {
	for key := range values {
		if _, tracking := trackingParams[key]; tracking {
			values.Del(key)
		}
	}
	// Encode sorts by key
	return values.Encode()
}

// normalizePath resolves dot-segments and removes trailing slashes, keeping the root "/"
func normalizePath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	return strings.TrimRight(path.Clean(p), "/")
}
