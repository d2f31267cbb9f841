// Package secrets resolves optional per-venue API credentials from the
// environment. Spec scope is narrow: no auth beyond forwarding credentials
// to the adapter, so this is a thin lookup, not a general secret store.
package secrets

import (
	"os"
	"regexp"
	"strings"
)

// VenueCredentials holds an optional API key/secret pair for one venue.
type VenueCredentials struct {
	APIKey    string
	APISecret string
}

// Empty reports whether neither field was populated.
func (c VenueCredentials) Empty() bool {
	return c.APIKey == "" && c.APISecret == ""
}

var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i).*secret.*`),
	regexp.MustCompile(`(?i).*key.*`),
	regexp.MustCompile(`(?i).*token.*`),
}

// Resolver looks up venue credentials from environment variables named
// <PREFIX>_<VENUE>_API_KEY / <PREFIX>_<VENUE>_API_SECRET.
type Resolver struct {
	prefix        string
	usePublicOnly bool
}

// NewResolver creates a credential resolver. When usePublicOnly is true,
// Lookup always returns empty credentials regardless of the environment,
// matching USE_PUBLIC_DATA_ONLY=true.
func NewResolver(prefix string, usePublicOnly bool) *Resolver {
	return &Resolver{prefix: strings.ToUpper(prefix), usePublicOnly: usePublicOnly}
}

// Lookup returns credentials for the given venue, or an empty value when
// public-data-only mode is enabled or no credentials are configured.
func (r *Resolver) Lookup(venue string) VenueCredentials {
	if r.usePublicOnly {
		return VenueCredentials{}
	}
	v := strings.ToUpper(venue)
	return VenueCredentials{
		APIKey:    os.Getenv(r.envKey(v, "API_KEY")),
		APISecret: os.Getenv(r.envKey(v, "API_SECRET")),
	}
}

func (r *Resolver) envKey(venue, suffix string) string {
	if r.prefix == "" {
		return venue + "_" + suffix
	}
	return r.prefix + "_" + venue + "_" + suffix
}

// ShouldRedact reports whether a log field name looks sensitive enough to
// mask before it reaches structured logs.
func ShouldRedact(fieldName string) bool {
	for _, p := range redactPatterns {
		if p.MatchString(fieldName) {
			return true
		}
	}
	return false
}
