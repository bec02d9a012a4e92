// Package sanitize normalizes identifiers used in chunk ids, vector
// namespaces and cache keys.
//
// Namespace components match ^[a-z0-9_]{1,64}$, which both Qdrant and
// chromem accept as collection names. Slugs use hyphens instead and feed
// the deterministic chunk identifiers.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	// MaxIdentifierLength bounds collection names.
	MaxIdentifierLength = 64

	// hashSuffixLength is len("_") + 8 hex characters.
	hashSuffixLength = 9

	// DefaultIdentifier replaces inputs that sanitize to nothing.
	DefaultIdentifier = "default"
)

// ErrInvalidTenantID indicates a tenant id that cannot be used as-is.
var ErrInvalidTenantID = errors.New("invalid tenant ID format")

var tenantIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,59}$`)

// ValidateTenantID accepts lowercase alphanumerics and hyphens only. Such
// ids sanitize without loss, so two tenants never share a namespace.
func ValidateTenantID(id string) error {
	if !tenantIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidTenantID, id)
	}
	return nil
}

// Identifier maps s onto [a-z0-9_], collapsing runs and trimming edges.
//
//	"Acme Dental" -> "acme_dental"
//	"acme-dental" -> "acme_dental"
//	"!!!"         -> "default"
func Identifier(s string) string {
	return normalize(s, '_', MaxIdentifierLength)
}

// Slug maps s onto [a-z0-9-] for use inside chunk ids.
//
//	"Price List (2024).pdf" -> "price-list-2024-pdf"
func Slug(s string) string {
	return normalize(s, '-', MaxIdentifierLength)
}

// Namespace joins prefix and the sanitized id, keeping the result within
// MaxIdentifierLength.
func Namespace(prefix, id string) string {
	name := prefix + Identifier(id)
	if len(name) > MaxIdentifierLength {
		name = truncateWithHash(name, '_', MaxIdentifierLength)
	}
	return name
}

func normalize(s string, sep rune, max int) string {
	var b strings.Builder
	b.Grow(len(s))
	last := sep
	for _, r := range strings.ToLower(s) {
		valid := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		switch {
		case valid:
			b.WriteRune(r)
			last = r
		case last != sep:
			b.WriteRune(sep)
			last = sep
		}
	}
	out := strings.Trim(b.String(), string(sep))
	if out == "" {
		return DefaultIdentifier
	}
	if len(out) > max {
		out = truncateWithHash(out, sep, max)
	}
	return out
}

// truncateWithHash keeps distinct long inputs distinct after truncation.
func truncateWithHash(s string, sep rune, max int) string {
	sum := sha256.Sum256([]byte(s))
	suffix := string(sep) + hex.EncodeToString(sum[:])[:8]
	base := strings.TrimRight(s[:max-hashSuffixLength], string(sep))
	return base + suffix
}
