// Package secrets redacts credentials and payment data from document text
// before it is chunked and embedded.
//
// Detection combines the gitleaks default rule set with a small set of
// business-document rules (card numbers, national ids). Matches become
// [REDACTED:rule-id] markers, which keep the surrounding sentence intact
// for embedding. An optional TOML allowlist exempts known-safe values.
package secrets
