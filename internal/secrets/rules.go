package secrets

// DefaultRules covers data that shows up in business documents but that
// gitleaks does not look for.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "payment-card",
			Description: "Payment card number",
			Pattern:     `\b(?:4\d{3}|5[1-5]\d{2}|3[47]\d{2}|6011)[ -]?\d{4}[ -]?\d{4}[ -]?\d{1,4}\b`,
		},
		{
			ID:          "us-ssn",
			Description: "US social security number",
			Pattern:     `\b\d{3}-\d{2}-\d{4}\b`,
			Keywords:    []string{"ssn", "social security"},
		},
		{
			ID:          "bearer-token",
			Description: "Bearer token",
			Pattern:     `(?i)bearer\s+[A-Za-z0-9_\-.=]{20,}`,
		},
		{
			ID:          "password-assignment",
			Description: "Password in text",
			Pattern:     `(?i)(?:password|passcode|pwd)\s*[:=]\s*\S{6,}`,
			Keywords:    []string{"password", "passcode", "pwd"},
		},
		{
			ID:          "wifi-password",
			Description: "Wi-Fi credential",
			Pattern:     `(?i)wi-?fi\s+(?:password|key)\s*(?:is|:)?\s*\S{6,}`,
		},
	}
}
