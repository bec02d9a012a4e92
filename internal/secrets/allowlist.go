package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Allowlist exempts matches from redaction.
type Allowlist struct {
	// Regexes match secret values that are safe to keep.
	Regexes []string
	// StopWords are substrings that mark a match as safe.
	StopWords []string
}

// LoadAllowlist reads a gitleaks-style file:
//
//	[allowlist]
//	regexes = ['''DEMO-[0-9]+''']
//	stopwords = ["example"]
//
// A missing file yields an empty allowlist.
func LoadAllowlist(path string) (*Allowlist, error) {
	var file struct {
		Allowlist struct {
			Regexes   []string `toml:"regexes"`
			StopWords []string `toml:"stopwords"`
		} `toml:"allowlist"`
	}
	if path == "" {
		return &Allowlist{}, nil
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Allowlist{}, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}
	for _, p := range file.Allowlist.Regexes {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("%w: %q in %s: %v", ErrInvalidRegex, p, path, err)
		}
	}
	return &Allowlist{Regexes: file.Allowlist.Regexes, StopWords: file.Allowlist.StopWords}, nil
}
