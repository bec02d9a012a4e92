package chunking

import (
	"strings"
)

// FAQ is one question/answer pair.
type FAQ struct {
	Question string
	Answer   string
}

// ParseFAQs reads "Q: ... / A: ..." blocks. Lines without a marker
// continue the current question or answer. Pairs missing either half are
// dropped.
func ParseFAQs(raw string) []FAQ {
	var (
		out     []FAQ
		cur     FAQ
		inQuest bool
	)
	push := func() {
		cur.Question = strings.TrimSpace(cur.Question)
		cur.Answer = strings.TrimSpace(cur.Answer)
		if cur.Question != "" && cur.Answer != "" {
			out = append(out, cur)
		}
		cur = FAQ{}
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if rest, ok := cutMarker(line, "q:", "question:"); ok {
			if cur.Question != "" || cur.Answer != "" {
				push()
			}
			cur.Question = rest
			inQuest = true
			continue
		}
		if rest, ok := cutMarker(line, "a:", "answer:"); ok {
			cur.Answer = rest
			inQuest = false
			continue
		}
		if inQuest {
			cur.Question += " " + line
		} else if cur.Question != "" {
			cur.Answer += " " + line
		}
	}
	push()
	return out
}

func cutMarker(line string, markers ...string) (string, bool) {
	lower := strings.ToLower(line)
	for _, m := range markers {
		if strings.HasPrefix(lower, m) {
			return strings.TrimSpace(line[len(m):]), true
		}
	}
	return "", false
}

func (f FAQ) text() string {
	return "Q: " + f.Question + "\nA: " + f.Answer
}
