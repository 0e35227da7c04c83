package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
)

// RepairReport describes what happened while repairing a malformed
// model response.
type RepairReport struct {
	OriginalBytes int           `json:"original_bytes"`
	RepairedBytes int           `json:"repaired_bytes"`
	FixesApplied  int           `json:"fixes_applied"`
	Strategies    []string      `json:"strategies"`
	Duration      time.Duration `json:"duration"`
	WasRepaired   bool          `json:"was_repaired"`
}

// RepairJSON attempts to turn almost-JSON model output into valid JSON.
// Cheap textual fixes are applied first; the jsonrepair library is the
// last resort before giving up.
func RepairJSON(raw string) (string, RepairReport, error) {
	start := time.Now()
	report := RepairReport{OriginalBytes: len(raw)}

	var probe interface{}
	if json.Unmarshal([]byte(raw), &probe) == nil {
		report.RepairedBytes = len(raw)
		report.Duration = time.Since(start)
		return raw, report, nil
	}

	report.WasRepaired = true
	repaired := raw

	apply := func(name string, fix func(string) string) {
		fixed := fix(repaired)
		if fixed != repaired {
			repaired = fixed
			report.Strategies = append(report.Strategies, name)
			report.FixesApplied++
		}
	}

	apply("trailing_commas", stripTrailingCommas)
	apply("inner_quotes", escapeInnerQuotes)
	apply("close_structures", closeOpenStructures)
	apply("strip_comments", stripLineComments)
	apply("quote_keys", quoteBareKeys)
	apply("double_quotes", replaceSingleQuotes)

	if json.Unmarshal([]byte(repaired), &probe) != nil {
		libFixed, libErr := jsonrepair.JSONRepair(repaired)
		if libErr == nil && libFixed != repaired {
			repaired = libFixed
			report.Strategies = append(report.Strategies, "jsonrepair_library")
			report.FixesApplied++
		}
	}

	report.RepairedBytes = len(repaired)
	report.Duration = time.Since(start)

	if json.Unmarshal([]byte(repaired), &probe) != nil {
		return repaired, report, fmt.Errorf("JSON repair failed after %d strategies", len(report.Strategies))
	}
	return repaired, report, nil
}

var (
	trailingCommaBrace   = regexp.MustCompile(`,\s*}`)
	trailingCommaBracket = regexp.MustCompile(`,\s*]`)
	innerQuotePattern    = regexp.MustCompile(`("description":\s*")([^"]*)"([^"]*)"([^"]*)("[\s,}])`)
	bareKeyPattern       = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)(\s*:)`)
	singleQuotePattern   = regexp.MustCompile(`'([^']*)'`)
	blockCommentPattern  = regexp.MustCompile(`/\*.*?\*/`)
)

func stripTrailingCommas(s string) string {
	s = trailingCommaBrace.ReplaceAllString(s, "}")
	return trailingCommaBracket.ReplaceAllString(s, "]")
}

// escapeInnerQuotes handles the common case of unescaped quotes inside
// a description value. A full JSON lexer is overkill for model output.
func escapeInnerQuotes(s string) string {
	return innerQuotePattern.ReplaceAllString(s, `$1$2\"$3\"$4$5`)
}

// closeOpenStructures appends missing closers in LIFO order so that a
// truncated response still parses.
func closeOpenStructures(s string) string {
	s = strings.TrimSpace(s)

	var stack []rune
	for _, ch := range s {
		switch ch {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '}' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == ']' {
				stack = stack[:len(stack)-1]
			}
		}
	}

	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}

func stripLineComments(s string) string {
	if !strings.Contains(s, "//") && !strings.Contains(s, "/*") {
		return s
	}

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if idx := strings.Index(line, "//"); idx != -1 {
			lines[i] = line[:idx]
		}
	}
	s = strings.Join(lines, "\n")
	return blockCommentPattern.ReplaceAllString(s, "")
}

func quoteBareKeys(s string) string {
	return bareKeyPattern.ReplaceAllString(s, `$1"$2"$3`)
}

func replaceSingleQuotes(s string) string {
	return singleQuotePattern.ReplaceAllString(s, `"$1"`)
}
