package policy

import (
	"regexp"
	"strings"
)

// Pattern is a single compiled admission pattern.
type Pattern struct {
	// Name identifies the pattern in security events and logs.
	Name string

	// Regex is the compiled expression. Patterns are matched against a
	// case-folded, whitespace-collapsed copy of the input.
	Regex *regexp.Regexp
}

// PatternSet holds the compiled patterns for one gate layer.
type PatternSet struct {
	patterns []*Pattern
}

// Match returns the first matching pattern, or nil.
func (ps *PatternSet) Match(normalized string) *Pattern {
	for _, p := range ps.patterns {
		if p.Regex.MatchString(normalized) {
			return p
		}
	}
	return nil
}

// Len returns the number of patterns in the set.
func (ps *PatternSet) Len() int {
	return len(ps.patterns)
}

// DefaultHeuristicPatterns returns the layer-2 prompt injection patterns.
func DefaultHeuristicPatterns() *PatternSet {
	return compile([]struct{ name, expr string }{
		{"ignore_instructions", `ignore\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions|prompts|rules|directions)`},
		{"ignore_instructions_short", `ignore\s+(all\s+)?instructions`},
		{"forget_rules", `forget\s+(all\s+)?(your|previous|prior)?\s*(rules|instructions|training)`},
		{"developer_mode", `developer\s+mode`},
		{"system_prompt_probe", `(reveal|show|print|repeat|display)\s+(your|the)\s+system\s+prompt`},
		{"system_prompt", `system\s+prompt`},
		{"you_are_now", `you\s+are\s+now\s+(a|an|in)\b`},
		{"disregard", `disregard\s+(all\s+)?(previous|prior|above)`},
		{"new_instructions", `new\s+instructions\s*:`},
	})
}

// DefaultLexiconPatterns returns the layer-5 extended jailbreak lexicon.
func DefaultLexiconPatterns() *PatternSet {
	return compile([]struct{ name, expr string }{
		{"jailbreak", `jailbreak`},
		{"dan_mode", `\bdan\s+mode\b`},
		{"do_anything_now", `do\s+anything\s+now`},
		{"roleplay_as", `(role[- ]?play|pretend|act)\s+as\s+(a|an|the)\b`},
		{"override", `override\s+(previous|prior|all|security|your)`},
		{"bypass", `bypass\s+(security|safety|filter|restrictions?|guardrails?)`},
		{"unfiltered", `unfiltered\s+(mode|response|answer)`},
		{"no_restrictions", `without\s+(any\s+)?(restrictions?|limitations?|filters?)`},
		{"hypothetical_evil", `hypothetical(ly)?\s+.{0,40}(no|without)\s+(rules|ethics|restrictions)`},
	})
}

func compile(specs []struct{ name, expr string }) *PatternSet {
	ps := &PatternSet{}
	for _, s := range specs {
		ps.patterns = append(ps.patterns, &Pattern{
			Name:  s.name,
			Regex: regexp.MustCompile(`(?i)` + s.expr),
		})
	}
	return ps
}

// normalize case-folds and collapses whitespace so pattern matching cannot
// be bypassed with casing or padding tricks.
func normalize(input string) string {
	return strings.ToLower(strings.Join(strings.Fields(input), " "))
}
