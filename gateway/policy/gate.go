package policy

import (
	"encoding/base64"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
)

// Decision is the outcome of running the admission gate.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Layer   Layer  `json:"layer,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// GateConfig configures the admission gate.
type GateConfig struct {
	// MaxInputLength is the layer-1 length cap. Default 2000.
	MaxInputLength int

	// Heuristics are the layer-2 patterns. Nil selects the defaults.
	Heuristics *PatternSet

	// Lexicon are the layer-5 patterns. Nil selects the defaults.
	Lexicon *PatternSet

	// SystemPrompt is the canonical system prompt used by the layer-4
	// similarity check. Empty disables the layer.
	SystemPrompt string

	// SimilarityThreshold blocks inputs whose similarity to SystemPrompt
	// meets or exceeds it. Zero disables the layer.
	SimilarityThreshold float64

	// Sink receives a SecurityEvent for every block. Nil means NopSink.
	Sink EventSink
}

// Gate is the seven-layer admission gate. Safe for concurrent use.
type Gate struct {
	maxLen     int
	heuristics *PatternSet
	lexicon    *PatternSet
	sysPrompt  string
	simThresh  float64
	sink       EventSink

	blocks atomic.Int64
}

// NewGate creates an admission gate from config, filling in defaults.
func NewGate(cfg GateConfig) *Gate {
	g := &Gate{
		maxLen:     cfg.MaxInputLength,
		heuristics: cfg.Heuristics,
		lexicon:    cfg.Lexicon,
		sysPrompt:  cfg.SystemPrompt,
		simThresh:  cfg.SimilarityThreshold,
		sink:       cfg.Sink,
	}
	if g.maxLen <= 0 {
		g.maxLen = 2000
	}
	if g.heuristics == nil {
		g.heuristics = DefaultHeuristicPatterns()
	}
	if g.lexicon == nil {
		g.lexicon = DefaultLexiconPatterns()
	}
	if g.sink == nil {
		g.sink = NopSink{}
	}
	return g
}

// BlockCount returns the number of requests blocked since startup.
func (g *Gate) BlockCount() int64 {
	return g.blocks.Load()
}

// Admit runs the seven layers in order against the raw query.
// The first matching layer blocks; no engine call happens afterwards.
func (g *Gate) Admit(query string, tenantID int64, sourceIP string) Decision {
	// Layer 1: length cap.
	if len(query) > g.maxLen {
		return g.block(tenantID, sourceIP, LayerLength,
			fmt.Sprintf("input exceeds %d character limit", g.maxLen))
	}

	normalized := normalize(query)

	// Layer 2: heuristic injection patterns.
	if p := g.heuristics.Match(normalized); p != nil {
		return g.block(tenantID, sourceIP, LayerHeuristic,
			"suspicious keywords detected: "+p.Name)
	}

	// Layer 3: Base64-wrapped payloads.
	if name, ok := g.scanBase64(query); ok {
		return g.block(tenantID, sourceIP, LayerBase64,
			"Base64-encoded injection detected: "+name)
	}

	// Layer 4: similarity to the canonical system prompt.
	if g.simThresh > 0 && g.sysPrompt != "" {
		if sim := trigramSimilarity(normalized, normalize(g.sysPrompt)); sim >= g.simThresh {
			return g.block(tenantID, sourceIP, LayerSimilarity,
				fmt.Sprintf("system prompt similarity %.2f exceeds threshold", sim))
		}
	}

	// Layer 5: extended jailbreak lexicon.
	if p := g.lexicon.Match(normalized); p != nil {
		return g.block(tenantID, sourceIP, LayerLexicon,
			"jailbreak term detected: "+p.Name)
	}

	// Layer 6: mixed incompatible scripts.
	if scripts := incompatibleScripts(query); scripts != "" {
		return g.block(tenantID, sourceIP, LayerScript,
			"mixed-language script obfuscation: "+scripts)
	}

	// Layer 7: zero-width and invisible characters.
	if containsInvisible(query) {
		return g.block(tenantID, sourceIP, LayerInvisible,
			"hidden zero-width characters detected")
	}

	return Decision{Allowed: true}
}

func (g *Gate) block(tenantID int64, sourceIP string, layer Layer, reason string) Decision {
	g.blocks.Add(1)
	g.sink.RecordSecurityEvent(SecurityEvent{
		TenantID:  tenantID,
		Type:      EventBlocked,
		Layer:     layer,
		Reason:    reason,
		SourceIP:  sourceIP,
		Timestamp: time.Now().UTC(),
	})
	return Decision{Allowed: false, Layer: layer, Reason: reason}
}

// scanBase64 decodes candidate Base64 tokens and re-runs the heuristic and
// lexicon patterns against the decoded text.
func (g *Gate) scanBase64(query string) (string, bool) {
	for _, token := range strings.Fields(query) {
		token = strings.Trim(token, ".,;:!?\"'()")
		if len(token) < 12 || len(token)%4 != 0 {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(token)
		if err != nil || !isPrintableASCII(decoded) {
			continue
		}
		normalized := normalize(string(decoded))
		if p := g.heuristics.Match(normalized); p != nil {
			return p.Name, true
		}
		if p := g.lexicon.Match(normalized); p != nil {
			return p.Name, true
		}
	}
	return "", false
}

func isPrintableASCII(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

// incompatibleScripts reports combinations of alphabets that are a common
// homoglyph obfuscation vector. CJK, kana and hangul mixed with Latin are
// normal multilingual usage and stay allowed.
func incompatibleScripts(query string) string {
	var hasLatin, hasCyrillic, hasGreek bool
	for _, r := range query {
		switch {
		case unicode.Is(unicode.Latin, r):
			hasLatin = true
		case unicode.Is(unicode.Cyrillic, r):
			hasCyrillic = true
		case unicode.Is(unicode.Greek, r):
			hasGreek = true
		}
	}
	switch {
	case hasLatin && hasCyrillic:
		return "Latin+Cyrillic"
	case hasLatin && hasGreek:
		return "Latin+Greek"
	case hasCyrillic && hasGreek:
		return "Cyrillic+Greek"
	}
	return ""
}

var invisibleRunes = map[rune]bool{
	'\u200b': true, // zero width space
	'\u200c': true, // zero width non-joiner
	'\u200d': true, // zero width joiner
	'\u2060': true, // word joiner
	'\ufeff': true, // zero width no-break space
	'\u00ad': true, // soft hyphen
	'\u180e': true, // mongolian vowel separator
}

func containsInvisible(query string) bool {
	for _, r := range query {
		if invisibleRunes[r] {
			return true
		}
	}
	return false
}

// StripInvisible removes invisible characters from a string. Used on the
// audit path after the gate has already flagged the input.
func StripInvisible(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !invisibleRunes[r] {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// trigramSimilarity computes cosine similarity between character trigram
// profiles. It is a deliberately cheap stand-in for an embedding distance;
// the gate only needs a coarse "is this the system prompt" signal.
func trigramSimilarity(a, b string) float64 {
	pa, pb := trigrams(a), trigrams(b)
	if len(pa) == 0 || len(pb) == 0 {
		return 0
	}
	var dot, na, nb float64
	for t, ca := range pa {
		na += float64(ca * ca)
		if cb, ok := pb[t]; ok {
			dot += float64(ca * cb)
		}
	}
	for _, cb := range pb {
		nb += float64(cb * cb)
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func trigrams(s string) map[string]int {
	runes := []rune(s)
	out := make(map[string]int)
	for i := 0; i+3 <= len(runes); i++ {
		out[string(runes[i:i+3])]++
	}
	return out
}
