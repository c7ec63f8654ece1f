package entity

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// exactMatchConfidence is the default confidence for a case-insensitive
// word-boundary match (spec §4.8). Callers may lower it for fuzzy matches;
// this extractor only performs exact vocabulary matches.
const exactMatchConfidence = 1.0

// Entity is one extracted mention (spec §4.8 output shape).
type Entity struct {
	Name          string
	Kind          Kind
	Confidence    float64
	SourceChunkID string
	Start         int
	End           int
}

// Extractor matches chunk text against the closed vocabulary, case
// insensitively and on word boundaries.
type Extractor struct {
	mu       sync.RWMutex
	patterns map[Kind][]*regexp.Regexp
	terms    map[Kind][]string
}

// NewExtractor compiles a word-boundary regexp per vocabulary term.
func NewExtractor(vocab Vocabulary) *Extractor {
	e := &Extractor{patterns: make(map[Kind][]*regexp.Regexp), terms: make(map[Kind][]string)}
	for kind, terms := range vocab {
		sorted := append([]string(nil), terms...)
		// Longest-term-first so "intervertebral disc" matches before "disc".
		sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
		patterns := make([]*regexp.Regexp, 0, len(sorted))
		for _, term := range sorted {
			patterns = append(patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(term)+`\b`))
		}
		e.patterns[kind] = patterns
		e.terms[kind] = sorted
	}
	return e
}

// Extract returns every vocabulary hit in text, attributed to sourceChunkID.
// Overlapping matches across kinds are all reported; the caller (C4) is
// responsible for any downstream dedup beyond (tenant_id, name, kind).
func (e *Extractor) Extract(text, sourceChunkID string) []Entity {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Entity
	for _, kind := range []Kind{KindAnatomicalStructure, KindCondition, KindTreatment, KindDevice} {
		covered := make([]bool, len(text))
		for _, re := range e.patterns[kind] {
			for _, loc := range re.FindAllStringIndex(text, -1) {
				start, end := loc[0], loc[1]
				if rangeCovered(covered, start, end) {
					continue
				}
				markCovered(covered, start, end)
				out = append(out, Entity{
					Name:          strings.ToLower(strings.TrimSpace(text[start:end])),
					Kind:          kind,
					Confidence:    exactMatchConfidence,
					SourceChunkID: sourceChunkID,
					Start:         start,
					End:           end,
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// rangeCovered prevents a shorter term (e.g. "disc") from re-matching
// inside a longer one already claimed (e.g. "intervertebral disc").
func rangeCovered(covered []bool, start, end int) bool {
	for i := start; i < end; i++ {
		if covered[i] {
			return true
		}
	}
	return false
}

func markCovered(covered []bool, start, end int) {
	for i := start; i < end; i++ {
		covered[i] = true
	}
}
