package reconcile

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var numeralPattern = regexp.MustCompile(`\d+`)

// MatchKey is the raw (subject, period, level) triple of a record.
type MatchKey struct {
	Subject string
	Period  string
	Level   string
}

// Equivalence decides whether two keys designate the same grade slot.
type Equivalence interface {
	Match(a, b MatchKey) bool
}

type synonymSet struct {
	base     string
	variants map[string]struct{}
}

func (s synonymSet) has(v string) bool {
	_, ok := s.variants[v]
	return ok
}

func (s synonymSet) containedIn(v string) bool {
	for variant := range s.variants {
		if strings.Contains(v, variant) {
			return true
		}
	}
	return false
}

// Normalizer compares free-text labels pairwise. There is no global
// canonical form: two labels are equivalent when they are equal, when one is
// a base and the other one of its variants, or when both are variants of the
// same base.
type Normalizer struct {
	subjects []synonymSet
	levels   []synonymSet
	ordinals []synonymSet
}

func NewNormalizer(cfg Config) *Normalizer {
	return &Normalizer{
		subjects: compile(cfg.Subjects),
		levels:   compile(cfg.Levels),
		ordinals: compile(cfg.Ordinals),
	}
}

func compile(table SynonymTable) []synonymSet {
	bases := make([]string, 0, len(table))
	for base := range table {
		bases = append(bases, base)
	}
	sort.Strings(bases)

	sets := make([]synonymSet, 0, len(bases))
	for _, base := range bases {
		set := synonymSet{base: fold(base), variants: make(map[string]struct{}, len(table[base]))}
		for _, v := range table[base] {
			set.variants[fold(v)] = struct{}{}
		}
		sets = append(sets, set)
	}
	return sets
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(s)))
}

func (n *Normalizer) Match(a, b MatchKey) bool {
	return n.SameSubject(a.Subject, b.Subject) &&
		n.SamePeriod(a.Period, b.Period) &&
		n.SameLevel(a.Level, b.Level)
}

func (n *Normalizer) SameSubject(a, b string) bool {
	return sameBySynonyms(n.subjects, a, b)
}

func (n *Normalizer) SameLevel(a, b string) bool {
	return sameBySynonyms(n.levels, a, b)
}

// SamePeriod compares the first numeral of each label when both carry one.
// Otherwise it falls back to equality and the ordinal table: a label holding
// the numeral matches a label holding one of its spelled-out forms, and two
// numeral-free labels match when both hold forms of the same ordinal.
func (n *Normalizer) SamePeriod(a, b string) bool {
	p1, p2 := fold(a), fold(b)
	n1, ok1 := firstNumeral(p1)
	n2, ok2 := firstNumeral(p2)
	if ok1 && ok2 {
		return n1 == n2
	}
	if p1 == p2 {
		return true
	}

	for _, set := range n.ordinals {
		if strings.Contains(p1, set.base) && set.containedIn(p2) {
			return true
		}
		if strings.Contains(p2, set.base) && set.containedIn(p1) {
			return true
		}
		if !ok1 && !ok2 && set.containedIn(p1) && set.containedIn(p2) {
			return true
		}
	}
	return false
}

func sameBySynonyms(sets []synonymSet, a, b string) bool {
	m1, m2 := fold(a), fold(b)
	if m1 == m2 {
		return true
	}
	for _, set := range sets {
		v1, v2 := set.has(m1), set.has(m2)
		if (m1 == set.base && v2) || (m2 == set.base && v1) || (v1 && v2) {
			return true
		}
	}
	return false
}

// firstNumeral returns the first run of digits with leading zeros removed.
func firstNumeral(s string) (string, bool) {
	m := numeralPattern.FindString(s)
	if m == "" {
		return "", false
	}
	trimmed := strings.TrimLeft(m, "0")
	if trimmed == "" {
		trimmed = "0"
	}
	return trimmed, true
}
