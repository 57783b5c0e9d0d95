package reconcile

import "bulletin-verifier/domain"

// Pair links a declared record with the official record selected for it.
// Official is nil when nothing matched.
type Pair struct {
	Declared      domain.DeclaredRecord
	Official      *domain.OfficialRecord
	OfficialIndex int
}

func (p Pair) Matched() bool {
	return p.Official != nil
}

func declaredKey(r domain.DeclaredRecord) MatchKey {
	return MatchKey{Subject: r.Subject, Period: r.Period, Level: r.Level}
}

func officialKey(r domain.OfficialRecord) MatchKey {
	return MatchKey{Subject: r.Subject, Period: r.Period, Level: r.Level}
}

// CrossMatch pairs every declared record with the first official record, in
// input order, that is equivalent on subject, period and level. Official
// records are not consumed: several declared records may select the same one,
// and a closer match further down the list is never considered.
func CrossMatch(eq Equivalence, declared []domain.DeclaredRecord, official []domain.OfficialRecord) []Pair {
	pairs := make([]Pair, 0, len(declared))
	for _, d := range declared {
		pair := Pair{Declared: d, OfficialIndex: -1}
		dk := declaredKey(d)
		for i := range official {
			if eq.Match(dk, officialKey(official[i])) {
				match := official[i]
				pair.Official = &match
				pair.OfficialIndex = i
				break
			}
		}
		pairs = append(pairs, pair)
	}
	return pairs
}
