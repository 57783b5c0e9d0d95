package reconcile

import (
	"fmt"
	"math"

	"bulletin-verifier/domain"
)

// deviationPrecision absorbs binary float noise, so 12.3-12.0 reads 0.3.
const deviationPrecision = 1e9

type Classifier struct {
	thresholds Thresholds
}

func NewClassifier(t Thresholds) (*Classifier, error) {
	if t.Minor < 0 || t.Moderate <= t.Minor {
		return nil, fmt.Errorf("invalid thresholds minor=%.2f moderate=%.2f", t.Minor, t.Moderate)
	}
	return &Classifier{thresholds: t}, nil
}

// Deviation is the absolute gap between two scores.
func Deviation(declared, official float64) float64 {
	return math.Round(math.Abs(declared-official)*deviationPrecision) / deviationPrecision
}

// Severity returns the tier of a deviation; ok is false when the deviation
// is within the minor tolerance.
func (c *Classifier) Severity(deviation float64) (severity domain.Severity, ok bool) {
	switch {
	case deviation <= c.thresholds.Minor:
		return "", false
	case deviation <= c.thresholds.Moderate:
		return domain.SeverityModerate, true
	default:
		return domain.SeverityGrave, true
	}
}

// Classify turns matched pairs into discordances and unmatched declared
// records into unverifiable descriptors. Both outputs keep declared order.
func (c *Classifier) Classify(pairs []Pair) (discordances []domain.Discordance, unverifiable []string) {
	discordances = []domain.Discordance{}
	unverifiable = []string{}
	for _, p := range pairs {
		if !p.Matched() {
			unverifiable = append(unverifiable, p.Declared.Describe())
			continue
		}
		dev := Deviation(p.Declared.Score, p.Official.Score)
		severity, ok := c.Severity(dev)
		if !ok {
			continue
		}
		discordances = append(discordances, domain.Discordance{
			Subject:       p.Declared.Subject,
			Period:        p.Declared.Period,
			Level:         p.Declared.Level,
			DeclaredScore: p.Declared.Score,
			OfficialScore: p.Official.Score,
			Deviation:     dev,
			Severity:      severity,
		})
	}
	return discordances, unverifiable
}
