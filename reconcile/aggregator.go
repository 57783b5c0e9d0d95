package reconcile

import (
	"math"

	"bulletin-verifier/domain"
)

// OfficialAverage is the plain mean of every official score, matched or not,
// rounded to two decimals. It is nil when there are no official records.
func OfficialAverage(official []domain.OfficialRecord) *float64 {
	if len(official) == 0 {
		return nil
	}
	var total float64
	for _, r := range official {
		total += r.Score
	}
	avg := math.Round(total/float64(len(official))*100) / 100
	return &avg
}

// Concordant holds only when nothing diverged and everything was verified.
func Concordant(discordances []domain.Discordance, unverifiable []string) bool {
	return len(discordances) == 0 && len(unverifiable) == 0
}
