package domain

import (
	"fmt"
	"math"
	"strings"
)

// Grades are expressed on a fixed 0-20 scale.
const (
	MinScore = 0.0
	MaxScore = 20.0
)

// DeclaredRecord is one grade entry self-reported by the candidate.
type DeclaredRecord struct {
	Subject string  `json:"subject"`
	Score   float64 `json:"score"`
	Weight  int     `json:"weight"`
	Period  string  `json:"period"`
	Level   string  `json:"level"`
}

// Validate rejects records outside the grading scale or with a missing subject.
func (r DeclaredRecord) Validate() error {
	if err := validateScore(r.Score); err != nil {
		return err
	}
	if r.Weight < 1 {
		return NewError(KindMalformedRecord, "validate declared", fmt.Errorf("weight %d must be at least 1", r.Weight))
	}
	if strings.TrimSpace(r.Subject) == "" {
		return NewError(KindMalformedRecord, "validate declared", fmt.Errorf("subject is empty"))
	}
	return nil
}

// Describe returns the "subject (period, level)" label used for unverifiable entries.
func (r DeclaredRecord) Describe() string {
	return fmt.Sprintf("%s (%s, %s)", r.Subject, r.Period, r.Level)
}

// OfficialRecord is one grade entry read from an authoritative school report.
type OfficialRecord struct {
	Subject     string  `json:"subject"`
	Score       float64 `json:"score"`
	Period      string  `json:"period"`
	Level       string  `json:"level"`
	Institution string  `json:"institution,omitempty"`
}

func (r OfficialRecord) Validate() error {
	if err := validateScore(r.Score); err != nil {
		return err
	}
	if strings.TrimSpace(r.Subject) == "" {
		return NewError(KindMalformedRecord, "validate official", fmt.Errorf("subject is empty"))
	}
	return nil
}

func validateScore(score float64) error {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return NewError(KindMalformedRecord, "validate score", fmt.Errorf("score is not a finite number"))
	}
	if score < MinScore || score > MaxScore {
		return NewError(KindMalformedRecord, "validate score", fmt.Errorf("score %.2f outside [%.0f,%.0f]", score, MinScore, MaxScore))
	}
	return nil
}

// Severity grades a discordance.
type Severity string

const (
	SeverityModerate Severity = "MODERATE"
	SeverityGrave    Severity = "GRAVE"
)

// Discordance is a matched declared/official pair whose deviation exceeds the minor tolerance.
type Discordance struct {
	Subject       string   `json:"subject"`
	Period        string   `json:"period"`
	Level         string   `json:"level"`
	DeclaredScore float64  `json:"declared_score"`
	OfficialScore float64  `json:"official_score"`
	Deviation     float64  `json:"deviation"`
	Severity      Severity `json:"severity"`
}

// CandidateIdentity is what the recognition service reports about the
// applicant. Name is always a single string, whatever shape the source used.
type CandidateIdentity struct {
	Name            string  `json:"name"`
	DeclaredAverage float64 `json:"declared_average"`
}
