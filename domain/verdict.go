package domain

import (
	"fmt"
	"time"
)

// ErrorCandidate is the candidate identity of verdicts produced by failed runs.
const ErrorCandidate = "ERROR"

// Verdict is the outcome of one verification run for one candidate folder.
// A verdict is never modified after construction; use WithReport to derive
// a copy carrying the report location.
type Verdict struct {
	ID              string        `json:"id"`
	Candidate       string        `json:"candidate"`
	Folder          string        `json:"folder"`
	DeclaredAverage float64       `json:"declared_average"`
	OfficialAverage *float64      `json:"official_average"`
	Concordance     bool          `json:"concordance"`
	Discordances    []Discordance `json:"discordances"`
	Unverifiable    []string      `json:"unverifiable"`
	Diagnostics     []string      `json:"diagnostics,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	ReportLocation  *string       `json:"report_location"`
}

// AverageGap is declared minus official average, nil without official records.
func (v Verdict) AverageGap() *float64 {
	if v.OfficialAverage == nil {
		return nil
	}
	gap := v.DeclaredAverage - *v.OfficialAverage
	return &gap
}

// WithReport returns a copy of v referencing the synthesized report.
func (v Verdict) WithReport(location string) Verdict {
	out := v.clone()
	out.ReportLocation = &location
	return out
}

func (v Verdict) clone() Verdict {
	out := v
	out.Discordances = append([]Discordance(nil), v.Discordances...)
	out.Unverifiable = append([]string(nil), v.Unverifiable...)
	out.Diagnostics = append([]string(nil), v.Diagnostics...)
	if v.OfficialAverage != nil {
		avg := *v.OfficialAverage
		out.OfficialAverage = &avg
	}
	if v.ReportLocation != nil {
		loc := *v.ReportLocation
		out.ReportLocation = &loc
	}
	return out
}

// ErrorVerdict is the verdict-shaped result handed back when a run cannot
// complete. It is never concordant and names the failure as its only
// unverifiable entry.
func ErrorVerdict(id, folder string, err error, at time.Time) Verdict {
	return Verdict{
		ID:           id,
		Candidate:    ErrorCandidate,
		Folder:       folder,
		Concordance:  false,
		Discordances: []Discordance{},
		Unverifiable: []string{fmt.Sprintf("system error: %v", err)},
		CreatedAt:    at,
	}
}

// VerificationStatus answers "has this folder been verified, and how did it go".
type VerificationStatus struct {
	Verified         bool       `json:"verified"`
	Concordance      *bool      `json:"concordance"`
	DiscordanceCount int        `json:"discordance_count"`
	ReportLocation   *string    `json:"report_location"`
	VerifiedAt       *time.Time `json:"verified_at"`
	RecordLocation   *string    `json:"record_location"`
}

func NotVerified() VerificationStatus {
	return VerificationStatus{}
}

// StatusOf summarizes a persisted verdict.
func StatusOf(v Verdict, recordLocation string) VerificationStatus {
	concordance := v.Concordance
	at := v.CreatedAt
	st := VerificationStatus{
		Verified:         true,
		Concordance:      &concordance,
		DiscordanceCount: len(v.Discordances),
		VerifiedAt:       &at,
	}
	if v.ReportLocation != nil {
		loc := *v.ReportLocation
		st.ReportLocation = &loc
	}
	if recordLocation != "" {
		st.RecordLocation = &recordLocation
	}
	return st
}
