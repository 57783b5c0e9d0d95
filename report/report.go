// Package report lays a verdict out as the three-section verification report
// (summary, discordances, unverifiable records) and reads the summary back.
package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"bulletin-verifier/domain"
)

const (
	SummarySection      = "Summary"
	DiscordancesSection = "Discordances"
	UnverifiableSection = "Unverifiable"
	DiagnosticsSection  = "Diagnostics"
)

const (
	StatusValidated   = "VALIDATED"
	StatusNeedsReview = "NEEDS REVIEW"

	ActionReject           = "reject candidacy"
	ActionManualReview     = "manual review"
	ActionRequestDocument  = "request supporting document"
	notAvailable           = "N/A"
	concordantLabel        = "YES"
	discordantLabel        = "NO"
	unverifiableReason     = "no matching official record"
	diagnosticAction       = "re-run extraction or check the document"
	summaryTimestampLayout = time.RFC3339Nano
)

// Summary column names, in sheet order.
const (
	ColCandidate    = "Candidate"
	ColDeclaredAvg  = "Declared Average"
	ColOfficialAvg  = "Official Average"
	ColAverageGap   = "Average Gap"
	ColConcordance  = "Concordance"
	ColDiscordances = "Discordances"
	ColUnverifiable = "Unverifiable"
	ColVerifiedAt   = "Verified At"
	ColStatus       = "Status"
)

var summaryHeader = []string{
	ColCandidate, ColDeclaredAvg, ColOfficialAvg, ColAverageGap, ColConcordance,
	ColDiscordances, ColUnverifiable, ColVerifiedAt, ColStatus,
}

// Section is one named table of the report.
type Section struct {
	Name   string
	Header []string
	Rows   [][]string
}

type Report struct {
	Summary      Section
	Discordances Section
	Unverifiable Section
	// Diagnostics is nil unless the verdict carries extraction notes.
	Diagnostics *Section
}

// Sections lists the sections in output order.
func (r Report) Sections() []Section {
	out := []Section{r.Summary, r.Discordances, r.Unverifiable}
	if r.Diagnostics != nil {
		out = append(out, *r.Diagnostics)
	}
	return out
}

// RecommendedStatus is VALIDATED for concordant verdicts only.
func RecommendedStatus(v domain.Verdict) string {
	if v.Concordance {
		return StatusValidated
	}
	return StatusNeedsReview
}

// RecommendedAction maps a severity to the reviewer's next step.
func RecommendedAction(s domain.Severity) string {
	if s == domain.SeverityGrave {
		return ActionReject
	}
	return ActionManualReview
}

func impact(s domain.Severity) string {
	if s == domain.SeverityGrave {
		return "serious misstatement"
	}
	return "suspicious gap"
}

// Synthesize builds the report. Every section has at least one row: empty
// sections get an explanatory placeholder.
func Synthesize(v domain.Verdict) Report {
	r := Report{
		Summary: Section{
			Name:   SummarySection,
			Header: append([]string(nil), summaryHeader...),
			Rows:   [][]string{summaryRow(v)},
		},
		Discordances: discordanceSection(v.Discordances),
		Unverifiable: unverifiableSection(v.Unverifiable),
	}
	if len(v.Diagnostics) > 0 {
		s := Section{Name: DiagnosticsSection, Header: []string{"#", "Diagnostic", "Action"}}
		for i, d := range v.Diagnostics {
			s.Rows = append(s.Rows, []string{strconv.Itoa(i + 1), d, diagnosticAction})
		}
		r.Diagnostics = &s
	}
	return r
}

func summaryRow(v domain.Verdict) []string {
	official, gap := notAvailable, notAvailable
	if v.OfficialAverage != nil {
		official = formatFloat(*v.OfficialAverage)
		gap = fmt.Sprintf("%.2f", *v.AverageGap())
	}
	concordance := discordantLabel
	if v.Concordance {
		concordance = concordantLabel
	}
	return []string{
		v.Candidate,
		formatFloat(v.DeclaredAverage),
		official,
		gap,
		concordance,
		strconv.Itoa(len(v.Discordances)),
		strconv.Itoa(len(v.Unverifiable)),
		v.CreatedAt.UTC().Format(summaryTimestampLayout),
		RecommendedStatus(v),
	}
}

func discordanceSection(ds []domain.Discordance) Section {
	if len(ds) == 0 {
		return Section{
			Name:   DiscordancesSection,
			Header: []string{"Message", "Detail"},
			Rows: [][]string{{
				"No discordance detected",
				"Every matched declared grade agrees with the official reports",
			}},
		}
	}
	s := Section{
		Name: DiscordancesSection,
		Header: []string{
			"#", "Subject", "Period", "Level", "Declared", "Official",
			"Deviation", "Deviation %", "Severity", "Impact", "Recommended Action",
		},
	}
	for i, d := range ds {
		s.Rows = append(s.Rows, []string{
			strconv.Itoa(i + 1),
			strings.ToUpper(d.Subject),
			d.Period,
			d.Level,
			formatFloat(d.DeclaredScore),
			formatFloat(d.OfficialScore),
			fmt.Sprintf("%.2f", d.Deviation),
			fmt.Sprintf("%.1f%%", d.Deviation/domain.MaxScore*100),
			string(d.Severity),
			impact(d.Severity),
			RecommendedAction(d.Severity),
		})
	}
	return s
}

func unverifiableSection(items []string) Section {
	if len(items) == 0 {
		return Section{
			Name:   UnverifiableSection,
			Header: []string{"Message", "Detail"},
			Rows: [][]string{{
				"Every declared grade was verified",
				"Each declared grade has a matching official record",
			}},
		}
	}
	s := Section{
		Name:   UnverifiableSection,
		Header: []string{"#", "Declared Record", "Reason", "Recommended Action"},
	}
	for i, item := range items {
		s.Rows = append(s.Rows, []string{strconv.Itoa(i + 1), item, unverifiableReason, ActionRequestDocument})
	}
	return s
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
