package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"bulletin-verifier/domain"
)

// ParsedSummary is what the summary row says about a verdict.
type ParsedSummary struct {
	Candidate         string
	DeclaredAverage   float64
	OfficialAverage   *float64
	Concordance       bool
	DiscordanceCount  int
	UnverifiableCount int
	VerifiedAt        time.Time
	Status            string
}

// ParseSummary reads a summary row back using its header to locate columns.
func ParseSummary(header, row []string) (ParsedSummary, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	get := func(col string) (string, error) {
		i, ok := idx[col]
		if !ok {
			return "", fmt.Errorf("summary column %q missing", col)
		}
		if i >= len(row) {
			return "", nil
		}
		return strings.TrimSpace(row[i]), nil
	}

	var (
		out ParsedSummary
		err error
		raw string
	)
	if out.Candidate, err = get(ColCandidate); err != nil {
		return out, err
	}
	if raw, err = get(ColDeclaredAvg); err != nil {
		return out, err
	}
	if out.DeclaredAverage, err = strconv.ParseFloat(raw, 64); err != nil {
		return out, fmt.Errorf("declared average %q: %w", raw, err)
	}
	if raw, err = get(ColOfficialAvg); err != nil {
		return out, err
	}
	if raw != notAvailable && raw != "" {
		avg, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return out, fmt.Errorf("official average %q: %w", raw, err)
		}
		out.OfficialAverage = &avg
	}
	if raw, err = get(ColConcordance); err != nil {
		return out, err
	}
	switch raw {
	case concordantLabel:
		out.Concordance = true
	case discordantLabel:
	default:
		return out, fmt.Errorf("concordance %q is neither %s nor %s", raw, concordantLabel, discordantLabel)
	}
	if raw, err = get(ColDiscordances); err != nil {
		return out, err
	}
	if out.DiscordanceCount, err = strconv.Atoi(raw); err != nil {
		return out, fmt.Errorf("discordance count %q: %w", raw, err)
	}
	if raw, err = get(ColUnverifiable); err != nil {
		return out, err
	}
	if out.UnverifiableCount, err = strconv.Atoi(raw); err != nil {
		return out, fmt.Errorf("unverifiable count %q: %w", raw, err)
	}
	if raw, err = get(ColVerifiedAt); err != nil {
		return out, err
	}
	if out.VerifiedAt, err = time.Parse(summaryTimestampLayout, raw); err != nil {
		return out, fmt.Errorf("verified at %q: %w", raw, err)
	}
	if out.Status, err = get(ColStatus); err != nil {
		return out, err
	}
	return out, nil
}

// ParseSummarySection reads the first data row of a summary table.
func ParseSummarySection(rows [][]string) (ParsedSummary, error) {
	if len(rows) < 2 {
		return ParsedSummary{}, fmt.Errorf("summary section has %d rows, want header and one row", len(rows))
	}
	return ParseSummary(rows[0], rows[1])
}

// ToStatus converts the summary into a status answer. The discordance count
// is all a summary row can tell about individual discordances.
func (s ParsedSummary) ToStatus(reportLocation, recordLocation string) domain.VerificationStatus {
	concordance := s.Concordance
	at := s.VerifiedAt
	st := domain.VerificationStatus{
		Verified:         true,
		Concordance:      &concordance,
		DiscordanceCount: s.DiscordanceCount,
		VerifiedAt:       &at,
	}
	if reportLocation != "" {
		st.ReportLocation = &reportLocation
	}
	if recordLocation != "" {
		st.RecordLocation = &recordLocation
	}
	return st
}
