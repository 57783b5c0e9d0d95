package infrastructure

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"bulletin-verifier/domain"
	"bulletin-verifier/report"
)

func TestReportWriterWorkbookRoundTrip(t *testing.T) {
	dir := t.TempDir()
	v := testVerdict(dir, time.Date(2025, 6, 12, 9, 30, 0, 0, time.UTC), false)
	v.Unverifiable = []string{"philo (2, terminale)"}
	v.Diagnostics = []string{"extraction incomplete: bulletin_tle.pdf: timeout"}

	path, err := NewReportWriter().Write(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, "VERIFICATION_Awa_KONE_20250612_093000.xlsx", filepath.Base(path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{
		report.SummarySection, report.DiscordancesSection, report.UnverifiableSection, report.DiagnosticsSection,
	}, f.GetSheetList())

	rows, err := f.GetRows(report.DiscordancesSection)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "MATHS", rows[1][1])

	parsed, err := ReadSummary(path)
	require.NoError(t, err)
	assert.Equal(t, v.Candidate, parsed.Candidate)
	assert.Equal(t, v.DeclaredAverage, parsed.DeclaredAverage)
	assert.Equal(t, v.OfficialAverage, parsed.OfficialAverage)
	assert.False(t, parsed.Concordance)
	assert.Equal(t, 1, parsed.DiscordanceCount)
	assert.Equal(t, 1, parsed.UnverifiableCount)
	assert.Equal(t, report.StatusNeedsReview, parsed.Status)
}

func TestReportWriterDoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	v := testVerdict(dir, time.Date(2025, 6, 12, 9, 30, 0, 0, time.UTC), true)
	w := NewReportWriter()

	first, err := w.Write(context.Background(), v)
	require.NoError(t, err)
	second, err := w.Write(context.Background(), v)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestReportWriterFallsBackToCSV(t *testing.T) {
	dir := t.TempDir()
	v := testVerdict(dir, time.Date(2025, 6, 12, 9, 30, 0, 0, time.UTC), true)
	w := NewReportWriter()
	w.encode = func(*excelize.File) ([]byte, error) { return nil, errors.New("read-only volume") }

	path, err := w.Write(context.Background(), v)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".csv"))

	parsed, err := ReadSummary(path)
	require.NoError(t, err)
	assert.True(t, parsed.Concordance)
	assert.Equal(t, report.StatusValidated, parsed.Status)
}

func TestReportWriterMissingFolder(t *testing.T) {
	v := testVerdict(filepath.Join(t.TempDir(), "nope"), time.Now(), true)

	_, err := NewReportWriter().Write(context.Background(), v)
	assert.ErrorIs(t, err, domain.ErrPersistenceFailure)
}

func TestReadSummaryUnsupported(t *testing.T) {
	_, err := ReadSummary("report.pdf")
	assert.Error(t, err)
}

func TestFileSafe(t *testing.T) {
	assert.Equal(t, "Awa_KONE", fileSafe("Awa KONE"))
	assert.Equal(t, "Ismaël_N_Guessan", fileSafe(" Ismaël N'Guessan "))
	assert.Equal(t, "candidate", fileSafe("  "))
}
