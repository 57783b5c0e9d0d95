package infrastructure

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"bulletin-verifier/domain"
	"bulletin-verifier/report"
)

const (
	reportPrefix      = "VERIFICATION_"
	workbookExt       = ".xlsx"
	reportCSVExt      = ".csv"
	reportTimeLayout  = "20060102_150405"
	maxColumnWidth    = 50
	defaultSheetName  = "Sheet1"
	reportNameMaxRune = 60
)

// ReportWriter exports verification reports as workbooks next to the
// candidate documents.
type ReportWriter struct {
	log  zerolog.Logger
	encode func(f *excelize.File) ([]byte, error)
}

func NewReportWriter() *ReportWriter {
	return &ReportWriter{
		log: Logger().With().Str("component", "report_writer").Logger(),
		encode: func(f *excelize.File) ([]byte, error) {
			buf, err := f.WriteToBuffer()
			if err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	}
}

// Write exports the report of v into its folder and returns the file path.
// A CSV of the summary section is written when the workbook cannot be.
func (w *ReportWriter) Write(ctx context.Context, v domain.Verdict) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := ensureFolder(v.Folder); err != nil {
		return "", domain.NewError(domain.KindPersistenceFailure, "write report", err)
	}

	rep := report.Synthesize(v)
	base := reportBaseName(v)

	path, err := w.writeWorkbook(rep, v.Folder, base)
	if err == nil {
		w.log.Info().Str("folder", v.Folder).Str("report", path).Msg("Report workbook written")
		return path, nil
	}

	w.log.Error().Err(err).Str("folder", v.Folder).Msg("Failed to write report workbook, falling back to CSV")
	csvPath, csvErr := w.writeSummaryCSV(rep, v.Folder, base)
	if csvErr != nil {
		return "", domain.NewError(domain.KindPersistenceFailure, "write report", errors.Join(err, csvErr))
	}
	w.log.Warn().Str("folder", v.Folder).Str("report", csvPath).Msg("Report summary written as CSV")
	return csvPath, nil
}

func (w *ReportWriter) writeWorkbook(rep report.Report, folder, base string) (string, error) {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return "", fmt.Errorf("create header style: %w", err)
	}

	for i, section := range rep.Sections() {
		if i == 0 {
			if err := f.SetSheetName(defaultSheetName, section.Name); err != nil {
				return "", fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(section.Name); err != nil {
			return "", fmt.Errorf("create sheet %s: %w", section.Name, err)
		}
		if err := writeSection(f, section, bold); err != nil {
			return "", fmt.Errorf("sheet %s: %w", section.Name, err)
		}
	}
	f.SetActiveSheet(0)

	data, err := w.encode(f)
	if err != nil {
		return "", fmt.Errorf("encode workbook: %w", err)
	}
	return writeNew(folder, base, workbookExt, data)
}

func writeSection(f *excelize.File, s report.Section, headerStyle int) error {
	rows := append([][]string{s.Header}, s.Rows...)
	widths := make([]int, len(s.Header))

	for r, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, r+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for c, v := range row {
			values[c] = v
			if c >= len(widths) {
				widths = append(widths, 0)
			}
			if n := len([]rune(v)); n > widths[c] {
				widths[c] = n
			}
		}
		if err := f.SetSheetRow(s.Name, cell, &values); err != nil {
			return err
		}
	}

	if len(s.Header) > 0 {
		last, err := excelize.CoordinatesToCellName(len(s.Header), 1)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(s.Name, "A1", last, headerStyle); err != nil {
			return err
		}
	}

	for c, width := range widths {
		col, err := excelize.ColumnNumberToName(c + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(s.Name, col, col, float64(min(width+2, maxColumnWidth))); err != nil {
			return err
		}
	}
	return nil
}

func (w *ReportWriter) writeSummaryCSV(rep report.Report, folder, base string) (string, error) {
	var b strings.Builder
	cw := csv.NewWriter(&b)
	if err := cw.WriteAll(append([][]string{rep.Summary.Header}, rep.Summary.Rows...)); err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}
	return writeNew(folder, base, reportCSVExt, []byte(b.String()))
}

// ReadSummary reads the summary section back from a report written by Write,
// whether it is a workbook or the CSV fallback.
func ReadSummary(path string) (report.ParsedSummary, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case reportCSVExt:
		rows, err = readCSV(path)
	case workbookExt:
		rows, err = readSummarySheet(path)
	default:
		return report.ParsedSummary{}, fmt.Errorf("unsupported report format: %s", path)
	}
	if err != nil {
		return report.ParsedSummary{}, err
	}
	return report.ParseSummarySection(rows)
}

func readSummarySheet(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(report.SummarySection)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return csv.NewReader(file).ReadAll()
}

func reportBaseName(v domain.Verdict) string {
	at := v.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	return reportPrefix + fileSafe(v.Candidate) + "_" + at.UTC().Format(reportTimeLayout)
}

// fileSafe keeps letters and digits and turns every other run of characters
// into a single underscore.
func fileSafe(s string) string {
	var b strings.Builder
	underscore := false
	n := 0
	for _, r := range strings.TrimSpace(s) {
		if n >= reportNameMaxRune {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
		} else if !underscore {
			b.WriteByte('_')
			underscore = true
		}
		n++
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "candidate"
	}
	return out
}
