package infrastructure

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bulletin-verifier/domain"
	"bulletin-verifier/report"
)

const (
	recordPrefix       = "verification_"
	recordExt          = ".json"
	summaryExt         = ".summary.csv"
	recordTimeLayout   = "20060102T150405.000000000Z"
	reportLocationCol  = "Report Location"
	FormatJSON         = "json"
	FormatSummaryCSV   = "summary-csv"
	maxNameCollisions  = 100
	recordIDPrefixSize = 8
)

// Stored describes where a verdict ended up.
type Stored struct {
	Location string
	Format   string
	// Fallback is the primary-format failure when Format is FormatSummaryCSV.
	Fallback error
}

// StoredVerdict is a readable verdict record together with its file.
type StoredVerdict struct {
	Verdict  domain.Verdict
	Location string
}

// FileStore keeps one record per verification run inside the candidate
// folder. Records are never overwritten.
type FileStore struct {
	log     zerolog.Logger
	marshal func(v any) ([]byte, error)
}

func NewFileStore() *FileStore {
	return &FileStore{
		log: Logger().With().Str("component", "verdict_store").Logger(),
		marshal: func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		},
	}
}

// Persist writes the verdict as JSON. When that fails it writes the summary
// row as CSV instead; an error is returned only when nothing could be written.
func (s *FileStore) Persist(ctx context.Context, v domain.Verdict) (Stored, error) {
	if err := ctx.Err(); err != nil {
		return Stored{}, err
	}
	if err := ensureFolder(v.Folder); err != nil {
		return Stored{}, domain.NewError(domain.KindPersistenceFailure, "persist verdict", err)
	}

	base := recordBaseName(v)
	location, primaryErr := s.writeJSON(v, base)
	if primaryErr == nil {
		s.log.Info().Str("folder", v.Folder).Str("record", location).Msg("Verdict persisted")
		return Stored{Location: location, Format: FormatJSON}, nil
	}

	s.log.Error().Err(primaryErr).Str("folder", v.Folder).Msg("Failed to write verdict record, falling back to summary CSV")
	location, fallbackErr := s.writeSummaryCSV(v, base)
	if fallbackErr != nil {
		return Stored{}, domain.NewError(domain.KindPersistenceFailure, "persist verdict",
			errors.Join(primaryErr, fallbackErr))
	}
	s.log.Warn().Str("folder", v.Folder).Str("record", location).Msg("Verdict summary persisted")
	return Stored{Location: location, Format: FormatSummaryCSV, Fallback: primaryErr}, nil
}

func (s *FileStore) writeJSON(v domain.Verdict, base string) (string, error) {
	data, err := s.marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal verdict: %w", err)
	}
	return writeNew(v.Folder, base, recordExt, data)
}

func (s *FileStore) writeSummaryCSV(v domain.Verdict, base string) (string, error) {
	summary := report.Synthesize(v).Summary
	header := append(append([]string(nil), summary.Header...), reportLocationCol)
	row := append(append([]string(nil), summary.Rows[0]...), "")
	if v.ReportLocation != nil {
		row[len(row)-1] = *v.ReportLocation
	}

	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.WriteAll([][]string{header, row}); err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}
	return writeNew(v.Folder, base, summaryExt, []byte(b.String()))
}

// CurrentStatus returns the status of the most recent readable record, or
// NotVerified when the folder has none.
func (s *FileStore) CurrentStatus(ctx context.Context, folder string) (domain.VerificationStatus, error) {
	entries, err := s.scan(ctx, folder)
	if err != nil {
		return domain.NotVerified(), err
	}
	if len(entries) == 0 {
		return domain.NotVerified(), nil
	}
	return entries[0].status, nil
}

// Latest returns the most recent full verdict. Summary-only records are
// skipped because they cannot rebuild the discordance list.
func (s *FileStore) Latest(ctx context.Context, folder string) (StoredVerdict, bool, error) {
	history, err := s.History(ctx, folder)
	if err != nil || len(history) == 0 {
		return StoredVerdict{}, false, err
	}
	return history[0], true, nil
}

// History lists every readable JSON verdict of the folder, newest first.
func (s *FileStore) History(ctx context.Context, folder string) ([]StoredVerdict, error) {
	entries, err := s.scan(ctx, folder)
	if err != nil {
		return nil, err
	}
	out := make([]StoredVerdict, 0, len(entries))
	for _, e := range entries {
		if e.verdict != nil {
			out = append(out, StoredVerdict{Verdict: *e.verdict, Location: e.path})
		}
	}
	return out, nil
}

type storedEntry struct {
	path      string
	name      string
	createdAt time.Time
	modTime   time.Time
	status    domain.VerificationStatus
	verdict   *domain.Verdict
}

func (s *FileStore) scan(ctx context.Context, folder string) ([]storedEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(folder)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrFolderNotFound, folder)
		}
		return nil, fmt.Errorf("list %s: %w", folder, err)
	}

	var entries []storedEntry
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, recordPrefix) {
			continue
		}
		path := filepath.Join(folder, name)

		var (
			entry storedEntry
			err   error
		)
		switch {
		case strings.HasSuffix(name, summaryExt):
			entry, err = readSummaryRecord(path)
		case strings.HasSuffix(name, recordExt):
			entry, err = readJSONRecord(path)
		default:
			continue
		}
		if err != nil {
			s.log.Warn().Err(err).Str("record", path).Msg("Skipping unreadable verdict record")
			continue
		}
		if info, err := de.Info(); err == nil {
			entry.modTime = info.ModTime()
		}
		entry.path = path
		entry.name = name
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.createdAt.Equal(b.createdAt) {
			return a.createdAt.After(b.createdAt)
		}
		if !a.modTime.Equal(b.modTime) {
			return a.modTime.After(b.modTime)
		}
		return a.name > b.name
	})
	return entries, nil
}

func readJSONRecord(path string) (storedEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return storedEntry{}, err
	}
	var v domain.Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		return storedEntry{}, fmt.Errorf("decode verdict: %w", err)
	}
	if v.CreatedAt.IsZero() {
		return storedEntry{}, fmt.Errorf("verdict has no creation time")
	}
	return storedEntry{createdAt: v.CreatedAt, status: domain.StatusOf(v, path), verdict: &v}, nil
}

func readSummaryRecord(path string) (storedEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return storedEntry{}, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return storedEntry{}, fmt.Errorf("decode summary: %w", err)
	}
	parsed, err := report.ParseSummarySection(rows)
	if err != nil {
		return storedEntry{}, err
	}
	reportLocation := ""
	for i, h := range rows[0] {
		if h == reportLocationCol && i < len(rows[1]) {
			reportLocation = rows[1][i]
		}
	}
	return storedEntry{createdAt: parsed.VerifiedAt, status: parsed.ToStatus(reportLocation, path)}, nil
}

func recordBaseName(v domain.Verdict) string {
	id := strings.ReplaceAll(v.ID, "-", "")
	if len(id) > recordIDPrefixSize {
		id = id[:recordIDPrefixSize]
	}
	at := v.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	name := recordPrefix + at.UTC().Format(recordTimeLayout)
	if id != "" {
		name += "_" + id
	}
	return name
}

// writeNew writes data under a name that does not exist yet, going through a
// temporary file so readers never see a half-written record. The record is
// published with a hard link, which fails instead of replacing an existing
// file, so the next base-n name is tried.
func writeNew(folder, base, ext string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(folder, ".tmp-"+base+"-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	for i := 0; i < maxNameCollisions; i++ {
		target := filepath.Join(folder, base+ext)
		if i > 0 {
			target = filepath.Join(folder, fmt.Sprintf("%s-%d%s", base, i, ext))
		}
		err := os.Link(tmpName, target)
		if err == nil {
			return target, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("no free file name for %s%s", base, ext)
}

func ensureFolder(folder string) error {
	if folder == "" {
		return fmt.Errorf("verdict has no folder")
	}
	info, err := os.Stat(folder)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", domain.ErrFolderNotFound, folder)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", folder)
	}
	return nil
}
