package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulletin-verifier/domain"
	"bulletin-verifier/infrastructure"
	"bulletin-verifier/reconcile"
)

type fakeRecognizer struct {
	mu          sync.Mutex
	identity    domain.CandidateIdentity
	identityErr error
	declared    []domain.DeclaredRecord
	declaredErr error
	official    map[string][]domain.OfficialRecord
	officialErr map[string]error
	panicOn     string
	calls       []string
}

func (f *fakeRecognizer) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeRecognizer) ExtractDeclared(_ context.Context, doc infrastructure.Document) ([]domain.DeclaredRecord, error) {
	f.record("declared:" + doc.Name)
	return f.declared, f.declaredErr
}

func (f *fakeRecognizer) ExtractOfficial(_ context.Context, doc infrastructure.Document) ([]domain.OfficialRecord, error) {
	f.record("official:" + doc.Name)
	if doc.Name == f.panicOn {
		panic("recognizer exploded")
	}
	if err := f.officialErr[doc.Name]; err != nil {
		return nil, err
	}
	return f.official[doc.Name], nil
}

func (f *fakeRecognizer) IdentifyCandidate(_ context.Context, doc infrastructure.Document) (domain.CandidateIdentity, error) {
	f.record("identity:" + doc.Name)
	return f.identity, f.identityErr
}

type memoryRuns struct {
	mu   sync.Mutex
	runs map[string]*domain.VerificationRun
}

func newMemoryRuns() *memoryRuns {
	return &memoryRuns{runs: map[string]*domain.VerificationRun{}}
}

func (m *memoryRuns) Enqueue(_ context.Context, runID, folder string) (*domain.VerificationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &domain.VerificationRun{RunID: runID, Folder: folder, Status: domain.RunQueued}
	m.runs[runID] = r
	return r, nil
}

func (m *memoryRuns) set(runID, folder string, status domain.RunStatus) *domain.VerificationRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		r = &domain.VerificationRun{RunID: runID, Folder: folder}
		m.runs[runID] = r
	}
	r.Status = status
	return r
}

func (m *memoryRuns) MarkProcessing(_ context.Context, runID, folder string) error {
	m.set(runID, folder, domain.RunProcessing)
	return nil
}

func (m *memoryRuns) Complete(_ context.Context, runID string, v domain.Verdict, _, _ string) error {
	r := m.set(runID, v.Folder, domain.RunCompleted)
	r.Candidate = v.Candidate
	r.Concordance = v.Concordance
	return nil
}

func (m *memoryRuns) Fail(_ context.Context, runID, folder string, cause error) error {
	msg := cause.Error()
	m.set(runID, folder, domain.RunFailed).ErrorMessage = &msg
	return nil
}

func (m *memoryRuns) Get(_ context.Context, runID string) (*domain.VerificationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runs[runID]; ok {
		return r, nil
	}
	return nil, domain.ErrRunNotFound
}

func (m *memoryRuns) ListByFolder(_ context.Context, folder string, _ int) ([]domain.VerificationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.VerificationRun
	for _, r := range m.runs {
		if r.Folder == folder {
			out = append(out, *r)
		}
	}
	return out, nil
}

type fakeQueue struct {
	jobs []infrastructure.VerificationJob
	err  error
}

func (q *fakeQueue) PublishJob(_ context.Context, job infrastructure.VerificationJob) error {
	q.jobs = append(q.jobs, job)
	return q.err
}

func candidateFolder(t *testing.T, root, name string, files ...string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("%PDF-1.4"), 0o644))
	}
	return dir
}

func newTestVerifier(t *testing.T, root string, rec infrastructure.Recognizer, opts ...Option) *Verifier {
	t.Helper()
	engine, err := reconcile.New(reconcile.DefaultConfig())
	require.NoError(t, err)
	return NewVerifier(root, engine, rec, infrastructure.NewFileStore(), infrastructure.NewReportWriter(), opts...)
}

func TestVerifyConcordantCandidate(t *testing.T) {
	root := t.TempDir()
	dir := candidateFolder(t, root, "KONE_Awa", "candidature.pdf", "bulletin_2nde_T1.pdf")
	rec := &fakeRecognizer{
		identity: domain.CandidateIdentity{Name: "Awa KONE", DeclaredAverage: 12},
		declared: []domain.DeclaredRecord{{Subject: "maths", Score: 12, Weight: 4, Period: "1", Level: "2nde"}},
		official: map[string][]domain.OfficialRecord{
			"bulletin_2nde_T1.pdf": {{Subject: "mathématiques", Score: 12.3, Period: "1er trimestre", Level: "seconde"}},
		},
	}
	runs := newMemoryRuns()
	v := newTestVerifier(t, root, rec, WithRunTracker(runs))

	out := v.Verify(context.Background(), "KONE_Awa")
	require.NoError(t, out.Err)
	assert.Equal(t, domain.RunCompleted, out.Status)
	assert.True(t, out.Verdict.Concordance)
	assert.Equal(t, "Awa KONE", out.Verdict.Candidate)
	assert.Equal(t, out.RunID, out.Verdict.ID)
	require.NotNil(t, out.Verdict.ReportLocation)
	assert.Equal(t, out.ReportLocation, *out.Verdict.ReportLocation)
	assert.FileExists(t, out.RecordLocation)
	assert.FileExists(t, out.ReportLocation)
	assert.Empty(t, out.Warnings)

	st, err := v.Status(context.Background(), "KONE_Awa")
	require.NoError(t, err)
	assert.True(t, st.Verified)
	require.NotNil(t, st.Concordance)
	assert.True(t, *st.Concordance)
	assert.Equal(t, out.ReportLocation, *st.ReportLocation)

	run, err := v.Run(context.Background(), out.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, dir, run.Folder)

	indexed, err := v.Runs(context.Background(), "KONE_Awa", 10)
	require.NoError(t, err)
	require.Len(t, indexed, 1)
	assert.Equal(t, out.RunID, indexed[0].RunID)

	summary, err := infrastructure.ReadSummary(out.ReportLocation)
	require.NoError(t, err)
	assert.True(t, summary.Concordance)
}

func TestVerifyKeepsDiagnosticsForFailedDocuments(t *testing.T) {
	root := t.TempDir()
	candidateFolder(t, root, "OUATTARA_ismael", "formulaire.pdf", "bulletin_1ere.pdf", "bulletin_tle.pdf")
	rec := &fakeRecognizer{
		identityErr: errors.New("no name"),
		declared: []domain.DeclaredRecord{
			{Subject: "francais", Score: 10, Weight: 1, Period: "1", Level: "1ère"},
			{Subject: "philo", Score: 14, Weight: 1, Period: "2", Level: "terminale"},
		},
		official: map[string][]domain.OfficialRecord{
			"bulletin_1ere.pdf": {{Subject: "francais", Score: 12.5, Period: "1", Level: "1ère"}},
		},
		officialErr: map[string]error{"bulletin_tle.pdf": errors.New("timeout")},
	}
	v := newTestVerifier(t, root, rec)

	out := v.Verify(context.Background(), "ouattara")
	require.NoError(t, out.Err)
	verdict := out.Verdict
	assert.Equal(t, "Ismael OUATTARA", verdict.Candidate)
	assert.False(t, verdict.Concordance)
	require.Len(t, verdict.Discordances, 1)
	assert.Equal(t, domain.SeverityGrave, verdict.Discordances[0].Severity)
	assert.Equal(t, []string{"philo (2, terminale)"}, verdict.Unverifiable)
	assert.Contains(t, verdict.Diagnostics, "extraction incomplete: bulletin_tle.pdf: timeout")
	assert.Contains(t, verdict.Diagnostics, "extraction incomplete: formulaire.pdf: no name")
}

func TestVerifyInputMissing(t *testing.T) {
	root := t.TempDir()
	candidateFolder(t, root, "DIALLO_Mariam", "candidature.pdf")
	runs := newMemoryRuns()
	v := newTestVerifier(t, root, &fakeRecognizer{}, WithRunTracker(runs))

	out := v.Verify(context.Background(), "DIALLO_Mariam")
	require.Error(t, out.Err)
	assert.ErrorIs(t, out.Err, domain.ErrInputMissing)
	assert.Equal(t, domain.KindInputMissing, out.ErrorKind)
	assert.Equal(t, domain.ErrorCandidate, out.Verdict.Candidate)
	assert.False(t, out.Verdict.Concordance)
	require.Len(t, out.Verdict.Unverifiable, 1)
	assert.True(t, strings.HasPrefix(out.Verdict.Unverifiable[0], "system error: "))

	st, err := v.Status(context.Background(), "DIALLO_Mariam")
	require.NoError(t, err)
	assert.False(t, st.Verified)

	run, err := runs.Get(context.Background(), out.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, run.Status)
}

func TestVerifyUnknownFolder(t *testing.T) {
	v := newTestVerifier(t, t.TempDir(), &fakeRecognizer{})

	out := v.Verify(context.Background(), "NOBODY")
	assert.ErrorIs(t, out.Err, domain.ErrFolderNotFound)
	assert.Equal(t, domain.ErrorCandidate, out.Verdict.Candidate)
}

func TestVerifyRecoversFromPanic(t *testing.T) {
	root := t.TempDir()
	candidateFolder(t, root, "KONE_Awa", "candidature.pdf", "bulletin_2nde.pdf")
	rec := &fakeRecognizer{panicOn: "bulletin_2nde.pdf"}
	v := newTestVerifier(t, root, rec)

	out := v.Verify(context.Background(), "KONE_Awa")
	require.Error(t, out.Err)
	assert.ErrorIs(t, out.Err, domain.ErrSystemFailure)
	assert.Equal(t, domain.ErrorCandidate, out.Verdict.Candidate)
	assert.Contains(t, out.Verdict.Unverifiable[0], "recognizer exploded")

	again := v.Verify(context.Background(), "KONE_Awa")
	assert.NotErrorIs(t, again.Err, domain.ErrFolderBusy)
}

func TestVerifyRejectsConcurrentRunOnSameFolder(t *testing.T) {
	root := t.TempDir()
	dir := candidateFolder(t, root, "KONE_Awa", "candidature.pdf", "bulletin_2nde.pdf")
	locker := infrastructure.NewLocalLocker()
	release, err := locker.Acquire(context.Background(), lockKey(dir))
	require.NoError(t, err)
	defer release()

	v := newTestVerifier(t, root, &fakeRecognizer{}, WithLocker(locker))
	out := v.Verify(context.Background(), "KONE_Awa")
	assert.ErrorIs(t, out.Err, domain.ErrFolderBusy)

	st, err := v.Status(context.Background(), "KONE_Awa")
	require.NoError(t, err)
	assert.False(t, st.Verified)
}

func TestVerifyAll(t *testing.T) {
	root := t.TempDir()
	candidateFolder(t, root, "A_One", "candidature.pdf", "bulletin_2nde.pdf")
	candidateFolder(t, root, "B_Two", "candidature.pdf")
	candidateFolder(t, root, "C_Three", "candidature.pdf", "bulletin_tle.pdf")
	rec := &fakeRecognizer{identity: domain.CandidateIdentity{Name: "X"}}
	v := newTestVerifier(t, root, rec, WithParallelism(2))

	outcomes, err := v.VerifyAllCandidates(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.NoError(t, outcomes[0].Err)
	assert.ErrorIs(t, outcomes[1].Err, domain.ErrInputMissing)
	assert.NoError(t, outcomes[2].Err)
}

func TestVerifyHistoryKeepsEveryRun(t *testing.T) {
	root := t.TempDir()
	candidateFolder(t, root, "KONE_Awa", "candidature.pdf", "bulletin_2nde.pdf")
	clock := time.Date(2025, 6, 12, 9, 0, 0, 0, time.UTC)
	engine, err := reconcile.New(reconcile.DefaultConfig(), reconcile.WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}))
	require.NoError(t, err)
	v := NewVerifier(root, engine, &fakeRecognizer{}, infrastructure.NewFileStore(), infrastructure.NewReportWriter())

	first := v.Verify(context.Background(), "KONE_Awa")
	second := v.Verify(context.Background(), "KONE_Awa")
	require.NoError(t, first.Err)
	require.NoError(t, second.Err)

	history, err := v.History(context.Background(), "KONE_Awa")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.RunID, history[0].Verdict.ID)
	assert.Equal(t, first.RunID, history[1].Verdict.ID)
}

func TestSubmit(t *testing.T) {
	root := t.TempDir()
	dir := candidateFolder(t, root, "KONE_Awa", "candidature.pdf")
	runs := newMemoryRuns()
	queue := &fakeQueue{}
	v := newTestVerifier(t, root, &fakeRecognizer{}, WithRunTracker(runs), WithQueue(queue))

	runID, err := v.Submit(context.Background(), "KONE_Awa")
	require.NoError(t, err)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, infrastructure.VerificationJob{RunID: runID, Folder: dir}, queue.jobs[0])
	run, err := v.Run(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunQueued, run.Status)

	_, err = newTestVerifier(t, root, &fakeRecognizer{}).Submit(context.Background(), "KONE_Awa")
	assert.ErrorIs(t, err, ErrNoQueue)
}

func TestDetect(t *testing.T) {
	root := t.TempDir()
	candidateFolder(t, root, "KONE_Awa", "candidature.pdf", "bulletin_2nde.pdf")
	v := newTestVerifier(t, root, &fakeRecognizer{})

	d, err := v.Detect(context.Background(), "kone")
	require.NoError(t, err)
	assert.True(t, d.Verifiable)
	assert.Equal(t, "candidature.pdf", d.Declaration)
}
