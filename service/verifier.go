// Package service runs the verification pipeline for candidate folders:
// document discovery, recognition, reconciliation, report export and
// persistence, with per-folder locking and run tracking.
package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"bulletin-verifier/domain"
	"bulletin-verifier/infrastructure"
	"bulletin-verifier/reconcile"
)

// Store persists verdicts next to the candidate documents.
type Store interface {
	Persist(ctx context.Context, v domain.Verdict) (infrastructure.Stored, error)
	CurrentStatus(ctx context.Context, folder string) (domain.VerificationStatus, error)
	History(ctx context.Context, folder string) ([]infrastructure.StoredVerdict, error)
}

type ReportExporter interface {
	Write(ctx context.Context, v domain.Verdict) (string, error)
}

// RunTracker records run progress; the MySQL run index implements it.
type RunTracker interface {
	Enqueue(ctx context.Context, runID, folder string) (*domain.VerificationRun, error)
	MarkProcessing(ctx context.Context, runID, folder string) error
	Complete(ctx context.Context, runID string, v domain.Verdict, recordPath, reportPath string) error
	Fail(ctx context.Context, runID, folder string, cause error) error
	Get(ctx context.Context, runID string) (*domain.VerificationRun, error)
	ListByFolder(ctx context.Context, folder string, limit int) ([]domain.VerificationRun, error)
}

type Archiver interface {
	Upload(ctx context.Context, folder string, files ...string) ([]string, error)
}

type JobPublisher interface {
	PublishJob(ctx context.Context, job infrastructure.VerificationJob) error
}

// Outcome is what a verification request returns. Verdict is always set;
// when Err is non-nil and the run never reached reconciliation it is the
// error-shaped verdict.
type Outcome struct {
	RunID            string           `json:"run_id"`
	Verdict          domain.Verdict   `json:"verdict"`
	Err              error            `json:"-"`
	RecordLocation   string           `json:"record_location,omitempty"`
	ReportLocation   string           `json:"report_location,omitempty"`
	ArchiveLocations []string         `json:"archive_locations,omitempty"`
	Warnings         []string         `json:"warnings,omitempty"`
	ErrorKind        domain.Kind      `json:"error_kind,omitempty"`
	Status           domain.RunStatus `json:"status"`
}

func (o Outcome) Failed() bool {
	return o.Err != nil
}

type Verifier struct {
	engine      *reconcile.Engine
	recognizer  infrastructure.Recognizer
	store       Store
	reports     ReportExporter
	locker      infrastructure.Locker
	runs        RunTracker
	archive     Archiver
	queue       JobPublisher
	root        string
	localPaths  bool
	parallelism int
	now         func() time.Time
	log         zerolog.Logger
}

type Option func(*Verifier)

func WithLocker(l infrastructure.Locker) Option {
	return func(v *Verifier) { v.locker = l }
}

func WithRunTracker(r RunTracker) Option {
	return func(v *Verifier) { v.runs = r }
}

func WithArchive(a Archiver) Option {
	return func(v *Verifier) { v.archive = a }
}

func WithQueue(q JobPublisher) Option {
	return func(v *Verifier) { v.queue = q }
}

func WithParallelism(n int) Option {
	return func(v *Verifier) { v.parallelism = n }
}

// WithLocalPaths lets folder arguments name any existing directory, not only
// folders under the candidatures root. Only the command line enables it.
func WithLocalPaths() Option {
	return func(v *Verifier) { v.localPaths = true }
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier wires the pipeline. root is the directory holding one folder
// per candidate.
func NewVerifier(root string, engine *reconcile.Engine, recognizer infrastructure.Recognizer, store Store, reports ReportExporter, opts ...Option) *Verifier {
	v := &Verifier{
		engine:      engine,
		recognizer:  recognizer,
		store:       store,
		reports:     reports,
		locker:      infrastructure.NewLocalLocker(),
		root:        root,
		parallelism: 4,
		now:         func() time.Time { return time.Now().UTC() },
		log:         infrastructure.Logger().With().Str("component", "verifier").Logger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.parallelism < 1 {
		v.parallelism = 1
	}
	return v
}

// Verify runs a verification of the named folder under a fresh run ID.
func (v *Verifier) Verify(ctx context.Context, folder string) Outcome {
	return v.VerifyRun(ctx, uuid.NewString(), folder)
}

// VerifyRun runs the full pipeline. It never panics and always returns a
// verdict-shaped outcome.
func (v *Verifier) VerifyRun(ctx context.Context, runID, folder string) (out Outcome) {
	log := v.log.With().Str("run_id", runID).Str("folder", folder).Logger()
	resolved := folder

	defer func() {
		if r := recover(); r != nil {
			err := domain.NewError(domain.KindSystemFailure, "verify", fmt.Errorf("panic: %v", r))
			log.Error().Err(err).Bytes("stack", debug.Stack()).Msg("Verification panicked")
			out = v.failed(ctx, runID, resolved, err)
		}
	}()

	path, err := v.resolve(folder)
	if err != nil {
		return v.failed(ctx, runID, folder, domain.NewError(domain.KindInputMissing, "resolve folder", err))
	}
	resolved = path

	release, err := v.locker.Acquire(ctx, lockKey(path))
	if err != nil {
		log.Warn().Err(err).Msg("Folder is already being verified")
		return v.rejected(runID, path, err)
	}
	defer release()

	if v.runs != nil {
		if err := v.runs.MarkProcessing(ctx, runID, path); err != nil {
			log.Warn().Err(err).Msg("Failed to mark run as processing")
		}
	}
	log.Info().Msg("Verification started")

	declaration, err := infrastructure.FindDeclaration(path)
	if err != nil {
		return v.failed(ctx, runID, path, err)
	}
	bulletins, err := infrastructure.FindBulletins(path)
	if err != nil {
		return v.failed(ctx, runID, path, err)
	}

	in := v.extract(ctx, log, runID, path, declaration, bulletins)
	if err := ctx.Err(); err != nil {
		return v.failed(ctx, runID, path, domain.NewError(domain.KindSystemFailure, "verify", err))
	}
	verdict := v.engine.Reconcile(in)

	out = Outcome{RunID: runID, Status: domain.RunCompleted}

	reportPath, err := v.reports.Write(ctx, verdict)
	if err != nil {
		log.Error().Err(err).Msg("Report export failed")
		out.Warnings = append(out.Warnings, fmt.Sprintf("report not written: %v", err))
	} else {
		verdict = verdict.WithReport(reportPath)
		out.ReportLocation = reportPath
	}
	out.Verdict = verdict

	stored, err := v.store.Persist(ctx, verdict)
	if err != nil {
		log.Error().Err(err).Msg("Verdict could not be persisted")
		out.Err = err
		out.ErrorKind = domain.KindOf(err)
		out.Status = domain.RunFailed
		v.trackFailure(ctx, runID, path, err)
		return out
	}
	out.RecordLocation = stored.Location
	if stored.Fallback != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("verdict stored as summary only: %v", stored.Fallback))
	}

	if v.runs != nil {
		if err := v.runs.Complete(ctx, runID, verdict, stored.Location, out.ReportLocation); err != nil {
			log.Warn().Err(err).Msg("Failed to record completed run")
		}
	}

	if v.archive != nil {
		locs, err := v.archive.Upload(ctx, path, stored.Location, out.ReportLocation)
		if err != nil {
			log.Warn().Err(err).Msg("Archive upload failed")
			out.Warnings = append(out.Warnings, fmt.Sprintf("archive incomplete: %v", err))
		}
		out.ArchiveLocations = locs
	}

	log.Info().
		Str("candidate", verdict.Candidate).
		Bool("concordance", verdict.Concordance).
		Int("discordances", len(verdict.Discordances)).
		Int("unverifiable", len(verdict.Unverifiable)).
		Msg("Verification finished")
	return out
}

// extract runs the recognition calls one after another. A failed document
// contributes no records and leaves a diagnostic instead.
func (v *Verifier) extract(ctx context.Context, log zerolog.Logger, runID, folder, declaration string, bulletins []string) reconcile.Input {
	in := reconcile.Input{RunID: runID, Folder: folder}
	note := func(file string, err error) {
		log.Warn().Err(err).Str("document", filepath.Base(file)).Msg("Extraction incomplete")
		in.Diagnostics = append(in.Diagnostics, fmt.Sprintf("extraction incomplete: %s: %v", filepath.Base(file), err))
	}

	form, err := infrastructure.LoadDocument(declaration)
	if err != nil {
		note(declaration, err)
	} else {
		identity, err := v.recognizer.IdentifyCandidate(ctx, form)
		if err != nil {
			note(declaration, err)
		}
		in.Identity = identity

		declared, err := v.recognizer.ExtractDeclared(ctx, form)
		if err != nil {
			note(declaration, err)
		}
		in.Declared = declared
	}
	if in.Identity.Name == "" {
		if name, ok := infrastructure.IdentityFromFolder(folder); ok {
			in.Identity.Name = name
		} else {
			in.Identity.Name = filepath.Base(folder)
		}
	}

	for _, b := range bulletins {
		if ctx.Err() != nil {
			break
		}
		doc, err := infrastructure.LoadDocument(b)
		if err != nil {
			note(b, err)
			continue
		}
		records, err := v.recognizer.ExtractOfficial(ctx, doc)
		if err != nil {
			note(b, err)
			continue
		}
		in.Official = append(in.Official, records...)
	}
	return in
}

// failed builds the error-shaped outcome. Nothing is persisted in the folder.
func (v *Verifier) failed(ctx context.Context, runID, folder string, err error) Outcome {
	kind := domain.KindOf(err)
	v.log.Error().Err(err).Str("run_id", runID).Str("folder", folder).Str("kind", string(kind)).Msg("Verification failed")
	v.trackFailure(ctx, runID, folder, err)
	return Outcome{
		RunID:     runID,
		Verdict:   domain.ErrorVerdict(runID, folder, err, v.now()),
		Err:       err,
		ErrorKind: kind,
		Status:    domain.RunFailed,
	}
}

// rejected answers a request that found the folder locked. The run that
// holds the lock owns the index row, so nothing is tracked here.
func (v *Verifier) rejected(runID, folder string, err error) Outcome {
	return Outcome{
		RunID:     runID,
		Verdict:   domain.ErrorVerdict(runID, folder, err, v.now()),
		Err:       err,
		ErrorKind: domain.KindOf(err),
		Status:    domain.RunFailed,
	}
}

func (v *Verifier) trackFailure(ctx context.Context, runID, folder string, err error) {
	if v.runs == nil {
		return
	}
	if terr := v.runs.Fail(context.WithoutCancel(ctx), runID, folder, err); terr != nil {
		v.log.Warn().Err(terr).Str("run_id", runID).Msg("Failed to record failed run")
	}
}

// VerifyAll verifies several folders concurrently; each folder is still
// processed sequentially. Outcomes keep the order of folders.
func (v *Verifier) VerifyAll(ctx context.Context, folders []string) []Outcome {
	outcomes := make([]Outcome, len(folders))
	var g errgroup.Group
	g.SetLimit(v.parallelism)
	for i, f := range folders {
		g.Go(func() error {
			outcomes[i] = v.Verify(ctx, f)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// VerifyAllCandidates verifies every folder under the candidatures root.
func (v *Verifier) VerifyAllCandidates(ctx context.Context) ([]Outcome, error) {
	folders, err := infrastructure.ListFolders(v.root)
	if err != nil {
		return nil, err
	}
	return v.VerifyAll(ctx, folders), nil
}

// Submit queues a verification and returns its run ID. Without a queue the
// caller is expected to run the verification inline.
func (v *Verifier) Submit(ctx context.Context, folder string) (string, error) {
	if v.queue == nil {
		return "", ErrNoQueue
	}
	path, err := v.resolve(folder)
	if err != nil {
		return "", err
	}
	runID := uuid.NewString()
	if v.runs != nil {
		if _, err := v.runs.Enqueue(ctx, runID, path); err != nil {
			return "", err
		}
	}
	if err := v.queue.PublishJob(ctx, infrastructure.VerificationJob{RunID: runID, Folder: path}); err != nil {
		v.trackFailure(ctx, runID, path, err)
		return "", fmt.Errorf("failed to queue job: %w", err)
	}
	v.log.Info().Str("run_id", runID).Str("folder", path).Msg("Verification queued")
	return runID, nil
}

// HandleJob is the queue worker entry point.
func (v *Verifier) HandleJob(ctx context.Context, job infrastructure.VerificationJob) {
	v.VerifyRun(ctx, job.RunID, job.Folder)
}

// Status reports the latest persisted verdict of a folder.
func (v *Verifier) Status(ctx context.Context, folder string) (domain.VerificationStatus, error) {
	path, err := v.resolve(folder)
	if err != nil {
		return domain.NotVerified(), err
	}
	return v.store.CurrentStatus(ctx, path)
}

func (v *Verifier) History(ctx context.Context, folder string) ([]infrastructure.StoredVerdict, error) {
	path, err := v.resolve(folder)
	if err != nil {
		return nil, err
	}
	return v.store.History(ctx, path)
}

func (v *Verifier) Detect(_ context.Context, folder string) (infrastructure.Detection, error) {
	path, err := v.resolve(folder)
	if err != nil {
		return infrastructure.Detection{}, err
	}
	return infrastructure.Detect(path)
}

// Run looks a run up in the run index.
func (v *Verifier) Run(ctx context.Context, runID string) (*domain.VerificationRun, error) {
	if v.runs == nil {
		return nil, ErrNoRunIndex
	}
	return v.runs.Get(ctx, runID)
}

// Runs lists the indexed runs of a folder, newest first.
func (v *Verifier) Runs(ctx context.Context, folder string, limit int) ([]domain.VerificationRun, error) {
	if v.runs == nil {
		return nil, ErrNoRunIndex
	}
	path, err := v.resolve(folder)
	if err != nil {
		return nil, err
	}
	return v.runs.ListByFolder(ctx, path, limit)
}

var (
	ErrNoQueue    = errors.New("no job queue configured")
	ErrNoRunIndex = errors.New("no run index configured")
)

func (v *Verifier) resolve(folder string) (string, error) {
	if v.localPaths {
		return infrastructure.ResolvePath(v.root, folder)
	}
	return infrastructure.ResolveFolder(v.root, folder)
}

func lockKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
