// Package reconcile cross-checks declared grades against official school
// reports and produces a verification verdict.
package reconcile

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"bulletin-verifier/domain"
)

// Input is everything one verification run feeds the engine.
type Input struct {
	// RunID becomes the verdict ID; a fresh one is generated when empty.
	RunID       string
	Folder      string
	Identity    domain.CandidateIdentity
	Declared    []domain.DeclaredRecord
	Official    []domain.OfficialRecord
	Diagnostics []string
}

type Engine struct {
	cfg        Config
	normalizer *Normalizer
	classifier *Classifier
	now        func() time.Time
	newID      func() string
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("reconcile config: %w", err)
	}
	cfg = cfg.clone()
	classifier, err := NewClassifier(cfg.Thresholds)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:        cfg,
		normalizer: NewNormalizer(cfg),
		classifier: classifier,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Thresholds() Thresholds {
	return e.cfg.Thresholds
}

func (e *Engine) Normalizer() *Normalizer {
	return e.normalizer
}

// Pairs exposes the cross-matching step on its own.
func (e *Engine) Pairs(declared []domain.DeclaredRecord, official []domain.OfficialRecord) []Pair {
	return CrossMatch(e.normalizer, declared, official)
}

// Reconcile runs matching, classification and aggregation and returns a
// complete verdict. The declared average is carried through untouched.
func (e *Engine) Reconcile(in Input) domain.Verdict {
	pairs := CrossMatch(e.normalizer, in.Declared, in.Official)
	discordances, unverifiable := e.classifier.Classify(pairs)

	id := in.RunID
	if id == "" {
		id = e.newID()
	}
	return domain.Verdict{
		ID:              id,
		Candidate:       in.Identity.Name,
		Folder:          in.Folder,
		DeclaredAverage: in.Identity.DeclaredAverage,
		OfficialAverage: OfficialAverage(in.Official),
		Concordance:     Concordant(discordances, unverifiable),
		Discordances:    discordances,
		Unverifiable:    unverifiable,
		Diagnostics:     append([]string(nil), in.Diagnostics...),
		CreatedAt:       e.now(),
	}
}

func (c Config) clone() Config {
	return Config{
		Thresholds: c.Thresholds,
		Subjects:   c.Subjects.clone(),
		Levels:     c.Levels.clone(),
		Ordinals:   c.Ordinals.clone(),
	}
}

func (t SynonymTable) clone() SynonymTable {
	out := make(SynonymTable, len(t))
	for base, variants := range t {
		out[base] = append([]string(nil), variants...)
	}
	return out
}
