package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"bulletin-verifier/domain"
)

// Recognizer turns candidate documents into typed records.
type Recognizer interface {
	ExtractDeclared(ctx context.Context, doc Document) ([]domain.DeclaredRecord, error)
	ExtractOfficial(ctx context.Context, doc Document) ([]domain.OfficialRecord, error)
	IdentifyCandidate(ctx context.Context, doc Document) (domain.CandidateIdentity, error)
}

// Completer sends one instruction and one document to a model and returns
// its raw text answer.
type Completer interface {
	Name() string
	Complete(ctx context.Context, prompt string, doc Document) (string, error)
}

const declaredPrompt = `You analyse French school application forms.

Extract EVERY grade the candidate declared on this form.

Return strict JSON with structure:
{
  "declared_grades": [
    {"subject": "francais", "score": 12.5, "weight": 3, "period": "1er trimestre", "level": "1ère"},
    {"subject": "maths", "score": 14.0, "weight": 4, "period": "2ème trimestre", "level": "1ère"}
  ]
}

Rules:
1. Look for the "RELEVÉ DE NOTES", "NOTES SAISIES" or "BULLETINS" section.
2. Subjects in lower case: "francais", "anglais", "maths", "histoire", "svt", "physique", etc.
3. Periods: "1er trimestre", "2ème trimestre", "3ème trimestre".
4. Levels: "2nde", "1ère", "terminale".
5. Only grades written by the candidate, never invent one.
6. Scores are out of 20; convert other scales to 20.
7. weight defaults to 1 when not written.

Return ONLY the raw JSON without any markdown formatting, code blocks, or additional text.`

const officialPrompt = `You analyse French school reports (bulletins scolaires).

Extract EVERY individual grade of the student visible on this report.

Return strict JSON with structure:
{
  "bulletin": {
    "period": "1er trimestre",
    "level": "1ère",
    "institution": "Lycée Victor Hugo",
    "grades": [
      {"subject": "francais", "score": 12.5},
      {"subject": "maths", "score": 14.0}
    ]
  }
}

Rules:
1. Subjects in lower case: "francais", "anglais", "maths", "histoire", "svt", "physique", "chimie", "philosophie", etc.
2. Periods: "1er trimestre", "2ème trimestre", "3ème trimestre".
3. Levels: "2nde", "1ère", "terminale".
4. Numeric grades out of 20 only.
5. Ignore class averages, keep the student's own grades.
6. Never invent missing data.

Return ONLY the raw JSON without any markdown formatting, code blocks, or additional text.`

const identityPrompt = `You analyse school application forms.

Extract the candidate's personal information.

Return strict JSON with structure:
{
  "last_name": "OUATTARA",
  "first_name": "Ismael",
  "declared_average": 11.54
}

Rules:
1. Look for the "INFORMATIONS PERSONNELLES" section or similar.
2. Copy the exact last and first names.
3. declared_average is the "Moyenne générale" written by the candidate.
4. Use null for anything not found, never invent.

Return ONLY the raw JSON without any markdown formatting, code blocks, or additional text.`

// PromptRecognizer asks a Completer for JSON and validates what comes back.
type PromptRecognizer struct {
	completer Completer
	log       zerolog.Logger
}

func NewPromptRecognizer(c Completer) *PromptRecognizer {
	return &PromptRecognizer{
		completer: c,
		log:       Logger().With().Str("component", "recognizer").Str("backend", c.Name()).Logger(),
	}
}

type declaredPayload struct {
	Grades []struct {
		Subject string          `json:"subject"`
		Score   json.RawMessage `json:"score"`
		Weight  json.RawMessage `json:"weight"`
		Period  json.RawMessage `json:"period"`
		Level   string          `json:"level"`
	} `json:"declared_grades"`
}

type officialPayload struct {
	Bulletin struct {
		Period      json.RawMessage `json:"period"`
		Level       string          `json:"level"`
		Institution string          `json:"institution"`
		Grades      []struct {
			Subject string          `json:"subject"`
			Score   json.RawMessage `json:"score"`
		} `json:"grades"`
	} `json:"bulletin"`
}

type identityPayload struct {
	Name            json.RawMessage `json:"name"`
	LastName        json.RawMessage `json:"last_name"`
	FirstName       json.RawMessage `json:"first_name"`
	DeclaredAverage json.RawMessage `json:"declared_average"`
}

func (r *PromptRecognizer) ExtractDeclared(ctx context.Context, doc Document) ([]domain.DeclaredRecord, error) {
	var payload declaredPayload
	if err := r.ask(ctx, declaredPrompt, doc, &payload); err != nil {
		return nil, err
	}

	records := make([]domain.DeclaredRecord, 0, len(payload.Grades))
	dropped := 0
	for i, g := range payload.Grades {
		rec, err := func() (domain.DeclaredRecord, error) {
			score, err := parseScore(g.Score)
			if err != nil {
				return domain.DeclaredRecord{}, err
			}
			weight, err := parseWeight(g.Weight)
			if err != nil {
				return domain.DeclaredRecord{}, err
			}
			rec := domain.DeclaredRecord{
				Subject: strings.ToLower(strings.TrimSpace(g.Subject)),
				Score:   score,
				Weight:  weight,
				Period:  parseLabel(g.Period),
				Level:   strings.TrimSpace(g.Level),
			}
			return rec, rec.Validate()
		}()
		if err != nil {
			dropped++
			r.log.Warn().Err(err).Str("document", doc.Name).Int("index", i).Msg("Dropping malformed declared grade")
			continue
		}
		records = append(records, rec)
	}
	r.log.Info().Str("document", doc.Name).Int("kept", len(records)).Int("dropped", dropped).Msg("Declared grades extracted")
	return records, nil
}

func (r *PromptRecognizer) ExtractOfficial(ctx context.Context, doc Document) ([]domain.OfficialRecord, error) {
	var payload officialPayload
	if err := r.ask(ctx, officialPrompt, doc, &payload); err != nil {
		return nil, err
	}

	b := payload.Bulletin
	period := parseLabel(b.Period)
	records := make([]domain.OfficialRecord, 0, len(b.Grades))
	dropped := 0
	for i, g := range b.Grades {
		score, err := parseScore(g.Score)
		rec := domain.OfficialRecord{
			Subject:     strings.ToLower(strings.TrimSpace(g.Subject)),
			Score:       score,
			Period:      period,
			Level:       strings.TrimSpace(b.Level),
			Institution: strings.TrimSpace(b.Institution),
		}
		if err == nil {
			err = rec.Validate()
		}
		if err != nil {
			dropped++
			r.log.Warn().Err(err).Str("document", doc.Name).Int("index", i).Msg("Dropping malformed official grade")
			continue
		}
		records = append(records, rec)
	}
	r.log.Info().Str("document", doc.Name).Int("kept", len(records)).Int("dropped", dropped).Msg("Official grades extracted")
	return records, nil
}

// IdentifyCandidate reads the name and declared average. Name fields may come
// back as a string, a list of parts or an object; they are flattened here.
func (r *PromptRecognizer) IdentifyCandidate(ctx context.Context, doc Document) (domain.CandidateIdentity, error) {
	var payload identityPayload
	if err := r.ask(ctx, identityPrompt, doc, &payload); err != nil {
		return domain.CandidateIdentity{}, err
	}
	return normalizeIdentity(payload)
}

func normalizeIdentity(p identityPayload) (domain.CandidateIdentity, error) {
	name := flattenName(p.Name)
	if name == "" {
		parts := []string{flattenName(p.FirstName), strings.ToUpper(flattenName(p.LastName))}
		name = strings.TrimSpace(strings.Join(parts, " "))
	}
	if name == "" {
		return domain.CandidateIdentity{}, domain.NewError(domain.KindExtractionFailure, "identify candidate",
			errors.New("no candidate name in response"))
	}

	id := domain.CandidateIdentity{Name: name}
	if isNull(p.DeclaredAverage) {
		return id, nil
	}
	avg, err := parseScore(p.DeclaredAverage)
	if err != nil {
		return domain.CandidateIdentity{}, domain.NewError(domain.KindExtractionFailure, "identify candidate",
			fmt.Errorf("declared average: %w", err))
	}
	id.DeclaredAverage = avg
	return id, nil
}

var nameKeyOrder = []string{"name", "full_name", "first_name", "first", "given_name", "prenom", "last_name", "last", "family_name", "nom"}

func flattenName(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.Join(strings.Fields(s), " ")
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		var parts []string
		for _, item := range list {
			if v := flattenName(item); v != "" {
				parts = append(parts, v)
			}
		}
		return strings.Join(parts, " ")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		var parts []string
		seen := map[string]bool{}
		for _, k := range nameKeyOrder {
			if v, ok := obj[k]; ok {
				seen[k] = true
				if s := flattenName(v); s != "" {
					parts = append(parts, s)
				}
			}
		}
		rest := make([]string, 0, len(obj))
		for k := range obj {
			if !seen[k] {
				rest = append(rest, k)
			}
		}
		sort.Strings(rest)
		for _, k := range rest {
			if s := flattenName(obj[k]); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

func (r *PromptRecognizer) ask(ctx context.Context, prompt string, doc Document, out any) error {
	text, err := r.completer.Complete(ctx, prompt, doc)
	if err != nil {
		return domain.NewError(domain.KindExtractionFailure, "recognize "+doc.Name, err)
	}
	cleaned := cleanJSONResponse(text)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return domain.NewError(domain.KindExtractionFailure, "recognize "+doc.Name,
			fmt.Errorf("failed to parse JSON: %w", err))
	}
	return nil
}

// parseScore accepts JSON numbers and strings such as "12,5" or "12.5/20".
func parseScore(raw json.RawMessage) (float64, error) {
	if isNull(raw) {
		return 0, domain.NewError(domain.KindMalformedRecord, "parse score", errors.New("score is missing"))
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, domain.NewError(domain.KindMalformedRecord, "parse score", fmt.Errorf("unparsable score %s", raw))
	}
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "/"); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.ReplaceAll(s, ",", ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, domain.NewError(domain.KindMalformedRecord, "parse score", fmt.Errorf("unparsable score %q", s))
	}
	return f, nil
}

func parseWeight(raw json.RawMessage) (int, error) {
	if isNull(raw) {
		return 1, nil
	}
	f, err := parseScore(raw)
	if err != nil {
		return 0, domain.NewError(domain.KindMalformedRecord, "parse weight", fmt.Errorf("unparsable weight %s", raw))
	}
	if f != float64(int(f)) {
		return 0, domain.NewError(domain.KindMalformedRecord, "parse weight", fmt.Errorf("weight %v is not an integer", f))
	}
	return int(f), nil
}

// parseLabel reads a period label that may come back as text or a bare number.
func parseLabel(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
	}
	if strings.HasSuffix(content, "```") {
		content = strings.TrimSuffix(content, "```")
	}

	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start != -1 && end != -1 && end > start {
		content = content[start : end+1]
	}

	return strings.TrimSpace(content)
}

// RetryPolicy bounds every recognition call.
type RetryPolicy struct {
	Timeout        time.Duration
	MaxAttempts    uint
	InitialBackoff time.Duration
}

// RetryingRecognizer retries failed calls with exponential backoff. Each
// attempt gets its own timeout. Malformed responses are not retried.
type RetryingRecognizer struct {
	next   Recognizer
	policy RetryPolicy
	log    zerolog.Logger
}

func NewRetryingRecognizer(next Recognizer, policy RetryPolicy) *RetryingRecognizer {
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = 1
	}
	return &RetryingRecognizer{
		next:   next,
		policy: policy,
		log:    Logger().With().Str("component", "recognizer_retry").Logger(),
	}
}

func (r *RetryingRecognizer) ExtractDeclared(ctx context.Context, doc Document) ([]domain.DeclaredRecord, error) {
	return retryCall(ctx, r, doc, func(ctx context.Context) ([]domain.DeclaredRecord, error) {
		return r.next.ExtractDeclared(ctx, doc)
	})
}

func (r *RetryingRecognizer) ExtractOfficial(ctx context.Context, doc Document) ([]domain.OfficialRecord, error) {
	return retryCall(ctx, r, doc, func(ctx context.Context) ([]domain.OfficialRecord, error) {
		return r.next.ExtractOfficial(ctx, doc)
	})
}

func (r *RetryingRecognizer) IdentifyCandidate(ctx context.Context, doc Document) (domain.CandidateIdentity, error) {
	return retryCall(ctx, r, doc, func(ctx context.Context) (domain.CandidateIdentity, error) {
		return r.next.IdentifyCandidate(ctx, doc)
	})
}

func retryCall[T any](ctx context.Context, r *RetryingRecognizer, doc Document, call func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if r.policy.InitialBackoff > 0 {
		b.InitialInterval = r.policy.InitialBackoff
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		callCtx := ctx
		if r.policy.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.policy.Timeout)
			defer cancel()
		}
		out, err := call(callCtx)
		if err != nil && isParseFailure(err) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}
	notify := func(err error, next time.Duration) {
		r.log.Warn().Err(err).Str("document", doc.Name).Int("attempt", attempt).Dur("retry_in", next).Msg("Recognition call failed, retrying")
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.policy.MaxAttempts),
		backoff.WithNotify(notify),
	)
}

// isParseFailure reports answers that arrived but were not the expected JSON.
func isParseFailure(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

// NewRecognizer builds the configured backend wrapped with the retry policy.
// The returned close function releases backend resources.
func NewRecognizer(ctx context.Context, cfg RecognitionConfig) (Recognizer, func() error, error) {
	var (
		completer Completer
		closeFn   = func() error { return nil }
	)
	switch strings.ToLower(cfg.Provider) {
	case "gemini", "":
		c, err := NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModels)
		if err != nil {
			return nil, nil, err
		}
		completer = c
	case "openai":
		c, err := NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			return nil, nil, err
		}
		completer = c
	case "vertex":
		c, err := NewVertexClient(ctx, cfg.VertexProject, cfg.VertexLocation, cfg.VertexModel)
		if err != nil {
			return nil, nil, err
		}
		completer = c
		closeFn = c.Close
	default:
		return nil, nil, fmt.Errorf("unknown recognition provider %q", cfg.Provider)
	}

	return NewRetryingRecognizer(NewPromptRecognizer(completer), RetryPolicy{
		Timeout:        cfg.Timeout,
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
	}), closeFn, nil
}
