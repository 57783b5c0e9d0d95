package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulletin-verifier/domain"
)

type fakeCompleter struct {
	answers []string
	errs    []error
	calls   int
	prompts []string
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) Complete(_ context.Context, prompt string, _ Document) (string, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(f.answers) {
		return f.answers[i], nil
	}
	return f.answers[len(f.answers)-1], nil
}

var formDoc = Document{Name: "candidature.pdf", MIMEType: "application/pdf", Data: []byte("%PDF")}

func TestExtractDeclaredKeepsValidSiblings(t *testing.T) {
	answer := "```json\n" + `{"declared_grades": [
		{"subject": " Maths ", "score": 12, "weight": 4, "period": "1er trimestre", "level": "2nde"},
		{"subject": "francais", "score": "13,5", "period": 2, "level": "1ère"},
		{"subject": "anglais", "score": 24, "weight": 1, "period": "1", "level": "1ère"},
		{"subject": "svt", "score": "abc", "weight": 1, "period": "1", "level": "1ère"},
		{"subject": "", "score": 10, "weight": 1, "period": "1", "level": "1ère"},
		{"subject": "histoire", "score": 11, "weight": 0, "period": "1", "level": "1ère"},
		{"subject": "eps", "score": "15/20", "weight": 1.5, "period": "1", "level": "1ère"}
	]}` + "\n```"
	r := NewPromptRecognizer(&fakeCompleter{answers: []string{answer}})

	records, err := r.ExtractDeclared(context.Background(), formDoc)
	require.NoError(t, err)
	assert.Equal(t, []domain.DeclaredRecord{
		{Subject: "maths", Score: 12, Weight: 4, Period: "1er trimestre", Level: "2nde"},
		{Subject: "francais", Score: 13.5, Weight: 1, Period: "2", Level: "1ère"},
	}, records)
}

func TestExtractOfficial(t *testing.T) {
	answer := `Here you go: {"bulletin": {"period": "2ème trimestre", "level": "Terminale", "institution": "Lycée Victor Hugo",
		"grades": [{"subject": "Philosophie", "score": 9.5}, {"subject": "maths", "score": null}]}}`
	r := NewPromptRecognizer(&fakeCompleter{answers: []string{answer}})

	records, err := r.ExtractOfficial(context.Background(), Document{Name: "bulletin_tle.pdf"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.OfficialRecord{
		Subject: "philosophie", Score: 9.5, Period: "2ème trimestre", Level: "Terminale", Institution: "Lycée Victor Hugo",
	}, records[0])
}

func TestExtractFailures(t *testing.T) {
	r := NewPromptRecognizer(&fakeCompleter{errs: []error{errors.New("quota exceeded")}, answers: []string{""}})
	_, err := r.ExtractOfficial(context.Background(), formDoc)
	assert.ErrorIs(t, err, domain.ErrExtractionFailure)

	r = NewPromptRecognizer(&fakeCompleter{answers: []string{"I could not read this document."}})
	_, err = r.ExtractDeclared(context.Background(), formDoc)
	assert.ErrorIs(t, err, domain.ErrExtractionFailure)
}

func TestIdentifyCandidateShapes(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   domain.CandidateIdentity
	}{
		{"plain fields", `{"last_name": "ouattara", "first_name": "Ismael", "declared_average": 11.54}`,
			domain.CandidateIdentity{Name: "Ismael OUATTARA", DeclaredAverage: 11.54}},
		{"list of parts", `{"name": ["Awa", "KONE"], "declared_average": "14,2"}`,
			domain.CandidateIdentity{Name: "Awa KONE", DeclaredAverage: 14.2}},
		{"object", `{"name": {"last_name": "DIALLO", "first_name": "Mariam"}, "declared_average": null}`,
			domain.CandidateIdentity{Name: "Mariam DIALLO"}},
		{"string", `{"name": "  Jean   Marc  TRAORE "}`,
			domain.CandidateIdentity{Name: "Jean Marc TRAORE"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewPromptRecognizer(&fakeCompleter{answers: []string{tt.answer}})
			got, err := r.IdentifyCandidate(context.Background(), formDoc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIdentifyCandidateWithoutName(t *testing.T) {
	r := NewPromptRecognizer(&fakeCompleter{answers: []string{`{"last_name": null, "first_name": null, "declared_average": 12}`}})
	_, err := r.IdentifyCandidate(context.Background(), formDoc)
	assert.ErrorIs(t, err, domain.ErrExtractionFailure)
}

func TestRetryingRecognizerRetriesTransientErrors(t *testing.T) {
	fake := &fakeCompleter{
		errs:    []error{errors.New("503"), errors.New("503")},
		answers: []string{"", "", `{"bulletin": {"period": "1", "level": "2nde", "grades": [{"subject": "maths", "score": 12}]}}`},
	}
	r := NewRetryingRecognizer(NewPromptRecognizer(fake), RetryPolicy{
		Timeout: time.Second, MaxAttempts: 3, InitialBackoff: time.Millisecond,
	})

	records, err := r.ExtractOfficial(context.Background(), formDoc)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 3, fake.calls)
}

func TestRetryingRecognizerGivesUp(t *testing.T) {
	fake := &fakeCompleter{errs: []error{errors.New("a"), errors.New("b")}, answers: []string{""}}
	r := NewRetryingRecognizer(NewPromptRecognizer(fake), RetryPolicy{MaxAttempts: 2, InitialBackoff: time.Millisecond})

	_, err := r.ExtractDeclared(context.Background(), formDoc)
	assert.ErrorIs(t, err, domain.ErrExtractionFailure)
	assert.Equal(t, 2, fake.calls)
}

func TestRetryingRecognizerDoesNotRetryBadJSON(t *testing.T) {
	fake := &fakeCompleter{answers: []string{`{"declared_grades": "none"}`}}
	r := NewRetryingRecognizer(NewPromptRecognizer(fake), RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond})

	_, err := r.ExtractDeclared(context.Background(), formDoc)
	require.Error(t, err)
	var typeErr *json.UnmarshalTypeError
	assert.ErrorAs(t, err, &typeErr)
	assert.Equal(t, 1, fake.calls)
}

func TestCleanJSONResponse(t *testing.T) {
	assert.Equal(t, `{"a":1}`, cleanJSONResponse("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cleanJSONResponse("Result: {\"a\":1} done"))
}
