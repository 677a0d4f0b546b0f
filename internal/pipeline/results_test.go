package pipeline

import (
	"errors"
	"math"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/yamnet/internal/classify"
)

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestSuccessResults_Golden(t *testing.T) {
	preds := []classify.Prediction{
		{Label: "Dog", Score: 0.75, Index: 69},
		{Label: "Bark & growl", Score: 0.5, Index: 70},
		{Label: "Cafe\u0301", Score: 0.125, Index: 500},
	}
	doc, err := SuccessResults(1714566600000, preds)
	require.NoError(t, err)
	golden(t).Assert(t, "results_success", []byte(doc))

	assert.Equal(t, "Cafe\u0301", preds[2].Label, "input is not modified")
}

func TestSuccessResults_NoPredictions(t *testing.T) {
	doc, err := SuccessResults(1714566600000, nil)
	require.NoError(t, err)
	golden(t).Assert(t, "results_no_predictions", []byte(doc))
}

func TestSuccessResults_NaNScore(t *testing.T) {
	_, err := SuccessResults(1, []classify.Prediction{{Label: "x", Score: float32(math.NaN())}})
	assert.Error(t, err)
}

func TestErrorResults_Golden(t *testing.T) {
	doc := ErrorResults(errors.New(`INFERENCE: run model: "bad" <shape>`))
	golden(t).Assert(t, "results_error", []byte(doc))
}

func TestErrorResults_NilCause(t *testing.T) {
	assert.Equal(t, `{"status":"error","message":"unknown error"}`, ErrorResults(nil))
}

func TestParseResults(t *testing.T) {
	doc, err := SuccessResults(1714566600000, []classify.Prediction{{Label: "Speech", Score: 0.5, Index: 0}})
	require.NoError(t, err)

	got, err := ParseResults(doc)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)
	assert.Equal(t, int64(1714566600000), got.Timestamp)
	require.Len(t, got.Predictions, 1)
	assert.Equal(t, "Speech", got.Predictions[0].Label)

	got, err = ParseResults(ErrorResults(errors.New("no model")))
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, "no model", got.Message)
}

func TestParseResults_Invalid(t *testing.T) {
	_, err := ParseResults("not json")
	assert.Error(t, err)

	_, err = ParseResults(`{"status":"pending"}`)
	assert.Error(t, err)
}
