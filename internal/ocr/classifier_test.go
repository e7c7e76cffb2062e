package ocr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/openperu-ingest/internal/doccache"
)

type staticSource struct {
	text string
	err  error
}

func (s staticSource) GetOrRender(context.Context, string) (string, error) {
	return s.text, s.err
}

func TestIsVoteTally(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		want bool
	}{
		{"SI ++ ... NO --", true},
		{"NO --- then later si +++", true},
		{"si+++\n\nno---", true},
		{"SI + NO -", false},
		{"SI ++ with no negative marker", false},
		{"ASI ++ NO --", false},
		{"SI ++" + strings.Repeat("x", 1200) + "NO --", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsVoteTally(tc.text), "%.40q", tc.text)
	}
}

func TestClassifierUsesSource(t *testing.T) {
	t.Parallel()

	c := NewClassifier(staticSource{text: "Resultados SI +++ 80 NO --- 20"}, nil)
	ok, err := c.Classify(context.Background(), "https://example.org/a")
	require.NoError(t, err)
	assert.True(t, ok)

	c = NewClassifier(staticSource{err: errors.New("render failed")}, nil)
	ok, err = c.Classify(context.Background(), "https://example.org/b")
	require.Error(t, err)
	assert.False(t, ok)
}

func TestClassifierRendersOncePerURL(t *testing.T) {
	t.Parallel()

	var renders atomic.Int32
	extract := doccache.ExtractorFunc(func(context.Context, string) (string, error) {
		renders.Add(1)
		return "SI ++ NO --", nil
	})
	store, err := doccache.NewFSStore(t.TempDir())
	require.NoError(t, err)
	cache, err := doccache.New(store, extract, nil)
	require.NoError(t, err)
	c := NewClassifier(cache, nil)

	for i := 0; i < 2; i++ {
		ok, err := c.Classify(context.Background(), "https://example.org/vote.pdf")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, int32(1), renders.Load())
}

func loadLabeledSamples(t *testing.T) []Sample {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join("testdata", "labeled"))
	require.NoError(t, err)
	var samples []Sample
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join("testdata", "labeled", e.Name()))
		require.NoError(t, err)
		samples = append(samples, Sample{
			Name:   e.Name(),
			Text:   string(data),
			IsVote: strings.HasPrefix(e.Name(), "vote_"),
		})
	}
	return samples
}

// TestEvaluateLabeledFixtures measures the tally pattern against scanned
// samples. The low-quality scan and the blank ballot template are known
// misses; a change in these numbers means the pattern changed behavior.
func TestEvaluateLabeledFixtures(t *testing.T) {
	t.Parallel()

	samples := loadLabeledSamples(t)
	require.Len(t, samples, 8)

	report := Evaluate(IsVoteTally, samples)
	assert.Equal(t, 3, report.TruePositives)
	assert.Equal(t, 1, report.FalsePositives)
	assert.Equal(t, 3, report.TrueNegatives)
	assert.Equal(t, 1, report.FalseNegatives)
	assert.ElementsMatch(t, []string{"nonvote_04.txt", "vote_04.txt"}, report.Misses)
	assert.InDelta(t, 0.75, report.Precision(), 1e-9)
	assert.InDelta(t, 0.75, report.Recall(), 1e-9)
	t.Logf("precision=%.2f recall=%.2f", report.Precision(), report.Recall())
}

func TestReportEmptyDenominators(t *testing.T) {
	t.Parallel()

	var r Report
	assert.InDelta(t, 1.0, r.Precision(), 1e-9)
	assert.InDelta(t, 1.0, r.Recall(), 1e-9)
}
