package ingest

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/openperu-ingest/internal/bills"
	"github.com/JakeFAU/openperu-ingest/internal/congress"
	"github.com/JakeFAU/openperu-ingest/internal/congresspeople"
	"github.com/JakeFAU/openperu-ingest/internal/directory"
	"github.com/JakeFAU/openperu-ingest/internal/fetch"
	"github.com/JakeFAU/openperu-ingest/internal/registry"
	"github.com/JakeFAU/openperu-ingest/internal/sink/memory"
)

const baseURL = "https://example.test/spley-portal-service"

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type staticIDs struct{ id string }

func (s staticIDs) NewID() (string, error) { return s.id, nil }

type mapFetcher struct {
	bodies map[string]string
	calls  [][]fetch.Request
}

func (f *mapFetcher) FetchMany(_ context.Context, reqs []fetch.Request) []fetch.Result {
	f.calls = append(f.calls, reqs)
	out := make([]fetch.Result, len(reqs))
	for i, req := range reqs {
		body, ok := f.bodies[req.URL]
		if !ok {
			out[i] = fetch.Result{Request: req, Err: &fetch.StatusError{URL: req.URL, StatusCode: 404}, Attempts: 1}
			continue
		}
		out[i] = fetch.Result{Request: req, Response: fetch.Response{URL: req.URL, StatusCode: 200, Body: []byte(body)}, Attempts: 1}
	}
	return out
}

type voteClassifier struct{}

func (voteClassifier) Classify(_ context.Context, url string) (bool, error) {
	return url == bills.DocumentURL(baseURL, "9002"), nil
}

func fixtureBody(t *testing.T) string {
	t.Helper()
	body, err := os.ReadFile("../bills/testdata/expediente_2021_1234.json")
	require.NoError(t, err)
	return string(body)
}

type harness struct {
	pipeline   *Pipeline
	sink       *memory.Sink
	fetcher    *mapFetcher
	bancadas   *registry.Registry
	committees *registry.Registry
}

func newHarness(t *testing.T, bodies map[string]string, batch int) harness {
	t.Helper()
	seq := registry.NewSequence()
	bancadas := registry.New(registry.Config{Kind: string(congress.OrgBancada), Sequence: seq}, nil)
	committees := registry.New(registry.Config{Kind: string(congress.OrgCommittee), Sequence: seq}, nil)
	dir := directory.New([]congress.Congressperson{
		{ID: 101, Website: "https://www.congreso.gob.pe/congresistas2021/JuanPerez/"},
	})
	n, err := bills.NewNormalizer(bills.Config{BaseURL: baseURL}, bills.Deps{
		Directory:  dir,
		Classifier: voteClassifier{},
		Bancadas:   bancadas,
		Committees: committees,
	}, nil)
	require.NoError(t, err)

	f := &mapFetcher{bodies: bodies}
	sink := memory.New()
	p, err := New(Config{BaseURL: baseURL, BatchSize: batch, Workers: 2}, Deps{
		Fetcher:       f,
		Normalizer:    n,
		Sink:          sink,
		Organizations: []Ledger{bancadas, committees},
		Clock:         fixedClock{t: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)},
		IDs:           staticIDs{id: "run-1"},
	}, zap.NewNop())
	require.NoError(t, err)
	return harness{pipeline: p, sink: sink, fetcher: f, bancadas: bancadas, committees: committees}
}

func TestIngestBillsEndToEnd(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[string]string{
		bills.PayloadURL(baseURL, "2021", 1234): fixtureBody(t),
		bills.PayloadURL(baseURL, "2021", 1236): `{"data":`,
	}, 2)

	sum, err := h.pipeline.IngestBills(context.Background(), Range("2021", 1234, 1236))
	require.NoError(t, err)

	assert.Equal(t, "run-1", sum.RunID)
	assert.Equal(t, int64(3), sum.Requested)
	assert.Equal(t, int64(2), sum.Fetched)
	assert.Equal(t, int64(1), sum.Normalized)
	assert.Equal(t, int64(2), sum.Failed)
	assert.Equal(t, int64(1), sum.Votes)
	assert.False(t, sum.Running)
	assert.Len(t, h.fetcher.calls, 2)

	recs := h.sink.Bills()
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, "2021_1234", rec.Bill.ID)
	require.NotNil(t, rec.Bill.AuthorID)
	assert.Equal(t, 101, *rec.Bill.AuthorID)
	require.Len(t, rec.Steps, 3)
	assert.Equal(t, "2021_1234_1", rec.Steps[1].VoteID())

	orgs := h.sink.Organizations()
	require.Len(t, orgs, 2)
	assert.Equal(t, congress.OrgBancada, orgs[0].Kind)
	assert.Equal(t, "Fuerza Popular", orgs[0].Name)
	assert.Equal(t, congress.OrgCommittee, orgs[1].Kind)
	assert.NotEqual(t, orgs[0].OrgID, orgs[1].OrgID)

	cur, ok := h.pipeline.Tracker().Current()
	require.True(t, ok)
	assert.Equal(t, sum.Normalized, cur.Normalized)
	assert.Equal(t, "bills", cur.Kind)
}

func TestIngestBillsCanceled(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[string]string{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.pipeline.IngestBills(ctx, Range("2021", 1, 5))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.fetcher.calls)
}

func TestTrackerIdleBeforeRun(t *testing.T) {
	t.Parallel()
	_, ok := NewTracker().Current()
	assert.False(t, ok)
}

func TestRange(t *testing.T) {
	t.Parallel()
	assert.Len(t, Range("2021", 5, 7), 3)
	assert.Nil(t, Range("2021", 7, 5))
}

type fakePeople struct {
	periods []congresspeople.Period
	results map[string]congresspeople.Result
	errs    map[string]error
}

func (f fakePeople) ListPeriods(context.Context) ([]congresspeople.Period, error) {
	return f.periods, nil
}

func (f fakePeople) ScrapePeriod(_ context.Context, p congresspeople.Period) (congresspeople.Result, error) {
	return f.results[p.Value], f.errs[p.Value]
}

func TestIngestCongresspeople(t *testing.T) {
	t.Parallel()
	parties := registry.New(registry.Config{Kind: string(congress.OrgParty), Aliases: registry.PartyAliases}, nil)
	party, _ := parties.Resolve("Somos Perú", "2021-2026")
	parties.Resolve("Partido Morado", "2016-2021")
	bancadas := registry.New(registry.Config{Kind: string(congress.OrgBancada)}, nil)
	bancada, _ := bancadas.Resolve("Podemos Perú", "2021-2026")

	people := fakePeople{
		periods: []congresspeople.Period{{Label: "2021-2026", Value: "1"}, {Label: "2016-2021", Value: "2"}},
		results: map[string]congresspeople.Result{
			"1": {Links: 3, Failed: 1, People: []congress.Congressperson{
				{ID: 1, PartyID: party, BancadaID: bancada},
				{ID: 2, PartyID: party, BancadaID: bancada},
			}},
		},
		errs: map[string]error{"2": errors.New("roster unavailable")},
	}
	sink := memory.New()
	p, err := New(Config{}, Deps{
		People:        people,
		Sink:          sink,
		Parties:       parties,
		Organizations: []Ledger{bancadas},
		Clock:         fixedClock{t: time.Unix(0, 0).UTC()},
		IDs:           staticIDs{id: "run-2"},
	}, nil)
	require.NoError(t, err)

	sum, err := p.IngestCongresspeople(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), sum.Requested)
	assert.Equal(t, int64(2), sum.Normalized)
	assert.Equal(t, int64(1), sum.Failed)

	assert.Len(t, sink.Congresspeople(), 2)
	require.Len(t, sink.Parties(), 1)
	assert.Equal(t, "Partido Democrático Somos Perú", sink.Parties()[0].Name)
	assert.Len(t, sink.Organizations(), 1)
	// Stored entries are not written again.
	assert.Empty(t, parties.Pending())
	assert.Empty(t, bancadas.Pending())
}

func TestNewValidates(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, Deps{}, nil)
	require.Error(t, err)

	p, err := New(Config{}, Deps{Sink: memory.New(), Clock: fixedClock{}, IDs: staticIDs{id: "x"}}, nil)
	require.NoError(t, err)
	_, err = p.IngestBills(context.Background(), nil)
	require.Error(t, err)
	_, err = p.IngestCongresspeople(context.Background())
	require.Error(t, err)
}
