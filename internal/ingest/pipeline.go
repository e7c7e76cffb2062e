// Package ingest runs the bill and congressperson ingestion passes: it
// batches source requests through the fetch orchestrator, normalizes the
// responses and hands the records to the configured sink.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/openperu-ingest/internal/bills"
	"github.com/JakeFAU/openperu-ingest/internal/congress"
	"github.com/JakeFAU/openperu-ingest/internal/congresspeople"
	"github.com/JakeFAU/openperu-ingest/internal/fetch"
	"github.com/JakeFAU/openperu-ingest/internal/memberships"
	"github.com/JakeFAU/openperu-ingest/internal/metrics"
)

const (
	defaultBatchSize = 50
	defaultWorkers   = 4
)

// BillRef names one bill to ingest.
type BillRef struct {
	Year   string
	Number int
}

// Range expands the inclusive bill number range [from, to] for year.
func Range(year string, from, to int) []BillRef {
	if to < from {
		return nil
	}
	refs := make([]BillRef, 0, to-from+1)
	for n := from; n <= to; n++ {
		refs = append(refs, BillRef{Year: year, Number: n})
	}
	return refs
}

// Fetcher issues batches of requests.
type Fetcher interface {
	FetchMany(ctx context.Context, reqs []fetch.Request) []fetch.Result
}

// Normalizer turns one decoded payload into a bill record.
type Normalizer interface {
	Normalize(ctx context.Context, p bills.Payload, year string, number int) (congress.BillRecord, error)
}

// PeopleScraper walks the congressperson directory.
type PeopleScraper interface {
	ListPeriods(ctx context.Context) ([]congresspeople.Period, error)
	ScrapePeriod(ctx context.Context, p congresspeople.Period) (congresspeople.Result, error)
}

// MembershipScraper collects the offices held by stored congresspeople.
type MembershipScraper interface {
	Scrape(ctx context.Context, people []congress.Congressperson) (memberships.Result, error)
}

// Config tunes a Pipeline.
type Config struct {
	// BaseURL is the bill service root.
	BaseURL string
	// BatchSize is the number of payload requests handed to the
	// orchestrator at once.
	BatchSize int
	// Workers bounds how many bills are normalized concurrently.
	Workers int
}

// Deps are the Pipeline's collaborators. People is only needed for
// IngestCongresspeople, Normalizer only for IngestBills. Memberships and
// Archive are optional.
//
// Organizations must draw their ids from one shared sequence: ids of
// stored records are committed on every organization ledger.
type Deps struct {
	Fetcher       Fetcher
	Normalizer    Normalizer
	People        PeopleScraper
	Memberships   MembershipScraper
	Sink          congress.RecordSink
	Archive       congress.RawArchive
	Organizations []Ledger
	Parties       Ledger
	Clock         congress.Clock
	IDs           congress.IDGenerator
	Tracker       *Tracker
}

// Pipeline coordinates one ingestion run at a time.
type Pipeline struct {
	cfg    Config
	deps   Deps
	tracer trace.Tracer
	logger *zap.Logger
}

// New validates deps and applies defaults.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Pipeline, error) {
	if deps.Sink == nil || deps.Clock == nil || deps.IDs == nil {
		return nil, fmt.Errorf("sink, clock and id generator are required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if deps.Tracker == nil {
		deps.Tracker = NewTracker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		tracer: otel.Tracer("github.com/JakeFAU/openperu-ingest/internal/ingest"),
		logger: logger.Named("ingest"),
	}, nil
}

// Tracker returns the live tally shared with the ops API.
func (p *Pipeline) Tracker() *Tracker {
	return p.deps.Tracker
}

// IngestBills fetches, normalizes and stores refs, then stores the
// organizations the stored bills reference. Per-bill failures are counted in
// the Summary. An error is returned only when the run cannot proceed:
// cancellation or a failure to store the organization snapshot.
func (p *Pipeline) IngestBills(ctx context.Context, refs []BillRef) (Summary, error) {
	if p.deps.Fetcher == nil || p.deps.Normalizer == nil {
		return Summary{}, fmt.Errorf("bill ingestion needs a fetcher and a normalizer")
	}
	runID, logger, err := p.begin("bills")
	if err != nil {
		return Summary{}, err
	}
	defer p.deps.Tracker.finish(p.deps.Clock.Now())

	ctx, span := p.tracer.Start(ctx, "ingest.bills", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("bills.requested", len(refs)),
	))
	defer span.End()

	t := p.deps.Tracker
	t.requested.Add(int64(len(refs)))
	logger.Info("bill run started", zap.Int("bills", len(refs)), zap.Int("batch_size", p.cfg.BatchSize))

	for start := 0; start < len(refs); start += p.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			break
		}
		end := min(start+p.cfg.BatchSize, len(refs))
		p.ingestBatch(ctx, refs[start:end], logger)
		logger.Info("batch done",
			zap.Int("through", end),
			zap.Int64("normalized", t.normalized.Load()),
			zap.Int64("failed", t.failed.Load()),
		)
	}

	runErr := errors.Join(ctx.Err(), p.flushOrganizations(context.WithoutCancel(ctx)))

	sum, _ := t.Current()
	sum.FinishedAt = p.deps.Clock.Now()
	sum.Running = false
	logger.Info("bill run finished",
		zap.Int64("requested", sum.Requested),
		zap.Int64("fetched", sum.Fetched),
		zap.Int64("normalized", sum.Normalized),
		zap.Int64("failed", sum.Failed),
		zap.Int64("votes", sum.Votes),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	return sum, runErr
}

func (p *Pipeline) ingestBatch(ctx context.Context, refs []BillRef, logger *zap.Logger) {
	reqs := make([]fetch.Request, len(refs))
	for i, ref := range refs {
		reqs[i] = fetch.Request{
			URL: bills.PayloadURL(p.cfg.BaseURL, ref.Year, ref.Number),
			Tag: congress.BillID(ref.Year, ref.Number),
		}
	}
	results := p.deps.Fetcher.FetchMany(ctx, reqs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, res := range results {
		ref := refs[i]
		if !res.OK() {
			p.deps.Tracker.failed.Add(1)
			metrics.ObserveBill("fetch_failed")
			logger.Warn("bill fetch failed",
				zap.String("bill", res.Request.Tag),
				zap.Int("attempts", res.Attempts),
				zap.Error(res.Err),
			)
			continue
		}
		p.deps.Tracker.fetched.Add(1)
		g.Go(func() error {
			p.ingestBill(gctx, ref, res.Response.Body, logger)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pipeline) ingestBill(ctx context.Context, ref BillRef, body []byte, logger *zap.Logger) {
	billID := congress.BillID(ref.Year, ref.Number)
	ctx, span := p.tracer.Start(ctx, "ingest.bill", trace.WithAttributes(attribute.String("bill.id", billID)))
	defer span.End()

	status := "failed"
	defer func() { metrics.ObserveBill(status) }()
	fail := func(stage string, err error) {
		p.deps.Tracker.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		logger.Warn("bill "+stage+" failed", zap.String("bill", billID), zap.Error(err))
	}

	payload, err := bills.Decode(body)
	if err != nil {
		fail("decode", err)
		return
	}
	if p.deps.Archive != nil {
		if err := p.deps.Archive.WriteRawBill(ctx, payload.Archive(billID, p.deps.Clock.Now())); err != nil {
			logger.Warn("raw bill archive failed", zap.String("bill", billID), zap.Error(err))
		}
	}
	rec, err := p.deps.Normalizer.Normalize(ctx, payload, ref.Year, ref.Number)
	if err != nil {
		fail("normalize", err)
		return
	}
	if err := p.deps.Sink.WriteBill(ctx, rec); err != nil {
		fail("write", err)
		return
	}
	p.commitOrganizations(billOrgIDs(rec)...)
	status = "ok"
	p.deps.Tracker.normalized.Add(1)
	p.deps.Tracker.votes.Add(int64(len(rec.Votes)))
	span.SetAttributes(attribute.Int("bill.votes", len(rec.Votes)), attribute.Bool("bill.approved", rec.Bill.Approved))
}

// IngestCongresspeople scrapes every period of the directory, stores the
// people of each period and, when a membership scraper is configured,
// their offices. It then stores the parties and organizations the stored
// records reference. Requested counts profile links, Normalized counts
// stored profiles.
func (p *Pipeline) IngestCongresspeople(ctx context.Context) (Summary, error) {
	if p.deps.People == nil {
		return Summary{}, fmt.Errorf("congressperson ingestion needs a scraper")
	}
	runID, logger, err := p.begin("congresspeople")
	if err != nil {
		return Summary{}, err
	}
	defer p.deps.Tracker.finish(p.deps.Clock.Now())

	ctx, span := p.tracer.Start(ctx, "ingest.congresspeople", trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	periods, err := p.deps.People.ListPeriods(ctx)
	if err != nil {
		span.RecordError(err)
		return Summary{}, fmt.Errorf("list periods: %w", err)
	}
	logger.Info("congressperson run started", zap.Int("periods", len(periods)))

	t := p.deps.Tracker
	var runErr error
	for _, period := range periods {
		res, err := p.deps.People.ScrapePeriod(ctx, period)
		t.requested.Add(int64(res.Links))
		t.fetched.Add(int64(res.Links - res.Failed))
		t.failed.Add(int64(res.Failed))
		if err != nil {
			if ctx.Err() != nil {
				runErr = ctx.Err()
				break
			}
			logger.Warn("period scrape failed", zap.String("period", period.Label), zap.Error(err))
			continue
		}
		if err := p.deps.Sink.WriteCongresspeople(ctx, res.People); err != nil {
			t.failed.Add(int64(len(res.People)))
			logger.Warn("write congresspeople failed", zap.String("period", period.Label), zap.Error(err))
			continue
		}
		t.normalized.Add(int64(len(res.People)))
		p.commitPeople(res.People)
		logger.Info("period stored",
			zap.String("period", period.Label),
			zap.Int("people", len(res.People)),
			zap.Int("failed", res.Failed),
		)
		if p.deps.Memberships != nil {
			if err := p.ingestMemberships(ctx, period, res.People, logger); err != nil {
				runErr = err
				break
			}
		}
	}

	wctx := context.WithoutCancel(ctx)
	runErr = errors.Join(runErr, p.flushParties(wctx), p.flushOrganizations(wctx))

	sum, _ := t.Current()
	sum.FinishedAt = p.deps.Clock.Now()
	sum.Running = false
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	return sum, runErr
}

// ingestMemberships stores the offices of one period's people. Only
// cancellation is returned; other failures are counted and logged.
func (p *Pipeline) ingestMemberships(ctx context.Context, period congresspeople.Period, people []congress.Congressperson, logger *zap.Logger) error {
	ctx, span := p.tracer.Start(ctx, "ingest.memberships", trace.WithAttributes(attribute.String("period", period.Label)))
	defer span.End()

	res, err := p.deps.Memberships.Scrape(ctx, people)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		logger.Warn("membership scrape failed", zap.String("period", period.Label), zap.Error(err))
		return nil
	}
	if len(res.Memberships) > 0 {
		if err := p.deps.Sink.WriteMemberships(ctx, res.Memberships); err != nil {
			span.RecordError(err)
			logger.Warn("write memberships failed", zap.String("period", period.Label), zap.Error(err))
			return nil
		}
		ids := make([]int, len(res.Memberships))
		for i, m := range res.Memberships {
			ids[i] = m.OrgID
		}
		p.commitOrganizations(ids...)
	}
	p.deps.Tracker.memberships.Add(int64(len(res.Memberships)))
	span.SetAttributes(attribute.Int("memberships", len(res.Memberships)))
	logger.Info("memberships stored",
		zap.String("period", period.Label),
		zap.Int("people", res.People),
		zap.Int("memberships", len(res.Memberships)),
		zap.Int("failed", res.Failed),
		zap.Int("invalid", res.Invalid),
	)
	return nil
}

func (p *Pipeline) commitOrganizations(ids ...int) {
	for _, l := range p.deps.Organizations {
		l.Commit(ids...)
	}
}

func (p *Pipeline) commitPeople(people []congress.Congressperson) {
	orgIDs := make([]int, 0, len(people))
	partyIDs := make([]int, 0, len(people))
	for _, person := range people {
		orgIDs = append(orgIDs, person.BancadaID)
		partyIDs = append(partyIDs, person.PartyID)
	}
	p.commitOrganizations(orgIDs...)
	if p.deps.Parties != nil {
		p.deps.Parties.Commit(partyIDs...)
	}
}

// flushOrganizations writes the pending organizations and marks them
// stored on success. A failed write leaves them pending for the next run.
func (p *Pipeline) flushOrganizations(ctx context.Context) error {
	orgs := Organizations(p.deps.Organizations...)
	if len(orgs) == 0 {
		return nil
	}
	if err := p.deps.Sink.WriteOrganizations(ctx, orgs); err != nil {
		return fmt.Errorf("write organizations: %w", err)
	}
	ids := make([]int, len(orgs))
	for i, o := range orgs {
		ids[i] = o.OrgID
	}
	for _, l := range p.deps.Organizations {
		l.MarkStored(ids...)
	}
	return nil
}

func (p *Pipeline) flushParties(ctx context.Context) error {
	if p.deps.Parties == nil {
		return nil
	}
	parties := Parties(p.deps.Parties)
	if len(parties) == 0 {
		return nil
	}
	if err := p.deps.Sink.WriteParties(ctx, parties); err != nil {
		return fmt.Errorf("write parties: %w", err)
	}
	ids := make([]int, len(parties))
	for i, party := range parties {
		ids[i] = party.PartyID
	}
	p.deps.Parties.MarkStored(ids...)
	return nil
}

func (p *Pipeline) begin(kind string) (string, *zap.Logger, error) {
	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return "", nil, fmt.Errorf("allocate run id: %w", err)
	}
	p.deps.Tracker.start(runID, kind, p.deps.Clock.Now())
	return runID, p.logger.With(zap.String("run_id", runID), zap.String("kind", kind)), nil
}
