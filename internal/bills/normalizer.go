package bills

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/openperu-ingest/internal/congress"
)

// Directory resolves a signer's declared profile URL to a person id.
type Directory interface {
	Lookup(profileURL string) (int, bool)
}

// Classifier decides whether a document is a vote tally.
type Classifier interface {
	Classify(ctx context.Context, url string) (bool, error)
}

// TextSource yields document text through the document cache.
type TextSource interface {
	GetOrRender(ctx context.Context, url string) (string, error)
}

// Resolver maps an organization name to a stable id within a period.
type Resolver interface {
	Resolve(rawName, period string) (int, string)
}

// Config tunes a Normalizer.
type Config struct {
	// BaseURL is the source service root used to build document URLs.
	BaseURL string
	// ClassifyWorkers bounds concurrent classification within one bill.
	// Vote numbers are assigned afterwards in chronological order, so the
	// value never changes the output. Zero means one.
	ClassifyWorkers int
	// BackfillCompleteText fills Bill.CompleteText for approved bills from
	// the publication step's document.
	BackfillCompleteText bool
}

// Normalizer turns one decoded payload into congress records.
type Normalizer struct {
	cfg        Config
	directory  Directory
	classifier Classifier
	texts      TextSource
	bancadas   Resolver
	committees Resolver
	logger     *zap.Logger
}

// Deps are the Normalizer's collaborators. Texts may be nil when
// back-filling is disabled.
type Deps struct {
	Directory  Directory
	Classifier Classifier
	Texts      TextSource
	Bancadas   Resolver
	Committees Resolver
}

// NewNormalizer wires a Normalizer.
func NewNormalizer(cfg Config, deps Deps, logger *zap.Logger) (*Normalizer, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if deps.Directory == nil || deps.Classifier == nil || deps.Bancadas == nil || deps.Committees == nil {
		return nil, fmt.Errorf("directory, classifier and resolvers are required")
	}
	if cfg.BackfillCompleteText && deps.Texts == nil {
		return nil, fmt.Errorf("text source is required for complete text back-fill")
	}
	if cfg.ClassifyWorkers <= 0 {
		cfg.ClassifyWorkers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		cfg:        cfg,
		directory:  deps.Directory,
		classifier: deps.Classifier,
		texts:      deps.Texts,
		bancadas:   deps.Bancadas,
		committees: deps.Committees,
		logger:     logger.Named("normalizer"),
	}, nil
}

// Normalize converts p into a BillRecord. Missing sections yield empty
// fields; document failures leave the step unresolved. Only context
// cancellation is returned as an error.
func (n *Normalizer) Normalize(ctx context.Context, p Payload, year string, number int) (congress.BillRecord, error) {
	billID := congress.BillID(year, number)
	logger := n.logger.With(zap.String("bill", billID))
	for _, problem := range p.Problems {
		logger.Warn("payload section degraded", zap.String("problem", problem))
	}

	rec := congress.BillRecord{Bill: n.bill(p.General, billID, year, number)}
	rec.Authors = n.authors(p.Signers, billID)
	if len(rec.Authors) > 0 {
		rec.Bill.AuthorID = rec.Authors[0].PersonID
	}
	rec.Committees = n.billCommittees(p.Committees, rec.Bill)

	steps, votes, err := n.steps(ctx, p.Steps, rec.Bill, logger)
	if err != nil {
		return congress.BillRecord{}, err
	}
	rec.Steps, rec.Votes = steps, votes

	if rec.Bill.Approved && n.cfg.BackfillCompleteText {
		rec.Bill.CompleteText = n.completeText(ctx, rec.Steps, logger)
	}
	return rec, nil
}

func (n *Normalizer) bill(g *General, billID, year string, number int) congress.Bill {
	b := congress.Bill{ID: billID, Year: year, Number: number}
	if g == nil {
		return b
	}
	b.LegPeriod = congress.CanonicalPeriod(str(g.Period))
	b.Legislature = str(g.Legislature)
	b.PresentationDate = g.Presented.Ptr()
	b.Proponent = str(g.Proponent)
	b.Title = str(g.Title)
	b.Summary = str(g.Summary)
	b.Observations = str(g.Observations)
	b.Status = str(g.Status)
	b.Approved = b.Status == congress.ApprovedStatus
	if g.Bancada != nil {
		id, name := n.bancadas.Resolve(*g.Bancada, b.LegPeriod)
		b.Bancada = name
		b.BancadaID = &id
	}
	return b
}

func (n *Normalizer) authors(signers []Signer, billID string) []congress.AuthorshipRole {
	out := make([]congress.AuthorshipRole, 0, len(signers))
	for i, s := range signers {
		role := congress.RoleAdherent
		switch {
		case i == 0:
			role = congress.RoleAuthor
		case s.SignerType != nil && *s.SignerType == congress.CoauthorSignerType:
			role = congress.RoleCoauthor
		}
		a := congress.AuthorshipRole{
			BillID:     billID,
			Position:   i,
			Role:       role,
			Name:       str(s.Name),
			ProfileURL: str(s.ProfileURL),
		}
		if id, ok := n.directory.Lookup(a.ProfileURL); ok && a.ProfileURL != "" {
			a.PersonID = &id
		}
		out = append(out, a)
	}
	return out
}

func (n *Normalizer) billCommittees(raw []RawCommittee, b congress.Bill) []congress.BillCommittee {
	legYear, _ := congress.LegislativeYear(b.Legislature)
	out := make([]congress.BillCommittee, 0, len(raw))
	for _, c := range raw {
		orgID, name := n.committees.Resolve(str(c.Name), b.LegPeriod)
		out = append(out, congress.BillCommittee{
			BillID:      b.ID,
			CommitteeID: c.ID,
			OrgID:       orgID,
			Name:        name,
			LegPeriod:   b.LegPeriod,
			LegYear:     legYear,
		})
	}
	return out
}

type candidateDoc struct {
	step int
	url  string
}

type verdict struct {
	vote bool
	err  error
}

// steps reverses the source order, classifies every attachment of a vote
// candidate and then numbers positive documents in chronological order.
func (n *Normalizer) steps(
	ctx context.Context,
	raw []RawStep,
	b congress.Bill,
	logger *zap.Logger,
) ([]congress.BillStep, []congress.VoteEvent, error) {
	steps := make([]congress.BillStep, len(raw))
	var docs []candidateDoc
	for i := range raw {
		src := raw[len(raw)-1-i]
		s := congress.BillStep{
			BillID:    b.ID,
			Index:     i,
			Date:      src.Date.Ptr(),
			Detail:    str(src.Detail),
			Committee: str(src.Committee),
		}
		s.IsVoteCandidate = isVoteCandidate(s.Detail)
		for _, f := range src.Files {
			if f.ID == nil || f.ID.String() == "" {
				continue
			}
			url := DocumentURL(n.cfg.BaseURL, f.ID.String())
			if s.IsVoteCandidate {
				docs = append(docs, candidateDoc{step: i, url: url})
			} else {
				s.DocumentURLs = append(s.DocumentURLs, url)
			}
		}
		steps[i] = s
	}

	verdicts, err := n.classifyAll(ctx, docs)
	if err != nil {
		return nil, nil, err
	}

	var votes []congress.VoteEvent
	seq := 0
	for i, d := range docs {
		s := &steps[d.step]
		v := verdicts[i]
		switch {
		case v.err != nil:
			logger.Warn("document classification failed",
				zap.String("url", d.url),
				zap.Int("step", d.step),
				zap.Error(v.err),
			)
			s.VoteUnresolved = true
			s.DocumentURLs = append(s.DocumentURLs, d.url)
		case v.vote:
			seq++
			id := congress.VoteID(b.Year, b.Number, seq)
			s.IsVoteStep = true
			s.Votes = append(s.Votes, congress.VoteRef{ID: id, URL: d.url})
			votes = append(votes, congress.VoteEvent{
				ID:          id,
				BillID:      b.ID,
				StepIndex:   d.step,
				Sequence:    seq,
				Date:        s.Date,
				DocumentURL: d.url,
			})
		default:
			s.DocumentURLs = append(s.DocumentURLs, d.url)
		}
	}
	return steps, votes, nil
}

func (n *Normalizer) classifyAll(ctx context.Context, docs []candidateDoc) ([]verdict, error) {
	verdicts := make([]verdict, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.cfg.ClassifyWorkers)
	for i, d := range docs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vote, err := n.classifier.Classify(gctx, d.url)
			verdicts[i] = verdict{vote: vote, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("classify documents: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("classify documents: %w", err)
	}
	return verdicts, nil
}

// completeText returns the text of the latest publication step's last
// document, or "" when none can be read.
func (n *Normalizer) completeText(ctx context.Context, steps []congress.BillStep, logger *zap.Logger) string {
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if !isPublicationStep(s.Detail) || len(s.DocumentURLs) == 0 {
			continue
		}
		url := s.DocumentURLs[len(s.DocumentURLs)-1]
		text, err := n.texts.GetOrRender(ctx, url)
		if err != nil {
			logger.Warn("complete text unavailable", zap.String("url", url), zap.Error(err))
			return ""
		}
		return text
	}
	return ""
}
