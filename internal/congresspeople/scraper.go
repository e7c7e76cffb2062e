// Package congresspeople scrapes the congress member directory: the list of
// legislative periods, each period's roster and every member's profile.
package congresspeople

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/openperu-ingest/internal/congress"
	"github.com/JakeFAU/openperu-ingest/internal/fetch"
)

// PeriodField is the form field that selects a legislative period.
const PeriodField = "idRegistroPadre"

// Fetcher is the subset of the fetch orchestrator the scraper needs.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (fetch.Response, error)
	FetchMany(ctx context.Context, reqs []fetch.Request) []fetch.Result
}

// Resolver maps a raw organization or party name to a stable id.
type Resolver interface {
	Resolve(rawName, period string) (int, string)
}

// Period is one option of the directory's period selector.
type Period struct {
	Label string
	Value string
}

// Result is the outcome of scraping one period.
type Result struct {
	Period Period
	People []congress.Congressperson
	Links  int
	Failed int
}

// Scraper walks the directory at BaseURL.
type Scraper struct {
	baseURL  string
	fetcher  Fetcher
	parties  Resolver
	bancadas Resolver
	logger   *zap.Logger
}

// New builds a Scraper.
func New(baseURL string, f Fetcher, parties, bancadas Resolver, logger *zap.Logger) (*Scraper, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("directory url is required")
	}
	if f == nil || parties == nil || bancadas == nil {
		return nil, fmt.Errorf("fetcher and resolvers are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		baseURL:  baseURL,
		fetcher:  f,
		parties:  parties,
		bancadas: bancadas,
		logger:   logger.Named("congresspeople"),
	}, nil
}

// ListPeriods returns the period selector options in page order.
func (s *Scraper) ListPeriods(ctx context.Context) ([]Period, error) {
	doc, err := s.document(ctx, fetch.Request{URL: s.baseURL})
	if err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	var periods []Period
	doc.Find(`select[name="` + PeriodField + `"] option`).Each(func(_ int, sel *goquery.Selection) {
		value, ok := sel.Attr("value")
		if !ok {
			return
		}
		periods = append(periods, Period{Label: strings.TrimSpace(sel.Text()), Value: value})
	})
	return periods, nil
}

// ListProfileLinks posts the period selection and returns the roster's
// profile links, resolved against the directory URL.
func (s *Scraper) ListProfileLinks(ctx context.Context, value string) ([]string, error) {
	doc, err := s.document(ctx, fetch.Request{
		URL:  s.baseURL,
		Form: url.Values{PeriodField: {value}},
	})
	if err != nil {
		return nil, fmt.Errorf("list profile links for %s: %w", value, err)
	}
	var links []string
	doc.Find(".congresistas tr td .conginfo").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok && strings.TrimSpace(href) != "" {
			links = append(links, s.absolute(href))
		}
	})
	return links, nil
}

// ScrapePeriod fetches every profile of one period. Profiles that fail to
// fetch or parse are counted, not returned as errors.
func (s *Scraper) ScrapePeriod(ctx context.Context, p Period) (Result, error) {
	links, err := s.ListProfileLinks(ctx, p.Value)
	if err != nil {
		return Result{Period: p}, err
	}
	logger := s.logger.With(zap.String("period", p.Label))
	logger.Info("scraping profiles", zap.Int("count", len(links)))

	reqs := make([]fetch.Request, len(links))
	for i, link := range links {
		reqs[i] = fetch.Request{URL: link, Tag: p.Label}
	}
	res := Result{Period: p, Links: len(links)}
	for _, r := range s.fetcher.FetchMany(ctx, reqs) {
		if !r.OK() {
			res.Failed++
			logger.Warn("profile fetch failed", zap.String("url", r.Request.URL), zap.Error(r.Err))
			continue
		}
		person, err := s.parseProfile(r.Request.URL, p.Label, r.Response.Body)
		if err != nil {
			res.Failed++
			logger.Warn("profile parse failed", zap.String("url", r.Request.URL), zap.Error(err))
			continue
		}
		res.People = append(res.People, person)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

var profileIDRe = regexp.MustCompile(`id=(\d+)`)

func (s *Scraper) parseProfile(profileURL, period string, body []byte) (congress.Congressperson, error) {
	m := profileIDRe.FindStringSubmatch(profileURL)
	if m == nil {
		return congress.Congressperson{}, fmt.Errorf("no id in profile url")
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return congress.Congressperson{}, fmt.Errorf("profile id: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return congress.Congressperson{}, fmt.Errorf("parse profile: %w", err)
	}

	p := congress.Congressperson{
		ID:         id,
		LegPeriod:  congress.CanonicalPeriod(period),
		Name:       field(doc, "nombres"),
		Votes:      parseVotes(field(doc, "votacion")),
		District:   field(doc, "representa"),
		Condition:  field(doc, "condicion"),
		ProfileURL: profileURL,
	}
	if href, ok := doc.Find(".web span:nth-child(2) a").First().Attr("href"); ok {
		p.Website = strings.TrimSpace(href)
	}
	p.PartyID, p.PartyName = s.parties.Resolve(field(doc, "grupo"), period)
	p.BancadaID, p.Bancada = s.bancadas.Resolve(field(doc, "bancada"), period)
	return p, nil
}

func (s *Scraper) document(ctx context.Context, req fetch.Request) (*goquery.Document, error) {
	resp, err := s.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", req.URL, err)
	}
	return doc, nil
}

// absolute joins a roster href onto the directory URL. Absolute links pass
// through; relative ones are appended without doubling the slash.
func (s *Scraper) absolute(href string) string {
	href = strings.TrimSpace(href)
	if u, err := url.Parse(href); err == nil && u.IsAbs() {
		return href
	}
	return strings.TrimRight(s.baseURL, "/") + "/" + strings.TrimLeft(href, "/")
}

func field(doc *goquery.Document, class string) string {
	return strings.TrimSpace(doc.Find("." + class + " span:nth-child(2)").First().Text())
}

// parseVotes reads an election vote count such as "12,345" or "12.345".
func parseVotes(raw string) int {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}
