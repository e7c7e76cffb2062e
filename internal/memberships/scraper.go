// Package memberships scrapes the offices each congressperson held
// ("cargos") and turns them into organization memberships.
//
// A member's website embeds the office list in an iframe whose single page
// app reads a JSON API; the scraper swaps the app route for the API route
// and decodes the API directly.
package memberships

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/openperu-ingest/internal/congress"
	"github.com/JakeFAU/openperu-ingest/internal/fetch"
)

const (
	cargosPath = "sobrecongresista/cargos/"
	appRoute   = "/#/listar"
	apiRoute   = "/api"
)

// Fetcher issues batches of requests.
type Fetcher interface {
	FetchMany(ctx context.Context, reqs []fetch.Request) []fetch.Result
}

// Resolver maps an organization name to a stable id within a period.
type Resolver interface {
	Resolve(rawName, period string) (int, string)
}

// Office is one entry of the offices API.
type Office struct {
	Role      string `json:"desCargo"`
	Start     *int64 `json:"fechaInicio"`
	End       *int64 `json:"fechaFin"`
	Organ     string `json:"desOrgano"`
	Committee string `json:"desComision"`
	OrganType string `json:"desTipoOrgano"`
}

// Name returns the organization the office belongs to.
func (o Office) Name() string {
	if name := strings.TrimSpace(o.Organ); name != "" {
		return name
	}
	return strings.TrimSpace(o.Committee)
}

type officesEnvelope struct {
	Data []json.RawMessage `json:"data"`
}

// Result tallies one scrape. Failed counts members whose pages could not
// be fetched or decoded; Invalid counts rejected offices.
type Result struct {
	Memberships []congress.Membership
	People      int
	Failed      int
	Invalid     int
}

// Scraper resolves offices into memberships.
type Scraper struct {
	fetcher Fetcher
	orgs    map[congress.OrgKind]Resolver
	logger  *zap.Logger
}

// New builds a Scraper. orgs must hold a committee resolver, the fallback
// for offices whose organization kind is not recognized.
func New(f Fetcher, orgs map[congress.OrgKind]Resolver, logger *zap.Logger) (*Scraper, error) {
	if f == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if orgs[congress.OrgCommittee] == nil {
		return nil, fmt.Errorf("a committee resolver is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{fetcher: f, orgs: orgs, logger: logger.Named("memberships")}, nil
}

// CargosURL returns the page of a member's website that embeds the office
// list.
func CargosURL(website string) string {
	return strings.TrimRight(strings.TrimSpace(website), "/") + "/" + cargosPath
}

// APIURL reads the offices API address from a cargos page.
func APIURL(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse cargos page: %w", err)
	}
	src, ok := doc.Find("#objContents iframe").First().Attr("src")
	if !ok || strings.TrimSpace(src) == "" {
		return "", fmt.Errorf("cargos page has no office frame")
	}
	return strings.Replace(strings.TrimSpace(src), appRoute, apiRoute, 1), nil
}

// DecodeOffices parses an offices API response. A malformed entry is
// skipped and counted.
func DecodeOffices(body []byte) ([]Office, int, error) {
	var env officesEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, 0, fmt.Errorf("decode offices: %w", err)
	}
	offices := make([]Office, 0, len(env.Data))
	bad := 0
	for _, raw := range env.Data {
		var o Office
		if err := json.Unmarshal(raw, &o); err != nil {
			bad++
			continue
		}
		offices = append(offices, o)
	}
	return offices, bad, nil
}

// Classify infers the organization kind from the office's organ type and
// name. Anything unrecognized is a committee.
func Classify(o Office) congress.OrgKind {
	s := fold(o.OrganType + " " + o.Name())
	switch {
	case strings.Contains(s, "comision permanente"):
		return congress.OrgComisionPermanent
	case strings.Contains(s, "mesa directiva"):
		return congress.OrgMesaDirectiva
	case strings.Contains(s, "junta de portavoces"):
		return congress.OrgJuntaPortavoces
	case strings.Contains(s, "bancada"), strings.Contains(s, "grupo parlamentario"):
		return congress.OrgBancada
	default:
		return congress.OrgCommittee
	}
}

// Scrape fetches the offices of every member with a website. Members are
// fetched in two batches: cargos pages, then the APIs they point to.
func (s *Scraper) Scrape(ctx context.Context, people []congress.Congressperson) (Result, error) {
	var res Result
	var members []congress.Congressperson
	var pages []fetch.Request
	for _, p := range people {
		if strings.TrimSpace(p.Website) == "" {
			continue
		}
		members = append(members, p)
		pages = append(pages, fetch.Request{URL: CargosURL(p.Website), Tag: strconv.Itoa(p.ID)})
	}
	res.People = len(members)
	if len(members) == 0 {
		return res, nil
	}

	var owners []congress.Congressperson
	var apis []fetch.Request
	for i, r := range s.fetcher.FetchMany(ctx, pages) {
		if !r.OK() {
			res.Failed++
			s.logger.Warn("cargos page fetch failed", zap.Int("person", members[i].ID), zap.Error(r.Err))
			continue
		}
		api, err := APIURL(r.Response.Body)
		if err != nil {
			res.Failed++
			s.logger.Warn("cargos page unreadable", zap.Int("person", members[i].ID), zap.Error(err))
			continue
		}
		owners = append(owners, members[i])
		apis = append(apis, fetch.Request{URL: api, Tag: r.Request.Tag})
	}

	for i, r := range s.fetcher.FetchMany(ctx, apis) {
		person := owners[i]
		if !r.OK() {
			res.Failed++
			s.logger.Warn("offices fetch failed", zap.Int("person", person.ID), zap.Error(r.Err))
			continue
		}
		offices, bad, err := DecodeOffices(r.Response.Body)
		if err != nil {
			res.Failed++
			s.logger.Warn("offices unreadable", zap.Int("person", person.ID), zap.Error(err))
			continue
		}
		res.Invalid += bad
		for _, o := range offices {
			m, err := s.membership(person, o)
			if err != nil {
				res.Invalid++
				s.logger.Error("office rejected",
					zap.Int("person", person.ID),
					zap.String("role", o.Role),
					zap.String("org", o.Name()),
					zap.Error(err),
				)
				continue
			}
			res.Memberships = append(res.Memberships, m)
		}
	}
	return res, ctx.Err()
}

func (s *Scraper) membership(person congress.Congressperson, o Office) (congress.Membership, error) {
	name := o.Name()
	if name == "" {
		return congress.Membership{}, fmt.Errorf("office has no organization")
	}
	if o.Start == nil {
		return congress.Membership{}, fmt.Errorf("office has no start date")
	}
	resolver := s.orgs[Classify(o)]
	if resolver == nil {
		resolver = s.orgs[congress.OrgCommittee]
	}
	orgID, _ := resolver.Resolve(name, person.LegPeriod)
	var end int64
	if o.End != nil {
		end = *o.End
	}
	role := strings.ToLower(strings.TrimSpace(o.Role))
	return congress.NewMembershipMillis(role, person.ID, orgID, *o.Start, end)
}

func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}
