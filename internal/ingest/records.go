package ingest

import (
	"go.uber.org/zap"

	"github.com/JakeFAU/openperu-ingest/internal/congress"
	"github.com/JakeFAU/openperu-ingest/internal/registry"
)

// Ledger tracks which registry entries are referenced by stored records
// and which of those still have to reach the sink.
type Ledger interface {
	Commit(ids ...int)
	Pending() []registry.Entry
	MarkStored(ids ...int)
}

// Organizations converts the pending entries of every source into
// organization rows.
func Organizations(sources ...Ledger) []congress.Organization {
	var out []congress.Organization
	for _, src := range sources {
		for _, e := range src.Pending() {
			out = append(out, congress.Organization{
				LegPeriod: e.Period,
				OrgID:     e.ID,
				Name:      e.Name,
				Kind:      congress.OrgKind(e.Kind),
				URL:       e.SourceURL,
			})
		}
	}
	return out
}

// Parties converts pending party entries into party rows.
func Parties(src Ledger) []congress.Party {
	entries := src.Pending()
	out := make([]congress.Party, 0, len(entries))
	for _, e := range entries {
		out = append(out, congress.Party{LegPeriod: e.Period, PartyID: e.ID, Name: e.Name})
	}
	return out
}

// billOrgIDs lists the organizations a bill record references.
func billOrgIDs(rec congress.BillRecord) []int {
	ids := make([]int, 0, len(rec.Committees)+1)
	if rec.Bill.BancadaID != nil {
		ids = append(ids, *rec.Bill.BancadaID)
	}
	for _, c := range rec.Committees {
		ids = append(ids, c.OrgID)
	}
	return ids
}

// Registries groups the registries one process allocates from. Every
// organization registry must draw from OrgSequence.
type Registries struct {
	Organizations map[congress.OrgKind]*registry.Registry
	OrgSequence   *registry.Sequence
	Parties       *registry.Registry
}

// NewRegistries builds one registry per organization kind on a shared
// sequence plus the party registry. Organization names are stored in
// lower case; party names keep their case.
func NewRegistries(logger *zap.Logger) Registries {
	seq := registry.NewSequence()
	orgs := make(map[congress.OrgKind]*registry.Registry, len(congress.OrgKinds))
	for _, kind := range congress.OrgKinds {
		orgs[kind] = registry.New(registry.Config{Kind: string(kind), Sequence: seq, Lowercase: true}, logger)
	}
	return Registries{
		Organizations: orgs,
		OrgSequence:   seq,
		Parties:       registry.New(registry.Config{Kind: string(congress.OrgParty), Aliases: registry.PartyAliases}, logger),
	}
}

// Ledgers returns the organization registries in kind order.
func (r Registries) Ledgers() []Ledger {
	out := make([]Ledger, 0, len(r.Organizations))
	for _, kind := range congress.OrgKinds {
		if reg := r.Organizations[kind]; reg != nil {
			out = append(out, reg)
		}
	}
	return out
}

// Seed loads organizations and parties stored by an earlier run. Rows are
// routed by kind; a row whose kind has no registry still reserves its id.
func (r Registries) Seed(orgs []congress.Organization, parties []congress.Party) {
	grouped := make(map[congress.OrgKind][]registry.Entry)
	for _, o := range orgs {
		if r.OrgSequence != nil {
			r.OrgSequence.Observe(o.OrgID)
		}
		grouped[o.Kind] = append(grouped[o.Kind], registry.Entry{
			ID:        o.OrgID,
			Period:    o.LegPeriod,
			Name:      o.Name,
			SourceURL: o.URL,
		})
	}
	for kind, entries := range grouped {
		if reg := r.Organizations[kind]; reg != nil {
			reg.Seed(entries)
		}
	}
	if r.Parties == nil {
		return
	}
	entries := make([]registry.Entry, 0, len(parties))
	for _, p := range parties {
		entries = append(entries, registry.Entry{ID: p.PartyID, Period: p.LegPeriod, Name: p.Name})
	}
	r.Parties.Seed(entries)
}
