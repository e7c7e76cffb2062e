// Package registry deduplicates organization and party names into stable
// per-period identifiers. Seeding a registry with previously stored
// entries keeps identifiers stable across runs.
//
// An entry moves through three states: allocated by Register, committed
// once a record referencing it has been stored, and stored once the entry
// itself has been written. Only committed, unstored entries are pending.
package registry

import (
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"

	"github.com/JakeFAU/openperu-ingest/internal/congress"
	"github.com/JakeFAU/openperu-ingest/internal/metrics"
)

const (
	// DefaultThreshold is the minimum similarity for a near-duplicate match.
	DefaultThreshold = 0.9
	// DefaultSentinel is the canonical name of empty or unaffiliated labels.
	DefaultSentinel = "Ninguno"
)

// PartyAliases collapses historical party labels into their current legal
// names. Keys are compared after whitespace collapsing, before lowering.
var PartyAliases = map[string]string{
	"Alianza para el Progreso":         "Alianza para el Progreso del Perú",
	"Somos Perú":                       "Partido Democrático Somos Perú",
	"Frente Amplio":                    "Frente Amplio por Justicia, Vida y Libertad",
	"Frente Popular Agrícola del Perú": "Frente Popular Agrícola FIA del Perú",
	"No Agrupado":                      DefaultSentinel,
	"No ha acreditado":                 DefaultSentinel,
	"No registrado":                    DefaultSentinel,
	"Alianza Solidaridad Nacional":     "Solidaridad Nacional",
	"Unión por el Perú":                "Unión por el Perú - Social Democracia",
}

// Config tunes a Registry.
type Config struct {
	// Kind labels metrics and snapshot entries ("bancada", "party", ...).
	Kind string
	// Threshold is the similarity above which names are merged.
	Threshold float64
	// Aliases rewrites known labels before matching.
	Aliases map[string]string
	// Sentinel replaces empty names.
	Sentinel string
	// Sequence allocates identifiers. Registries that share one draw from a
	// single id space; nil gives the registry its own, starting at 1.
	Sequence *Sequence
	// Lowercase stores canonical names in lower case.
	Lowercase bool
}

// Sequence hands out increasing identifiers starting at 1.
type Sequence struct {
	mu   sync.Mutex
	next int
}

// NewSequence returns a Sequence whose first value is 1.
func NewSequence() *Sequence {
	return &Sequence{next: 1}
}

// Next returns the next identifier.
func (s *Sequence) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	return id
}

// Observe moves the sequence past id so it is never handed out again.
func (s *Sequence) Observe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id >= s.next {
		s.next = id + 1
	}
}

// Entry is one registered entity.
type Entry struct {
	ID        int
	Period    string
	Name      string
	Key       string
	Kind      string
	SourceURL string
}

type periodIndex struct {
	byKey map[string]int
	order []string
}

type slot struct {
	Entry
	committed bool
	stored    bool
}

// Registry maps normalized names to identifiers. All lookup-or-allocate
// work happens under a single mutex so concurrent callers racing on the
// same new name observe one allocation.
type Registry struct {
	mu      sync.Mutex
	cfg     Config
	logger  *zap.Logger
	seq     *Sequence
	periods map[string]*periodIndex
	entries []slot
	byID    map[int]int
}

// New builds an empty Registry whose counter starts at 1.
func New(cfg Config, logger *zap.Logger) *Registry {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Sentinel == "" {
		cfg.Sentinel = DefaultSentinel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	aliases := make(map[string]string, len(cfg.Aliases))
	for k, v := range cfg.Aliases {
		aliases[collapse(k)] = v
	}
	cfg.Aliases = aliases
	seq := cfg.Sequence
	if seq == nil {
		seq = NewSequence()
	}
	return &Registry{
		cfg:     cfg,
		logger:  logger.Named("registry").With(zap.String("kind", cfg.Kind)),
		seq:     seq,
		periods: make(map[string]*periodIndex),
		byID:    make(map[int]int),
	}
}

// Candidate describes a name to resolve or register.
type Candidate struct {
	Name   string
	Period string
	URL    string
}

// Resolve returns the identifier and canonical name for rawName within
// period (see congress.CanonicalPeriod), allocating a new identifier when no existing entry matches.
func (r *Registry) Resolve(rawName, period string) (int, string) {
	e := r.Register(Candidate{Name: rawName, Period: period})
	return e.ID, e.Name
}

// Register resolves c and returns the full entry. A URL supplied for an
// entry that lacks one is recorded.
func (r *Registry) Register(c Candidate) Entry {
	name := r.canonical(c.Name)
	key := strings.ToLower(name)
	period := congress.CanonicalPeriod(c.Period)

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.index(period)
	if pos, ok := idx.byKey[key]; ok {
		return r.touch(pos, c.URL)
	}
	if pos, ok := r.nearest(idx, key); ok {
		r.logger.Debug("near-duplicate merged",
			zap.String("name", name),
			zap.String("existing", r.entries[pos].Name),
			zap.String("period", period),
		)
		idx.byKey[key] = pos
		return r.touch(pos, c.URL)
	}

	e := Entry{
		ID:        r.seq.Next(),
		Period:    period,
		Name:      name,
		Key:       key,
		Kind:      r.cfg.Kind,
		SourceURL: c.URL,
	}
	r.add(idx, slot{Entry: e})
	metrics.ObserveRegistryAllocation(r.cfg.Kind)
	return e
}

// Seed loads entries stored by an earlier run. Seeded entries keep their
// identifiers, count as stored and move the sequence past their ids. An
// entry whose period and name are already known is skipped.
func (r *Registry) Seed(entries []Entry) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	added := 0
	for _, e := range entries {
		e.Name = r.canonical(e.Name)
		e.Key = strings.ToLower(e.Name)
		e.Period = congress.CanonicalPeriod(e.Period)
		e.Kind = r.cfg.Kind
		r.seq.Observe(e.ID)
		if _, dup := r.byID[e.ID]; dup {
			continue
		}
		idx := r.index(e.Period)
		if _, dup := idx.byKey[e.Key]; dup {
			continue
		}
		r.add(idx, slot{Entry: e, committed: true, stored: true})
		added++
	}
	if added > 0 {
		r.logger.Info("registry seeded", zap.Int("entries", added))
	}
	return added
}

// Commit marks the entries with the given ids as referenced by a stored
// record. Unknown ids are ignored so callers can commit across registries
// that share a Sequence.
func (r *Registry) Commit(ids ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if pos, ok := r.byID[id]; ok {
			r.entries[pos].committed = true
		}
	}
}

// Pending returns committed entries that have not been stored yet, in
// allocation order.
func (r *Registry) Pending() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, s := range r.entries {
		if s.committed && !s.stored {
			out = append(out, s.Entry)
		}
	}
	return out
}

// MarkStored records that the entries with the given ids were written.
func (r *Registry) MarkStored(ids ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if pos, ok := r.byID[id]; ok {
			r.entries[pos].stored = true
		}
	}
}

// Snapshot returns every registered entry in allocation order.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	for i, s := range r.entries {
		out[i] = s.Entry
	}
	return out
}

// Len reports how many identifiers have been allocated.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) index(period string) *periodIndex {
	idx := r.periods[period]
	if idx == nil {
		idx = &periodIndex{byKey: make(map[string]int)}
		r.periods[period] = idx
	}
	return idx
}

func (r *Registry) add(idx *periodIndex, s slot) {
	r.entries = append(r.entries, s)
	pos := len(r.entries) - 1
	idx.byKey[s.Key] = pos
	idx.order = append(idx.order, s.Key)
	r.byID[s.ID] = pos
}

// touch records a late URL. A stored entry that gains one is pending again
// so the URL reaches the sink.
func (r *Registry) touch(pos int, url string) Entry {
	if url != "" && r.entries[pos].SourceURL == "" {
		r.entries[pos].SourceURL = url
		r.entries[pos].stored = false
	}
	return r.entries[pos].Entry
}

// nearest scans the period's keys in registration order and returns the
// best match at or above the threshold. Ties keep the earliest key.
func (r *Registry) nearest(idx *periodIndex, key string) (int, bool) {
	best, bestScore := -1, 0.0
	for _, existing := range idx.order {
		score := Similarity(key, existing)
		if score >= r.cfg.Threshold && score > bestScore {
			best, bestScore = idx.byKey[existing], score
		}
	}
	return best, best >= 0
}

func (r *Registry) canonical(raw string) string {
	name := collapse(raw)
	if name == "" {
		name = r.cfg.Sentinel
	} else if alias, ok := r.cfg.Aliases[name]; ok {
		name = alias
	}
	if r.cfg.Lowercase {
		return strings.ToLower(name)
	}
	return name
}

// Similarity scores two strings in [0,1] as one minus the edit distance
// over the longer rune length.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
