// Package postgres persists normalized records in Postgres. Natural keys
// carry uniqueness constraints and inserts skip rows that already exist, so
// re-running a range is idempotent.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/openperu-ingest/internal/congress"
)

//go:embed schema.sql
var schemaSQL string

var validPrefix = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool and table naming.
type Config struct {
	DSN             string
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store writes records through a pgx pool.
type Store struct {
	pool   pool
	prefix string
	logger *zap.Logger
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg.TablePrefix, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool wraps an existing pool, primarily for tests.
func NewWithPool(p pool, prefix string, logger *zap.Logger) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if prefix != "" && !validPrefix.MatchString(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: p, prefix: prefix, logger: logger.Named("postgres")}, nil
}

// Schema returns the DDL with the table prefix applied.
func (s *Store) Schema() string {
	return strings.ReplaceAll(schemaSQL, "{prefix}", s.prefix)
}

// EnsureSchema creates missing tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, s.Schema()); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) table(name string) string {
	return s.prefix + name
}

// WriteBill stores one bill record in a single transaction.
func (s *Store) WriteBill(ctx context.Context, rec congress.BillRecord) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin bill %s: %w", rec.Bill.ID, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Warn("rollback failed", zap.String("bill", rec.Bill.ID), zap.Error(rbErr))
			}
		}
	}()

	b := rec.Bill
	if _, err = tx.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (
	id, year, bill_number, leg_period, legislature, presentation_date,
	title, summary, observations, complete_text, status, proponent,
	bancada, bancada_id, author_id, approved
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (id) DO NOTHING`, s.table("bills")),
		b.ID, b.Year, b.Number, b.LegPeriod, b.Legislature, b.PresentationDate,
		b.Title, b.Summary, b.Observations, b.CompleteText, b.Status, b.Proponent,
		b.Bancada, b.BancadaID, b.AuthorID, b.Approved,
	); err != nil {
		return fmt.Errorf("insert bill %s: %w", b.ID, err)
	}

	for _, a := range rec.Authors {
		if _, err = tx.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (bill_id, role, position, person_id, name, profile_url)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (bill_id, role, position) DO NOTHING`, s.table("bill_authors")),
			a.BillID, string(a.Role), a.Position, a.PersonID, a.Name, a.ProfileURL,
		); err != nil {
			return fmt.Errorf("insert author %d of %s: %w", a.Position, b.ID, err)
		}
	}

	for _, c := range rec.Committees {
		committeeID := c.OrgID
		if c.CommitteeID != nil {
			committeeID = *c.CommitteeID
		}
		if _, err = tx.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (bill_id, committee_id, org_id, name, leg_period, leg_year)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (bill_id, committee_id) DO NOTHING`, s.table("bill_committees")),
			c.BillID, committeeID, c.OrgID, c.Name, c.LegPeriod, c.LegYear,
		); err != nil {
			return fmt.Errorf("insert committee %q of %s: %w", c.Name, b.ID, err)
		}
	}

	for _, st := range rec.Steps {
		docs := st.DocumentURLs
		if docs == nil {
			docs = []string{}
		}
		if _, err = tx.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (
	bill_id, step_index, step_date, detail, committee,
	is_vote_candidate, is_vote_step, vote_unresolved, document_urls
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (bill_id, step_index) DO NOTHING`, s.table("bill_steps")),
			st.BillID, st.Index, st.Date, st.Detail, st.Committee,
			st.IsVoteCandidate, st.IsVoteStep, st.VoteUnresolved, docs,
		); err != nil {
			return fmt.Errorf("insert step %d of %s: %w", st.Index, b.ID, err)
		}
	}

	for _, v := range rec.Votes {
		if _, err = tx.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (id, bill_id, step_index, sequence, vote_date, document_url)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO NOTHING`, s.table("vote_events")),
			v.ID, v.BillID, v.StepIndex, v.Sequence, v.Date, v.DocumentURL,
		); err != nil {
			return fmt.Errorf("insert vote %s: %w", v.ID, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit bill %s: %w", b.ID, err)
	}
	return nil
}

// WriteCongresspeople implements congress.RecordSink.
func (s *Store) WriteCongresspeople(ctx context.Context, people []congress.Congressperson) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, leg_period, nombre, votes_in_election, party_id, bancada_id,
	dist_electoral, condicion, website, profile_url
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id, leg_period) DO NOTHING`, s.table("congresspeople"))
	for _, p := range people {
		if _, err := s.pool.Exec(ctx, query,
			p.ID, p.LegPeriod, p.Name, p.Votes, p.PartyID, p.BancadaID,
			p.District, p.Condition, p.Website, p.ProfileURL,
		); err != nil {
			return fmt.Errorf("insert congressperson %d: %w", p.ID, err)
		}
	}
	return nil
}

// WriteOrganizations implements congress.RecordSink.
func (s *Store) WriteOrganizations(ctx context.Context, orgs []congress.Organization) error {
	query := fmt.Sprintf(`
INSERT INTO %s (leg_period, org_id, name, org_type, org_url)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (leg_period, org_id) DO UPDATE SET org_url = EXCLUDED.org_url
WHERE EXCLUDED.org_url <> ''`, s.table("organizations"))
	for _, o := range orgs {
		if _, err := s.pool.Exec(ctx, query, o.LegPeriod, o.OrgID, o.Name, string(o.Kind), o.URL); err != nil {
			return fmt.Errorf("insert organization %d: %w", o.OrgID, err)
		}
	}
	return nil
}

// WriteMemberships implements congress.RecordSink.
func (s *Store) WriteMemberships(ctx context.Context, memberships []congress.Membership) error {
	query := fmt.Sprintf(`
INSERT INTO %s (person_id, org_id, role, start_date, end_date)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (person_id, org_id, role, start_date) DO UPDATE SET end_date = EXCLUDED.end_date`, s.table("memberships"))
	for _, m := range memberships {
		if _, err := s.pool.Exec(ctx, query, m.PersonID, m.OrgID, m.Role, m.StartDate, m.EndDate); err != nil {
			return fmt.Errorf("insert membership %d/%d: %w", m.PersonID, m.OrgID, err)
		}
	}
	return nil
}

// WriteRawBill implements congress.RawArchive. A later fetch replaces the
// stored payload.
func (s *Store) WriteRawBill(ctx context.Context, raw congress.RawBill) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (id, fetched_at, general, congresistas, committees, steps)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET
	fetched_at = EXCLUDED.fetched_at,
	general = EXCLUDED.general,
	congresistas = EXCLUDED.congresistas,
	committees = EXCLUDED.committees,
	steps = EXCLUDED.steps`, s.table("raw_bills")),
		raw.ID, raw.FetchedAt, jsonArg(raw.General), jsonArg(raw.Congresistas),
		jsonArg(raw.Committees), jsonArg(raw.Steps),
	); err != nil {
		return fmt.Errorf("insert raw bill %s: %w", raw.ID, err)
	}
	return nil
}

func jsonArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// LoadOrganizations implements congress.RecordSource.
func (s *Store) LoadOrganizations(ctx context.Context) ([]congress.Organization, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT leg_period, org_id, name, org_type, COALESCE(org_url, '') FROM %s ORDER BY org_id`,
		s.table("organizations")))
	if err != nil {
		return nil, fmt.Errorf("load organizations: %w", err)
	}
	defer rows.Close()
	var out []congress.Organization
	for rows.Next() {
		var o congress.Organization
		var kind string
		if err := rows.Scan(&o.LegPeriod, &o.OrgID, &o.Name, &kind, &o.URL); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		o.Kind = congress.OrgKind(kind)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load organizations: %w", err)
	}
	return out, nil
}

// LoadParties implements congress.RecordSource.
func (s *Store) LoadParties(ctx context.Context) ([]congress.Party, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT leg_period, party_id, party_name FROM %s ORDER BY party_id`, s.table("parties")))
	if err != nil {
		return nil, fmt.Errorf("load parties: %w", err)
	}
	defer rows.Close()
	var out []congress.Party
	for rows.Next() {
		var p congress.Party
		if err := rows.Scan(&p.LegPeriod, &p.PartyID, &p.Name); err != nil {
			return nil, fmt.Errorf("scan party: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load parties: %w", err)
	}
	return out, nil
}

// WriteParties implements congress.RecordSink.
func (s *Store) WriteParties(ctx context.Context, parties []congress.Party) error {
	query := fmt.Sprintf(`
INSERT INTO %s (leg_period, party_id, party_name)
VALUES ($1,$2,$3)
ON CONFLICT (leg_period, party_id) DO NOTHING`, s.table("parties"))
	for _, p := range parties {
		if _, err := s.pool.Exec(ctx, query, p.LegPeriod, p.PartyID, p.Name); err != nil {
			return fmt.Errorf("insert party %d: %w", p.PartyID, err)
		}
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
