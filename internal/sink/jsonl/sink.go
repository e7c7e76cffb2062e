// Package jsonl writes records as JSON lines, one file per record kind.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/openperu-ingest/internal/congress"
)

// File names, one per record kind.
const (
	BillsFile          = "bills.jsonl"
	AuthorsFile        = "bill_authors.jsonl"
	CommitteesFile     = "bill_committees.jsonl"
	StepsFile          = "bill_steps.jsonl"
	VotesFile          = "vote_events.jsonl"
	CongresspeopleFile = "congresspeople.jsonl"
	MembershipsFile    = "memberships.jsonl"
	OrganizationsFile  = "organizations.jsonl"
	PartiesFile        = "parties.jsonl"
	RawBillsFile       = "raw_bills.jsonl"
)

type file struct {
	f *os.File
	w *bufio.Writer
}

// Sink appends to files under a directory. Files are created on first
// write. A bill record is written under one lock so its lines stay
// contiguous across files.
type Sink struct {
	mu     sync.Mutex
	dir    string
	files  map[string]*file
	logger *zap.Logger
	closed bool
}

// New creates dir if needed.
func New(dir string, logger *zap.Logger) (*Sink, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{dir: dir, files: make(map[string]*file), logger: logger.Named("jsonl")}, nil
}

// WriteBill implements congress.RecordSink.
func (s *Sink) WriteBill(_ context.Context, rec congress.BillRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.append(BillsFile, rec.Bill); err != nil {
		return err
	}
	if err := appendAll(s, AuthorsFile, rec.Authors); err != nil {
		return err
	}
	if err := appendAll(s, CommitteesFile, rec.Committees); err != nil {
		return err
	}
	if err := appendAll(s, StepsFile, rec.Steps); err != nil {
		return err
	}
	return appendAll(s, VotesFile, rec.Votes)
}

// WriteCongresspeople implements congress.RecordSink.
func (s *Sink) WriteCongresspeople(_ context.Context, people []congress.Congressperson) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAll(s, CongresspeopleFile, people)
}

// WriteMemberships implements congress.RecordSink.
func (s *Sink) WriteMemberships(_ context.Context, memberships []congress.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAll(s, MembershipsFile, memberships)
}

// WriteRawBill implements congress.RawArchive.
func (s *Sink) WriteRawBill(_ context.Context, raw congress.RawBill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.append(RawBillsFile, raw)
}

// LoadOrganizations implements congress.RecordSource. Later lines win
// over earlier lines with the same period and id.
func (s *Sink) LoadOrganizations(_ context.Context) ([]congress.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := load[congress.Organization](s, OrganizationsFile)
	if err != nil {
		return nil, err
	}
	return latest(rows, func(o congress.Organization) string {
		return fmt.Sprintf("%s/%d", o.LegPeriod, o.OrgID)
	}), nil
}

// LoadParties implements congress.RecordSource.
func (s *Sink) LoadParties(_ context.Context) ([]congress.Party, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := load[congress.Party](s, PartiesFile)
	if err != nil {
		return nil, err
	}
	return latest(rows, func(p congress.Party) string {
		return fmt.Sprintf("%s/%d", p.LegPeriod, p.PartyID)
	}), nil
}

// WriteOrganizations implements congress.RecordSink.
func (s *Sink) WriteOrganizations(_ context.Context, orgs []congress.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAll(s, OrganizationsFile, orgs)
}

// WriteParties implements congress.RecordSink.
func (s *Sink) WriteParties(_ context.Context, parties []congress.Party) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAll(s, PartiesFile, parties)
}

// Close flushes and closes every open file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for name, f := range s.files {
		if err := f.w.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", name, err))
		}
		if err := f.f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	s.logger.Debug("closed output files", zap.Int("files", len(s.files)))
	return errors.Join(errs...)
}

// load reads every line of name. A missing file is empty; buffered lines
// are flushed first so a sink reads its own writes.
func load[T any](s *Sink, name string) ([]T, error) {
	if f, ok := s.files[name]; ok {
		if err := f.w.Flush(); err != nil {
			return nil, fmt.Errorf("flush %s: %w", name, err)
		}
	}
	path := filepath.Join(s.dir, name)
	fh, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer fh.Close()

	var out []T
	sc := bufio.NewScanner(fh)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", name, line, err)
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	s.logger.Debug("loaded records", zap.String("file", name), zap.Int("rows", len(out)))
	return out, nil
}

// latest keeps the last row per key, in first-seen key order.
func latest[T any](rows []T, key func(T) string) []T {
	pos := make(map[string]int, len(rows))
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		k := key(row)
		if i, ok := pos[k]; ok {
			out[i] = row
			continue
		}
		pos[k] = len(out)
		out = append(out, row)
	}
	return out
}

func appendAll[T any](s *Sink, name string, items []T) error {
	for _, item := range items {
		if err := s.append(name, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) append(name string, v any) error {
	if s.closed {
		return fmt.Errorf("write %s: sink closed", name)
	}
	f, err := s.open(name)
	if err != nil {
		return err
	}
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", name, err)
	}
	line = append(line, '\n')
	if _, err := f.w.Write(line); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (s *Sink) open(name string) (*file, error) {
	if f, ok := s.files[name]; ok {
		return f, nil
	}
	path := filepath.Join(s.dir, name)
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	f := &file{f: fh, w: bufio.NewWriter(fh)}
	s.files[name] = f
	return f, nil
}
