// Package memory keeps emitted records in memory for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/openperu-ingest/internal/congress"
)

// Sink collects records. It is safe for concurrent use.
type Sink struct {
	mu             sync.Mutex
	bills          []congress.BillRecord
	congresspeople []congress.Congressperson
	memberships    []congress.Membership
	rawBills       []congress.RawBill
	organizations  []congress.Organization
	parties        []congress.Party
	closed         bool
}

// New returns an empty Sink.
func New() *Sink {
	return &Sink{}
}

// WriteBill implements congress.RecordSink.
func (s *Sink) WriteBill(_ context.Context, rec congress.BillRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bills = append(s.bills, rec)
	return nil
}

// WriteCongresspeople implements congress.RecordSink.
func (s *Sink) WriteCongresspeople(_ context.Context, people []congress.Congressperson) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.congresspeople = append(s.congresspeople, people...)
	return nil
}

// WriteMemberships implements congress.RecordSink.
func (s *Sink) WriteMemberships(_ context.Context, memberships []congress.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships = append(s.memberships, memberships...)
	return nil
}

// WriteRawBill implements congress.RawArchive.
func (s *Sink) WriteRawBill(_ context.Context, raw congress.RawBill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawBills = append(s.rawBills, raw)
	return nil
}

// LoadOrganizations implements congress.RecordSource.
func (s *Sink) LoadOrganizations(context.Context) ([]congress.Organization, error) {
	return s.Organizations(), nil
}

// LoadParties implements congress.RecordSource.
func (s *Sink) LoadParties(context.Context) ([]congress.Party, error) {
	return s.Parties(), nil
}

// WriteOrganizations implements congress.RecordSink.
func (s *Sink) WriteOrganizations(_ context.Context, orgs []congress.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.organizations = append(s.organizations, orgs...)
	return nil
}

// WriteParties implements congress.RecordSink.
func (s *Sink) WriteParties(_ context.Context, parties []congress.Party) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parties = append(s.parties, parties...)
	return nil
}

// Close implements congress.RecordSink.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Bills returns a copy of the written bill records.
func (s *Sink) Bills() []congress.BillRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]congress.BillRecord(nil), s.bills...)
}

// Congresspeople returns a copy of the written congresspeople.
func (s *Sink) Congresspeople() []congress.Congressperson {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]congress.Congressperson(nil), s.congresspeople...)
}

// Memberships returns a copy of the written memberships.
func (s *Sink) Memberships() []congress.Membership {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]congress.Membership(nil), s.memberships...)
}

// RawBills returns a copy of the archived payloads.
func (s *Sink) RawBills() []congress.RawBill {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]congress.RawBill(nil), s.rawBills...)
}

// Organizations returns a copy of the written organizations.
func (s *Sink) Organizations() []congress.Organization {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]congress.Organization(nil), s.organizations...)
}

// Parties returns a copy of the written parties.
func (s *Sink) Parties() []congress.Party {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]congress.Party(nil), s.parties...)
}

// Closed reports whether Close was called.
func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
