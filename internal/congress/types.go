// Package congress defines the normalized domain records produced by the
// ingestion pipeline and the collaborator interfaces that consume them.
package congress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidDateRange reports a membership whose end precedes its start.
var ErrInvalidDateRange = errors.New("end date before start date")

// CoauthorSignerType is the source's signer-type code for coauthors. The
// source does not document its enumeration; other codes are adherents.
const CoauthorSignerType = 2

// ApprovedStatus is the terminal status text of an enacted bill.
const ApprovedStatus = "Publicada en el Diario Oficial El Peruano"

// Role enumerates a person's relation to a bill.
type Role string

const (
	// RoleAuthor is the lead author, the first signer in source order.
	RoleAuthor Role = "author"
	// RoleCoauthor marks signers with the coauthor signer-type code.
	RoleCoauthor Role = "coauthor"
	// RoleAdherent covers every other signer.
	RoleAdherent Role = "adherent"
)

// OrgKind classifies organizations held in the registry.
type OrgKind string

// Organization kinds.
const (
	OrgBancada           OrgKind = "bancada"
	OrgCommittee         OrgKind = "committee"
	OrgJuntaPortavoces   OrgKind = "junta_de_portavoces"
	OrgMesaDirectiva     OrgKind = "mesa_directiva"
	OrgComisionPermanent OrgKind = "comision_permanente"
	OrgParty             OrgKind = "party"
)

// OrgKinds lists the organization kinds memberships can point at, in the
// order organization rows are emitted.
var OrgKinds = []OrgKind{
	OrgBancada,
	OrgCommittee,
	OrgJuntaPortavoces,
	OrgMesaDirectiva,
	OrgComisionPermanent,
}

// BillID formats the canonical bill identity.
func BillID(year string, number int) string {
	return fmt.Sprintf("%s_%d", year, number)
}

// VoteID formats a per-bill vote identifier.
func VoteID(year string, number, seq int) string {
	return fmt.Sprintf("%s_%d_%d", year, number, seq)
}

// Bill is the scalar record of one legislative proposal.
type Bill struct {
	ID               string     `json:"id"`
	Year             string     `json:"year"`
	Number           int        `json:"bill_number"`
	LegPeriod        string     `json:"leg_period,omitempty"`
	Legislature      string     `json:"legislature,omitempty"`
	PresentationDate *time.Time `json:"presentation_date,omitempty"`
	Title            string     `json:"title,omitempty"`
	Summary          string     `json:"summary,omitempty"`
	Observations     string     `json:"observations,omitempty"`
	CompleteText     string     `json:"complete_text,omitempty"`
	Status           string     `json:"status,omitempty"`
	Proponent        string     `json:"proponent,omitempty"`
	Bancada          string     `json:"bancada,omitempty"`
	BancadaID        *int       `json:"bancada_id,omitempty"`
	AuthorID         *int       `json:"author_id,omitempty"`
	Approved         bool       `json:"approved"`
}

// AuthorshipRole links a signer to a bill.
type AuthorshipRole struct {
	BillID     string `json:"bill_id"`
	Position   int    `json:"position"`
	Role       Role   `json:"role"`
	PersonID   *int   `json:"person_id,omitempty"`
	Name       string `json:"name,omitempty"`
	ProfileURL string `json:"profile_url,omitempty"`
}

// BillCommittee records a committee a bill was assigned to.
type BillCommittee struct {
	BillID      string `json:"bill_id"`
	CommitteeID *int   `json:"committee_id,omitempty"`
	OrgID       int    `json:"org_id"`
	Name        string `json:"name"`
	LegPeriod   string `json:"leg_period,omitempty"`
	LegYear     string `json:"leg_year,omitempty"`
}

// VoteRef is one positively classified vote-tally document.
type VoteRef struct {
	ID  string `json:"vote_id"`
	URL string `json:"url"`
}

// BillStep is one dated event of a bill's procedural history.
type BillStep struct {
	BillID          string     `json:"bill_id"`
	Index           int        `json:"step_index"`
	Date            *time.Time `json:"date,omitempty"`
	Detail          string     `json:"detail,omitempty"`
	Committee       string     `json:"committee,omitempty"`
	IsVoteCandidate bool       `json:"is_vote_candidate"`
	IsVoteStep      bool       `json:"is_vote_step"`
	VoteUnresolved  bool       `json:"vote_unresolved,omitempty"`
	Votes           []VoteRef  `json:"votes,omitempty"`
	DocumentURLs    []string   `json:"document_urls,omitempty"`
}

// VoteID returns the first vote identifier recorded on the step, if any.
func (s BillStep) VoteID() string {
	if len(s.Votes) == 0 {
		return ""
	}
	return s.Votes[0].ID
}

// VoteEvent is a roll-call vote detected on a bill step.
type VoteEvent struct {
	ID          string     `json:"id"`
	BillID      string     `json:"bill_id"`
	StepIndex   int        `json:"step_index"`
	Sequence    int        `json:"sequence"`
	Date        *time.Time `json:"date,omitempty"`
	DocumentURL string     `json:"document_url"`
}

// BillRecord groups everything emitted for one bill.
type BillRecord struct {
	Bill       Bill             `json:"bill"`
	Authors    []AuthorshipRole `json:"authors"`
	Committees []BillCommittee  `json:"committees"`
	Steps      []BillStep       `json:"steps"`
	Votes      []VoteEvent      `json:"votes"`
}

// Organization is a deduplicated organization within a legislative period.
type Organization struct {
	LegPeriod string  `json:"leg_period"`
	OrgID     int     `json:"org_id"`
	Name      string  `json:"name"`
	Kind      OrgKind `json:"org_type"`
	URL       string  `json:"org_url,omitempty"`
}

// Party is a deduplicated political party within a legislative period.
type Party struct {
	LegPeriod string `json:"leg_period"`
	PartyID   int    `json:"party_id"`
	Name      string `json:"party_name"`
}

// Congressperson is one profile scraped from the congress directory.
type Congressperson struct {
	ID         int    `json:"id"`
	LegPeriod  string `json:"leg_period"`
	Name       string `json:"nombre"`
	Votes      int    `json:"votes_in_election"`
	PartyName  string `json:"party_name,omitempty"`
	PartyID    int    `json:"party_id"`
	Bancada    string `json:"bancada_name,omitempty"`
	BancadaID  int    `json:"bancada_id"`
	District   string `json:"dist_electoral,omitempty"`
	Condition  string `json:"condicion,omitempty"`
	Website    string `json:"website,omitempty"`
	ProfileURL string `json:"profile_url"`
}

// Membership is a person's tenure in an organization.
type Membership struct {
	Role      string     `json:"role"`
	PersonID  int        `json:"person_id"`
	OrgID     int        `json:"org_id"`
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// NewMembership validates the tenure dates and builds a Membership.
func NewMembership(role string, personID, orgID int, start time.Time, end *time.Time) (Membership, error) {
	if end != nil && end.Before(start) {
		return Membership{}, fmt.Errorf("membership %d in org %d: %w", personID, orgID, ErrInvalidDateRange)
	}
	return Membership{Role: role, PersonID: personID, OrgID: orgID, StartDate: start, EndDate: end}, nil
}

// NewMembershipMillis builds a Membership from epoch milliseconds, the
// representation the source uses. A zero end means the tenure is open.
func NewMembershipMillis(role string, personID, orgID int, startMs, endMs int64) (Membership, error) {
	var end *time.Time
	if endMs != 0 {
		e := time.UnixMilli(endMs).UTC()
		end = &e
	}
	return NewMembership(role, personID, orgID, time.UnixMilli(startMs).UTC(), end)
}

// RecordSink persists normalized records and enforces uniqueness.
type RecordSink interface {
	WriteBill(ctx context.Context, rec BillRecord) error
	WriteCongresspeople(ctx context.Context, people []Congressperson) error
	WriteMemberships(ctx context.Context, memberships []Membership) error
	WriteOrganizations(ctx context.Context, orgs []Organization) error
	WriteParties(ctx context.Context, parties []Party) error
	Close() error
}

// RawBill is the undecoded payload of one bill, archived for
// reprocessing. Absent sections are null.
type RawBill struct {
	ID           string          `json:"id"`
	FetchedAt    time.Time       `json:"timestamp"`
	General      json.RawMessage `json:"general"`
	Congresistas json.RawMessage `json:"congresistas"`
	Committees   json.RawMessage `json:"committees"`
	Steps        json.RawMessage `json:"steps"`
}

// RawArchive stores raw bill payloads next to the normalized records.
type RawArchive interface {
	WriteRawBill(ctx context.Context, raw RawBill) error
}

// RecordSource reads back the organizations and parties an earlier run
// stored, so identifiers survive restarts.
type RecordSource interface {
	LoadOrganizations(ctx context.Context) ([]Organization, error)
	LoadParties(ctx context.Context) ([]Party, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
