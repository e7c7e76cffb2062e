package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/openperu-ingest/internal/congress"
)

func newMockStore(t *testing.T, prefix string) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewWithPool(mock, prefix, nil)
	require.NoError(t, err)
	return s, mock
}

func sampleRecord() congress.BillRecord {
	day := time.Date(2022, 5, 12, 0, 0, 0, 0, time.UTC)
	author := 101
	committee := 17
	return congress.BillRecord{
		Bill: congress.Bill{ID: "2021_1234", Year: "2021", Number: 1234, Approved: true, AuthorID: &author},
		Authors: []congress.AuthorshipRole{
			{BillID: "2021_1234", Position: 0, Role: congress.RoleAuthor, PersonID: &author},
		},
		Committees: []congress.BillCommittee{
			{BillID: "2021_1234", CommitteeID: &committee, OrgID: 3, Name: "Salud", LegYear: "2021-2022"},
		},
		Steps: []congress.BillStep{
			{BillID: "2021_1234", Index: 0, Date: &day, IsVoteCandidate: true, IsVoteStep: true},
		},
		Votes: []congress.VoteEvent{
			{ID: "2021_1234_1", BillID: "2021_1234", StepIndex: 0, Sequence: 1, Date: &day, DocumentURL: "u"},
		},
	}
}

func billArgs(rec congress.BillRecord) []any {
	return []any{rec.Bill.ID, "2021", 1234, "", "", pgxmock.AnyArg(),
		"", "", "", "", "", "", "", pgxmock.AnyArg(), pgxmock.AnyArg(), true}
}

func TestWriteBillUsesOneTransaction(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t, "")
	rec := sampleRecord()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bills").
		WithArgs(billArgs(rec)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO bill_authors").
		WithArgs("2021_1234", "author", 0, pgxmock.AnyArg(), "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO bill_committees").
		WithArgs("2021_1234", 17, 3, "Salud", "", "2021-2022").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO bill_steps").
		WithArgs("2021_1234", 0, pgxmock.AnyArg(), "", "", true, true, false, []string{}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO vote_events").
		WithArgs("2021_1234_1", "2021_1234", 0, 1, pgxmock.AnyArg(), "u").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()

	require.NoError(t, s.WriteBill(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteBillRollsBackOnFailure(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t, "")
	rec := sampleRecord()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bills").
		WithArgs(billArgs(rec)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO bill_authors").
		WithArgs("2021_1234", "author", 0, pgxmock.AnyArg(), "", "").
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := s.WriteBill(context.Background(), rec)
	require.ErrorContains(t, err, "insert author 0 of 2021_1234")
	require.ErrorContains(t, err, "boom")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteOrganizationsAndParties(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t, "op_")

	mock.ExpectExec("(?s)INSERT INTO op_organizations.*ON CONFLICT \\(leg_period, org_id\\) DO UPDATE SET org_url").
		WithArgs("2021-2026", 1, "Fuerza Popular", "bancada", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO op_parties").
		WithArgs("2021-2026", 1, "Ninguno").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO op_congresspeople").
		WithArgs(101, "2021-2026", "Juan", 12345, 1, 1, "Lima", "", "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := context.Background()
	require.NoError(t, s.WriteOrganizations(ctx, []congress.Organization{
		{LegPeriod: "2021-2026", OrgID: 1, Name: "Fuerza Popular", Kind: congress.OrgBancada},
	}))
	require.NoError(t, s.WriteParties(ctx, []congress.Party{{LegPeriod: "2021-2026", PartyID: 1, Name: "Ninguno"}}))
	require.NoError(t, s.WriteCongresspeople(ctx, []congress.Congressperson{
		{ID: 101, LegPeriod: "2021-2026", Name: "Juan", Votes: 12345, PartyID: 1, BancadaID: 1, District: "Lima"},
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteMembershipsKeepsOpenTenures(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t, "")
	open, err := congress.NewMembershipMillis("vocero", 101, 3, 1627776000000, 0)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO memberships").
		WithArgs(101, 3, "vocero", open.StartDate, (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.WriteMemberships(context.Background(), []congress.Membership{open}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteRawBillStoresSectionsAsJSON(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t, "")
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("(?s)INSERT INTO raw_bills.*ON CONFLICT \\(id\\) DO UPDATE").
		WithArgs("2021_1", at, `{"titulo":"x"}`, `[]`, nil, nil).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.WriteRawBill(context.Background(), congress.RawBill{
		ID: "2021_1", FetchedAt: at, General: []byte(`{"titulo":"x"}`), Congresistas: []byte(`[]`),
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadOrganizationsAndParties(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t, "op_")

	mock.ExpectQuery("SELECT leg_period, org_id, name, org_type, COALESCE\\(org_url, ''\\) FROM op_organizations").
		WillReturnRows(pgxmock.NewRows([]string{"leg_period", "org_id", "name", "org_type", "org_url"}).
			AddRow("2021-2026", 1, "perú libre", "bancada", "").
			AddRow("2021-2026", 4, "comisión de salud", "committee", "https://example.org/salud"))
	mock.ExpectQuery("SELECT leg_period, party_id, party_name FROM op_parties").
		WillReturnRows(pgxmock.NewRows([]string{"leg_period", "party_id", "party_name"}).
			AddRow("2021-2026", 2, "Perú Libre"))

	ctx := context.Background()
	orgs, err := s.LoadOrganizations(ctx)
	require.NoError(t, err)
	require.Len(t, orgs, 2)
	assert.Equal(t, congress.OrgCommittee, orgs[1].Kind)
	assert.Equal(t, 4, orgs[1].OrgID)
	assert.Equal(t, "https://example.org/salud", orgs[1].URL)

	parties, err := s.LoadParties(ctx)
	require.NoError(t, err)
	require.Equal(t, []congress.Party{{LegPeriod: "2021-2026", PartyID: 2, Name: "Perú Libre"}}, parties)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadOrganizationsPropagatesQueryError(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t, "")
	mock.ExpectQuery("FROM organizations").WillReturnError(errors.New("relation does not exist"))

	_, err := s.LoadOrganizations(context.Background())
	require.ErrorContains(t, err, "load organizations")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaAppliesPrefix(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t, "op_")
	assert.False(t, strings.Contains(s.Schema(), "{prefix}"))
	assert.Contains(t, s.Schema(), "CREATE TABLE IF NOT EXISTS op_vote_events")
	assert.Contains(t, s.Schema(), "CREATE TABLE IF NOT EXISTS op_memberships")

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS op_bills").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidates(t *testing.T) {
	t.Parallel()
	_, err := NewWithPool(nil, "", nil)
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, "bad-prefix;", nil)
	require.Error(t, err)
}
