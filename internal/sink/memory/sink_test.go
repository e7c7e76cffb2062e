package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/openperu-ingest/internal/congress"
)

func TestSinkCollectsConcurrentWrites(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, s.WriteBill(ctx, congress.BillRecord{Bill: congress.Bill{ID: congress.BillID("2021", i)}}))
		}()
	}
	wg.Wait()

	require.NoError(t, s.WriteParties(ctx, []congress.Party{{PartyID: 1, Name: "Ninguno"}}))
	require.NoError(t, s.WriteOrganizations(ctx, []congress.Organization{{OrgID: 1}}))
	require.NoError(t, s.WriteCongresspeople(ctx, []congress.Congressperson{{ID: 9}}))
	require.NoError(t, s.Close())

	assert.Len(t, s.Bills(), 20)
	assert.Len(t, s.Parties(), 1)
	assert.Len(t, s.Organizations(), 1)
	assert.Len(t, s.Congresspeople(), 1)
	assert.True(t, s.Closed())
}
