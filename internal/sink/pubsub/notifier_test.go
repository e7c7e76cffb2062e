package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/openperu-ingest/internal/congress"
	"github.com/JakeFAU/openperu-ingest/internal/sink/memory"
)

func newTestTopic(t *testing.T) (*pubsub.Client, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)

	topic, err := client.CreateTopic(ctx, "bills")
	require.NoError(t, err)
	return client, topic
}

func TestWriteBillPublishesEvent(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, topic := newTestTopic(t)
	sub, err := client.CreateSubscription(ctx, "bills-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	inner := memory.New()
	n, err := New(inner, client, topic, nil)
	require.NoError(t, err)

	rec := congress.BillRecord{
		Bill:  congress.Bill{ID: "2021_1234", Approved: true},
		Steps: make([]congress.BillStep, 3),
		Votes: make([]congress.VoteEvent, 1),
	}
	require.NoError(t, n.WriteBill(ctx, rec))
	assert.Len(t, inner.Bills(), 1)

	received := make(chan *pubsub.Message, 1)
	rctx, rcancel := context.WithCancel(ctx)
	go func() {
		_ = sub.Receive(rctx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			select {
			case received <- msg:
			default:
			}
			rcancel()
		})
	}()

	select {
	case msg := <-received:
		var ev Event
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, Event{BillID: "2021_1234", Approved: true, Votes: 1, Steps: 3}, ev)
		assert.Equal(t, "2021_1234", msg.Attributes["bill_id"])
	case <-ctx.Done():
		t.Fatal("no message received")
	}

	require.NoError(t, n.Close())
	assert.True(t, inner.Closed())
}

type failingSink struct{ *memory.Sink }

func (failingSink) WriteBill(context.Context, congress.BillRecord) error {
	return errors.New("disk full")
}

func TestWriteBillSkipsPublishWhenWriteFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, topic := newTestTopic(t)
	t.Cleanup(func() { _ = client.Close() })

	n, err := New(failingSink{memory.New()}, nil, topic, nil)
	require.NoError(t, err)

	err = n.WriteBill(ctx, congress.BillRecord{Bill: congress.Bill{ID: "x"}})
	require.ErrorContains(t, err, "disk full")
}

func TestPassThroughWrites(t *testing.T) {
	t.Parallel()
	client, topic := newTestTopic(t)
	t.Cleanup(func() { _ = client.Close() })
	inner := memory.New()
	n, err := New(inner, nil, topic, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, n.WriteParties(ctx, []congress.Party{{PartyID: 1}}))
	require.NoError(t, n.WriteOrganizations(ctx, []congress.Organization{{OrgID: 1}}))
	require.NoError(t, n.WriteCongresspeople(ctx, []congress.Congressperson{{ID: 1}}))
	require.NoError(t, n.WriteMemberships(ctx, []congress.Membership{{PersonID: 1, OrgID: 1, Role: "miembro"}}))
	require.NoError(t, n.WriteRawBill(ctx, congress.RawBill{ID: "2021_1"}))
	assert.Len(t, inner.Parties(), 1)
	assert.Len(t, inner.Organizations(), 1)
	assert.Len(t, inner.Congresspeople(), 1)
	assert.Len(t, inner.Memberships(), 1)
	assert.Len(t, inner.RawBills(), 1)

	orgs, err := n.LoadOrganizations(ctx)
	require.NoError(t, err)
	assert.Len(t, orgs, 1)
	parties, err := n.LoadParties(ctx)
	require.NoError(t, err)
	assert.Len(t, parties, 1)
}

// writeOnlySink hides every optional capability of the sink it wraps.
type writeOnlySink struct{ congress.RecordSink }

func TestOptionalCapabilitiesFollowWrappedSink(t *testing.T) {
	t.Parallel()
	client, topic := newTestTopic(t)
	t.Cleanup(func() { _ = client.Close() })
	n, err := New(writeOnlySink{memory.New()}, nil, topic, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.ErrorIs(t, n.WriteRawBill(ctx, congress.RawBill{ID: "2021_1"}), ErrUnsupported)
	_, err = n.LoadOrganizations(ctx)
	require.ErrorIs(t, err, ErrUnsupported)
	_, err = n.LoadParties(ctx)
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()
	_, err := New(nil, nil, nil, nil)
	require.Error(t, err)
	_, err = New(memory.New(), nil, nil, nil)
	require.Error(t, err)
}
