// Package pubsub announces ingested bills on a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/openperu-ingest/internal/congress"
)

// ErrUnsupported reports an optional capability the wrapped sink lacks.
var ErrUnsupported = errors.New("not supported by the wrapped sink")

// Event is the message body published for each stored bill.
type Event struct {
	BillID   string `json:"bill_id"`
	Approved bool   `json:"approved"`
	Votes    int    `json:"votes"`
	Steps    int    `json:"steps"`
}

// Notifier decorates a RecordSink and publishes an Event after every
// successful bill write. Other record kinds pass through unannounced.
type Notifier struct {
	next   congress.RecordSink
	topic  *pubsub.Topic
	client *pubsub.Client
	logger *zap.Logger
}

// New wraps next. When client is non-nil the Notifier owns it and closes
// it on Close.
func New(next congress.RecordSink, client *pubsub.Client, topic *pubsub.Topic, logger *zap.Logger) (*Notifier, error) {
	if next == nil {
		return nil, fmt.Errorf("wrapped sink is required")
	}
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{next: next, topic: topic, client: client, logger: logger.Named("pubsub")}, nil
}

// Dial connects to projectID and checks that topicID exists.
func Dial(ctx context.Context, next congress.RecordSink, projectID, topicID string, logger *zap.Logger) (*Notifier, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err == nil && !ok {
		err = fmt.Errorf("topic %q does not exist in project %q", topicID, projectID)
	}
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("check pubsub topic: %w", err)
	}
	return New(next, client, topic, logger)
}

// WriteBill implements congress.RecordSink.
func (n *Notifier) WriteBill(ctx context.Context, rec congress.BillRecord) error {
	if err := n.next.WriteBill(ctx, rec); err != nil {
		return err
	}
	data, err := json.Marshal(Event{
		BillID:   rec.Bill.ID,
		Approved: rec.Bill.Approved,
		Votes:    len(rec.Votes),
		Steps:    len(rec.Steps),
	})
	if err != nil {
		return fmt.Errorf("marshal bill event: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"bill_id": rec.Bill.ID},
	}
	otel.GetTextMapPropagator().Inject(ctx, carrier(msg.Attributes))
	id, err := n.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return fmt.Errorf("publish bill %s: %w", rec.Bill.ID, err)
	}
	n.logger.Debug("bill announced", zap.String("bill", rec.Bill.ID), zap.String("message_id", id))
	return nil
}

// WriteCongresspeople implements congress.RecordSink.
func (n *Notifier) WriteCongresspeople(ctx context.Context, people []congress.Congressperson) error {
	return n.next.WriteCongresspeople(ctx, people)
}

// WriteMemberships implements congress.RecordSink.
func (n *Notifier) WriteMemberships(ctx context.Context, memberships []congress.Membership) error {
	return n.next.WriteMemberships(ctx, memberships)
}

// WriteRawBill implements congress.RawArchive when the wrapped sink does.
func (n *Notifier) WriteRawBill(ctx context.Context, raw congress.RawBill) error {
	archive, ok := n.next.(congress.RawArchive)
	if !ok {
		return ErrUnsupported
	}
	return archive.WriteRawBill(ctx, raw)
}

// LoadOrganizations implements congress.RecordSource when the wrapped
// sink does.
func (n *Notifier) LoadOrganizations(ctx context.Context) ([]congress.Organization, error) {
	src, ok := n.next.(congress.RecordSource)
	if !ok {
		return nil, ErrUnsupported
	}
	return src.LoadOrganizations(ctx)
}

// LoadParties implements congress.RecordSource when the wrapped sink does.
func (n *Notifier) LoadParties(ctx context.Context) ([]congress.Party, error) {
	src, ok := n.next.(congress.RecordSource)
	if !ok {
		return nil, ErrUnsupported
	}
	return src.LoadParties(ctx)
}

// WriteOrganizations implements congress.RecordSink.
func (n *Notifier) WriteOrganizations(ctx context.Context, orgs []congress.Organization) error {
	return n.next.WriteOrganizations(ctx, orgs)
}

// WriteParties implements congress.RecordSink.
func (n *Notifier) WriteParties(ctx context.Context, parties []congress.Party) error {
	return n.next.WriteParties(ctx, parties)
}

// Close flushes pending messages and closes the wrapped sink.
func (n *Notifier) Close() error {
	n.topic.Stop()
	var errs []error
	if n.client != nil {
		if err := n.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	if err := n.next.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// carrier adapts message attributes to propagation.TextMapCarrier.
type carrier map[string]string

func (c carrier) Get(key string) string { return c[key] }

func (c carrier) Set(key, value string) { c[key] = value }

func (c carrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
