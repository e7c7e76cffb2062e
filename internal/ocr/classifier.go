package ocr

import (
	"context"
	"fmt"
	"regexp"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/openperu-ingest/internal/metrics"
)

// voteTallyRe matches an affirmative marker followed by a negative one, or
// the reverse, within a bounded window. Printed tallies render each as a
// label followed by a run of two or more symbols.
var voteTallyRe = regexp.MustCompile(
	`(?is)\bSI\s*\+{2,}.{0,1000}?\bNO\s*-{2,}|\bNO\s*-{2,}.{0,1000}?\bSI\s*\+{2,}`,
)

// IsVoteTally reports whether text carries the roll-call signature.
func IsVoteTally(text string) bool {
	return voteTallyRe.MatchString(text)
}

// TextSource yields document text, rendering it when needed.
type TextSource interface {
	GetOrRender(ctx context.Context, url string) (string, error)
}

// Classifier decides whether an attachment is a vote-tally document.
type Classifier struct {
	source TextSource
	logger *zap.Logger
}

// NewClassifier builds a Classifier over source.
func NewClassifier(source TextSource, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{source: source, logger: logger.Named("classifier")}
}

// Classify fetches (or renders) the document text and applies the tally
// pattern. Extraction failures are returned; the caller decides how to
// record an unresolved document.
func (c *Classifier) Classify(ctx context.Context, url string) (bool, error) {
	ctx, span := otel.Tracer("github.com/JakeFAU/openperu-ingest/internal/ocr").Start(ctx, "ocr.Classify")
	defer span.End()
	span.SetAttributes(attribute.String("document.url", url))

	text, err := c.source.GetOrRender(ctx, url)
	if err != nil {
		metrics.ObserveClassification("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction failed")
		return false, fmt.Errorf("classify %s: %w", url, err)
	}
	isVote := IsVoteTally(text)
	span.SetAttributes(attribute.Bool("document.is_vote", isVote))
	if isVote {
		metrics.ObserveClassification("vote")
	} else {
		metrics.ObserveClassification("nonvote")
	}
	c.logger.Debug("document classified", zap.String("url", url), zap.Bool("vote", isVote))
	return isVote, nil
}
