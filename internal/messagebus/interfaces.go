// Package messagebus carries pipeline events and outcome reports over NATS
// JetStream. Outcomes arrive from the DM-tracking collaborator; events fan
// out to dashboard subscribers.
package messagebus

import (
	"context"

	"github.com/postmint/postmint/pkg/models"
)

// Bus is the publishing surface the pipeline depends on. The NATS
// implementation is the real one; Noop serves single-process deployments.
type Bus interface {
	// PublishEvent announces a pipeline event (post generated, stock
	// consumed, test completed).
	PublishEvent(ctx context.Context, event *models.PipelineEvent) error

	// PublishOutcome reports a post outcome. kind is "good" or "bad".
	PublishOutcome(ctx context.Context, kind string, outcome *models.OutcomeEvent) error

	// SubscribeOutcomes registers a durable handler for outcome reports.
	SubscribeOutcomes(kind string, handler func(*models.OutcomeEvent)) error

	// SubscribeEvents registers a fan-out handler for all pipeline events.
	SubscribeEvents(handler func(*models.PipelineEvent)) error

	Health() error
	Close() error
}

// Noop satisfies Bus without a broker. Publishes succeed silently and
// subscriptions never fire.
type Noop struct{}

func (Noop) PublishEvent(context.Context, *models.PipelineEvent) error          { return nil }
func (Noop) PublishOutcome(context.Context, string, *models.OutcomeEvent) error { return nil }
func (Noop) SubscribeOutcomes(string, func(*models.OutcomeEvent)) error         { return nil }
func (Noop) SubscribeEvents(func(*models.PipelineEvent)) error                  { return nil }
func (Noop) Health() error                                                      { return nil }
func (Noop) Close() error                                                       { return nil }
