package models

import "time"

// EventType identifies a pipeline event published on the message bus and
// streamed to dashboard clients.
type EventType string

const (
	EventPostGenerated EventType = "post.generated"
	EventPostDegraded  EventType = "post.degraded"
	EventStockConsumed EventType = "stock.consumed"
	EventStockRefilled EventType = "stock.refilled"
	EventTestStarted   EventType = "abtest.started"
	EventTestCompleted EventType = "abtest.completed"
)

// PipelineEvent is the envelope for all published events.
type PipelineEvent struct {
	Type      EventType              `json:"type"`
	Account   string                 `json:"account"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// OutcomeEvent is reported after the fact by the DM-tracking collaborator.
// Good outcomes feed the success patterns and A/B counters; bad outcomes
// feed the avoidance store.
type OutcomeEvent struct {
	Account    string  `json:"account"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	Target     string  `json:"target_label,omitempty"`
	Benefit    string  `json:"benefit_label,omitempty"`
	Variant    string  `json:"variant,omitempty"` // "A" or "B" when part of a test
	DM         bool    `json:"dm"`
	Conversion bool    `json:"conversion"`
	Reason     string  `json:"reason,omitempty"` // bad outcomes only
}
