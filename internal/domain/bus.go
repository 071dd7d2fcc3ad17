package domain

import (
	"context"
)

// EventBus carries batch submissions and scoring outcomes between the API and workers.
// Every call is tenant-scoped; WildcardTenant subscribes across tenants.
type EventBus interface {
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers handler for topic until the subscription is dropped.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error

	Close() error
}

// WildcardTenant subscribes to a topic for every tenant.
const WildcardTenant = "*"

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the bus envelope.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `json:"type"`

	ChannelBufferSize int `json:"channelBufferSize"`

	NATSUrl           string `json:"natsUrl"`
	NATSToken         string `json:"-"`
	NATSMaxReconnects int    `json:"natsMaxReconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait"` // seconds
}

// Topics used by the scoring pipeline.
const (
	TopicBatchSubmitted = "batch.submitted"
	TopicBatchScored    = "batch.scored"
	TopicBatchRejected  = "batch.rejected"
	TopicBatchFailed    = "batch.failed"
	TopicCaseOpened     = "case.opened"
)
