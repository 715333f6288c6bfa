package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic. Pass AllTenants to receive
	// the topic for every tenant.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response.
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
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
	Type string `mapstructure:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `mapstructure:"channelbuffersize"`

	// NATS settings (Pro tier)
	NATSUrl           string `mapstructure:"natsurl"`
	NATSToken         string `mapstructure:"natstoken"`
	NATSMaxReconnects int    `mapstructure:"natsmaxreconnects"`
	NATSReconnectWait int    `mapstructure:"natsreconnectwait"` // seconds
}

// AllTenants subscribes a handler to a topic for every tenant.
const AllTenants = "*"

// Topics of the SMS and verification pipeline.
const (
	TopicSMSReceived         = "momoguard.sms.received"
	TopicPaymentIngested     = "momoguard.payment.ingested"
	TopicVerificationDecided = "momoguard.verification.decided"
	TopicFraudAlert          = "momoguard.fraud.alert"
)
