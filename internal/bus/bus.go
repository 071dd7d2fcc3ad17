// Package bus provides the event buses that connect the API to async workers.
package bus

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/trancheready/internal/domain"
)

var (
	// ErrBusClosed is returned by operations on a closed bus.
	ErrBusClosed = errors.New("bus is closed")

	// ErrInvalidTenant is returned for empty tenant IDs or IDs that would
	// break subject routing.
	ErrInvalidTenant = errors.New("invalid tenantID")
)

// New creates an event bus from configuration.
// "channel" is the in-process Community bus; "nats" is the Pro bus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "", "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// checkTenant validates a publishing tenant. Subscribers may additionally use
// domain.WildcardTenant.
func checkTenant(tenantID string, allowWildcard bool) error {
	if tenantID == domain.WildcardTenant {
		if allowWildcard {
			return nil
		}
		return fmt.Errorf("%w: cannot publish to the wildcard tenant", ErrInvalidTenant)
	}
	if tenantID == "" || strings.ContainsAny(tenantID, ".*> \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidTenant, tenantID)
	}
	return nil
}

func newMessage(tenantID, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}
