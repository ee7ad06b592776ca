// Package realtime delivers alerts to live subscribers. Every channel is keyed
// by tenant, and a subscriber may only join the channel of its own
// organization.
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"braveforms/internal/types"
)

// DefaultSubscriberBuffer is the per-subscriber queue depth used when the
// broker is built with a non-positive buffer.
const DefaultSubscriberBuffer = 32

// ChannelKey returns the channel name for a tenant.
func ChannelKey(tenantID string) string {
	return "ALERTS_" + tenantID
}

// Publisher is the outbound side used by the alert fan-out.
type Publisher interface {
	Publish(ctx context.Context, tenantID string, alert types.Alert) error
}

// Subscription is a live registration on one tenant channel. Alerts arrive on
// C until Close is called.
type Subscription struct {
	ID      string
	Channel string
	C       <-chan types.Alert

	ch     chan types.Alert
	broker *Broker
	once   sync.Once
}

// Close unregisters the subscription and closes C. It is safe to call more
// than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.remove(s)
	})
}

// Broker is an in-process, tenant-keyed pub/sub hub.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*Subscription
	buffer int
	logger *slog.Logger
}

// NewBroker creates a broker whose subscribers each queue up to buffer
// alerts. A slow subscriber loses alerts beyond that rather than blocking
// publishers.
func NewBroker(buffer int, logger *slog.Logger) *Broker {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subs:   make(map[string]map[string]*Subscription),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a subscriber for requestedTenantID. The caller's own
// tenant must match; cross-tenant subscriptions are refused.
func (b *Broker) Subscribe(actorTenantID, requestedTenantID string) (*Subscription, error) {
	if requestedTenantID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "organization_id is required", nil)
	}
	if actorTenantID == "" || actorTenantID != requestedTenantID {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodePermissionOrgMismatch,
			"cannot subscribe to another organization's alerts",
			nil,
			map[string]any{"organization_id": requestedTenantID},
		)
	}

	ch := make(chan types.Alert, b.buffer)
	sub := &Subscription{
		ID:      uuid.NewString(),
		Channel: ChannelKey(requestedTenantID),
		C:       ch,
		ch:      ch,
		broker:  b,
	}

	b.mu.Lock()
	if b.subs[sub.Channel] == nil {
		b.subs[sub.Channel] = make(map[string]*Subscription)
	}
	b.subs[sub.Channel][sub.ID] = sub
	b.mu.Unlock()

	return sub, nil
}

// Publish delivers alert to every local subscriber of the tenant channel.
// An alert stamped with a different organization is rejected so that a
// caller bug cannot leak one tenant's alert onto another's channel.
func (b *Broker) Publish(ctx context.Context, tenantID string, alert types.Alert) error {
	if tenantID == "" {
		return fmt.Errorf("realtime: tenant id is required")
	}
	if alert.OrganizationID != "" && alert.OrganizationID != tenantID {
		return fmt.Errorf("realtime: alert for organization %q published on channel %s", alert.OrganizationID, ChannelKey(tenantID))
	}

	channel := ChannelKey(tenantID)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[channel] {
		select {
		case sub.ch <- alert:
		default:
			b.logger.WarnContext(ctx, "dropping alert for slow subscriber",
				"channel", channel,
				"subscription_id", sub.ID,
				"alert_id", alert.ID,
			)
		}
	}
	return nil
}

// SubscriberCount returns the number of live subscribers for a tenant.
func (b *Broker) SubscriberCount(tenantID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[ChannelKey(tenantID)])
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subs[sub.Channel]; ok {
		delete(subs, sub.ID)
		if len(subs) == 0 {
			delete(b.subs, sub.Channel)
		}
	}
	close(sub.ch)
}
