package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"braveforms/internal/types"
)

// DefaultSubjectPrefix is the NATS subject prefix for alert channels.
const DefaultSubjectPrefix = "braveforms.alerts"

// NATSConfig holds connection settings for the cross-instance bridge.
type NATSConfig struct {
	URL            string
	Name           string
	SubjectPrefix  string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns connection defaults for url.
func DefaultNATSConfig(url string) NATSConfig {
	return NATSConfig{
		URL:            url,
		Name:           "braveforms-compliance",
		SubjectPrefix:  DefaultSubjectPrefix,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  60,
		ConnectTimeout: 5 * time.Second,
	}
}

// Connect dials NATS with reconnect handling logged through logger.
func Connect(cfg NATSConfig, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// Subject returns the NATS subject carrying a tenant's alerts.
func Subject(prefix, tenantID string) string {
	return prefix + "." + tenantID
}

// natsConn is the subset of *nats.Conn used by the bridge.
type natsConn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// envelope is the wire form of an alert relayed between instances.
type envelope struct {
	Origin   string      `json:"origin"`
	TenantID string      `json:"tenant_id"`
	Alert    types.Alert `json:"alert"`
}

// NATSBridge publishes alerts to the local broker and to NATS, and relays
// alerts published by other instances into the local broker. Subscribers
// connected to any instance therefore see every alert for their tenant.
type NATSBridge struct {
	conn   natsConn
	prefix string
	local  *Broker
	origin string
	logger *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewNATSBridge creates a bridge over an established connection.
func NewNATSBridge(conn *nats.Conn, prefix string, local *Broker, logger *slog.Logger) *NATSBridge {
	return newNATSBridge(conn, prefix, local, logger)
}

func newNATSBridge(conn natsConn, prefix string, local *Broker, logger *slog.Logger) *NATSBridge {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSBridge{
		conn:   conn,
		prefix: prefix,
		local:  local,
		origin: uuid.NewString(),
		logger: logger.With("component", "nats_bridge"),
	}
}

// Start subscribes to every tenant subject under the prefix.
func (b *NATSBridge) Start() error {
	sub, err := b.conn.Subscribe(b.prefix+".*", b.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s.*: %w", b.prefix, err)
	}
	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()
	return nil
}

// Close drops the NATS subscription. The connection is owned by the caller.
func (b *NATSBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		return nil
	}
	err := b.sub.Unsubscribe()
	b.sub = nil
	return err
}

// Publish delivers locally first, then relays to other instances. A NATS
// failure is returned after local delivery has already happened.
func (b *NATSBridge) Publish(ctx context.Context, tenantID string, alert types.Alert) error {
	if err := validateSubjectToken(tenantID); err != nil {
		return err
	}
	if err := b.local.Publish(ctx, tenantID, alert); err != nil {
		return err
	}

	data, err := json.Marshal(envelope{Origin: b.origin, TenantID: tenantID, Alert: alert})
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	if err := b.conn.Publish(Subject(b.prefix, tenantID), data); err != nil {
		return fmt.Errorf("failed to publish alert to NATS: %w", err)
	}
	return nil
}

func (b *NATSBridge) handle(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		b.logger.Warn("discarding malformed alert message", "subject", msg.Subject, "error", err)
		return
	}
	if env.Origin == b.origin {
		return
	}
	if Subject(b.prefix, env.TenantID) != msg.Subject {
		b.logger.Warn("discarding alert with mismatched subject",
			"subject", msg.Subject,
			"tenant_id", env.TenantID,
		)
		return
	}
	if err := b.local.Publish(context.Background(), env.TenantID, env.Alert); err != nil {
		b.logger.Warn("failed to relay alert", "subject", msg.Subject, "error", err)
	}
}

// validateSubjectToken rejects tenant ids that would change the meaning of a
// NATS subject.
func validateSubjectToken(tenantID string) error {
	if tenantID == "" || strings.ContainsAny(tenantID, ".*> \t\r\n") {
		return fmt.Errorf("realtime: tenant id %q is not a valid subject token", tenantID)
	}
	return nil
}
