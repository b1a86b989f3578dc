package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/moneta/money-transfer/internal/domain"
	"github.com/moneta/money-transfer/internal/engine"
	"github.com/moneta/money-transfer/internal/telemetry"
)

// NATSClient wraps the NATS connection for transfer command publishing.
type NATSClient struct {
	conn *nats.Conn
}

// NewNATSClient connects to the NATS server at url.
func NewNATSClient(url string) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name("money-transfer"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSClient{conn: conn}, nil
}

// GetConn returns the underlying NATS connection.
func (c *NATSClient) GetConn() *nats.Conn {
	return c.conn
}

// PublishTransfer publishes a transfer command and waits for the engine's reply.
func (c *NATSClient) PublishTransfer(req domain.TransferRequest, timeout time.Duration) (*engine.CommandResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transfer command: %w", err)
	}

	msg, err := c.conn.Request(engine.CommandSubject, data, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to publish transfer command: %w", err)
	}
	telemetry.NATSMessagesPublished.WithLabelValues(engine.CommandSubject).Inc()

	var resp engine.CommandResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transfer response: %w", err)
	}

	return &resp, nil
}

// PublishTransferAsync publishes a transfer command without waiting for a reply.
func (c *NATSClient) PublishTransferAsync(req domain.TransferRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal transfer command: %w", err)
	}

	if err := c.conn.Publish(engine.CommandSubject, data); err != nil {
		return fmt.Errorf("failed to publish transfer command: %w", err)
	}
	telemetry.NATSMessagesPublished.WithLabelValues(engine.CommandSubject).Inc()

	return nil
}

// Close drains and closes the NATS connection.
func (c *NATSClient) Close() {
	if c.conn != nil {
		c.conn.Drain()
		c.conn.Close()
	}
}
