package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/moneta/money-transfer/internal/domain"
	"github.com/moneta/money-transfer/internal/telemetry"
)

// CommandResponse is the reply to a queued transfer command.
type CommandResponse struct {
	TransactionID string             `json:"transaction_id"`
	Success       bool               `json:"success"`
	Kind          domain.FailureKind `json:"kind,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// TransferCompleted is published on EventSubject after a commit.
type TransferCompleted struct {
	TransactionID string    `json:"transaction_id"`
	FromAccount   string    `json:"from_account"`
	ToAccount     string    `json:"to_account"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	At            time.Time `json:"at"`
}

// Start begins consuming transfer commands from NATS.
func (e *Engine) Start() error {
	sub, err := e.natsConn.Subscribe(CommandSubject, e.handleCommand)
	if err != nil {
		return err
	}

	e.subscription = sub
	slog.Info("transfer engine consuming commands", "subject", CommandSubject)
	return nil
}

// Stop unsubscribes and waits for in-flight commands to finish.
func (e *Engine) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		if e.subscription != nil {
			err = e.subscription.Unsubscribe()
		}
		// A callback dispatched just before the unsubscribe may not have
		// entered the wait group yet. Flipping stopping under the mutex
		// forces it to either register before the Wait below or drop the
		// message.
		e.mu.Lock()
		e.stopping = true
		e.mu.Unlock()
		e.wg.Wait()
	})
	return err
}

// handleCommand processes a single transfer command from NATS.
func (e *Engine) handleCommand(msg *nats.Msg) {
	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()
	defer e.wg.Done()

	ctx := context.Background()
	if telemetry.Tracer != nil {
		var span trace.Span
		ctx, span = telemetry.Tracer.Start(ctx, "engine.handleCommand",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.system", "nats"),
				attribute.String("messaging.destination", CommandSubject),
			),
		)
		defer span.End()
	}

	telemetry.NATSMessagesReceived.WithLabelValues(CommandSubject).Inc()

	var req domain.TransferRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		slog.WarnContext(ctx, "discarding malformed transfer command", "error", err)
		e.respond(msg, CommandResponse{
			Success: false,
			Kind:    domain.KindInvalidRequest,
			Error:   "invalid command format",
		})
		return
	}
	if req.TransactionID == "" {
		req.TransactionID = uuid.Must(uuid.NewV7()).String()
	}

	if err := e.Transfer(ctx, req); err != nil {
		e.respond(msg, CommandResponse{
			TransactionID: req.TransactionID,
			Success:       false,
			Kind:          domain.KindOf(err),
			Error:         err.Error(),
		})
		return
	}

	e.respond(msg, CommandResponse{
		TransactionID: req.TransactionID,
		Success:       true,
	})
}

func (e *Engine) respond(msg *nats.Msg, resp CommandResponse) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Warn("failed to serialize command response", "transaction_id", resp.TransactionID, "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn("failed to reply to transfer command", "reply", msg.Reply, "error", err)
	}
}

// publishCompleted announces a committed transfer to other subscribers.
// Best effort: a publish failure does not affect the committed transfer.
func (e *Engine) publishCompleted(req domain.TransferRequest) {
	if e.natsConn == nil {
		return
	}

	data, err := json.Marshal(TransferCompleted{
		TransactionID: req.TransactionID,
		FromAccount:   req.FromAccount,
		ToAccount:     req.ToAccount,
		Amount:        req.Amount.StringFixed(domain.BalanceScale),
		Currency:      req.Currency,
		At:            time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("failed to serialize transfer event", "error", err)
		return
	}

	if err := e.natsConn.Publish(EventSubject, data); err != nil {
		slog.Warn("failed to publish transfer event", "error", err)
		return
	}
	telemetry.NATSMessagesPublished.WithLabelValues(EventSubject).Inc()
}
