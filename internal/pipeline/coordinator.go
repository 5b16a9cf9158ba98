package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"signal-engine-go/internal/exchange"
	"signal-engine-go/internal/models"
	"signal-engine-go/internal/store"
)

// ErrAlreadyExecuted is returned when a signal already has a non-failed
// execution log entry, meaning a resubmission must not reach the exchange.
var ErrAlreadyExecuted = errors.New("signal already has a non-failed execution")

// Outcome is the result of coordinating one signal execution. Trade may
// still be pending when the exchange acknowledged an open order with no
// fills yet; reconciliation against the exchange's order state owns the
// remaining lifecycle of such trades.
type Outcome struct {
	Entry    *models.ExecutionLogEntry
	Trade    *models.Trade
	Position *models.Position
	ErrType  string
	Err      error
}

// Executed reports whether an order reached the exchange and succeeded.
func (o *Outcome) Executed() bool { return o.Trade != nil && o.Err == nil }

// Coordinator executes accepted signals against the exchange adapter with
// idempotency, bounded retry, and per-attempt auditing. Callers must invoke
// Execute inside the sequencer scope for the signal's key; the coordinator
// itself takes no lock.
type Coordinator struct {
	store    *store.Store
	recorder *Recorder
	ledger   *Ledger
	adapter  exchange.Adapter
	policy   RetryPolicy
	timeout  time.Duration
	logger   *zap.Logger
}

// NewCoordinator creates an execution coordinator.
func NewCoordinator(st *store.Store, recorder *Recorder, ledger *Ledger, adapter exchange.Adapter, policy RetryPolicy, timeout time.Duration, logger *zap.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Coordinator{
		store:    st,
		recorder: recorder,
		ledger:   ledger,
		adapter:  adapter,
		policy:   policy,
		timeout:  timeout,
		logger:   logger.Named("coordinator"),
	}
}

// Execute runs the full execution lifecycle for a signal whose risk decision
// has already been made. Risk rejections close the execution log without an
// exchange attempt; accepted signals are submitted with the signal id as the
// idempotency key.
func (c *Coordinator) Execute(ctx context.Context, sig *models.Signal, decision Decision) (*Outcome, error) {
	existing, err := c.store.NonFailedExecution(sig.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		c.logger.Warn("Refusing to re-execute signal",
			zap.String("signal_id", sig.ID),
			zap.String("existing_entry", existing.ID),
		)
		return &Outcome{Entry: existing}, ErrAlreadyExecuted
	}

	entry := c.recorder.StartExecution(sig.ID)
	c.recorder.RecordRisk(entry, decision)

	if !decision.Pass {
		// Expected business outcome, not an execution error.
		entry.Finish(models.ExecutionCompleted)
		c.recorder.save(entry)
		return &Outcome{Entry: entry}, nil
	}

	c.recorder.MarkRunning(entry)
	return c.submit(ctx, sig, decision.Sizing, entry)
}

// submit drives the bounded retry loop around the adapter call.
func (c *Coordinator) submit(ctx context.Context, sig *models.Signal, sizing OrderSizing, entry *models.ExecutionLogEntry) (*Outcome, error) {
	trade := models.NewTrade(sig, sizing.Side, models.OrderTypeMarket, sizing.Quantity)
	if err := c.store.CreateTrade(trade); err != nil {
		c.recorder.Fail(entry, "internal", err.Error())
		return &Outcome{Entry: entry, ErrType: "internal", Err: err}, nil
	}

	req := exchange.OrderRequest{
		Symbol:         sig.Symbol,
		Side:           string(sizing.Side),
		Type:           string(models.OrderTypeMarket),
		Quantity:       sizing.Quantity,
		IdempotencyKey: sig.ID,
	}

	var result *exchange.OrderResult
	var lastErr error
	for {
		result, lastErr = c.placeOnce(ctx, req)
		c.auditAttempt(sig, trade, lastErr)
		if lastErr == nil {
			break
		}

		errType := exchange.ErrorType(lastErr)
		if !exchange.IsTransient(lastErr) {
			c.logger.Error("Fatal execution error, not retrying",
				zap.String("signal_id", sig.ID),
				zap.String("error_type", errType),
				zap.Error(lastErr),
			)
			return c.fail(trade, entry, errType, lastErr), nil
		}
		if c.policy.Exhausted(entry.RetryCount) {
			c.logger.Error("Retries exhausted",
				zap.String("signal_id", sig.ID),
				zap.Int("retry_count", entry.RetryCount),
				zap.Error(lastErr),
			)
			return c.fail(trade, entry, errType, lastErr), nil
		}

		c.recorder.RecordRetry(entry)
		delay := c.policy.Delay(entry.RetryCount - 1)
		// The exchange's requested delay wins over a shorter computed one.
		if ra := exchange.RetryAfter(lastErr); ra > delay {
			delay = ra
		}
		c.logger.Warn("Transient execution error, retrying",
			zap.String("signal_id", sig.ID),
			zap.Int("retry_count", entry.RetryCount),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return c.fail(trade, entry, "canceled", ctx.Err()), nil
		}
	}

	trade.ExchangeOrderID = &result.ExchangeOrderID
	if err := c.store.SaveTrade(trade); err != nil {
		c.recorder.Fail(entry, "internal", err.Error())
		return &Outcome{Entry: entry, Trade: trade, ErrType: "internal", Err: err}, nil
	}

	if result.FilledQuantity.IsZero() && unfilledTerminal(result.Status) {
		// The exchange accepted the submission but the order died without
		// executing anything; there is no economic effect to record.
		trade.Status = models.TradeCanceled
		if saveErr := c.store.SaveTrade(trade); saveErr != nil {
			c.logger.Error("Failed to mark trade canceled", zap.String("trade_id", trade.ID), zap.Error(saveErr))
		}
		err := fmt.Errorf("order %s terminal with no fills: %s", result.ExchangeOrderID, result.Status)
		c.recorder.Fail(entry, "unfilled", err.Error())
		return &Outcome{Entry: entry, Trade: trade, ErrType: "unfilled", Err: err}, nil
	}

	var pos *models.Position
	if result.FilledQuantity.IsPositive() {
		var err error
		pos, err = c.ledger.ApplyFill(trade, result.FilledQuantity, result.AvgFillPrice, result.Fee)
		if err != nil {
			// The order is on the exchange; surface the bookkeeping failure
			// without pretending the trade did not happen.
			c.logger.Error("Failed to apply fill",
				zap.String("trade_id", trade.ID),
				zap.Error(err),
			)
			c.recorder.Fail(entry, "internal", err.Error())
			return &Outcome{Entry: entry, Trade: trade, ErrType: "internal", Err: err}, nil
		}
	}

	c.recorder.Complete(entry, trade.ID)
	return &Outcome{Entry: entry, Trade: trade, Position: pos}, nil
}

// unfilledTerminal reports whether an exchange ack status is terminal with
// nothing executed.
func unfilledTerminal(status string) bool {
	switch status {
	case "CANCELED", "REJECTED", "EXPIRED":
		return true
	}
	return false
}

// placeOnce performs a single adapter call bound to the configured timeout.
func (c *Coordinator) placeOnce(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.adapter.PlaceOrder(callCtx, req)
}

// auditAttempt writes one audit entry per submission attempt, success or not.
func (c *Coordinator) auditAttempt(sig *models.Signal, trade *models.Trade, attemptErr error) {
	errMsg := ""
	if attemptErr != nil {
		errMsg = attemptErr.Error()
	}
	c.recorder.Audit(sig.UserID, "order.submit", "trade", trade.ID,
		"", fmt.Sprintf("%s %s %s@%s", trade.Side, trade.Symbol, trade.Quantity, sig.Exchange),
		attemptErr == nil, errMsg)
}

// fail marks the trade and execution entry failed.
func (c *Coordinator) fail(trade *models.Trade, entry *models.ExecutionLogEntry, errType string, err error) *Outcome {
	trade.Status = models.TradeFailed
	if saveErr := c.store.SaveTrade(trade); saveErr != nil {
		c.logger.Error("Failed to mark trade failed", zap.String("trade_id", trade.ID), zap.Error(saveErr))
	}
	c.recorder.Fail(entry, errType, err.Error())
	return &Outcome{Entry: entry, Trade: trade, ErrType: errType, Err: err}
}
