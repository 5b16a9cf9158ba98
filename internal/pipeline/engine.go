package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signal-engine-go/internal/exchange"
	"signal-engine-go/internal/models"
	"signal-engine-go/internal/store"
)

// PortfolioValuer supplies the USD value of a user's portfolio. The
// implementation is an external capability (account or balance service).
type PortfolioValuer interface {
	PortfolioValueUsd(ctx context.Context, userID string) (decimal.Decimal, error)
}

// FixedPortfolioValuer values every portfolio at a constant amount. It
// stands in where no balance service is wired.
type FixedPortfolioValuer struct {
	Value decimal.Decimal
}

// PortfolioValueUsd returns the fixed value.
func (f FixedPortfolioValuer) PortfolioValueUsd(context.Context, string) (decimal.Decimal, error) {
	return f.Value, nil
}

// Engine is the signal execution pipeline: validation, risk evaluation,
// serialized execution, and ledger updates, with every outcome recorded.
type Engine struct {
	logger      *zap.Logger
	store       *store.Store
	validator   *Validator
	risk        *RiskEngine
	coordinator *Coordinator
	ledger      *Ledger
	recorder    *Recorder
	sequencer   *Sequencer
	sink        EventSink
	portfolio   PortfolioValuer
	adapter     exchange.Adapter
	markEvery   time.Duration
}

// NewEngine wires the pipeline components together.
func NewEngine(
	logger *zap.Logger,
	st *store.Store,
	validator *Validator,
	risk *RiskEngine,
	coordinator *Coordinator,
	ledger *Ledger,
	recorder *Recorder,
	sequencer *Sequencer,
	sink EventSink,
	portfolio PortfolioValuer,
	adapter exchange.Adapter,
) *Engine {
	return &Engine{
		logger:      logger.Named("engine"),
		store:       st,
		validator:   validator,
		risk:        risk,
		coordinator: coordinator,
		ledger:      ledger,
		recorder:    recorder,
		sequencer:   sequencer,
		sink:        sink,
		portfolio:   portfolio,
		adapter:     adapter,
		markEvery:   30 * time.Second,
	}
}

// Submit ingests a raw signal. Validation is synchronous; execution happens
// asynchronously inside the signal's serialized key scope. The returned
// signal carries the ingestion outcome status.
func (e *Engine) Submit(raw RawSignal) (*models.Signal, error) {
	sig, err := e.validator.Validate(raw)
	if err != nil {
		return nil, err
	}
	if sig.Status != models.SignalValidated {
		e.emitTerminal(sig)
		return sig, nil
	}

	if err := e.store.TransitionSignal(sig, models.SignalQueued, ""); err != nil {
		return nil, err
	}

	// The pipeline works on its own copy: the caller reads the returned
	// struct after Submit, and the sequenced goroutine must not write it.
	queued := *sig
	if err := e.sequencer.Submit(sig.ExecutionKey(), func() {
		e.process(context.Background(), &queued)
	}); err != nil {
		// Shutdown raced the submission; the signal must not stay queued.
		if terr := e.store.TransitionSignal(sig, models.SignalFailed, "engine_shutting_down"); terr != nil {
			e.logger.Error("Failed to fail signal during shutdown", zap.String("signal_id", sig.ID), zap.Error(terr))
		}
		return sig, err
	}
	return sig, nil
}

// process runs the risk-snapshot-then-execute sequence for one signal. It is
// always invoked inside the sequencer scope for the signal's key, so the
// snapshot cannot go stale between decision and submission.
func (e *Engine) process(ctx context.Context, sig *models.Signal) {
	l := e.logger.With(zap.String("signal_id", sig.ID), zap.String("key", sig.ExecutionKey()))

	settings, snapshot, daily, err := e.gather(ctx, sig)
	if err != nil {
		l.Error("Failed to gather risk inputs", zap.Error(err))
		e.terminal(sig, models.SignalFailed, "internal: "+err.Error())
		return
	}

	decision := e.risk.Evaluate(sig, settings, snapshot, daily)

	outcome, err := e.coordinator.Execute(ctx, sig, decision)
	if errors.Is(err, ErrAlreadyExecuted) {
		if !sig.Status.Terminal() {
			e.terminal(sig, models.SignalSkipped, "duplicate_execution")
		}
		return
	}
	if err != nil {
		l.Error("Coordinator error", zap.Error(err))
		e.terminal(sig, models.SignalFailed, "internal: "+err.Error())
		return
	}

	switch {
	case !decision.Pass:
		e.terminal(sig, models.SignalSkipped, strings.Join(decision.Reasons, "; "))

	case outcome.Err != nil:
		e.terminal(sig, models.SignalFailed, outcome.ErrType+": "+outcome.Err.Error())

	default:
		e.terminal(sig, models.SignalExecuted, "")
		if outcome.Trade != nil && outcome.Trade.Status.Terminal() {
			e.sink.Emit(Event{
				Type:         "trade." + string(outcome.Trade.Status),
				UserID:       sig.UserID,
				ResourceType: "trade",
				ResourceID:   outcome.Trade.ID,
			})
		}
		if outcome.Position != nil && outcome.Position.Status == models.PositionClosed {
			e.recorder.Audit(sig.UserID, "position.close", "position", outcome.Position.ID,
				"open", "closed", true, "")
			e.sink.Emit(Event{
				Type:         "position.closed",
				UserID:       sig.UserID,
				ResourceType: "position",
				ResourceID:   outcome.Position.ID,
				Detail:       "realized_pnl=" + outcome.Position.RealizedPnl.Decimal.String(),
			})
		}
	}
}

// gather fetches the risk inputs for a decision: settings, the position
// snapshot, and the rolling-day counters.
func (e *Engine) gather(ctx context.Context, sig *models.Signal) (*models.RiskSettings, AccountSnapshot, DailyStats, error) {
	settings, err := e.store.RiskSettingsFor(sig.UserID)
	if err != nil {
		return nil, AccountSnapshot{}, DailyStats{}, err
	}
	positions, err := e.store.OpenPositions(sig.UserID)
	if err != nil {
		return nil, AccountSnapshot{}, DailyStats{}, err
	}
	value, err := e.portfolio.PortfolioValueUsd(ctx, sig.UserID)
	if err != nil {
		return nil, AccountSnapshot{}, DailyStats{}, err
	}

	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	count, err := e.store.TradeCountSince(sig.UserID, dayStart)
	if err != nil {
		return nil, AccountSnapshot{}, DailyStats{}, err
	}
	loss, err := e.store.RealizedLossSince(sig.UserID, dayStart)
	if err != nil {
		return nil, AccountSnapshot{}, DailyStats{}, err
	}

	snapshot := AccountSnapshot{Positions: positions, PortfolioValueUsd: value}
	daily := DailyStats{TradeCount: count, RealizedLossUsd: loss}
	return settings, snapshot, daily, nil
}

// terminal moves a signal to a terminal status, audits it, and emits the
// notification event.
func (e *Engine) terminal(sig *models.Signal, status models.SignalStatus, reason string) {
	if err := e.store.TransitionSignal(sig, status, reason); err != nil {
		e.logger.Error("Failed to transition signal",
			zap.String("signal_id", sig.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return
	}
	e.recorder.Audit(sig.UserID, "signal."+string(status), "signal", sig.ID, "", reason, true, "")
	e.emitTerminal(sig)
}

func (e *Engine) emitTerminal(sig *models.Signal) {
	if !sig.Status.Terminal() {
		return
	}
	e.sink.Emit(Event{
		Type:         "signal." + string(sig.Status),
		UserID:       sig.UserID,
		ResourceType: "signal",
		ResourceID:   sig.ID,
		Detail:       sig.StatusReason,
	})
}

// Run blocks until the context is canceled, refreshing unrealized P&L on
// open positions in the background, then drains in-flight executions.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("Signal execution engine running")
	ticker := time.NewTicker(e.markEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping engine, draining in-flight executions...")
			e.sequencer.Close()
			return
		case <-ticker.C:
			if err := e.refreshMarks(ctx); err != nil {
				e.logger.Error("Mark-to-market refresh failed", zap.Error(err))
			}
		}
	}
}

// refreshMarks recomputes unrealized P&L for every open position from the
// current mark price.
func (e *Engine) refreshMarks(ctx context.Context) error {
	var positions []models.Position
	err := e.store.DB().Where("status = ?", models.PositionOpen).Find(&positions).Error
	if err != nil {
		return err
	}
	for i := range positions {
		pos := &positions[i]
		price, err := e.adapter.GetMarkPrice(ctx, pos.Symbol)
		if err != nil {
			e.logger.Warn("Could not fetch mark price",
				zap.String("symbol", pos.Symbol),
				zap.Error(err),
			)
			continue
		}
		if err := e.ledger.MarkToMarket(pos, price); err != nil {
			e.logger.Error("Failed to mark position to market",
				zap.String("position_id", pos.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// SignalStatus returns the signal's current status and human-readable
// reason for the query surface.
func (e *Engine) SignalStatus(id string) (*models.Signal, error) {
	return e.store.GetSignal(id)
}
