package pipeline

import (
	"fmt"

	"github.com/shopspring/decimal"

	"signal-engine-go/internal/models"
)

// Risk rejection reasons, surfaced verbatim in risk check details.
const (
	ReasonMissingStopLoss      = "missing_stop_loss"
	ReasonMaxOpenPositions     = "max_open_positions_exceeded"
	ReasonMaxLeverage          = "max_leverage_exceeded"
	ReasonMaxPositionSize      = "max_position_size_exceeded"
	ReasonMaxDailyTrades       = "max_daily_trades_exceeded"
	ReasonMaxDailyLoss         = "max_daily_loss_exceeded"
	ReasonMaxPortfolioExposure = "max_portfolio_exposure_exceeded"
	ReasonNoOpenPosition       = "no_open_position"
	ReasonZeroRiskDistance     = "zero_risk_distance"
)

// AccountSnapshot is the consistent view of a user's open positions and
// portfolio value a risk decision is made against. It is fetched once per
// decision inside the serialized key scope and never mutated concurrently.
type AccountSnapshot struct {
	Positions         []models.Position
	PortfolioValueUsd decimal.Decimal
}

// OpenCount returns the number of open positions in the snapshot.
func (s AccountSnapshot) OpenCount() int {
	n := 0
	for _, p := range s.Positions {
		if p.Status == models.PositionOpen {
			n++
		}
	}
	return n
}

// TotalExposure returns the summed notional of all open positions.
func (s AccountSnapshot) TotalExposure() decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.Positions {
		if p.Status == models.PositionOpen {
			total = total.Add(p.Notional())
		}
	}
	return total
}

// find returns the snapshot's open position for the signal's key, or nil.
func (s AccountSnapshot) find(sig *models.Signal) *models.Position {
	for i := range s.Positions {
		p := &s.Positions[i]
		if p.Status != models.PositionOpen || p.UserID != sig.UserID ||
			p.Exchange != sig.Exchange || p.Symbol != sig.Symbol {
			continue
		}
		if (p.StrategyID == nil) != (sig.StrategyID == nil) {
			continue
		}
		if p.StrategyID != nil && *p.StrategyID != *sig.StrategyID {
			continue
		}
		return p
	}
	return nil
}

// DailyStats are the user's rolling-day trading counters.
type DailyStats struct {
	TradeCount      int
	RealizedLossUsd decimal.Decimal // positive number; gains do not offset
}

// OrderSizing is the order the coordinator should submit for an accepted
// signal.
type OrderSizing struct {
	Side        models.TradeSide
	Quantity    decimal.Decimal
	NotionalUsd decimal.Decimal
	EntryPrice  decimal.Decimal
	StopLoss    decimal.NullDecimal
	TakeProfit  decimal.NullDecimal
	ReduceOnly  bool
}

// Decision is the outcome of a risk evaluation.
type Decision struct {
	Pass    bool
	Reasons []string
	Sizing  OrderSizing
}

func reject(reasons ...string) Decision {
	return Decision{Pass: false, Reasons: reasons}
}

// RiskEngine evaluates validated signals against per-user limits. Evaluate
// is pure computation over already-fetched state; it performs no I/O.
type RiskEngine struct{}

// NewRiskEngine creates a risk engine.
func NewRiskEngine() *RiskEngine {
	return &RiskEngine{}
}

// Evaluate applies the risk rules in order, short-circuiting on the first
// hard failure, and computes order sizing when all rules pass.
func (r *RiskEngine) Evaluate(sig *models.Signal, settings *models.RiskSettings, snapshot AccountSnapshot, daily DailyStats) Decision {
	if sig.Direction.IsExit() {
		return r.evaluateExit(sig, settings, snapshot, daily)
	}

	// 1. Stop-loss requirement.
	if settings.RequireStopLoss && !sig.SuggestedStopLoss.Valid {
		return reject(ReasonMissingStopLoss)
	}

	// 2. Open-position head count.
	if snapshot.OpenCount() >= settings.MaxOpenPositions {
		return reject(ReasonMaxOpenPositions)
	}

	// 3. Leverage cap.
	if sig.Leverage > settings.MaxLeverage {
		return reject(fmt.Sprintf("%s: %d > %d", ReasonMaxLeverage, sig.Leverage, settings.MaxLeverage))
	}

	sizing, reason := r.size(sig, settings, snapshot)
	if reason != "" {
		return reject(reason)
	}

	// 4. Projected position notional, including any existing position on
	// the same key being added to.
	projected := sizing.NotionalUsd
	if existing := snapshot.find(sig); existing != nil {
		projected = projected.Add(existing.Notional())
	}
	if projected.GreaterThan(settings.MaxPositionSizeUsd) {
		return reject(ReasonMaxPositionSize)
	}

	// 5. Daily trade budget.
	if daily.TradeCount >= settings.MaxDailyTrades {
		return reject(ReasonMaxDailyTrades)
	}

	// 6. Daily realized-loss budget.
	if snapshot.PortfolioValueUsd.IsPositive() {
		lossPct := daily.RealizedLossUsd.
			Div(snapshot.PortfolioValueUsd).
			Mul(decimal.NewFromInt(100))
		if lossPct.GreaterThanOrEqual(settings.MaxDailyLossPercent) {
			return reject(ReasonMaxDailyLoss)
		}
	}

	// 7. Projected portfolio exposure.
	if snapshot.PortfolioValueUsd.IsPositive() {
		exposure := snapshot.TotalExposure().Add(sizing.NotionalUsd)
		limit := snapshot.PortfolioValueUsd.
			Mul(settings.MaxPortfolioExposurePercent).
			Div(decimal.NewFromInt(100))
		if exposure.GreaterThan(limit) {
			return reject(ReasonMaxPortfolioExposure)
		}
	}

	return Decision{Pass: true, Sizing: sizing}
}

// evaluateExit sizes an exit signal to close the existing open position.
// Exits bypass the exposure-adding limits, but every exit still produces a
// trade and therefore spends the daily trade budget.
func (r *RiskEngine) evaluateExit(sig *models.Signal, settings *models.RiskSettings, snapshot AccountSnapshot, daily DailyStats) Decision {
	existing := snapshot.find(sig)
	if existing == nil {
		return reject(ReasonNoOpenPosition)
	}
	if daily.TradeCount >= settings.MaxDailyTrades {
		return reject(ReasonMaxDailyTrades)
	}
	side := models.Sell
	if existing.Side == models.SideShort {
		side = models.Buy
	}
	return Decision{
		Pass: true,
		Sizing: OrderSizing{
			Side:        side,
			Quantity:    existing.Quantity,
			NotionalUsd: existing.Notional(),
			EntryPrice:  sig.SuggestedEntry,
			ReduceOnly:  true,
		},
	}
}

// size computes risk-per-trade quantity: the risk budget divided by the
// distance to the stop, capped at the maximum position size.
func (r *RiskEngine) size(sig *models.Signal, settings *models.RiskSettings, snapshot AccountSnapshot) (OrderSizing, string) {
	entry := sig.SuggestedEntry
	riskBudget := snapshot.PortfolioValueUsd.
		Mul(settings.DefaultRiskPerTradePercent).
		Div(decimal.NewFromInt(100))

	var quantity decimal.Decimal
	if sig.SuggestedStopLoss.Valid {
		distance := entry.Sub(sig.SuggestedStopLoss.Decimal).Abs()
		if distance.IsZero() {
			return OrderSizing{}, ReasonZeroRiskDistance
		}
		quantity = riskBudget.Div(distance)
	} else {
		// No stop distance to size against; spend the risk budget as
		// notional directly.
		quantity = riskBudget.Div(entry)
	}

	notional := quantity.Mul(entry)
	if notional.GreaterThan(settings.MaxPositionSizeUsd) {
		quantity = settings.MaxPositionSizeUsd.Div(entry)
		notional = settings.MaxPositionSizeUsd
	}

	side := models.Buy
	if sig.Direction == models.ShortEntry {
		side = models.Sell
	}

	return OrderSizing{
		Side:        side,
		Quantity:    quantity,
		NotionalUsd: notional,
		EntryPrice:  entry,
		StopLoss:    sig.SuggestedStopLoss,
		TakeProfit:  sig.SuggestedTakeProfit,
	}, ""
}
