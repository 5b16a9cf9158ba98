package pipeline

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signal-engine-go/internal/models"
	"signal-engine-go/internal/store"
)

// Ledger applies order fills to position and trade state. All mutation
// happens inside the coordinator's serialized key scope; the ledger takes no
// lock of its own.
type Ledger struct {
	store        *store.Store
	allowHedging bool
	logger       *zap.Logger
}

// NewLedger creates a position and trade ledger. With hedging disabled, an
// opposite-direction fill reduces the existing position; with it enabled,
// an opposite-direction entry opens a second position on the same key.
func NewLedger(st *store.Store, allowHedging bool, logger *zap.Logger) *Ledger {
	return &Ledger{store: st, allowHedging: allowHedging, logger: logger.Named("ledger")}
}

// ApplyFill applies one fill to the trade and its position: opening a new
// position, weighted-averaging into a same-direction one, or reducing an
// opposite-direction one with proportional realized P&L. Returns the updated
// position.
func (l *Ledger) ApplyFill(trade *models.Trade, fillQuantity, fillPrice, fee decimal.Decimal) (*models.Position, error) {
	if fillQuantity.IsNegative() || fillQuantity.IsZero() {
		return nil, fmt.Errorf("fill quantity must be positive, got %s", fillQuantity)
	}
	remaining := trade.Quantity.Sub(trade.FilledQuantity)
	if fillQuantity.GreaterThan(remaining) {
		return nil, fmt.Errorf("fill of %s exceeds remaining trade quantity %s", fillQuantity, remaining)
	}

	sig, err := l.store.GetSignal(trade.SignalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load signal for trade %s: %w", trade.ID, err)
	}

	pos, err := l.store.FindOpenPosition(trade.UserID, trade.Exchange, trade.Symbol, sig.StrategyID)
	if err != nil {
		return nil, err
	}

	fillSide := models.SideLong
	if trade.Side == models.Sell {
		fillSide = models.SideShort
	}

	switch {
	case pos == nil:
		pos = models.NewPosition(trade.UserID, trade.Exchange, trade.Symbol, fillSide, fillPrice, fillQuantity)
		pos.StrategyID = sig.StrategyID
		pos.Leverage = sig.Leverage
		if sig.SuggestedStopLoss.Valid {
			pos.StopLoss = sig.SuggestedStopLoss
		}
		if sig.SuggestedTakeProfit.Valid {
			pos.TakeProfit = sig.SuggestedTakeProfit
		}

	case pos.Side == fillSide:
		// Same-direction add: weighted-average the entry price.
		newQty := pos.Quantity.Add(fillQuantity)
		pos.EntryPrice = pos.EntryPrice.Mul(pos.Quantity).
			Add(fillPrice.Mul(fillQuantity)).
			Div(newQty)
		pos.Quantity = newQty

	case l.allowHedging && sig.Direction.IsEntry():
		// Hedging policy: an opposite-direction entry opens its own
		// position instead of reducing the existing one.
		pos = models.NewPosition(trade.UserID, trade.Exchange, trade.Symbol, fillSide, fillPrice, fillQuantity)
		pos.StrategyID = sig.StrategyID
		pos.Leverage = sig.Leverage

	default:
		if err := l.reduce(trade, pos, fillQuantity, fillPrice, fee); err != nil {
			return nil, err
		}
	}

	trade.RecordFill(fillQuantity, fillPrice)
	trade.PositionID = &pos.ID
	if fee.IsPositive() {
		total := fee
		if trade.Fee.Valid {
			total = total.Add(trade.Fee.Decimal)
		}
		trade.Fee = decimal.NewNullDecimal(total)
	}

	if err := l.store.SavePosition(pos); err != nil {
		return nil, err
	}
	if err := l.store.SaveTrade(trade); err != nil {
		return nil, err
	}

	l.logger.Debug("Fill applied",
		zap.String("trade_id", trade.ID),
		zap.String("position_id", pos.ID),
		zap.String("fill_quantity", fillQuantity.String()),
		zap.String("fill_price", fillPrice.String()),
		zap.String("position_quantity", pos.Quantity.String()),
	)
	return pos, nil
}

// reduce shrinks the position by a reverse-direction fill, realizing
// proportional P&L onto the trade, and closes the position at zero quantity.
func (l *Ledger) reduce(trade *models.Trade, pos *models.Position, fillQuantity, fillPrice, fee decimal.Decimal) error {
	reduceQty := fillQuantity
	if reduceQty.GreaterThan(pos.Quantity) {
		return fmt.Errorf("fill of %s exceeds open position quantity %s", fillQuantity, pos.Quantity)
	}

	// Long positions realize price-above-entry gains on sells, shorts the
	// inverse on buys.
	pnl := fillPrice.Sub(pos.EntryPrice).Mul(reduceQty)
	if pos.Side == models.SideShort {
		pnl = pnl.Neg()
	}
	pnl = pnl.Sub(fee)

	realized := pnl
	if trade.RealizedPnl.Valid {
		realized = realized.Add(trade.RealizedPnl.Decimal)
	}
	trade.RealizedPnl = decimal.NewNullDecimal(realized)

	pos.Quantity = pos.Quantity.Sub(reduceQty)
	if pos.Quantity.IsZero() {
		total, err := l.realizedTotal(pos.ID)
		if err != nil {
			return err
		}
		pos.Status = models.PositionClosed
		pos.RealizedPnl = decimal.NewNullDecimal(total.Add(pnl))
		pos.UnrealizedPnl = decimal.Zero
		now := time.Now().UTC()
		pos.ClosedAt = &now
	}
	return nil
}

// realizedTotal sums P&L already realized by earlier reducing trades against
// the position.
func (l *Ledger) realizedTotal(positionID string) (decimal.Decimal, error) {
	var trades []models.Trade
	err := l.store.DB().Where("position_id = ?", positionID).Find(&trades).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load trades for position %s: %w", positionID, err)
	}
	total := decimal.Zero
	for _, t := range trades {
		if t.RealizedPnl.Valid {
			total = total.Add(t.RealizedPnl.Decimal)
		}
	}
	return total, nil
}

// MarkToMarket recomputes the position's unrealized P&L from a supplied mark
// price. The mark price is owned by the market data capability, not the
// ledger. The write is a status-guarded column update, never a full-row
// save: the caller may hold a snapshot of a position another execution has
// already closed, and that snapshot must not reopen it.
func (l *Ledger) MarkToMarket(pos *models.Position, markPrice decimal.Decimal) error {
	if pos.Status != models.PositionOpen {
		return nil
	}
	pnl := markPrice.Sub(pos.EntryPrice).Mul(pos.Quantity)
	if pos.Side == models.SideShort {
		pnl = pnl.Neg()
	}
	pos.UnrealizedPnl = pnl
	return l.store.UpdateUnrealizedPnl(pos.ID, pnl)
}
