package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeStatus is the lifecycle state of an order submitted to an exchange.
type TradeStatus string

const (
	TradePending         TradeStatus = "pending"
	TradePartiallyFilled TradeStatus = "partially_filled"
	TradeFilled          TradeStatus = "filled"
	TradeCanceled        TradeStatus = "canceled"
	TradeFailed          TradeStatus = "failed"
)

// Terminal reports whether the trade can receive no further fills.
func (s TradeStatus) Terminal() bool {
	return s == TradeFilled || s == TradeCanceled || s == TradeFailed
}

// TradeSide is the order side sent to the exchange.
type TradeSide string

const (
	Buy  TradeSide = "buy"
	Sell TradeSide = "sell"
)

// OrderType is the exchange order type.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Trade is one order submitted to an exchange on behalf of a signal.
// Invariants: FilledQuantity ≤ Quantity, and status is filled exactly when
// FilledQuantity equals Quantity.
type Trade struct {
	ID              string              `gorm:"primaryKey;size:36" json:"id"`
	UserID          string              `gorm:"size:36;index" json:"user_id"`
	SignalID        string              `gorm:"size:36;index" json:"signal_id"`
	PositionID      *string             `gorm:"size:36;index" json:"position_id,omitempty"`
	Exchange        string              `gorm:"size:50;not null" json:"exchange"`
	Symbol          string              `gorm:"size:50;not null" json:"symbol"`
	Side            TradeSide           `gorm:"size:10;not null" json:"side"`
	OrderType       OrderType           `gorm:"size:10;not null" json:"order_type"`
	Quantity        decimal.Decimal     `gorm:"type:decimal(32,16)" json:"quantity"`
	Price           decimal.NullDecimal `gorm:"type:decimal(32,16)" json:"price,omitempty"`
	FilledQuantity  decimal.Decimal     `gorm:"type:decimal(32,16)" json:"filled_quantity"`
	AvgFillPrice    decimal.NullDecimal `gorm:"type:decimal(32,16)" json:"avg_fill_price,omitempty"`
	Fee             decimal.NullDecimal `gorm:"type:decimal(32,16)" json:"fee,omitempty"`
	RealizedPnl     decimal.NullDecimal `gorm:"type:decimal(32,16)" json:"realized_pnl,omitempty"`
	Status          TradeStatus         `gorm:"size:20;not null;index" json:"status"`
	ExchangeOrderID *string             `gorm:"size:100" json:"exchange_order_id,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// NewTrade builds a pending trade for a signal.
func NewTrade(sig *Signal, side TradeSide, orderType OrderType, quantity decimal.Decimal) *Trade {
	return &Trade{
		ID:        uuid.NewString(),
		UserID:    sig.UserID,
		SignalID:  sig.ID,
		Exchange:  sig.Exchange,
		Symbol:    sig.Symbol,
		Side:      side,
		OrderType: orderType,
		Quantity:  quantity,
		Status:    TradePending,
	}
}

// RecordFill accumulates a fill into the trade, maintaining the weighted
// average fill price and promoting the status when fully filled.
func (t *Trade) RecordFill(quantity, price decimal.Decimal) {
	prevNotional := decimal.Zero
	if t.AvgFillPrice.Valid {
		prevNotional = t.AvgFillPrice.Decimal.Mul(t.FilledQuantity)
	}
	t.FilledQuantity = t.FilledQuantity.Add(quantity)
	if t.FilledQuantity.IsPositive() {
		avg := prevNotional.Add(price.Mul(quantity)).Div(t.FilledQuantity)
		t.AvgFillPrice = decimal.NewNullDecimal(avg)
	}
	if t.FilledQuantity.GreaterThanOrEqual(t.Quantity) {
		t.Status = TradeFilled
	} else {
		t.Status = TradePartiallyFilled
	}
}
