package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PositionStatus is the lifecycle state of a Position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// PositionSide is the market direction a position is exposed to.
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// Position is the aggregate exposure for one (user, exchange, symbol,
// strategy) key. At most one open position exists per key unless hedging is
// explicitly enabled.
type Position struct {
	ID               string              `gorm:"primaryKey;size:36" json:"id"`
	UserID           string              `gorm:"size:36;index:idx_pos_key" json:"user_id"`
	Exchange         string              `gorm:"size:50;index:idx_pos_key" json:"exchange"`
	Symbol           string              `gorm:"size:50;index:idx_pos_key" json:"symbol"`
	StrategyID       *string             `gorm:"size:36" json:"strategy_id,omitempty"`
	Side             PositionSide        `gorm:"size:10;not null" json:"side"`
	Status           PositionStatus      `gorm:"size:10;not null;index" json:"status"`
	EntryPrice       decimal.Decimal     `gorm:"type:decimal(32,16)" json:"entry_price"`
	Quantity         decimal.Decimal     `gorm:"type:decimal(32,16)" json:"quantity"`
	Leverage         int                 `gorm:"default:1" json:"leverage"`
	StopLoss         decimal.NullDecimal `gorm:"type:decimal(32,16)" json:"stop_loss,omitempty"`
	TakeProfit       decimal.NullDecimal `gorm:"type:decimal(32,16)" json:"take_profit,omitempty"`
	UnrealizedPnl    decimal.Decimal     `gorm:"type:decimal(32,16)" json:"unrealized_pnl"`
	RealizedPnl      decimal.NullDecimal `gorm:"type:decimal(32,16)" json:"realized_pnl,omitempty"`
	Margin           decimal.NullDecimal `gorm:"type:decimal(32,16)" json:"margin,omitempty"`
	LiquidationPrice decimal.NullDecimal `gorm:"type:decimal(32,16)" json:"liquidation_price,omitempty"`
	OpenedAt         time.Time           `json:"opened_at"`
	ClosedAt         *time.Time          `json:"closed_at,omitempty"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// NewPosition opens a position for the given key.
func NewPosition(userID, exchange, symbol string, side PositionSide, entryPrice, quantity decimal.Decimal) *Position {
	return &Position{
		ID:         uuid.NewString(),
		UserID:     userID,
		Exchange:   exchange,
		Symbol:     symbol,
		Side:       side,
		Status:     PositionOpen,
		EntryPrice: entryPrice,
		Quantity:   quantity,
		Leverage:   1,
		OpenedAt:   time.Now().UTC(),
	}
}

// Notional returns quantity × entry price, the USD-equivalent size.
func (p *Position) Notional() decimal.Decimal {
	return p.Quantity.Mul(p.EntryPrice)
}
