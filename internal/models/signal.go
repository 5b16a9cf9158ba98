package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SignalStatus is the lifecycle state of a Signal. Transitions are monotonic
// and a terminal status is never left.
type SignalStatus string

const (
	SignalReceived  SignalStatus = "received"
	SignalValidated SignalStatus = "validated"
	SignalQueued    SignalStatus = "queued"
	SignalExecuted  SignalStatus = "executed"
	SignalFailed    SignalStatus = "failed"
	SignalSkipped   SignalStatus = "skipped"
)

// Terminal reports whether the status permits no further transitions.
func (s SignalStatus) Terminal() bool {
	return s == SignalExecuted || s == SignalFailed || s == SignalSkipped
}

// CanTransitionTo reports whether moving to next is a legal transition.
func (s SignalStatus) CanTransitionTo(next SignalStatus) bool {
	switch s {
	case SignalReceived:
		return next == SignalValidated || next == SignalSkipped || next == SignalFailed
	case SignalValidated:
		return next == SignalQueued || next == SignalSkipped || next == SignalFailed
	case SignalQueued:
		return next == SignalExecuted || next == SignalFailed || next == SignalSkipped
	default:
		return false
	}
}

// Direction is the intent of a signal relative to a position.
type Direction string

const (
	LongEntry  Direction = "long_entry"
	LongExit   Direction = "long_exit"
	ShortEntry Direction = "short_entry"
	ShortExit  Direction = "short_exit"
)

// IsEntry reports whether the direction opens or adds to a position.
func (d Direction) IsEntry() bool {
	return d == LongEntry || d == ShortEntry
}

// IsExit reports whether the direction reduces or closes a position.
func (d Direction) IsExit() bool {
	return d == LongExit || d == ShortExit
}

// Valid reports whether d is one of the four recognized directions.
func (d Direction) Valid() bool {
	return d == LongEntry || d == LongExit || d == ShortEntry || d == ShortExit
}

// Signal is an inbound trading intent. Rows are append-only audit material
// and are never deleted; only the pipeline stage that owns a transition may
// mutate the status.
type Signal struct {
	ID                  string          `gorm:"primaryKey;size:36" json:"id"`
	UserID              string          `gorm:"size:36;index" json:"user_id"`
	StrategyID          *string         `gorm:"size:36" json:"strategy_id,omitempty"`
	Exchange            string          `gorm:"size:50;not null" json:"exchange"`
	Symbol              string          `gorm:"size:50;not null" json:"symbol"`
	Direction           Direction       `gorm:"size:20;not null" json:"direction"`
	SuggestedEntry      decimal.Decimal `gorm:"type:decimal(32,16)" json:"suggested_entry"`
	SuggestedStopLoss   decimal.NullDecimal `gorm:"type:decimal(32,16)" json:"suggested_stop_loss,omitempty"`
	SuggestedTakeProfit decimal.NullDecimal `gorm:"type:decimal(32,16)" json:"suggested_take_profit,omitempty"`
	Leverage            int             `gorm:"default:1" json:"leverage"`
	Source              string          `gorm:"size:100;not null" json:"source"`
	RawPayload          string          `gorm:"type:text" json:"raw_payload"`
	Fingerprint         string          `gorm:"size:64;index" json:"-"`
	Status              SignalStatus    `gorm:"size:20;not null;index" json:"status"`
	StatusReason        string          `gorm:"size:500" json:"status_reason,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// NewSignal builds a Signal in the received state with a fresh id.
func NewSignal(userID, exchange, symbol string, direction Direction) *Signal {
	return &Signal{
		ID:        uuid.NewString(),
		UserID:    userID,
		Exchange:  exchange,
		Symbol:    symbol,
		Direction: direction,
		Status:    SignalReceived,
	}
}

// ExecutionKey is the serialization key for the pipeline: all signals sharing
// it are processed strictly in order.
func (s *Signal) ExecutionKey() string {
	return s.UserID + "/" + s.Exchange + "/" + s.Symbol
}
