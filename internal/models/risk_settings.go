package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskSettings is the per-user risk configuration. It is owned by account
// management and read-only to the engine.
type RiskSettings struct {
	UserID                      string          `gorm:"primaryKey;size:36" json:"user_id"`
	MaxPositionSizeUsd          decimal.Decimal `gorm:"type:decimal(32,16)" json:"max_position_size_usd"`
	MaxLeverage                 int             `gorm:"default:1" json:"max_leverage"`
	MaxOpenPositions            int             `gorm:"default:5" json:"max_open_positions"`
	MaxDailyTrades              int             `gorm:"default:20" json:"max_daily_trades"`
	MaxDailyLossPercent         decimal.Decimal `gorm:"type:decimal(32,16)" json:"max_daily_loss_percent"`
	MaxPortfolioExposurePercent decimal.Decimal `gorm:"type:decimal(32,16)" json:"max_portfolio_exposure_percent"`
	DefaultRiskPerTradePercent  decimal.Decimal `gorm:"type:decimal(32,16)" json:"default_risk_per_trade_percent"`
	RequireStopLoss             bool            `gorm:"default:false" json:"require_stop_loss"`
	UpdatedAt                   time.Time       `json:"updated_at"`
}

// DefaultRiskSettings returns conservative limits applied when a user has no
// stored configuration.
func DefaultRiskSettings(userID string) *RiskSettings {
	return &RiskSettings{
		UserID:                      userID,
		MaxPositionSizeUsd:          decimal.NewFromInt(10000),
		MaxLeverage:                 3,
		MaxOpenPositions:            5,
		MaxDailyTrades:              20,
		MaxDailyLossPercent:         decimal.NewFromInt(5),
		MaxPortfolioExposurePercent: decimal.NewFromInt(50),
		DefaultRiskPerTradePercent:  decimal.NewFromInt(1),
		RequireStopLoss:             true,
	}
}
