package pipeline

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"signal-engine-go/internal/models"
)

func entrySignal(entry, stop string) *models.Signal {
	sig := models.NewSignal("user-1", "binance", "BTCUSDT", models.LongEntry)
	sig.Source = "webhook"
	sig.SuggestedEntry = decimal.RequireFromString(entry)
	if stop != "" {
		sig.SuggestedStopLoss = decimal.NewNullDecimal(decimal.RequireFromString(stop))
	}
	return sig
}

func settingsFixture() *models.RiskSettings {
	s := models.DefaultRiskSettings("user-1")
	s.MaxPositionSizeUsd = decimal.NewFromInt(50000)
	s.MaxLeverage = 5
	s.MaxOpenPositions = 5
	s.MaxDailyTrades = 20
	s.MaxDailyLossPercent = decimal.NewFromInt(5)
	s.MaxPortfolioExposurePercent = decimal.NewFromInt(100)
	s.DefaultRiskPerTradePercent = decimal.NewFromInt(2)
	s.RequireStopLoss = true
	return s
}

func snapshotFixture(openPositions int) AccountSnapshot {
	snap := AccountSnapshot{PortfolioValueUsd: decimal.NewFromInt(50000)}
	for i := 0; i < openPositions; i++ {
		pos := models.NewPosition("user-1", "binance", "ETHUSDT",
			models.SideLong, decimal.NewFromInt(2000), decimal.NewFromInt(1))
		snap.Positions = append(snap.Positions, *pos)
	}
	return snap
}

func TestEvaluate_MissingStopLoss(t *testing.T) {
	engine := NewRiskEngine()
	sig := entrySignal("100", "")

	decision := engine.Evaluate(sig, settingsFixture(), snapshotFixture(0), DailyStats{})

	assert.False(t, decision.Pass)
	assert.Equal(t, []string{ReasonMissingStopLoss}, decision.Reasons)
}

func TestEvaluate_MaxOpenPositions(t *testing.T) {
	engine := NewRiskEngine()
	sig := entrySignal("100", "95")

	decision := engine.Evaluate(sig, settingsFixture(), snapshotFixture(5), DailyStats{})

	assert.False(t, decision.Pass)
	assert.Equal(t, []string{ReasonMaxOpenPositions}, decision.Reasons)
}

func TestEvaluate_ExitBypassesOpenPositionLimit(t *testing.T) {
	engine := NewRiskEngine()
	sig := models.NewSignal("user-1", "binance", "ETHUSDT", models.LongExit)
	sig.SuggestedEntry = decimal.NewFromInt(2100)

	snap := snapshotFixture(5)
	decision := engine.Evaluate(sig, settingsFixture(), snap, DailyStats{})

	assert.True(t, decision.Pass)
	assert.Equal(t, models.Sell, decision.Sizing.Side)
	assert.True(t, decision.Sizing.Quantity.Equal(decimal.NewFromInt(1)),
		"exit should be sized to the full open quantity, got %s", decision.Sizing.Quantity)
	assert.True(t, decision.Sizing.ReduceOnly)
}

func TestEvaluate_ExitSpendsDailyTradeBudget(t *testing.T) {
	engine := NewRiskEngine()
	sig := models.NewSignal("user-1", "binance", "ETHUSDT", models.LongExit)

	decision := engine.Evaluate(sig, settingsFixture(), snapshotFixture(1), DailyStats{TradeCount: 20})

	assert.False(t, decision.Pass)
	assert.Equal(t, []string{ReasonMaxDailyTrades}, decision.Reasons)
}

func TestEvaluate_ExitWithoutPosition(t *testing.T) {
	engine := NewRiskEngine()
	sig := models.NewSignal("user-1", "binance", "BTCUSDT", models.LongExit)

	decision := engine.Evaluate(sig, settingsFixture(), snapshotFixture(0), DailyStats{})

	assert.False(t, decision.Pass)
	assert.Equal(t, []string{ReasonNoOpenPosition}, decision.Reasons)
}

func TestEvaluate_LeverageCap(t *testing.T) {
	engine := NewRiskEngine()
	sig := entrySignal("100", "95")
	sig.Leverage = 10

	decision := engine.Evaluate(sig, settingsFixture(), snapshotFixture(0), DailyStats{})

	assert.False(t, decision.Pass)
	assert.Contains(t, decision.Reasons[0], ReasonMaxLeverage)
}

func TestEvaluate_RiskPerTradeSizing(t *testing.T) {
	// Risk budget = 2% of $50,000 = $1,000; stop distance = 5.
	engine := NewRiskEngine()
	sig := entrySignal("100", "95")

	decision := engine.Evaluate(sig, settingsFixture(), snapshotFixture(0), DailyStats{})

	assert.True(t, decision.Pass)
	assert.Empty(t, decision.Reasons)
	assert.True(t, decision.Sizing.Quantity.Equal(decimal.NewFromInt(200)),
		"expected 1000/5 = 200 units, got %s", decision.Sizing.Quantity)
	assert.True(t, decision.Sizing.NotionalUsd.Equal(decimal.NewFromInt(20000)))
	assert.Equal(t, models.Buy, decision.Sizing.Side)
}

func TestEvaluate_SizingCappedByMaxPositionSize(t *testing.T) {
	engine := NewRiskEngine()
	settings := settingsFixture()
	settings.MaxPositionSizeUsd = decimal.NewFromInt(10000)
	sig := entrySignal("100", "95")

	decision := engine.Evaluate(sig, settings, snapshotFixture(0), DailyStats{})

	assert.True(t, decision.Pass)
	assert.True(t, decision.Sizing.NotionalUsd.Equal(decimal.NewFromInt(10000)))
	assert.True(t, decision.Sizing.Quantity.Equal(decimal.NewFromInt(100)))
}

func TestEvaluate_ZeroRiskDistance(t *testing.T) {
	engine := NewRiskEngine()
	sig := entrySignal("100", "100")

	decision := engine.Evaluate(sig, settingsFixture(), snapshotFixture(0), DailyStats{})

	assert.False(t, decision.Pass)
	assert.Equal(t, []string{ReasonZeroRiskDistance}, decision.Reasons)
}

func TestEvaluate_ProjectedPositionSizeWithExistingPosition(t *testing.T) {
	// An add to an existing position on the same key must respect the
	// combined size limit even though the new order alone fits.
	engine := NewRiskEngine()
	settings := settingsFixture()
	settings.MaxPositionSizeUsd = decimal.NewFromInt(25000)

	snap := snapshotFixture(0)
	existing := models.NewPosition("user-1", "binance", "BTCUSDT",
		models.SideLong, decimal.NewFromInt(100), decimal.NewFromInt(100))
	snap.Positions = append(snap.Positions, *existing)

	sig := entrySignal("100", "95")
	decision := engine.Evaluate(sig, settings, snap, DailyStats{})

	assert.False(t, decision.Pass)
	assert.Equal(t, []string{ReasonMaxPositionSize}, decision.Reasons)
}

func TestEvaluate_DailyTradeBudget(t *testing.T) {
	engine := NewRiskEngine()
	sig := entrySignal("100", "95")

	decision := engine.Evaluate(sig, settingsFixture(), snapshotFixture(0), DailyStats{TradeCount: 20})

	assert.False(t, decision.Pass)
	assert.Equal(t, []string{ReasonMaxDailyTrades}, decision.Reasons)
}

func TestEvaluate_DailyLossBudget(t *testing.T) {
	engine := NewRiskEngine()
	sig := entrySignal("100", "95")

	// 6% of the $50,000 portfolio already lost today, limit is 5%.
	daily := DailyStats{RealizedLossUsd: decimal.NewFromInt(3000)}
	decision := engine.Evaluate(sig, settingsFixture(), snapshotFixture(0), daily)

	assert.False(t, decision.Pass)
	assert.Equal(t, []string{ReasonMaxDailyLoss}, decision.Reasons)
}

func TestEvaluate_PortfolioExposure(t *testing.T) {
	engine := NewRiskEngine()
	settings := settingsFixture()
	settings.MaxPortfolioExposurePercent = decimal.NewFromInt(40)

	// Existing exposure $2,000 + new $20,000 > 40% of $50,000.
	decision := engine.Evaluate(entrySignal("100", "95"), settings, snapshotFixture(1), DailyStats{})

	assert.False(t, decision.Pass)
	assert.Equal(t, []string{ReasonMaxPortfolioExposure}, decision.Reasons)
}

func TestEvaluate_ShortEntrySide(t *testing.T) {
	engine := NewRiskEngine()
	sig := models.NewSignal("user-1", "binance", "BTCUSDT", models.ShortEntry)
	sig.SuggestedEntry = decimal.NewFromInt(100)
	sig.SuggestedStopLoss = decimal.NewNullDecimal(decimal.NewFromInt(105))

	decision := engine.Evaluate(sig, settingsFixture(), snapshotFixture(0), DailyStats{})

	assert.True(t, decision.Pass)
	assert.Equal(t, models.Sell, decision.Sizing.Side)
}
