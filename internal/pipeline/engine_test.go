package pipeline

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"signal-engine-go/internal/exchange"
	"signal-engine-go/internal/models"
	"signal-engine-go/internal/store"
)

func setupEngine(t *testing.T, adapter *MockAdapter) (*Engine, *Sequencer, *store.Store) {
	t.Helper()
	st := setupStore(t)
	log := zap.NewNop()
	recorder := NewRecorder(st, log)
	ledger := NewLedger(st, false, log)
	validator := NewValidator(st, []string{"binance"}, time.Minute, log)
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	coordinator := NewCoordinator(st, recorder, ledger, adapter, policy, time.Second, log)
	sequencer := NewSequencer(4, log)
	engine := NewEngine(log, st, validator, NewRiskEngine(), coordinator, ledger, recorder,
		sequencer, NewLogSink(log), FixedPortfolioValuer{Value: decimal.NewFromInt(50000)}, adapter)
	return engine, sequencer, st
}

// With a 50000 portfolio, 1% risk and a 100->95 stop distance, the engine
// sizes the default fixture entry at 100 units.
func TestEngine_SubmitExecutesSignal(t *testing.T) {
	adapter := new(MockAdapter)
	adapter.On("PlaceOrder", mock.Anything, mock.Anything).Return(filledResult("100"), nil).Once()
	engine, seq, st := setupEngine(t, adapter)

	sig, err := engine.Submit(rawFixture())
	assert.NoError(t, err)
	assert.Equal(t, models.SignalQueued, sig.Status)

	seq.Close()

	final, err := st.GetSignal(sig.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.SignalExecuted, final.Status)

	positions, err := st.OpenPositions("user-1")
	assert.NoError(t, err)
	assert.Len(t, positions, 1)
	adapter.AssertExpectations(t)
}

func TestEngine_ReturnedSignalNotMutatedByPipeline(t *testing.T) {
	adapter := new(MockAdapter)
	adapter.On("PlaceOrder", mock.Anything, mock.Anything).Return(filledResult("100"), nil).Once()
	engine, seq, st := setupEngine(t, adapter)

	sig, err := engine.Submit(rawFixture())
	assert.NoError(t, err)

	seq.Close()

	// The caller's struct keeps the ingestion acknowledgment; pipeline
	// progress is visible only through the store.
	assert.Equal(t, models.SignalQueued, sig.Status)
	final, err := st.GetSignal(sig.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.SignalExecuted, final.Status)
}

func TestEngine_RiskRejectedSignalIsSkipped(t *testing.T) {
	adapter := new(MockAdapter)
	engine, seq, st := setupEngine(t, adapter)

	raw := rawFixture()
	raw.SuggestedStopLoss = "" // default settings require a stop-loss
	sig, err := engine.Submit(raw)
	assert.NoError(t, err)

	seq.Close()

	final, err := st.GetSignal(sig.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.SignalSkipped, final.Status)
	assert.Contains(t, final.StatusReason, ReasonMissingStopLoss)
	// The adapter was never touched.
	adapter.AssertExpectations(t)
}

func TestEngine_DuplicateSubmissionSkipped(t *testing.T) {
	adapter := new(MockAdapter)
	adapter.On("PlaceOrder", mock.Anything, mock.Anything).Return(filledResult("100"), nil).Once()
	engine, seq, st := setupEngine(t, adapter)

	first, err := engine.Submit(rawFixture())
	assert.NoError(t, err)

	second, err := engine.Submit(rawFixture())
	assert.NoError(t, err)
	assert.Equal(t, models.SignalSkipped, second.Status)
	assert.Equal(t, "duplicate_signal", second.StatusReason)

	seq.Close()

	// Only the first submission produced a trade.
	var count int64
	st.DB().Model(&models.Trade{}).Count(&count)
	assert.Equal(t, int64(1), count)

	final, err := st.GetSignal(first.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.SignalExecuted, final.Status)
}

// Even when execution fails terminally, the signal must reach a terminal
// status with a queryable reason.
func TestEngine_NoSignalLeftQueued(t *testing.T) {
	adapter := new(MockAdapter)
	fatal := exchange.Fatal("invalid_symbol", "unknown symbol", nil)
	adapter.On("PlaceOrder", mock.Anything, mock.Anything).Return(nil, fatal).Once()
	engine, seq, st := setupEngine(t, adapter)

	sig, err := engine.Submit(rawFixture())
	assert.NoError(t, err)

	seq.Close()

	final, err := st.GetSignal(sig.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.SignalFailed, final.Status)
	assert.Contains(t, final.StatusReason, "invalid_symbol")
	adapter.AssertExpectations(t)
}

func TestEngine_ExitFlowClosesPosition(t *testing.T) {
	adapter := new(MockAdapter)
	adapter.On("PlaceOrder", mock.Anything, mock.Anything).Return(filledResult("100"), nil).Twice()
	engine, seq, st := setupEngine(t, adapter)

	_, err := engine.Submit(rawFixture())
	assert.NoError(t, err)

	exit := rawFixture()
	exit.SignalType = "long_exit"
	exit.SuggestedStopLoss = ""
	_, err = engine.Submit(exit)
	assert.NoError(t, err)

	seq.Close()

	open, err := st.OpenPositions("user-1")
	assert.NoError(t, err)
	assert.Empty(t, open, "exit should close the open position")
	adapter.AssertExpectations(t)
}
