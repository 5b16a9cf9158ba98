package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"signal-engine-go/internal/models"
)

// ErrIllegalTransition is returned when a status update would violate an
// entity's state machine.
var ErrIllegalTransition = errors.New("illegal status transition")

// Store is the data-access layer for all engine entities.
type Store struct {
	db *gorm.DB
}

// New wraps a gorm connection in a Store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection for migrations and tests.
func (s *Store) DB() *gorm.DB { return s.db }

// CreateSignal persists a new signal row.
func (s *Store) CreateSignal(sig *models.Signal) error {
	if err := s.db.Create(sig).Error; err != nil {
		return fmt.Errorf("failed to create signal: %w", err)
	}
	return nil
}

// TransitionSignal moves a signal to the next status after checking the
// transition is legal, and records the human-readable reason.
func (s *Store) TransitionSignal(sig *models.Signal, next models.SignalStatus, reason string) error {
	if !sig.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: signal %s: %s -> %s", ErrIllegalTransition, sig.ID, sig.Status, next)
	}
	sig.Status = next
	sig.StatusReason = reason
	if err := s.db.Model(sig).Updates(map[string]any{
		"status":        next,
		"status_reason": reason,
	}).Error; err != nil {
		return fmt.Errorf("failed to update signal %s: %w", sig.ID, err)
	}
	return nil
}

// GetSignal fetches a signal by id.
func (s *Store) GetSignal(id string) (*models.Signal, error) {
	var sig models.Signal
	if err := s.db.First(&sig, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &sig, nil
}

// HasRecentDuplicate reports whether another signal with the same
// fingerprint was ingested after the cutoff.
func (s *Store) HasRecentDuplicate(fingerprint string, cutoff time.Time) (bool, error) {
	var count int64
	err := s.db.Model(&models.Signal{}).
		Where("fingerprint = ? AND created_at >= ? AND status <> ?", fingerprint, cutoff, models.SignalFailed).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check for duplicate signal: %w", err)
	}
	return count > 0, nil
}

// RiskSettingsFor returns the user's risk settings, falling back to the
// conservative defaults when none are stored.
func (s *Store) RiskSettingsFor(userID string) (*models.RiskSettings, error) {
	var settings models.RiskSettings
	err := s.db.First(&settings, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DefaultRiskSettings(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load risk settings for user %s: %w", userID, err)
	}
	return &settings, nil
}

// OpenPositions returns all of a user's open positions.
func (s *Store) OpenPositions(userID string) ([]models.Position, error) {
	var positions []models.Position
	err := s.db.Where("user_id = ? AND status = ?", userID, models.PositionOpen).Find(&positions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load open positions for user %s: %w", userID, err)
	}
	return positions, nil
}

// FindOpenPosition returns the open position for a serialization key, or nil.
func (s *Store) FindOpenPosition(userID, exchange, symbol string, strategyID *string) (*models.Position, error) {
	q := s.db.Where("user_id = ? AND exchange = ? AND symbol = ? AND status = ?",
		userID, exchange, symbol, models.PositionOpen)
	if strategyID != nil {
		q = q.Where("strategy_id = ?", *strategyID)
	}
	var pos models.Position
	err := q.First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open position: %w", err)
	}
	return &pos, nil
}

// SavePosition persists all fields of a position.
func (s *Store) SavePosition(pos *models.Position) error {
	if err := s.db.Save(pos).Error; err != nil {
		return fmt.Errorf("failed to save position %s: %w", pos.ID, err)
	}
	return nil
}

// UpdateUnrealizedPnl writes a position's unrealized P&L with a status
// guard. The mark-to-market refresh runs outside the execution key scope,
// so a stale full-row save could reopen a position closed in the meantime;
// the guard makes that write a no-op instead.
func (s *Store) UpdateUnrealizedPnl(positionID string, pnl decimal.Decimal) error {
	err := s.db.Model(&models.Position{}).
		Where("id = ? AND status = ?", positionID, models.PositionOpen).
		Update("unrealized_pnl", pnl).Error
	if err != nil {
		return fmt.Errorf("failed to update unrealized pnl for position %s: %w", positionID, err)
	}
	return nil
}

// CreateTrade persists a new trade row.
func (s *Store) CreateTrade(trade *models.Trade) error {
	if err := s.db.Create(trade).Error; err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

// SaveTrade persists all fields of a trade.
func (s *Store) SaveTrade(trade *models.Trade) error {
	if err := s.db.Save(trade).Error; err != nil {
		return fmt.Errorf("failed to save trade %s: %w", trade.ID, err)
	}
	return nil
}

// TradeCountSince counts a user's trades created at or after the cutoff.
func (s *Store) TradeCountSince(userID string, cutoff time.Time) (int, error) {
	var count int64
	err := s.db.Model(&models.Trade{}).
		Where("user_id = ? AND created_at >= ?", userID, cutoff).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count trades for user %s: %w", userID, err)
	}
	return int(count), nil
}

// RealizedLossSince sums a user's realized losses (as a positive number)
// over trades closed at or after the cutoff. Gains do not offset losses.
func (s *Store) RealizedLossSince(userID string, cutoff time.Time) (decimal.Decimal, error) {
	var trades []models.Trade
	err := s.db.Where("user_id = ? AND created_at >= ?", userID, cutoff).Find(&trades).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load trades for user %s: %w", userID, err)
	}
	loss := decimal.Zero
	for _, t := range trades {
		if t.RealizedPnl.Valid && t.RealizedPnl.Decimal.IsNegative() {
			loss = loss.Add(t.RealizedPnl.Decimal.Neg())
		}
	}
	return loss, nil
}

// CreateExecutionLog persists a new execution log entry.
func (s *Store) CreateExecutionLog(entry *models.ExecutionLogEntry) error {
	if err := s.db.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to create execution log entry: %w", err)
	}
	return nil
}

// SaveExecutionLog persists all fields of an execution log entry.
func (s *Store) SaveExecutionLog(entry *models.ExecutionLogEntry) error {
	if err := s.db.Save(entry).Error; err != nil {
		return fmt.Errorf("failed to save execution log entry %s: %w", entry.ID, err)
	}
	return nil
}

// NonFailedExecution returns an existing execution log entry for the signal
// that is not failed, or nil. Its presence means the signal must not be
// resubmitted to the exchange.
func (s *Store) NonFailedExecution(signalID string) (*models.ExecutionLogEntry, error) {
	var entry models.ExecutionLogEntry
	err := s.db.Where("signal_id = ? AND status <> ?", signalID, models.ExecutionFailed).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up execution for signal %s: %w", signalID, err)
	}
	return &entry, nil
}

// AppendAudit writes an append-only audit entry.
func (s *Store) AppendAudit(entry *models.AuditEntry) error {
	if err := s.db.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}
