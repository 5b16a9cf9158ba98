package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signal-engine-go/internal/models"
	"signal-engine-go/internal/store"
)

// RawSignal is an inbound, untrusted signal as received from a webhook or
// strategy source.
type RawSignal struct {
	UserID              string  `json:"user_id"`
	StrategyID          *string `json:"strategy_id,omitempty"`
	Exchange            string  `json:"exchange"`
	Symbol              string  `json:"symbol"`
	SignalType          string  `json:"signal_type"`
	SuggestedEntry      string  `json:"suggested_entry,omitempty"`
	SuggestedStopLoss   string  `json:"suggested_stop_loss,omitempty"`
	SuggestedTakeProfit string  `json:"suggested_take_profit,omitempty"`
	Leverage            int     `json:"leverage,omitempty"`
	Source              string  `json:"source"`
	RawPayload          string  `json:"raw_payload,omitempty"`
}

// Validator normalizes and deduplicates inbound signals. Every outcome,
// including rejections, is persisted as the signal's ingestion audit record.
type Validator struct {
	store       *store.Store
	logger      *zap.Logger
	dedupWindow time.Duration
	exchanges   map[string]struct{}
}

// NewValidator creates a validator recognizing the given exchanges.
func NewValidator(st *store.Store, exchanges []string, dedupWindow time.Duration, logger *zap.Logger) *Validator {
	known := make(map[string]struct{}, len(exchanges))
	for _, e := range exchanges {
		known[strings.ToLower(e)] = struct{}{}
	}
	return &Validator{
		store:       st,
		logger:      logger.Named("validator"),
		dedupWindow: dedupWindow,
		exchanges:   known,
	}
}

// Validate checks a raw signal, persists the resulting Signal row at its
// outcome status (validated, skipped, or failed), and returns it. A non-nil
// error means persistence itself failed, not that the signal was rejected.
func (v *Validator) Validate(raw RawSignal) (*models.Signal, error) {
	sig := models.NewSignal(raw.UserID, strings.ToLower(raw.Exchange), strings.ToUpper(raw.Symbol), models.Direction(raw.SignalType))
	sig.StrategyID = raw.StrategyID
	sig.Source = raw.Source
	sig.RawPayload = raw.RawPayload
	sig.Leverage = raw.Leverage
	if sig.Leverage <= 0 {
		sig.Leverage = 1
	}

	if reason := v.checkRequired(raw); reason != "" {
		return v.finish(sig, models.SignalFailed, reason)
	}
	if !sig.Direction.Valid() {
		return v.finish(sig, models.SignalFailed, fmt.Sprintf("unknown_signal_type: %q", raw.SignalType))
	}
	if _, ok := v.exchanges[sig.Exchange]; !ok {
		return v.finish(sig, models.SignalFailed, fmt.Sprintf("unknown_exchange: %q", sig.Exchange))
	}

	if reason := v.parsePrices(raw, sig); reason != "" {
		return v.finish(sig, models.SignalFailed, reason)
	}

	sig.Fingerprint = fingerprint(sig, v.dedupWindow)
	dup, err := v.store.HasRecentDuplicate(sig.Fingerprint, time.Now().UTC().Add(-v.dedupWindow))
	if err != nil {
		return nil, err
	}
	if dup {
		// Webhook retries are expected; a duplicate is skipped, not failed.
		v.logger.Info("Duplicate signal skipped",
			zap.String("user_id", sig.UserID),
			zap.String("symbol", sig.Symbol),
			zap.String("fingerprint", sig.Fingerprint),
		)
		return v.finish(sig, models.SignalSkipped, "duplicate_signal")
	}

	return v.finish(sig, models.SignalValidated, "")
}

func (v *Validator) finish(sig *models.Signal, status models.SignalStatus, reason string) (*models.Signal, error) {
	sig.Status = status
	sig.StatusReason = reason
	if err := v.store.CreateSignal(sig); err != nil {
		return nil, err
	}
	return sig, nil
}

func (v *Validator) checkRequired(raw RawSignal) string {
	var missing []string
	if raw.UserID == "" {
		missing = append(missing, "user_id")
	}
	if raw.Symbol == "" {
		missing = append(missing, "symbol")
	}
	if raw.Exchange == "" {
		missing = append(missing, "exchange")
	}
	if raw.SignalType == "" {
		missing = append(missing, "signal_type")
	}
	if raw.Source == "" {
		missing = append(missing, "source")
	}
	if len(missing) > 0 {
		return "missing_fields: " + strings.Join(missing, ",")
	}
	return ""
}

// parsePrices parses and cross-checks the numeric fields, returning a
// rejection reason or empty string.
func (v *Validator) parsePrices(raw RawSignal, sig *models.Signal) string {
	if raw.SuggestedEntry != "" {
		entry, err := decimal.NewFromString(raw.SuggestedEntry)
		if err != nil || !entry.IsPositive() {
			return fmt.Sprintf("invalid_entry_price: %q", raw.SuggestedEntry)
		}
		sig.SuggestedEntry = entry
	} else if sig.Direction.IsEntry() {
		return "missing_fields: suggested_entry"
	}

	if raw.SuggestedStopLoss != "" {
		stop, err := decimal.NewFromString(raw.SuggestedStopLoss)
		if err != nil || !stop.IsPositive() {
			return fmt.Sprintf("invalid_stop_loss: %q", raw.SuggestedStopLoss)
		}
		sig.SuggestedStopLoss = decimal.NewNullDecimal(stop)
	}
	if raw.SuggestedTakeProfit != "" {
		tp, err := decimal.NewFromString(raw.SuggestedTakeProfit)
		if err != nil || !tp.IsPositive() {
			return fmt.Sprintf("invalid_take_profit: %q", raw.SuggestedTakeProfit)
		}
		sig.SuggestedTakeProfit = decimal.NewNullDecimal(tp)
	}

	// The stop must sit on the losing side of the entry for the direction.
	if sig.SuggestedStopLoss.Valid && sig.Direction.IsEntry() {
		stop := sig.SuggestedStopLoss.Decimal
		switch sig.Direction {
		case models.LongEntry:
			if stop.GreaterThanOrEqual(sig.SuggestedEntry) {
				return "stop_loss_above_entry"
			}
		case models.ShortEntry:
			if stop.LessThanOrEqual(sig.SuggestedEntry) {
				return "stop_loss_below_entry"
			}
		}
	}
	return ""
}

// fingerprint hashes the identity of a signal within its time bucket so
// that webhook retries inside the dedup window collide.
func fingerprint(sig *models.Signal, window time.Duration) string {
	strategy := ""
	if sig.StrategyID != nil {
		strategy = *sig.StrategyID
	}
	bucket := time.Now().UTC().Truncate(window).Unix()
	h := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s|%s|%s|%s|%d",
		sig.UserID, strategy, sig.Exchange, sig.Symbol, sig.Direction, sig.Source, bucket))
	return hex.EncodeToString(h[:])
}
