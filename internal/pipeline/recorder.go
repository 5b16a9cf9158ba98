package pipeline

import (
	"strings"

	"go.uber.org/zap"

	"signal-engine-go/internal/models"
	"signal-engine-go/internal/store"
)

// Recorder is the execution-log and audit sink. It observes the pipeline and
// never influences it: a persistence failure here is reported to the
// operator log and swallowed, so a completed trade is never rolled back by
// its own bookkeeping.
type Recorder struct {
	store  *store.Store
	logger *zap.Logger
}

// NewRecorder creates a recorder.
func NewRecorder(st *store.Store, logger *zap.Logger) *Recorder {
	return &Recorder{store: st, logger: logger.Named("recorder")}
}

// StartExecution opens a queued execution log entry for a signal.
func (r *Recorder) StartExecution(signalID string) *models.ExecutionLogEntry {
	entry := models.NewExecutionLogEntry(signalID)
	if err := r.store.CreateExecutionLog(entry); err != nil {
		r.logger.Error("Failed to persist execution log entry", zap.String("signal_id", signalID), zap.Error(err))
	}
	return entry
}

// MarkRunning moves the entry into the running state.
func (r *Recorder) MarkRunning(entry *models.ExecutionLogEntry) {
	entry.Status = models.ExecutionRunning
	r.save(entry)
}

// RecordRisk stamps the risk decision onto the entry.
func (r *Recorder) RecordRisk(entry *models.ExecutionLogEntry, decision Decision) {
	entry.RiskCheckPassed = decision.Pass
	entry.RiskCheckDetails = strings.Join(decision.Reasons, "; ")
	r.save(entry)
}

// RecordRetry increments the retry counter on the same logical entry.
func (r *Recorder) RecordRetry(entry *models.ExecutionLogEntry) {
	entry.RetryCount++
	r.save(entry)
}

// Complete finishes the entry successfully, linking the executed trade.
func (r *Recorder) Complete(entry *models.ExecutionLogEntry, tradeID string) {
	entry.TradeID = &tradeID
	entry.TradeExecuted = true
	entry.Finish(models.ExecutionCompleted)
	r.save(entry)
}

// Fail finishes the entry with an error classification.
func (r *Recorder) Fail(entry *models.ExecutionLogEntry, errType, errMessage string) {
	entry.ErrorType = &errType
	entry.ErrorMessage = &errMessage
	entry.Finish(models.ExecutionFailed)
	r.save(entry)
}

func (r *Recorder) save(entry *models.ExecutionLogEntry) {
	if err := r.store.SaveExecutionLog(entry); err != nil {
		r.logger.Error("Failed to save execution log entry",
			zap.String("entry_id", entry.ID),
			zap.String("signal_id", entry.SignalID),
			zap.Error(err),
		)
	}
}

// Audit appends an audit entry for a state-mutating action.
func (r *Recorder) Audit(userID, action, resourceType, resourceID, oldValue, newValue string, success bool, errMessage string) {
	entry := models.NewAuditEntry(action, resourceType, resourceID)
	if userID != "" {
		entry.UserID = &userID
	}
	entry.OldValue = oldValue
	entry.NewValue = newValue
	entry.Success = success
	entry.ErrorMessage = errMessage
	if err := r.store.AppendAudit(entry); err != nil {
		r.logger.Error("Failed to append audit entry",
			zap.String("action", action),
			zap.String("resource_id", resourceID),
			zap.Error(err),
		)
	}
}
