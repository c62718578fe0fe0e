// Package oplog adapts wallet operation callbacks onto zap.
package oplog

import (
	"context"

	"go.uber.org/zap"

	"github.com/careerforge/coinwallet/pkg/wallet"
)

// Logger emits one structured record per wallet operation.
type Logger struct {
	logger *zap.Logger
}

// New wraps a zap logger.
func New(logger *zap.Logger) *Logger {
	return &Logger{logger: logger}
}

// LogOperation implements wallet.OperationLogger.
func (operationLogger *Logger) LogOperation(_ context.Context, entry wallet.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.String("status", entry.Status),
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount_coins", entry.Amount.Int64()))
	}
	if !entry.TransactionID.IsZero() {
		fields = append(fields, zap.String("transaction_id", entry.TransactionID.String()))
	}
	if entry.Source != "" {
		fields = append(fields, zap.String("source", entry.Source.String()))
	}
	if entry.Error != nil {
		operationLogger.logger.Warn("wallet operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Info("wallet operation", fields...)
}
