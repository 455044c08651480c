// Package oplog adapts a zap logger to the bank.OperationLogger interface.
package oplog

import (
	"context"

	"go.uber.org/zap"

	"github.com/nunster3000/rydr-app-sub000/pkg/bank"
)

type ZapOperationLogger struct {
	logger *zap.Logger
}

func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	return &ZapOperationLogger{logger: logger}
}

func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry bank.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.AccountID.String() != "" {
		fields = append(fields, zap.String("account_id", entry.AccountID.String()))
	}
	if entry.Value.String() != "" {
		fields = append(fields, zap.String("code", entry.Value.String()))
	}
	if entry.RideID != "" {
		fields = append(fields, zap.String("ride_id", entry.RideID))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("bank operation", fields...)
		return
	}
	operationLogger.logger.Info("bank operation", fields...)
}
