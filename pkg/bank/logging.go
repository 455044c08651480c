package bank

import "context"

// OperationLogger records domain-level events emitted by bank operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing bank operation.
type OperationLog struct {
	Operation string
	AccountID AccountID
	Value     CodeValue
	RideID    string
	Status    string
	Error     error
}

func logOperation(ctx context.Context, logger OperationLogger, entry OperationLog) {
	if logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	logger.LogOperation(ctx, entry)
}
