package bank

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the bank services.
var (
	ErrNotFound             = errors.New("voucher not found")
	ErrNotOwner             = errors.New("caller does not own voucher")
	ErrNotOwnerExternal     = errors.New("email does not match voucher owner")
	ErrNotActive            = errors.New("voucher not active")
	ErrBadStatus            = errors.New("operation illegal for voucher status")
	ErrNotTransferable      = errors.New("voucher not transferable")
	ErrValueExhausted       = errors.New("no free voucher value found")
	ErrLedgerInconsistent   = errors.New("ledger inconsistent")
	ErrStoreConflict        = errors.New("store conflict")
	ErrReadAfterWrite       = errors.New("transaction read after write")
	ErrInvalidAccountID     = errors.New("invalid account id")
	ErrInvalidRideID        = errors.New("invalid ride id")
	ErrInvalidCodeValue     = errors.New("invalid code value")
	ErrInvalidCodeStatus    = errors.New("invalid code status")
	ErrInvalidEmail         = errors.New("invalid email")
	ErrInvalidDistance      = errors.New("invalid distance")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
