package bank

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CodeLifecycle owns the voucher state machine and the ownership index:
// mint, reserve, release, consume. Legal transitions are
// active -> reserved -> active (release), active|reserved -> used (consume),
// and active -> void (transfer-out); used and void are terminal.
type CodeLifecycle struct {
	store    Store
	nowFn    func() int64
	generate ValueGenerator
	logger   OperationLogger
}

// LifecycleOption configures a CodeLifecycle.
type LifecycleOption func(*CodeLifecycle)

// WithLifecycleLogger wires an operation logger.
func WithLifecycleLogger(logger OperationLogger) LifecycleOption {
	return func(lifecycle *CodeLifecycle) {
		lifecycle.logger = logger
	}
}

// WithValueGenerator overrides the candidate token generator.
func WithValueGenerator(generate ValueGenerator) LifecycleOption {
	return func(lifecycle *CodeLifecycle) {
		if generate != nil {
			lifecycle.generate = generate
		}
	}
}

// NewCodeLifecycle wires a CodeLifecycle.
func NewCodeLifecycle(store Store, now func() int64, options ...LifecycleOption) (*CodeLifecycle, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	lifecycle := &CodeLifecycle{store: store, nowFn: now, generate: GenerateCodeValue}
	for _, option := range options {
		if option != nil {
			option(lifecycle)
		}
	}
	return lifecycle, nil
}

// probeFreeValue finds an unused voucher token using read-only index
// lookups. It must run during the read phase of the caller's transaction,
// before any write is issued.
func (lifecycle *CodeLifecycle) probeFreeValue(ctx context.Context, tx Store) (CodeValue, error) {
	for attempt := 0; attempt < valueProbeAttempts; attempt++ {
		candidate, err := lifecycle.generate()
		if err != nil {
			return CodeValue{}, err
		}
		_, taken, err := tx.GetIndexEntry(ctx, candidate)
		if err != nil {
			return CodeValue{}, err
		}
		if !taken {
			return candidate, nil
		}
	}
	return CodeValue{}, WrapError(operationMint, subjectIndex, codeProbeExhausted, ErrValueExhausted)
}

// writeMint creates the voucher document and its index entry. Balance
// increments belong to the caller, which already holds the summary write.
func (lifecycle *CodeLifecycle) writeMint(ctx context.Context, tx Store, ownerID AccountID, value CodeValue, nowUnixUTC int64) error {
	voucher := Voucher{
		Value:            value,
		OwnerID:          ownerID,
		Status:           CodeStatusActive,
		MaxMiles:         VoucherMaxMiles,
		OriginalOwnerUID: ownerID,
		TransferCount:    0,
		Transferable:     true,
		CreatedUnixUTC:   nowUnixUTC,
	}
	if err := tx.PutVoucher(ctx, voucher); err != nil {
		return err
	}
	return tx.InsertIndexEntry(ctx, IndexEntry{
		Value:        value,
		CurrentOwner: ownerID.String(),
		Location:     ownerID,
	})
}

// Reserve holds an active voucher against a pending booking. An empty
// booking ref gets a distinguishable placeholder.
func (lifecycle *CodeLifecycle) Reserve(ctx context.Context, accountID AccountID, value CodeValue, bookingRef string) error {
	if bookingRef == "" {
		bookingRef = reservationPlaceholderPrefix + uuid.NewString()
	}
	operationError := lifecycle.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		voucher, err := lifecycle.loadOwnedVoucher(ctx, tx, operationReserve, accountID, value)
		if err != nil {
			return err
		}
		if voucher.Status != CodeStatusActive {
			return WrapError(operationReserve, subjectVoucher, codeNotActive, ErrNotActive)
		}
		voucher.Status = CodeStatusReserved
		voucher.ReservedRideID = bookingRef
		return tx.PutVoucher(ctx, voucher)
	})
	logOperation(ctx, lifecycle.logger, OperationLog{
		Operation: operationReserve,
		AccountID: accountID,
		Value:     value,
		RideID:    bookingRef,
		Error:     operationError,
	})
	return operationError
}

// Release frees a reserved voucher. Releasing an already-free voucher is a
// benign no-op, not an error.
func (lifecycle *CodeLifecycle) Release(ctx context.Context, accountID AccountID, value CodeValue) error {
	released := false
	operationError := lifecycle.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		released = false
		voucher, err := lifecycle.loadOwnedVoucher(ctx, tx, operationRelease, accountID, value)
		if err != nil {
			return err
		}
		if voucher.Status != CodeStatusReserved {
			return nil
		}
		voucher.Status = CodeStatusActive
		voucher.ReservedRideID = ""
		released = true
		return tx.PutVoucher(ctx, voucher)
	})
	status := ""
	if operationError == nil && !released {
		status = operationStatusSkipped
	}
	logOperation(ctx, lifecycle.logger, OperationLog{
		Operation: operationRelease,
		AccountID: accountID,
		Value:     value,
		Status:    status,
		Error:     operationError,
	})
	return operationError
}

// Consume redeems a voucher against a completed ride and decrements the
// owner's spendable balance in the same transaction. Consuming directly
// from active is allowed; reservation is advisory.
func (lifecycle *CodeLifecycle) Consume(ctx context.Context, accountID AccountID, value CodeValue, rideID RideID) error {
	operationError := lifecycle.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		voucher, err := lifecycle.loadOwnedVoucher(ctx, tx, operationConsume, accountID, value)
		if err != nil {
			return err
		}
		if voucher.Status != CodeStatusReserved && voucher.Status != CodeStatusActive {
			return WrapError(operationConsume, subjectVoucher, codeBadStatus, ErrBadStatus)
		}
		summary, found, err := tx.GetSummary(ctx, accountID)
		if err != nil {
			return err
		}
		if !found || summary.CodesAvailable < 1 {
			return WrapError(operationConsume, subjectSummary, codeInconsistent, ErrLedgerInconsistent)
		}

		voucher.Status = CodeStatusUsed
		voucher.UsedRideID = rideID.String()
		voucher.ReservedRideID = ""
		if err := tx.PutVoucher(ctx, voucher); err != nil {
			return err
		}
		summary.CodesAvailable--
		return tx.PutSummary(ctx, summary)
	})
	logOperation(ctx, lifecycle.logger, OperationLog{
		Operation: operationConsume,
		AccountID: accountID,
		Value:     value,
		RideID:    rideID.String(),
		Error:     operationError,
	})
	return operationError
}

// GetOwnedVoucher returns a voucher after the standard ownership checks.
// Read-only; usable outside a transaction.
func (lifecycle *CodeLifecycle) GetOwnedVoucher(ctx context.Context, accountID AccountID, value CodeValue) (Voucher, error) {
	return lifecycle.loadOwnedVoucher(ctx, lifecycle.store, operationGetVoucher, accountID, value)
}

// loadOwnedVoucher resolves value -> index entry -> voucher and enforces
// ownership. The index entry is the single authority for ownership; the
// voucher document lives in the owner's partition named by entry.Location.
func (lifecycle *CodeLifecycle) loadOwnedVoucher(ctx context.Context, tx Store, operation string, accountID AccountID, value CodeValue) (Voucher, error) {
	entry, found, err := tx.GetIndexEntry(ctx, value)
	if err != nil {
		return Voucher{}, err
	}
	if !found {
		return Voucher{}, WrapError(operation, subjectIndex, codeNotFound, ErrNotFound)
	}
	if entry.CurrentOwner != accountID.String() {
		return Voucher{}, WrapError(operation, subjectIndex, codeNotOwner, ErrNotOwner)
	}
	voucher, found, err := tx.GetVoucher(ctx, entry.Location, value)
	if err != nil {
		return Voucher{}, err
	}
	if !found {
		return Voucher{}, WrapError(operation, subjectVoucher, codeNotFound, ErrNotFound)
	}
	return voucher, nil
}
