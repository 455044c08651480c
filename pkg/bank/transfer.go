package bank

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// TransferService performs the one-time ownership transfer of a voucher to
// another account or to an external email identity, and the unauthenticated
// redemption path for external owners.
type TransferService struct {
	store     Store
	directory Directory
	notifier  Notifier
	nowFn     func() int64
	logger    OperationLogger
}

// TransferOption configures a TransferService.
type TransferOption func(*TransferService)

// WithTransferLogger wires an operation logger.
func WithTransferLogger(logger OperationLogger) TransferOption {
	return func(service *TransferService) {
		service.logger = logger
	}
}

// NewTransferService wires a TransferService.
func NewTransferService(store Store, directory Directory, notifier Notifier, now func() int64, options ...TransferOption) (*TransferService, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if directory == nil {
		return nil, fmt.Errorf("%w: directory dependency is nil", ErrInvalidServiceConfig)
	}
	if notifier == nil {
		return nil, fmt.Errorf("%w: notifier dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &TransferService{store: store, directory: directory, notifier: notifier, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Transfer reassigns an active, never-transferred voucher minted by the
// caller. The directory lookup happens before the transaction; the gift
// notice is dispatched strictly after the commit, since the transaction
// body may be retried.
func (service *TransferService) Transfer(ctx context.Context, fromAccountID AccountID, value CodeValue, recipientEmail Email, recipientName string, recipientPhone string, senderName string) (TransferResult, error) {
	toAccountID, recipientIsAccount, err := service.directory.LookupAccountByEmail(ctx, recipientEmail)
	if err != nil {
		return TransferResult{}, err
	}

	operationError := service.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		entry, found, err := tx.GetIndexEntry(ctx, value)
		if err != nil {
			return err
		}
		if !found {
			return WrapError(operationTransfer, subjectIndex, codeNotFound, ErrNotFound)
		}
		voucher, found, err := tx.GetVoucher(ctx, entry.Location, value)
		if err != nil {
			return err
		}
		if !found {
			return WrapError(operationTransfer, subjectVoucher, codeNotFound, ErrNotFound)
		}
		if voucher.OriginalOwnerUID != fromAccountID {
			return WrapError(operationTransfer, subjectVoucher, codeNotOwner, ErrNotOwner)
		}
		if voucher.Status != CodeStatusActive {
			return WrapError(operationTransfer, subjectVoucher, codeNotActive, ErrNotActive)
		}
		if voucher.TransferCount != 0 || !voucher.Transferable {
			return WrapError(operationTransfer, subjectVoucher, codeNotTransferable, ErrNotTransferable)
		}

		senderSummary, found, err := tx.GetSummary(ctx, fromAccountID)
		if err != nil {
			return err
		}
		if !found || senderSummary.CodesAvailable < 1 {
			return WrapError(operationTransfer, subjectSummary, codeInconsistent, ErrLedgerInconsistent)
		}
		var recipientSummary Summary
		if recipientIsAccount {
			recipientSummary, found, err = tx.GetSummary(ctx, toAccountID)
			if err != nil {
				return err
			}
			if !found {
				recipientSummary = Summary{AccountID: toAccountID}
			}
		}

		nowUnixUTC := service.nowFn()

		voucher.Status = CodeStatusVoid
		voucher.TransferCount = 1
		voucher.Transferable = false
		if err := tx.PutVoucher(ctx, voucher); err != nil {
			return err
		}

		recipientRef := ExternalOwnerRef(recipientEmail)
		if recipientIsAccount {
			recipientRef = toAccountID.String()
			if err := tx.PutVoucher(ctx, Voucher{
				Value:            value,
				OwnerID:          toAccountID,
				Status:           CodeStatusActive,
				MaxMiles:         voucher.MaxMiles,
				OriginalOwnerUID: voucher.OriginalOwnerUID,
				TransferCount:    1,
				Transferable:     false,
				CreatedUnixUTC:   nowUnixUTC,
			}); err != nil {
				return err
			}
			entry.CurrentOwner = toAccountID.String()
			entry.Location = toAccountID
		} else {
			entry.CurrentOwner = ExternalOwnerRef(recipientEmail)
			entry.Location = AccountID{}
		}
		if err := tx.PutIndexEntry(ctx, entry); err != nil {
			return err
		}

		senderSummary.CodesAvailable--
		if err := tx.PutSummary(ctx, senderSummary); err != nil {
			return err
		}
		if recipientIsAccount {
			recipientSummary.CodesAvailable++
			if err := tx.PutSummary(ctx, recipientSummary); err != nil {
				return err
			}
		}

		return tx.AppendAudit(ctx, AuditRecord{
			AuditID:        uuid.NewString(),
			Action:         auditActionTransfer,
			Value:          value,
			Actor:          fromAccountID.String(),
			Recipient:      recipientRef,
			Detail:         transferAuditDetail(recipientIsAccount),
			CreatedUnixUTC: nowUnixUTC,
		})
	})

	logOperation(ctx, service.logger, OperationLog{
		Operation: operationTransfer,
		AccountID: fromAccountID,
		Value:     value,
		Error:     operationError,
	})
	if operationError != nil {
		return TransferResult{}, operationError
	}

	// The transfer is durable at this point; notification delivery is
	// best-effort and must not fail the response.
	notice := GiftNotice{
		Email:      recipientEmail,
		Name:       recipientName,
		Phone:      recipientPhone,
		Value:      value,
		SenderName: senderName,
	}
	if err := service.notifier.SendGiftNotice(ctx, notice); err != nil {
		logOperation(ctx, service.logger, OperationLog{
			Operation: operationTransfer,
			AccountID: fromAccountID,
			Value:     value,
			Status:    operationStatusError,
			Error:     err,
		})
	}
	return TransferResult{RecipientIsAccount: recipientIsAccount}, nil
}

// PreviewExternal acknowledges a voucher held by an external email identity.
// Read-only.
func (service *TransferService) PreviewExternal(ctx context.Context, value CodeValue, email Email) error {
	operationError := service.checkExternalOwner(ctx, service.store, value, email, operationPreview)
	logOperation(ctx, service.logger, OperationLog{
		Operation: operationPreview,
		Value:     value,
		Error:     operationError,
	})
	return operationError
}

// ConsumeExternal redeems a voucher held by an external email identity.
// There is no voucher document for an external owner, so usage is recorded
// informationally on the index entry plus an audit record. No account
// balance is touched.
func (service *TransferService) ConsumeExternal(ctx context.Context, value CodeValue, email Email, rideID RideID) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		entry, found, err := tx.GetIndexEntry(ctx, value)
		if err != nil {
			return err
		}
		if !found {
			return WrapError(operationRedeem, subjectIndex, codeNotFound, ErrNotFound)
		}
		if entry.CurrentOwner != ExternalOwnerRef(email) {
			return WrapError(operationRedeem, subjectIndex, codeNotOwner, ErrNotOwnerExternal)
		}
		if entry.Status == CodeStatusUsed.String() {
			return WrapError(operationRedeem, subjectIndex, codeBadStatus, ErrBadStatus)
		}

		nowUnixUTC := service.nowFn()
		entry.Status = CodeStatusUsed.String()
		entry.UsedRideID = rideID.String()
		entry.UsedUnixUTC = nowUnixUTC
		if err := tx.PutIndexEntry(ctx, entry); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, AuditRecord{
			AuditID:        uuid.NewString(),
			Action:         auditActionConsumeExternal,
			Value:          value,
			Actor:          email.String(),
			RideID:         rideID.String(),
			CreatedUnixUTC: nowUnixUTC,
		})
	})
	logOperation(ctx, service.logger, OperationLog{
		Operation: operationRedeem,
		Value:     value,
		RideID:    rideID.String(),
		Error:     operationError,
	})
	return operationError
}

func (service *TransferService) checkExternalOwner(ctx context.Context, reader Store, value CodeValue, email Email, operation string) error {
	entry, found, err := reader.GetIndexEntry(ctx, value)
	if err != nil {
		return err
	}
	if !found {
		return WrapError(operation, subjectIndex, codeNotFound, ErrNotFound)
	}
	if entry.CurrentOwner != ExternalOwnerRef(email) {
		return WrapError(operation, subjectIndex, codeNotOwner, ErrNotOwnerExternal)
	}
	if entry.Status == CodeStatusUsed.String() {
		return WrapError(operation, subjectIndex, codeBadStatus, ErrBadStatus)
	}
	return nil
}

func transferAuditDetail(recipientIsAccount bool) string {
	raw, err := json.Marshal(map[string]bool{"recipient_is_account": recipientIsAccount})
	if err != nil {
		return "{}"
	}
	return string(raw)
}
