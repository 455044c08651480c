package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nunster3000/rydr-app-sub000/pkg/bank"
)

const (
	maxTxAttempts = 3

	defaultDetailJSON = "{}"

	pgUniqueViolationCode  = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	sqliteBusyCode         = 5
	sqliteLockedCode       = 6
	sqliteConstraintCode   = 19

	errorOperationStore      = "store"
	errorSubjectSummary      = "summary"
	errorSubjectContribution = "contribution"
	errorSubjectVoucher      = "voucher"
	errorSubjectIndex        = "index"
	errorSubjectAudit        = "audit"
	errorSubjectTransaction  = "tx"
	errorCodeGet             = "get"
	errorCodePut             = "put"
	errorCodeInsert          = "insert"
	errorCodeInvalid         = "invalid"
	errorCodeConflict        = "conflict"
	errorCodeReadAfterWrite  = "read_after_write"

	postgresDialect = "postgres"
)

// Store implements bank.Store using GORM.
type Store struct {
	db    *gorm.DB
	guard *writeGuard
}

// writeGuard tracks whether the transactional view has issued a write, so
// later reads can be rejected per the store contract.
type writeGuard struct {
	wrote bool
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate prepares the schema. Used for sqlite; postgres schemas are
// managed out of band.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&AccountSummary{}, &Contribution{}, &VoucherRow{}, &CodeIndexRow{}, &AuditRow{})
}

// WithTx executes fn within a transaction, retrying bounded times on
// serialization conflicts and duplicate-insert races.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx bank.Store) error) error {
	if store.guard != nil {
		return fn(ctx, store)
	}
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
			return fn(ctx, &Store{db: transaction, guard: &writeGuard{}})
		})
		if err == nil {
			return nil
		}
		if !isRetryableConflict(err) {
			return err
		}
	}
	return wrapStoreError(errorSubjectTransaction, errorCodeConflict, bank.ErrStoreConflict)
}

func (store *Store) GetSummary(ctx context.Context, accountID bank.AccountID) (bank.Summary, bool, error) {
	if err := store.checkReadAllowed(errorSubjectSummary); err != nil {
		return bank.Summary{}, false, err
	}
	var row AccountSummary
	err := store.guardedRead(ctx).
		Where("account_id = ?", accountID.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return bank.Summary{}, false, nil
	}
	if err != nil {
		return bank.Summary{}, false, wrapStoreError(errorSubjectSummary, errorCodeGet, err)
	}
	summary, err := mapSummary(row)
	if err != nil {
		return bank.Summary{}, false, wrapStoreError(errorSubjectSummary, errorCodeInvalid, err)
	}
	return summary, true, nil
}

func (store *Store) PutSummary(ctx context.Context, summary bank.Summary) error {
	store.markWrote()
	row := AccountSummary{
		AccountID:      summary.AccountID.String(),
		EligibleCount:  summary.EligibleCount,
		TotalEligible:  summary.TotalEligible,
		CodesEarned:    summary.CodesEarned,
		CodesAvailable: summary.CodesAvailable,
		UpdatedAt:      time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectSummary, errorCodePut, err)
	}
	return nil
}

func (store *Store) HasContribution(ctx context.Context, accountID bank.AccountID, rideID bank.RideID) (bool, error) {
	if err := store.checkReadAllowed(errorSubjectContribution); err != nil {
		return false, err
	}
	var row Contribution
	err := store.guardedRead(ctx).
		Where("account_id = ? AND ride_id = ?", accountID.String(), rideID.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, wrapStoreError(errorSubjectContribution, errorCodeGet, err)
	}
	return true, nil
}

func (store *Store) PutContribution(ctx context.Context, record bank.ContributionRecord) error {
	store.markWrote()
	row := Contribution{
		AccountID: record.AccountID.String(),
		RideID:    record.RideID.String(),
		CreatedAt: time.Unix(record.CreatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		// Lost a dedup race; surface a conflict so the transaction is
		// retried and observes the winner's record.
		return wrapStoreError(errorSubjectContribution, errorCodeConflict, bank.ErrStoreConflict)
	}
	if err != nil {
		return wrapStoreError(errorSubjectContribution, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetVoucher(ctx context.Context, ownerID bank.AccountID, value bank.CodeValue) (bank.Voucher, bool, error) {
	if err := store.checkReadAllowed(errorSubjectVoucher); err != nil {
		return bank.Voucher{}, false, err
	}
	var row VoucherRow
	err := store.guardedRead(ctx).
		Where("owner_account_id = ? AND value = ?", ownerID.String(), value.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return bank.Voucher{}, false, nil
	}
	if err != nil {
		return bank.Voucher{}, false, wrapStoreError(errorSubjectVoucher, errorCodeGet, err)
	}
	voucher, err := mapVoucher(row)
	if err != nil {
		return bank.Voucher{}, false, wrapStoreError(errorSubjectVoucher, errorCodeInvalid, err)
	}
	return voucher, true, nil
}

func (store *Store) PutVoucher(ctx context.Context, voucher bank.Voucher) error {
	store.markWrote()
	row := VoucherRow{
		OwnerAccountID:   voucher.OwnerID.String(),
		Value:            voucher.Value.String(),
		Status:           voucher.Status.String(),
		MaxMiles:         voucher.MaxMiles,
		ReservedRideID:   optionalString(voucher.ReservedRideID),
		UsedRideID:       optionalString(voucher.UsedRideID),
		OriginalOwnerUID: voucher.OriginalOwnerUID.String(),
		TransferCount:    voucher.TransferCount,
		Transferable:     voucher.Transferable,
		CreatedAt:        time.Unix(voucher.CreatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectVoucher, errorCodePut, err)
	}
	return nil
}

func (store *Store) GetIndexEntry(ctx context.Context, value bank.CodeValue) (bank.IndexEntry, bool, error) {
	if err := store.checkReadAllowed(errorSubjectIndex); err != nil {
		return bank.IndexEntry{}, false, err
	}
	var row CodeIndexRow
	err := store.guardedRead(ctx).
		Where("value = ?", value.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return bank.IndexEntry{}, false, nil
	}
	if err != nil {
		return bank.IndexEntry{}, false, wrapStoreError(errorSubjectIndex, errorCodeGet, err)
	}
	entry, err := mapIndexEntry(row)
	if err != nil {
		return bank.IndexEntry{}, false, wrapStoreError(errorSubjectIndex, errorCodeInvalid, err)
	}
	return entry, true, nil
}

func (store *Store) InsertIndexEntry(ctx context.Context, entry bank.IndexEntry) error {
	store.markWrote()
	row := indexRow(entry)
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		// Lost a mint race on the value; the retried transaction probes a
		// fresh candidate instead of repointing the winner's entry.
		return wrapStoreError(errorSubjectIndex, errorCodeConflict, bank.ErrStoreConflict)
	}
	if err != nil {
		return wrapStoreError(errorSubjectIndex, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) PutIndexEntry(ctx context.Context, entry bank.IndexEntry) error {
	store.markWrote()
	row := indexRow(entry)
	result := store.db.WithContext(ctx).
		Model(&CodeIndexRow{}).
		Where("value = ?", row.Value).
		Updates(map[string]interface{}{
			"current_owner": row.CurrentOwner,
			"location":      row.Location,
			"status":        row.Status,
			"used_ride_id":  row.UsedRideID,
			"used_at":       row.UsedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectIndex, errorCodePut, result.Error)
	}
	if result.RowsAffected == 0 {
		// The entry read earlier in the transaction is gone; retry
		// re-reads committed state.
		return wrapStoreError(errorSubjectIndex, errorCodeConflict, bank.ErrStoreConflict)
	}
	return nil
}

func indexRow(entry bank.IndexEntry) CodeIndexRow {
	row := CodeIndexRow{
		Value:        entry.Value.String(),
		CurrentOwner: entry.CurrentOwner,
		Status:       optionalString(entry.Status),
		UsedRideID:   optionalString(entry.UsedRideID),
	}
	if !entry.Location.IsZero() {
		location := entry.Location.String()
		row.Location = &location
	}
	if entry.UsedUnixUTC != 0 {
		usedAt := time.Unix(entry.UsedUnixUTC, 0).UTC()
		row.UsedAt = &usedAt
	}
	return row
}

func (store *Store) AppendAudit(ctx context.Context, record bank.AuditRecord) error {
	store.markWrote()
	row := AuditRow{
		AuditID:   record.AuditID,
		Action:    record.Action,
		Value:     record.Value.String(),
		Actor:     record.Actor,
		Recipient: record.Recipient,
		RideID:    record.RideID,
		Detail:    detailJSON(record.Detail),
		CreatedAt: time.Unix(record.CreatedUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectAudit, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) checkReadAllowed(subject string) error {
	if store.guard != nil && store.guard.wrote {
		return wrapStoreError(subject, errorCodeReadAfterWrite, bank.ErrReadAfterWrite)
	}
	return nil
}

func (store *Store) markWrote() {
	if store.guard != nil {
		store.guard.wrote = true
	}
}

// guardedRead locks rows read inside a transaction. sqlite has no FOR
// UPDATE; its writer lock covers the same races.
func (store *Store) guardedRead(ctx context.Context) *gorm.DB {
	db := store.db.WithContext(ctx)
	if store.guard != nil && store.db.Dialector.Name() == postgresDialect {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

func wrapStoreError(subject string, code string, err error) error {
	return bank.WrapError(errorOperationStore, subject, code, err)
}

func mapSummary(row AccountSummary) (bank.Summary, error) {
	accountID, err := bank.NewAccountID(row.AccountID)
	if err != nil {
		return bank.Summary{}, err
	}
	return bank.Summary{
		AccountID:      accountID,
		EligibleCount:  row.EligibleCount,
		TotalEligible:  row.TotalEligible,
		CodesEarned:    row.CodesEarned,
		CodesAvailable: row.CodesAvailable,
	}, nil
}

func mapVoucher(row VoucherRow) (bank.Voucher, error) {
	value, err := bank.NewCodeValue(row.Value)
	if err != nil {
		return bank.Voucher{}, err
	}
	ownerID, err := bank.NewAccountID(row.OwnerAccountID)
	if err != nil {
		return bank.Voucher{}, err
	}
	originalOwner, err := bank.NewAccountID(row.OriginalOwnerUID)
	if err != nil {
		return bank.Voucher{}, err
	}
	status, err := bank.ParseCodeStatus(row.Status)
	if err != nil {
		return bank.Voucher{}, err
	}
	return bank.Voucher{
		Value:            value,
		OwnerID:          ownerID,
		Status:           status,
		MaxMiles:         row.MaxMiles,
		ReservedRideID:   stringOrEmpty(row.ReservedRideID),
		UsedRideID:       stringOrEmpty(row.UsedRideID),
		OriginalOwnerUID: originalOwner,
		TransferCount:    row.TransferCount,
		Transferable:     row.Transferable,
		CreatedUnixUTC:   row.CreatedAt.Unix(),
	}, nil
}

func mapIndexEntry(row CodeIndexRow) (bank.IndexEntry, error) {
	value, err := bank.NewCodeValue(row.Value)
	if err != nil {
		return bank.IndexEntry{}, err
	}
	entry := bank.IndexEntry{
		Value:        value,
		CurrentOwner: row.CurrentOwner,
		Status:       stringOrEmpty(row.Status),
		UsedRideID:   stringOrEmpty(row.UsedRideID),
	}
	if row.Location != nil && *row.Location != "" {
		location, err := bank.NewAccountID(*row.Location)
		if err != nil {
			return bank.IndexEntry{}, err
		}
		entry.Location = location
	}
	if row.UsedAt != nil {
		entry.UsedUnixUTC = row.UsedAt.Unix()
	}
	return entry, nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func detailJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultDetailJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

func isRetryableConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, bank.ErrStoreConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code() & 0xFF
		return code == sqliteBusyCode || code == sqliteLockedCode
	}
	return false
}
