package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AccountSummary represents the account_bank_summaries table.
type AccountSummary struct {
	AccountID      string    `gorm:"primaryKey"`
	EligibleCount  int64     `gorm:"not null"`
	TotalEligible  int64     `gorm:"not null"`
	CodesEarned    int64     `gorm:"not null"`
	CodesAvailable int64     `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (AccountSummary) TableName() string { return "account_bank_summaries" }

// Contribution mirrors the bank_contributions dedup table. Rows are
// inserted once and never touched again.
type Contribution struct {
	AccountID string    `gorm:"primaryKey"`
	RideID    string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Contribution) TableName() string { return "bank_contributions" }

// VoucherRow mirrors the vouchers table, partitioned per owning account.
// Global uniqueness of value is enforced through the code index, which is
// the single ownership authority.
type VoucherRow struct {
	OwnerAccountID   string    `gorm:"primaryKey"`
	Value            string    `gorm:"primaryKey;index:idx_vouchers_value"`
	Status           string    `gorm:"not null"`
	MaxMiles         int64     `gorm:"not null"`
	ReservedRideID   *string   `gorm:""`
	UsedRideID       *string   `gorm:""`
	OriginalOwnerUID string    `gorm:"not null"`
	TransferCount    int       `gorm:"not null"`
	Transferable     bool      `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null"`
}

func (VoucherRow) TableName() string { return "vouchers" }

// CodeIndexRow mirrors the code_index table. The usage columns are only
// written for externally owned codes, which have no voucher row.
type CodeIndexRow struct {
	Value        string     `gorm:"primaryKey"`
	CurrentOwner string     `gorm:"not null;index:idx_code_index_owner"`
	Location     *string    `gorm:""`
	Status       *string    `gorm:""`
	UsedRideID   *string    `gorm:""`
	UsedAt       *time.Time `gorm:""`
}

func (CodeIndexRow) TableName() string { return "code_index" }

// AuditRow mirrors the bank_audit_entries table.
type AuditRow struct {
	AuditID   string         `gorm:"type:uuid;primaryKey"`
	Action    string         `gorm:"not null"`
	Value     string         `gorm:"not null;index:idx_audit_value"`
	Actor     string         `gorm:"not null"`
	Recipient string         `gorm:""`
	RideID    string         `gorm:""`
	Detail    datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt time.Time      `gorm:"not null"`
}

func (AuditRow) TableName() string { return "bank_audit_entries" }

func (audit *AuditRow) BeforeCreate(tx *gorm.DB) error {
	if audit.AuditID == "" {
		audit.AuditID = uuid.NewString()
	}
	return nil
}
