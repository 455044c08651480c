package bank

import (
	"fmt"
	"net/mail"
	"strings"
)

// AccountID identifies a registered rider account.
type AccountID struct {
	value string
}

// RideID identifies a completed ride.
type RideID struct {
	value string
}

// CodeValue is the public, human-enterable voucher token.
type CodeValue struct {
	value string
}

// Email is a normalized (lowercased) recipient address.
type Email struct {
	value string
}

// CodeStatus defines the voucher lifecycle.
type CodeStatus string

const (
	CodeStatusActive   CodeStatus = "active"
	CodeStatusReserved CodeStatus = "reserved"
	CodeStatusUsed     CodeStatus = "used"
	CodeStatusVoid     CodeStatus = "void"
)

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// IsZero reports whether the id carries no value.
func (id AccountID) IsZero() bool {
	return id.value == ""
}

// NewRideID validates and normalizes a ride id.
func NewRideID(raw string) (RideID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return RideID{}, fmt.Errorf("%w: empty value", ErrInvalidRideID)
	}
	return RideID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id RideID) String() string {
	return id.value
}

// NewCodeValue validates a voucher token against the canonical format,
// normalizing case and surrounding whitespace first.
func NewCodeValue(raw string) (CodeValue, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if normalized == "" {
		return CodeValue{}, fmt.Errorf("%w: empty value", ErrInvalidCodeValue)
	}
	if !codeValuePattern.MatchString(normalized) {
		return CodeValue{}, fmt.Errorf("%w: malformed token", ErrInvalidCodeValue)
	}
	return CodeValue{value: normalized}, nil
}

// String returns the canonical token.
func (value CodeValue) String() string {
	return value.value
}

// IsZero reports whether the value carries no token.
func (value CodeValue) IsZero() bool {
	return value.value == ""
}

// NewEmail validates an address and lowercases it.
func NewEmail(raw string) (Email, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return Email{}, fmt.Errorf("%w: empty value", ErrInvalidEmail)
	}
	if _, err := mail.ParseAddress(normalized); err != nil {
		return Email{}, fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}
	return Email{value: normalized}, nil
}

// String returns the lowercased address.
func (email Email) String() string {
	return email.value
}

// ParseCodeStatus validates a stored status string.
func ParseCodeStatus(raw string) (CodeStatus, error) {
	switch CodeStatus(raw) {
	case CodeStatusActive, CodeStatusReserved, CodeStatusUsed, CodeStatusVoid:
		return CodeStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCodeStatus, raw)
}

// String returns the status label.
func (status CodeStatus) String() string {
	return string(status)
}

// Summary is the per-account bank summary document. CodesAvailable moves
// only in the same transaction as the voucher state change that justifies it.
type Summary struct {
	AccountID      AccountID
	EligibleCount  int64
	TotalEligible  int64
	CodesEarned    int64
	CodesAvailable int64
}

// ContributionRecord is the per-(account, ride) dedup marker. Created once,
// never updated or deleted.
type ContributionRecord struct {
	AccountID      AccountID
	RideID         RideID
	CreatedUnixUTC int64
}

// Voucher is a single-use discount code document, partitioned per owner.
type Voucher struct {
	Value            CodeValue
	OwnerID          AccountID
	Status           CodeStatus
	MaxMiles         int64
	ReservedRideID   string
	UsedRideID       string
	OriginalOwnerUID AccountID
	TransferCount    int
	Transferable     bool
	CreatedUnixUTC   int64
}

// IndexEntry is the ownership index document keyed by voucher value. It is
// the single authority for value uniqueness and current ownership. The
// usage fields are informational and only written by external redemption,
// where no voucher document exists.
type IndexEntry struct {
	Value        CodeValue
	CurrentOwner string
	Location     AccountID
	Status       string
	UsedRideID   string
	UsedUnixUTC  int64
}

// AuditRecord captures a committed ledger action for supportability.
type AuditRecord struct {
	AuditID        string
	Action         string
	Value          CodeValue
	Actor          string
	Recipient      string
	RideID         string
	Detail         string
	CreatedUnixUTC int64
}

// ExternalOwnerRef renders the sentinel index owner for an unregistered
// recipient.
func ExternalOwnerRef(email Email) string {
	return externalOwnerPrefix + email.String()
}

// IsExternalOwner reports whether an index owner is the external sentinel.
func IsExternalOwner(owner string) bool {
	return strings.HasPrefix(owner, externalOwnerPrefix)
}

// AccrualResult reports the outcome of recording a ride.
type AccrualResult struct {
	Eligible bool
	Minted   *CodeValue
}

// TransferResult reports the outcome of a voucher transfer.
type TransferResult struct {
	RecipientIsAccount bool
}

// GiftNotice is the fixed payload handed to the notification dispatcher
// after a transfer commits.
type GiftNotice struct {
	Email      Email
	Name       string
	Phone      string
	Value      CodeValue
	SenderName string
}
