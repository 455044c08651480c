package bank

import (
	"errors"
	"testing"
)

func TestNewAccountIDTrimsWhitespace(t *testing.T) {
	t.Parallel()
	accountID, err := NewAccountID("  acct-9  ")
	if err != nil {
		t.Fatalf("new account id: %v", err)
	}
	if accountID.String() != "acct-9" {
		t.Fatalf("expected trimmed id, got %q", accountID.String())
	}
	if _, err := NewAccountID("   "); !errors.Is(err, ErrInvalidAccountID) {
		t.Fatalf("expected ErrInvalidAccountID, got %v", err)
	}
}

func TestNewRideIDRejectsEmpty(t *testing.T) {
	t.Parallel()
	if _, err := NewRideID(""); !errors.Is(err, ErrInvalidRideID) {
		t.Fatalf("expected ErrInvalidRideID, got %v", err)
	}
}

func TestNewEmailLowercases(t *testing.T) {
	t.Parallel()
	email, err := NewEmail("Friend@Example.COM")
	if err != nil {
		t.Fatalf("new email: %v", err)
	}
	if email.String() != "friend@example.com" {
		t.Fatalf("expected lowercased address, got %q", email.String())
	}
	if _, err := NewEmail("not-an-address"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
}

func TestParseCodeStatus(t *testing.T) {
	t.Parallel()
	for _, valid := range []string{"active", "reserved", "used", "void"} {
		status, err := ParseCodeStatus(valid)
		if err != nil {
			t.Fatalf("parse %q: %v", valid, err)
		}
		if status.String() != valid {
			t.Fatalf("expected %q, got %q", valid, status.String())
		}
	}
	if _, err := ParseCodeStatus("expired"); !errors.Is(err, ErrInvalidCodeStatus) {
		t.Fatalf("expected ErrInvalidCodeStatus, got %v", err)
	}
}

func TestExternalOwnerRef(t *testing.T) {
	t.Parallel()
	email := mustEmail(t, "gift@example.com")
	ref := ExternalOwnerRef(email)
	if ref != "external:gift@example.com" {
		t.Fatalf("unexpected sentinel: %q", ref)
	}
	if !IsExternalOwner(ref) {
		t.Fatalf("sentinel not recognized: %q", ref)
	}
	if IsExternalOwner("acct-1") {
		t.Fatalf("account id misread as sentinel")
	}
}

func TestOperationErrorCarriesSegments(t *testing.T) {
	t.Parallel()
	wrapped := WrapError("consume", "voucher", "bad_status", ErrBadStatus)
	if !errors.Is(wrapped, ErrBadStatus) {
		t.Fatalf("expected unwrap to ErrBadStatus, got %v", wrapped)
	}
	var operationError OperationError
	if !errors.As(wrapped, &operationError) {
		t.Fatalf("expected OperationError, got %T", wrapped)
	}
	if operationError.Operation() != "consume" || operationError.Subject() != "voucher" || operationError.Code() != "bad_status" {
		t.Fatalf("unexpected segments: %v", operationError)
	}
	if WrapError("op", "subject", "code", nil) != nil {
		t.Fatalf("expected nil passthrough for nil error")
	}
}
