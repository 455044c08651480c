package bank

import (
	"context"
	"fmt"
	"testing"
)

// stubStore is an in-memory Store without conflict detection; the
// transaction body runs exactly once against the store itself.
type stubStore struct {
	summaries     map[string]Summary
	contributions map[string]ContributionRecord
	vouchers      map[string]Voucher
	index         map[string]IndexEntry
	audits        []AuditRecord
}

func newStubStore() *stubStore {
	return &stubStore{
		summaries:     make(map[string]Summary),
		contributions: make(map[string]ContributionRecord),
		vouchers:      make(map[string]Voucher),
		index:         make(map[string]IndexEntry),
	}
}

func (s *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, s)
}

func (s *stubStore) GetSummary(ctx context.Context, accountID AccountID) (Summary, bool, error) {
	summary, ok := s.summaries[accountID.String()]
	return summary, ok, nil
}

func (s *stubStore) PutSummary(ctx context.Context, summary Summary) error {
	s.summaries[summary.AccountID.String()] = summary
	return nil
}

func (s *stubStore) HasContribution(ctx context.Context, accountID AccountID, rideID RideID) (bool, error) {
	_, ok := s.contributions[contributionStubKey(accountID, rideID)]
	return ok, nil
}

func (s *stubStore) PutContribution(ctx context.Context, record ContributionRecord) error {
	s.contributions[contributionStubKey(record.AccountID, record.RideID)] = record
	return nil
}

func (s *stubStore) GetVoucher(ctx context.Context, ownerID AccountID, value CodeValue) (Voucher, bool, error) {
	voucher, ok := s.vouchers[voucherStubKey(ownerID, value)]
	return voucher, ok, nil
}

func (s *stubStore) PutVoucher(ctx context.Context, voucher Voucher) error {
	s.vouchers[voucherStubKey(voucher.OwnerID, voucher.Value)] = voucher
	return nil
}

func (s *stubStore) GetIndexEntry(ctx context.Context, value CodeValue) (IndexEntry, bool, error) {
	entry, ok := s.index[value.String()]
	return entry, ok, nil
}

func (s *stubStore) InsertIndexEntry(ctx context.Context, entry IndexEntry) error {
	if _, taken := s.index[entry.Value.String()]; taken {
		return WrapError("store", "index", "conflict", ErrStoreConflict)
	}
	s.index[entry.Value.String()] = entry
	return nil
}

func (s *stubStore) PutIndexEntry(ctx context.Context, entry IndexEntry) error {
	s.index[entry.Value.String()] = entry
	return nil
}

func (s *stubStore) AppendAudit(ctx context.Context, record AuditRecord) error {
	s.audits = append(s.audits, record)
	return nil
}

func (s *stubStore) mustVoucher(t *testing.T, ownerID AccountID, value CodeValue) Voucher {
	t.Helper()
	voucher, ok := s.vouchers[voucherStubKey(ownerID, value)]
	if !ok {
		t.Fatalf("voucher %s for %s not found", value.String(), ownerID.String())
	}
	return voucher
}

func (s *stubStore) mustIndexEntry(t *testing.T, value CodeValue) IndexEntry {
	t.Helper()
	entry, ok := s.index[value.String()]
	if !ok {
		t.Fatalf("index entry %s not found", value.String())
	}
	return entry
}

func (s *stubStore) mustSummary(t *testing.T, accountID AccountID) Summary {
	t.Helper()
	summary, ok := s.summaries[accountID.String()]
	if !ok {
		t.Fatalf("summary for %s not found", accountID.String())
	}
	return summary
}

func contributionStubKey(accountID AccountID, rideID RideID) string {
	return accountID.String() + "/" + rideID.String()
}

func voucherStubKey(ownerID AccountID, value CodeValue) string {
	return ownerID.String() + "/" + value.String()
}

// stubDirectory resolves only the emails it was seeded with.
type stubDirectory struct {
	accounts map[string]AccountID
}

func (d *stubDirectory) LookupAccountByEmail(ctx context.Context, email Email) (AccountID, bool, error) {
	accountID, ok := d.accounts[email.String()]
	return accountID, ok, nil
}

// stubNotifier records sent notices and optionally fails.
type stubNotifier struct {
	notices []GiftNotice
	err     error
}

func (n *stubNotifier) SendGiftNotice(ctx context.Context, notice GiftNotice) error {
	if n.err != nil {
		return n.err
	}
	n.notices = append(n.notices, notice)
	return nil
}

// --- domain helper constructors ---

func fixedClock(nowUnixUTC int64) func() int64 {
	return func() int64 { return nowUnixUTC }
}

// sequenceGenerator hands out tokens from a fixed list, for deterministic
// mint values.
func sequenceGenerator(t *testing.T, raws ...string) ValueGenerator {
	t.Helper()
	values := make([]CodeValue, 0, len(raws))
	for _, raw := range raws {
		values = append(values, mustCodeValue(t, raw))
	}
	next := 0
	return func() (CodeValue, error) {
		if next >= len(values) {
			return CodeValue{}, fmt.Errorf("sequence generator exhausted after %d values", len(values))
		}
		value := values[next]
		next++
		return value, nil
	}
}

func mustNewLifecycle(t *testing.T, store Store, options ...LifecycleOption) *CodeLifecycle {
	t.Helper()
	lifecycle, err := NewCodeLifecycle(store, fixedClock(1700000000), options...)
	if err != nil {
		t.Fatalf("new lifecycle: %v", err)
	}
	return lifecycle
}

func mustNewAccrual(t *testing.T, store Store, lifecycle *CodeLifecycle) *AccrualEngine {
	t.Helper()
	engine, err := NewAccrualEngine(store, lifecycle, fixedClock(1700000000))
	if err != nil {
		t.Fatalf("new accrual engine: %v", err)
	}
	return engine
}

func mustNewTransfer(t *testing.T, store Store, directory Directory, notifier Notifier) *TransferService {
	t.Helper()
	service, err := NewTransferService(store, directory, notifier, fixedClock(1700000000))
	if err != nil {
		t.Fatalf("new transfer service: %v", err)
	}
	return service
}

func mustAccountID(t *testing.T, raw string) AccountID {
	t.Helper()
	accountID, err := NewAccountID(raw)
	if err != nil {
		t.Fatalf("account id: %v", err)
	}
	return accountID
}

func mustRideID(t *testing.T, raw string) RideID {
	t.Helper()
	rideID, err := NewRideID(raw)
	if err != nil {
		t.Fatalf("ride id: %v", err)
	}
	return rideID
}

func mustCodeValue(t *testing.T, raw string) CodeValue {
	t.Helper()
	value, err := NewCodeValue(raw)
	if err != nil {
		t.Fatalf("code value: %v", err)
	}
	return value
}

func mustEmail(t *testing.T, raw string) Email {
	t.Helper()
	email, err := NewEmail(raw)
	if err != nil {
		t.Fatalf("email: %v", err)
	}
	return email
}

// seedActiveVoucher installs a freshly minted voucher with its index entry
// and a summary holding one available code.
func seedActiveVoucher(t *testing.T, store *stubStore, ownerID AccountID, value CodeValue) {
	t.Helper()
	store.vouchers[voucherStubKey(ownerID, value)] = Voucher{
		Value:            value,
		OwnerID:          ownerID,
		Status:           CodeStatusActive,
		MaxMiles:         VoucherMaxMiles,
		OriginalOwnerUID: ownerID,
		Transferable:     true,
		CreatedUnixUTC:   1690000000,
	}
	store.index[value.String()] = IndexEntry{
		Value:        value,
		CurrentOwner: ownerID.String(),
		Location:     ownerID,
	}
	summary := store.summaries[ownerID.String()]
	summary.AccountID = ownerID
	summary.CodesEarned++
	summary.CodesAvailable++
	store.summaries[ownerID.String()] = summary
}
