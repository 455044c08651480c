package bank

import "context"

// Store is the persistence contract shared by all bank services. A Store
// hands out transactional views of itself through WithTx; the transactional
// view must satisfy two properties inherited from the backing document
// store:
//
//   - every read must be issued before any write in the same transaction
//     (a read after the first write fails with ErrReadAfterWrite), and
//   - the transaction body may be invoked more than once when an optimistic
//     write conflict is detected at commit, so the body must stay free of
//     externally visible side effects.
//
// Bounded conflict retries are the store's responsibility; when they are
// exhausted the caller sees ErrStoreConflict.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	GetSummary(ctx context.Context, accountID AccountID) (Summary, bool, error)
	PutSummary(ctx context.Context, summary Summary) error

	HasContribution(ctx context.Context, accountID AccountID, rideID RideID) (bool, error)
	PutContribution(ctx context.Context, record ContributionRecord) error

	GetVoucher(ctx context.Context, ownerID AccountID, value CodeValue) (Voucher, bool, error)
	PutVoucher(ctx context.Context, voucher Voucher) error

	GetIndexEntry(ctx context.Context, value CodeValue) (IndexEntry, bool, error)
	// InsertIndexEntry claims a value for a freshly minted voucher. When a
	// concurrent writer claimed the same value it fails with
	// ErrStoreConflict, so the retried transaction probes a new candidate.
	InsertIndexEntry(ctx context.Context, entry IndexEntry) error
	// PutIndexEntry updates an entry that already exists.
	PutIndexEntry(ctx context.Context, entry IndexEntry) error

	AppendAudit(ctx context.Context, record AuditRecord) error
}

// Directory resolves recipient emails against the external account
// directory. Lookups happen outside store transactions.
type Directory interface {
	LookupAccountByEmail(ctx context.Context, email Email) (AccountID, bool, error)
}

// Notifier delivers the gift notice after a transfer commit. Delivery is
// best-effort; failures never roll back the transfer.
type Notifier interface {
	SendGiftNotice(ctx context.Context, notice GiftNotice) error
}
