// Package memstore is an in-memory LedgerStore with optimistic
// transactions: reads snapshot document versions, writes are buffered, and
// the commit fails when any read document changed underneath. Conflicted
// transaction bodies are re-invoked up to a bounded attempt count. It backs
// local runs and the contention tests.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/nunster3000/rydr-app-sub000/pkg/bank"
)

const maxTxAttempts = 5

type document struct {
	version int64
	payload any
}

// Store holds every document kind in one versioned keyspace.
type Store struct {
	mu     sync.Mutex
	docs   map[string]document
	audits []bank.AuditRecord
}

// New returns an empty Store.
func New() *Store {
	return &Store{docs: make(map[string]document)}
}

// WithTx runs fn against a transactional view, retrying on write conflict.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx bank.Store) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		tx := &txView{
			base:   store,
			reads:  make(map[string]int64),
			writes: make(map[string]any),
		}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if store.commit(tx) {
			return nil
		}
	}
	return bank.WrapError("store", "tx", "conflict", bank.ErrStoreConflict)
}

func (store *Store) commit(tx *txView) bool {
	store.mu.Lock()
	defer store.mu.Unlock()
	for key, readVersion := range tx.reads {
		if store.docs[key].version != readVersion {
			return false
		}
	}
	for key, payload := range tx.writes {
		store.docs[key] = document{version: store.docs[key].version + 1, payload: payload}
	}
	store.audits = append(store.audits, tx.audits...)
	return true
}

func (store *Store) read(key string) (any, int64) {
	store.mu.Lock()
	defer store.mu.Unlock()
	doc := store.docs[key]
	return doc.payload, doc.version
}

func (store *Store) write(key string, payload any) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.docs[key] = document{version: store.docs[key].version + 1, payload: payload}
}

// Audits returns a copy of every committed audit record.
func (store *Store) Audits() []bank.AuditRecord {
	store.mu.Lock()
	defer store.mu.Unlock()
	audits := make([]bank.AuditRecord, len(store.audits))
	copy(audits, store.audits)
	return audits
}

// Non-transactional reads and writes operate on committed state directly.

func (store *Store) GetSummary(_ context.Context, accountID bank.AccountID) (bank.Summary, bool, error) {
	payload, _ := store.read(summaryKey(accountID))
	return asSummary(payload)
}

func (store *Store) PutSummary(_ context.Context, summary bank.Summary) error {
	store.write(summaryKey(summary.AccountID), summary)
	return nil
}

func (store *Store) HasContribution(_ context.Context, accountID bank.AccountID, rideID bank.RideID) (bool, error) {
	payload, _ := store.read(contributionKey(accountID, rideID))
	return payload != nil, nil
}

func (store *Store) PutContribution(_ context.Context, record bank.ContributionRecord) error {
	store.write(contributionKey(record.AccountID, record.RideID), record)
	return nil
}

func (store *Store) GetVoucher(_ context.Context, ownerID bank.AccountID, value bank.CodeValue) (bank.Voucher, bool, error) {
	payload, _ := store.read(voucherKey(ownerID, value))
	return asVoucher(payload)
}

func (store *Store) PutVoucher(_ context.Context, voucher bank.Voucher) error {
	store.write(voucherKey(voucher.OwnerID, voucher.Value), voucher)
	return nil
}

func (store *Store) GetIndexEntry(_ context.Context, value bank.CodeValue) (bank.IndexEntry, bool, error) {
	payload, _ := store.read(indexKey(value))
	return asIndexEntry(payload)
}

func (store *Store) InsertIndexEntry(_ context.Context, entry bank.IndexEntry) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	key := indexKey(entry.Value)
	if store.docs[key].payload != nil {
		return bank.WrapError("store", "index", "conflict", bank.ErrStoreConflict)
	}
	store.docs[key] = document{version: store.docs[key].version + 1, payload: entry}
	return nil
}

func (store *Store) PutIndexEntry(_ context.Context, entry bank.IndexEntry) error {
	store.write(indexKey(entry.Value), entry)
	return nil
}

func (store *Store) AppendAudit(_ context.Context, record bank.AuditRecord) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.audits = append(store.audits, record)
	return nil
}

// txView buffers writes and tracks read versions. It refuses reads issued
// after the first write, matching the backing store's transaction contract.
type txView struct {
	base   *Store
	reads  map[string]int64
	writes map[string]any
	audits []bank.AuditRecord
	wrote  bool
}

func (tx *txView) WithTx(ctx context.Context, fn func(ctx context.Context, inner bank.Store) error) error {
	return fn(ctx, tx)
}

func (tx *txView) get(key string) (any, error) {
	if tx.wrote {
		return nil, bank.WrapError("store", "tx", "read_after_write", bank.ErrReadAfterWrite)
	}
	payload, version := tx.base.read(key)
	tx.reads[key] = version
	return payload, nil
}

func (tx *txView) put(key string, payload any) {
	tx.wrote = true
	tx.writes[key] = payload
}

func (tx *txView) GetSummary(_ context.Context, accountID bank.AccountID) (bank.Summary, bool, error) {
	payload, err := tx.get(summaryKey(accountID))
	if err != nil {
		return bank.Summary{}, false, err
	}
	return asSummary(payload)
}

func (tx *txView) PutSummary(_ context.Context, summary bank.Summary) error {
	tx.put(summaryKey(summary.AccountID), summary)
	return nil
}

func (tx *txView) HasContribution(_ context.Context, accountID bank.AccountID, rideID bank.RideID) (bool, error) {
	payload, err := tx.get(contributionKey(accountID, rideID))
	if err != nil {
		return false, err
	}
	return payload != nil, nil
}

func (tx *txView) PutContribution(_ context.Context, record bank.ContributionRecord) error {
	tx.put(contributionKey(record.AccountID, record.RideID), record)
	return nil
}

func (tx *txView) GetVoucher(_ context.Context, ownerID bank.AccountID, value bank.CodeValue) (bank.Voucher, bool, error) {
	payload, err := tx.get(voucherKey(ownerID, value))
	if err != nil {
		return bank.Voucher{}, false, err
	}
	return asVoucher(payload)
}

func (tx *txView) PutVoucher(_ context.Context, voucher bank.Voucher) error {
	tx.put(voucherKey(voucher.OwnerID, voucher.Value), voucher)
	return nil
}

func (tx *txView) GetIndexEntry(_ context.Context, value bank.CodeValue) (bank.IndexEntry, bool, error) {
	payload, err := tx.get(indexKey(value))
	if err != nil {
		return bank.IndexEntry{}, false, err
	}
	return asIndexEntry(payload)
}

// InsertIndexEntry pins the entry's committed version even when the caller
// skipped the uniqueness probe, so a racing claim of the same value fails
// the commit check instead of overwriting the winner.
func (tx *txView) InsertIndexEntry(_ context.Context, entry bank.IndexEntry) error {
	key := indexKey(entry.Value)
	if _, read := tx.reads[key]; !read {
		payload, version := tx.base.read(key)
		if payload != nil {
			return bank.WrapError("store", "index", "conflict", bank.ErrStoreConflict)
		}
		tx.reads[key] = version
	}
	tx.put(key, entry)
	return nil
}

func (tx *txView) PutIndexEntry(_ context.Context, entry bank.IndexEntry) error {
	tx.put(indexKey(entry.Value), entry)
	return nil
}

func (tx *txView) AppendAudit(_ context.Context, record bank.AuditRecord) error {
	tx.wrote = true
	tx.audits = append(tx.audits, record)
	return nil
}

func summaryKey(accountID bank.AccountID) string {
	return fmt.Sprintf("summary/%s", accountID.String())
}

func contributionKey(accountID bank.AccountID, rideID bank.RideID) string {
	return fmt.Sprintf("contribution/%s/%s", accountID.String(), rideID.String())
}

func voucherKey(ownerID bank.AccountID, value bank.CodeValue) string {
	return fmt.Sprintf("voucher/%s/%s", ownerID.String(), value.String())
}

func indexKey(value bank.CodeValue) string {
	return fmt.Sprintf("index/%s", value.String())
}

func asSummary(payload any) (bank.Summary, bool, error) {
	if payload == nil {
		return bank.Summary{}, false, nil
	}
	summary, ok := payload.(bank.Summary)
	if !ok {
		return bank.Summary{}, false, fmt.Errorf("unexpected summary payload %T", payload)
	}
	return summary, true, nil
}

func asVoucher(payload any) (bank.Voucher, bool, error) {
	if payload == nil {
		return bank.Voucher{}, false, nil
	}
	voucher, ok := payload.(bank.Voucher)
	if !ok {
		return bank.Voucher{}, false, fmt.Errorf("unexpected voucher payload %T", payload)
	}
	return voucher, true, nil
}

func asIndexEntry(payload any) (bank.IndexEntry, bool, error) {
	if payload == nil {
		return bank.IndexEntry{}, false, nil
	}
	entry, ok := payload.(bank.IndexEntry)
	if !ok {
		return bank.IndexEntry{}, false, fmt.Errorf("unexpected index payload %T", payload)
	}
	return entry, true, nil
}
