package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/nunster3000/rydr-app-sub000/pkg/bank"
)

func TestWithTxCommitsBufferedWrites(t *testing.T) {
	t.Parallel()
	store := New()
	accountID := mustAccountID(t, "acct-1")

	err := store.WithTx(context.Background(), func(ctx context.Context, tx bank.Store) error {
		summary, found, err := tx.GetSummary(ctx, accountID)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("expected empty store")
		}
		summary = bank.Summary{AccountID: accountID, EligibleCount: 1, TotalEligible: 1}
		return tx.PutSummary(ctx, summary)
	})
	if err != nil {
		t.Fatalf("with tx: %v", err)
	}

	summary, found, err := store.GetSummary(context.Background(), accountID)
	if err != nil || !found {
		t.Fatalf("get summary: found=%v err=%v", found, err)
	}
	if summary.EligibleCount != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestWithTxDoesNotCommitOnBodyError(t *testing.T) {
	t.Parallel()
	store := New()
	accountID := mustAccountID(t, "acct-2")
	bodyErr := errors.New("abort")

	err := store.WithTx(context.Background(), func(ctx context.Context, tx bank.Store) error {
		if err := tx.PutSummary(ctx, bank.Summary{AccountID: accountID, EligibleCount: 9}); err != nil {
			return err
		}
		return bodyErr
	})
	if !errors.Is(err, bodyErr) {
		t.Fatalf("expected body error, got %v", err)
	}
	if _, found, _ := store.GetSummary(context.Background(), accountID); found {
		t.Fatalf("expected no commit after body error")
	}
}

func TestWithTxRejectsReadAfterWrite(t *testing.T) {
	t.Parallel()
	store := New()
	accountID := mustAccountID(t, "acct-3")

	err := store.WithTx(context.Background(), func(ctx context.Context, tx bank.Store) error {
		if err := tx.PutSummary(ctx, bank.Summary{AccountID: accountID}); err != nil {
			return err
		}
		_, _, err := tx.GetSummary(ctx, accountID)
		return err
	})
	if !errors.Is(err, bank.ErrReadAfterWrite) {
		t.Fatalf("expected ErrReadAfterWrite, got %v", err)
	}
}

func TestWithTxRetriesOnWriteConflict(t *testing.T) {
	t.Parallel()
	store := New()
	accountID := mustAccountID(t, "acct-4")
	if err := store.PutSummary(context.Background(), bank.Summary{AccountID: accountID, EligibleCount: 1}); err != nil {
		t.Fatalf("seed summary: %v", err)
	}

	attempts := 0
	err := store.WithTx(context.Background(), func(ctx context.Context, tx bank.Store) error {
		attempts++
		summary, _, err := tx.GetSummary(ctx, accountID)
		if err != nil {
			return err
		}
		if attempts == 1 {
			// Interfere after the read so the first commit fails.
			interfered := summary
			interfered.TotalEligible = 99
			if err := store.PutSummary(ctx, interfered); err != nil {
				return err
			}
		}
		summary.EligibleCount++
		return tx.PutSummary(ctx, summary)
	})
	if err != nil {
		t.Fatalf("with tx: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected one retry, got %d attempts", attempts)
	}
	summary, _, _ := store.GetSummary(context.Background(), accountID)
	if summary.EligibleCount != 2 || summary.TotalEligible != 99 {
		t.Fatalf("expected retry to observe interference, got %+v", summary)
	}
}

func TestWithTxGivesUpAfterBoundedAttempts(t *testing.T) {
	t.Parallel()
	store := New()
	accountID := mustAccountID(t, "acct-5")

	attempts := 0
	err := store.WithTx(context.Background(), func(ctx context.Context, tx bank.Store) error {
		attempts++
		if _, _, err := tx.GetSummary(ctx, accountID); err != nil {
			return err
		}
		// Interfere on every attempt; the commit can never succeed.
		if err := store.PutSummary(ctx, bank.Summary{AccountID: accountID, EligibleCount: int64(attempts)}); err != nil {
			return err
		}
		return tx.PutSummary(ctx, bank.Summary{AccountID: accountID})
	})
	if !errors.Is(err, bank.ErrStoreConflict) {
		t.Fatalf("expected ErrStoreConflict, got %v", err)
	}
	if attempts != maxTxAttempts {
		t.Fatalf("expected %d attempts, got %d", maxTxAttempts, attempts)
	}
}

func TestAuditsCommitWithTransaction(t *testing.T) {
	t.Parallel()
	store := New()
	accountID := mustAccountID(t, "acct-6")

	err := store.WithTx(context.Background(), func(ctx context.Context, tx bank.Store) error {
		if err := tx.PutSummary(ctx, bank.Summary{AccountID: accountID}); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, bank.AuditRecord{AuditID: "audit-1", Action: "transfer"})
	})
	if err != nil {
		t.Fatalf("with tx: %v", err)
	}
	audits := store.Audits()
	if len(audits) != 1 || audits[0].AuditID != "audit-1" {
		t.Fatalf("unexpected audits: %+v", audits)
	}
}

// Concurrent riders hammer one account; every ride must be counted exactly
// once and every minted value must be unique.
func TestConcurrentAccrualStaysConsistent(t *testing.T) {
	t.Parallel()
	store := New()
	lifecycle, err := bank.NewCodeLifecycle(store, func() int64 { return 1700000000 })
	if err != nil {
		t.Fatalf("new lifecycle: %v", err)
	}
	engine, err := bank.NewAccrualEngine(store, lifecycle, func() int64 { return 1700000000 })
	if err != nil {
		t.Fatalf("new accrual engine: %v", err)
	}
	accountID := mustAccountID(t, "acct-hot")

	const totalRides = 40
	const workers = 4
	rides := make(chan int, totalRides)
	for rideIndex := 0; rideIndex < totalRides; rideIndex++ {
		rides <- rideIndex
	}
	close(rides)

	var (
		mu     sync.Mutex
		minted []string
	)
	var wg sync.WaitGroup
	for worker := 0; worker < workers; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rideIndex := range rides {
				rideID := mustRideID(t, fmt.Sprintf("ride-%03d", rideIndex))
				for {
					result, err := engine.RecordEligibleRide(context.Background(), accountID, rideID, 10)
					if errors.Is(err, bank.ErrStoreConflict) {
						continue
					}
					if err != nil {
						t.Errorf("record ride %d: %v", rideIndex, err)
						return
					}
					if result.Minted != nil {
						mu.Lock()
						minted = append(minted, result.Minted.String())
						mu.Unlock()
					}
					break
				}
			}
		}()
	}
	wg.Wait()

	summary, found, err := store.GetSummary(context.Background(), accountID)
	if err != nil || !found {
		t.Fatalf("get summary: found=%v err=%v", found, err)
	}
	if summary.EligibleCount != totalRides || summary.TotalEligible != totalRides {
		t.Fatalf("expected %d counted rides, got %+v", totalRides, summary)
	}
	expectedMints := int64(totalRides / bank.MintCadence)
	if summary.CodesEarned != expectedMints || summary.CodesAvailable != expectedMints {
		t.Fatalf("expected %d mints, got %+v", expectedMints, summary)
	}
	if int64(len(minted)) != expectedMints {
		t.Fatalf("expected %d minted values, got %v", expectedMints, minted)
	}
	seen := make(map[string]struct{}, len(minted))
	for _, value := range minted {
		if _, dup := seen[value]; dup {
			t.Fatalf("duplicate minted value %q", value)
		}
		seen[value] = struct{}{}
	}
}

func TestInsertIndexEntryRejectsClaimedValue(t *testing.T) {
	t.Parallel()
	store := New()
	value := mustCodeValue(t, "RYDR-TU67-VW89")
	winner := mustAccountID(t, "acct-winner")

	if err := store.InsertIndexEntry(context.Background(), bank.IndexEntry{
		Value:        value,
		CurrentOwner: winner.String(),
		Location:     winner,
	}); err != nil {
		t.Fatalf("insert index entry: %v", err)
	}

	err := store.WithTx(context.Background(), func(ctx context.Context, tx bank.Store) error {
		return tx.InsertIndexEntry(ctx, bank.IndexEntry{
			Value:        value,
			CurrentOwner: "acct-loser",
		})
	})
	if !errors.Is(err, bank.ErrStoreConflict) {
		t.Fatalf("expected ErrStoreConflict, got %v", err)
	}

	entry, _, err := store.GetIndexEntry(context.Background(), value)
	if err != nil {
		t.Fatalf("get index entry: %v", err)
	}
	if entry.CurrentOwner != winner.String() {
		t.Fatalf("expected winner's claim kept, got %+v", entry)
	}
}

func TestInsertIndexEntryLosesRaceAtCommit(t *testing.T) {
	t.Parallel()
	store := New()
	value := mustCodeValue(t, "RYDR-TU67-XY23")
	winner := mustAccountID(t, "acct-winner")

	attempts := 0
	sawTaken := false
	err := store.WithTx(context.Background(), func(ctx context.Context, tx bank.Store) error {
		attempts++
		_, found, err := tx.GetIndexEntry(ctx, value)
		if err != nil {
			return err
		}
		if found {
			sawTaken = true
			return nil
		}
		if attempts == 1 {
			// Another writer claims the value after our probe read.
			if err := store.InsertIndexEntry(context.Background(), bank.IndexEntry{
				Value:        value,
				CurrentOwner: winner.String(),
				Location:     winner,
			}); err != nil {
				return err
			}
		}
		return tx.InsertIndexEntry(ctx, bank.IndexEntry{
			Value:        value,
			CurrentOwner: "acct-loser",
		})
	})
	if err != nil {
		t.Fatalf("with tx: %v", err)
	}
	if attempts != 2 || !sawTaken {
		t.Fatalf("expected retry to observe the claimed value, attempts=%d sawTaken=%v", attempts, sawTaken)
	}

	entry, _, err := store.GetIndexEntry(context.Background(), value)
	if err != nil {
		t.Fatalf("get index entry: %v", err)
	}
	if entry.CurrentOwner != winner.String() {
		t.Fatalf("expected winner's claim kept, got %+v", entry)
	}
}

func mustAccountID(t *testing.T, raw string) bank.AccountID {
	t.Helper()
	accountID, err := bank.NewAccountID(raw)
	if err != nil {
		t.Fatalf("account id: %v", err)
	}
	return accountID
}

func mustRideID(t *testing.T, raw string) bank.RideID {
	t.Helper()
	rideID, err := bank.NewRideID(raw)
	if err != nil {
		t.Fatalf("ride id: %v", err)
	}
	return rideID
}

func mustCodeValue(t *testing.T, raw string) bank.CodeValue {
	t.Helper()
	value, err := bank.NewCodeValue(raw)
	if err != nil {
		t.Fatalf("code value: %v", err)
	}
	return value
}
