package bank

import (
	"context"
	"fmt"
)

// AccrualEngine consumes ride-completion events, deduplicates per ride, and
// triggers a mint on every MintCadence-th eligible ride.
type AccrualEngine struct {
	store     Store
	lifecycle *CodeLifecycle
	nowFn     func() int64
	logger    OperationLogger
}

// AccrualOption configures an AccrualEngine.
type AccrualOption func(*AccrualEngine)

// WithAccrualLogger wires an operation logger.
func WithAccrualLogger(logger OperationLogger) AccrualOption {
	return func(engine *AccrualEngine) {
		engine.logger = logger
	}
}

// NewAccrualEngine wires an AccrualEngine.
func NewAccrualEngine(store Store, lifecycle *CodeLifecycle, now func() int64, options ...AccrualOption) (*AccrualEngine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if lifecycle == nil {
		return nil, fmt.Errorf("%w: lifecycle dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	engine := &AccrualEngine{store: store, lifecycle: lifecycle, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(engine)
		}
	}
	return engine, nil
}

// RecordEligibleRide counts a completed ride toward the next mint. Rides
// below the distance threshold are a no-op. Replays of an already-counted
// ride id return the eligible result without touching the ledger. The
// dedup check, counter increments, and any mint all commit in one
// transaction, with the uniqueness probe completing before the first write.
func (engine *AccrualEngine) RecordEligibleRide(ctx context.Context, accountID AccountID, rideID RideID, distanceMiles float64) (AccrualResult, error) {
	if distanceMiles < 0 {
		return AccrualResult{}, fmt.Errorf("%w: negative miles", ErrInvalidDistance)
	}
	if distanceMiles < EligibleDistanceMiles {
		logOperation(ctx, engine.logger, OperationLog{
			Operation: operationAccrual,
			AccountID: accountID,
			RideID:    rideID.String(),
			Status:    operationStatusSkipped,
		})
		return AccrualResult{Eligible: false}, nil
	}

	result := AccrualResult{Eligible: true}
	operationError := engine.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		result.Minted = nil

		counted, err := tx.HasContribution(ctx, accountID, rideID)
		if err != nil {
			return err
		}
		if counted {
			return nil
		}
		summary, found, err := tx.GetSummary(ctx, accountID)
		if err != nil {
			return err
		}
		if !found {
			summary = Summary{AccountID: accountID}
		}

		nextEligible := summary.EligibleCount + 1
		minting := nextEligible%MintCadence == 0
		var mintValue CodeValue
		if minting {
			mintValue, err = engine.lifecycle.probeFreeValue(ctx, tx)
			if err != nil {
				return err
			}
		}

		nowUnixUTC := engine.nowFn()
		if err := tx.PutContribution(ctx, ContributionRecord{
			AccountID:      accountID,
			RideID:         rideID,
			CreatedUnixUTC: nowUnixUTC,
		}); err != nil {
			return err
		}
		summary.EligibleCount = nextEligible
		summary.TotalEligible++
		if minting {
			if err := engine.lifecycle.writeMint(ctx, tx, accountID, mintValue, nowUnixUTC); err != nil {
				return err
			}
			summary.CodesEarned++
			summary.CodesAvailable++
			result.Minted = &mintValue
		}
		return tx.PutSummary(ctx, summary)
	})
	if operationError != nil {
		result = AccrualResult{}
	}

	entry := OperationLog{
		Operation: operationAccrual,
		AccountID: accountID,
		RideID:    rideID.String(),
		Error:     operationError,
	}
	if result.Minted != nil {
		entry.Operation = operationMint
		entry.Value = *result.Minted
	}
	logOperation(ctx, engine.logger, entry)
	return result, operationError
}

// Summary returns the account's bank summary, zero-valued when the account
// has no activity yet.
func (engine *AccrualEngine) Summary(ctx context.Context, accountID AccountID) (Summary, error) {
	summary, found, err := engine.store.GetSummary(ctx, accountID)
	if err != nil {
		return Summary{}, err
	}
	if !found {
		summary = Summary{AccountID: accountID}
	}
	return summary, nil
}
