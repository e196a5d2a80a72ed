package ledgerstore

import (
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"lendledger/native/credit"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "ledger.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func testAddr(b byte) [20]byte {
	var a [20]byte
	a[0] = b
	return a
}

func TestStoreRoundTripsRecords(t *testing.T) {
	store := openTestStore(t)
	line := testAddr(1)
	borrower := testAddr(2)

	err := store.Update(func(tx *TxState) error {
		if err := tx.PutCreditLine(line, &credit.CreditLineState{Lender: testAddr(3)}); err != nil {
			return err
		}
		if err := tx.PutBorrowerConfig(line, borrower, &credit.BorrowerConfig{
			Expiration:      1 << 40,
			MinBorrowAmount: big.NewInt(100),
			MaxBorrowAmount: big.NewInt(10_000),
		}); err != nil {
			return err
		}
		return tx.PutBorrowerState(line, borrower, &credit.BorrowerState{
			ActiveLoanCount:       2,
			TotalActiveLoanAmount: big.NewInt(5_000),
			TotalClosedLoanAmount: big.NewInt(0),
			Allowance:             big.NewInt(5_000),
		})
	})
	require.NoError(t, err)

	require.NoError(t, store.View(func(tx *TxState) error {
		lineState, err := tx.GetCreditLine(line)
		require.NoError(t, err)
		require.NotNil(t, lineState)
		require.Equal(t, testAddr(3), lineState.Lender)

		cfg, err := tx.GetBorrowerConfig(line, borrower)
		require.NoError(t, err)
		require.NotNil(t, cfg)
		require.Zero(t, cfg.MaxBorrowAmount.Cmp(big.NewInt(10_000)))

		state, err := tx.GetBorrowerState(line, borrower)
		require.NoError(t, err)
		require.NotNil(t, state)
		require.Equal(t, uint32(2), state.ActiveLoanCount)
		require.Zero(t, state.TotalActiveLoanAmount.Cmp(big.NewInt(5_000)))
		return nil
	}))
}

func TestStoreMissingRecordsReturnNil(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.View(func(tx *TxState) error {
		lineState, err := tx.GetCreditLine(testAddr(9))
		require.NoError(t, err)
		require.Nil(t, lineState)

		cfg, err := tx.GetBorrowerConfig(testAddr(9), testAddr(8))
		require.NoError(t, err)
		require.Nil(t, cfg)

		loan, err := tx.GetLoan(42)
		require.NoError(t, err)
		require.Nil(t, loan)
		return nil
	}))
}

func TestStoreLoanSequenceAndRollback(t *testing.T) {
	store := openTestStore(t)

	var first uint64
	require.NoError(t, store.Update(func(tx *TxState) error {
		id, err := tx.NextLoanID()
		if err != nil {
			return err
		}
		first = id
		return tx.PutLoan(id, &credit.Loan{
			Borrower:       testAddr(1),
			Token:          testAddr(2),
			BorrowAmount:   big.NewInt(1_000),
			TrackedBalance: big.NewInt(1_000),
			RepaidAmount:   big.NewInt(0),
			AddonAmount:    big.NewInt(0),
		})
	}))
	require.Equal(t, uint64(1), first)

	// A failing update discards both the loan write and the allocated id.
	boom := errors.New("abort")
	err := store.Update(func(tx *TxState) error {
		id, err := tx.NextLoanID()
		if err != nil {
			return err
		}
		if err := tx.PutLoan(id, &credit.Loan{Token: testAddr(3), TrackedBalance: big.NewInt(1)}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, store.View(func(tx *TxState) error {
		loan, err := tx.GetLoan(2)
		require.NoError(t, err)
		require.Nil(t, loan)
		return nil
	}))

	require.NoError(t, store.Update(func(tx *TxState) error {
		id, err := tx.NextLoanID()
		if err != nil {
			return err
		}
		require.Equal(t, uint64(2), id)
		return nil
	}))
}

func TestStoreLoanRoundTripPreservesAmounts(t *testing.T) {
	store := openTestStore(t)
	in := &credit.Loan{
		Borrower:              testAddr(1),
		Lender:                testAddr(2),
		CreditLine:            testAddr(3),
		Token:                 testAddr(4),
		Treasury:              testAddr(5),
		StartTimestamp:        1_000,
		TrackedTimestamp:      1_300,
		PeriodLength:          100,
		RateFactor:            1_000_000,
		InterestRatePrecision: 1,
		DurationInPeriods:     5,
		InterestRatePrimary:   5_000,
		InterestRateSecondary: 10_000,
		BorrowAmount:          big.NewInt(5_000_000_000),
		AddonAmount:           big.NewInt(120),
		RepaidAmount:          big.NewInt(500),
		TrackedBalance:        big.NewInt(5_126_039_477),
		AutoRepayment:         true,
	}
	require.NoError(t, store.Update(func(tx *TxState) error {
		return tx.PutLoan(7, in)
	}))
	require.NoError(t, store.View(func(tx *TxState) error {
		out, err := tx.GetLoan(7)
		require.NoError(t, err)
		require.NotNil(t, out)
		require.Equal(t, in, out)
		return nil
	}))
}
