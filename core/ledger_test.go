package core

import (
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"lendledger/core/events"
	"lendledger/native/credit"
	"lendledger/storage/ledgerstore"
)

func addr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

var (
	lender    = addr(0x01)
	borrower  = addr(0x02)
	authority = addr(0x03)
	lineAddr  = addr(0x04)
	token     = addr(0xAA)
	treasury  = addr(0xBB)
)

type memBank struct {
	balances map[[20]byte]*big.Int
	failNext bool
}

func newMemBank() *memBank {
	return &memBank{balances: make(map[[20]byte]*big.Int)}
}

func (b *memBank) credit(account [20]byte, amount int64) {
	b.balances[account] = big.NewInt(amount)
}

func (b *memBank) balance(account [20]byte) *big.Int {
	if v, ok := b.balances[account]; ok {
		return v
	}
	return big.NewInt(0)
}

func (b *memBank) Transfer(_, from, to [20]byte, amount *big.Int) error {
	if b.failNext {
		b.failNext = false
		return errors.New("bank: transfer rejected")
	}
	src := b.balance(from)
	if src.Cmp(amount) < 0 {
		return errors.New("bank: insufficient funds")
	}
	b.balances[from] = new(big.Int).Sub(src, amount)
	b.balances[to] = new(big.Int).Add(b.balance(to), amount)
	return nil
}

type passHooks struct{}

func (passHooks) OnBeforeLoanTaken(uint64, [20]byte) error   { return nil }
func (passHooks) OnAfterLoanTaken(uint64, [20]byte) error    { return nil }
func (passHooks) OnBeforeLoanPayment(uint64, *big.Int) error { return nil }
func (passHooks) OnAfterLoanPayment(uint64, *big.Int) error  { return nil }
func (passHooks) OnBeforeLoanRevocation(uint64) error        { return nil }
func (passHooks) OnAfterLoanRevocation(uint64) error         { return nil }

type captureEmitter struct {
	types []string
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.types = append(c.types, evt.EventType())
}

func lineConfig() *credit.CreditLineConfig {
	return &credit.CreditLineConfig{
		Token:                    token,
		Treasury:                 treasury,
		PeriodLength:             100,
		RateFactor:               1_000_000,
		InterestRatePrecision:    1,
		MinBorrowAmount:          big.NewInt(100),
		MaxBorrowAmount:          big.NewInt(10_000),
		MinDurationInPeriods:     1,
		MaxDurationInPeriods:     12,
		MaxInterestRatePrimary:   100_000,
		MaxInterestRateSecondary: 200_000,
	}
}

func borrowerConfig() *credit.BorrowerConfig {
	return &credit.BorrowerConfig{
		Expiration:            1 << 40,
		MinBorrowAmount:       big.NewInt(100),
		MaxBorrowAmount:       big.NewInt(10_000),
		MinDurationInPeriods:  1,
		MaxDurationInPeriods:  12,
		InterestRatePrimary:   5_000,
		InterestRateSecondary: 10_000,
		BorrowPolicy:          credit.PolicyMultipleActiveLoans,
	}
}

type ledgerEnv struct {
	ledger  *Ledger
	store   *ledgerstore.Store
	bank    *memBank
	emitter *captureEmitter
	now     int64
	path    string
}

func newLedgerEnv(t *testing.T) *ledgerEnv {
	t.Helper()
	env := &ledgerEnv{
		bank:    newMemBank(),
		emitter: &captureEmitter{},
		now:     1_000,
		path:    filepath.Join(t.TempDir(), "ledger.db"),
	}
	store, err := ledgerstore.Open(env.path, nil)
	require.NoError(t, err)
	env.store = store
	t.Cleanup(func() { _ = store.Close() })

	ledger := NewLedger(store)
	ledger.SetEmitter(env.emitter)
	ledger.SetTransfer(env.bank)
	ledger.SetPolicyAuthority(authority)
	ledger.SetRevocationPeriods(2)
	ledger.SetNowFunc(func() int64 { return env.now })
	env.ledger = ledger

	env.bank.credit(treasury, 1_000_000)
	env.bank.credit(borrower, 100_000)

	require.NoError(t, ledger.RegisterCreditLine(lender, lineAddr))
	require.NoError(t, ledger.ConfigureCreditLine(lender, lineAddr, lineConfig()))
	require.NoError(t, ledger.RegisterLiquidityPool(treasury, passHooks{}))
	require.NoError(t, ledger.ConfigureBorrower(authority, lineAddr, borrower, borrowerConfig()))
	return env
}

func TestLedgerLoanLifecycle(t *testing.T) {
	env := newLedgerEnv(t)

	terms, err := env.ledger.DetermineLoanTerms(lineAddr, borrower, big.NewInt(1_000), 5)
	require.NoError(t, err)
	require.Equal(t, treasury, terms.Treasury)

	id, err := env.ledger.TakeLoan(borrower, lineAddr, big.NewInt(1_000), 5)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)
	require.Zero(t, env.bank.balance(borrower).Cmp(big.NewInt(101_000)))
	require.Zero(t, env.bank.balance(treasury).Cmp(big.NewInt(999_000)))

	// Three periods at 0.5%: 1000 * 1.005^3 = 1015.075 -> 1015.
	env.now = 1_300
	preview, err := env.ledger.GetLoanPreview(id, 0)
	require.NoError(t, err)
	require.Zero(t, preview.OutstandingBalance.Cmp(big.NewInt(1_015)))

	require.NoError(t, env.ledger.RepayLoan(borrower, id, credit.RepayAll))
	require.Zero(t, env.bank.balance(borrower).Cmp(big.NewInt(99_985)))

	loan, err := env.ledger.GetLoanState(id)
	require.NoError(t, err)
	require.Equal(t, credit.StatusSettled, loan.Status())

	state, err := env.ledger.BorrowerStateView(lineAddr, borrower)
	require.NoError(t, err)
	require.Equal(t, uint32(0), state.ActiveLoanCount)
	require.Equal(t, uint32(1), state.ClosedLoanCount)
}

func TestLedgerRollsBackFailedOperation(t *testing.T) {
	env := newLedgerEnv(t)
	emitted := len(env.emitter.types)

	env.bank.failNext = true
	_, err := env.ledger.TakeLoan(borrower, lineAddr, big.NewInt(1_000), 5)
	require.Error(t, err)

	// The failed origination left no loan, no counters and no events behind.
	_, err = env.ledger.GetLoanState(1)
	require.Error(t, err)
	state, err := env.ledger.BorrowerStateView(lineAddr, borrower)
	require.NoError(t, err)
	require.Equal(t, uint32(0), state.ActiveLoanCount)
	require.Len(t, env.emitter.types, emitted)

	// The next origination is unaffected and still allocates the first id.
	id, err := env.ledger.TakeLoan(borrower, lineAddr, big.NewInt(1_000), 5)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)
}

func TestLedgerEmitsOnlyAfterCommit(t *testing.T) {
	env := newLedgerEnv(t)

	id, err := env.ledger.TakeLoan(borrower, lineAddr, big.NewInt(1_000), 5)
	require.NoError(t, err)
	require.Equal(t, credit.EventTypeLoanTaken, env.emitter.types[len(env.emitter.types)-1])

	before := len(env.emitter.types)
	require.Error(t, env.ledger.RepayLoan(borrower, id, big.NewInt(2_000)))
	require.Len(t, env.emitter.types, before)
}

func TestLedgerPersistsAcrossReopen(t *testing.T) {
	env := newLedgerEnv(t)
	id, err := env.ledger.TakeLoan(borrower, lineAddr, big.NewInt(1_000), 5)
	require.NoError(t, err)
	require.NoError(t, env.store.Close())

	store, err := ledgerstore.Open(env.path, nil)
	require.NoError(t, err)
	defer store.Close()

	reopened := NewLedger(store)
	reopened.SetNowFunc(func() int64 { return env.now })
	loan, err := reopened.GetLoanState(id)
	require.NoError(t, err)
	require.Equal(t, credit.StatusActive, loan.Status())
	require.Zero(t, loan.TrackedBalance.Cmp(big.NewInt(1_000)))

	cfg, err := reopened.BorrowerConfiguration(lineAddr, borrower)
	require.NoError(t, err)
	require.Equal(t, credit.PolicyMultipleActiveLoans, cfg.BorrowPolicy)
}

func TestLedgerServesConcurrentReads(t *testing.T) {
	env := newLedgerEnv(t)
	id, err := env.ledger.TakeLoan(borrower, lineAddr, big.NewInt(1_000), 5)
	require.NoError(t, err)

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := env.ledger.GetLoanPreview(id, 0)
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}
}
