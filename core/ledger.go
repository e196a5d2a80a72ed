package core

import (
	"errors"
	"math/big"
	"sync"

	"lendledger/core/events"
	"lendledger/native/common"
	"lendledger/native/credit"
	"lendledger/storage/ledgerstore"
)

var errNilLedger = errors.New("core: ledger not initialised")

// Ledger is the front door to the lending engine. It serializes all
// state-changing calls and runs each one inside a single store transaction, so
// an operation either applies all of its mutations or none of them. Events are
// buffered during the transaction and released to the downstream emitter only
// after a successful commit.
type Ledger struct {
	mu      sync.Mutex
	engine  *credit.Engine
	store   *ledgerstore.Store
	emitter events.Emitter
	buffer  bufferEmitter
}

type bufferEmitter struct {
	pending []events.Event
}

func (b *bufferEmitter) Emit(evt events.Event) {
	b.pending = append(b.pending, evt)
}

// NewLedger builds a ledger over the given store. Collaborators are wired
// through the setter methods before serving traffic.
func NewLedger(store *ledgerstore.Store) *Ledger {
	l := &Ledger{
		engine:  credit.NewEngine(),
		store:   store,
		emitter: events.NoopEmitter{},
	}
	l.engine.SetEmitter(&l.buffer)
	return l
}

// SetEmitter wires the downstream emitter receiving committed events.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetPauses installs the administrative pause switches.
func (l *Ledger) SetPauses(p common.PauseView) { l.engine.SetPauses(p) }

// SetPolicyAuthority configures the address allowed to set borrower limits.
func (l *Ledger) SetPolicyAuthority(authority [20]byte) { l.engine.SetPolicyAuthority(authority) }

// SetRevocationPeriods configures the borrower revocation cooldown window.
func (l *Ledger) SetRevocationPeriods(periods uint64) { l.engine.SetRevocationPeriods(periods) }

// SetTransfer configures the fund movement primitive.
func (l *Ledger) SetTransfer(transfer credit.TokenTransfer) { l.engine.SetTransfer(transfer) }

// SetNowFunc overrides the ledger time source.
func (l *Ledger) SetNowFunc(now func() int64) { l.engine.SetNowFunc(now) }

func (l *Ledger) write(fn func() error) error {
	if l == nil || l.store == nil {
		return errNilLedger
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buffer.pending = l.buffer.pending[:0]
	err := l.store.Update(func(tx *ledgerstore.TxState) error {
		l.engine.SetState(tx)
		defer l.engine.SetState(nil)
		return fn()
	})
	if err != nil {
		l.buffer.pending = nil
		return err
	}
	for _, evt := range l.buffer.pending {
		l.emitter.Emit(evt)
	}
	l.buffer.pending = nil
	return nil
}

func (l *Ledger) read(fn func() error) error {
	if l == nil || l.store == nil {
		return errNilLedger
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.View(func(tx *ledgerstore.TxState) error {
		l.engine.SetState(tx)
		defer l.engine.SetState(nil)
		return fn()
	})
}

// RegisterCreditLine records a new credit line owned by the calling lender.
func (l *Ledger) RegisterCreditLine(caller, line [20]byte) error {
	return l.write(func() error { return l.engine.RegisterCreditLine(caller, line) })
}

// RegisterLiquidityPool binds a treasury address to its hook implementation.
// Hook registrations are runtime-only and re-applied at startup.
func (l *Ledger) RegisterLiquidityPool(treasury [20]byte, hooks credit.TreasuryHooks) error {
	return l.write(func() error { return l.engine.RegisterLiquidityPool(treasury, hooks) })
}

// ConfigureAlias enables or disables a lender alias on the credit line.
func (l *Ledger) ConfigureAlias(caller, line, alias [20]byte, enabled bool) error {
	return l.write(func() error { return l.engine.ConfigureAlias(caller, line, alias, enabled) })
}

// ConfigureCreditLine replaces the underwriting bounds of the credit line.
func (l *Ledger) ConfigureCreditLine(caller, line [20]byte, cfg *credit.CreditLineConfig) error {
	return l.write(func() error { return l.engine.ConfigureCreditLine(caller, line, cfg) })
}

// ConfigureBorrower stores a borrower configuration under the credit line.
func (l *Ledger) ConfigureBorrower(caller, line, borrower [20]byte, cfg *credit.BorrowerConfig) error {
	return l.write(func() error { return l.engine.ConfigureBorrower(caller, line, borrower, cfg) })
}

// ConfigureBorrowers applies borrower configurations in batch; the batch
// aborts, and rolls back, on the first failure.
func (l *Ledger) ConfigureBorrowers(caller, line [20]byte, borrowers [][20]byte, cfgs []*credit.BorrowerConfig) error {
	return l.write(func() error { return l.engine.ConfigureBorrowers(caller, line, borrowers, cfgs) })
}

// TakeLoan originates a loan and returns its identifier.
func (l *Ledger) TakeLoan(caller, line [20]byte, amount *big.Int, durationInPeriods uint64) (uint64, error) {
	var id uint64
	err := l.write(func() error {
		var err error
		id, err = l.engine.TakeLoan(caller, line, amount, durationInPeriods)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// RepayLoan settles part or all of the loan balance from the caller's funds.
func (l *Ledger) RepayLoan(caller [20]byte, id uint64, amount *big.Int) error {
	return l.write(func() error { return l.engine.RepayLoan(caller, id, amount) })
}

// AutoRepayLoan is the treasury-triggered repayment path.
func (l *Ledger) AutoRepayLoan(caller [20]byte, id uint64, amount *big.Int) error {
	return l.write(func() error { return l.engine.AutoRepayLoan(caller, id, amount) })
}

// FreezeLoan suspends accrual on the loan.
func (l *Ledger) FreezeLoan(caller [20]byte, id uint64) error {
	return l.write(func() error { return l.engine.FreezeLoan(caller, id) })
}

// UnfreezeLoan resumes accrual, preserving the remaining tenor.
func (l *Ledger) UnfreezeLoan(caller [20]byte, id uint64) error {
	return l.write(func() error { return l.engine.UnfreezeLoan(caller, id) })
}

// UpdateLoanDuration extends the loan tenor.
func (l *Ledger) UpdateLoanDuration(caller [20]byte, id uint64, durationInPeriods uint64) error {
	return l.write(func() error { return l.engine.UpdateLoanDuration(caller, id, durationInPeriods) })
}

// UpdateLoanInterestRatePrimary lowers the pre-due-date rate.
func (l *Ledger) UpdateLoanInterestRatePrimary(caller [20]byte, id uint64, rate uint64) error {
	return l.write(func() error { return l.engine.UpdateLoanInterestRatePrimary(caller, id, rate) })
}

// UpdateLoanInterestRateSecondary lowers the post-due-date rate.
func (l *Ledger) UpdateLoanInterestRateSecondary(caller [20]byte, id uint64, rate uint64) error {
	return l.write(func() error { return l.engine.UpdateLoanInterestRateSecondary(caller, id, rate) })
}

// RevokeLoan unwinds a loan with a one-time net settlement transfer.
func (l *Ledger) RevokeLoan(caller [20]byte, id uint64) error {
	return l.write(func() error { return l.engine.RevokeLoan(caller, id) })
}

// DetermineLoanTerms quotes the terms a prospective loan would receive.
func (l *Ledger) DetermineLoanTerms(line, borrower [20]byte, amount *big.Int, durationInPeriods uint64) (*credit.Terms, error) {
	var terms *credit.Terms
	err := l.read(func() error {
		var err error
		terms, err = l.engine.DetermineLoanTerms(line, borrower, amount, durationInPeriods)
		return err
	})
	if err != nil {
		return nil, err
	}
	return terms, nil
}

// GetLoanState returns a copy of the stored loan record.
func (l *Ledger) GetLoanState(id uint64) (*credit.Loan, error) {
	var loan *credit.Loan
	err := l.read(func() error {
		var err error
		loan, err = l.engine.GetLoanState(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// GetLoanPreview projects the loan balance to the requested timestamp.
func (l *Ledger) GetLoanPreview(id uint64, timestamp int64) (*credit.LoanPreview, error) {
	var preview *credit.LoanPreview
	err := l.read(func() error {
		var err error
		preview, err = l.engine.GetLoanPreview(id, timestamp)
		return err
	})
	if err != nil {
		return nil, err
	}
	return preview, nil
}

// IsLenderOrAlias reports whether the address may manage the credit line.
func (l *Ledger) IsLenderOrAlias(line, addr [20]byte) (bool, error) {
	var ok bool
	err := l.read(func() error {
		var err error
		ok, err = l.engine.IsLenderOrAlias(line, addr)
		return err
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// CreditLineConfiguration returns the stored credit line configuration.
func (l *Ledger) CreditLineConfiguration(line [20]byte) (*credit.CreditLineConfig, error) {
	var cfg *credit.CreditLineConfig
	err := l.read(func() error {
		var err error
		cfg, err = l.engine.CreditLineConfiguration(line)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// BorrowerConfiguration returns the stored borrower configuration.
func (l *Ledger) BorrowerConfiguration(line, borrower [20]byte) (*credit.BorrowerConfig, error) {
	var cfg *credit.BorrowerConfig
	err := l.read(func() error {
		var err error
		cfg, err = l.engine.BorrowerConfiguration(line, borrower)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// BorrowerStateView returns the aggregate counters tracked for the borrower.
func (l *Ledger) BorrowerStateView(line, borrower [20]byte) (*credit.BorrowerState, error) {
	var state *credit.BorrowerState
	err := l.read(func() error {
		var err error
		state, err = l.engine.BorrowerStateView(line, borrower)
		return err
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}
