package credit

import (
	"errors"
	"math/big"
	"time"

	"lendledger/core/events"
	"lendledger/core/types"
	nativecommon "lendledger/native/common"
)

var (
	errNilState              = errors.New("credit engine: state not configured")
	errNilTransfer           = errors.New("credit engine: token transfer not configured")
	errInvalidAmount         = errors.New("credit engine: amount must be positive")
	errUnauthorized          = errors.New("credit engine: caller not authorized")
	errZeroAddress           = errors.New("credit engine: zero address")
	errLineNotRegistered     = errors.New("credit engine: credit line not registered")
	errLineAlreadyRegistered = errors.New("credit engine: credit line already registered")
	errLineNotConfigured     = errors.New("credit engine: credit line not configured")
	errPoolNotRegistered     = errors.New("credit engine: liquidity pool not registered")
	errPoolAlreadyRegistered = errors.New("credit engine: liquidity pool already registered")
	errLoanNotFound          = errors.New("credit engine: loan not found")
	errLoanAlreadySettled    = errors.New("credit engine: loan already settled")
	errLoanAlreadyFrozen     = errors.New("credit engine: loan already frozen")
	errLoanNotFrozen         = errors.New("credit engine: loan not frozen")
	errRepayExceedsBalance   = errors.New("credit engine: repayment exceeds outstanding balance")
	errAutoRepayDisabled     = errors.New("credit engine: auto repayment disabled for loan")
	errTermsNotFavorable     = errors.New("credit engine: update must favor the borrower")
	errInvalidTimestamp      = errors.New("credit engine: invalid timestamp")
)

// RepayAll is the sentinel amount instructing RepayLoan to settle the full
// projected outstanding balance.
var RepayAll = big.NewInt(-1)

type engineState interface {
	GetCreditLine(line [20]byte) (*CreditLineState, error)
	PutCreditLine(line [20]byte, state *CreditLineState) error
	GetBorrowerConfig(line, borrower [20]byte) (*BorrowerConfig, error)
	PutBorrowerConfig(line, borrower [20]byte, cfg *BorrowerConfig) error
	GetBorrowerState(line, borrower [20]byte) (*BorrowerState, error)
	PutBorrowerState(line, borrower [20]byte, state *BorrowerState) error
	GetLoan(id uint64) (*Loan, error)
	PutLoan(id uint64, loan *Loan) error
	NextLoanID() (uint64, error)
}

// TreasuryHooks is the capability handle a liquidity pool registers with the
// ledger. Every hook may reject, which aborts the enclosing operation.
type TreasuryHooks interface {
	OnBeforeLoanTaken(loanID uint64, creditLine [20]byte) error
	OnAfterLoanTaken(loanID uint64, creditLine [20]byte) error
	OnBeforeLoanPayment(loanID uint64, amount *big.Int) error
	OnAfterLoanPayment(loanID uint64, amount *big.Int) error
	OnBeforeLoanRevocation(loanID uint64) error
	OnAfterLoanRevocation(loanID uint64) error
}

// TokenTransfer is the fund movement primitive consumed by the ledger. A
// transfer failure aborts the enclosing operation; the ledger never retries.
type TokenTransfer interface {
	Transfer(token, from, to [20]byte, amount *big.Int) error
}

// Engine orchestrates the loan state machine: origination, accrual, freezing,
// repayment and revocation. All fund movement and treasury notification goes
// through the registered collaborators; the engine itself only mutates ledger
// state.
type Engine struct {
	state             engineState
	emitter           events.Emitter
	transfer          TokenTransfer
	hooks             map[[20]byte]TreasuryHooks
	policyAuthority   [20]byte
	pauses            nativecommon.PauseView
	revocationPeriods uint64
	nowFn             func() int64
}

// NewEngine creates a credit engine with a no-op emitter. Collaborators are
// wired through the setter methods before first use.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		hooks:   make(map[[20]byte]TreasuryHooks),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTransfer configures the fund movement primitive.
func (e *Engine) SetTransfer(transfer TokenTransfer) { e.transfer = transfer }

// SetPauses installs the administrative pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetPolicyAuthority configures the address allowed to set borrower limits.
func (e *Engine) SetPolicyAuthority(authority [20]byte) {
	if e == nil {
		return
	}
	e.policyAuthority = authority
}

// SetRevocationPeriods configures the cooldown window, in periods from
// origination, during which the borrower may revoke their own loan.
func (e *Engine) SetRevocationPeriods(periods uint64) {
	if e == nil {
		return
	}
	e.revocationPeriods = periods
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(creditEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// RegisterCreditLine records a new credit line owned by the calling lender.
func (e *Engine) RegisterCreditLine(caller, line [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if isZeroAddress(caller) || isZeroAddress(line) {
		return errZeroAddress
	}
	existing, err := e.state.GetCreditLine(line)
	if err != nil {
		return err
	}
	if existing != nil {
		return errLineAlreadyRegistered
	}
	lineState := &CreditLineState{Lender: caller}
	if err := e.state.PutCreditLine(line, lineState); err != nil {
		return err
	}
	e.emit(NewCreditLineRegisteredEvent(line, caller))
	return nil
}

// RegisterLiquidityPool binds a treasury address to its hook implementation.
// The binding is runtime-only: hosts re-register pools at startup.
func (e *Engine) RegisterLiquidityPool(treasury [20]byte, hooks TreasuryHooks) error {
	if e == nil {
		return errNilState
	}
	if isZeroAddress(treasury) || hooks == nil {
		return errZeroAddress
	}
	if _, ok := e.hooks[treasury]; ok {
		return errPoolAlreadyRegistered
	}
	e.hooks[treasury] = hooks
	e.emit(NewLiquidityPoolRegisteredEvent(treasury))
	return nil
}

// ConfigureAlias lets the lender enable or disable an operational alias that
// may manage loans on the lender's behalf.
func (e *Engine) ConfigureAlias(caller, line, alias [20]byte, enabled bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if isZeroAddress(alias) {
		return errZeroAddress
	}
	lineState, err := e.requireCreditLine(line)
	if err != nil {
		return err
	}
	if lineState.Lender != caller {
		return errUnauthorized
	}
	lineState.SetAlias(alias, enabled)
	if err := e.state.PutCreditLine(line, lineState); err != nil {
		return err
	}
	e.emit(NewAliasConfiguredEvent(line, alias, enabled))
	return nil
}

// IsLenderOrAlias reports whether the address is the lender of the credit line
// or one of its enabled aliases.
func (e *Engine) IsLenderOrAlias(line, addr [20]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	lineState, err := e.requireCreditLine(line)
	if err != nil {
		return false, err
	}
	return lineState.Lender == addr || lineState.HasAlias(addr), nil
}

// TakeLoan originates a loan for the calling borrower under the credit line.
// The tracked balance starts at amount+addon and funds move from the treasury
// to the borrower.
func (e *Engine) TakeLoan(caller, line [20]byte, amount *big.Int, durationInPeriods uint64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if err := nativecommon.Guard(e.pauses, nativecommon.FlowTake); err != nil {
		return 0, err
	}
	if e.transfer == nil {
		return 0, errNilTransfer
	}
	terms, err := e.DetermineLoanTerms(line, caller, amount, durationInPeriods)
	if err != nil {
		return 0, err
	}
	hooks, ok := e.hooks[terms.Treasury]
	if !ok {
		return 0, errPoolNotRegistered
	}
	cfg, err := e.state.GetBorrowerConfig(line, caller)
	if err != nil {
		return 0, err
	}
	borrowerState, err := e.onLoanOriginated(line, caller, amount, cfg)
	if err != nil {
		return 0, err
	}

	id, err := e.state.NextLoanID()
	if err != nil {
		return 0, err
	}

	now := e.now()
	lineState, err := e.requireCreditLine(line)
	if err != nil {
		return 0, err
	}
	loan := &Loan{
		Borrower:              caller,
		Lender:                lineState.Lender,
		CreditLine:            line,
		Token:                 terms.Token,
		Treasury:              terms.Treasury,
		StartTimestamp:        now,
		TrackedTimestamp:      now,
		PeriodLength:          terms.PeriodLength,
		RateFactor:            terms.RateFactor,
		InterestRatePrecision: terms.InterestRatePrecision,
		DurationInPeriods:     terms.DurationInPeriods,
		InterestRatePrimary:   terms.InterestRatePrimary,
		InterestRateSecondary: terms.InterestRateSecondary,
		BorrowAmount:          cloneBigInt(amount),
		AddonAmount:           cloneBigInt(terms.AddonAmount),
		RepaidAmount:          big.NewInt(0),
		TrackedBalance:        new(big.Int).Add(amount, terms.AddonAmount),
		AutoRepayment:         terms.AutoRepayment,
	}

	if err := hooks.OnBeforeLoanTaken(id, line); err != nil {
		return 0, err
	}
	if err := e.transfer.Transfer(loan.Token, loan.Treasury, loan.Borrower, amount); err != nil {
		return 0, err
	}
	if err := hooks.OnAfterLoanTaken(id, line); err != nil {
		return 0, err
	}

	if err := e.state.PutBorrowerState(line, caller, borrowerState); err != nil {
		return 0, err
	}
	if err := e.state.PutLoan(id, loan); err != nil {
		return 0, err
	}
	e.emit(NewLoanTakenEvent(id, loan))
	return id, nil
}

// RepayLoan settles part or all of the loan's projected outstanding balance.
// Funds move from the caller to the loan's treasury; any address may repay on
// the borrower's behalf. Passing RepayAll (or nil) repays the full balance.
func (e *Engine) RepayLoan(caller [20]byte, id uint64, amount *big.Int) error {
	return e.repay(caller, caller, id, amount, false)
}

// AutoRepayLoan is the treasury-triggered repayment path. The caller must be
// the loan's treasury and the loan must have auto repayment enabled; funds are
// drawn from the borrower.
func (e *Engine) AutoRepayLoan(caller [20]byte, id uint64, amount *big.Int) error {
	loan, err := e.requireLoan(id)
	if err != nil {
		return err
	}
	if caller != loan.Treasury {
		return errUnauthorized
	}
	if !loan.AutoRepayment {
		return errAutoRepayDisabled
	}
	return e.repay(caller, loan.Borrower, id, amount, true)
}

func (e *Engine) repay(caller, payer [20]byte, id uint64, amount *big.Int, auto bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, nativecommon.FlowRepay); err != nil {
		return err
	}
	if e.transfer == nil {
		return errNilTransfer
	}
	loan, err := e.requireLoan(id)
	if err != nil {
		return err
	}
	if loan.Status() == StatusSettled || loan.Status() == StatusRevoked {
		return errLoanAlreadySettled
	}
	hooks, ok := e.hooks[loan.Treasury]
	if !ok {
		return errPoolNotRegistered
	}

	now := e.now()
	outstanding, _ := projectLoan(loan, now)
	repayAmount := amount
	if repayAmount == nil || repayAmount.Cmp(RepayAll) == 0 {
		repayAmount = outstanding
	}
	if repayAmount.Sign() <= 0 {
		return errInvalidAmount
	}
	if repayAmount.Cmp(outstanding) > 0 {
		return errRepayExceedsBalance
	}

	if err := hooks.OnBeforeLoanPayment(id, repayAmount); err != nil {
		return err
	}
	if err := e.transfer.Transfer(loan.Token, payer, loan.Treasury, repayAmount); err != nil {
		return err
	}
	if err := hooks.OnAfterLoanPayment(id, repayAmount); err != nil {
		return err
	}

	loan.RepaidAmount = new(big.Int).Add(loan.RepaidAmount, repayAmount)
	loan.TrackedBalance = new(big.Int).Sub(outstanding, repayAmount)
	loan.TrackedTimestamp = now

	line := creditLineOf(loan)
	if loan.TrackedBalance.Sign() == 0 {
		borrowerState, err := e.onLoanSettled(line, loan.Borrower, loan.BorrowAmount)
		if err != nil {
			return err
		}
		if err := e.state.PutBorrowerState(line, loan.Borrower, borrowerState); err != nil {
			return err
		}
	}
	if err := e.state.PutLoan(id, loan); err != nil {
		return err
	}
	e.emit(NewLoanRepaymentEvent(id, loan, payer, repayAmount, auto))
	return nil
}

// FreezeLoan suspends interest accrual and duration countdown for the loan,
// anchored at the current period boundary.
func (e *Engine) FreezeLoan(caller [20]byte, id uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, nativecommon.FlowFreeze); err != nil {
		return err
	}
	loan, err := e.requireLoan(id)
	if err != nil {
		return err
	}
	if err := e.requireLenderOrAlias(loan, caller); err != nil {
		return err
	}
	switch loan.Status() {
	case StatusSettled, StatusRevoked:
		return errLoanAlreadySettled
	case StatusFrozen:
		return errLoanAlreadyFrozen
	}
	loan.FreezeTimestamp = periodBoundary(e.now(), loan.PeriodLength)
	if err := e.state.PutLoan(id, loan); err != nil {
		return err
	}
	e.emit(NewLoanFrozenEvent(id, loan))
	return nil
}

// UnfreezeLoan resumes accrual. The tracked timestamp shifts forward by the
// number of frozen periods and the duration extends by the same count, so the
// remaining tenor is preserved as if time had not passed while frozen.
func (e *Engine) UnfreezeLoan(caller [20]byte, id uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, nativecommon.FlowFreeze); err != nil {
		return err
	}
	loan, err := e.requireLoan(id)
	if err != nil {
		return err
	}
	if err := e.requireLenderOrAlias(loan, caller); err != nil {
		return err
	}
	if loan.Status() != StatusFrozen {
		return errLoanNotFrozen
	}
	now := e.now()
	framePeriods := periodIndex(now, loan.PeriodLength) - periodIndex(loan.FreezeTimestamp, loan.PeriodLength)
	if framePeriods > 0 {
		loan.TrackedTimestamp += int64(framePeriods * loan.PeriodLength)
		loan.DurationInPeriods += framePeriods
	}
	loan.FreezeTimestamp = 0
	if err := e.state.PutLoan(id, loan); err != nil {
		return err
	}
	e.emit(NewLoanUnfrozenEvent(id, loan, framePeriods))
	return nil
}

// UpdateLoanDuration extends the loan tenor. The new duration must strictly
// exceed the current one; tenor never shrinks.
func (e *Engine) UpdateLoanDuration(caller [20]byte, id uint64, durationInPeriods uint64) error {
	loan, err := e.mutableLoanFor(caller, id)
	if err != nil {
		return err
	}
	if durationInPeriods <= loan.DurationInPeriods {
		return errTermsNotFavorable
	}
	loan.DurationInPeriods = durationInPeriods
	if err := e.state.PutLoan(id, loan); err != nil {
		return err
	}
	e.emit(NewLoanDurationUpdatedEvent(id, loan))
	return nil
}

// UpdateLoanInterestRatePrimary lowers the rate applied before the due date.
func (e *Engine) UpdateLoanInterestRatePrimary(caller [20]byte, id uint64, rate uint64) error {
	loan, err := e.mutableLoanFor(caller, id)
	if err != nil {
		return err
	}
	if rate >= loan.InterestRatePrimary {
		return errTermsNotFavorable
	}
	loan.InterestRatePrimary = rate
	if err := e.state.PutLoan(id, loan); err != nil {
		return err
	}
	e.emit(NewLoanRatePrimaryUpdatedEvent(id, loan))
	return nil
}

// UpdateLoanInterestRateSecondary lowers the rate applied at or after the due
// date.
func (e *Engine) UpdateLoanInterestRateSecondary(caller [20]byte, id uint64, rate uint64) error {
	loan, err := e.mutableLoanFor(caller, id)
	if err != nil {
		return err
	}
	if rate >= loan.InterestRateSecondary {
		return errTermsNotFavorable
	}
	loan.InterestRateSecondary = rate
	if err := e.state.PutLoan(id, loan); err != nil {
		return err
	}
	e.emit(NewLoanRateSecondaryUpdatedEvent(id, loan))
	return nil
}

// RevokeLoan unwinds the loan: the net of repaid versus borrowed funds moves
// in the owed direction, the balance zeroes and the record becomes terminal.
// Borrowers may revoke within the cooldown window from origination; the
// lender or an alias may revoke at any time.
func (e *Engine) RevokeLoan(caller [20]byte, id uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, nativecommon.FlowRevoke); err != nil {
		return err
	}
	if e.transfer == nil {
		return errNilTransfer
	}
	loan, err := e.requireLoan(id)
	if err != nil {
		return err
	}
	if loan.Status() == StatusSettled || loan.Status() == StatusRevoked {
		return errLoanAlreadySettled
	}
	now := e.now()
	if caller == loan.Borrower {
		elapsed := periodIndex(now, loan.PeriodLength) - periodIndex(loan.StartTimestamp, loan.PeriodLength)
		if elapsed >= e.revocationPeriods {
			return errUnauthorized
		}
	} else if err := e.requireLenderOrAlias(loan, caller); err != nil {
		return err
	}
	hooks, ok := e.hooks[loan.Treasury]
	if !ok {
		return errPoolNotRegistered
	}

	if err := hooks.OnBeforeLoanRevocation(id); err != nil {
		return err
	}
	net := new(big.Int).Sub(loan.RepaidAmount, loan.BorrowAmount)
	switch {
	case net.Sign() > 0:
		// The borrower overpaid relative to the principal: refund the surplus.
		if err := e.transfer.Transfer(loan.Token, loan.Treasury, loan.Borrower, net); err != nil {
			return err
		}
	case net.Sign() < 0:
		if err := e.transfer.Transfer(loan.Token, loan.Borrower, loan.Treasury, new(big.Int).Neg(net)); err != nil {
			return err
		}
	}
	if err := hooks.OnAfterLoanRevocation(id); err != nil {
		return err
	}

	loan.TrackedBalance = big.NewInt(0)
	loan.TrackedTimestamp = now
	loan.FreezeTimestamp = 0
	loan.Revoked = true

	line := creditLineOf(loan)
	borrowerState, err := e.onLoanSettled(line, loan.Borrower, loan.BorrowAmount)
	if err != nil {
		return err
	}
	if err := e.state.PutBorrowerState(line, loan.Borrower, borrowerState); err != nil {
		return err
	}
	if err := e.state.PutLoan(id, loan); err != nil {
		return err
	}
	e.emit(NewLoanRevokedEvent(id, loan, caller))
	return nil
}

// GetLoanState returns a copy of the stored loan record.
func (e *Engine) GetLoanState(id uint64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	loan, err := e.requireLoan(id)
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// GetLoanPreview projects the loan balance to the requested timestamp. A zero
// timestamp previews at the current time.
func (e *Engine) GetLoanPreview(id uint64, timestamp int64) (*LoanPreview, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if timestamp < 0 {
		return nil, errInvalidTimestamp
	}
	loan, err := e.requireLoan(id)
	if err != nil {
		return nil, err
	}
	if timestamp == 0 {
		timestamp = e.now()
	}
	balance, period := projectLoan(loan, timestamp)
	return &LoanPreview{PeriodIndex: period, OutstandingBalance: balance}, nil
}

func (e *Engine) mutableLoanFor(caller [20]byte, id uint64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	loan, err := e.requireLoan(id)
	if err != nil {
		return nil, err
	}
	if loan.Status() == StatusSettled || loan.Status() == StatusRevoked {
		return nil, errLoanAlreadySettled
	}
	if err := e.requireLenderOrAlias(loan, caller); err != nil {
		return nil, err
	}
	return loan, nil
}

func (e *Engine) requireLenderOrAlias(loan *Loan, caller [20]byte) error {
	if caller == loan.Lender {
		return nil
	}
	line := creditLineOf(loan)
	lineState, err := e.state.GetCreditLine(line)
	if err != nil {
		return err
	}
	if lineState != nil && lineState.HasAlias(caller) {
		return nil
	}
	return errUnauthorized
}

func (e *Engine) requireCreditLine(line [20]byte) (*CreditLineState, error) {
	state, err := e.state.GetCreditLine(line)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, errLineNotRegistered
	}
	return state, nil
}

func (e *Engine) requireLoan(id uint64) (*Loan, error) {
	loan, err := e.state.GetLoan(id)
	if err != nil {
		return nil, err
	}
	if !loan.Exists() {
		return nil, errLoanNotFound
	}
	return loan.Clone(), nil
}

func creditLineOf(loan *Loan) [20]byte {
	return loan.CreditLine
}
