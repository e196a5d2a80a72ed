package credit

import (
	"errors"
	"math"
	"math/big"
)

var (
	errInvalidCreditLineConfig = errors.New("credit policy: invalid credit line configuration")
	errInvalidBorrowerConfig   = errors.New("credit policy: invalid borrower configuration")
	errBorrowerConfigExpired   = errors.New("credit policy: borrower configuration expired")
	errBorrowerNotConfigured   = errors.New("credit policy: borrower not configured")
	errZeroBorrower            = errors.New("credit policy: zero borrower address")
	errAmountOutOfRange        = errors.New("credit policy: amount outside configured range")
	errDurationOutOfRange      = errors.New("credit policy: duration outside configured range")
	errDegenerateAddonRate     = errors.New("credit policy: addon rate not below rate factor")
	errBorrowPolicyLimit       = errors.New("credit policy: borrow policy limit exceeded")
	errAllowanceExceeded       = errors.New("credit policy: borrow allowance exceeded")
	errCounterOverflow         = errors.New("credit policy: borrower counter overflow")
	errBatchLengthMismatch     = errors.New("credit policy: batch argument lengths differ")
)

// maxTrackableAmount bounds the aggregate amount counters to the 64-bit range.
// Additions beyond it are rejected, never saturated.
var maxTrackableAmount = new(big.Int).SetUint64(math.MaxUint64)

// ConfigureCreditLine validates and replaces the configuration of a registered
// credit line. Only the owning lender may reconfigure it.
func (e *Engine) ConfigureCreditLine(caller, line [20]byte, cfg *CreditLineConfig) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	lineState, err := e.requireCreditLine(line)
	if err != nil {
		return err
	}
	if lineState.Lender != caller {
		return errUnauthorized
	}
	if err := validateCreditLineConfig(cfg); err != nil {
		return err
	}
	lineState.Config = cfg.Clone()
	if err := e.state.PutCreditLine(line, lineState); err != nil {
		return err
	}
	e.emit(NewCreditLineConfiguredEvent(line, lineState.Config))
	return nil
}

func validateCreditLineConfig(cfg *CreditLineConfig) error {
	if cfg == nil {
		return errInvalidCreditLineConfig
	}
	if isZeroAddress(cfg.Token) || isZeroAddress(cfg.Treasury) {
		return errInvalidCreditLineConfig
	}
	if cfg.PeriodLength == 0 || cfg.RateFactor == 0 {
		return errInvalidCreditLineConfig
	}
	minBorrow := cloneBigInt(cfg.MinBorrowAmount)
	maxBorrow := cloneBigInt(cfg.MaxBorrowAmount)
	if minBorrow.Cmp(maxBorrow) > 0 {
		return errInvalidCreditLineConfig
	}
	if cfg.MinDurationInPeriods > cfg.MaxDurationInPeriods ||
		cfg.MinInterestRatePrimary > cfg.MaxInterestRatePrimary ||
		cfg.MinInterestRateSecondary > cfg.MaxInterestRateSecondary ||
		cfg.MinAddonFixedRate > cfg.MaxAddonFixedRate ||
		cfg.MinAddonPeriodRate > cfg.MaxAddonPeriodRate {
		return errInvalidCreditLineConfig
	}
	// Accrual requires rate < rateFactor for every loan priced under this line.
	factor := new(big.Int).SetUint64(cfg.RateFactor)
	if new(big.Int).SetUint64(cfg.MaxInterestRatePrimary).Cmp(factor) >= 0 ||
		new(big.Int).SetUint64(cfg.MaxInterestRateSecondary).Cmp(factor) >= 0 {
		return errInvalidCreditLineConfig
	}
	// The worst-case addon rate must stay below the rate factor or the fee
	// division becomes degenerate. Checked here so loan pricing never hits it.
	worstAddon := new(big.Int).Mul(
		new(big.Int).SetUint64(cfg.MaxAddonPeriodRate),
		new(big.Int).SetUint64(cfg.MaxDurationInPeriods),
	)
	worstAddon.Add(worstAddon, new(big.Int).SetUint64(cfg.MaxAddonFixedRate))
	if worstAddon.Cmp(factor) >= 0 {
		return errDegenerateAddonRate
	}
	return nil
}

// ConfigureBorrower validates and stores a borrower configuration under the
// credit line. Only the policy authority may call it. An expired configuration
// is accepted: it is the canonical way to disable a borrower.
func (e *Engine) ConfigureBorrower(caller, line, borrower [20]byte, cfg *BorrowerConfig) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller != e.policyAuthority {
		return errUnauthorized
	}
	lineState, err := e.requireCreditLine(line)
	if err != nil {
		return err
	}
	if lineState.Config == nil {
		return errLineNotConfigured
	}
	if isZeroAddress(borrower) {
		return errZeroBorrower
	}
	if err := validateBorrowerConfig(cfg, lineState.Config); err != nil {
		return err
	}
	stored := cfg.Clone()
	if err := e.state.PutBorrowerConfig(line, borrower, stored); err != nil {
		return err
	}
	// Reconfiguring refreshes the allowance consumed by the allowance-based
	// policies. Counters survive reconfiguration untouched.
	bState, err := e.ensureBorrowerState(line, borrower)
	if err != nil {
		return err
	}
	bState.Allowance = cloneBigInt(stored.MaxBorrowAmount)
	if err := e.state.PutBorrowerState(line, borrower, bState); err != nil {
		return err
	}
	e.emit(NewBorrowerConfiguredEvent(line, borrower, stored))
	return nil
}

// ConfigureBorrowers applies borrower configurations in batch. The slices must
// have matching lengths; the batch aborts on the first failure.
func (e *Engine) ConfigureBorrowers(caller, line [20]byte, borrowers [][20]byte, cfgs []*BorrowerConfig) error {
	if len(borrowers) != len(cfgs) {
		return errBatchLengthMismatch
	}
	for i := range borrowers {
		if err := e.ConfigureBorrower(caller, line, borrowers[i], cfgs[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateBorrowerConfig(cfg *BorrowerConfig, line *CreditLineConfig) error {
	if cfg == nil || !cfg.BorrowPolicy.Valid() {
		return errInvalidBorrowerConfig
	}
	minBorrow := cloneBigInt(cfg.MinBorrowAmount)
	maxBorrow := cloneBigInt(cfg.MaxBorrowAmount)
	if minBorrow.Cmp(maxBorrow) > 0 || cfg.MinDurationInPeriods > cfg.MaxDurationInPeriods {
		return errInvalidBorrowerConfig
	}
	if minBorrow.Cmp(cloneBigInt(line.MinBorrowAmount)) < 0 ||
		maxBorrow.Cmp(cloneBigInt(line.MaxBorrowAmount)) > 0 {
		return errInvalidBorrowerConfig
	}
	if cfg.MinDurationInPeriods < line.MinDurationInPeriods ||
		cfg.MaxDurationInPeriods > line.MaxDurationInPeriods {
		return errInvalidBorrowerConfig
	}
	if cfg.InterestRatePrimary < line.MinInterestRatePrimary ||
		cfg.InterestRatePrimary > line.MaxInterestRatePrimary {
		return errInvalidBorrowerConfig
	}
	if cfg.InterestRateSecondary < line.MinInterestRateSecondary ||
		cfg.InterestRateSecondary > line.MaxInterestRateSecondary {
		return errInvalidBorrowerConfig
	}
	if cfg.AddonFixedRate < line.MinAddonFixedRate || cfg.AddonFixedRate > line.MaxAddonFixedRate {
		return errInvalidBorrowerConfig
	}
	if cfg.AddonPeriodRate < line.MinAddonPeriodRate || cfg.AddonPeriodRate > line.MaxAddonPeriodRate {
		return errInvalidBorrowerConfig
	}
	return nil
}

// DetermineLoanTerms computes the terms a prospective loan would receive. It
// is a read-only operation shared by TakeLoan and external quoting.
func (e *Engine) DetermineLoanTerms(line, borrower [20]byte, amount *big.Int, durationInPeriods uint64) (*Terms, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	lineState, err := e.requireCreditLine(line)
	if err != nil {
		return nil, err
	}
	if lineState.Config == nil {
		return nil, errLineNotConfigured
	}
	if isZeroAddress(borrower) {
		return nil, errZeroBorrower
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	cfg, err := e.state.GetBorrowerConfig(line, borrower)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, errBorrowerNotConfigured
	}
	if cfg.Expired(e.now()) {
		return nil, errBorrowerConfigExpired
	}
	if amount.Cmp(cloneBigInt(cfg.MinBorrowAmount)) < 0 || amount.Cmp(cloneBigInt(cfg.MaxBorrowAmount)) > 0 {
		return nil, errAmountOutOfRange
	}
	if durationInPeriods < cfg.MinDurationInPeriods || durationInPeriods > cfg.MaxDurationInPeriods {
		return nil, errDurationOutOfRange
	}

	lc := lineState.Config
	addon, err := addonAmount(amount, durationInPeriods, cfg, lc)
	if err != nil {
		return nil, err
	}
	return &Terms{
		Token:                 lc.Token,
		Treasury:              lc.Treasury,
		PeriodLength:          lc.PeriodLength,
		RateFactor:            lc.RateFactor,
		InterestRatePrecision: lc.InterestRatePrecision,
		DurationInPeriods:     durationInPeriods,
		InterestRatePrimary:   cfg.InterestRatePrimary,
		InterestRateSecondary: cfg.InterestRateSecondary,
		AddonAmount:           addon,
		AutoRepayment:         cfg.AutoRepayment,
	}, nil
}

// addonAmount solves fee = (amount+fee)*addonRate/rateFactor for fee, dividing
// once at the end and rounding the quotient up to the configured precision.
// The algebraically equivalent rate-of-total formulation can differ by one
// rounding unit; this implementation is the contractual one.
func addonAmount(amount *big.Int, durationInPeriods uint64, cfg *BorrowerConfig, line *CreditLineConfig) (*big.Int, error) {
	addonRate := new(big.Int).Mul(
		new(big.Int).SetUint64(cfg.AddonPeriodRate),
		new(big.Int).SetUint64(durationInPeriods),
	)
	addonRate.Add(addonRate, new(big.Int).SetUint64(cfg.AddonFixedRate))
	if addonRate.Sign() == 0 {
		return big.NewInt(0), nil
	}
	factor := new(big.Int).SetUint64(line.RateFactor)
	if addonRate.Cmp(factor) >= 0 {
		return nil, errDegenerateAddonRate
	}
	fee := new(big.Int).Mul(amount, addonRate)
	fee.Quo(fee, new(big.Int).Sub(factor, addonRate))
	return RoundUp(fee, line.InterestRatePrecision), nil
}

// onLoanOriginated applies the borrower's borrow policy to a successful
// origination and returns the updated state for the caller to persist.
// Aggregate counters are maintained for both policy generations so that the
// active/closed bookkeeping invariants hold even across policy switches.
func (e *Engine) onLoanOriginated(line, borrower [20]byte, amount *big.Int, cfg *BorrowerConfig) (*BorrowerState, error) {
	state, err := e.ensureBorrowerState(line, borrower)
	if err != nil {
		return nil, err
	}
	switch cfg.BorrowPolicy {
	case PolicyKeep:
	case PolicyDecrease:
		if state.Allowance.Cmp(amount) < 0 {
			return nil, errAllowanceExceeded
		}
		state.Allowance = new(big.Int).Sub(state.Allowance, amount)
	case PolicyReset:
		// Zeroing only enforces single use if the zeroed allowance also gates
		// the next origination.
		if state.Allowance.Cmp(amount) < 0 {
			return nil, errAllowanceExceeded
		}
		state.Allowance = big.NewInt(0)
	case PolicySingleActiveLoan:
		if state.ActiveLoanCount > 0 {
			return nil, errBorrowPolicyLimit
		}
	case PolicyMultipleActiveLoans:
	case PolicyTotalActiveAmountLimit:
		projected := new(big.Int).Add(state.TotalActiveLoanAmount, amount)
		if projected.Cmp(cloneBigInt(cfg.MaxBorrowAmount)) > 0 {
			return nil, errBorrowPolicyLimit
		}
	default:
		return nil, errInvalidBorrowerConfig
	}

	if state.ActiveLoanCount == math.MaxUint32 {
		return nil, errCounterOverflow
	}
	projectedActive := new(big.Int).Add(state.TotalActiveLoanAmount, amount)
	if projectedActive.Cmp(maxTrackableAmount) > 0 {
		return nil, errCounterOverflow
	}
	state.ActiveLoanCount++
	state.TotalActiveLoanAmount = projectedActive
	return state, nil
}

// onLoanSettled moves the loan's principal from the active to the closed
// aggregates. The allowance consumed at origination is deliberately not
// restored.
func (e *Engine) onLoanSettled(line, borrower [20]byte, amount *big.Int) (*BorrowerState, error) {
	state, err := e.ensureBorrowerState(line, borrower)
	if err != nil {
		return nil, err
	}
	if state.ClosedLoanCount == math.MaxUint32 {
		return nil, errCounterOverflow
	}
	projectedClosed := new(big.Int).Add(state.TotalClosedLoanAmount, amount)
	if projectedClosed.Cmp(maxTrackableAmount) > 0 {
		return nil, errCounterOverflow
	}
	if state.ActiveLoanCount > 0 {
		state.ActiveLoanCount--
	}
	remaining := new(big.Int).Sub(state.TotalActiveLoanAmount, amount)
	if remaining.Sign() < 0 {
		remaining = big.NewInt(0)
	}
	state.TotalActiveLoanAmount = remaining
	state.ClosedLoanCount++
	state.TotalClosedLoanAmount = projectedClosed
	return state, nil
}

func (e *Engine) ensureBorrowerState(line, borrower [20]byte) (*BorrowerState, error) {
	state, err := e.state.GetBorrowerState(line, borrower)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &BorrowerState{}
	}
	if state.TotalActiveLoanAmount == nil {
		state.TotalActiveLoanAmount = big.NewInt(0)
	}
	if state.TotalClosedLoanAmount == nil {
		state.TotalClosedLoanAmount = big.NewInt(0)
	}
	if state.Allowance == nil {
		state.Allowance = big.NewInt(0)
	}
	return state, nil
}

// CreditLineConfiguration returns the stored configuration of the credit line.
func (e *Engine) CreditLineConfiguration(line [20]byte) (*CreditLineConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	lineState, err := e.requireCreditLine(line)
	if err != nil {
		return nil, err
	}
	if lineState.Config == nil {
		return nil, errLineNotConfigured
	}
	return lineState.Config.Clone(), nil
}

// BorrowerConfiguration returns the stored configuration of the borrower.
func (e *Engine) BorrowerConfiguration(line, borrower [20]byte) (*BorrowerConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.requireCreditLine(line); err != nil {
		return nil, err
	}
	cfg, err := e.state.GetBorrowerConfig(line, borrower)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, errBorrowerNotConfigured
	}
	return cfg.Clone(), nil
}

// BorrowerStateView returns the aggregate counters tracked for the borrower.
func (e *Engine) BorrowerStateView(line, borrower [20]byte) (*BorrowerState, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.requireCreditLine(line); err != nil {
		return nil, err
	}
	state, err := e.ensureBorrowerState(line, borrower)
	if err != nil {
		return nil, err
	}
	return state.Clone(), nil
}
