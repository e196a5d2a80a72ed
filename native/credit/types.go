package credit

import (
	"fmt"
	"math/big"
)

// BorrowPolicy selects the rule governing how a borrower's remaining capacity
// reacts to loan origination and settlement. Two policy generations coexist in
// the wild: allowance-based policies mutate the borrower's remaining allowance,
// counter-based policies track aggregate loan counters. They are kept as
// explicit variants and never merged.
type BorrowPolicy uint8

const (
	// PolicyKeep leaves the borrower's allowance untouched at origination.
	PolicyKeep BorrowPolicy = iota
	// PolicyDecrease subtracts the borrowed amount from the allowance.
	PolicyDecrease
	// PolicyReset zeroes the allowance, so only one loan is obtainable until
	// the borrower is reconfigured.
	PolicyReset
	// PolicySingleActiveLoan rejects origination while another loan is active.
	PolicySingleActiveLoan
	// PolicyMultipleActiveLoans never rejects origination.
	PolicyMultipleActiveLoans
	// PolicyTotalActiveAmountLimit rejects origination when the aggregate
	// active amount would exceed the borrower's maximum borrow amount.
	PolicyTotalActiveAmountLimit
)

// Valid reports whether the policy value is within the supported range.
func (p BorrowPolicy) Valid() bool {
	return p <= PolicyTotalActiveAmountLimit
}

// CounterBased reports whether the policy belongs to the counter generation.
func (p BorrowPolicy) CounterBased() bool {
	switch p {
	case PolicySingleActiveLoan, PolicyMultipleActiveLoans, PolicyTotalActiveAmountLimit:
		return true
	default:
		return false
	}
}

func (p BorrowPolicy) String() string {
	switch p {
	case PolicyKeep:
		return "keep"
	case PolicyDecrease:
		return "decrease"
	case PolicyReset:
		return "reset"
	case PolicySingleActiveLoan:
		return "single_active_loan"
	case PolicyMultipleActiveLoans:
		return "multiple_active_loans"
	case PolicyTotalActiveAmountLimit:
		return "total_active_amount_limit"
	default:
		return fmt.Sprintf("borrow_policy(%d)", uint8(p))
	}
}

// LoanStatus is the derived lifecycle state of a loan record.
type LoanStatus uint8

const (
	StatusNonexistent LoanStatus = iota
	StatusActive
	StatusFrozen
	StatusSettled
	StatusRevoked
)

func (s LoanStatus) String() string {
	switch s {
	case StatusNonexistent:
		return "nonexistent"
	case StatusActive:
		return "active"
	case StatusFrozen:
		return "frozen"
	case StatusSettled:
		return "settled"
	case StatusRevoked:
		return "revoked"
	default:
		return fmt.Sprintf("loan_status(%d)", uint8(s))
	}
}

// Loan is the mutable ledger record for a single principal+fee balance. Once
// created it is never physically removed; settlement and revocation only zero
// the tracked balance. A loan with a zero token identity never existed.
type Loan struct {
	Borrower [20]byte `json:"borrower"`
	Lender   [20]byte `json:"lender"`
	// CreditLine is the identity of the line the loan was originated under;
	// borrower aggregates and alias checks key off it.
	CreditLine [20]byte `json:"creditLine"`
	Token      [20]byte `json:"token"`
	Treasury   [20]byte `json:"treasury"`

	StartTimestamp   int64 `json:"startTimestamp"`
	TrackedTimestamp int64 `json:"trackedTimestamp"`
	// FreezeTimestamp is zero while accrual advances; a non-zero value marks
	// the period boundary at which accrual stopped.
	FreezeTimestamp int64 `json:"freezeTimestamp,omitempty"`

	// PeriodLength, RateFactor and InterestRatePrecision are copied from the
	// credit line terms at origination so that later reconfiguration of the
	// line never changes the accounting of an existing loan.
	PeriodLength          uint64 `json:"periodLength"`
	RateFactor            uint64 `json:"rateFactor"`
	InterestRatePrecision uint64 `json:"interestRatePrecision"`

	DurationInPeriods     uint64 `json:"durationInPeriods"`
	InterestRatePrimary   uint64 `json:"interestRatePrimary"`
	InterestRateSecondary uint64 `json:"interestRateSecondary"`

	BorrowAmount   *big.Int `json:"borrowAmount"`
	AddonAmount    *big.Int `json:"addonAmount"`
	RepaidAmount   *big.Int `json:"repaidAmount"`
	TrackedBalance *big.Int `json:"trackedBalance"`

	AutoRepayment bool `json:"autoRepayment,omitempty"`
	Revoked       bool `json:"revoked,omitempty"`
}

// Exists reports whether the record describes a loan that was ever originated.
func (l *Loan) Exists() bool {
	return l != nil && l.Token != ([20]byte{})
}

// Status derives the lifecycle state from the record fields.
func (l *Loan) Status() LoanStatus {
	switch {
	case !l.Exists():
		return StatusNonexistent
	case l.Revoked:
		return StatusRevoked
	case l.TrackedBalance == nil || l.TrackedBalance.Sign() == 0:
		return StatusSettled
	case l.FreezeTimestamp != 0:
		return StatusFrozen
	default:
		return StatusActive
	}
}

// Clone returns a deep copy of the loan so callers can safely mutate the copy
// without affecting the stored instance.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.BorrowAmount = cloneBigInt(l.BorrowAmount)
	clone.AddonAmount = cloneBigInt(l.AddonAmount)
	clone.RepaidAmount = cloneBigInt(l.RepaidAmount)
	clone.TrackedBalance = cloneBigInt(l.TrackedBalance)
	return &clone
}

// Terms is the ephemeral output of the policy engine at origination. The
// fields are copied into the loan record and the value is then discarded.
type Terms struct {
	Token                 [20]byte
	Treasury              [20]byte
	PeriodLength          uint64
	RateFactor            uint64
	InterestRatePrecision uint64
	DurationInPeriods     uint64
	InterestRatePrimary   uint64
	InterestRateSecondary uint64
	AddonAmount           *big.Int
	AutoRepayment         bool
}

// LoanPreview is a computed projection of a loan at a requested timestamp. It
// is never stored.
type LoanPreview struct {
	PeriodIndex        uint64   `json:"periodIndex"`
	OutstandingBalance *big.Int `json:"outstandingBalance"`
}

// CreditLineConfig holds the global underwriting bounds owned by the lender.
// Borrower configurations must nest inside these bounds.
type CreditLineConfig struct {
	Token    [20]byte `json:"token"`
	Treasury [20]byte `json:"treasury"`

	// PeriodLength is the compounding period in seconds.
	PeriodLength uint64 `json:"periodLength"`
	// RateFactor is the fixed-point denominator in which all rates are
	// expressed.
	RateFactor uint64 `json:"rateFactor"`
	// InterestRatePrecision is the rounding precision applied to addon fees.
	InterestRatePrecision uint64 `json:"interestRatePrecision"`

	MinBorrowAmount *big.Int `json:"minBorrowAmount"`
	MaxBorrowAmount *big.Int `json:"maxBorrowAmount"`

	MinDurationInPeriods uint64 `json:"minDurationInPeriods"`
	MaxDurationInPeriods uint64 `json:"maxDurationInPeriods"`

	MinInterestRatePrimary   uint64 `json:"minInterestRatePrimary"`
	MaxInterestRatePrimary   uint64 `json:"maxInterestRatePrimary"`
	MinInterestRateSecondary uint64 `json:"minInterestRateSecondary"`
	MaxInterestRateSecondary uint64 `json:"maxInterestRateSecondary"`

	MinAddonFixedRate  uint64 `json:"minAddonFixedRate"`
	MaxAddonFixedRate  uint64 `json:"maxAddonFixedRate"`
	MinAddonPeriodRate uint64 `json:"minAddonPeriodRate"`
	MaxAddonPeriodRate uint64 `json:"maxAddonPeriodRate"`
}

// Clone returns a deep copy of the credit line config.
func (c *CreditLineConfig) Clone() *CreditLineConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.MinBorrowAmount = cloneBigInt(c.MinBorrowAmount)
	clone.MaxBorrowAmount = cloneBigInt(c.MaxBorrowAmount)
	return &clone
}

// BorrowerConfig is the per-borrower underwriting configuration set by the
// policy authority. Its amount and duration ranges must nest inside the credit
// line bounds; its rates must fall within the line's rate bounds.
type BorrowerConfig struct {
	// Expiration disables the configuration once the current time passes it.
	// Storing an already expired configuration is a valid way to disable a
	// borrower.
	Expiration int64 `json:"expiration"`

	MinBorrowAmount *big.Int `json:"minBorrowAmount"`
	MaxBorrowAmount *big.Int `json:"maxBorrowAmount"`

	MinDurationInPeriods uint64 `json:"minDurationInPeriods"`
	MaxDurationInPeriods uint64 `json:"maxDurationInPeriods"`

	InterestRatePrimary   uint64 `json:"interestRatePrimary"`
	InterestRateSecondary uint64 `json:"interestRateSecondary"`
	AddonFixedRate        uint64 `json:"addonFixedRate"`
	AddonPeriodRate       uint64 `json:"addonPeriodRate"`

	BorrowPolicy  BorrowPolicy `json:"borrowPolicy"`
	AutoRepayment bool         `json:"autoRepayment,omitempty"`
}

// Clone returns a deep copy of the borrower config.
func (c *BorrowerConfig) Clone() *BorrowerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.MinBorrowAmount = cloneBigInt(c.MinBorrowAmount)
	clone.MaxBorrowAmount = cloneBigInt(c.MaxBorrowAmount)
	return &clone
}

// Expired reports whether the configuration is disabled at the given time.
func (c *BorrowerConfig) Expired(now int64) bool {
	return c == nil || c.Expiration < now
}

// BorrowerState aggregates per-borrower loan counters used by the
// counter-based policies and the allowance remaining for the allowance-based
// policies. Counter increments are checked against the maximum representable
// range and rejected, never saturated.
type BorrowerState struct {
	ActiveLoanCount       uint32   `json:"activeLoanCount"`
	ClosedLoanCount       uint32   `json:"closedLoanCount"`
	TotalActiveLoanAmount *big.Int `json:"totalActiveLoanAmount"`
	TotalClosedLoanAmount *big.Int `json:"totalClosedLoanAmount"`
	// Allowance is the remaining borrow allowance consumed by the
	// allowance-based policy generation. It is initialised from the borrower's
	// MaxBorrowAmount when the configuration is stored.
	Allowance *big.Int `json:"allowance"`
}

// Clone returns a deep copy of the borrower state.
func (s *BorrowerState) Clone() *BorrowerState {
	if s == nil {
		return nil
	}
	clone := *s
	clone.TotalActiveLoanAmount = cloneBigInt(s.TotalActiveLoanAmount)
	clone.TotalClosedLoanAmount = cloneBigInt(s.TotalClosedLoanAmount)
	clone.Allowance = cloneBigInt(s.Allowance)
	return &clone
}

// CreditLineState is the registration record for a credit line: the owning
// lender, the optional configuration and the lender's operational aliases.
type CreditLineState struct {
	Lender  [20]byte          `json:"lender"`
	Config  *CreditLineConfig `json:"config,omitempty"`
	Aliases map[string]bool   `json:"aliases,omitempty"`
}

// Clone returns a deep copy of the credit line state.
func (s *CreditLineState) Clone() *CreditLineState {
	if s == nil {
		return nil
	}
	clone := &CreditLineState{Lender: s.Lender, Config: s.Config.Clone()}
	if s.Aliases != nil {
		clone.Aliases = make(map[string]bool, len(s.Aliases))
		for k, v := range s.Aliases {
			clone.Aliases[k] = v
		}
	}
	return clone
}

// SetAlias toggles an operational alias for the lender.
func (s *CreditLineState) SetAlias(alias [20]byte, enabled bool) {
	if s == nil {
		return
	}
	key := addressKey(alias)
	if enabled {
		if s.Aliases == nil {
			s.Aliases = make(map[string]bool)
		}
		s.Aliases[key] = true
		return
	}
	delete(s.Aliases, key)
}

// HasAlias reports whether the address is an enabled alias of the lender.
func (s *CreditLineState) HasAlias(alias [20]byte) bool {
	if s == nil || s.Aliases == nil {
		return false
	}
	return s.Aliases[addressKey(alias)]
}

func addressKey(addr [20]byte) string {
	return fmt.Sprintf("%x", addr[:])
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func isZeroAddress(addr [20]byte) bool {
	return addr == [20]byte{}
}
