package credit

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"lendledger/core/types"
)

const (
	EventTypeCreditLineRegistered    = "credit.line_registered"
	EventTypeLiquidityPoolRegistered = "credit.pool_registered"
	EventTypeCreditLineConfigured    = "credit.line_configured"
	EventTypeBorrowerConfigured      = "credit.borrower_configured"
	EventTypeAliasConfigured         = "credit.alias_configured"
	EventTypeLoanTaken               = "credit.loan_taken"
	EventTypeLoanRepayment           = "credit.loan_repayment"
	EventTypeLoanFrozen              = "credit.loan_frozen"
	EventTypeLoanUnfrozen            = "credit.loan_unfrozen"
	EventTypeLoanDurationUpdated     = "credit.loan_duration_updated"
	EventTypeLoanRatePrimaryUpdated  = "credit.loan_interest_rate_primary_updated"
	EventTypeLoanRateSecondary       = "credit.loan_interest_rate_secondary_updated"
	EventTypeLoanRevoked             = "credit.loan_revoked"
)

type creditEvent struct {
	evt *types.Event
}

func (e creditEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e creditEvent) Event() *types.Event { return e.evt }

// NewCreditLineRegisteredEvent returns the canonical payload for a newly
// registered credit line.
func NewCreditLineRegisteredEvent(line, lender [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeCreditLineRegistered,
		Attributes: map[string]string{
			"creditLine": hex.EncodeToString(line[:]),
			"lender":     hex.EncodeToString(lender[:]),
		},
	}
}

// NewLiquidityPoolRegisteredEvent returns the payload emitted when a treasury
// binds its hook implementation.
func NewLiquidityPoolRegisteredEvent(treasury [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeLiquidityPoolRegistered,
		Attributes: map[string]string{
			"treasury": hex.EncodeToString(treasury[:]),
		},
	}
}

// NewCreditLineConfiguredEvent returns the payload for a configuration change
// on the credit line.
func NewCreditLineConfiguredEvent(line [20]byte, cfg *CreditLineConfig) *types.Event {
	attrs := map[string]string{
		"creditLine": hex.EncodeToString(line[:]),
	}
	if cfg != nil {
		attrs["token"] = hex.EncodeToString(cfg.Token[:])
		attrs["treasury"] = hex.EncodeToString(cfg.Treasury[:])
		attrs["periodLength"] = strconv.FormatUint(cfg.PeriodLength, 10)
		attrs["rateFactor"] = strconv.FormatUint(cfg.RateFactor, 10)
		attrs["minBorrowAmount"] = formatAmount(cfg.MinBorrowAmount)
		attrs["maxBorrowAmount"] = formatAmount(cfg.MaxBorrowAmount)
	}
	return &types.Event{Type: EventTypeCreditLineConfigured, Attributes: attrs}
}

// NewBorrowerConfiguredEvent returns the payload for a borrower configuration
// change.
func NewBorrowerConfiguredEvent(line, borrower [20]byte, cfg *BorrowerConfig) *types.Event {
	attrs := map[string]string{
		"creditLine": hex.EncodeToString(line[:]),
		"borrower":   hex.EncodeToString(borrower[:]),
	}
	if cfg != nil {
		attrs["expiration"] = strconv.FormatInt(cfg.Expiration, 10)
		attrs["minBorrowAmount"] = formatAmount(cfg.MinBorrowAmount)
		attrs["maxBorrowAmount"] = formatAmount(cfg.MaxBorrowAmount)
		attrs["borrowPolicy"] = cfg.BorrowPolicy.String()
	}
	return &types.Event{Type: EventTypeBorrowerConfigured, Attributes: attrs}
}

// NewAliasConfiguredEvent returns the payload for an alias toggle.
func NewAliasConfiguredEvent(line, alias [20]byte, enabled bool) *types.Event {
	return &types.Event{
		Type: EventTypeAliasConfigured,
		Attributes: map[string]string{
			"creditLine": hex.EncodeToString(line[:]),
			"alias":      hex.EncodeToString(alias[:]),
			"enabled":    strconv.FormatBool(enabled),
		},
	}
}

// NewLoanTakenEvent returns the payload emitted at origination.
func NewLoanTakenEvent(id uint64, loan *Loan) *types.Event {
	attrs := loanAttributes(id, loan)
	if loan != nil {
		attrs["borrowAmount"] = formatAmount(loan.BorrowAmount)
		attrs["addonAmount"] = formatAmount(loan.AddonAmount)
		attrs["durationInPeriods"] = strconv.FormatUint(loan.DurationInPeriods, 10)
	}
	return &types.Event{Type: EventTypeLoanTaken, Attributes: attrs}
}

// NewLoanRepaymentEvent returns the payload emitted for a repayment.
func NewLoanRepaymentEvent(id uint64, loan *Loan, payer [20]byte, amount *big.Int, auto bool) *types.Event {
	attrs := loanAttributes(id, loan)
	attrs["payer"] = hex.EncodeToString(payer[:])
	attrs["amount"] = formatAmount(amount)
	attrs["auto"] = strconv.FormatBool(auto)
	if loan != nil {
		attrs["trackedBalance"] = formatAmount(loan.TrackedBalance)
	}
	return &types.Event{Type: EventTypeLoanRepayment, Attributes: attrs}
}

// NewLoanFrozenEvent returns the payload emitted when accrual is suspended.
func NewLoanFrozenEvent(id uint64, loan *Loan) *types.Event {
	attrs := loanAttributes(id, loan)
	if loan != nil {
		attrs["freezeTimestamp"] = strconv.FormatInt(loan.FreezeTimestamp, 10)
	}
	return &types.Event{Type: EventTypeLoanFrozen, Attributes: attrs}
}

// NewLoanUnfrozenEvent returns the payload emitted when accrual resumes.
func NewLoanUnfrozenEvent(id uint64, loan *Loan, framePeriods uint64) *types.Event {
	attrs := loanAttributes(id, loan)
	attrs["framePeriods"] = strconv.FormatUint(framePeriods, 10)
	if loan != nil {
		attrs["durationInPeriods"] = strconv.FormatUint(loan.DurationInPeriods, 10)
	}
	return &types.Event{Type: EventTypeLoanUnfrozen, Attributes: attrs}
}

// NewLoanDurationUpdatedEvent returns the payload for a tenor extension.
func NewLoanDurationUpdatedEvent(id uint64, loan *Loan) *types.Event {
	attrs := loanAttributes(id, loan)
	if loan != nil {
		attrs["durationInPeriods"] = strconv.FormatUint(loan.DurationInPeriods, 10)
	}
	return &types.Event{Type: EventTypeLoanDurationUpdated, Attributes: attrs}
}

// NewLoanRatePrimaryUpdatedEvent returns the payload for a primary rate cut.
func NewLoanRatePrimaryUpdatedEvent(id uint64, loan *Loan) *types.Event {
	attrs := loanAttributes(id, loan)
	if loan != nil {
		attrs["interestRatePrimary"] = strconv.FormatUint(loan.InterestRatePrimary, 10)
	}
	return &types.Event{Type: EventTypeLoanRatePrimaryUpdated, Attributes: attrs}
}

// NewLoanRateSecondaryUpdatedEvent returns the payload for a secondary rate
// cut.
func NewLoanRateSecondaryUpdatedEvent(id uint64, loan *Loan) *types.Event {
	attrs := loanAttributes(id, loan)
	if loan != nil {
		attrs["interestRateSecondary"] = strconv.FormatUint(loan.InterestRateSecondary, 10)
	}
	return &types.Event{Type: EventTypeLoanRateSecondary, Attributes: attrs}
}

// NewLoanRevokedEvent returns the payload emitted when a loan is unwound.
func NewLoanRevokedEvent(id uint64, loan *Loan, revoker [20]byte) *types.Event {
	attrs := loanAttributes(id, loan)
	attrs["revoker"] = hex.EncodeToString(revoker[:])
	if loan != nil {
		attrs["repaidAmount"] = formatAmount(loan.RepaidAmount)
		attrs["borrowAmount"] = formatAmount(loan.BorrowAmount)
	}
	return &types.Event{Type: EventTypeLoanRevoked, Attributes: attrs}
}

func loanAttributes(id uint64, loan *Loan) map[string]string {
	attrs := map[string]string{
		"loanId": strconv.FormatUint(id, 10),
	}
	if loan != nil {
		attrs["borrower"] = hex.EncodeToString(loan.Borrower[:])
		attrs["creditLine"] = hex.EncodeToString(loan.CreditLine[:])
	}
	return attrs
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
