package credit

import "math/big"

// periodIndex maps a timestamp onto the discrete compounding grid.
func periodIndex(timestamp int64, periodLength uint64) uint64 {
	if timestamp <= 0 || periodLength == 0 {
		return 0
	}
	return uint64(timestamp) / periodLength
}

// periodBoundary returns the start timestamp of the period containing the
// given time.
func periodBoundary(timestamp int64, periodLength uint64) int64 {
	if periodLength == 0 {
		return timestamp
	}
	return int64(periodIndex(timestamp, periodLength) * periodLength)
}

// projectLoan computes the outstanding balance of the loan at the given
// timestamp together with the period index the timestamp falls in. Frozen
// loans project to their freeze anchor instead, so accrual never advances
// while frozen.
//
// Accrual before the due period uses the primary rate and from the due period
// on the secondary rate. A span straddling the due date compounds
// sequentially: first the primary-rate periods up to the due date, then the
// secondary-rate periods on the already grown balance. A blended rate would
// not reproduce this.
func projectLoan(loan *Loan, timestamp int64) (*big.Int, uint64) {
	if loan == nil {
		return big.NewInt(0), 0
	}
	if loan.FreezeTimestamp != 0 && loan.FreezeTimestamp < timestamp {
		timestamp = loan.FreezeTimestamp
	}
	period := periodIndex(timestamp, loan.PeriodLength)
	trackedPeriod := periodIndex(loan.TrackedTimestamp, loan.PeriodLength)
	if period <= trackedPeriod {
		return cloneBigInt(loan.TrackedBalance), period
	}

	duePeriod := periodIndex(loan.StartTimestamp, loan.PeriodLength) + loan.DurationInPeriods
	balance := cloneBigInt(loan.TrackedBalance)
	switch {
	case period < duePeriod:
		balance = Accrue(balance, period-trackedPeriod, loan.InterestRatePrimary, loan.RateFactor)
	case trackedPeriod >= duePeriod:
		balance = Accrue(balance, period-trackedPeriod, loan.InterestRateSecondary, loan.RateFactor)
	default:
		balance = Accrue(balance, duePeriod-trackedPeriod, loan.InterestRatePrimary, loan.RateFactor)
		balance = Accrue(balance, period-duePeriod, loan.InterestRateSecondary, loan.RateFactor)
	}
	return balance, period
}
