package credit

import "math/big"

// RoundUp returns the smallest multiple of precision that is greater than or
// equal to value. A precision of zero or one returns the value unchanged. The
// input is never mutated.
func RoundUp(value *big.Int, precision uint64) *big.Int {
	if value == nil {
		return big.NewInt(0)
	}
	if precision <= 1 {
		return new(big.Int).Set(value)
	}
	p := new(big.Int).SetUint64(precision)
	q, r := new(big.Int).QuoRem(value, p, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q.Mul(q, p)
}

// RoundDown returns the largest multiple of precision that is less than or
// equal to value. A precision of zero or one returns the value unchanged. The
// input is never mutated.
func RoundDown(value *big.Int, precision uint64) *big.Int {
	if value == nil {
		return big.NewInt(0)
	}
	if precision <= 1 {
		return new(big.Int).Set(value)
	}
	p := new(big.Int).SetUint64(precision)
	q := new(big.Int).Quo(value, p)
	return q.Mul(q, p)
}
