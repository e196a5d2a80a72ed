package credit

import "math/big"

// Accrue projects balance forward by the given number of whole periods of
// compound interest. The growth factor is the exact integer ratio
// (rateFactor+rate)/rateFactor raised to the period count, and the result is
// rounded once, half-up on the fractional remainder. Using exact big-integer
// arithmetic with a single terminal rounding keeps the result reproducible
// across platforms; no intermediate rounding ever occurs.
//
// Callers guarantee rate < rateFactor and rateFactor > 0; the policy engine
// rejects configurations that would violate this before any loan is priced.
func Accrue(balance *big.Int, periods uint64, rate, rateFactor uint64) *big.Int {
	if balance == nil {
		return big.NewInt(0)
	}
	if periods == 0 || rate == 0 || rateFactor == 0 {
		return new(big.Int).Set(balance)
	}

	base := new(big.Int).Add(new(big.Int).SetUint64(rateFactor), new(big.Int).SetUint64(rate))
	num := powBySquaring(base, periods)
	den := powBySquaring(new(big.Int).SetUint64(rateFactor), periods)

	return mulDivHalfUp(balance, num, den)
}

// powBySquaring computes base^exp by repeated squaring. The intermediate
// values stay exact; rounding is deferred to the final division.
func powBySquaring(base *big.Int, exp uint64) *big.Int {
	result := big.NewInt(1)
	square := new(big.Int).Set(base)
	for exp > 0 {
		if exp&1 == 1 {
			result.Mul(result, square)
		}
		exp >>= 1
		if exp > 0 {
			square.Mul(square, square)
		}
	}
	return result
}

// mulDivHalfUp computes a*b/den rounded half-up: a fractional remainder of at
// least half the divisor rounds away from zero.
func mulDivHalfUp(a, b, den *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(product, den, new(big.Int))
	r.Lsh(r, 1)
	if r.Cmp(den) >= 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
