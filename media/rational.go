package media

import "fmt"

// Rational is a pair (Num, Den) with Den > 0 after Normalize. Every
// timestamp and duration in this package is an integer expressed in some
// Rational time base: a timestamp of t means t * time_base seconds.
type Rational struct {
	Num int32
	Den int32
}

// NewRational builds a normalized Rational.
func NewRational(num, den int32) Rational {
	return Rational{Num: num, Den: den}.Normalize()
}

// Normalize flips the sign so Den > 0, reducing by the gcd of |Num| and Den.
// A zero denominator is left as-is; callers that can encounter "unset"
// rationals must check IsValid first.
func (r Rational) Normalize() Rational {
	if r.Den == 0 {
		return r
	}
	if r.Den < 0 {
		r.Num, r.Den = -r.Num, -r.Den
	}
	if g := GCD(abs32(r.Num), r.Den); g > 1 {
		r.Num /= g
		r.Den /= g
	}
	return r
}

// IsValid reports whether the rational has a positive denominator.
func (r Rational) IsValid() bool { return r.Den > 0 }

// Equal is value-based equality after normalization, matching the data
// model's "Equality is value-based" invariant for Rational.
func (r Rational) Equal(o Rational) bool {
	a, b := r.Normalize(), o.Normalize()
	return a.Num == b.Num && a.Den == b.Den
}

// Inv returns the multiplicative inverse 1/r.
func Inv(r Rational) Rational {
	if r.Num < 0 {
		return Rational{Num: -r.Den, Den: -r.Num}
	}
	return Rational{Num: r.Den, Den: r.Num}
}

// Mul multiplies two rationals and normalizes the result.
func Mul(a, b Rational) Rational {
	return NewRational(a.Num*b.Num, a.Den*b.Den)
}

// Float64 returns the rational as a float64 approximation, useful only for
// logging/diagnostics, never for timestamp arithmetic.
func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) String() string { return fmt.Sprintf("%d/%d", r.Num, r.Den) }

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// GCD returns the greatest common divisor of two non-negative int32s.
func GCD(a, b int32) int32 {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

// LCM returns the least common multiple of two positive int32s.
func LCM(a, b int32) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	g := GCD(a, b)
	return int64(a) / int64(g) * int64(b)
}

// CanonicalTimeBase is the microsecond time base (1/1,000,000) used by the
// stream-copy pre-filter and by packet DTS comparisons in MuxedOutput.
var CanonicalTimeBase = Rational{Num: 1, Den: 1_000_000}

// NoTimestamp is the "unspecified time" sentinel distinguishing "no
// timestamp" from "timestamp equals zero". It mirrors the native library's
// AV_NOPTS_VALUE (INT64_MIN).
const NoTimestamp int64 = -1 << 63

// HasTimestamp reports whether v is not the NoTimestamp sentinel.
func HasTimestamp(v int64) bool { return v != NoTimestamp }
