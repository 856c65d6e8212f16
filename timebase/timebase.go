// Package timebase implements TimebaseMath: rational rescaling with
// rounding, the "smooth delta" rescale used to carry fractional audio
// offsets across calls without accumulating drift, and the gcd/lcm helpers
// the Decoder's dynamic audio time base selection needs.
package timebase

import (
	"github.com/richinsley/avpipeline/media"
)

// Rounding selects how Rescale handles the remainder of the division.
type Rounding int

const (
	RoundNearest Rounding = iota
	RoundUp
	RoundDown
)

// Rescale performs an integer multiply-and-divide of value from src to dst
// time base, preserving sign, with the requested rounding mode. This is
// the Go-level equivalent of av_rescale_q_rnd.
func Rescale(value int64, src, dst media.Rational, rounding Rounding) int64 {
	if !media.HasTimestamp(value) {
		return media.NoTimestamp
	}
	if src.Num == 0 || dst.Num == 0 || src.Den == 0 || dst.Den == 0 {
		return value
	}
	if src.Equal(dst) {
		return value
	}

	num := int64(src.Num) * int64(dst.Den)
	den := int64(src.Den) * int64(dst.Num)
	return rescaleFraction(value, num, den, rounding)
}

// rescaleFraction computes round(value * num / den) honoring sign and
// rounding mode, without overflow for the ranges this package operates on
// (timestamps fit comfortably in int64 after the num/den reduction above).
func rescaleFraction(value, num, den int64, rounding Rounding) int64 {
	if den < 0 {
		num, den = -num, -den
	}
	neg := false
	if value < 0 {
		neg = true
		value = -value
	}
	if num < 0 {
		neg = !neg
		num = -num
	}

	product := value * num
	quotient := product / den
	remainder := product % den

	switch rounding {
	case RoundUp:
		if remainder != 0 {
			quotient++
		}
	case RoundDown:
		// truncation toward zero is already what integer division does
	default: // RoundNearest
		if remainder*2 >= den {
			quotient++
		}
	}

	if neg {
		return -quotient
	}
	return quotient
}

// DeltaState carries the running fractional remainder rescale_delta needs
// between calls so that repeated rescaling of consecutive timestamps
// accumulates no drift. The zero value means "no prior state" (state_ref
// is "none"), matching the *last == AV_NOPTS_VALUE convention.
type DeltaState struct {
	last int64 // in the intermediate time base
	set  bool
}

// Reset clears the running state, forcing the next RescaleDelta call to
// treat its input as a fresh starting point.
func (s *DeltaState) Reset() {
	s.last = media.NoTimestamp
	s.set = false
}

// IsSet reports whether the state currently holds a prior timestamp.
func (s *DeltaState) IsSet() bool { return s.set }

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// RescaleDelta rescales srcTS (in src time base) into dst time base via an
// intermediate time base, advancing state by step (in the intermediate
// time base) on each call so that a regularly incrementing input sequence
// (one call per decoded audio frame, say) produces an output sequence that
// never drifts from the true rate, matching av_rescale_delta's algorithm:
// fall back to a plain rescale whenever state is unset, step is zero, the
// source time base is no coarser than the intermediate time base, or the
// predicted position has drifted by more than two units from the naive
// rescale of this call's input — which is treated as a genuine gap.
func RescaleDelta(src media.Rational, srcTS int64, intermediate media.Rational, step int64, state *DeltaState, dst media.Rational) int64 {
	if !media.HasTimestamp(srcTS) {
		return media.NoTimestamp
	}

	simpleRound := func() int64 {
		state.last = Rescale(srcTS, src, intermediate, RoundDown) + step
		state.set = true
		return Rescale(srcTS, src, dst, RoundNearest)
	}

	if !state.IsSet() || step == 0 ||
		int64(src.Num)*int64(intermediate.Den) <= int64(intermediate.Num)*int64(src.Den) {
		return simpleRound()
	}

	naive := Rescale(srcTS, src, intermediate, RoundNearest)
	if absInt64(naive-state.last) > 2 {
		return simpleRound()
	}

	out := state.last
	state.last += step
	return Rescale(out, intermediate, dst, RoundNearest)
}

// GCD returns the greatest common divisor of two positive int32s.
func GCD(a, b int32) int32 { return media.GCD(a, b) }

// LCM returns the least common multiple of two positive int32s.
func LCM(a, b int32) int64 { return media.LCM(a, b) }

// Inv returns the multiplicative inverse of r.
func Inv(r media.Rational) media.Rational { return media.Inv(r) }

// Mul multiplies two rationals.
func Mul(a, b media.Rational) media.Rational { return media.Mul(a, b) }
