package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRationalNormalize(t *testing.T) {
	r := Rational{Num: -2, Den: -4}.Normalize()
	assert.Equal(t, Rational{Num: 1, Den: 2}, r)

	r = Rational{Num: 6, Den: 9}.Normalize()
	assert.Equal(t, Rational{Num: 2, Den: 3}, r)
}

func TestRationalEqual(t *testing.T) {
	assert.True(t, Rational{Num: 1, Den: 2}.Equal(Rational{Num: 2, Den: 4}))
	assert.False(t, Rational{Num: 1, Den: 2}.Equal(Rational{Num: 1, Den: 3}))
}

func TestInv(t *testing.T) {
	assert.Equal(t, Rational{Num: 30, Den: 1}, Inv(Rational{Num: 1, Den: 30}))
	assert.Equal(t, Rational{Num: -30, Den: 1}, Inv(Rational{Num: -1, Den: 30}))
}

func TestMul(t *testing.T) {
	assert.Equal(t, Rational{Num: 1, Den: 2}, Mul(Rational{Num: 1, Den: 4}, Rational{Num: 2, Den: 1}))
}

func TestGCDLCM(t *testing.T) {
	assert.Equal(t, int32(6), GCD(48, 18))
	assert.Equal(t, int64(144), LCM(48, 18))
}

func TestHasTimestamp(t *testing.T) {
	assert.False(t, HasTimestamp(NoTimestamp))
	assert.True(t, HasTimestamp(0))
	assert.True(t, HasTimestamp(12345))
}
