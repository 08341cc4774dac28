// Package noise perturbs released integer results with the two-sided
// geometric mechanism. Sampling follows google/differential-privacy's
// laplace_noise.go and draws randomness from its secure rand package.
package noise

import (
	"fmt"
	"math"

	"github.com/google/differential-privacy/go/v2/rand"
)

// Geometric samples from a geometric distribution with success probability
// p = 1 - e^-lambda.
type Geometric struct {
	lambda float64
}

// NewGeometric returns a sampler for a privacy budget epsilon and the
// given sensitivity of the released value.
func NewGeometric(epsilon float64, sensitivity int) (*Geometric, error) {
	if epsilon <= 0 || math.IsInf(epsilon, 0) || math.IsNaN(epsilon) {
		return nil, fmt.Errorf("epsilon must be positive and finite, got %v", epsilon)
	}
	if sensitivity <= 0 {
		return nil, fmt.Errorf("sensitivity must be positive, got %d", sensitivity)
	}
	return &Geometric{lambda: epsilon / float64(sensitivity)}, nil
}

// sample returns the number of Bernoulli trials up to and including the
// first success, truncated to math.MaxInt64.
func (g *Geometric) sample() int64 {
	if rand.Uniform() > -math.Expm1(-g.lambda*math.MaxInt64) {
		return math.MaxInt64
	}

	// Binary search over (left, right], splitting the remaining probability
	// mass roughly in half each step.
	var left, right int64 = 0, math.MaxInt64
	for left+1 < right {
		mid := left - int64(math.Floor((math.Log(0.5)+math.Log1p(math.Exp(g.lambda*float64(left-right))))/g.lambda))
		if mid <= left {
			mid = left + 1
		} else if mid >= right {
			mid = right - 1
		}

		// Pr[X <= mid | left < X <= right]
		q := math.Expm1(g.lambda*float64(left-mid)) / math.Expm1(g.lambda*float64(left-right))
		if rand.Uniform() <= q {
			right = mid
		} else {
			left = mid
		}
	}
	return right
}

// TwoSided returns a sample of the geometric distribution mirrored at 0.
func (g *Geometric) TwoSided() int64 {
	var magnitude int64
	sign := int64(-1)
	// A zero drawn with a negative sign is redrawn, or 0 would be twice as
	// likely as it should be.
	for magnitude == 0 && sign == -1 {
		magnitude = g.sample() - 1
		sign = int64(rand.Sign())
	}
	return magnitude * sign
}

// Release adds two-sided geometric noise to a non-negative value and clamps
// the result at 0.
func (g *Geometric) Release(value int32) int32 {
	noisy := int64(value) + g.TwoSided()
	switch {
	case noisy < 0:
		return 0
	case noisy > math.MaxInt32:
		return math.MaxInt32
	}
	return int32(noisy)
}
