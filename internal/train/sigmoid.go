package train

import "math"

// The sigmoid is precomputed over (-maxExp, +maxExp); inputs outside the
// range saturate to 0 or 1. This mirrors the clipping the gradient updates
// rely on to stay numerically stable.
const (
	maxExp       = 6.0
	sigmoidSteps = 1000
)

type sigmoidTable struct {
	values [sigmoidSteps]float32
}

func newSigmoidTable() *sigmoidTable {
	t := &sigmoidTable{}
	for i := 0; i < sigmoidSteps; i++ {
		x := (float64(i)/sigmoidSteps*2 - 1) * maxExp
		e := math.Exp(x)
		t.values[i] = float32(e / (e + 1))
	}
	return t
}

// at returns sigmoid(x) with saturation outside (-maxExp, +maxExp)
func (t *sigmoidTable) at(x float32) float32 {
	if x >= maxExp {
		return 1
	}
	if x <= -maxExp {
		return 0
	}
	idx := int((float64(x) + maxExp) / (2 * maxExp) * sigmoidSteps)
	if idx >= sigmoidSteps {
		idx = sigmoidSteps - 1
	}
	return t.values[idx]
}
