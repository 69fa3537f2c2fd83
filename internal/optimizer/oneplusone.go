package optimizer

import (
	"math"
	"math/rand"

	"optqueue/internal/model"
)

// (1+1)-ES with the one-fifth style success rule
type onePlusOne struct {
	rng         *rand.Rand
	parent      []float64
	parentValue float64
	parentAsked bool
	sigma       float64
}

func newOnePlusOne(space *Space, _ model.OptimizerConfig, rng *rand.Rand) strategy {
	return &onePlusOne{
		rng:         rng,
		parent:      space.InitPoint(),
		parentValue: math.Inf(1),
		sigma:       0.2,
	}
}

func (o *onePlusOne) next() ([]float64, error) {
	if !o.parentAsked {
		o.parentAsked = true
		return append([]float64(nil), o.parent...), nil
	}
	child := make([]float64, len(o.parent))
	for i, x := range o.parent {
		child[i] = clamp01(x + o.sigma*o.rng.NormFloat64())
	}
	return child, nil
}

func (o *onePlusOne) observe(point []float64, value float64) {
	if value < o.parentValue {
		o.parent = point
		o.parentValue = value
		o.sigma = math.Min(o.sigma*1.5, 1)
		return
	}
	o.sigma = math.Max(o.sigma*0.9, 1e-9)
}

func (o *onePlusOne) close() {}

// uniform random search
type random struct {
	rng *rand.Rand
	dim int
}

func newRandom(space *Space, _ model.OptimizerConfig, rng *rand.Rand) strategy {
	return &random{rng: rng, dim: space.Dim()}
}

func (r *random) next() ([]float64, error) {
	point := make([]float64, r.dim)
	for i := range point {
		point[i] = r.rng.Float64()
	}
	return point, nil
}

func (r *random) observe([]float64, float64) {}

func (r *random) close() {}
