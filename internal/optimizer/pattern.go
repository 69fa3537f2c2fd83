package optimizer

import (
	"math"
	"math/rand"

	"optqueue/internal/model"
)

const (
	patternInitialStep = 0.25
	patternMinStep     = 1e-6
)

// pattern is an opportunistic compass search. It polls center±step along
// each axis; any improvement moves the center and restarts polling, and a
// full round without improvement halves the step.
type pattern struct {
	center      []float64
	centerValue float64
	step        float64
	queue       [][]float64
	outstanding int
	improved    bool
}

func newPattern(space *Space, _ model.OptimizerConfig, _ *rand.Rand) strategy {
	init := space.InitPoint()
	return &pattern{
		center:      init,
		centerValue: math.Inf(1),
		step:        patternInitialStep,
		queue:       [][]float64{init},
		improved:    true,
	}
}

func (p *pattern) next() ([]float64, error) {
	if len(p.queue) == 0 {
		if p.outstanding > 0 {
			return nil, ErrCandidateNotReady
		}
		if !p.improved {
			p.step /= 2
		}
		if p.step < patternMinStep {
			return nil, ErrConverged
		}
		p.improved = false
		p.poll()
		if len(p.queue) == 0 {
			return nil, ErrConverged
		}
	}

	point := p.queue[0]
	p.queue = p.queue[1:]
	p.outstanding++
	return point, nil
}

func (p *pattern) poll() {
	for i := range p.center {
		for _, dir := range []float64{1, -1} {
			cand := append([]float64(nil), p.center...)
			cand[i] = clamp01(cand[i] + dir*p.step)
			if cand[i] != p.center[i] {
				p.queue = append(p.queue, cand)
			}
		}
	}
}

func (p *pattern) observe(point []float64, value float64) {
	p.outstanding--
	if value < p.centerValue {
		p.center = point
		p.centerValue = value
		p.improved = true
		p.queue = p.queue[:0]
	}
}

func (p *pattern) close() {}
