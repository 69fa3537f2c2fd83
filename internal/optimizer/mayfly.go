package optimizer

import (
	"math"
	"math/rand"
	"sync"

	"optqueue/internal/model"

	"github.com/cwbudde/mayfly"
)

// mayfly v0.1.0 rejects smaller populations
const mayflyMinPopulation = 20

// mayflyStrategy bridges the callback-driven mayfly optimizer to ask/tell.
// Optimize runs in its own goroutine; every objective call hands the point
// to next() and blocks until observe() returns the score. Only one candidate
// can be outstanding at a time.
type mayflyStrategy struct {
	points   chan []float64
	values   chan float64
	done     chan struct{}
	finished chan struct{}

	outstanding bool
	once        sync.Once
}

func newMayfly(space *Space, cfg model.OptimizerConfig, rng *rand.Rand) strategy {
	m := &mayflyStrategy{
		points:   make(chan []float64),
		values:   make(chan float64),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}

	mcfg := mayfly.NewDefaultConfig()
	mcfg.ObjectiveFunc = m.objective
	mcfg.ProblemSize = space.Dim()
	mcfg.LowerBound = 0
	mcfg.UpperBound = 1
	if mcfg.NPop < mayflyMinPopulation {
		mcfg.NPop = mayflyMinPopulation
	}
	// every iteration scores at least the male population, so this many
	// iterations cover the budget; after close the remaining ones return
	// +Inf without blocking and must stay few
	mcfg.MaxIterations = cfg.Budget/mcfg.NPop + 1
	mcfg.Rand = rng

	go func() {
		defer close(m.finished)
		_, _ = mayfly.Optimize(mcfg)
	}()
	return m
}

func (m *mayflyStrategy) objective(x []float64) float64 {
	point := clampPoint(x)
	select {
	case m.points <- point:
	case <-m.done:
		return math.Inf(1)
	}
	select {
	case v := <-m.values:
		return v
	case <-m.done:
		return math.Inf(1)
	}
}

func (m *mayflyStrategy) next() ([]float64, error) {
	if m.outstanding {
		return nil, ErrCandidateNotReady
	}
	select {
	case p := <-m.points:
		m.outstanding = true
		return p, nil
	case <-m.finished:
		return nil, ErrConverged
	case <-m.done:
		return nil, ErrClosed
	}
}

func (m *mayflyStrategy) observe(_ []float64, value float64) {
	if !m.outstanding {
		return
	}
	m.outstanding = false
	select {
	case m.values <- value:
	case <-m.done:
	}
}

func (m *mayflyStrategy) close() {
	m.once.Do(func() { close(m.done) })
}
