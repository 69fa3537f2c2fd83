package optimizer

import (
	"errors"
	"math"
	"testing"
	"time"

	"optqueue/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quadraticSpace(t *testing.T) *Space {
	t.Helper()
	space, err := NewSpace(map[string]model.ParameterConfig{
		"x": {LowerBound: -5, UpperBound: 5},
		"y": {LowerBound: -5, UpperBound: 5},
	})
	require.NoError(t, err)
	return space
}

func quadratic(p map[string]float64) float64 {
	return (p["x"]-1)*(p["x"]-1) + (p["y"]-1)*(p["y"]-1)
}

// drive runs a sequential ask/tell loop until the generator finishes
func drive(t *testing.T, g Generator, f func(map[string]float64) float64) int {
	t.Helper()
	asked := 0
	for {
		c, err := g.Ask()
		if Finished(err) {
			return asked
		}
		require.NoError(t, err)
		asked++
		require.NoError(t, g.Tell(c, f(c.Params)))
	}
}

// TestSpace_DecodeEncode tests the unit-cube mapping for linear and log axes.
func TestSpace_DecodeEncode(t *testing.T) {
	space, err := NewSpace(map[string]model.ParameterConfig{
		"lr":    {LowerBound: 1e-4, UpperBound: 1, Scale: model.ScaleLog},
		"depth": {LowerBound: 0, UpperBound: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"depth", "lr"}, space.Names())

	params := space.Decode([]float64{0.5, 0.5})
	assert.InDelta(t, 5.0, params["depth"], 1e-9)
	assert.InDelta(t, 1e-2, params["lr"], 1e-9)

	u := space.Encode(map[string]float64{"depth": 2.5, "lr": 1})
	assert.InDelta(t, 0.25, u[0], 1e-9)
	assert.InDelta(t, 1.0, u[1], 1e-9)

	clamped := space.Decode([]float64{-3, math.NaN()})
	assert.Equal(t, 0.0, clamped["depth"])
	assert.InDelta(t, 1e-2, clamped["lr"], 1e-9)
}

// TestSpace_InitPoint tests that explicit init values are honoured.
func TestSpace_InitPoint(t *testing.T) {
	init := 2.0
	space, err := NewSpace(map[string]model.ParameterConfig{
		"x": {LowerBound: 0, UpperBound: 4, Init: &init},
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, space.InitPoint())

	_, err = NewSpace(map[string]model.ParameterConfig{"x": {LowerBound: 1, UpperBound: 1}})
	assert.Error(t, err)
}

// TestNew_UnknownAlgorithm tests factory validation.
func TestNew_UnknownAlgorithm(t *testing.T) {
	_, err := New(quadraticSpace(t), model.OptimizerConfig{OptimizerType: "cma", Budget: 10})
	assert.True(t, errors.Is(err, ErrUnknownAlgorithm))
	assert.False(t, Supported("cma"))
	assert.True(t, Supported("Pattern"))
	assert.Equal(t, []string{"mayfly", "oneplusone", "pattern", "random"}, Algorithms())
}

// TestGenerator_BudgetExhaustion tests that Ask stops at the budget.
func TestGenerator_BudgetExhaustion(t *testing.T) {
	for _, algo := range []string{"pattern", "oneplusone", "random"} {
		t.Run(algo, func(t *testing.T) {
			g, err := New(quadraticSpace(t), model.OptimizerConfig{OptimizerType: algo, Budget: 7, Seed: 1})
			require.NoError(t, err)
			defer g.Close()

			asked := drive(t, g, quadratic)
			assert.Equal(t, 7, asked)
			assert.Equal(t, 7, g.EvaluationCount())

			_, err = g.Ask()
			assert.ErrorIs(t, err, ErrBudgetExhausted)
		})
	}
}

// TestGenerator_TellUnknown tests that candidates can only be told once.
func TestGenerator_TellUnknown(t *testing.T) {
	g, err := New(quadraticSpace(t), model.OptimizerConfig{OptimizerType: "random", Budget: 5, Seed: 3})
	require.NoError(t, err)

	c, err := g.Ask()
	require.NoError(t, err)
	require.NoError(t, g.Tell(c, 1))
	assert.ErrorIs(t, g.Tell(c, 1), ErrUnknownCandidate)

	require.NoError(t, g.Close())
	_, err = g.Ask()
	assert.ErrorIs(t, err, ErrClosed)
}

// TestGenerator_Best tests best tracking with strict improvement.
func TestGenerator_Best(t *testing.T) {
	g, err := New(quadraticSpace(t), model.OptimizerConfig{OptimizerType: "random", Budget: 5, Seed: 9})
	require.NoError(t, err)

	_, value, ok := g.Best()
	assert.False(t, ok)
	assert.True(t, math.IsInf(value, 1))

	c1, _ := g.Ask()
	c2, _ := g.Ask()
	require.NoError(t, g.Tell(c1, 2))
	require.NoError(t, g.Tell(c2, math.NaN()))

	params, value, ok := g.Best()
	assert.True(t, ok)
	assert.Equal(t, 2.0, value)
	assert.Equal(t, c1.Params, params)
}

// TestPattern_Converges tests that compass search solves the quadratic within budget.
func TestPattern_Converges(t *testing.T) {
	g, err := New(quadraticSpace(t), model.OptimizerConfig{OptimizerType: "pattern", Budget: 100})
	require.NoError(t, err)
	defer g.Close()

	drive(t, g, quadratic)

	params, value, ok := g.Best()
	require.True(t, ok)
	assert.Less(t, value, 0.01)
	assert.InDelta(t, 1.0, params["x"], 0.1)
	assert.InDelta(t, 1.0, params["y"], 0.1)
}

// TestPattern_FirstCandidateIsInit tests that the initial point is evaluated first.
func TestPattern_FirstCandidateIsInit(t *testing.T) {
	g, err := New(quadraticSpace(t), model.OptimizerConfig{OptimizerType: "pattern", Budget: 10})
	require.NoError(t, err)

	c, err := g.Ask()
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"x": 0, "y": 0}, c.Params)

	_, err = g.Ask()
	assert.ErrorIs(t, err, ErrCandidateNotReady)
}

// TestPattern_BatchedPolls tests several outstanding polls at once.
func TestPattern_BatchedPolls(t *testing.T) {
	g, err := New(quadraticSpace(t), model.OptimizerConfig{OptimizerType: "pattern", Budget: 100})
	require.NoError(t, err)

	c, err := g.Ask()
	require.NoError(t, err)
	require.NoError(t, g.Tell(c, quadratic(c.Params)))

	batch := make([]Candidate, 0, 4)
	for i := 0; i < 4; i++ {
		c, err := g.Ask()
		require.NoError(t, err)
		batch = append(batch, c)
	}
	_, err = g.Ask()
	assert.ErrorIs(t, err, ErrCandidateNotReady)

	for _, c := range batch {
		require.NoError(t, g.Tell(c, quadratic(c.Params)))
	}
	_, err = g.Ask()
	assert.NoError(t, err)
}

// TestOnePlusOne_Improves tests that the evolution strategy makes progress.
func TestOnePlusOne_Improves(t *testing.T) {
	g, err := New(quadraticSpace(t), model.OptimizerConfig{OptimizerType: "oneplusone", Budget: 300, Seed: 42})
	require.NoError(t, err)

	drive(t, g, quadratic)
	_, value, ok := g.Best()
	require.True(t, ok)
	assert.Less(t, value, 2.0)
}

// TestMayfly_AskTell tests the callback bridge and its single outstanding candidate.
func TestMayfly_AskTell(t *testing.T) {
	g, err := New(quadraticSpace(t), model.OptimizerConfig{OptimizerType: "mayfly", Budget: 60, Seed: 7})
	require.NoError(t, err)
	defer g.Close()

	c, err := g.Ask()
	require.NoError(t, err)
	assert.Len(t, c.Params, 2)

	_, err = g.Ask()
	assert.ErrorIs(t, err, ErrCandidateNotReady)
	require.NoError(t, g.Tell(c, quadratic(c.Params)))

	asked := 1 + drive(t, g, quadratic)
	assert.LessOrEqual(t, asked, 60)
	assert.Equal(t, asked, g.EvaluationCount())

	_, value, ok := g.Best()
	assert.True(t, ok)
	assert.False(t, math.IsInf(value, 1))
}

// TestMayfly_CloseReleasesOptimizer tests that Close unblocks a pending run.
func TestMayfly_CloseReleasesOptimizer(t *testing.T) {
	g, err := New(quadraticSpace(t), model.OptimizerConfig{OptimizerType: "mayfly", Budget: 1000, Seed: 7})
	require.NoError(t, err)

	_, err = g.Ask()
	require.NoError(t, err)
	require.NoError(t, g.Close())

	gen := g.(*generator)
	m := gen.strat.(*mayflyStrategy)
	<-m.finished
}

// TestMayfly_CloseStopsOptimizerQuickly tests that a closed run does not keep
// iterating for the whole budget.
func TestMayfly_CloseStopsOptimizerQuickly(t *testing.T) {
	g, err := New(quadraticSpace(t), model.OptimizerConfig{OptimizerType: "mayfly", Budget: 200000, Seed: 7})
	require.NoError(t, err)

	c, err := g.Ask()
	require.NoError(t, err)
	require.NoError(t, g.Tell(c, quadratic(c.Params)))
	require.NoError(t, g.Close())

	m := g.(*generator).strat.(*mayflyStrategy)
	select {
	case <-m.finished:
	case <-time.After(2 * time.Second):
		t.Fatal("mayfly goroutine still running after Close")
	}
}
