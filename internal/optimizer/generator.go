// Package optimizer provides candidate generators: stateful black-box
// minimizers driven through an ask/tell protocol.
package optimizer

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"optqueue/internal/model"
)

var (
	// ErrBudgetExhausted no candidates remain within the evaluation budget
	ErrBudgetExhausted = errors.New("evaluation budget exhausted")
	// ErrConverged the algorithm has nothing further to propose
	ErrConverged = errors.New("optimizer converged")
	// ErrCandidateNotReady the algorithm needs feedback before it can propose more
	ErrCandidateNotReady = errors.New("candidate not ready")
	// ErrUnknownAlgorithm unsupported optimizer_type
	ErrUnknownAlgorithm = errors.New("unknown optimizer algorithm")
	// ErrUnknownCandidate Tell for a candidate that was never asked or already told
	ErrUnknownCandidate = errors.New("unknown candidate")
	// ErrClosed generator used after Close
	ErrClosed = errors.New("generator closed")
)

// Finished reports whether err from Ask means the run is complete
func Finished(err error) bool {
	return errors.Is(err, ErrBudgetExhausted) || errors.Is(err, ErrConverged)
}

// Candidate one parameter vector proposed for evaluation
type Candidate struct {
	ID     int
	Params map[string]float64
}

// Generator proposes candidates and accepts scored feedback. Implementations
// are not safe for concurrent use; callers serialize access.
type Generator interface {
	// Ask returns the next candidate, ErrBudgetExhausted or ErrConverged when the
	// run is complete, or ErrCandidateNotReady when outstanding candidates must be
	// told first.
	Ask() (Candidate, error)
	Tell(c Candidate, value float64) error
	// Best returns the best parameters and value told so far
	Best() (map[string]float64, float64, bool)
	EvaluationCount() int
	Close() error
}

// strategy is the algorithm-specific part of a generator, working in
// unit-cube coordinates.
type strategy interface {
	next() ([]float64, error)
	observe(point []float64, value float64)
	close()
}

type strategyFactory func(space *Space, cfg model.OptimizerConfig, rng *rand.Rand) strategy

var (
	algorithmsMu sync.RWMutex
	algorithms   = map[string]strategyFactory{
		"pattern":    newPattern,
		"oneplusone": newOnePlusOne,
		"random":     newRandom,
		"mayfly":     newMayfly,
	}
)

// Algorithms returns the supported algorithm tags
func Algorithms() []string {
	algorithmsMu.RLock()
	defer algorithmsMu.RUnlock()

	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Supported reports whether name is a known algorithm tag
func Supported(name string) bool {
	algorithmsMu.RLock()
	defer algorithmsMu.RUnlock()
	_, ok := algorithms[strings.ToLower(name)]
	return ok
}

// New creates a generator over space for the configured algorithm and budget
func New(space *Space, cfg model.OptimizerConfig) (Generator, error) {
	algorithmsMu.RLock()
	factory, ok := algorithms[strings.ToLower(cfg.OptimizerType)]
	algorithmsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, cfg.OptimizerType)
	}
	if cfg.Budget <= 0 {
		return nil, fmt.Errorf("budget must be positive, got %d", cfg.Budget)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	return &generator{
		space:     space,
		strat:     factory(space, cfg, rng),
		budget:    cfg.Budget,
		pending:   make(map[int][]float64),
		bestValue: math.Inf(1),
	}, nil
}

// generator owns budget accounting and best tracking for a strategy
type generator struct {
	space  *Space
	strat  strategy
	budget int

	asked     int
	evaluated int
	nextID    int
	pending   map[int][]float64

	bestPoint []float64
	bestValue float64
	closed    bool
}

func (g *generator) Ask() (Candidate, error) {
	if g.closed {
		return Candidate{}, ErrClosed
	}
	if g.asked >= g.budget {
		return Candidate{}, ErrBudgetExhausted
	}

	point, err := g.strat.next()
	if err != nil {
		return Candidate{}, err
	}
	point = clampPoint(point)

	g.nextID++
	g.asked++
	g.pending[g.nextID] = point
	return Candidate{ID: g.nextID, Params: g.space.Decode(point)}, nil
}

func (g *generator) Tell(c Candidate, value float64) error {
	if g.closed {
		return ErrClosed
	}
	point, ok := g.pending[c.ID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownCandidate, c.ID)
	}
	delete(g.pending, c.ID)

	if math.IsNaN(value) {
		value = math.Inf(1)
	}
	g.evaluated++
	if value < g.bestValue {
		g.bestValue = value
		g.bestPoint = point
	}
	g.strat.observe(point, value)
	return nil
}

func (g *generator) Best() (map[string]float64, float64, bool) {
	if g.bestPoint == nil {
		return nil, math.Inf(1), false
	}
	return g.space.Decode(g.bestPoint), g.bestValue, true
}

func (g *generator) EvaluationCount() int {
	return g.evaluated
}

func (g *generator) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true
	g.strat.close()
	return nil
}
