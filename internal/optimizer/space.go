package optimizer

import (
	"fmt"
	"math"
	"sort"

	"optqueue/internal/model"
)

// Dimension one axis of the search space
type Dimension struct {
	Name  string
	Lower float64
	Upper float64
	Log   bool
	Init  float64
}

// Space maps parameter vectors to the unit hypercube. Algorithms only ever
// see normalized coordinates in [0,1]; log-scaled axes are linear in log space.
type Space struct {
	dims []Dimension
}

// NewSpace builds a space from a normalized parameter configuration
func NewSpace(params map[string]model.ParameterConfig) (*Space, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("empty parameter space")
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	s := &Space{dims: make([]Dimension, 0, len(names))}
	for _, name := range names {
		p := params[name]
		if p.UpperBound <= p.LowerBound {
			return nil, fmt.Errorf("parameter %q: upper bound must be greater than lower bound", name)
		}
		d := Dimension{
			Name:  name,
			Lower: p.LowerBound,
			Upper: p.UpperBound,
			Log:   p.Scale == model.ScaleLog,
		}
		if d.Log && d.Lower <= 0 {
			return nil, fmt.Errorf("parameter %q: log scale needs a positive lower bound", name)
		}
		if p.Init != nil {
			d.Init = *p.Init
		} else if d.Log {
			d.Init = math.Sqrt(d.Lower * d.Upper)
		} else {
			d.Init = (d.Lower + d.Upper) / 2
		}
		s.dims = append(s.dims, d)
	}
	return s, nil
}

// Dim returns the number of parameters
func (s *Space) Dim() int {
	return len(s.dims)
}

// Names returns parameter names in axis order
func (s *Space) Names() []string {
	names := make([]string, len(s.dims))
	for i, d := range s.dims {
		names[i] = d.Name
	}
	return names
}

// Decode converts a unit-cube point into named parameter values. Coordinates
// outside [0,1] are clamped.
func (s *Space) Decode(u []float64) map[string]float64 {
	params := make(map[string]float64, len(s.dims))
	for i, d := range s.dims {
		x := clamp01(u[i])
		if d.Log {
			lo, hi := math.Log(d.Lower), math.Log(d.Upper)
			params[d.Name] = math.Exp(lo + x*(hi-lo))
		} else {
			params[d.Name] = d.Lower + x*(d.Upper-d.Lower)
		}
	}
	return params
}

// Encode converts named parameter values into unit-cube coordinates
func (s *Space) Encode(params map[string]float64) []float64 {
	u := make([]float64, len(s.dims))
	for i, d := range s.dims {
		v, ok := params[d.Name]
		if !ok {
			v = d.Init
		}
		if d.Log {
			lo, hi := math.Log(d.Lower), math.Log(d.Upper)
			u[i] = clamp01((math.Log(v) - lo) / (hi - lo))
		} else {
			u[i] = clamp01((v - d.Lower) / (d.Upper - d.Lower))
		}
	}
	return u
}

// InitPoint returns the initial values in unit-cube coordinates
func (s *Space) InitPoint() []float64 {
	init := make(map[string]float64, len(s.dims))
	for _, d := range s.dims {
		init[d.Name] = d.Init
	}
	return s.Encode(init)
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return 0.5
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}

func clampPoint(u []float64) []float64 {
	out := make([]float64, len(u))
	for i, x := range u {
		out[i] = clamp01(x)
	}
	return out
}
