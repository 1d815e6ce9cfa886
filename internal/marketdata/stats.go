package marketdata

import (
	"trader/internal/decimalx"
)

// RegularStats is a rolling, windowed set of running statistics (count,
// sum, sum-of-squares, and a linear regression against timestamp) over a
// bounded history that can be pruned by timestamp. Grounded on
// _examples/original_source/src/analysis/stats.rs RegularStats: add/prune
// are O(1) amortized against a ring of (timestamp, value) pairs.
type RegularStats struct {
	history []statPoint

	Length                decimalx.Decimal
	SumDependent          decimalx.Decimal
	SquaredSumDependent   decimalx.Decimal
	SumIndependent        decimalx.Decimal
	SquaredSumIndependent decimalx.Decimal
	SumProductVars        decimalx.Decimal
	IndependentMean       decimalx.Decimal
	Slope                 decimalx.Decimal
	Mean                  decimalx.Decimal
	Variance              decimalx.Decimal
	StdDev                decimalx.Decimal
	Last                  decimalx.Decimal
	Current               decimalx.Decimal
}

type statPoint struct {
	timestampMs int64
	value       decimalx.Decimal
}

// NewRegularStats returns a zeroed RegularStats.
func NewRegularStats() *RegularStats {
	return &RegularStats{
		Length: decimalx.Zero, SumDependent: decimalx.Zero, SquaredSumDependent: decimalx.Zero,
		SumIndependent: decimalx.Zero, SquaredSumIndependent: decimalx.Zero, SumProductVars: decimalx.Zero,
		IndependentMean: decimalx.Zero, Slope: decimalx.Zero, Mean: decimalx.Zero, Variance: decimalx.Zero,
		StdDev: decimalx.Zero, Last: decimalx.Zero, Current: decimalx.Zero,
	}
}

// Add records one observation at timestampMs and recomputes derived stats.
func (s *RegularStats) Add(timestampMs int64, value decimalx.Decimal) {
	independent := decimalx.FromInt(timestampMs)
	s.Last = s.Current
	s.Current = value
	s.Length = s.Length.Add(decimalx.One)
	s.history = append(s.history, statPoint{timestampMs: timestampMs, value: value})
	s.SumDependent = s.SumDependent.Add(value)
	s.SquaredSumDependent = s.SquaredSumDependent.Add(value.Mul(value))
	s.SumIndependent = s.SumIndependent.Add(independent)
	s.SquaredSumIndependent = s.SquaredSumIndependent.Add(independent.Mul(independent))
	s.SumProductVars = s.SumProductVars.Add(independent.Mul(value))
	s.process()
}

// Prune drops every recorded observation older than cutoffMs.
func (s *RegularStats) Prune(cutoffMs int64) {
	i := 0
	for i < len(s.history) && s.history[i].timestampMs < cutoffMs {
		p := s.history[i]
		independent := decimalx.FromInt(p.timestampMs)
		s.Length = s.Length.Sub(decimalx.One)
		s.SumDependent = s.SumDependent.Sub(p.value)
		s.SquaredSumDependent = s.SquaredSumDependent.Sub(p.value.Mul(p.value))
		s.SumIndependent = s.SumIndependent.Sub(independent)
		s.SquaredSumIndependent = s.SquaredSumIndependent.Sub(independent.Mul(independent))
		s.SumProductVars = s.SumProductVars.Sub(independent.Mul(p.value))
		i++
	}
	s.history = s.history[i:]
	s.process()
}

func (s *RegularStats) process() {
	if s.Length.IsZero() {
		return
	}
	s.Mean = s.SumDependent.Div(s.Length)
	if s.Length.GreaterThan(decimalx.One) {
		variance := s.SquaredSumDependent.Sub(s.SumDependent.Mul(s.SumDependent).Div(s.Length)).Div(s.Length.Sub(decimalx.One))
		if variance.IsNegative() {
			variance = decimalx.Zero
		}
		s.Variance = variance
		s.StdDev = decimalx.Sqrt(variance)
	}
	s.IndependentMean = s.SumIndependent.Div(s.Length)
	denom := s.Length.Mul(s.SquaredSumIndependent).Sub(s.SumIndependent.Mul(s.SumIndependent))
	if !denom.IsZero() {
		s.Slope = s.Length.Mul(s.SumProductVars).Sub(s.SumIndependent.Mul(s.SumDependent)).Div(denom)
	}
}

// NormalStats is the unbounded ("forever") accumulator counterpart: it
// never prunes, and exists per spec.md §9 ("forever_liquidity statistics
// are accumulated but never read back into decisions; their purpose is
// unclear") — built and exposed, not consulted.
type NormalStats struct {
	Length   decimalx.Decimal
	Sum      decimalx.Decimal
	SquaredSum decimalx.Decimal
	Mean     decimalx.Decimal
	Variance decimalx.Decimal
	StdDev   decimalx.Decimal
	Last     decimalx.Decimal
	Highest  decimalx.Decimal
	Lowest   decimalx.Decimal
	hasValue bool
}

// NewNormalStats returns a zeroed NormalStats.
func NewNormalStats() *NormalStats {
	return &NormalStats{Length: decimalx.Zero, Sum: decimalx.Zero, SquaredSum: decimalx.Zero}
}

// Add records one lifetime observation.
func (s *NormalStats) Add(value decimalx.Decimal) {
	s.Last = value
	s.Length = s.Length.Add(decimalx.One)
	s.Sum = s.Sum.Add(value)
	s.SquaredSum = s.SquaredSum.Add(value.Mul(value))
	if !s.hasValue || value.GreaterThan(s.Highest) {
		s.Highest = value
	}
	if !s.hasValue || value.LessThan(s.Lowest) {
		s.Lowest = value
	}
	s.hasValue = true
	s.process()
}

func (s *NormalStats) process() {
	if s.Length.IsZero() {
		return
	}
	s.Mean = s.Sum.Div(s.Length)
	if s.Length.GreaterThan(decimalx.One) {
		variance := s.SquaredSum.Sub(s.Sum.Mul(s.Sum).Div(s.Length)).Div(s.Length.Sub(decimalx.One))
		if variance.IsNegative() {
			variance = decimalx.Zero
		}
		s.Variance = variance
		s.StdDev = decimalx.Sqrt(variance)
	}
}

