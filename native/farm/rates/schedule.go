package rates

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"
)

// Step defines the rate active from Start (inclusive) until the next step.
type Step struct {
	Start uint64
	Rate  *uint256.Int
}

// Schedule is a piecewise-constant rate source shared by every pool. Unit k
// (the span from k to k+1) is charged at RateAt(k). Emission splits an
// interval at step boundaries; RatePerUnit samples the clock's current point
// for callers that only need the active rate.
type Schedule struct {
	steps []Step
	now   func() uint64
}

// NewSchedule validates steps and returns a schedule reading time from now.
func NewSchedule(steps []Step, now func() uint64) (*Schedule, error) {
	if now == nil {
		return nil, fmt.Errorf("rates: schedule requires a clock")
	}
	sorted := make([]Step, len(steps))
	copy(sorted, steps)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})
	for i := range sorted {
		if sorted[i].Rate == nil {
			return nil, fmt.Errorf("schedule step %d: rate must not be nil", i)
		}
		if i > 0 && sorted[i].Start == sorted[i-1].Start {
			return nil, fmt.Errorf("schedule step %d: duplicate start %d", i, sorted[i].Start)
		}
		sorted[i].Rate = new(uint256.Int).Set(sorted[i].Rate)
	}
	return &Schedule{steps: sorted, now: now}, nil
}

// RateAt returns the rate active at point. Before the first step the rate is
// zero.
func (s *Schedule) RateAt(point uint64) *uint256.Int {
	idx := sort.Search(len(s.steps), func(i int) bool {
		return s.steps[i].Start > point
	})
	if idx == 0 {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(s.steps[idx-1].Rate)
}

// RatePerUnit implements farm.RateSource.
func (s *Schedule) RatePerUnit(uint64) (*uint256.Int, error) {
	return s.RateAt(s.now()), nil
}

// Emission returns the reward emitted over the units from..to, charging each
// step for the part of the interval it covers.
func (s *Schedule) Emission(_ uint64, from, to uint64) (*uint256.Int, error) {
	total := new(uint256.Int)
	for from < to {
		idx := sort.Search(len(s.steps), func(i int) bool {
			return s.steps[i].Start > from
		})
		end := to
		if idx < len(s.steps) && s.steps[idx].Start < to {
			end = s.steps[idx].Start
		}
		if idx > 0 {
			part, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(end-from), s.steps[idx-1].Rate)
			if overflow {
				return nil, fmt.Errorf("rates: emission overflow from %d to %d", from, end)
			}
			if _, overflow := total.AddOverflow(total, part); overflow {
				return nil, fmt.Errorf("rates: emission overflow at %d", end)
			}
		}
		from = end
	}
	return total, nil
}
