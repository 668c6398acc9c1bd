package rates

import (
	"fmt"
	"sync"

	"github.com/holiman/uint256"
)

// Static serves operator-configured per-pool rates. Pools without a
// configured rate emit nothing.
type Static struct {
	mu    sync.RWMutex
	rates map[uint64]*uint256.Int
}

// NewStatic constructs a rate source seeded with initial.
func NewStatic(initial map[uint64]*uint256.Int) *Static {
	s := &Static{rates: make(map[uint64]*uint256.Int, len(initial))}
	for pid, rate := range initial {
		if rate != nil {
			s.rates[pid] = new(uint256.Int).Set(rate)
		}
	}
	return s
}

// RatePerUnit implements farm.RateSource.
func (s *Static) RatePerUnit(poolID uint64) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rate, ok := s.rates[poolID]
	if !ok {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).Set(rate), nil
}

// SetRate implements farm.RateSetter.
func (s *Static) SetRate(poolID uint64, rate *uint256.Int) error {
	if rate == nil {
		return fmt.Errorf("rates: nil rate for pool %d", poolID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[poolID] = new(uint256.Int).Set(rate)
	return nil
}

// Snapshot returns a copy of every configured rate.
func (s *Static) Snapshot() map[uint64]*uint256.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uint64]*uint256.Int, len(s.rates))
	for pid, rate := range s.rates {
		out[pid] = new(uint256.Int).Set(rate)
	}
	return out
}
