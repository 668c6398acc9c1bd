package config

import (
	"fmt"

	"github.com/holiman/uint256"
)

// ParseAmount parses a base-10 amount. Empty strings are zero.
func ParseAmount(raw string) (*uint256.Int, error) {
	if raw == "" {
		return new(uint256.Int), nil
	}
	value, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return value, nil
}

// ValidateGenesis checks the genesis document for internal consistency.
func ValidateGenesis(g *Genesis) error {
	if g.RewardAsset == "" {
		return fmt.Errorf("genesis: reward asset required")
	}
	hooks := make(map[string]struct{}, len(g.Hooks))
	for i, hook := range g.Hooks {
		if hook.Ref == "" || hook.URL == "" {
			return fmt.Errorf("genesis: hook %d: ref and url required", i)
		}
		if _, dup := hooks[hook.Ref]; dup {
			return fmt.Errorf("genesis: hook %d: duplicate ref %q", i, hook.Ref)
		}
		hooks[hook.Ref] = struct{}{}
	}
	staked := make(map[string]int, len(g.Pools))
	for i, pool := range g.Pools {
		if pool.StakeAsset == "" {
			return fmt.Errorf("genesis: pool %d: stake asset required", i)
		}
		if pool.StakeAsset == g.RewardAsset {
			return fmt.Errorf("genesis: pool %d: stake asset equals reward asset %s", i, g.RewardAsset)
		}
		if prev, dup := staked[pool.StakeAsset]; dup {
			return fmt.Errorf("genesis: pool %d: stake asset %s already staked by pool %d", i, pool.StakeAsset, prev)
		}
		staked[pool.StakeAsset] = i
		if pool.RewardHook != "" {
			if _, ok := hooks[pool.RewardHook]; !ok {
				return fmt.Errorf("genesis: pool %d: unknown reward hook %q", i, pool.RewardHook)
			}
		}
		if _, err := ParseAmount(pool.Rate); err != nil {
			return fmt.Errorf("genesis: pool %d rate: %w", i, err)
		}
		if _, err := ParseAmount(pool.Allocation); err != nil {
			return fmt.Errorf("genesis: pool %d allocation: %w", i, err)
		}
	}
	for i := range g.Schedule {
		if _, err := ParseAmount(g.Schedule[i].Rate); err != nil {
			return fmt.Errorf("genesis: schedule step %d: %w", i, err)
		}
	}
	for asset, amount := range g.Balances {
		if asset == "" {
			return fmt.Errorf("genesis: balance with empty asset")
		}
		if _, err := ParseAmount(amount); err != nil {
			return fmt.Errorf("genesis: balance %s: %w", asset, err)
		}
	}
	return nil
}
