package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/unicode/norm"
)

// Genesis describes the farm state created when a daemon starts on an empty
// data directory.
type Genesis struct {
	RewardAsset string `toml:"RewardAsset"`
	// StartPoint is the clock value assigned to genesis pools. Zero uses the
	// daemon clock at startup.
	StartPoint uint64            `toml:"StartPoint"`
	Pools      []GenesisPool     `toml:"Pools"`
	Hooks      []GenesisHook     `toml:"Hooks"`
	Schedule   []GenesisStep     `toml:"Schedule"`
	Balances   map[string]string `toml:"Balances"`
}

// GenesisPool seeds one pool. Amounts are base-10 strings.
type GenesisPool struct {
	StakeAsset       string `toml:"StakeAsset"`
	AllocationPoints uint64 `toml:"AllocationPoints"`
	Weight           uint8  `toml:"Weight"`
	RewardHook       string `toml:"RewardHook"`
	Rate             string `toml:"Rate"`
	Allocation       string `toml:"Allocation"`
}

// GenesisHook binds a hook reference to a webhook endpoint.
type GenesisHook struct {
	Ref    string `toml:"Ref"`
	URL    string `toml:"URL"`
	Secret string `toml:"Secret"`
}

// GenesisStep is one entry of the shared emission schedule. When a schedule
// is present it replaces the per-pool rates.
type GenesisStep struct {
	Start uint64 `toml:"Start"`
	Rate  string `toml:"Rate"`
}

// LoadGenesis loads the genesis file at path, writing a default one first when
// it does not exist.
func LoadGenesis(path string) (*Genesis, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	g := &Genesis{}
	meta, err := toml.DecodeFile(path, g)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("genesis file %s has unknown key %s", path, undecoded[0])
	}
	g.normalize()
	if err := ValidateGenesis(g); err != nil {
		return nil, err
	}
	return g, nil
}

// NormalizeAsset canonicalises an asset identifier: Unicode NFKC, trimmed,
// upper case.
func NormalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(norm.NFKC.String(asset)))
}

func (g *Genesis) normalize() {
	g.RewardAsset = NormalizeAsset(g.RewardAsset)
	for i := range g.Pools {
		g.Pools[i].StakeAsset = NormalizeAsset(g.Pools[i].StakeAsset)
		g.Pools[i].RewardHook = strings.TrimSpace(g.Pools[i].RewardHook)
		g.Pools[i].Rate = strings.TrimSpace(g.Pools[i].Rate)
		g.Pools[i].Allocation = strings.TrimSpace(g.Pools[i].Allocation)
	}
	for i := range g.Hooks {
		g.Hooks[i].Ref = strings.TrimSpace(g.Hooks[i].Ref)
		g.Hooks[i].URL = strings.TrimSpace(g.Hooks[i].URL)
	}
	if len(g.Balances) > 0 {
		balances := make(map[string]string, len(g.Balances))
		for asset, amount := range g.Balances {
			balances[NormalizeAsset(asset)] = strings.TrimSpace(amount)
		}
		g.Balances = balances
	}
}

func defaultGenesis() *Genesis {
	return &Genesis{
		RewardAsset: "RWD",
		Pools: []GenesisPool{
			{StakeAsset: "LP", AllocationPoints: 100, Rate: "1000000"},
		},
		Balances: map[string]string{"RWD": "1000000000000000"},
	}
}

// createDefault creates and saves a default genesis file.
func createDefault(path string) (*Genesis, error) {
	g := defaultGenesis()
	if err := persist(path, g); err != nil {
		return nil, err
	}
	return g, nil
}

func persist(path string, g *Genesis) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(g)
}
