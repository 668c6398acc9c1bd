package rates

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"stakefarm/storage"
)

// Persistent is a Static rate source whose rates survive restarts.
type Persistent struct {
	db     storage.Database
	cache  *Static
	mu     sync.Mutex
	loaded map[uint64]bool
}

// NewPersistent returns a rate source persisted in db.
func NewPersistent(db storage.Database) *Persistent {
	return &Persistent{db: db, cache: NewStatic(nil), loaded: make(map[uint64]bool)}
}

func rateKey(poolID uint64) []byte {
	return ethcrypto.Keccak256([]byte("farm:rate:" + strconv.FormatUint(poolID, 10)))
}

func (p *Persistent) load(poolID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded[poolID] {
		return nil
	}
	data, err := p.db.Get(rateKey(poolID))
	if errors.Is(err, storage.ErrNotFound) {
		p.loaded[poolID] = true
		return nil
	}
	if err != nil {
		return err
	}
	value := new(big.Int)
	if err := rlp.DecodeBytes(data, value); err != nil {
		return fmt.Errorf("rates: decode pool %d: %w", poolID, err)
	}
	rate, overflow := uint256.FromBig(value)
	if overflow {
		return fmt.Errorf("rates: pool %d rate exceeds 256 bits", poolID)
	}
	if err := p.cache.SetRate(poolID, rate); err != nil {
		return err
	}
	p.loaded[poolID] = true
	return nil
}

// RatePerUnit implements farm.RateSource.
func (p *Persistent) RatePerUnit(poolID uint64) (*uint256.Int, error) {
	if err := p.load(poolID); err != nil {
		return nil, err
	}
	return p.cache.RatePerUnit(poolID)
}

// SetRate implements farm.RateSetter.
func (p *Persistent) SetRate(poolID uint64, rate *uint256.Int) error {
	if rate == nil {
		return fmt.Errorf("rates: nil rate for pool %d", poolID)
	}
	encoded, err := rlp.EncodeToBytes(rate.ToBig())
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.db.Put(rateKey(poolID), encoded); err != nil {
		return err
	}
	p.loaded[poolID] = true
	return p.cache.SetRate(poolID, rate)
}
