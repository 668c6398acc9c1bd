package custody

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"stakefarm/native/farm"
	"stakefarm/observability"
	"stakefarm/storage"
)

// ErrInsufficientFunds is returned when a transfer would overdraw an account.
var ErrInsufficientFunds = errors.New("custody: insufficient funds")

var (
	accountPrefix = []byte("custody:account:")
	modulePrefix  = []byte("custody:module:")
)

func accountKey(asset farm.AssetID, owner common.Address) []byte {
	buf := make([]byte, 0, len(accountPrefix)+len(asset)+1+common.AddressLength)
	buf = append(buf, accountPrefix...)
	buf = append(buf, asset...)
	buf = append(buf, ':')
	buf = append(buf, owner.Bytes()...)
	return ethcrypto.Keccak256(buf)
}

func moduleKey(asset farm.AssetID) []byte {
	buf := make([]byte, 0, len(modulePrefix)+len(asset))
	buf = append(buf, modulePrefix...)
	buf = append(buf, asset...)
	return ethcrypto.Keccak256(buf)
}

// Ledger holds participant balances and the engine's own holdings and
// executes the transfer intents returned by the engine.
type Ledger struct {
	mu      sync.Mutex
	db      storage.Database
	metrics *observability.CustodyMetrics
}

// NewLedger creates a custody ledger persisted in db.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

// SetMetrics enables prometheus instrumentation.
func (l *Ledger) SetMetrics(m *observability.CustodyMetrics) { l.metrics = m }

// Canonical returns the key custody files asset under. Two assets with the
// same canonical form share one holding.
func Canonical(asset farm.AssetID) farm.AssetID { return normalize(asset) }

func normalize(asset farm.AssetID) farm.AssetID {
	return farm.AssetID(strings.ToUpper(strings.TrimSpace(string(asset))))
}

func (l *Ledger) read(key []byte) (*uint256.Int, error) {
	data, err := l.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	value := new(big.Int)
	if err := rlp.DecodeBytes(data, value); err != nil {
		return nil, err
	}
	out, overflow := uint256.FromBig(value)
	if overflow {
		return nil, fmt.Errorf("custody: stored balance exceeds 256 bits")
	}
	return out, nil
}

func encode(value *uint256.Int) ([]byte, error) {
	return rlp.EncodeToBytes(value.ToBig())
}

// Balance returns the participant's balance of asset.
func (l *Ledger) Balance(asset farm.AssetID, owner common.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read(accountKey(normalize(asset), owner))
}

// BalanceOf implements farm.BalanceSource with the engine's holdings.
func (l *Ledger) BalanceOf(_ context.Context, asset farm.AssetID) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read(moduleKey(normalize(asset)))
}

// StakedSupply implements farm.SupplySource: the engine's holding of the
// pool's stake asset.
func (l *Ledger) StakedSupply(ctx context.Context, pool farm.Pool) (*uint256.Int, error) {
	return l.BalanceOf(ctx, pool.StakeAsset)
}

// Credit mints amount of asset to owner.
func (l *Ledger) Credit(asset farm.AssetID, owner common.Address, amount *uint256.Int) error {
	return l.adjust(accountKey(normalize(asset), owner), amount)
}

// Fund mints amount of asset directly into the engine's holdings.
func (l *Ledger) Fund(asset farm.AssetID, amount *uint256.Int) error {
	return l.adjust(moduleKey(normalize(asset)), amount)
}

func (l *Ledger) adjust(key []byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	current, err := l.read(key)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(current, amount)
	if overflow {
		return fmt.Errorf("custody: balance overflow")
	}
	encoded, err := encode(next)
	if err != nil {
		return err
	}
	return l.db.Put(key, encoded)
}

// CanDebit reports whether owner holds at least amount of asset.
func (l *Ledger) CanDebit(asset farm.AssetID, owner common.Address, amount *uint256.Int) error {
	balance, err := l.Balance(asset, owner)
	if err != nil {
		return err
	}
	if amount != nil && amount.Gt(balance) {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientFunds, owner.Hex(), balance.Dec(), asset, amount.Dec())
	}
	return nil
}

// Execute applies every transfer in the receipt atomically. Either all
// transfers are applied or none are.
func (l *Ledger) Execute(receipt *farm.Receipt) error {
	if receipt == nil || len(receipt.Transfers) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	pending := make(map[string]*uint256.Int)
	load := func(key []byte) (*uint256.Int, error) {
		if v, ok := pending[string(key)]; ok {
			return v, nil
		}
		v, err := l.read(key)
		if err != nil {
			return nil, err
		}
		pending[string(key)] = v
		return v, nil
	}
	for _, t := range receipt.Transfers {
		if t.Amount == nil || t.Amount.IsZero() {
			continue
		}
		asset := normalize(t.Asset)
		from, to := accountKey(asset, t.Party), moduleKey(asset)
		if t.Direction == farm.TransferOut {
			from, to = to, from
		}
		src, err := load(from)
		if err != nil {
			return err
		}
		if t.Amount.Gt(src) {
			l.metrics.RecordRejected(string(asset), t.Direction.String())
			return fmt.Errorf("%w: %s %s of %s", ErrInsufficientFunds, t.Direction, t.Amount.Dec(), asset)
		}
		dst, err := load(to)
		if err != nil {
			return err
		}
		next, overflow := new(uint256.Int).AddOverflow(dst, t.Amount)
		if overflow {
			return fmt.Errorf("custody: balance overflow")
		}
		pending[string(from)] = new(uint256.Int).Sub(src, t.Amount)
		pending[string(to)] = next
	}

	batch := l.db.NewBatch()
	for key, value := range pending {
		encoded, err := encode(value)
		if err != nil {
			return err
		}
		batch.Put([]byte(key), encoded)
	}
	if err := batch.Write(); err != nil {
		return err
	}
	for _, t := range receipt.Transfers {
		l.metrics.RecordTransfer(string(t.Asset), t.Direction.String())
	}
	return nil
}
