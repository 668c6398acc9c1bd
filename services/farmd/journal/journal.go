package journal

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"lukechampine.com/blake3"

	"stakefarm/core/events"
)

// ErrChainBroken is returned by Verify when a stored digest does not match
// the recomputed chain.
var ErrChainBroken = errors.New("journal: hash chain broken")

// Entry is one persisted engine event.
type Entry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"index;not null"`
	Attributes string    `gorm:"type:text;not null"`
	PrevHash   string    `gorm:"size:64"`
	Hash       string    `gorm:"size:64;uniqueIndex;not null"`
	CreatedAt  time.Time
}

// Decode returns the stored attribute map.
func (e *Entry) Decode() (map[string]string, error) {
	attrs := make(map[string]string)
	if err := json.Unmarshal([]byte(e.Attributes), &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

// TableName pins the table name independent of gorm's pluralisation.
func (Entry) TableName() string { return "farm_journal" }

// Open connects to the journal database. driver is "sqlite" or "postgres".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}
	return gorm.Open(dialector, &gorm.Config{})
}

// Journal appends engine events to a tamper-evident, hash-chained table.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time

	mu   sync.Mutex
	seq  uint64
	head string
}

// New migrates the journal table and resumes the chain from the last entry.
func New(db *gorm.DB, logger *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	j := &Journal{db: db, logger: logger, nowFn: time.Now}
	var last Entry
	err := db.Order("sequence desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("journal: load head: %w", err)
	}
	if last.Hash != "" {
		j.seq = last.Sequence
		j.head = last.Hash
	}
	return j, nil
}

// Emit implements events.Emitter. Append failures are logged.
func (j *Journal) Emit(evt events.Event) {
	if _, err := j.Append(context.Background(), evt); err != nil {
		j.logger.Error("journal: append failed",
			slog.String("type", evt.EventType()),
			slog.Any("error", err))
	}
}

// Append renders evt and stores it as the next link in the chain.
func (j *Journal) Append(ctx context.Context, evt events.Event) (*Entry, error) {
	rendered := events.Render(evt)
	attrs, err := json.Marshal(rendered.Attributes)
	if err != nil {
		return nil, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entry := &Entry{
		ID:         uuid.New(),
		Sequence:   j.seq + 1,
		Type:       rendered.Type,
		Attributes: string(attrs),
		PrevHash:   j.head,
		CreatedAt:  j.nowFn().UTC(),
	}
	entry.Hash = digest(entry.PrevHash, entry.Sequence, entry.Type, entry.Attributes)
	if err := j.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}
	j.seq = entry.Sequence
	j.head = entry.Hash
	return entry, nil
}

// Head returns the latest sequence number and digest.
func (j *Journal) Head() (uint64, string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq, j.head
}

// List returns up to limit entries with Sequence > after, oldest first.
func (j *Journal) List(ctx context.Context, after uint64, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	var entries []Entry
	err := j.db.WithContext(ctx).
		Where("sequence > ?", after).
		Order("sequence asc").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// Verify recomputes the whole chain.
func (j *Journal) Verify(ctx context.Context) error {
	var (
		after uint64
		prev  string
	)
	for {
		batch, err := j.List(ctx, after, 500)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, entry := range batch {
			if entry.Sequence != after+1 {
				return fmt.Errorf("%w: gap before sequence %d", ErrChainBroken, entry.Sequence)
			}
			if entry.PrevHash != prev {
				return fmt.Errorf("%w: sequence %d links to %s, want %s", ErrChainBroken, entry.Sequence, entry.PrevHash, prev)
			}
			if want := digest(entry.PrevHash, entry.Sequence, entry.Type, entry.Attributes); entry.Hash != want {
				return fmt.Errorf("%w: sequence %d digest mismatch", ErrChainBroken, entry.Sequence)
			}
			after = entry.Sequence
			prev = entry.Hash
		}
	}
}

func digest(prev string, seq uint64, typ, attrs string) string {
	h := blake3.New(32, nil)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	h.Write([]byte(prev))
	h.Write(buf[:])
	h.Write([]byte(typ))
	h.Write([]byte{0})
	h.Write([]byte(attrs))
	return hex.EncodeToString(h.Sum(nil))
}
