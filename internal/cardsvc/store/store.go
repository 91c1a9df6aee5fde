package store

import (
	"context"
	"errors"

	"github.com/avvvet/wishcard-services/internal/cardsvc/models"
)

var (
	ErrNotFound       = errors.New("card not found")
	ErrAlreadyMatched = errors.New("card already matched")
	ErrSystemCard     = errors.New("system fallback card cannot be changed")
)

const (
	// FlagMatchingEnabled is the global pause switch, "true" or "false".
	FlagMatchingEnabled = "matching_enabled"

	// SystemFallbackToken is reserved for the seeded fallback card.
	SystemFallbackToken = "system_bot"
)

// Backend is the durable side of the write-behind store.
// Save must apply a whole batch in one transaction.
type Backend interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, b *Batch) error
	Close() error
}

type Snapshot struct {
	Cards  []*models.Card
	Logs   []models.MatchLog
	Config map[string]string
}

// Batch is the set of changes accumulated since the previous flush.
type Batch struct {
	Cards  []*models.Card
	Logs   []models.MatchLog
	Config map[string]string
	Purged []int64
}

func (b *Batch) Empty() bool {
	return len(b.Cards) == 0 && len(b.Logs) == 0 && len(b.Config) == 0 && len(b.Purged) == 0
}

func (b *Batch) Size() int {
	return len(b.Cards) + len(b.Logs) + len(b.Config) + len(b.Purged)
}
