package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/avvvet/wishcard-services/internal/cardsvc/models"
)

// MemoryStore is the authoritative card repository. Every read is served from
// memory; changes are tracked so a Flusher can write them to a Backend.
type MemoryStore struct {
	mu sync.RWMutex

	cards    map[int64]*models.Card
	byToken  map[string]int64
	logs     []models.MatchLog
	config   map[string]string
	fallback int64 // 0 when no fallback card exists

	nextCardID int64
	nextLogID  int64

	dirtyCards  map[int64]struct{}
	pendingLogs []models.MatchLog
	dirtyConfig map[string]string
	purged      []int64

	onDirty func(pending int)
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cards:       make(map[int64]*models.Card),
		byToken:     make(map[string]int64),
		config:      make(map[string]string),
		nextCardID:  1,
		nextLogID:   1,
		dirtyCards:  make(map[int64]struct{}),
		dirtyConfig: make(map[string]string),
	}
}

// Load builds a MemoryStore from the backend's current contents.
func Load(ctx context.Context, backend Backend) (*MemoryStore, error) {
	snap, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	m := NewMemoryStore()
	for _, c := range snap.Cards {
		m.cards[c.ID] = c.Clone()
		m.byToken[c.Token] = c.ID
		if c.IsSystemFallback() {
			m.fallback = c.ID
		}
		if c.ID >= m.nextCardID {
			m.nextCardID = c.ID + 1
		}
	}
	for _, l := range snap.Logs {
		m.logs = append(m.logs, l)
		if l.ID >= m.nextLogID {
			m.nextLogID = l.ID + 1
		}
	}
	for k, v := range snap.Config {
		m.config[k] = v
	}
	return m, nil
}

// SetOnDirty registers a callback invoked with the pending change count
// after every write. It runs outside the store lock.
func (m *MemoryStore) SetOnDirty(fn func(pending int)) {
	m.mu.Lock()
	m.onDirty = fn
	m.mu.Unlock()
}

func (m *MemoryStore) notify() {
	m.mu.RLock()
	fn := m.onDirty
	n := m.pendingLocked()
	m.mu.RUnlock()
	if fn != nil {
		fn(n)
	}
}

func (m *MemoryStore) pendingLocked() int {
	return len(m.dirtyCards) + len(m.pendingLogs) + len(m.dirtyConfig) + len(m.purged)
}

func (m *MemoryStore) Pending() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pendingLocked()
}

// SeedDefaults creates the system fallback card and the matching switch when
// they are missing.
func (m *MemoryStore) SeedDefaults(ctx context.Context, now time.Time) error {
	m.mu.Lock()
	if m.fallback == 0 {
		if _, taken := m.byToken[SystemFallbackToken]; taken {
			m.mu.Unlock()
			return fmt.Errorf("token %q is taken by a real card", SystemFallbackToken)
		}
		c := &models.Card{
			ID:        m.nextCardID,
			Token:     SystemFallbackToken,
			Nickname:  "新春小助手",
			Content:   "祝你代码无Bug，上线不回滚！(这是一张系统兜底卡)",
			StyleID:   0,
			Kind:      models.KindSystemFallback,
			Status:    models.StatusMatched,
			Weight:    0,
			CreatedAt: now,
		}
		m.nextCardID++
		m.cards[c.ID] = c
		m.byToken[c.Token] = c.ID
		m.fallback = c.ID
		m.dirtyCards[c.ID] = struct{}{}
	}
	if _, ok := m.config[FlagMatchingEnabled]; !ok {
		m.config[FlagMatchingEnabled] = "true"
		m.dirtyConfig[FlagMatchingEnabled] = "true"
	}
	m.mu.Unlock()

	m.notify()
	return nil
}

func (m *MemoryStore) FindByToken(ctx context.Context, token string) (*models.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	return m.cards[id].Clone(), nil
}

func (m *MemoryStore) FindByID(ctx context.Context, id int64) (*models.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.cards[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (m *MemoryStore) SystemFallbackCard(ctx context.Context) (*models.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.fallback == 0 {
		return nil, ErrNotFound
	}
	return m.cards[m.fallback].Clone(), nil
}

// PrimaryPool returns the cards nobody has been assigned to receive yet,
// excluding the requester, removed cards and the system fallback card.
// Cards are ordered by id.
func (m *MemoryStore) PrimaryPool(ctx context.Context, excludeID int64) ([]*models.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pool := make([]*models.Card, 0)
	for id, c := range m.cards {
		if id == excludeID || c.Removed || c.IsSystemFallback() || c.MatchedByID != nil {
			continue
		}
		pool = append(pool, c.Clone())
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })
	return pool, nil
}

func (m *MemoryStore) ConfigFlag(ctx context.Context, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config[name], nil
}

func (m *MemoryStore) SetConfigFlag(ctx context.Context, name, value string) error {
	m.mu.Lock()
	m.config[name] = value
	m.dirtyConfig[name] = value
	m.mu.Unlock()

	m.notify()
	return nil
}

// UpsertCard creates a waiting card for token or updates the text fields of
// the existing one. Matching state is never touched.
func (m *MemoryStore) UpsertCard(ctx context.Context, token, nickname, content string, styleID int, now time.Time) (*models.Card, error) {
	m.mu.Lock()

	var c *models.Card
	if id, ok := m.byToken[token]; ok {
		c = m.cards[id]
		if c.IsSystemFallback() {
			m.mu.Unlock()
			return nil, ErrSystemCard
		}
		c.Nickname = nickname
		c.Content = content
		c.StyleID = styleID
	} else {
		c = &models.Card{
			ID:        m.nextCardID,
			Token:     token,
			Nickname:  nickname,
			Content:   content,
			StyleID:   styleID,
			Kind:      models.KindReal,
			Status:    models.StatusWaiting,
			Weight:    1,
			CreatedAt: now,
		}
		m.nextCardID++
		m.cards[c.ID] = c
		m.byToken[token] = c.ID
	}
	m.dirtyCards[c.ID] = struct{}{}
	out := c.Clone()
	m.mu.Unlock()

	m.notify()
	return out, nil
}

// TouchAttempt records a matching attempt used by the cooldown gate.
func (m *MemoryStore) TouchAttempt(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	c, ok := m.cards[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	t := at
	c.LastMatchAttempt = &t
	m.dirtyCards[id] = struct{}{}
	m.mu.Unlock()

	m.notify()
	return nil
}

// CommitMatch pairs requester with partner in a single step: the requester
// receives the partner card, the partner records the requester as its
// receiver if nobody got there first, and a match log entry is appended.
func (m *MemoryStore) CommitMatch(ctx context.Context, requesterID, partnerID int64, at time.Time) (*models.MatchLog, error) {
	m.mu.Lock()

	requester, ok := m.cards[requesterID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	partner, ok := m.cards[partnerID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("partner %d: %w", partnerID, ErrNotFound)
	}
	if requester.IsSystemFallback() {
		m.mu.Unlock()
		return nil, ErrSystemCard
	}
	if requester.TargetID != nil {
		m.mu.Unlock()
		return nil, ErrAlreadyMatched
	}

	target := partnerID
	t := at
	requester.TargetID = &target
	requester.Status = models.StatusMatched
	requester.LastMatchAttempt = &t
	requester.MatchPartner = partner.Nickname
	m.dirtyCards[requesterID] = struct{}{}

	if !partner.IsSystemFallback() && partner.MatchedByID == nil {
		by := requesterID
		partner.MatchedByID = &by
		m.dirtyCards[partnerID] = struct{}{}
	}

	entry := m.appendLogLocked(requesterID, partnerID, at)
	m.mu.Unlock()

	m.notify()
	return &entry, nil
}

// AppendMatchLog records a match event without touching any card.
func (m *MemoryStore) AppendMatchLog(ctx context.Context, requesterID, partnerID int64, at time.Time) (*models.MatchLog, error) {
	m.mu.Lock()
	entry := m.appendLogLocked(requesterID, partnerID, at)
	m.mu.Unlock()

	m.notify()
	return &entry, nil
}

func (m *MemoryStore) appendLogLocked(requesterID, partnerID int64, at time.Time) models.MatchLog {
	entry := models.MatchLog{
		ID:          m.nextLogID,
		RequesterID: requesterID,
		PartnerID:   partnerID,
		CreatedAt:   at,
	}
	m.nextLogID++
	m.logs = append(m.logs, entry)
	m.pendingLogs = append(m.pendingLogs, entry)
	return entry
}

// Remove tombstones cards. Unknown ids and the fallback card are skipped.
func (m *MemoryStore) Remove(ctx context.Context, ids ...int64) (int, error) {
	m.mu.Lock()
	n := 0
	for _, id := range ids {
		c, ok := m.cards[id]
		if !ok || c.IsSystemFallback() || c.Removed {
			continue
		}
		c.Removed = true
		m.dirtyCards[id] = struct{}{}
		n++
	}
	m.mu.Unlock()

	if n > 0 {
		m.notify()
	}
	return n, nil
}

// Purge deletes a card physically. Match logs that reference it are kept.
func (m *MemoryStore) Purge(ctx context.Context, id int64) error {
	m.mu.Lock()
	c, ok := m.cards[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if c.IsSystemFallback() {
		m.mu.Unlock()
		return ErrSystemCard
	}
	delete(m.cards, id)
	delete(m.byToken, c.Token)
	delete(m.dirtyCards, id)
	m.purged = append(m.purged, id)
	m.mu.Unlock()

	m.notify()
	return nil
}

func (m *MemoryStore) UpdateContent(ctx context.Context, id int64, content string) error {
	m.mu.Lock()
	c, ok := m.cards[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if c.IsSystemFallback() {
		m.mu.Unlock()
		return ErrSystemCard
	}
	c.Content = content
	m.dirtyCards[id] = struct{}{}
	m.mu.Unlock()

	m.notify()
	return nil
}

// visibleLocked returns non removed real cards, newest first.
func (m *MemoryStore) visibleLocked() []*models.Card {
	out := make([]*models.Card, 0, len(m.cards))
	for _, c := range m.cards {
		if c.Removed || c.IsSystemFallback() {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *MemoryStore) Wall(ctx context.Context, limit int) ([]models.WallCard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	visible := m.visibleLocked()
	if limit < len(visible) {
		visible = visible[:limit]
	}
	rows := make([]models.WallCard, 0, len(visible))
	for _, c := range visible {
		rows = append(rows, models.WallCard{
			ID:        c.ID,
			Nickname:  c.Nickname,
			Content:   c.Content,
			StyleID:   c.StyleID,
			CreatedAt: c.CreatedAt,
		})
	}
	return rows, nil
}

// ListCards pages through non removed real cards, newest first.
func (m *MemoryStore) ListCards(ctx context.Context, page, limit int) ([]*models.Card, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	visible := m.visibleLocked()
	total := len(visible)

	offset := (page - 1) * limit
	if offset >= total {
		return []*models.Card{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	rows := make([]*models.Card, 0, end-offset)
	for _, c := range visible[offset:end] {
		rows = append(rows, c.Clone())
	}
	return rows, total, nil
}

func (m *MemoryStore) Stats(ctx context.Context) (models.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, c := range m.cards {
		if !c.Removed && !c.IsSystemFallback() {
			count++
		}
	}
	return models.Stats{Count: count, Matches: len(m.logs)}, nil
}

// MatchTimes returns the timestamps of every match log entry.
func (m *MemoryStore) MatchTimes(ctx context.Context) ([]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]time.Time, 0, len(m.logs))
	for _, l := range m.logs {
		out = append(out, l.CreatedAt)
	}
	return out, nil
}

// drain hands the pending changes to the caller and resets tracking.
func (m *MemoryStore) drain() *Batch {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := &Batch{
		Logs:   m.pendingLogs,
		Config: m.dirtyConfig,
		Purged: m.purged,
	}
	for id := range m.dirtyCards {
		if c, ok := m.cards[id]; ok {
			b.Cards = append(b.Cards, c.Clone())
		}
	}
	sort.Slice(b.Cards, func(i, j int) bool { return b.Cards[i].ID < b.Cards[j].ID })

	m.dirtyCards = make(map[int64]struct{})
	m.pendingLogs = nil
	m.dirtyConfig = make(map[string]string)
	m.purged = nil
	return b
}

// requeue puts back a batch whose flush failed. Newer changes win.
func (m *MemoryStore) requeue(b *Batch) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range b.Cards {
		if _, ok := m.cards[c.ID]; ok {
			m.dirtyCards[c.ID] = struct{}{}
		}
	}
	m.pendingLogs = append(append([]models.MatchLog{}, b.Logs...), m.pendingLogs...)
	for k, v := range b.Config {
		if _, newer := m.dirtyConfig[k]; !newer {
			m.dirtyConfig[k] = v
		}
	}
	m.purged = append(append([]int64{}, b.Purged...), m.purged...)
}
