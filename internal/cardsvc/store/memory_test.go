package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/avvvet/wishcard-services/internal/cardsvc/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func seeded(t *testing.T) *MemoryStore {
	t.Helper()
	m := NewMemoryStore()
	require.NoError(t, m.SeedDefaults(context.Background(), t0))
	return m
}

func TestMemory_SeedDefaults(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)

	fb, err := m.SystemFallbackCard(ctx)
	require.NoError(t, err)
	assert.True(t, fb.IsSystemFallback())
	assert.Equal(t, SystemFallbackToken, fb.Token)
	assert.False(t, fb.Removed)

	flag, err := m.ConfigFlag(ctx, FlagMatchingEnabled)
	require.NoError(t, err)
	assert.Equal(t, "true", flag)

	// seeding twice keeps a single fallback card
	require.NoError(t, m.SeedDefaults(ctx, t0))
	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Count)
}

func TestMemory_NoFallbackWithoutSeed(t *testing.T) {
	m := NewMemoryStore()

	_, err := m.SystemFallbackCard(context.Background())

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_UpsertKeepsMatchingState(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)

	a, err := m.UpsertCard(ctx, "u1", "张三", "新年快乐", 1, t0)
	require.NoError(t, err)
	b, err := m.UpsertCard(ctx, "u2", "李四", "恭喜发财", 2, t0)
	require.NoError(t, err)

	_, err = m.CommitMatch(ctx, a.ID, b.ID, t0.Add(time.Second))
	require.NoError(t, err)

	again, err := m.UpsertCard(ctx, "u1", "张三丰", "万事如意", 2, t0.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, a.ID, again.ID)
	assert.Equal(t, "张三丰", again.Nickname)
	assert.Equal(t, "万事如意", again.Content)
	assert.Equal(t, 2, again.StyleID)
	assert.Equal(t, models.StatusMatched, again.Status)
	require.NotNil(t, again.TargetID)
	assert.Equal(t, b.ID, *again.TargetID)
	assert.Equal(t, t0, again.CreatedAt)
}

func TestMemory_UpsertRejectsFallbackToken(t *testing.T) {
	m := seeded(t)

	_, err := m.UpsertCard(context.Background(), SystemFallbackToken, "x", "y", 0, t0)

	assert.ErrorIs(t, err, ErrSystemCard)
}

func TestMemory_PrimaryPool(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)

	a, _ := m.UpsertCard(ctx, "a", "A", "a", 0, t0)
	b, _ := m.UpsertCard(ctx, "b", "B", "b", 0, t0)
	c, _ := m.UpsertCard(ctx, "c", "C", "c", 0, t0)
	d, _ := m.UpsertCard(ctx, "d", "D", "d", 0, t0)

	// b is now received by a, d is removed
	_, err := m.CommitMatch(ctx, a.ID, b.ID, t0)
	require.NoError(t, err)
	_, err = m.Remove(ctx, d.ID)
	require.NoError(t, err)

	pool, err := m.PrimaryPool(ctx, c.ID)
	require.NoError(t, err)

	ids := make([]int64, 0, len(pool))
	for _, p := range pool {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []int64{a.ID}, ids)
}

func TestMemory_CommitMatch(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)

	a, _ := m.UpsertCard(ctx, "a", "A", "a", 0, t0)
	b, _ := m.UpsertCard(ctx, "b", "B", "b", 0, t0)
	at := t0.Add(5 * time.Second)

	entry, err := m.CommitMatch(ctx, a.ID, b.ID, at)
	require.NoError(t, err)
	assert.Equal(t, a.ID, entry.RequesterID)
	assert.Equal(t, b.ID, entry.PartnerID)

	gotA, _ := m.FindByID(ctx, a.ID)
	assert.Equal(t, models.StatusMatched, gotA.Status)
	assert.Equal(t, b.ID, *gotA.TargetID)
	assert.Equal(t, "B", gotA.MatchPartner)
	assert.Equal(t, at, *gotA.LastMatchAttempt)

	gotB, _ := m.FindByID(ctx, b.ID)
	require.NotNil(t, gotB.MatchedByID)
	assert.Equal(t, a.ID, *gotB.MatchedByID)
	assert.Nil(t, gotB.TargetID)

	stats, _ := m.Stats(ctx)
	assert.Equal(t, 1, stats.Matches)
}

func TestMemory_CommitMatchTargetIsFinal(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)

	a, _ := m.UpsertCard(ctx, "a", "A", "a", 0, t0)
	b, _ := m.UpsertCard(ctx, "b", "B", "b", 0, t0)
	c, _ := m.UpsertCard(ctx, "c", "C", "c", 0, t0)

	_, err := m.CommitMatch(ctx, a.ID, b.ID, t0)
	require.NoError(t, err)

	_, err = m.CommitMatch(ctx, a.ID, c.ID, t0)
	assert.ErrorIs(t, err, ErrAlreadyMatched)

	gotA, _ := m.FindByID(ctx, a.ID)
	assert.Equal(t, b.ID, *gotA.TargetID)
	gotC, _ := m.FindByID(ctx, c.ID)
	assert.Nil(t, gotC.MatchedByID, "a failed commit leaves no trace on the partner")

	stats, _ := m.Stats(ctx)
	assert.Equal(t, 1, stats.Matches, "a failed commit appends no log")
}

func TestMemory_MatchedByFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)

	a, _ := m.UpsertCard(ctx, "a", "A", "a", 0, t0)
	b, _ := m.UpsertCard(ctx, "b", "B", "b", 0, t0)
	c, _ := m.UpsertCard(ctx, "c", "C", "c", 0, t0)

	// a and c both picked b from a stale pool read
	_, err := m.CommitMatch(ctx, a.ID, b.ID, t0)
	require.NoError(t, err)
	_, err = m.CommitMatch(ctx, c.ID, b.ID, t0)
	require.NoError(t, err)

	gotB, _ := m.FindByID(ctx, b.ID)
	assert.Equal(t, a.ID, *gotB.MatchedByID)

	gotC, _ := m.FindByID(ctx, c.ID)
	assert.Equal(t, b.ID, *gotC.TargetID)
}

func TestMemory_CommitAgainstFallbackLeavesItUntouched(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)

	a, _ := m.UpsertCard(ctx, "a", "A", "a", 0, t0)
	fb, _ := m.SystemFallbackCard(ctx)

	_, err := m.CommitMatch(ctx, a.ID, fb.ID, t0)
	require.NoError(t, err)

	fbAfter, _ := m.SystemFallbackCard(ctx)
	assert.Nil(t, fbAfter.MatchedByID)
	gotA, _ := m.FindByID(ctx, a.ID)
	assert.Equal(t, fb.Nickname, gotA.MatchPartner)
}

func TestMemory_ConcurrentCommitsSingleWinner(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)

	a, _ := m.UpsertCard(ctx, "a", "A", "a", 0, t0)
	partners := make([]int64, 0, 20)
	for i := 0; i < 20; i++ {
		p, _ := m.UpsertCard(ctx, string(rune('A'+i))+"-p", "P", "p", 0, t0)
		partners = append(partners, p.ID)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for _, pid := range partners {
		wg.Add(1)
		go func(pid int64) {
			defer wg.Done()
			if _, err := m.CommitMatch(ctx, a.ID, pid, t0); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(pid)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	stats, _ := m.Stats(ctx)
	assert.Equal(t, 1, stats.Matches)

	receivers := 0
	for _, pid := range partners {
		p, _ := m.FindByID(ctx, pid)
		if p.MatchedByID != nil {
			receivers++
		}
	}
	assert.Equal(t, 1, receivers)
}

func TestMemory_RemoveSkipsFallback(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)

	a, _ := m.UpsertCard(ctx, "a", "A", "a", 0, t0)
	fb, _ := m.SystemFallbackCard(ctx)

	n, err := m.Remove(ctx, a.ID, fb.ID, 9999)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	fbAfter, _ := m.SystemFallbackCard(ctx)
	assert.False(t, fbAfter.Removed)

	// removed cards stay addressable
	gotA, err := m.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, gotA.Removed)
}

func TestMemory_WallAndList(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)

	for i, tok := range []string{"a", "b", "c"} {
		_, err := m.UpsertCard(ctx, tok, tok, tok, 0, t0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
	a, _ := m.FindByToken(ctx, "a")
	b, _ := m.FindByToken(ctx, "b")
	c, _ := m.FindByToken(ctx, "c")
	_, _ = m.Remove(ctx, b.ID)

	wall, err := m.Wall(ctx, 10)
	require.NoError(t, err)
	require.Len(t, wall, 2)
	assert.Equal(t, c.ID, wall[0].ID)
	assert.Equal(t, a.ID, wall[1].ID)

	rows, total, err := m.ListCards(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].Token)

	rows, _, err = m.ListCards(ctx, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)

	a, _ := m.UpsertCard(ctx, "a", "A", "a", 0, t0)
	a.Nickname = "changed"

	got, _ := m.FindByToken(ctx, "a")
	assert.Equal(t, "A", got.Nickname)
}

func TestMemory_DrainAndRequeue(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)

	a, _ := m.UpsertCard(ctx, "a", "A", "a", 0, t0)
	b, _ := m.UpsertCard(ctx, "b", "B", "b", 0, t0)
	_, _ = m.CommitMatch(ctx, a.ID, b.ID, t0)

	batch := m.drain()
	assert.Len(t, batch.Cards, 3) // fallback, a, b
	assert.Len(t, batch.Logs, 1)
	assert.Equal(t, "true", batch.Config[FlagMatchingEnabled])
	assert.Equal(t, 0, m.Pending())

	require.NoError(t, m.SetConfigFlag(ctx, FlagMatchingEnabled, "false"))
	m.requeue(batch)

	again := m.drain()
	assert.Len(t, again.Cards, 3)
	assert.Len(t, again.Logs, 1)
	assert.Equal(t, "false", again.Config[FlagMatchingEnabled], "newer config value wins")
}

func TestMemory_PurgeDropsPendingUpsert(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	a, _ := m.UpsertCard(ctx, "a", "A", "a", 0, t0)
	require.NoError(t, m.Purge(ctx, a.ID))

	batch := m.drain()
	assert.Empty(t, batch.Cards)
	assert.Equal(t, []int64{a.ID}, batch.Purged)

	_, err := m.FindByToken(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_AppendMatchLogLeavesCardsAlone(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)
	a, _ := m.UpsertCard(ctx, "a", "A", "hi", 0, t0)
	b, _ := m.UpsertCard(ctx, "b", "B", "hi", 0, t0)

	entry, err := m.AppendMatchLog(ctx, a.ID, b.ID, t0.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, a.ID, entry.RequesterID)
	got, _ := m.FindByID(ctx, a.ID)
	assert.Nil(t, got.TargetID)
	st, _ := m.Stats(ctx)
	assert.Equal(t, 1, st.Matches)
	times, _ := m.MatchTimes(ctx)
	assert.Equal(t, []time.Time{t0.Add(time.Minute)}, times)
}
