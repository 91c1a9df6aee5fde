package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/avvvet/wishcard-services/internal/cardsvc/filter"
	"github.com/avvvet/wishcard-services/internal/cardsvc/models"
	"github.com/avvvet/wishcard-services/internal/cardsvc/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func newCardService(t *testing.T, words ...string) (*CardService, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	require.NoError(t, mem.SeedDefaults(context.Background(), t0))

	f := filter.New()
	f.Load(words)

	svc := NewCardService(mem, f, []int{0, 1, 2}, filepath.Join(t.TempDir(), "dict.txt"))
	svc.now = func() time.Time { return t0 }
	return svc, mem
}

func TestSubmit_CreatesWaitingCard(t *testing.T) {
	svc, _ := newCardService(t)

	card, err := svc.Submit(context.Background(), SubmitRequest{Token: "u1", Nickname: "张三", Content: "新年快乐", StyleID: intp(1)})

	require.NoError(t, err)
	assert.Equal(t, "u1", card.Token)
	assert.Equal(t, models.StatusWaiting, card.Status)
	assert.Equal(t, models.KindReal, card.Kind)
	assert.Equal(t, 1, card.Weight)
	assert.Equal(t, t0, card.CreatedAt)
}

func TestSubmit_Validation(t *testing.T) {
	long := strings.Repeat("福", MaxNicknameRunes+1)

	tests := []struct {
		name  string
		req   SubmitRequest
		field string
	}{
		{"missing token", SubmitRequest{Nickname: "a", Content: "b", StyleID: intp(0)}, "uuid"},
		{"blank nickname", SubmitRequest{Token: "u", Nickname: "  ", Content: "b", StyleID: intp(0)}, "nickname"},
		{"missing content", SubmitRequest{Token: "u", Nickname: "a", StyleID: intp(0)}, "content"},
		{"reserved token", SubmitRequest{Token: store.SystemFallbackToken, Nickname: "a", Content: "b", StyleID: intp(0)}, "uuid"},
		{"long nickname", SubmitRequest{Token: "u", Nickname: long, Content: "b", StyleID: intp(0)}, "nickname"},
		{"long content", SubmitRequest{Token: "u", Nickname: "a", Content: strings.Repeat("x", MaxContentRunes+1), StyleID: intp(0)}, "content"},
		{"missing style", SubmitRequest{Token: "u", Nickname: "a", Content: "b"}, "style_id"},
		{"unknown style", SubmitRequest{Token: "u", Nickname: "a", Content: "b", StyleID: intp(7)}, "style_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mem := newCardService(t)

			_, err := svc.Submit(context.Background(), tt.req)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			stats, _ := mem.Stats(context.Background())
			assert.Zero(t, stats.Count)
		})
	}
}

func TestSubmit_LengthCountsCharactersNotBytes(t *testing.T) {
	svc, _ := newCardService(t)

	_, err := svc.Submit(context.Background(), SubmitRequest{
		Token:    "u1",
		Nickname: strings.Repeat("福", MaxNicknameRunes),
		Content:  "新年快乐",
		StyleID:  intp(0),
	})

	assert.NoError(t, err)
}

func TestSubmit_ScenarioC_RejectsSensitiveWord(t *testing.T) {
	svc, mem := newCardService(t, "习近", "法轮", "死全家")

	tests := []struct {
		name     string
		nickname string
		content  string
		field    string
		word     string
	}{
		{"content", "张三", "祝你全家死全家", "content", "死全家"},
		{"nickname first", "练法轮功的人", "我是习近平", "nickname", "法轮"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), SubmitRequest{Token: "u1", Nickname: tt.nickname, Content: tt.content, StyleID: intp(0)})

			var rej *ContentRejectedError
			require.ErrorAs(t, err, &rej)
			assert.Equal(t, tt.field, rej.Field)
			assert.Equal(t, tt.word, rej.Word)
		})
	}

	_, err := mem.FindByToken(context.Background(), "u1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSubmit_UnloadedFilterAcceptsEverything(t *testing.T) {
	mem := store.NewMemoryStore()
	svc := NewCardService(mem, filter.New(), []int{0}, "")

	_, err := svc.Submit(context.Background(), SubmitRequest{Token: "u1", Nickname: "a", Content: "法轮", StyleID: intp(0)})

	assert.NoError(t, err)
}

func TestSubmit_ResubmitKeepsMatch(t *testing.T) {
	ctx := context.Background()
	svc, mem := newCardService(t)

	a, err := svc.Submit(ctx, SubmitRequest{Token: "u1", Nickname: "张三", Content: "新年快乐", StyleID: intp(1)})
	require.NoError(t, err)
	b, err := svc.Submit(ctx, SubmitRequest{Token: "u2", Nickname: "李四", Content: "恭喜发财", StyleID: intp(2)})
	require.NoError(t, err)
	_, err = mem.CommitMatch(ctx, a.ID, b.ID, t0)
	require.NoError(t, err)

	again, err := svc.Submit(ctx, SubmitRequest{Token: "u1", Nickname: "张三丰", Content: "万事如意", StyleID: intp(0)})
	require.NoError(t, err)

	assert.Equal(t, a.ID, again.ID)
	assert.Equal(t, "张三丰", again.Nickname)
	assert.Equal(t, models.StatusMatched, again.Status)
	assert.Equal(t, b.ID, *again.TargetID)
}

type wallRepo struct {
	*store.MemoryStore
	gotLimit int
}

func (r *wallRepo) Wall(ctx context.Context, limit int) ([]models.WallCard, error) {
	r.gotLimit = limit
	return nil, nil
}

func TestWall_ClampsLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultWallLimit},
		{-3, 1},
		{1, 1},
		{50, 50},
		{MaxWallLimit, MaxWallLimit},
		{10000, MaxWallLimit},
	}

	for _, tt := range tests {
		repo := &wallRepo{MemoryStore: store.NewMemoryStore()}
		svc := NewCardService(repo, filter.New(), []int{0}, "")

		_, err := svc.Wall(context.Background(), tt.in)

		require.NoError(t, err)
		assert.Equal(t, tt.want, repo.gotLimit, "limit %d", tt.in)
	}
}

func TestAdmin_UpdateContentIsFiltered(t *testing.T) {
	ctx := context.Background()
	svc, mem := newCardService(t, "法轮")
	card, err := svc.Submit(ctx, SubmitRequest{Token: "u1", Nickname: "张三", Content: "新年快乐", StyleID: intp(1)})
	require.NoError(t, err)

	err = svc.UpdateContent(ctx, card.ID, "来练法轮功")
	var rej *ContentRejectedError
	require.ErrorAs(t, err, &rej)

	require.NoError(t, svc.UpdateContent(ctx, card.ID, "身体健康"))
	got, _ := mem.FindByID(ctx, card.ID)
	assert.Equal(t, "身体健康", got.Content)

	err = svc.UpdateContent(ctx, 999, "身体健康")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAdmin_RemoveAndStats(t *testing.T) {
	ctx := context.Background()
	svc, mem := newCardService(t)
	a, _ := svc.Submit(ctx, SubmitRequest{Token: "u1", Nickname: "张三", Content: "新年快乐", StyleID: intp(1)})
	b, _ := svc.Submit(ctx, SubmitRequest{Token: "u2", Nickname: "李四", Content: "恭喜发财", StyleID: intp(2)})
	_, err := mem.CommitMatch(ctx, a.ID, b.ID, t0)
	require.NoError(t, err)

	n, err := svc.RemoveCards(ctx, a.ID, 12345)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := svc.AdminStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Count)
	assert.Equal(t, 1, st.Matches)
	assert.Equal(t, []time.Time{t0}, st.Trend)
	assert.True(t, st.MatchingEnabled)

	page, err := svc.ListCards(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "u2", page.Rows[0].Token)
}

func TestAdmin_MatchingSwitch(t *testing.T) {
	ctx := context.Background()
	svc, mem := newCardService(t)

	require.NoError(t, svc.SetMatchingEnabled(ctx, false))
	v, _ := mem.ConfigFlag(ctx, store.FlagMatchingEnabled)
	assert.Equal(t, "false", v)

	enabled, err := svc.MatchingEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)

	require.NoError(t, svc.SetMatchingEnabled(ctx, true))
	enabled, _ = svc.MatchingEnabled(ctx)
	assert.True(t, enabled)
}

func TestAdmin_ReloadDictionary(t *testing.T) {
	svc, _ := newCardService(t, "旧词")

	// missing file keeps the old dictionary
	_, err := svc.ReloadDictionary()
	require.Error(t, err)
	assert.Equal(t, []string{"旧词"}, svc.WordList())

	require.NoError(t, os.WriteFile(svc.dictPath, []byte("# list\n新词\n\n另一个\n"), 0o644))

	n, err := svc.ReloadDictionary()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"新词", "另一个"}, svc.WordList())

	_, err = svc.Submit(context.Background(), SubmitRequest{Token: "u1", Nickname: "a", Content: "旧词", StyleID: intp(0)})
	assert.NoError(t, err)
	_, err = svc.Submit(context.Background(), SubmitRequest{Token: "u2", Nickname: "a", Content: "新词", StyleID: intp(0)})
	assert.True(t, errors.As(err, new(*ContentRejectedError)))
}
