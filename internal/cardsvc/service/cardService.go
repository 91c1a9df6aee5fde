package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/avvvet/wishcard-services/internal/cardsvc/models"
	"github.com/avvvet/wishcard-services/internal/cardsvc/store"
	log "github.com/sirupsen/logrus"
)

const (
	MaxNicknameRunes = 32
	MaxContentRunes  = 500

	DefaultWallLimit = 200
	MaxWallLimit     = 500
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// ContentRejectedError reports the first sensitive word found in a field.
type ContentRejectedError struct {
	Field string
	Word  string
}

func (e *ContentRejectedError) Error() string {
	return fmt.Sprintf("%s contains sensitive word %q", e.Field, e.Word)
}

// CardRepository is the part of the card store used by submission and admin.
type CardRepository interface {
	UpsertCard(ctx context.Context, token, nickname, content string, styleID int, now time.Time) (*models.Card, error)
	FindByID(ctx context.Context, id int64) (*models.Card, error)
	Remove(ctx context.Context, ids ...int64) (int, error)
	Purge(ctx context.Context, id int64) error
	UpdateContent(ctx context.Context, id int64, content string) error
	Wall(ctx context.Context, limit int) ([]models.WallCard, error)
	ListCards(ctx context.Context, page, limit int) ([]*models.Card, int, error)
	Stats(ctx context.Context) (models.Stats, error)
	MatchTimes(ctx context.Context) ([]time.Time, error)
	ConfigFlag(ctx context.Context, name string) (string, error)
	SetConfigFlag(ctx context.Context, name, value string) error
}

type ContentFilter interface {
	Check(text string) (string, bool)
	WordList() []string
	LoadFile(path string) error
}

type SubmitRequest struct {
	Token    string `json:"uuid"`
	Nickname string `json:"nickname"`
	Content  string `json:"content"`
	StyleID  *int   `json:"style_id"`
}

type CardPage struct {
	Rows  []*models.Card `json:"rows"`
	Total int            `json:"total"`
}

type AdminStats struct {
	models.Stats
	Trend           []time.Time `json:"trend"`
	MatchingEnabled bool        `json:"matchingEnabled"`
}

type CardService struct {
	repo     CardRepository
	filter   ContentFilter
	styles   map[int]bool
	dictPath string
	now      func() time.Time
}

func NewCardService(repo CardRepository, filter ContentFilter, styles []int, dictPath string) *CardService {
	set := make(map[int]bool, len(styles))
	for _, s := range styles {
		set[s] = true
	}
	return &CardService{
		repo:     repo,
		filter:   filter,
		styles:   set,
		dictPath: dictPath,
		now:      time.Now,
	}
}

// Submit validates and screens a card, then creates or updates it by token.
func (s *CardService) Submit(ctx context.Context, req SubmitRequest) (*models.Card, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	if word, found := s.filter.Check(req.Nickname); found {
		return nil, &ContentRejectedError{Field: "nickname", Word: word}
	}
	if word, found := s.filter.Check(req.Content); found {
		return nil, &ContentRejectedError{Field: "content", Word: word}
	}

	card, err := s.repo.UpsertCard(ctx, req.Token, req.Nickname, req.Content, *req.StyleID, s.now())
	if errors.Is(err, store.ErrSystemCard) {
		return nil, &ValidationError{Field: "uuid", Reason: "is reserved"}
	}
	if err != nil {
		return nil, fmt.Errorf("upsert card: %w", err)
	}
	return card, nil
}

func (s *CardService) validate(req SubmitRequest) error {
	switch {
	case strings.TrimSpace(req.Token) == "":
		return &ValidationError{Field: "uuid", Reason: "is required"}
	case strings.TrimSpace(req.Nickname) == "":
		return &ValidationError{Field: "nickname", Reason: "is required"}
	case strings.TrimSpace(req.Content) == "":
		return &ValidationError{Field: "content", Reason: "is required"}
	case req.Token == store.SystemFallbackToken:
		return &ValidationError{Field: "uuid", Reason: "is reserved"}
	case utf8.RuneCountInString(req.Nickname) > MaxNicknameRunes:
		return &ValidationError{Field: "nickname", Reason: fmt.Sprintf("exceeds %d characters", MaxNicknameRunes)}
	case utf8.RuneCountInString(req.Content) > MaxContentRunes:
		return &ValidationError{Field: "content", Reason: fmt.Sprintf("exceeds %d characters", MaxContentRunes)}
	case req.StyleID == nil || !s.styles[*req.StyleID]:
		return &ValidationError{Field: "style_id", Reason: "is not a known style"}
	}
	return nil
}

// Wall lists the newest visible cards. limit is clamped to [1, MaxWallLimit],
// zero selects DefaultWallLimit.
func (s *CardService) Wall(ctx context.Context, limit int) ([]models.WallCard, error) {
	switch {
	case limit == 0:
		limit = DefaultWallLimit
	case limit < 1:
		limit = 1
	case limit > MaxWallLimit:
		limit = MaxWallLimit
	}
	return s.repo.Wall(ctx, limit)
}

func (s *CardService) Stats(ctx context.Context) (models.Stats, error) {
	return s.repo.Stats(ctx)
}

func (s *CardService) WordList() []string {
	return s.filter.WordList()
}

func (s *CardService) ListCards(ctx context.Context, page, limit int) (*CardPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	rows, total, err := s.repo.ListCards(ctx, page, limit)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	return &CardPage{Rows: rows, Total: total}, nil
}

func (s *CardService) AdminStats(ctx context.Context) (*AdminStats, error) {
	st, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	trend, err := s.repo.MatchTimes(ctx)
	if err != nil {
		return nil, fmt.Errorf("match trend: %w", err)
	}
	enabled, err := s.MatchingEnabled(ctx)
	if err != nil {
		return nil, err
	}
	return &AdminStats{Stats: st, Trend: trend, MatchingEnabled: enabled}, nil
}

func (s *CardService) RemoveCards(ctx context.Context, ids ...int64) (int, error) {
	n, err := s.repo.Remove(ctx, ids...)
	if err != nil {
		return 0, fmt.Errorf("remove cards: %w", err)
	}
	log.Infof("[admin] removed %d of %d cards", n, len(ids))
	return n, nil
}

// PurgeCard deletes a card for good. Its match log entries stay.
func (s *CardService) PurgeCard(ctx context.Context, id int64) error {
	if err := s.repo.Purge(ctx, id); err != nil {
		return fmt.Errorf("purge card %d: %w", id, err)
	}
	log.Infof("[admin] purged card %d", id)
	return nil
}

// UpdateContent replaces a card's text. The new text goes through the filter.
func (s *CardService) UpdateContent(ctx context.Context, id int64, content string) error {
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Field: "content", Reason: "is required"}
	}
	if utf8.RuneCountInString(content) > MaxContentRunes {
		return &ValidationError{Field: "content", Reason: fmt.Sprintf("exceeds %d characters", MaxContentRunes)}
	}
	if word, found := s.filter.Check(content); found {
		return &ContentRejectedError{Field: "content", Word: word}
	}
	if err := s.repo.UpdateContent(ctx, id, content); err != nil {
		return fmt.Errorf("update card %d: %w", id, err)
	}
	return nil
}

func (s *CardService) MatchingEnabled(ctx context.Context) (bool, error) {
	v, err := s.repo.ConfigFlag(ctx, store.FlagMatchingEnabled)
	if err != nil {
		return false, fmt.Errorf("read matching flag: %w", err)
	}
	return v == "true", nil
}

func (s *CardService) SetMatchingEnabled(ctx context.Context, enabled bool) error {
	if err := s.repo.SetConfigFlag(ctx, store.FlagMatchingEnabled, fmt.Sprint(enabled)); err != nil {
		return fmt.Errorf("set matching flag: %w", err)
	}
	log.Infof("[admin] matching enabled = %t", enabled)
	return nil
}

// ReloadDictionary reads the word list file again. On error the previous
// dictionary stays active.
func (s *CardService) ReloadDictionary() (int, error) {
	if err := s.filter.LoadFile(s.dictPath); err != nil {
		return 0, err
	}
	return len(s.filter.WordList()), nil
}
