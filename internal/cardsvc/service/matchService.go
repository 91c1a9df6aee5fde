package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/avvvet/wishcard-services/internal/cardsvc/models"
	"github.com/avvvet/wishcard-services/internal/cardsvc/store"
	"github.com/avvvet/wishcard-services/internal/comm"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// MatchRepository is the part of the card store the engine needs.
type MatchRepository interface {
	FindByToken(ctx context.Context, token string) (*models.Card, error)
	FindByID(ctx context.Context, id int64) (*models.Card, error)
	SystemFallbackCard(ctx context.Context) (*models.Card, error)
	PrimaryPool(ctx context.Context, excludeID int64) ([]*models.Card, error)
	TouchAttempt(ctx context.Context, id int64, at time.Time) error
	CommitMatch(ctx context.Context, requesterID, partnerID int64, at time.Time) (*models.MatchLog, error)
}

// FlagReader returns the current value of a runtime switch.
type FlagReader interface {
	ConfigFlag(ctx context.Context, name string) (string, error)
}

// MatchNotifier is told about every committed match.
type MatchNotifier interface {
	NotifyMatch(ctx context.Context, ev comm.MatchEvent) error
}

type RandSource interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

type MatchStatus string

const (
	StatusNotFound MatchStatus = "NOT_FOUND"
	StatusPaused   MatchStatus = "PAUSED"
	StatusWaiting  MatchStatus = "WAITING"
	StatusMatched  MatchStatus = "MATCHED"
)

type MatchConfig struct {
	Cooldown           time.Duration // min gap between two pool scans of one card
	FallbackTimeout    time.Duration // waiting longer than this gets the system card
	ImmediateFallback  bool          // empty pool goes straight to the system card
	AllowForceFallback bool          // honour QueryOptions.ForceFallback
}

func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		Cooldown:          10 * time.Second,
		FallbackTimeout:   120 * time.Second,
		ImmediateFallback: true,
	}
}

type QueryOptions struct {
	ForceFallback bool
}

type Delivery struct {
	ReceiverNickname string `json:"receiverNickname"`
}

type MatchResult struct {
	Status   MatchStatus      `json:"status"`
	Message  string           `json:"message,omitempty"`
	Self     *models.CardView `json:"self,omitempty"`
	Partner  *models.CardView `json:"target,omitempty"`
	Delivery *Delivery        `json:"delivery,omitempty"`
}

type MatchService struct {
	repo     MatchRepository
	flags    FlagReader
	cfg      MatchConfig
	notifier MatchNotifier
	rnd      RandSource
	now      func() time.Time
}

type MatchOption func(*MatchService)

func WithNotifier(n MatchNotifier) MatchOption {
	return func(s *MatchService) { s.notifier = n }
}

func WithRand(r RandSource) MatchOption {
	return func(s *MatchService) { s.rnd = r }
}

func WithClock(now func() time.Time) MatchOption {
	return func(s *MatchService) { s.now = now }
}

func NewMatchService(repo MatchRepository, flags FlagReader, cfg MatchConfig, opts ...MatchOption) *MatchService {
	s := &MatchService{
		repo:  repo,
		flags: flags,
		cfg:   cfg,
		rnd:   globalRand{},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Query returns the match state of the card owned by token, matching it
// first when the card is still waiting and policy allows it.
func (s *MatchService) Query(ctx context.Context, token string, opts QueryOptions) (*MatchResult, error) {
	self, err := s.repo.FindByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return &MatchResult{Status: StatusNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find card: %w", err)
	}
	// the system card is never a requester
	if self.IsSystemFallback() {
		return &MatchResult{Status: StatusNotFound}, nil
	}

	if self.IsMatched() {
		return s.matchedResult(ctx, self)
	}

	enabled, err := s.flags.ConfigFlag(ctx, store.FlagMatchingEnabled)
	if err != nil {
		return nil, fmt.Errorf("read matching flag: %w", err)
	}
	if enabled != "true" {
		return &MatchResult{Status: StatusPaused, Message: "Matching is temporarily paused."}, nil
	}

	now := s.now()
	if self.LastMatchAttempt != nil && now.Sub(*self.LastMatchAttempt) < s.cfg.Cooldown {
		return &MatchResult{Status: StatusWaiting, Message: "Matching too frequent. Please wait."}, nil
	}

	if err := s.repo.TouchAttempt(ctx, self.ID, now); err != nil {
		return nil, fmt.Errorf("record attempt: %w", err)
	}

	pool, err := s.repo.PrimaryPool(ctx, self.ID)
	if err != nil {
		return nil, fmt.Errorf("read pool: %w", err)
	}
	if len(pool) > 0 {
		return s.commit(ctx, self, pickWeighted(pool, s.rnd.Float64()), now)
	}

	fallback, err := s.repo.SystemFallbackCard(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return &MatchResult{Status: StatusWaiting}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find fallback card: %w", err)
	}

	forced := opts.ForceFallback && s.cfg.AllowForceFallback
	if s.cfg.ImmediateFallback || now.Sub(self.CreatedAt) > s.cfg.FallbackTimeout || forced {
		return s.commit(ctx, self, fallback, now)
	}

	return &MatchResult{Status: StatusWaiting}, nil
}

// pickWeighted walks pool subtracting weights from r*total and returns the
// first card that brings the remainder to zero or below.
func pickWeighted(pool []*models.Card, r float64) *models.Card {
	total := 0
	for _, c := range pool {
		total += c.SelectionWeight()
	}

	x := r * float64(total)
	for _, c := range pool {
		x -= float64(c.SelectionWeight())
		if x <= 0 {
			return c
		}
	}
	return pool[len(pool)-1]
}

func (s *MatchService) commit(ctx context.Context, self, partner *models.Card, now time.Time) (*MatchResult, error) {
	entry, err := s.repo.CommitMatch(ctx, self.ID, partner.ID, now)
	if err != nil && !errors.Is(err, store.ErrAlreadyMatched) {
		return nil, fmt.Errorf("commit match %d -> %d: %w", self.ID, partner.ID, err)
	}

	// ErrAlreadyMatched: a concurrent query for the same card won, answer from its commit
	fresh, ferr := s.repo.FindByID(ctx, self.ID)
	if ferr != nil {
		return nil, fmt.Errorf("reload card: %w", ferr)
	}

	if err == nil {
		s.notify(ctx, fresh, partner, entry)
	}
	return s.matchedResult(ctx, fresh)
}

func (s *MatchService) notify(ctx context.Context, self, partner *models.Card, entry *models.MatchLog) {
	if s.notifier == nil {
		return
	}
	ev := comm.MatchEvent{
		EventID:           uuid.NewString(),
		LogID:             entry.ID,
		RequesterToken:    self.Token,
		RequesterNickname: self.Nickname,
		PartnerToken:      partner.Token,
		PartnerNickname:   partner.Nickname,
		Fallback:          partner.IsSystemFallback(),
		MatchedAt:         entry.CreatedAt,
	}
	if err := s.notifier.NotifyMatch(ctx, ev); err != nil {
		log.Warnf("[match] notify card %d: %v", self.ID, err)
	}
}

// matchedResult builds a MATCHED answer from committed state only.
func (s *MatchService) matchedResult(ctx context.Context, self *models.Card) (*MatchResult, error) {
	var partnerView models.CardView
	target, err := s.repo.FindByID(ctx, *self.TargetID)
	switch {
	case err == nil:
		partnerView = target.View()
	case errors.Is(err, store.ErrNotFound):
		// purged by an admin; the nickname was copied at commit
		partnerView = models.CardView{Nickname: self.MatchPartner}
	default:
		return nil, fmt.Errorf("find target card %d: %w", *self.TargetID, err)
	}

	receiver := ""
	if self.MatchedByID != nil {
		by, err := s.repo.FindByID(ctx, *self.MatchedByID)
		switch {
		case err == nil:
			receiver = by.Nickname
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("find receiver card %d: %w", *self.MatchedByID, err)
		}
	}

	selfView := self.View()
	partnerView.MatchPartner = self.MatchPartner

	return &MatchResult{
		Status:   StatusMatched,
		Self:     &selfView,
		Partner:  &partnerView,
		Delivery: &Delivery{ReceiverNickname: receiver},
	}, nil
}
