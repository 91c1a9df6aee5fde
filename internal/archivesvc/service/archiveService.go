package service

import (
	"context"
	"fmt"
	"time"

	"github.com/avvvet/wishcard-services/internal/archivesvc/models"
	"github.com/avvvet/wishcard-services/internal/comm"
)

const (
	DefaultTrendDays = 7
	MaxTrendDays     = 90
)

type ArchiveRepository interface {
	Save(ctx context.Context, rec models.MatchRecord) (bool, error)
	DailyCounts(ctx context.Context, since time.Time) ([]models.DailyCount, error)
}

type ArchiveService struct {
	repo ArchiveRepository
	ttl  time.Duration
	now  func() time.Time
}

func NewArchiveService(repo ArchiveRepository, ttl time.Duration) *ArchiveService {
	return &ArchiveService{repo: repo, ttl: ttl, now: time.Now}
}

// Record archives one match event. Replays of the same event id are ignored.
func (s *ArchiveService) Record(ctx context.Context, ev comm.MatchEvent) (bool, error) {
	if ev.EventID == "" {
		return false, fmt.Errorf("match event %d without event id", ev.LogID)
	}
	if ev.MatchedAt.IsZero() {
		ev.MatchedAt = s.now()
	}
	return s.repo.Save(ctx, models.NewMatchRecord(ev, s.ttl))
}

// Trend returns one row per UTC day for the last n days, today included.
// Days without matches are reported with zero counts.
func (s *ArchiveService) Trend(ctx context.Context, days int) ([]models.DailyCount, error) {
	switch {
	case days <= 0:
		days = DefaultTrendDays
	case days > MaxTrendDays:
		days = MaxTrendDays
	}

	today := s.now().UTC().Truncate(24 * time.Hour)
	since := today.AddDate(0, 0, -(days - 1))

	rows, err := s.repo.DailyCounts(ctx, since)
	if err != nil {
		return nil, err
	}

	byDay := make(map[string]models.DailyCount, len(rows))
	for _, r := range rows {
		byDay[r.Day] = r
	}

	out := make([]models.DailyCount, 0, days)
	for d := since; !d.After(today); d = d.AddDate(0, 0, 1) {
		key := d.Format(time.DateOnly)
		row, ok := byDay[key]
		if !ok {
			row = models.DailyCount{Day: key}
		}
		out = append(out, row)
	}
	return out, nil
}
