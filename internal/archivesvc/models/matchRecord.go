package models

import (
	"time"

	"github.com/avvvet/wishcard-services/internal/comm"
)

// MatchRecord is one archived match event, unique by EventID. Card tokens
// are not archived. Documents expire at ExpiresAt.
type MatchRecord struct {
	EventID           string    `bson:"event_id" json:"event_id"`
	LogID             int64     `bson:"log_id" json:"log_id"`
	RequesterNickname string    `bson:"requester_nickname" json:"requester_nickname"`
	PartnerNickname   string    `bson:"partner_nickname" json:"partner_nickname"`
	Fallback          bool      `bson:"fallback" json:"fallback"`
	MatchedAt         time.Time `bson:"matched_at" json:"matched_at"`
	ExpiresAt         time.Time `bson:"expires_at" json:"-"`
}

func NewMatchRecord(ev comm.MatchEvent, ttl time.Duration) MatchRecord {
	matchedAt := ev.MatchedAt.UTC()
	return MatchRecord{
		EventID:           ev.EventID,
		LogID:             ev.LogID,
		RequesterNickname: ev.RequesterNickname,
		PartnerNickname:   ev.PartnerNickname,
		Fallback:          ev.Fallback,
		MatchedAt:         matchedAt,
		ExpiresAt:         matchedAt.Add(ttl),
	}
}

// DailyCount is the number of matches on one UTC day (YYYY-MM-DD).
type DailyCount struct {
	Day      string `json:"day" bson:"_id"`
	Count    int    `json:"count" bson:"count"`
	Fallback int    `json:"fallback" bson:"fallback"`
}
