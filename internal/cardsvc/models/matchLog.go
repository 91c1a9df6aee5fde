package models

import "time"

type MatchLog struct {
	ID          int64     `json:"id"`             // Primary key
	RequesterID int64     `json:"user_card_id"`   // Card that asked for a match
	PartnerID   int64     `json:"target_card_id"` // Card it received
	CreatedAt   time.Time `json:"created_at"`
}

type Stats struct {
	Count   int `json:"count"`   // Non removed real cards
	Matches int `json:"matches"` // Match log entries
}
