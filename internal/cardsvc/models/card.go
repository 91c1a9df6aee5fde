package models

import "time"

type CardStatus int

const (
	StatusWaiting CardStatus = 0
	StatusMatched CardStatus = 1
)

func (s CardStatus) String() string {
	if s == StatusMatched {
		return "MATCHED"
	}
	return "WAITING"
}

// CardKind separates real submissions from the system fallback card.
type CardKind int

const (
	KindReal           CardKind = 0
	KindSystemFallback CardKind = 1
)

type Card struct {
	ID               int64      `json:"id"`                 // Primary key
	Token            string     `json:"uuid"`               // Client chosen, unique
	Nickname         string     `json:"nickname"`           // Display name of the sender
	Content          string     `json:"content"`            // Wish text
	StyleID          int        `json:"style_id"`           // Card theme
	Kind             CardKind   `json:"kind"`               // Real or system fallback
	Status           CardStatus `json:"status"`             // 0 waiting, 1 matched
	TargetID         *int64     `json:"target_card_id"`     // Card this one receives, set once
	MatchedByID      *int64     `json:"matched_by_card_id"` // Card that receives this one
	MatchPartner     string     `json:"match_partner"`      // Nickname of the target at commit time
	Weight           int        `json:"weight"`             // Relative selection weight
	LastMatchAttempt *time.Time `json:"last_match_time"`
	CreatedAt        time.Time  `json:"created_at"`
	Removed          bool       `json:"is_removed"`
}

func (c *Card) IsSystemFallback() bool {
	return c.Kind == KindSystemFallback
}

// IsMatched reports whether the card already has a recipient assignment.
func (c *Card) IsMatched() bool {
	return c.TargetID != nil
}

// SelectionWeight is the weight used by weighted random matching.
func (c *Card) SelectionWeight() int {
	if c.Weight <= 0 {
		return 1
	}
	return c.Weight
}

// Clone returns a deep copy so callers never share pointers with the store.
func (c *Card) Clone() *Card {
	cp := *c
	if c.TargetID != nil {
		v := *c.TargetID
		cp.TargetID = &v
	}
	if c.MatchedByID != nil {
		v := *c.MatchedByID
		cp.MatchedByID = &v
	}
	if c.LastMatchAttempt != nil {
		v := *c.LastMatchAttempt
		cp.LastMatchAttempt = &v
	}
	return &cp
}

// CardView is the public projection of a card returned to clients.
type CardView struct {
	Nickname     string `json:"nickname"`
	Content      string `json:"content"`
	StyleID      int    `json:"style_id"`
	MatchPartner string `json:"match_partner,omitempty"`
}

func (c *Card) View() CardView {
	return CardView{
		Nickname: c.Nickname,
		Content:  c.Content,
		StyleID:  c.StyleID,
	}
}

// WallCard is a row of the public wall listing. It never carries the token.
type WallCard struct {
	ID        int64     `json:"id"`
	Nickname  string    `json:"nickname"`
	Content   string    `json:"content"`
	StyleID   int       `json:"style_id"`
	CreatedAt time.Time `json:"created_at"`
}
