package comm

import (
	"encoding/json"
	"time"
)

const (
	// SubjectCardService carries match events published by cardsvc.
	SubjectCardService = "card.service"
	// SubjectCtlService carries operator commands for cardsvc.
	SubjectCtlService = "ctl.service"

	// QueueArchive load-balances match events across archivesvc instances.
	QueueArchive = "archive"
)

const (
	TypeCardMatched = "card-matched"
	TypeRegister    = "register"

	TypeSetMatching = "set-matching"
	TypeReloadDict  = "reload-dict"
	TypeFlush       = "flush"
)

type WSMessage struct {
	Type     string          `json:"type"` // e.g. "register", "card-matched"
	Data     json.RawMessage `json:"data"`
	SocketId string          `json:"socketid"`
}

// MatchEvent is published once per committed match on the service bus.
// The tokens are for routing only and must never reach a client.
type MatchEvent struct {
	EventID           string    `json:"event_id"` // unique per commit, survives log id reuse
	LogID             int64     `json:"log_id"`
	RequesterToken    string    `json:"requester_uuid"`
	RequesterNickname string    `json:"requester_nickname"`
	PartnerToken      string    `json:"partner_uuid"`
	PartnerNickname   string    `json:"partner_nickname"`
	Fallback          bool      `json:"fallback"` // partner is the system card
	MatchedAt         time.Time `json:"matched_at"`
}

const (
	RoleRequester = "requester" // the socket's card received a card
	RoleReceiver  = "receiver"  // the socket's card was received by someone
)

// MatchNotice is what a web client is pushed for a match. It names the
// other side by nickname only.
type MatchNotice struct {
	EventID   string    `json:"event_id"`
	Role      string    `json:"role"`
	Nickname  string    `json:"nickname"`
	Fallback  bool      `json:"fallback"`
	MatchedAt time.Time `json:"matched_at"`
}

// Registration binds a socket to the card token it is waiting on.
type Registration struct {
	Token string `json:"uuid"`
}

type ControlMessage struct {
	Type    string `json:"type"`
	Enabled *bool  `json:"enabled,omitempty"` // set-matching only
	Issuer  string `json:"issuer"`
}

// ControlReply answers a ControlMessage sent as a request.
type ControlReply struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}
