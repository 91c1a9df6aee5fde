package broker

import (
	"encoding/json"

	"github.com/avvvet/wishcard-services/internal/comm"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// Sender writes a message to one socket.
type Sender interface {
	WriteJSON(v interface{}) error
}

type Broker struct {
	Conn            *nats.Conn
	GetSender       func(string) (Sender, bool)
	GetTokenSockets func(string) ([]string, bool)
}

func NewBroker(conn *nats.Conn, fncGetSender func(string) (Sender, bool), fncGetTokenSockets func(string) ([]string, bool)) *Broker {
	return &Broker{
		Conn:            conn,
		GetSender:       fncGetSender,
		GetTokenSockets: fncGetTokenSockets,
	}
}

// consume match events from card service
func (b *Broker) Subscribe(topic string) (*nats.Subscription, error) {
	sub, err := b.Conn.Subscribe(topic, b.handleMessages)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

// handleMessages receive message from card service
func (b *Broker) handleMessages(msgNats *nats.Msg) {
	message := &comm.WSMessage{}
	if err := json.Unmarshal(msgNats.Data, &message); err != nil {
		log.Errorf("Error %s", err)
		return
	}

	switch message.Type {
	case comm.TypeCardMatched:
		b.deliverMatch(message)
	default:
		log.Errorf("Unknown message %s", message.Type)
	}
}

// deliverMatch pushes a notice to the requester and to the owner of the
// partner card. The system card has no owner. Tokens only select sockets;
// each side is told the other's nickname.
func (b *Broker) deliverMatch(m *comm.WSMessage) int {
	ev := comm.MatchEvent{}
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		log.Errorf("Error match event %s", err)
		return 0
	}

	sent := b.deliver(ev.RequesterToken, comm.MatchNotice{
		EventID:   ev.EventID,
		Role:      comm.RoleRequester,
		Nickname:  ev.PartnerNickname,
		Fallback:  ev.Fallback,
		MatchedAt: ev.MatchedAt,
	})
	if !ev.Fallback && ev.PartnerToken != ev.RequesterToken {
		sent += b.deliver(ev.PartnerToken, comm.MatchNotice{
			EventID:   ev.EventID,
			Role:      comm.RoleReceiver,
			Nickname:  ev.RequesterNickname,
			MatchedAt: ev.MatchedAt,
		})
	}
	return sent
}

func (b *Broker) deliver(token string, notice comm.MatchNotice) int {
	if token == "" {
		return 0
	}
	sockets, ok := b.GetTokenSockets(token)
	if !ok {
		return 0
	}

	data, err := json.Marshal(notice)
	if err != nil {
		log.Errorf("Error marshal match notice %s", err)
		return 0
	}

	sent := 0
	for _, socketId := range sockets {
		if b.sendMessage(socketId, &comm.WSMessage{Type: comm.TypeCardMatched, Data: data}) {
			sent++
		}
	}
	return sent
}

// send socket message to the web client
func (b *Broker) sendMessage(socketId string, m *comm.WSMessage) bool {
	conn, ok := b.GetSender(socketId)
	if !ok {
		return false
	}
	m.SocketId = socketId
	if err := conn.WriteJSON(m); err != nil {
		log.Errorf("Error writing to socket %s: %s", socketId, err)
		return false
	}
	return true
}
