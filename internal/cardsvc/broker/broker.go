package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avvvet/wishcard-services/internal/cardsvc/service"
	"github.com/avvvet/wishcard-services/internal/comm"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subj string, data []byte) error
}

type Flusher interface {
	Flush(ctx context.Context) error
}

type Broker struct {
	Conn        *nats.Conn
	pub         Publisher
	CardService *service.CardService
	Flusher     Flusher
}

func NewBroker(nc *nats.Conn, cardService *service.CardService, flusher Flusher) *Broker {
	b := &Broker{
		Conn:        nc,
		CardService: cardService,
		Flusher:     flusher,
	}
	if nc != nil {
		b.pub = nc
	}
	return b
}

// NotifyMatch publishes a card-matched message for socket and archive services.
func (b *Broker) NotifyMatch(ctx context.Context, ev comm.MatchEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal match event: %w", err)
	}

	msg := &comm.WSMessage{
		Type: comm.TypeCardMatched,
		Data: data,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return b.Publish(comm.SubjectCardService, payload)
}

// consume operator commands
func (b *Broker) SubscribeControl(topic string) (*nats.Subscription, error) {
	sub, err := b.Conn.Subscribe(topic, b.handleControl)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (b *Broker) handleControl(msgNat *nats.Msg) {
	reply := b.applyControl(msgNat.Data)

	if msgNat.Reply == "" {
		return
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		log.Errorf("Error marshal control reply %s", err)
		return
	}
	if err := msgNat.Respond(payload); err != nil {
		log.Errorf("Error responding to control message %s", err)
	}
}

func (b *Broker) applyControl(data []byte) comm.ControlReply {
	msg := comm.ControlMessage{}
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Errorf("Error control message %s", err)
		return comm.ControlReply{Message: "invalid control message"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Infof("[ctl] %s from %s", msg.Type, msg.Issuer)

	switch msg.Type {
	case comm.TypeSetMatching:
		if msg.Enabled == nil {
			return comm.ControlReply{Message: "enabled is required"}
		}
		if err := b.CardService.SetMatchingEnabled(ctx, *msg.Enabled); err != nil {
			log.Errorf("Error [CardService.SetMatchingEnabled] %s", err)
			return comm.ControlReply{Message: err.Error()}
		}
		return comm.ControlReply{OK: true, Message: fmt.Sprintf("matching enabled = %t", *msg.Enabled)}
	case comm.TypeReloadDict:
		n, err := b.CardService.ReloadDictionary()
		if err != nil {
			log.Errorf("Error [CardService.ReloadDictionary] %s", err)
			return comm.ControlReply{Message: err.Error()}
		}
		return comm.ControlReply{OK: true, Message: fmt.Sprintf("dictionary reloaded, %d words", n)}
	case comm.TypeFlush:
		if err := b.Flusher.Flush(ctx); err != nil {
			log.Errorf("Error [Flusher.Flush] %s", err)
			return comm.ControlReply{Message: err.Error()}
		}
		return comm.ControlReply{OK: true, Message: "flushed"}
	default:
		return comm.ControlReply{Message: "unknown command " + msg.Type}
	}
}

func (b *Broker) Publish(topic string, payload []byte) error {
	if b.pub == nil {
		return fmt.Errorf("no nats connection")
	}
	err := b.pub.Publish(topic, payload)
	if err != nil {
		log.Errorf("Error publishing to topic %s: %s", topic, err)
		return err
	}

	return nil
}
