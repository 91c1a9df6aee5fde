package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/avvvet/wishcard-services/internal/comm"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

type Recorder interface {
	Record(ctx context.Context, ev comm.MatchEvent) (bool, error)
}

type Broker struct {
	Conn     *nats.Conn
	Recorder Recorder
}

func NewBroker(conn *nats.Conn, recorder Recorder) *Broker {
	return &Broker{
		Conn:     conn,
		Recorder: recorder,
	}
}

// QueueSubscribe consumes match events; each event reaches one archive instance.
func (b *Broker) QueueSubscribe(topic, queue string) (*nats.Subscription, error) {
	sub, err := b.Conn.QueueSubscribe(topic, queue, b.handleMessages)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (b *Broker) handleMessages(msgNats *nats.Msg) {
	message := &comm.WSMessage{}
	if err := json.Unmarshal(msgNats.Data, &message); err != nil {
		log.Errorf("Error %s", err)
		return
	}

	switch message.Type {
	case comm.TypeCardMatched:
		b.archive(message)
	default:
		log.Debugf("ignoring message %s", message.Type)
	}
}

func (b *Broker) archive(m *comm.WSMessage) {
	ev := comm.MatchEvent{}
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		log.Errorf("Error match event %s", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inserted, err := b.Recorder.Record(ctx, ev)
	if err != nil {
		log.Errorf("Error [Recorder.Record] event %s: %s", ev.EventID, err)
		return
	}
	if !inserted {
		log.Debugf("match event %s already archived", ev.EventID)
	}
}
