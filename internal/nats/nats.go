package nats

import (
	"os"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

const defaultUrl = "nats://localhost:4222"

type Nats struct {
	Url   string
	Token string
	Conn  *nats.Conn
}

// Options builds the connection options for a service. A token is added
// only when one is configured.
func Options(service, token string) []nats.Option {
	opts := []nats.Option{
		nats.Name(service + " service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("[nats] disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
	}

	// if token provided
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	return opts
}

func Connect(service string) (*Nats, error) {
	n := &Nats{
		Url:   os.Getenv("NATS_URL"),
		Token: os.Getenv("NATS_TOKEN"),
	}

	if n.Url == "" {
		n.Url = defaultUrl
	}

	conn, err := nats.Connect(n.Url, Options(service, n.Token)...)
	if err != nil {
		return nil, err
	}

	n.Conn = conn

	return n, nil
}
