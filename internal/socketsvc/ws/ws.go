package ws

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/avvvet/wishcard-services/internal/comm"
	"github.com/avvvet/wishcard-services/internal/socketsvc/broker"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Client serializes writes to one websocket connection.
type Client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *Client) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

type Ws struct {
	connMap  sync.Map // socketId -> *Client
	tokenMap sync.Map // socketId -> card token the socket waits on
}

func NewWs() *Ws {
	return &Ws{}
}

// handle socket message from web clients
func (s *Ws) SocketMessage(socketId string, message *comm.WSMessage) {
	switch message.Type {
	case comm.TypeRegister:
		s.handleRegister(socketId, message)
	default:
		log.Warnf("unknown event received: %s", message.Type)
	}
}

func (s *Ws) handleRegister(socketId string, msg *comm.WSMessage) {
	var payload comm.Registration
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		log.Errorf("Error: invalid register payload %s", err)
		s.reply(socketId, "error", map[string]string{"error": "invalid register payload"})
		return
	}

	token := strings.TrimSpace(payload.Token)
	if token == "" {
		s.reply(socketId, "error", map[string]string{"error": "uuid is required"})
		return
	}

	s.tokenMap.Store(socketId, token)
	log.Infof("socket %s registered for card %s", socketId, token)

	s.reply(socketId, "register-response", map[string]string{"uuid": token})
}

func (s *Ws) reply(socketId, typ string, data interface{}) {
	client, ok := s.GetConnection(socketId)
	if !ok {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		log.Errorf("Failed to marshal %s reply: %v", typ, err)
		return
	}
	msg := &comm.WSMessage{Type: typ, Data: raw, SocketId: socketId}
	if err := client.WriteJSON(msg); err != nil {
		log.Errorf("Failed to write %s to socket %s: %v", typ, socketId, err)
	}
}

func (s *Ws) StoreConnection(socketId string, conn *websocket.Conn) {
	s.connMap.Store(socketId, &Client{conn: conn})
}

func (s *Ws) GetConnection(socketId string) (*Client, bool) {
	c, ok := s.connMap.Load(socketId)
	if !ok {
		return nil, false
	}
	return c.(*Client), true
}

func (s *Ws) GetSender(socketId string) (broker.Sender, bool) {
	c, ok := s.GetConnection(socketId)
	if !ok {
		return nil, false
	}
	return c, true
}

// GetTokenSockets returns every socket registered for token.
func (s *Ws) GetTokenSockets(token string) ([]string, bool) {
	var sockets []string

	s.tokenMap.Range(func(key, value interface{}) bool {
		if value.(string) == token {
			sockets = append(sockets, key.(string))
		}
		return true // continue iterating
	})

	return sockets, len(sockets) > 0
}

func (s *Ws) HandleDisconnect(socketId string) {
	s.connMap.Delete(socketId)
	s.tokenMap.Delete(socketId)
}
