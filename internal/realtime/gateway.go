package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/auth"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	pongWait       = 70 * time.Second
	maxClientFrame = 4096
)

// TokenVerifier resolves a bearer token into the calling principal.
type TokenVerifier interface {
	Verify(raw string) (*auth.Principal, error)
}

// ConversationOwner returns the client that owns a conversation.
type ConversationOwner func(ctx context.Context, conversationID string) (string, error)

// Authorizer decides whether a principal may listen on a channel.
type Authorizer struct {
	conversationOwner ConversationOwner
}

func NewAuthorizer(owner ConversationOwner) *Authorizer {
	return &Authorizer{conversationOwner: owner}
}

var errChannelDenied = errors.New("channel access denied")

// Authorize allows superadmins everywhere, tenant members on their client's
// channels, and users on their own notification channel.
func (a *Authorizer) Authorize(ctx context.Context, p auth.Principal, channel string) error {
	if p.IsSuperAdmin() {
		return nil
	}

	switch {
	case strings.HasPrefix(channel, "notifications:"):
		if strings.TrimPrefix(channel, "notifications:") == p.UserID {
			return nil
		}
	case strings.HasPrefix(channel, "client:"):
		parts := strings.SplitN(channel, ":", 3)
		if len(parts) == 3 && p.CanAccessClient(parts[1]) {
			return nil
		}
	case strings.HasPrefix(channel, "instance:"):
		parts := strings.SplitN(channel, ":", 3)
		if len(parts) == 3 && p.CanAccessClient(parts[1]) {
			return nil
		}
	case strings.HasPrefix(channel, "conversation:"):
		if a.conversationOwner == nil {
			break
		}
		clientID, err := a.conversationOwner(ctx, strings.TrimPrefix(channel, "conversation:"))
		if err == nil && p.CanAccessClient(clientID) {
			return nil
		}
	}
	return errChannelDenied
}

type clientCommand struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

type serverFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Event   *Event `json:"event,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Gateway upgrades browser connections and bridges them onto the manager.
type Gateway struct {
	manager    *Manager
	tokens     TokenVerifier
	authorizer *Authorizer
	log        logger.Logger
	upgrader   websocket.Upgrader
	sendBuffer int
}

func NewGateway(manager *Manager, tokens TokenVerifier, authorizer *Authorizer, allowedOrigins []string, sendBuffer int, log logger.Logger) *Gateway {
	if sendBuffer <= 0 {
		sendBuffer = 128
	}
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}
	return &Gateway{
		manager:    manager,
		tokens:     tokens,
		authorizer: authorizer,
		log:        logger.WithComponent(log, "realtime.gateway"),
		sendBuffer: sendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(origins) == 0 {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
	}
}

// Handle serves GET /api/realtime/ws.
func (g *Gateway) Handle(c *gin.Context) {
	raw := c.Query("token")
	if raw == "" {
		raw = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	principal, err := g.tokens.Verify(raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "UNAUTHORIZED", "message": "invalid token"}})
		return
	}

	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Warn("Websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	conn := newConnection(ws, g.sendBuffer)
	session := &session{
		gateway:   g,
		conn:      conn,
		principal: *principal,
		subs:      make(map[string]*Subscription),
	}
	go conn.writeLoop()
	session.readLoop(c.Request.Context())
}

type session struct {
	gateway   *Gateway
	conn      *connection
	principal auth.Principal

	mu   sync.Mutex
	subs map[string]*Subscription
}

func (s *session) readLoop(ctx context.Context) {
	defer s.close()

	ws := s.conn.ws
	ws.SetReadLimit(maxClientFrame)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd clientCommand
		if err := ws.ReadJSON(&cmd); err != nil {
			return
		}
		switch cmd.Action {
		case "subscribe":
			s.subscribe(ctx, cmd.Channel)
		case "unsubscribe":
			s.unsubscribe(cmd.Channel)
		default:
			s.reply(serverFrame{Type: "error", Error: "unknown action"})
		}
	}
}

func (s *session) subscribe(ctx context.Context, channel string) {
	if err := s.gateway.authorizer.Authorize(ctx, s.principal, channel); err != nil {
		s.reply(serverFrame{Type: "error", Channel: channel, Error: err.Error()})
		return
	}

	s.mu.Lock()
	_, already := s.subs[channel]
	s.mu.Unlock()
	if already {
		s.reply(serverFrame{Type: "subscribed", Channel: channel})
		return
	}

	sub, err := s.gateway.manager.Subscribe(ctx, channel, func(ev Event) {
		s.reply(serverFrame{Type: "event", Channel: ev.Channel, Event: &ev})
	})
	if err != nil {
		s.reply(serverFrame{Type: "error", Channel: channel, Error: "subscribe failed"})
		return
	}

	s.mu.Lock()
	if _, dup := s.subs[channel]; dup {
		s.mu.Unlock()
		sub.Unsubscribe()
	} else {
		s.subs[channel] = sub
		s.mu.Unlock()
		go s.watch(sub)
	}
	s.reply(serverFrame{Type: "subscribed", Channel: channel})
}

// watch tells the browser when the manager ends a subscription on its own.
func (s *session) watch(sub *Subscription) {
	select {
	case <-sub.Done():
	case <-s.conn.closed:
		return
	}
	s.mu.Lock()
	current, ok := s.subs[sub.Channel()]
	if ok && current == sub {
		delete(s.subs, sub.Channel())
	}
	s.mu.Unlock()
	if ok && current == sub {
		s.reply(serverFrame{Type: "unsubscribed", Channel: sub.Channel()})
	}
}

func (s *session) unsubscribe(channel string) {
	s.mu.Lock()
	sub, ok := s.subs[channel]
	delete(s.subs, channel)
	s.mu.Unlock()
	if ok {
		sub.Unsubscribe()
	}
}

func (s *session) reply(frame serverFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	_ = s.conn.send(data)
}

func (s *session) close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]*Subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	s.conn.close(websocket.CloseNormalClosure, "bye")
}

// connection serializes writes to one websocket through a bounded queue.
type connection struct {
	ws       *websocket.Conn
	outbound chan []byte
	closed   chan struct{}
	once     sync.Once
}

func newConnection(ws *websocket.Conn, buffer int) *connection {
	return &connection{
		ws:       ws,
		outbound: make(chan []byte, buffer),
		closed:   make(chan struct{}),
	}
}

var errSlowConsumer = errors.New("connection buffer exceeded")

// send enqueues payload. A full queue closes the connection.
func (c *connection) send(payload []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	select {
	case c.outbound <- payload:
		return nil
	default:
		c.close(websocket.CloseGoingAway, "send buffer full")
		return errSlowConsumer
	}
}

func (c *connection) close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.outbound:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}
