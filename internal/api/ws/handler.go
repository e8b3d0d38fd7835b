package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/microhost/internal/domain/bus"
	"github.com/GriffinCanCode/microhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/microhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/microhost/internal/shared/types"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev
	},
}

// Message is the frame exchanged in both directions. An empty Channel
// addresses the global channel.
type Message struct {
	Type      string      `json:"type"`
	Channel   string      `json:"channel,omitempty"`
	Event     string      `json:"event,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

// Handler bridges bus channels to WebSocket clients
type Handler struct {
	events  *bus.EventCenter
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewHandler creates a new WebSocket handler
func NewHandler(events *bus.EventCenter, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		events: events,
		logger: logger.Named("ws"),
	}
}

// WithMetrics adds connection tracking
func (h *Handler) WithMetrics(metrics *monitoring.Metrics) *Handler {
	h.metrics = metrics
	return h
}

// HandleConnection handles WebSocket upgrade and messages
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	s := newSession(conn, h.logger)
	go s.writeLoop()
	defer s.close()

	s.send(Message{Type: "system", Message: "connected"})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := sonic.Unmarshal(data, &msg); err != nil {
			s.sendError("malformed message")
			continue
		}
		h.dispatch(s, msg)
	}
}

func (h *Handler) dispatch(s *session, msg Message) {
	switch msg.Type {
	case "subscribe":
		ch, ok := h.channel(msg.Channel)
		if !ok {
			s.sendError("invalid channel")
			return
		}
		event := eventName(msg.Event)
		s.subscribe(ch, event)
	case "unsubscribe":
		s.unsubscribe(channelKey(msg.Channel), eventName(msg.Event))
	case "publish":
		ch, ok := h.channel(msg.Channel)
		if !ok {
			s.sendError("invalid channel")
			return
		}
		event := eventName(msg.Event)
		ch.Publish(event, msg.Data)
		s.send(Message{Type: "published", Channel: ch.Name(), Event: event})
	case "ping":
		s.send(Message{Type: "pong"})
	default:
		s.sendError("unknown message type")
	}
}

func (h *Handler) channel(name string) (*bus.Channel, bool) {
	if name == "" || name == bus.GlobalChannel {
		return h.events.Global(), true
	}
	normalized := types.FormatAppName(name)
	if normalized == "" {
		return nil, false
	}
	return h.events.Channel(normalized), true
}

func channelKey(name string) string {
	if name == "" {
		return bus.GlobalChannel
	}
	if name == bus.GlobalChannel {
		return name
	}
	return types.FormatAppName(name)
}

func eventName(event string) string {
	if event == "" {
		return bus.DataEvent
	}
	return event
}

// session is one client connection and its subscriptions
type session struct {
	conn   *websocket.Conn
	logger *logging.Logger
	out    chan Message
	done   chan struct{}

	mu   sync.Mutex
	subs map[string]bus.Unsubscribe // Protected by mu
	once sync.Once
}

func newSession(conn *websocket.Conn, logger *logging.Logger) *session {
	return &session{
		conn:   conn,
		logger: logger,
		out:    make(chan Message, sendBuffer),
		done:   make(chan struct{}),
		subs:   make(map[string]bus.Unsubscribe),
	}
}

func (s *session) subscribe(ch *bus.Channel, event string) {
	key := ch.Name() + "/" + event
	s.mu.Lock()
	if _, exists := s.subs[key]; exists {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	channel := ch.Name()
	unsub := ch.Subscribe(event, func(data interface{}) {
		s.send(Message{Type: "event", Channel: channel, Event: event, Data: data})
	})

	s.mu.Lock()
	s.subs[key] = unsub
	s.mu.Unlock()
	s.send(Message{Type: "subscribed", Channel: channel, Event: event})
}

func (s *session) unsubscribe(channel, event string) {
	key := channel + "/" + event
	s.mu.Lock()
	unsub, ok := s.subs[key]
	delete(s.subs, key)
	s.mu.Unlock()
	if ok {
		unsub()
	}
}

// send queues msg without blocking the publisher. Frames are dropped
// when the client falls behind.
func (s *session) send(msg Message) {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}
	select {
	case <-s.done:
	case s.out <- msg:
	default:
		s.logger.Warn("WebSocket client too slow, dropping frame",
			zap.String("type", msg.Type),
			zap.String("event", msg.Event),
		)
	}
}

func (s *session) sendError(message string) {
	s.send(Message{Type: "error", Message: message})
}

func (s *session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.out:
			data, err := sonic.Marshal(msg)
			if err != nil {
				s.logger.Warn("Failed to encode frame", zap.Error(err))
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		subs := s.subs
		s.subs = make(map[string]bus.Unsubscribe)
		s.mu.Unlock()
		for _, unsub := range subs {
			unsub()
		}
		_ = s.conn.Close()
	})
}
