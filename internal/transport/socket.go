package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ROMARIC12/chat-sync/internal/models"
)

// Envelope is the wire format on the upstream socket channel: a named event
// with a JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handlers receives upstream push events. All callbacks fire from the single
// read loop, one at a time, in arrival order.
type Handlers struct {
	OnMessage      func(models.Message)
	OnDeleted      func(key models.ConversationKey, messageID string)
	OnPresence     func(userID string, online bool)
	OnAvatar       func(userID, newAvatar string)
	OnBlocked      func(blockerID, blockedID, action string)
	OnStateChanged func(connected bool)
}

var ErrDisconnected = errors.New("socket not connected")

// Socket maintains the persistent bidirectional channel to the upstream
// backend. It reconnects with backoff and replays join subscriptions after
// every reconnect, so registration is idempotent from the caller's view.
type Socket struct {
	url      string
	selfID   string
	log      *zap.SugaredLogger
	limiter  *rate.Limiter
	handlers Handlers

	mu    sync.Mutex
	conn  *websocket.Conn
	rooms map[string]struct{}
}

type SocketConfig struct {
	URL    string
	SelfID string
	// MaxEventsPerSec bounds the inbound event rate; zero means 64.
	MaxEventsPerSec int
	Logger          *zap.SugaredLogger
}

func NewSocket(cfg SocketConfig, h Handlers) *Socket {
	if cfg.MaxEventsPerSec == 0 {
		cfg.MaxEventsPerSec = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Socket{
		url:      cfg.URL,
		selfID:   cfg.SelfID,
		log:      cfg.Logger,
		limiter:  rate.NewLimiter(rate.Limit(cfg.MaxEventsPerSec), cfg.MaxEventsPerSec),
		handlers: h,
		rooms:    make(map[string]struct{}),
	}
}

// Run dials and serves the connection until ctx is done, redialing with
// exponential backoff after every drop.
func (s *Socket) Run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0 // keep retrying for the life of the process
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
		if err != nil {
			wait := b.NextBackOff()
			s.log.Warnw("socket dial failed", "url", s.url, "retry_in", wait, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		b.Reset()
		s.attach(conn)
		s.readLoop(ctx, conn)
		s.detach(conn)
	}
}

func (s *Socket) attach(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	rooms := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.Unlock()

	s.log.Infow("socket connected", "url", s.url)
	if s.handlers.OnStateChanged != nil {
		s.handlers.OnStateChanged(true)
	}
	// announce ourselves, then re-join every room we were in
	_ = s.Emit("join", s.selfID)
	for _, r := range rooms {
		_ = s.Emit("joinRoom", r)
	}
}

func (s *Socket) detach(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	_ = conn.Close()
	if s.handlers.OnStateChanged != nil {
		s.handlers.OnStateChanged(false)
	}
}

func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn) {
	const pongWait = 60 * time.Second
	conn.SetReadLimit(64 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go s.pingLoop(ctx, conn, stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.log.Warnw("socket read ended", "error", err)
			return
		}
		// backpressure, not loss: bursts above the limit slow the read
		// loop down instead of discarding frames
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		s.dispatch(env)
	}
}

func (s *Socket) pingLoop(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-stop:
			return
		case <-ctx.Done():
			_ = conn.Close()
			return
		}
	}
}

type groupPayload struct {
	ID        string           `json:"_id,omitempty"`
	ClientID  string           `json:"clientId,omitempty"`
	RoomID    string           `json:"roomId"`
	From      string           `json:"from"`
	Text      string           `json:"text,omitempty"`
	Message   string           `json:"message,omitempty"`
	Timestamp string           `json:"timestamp"`
	Type      models.Kind      `json:"type,omitempty"`
	MediaType models.MediaType `json:"mediaType,omitempty"`
	SavedBy   []string         `json:"savedBy,omitempty"`
}

func (s *Socket) dispatch(env Envelope) {
	switch env.Event {
	case "receiveMessage":
		var m models.Message
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return
		}
		if s.handlers.OnMessage != nil {
			s.handlers.OnMessage(m)
		}
	case "receiveGroupMessage":
		var p groupPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		body := p.Text
		if body == "" {
			body = p.Message
		}
		m := models.Message{
			ID: p.ID, ClientID: p.ClientID, RoomID: p.RoomID, From: p.From,
			Body: body, RawTimestamp: p.Timestamp, Kind: p.Type,
			MediaType: p.MediaType, SavedBy: p.SavedBy,
		}
		if s.handlers.OnMessage != nil {
			s.handlers.OnMessage(m)
		}
	case "privateMessageDeleted":
		var p struct {
			MessageID string `json:"messageId"`
		}
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if s.handlers.OnDeleted != nil {
			s.handlers.OnDeleted("", p.MessageID)
		}
	case "groupMessageDeleted":
		var p struct {
			MessageID string `json:"messageId"`
			RoomID    string `json:"roomId"`
		}
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		var key models.ConversationKey
		if p.RoomID != "" {
			key = models.RoomKey(p.RoomID)
		}
		if s.handlers.OnDeleted != nil {
			s.handlers.OnDeleted(key, p.MessageID)
		}
	case "userOnline", "userOffline":
		var userID string
		if err := json.Unmarshal(env.Data, &userID); err != nil {
			return
		}
		if s.handlers.OnPresence != nil {
			s.handlers.OnPresence(userID, env.Event == "userOnline")
		}
	case "userAvatarUpdated":
		var p struct {
			UserID    string `json:"userId"`
			NewAvatar string `json:"newAvatar"`
		}
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if s.handlers.OnAvatar != nil {
			s.handlers.OnAvatar(p.UserID, p.NewAvatar)
		}
	case "userBlocked":
		var p struct {
			BlockerID string `json:"blockerId"`
			BlockedID string `json:"blockedId"`
			Action    string `json:"action"`
		}
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if s.handlers.OnBlocked != nil {
			s.handlers.OnBlocked(p.BlockerID, p.BlockedID, p.Action)
		}
	default:
		// unknown events are ignored
	}
}

// Emit sends one named event. Fire-and-forget: no request/response
// correlation exists on this channel.
func (s *Socket) Emit(event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(Envelope{Event: event, Data: b})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrDisconnected
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// JoinRoom subscribes to a group room. The subscription survives reconnects.
func (s *Socket) JoinRoom(roomID string) error {
	s.mu.Lock()
	s.rooms[roomID] = struct{}{}
	s.mu.Unlock()
	return s.Emit("joinRoom", roomID)
}

// LeaveRoom drops a group room subscription.
func (s *Socket) LeaveRoom(roomID string) error {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
	return s.Emit("leaveRoom", roomID)
}

// Connected reports whether the channel is currently up.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}
