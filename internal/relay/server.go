// Package relay is a presence-channel websocket server. It admits sockets
// holding a signed grant, reports membership, and fans client events out to
// every other member of the same channel without interpreting them.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/time/rate"

	"drawing-board/internal/auth"
	"drawing-board/internal/protocol"
)

// Defaults for Options.
const (
	DefaultEventsPerSecond  = 10
	DefaultBurst            = 20
	DefaultHandshakeTimeout = 10 * time.Second
)

// Options configures a Server.
type Options struct {
	Signer           *auth.Signer
	Logger           *slog.Logger
	EventsPerSecond  float64
	Burst            int
	HandshakeTimeout time.Duration
	// MeterProvider defaults to the global provider.
	MeterProvider metric.MeterProvider
}

// Server accepts websocket connections and relays events between members of
// a channel.
type Server struct {
	hub       *Hub
	signer    *auth.Signer
	logger    *slog.Logger
	limit     rate.Limit
	burst     int
	handshake time.Duration
	upgrader  websocket.Upgrader

	connections metric.Int64UpDownCounter
	forwarded   metric.Int64Counter
	throttled   metric.Int64Counter
}

// NewServer returns a relay. A signer is required.
func NewServer(opts Options) (*Server, error) {
	if opts.Signer == nil {
		return nil, auth.ErrMissingSecret
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.EventsPerSecond <= 0 {
		opts.EventsPerSecond = DefaultEventsPerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}

	if opts.MeterProvider == nil {
		opts.MeterProvider = otel.GetMeterProvider()
	}
	meter := opts.MeterProvider.Meter("drawing-board/relay")
	connections, err := meter.Int64UpDownCounter("relay.connections",
		metric.WithDescription("Subscribed websocket connections"))
	if err != nil {
		connections = noop.Int64UpDownCounter{}
	}

	return &Server{
		hub:       NewHub(),
		signer:    opts.Signer,
		logger:    opts.Logger,
		limit:     rate.Limit(opts.EventsPerSecond),
		burst:     opts.Burst,
		handshake: opts.HandshakeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		connections: connections,
		forwarded:   counter(meter, "relay.events.forwarded", "Client events fanned out"),
		throttled:   counter(meter, "relay.events.throttled", "Client events rejected by the rate limit"),
	}, nil
}

func counter(m metric.Meter, name, desc string) metric.Int64Counter {
	c, err := m.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

// Hub exposes the room registry.
func (s *Server) Hub() *Hub { return s.hub }

// Register mounts the websocket endpoint on r.
func (s *Server) Register(r gin.IRoutes) {
	r.GET("/ws", s.HandleWebSocket)
}

type handshakeError struct {
	code int
	err  error
}

func (e *handshakeError) Error() string { return e.err.Error() }
func (e *handshakeError) Unwrap() error { return e.err }

// HandleWebSocket upgrades the request and runs the connection until it
// closes.
func (s *Server) HandleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	ctx := c.Request.Context()

	socketID := uuid.NewString()
	if err := writeFrame(conn, protocol.NameConnected, protocol.Connected{SocketID: socketID}); err != nil {
		conn.Close()
		return
	}

	sub, member, err := s.admit(conn, socketID)
	if err != nil {
		s.logger.Warn("subscription rejected", "socket", socketID, "err", err)
		code := protocol.CodeBadRequest
		var he *handshakeError
		if errors.As(err, &he) {
			code = he.code
		}
		_ = writeFrame(conn, protocol.NameError, protocol.ErrorData{Code: code, Message: err.Error()})
		conn.Close()
		return
	}

	client := &Client{
		SocketID: socketID,
		Member:   member,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		limiter:  rate.NewLimiter(s.limit, s.burst),
	}
	room, count, roster := s.hub.Join(sub.Channel, client)
	client.room = room
	s.connections.Add(ctx, 1)
	s.logger.Info("client joined room", "socket", socketID, "user", member.ID, "room", room.ID, "count", count)

	if err := writeFrame(conn, protocol.NameSubscribed, protocol.Subscribed{
		SocketID: socketID,
		Count:    count,
		Members:  roster,
	}); err != nil {
		s.logger.Warn("subscription ack failed", "socket", socketID, "err", err)
	}
	if b, err := frame(protocol.NameMemberAdded, protocol.MemberAdded{Member: member, Count: count}); err == nil {
		room.Broadcast(b, client)
	}

	go client.writePump()
	s.readPump(ctx, client)
}

// admit reads the subscribe frame and verifies its grant.
func (s *Server) admit(conn *websocket.Conn, socketID string) (protocol.Subscribe, protocol.Member, error) {
	var sub protocol.Subscribe
	_ = conn.SetReadDeadline(time.Now().Add(s.handshake))
	defer conn.SetReadDeadline(time.Time{})

	var env protocol.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		return sub, protocol.Member{}, &handshakeError{protocol.CodeBadRequest, fmt.Errorf("read subscribe: %w", err)}
	}
	if env.Event != protocol.NameSubscribe {
		return sub, protocol.Member{}, &handshakeError{protocol.CodeBadRequest, fmt.Errorf("expected %s, got %q", protocol.NameSubscribe, env.Event)}
	}
	if err := json.Unmarshal(env.Data, &sub); err != nil || sub.Channel == "" {
		return sub, protocol.Member{}, &handshakeError{protocol.CodeBadRequest, errors.New("malformed subscribe payload")}
	}
	member, err := s.signer.Verify(sub.Auth, socketID, sub.Channel)
	if err != nil {
		return sub, protocol.Member{}, &handshakeError{protocol.CodeUnauthorized, err}
	}
	return sub, member, nil
}

// readPump forwards client events from the connection to the room.
func (s *Server) readPump(ctx context.Context, c *Client) {
	defer func() {
		c.close()
		c.conn.Close()
		n := s.hub.Leave(c.room, c)
		s.connections.Add(ctx, -1)
		if b, err := frame(protocol.NameMemberRemoved, protocol.MemberRemoved{Member: c.Member, Count: n}); err == nil {
			c.room.Broadcast(b, c)
		}
		s.logger.Info("client left room", "socket", c.SocketID, "user", c.Member.ID, "room", c.room.ID, "count", n)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket error", "socket", c.SocketID, "err", err)
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			s.logger.Debug("malformed frame", "socket", c.SocketID, "err", err)
			continue
		}
		if !strings.HasPrefix(env.Event, protocol.ClientPrefix) {
			s.reply(c, protocol.CodeBadRequest, "only client events may be published")
			continue
		}
		if !c.limiter.Allow() {
			s.throttled.Add(ctx, 1)
			s.reply(c, protocol.CodeRateLimited, "client event rate limit exceeded")
			continue
		}

		env.UserID = c.Member.ID
		env.Channel = c.room.ID
		out, err := json.Marshal(env)
		if err != nil {
			continue
		}
		s.forwarded.Add(ctx, 1, metric.WithAttributes(attribute.String("event", env.Event)))
		c.room.Broadcast(out, c)
	}
}

func (s *Server) reply(c *Client, code int, message string) {
	b, err := frame(protocol.NameError, protocol.ErrorData{Code: code, Message: message})
	if err != nil {
		return
	}
	if !c.enqueue(b) {
		s.logger.Debug("error frame dropped", "socket", c.SocketID, "code", code)
	}
}

func frame(name string, payload any) ([]byte, error) {
	env, err := protocol.NewEnvelope(name, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func writeFrame(conn *websocket.Conn, name string, payload any) error {
	b, err := frame(name, payload)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
