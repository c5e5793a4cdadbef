// Package wschan connects a peer to a relay over a websocket. Joining a room
// runs the relay handshake: the socket id announced on connect is exchanged
// at the authorize endpoint for a signed grant, which is then presented in
// the subscribe frame.
package wschan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"drawing-board/internal/auth"
	"drawing-board/internal/channel"
	"drawing-board/internal/identity"
	"drawing-board/internal/protocol"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	eventBuffer      = 64
)

var (
	// ErrAuthorize is returned when the authorize endpoint refuses a grant.
	ErrAuthorize = errors.New("wschan: authorize failed")
	// ErrRejected is returned when the relay refuses the subscription.
	ErrRejected = errors.New("wschan: subscription rejected")
)

// Config locates a relay.
type Config struct {
	// URL is the relay websocket endpoint, e.g. ws://host:8080/ws.
	URL string
	// AuthURL is the authorize endpoint, e.g. http://host:8080/api/auth.
	AuthURL    string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *slog.Logger
}

// Subscriber opens relay channels.
type Subscriber struct {
	cfg Config
}

// New returns a Subscriber for cfg.
func New(cfg Config) *Subscriber {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: handshakeTimeout}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Subscriber{cfg: cfg}
}

// Subscribe joins the presence channel for room as id.
func (s *Subscriber) Subscribe(ctx context.Context, room string, id identity.Identity) (channel.Channel, error) {
	ws, _, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("wschan: dial %s: %w", s.cfg.URL, err)
	}
	sub, err := s.handshake(ctx, ws, channel.PresenceName(room), id)
	if err != nil {
		ws.Close()
		return nil, err
	}

	c := &Conn{
		ws:     ws,
		logger: s.cfg.Logger.With("room", room, "socket", sub.SocketID),
		events: make(chan protocol.Event, eventBuffer),
		done:   make(chan struct{}),
	}
	c.count.Store(int64(sub.Count))
	c.events <- sub
	go c.readLoop()
	return c, nil
}

func (s *Subscriber) handshake(ctx context.Context, ws *websocket.Conn, name string, id identity.Identity) (protocol.Subscribed, error) {
	var sub protocol.Subscribed
	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.SetReadDeadline(deadline)
	defer ws.SetReadDeadline(time.Time{})

	var env protocol.Envelope
	if err := ws.ReadJSON(&env); err != nil {
		return sub, fmt.Errorf("wschan: read greeting: %w", err)
	}
	if env.Event != protocol.NameConnected {
		return sub, fmt.Errorf("wschan: unexpected greeting %q", env.Event)
	}
	var hello protocol.Connected
	if err := json.Unmarshal(env.Data, &hello); err != nil {
		return sub, fmt.Errorf("wschan: read greeting: %w", err)
	}

	grant, err := s.authorize(ctx, hello.SocketID, name, id)
	if err != nil {
		return sub, err
	}
	req, err := protocol.NewEnvelope(protocol.NameSubscribe, protocol.Subscribe{
		Channel:     name,
		Auth:        grant.Auth,
		ChannelData: grant.ChannelData,
	})
	if err != nil {
		return sub, err
	}
	_ = ws.SetWriteDeadline(deadline)
	if err := ws.WriteJSON(req); err != nil {
		return sub, fmt.Errorf("wschan: subscribe: %w", err)
	}

	env = protocol.Envelope{}
	if err := ws.ReadJSON(&env); err != nil {
		return sub, fmt.Errorf("wschan: await subscription: %w", err)
	}
	switch env.Event {
	case protocol.NameSubscribed:
		if err := json.Unmarshal(env.Data, &sub); err != nil {
			return sub, fmt.Errorf("wschan: await subscription: %w", err)
		}
		return sub, nil
	case protocol.NameError:
		var e protocol.ErrorData
		_ = json.Unmarshal(env.Data, &e)
		return sub, fmt.Errorf("%w: %d %s", ErrRejected, e.Code, e.Message)
	default:
		return sub, fmt.Errorf("wschan: unexpected frame %q during subscribe", env.Event)
	}
}

func (s *Subscriber) authorize(ctx context.Context, socketID, name string, id identity.Identity) (auth.Grant, error) {
	var grant auth.Grant
	form := url.Values{
		"socket_id":    {socketID},
		"channel_name": {name},
		"userId":       {id.ID},
		"userName":     {id.DisplayName},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return grant, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return grant, fmt.Errorf("%w: %v", ErrAuthorize, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return grant, fmt.Errorf("%w: status %d: %s", ErrAuthorize, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return grant, fmt.Errorf("%w: decode grant: %v", ErrAuthorize, err)
	}
	return grant, nil
}

// Conn is a subscribed relay channel.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger
	events chan protocol.Event
	count  atomic.Int64

	wmu       sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// Send publishes a client event.
func (c *Conn) Send(ctx context.Context, ev protocol.Event) error {
	select {
	case <-c.done:
		return channel.ErrClosed
	default:
	}
	if !strings.HasPrefix(ev.Name(), protocol.ClientPrefix) {
		return fmt.Errorf("wschan: %s is not a client event", ev.Name())
	}
	env, err := protocol.Encode(ev)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteJSON(env); err != nil {
		return fmt.Errorf("wschan: send %s: %w", ev.Name(), err)
	}
	return nil
}

// Events yields inbound events, starting with protocol.Subscribed.
func (c *Conn) Events() <-chan protocol.Event { return c.events }

// MemberCount is the last roster size reported for the room.
func (c *Conn) MemberCount() int { return int(c.count.Load()) }

// Close leaves the room. The event stream ends once the read loop exits.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.wmu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.wmu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.events)
	for {
		var env protocol.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			state := protocol.LinkError
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				state = protocol.LinkDisconnected
			}
			c.emit(protocol.StatusChanged{State: state, Reason: err.Error()})
			return
		}

		if env.Event == protocol.NameError {
			var e protocol.ErrorData
			_ = json.Unmarshal(env.Data, &e)
			if e.Code == protocol.CodeRateLimited {
				c.logger.Warn("relay throttled a client event", "message", e.Message)
				continue
			}
			c.emit(protocol.StatusChanged{State: protocol.LinkError, Reason: e.Message})
			continue
		}

		ev, err := protocol.Decode(env)
		if err != nil {
			c.logger.Warn("dropping undecodable event", "event", env.Event, "err", err)
			continue
		}
		switch e := ev.(type) {
		case protocol.MemberAdded:
			c.count.Store(int64(e.Count))
		case protocol.MemberRemoved:
			c.count.Store(int64(e.Count))
		}
		if !c.emit(ev) {
			return
		}
	}
}

func (c *Conn) emit(ev protocol.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}
