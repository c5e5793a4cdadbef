// Package redischan runs board channels over Redis pub/sub. Events travel as
// msgpack packets on one topic per room and presence is a hash of live
// connections, so every subscriber, the sender included, sees every publish.
package redischan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"drawing-board/internal/channel"
	"drawing-board/internal/identity"
	"drawing-board/internal/protocol"
)

const (
	keyPrefix   = "board:"
	presenceTTL = 24 * time.Hour
	eventBuffer = 64
)

// joinScript registers a connection and returns the roster atomically.
// KEYS[1] = presence hash, ARGV[1] = connection token, ARGV[2] = member,
// ARGV[3] = ttl in seconds.
var joinScript = redis.NewScript(`
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
redis.call("EXPIRE", KEYS[1], ARGV[3])
return redis.call("HVALS", KEYS[1])
`)

// leaveScript drops a connection and returns the remaining count.
var leaveScript = redis.NewScript(`
redis.call("HDEL", KEYS[1], ARGV[1])
return redis.call("HLEN", KEYS[1])
`)

// Subscriber opens channels on a Redis server.
type Subscriber struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// New returns a Subscriber using client.
func New(client redis.UniversalClient, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{client: client, logger: logger}
}

// Topic is the pub/sub channel for room.
func Topic(room string) string { return keyPrefix + room }

func presenceKey(room string) string { return keyPrefix + room + ":members" }

// Subscribe joins room as id.
func (s *Subscriber) Subscribe(ctx context.Context, room string, id identity.Identity) (channel.Channel, error) {
	ps := s.client.Subscribe(ctx, Topic(room))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redischan: subscribe %s: %w", Topic(room), err)
	}

	me := protocol.Member{ID: id.ID, Name: id.DisplayName}
	encoded, err := msgpack.Marshal(me)
	if err != nil {
		ps.Close()
		return nil, err
	}
	token := uuid.NewString()
	vals, err := joinScript.Run(ctx, s.client, []string{presenceKey(room)},
		token, encoded, int(presenceTTL.Seconds())).StringSlice()
	if err != nil {
		ps.Close()
		return nil, fmt.Errorf("redischan: join presence: %w", err)
	}
	roster := make([]protocol.Member, 0, len(vals))
	for _, v := range vals {
		var m protocol.Member
		if err := msgpack.Unmarshal([]byte(v), &m); err != nil {
			s.logger.Warn("skipping malformed presence entry", "room", room, "err", err)
			continue
		}
		roster = append(roster, m)
	}

	c := &Conn{
		client: s.client,
		ps:     ps,
		room:   room,
		token:  token,
		self:   me,
		logger: s.logger.With("room", room, "socket", token),
		events: make(chan protocol.Event, eventBuffer),
		done:   make(chan struct{}),
	}
	c.count.Store(int64(len(vals)))
	c.events <- protocol.Subscribed{SocketID: token, Count: len(vals), Members: roster}
	if err := c.publish(ctx, protocol.MemberAdded{Member: me, Count: len(vals)}); err != nil {
		c.logger.Warn("announce join failed", "err", err)
	}
	go c.readLoop()
	return c, nil
}

// Conn is one subscription to a room topic.
type Conn struct {
	client redis.UniversalClient
	ps     *redis.PubSub
	room   string
	token  string
	self   protocol.Member
	logger *slog.Logger
	events chan protocol.Event
	count  atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

func (c *Conn) publish(ctx context.Context, ev protocol.Event) error {
	b, err := protocol.MarshalPacket(c.token, ev)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, Topic(c.room), b).Err()
}

// Send publishes ev to every subscriber of the room.
func (c *Conn) Send(ctx context.Context, ev protocol.Event) error {
	select {
	case <-c.done:
		return channel.ErrClosed
	default:
	}
	if err := c.publish(ctx, ev); err != nil {
		return fmt.Errorf("redischan: send %s: %w", ev.Name(), err)
	}
	return nil
}

// Events yields inbound events, starting with protocol.Subscribed.
func (c *Conn) Events() <-chan protocol.Event { return c.events }

// MemberCount is the last roster size reported for the room.
func (c *Conn) MemberCount() int { return int(c.count.Load()) }

// Close removes this connection from presence and ends the subscription.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		n, lerr := leaveScript.Run(ctx, c.client, []string{presenceKey(c.room)}, c.token).Int()
		if lerr != nil {
			c.logger.Warn("leave presence failed", "err", lerr)
		} else if perr := c.publish(ctx, protocol.MemberRemoved{Member: c.self, Count: n}); perr != nil {
			c.logger.Warn("announce leave failed", "err", perr)
		}
		err = c.ps.Close()
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.events)
	for msg := range c.ps.Channel() {
		sender, ev, err := protocol.UnmarshalPacket([]byte(msg.Payload))
		if err != nil {
			c.logger.Warn("dropping undecodable packet", "err", err)
			continue
		}
		switch e := ev.(type) {
		case protocol.MemberAdded:
			if sender == c.token {
				continue
			}
			c.count.Store(int64(e.Count))
		case protocol.MemberRemoved:
			if sender == c.token {
				continue
			}
			c.count.Store(int64(e.Count))
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
	select {
	case <-c.done:
	default:
		select {
		case c.events <- protocol.StatusChanged{State: protocol.LinkDisconnected, Reason: "subscription ended"}:
		case <-c.done:
		}
	}
}
