// Package peer runs the replicated canvas of one participant: local and
// remote command application, outbound batching and the late-joiner sync
// protocol, all driven from a single event loop.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"drawing-board/internal/canvas"
	"drawing-board/internal/channel"
	"drawing-board/internal/identity"
	"drawing-board/internal/protocol"
)

var (
	// ErrStopped is returned by operations submitted once the peer has
	// started leaving the room.
	ErrStopped = errors.New("peer: stopped")
	// ErrChannelClosed is returned by Run when the channel ends the event
	// stream.
	ErrChannelClosed = errors.New("peer: channel closed")
	// ErrStarted is returned by Run or Join on a peer that was already
	// started once.
	ErrStarted = errors.New("peer: already started")
)

// Defaults for Config and Style, and the accepted brush size range.
const (
	DefaultFlushInterval = 120 * time.Millisecond
	DefaultColor         = "#111111"
	DefaultSize          = 4
	MinSize              = 1
	MaxSize              = 24

	teardownTimeout = 2 * time.Second
)

// Status is the connection indicator shown to the user.
type Status string

// Statuses shown to the user.
const (
	StatusConnecting   Status = "Connecting..."
	StatusConnected    Status = "Connected"
	StatusError        Status = "Connection error"
	StatusDisconnected Status = "Disconnected"
	StatusMissingEnv   Status = "Missing configuration"
)

// Config tunes a Peer. Zero values select the defaults.
type Config struct {
	HistoryLimit  int
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// Style is the brush used for new segments.
type Style struct {
	Color string
	Size  float64
	Mode  canvas.Mode
}

// DefaultStyle is the brush a fresh board starts with.
func DefaultStyle() Style {
	return Style{Color: DefaultColor, Size: DefaultSize, Mode: canvas.ModeDraw}
}

// Snapshot is a point-in-time view of a peer.
type Snapshot struct {
	History      []canvas.Command
	State        SyncState
	Status       Status
	Participants int
	Pending      int
}

// Peer owns one replica of the canvas. All state is confined to the
// goroutine executing Run; exported methods post work to it.
type Peer struct {
	id     identity.Identity
	logger *slog.Logger
	now    func() time.Time
	every  time.Duration

	// ops carries work onto the event loop. mu is held for reading while a
	// caller posts to ops so that teardown can wait out in-flight posts.
	ops      chan func(context.Context)
	mu       sync.RWMutex
	started  atomic.Bool
	stopping chan struct{}
	halt     sync.Once
	done     chan struct{}

	applier      *canvas.Applier
	batcher      *Batcher
	coord        *Coordinator
	ch           channel.Channel
	ticks        <-chan time.Time
	status       Status
	participants int

	applied metric.Int64Counter
	batches metric.Int64Counter
}

// New returns a peer for id. Call Run or Join to start it.
func New(id identity.Identity, cfg Config) *Peer {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	meter := otel.Meter("drawing-board/peer")
	return &Peer{
		id:           id,
		logger:       logger.With("peer", id.ID),
		now:          time.Now,
		every:        cfg.FlushInterval,
		ops:          make(chan func(context.Context), 256),
		stopping:     make(chan struct{}),
		done:         make(chan struct{}),
		applier:      canvas.NewApplier(cfg.HistoryLimit),
		batcher:      NewBatcher(id.ID),
		coord:        NewCoordinator(id.ID),
		status:       StatusConnecting,
		participants: 1,
		applied:      counter(meter, "board.commands.applied", "Commands appended to the local log"),
		batches:      counter(meter, "board.batches.sent", "Segment batches published"),
	}
}

func counter(m metric.Meter, name, desc string) metric.Int64Counter {
	c, err := m.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

// Identity is the identity this peer tags its commands with.
func (p *Peer) Identity() identity.Identity { return p.id }

// Join subscribes to room through sub and runs the peer until ctx is done or
// the channel closes. A peer whose subscription fails is stopped.
func (p *Peer) Join(ctx context.Context, sub channel.Subscriber, room string) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrStarted
	}
	ch, err := sub.Subscribe(ctx, room, p.id)
	if err != nil {
		p.logger.Error("subscribe failed", "room", room, "status", StatusError, "err", err)
		p.stop()
		if n := p.discard(); n > 0 {
			p.logger.Warn("discarded operations of a peer that never joined", "count", n)
		}
		close(p.done)
		return fmt.Errorf("subscribe %s: %w", room, err)
	}
	p.logger.Info("subscribed", "room", room)
	return p.run(ctx, ch)
}

// Run is the peer's event loop. It owns ch and closes it on return. Leaving
// the room is done by cancelling ctx: every operation accepted before that
// is applied and queued segments are flushed first. A peer runs once.
func (p *Peer) Run(ctx context.Context, ch channel.Channel) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrStarted
	}
	return p.run(ctx, ch)
}

func (p *Peer) run(ctx context.Context, ch channel.Channel) error {
	p.ch = ch
	ticks := p.ticks
	if ticks == nil {
		t := time.NewTicker(p.every)
		defer t.Stop()
		ticks = t.C
	}
	defer p.teardown(ctx)

	events := ch.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case op := <-p.ops:
			op(ctx)
		case <-ticks:
			p.flush(ctx)
		case ev, ok := <-events:
			if !ok {
				p.setStatus(StatusDisconnected)
				return ErrChannelClosed
			}
			p.dispatch(ctx, ev)
		}
	}
}

func (p *Peer) teardown(ctx context.Context) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	p.stop()
	p.drain(tctx)
	p.flush(tctx)
	if err := p.ch.Close(); err != nil {
		p.logger.Warn("close channel", "err", err)
	}
	close(p.done)
}

func (p *Peer) dispatch(ctx context.Context, ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.Subscribed:
		p.participants = e.Count
		p.setStatus(StatusConnected)
		if req, ok := p.coord.Joined(e.Count); ok {
			p.send(ctx, req)
		} else if e.Count <= 1 {
			p.logger.Info("alone in room, history is authoritative")
		}
	case protocol.MemberAdded:
		p.participants = e.Count
		p.logger.Debug("member joined", "member", e.Member.ID, "count", e.Count)
	case protocol.MemberRemoved:
		p.participants = e.Count
		p.logger.Debug("member left", "member", e.Member.ID, "count", e.Count)
	case protocol.SegmentsBatch:
		if e.AuthorID == p.id.ID {
			return
		}
		for _, s := range e.Segments {
			p.apply(canvas.SegmentCommand(s), "remote")
		}
	case protocol.ClearBoard:
		if e.AuthorID == p.id.ID {
			return
		}
		p.apply(canvas.ClearCommand(e.Clear), "remote")
	case protocol.RequestSync:
		if ans, ok := p.coord.Answer(e, p.applier.Log().Snapshot()); ok {
			p.logger.Info("answering sync request", "requester", e.RequesterID, "commands", len(ans.History))
			p.send(ctx, ans)
		}
	case protocol.SyncState:
		if !p.coord.Accept(e) {
			return
		}
		p.applier.ReplaceAll(e.History)
		p.logger.Info("synchronized from snapshot", "commands", p.applier.Log().Len())
	case protocol.StatusChanged:
		switch e.State {
		case protocol.LinkConnected:
			p.setStatus(StatusConnected)
		case protocol.LinkError:
			p.setStatus(StatusError)
		case protocol.LinkDisconnected:
			p.setStatus(StatusDisconnected)
		}
	default:
		p.logger.Warn("unhandled event", "event", ev.Name())
	}
}

func (p *Peer) apply(cmd canvas.Command, origin string) {
	p.applier.Apply(cmd)
	p.applied.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("origin", origin),
		attribute.String("kind", string(cmd.Kind())),
	))
}

func (p *Peer) send(ctx context.Context, ev protocol.Event) error {
	if err := p.ch.Send(ctx, ev); err != nil {
		p.logger.Warn("send failed", "event", ev.Name(), "err", err)
		return err
	}
	return nil
}

func (p *Peer) flush(ctx context.Context) {
	batch, ok := p.batcher.Drain()
	if !ok {
		return
	}
	if err := p.send(ctx, batch); err != nil {
		p.batcher.Requeue(batch)
		return
	}
	p.batches.Add(ctx, 1)
}

func (p *Peer) setStatus(s Status) {
	if p.status == s {
		return
	}
	p.status = s
	p.logger.Info("status", "status", string(s))
}

// stop refuses new operations. When it returns every accepted operation is
// in ops.
func (p *Peer) stop() {
	p.halt.Do(func() {
		close(p.stopping)
		p.mu.Lock()
		p.mu.Unlock()
	})
}

// drain runs every operation left in ops.
func (p *Peer) drain(ctx context.Context) {
	for {
		select {
		case op := <-p.ops:
			op(ctx)
		default:
			return
		}
	}
}

// discard empties ops without running anything.
func (p *Peer) discard() int {
	n := 0
	for {
		select {
		case <-p.ops:
			n++
		default:
			return n
		}
	}
}

// submit runs fn on the event loop with the loop's context. Once submit has
// returned nil, fn runs before Run returns.
func (p *Peer) submit(ctx context.Context, fn func(context.Context)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	select {
	case <-p.stopping:
		return ErrStopped
	default:
	}
	select {
	case p.ops <- fn:
		return nil
	case <-p.stopping:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs fn on the event loop and waits for it to finish.
func (p *Peer) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := p.submit(ctx, func(context.Context) { fn(); close(finished) }); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-p.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Draw applies a segment from one normalised point to another and queues it
// for the next batch.
func (p *Peer) Draw(ctx context.Context, from, to canvas.Point, style Style) error {
	return p.submit(ctx, func(context.Context) {
		s := canvas.Segment{
			From:      canvas.Pt(from.X, from.Y),
			To:        canvas.Pt(to.X, to.Y),
			Color:     style.Color,
			Size:      min(MaxSize, max(MinSize, style.Size)),
			Mode:      style.Mode,
			AuthorID:  p.id.ID,
			Timestamp: p.now().UnixMilli(),
		}
		if s.Mode != canvas.ModeErase {
			s.Mode = canvas.ModeDraw
		}
		p.apply(canvas.SegmentCommand(s), "local")
		p.batcher.Push(s)
	})
}

// EndStroke flushes queued segments without waiting for the next tick.
func (p *Peer) EndStroke(ctx context.Context) error {
	return p.submit(ctx, func(ctx context.Context) { p.flush(ctx) })
}

// Clear blanks the board locally and broadcasts the clear immediately as its
// own event. Segments queued before the clear are flushed ahead of it.
func (p *Peer) Clear(ctx context.Context) error {
	return p.submit(ctx, func(ctx context.Context) {
		c := canvas.Clear{AuthorID: p.id.ID, Timestamp: p.now().UnixMilli()}
		p.apply(canvas.ClearCommand(c), "local")
		p.flush(ctx)
		p.send(ctx, protocol.ClearBoard{Clear: c})
	})
}

// Mount attaches a drawable surface and replays the history onto it.
func (p *Peer) Mount(ctx context.Context, r canvas.Renderer, width, height int) error {
	return p.call(ctx, func() { p.applier.Mount(r, width, height) })
}

// Unmount detaches the surface; commands keep being logged.
func (p *Peer) Unmount(ctx context.Context) error {
	return p.call(ctx, p.applier.Unmount)
}

// Resize redraws the mounted surface at a new size.
func (p *Peer) Resize(ctx context.Context, width, height int) error {
	return p.call(ctx, func() { p.applier.Resize(width, height) })
}

// Replay draws the current history onto r without mounting it.
func (p *Peer) Replay(ctx context.Context, r canvas.Renderer, width, height int) error {
	return p.call(ctx, func() {
		r.ClearSurface(width, height)
		p.applier.Log().Each(func(c canvas.Command) { r.Render(c, width, height) })
	})
}

// Snapshot returns the current history and sync state.
func (p *Peer) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := p.call(ctx, func() {
		s = Snapshot{
			History:      p.applier.Log().Snapshot(),
			State:        p.coord.State(),
			Status:       p.status,
			Participants: p.participants,
			Pending:      p.batcher.Len(),
		}
	})
	return s, err
}
