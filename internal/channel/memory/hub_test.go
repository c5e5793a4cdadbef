package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drawing-board/internal/canvas"
	"drawing-board/internal/channel"
	"drawing-board/internal/identity"
	"drawing-board/internal/protocol"
)

func next(t *testing.T, ch channel.Channel) protocol.Event {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func noEvent(t *testing.T, ch channel.Channel) {
	t.Helper()
	select {
	case ev := <-ch.Events():
		t.Fatalf("unexpected event %s", ev.Name())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_PresenceCounts(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()

	a, err := hub.Subscribe(ctx, "r1", identity.Identity{ID: "a", DisplayName: "Jade-100"})
	require.NoError(t, err)
	assert.Equal(t, protocol.Subscribed{Count: 1, Members: []protocol.Member{{ID: "a", Name: "Jade-100"}}}, next(t, a))

	b, err := hub.Subscribe(ctx, "r1", identity.Identity{ID: "b"})
	require.NoError(t, err)
	sub := next(t, b).(protocol.Subscribed)
	assert.Equal(t, 2, sub.Count)
	assert.Len(t, sub.Members, 2)

	added := next(t, a).(protocol.MemberAdded)
	assert.Equal(t, "b", added.Member.ID)
	assert.Equal(t, 2, added.Count)
	assert.Equal(t, 2, a.MemberCount())

	require.NoError(t, b.Close())
	removed := next(t, a).(protocol.MemberRemoved)
	assert.Equal(t, 1, removed.Count)

	_, ok := <-b.Events()
	assert.False(t, ok)
}

func TestHub_FanOutExcludesSender(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	a, _ := hub.Subscribe(ctx, "r1", identity.Identity{ID: "a"})
	b, _ := hub.Subscribe(ctx, "r1", identity.Identity{ID: "b"})
	other, _ := hub.Subscribe(ctx, "r2", identity.Identity{ID: "c"})
	next(t, a)
	next(t, a)
	next(t, b)
	next(t, other)

	ev := protocol.RequestSync{RequesterID: "a"}
	require.NoError(t, a.Send(ctx, ev))

	assert.Equal(t, ev, next(t, b))
	noEvent(t, a)
	noEvent(t, other)
}

func TestHub_EchoDeliversToSender(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(WithEcho())
	a, _ := hub.Subscribe(ctx, "r1", identity.Identity{ID: "a"})
	next(t, a)

	ev := protocol.ClearBoard{Clear: canvas.Clear{AuthorID: "a", Timestamp: 1}}
	require.NoError(t, a.Send(ctx, ev))
	assert.Equal(t, ev, next(t, a))
}

func TestHub_PreservesSenderOrder(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	a, _ := hub.Subscribe(ctx, "r1", identity.Identity{ID: "a"})
	b, _ := hub.Subscribe(ctx, "r1", identity.Identity{ID: "b"})
	next(t, b)

	for i := 0; i < 100; i++ {
		require.NoError(t, a.Send(ctx, protocol.ClearBoard{Clear: canvas.Clear{AuthorID: "a", Timestamp: int64(i)}}))
	}
	for i := 0; i < 100; i++ {
		ev := next(t, b).(protocol.ClearBoard)
		assert.Equal(t, int64(i), ev.Timestamp)
	}
}

func TestHub_SendAfterClose(t *testing.T) {
	hub := NewHub()
	a, _ := hub.Subscribe(context.Background(), "r1", identity.Identity{ID: "a"})
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Send(context.Background(), protocol.RequestSync{RequesterID: "a"}), channel.ErrClosed)
	assert.Equal(t, 0, hub.Count("r1"))
}
