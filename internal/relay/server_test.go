package relay

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"drawing-board/internal/auth"
	"drawing-board/internal/canvas"
	"drawing-board/internal/protocol"
)

const channel = "presence-board-r1"

type fixture struct {
	srv    *Server
	signer *auth.Signer
	url    string
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	signer, err := auth.NewSigner("relay-test", time.Minute)
	require.NoError(t, err)
	opts.Signer = signer
	srv, err := NewServer(opts)
	require.NoError(t, err)

	r := gin.New()
	srv.Register(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	return &fixture{srv: srv, signer: signer, url: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"}
}

type testConn struct {
	conn     *websocket.Conn
	socketID string
}

func (f *fixture) dial(t *testing.T) *testConn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	tc := &testConn{conn: conn}
	env := tc.read(t)
	require.Equal(t, protocol.NameConnected, env.Event)
	var c protocol.Connected
	require.NoError(t, json.Unmarshal(env.Data, &c))
	require.NotEmpty(t, c.SocketID)
	tc.socketID = c.SocketID
	return tc
}

func (f *fixture) join(t *testing.T, userID string) (*testConn, protocol.Subscribed) {
	t.Helper()
	tc := f.dial(t)
	g, err := f.signer.Authorize(tc.socketID, channel, userID, "name-"+userID)
	require.NoError(t, err)
	tc.write(t, protocol.NameSubscribe, protocol.Subscribe{Channel: channel, Auth: g.Auth, ChannelData: g.ChannelData})

	env := tc.read(t)
	require.Equal(t, protocol.NameSubscribed, env.Event)
	var sub protocol.Subscribed
	require.NoError(t, json.Unmarshal(env.Data, &sub))
	return tc, sub
}

func (c *testConn) write(t *testing.T, name string, payload any) {
	t.Helper()
	env, err := protocol.NewEnvelope(name, payload)
	require.NoError(t, err)
	require.NoError(t, c.conn.WriteJSON(env))
}

func (c *testConn) read(t *testing.T) protocol.Envelope {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env protocol.Envelope
	require.NoError(t, c.conn.ReadJSON(&env))
	return env
}

func errorCode(t *testing.T, env protocol.Envelope) int {
	t.Helper()
	require.Equal(t, protocol.NameError, env.Event)
	var e protocol.ErrorData
	require.NoError(t, json.Unmarshal(env.Data, &e))
	return e.Code
}

func TestServer_PresenceCounts(t *testing.T) {
	f := newFixture(t, Options{})

	a, subA := f.join(t, "a")
	assert.Equal(t, 1, subA.Count)
	assert.Equal(t, a.socketID, subA.SocketID)

	_, subB := f.join(t, "b")
	assert.Equal(t, 2, subB.Count)
	assert.Equal(t, []protocol.Member{{ID: "a", Name: "name-a"}, {ID: "b", Name: "name-b"}}, subB.Members)

	env := a.read(t)
	require.Equal(t, protocol.NameMemberAdded, env.Event)
	var added protocol.MemberAdded
	require.NoError(t, json.Unmarshal(env.Data, &added))
	assert.Equal(t, 2, added.Count)
	assert.Equal(t, "b", added.Member.ID)
	assert.Equal(t, 2, f.srv.Hub().Count(channel))
}

func TestServer_FansOutClientEventsToOthers(t *testing.T) {
	f := newFixture(t, Options{})
	a, _ := f.join(t, "a")
	b, _ := f.join(t, "b")
	a.read(t) // member_added for b

	batch := protocol.SegmentsBatch{AuthorID: "b", Segments: []canvas.Segment{{
		From: canvas.Pt(0.1, 0.1), To: canvas.Pt(0.2, 0.2), Color: "#111111", Size: 4, Mode: canvas.ModeDraw, AuthorID: "b", Timestamp: 7,
	}}}
	env, err := protocol.Encode(batch)
	require.NoError(t, err)
	require.NoError(t, b.conn.WriteJSON(env))

	got := a.read(t)
	assert.Equal(t, protocol.NameSegments, got.Event)
	assert.Equal(t, "b", got.UserID)
	assert.Equal(t, channel, got.Channel)
	ev, err := protocol.Decode(got)
	require.NoError(t, err)
	assert.Equal(t, batch, ev)

	// The sender never receives its own event.
	require.NoError(t, b.conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err = b.conn.ReadMessage()
	assert.Error(t, err)
}

func TestServer_RejectsInvalidGrant(t *testing.T) {
	f := newFixture(t, Options{})
	tc := f.dial(t)

	g, err := f.signer.Authorize("another-socket", channel, "a", "n")
	require.NoError(t, err)
	tc.write(t, protocol.NameSubscribe, protocol.Subscribe{Channel: channel, Auth: g.Auth})

	assert.Equal(t, protocol.CodeUnauthorized, errorCode(t, tc.read(t)))
	_, _, err = tc.conn.ReadMessage()
	assert.Error(t, err, "connection is closed after rejection")
	assert.Zero(t, f.srv.Hub().Count(channel))
}

func TestServer_RejectsNonClientEvents(t *testing.T) {
	f := newFixture(t, Options{})
	a, _ := f.join(t, "a")

	a.write(t, protocol.NameMemberAdded, protocol.MemberAdded{Count: 5})
	assert.Equal(t, protocol.CodeBadRequest, errorCode(t, a.read(t)))
}

func TestServer_RateLimitsClientEvents(t *testing.T) {
	f := newFixture(t, Options{EventsPerSecond: 0.01, Burst: 1})
	a, _ := f.join(t, "a")
	b, _ := f.join(t, "b")
	a.read(t)

	b.write(t, protocol.NameRequestSync, protocol.RequestSync{RequesterID: "b"})
	b.write(t, protocol.NameRequestSync, protocol.RequestSync{RequesterID: "b"})

	assert.Equal(t, protocol.NameRequestSync, a.read(t).Event)
	assert.Equal(t, protocol.CodeRateLimited, errorCode(t, b.read(t)))
}

func TestServer_LeaveUpdatesPresence(t *testing.T) {
	f := newFixture(t, Options{})
	a, _ := f.join(t, "a")
	b, _ := f.join(t, "b")
	a.read(t)

	require.NoError(t, b.conn.Close())

	env := a.read(t)
	require.Equal(t, protocol.NameMemberRemoved, env.Event)
	var removed protocol.MemberRemoved
	require.NoError(t, json.Unmarshal(env.Data, &removed))
	assert.Equal(t, 1, removed.Count)
	assert.Equal(t, "b", removed.Member.ID)

	require.NoError(t, a.conn.Close())
	assert.Eventually(t, func() bool { return f.srv.Hub().Rooms() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestNewServer_RequiresSigner(t *testing.T) {
	_, err := NewServer(Options{})
	assert.ErrorIs(t, err, auth.ErrMissingSecret)
}

func sum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if data, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestServer_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	f := newFixture(t, Options{
		EventsPerSecond: 0.01,
		Burst:           1,
		MeterProvider:   sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	})
	a, _ := f.join(t, "a")
	b, _ := f.join(t, "b")
	a.read(t)

	b.write(t, protocol.NameRequestSync, protocol.RequestSync{RequesterID: "b"})
	b.write(t, protocol.NameRequestSync, protocol.RequestSync{RequesterID: "b"})
	a.read(t)
	b.read(t)

	assert.Equal(t, int64(2), sum(t, reader, "relay.connections"))
	assert.Equal(t, int64(1), sum(t, reader, "relay.events.forwarded"))
	assert.Equal(t, int64(1), sum(t, reader, "relay.events.throttled"))
}
