package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner("test-secret", time.Minute)
	require.NoError(t, err)
	return s
}

func postForm(t *testing.T, h gin.HandlerFunc, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	r.POST("/api/auth", h)
	req := httptest.NewRequest(http.MethodPost, "/api/auth", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestNewSigner_RequiresSecret(t *testing.T) {
	_, err := NewSigner("", 0)
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestSigner_RoundTrip(t *testing.T) {
	s := newTestSigner(t)
	g, err := s.Authorize("sock-1", "presence-board-r1", "u1", "Jade-101")
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_id":"u1","user_info":{"name":"Jade-101"}}`, g.ChannelData)

	m, err := s.Verify(g.Auth, "sock-1", "presence-board-r1")
	require.NoError(t, err)
	assert.Equal(t, "u1", m.ID)
	assert.Equal(t, "Jade-101", m.Name)
}

func TestSigner_RejectsOtherSocketOrChannel(t *testing.T) {
	s := newTestSigner(t)
	g, err := s.Authorize("sock-1", "presence-board-r1", "u1", "n")
	require.NoError(t, err)

	_, err = s.Verify(g.Auth, "sock-2", "presence-board-r1")
	assert.ErrorIs(t, err, ErrInvalidGrant)
	_, err = s.Verify(g.Auth, "sock-1", "presence-board-r2")
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestSigner_RejectsForeignAndExpiredGrants(t *testing.T) {
	s := newTestSigner(t)
	other, err := NewSigner("another-secret", time.Minute)
	require.NoError(t, err)

	g, err := other.Authorize("sock-1", "c", "u1", "n")
	require.NoError(t, err)
	_, err = s.Verify(g.Auth, "sock-1", "c")
	assert.ErrorIs(t, err, ErrInvalidGrant)

	s.now = func() time.Time { return time.Now().Add(-time.Hour) }
	g, err = s.Authorize("sock-1", "c", "u1", "n")
	require.NoError(t, err)
	s.now = time.Now
	_, err = s.Verify(g.Auth, "sock-1", "c")
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestHandler_IssuesGrant(t *testing.T) {
	s := newTestSigner(t)
	w := postForm(t, Handler(s, nil), url.Values{
		"socket_id":    {"sock-9"},
		"channel_name": {"presence-board-r1"},
		"userId":       {"  user-42  "},
		"userName":     {strings.Repeat("n", 60)},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var g Grant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &g))
	m, err := s.Verify(g.Auth, "sock-9", "presence-board-r1")
	require.NoError(t, err)
	assert.Equal(t, "user-42", m.ID)
	assert.Len(t, m.Name, 40)
}

func TestHandler_FallbackIdentity(t *testing.T) {
	s := newTestSigner(t)
	w := postForm(t, Handler(s, nil), url.Values{
		"socket_id":    {"sock-9"},
		"channel_name": {"presence-board-r1"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var g Grant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &g))
	m, err := s.Verify(g.Auth, "sock-9", "presence-board-r1")
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "Painter-"+m.ID[:6], m.Name)
}

func TestHandler_MissingIdentifiers(t *testing.T) {
	s := newTestSigner(t)
	for _, form := range []url.Values{
		{"channel_name": {"presence-board-r1"}},
		{"socket_id": {"sock-1"}},
		{},
	} {
		w := postForm(t, Handler(s, nil), form)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NotContains(t, w.Body.String(), "auth\"")
	}
}

func TestHandler_MissingSecret(t *testing.T) {
	w := postForm(t, Handler(nil, nil), url.Values{
		"socket_id":    {"sock-1"},
		"channel_name": {"presence-board-r1"},
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
