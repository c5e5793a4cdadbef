package auth

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"drawing-board/internal/identity"
)

// Handler serves the authorize endpoint. It expects a form with socket_id,
// channel_name, userId and userName and answers with a Grant. A nil signer
// means the server is missing its secret and every request fails with 500.
func Handler(s *Signer, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		socketID := c.PostForm("socket_id")
		channel := c.PostForm("channel_name")
		if socketID == "" || channel == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid auth payload."})
			return
		}
		if s == nil {
			logger.Error("authorize rejected", "err", ErrMissingSecret)
			c.JSON(http.StatusInternalServerError, gin.H{"error": ErrMissingSecret.Error()})
			return
		}

		userID := identity.Sanitize(c.PostForm("userId"), uuid.NewString())
		userName := identity.Sanitize(c.PostForm("userName"), "Painter-"+prefix(userID, 6))

		grant, err := s.Authorize(socketID, channel, userID, userName)
		if err != nil {
			logger.Error("authorize failed", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Auth failed"})
			return
		}
		logger.Debug("authorized", "user", userID, "channel", channel)
		c.JSON(http.StatusOK, grant)
	}
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}
