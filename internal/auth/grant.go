// Package auth issues and checks the signed grants that admit a socket into
// a presence channel.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"drawing-board/internal/protocol"
)

const (
	issuer     = "drawing-board/auth"
	// DefaultTTL is how long a grant stays valid.
	DefaultTTL = 5 * time.Minute
)

var (
	// ErrMissingSecret is a configuration error: no signing secret was set.
	ErrMissingSecret = errors.New("auth: signing secret not configured")
	// ErrInvalidGrant is returned when a grant fails verification.
	ErrInvalidGrant = errors.New("auth: invalid grant")
)

// Claims binds a member to one socket and one channel.
type Claims struct {
	jwt.RegisteredClaims
	SocketID string `json:"sid"`
	Channel  string `json:"chn"`
	UserName string `json:"name"`
}

// Grant is returned to the client and presented to the relay on subscribe.
type Grant struct {
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data"`
}

type channelData struct {
	UserID   string `json:"user_id"`
	UserInfo struct {
		Name string `json:"name"`
	} `json:"user_info"`
}

// Signer issues HMAC-signed grants.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner returns a signer using secret. A ttl <= 0 selects DefaultTTL.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Authorize issues a grant admitting userID on socketID into channel.
func (s *Signer) Authorize(socketID, channel, userID, userName string) (Grant, error) {
	now := s.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		SocketID: socketID,
		Channel:  channel,
		UserName: userName,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Grant{}, fmt.Errorf("sign grant: %w", err)
	}

	var cd channelData
	cd.UserID = userID
	cd.UserInfo.Name = userName
	data, err := json.Marshal(cd)
	if err != nil {
		return Grant{}, err
	}
	return Grant{Auth: token, ChannelData: string(data)}, nil
}

// Verify checks that token was issued by s for socketID and channel and
// returns the admitted member.
func (s *Signer) Verify(token, socketID, channel string) (protocol.Member, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return protocol.Member{}, fmt.Errorf("%w: %v", ErrInvalidGrant, err)
	}
	if claims.SocketID != socketID || claims.Channel != channel {
		return protocol.Member{}, fmt.Errorf("%w: grant is for another socket or channel", ErrInvalidGrant)
	}
	return protocol.Member{ID: claims.Subject, Name: claims.UserName}, nil
}
