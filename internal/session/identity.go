package session

import (
	"strings"

	"github.com/angelmondragon/cartsync/pkg/auth"
	"github.com/angelmondragon/cartsync/pkg/config"
	"github.com/google/uuid"
)

const userSessionPrefix = "user:"

// Identity is who the cart belongs to. Anonymous identities carry only a
// session id; authenticated ones also carry the user id and bearer token.
type Identity struct {
	SessionID     string
	UserID        string
	Token         string
	Authenticated bool
}

// Anonymous returns an anonymous identity. An empty id gets a fresh uuid.
func Anonymous(sessionID string) Identity {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return Identity{SessionID: sessionID}
}

// Authenticated returns the identity of a signed-in user.
func Authenticated(userID, token string) Identity {
	return Identity{
		SessionID:     userSessionPrefix + userID,
		UserID:        userID,
		Token:         token,
		Authenticated: true,
	}
}

func (i Identity) IsZero() bool {
	return i.SessionID == ""
}

// TokenParser extracts the user id from an access token.
type TokenParser interface {
	ParseUserID(token string) (string, error)
}

// TokenParserFunc adapts a function to TokenParser.
type TokenParserFunc func(token string) (string, error)

func (fn TokenParserFunc) ParseUserID(token string) (string, error) {
	return fn(token)
}

// JWTParser reads the principal from a JWT access token.
func JWTParser(cfg config.JWTConfig) TokenParser {
	return TokenParserFunc(func(token string) (string, error) {
		claims, err := auth.ParseAccessToken(cfg, token)
		if err != nil {
			return "", err
		}
		return claims.Principal(), nil
	})
}
