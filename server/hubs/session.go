package hubs

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/Sprinter05/gostick/internal/spec"
	"github.com/Sprinter05/gostick/server/db"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

/* TYPES */

// Specifies an authenticated user for the
// duration of a single request.
type Session struct {
	user   *db.User // Owner of the token
	device uint     // Device the token is bound to
}

// Returns the id of the authenticated user.
func (s *Session) UserID() string {
	return s.user.ID
}

/* TOKENS */

// Digest of a token as stored in the database
func tokenDigest(token string) string {
	sum := sha3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Creates a random token, returning it along with its digest
func newToken() (string, string, error) {
	raw := make([]byte, spec.TokenSize)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}

	token := hex.EncodeToString(raw)
	return token, tokenDigest(token), nil
}

// Mints a token for the device of the user, replacing
// any token the device had before.
func (hub *Hub) issueToken(ctx context.Context, userID string, device uint) (string, error) {
	token, digest, err := newToken()
	if err != nil {
		return "", specError("token generation", userID, err)
	}

	err = db.InsertToken(hub.db.WithContext(ctx), digest, userID, device)
	if err != nil {
		return "", specError("token insertion", userID, err)
	}

	return token, nil
}

/* SESSIONS */

// Returns the session asocciated to an auth token.
// Returns a specification error.
func (hub *Hub) Session(ctx context.Context, token string) (*Session, error) {
	if len(token) != hex.EncodedLen(spec.TokenSize) {
		return nil, spec.ErrorNoSession
	}

	user, tok, err := db.QueryTokenUser(hub.db.WithContext(ctx), tokenDigest(token))
	if err != nil {
		if errors.Is(err, db.ErrorNotFound) {
			return nil, spec.ErrorNoSession
		}
		return nil, specError("session", token[:8], err)
	}

	return &Session{
		user:   user,
		device: tok.DeviceRef,
	}, nil
}
