package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"foldershare/internal/errs"
	"foldershare/internal/metrics"
)

// Realm is sent in WWW-Authenticate challenges.
const Realm = "foldershare"

// MinSecretLen is the shortest secret accepted at setup.
const MinSecretLen = 4

// HashSecret returns the bcrypt hash stored in place of the share secret.
func HashSecret(secret string, cost int) ([]byte, error) {
	if len(secret) < MinSecretLen {
		return nil, errors.New("secret too short")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return bcrypt.GenerateFromPassword([]byte(secret), cost)
}

// Gate checks request secrets against the share's hashed secret.
// It holds no per-request state.
type Gate struct {
	hash []byte
}

// NewGate wraps a bcrypt hash. The hash is validated up front.
func NewGate(hash []byte) (*Gate, error) {
	if _, err := bcrypt.Cost(hash); err != nil {
		return nil, err
	}
	h := make([]byte, len(hash))
	copy(h, hash)
	return &Gate{hash: h}, nil
}

// Verify returns nil when secret matches. bcrypt's comparison is constant-time
// over the derived key, so failures don't leak how much matched.
func (g *Gate) Verify(secret string) error {
	if secret == "" || strings.ContainsRune(secret, 0) {
		metrics.RecordAuthAttempt(false)
		return errs.ErrAuth
	}
	if err := bcrypt.CompareHashAndPassword(g.hash, []byte(secret)); err != nil {
		metrics.RecordAuthAttempt(false)
		return errs.ErrAuth
	}
	metrics.RecordAuthAttempt(true)
	return nil
}

// VerifyRequest checks the HTTP Basic credentials on r. Clients send the
// shared secret as both username and password; the password field is the
// one checked.
func (g *Gate) VerifyRequest(r *http.Request) error {
	_, secret, ok := parseBasicAuth(r.Header.Get("Authorization"))
	if !ok {
		metrics.RecordAuthAttempt(false)
		return errs.ErrAuth
	}
	return g.Verify(secret)
}

// Source yields the gate of the active share, or an error when no share is
// configured yet.
type Source func(ctx context.Context) (*Gate, error)

// ErrorWriter renders a gateway error to the client.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// RequireAuth wraps next so it only runs for requests carrying the secret.
func RequireAuth(src Source, onErr ErrorWriter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g, err := src(r.Context())
		if err != nil {
			onErr(w, r, err)
			return
		}
		if err := g.VerifyRequest(r); err != nil {
			Challenge(w)
			onErr(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Challenge asks the client for Basic credentials.
func Challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+Realm+`", charset="UTF-8"`)
}

func parseBasicAuth(v string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if len(v) < len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(v[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	s := string(raw)
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return "", "", false
	}
	u := s[:i]
	p := s[i+1:]
	if strings.Contains(u, "\x00") || strings.Contains(p, "\x00") {
		return "", "", false
	}
	return u, p, true
}
