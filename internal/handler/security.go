package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/pos-checkout/internal/domain/auth"
)

// TokenIssuer signs and verifies session tokens, e.g. *auth.Tokens.
type TokenIssuer interface {
	Issue(s auth.Staff) (string, time.Time, error)
	Verify(raw string) (auth.Actor, error)
}

// Authenticator resolves the acting staff member from an api_key header or
// a bearer session token.
type Authenticator struct {
	apikeys auth.Repository
	pepper  []byte
	tokens  TokenIssuer
}

// NewAuthenticator creates an Authenticator. API keys are looked up by their
// HMAC-SHA256 under pepper.
func NewAuthenticator(apikeys auth.Repository, pepper []byte, tokens TokenIssuer) *Authenticator {
	return &Authenticator{
		apikeys: apikeys,
		pepper:  pepper,
		tokens:  tokens,
	}
}

// HashAPIKey returns the hex HMAC-SHA256 of key under pepper, as stored in api_keys.key_hash.
func HashAPIKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// staffByAPIKey authenticates an API key with a constant-time hash comparison.
func (a *Authenticator) staffByAPIKey(ctx context.Context, key string) (auth.Staff, error) {
	hash := HashAPIKey(a.pepper, key)
	info, err := a.apikeys.FindByHash(ctx, hash)
	if err != nil {
		return auth.Staff{}, auth.ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(hash), []byte(strings.ToLower(info.KeyHash))) != 1 {
		return auth.Staff{}, auth.ErrUnauthorized
	}
	if !info.Staff.Role.Valid() {
		return auth.Staff{}, auth.ErrUnauthorized
	}
	return info.Staff, nil
}

// Authenticate returns the actor behind the request credentials.
func (a *Authenticator) Authenticate(r *http.Request) (auth.Actor, error) {
	if raw, ok := bearerToken(r); ok {
		if a.tokens == nil {
			return auth.Actor{}, auth.ErrUnauthorized
		}
		return a.tokens.Verify(raw)
	}
	if key := r.Header.Get("api_key"); key != "" {
		s, err := a.staffByAPIKey(r.Context(), key)
		if err != nil {
			return auth.Actor{}, err
		}
		return s.Actor(), nil
	}
	return auth.Actor{}, auth.ErrUnauthorized
}

// Middleware rejects unauthenticated requests and stores the actor in the
// request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		act, err := a.Authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := auth.WithActor(r.Context(), act)
		ctx = zctx.With(ctx, zap.String("actor_id", act.ID), zap.String("actor_role", string(act.Role)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

// CreateSession exchanges an API key for a bearer token.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("api_key")
	if key == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	staff, err := h.auth.staffByAPIKey(r.Context(), key)
	if err != nil {
		fail(w, r, err)
		return
	}
	if h.auth.tokens == nil {
		writeError(w, http.StatusNotImplemented, "sessions are disabled")
		return
	}
	token, exp, err := h.auth.tokens.Issue(staff)
	if err != nil {
		fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("token", func(e *jx.Encoder) { e.Str(token) })
			e.Field("expiresAt", func(e *jx.Encoder) { e.Str(exp.UTC().Format(time.RFC3339)) })
			e.Field("staff", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("id", func(e *jx.Encoder) { e.Str(staff.ID) })
					e.Field("username", func(e *jx.Encoder) { e.Str(staff.Username) })
					e.Field("name", func(e *jx.Encoder) { e.Str(staff.Name) })
					e.Field("role", func(e *jx.Encoder) { e.Str(string(staff.Role)) })
				})
			})
		})
	})
}
