package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// DefaultIdentityHeader names the acting user on mutations.
const DefaultIdentityHeader = "X-User"

// APIKeyHeader carries the key checked by APIKeyIdentity.
const APIKeyHeader = "X-API-Key"

var (
	// ErrMissingIdentity means the request did not say who is acting (401).
	ErrMissingIdentity = errors.New("missing identity")

	// ErrInvalidCredentials means credentials were given but rejected (403).
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// IdentityVerifier resolves the actor of a request.
type IdentityVerifier interface {
	Identify(r *http.Request) (string, error)
}

// HeaderIdentity trusts a plain header, X-User unless Header is set.
type HeaderIdentity struct {
	Header string
}

func (h HeaderIdentity) Identify(r *http.Request) (string, error) {
	name := h.Header
	if name == "" {
		name = DefaultIdentityHeader
	}
	actor := strings.TrimSpace(r.Header.Get(name))
	if actor == "" {
		return "", fmt.Errorf("%w: %s header is required", ErrMissingIdentity, name)
	}
	return actor, nil
}

// APIKeyIdentity demands a valid X-API-Key, then defers to Next for the
// actor name.
type APIKeyIdentity struct {
	Next IdentityVerifier
	Keys []string
}

func (a APIKeyIdentity) Identify(r *http.Request) (string, error) {
	key := r.Header.Get(APIKeyHeader)
	if key == "" {
		return "", fmt.Errorf("%w: %s header is required", ErrMissingIdentity, APIKeyHeader)
	}
	if !isValidAPIKey(key, a.Keys) {
		return "", fmt.Errorf("%w: unknown API key", ErrInvalidCredentials)
	}
	return a.Next.Identify(r)
}

// isValidAPIKey compares against every key in constant time.
func isValidAPIKey(key string, validKeys []string) bool {
	valid := 0
	for _, validKey := range validKeys {
		valid |= subtle.ConstantTimeCompare([]byte(key), []byte(validKey))
	}
	return valid == 1
}

type actorKey struct{}

// RequireActor rejects requests without a verified actor and stores the
// actor in the request context.
func RequireActor(v IdentityVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := v.Identify(r)
			if err != nil {
				respondError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), actorKey{}, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromContext returns the actor set by RequireActor, or "".
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}
