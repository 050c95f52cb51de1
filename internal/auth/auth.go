// Package auth authenticates bearer tokens presented to the HTTP transport
// and carries the resulting principal on the request context.
package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/autoclient/internal/config"
)

// Scopes understood by the HTTP transport.
const (
	ScopeAdmin         = "*"
	ScopeCommandRW     = "command:rw"
	ScopeEventRW       = "event:rw"
	ScopeEventsRO      = "events:ro"
	ScopeInvocationsRO = "invocations:ro"
)

// implied lists the scopes granted along with a scope. Running invocations
// implies watching them.
var implied = map[string][]string{
	ScopeCommandRW: {ScopeEventsRO, ScopeInvocationsRO},
	ScopeEventRW:   {ScopeEventsRO, ScopeInvocationsRO},
}

var (
	ErrMissingToken = errors.New("missing Authorization header")
	ErrMalformed    = errors.New("invalid Authorization header format")
)

// Principal is an authenticated caller.
type Principal struct {
	Scopes []string // sorted, implied scopes included
}

// Allows reports whether p holds any of scopes. Admin holds all of them,
// and an empty requirement is always met.
func (p Principal) Allows(scopes ...string) bool {
	if len(scopes) == 0 || slices.Contains(p.Scopes, ScopeAdmin) {
		return true
	}
	for _, s := range scopes {
		if _, ok := slices.BinarySearch(p.Scopes, s); ok {
			return true
		}
	}
	return false
}

// Keyring resolves tokens to principals. Tokens are kept only as BLAKE3
// digests and looked up by the digest of the presented token.
type Keyring struct {
	byDigest map[[32]byte]Principal
}

// NewKeyring builds a keyring from the legacy api key, which is admin, and
// the configured scoped tokens. Empty tokens are ignored.
func NewKeyring(apiKey string, tokens []config.Token) *Keyring {
	k := &Keyring{byDigest: make(map[[32]byte]Principal, len(tokens)+1)}
	for _, t := range tokens {
		if t.Token != "" {
			k.byDigest[blake3.Sum256([]byte(t.Token))] = Principal{Scopes: expand(t.Scopes)}
		}
	}
	if apiKey != "" {
		k.byDigest[blake3.Sum256([]byte(apiKey))] = Principal{Scopes: []string{ScopeAdmin}}
	}
	return k
}

// Authenticate returns the principal for token.
func (k *Keyring) Authenticate(token string) (Principal, bool) {
	if token == "" {
		return Principal{}, false
	}
	p, ok := k.byDigest[blake3.Sum256([]byte(token))]
	return p, ok
}

func expand(scopes []string) []string {
	var out []string
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		out = append(out, s)
		out = append(out, implied[s]...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" {
		return "", ErrMalformed
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
